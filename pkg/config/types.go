package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Config represents the persistent reverie configuration stored as
// config.toml in the .reverie/ directory. The TOML layout uses sections for
// logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Storage     StorageConfig     `toml:"storage"`
	Cache       CacheConfig       `toml:"cache"`
	Flush       FlushConfig       `toml:"flush"`
	Export      ExportConfig      `toml:"export"`
	R2          R2Config          `toml:"r2"`
	QRCode      QRCodeConfig      `toml:"qrcode"`
	EventStream EventStreamConfig `toml:"eventstream"`
	API         APIConfig         `toml:"api"`
}

// StorageConfig selects and configures the durable record store backend.
type StorageConfig struct {
	// Backend is one of "sqlite", "segment", "postgres", "memory".
	Backend string `toml:"backend,omitempty"`

	// SQLitePath is the database file path; empty resolves to
	// <dotdir>/thoughts.db.
	SQLitePath string `toml:"sqlite_path,omitempty"`

	// SegmentDir is the partition root for the segment backend; empty
	// resolves to <dotdir>/thoughts.
	SegmentDir string `toml:"segment_dir,omitempty"`

	SegmentCapacity int `toml:"segment_capacity,omitempty"`
	SegmentRetain   int `toml:"segment_retain,omitempty"`

	// PostgresConn is the pgx connection string for the postgres backend.
	PostgresConn string `toml:"postgres_conn,omitempty"`
}

// CacheConfig holds cache layer settings.
type CacheConfig struct {
	WatermarkCapacity int `toml:"watermark_capacity,omitempty"`
	MaxReasoningLen   int `toml:"max_reasoning_len,omitempty"`
}

// FlushConfig holds flush scheduler settings.
type FlushConfig struct {
	DebounceMS           int  `toml:"debounce_ms,omitempty"`
	SweepIntervalSeconds int  `toml:"sweep_interval_seconds,omitempty"`
	Workers              uint `toml:"workers,omitempty"`
	QueueSize            uint `toml:"queue_size,omitempty"`
	MaxAttempts          int  `toml:"max_attempts,omitempty"`
}

// ExportConfig holds export pipeline settings.
type ExportConfig struct {
	Prefix          string `toml:"prefix,omitempty"`
	BatchLimit      int    `toml:"batch_limit,omitempty"`
	CooldownSeconds int    `toml:"cooldown_seconds,omitempty"`
}

// R2Config holds Cloudflare R2 upload credentials and targets.
type R2Config struct {
	AccountID       string `toml:"account_id,omitempty"`
	AccessKeyID     string `toml:"access_key_id,omitempty"`
	SecretAccessKey string `toml:"secret_access_key,omitempty"`
	Bucket          string `toml:"bucket,omitempty"`
	CustomDomain    string `toml:"custom_domain,omitempty"`
}

// QRCodeConfig holds QR rendering settings.
type QRCodeConfig struct {
	Shape       string `toml:"shape,omitempty"`
	BorderWidth int    `toml:"border_width,omitempty"`
	Logo        string `toml:"logo,omitempty"`
}

// EventStreamConfig holds event publisher settings. An empty broker list
// selects the nop publisher.
type EventStreamConfig struct {
	Brokers []string `toml:"brokers,omitempty"`
	Topic   string   `toml:"topic,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func intKey(get func(c *Config) *int) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *get(c) == 0 {
				return ""
			}
			return strconv.Itoa(*get(c))
		},
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid integer value %q: %w", v, err)
			}
			*get(c) = n
			return nil
		},
	}
}

func stringKey(get func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *get(c) },
		set: func(c *Config, v string) error { *get(c) = v; return nil },
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.backend":          stringKey(func(c *Config) *string { return &c.Storage.Backend }),
	"storage.sqlite_path":      stringKey(func(c *Config) *string { return &c.Storage.SQLitePath }),
	"storage.segment_dir":      stringKey(func(c *Config) *string { return &c.Storage.SegmentDir }),
	"storage.segment_capacity": intKey(func(c *Config) *int { return &c.Storage.SegmentCapacity }),
	"storage.segment_retain":   intKey(func(c *Config) *int { return &c.Storage.SegmentRetain }),
	"storage.postgres_conn":    stringKey(func(c *Config) *string { return &c.Storage.PostgresConn }),

	"cache.watermark_capacity": intKey(func(c *Config) *int { return &c.Cache.WatermarkCapacity }),
	"cache.max_reasoning_len":  intKey(func(c *Config) *int { return &c.Cache.MaxReasoningLen }),

	"flush.debounce_ms":            intKey(func(c *Config) *int { return &c.Flush.DebounceMS }),
	"flush.sweep_interval_seconds": intKey(func(c *Config) *int { return &c.Flush.SweepIntervalSeconds }),
	"flush.max_attempts":           intKey(func(c *Config) *int { return &c.Flush.MaxAttempts }),

	"export.prefix":           stringKey(func(c *Config) *string { return &c.Export.Prefix }),
	"export.batch_limit":      intKey(func(c *Config) *int { return &c.Export.BatchLimit }),
	"export.cooldown_seconds": intKey(func(c *Config) *int { return &c.Export.CooldownSeconds }),

	"r2.account_id":        stringKey(func(c *Config) *string { return &c.R2.AccountID }),
	"r2.access_key_id":     stringKey(func(c *Config) *string { return &c.R2.AccessKeyID }),
	"r2.secret_access_key": stringKey(func(c *Config) *string { return &c.R2.SecretAccessKey }),
	"r2.bucket":            stringKey(func(c *Config) *string { return &c.R2.Bucket }),
	"r2.custom_domain":     stringKey(func(c *Config) *string { return &c.R2.CustomDomain }),

	"qrcode.shape":        stringKey(func(c *Config) *string { return &c.QRCode.Shape }),
	"qrcode.border_width": intKey(func(c *Config) *int { return &c.QRCode.BorderWidth }),
	"qrcode.logo":         stringKey(func(c *Config) *string { return &c.QRCode.Logo }),

	"eventstream.topic": stringKey(func(c *Config) *string { return &c.EventStream.Topic }),
	"eventstream.brokers": {
		get: func(c *Config) string { return strings.Join(c.EventStream.Brokers, ",") },
		set: func(c *Config, v string) error {
			if v == "" {
				c.EventStream.Brokers = nil
				return nil
			}
			c.EventStream.Brokers = strings.Split(v, ",")
			return nil
		},
	},

	"api.listen": stringKey(func(c *Config) *string { return &c.API.Listen }),
}
