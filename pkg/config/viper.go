package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/reveriehq/reverie/pkg/dotdir"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the REVERIE_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (REVERIE_API_LISTEN, REVERIE_R2_BUCKET, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: REVERIE_STORAGE_BACKEND, REVERIE_R2_BUCKET, etc.
	v.SetEnvPrefix("REVERIE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// FromViper materializes a Config from the viper precedence chain.
func FromViper(v *viper.Viper) *Config {
	cfg := &Config{
		Version: v.GetInt("version"),
		Storage: StorageConfig{
			Backend:         v.GetString("storage.backend"),
			SQLitePath:      v.GetString("storage.sqlite_path"),
			SegmentDir:      v.GetString("storage.segment_dir"),
			SegmentCapacity: v.GetInt("storage.segment_capacity"),
			SegmentRetain:   v.GetInt("storage.segment_retain"),
			PostgresConn:    v.GetString("storage.postgres_conn"),
		},
		Cache: CacheConfig{
			WatermarkCapacity: v.GetInt("cache.watermark_capacity"),
			MaxReasoningLen:   v.GetInt("cache.max_reasoning_len"),
		},
		Flush: FlushConfig{
			DebounceMS:           v.GetInt("flush.debounce_ms"),
			SweepIntervalSeconds: v.GetInt("flush.sweep_interval_seconds"),
			Workers:              v.GetUint("flush.workers"),
			QueueSize:            v.GetUint("flush.queue_size"),
			MaxAttempts:          v.GetInt("flush.max_attempts"),
		},
		Export: ExportConfig{
			Prefix:          v.GetString("export.prefix"),
			BatchLimit:      v.GetInt("export.batch_limit"),
			CooldownSeconds: v.GetInt("export.cooldown_seconds"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			Bucket:          v.GetString("r2.bucket"),
			CustomDomain:    v.GetString("r2.custom_domain"),
		},
		QRCode: QRCodeConfig{
			Shape:       v.GetString("qrcode.shape"),
			BorderWidth: v.GetInt("qrcode.border_width"),
			Logo:        v.GetString("qrcode.logo"),
		},
		EventStream: EventStreamConfig{
			Brokers: v.GetStringSlice("eventstream.brokers"),
			Topic:   v.GetString("eventstream.topic"),
		},
		API: APIConfig{
			Listen: v.GetString("api.listen"),
		},
	}

	applyDefaults(cfg)
	return cfg
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Storage
	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("storage.segment_dir", d.Storage.SegmentDir)
	v.SetDefault("storage.segment_capacity", d.Storage.SegmentCapacity)
	v.SetDefault("storage.segment_retain", d.Storage.SegmentRetain)
	v.SetDefault("storage.postgres_conn", d.Storage.PostgresConn)

	// Cache
	v.SetDefault("cache.watermark_capacity", d.Cache.WatermarkCapacity)
	v.SetDefault("cache.max_reasoning_len", d.Cache.MaxReasoningLen)

	// Flush
	v.SetDefault("flush.debounce_ms", d.Flush.DebounceMS)
	v.SetDefault("flush.sweep_interval_seconds", d.Flush.SweepIntervalSeconds)
	v.SetDefault("flush.workers", d.Flush.Workers)
	v.SetDefault("flush.queue_size", d.Flush.QueueSize)
	v.SetDefault("flush.max_attempts", d.Flush.MaxAttempts)

	// Export
	v.SetDefault("export.prefix", d.Export.Prefix)
	v.SetDefault("export.batch_limit", d.Export.BatchLimit)
	v.SetDefault("export.cooldown_seconds", d.Export.CooldownSeconds)

	// R2
	v.SetDefault("r2.account_id", d.R2.AccountID)
	v.SetDefault("r2.access_key_id", d.R2.AccessKeyID)
	v.SetDefault("r2.secret_access_key", d.R2.SecretAccessKey)
	v.SetDefault("r2.bucket", d.R2.Bucket)
	v.SetDefault("r2.custom_domain", d.R2.CustomDomain)

	// QR
	v.SetDefault("qrcode.shape", d.QRCode.Shape)
	v.SetDefault("qrcode.border_width", d.QRCode.BorderWidth)
	v.SetDefault("qrcode.logo", d.QRCode.Logo)

	// Event stream
	v.SetDefault("eventstream.brokers", d.EventStream.Brokers)
	v.SetDefault("eventstream.topic", d.EventStream.Topic)

	// API
	v.SetDefault("api.listen", d.API.Listen)
}
