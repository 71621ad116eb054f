package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline. This prevents flag drift
// when the same logical flag appears on multiple commands (e.g., --backend
// on both "reverie serve" and "reverie export").
type Flag struct {
	// Name is the long flag name (e.g. "backend").
	Name string

	// Shorthand is the one-letter short flag (e.g. "b"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "storage.backend").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling AddStringFlag, AddUintFlag,
// and BindRegisteredFlags to avoid typos or drift from one command to another.
const (
	FlagBackend        = "backend"
	FlagSQLite         = "sqlite"
	FlagSegmentDir     = "segment-dir"
	FlagPostgres       = "postgres"
	FlagAPIListen      = "api-listen"
	FlagExportPrefix   = "export-prefix"
	FlagExportLimit    = "export-limit"
	FlagEventBrokers   = "event-brokers"
	FlagEventTopic     = "event-topic"
	FlagR2Bucket       = "r2-bucket"
	FlagR2CustomDomain = "r2-custom-domain"
)

// Flags is the shared flag registry for reverie commands.
var Flags = FlagSet{
	FlagBackend: {
		Name:        "backend",
		Shorthand:   "b",
		ViperKey:    "storage.backend",
		Description: "storage backend: sqlite, segment, postgres, memory",
	},
	FlagSQLite: {
		Name:        "sqlite",
		ViperKey:    "storage.sqlite_path",
		Description: "path to the sqlite database file",
	},
	FlagSegmentDir: {
		Name:        "segment-dir",
		ViperKey:    "storage.segment_dir",
		Description: "partition root directory for the segment backend",
	},
	FlagPostgres: {
		Name:        "postgres",
		ViperKey:    "storage.postgres_conn",
		Description: "postgres connection string",
	},
	FlagAPIListen: {
		Name:        "listen",
		Shorthand:   "l",
		ViperKey:    "api.listen",
		Description: "API server listen address",
	},
	FlagExportPrefix: {
		Name:        "export-prefix",
		ViperKey:    "export.prefix",
		Description: "object key prefix for export batches",
	},
	FlagExportLimit: {
		Name:        "limit",
		ViperKey:    "export.batch_limit",
		Description: "maximum records per export batch",
	},
	FlagEventBrokers: {
		Name:        "event-brokers",
		ViperKey:    "eventstream.brokers",
		Description: "comma-separated kafka broker addresses",
	},
	FlagEventTopic: {
		Name:        "event-topic",
		ViperKey:    "eventstream.topic",
		Description: "kafka topic for persisted-thought events",
	},
	FlagR2Bucket: {
		Name:        "r2-bucket",
		ViperKey:    "r2.bucket",
		Description: "R2 bucket receiving export batches",
	},
	FlagR2CustomDomain: {
		Name:        "r2-custom-domain",
		ViperKey:    "r2.custom_domain",
		Description: "custom domain for public export URLs",
	},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddIntFlag registers an int flag on cmd from the given FlagSet.
func AddIntFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *int) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaultInt(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().IntVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().IntVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaultString returns the default string value for a viper key from NewDefaultConfig.
func defaultString(viperKey string) string {
	v := viper.New()
	setViperDefaults(v)
	return v.GetString(viperKey)
}

// defaultInt returns the default int value for a viper key from NewDefaultConfig.
func defaultInt(viperKey string) int {
	v := viper.New()
	setViperDefaults(v)
	return v.GetInt(viperKey)
}
