// Package configcmder provides the config command for managing persistent
// reverie configuration stored in the .reverie/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent reverie configuration.

Configuration is stored as config.toml in the .reverie/ directory and
provides default values for command flags. CLI flags always take precedence
over config file values.

Keys use dotted notation matching the TOML section structure:
  storage.backend, storage.sqlite_path, storage.segment_dir,
  cache.watermark_capacity, flush.debounce_ms,
  export.prefix, export.batch_limit, export.cooldown_seconds,
  r2.account_id, r2.bucket, r2.custom_domain,
  qrcode.shape, eventstream.brokers, api.listen

Use subcommands to get, set, or list configuration values:
  reverie config set <key> <value>    Set a configuration value
  reverie config get <key>            Get a configuration value
  reverie config list                 List all configuration values

Examples:
  reverie config set storage.backend segment
  reverie config set r2.bucket thoughts
  reverie config get api.listen
  reverie config list`

const configShortDesc string = "Manage persistent reverie configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
