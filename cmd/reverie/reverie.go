// Package reveriecmder
package reveriecmder

import (
	configcmder "github.com/reveriehq/reverie/cmd/reverie/config"
	exportcmder "github.com/reveriehq/reverie/cmd/reverie/export"
	servecmder "github.com/reveriehq/reverie/cmd/reverie/serve"
	"github.com/spf13/cobra"
)

const reverieLongDesc string = `Reverie captures, persists, and exports LLM reasoning traces.

Run services using:
  reverie serve          Run the thought capture and query server
  reverie export <key>   Export new thoughts for a conversation key
  reverie config         Manage persistent configuration`

const reverieShortDesc string = "Reverie - Reasoning Trace Capture"

func NewReverieCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reverie",
		Short: reverieShortDesc,
		Long:  reverieLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .reverie/ directory location")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(exportcmder.NewExportCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())

	return cmd
}
