// Package exportcmder provides the export command for one-shot incremental
// exports from the CLI.
package exportcmder

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reveriehq/reverie/pkg/cache"
	"github.com/reveriehq/reverie/pkg/config"
	"github.com/reveriehq/reverie/pkg/dotdir"
	"github.com/reveriehq/reverie/pkg/export"
	"github.com/reveriehq/reverie/pkg/logger"
	"github.com/reveriehq/reverie/pkg/qr"
	"github.com/reveriehq/reverie/pkg/storage"
	"github.com/reveriehq/reverie/pkg/storage/segment"
	"github.com/reveriehq/reverie/pkg/storage/sqlite"
	"github.com/reveriehq/reverie/pkg/upload/r2"
)

type exportCommander struct {
	limit     int
	renderQR  bool
	debug     bool
	configDir string
	logger    *zap.Logger
}

const exportLongDesc string = `Export new thoughts for a conversation key.

Reads all records newer than the key's export watermark, uploads them as a
JSON batch to the configured R2 bucket, advances the watermark, and prints
the public URL. Running again without new thoughts prints the previous URL
without uploading.`

const exportShortDesc string = "Export new thoughts for a conversation key"

func NewExportCmd() *cobra.Command {
	cmder := &exportCommander{}

	cmd := &cobra.Command{
		Use:   "export <key>",
		Short: exportShortDesc,
		Long:  exportLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return err
			}
			config.BindRegisteredFlags(v, cmd, config.Flags, []string{
				config.FlagExportLimit,
			})

			return cmder.run(config.FromViper(v), args[0])
		},
	}

	config.AddIntFlag(cmd, config.Flags, config.FlagExportLimit, &cmder.limit)
	cmd.Flags().BoolVar(&cmder.renderQR, "qr", false, "Render a QR code for the export URL")

	return cmd
}

func (c *exportCommander) run(cfg *config.Config, key string) error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	driver, err := c.newStorageDriver(cfg)
	if err != nil {
		return err
	}
	defer driver.Close()

	cached, err := cache.New(cache.Config{
		Store:             driver,
		WatermarkCapacity: cfg.Cache.WatermarkCapacity,
		Logger:            c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating cache: %w", err)
	}

	cursor, err := export.NewCursor(export.CursorConfig{
		Reader:     driver,
		Watermarks: cached,
		Logger:     c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating export cursor: %w", err)
	}

	uploader, err := r2.NewUploader(r2.Config{
		AccountID:       cfg.R2.AccountID,
		AccessKeyID:     cfg.R2.AccessKeyID,
		SecretAccessKey: cfg.R2.SecretAccessKey,
		Bucket:          cfg.R2.Bucket,
		CustomDomain:    cfg.R2.CustomDomain,
		Logger:          c.logger,
	})
	if err != nil {
		return fmt.Errorf("configuring uploads: %w", err)
	}

	pipeline, err := export.NewPipeline(export.PipelineConfig{
		Cursor:       cursor,
		Uploader:     uploader,
		ObjectPrefix: cfg.Export.Prefix,
		BatchLimit:   cfg.Export.BatchLimit,
		Logger:       c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating export pipeline: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	result, err := pipeline.Export(ctx, key)
	if err != nil {
		return err
	}

	switch result.State {
	case export.StateNothingEver:
		fmt.Printf("No thoughts have ever been captured for %q.\n", key)
		return nil
	case export.StateNoNew:
		fmt.Printf("No new thoughts since the last export.\n%s\n", result.URL)
	default:
		fmt.Printf("Exported %d thought(s).\n%s\n", result.Count, result.URL)
	}

	if c.renderQR && result.URL != "" {
		renderer := qr.NewRenderer(qr.Config{
			Shape:       cfg.QRCode.Shape,
			BorderWidth: cfg.QRCode.BorderWidth,
			Logo:        cfg.QRCode.Logo,
			Logger:      c.logger,
		})
		path, err := renderer.Render(ctx, result.URL)
		if err != nil {
			return fmt.Errorf("rendering qr code: %w", err)
		}
		fmt.Printf("QR code: %s\n", path)
	}

	return nil
}

// newStorageDriver opens the configured backend read-write; the export path
// only reads records and upserts watermarks. The memory and postgres
// backends are excluded here: memory has nothing to export across processes
// and postgres exports run through the server's API instead.
func (c *exportCommander) newStorageDriver(cfg *config.Config) (storage.Driver, error) {
	target, err := dotdir.NewManager().Target(c.configDir)
	if err != nil {
		return nil, err
	}

	switch cfg.Storage.Backend {
	case "sqlite", "":
		path := cfg.Storage.SQLitePath
		if path == "" {
			path = filepath.Join(target, "thoughts.db")
		}
		return sqlite.NewDriver(path)

	case "segment":
		dir := cfg.Storage.SegmentDir
		if dir == "" {
			dir = filepath.Join(target, "thoughts")
		}
		return segment.NewDriver(segment.Config{
			Dir:      dir,
			Capacity: cfg.Storage.SegmentCapacity,
			Retain:   cfg.Storage.SegmentRetain,
			Logger:   c.logger,
		})

	default:
		return nil, fmt.Errorf("storage backend %q is not supported for CLI export, use the server API", cfg.Storage.Backend)
	}
}
