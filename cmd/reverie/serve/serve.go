// Package servecmder provides the serve command running the capture, query,
// and export services.
package servecmder

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reveriehq/reverie/api"
	"github.com/reveriehq/reverie/pkg/cache"
	"github.com/reveriehq/reverie/pkg/capture"
	"github.com/reveriehq/reverie/pkg/config"
	"github.com/reveriehq/reverie/pkg/dotdir"
	"github.com/reveriehq/reverie/pkg/eventstream"
	"github.com/reveriehq/reverie/pkg/eventstream/kafka"
	"github.com/reveriehq/reverie/pkg/eventstream/nop"
	"github.com/reveriehq/reverie/pkg/export"
	"github.com/reveriehq/reverie/pkg/flush"
	"github.com/reveriehq/reverie/pkg/logger"
	"github.com/reveriehq/reverie/pkg/storage"
	"github.com/reveriehq/reverie/pkg/storage/inmemory"
	"github.com/reveriehq/reverie/pkg/storage/postgres"
	"github.com/reveriehq/reverie/pkg/storage/segment"
	"github.com/reveriehq/reverie/pkg/storage/sqlite"
	"github.com/reveriehq/reverie/pkg/upload"
	"github.com/reveriehq/reverie/pkg/upload/r2"
)

type ServeCommander struct {
	backend    string
	sqlitePath string
	segmentDir string
	postgres   string
	listen     string
	debug      bool
	configDir  string
	logger     *zap.Logger
}

const serveLongDesc string = `Run the Reverie services.

Starts the capture pipeline, flush scheduler, and HTTP API in one process.
Captured reasoning traces are served from memory and flushed to the
configured storage backend in the background.`

const serveShortDesc string = "Run the Reverie server"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
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
				config.FlagBackend,
				config.FlagSQLite,
				config.FlagSegmentDir,
				config.FlagPostgres,
				config.FlagAPIListen,
			})

			return cmder.run(config.FromViper(v))
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagBackend, &cmder.backend)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagSegmentDir, &cmder.segmentDir)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgres, &cmder.postgres)
	config.AddStringFlag(cmd, config.Flags, config.FlagAPIListen, &cmder.listen)

	return cmd
}

func (c *ServeCommander) run(cfg *config.Config) error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	driver, err := newStorageDriver(cfg, c.configDir, c.logger)
	if err != nil {
		return err
	}
	defer driver.Close()

	publisher, err := c.newPublisher(cfg)
	if err != nil {
		return err
	}
	defer publisher.Close()

	scheduler, err := flush.NewScheduler(flush.Config{
		Store:         driver,
		Publisher:     publisher,
		Debounce:      time.Duration(cfg.Flush.DebounceMS) * time.Millisecond,
		SweepInterval: time.Duration(cfg.Flush.SweepIntervalSeconds) * time.Second,
		NumWorkers:    cfg.Flush.Workers,
		QueueSize:     cfg.Flush.QueueSize,
		MaxAttempts:   cfg.Flush.MaxAttempts,
		Logger:        c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating flush scheduler: %w", err)
	}

	cached, err := cache.New(cache.Config{
		Store:             driver,
		Flusher:           scheduler,
		WatermarkCapacity: cfg.Cache.WatermarkCapacity,
		Logger:            c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating cache: %w", err)
	}

	capturer, err := capture.New(capture.Config{
		Cache:           cached,
		MaxReasoningLen: cfg.Cache.MaxReasoningLen,
		Logger:          c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating capture service: %w", err)
	}

	cursor, err := export.NewCursor(export.CursorConfig{
		Reader:     driver,
		Watermarks: cached,
		Flusher:    scheduler,
		Logger:     c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating export cursor: %w", err)
	}

	pipeline, err := export.NewPipeline(export.PipelineConfig{
		Cursor:       cursor,
		Uploader:     c.newUploader(cfg),
		ObjectPrefix: cfg.Export.Prefix,
		BatchLimit:   cfg.Export.BatchLimit,
		Cooldown:     time.Duration(cfg.Export.CooldownSeconds) * time.Second,
		Logger:       c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating export pipeline: %w", err)
	}

	apiServer := api.NewServer(api.Config{
		ListenAddr: cfg.API.Listen,
	}, capturer, driver, scheduler, pipeline, c.logger)

	errChan := make(chan error, 1)
	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		scheduler.Close()
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	}

	if err := apiServer.Shutdown(); err != nil {
		c.logger.Warn("API server shutdown failed", zap.Error(err))
	}

	// Final flush of all dirty state before the process exits.
	if err := scheduler.Close(); err != nil {
		return fmt.Errorf("flushing on shutdown: %w", err)
	}

	return nil
}

// newPublisher selects the event publisher: kafka when brokers are
// configured, nop otherwise.
func (c *ServeCommander) newPublisher(cfg *config.Config) (eventstream.Publisher, error) {
	if len(cfg.EventStream.Brokers) == 0 {
		return nop.NewPublisher(), nil
	}

	c.logger.Info("publishing persisted-thought events to kafka",
		zap.Strings("brokers", cfg.EventStream.Brokers),
		zap.String("topic", cfg.EventStream.Topic),
	)
	return kafka.NewPublisher(kafka.Config{
		Brokers: cfg.EventStream.Brokers,
		Topic:   cfg.EventStream.Topic,
	})
}

// newUploader builds the R2 uploader, or a fail-fast placeholder when
// credentials are absent so the rest of the server still runs.
func (c *ServeCommander) newUploader(cfg *config.Config) upload.Uploader {
	uploader, err := r2.NewUploader(r2.Config{
		AccountID:       cfg.R2.AccountID,
		AccessKeyID:     cfg.R2.AccessKeyID,
		SecretAccessKey: cfg.R2.SecretAccessKey,
		Bucket:          cfg.R2.Bucket,
		CustomDomain:    cfg.R2.CustomDomain,
		Logger:          c.logger,
	})
	if err != nil {
		c.logger.Warn("export uploads disabled", zap.Error(err))
		return &disabledUploader{err: err}
	}
	return uploader
}

// disabledUploader surfaces the configuration error on first use instead of
// at startup, keeping capture and query available without R2 credentials.
type disabledUploader struct {
	err error
}

func (u *disabledUploader) Upload(context.Context, string, []byte) (string, error) {
	return "", u.err
}

// newStorageDriver builds the configured storage backend. Paths default
// into the resolved .reverie/ directory.
func newStorageDriver(cfg *config.Config, configDir string, log *zap.Logger) (storage.Driver, error) {
	target, err := dotdir.NewManager().Target(configDir)
	if err != nil {
		return nil, err
	}

	switch cfg.Storage.Backend {
	case "sqlite", "":
		path := cfg.Storage.SQLitePath
		if path == "" {
			path = filepath.Join(target, "thoughts.db")
		}
		driver, err := sqlite.NewDriver(path)
		if err != nil {
			return nil, fmt.Errorf("creating sqlite driver: %w", err)
		}
		log.Info("using sqlite storage", zap.String("path", path))
		return driver, nil

	case "segment":
		dir := cfg.Storage.SegmentDir
		if dir == "" {
			dir = filepath.Join(target, "thoughts")
		}
		driver, err := segment.NewDriver(segment.Config{
			Dir:      dir,
			Capacity: cfg.Storage.SegmentCapacity,
			Retain:   cfg.Storage.SegmentRetain,
			Logger:   log,
		})
		if err != nil {
			return nil, fmt.Errorf("creating segment driver: %w", err)
		}
		log.Info("using segment storage", zap.String("dir", dir))
		return driver, nil

	case "postgres":
		driver, err := postgres.NewDriver(context.Background(), cfg.Storage.PostgresConn)
		if err != nil {
			return nil, fmt.Errorf("creating postgres driver: %w", err)
		}
		log.Info("using postgres storage")
		return driver, nil

	case "memory":
		log.Info("using in-memory storage, thoughts will not survive restarts")
		return inmemory.NewDriver(), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
