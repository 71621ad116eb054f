package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/reveriehq/reverie/pkg/capture"
	"github.com/reveriehq/reverie/pkg/export"
	"github.com/reveriehq/reverie/pkg/storage"
)

// Server is the API server for querying and exporting captured thoughts
type Server struct {
	config   Config
	capturer *capture.Service
	storer   storage.Driver
	flusher  export.Flusher
	pipeline *export.Pipeline
	logger   *zap.Logger
	app      *fiber.App
}

// NewServer creates a new API server.
// The storer and capturer are injected to allow sharing with the ingestion
// side when everything runs in one process.
func NewServer(
	config Config,
	capturer *capture.Service,
	storer storage.Driver,
	flusher export.Flusher,
	pipeline *export.Pipeline,
	logger *zap.Logger,
) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:   config,
		capturer: capturer,
		storer:   storer,
		flusher:  flusher,
		pipeline: pipeline,
		logger:   logger,
		app:      app,
	}

	app.Get("/ping", s.handlePing)
	app.Post("/thoughts", s.handleIngest)
	app.Get("/thoughts/latest", s.handleLatest)
	app.Get("/thoughts/since", s.handleSince)
	app.Post("/export", s.handleExport)

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
