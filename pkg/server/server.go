// Package server provides the HTTP surface of micstream: health and stats
// endpoints, Prometheus metrics, and the WebSocket audio route when the
// active sink is a WebSocket sink.
package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-micstream/internal/observe"
	"github.com/teslashibe/go-micstream/pkg/audioio"
	"github.com/teslashibe/go-micstream/pkg/pipeline"
	"github.com/teslashibe/go-micstream/pkg/transport"
)

// Config holds server settings.
type Config struct {
	// Addr is the listen address, e.g. ":12345".
	Addr string

	// Version is reported by /health.
	Version string

	// Debug enables per-request access logs.
	Debug bool

	// Metrics enables the /metrics endpoint.
	Metrics bool
}

// StatsProvider reports pipeline lifecycle statistics.
// *pipeline.Supervisor implements it.
type StatsProvider interface {
	Stats() pipeline.SupervisorStats
}

// RouteRegistrar is a sink that serves its own HTTP routes.
// *transport.WebSocketSink implements it.
type RouteRegistrar interface {
	RegisterRoutes(app fiber.Router)
}

type sinkStats interface {
	Stats() transport.Stats
}

type peerLister interface {
	PeerInfos() []transport.PeerInfo
}

// Server is the micstream HTTP server.
type Server struct {
	app     *fiber.App
	cfg     Config
	logger  *slog.Logger
	started time.Time

	stats  StatsProvider
	source audioio.Source
	sink   transport.Sink
}

// New creates a server. stats, src and sink may be nil; their endpoints
// then report nothing.
func New(cfg Config, stats StatsProvider, src audioio.Source, sink transport.Sink, metrics *observe.Metrics, l *slog.Logger) *Server {
	if l == nil {
		l = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		logger:  l,
		started: time.Now(),
		stats:   stats,
		source:  src,
		sink:    sink,
	}

	app := fiber.New(fiber.Config{
		AppName:               "micstream",
		DisableStartupMessage: true,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,OPTIONS",
		AllowHeaders: "Content-Type",
	}))
	if metrics != nil {
		app.Use(observe.Middleware(metrics, l))
	}
	if cfg.Debug {
		app.Use(logger.New())
	}

	app.Get("/health", s.handleHealth)

	api := app.Group("/api")
	api.Get("/stats", s.handleStats)
	api.Get("/peers", s.handlePeers)

	if cfg.Metrics {
		app.Get("/metrics", adaptor.HTTPHandler(observe.Handler()))
	}

	// Stream route last so the fixed endpoints above take precedence.
	if r, ok := sink.(RouteRegistrar); ok {
		r.RegisterRoutes(app)
	}

	s.app = app
	return s
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on cfg.Addr and blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.cfg.Addr)
	return s.app.Listen(s.cfg.Addr)
}

// StartAsync starts the server in a goroutine. Listen errors are sent on
// the returned channel.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("http server error", "error", err)
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
