// Package web serves the proctoring HTTP API and the live dashboard feeds.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-proctor/pkg/events"
	"github.com/teslashibe/go-proctor/pkg/hub"
	"github.com/teslashibe/go-proctor/pkg/protocol"
	"github.com/teslashibe/go-proctor/pkg/report"
	"github.com/teslashibe/go-proctor/pkg/risk"
	"github.com/teslashibe/go-proctor/pkg/session"
)

// Engine is the session engine surface the API exposes.
type Engine interface {
	Start(now time.Time) (string, error)
	End(now time.Time) (report.Payload, error)
	Reset()

	State() session.Status
	Stats() session.Stats
	Events() []events.Event
	EventsSince(seq uint64) []events.Event
	CurrentRisk() risk.Output
	Metrics() report.Metrics
	Summary() report.Payload
	Timeline() []report.TimelineEntry
}

// Config holds server configuration.
type Config struct {
	Port    string
	AppName string
	Version string
	Debug   bool // Enables request logging
	Logger  *slog.Logger
}

// Server is the API and dashboard server
type Server struct {
	app     *fiber.App
	config  Config
	engine  Engine
	logger  *slog.Logger
	started time.Time
	now     func() time.Time

	// Hubs for websocket broadcast
	eventHub *hub.Hub
	riskHub  *hub.Hub

	metricsMu sync.RWMutex
	metrics   []func() string
}

// NewServer creates the server and registers all routes
func NewServer(cfg Config, engine Engine) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AppName == "" {
		cfg.AppName = "proctord"
	}

	s := &Server{
		config:   cfg,
		engine:   engine,
		logger:   cfg.Logger.With("component", "web"),
		started:  time.Now(),
		now:      time.Now,
		eventHub: hub.New("events", cfg.Logger),
		riskHub:  hub.New("risk", cfg.Logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		DisableStartupMessage: true,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	if cfg.Debug {
		app.Use(logger.New())
	}

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/events", s.handleEvents)
	api.Get("/risk", s.handleRisk)
	api.Get("/summary", s.handleSummary)
	api.Get("/metrics", s.handleMetrics)
	api.Get("/timeline", s.handleTimeline)
	api.Post("/session/start", s.handleSessionStart)
	api.Post("/session/end", s.handleSessionEnd)
	api.Post("/session/reset", s.handleSessionReset)

	app.Get("/health", s.handleHealth)
	app.Get("/metricsz", s.handleMetricsz)

	// WebSocket upgrade middleware
	app.Use("/ws/events", upgradeOnly)
	app.Use("/ws/risk", upgradeOnly)

	// WebSocket routes
	app.Get("/ws/events", websocket.New(s.handleEventsWS))
	app.Get("/ws/risk", websocket.New(s.handleRiskWS))

	s.app = app
	return s
}

func upgradeOnly(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// App returns the fiber app so other packages can register routes on it.
func (s *Server) App() *fiber.App {
	return s.app
}

// API returns the /api router.
func (s *Server) API() fiber.Router {
	return s.app.Group("/api")
}

// AddMetrics registers a source of Prometheus text appended to /metricsz.
func (s *Server) AddMetrics(fn func() string) {
	s.metricsMu.Lock()
	s.metrics = append(s.metrics, fn)
	s.metricsMu.Unlock()
}

// Run starts the hubs and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go s.eventHub.Run(ctx)
	go s.riskHub.Run(ctx)

	errc := make(chan error, 1)
	go func() {
		addr := ":" + s.config.Port
		s.logger.Info("listening",
			"addr", addr,
			"api", fmt.Sprintf("http://localhost:%s/api/status", s.config.Port),
			"events", fmt.Sprintf("ws://localhost:%s/ws/events", s.config.Port),
		)
		errc <- s.app.Listen(addr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
		return fmt.Errorf("web: shutdown: %w", err)
	}
	return nil
}

// PublishEvent pushes a logged event to /ws/events clients.
func (s *Server) PublishEvent(e events.Event) {
	if err := s.eventHub.BroadcastMessage(protocol.NewEventMessage(e)); err != nil {
		s.logger.Warn("publish event failed", "seq", e.Seq, "error", err)
	}
}

// PublishRisk pushes a risk update to /ws/risk clients.
func (s *Server) PublishRisk(r risk.Output) {
	if err := s.riskHub.BroadcastMessage(protocol.NewRiskMessage(r)); err != nil {
		s.logger.Warn("publish risk failed", "error", err)
	}
}

// PublishSummary pushes a final payload to both feeds.
func (s *Server) PublishSummary(sessionID string, p report.Payload) {
	msg, err := protocol.NewSummaryMessage(sessionID, p)
	if err != nil {
		s.logger.Warn("publish summary failed", "session", sessionID, "error", err)
		return
	}
	s.eventHub.BroadcastMessage(msg, nil)
	s.riskHub.BroadcastMessage(msg, nil)
}
