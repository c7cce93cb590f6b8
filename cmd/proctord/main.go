// proctord: behavioral monitoring service
// Accepts signal adapters over WebSocket, runs the session engine and
// serves the risk/report API and live dashboard feeds.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-proctor/internal/config"
	"github.com/teslashibe/go-proctor/internal/log"
	"github.com/teslashibe/go-proctor/pkg/ingest"
	"github.com/teslashibe/go-proctor/pkg/session"
	"github.com/teslashibe/go-proctor/pkg/web"
)

var (
	version = "0.1.0"
	port    = flag.String("port", "", "HTTP server port (overrides PROCTOR_PORT)")
	strict  = flag.Bool("strict", false, "Fail ticks on contract violations instead of clamping")
	tuning  = flag.String("tuning", "", "YAML tuning file (overrides PROCTOR_TUNING_FILE)")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "proctord: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if *tuning != "" {
		os.Setenv("PROCTOR_TUNING_FILE", *tuning)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *strict {
		cfg.Strict = true
	}

	log.Init(cfg.LogLevel)
	logger := log.L()

	sc, err := cfg.SessionConfig(logger)
	if err != nil {
		return err
	}
	engine, err := session.New(sc)
	if err != nil {
		return err
	}

	frames := make(chan session.Frame, cfg.QueueSize)
	adapters := ingest.NewHub(engine, frames, logger)

	server := web.NewServer(web.Config{
		Port:    cfg.Port,
		AppName: "proctord",
		Version: version,
		Debug:   cfg.Debug,
		Logger:  logger,
	}, engine)

	adapters.RegisterRoutes(server.App())
	adapters.RegisterAPIRoutes(server.API())
	server.AddMetrics(func() string {
		st := adapters.GetStats()
		return fmt.Sprintf(`# HELP proctor_adapters Connected signal adapters
# TYPE proctor_adapters gauge
proctor_adapters %d
# HELP proctor_frames_queued_total Frames queued for the engine
# TYPE proctor_frames_queued_total counter
proctor_frames_queued_total %d
# HELP proctor_frames_dropped_total Frames dropped on a full queue
# TYPE proctor_frames_dropped_total counter
proctor_frames_dropped_total %d
# HELP proctor_parse_errors_total Adapter messages that failed to parse
# TYPE proctor_parse_errors_total counter
proctor_parse_errors_total %d
`, st.AdapterCount, st.FramesQueued, st.FramesDropped, st.ParseErrors)
	})

	// Engine output goes to the dashboard feeds; adapters get the summary
	engine.OnEvent(server.PublishEvent)
	engine.OnRisk(server.PublishRisk)
	engine.OnSummary(server.PublishSummary)
	engine.OnSummary(adapters.PublishSummary)

	logger.Info("proctord starting",
		"version", version,
		"port", cfg.Port,
		"strict", cfg.Strict,
		"tuning", cfg.TuningFile,
		"env", cfg.Env,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(ctx, frames)
	})
	g.Go(func() error {
		return server.Run(ctx)
	})

	err = g.Wait()

	// A session still open at shutdown is discarded, not reported.
	if engine.State().Active {
		logger.Warn("discarding active session at shutdown")
		engine.Reset()
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("proctord stopped")
	return nil
}
