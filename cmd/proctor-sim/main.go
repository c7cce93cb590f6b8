// proctor-sim: scripted signal adapter
// Replays a synthetic session against proctord over the adapter websocket
// and prints the final report payload.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/teslashibe/go-proctor/internal/httpc"
	"github.com/teslashibe/go-proctor/internal/log"
	"github.com/teslashibe/go-proctor/pkg/adapter"
	"github.com/teslashibe/go-proctor/pkg/protocol"
	"github.com/teslashibe/go-proctor/pkg/report"
	"github.com/teslashibe/go-proctor/pkg/risk"
	"github.com/teslashibe/go-proctor/pkg/web"
)

var (
	server   = flag.String("server", "http://localhost:8080", "proctord base URL")
	id       = flag.String("id", "sim", "Adapter id")
	realtime = flag.Bool("realtime", false, "Pace samples at the script cadence instead of sending at once")
	interval = flag.Duration("interval", adapter.DefaultInterval, "Sampling interval")
	drain    = flag.Duration("drain", 5*time.Second, "How long to wait for the engine to apply queued samples")
	level    = flag.String("log-level", "info", "Log level")
)

func main() {
	flag.Parse()
	log.Init(*level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "proctor-sim: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	base := strings.TrimSuffix(*server, "/")
	logger := log.With("sim", *id)

	client := adapter.NewClient(adapter.Config{
		URL:    base,
		ID:     *id,
		Logger: logger,
	})
	pushed := make(chan protocol.SummaryData, 1)
	client.OnSummary = func(sd protocol.SummaryData) {
		select {
		case pushed <- sd:
		default:
		}
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	before, err := ticks(ctx, base)
	if err != nil {
		return err
	}

	// Scripted time starts now so dashboards show sensible timestamps.
	start := time.Now().UTC()
	script := adapter.DefaultScript()
	script.Interval = *interval
	steps := script.Steps(start)

	sessionID, err := client.StartSession(ctx, start)
	if err != nil {
		return err
	}
	logger.Info("session started",
		"session", sessionID,
		"steps", len(steps),
		"scripted", script.Duration(),
	)

	if _, err := adapter.Replay(ctx, client, steps, *realtime); err != nil {
		client.ResetSession(context.Background(), time.Time{})
		return err
	}

	// Session control bypasses the frame queue, so let it drain first.
	if err := waitForTicks(ctx, base, before+uint64(adapter.Messages(steps))); err != nil {
		logger.Warn("engine did not catch up, ending anyway", "error", err)
	}

	var payload report.Payload
	end := web.SessionRequest{At: start.Add(script.Duration()).UnixMilli()}
	if err := httpc.PostJSON(ctx, base+"/api/session/end", end, &payload); err != nil {
		return err
	}

	select {
	case sd := <-pushed:
		if sd.SessionID != sessionID {
			logger.Warn("summary pushed for another session", "session", sd.SessionID)
		}
	case <-time.After(2 * time.Second):
		logger.Warn("no summary pushed over the adapter socket")
	}

	var breakdown risk.Breakdown
	if err := httpc.GetJSON(ctx, base+"/api/risk", &breakdown); err != nil {
		return err
	}
	logger.Info("session ended",
		"session", sessionID,
		"risk", breakdown.Score,
		"level", breakdown.Level,
		"raw", breakdown.Raw,
		"rejected", client.Stats().Rejected,
	)

	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func ticks(ctx context.Context, base string) (uint64, error) {
	var status web.StatusResponse
	if err := httpc.GetJSON(ctx, base+"/api/status", &status); err != nil {
		return 0, err
	}
	return status.Stats.Ticks, nil
}

func waitForTicks(ctx context.Context, base string, want uint64) error {
	ctx, cancel := context.WithTimeout(ctx, *drain)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		got, err := ticks(ctx, base)
		if err != nil {
			return err
		}
		if got >= want {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("applied %d of %d ticks: %w", got, want, ctx.Err())
		case <-ticker.C:
		}
	}
}
