package adapter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-proctor/pkg/events"
	"github.com/teslashibe/go-proctor/pkg/gaze"
	"github.com/teslashibe/go-proctor/pkg/ingest"
	"github.com/teslashibe/go-proctor/pkg/objects"
	"github.com/teslashibe/go-proctor/pkg/protocol"
	"github.com/teslashibe/go-proctor/pkg/report"
	"github.com/teslashibe/go-proctor/pkg/session"
)

var t0 = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

func quietEngine(t *testing.T) *session.Engine {
	t.Helper()
	eng, err := session.New(nil,
		session.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		session.WithStrict(true),
	)
	if err != nil {
		t.Fatalf("session.New() error = %v", err)
	}
	return eng
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		url  string
		id   string
		want string
		err  bool
	}{
		{url: "ws://localhost:8080", want: "ws://localhost:8080/ws/adapter"},
		{url: "http://localhost:8080/", id: "cam-1", want: "ws://localhost:8080/ws/adapter/cam-1"},
		{url: "https://proctor.example.com", id: "lab 2", want: "wss://proctor.example.com/ws/adapter/lab%202"},
		{url: "ftp://localhost", err: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			c := NewClient(Config{URL: tt.url, ID: tt.id})
			got, err := c.Endpoint()
			if tt.err {
				if err == nil {
					t.Errorf("Endpoint() = %q, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Endpoint() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Endpoint() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSendBeforeConnect(t *testing.T) {
	c := NewClient(Config{URL: "ws://localhost:1"})
	if err := c.SendTick(t0); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendTick() error = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client = %v, want nil", err)
	}
}

func TestScriptSteps(t *testing.T) {
	s := Script{
		Interval: 500 * time.Millisecond,
		Phases: []Phase{
			{Name: "a", Duration: time.Second, Face: true, Confidence: 1},
			{Name: "b", Duration: 1200 * time.Millisecond, TabSwitch: true},
		},
	}

	steps := s.Steps(t0)
	// a: 0, 500; b: 1000, 1500, 2000
	if len(steps) != 5 {
		t.Fatalf("len(steps) = %d, want 5", len(steps))
	}
	if s.Duration() != 2200*time.Millisecond {
		t.Errorf("Duration() = %v, want 2.2s", s.Duration())
	}

	tabs := 0
	for i, st := range steps {
		if i > 0 && !st.At.After(steps[i-1].At) {
			t.Errorf("step %d at %v is not after step %d", i, st.At, i-1)
		}
		if !st.Gaze.SampledAt.Equal(st.At) {
			t.Errorf("step %d SampledAt = %v, want %v", i, st.Gaze.SampledAt, st.At)
		}
		if st.TabSwitch {
			tabs++
			if st.Phase != "b" {
				t.Errorf("tab switch in phase %q", st.Phase)
			}
		}
	}
	if tabs != 1 {
		t.Errorf("tab switches = %d, want 1", tabs)
	}
	if got := Messages(steps); got != 6 {
		t.Errorf("Messages() = %d, want 6", got)
	}
}

func TestDefaultScriptRaisesOneOfEach(t *testing.T) {
	eng := quietEngine(t)
	if _, err := eng.Start(t0); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	for _, st := range DefaultScript().Steps(t0) {
		m := st.Gaze
		f := session.Frame{At: st.At, Gaze: &m, Hits: st.Hits, TabSwitch: st.TabSwitch}
		if _, err := eng.ProcessFrame(ctx, eng.NextToken(), f); err != nil {
			t.Fatalf("ProcessFrame(%s @ %v) error = %v", st.Phase, st.At, err)
		}
	}

	evs := eng.Events()
	for _, typ := range events.Types {
		if got := report.CountByType(evs, typ); got != 1 {
			t.Errorf("%s events = %d, want 1", typ, got)
		}
	}

	r := eng.CurrentRisk()
	if r.Score != 49 {
		t.Errorf("risk score = %d, want 49 (8+15+20+6)", r.Score)
	}
}

type recorder struct {
	gaze []gaze.Measurement
	hits int
	tabs int
	fail int // Fail the nth gaze send, 1-based
}

func (r *recorder) SendGaze(m gaze.Measurement) error {
	r.gaze = append(r.gaze, m)
	if r.fail > 0 && len(r.gaze) == r.fail {
		return errors.New("boom")
	}
	return nil
}

func (r *recorder) SendObjects(time.Time, []objects.Hit) error {
	r.hits++
	return nil
}

func (r *recorder) SendTabSwitch(time.Time) error {
	r.tabs++
	return nil
}

func TestReplay(t *testing.T) {
	steps := DefaultScript().Steps(t0)

	t.Run("all steps", func(t *testing.T) {
		rec := &recorder{}
		n, err := Replay(context.Background(), rec, steps, false)
		if err != nil {
			t.Fatalf("Replay() error = %v", err)
		}
		if n != len(steps) || len(rec.gaze) != len(steps) {
			t.Errorf("sent %d steps, %d gaze samples; want %d", n, len(rec.gaze), len(steps))
		}
		if rec.tabs != 1 {
			t.Errorf("tab switches = %d, want 1", rec.tabs)
		}
		if rec.hits != 15 {
			t.Errorf("object batches = %d, want 15 (3s at 200ms)", rec.hits)
		}
	})

	t.Run("stops on send error", func(t *testing.T) {
		rec := &recorder{fail: 3}
		n, err := Replay(context.Background(), rec, steps, false)
		if err == nil {
			t.Fatal("Replay() error = nil, want send error")
		}
		if n != 2 {
			t.Errorf("Replay() sent %d steps, want 2", n)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		n, err := Replay(ctx, &recorder{}, steps, true)
		if !errors.Is(err, context.Canceled) || n != 0 {
			t.Errorf("Replay() = %d, %v; want 0, context.Canceled", n, err)
		}
	})
}

func TestClientSession(t *testing.T) {
	eng := quietEngine(t)
	frames := make(chan session.Frame, 256)
	hub := ingest.NewHub(eng, frames, slog.New(slog.NewTextHandler(io.Discard, nil)))
	eng.OnSummary(hub.PublishSummary)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	hub.RegisterRoutes(app)

	go app.Listen(":18094")
	defer app.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx, frames)

	time.Sleep(100 * time.Millisecond)

	c := NewClient(Config{
		URL:    "ws://localhost:18094",
		ID:     "sim",
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	summaries := make(chan protocol.SummaryData, 1)
	c.OnSummary = func(sd protocol.SummaryData) { summaries <- sd }
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	id, err := c.StartSession(ctx, t0)
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if id == "" {
		t.Error("StartSession() returned empty session id")
	}

	// A second start is rejected with an error reply, not a timeout.
	if _, err := c.StartSession(ctx, t0); err == nil {
		t.Error("second StartSession() error = nil, want rejection")
	}

	script := Script{Phases: []Phase{
		{Name: "look_away", Duration: 3 * time.Second, Yaw: 40, Face: true, Confidence: 0.9},
	}}
	steps := script.Steps(t0)
	if _, err := Replay(ctx, c, steps, false); err != nil {
		t.Fatalf("Replay() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for eng.Stats().Ticks < uint64(len(steps)) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if err := c.EndSession(ctx, t0.Add(script.Duration())); err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}

	p := eng.Summary()
	if p.GazeIncidents != 1 {
		t.Errorf("GazeIncidents = %d, want 1", p.GazeIncidents)
	}
	if p.SessionDurationSec != 3 {
		t.Errorf("SessionDurationSec = %d, want 3", p.SessionDurationSec)
	}
	if c.Stats().Rejected != 0 {
		t.Errorf("Rejected = %d, want 0", c.Stats().Rejected)
	}

	select {
	case sd := <-summaries:
		if sd.SessionID != id {
			t.Errorf("summary session = %q, want %q", sd.SessionID, id)
		}
		if sd.Payload != p {
			t.Errorf("pushed payload = %+v, want %+v", sd.Payload, p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no summary pushed to the adapter")
	}
}
