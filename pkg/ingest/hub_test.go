package ingest

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-proctor/pkg/gaze"
	"github.com/teslashibe/go-proctor/pkg/objects"
	"github.com/teslashibe/go-proctor/pkg/protocol"
	"github.com/teslashibe/go-proctor/pkg/report"
	"github.com/teslashibe/go-proctor/pkg/session"
)

var t0 = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

type fakeEngine struct {
	generation uint64
	active     bool
	starts     []time.Time
	resets     int
}

func (f *fakeEngine) Start(now time.Time) (string, error) {
	if f.active {
		return "", session.ErrSessionActive
	}
	f.active = true
	f.generation++
	f.starts = append(f.starts, now)
	return "sess-1", nil
}

func (f *fakeEngine) End(time.Time) (report.Payload, error) {
	if !f.active {
		return report.Payload{}, session.ErrNoSession
	}
	f.active = false
	f.generation++
	return report.Payload{}, nil
}

func (f *fakeEngine) Reset() {
	f.active = false
	f.generation++
	f.resets++
}

func (f *fakeEngine) Generation() uint64 { return f.generation }

func newTestHub(queue int) (*Hub, *fakeEngine, chan session.Frame) {
	eng := &fakeEngine{generation: 1}
	frames := make(chan session.Frame, queue)
	h := NewHub(eng, frames, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.now = func() time.Time { return t0 }
	return h, eng, frames
}

func encode(t *testing.T) func(msg *protocol.Message, err error) []byte {
	return func(msg *protocol.Message, err error) []byte {
		t.Helper()
		if err != nil {
			t.Fatalf("build message: %v", err)
		}
		data, err := msg.Bytes()
		if err != nil {
			t.Fatalf("Bytes() error = %v", err)
		}
		return data
	}
}

func TestNewHub(t *testing.T) {
	hub, _, _ := newTestHub(1)

	if hub.AdapterCount() != 0 {
		t.Error("AdapterCount should be 0 initially")
	}
	stats := hub.GetStats()
	if stats.MessagesReceived != 0 || stats.FramesQueued != 0 {
		t.Errorf("stats should start at zero, got %+v", stats)
	}
	if hub.GetAdapter("nonexistent") != nil {
		t.Error("GetAdapter should return nil for nonexistent adapter")
	}
}

func TestHandleMessage_SessionControl(t *testing.T) {
	hub, eng, _ := newTestHub(1)

	reply := hub.handleMessage("a1", encode(t)(protocol.NewSessionMessage(protocol.TypeSessionStart, t0)))
	if reply == nil || reply.Type != protocol.TypeAck {
		t.Fatalf("start reply = %+v, want ack", reply)
	}
	ack, _ := reply.GetAckData()
	if ack.SessionID != "sess-1" || ack.For != protocol.TypeSessionStart {
		t.Errorf("ack = %+v", ack)
	}
	if !eng.starts[0].Equal(t0) {
		t.Errorf("start time = %v, want %v", eng.starts[0], t0)
	}

	// Second start is rejected.
	reply = hub.handleMessage("a1", encode(t)(protocol.NewSessionMessage(protocol.TypeSessionStart, t0)))
	if reply.Type != protocol.TypeError {
		t.Fatalf("second start reply = %s, want error", reply.Type)
	}

	reply = hub.handleMessage("a1", encode(t)(protocol.NewSessionMessage(protocol.TypeSessionEnd, t0.Add(time.Minute))))
	if reply.Type != protocol.TypeAck {
		t.Errorf("end reply = %s, want ack", reply.Type)
	}

	reply = hub.handleMessage("a1", encode(t)(protocol.NewSessionMessage(protocol.TypeSessionEnd, t0.Add(time.Minute))))
	ed, _ := reply.GetErrorData()
	if ed.Code != protocol.CodeNoSession {
		t.Errorf("end without session code = %q, want %q", ed.Code, protocol.CodeNoSession)
	}

	hub.handleMessage("a1", encode(t)(protocol.NewSessionMessage(protocol.TypeSessionReset, time.Time{})))
	if eng.resets != 1 {
		t.Errorf("resets = %d, want 1", eng.resets)
	}
}

func TestHandleMessage_SignalsQueueFrames(t *testing.T) {
	hub, eng, frames := newTestHub(8)
	eng.generation = 7

	m := gaze.Measurement{Yaw: 40, FaceDetected: true, FaceConfidence: 0.9, SampledAt: t0.Add(time.Second)}
	inputs := [][]byte{
		encode(t)(protocol.NewGazeMessage(m)),
		encode(t)(protocol.NewObjectsMessage(t0.Add(2*time.Second), []objects.Hit{{Label: "book", Score: 0.8}})),
		encode(t)(protocol.NewTabSwitchMessage(t0.Add(3 * time.Second))),
		encode(t)(protocol.NewTickMessage(t0.Add(4 * time.Second))),
	}
	for _, in := range inputs {
		if reply := hub.handleMessage("a1", in); reply != nil {
			t.Fatalf("signal message should not be answered, got %s", reply.Type)
		}
	}

	if len(frames) != 4 {
		t.Fatalf("queued frames = %d, want 4", len(frames))
	}

	f := <-frames
	if f.Gaze == nil || f.Gaze.Yaw != 40 || !f.At.Equal(m.SampledAt) {
		t.Errorf("gaze frame = %+v", f)
	}
	if f.Generation != 7 {
		t.Errorf("Generation = %d, want 7", f.Generation)
	}

	f = <-frames
	if len(f.Hits) != 1 || f.Hits[0].Label != "book" {
		t.Errorf("objects frame = %+v", f)
	}
	f = <-frames
	if !f.TabSwitch || !f.At.Equal(t0.Add(3*time.Second)) {
		t.Errorf("tab frame = %+v", f)
	}
	f = <-frames
	if f.Gaze != nil || f.TabSwitch || !f.At.Equal(t0.Add(4*time.Second)) {
		t.Errorf("tick frame = %+v", f)
	}

	if hub.GetStats().FramesQueued != 4 {
		t.Errorf("FramesQueued = %d, want 4", hub.GetStats().FramesQueued)
	}
}

func TestHandleMessage_QueueFull(t *testing.T) {
	hub, _, _ := newTestHub(1)
	tick := encode(t)(protocol.NewTickMessage(t0))

	if reply := hub.handleMessage("a1", tick); reply != nil {
		t.Fatalf("first tick should queue, got %s", reply.Type)
	}
	reply := hub.handleMessage("a1", tick)
	if reply == nil || reply.Type != protocol.TypeError {
		t.Fatal("second tick should be rejected when queue is full")
	}
	if hub.GetStats().FramesDropped != 1 {
		t.Errorf("FramesDropped = %d, want 1", hub.GetStats().FramesDropped)
	}
}

func TestHandleMessage_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		code  string
	}{
		{"invalid json", "not json", protocol.CodeBadMessage},
		{"missing type", "{}", protocol.CodeBadMessage},
		{"unknown type", `{"type":"frame"}`, protocol.CodeUnknownType},
		{"bad gaze payload", `{"type":"gaze","data":{"yaw":"left"}}`, protocol.CodeBadMessage},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			hub, _, frames := newTestHub(1)
			reply := hub.handleMessage("a1", []byte(tc.input))
			if reply == nil || reply.Type != protocol.TypeError {
				t.Fatalf("reply = %+v, want error", reply)
			}
			ed, err := reply.GetErrorData()
			if err != nil {
				t.Fatal(err)
			}
			if ed.Code != tc.code {
				t.Errorf("code = %q, want %q", ed.Code, tc.code)
			}
			if len(frames) != 0 {
				t.Error("rejected message must not queue a frame")
			}
		})
	}
}

func TestHandleMessage_MissingTimestampUsesNow(t *testing.T) {
	hub, _, frames := newTestHub(1)

	hub.handleMessage("a1", []byte(`{"type":"tab_switch"}`))
	f := <-frames
	if !f.At.Equal(t0) {
		t.Errorf("At = %v, want hub clock %v", f.At, t0)
	}
}

func TestRegisterRoutes(t *testing.T) {
	hub, _, _ := newTestHub(1)
	app := fiber.New()

	// Should not panic
	hub.RegisterRoutes(app)
	hub.RegisterAPIRoutes(app.Group("/api"))
}

func TestAPIListAdapters(t *testing.T) {
	hub, _, _ := newTestHub(1)
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	hub.RegisterAPIRoutes(app.Group("/api"))

	for _, path := range []string{"/api/adapters/", "/api/adapters/stats"} {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil))
		if err != nil {
			t.Fatalf("Request error: %v", err)
		}
		if resp.StatusCode != 200 {
			t.Errorf("%s status = %d, want 200", path, resp.StatusCode)
		}
		body, _ := io.ReadAll(resp.Body)
		if path == "/api/adapters/" && !strings.Contains(string(body), "adapters") {
			t.Error("Response should contain 'adapters' field")
		}
	}
}

func TestWebSocketSession(t *testing.T) {
	eng, err := session.New(nil, session.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatal(err)
	}
	frames := make(chan session.Frame, 16)
	hub := NewHub(eng, frames, slog.New(slog.NewTextHandler(io.Discard, nil)))
	eng.OnSummary(hub.PublishSummary)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	hub.RegisterRoutes(app)
	hub.RegisterAPIRoutes(app.Group("/api"))

	go app.Listen(":18090")
	defer app.Shutdown()
	time.Sleep(100 * time.Millisecond)

	ws, _, err := websocket.DefaultDialer.Dial("ws://localhost:18090/ws/adapter/cam-1", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()

	time.Sleep(50 * time.Millisecond)
	if hub.AdapterCount() != 1 || hub.GetAdapter("cam-1") == nil {
		t.Fatalf("adapter not registered, count = %d", hub.AdapterCount())
	}

	ws.WriteMessage(websocket.TextMessage, encode(t)(protocol.NewSessionMessage(protocol.TypeSessionStart, t0)))

	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	var resp protocol.Message
	json.Unmarshal(data, &resp)
	if resp.Type != protocol.TypeAck {
		t.Fatalf("Type = %s, want ack", resp.Type)
	}

	ws.WriteMessage(websocket.TextMessage, encode(t)(protocol.NewTabSwitchMessage(t0.Add(time.Second))))

	select {
	case f := <-frames:
		if !f.TabSwitch || f.Generation != eng.Generation() {
			t.Errorf("frame = %+v, generation %d", f, eng.Generation())
		}
	case <-time.After(time.Second):
		t.Fatal("frame was not queued")
	}

	// Ping is answered with pong.
	ws.WriteMessage(websocket.TextMessage, encode(t)(protocol.NewPingMessage("p1")))
	_, data, err = ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	json.Unmarshal(data, &resp)
	if resp.Type != protocol.TypePong {
		t.Errorf("Type = %s, want pong", resp.Type)
	}

	resp2, err := app.Test(httptest.NewRequest("GET", "/api/adapters/cam-1", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	var info AdapterInfo
	json.NewDecoder(resp2.Body).Decode(&info)
	if resp2.StatusCode != 200 || info.ID != "cam-1" {
		t.Errorf("GET /api/adapters/cam-1 = %d %+v", resp2.StatusCode, info)
	}
	resp2, err = app.Test(httptest.NewRequest("GET", "/api/adapters/nope", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp2.StatusCode != 404 {
		t.Errorf("GET /api/adapters/nope status = %d, want 404", resp2.StatusCode)
	}

	// Ending the session pushes the summary before the ack.
	ws.WriteMessage(websocket.TextMessage, encode(t)(protocol.NewSessionMessage(protocol.TypeSessionEnd, t0.Add(2*time.Second))))
	_, data, err = ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	json.Unmarshal(data, &resp)
	if resp.Type != protocol.TypeSummary {
		t.Fatalf("Type = %s, want summary", resp.Type)
	}
	sd, err := resp.GetSummaryData()
	if err != nil || sd.SessionID == "" || sd.Payload.SessionDurationSec != 2 {
		t.Errorf("summary = %+v, err %v", sd, err)
	}
	_, data, err = ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	json.Unmarshal(data, &resp)
	if resp.Type != protocol.TypeAck {
		t.Errorf("Type = %s, want ack", resp.Type)
	}

	ws.Close()
	time.Sleep(100 * time.Millisecond)
	if hub.AdapterCount() != 0 {
		t.Errorf("AdapterCount = %d, want 0 after disconnect", hub.AdapterCount())
	}
}
