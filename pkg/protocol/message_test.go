package protocol

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/teslashibe/go-proctor/pkg/events"
	"github.com/teslashibe/go-proctor/pkg/gaze"
	"github.com/teslashibe/go-proctor/pkg/objects"
	"github.com/teslashibe/go-proctor/pkg/report"
	"github.com/teslashibe/go-proctor/pkg/risk"
)

var t0 = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    interface{}
		wantErr bool
	}{
		{
			name:    "gaze message",
			msgType: TypeGaze,
			data:    GazeData{Yaw: 12, FaceDetected: true, FaceConfidence: 0.9},
		},
		{
			name:    "tick message",
			msgType: TypeTick,
			data:    TickData{At: 1000},
		},
		{
			name:    "nil data",
			msgType: TypePing,
			data:    nil,
		},
		{
			name:    "unmarshalable data",
			msgType: TypeGaze,
			data:    math.NaN(),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if msg.Type != tt.msgType {
				t.Errorf("NewMessage() type = %v, want %v", msg.Type, tt.msgType)
			}
			if msg.Timestamp == 0 {
				t.Error("NewMessage() timestamp should be set")
			}
		})
	}
}

func TestGazeMessage(t *testing.T) {
	m := gaze.Measurement{
		Yaw:            31,
		Pitch:          -4,
		FaceDetected:   true,
		FaceConfidence: 0.92,
		IsCentered:     true,
		SampledAt:      t0,
	}

	msg, err := NewGazeMessage(m)
	if err != nil {
		t.Fatalf("NewGazeMessage() error = %v", err)
	}

	bytes, err := msg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	parsed, err := ParseMessage(bytes)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if parsed.Type != TypeGaze {
		t.Fatalf("Type = %v, want %v", parsed.Type, TypeGaze)
	}

	data, err := parsed.GetGazeData()
	if err != nil {
		t.Fatalf("GetGazeData() error = %v", err)
	}
	got := data.Measurement(time.Time{})
	if !got.SampledAt.Equal(m.SampledAt) {
		t.Errorf("SampledAt = %v, want %v", got.SampledAt, m.SampledAt)
	}
	got.SampledAt = m.SampledAt
	if got != m {
		t.Errorf("Measurement() = %+v, want %+v", got, m)
	}
}

func TestGazeData_Radians(t *testing.T) {
	g := GazeData{Yaw: gaze.Radians(30), Pitch: gaze.Radians(-10), Units: UnitsRadians, FaceDetected: true}
	m := g.Measurement(t0)

	if math.Abs(m.Yaw-30) > 1e-9 || math.Abs(m.Pitch+10) > 1e-9 {
		t.Errorf("angles = (%.4f, %.4f), want (30, -10)", m.Yaw, m.Pitch)
	}
	if !m.SampledAt.Equal(t0) {
		t.Errorf("SampledAt = %v, want fallback %v", m.SampledAt, t0)
	}
}

func TestObjectsMessage(t *testing.T) {
	hits := []objects.Hit{
		{Label: "cell phone", Score: 0.91, Box: objects.BoundingBox{X: 0.1, Y: 0.2, W: 0.3, H: 0.4}},
		{Label: "book", Score: 0.7},
	}

	msg, err := NewObjectsMessage(t0, hits)
	if err != nil {
		t.Fatalf("NewObjectsMessage() error = %v", err)
	}

	data, err := msg.GetObjectsData()
	if err != nil {
		t.Fatalf("GetObjectsData() error = %v", err)
	}
	if !FromMillis(data.At).Equal(t0) {
		t.Errorf("At = %v, want %v", FromMillis(data.At), t0)
	}

	got := data.ObjectHits()
	if len(got) != 2 {
		t.Fatalf("hits = %d, want 2", len(got))
	}
	if got[0] != hits[0] {
		t.Errorf("hit[0] = %+v, want %+v", got[0], hits[0])
	}
}

func TestObjectsData_MissingBox(t *testing.T) {
	var data ObjectsData
	if err := json.Unmarshal([]byte(`{"hits":[{"label":"book","score":0.8}]}`), &data); err != nil {
		t.Fatal(err)
	}
	hits := data.ObjectHits()
	if hits[0].Box != (objects.BoundingBox{}) {
		t.Errorf("Box = %+v, want zero", hits[0].Box)
	}
}

func TestDashboardMessages(t *testing.T) {
	ev := events.Event{ID: "e1", Seq: 1, Type: events.GazeAway, Severity: events.SeverityWarning, Timestamp: t0}
	msg, err := NewEventMessage(ev)
	if err != nil {
		t.Fatalf("NewEventMessage() error = %v", err)
	}
	gotEv, err := msg.GetEvent()
	if err != nil {
		t.Fatalf("GetEvent() error = %v", err)
	}
	if gotEv.Type != events.GazeAway || gotEv.Seq != 1 {
		t.Errorf("event = %+v", gotEv)
	}

	msg, err = NewRiskMessage(risk.Output{Score: 42, Level: risk.Medium})
	if err != nil {
		t.Fatalf("NewRiskMessage() error = %v", err)
	}
	r, err := msg.GetRiskData()
	if err != nil {
		t.Fatalf("GetRiskData() error = %v", err)
	}
	if r.Score != 42 || r.Level != "MEDIUM" {
		t.Errorf("risk = %+v", r)
	}

	msg, err = NewSummaryMessage("s1", report.Payload{SessionDurationSec: 120, RiskScore: 29})
	if err != nil {
		t.Fatalf("NewSummaryMessage() error = %v", err)
	}
	s, err := msg.GetSummaryData()
	if err != nil {
		t.Fatalf("GetSummaryData() error = %v", err)
	}
	if s.SessionID != "s1" || s.Payload.RiskScore != 29 {
		t.Errorf("summary = %+v", s)
	}
}

func TestErrorMessage(t *testing.T) {
	msg, err := NewErrorMessage(TypeGaze, CodeNoSession, "no active session")
	if err != nil {
		t.Fatalf("NewErrorMessage() error = %v", err)
	}
	data, err := msg.GetErrorData()
	if err != nil {
		t.Fatalf("GetErrorData() error = %v", err)
	}
	if data.For != TypeGaze || data.Code != CodeNoSession {
		t.Errorf("error data = %+v", data)
	}
}

func TestPingPongMessage(t *testing.T) {
	pingMsg, err := NewPingMessage("test-123")
	if err != nil {
		t.Fatalf("NewPingMessage() error = %v", err)
	}

	pingData, err := pingMsg.GetPingData()
	if err != nil {
		t.Fatalf("GetPingData() error = %v", err)
	}
	if pingData.ID != "test-123" {
		t.Errorf("ID = %v, want test-123", pingData.ID)
	}

	now := time.Now().UnixMilli()
	pongMsg, err := NewPongMessage("test-123", pingData.Timestamp, now)
	if err != nil {
		t.Fatalf("NewPongMessage() error = %v", err)
	}

	pongData, err := pongMsg.GetPongData()
	if err != nil {
		t.Fatalf("GetPongData() error = %v", err)
	}
	if pongData.ID != "test-123" {
		t.Errorf("ID = %v, want test-123", pongData.ID)
	}
	if pongData.LatencyMs < 0 {
		t.Errorf("LatencyMs = %v, should be >= 0", pongData.LatencyMs)
	}
}

func TestParseInvalidMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"invalid json", "not json", true},
		{"missing type", "{}", true},
		{"valid message", `{"type":"ping","ts":1234567890}`, false},
		{"unknown type still parses", `{"type":"frame"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessage([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMillis(t *testing.T) {
	if Millis(time.Time{}) != 0 {
		t.Error("zero time should be 0")
	}
	if !FromMillis(0).IsZero() {
		t.Error("0 should be the zero time")
	}
	if !FromMillis(Millis(t0)).Equal(t0) {
		t.Error("millisecond round trip failed")
	}
	if got := At(0, t0); !got.Equal(t0) {
		t.Errorf("At(0) = %v, want fallback", got)
	}
}

func TestMessageJSON(t *testing.T) {
	msg, _ := NewTabSwitchMessage(t0)
	bytes, _ := msg.Bytes()

	var parsed map[string]interface{}
	if err := json.Unmarshal(bytes, &parsed); err != nil {
		t.Fatalf("Failed to unmarshal as map: %v", err)
	}

	if parsed["type"] != "tab_switch" {
		t.Errorf("type = %v, want tab_switch", parsed["type"])
	}
	if _, ok := parsed["ts"]; !ok {
		t.Error("ts field should be present")
	}
	if _, ok := parsed["data"]; !ok {
		t.Error("data field should be present")
	}
}

func BenchmarkParseMessage(b *testing.B) {
	msg, _ := NewGazeMessage(gaze.Measurement{Yaw: 10, FaceDetected: true, FaceConfidence: 0.9, SampledAt: t0})
	bytes, _ := msg.Bytes()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ParseMessage(bytes)
	}
}
