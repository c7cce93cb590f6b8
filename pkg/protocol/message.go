// Package protocol defines the WebSocket messages exchanged between signal
// adapters, the proctoring engine and dashboards.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Adapter → Engine messages
	TypeSessionStart MessageType = "session_start" // Open a session
	TypeSessionEnd   MessageType = "session_end"   // Close and report
	TypeSessionReset MessageType = "session_reset" // Discard without report
	TypeGaze         MessageType = "gaze"          // Head-pose sample
	TypeObjects      MessageType = "objects"       // Object detector batch
	TypeTabSwitch    MessageType = "tab_switch"    // Browser lost focus
	TypeTick         MessageType = "tick"          // Time-quality clock

	// Engine → Adapter messages
	TypeAck   MessageType = "ack"   // Message applied
	TypeError MessageType = "error" // Message rejected

	// Engine → Dashboard messages
	TypeEvent   MessageType = "event"   // Logged behavior event
	TypeRisk    MessageType = "risk"    // Updated risk score
	TypeSummary MessageType = "summary" // Final session payload, also sent to adapters

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// Time returns the message timestamp, or the zero time if unset.
func (m *Message) Time() time.Time {
	return FromMillis(m.Timestamp)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// FromMillis converts Unix milliseconds to a time. 0 is the zero time.
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Millis converts a time to Unix milliseconds. The zero time is 0.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// =============================================================================
// Adapter → Engine Message Types
// =============================================================================

// SessionData opens or closes a session. At defaults to the message time.
type SessionData struct {
	At int64 `json:"at,omitempty"` // Unix milliseconds
}

// Angle units accepted in GazeData.
const (
	UnitsDegrees = "deg"
	UnitsRadians = "rad"
)

// GazeData is one head-pose sample from the landmark adapter.
type GazeData struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
	Units string  `json:"units,omitempty"` // "deg" (default) or "rad"

	FaceDetected   bool    `json:"face_detected"`
	FaceConfidence float64 `json:"face_confidence"` // 0.0 to 1.0
	IsCentered     bool    `json:"is_centered"`

	SampledAt int64 `json:"sampled_at,omitempty"` // Unix milliseconds
}

// BoxData is a normalized bounding box.
type BoxData struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// HitData is one object detector hit.
type HitData struct {
	Label string   `json:"label"`
	Score float64  `json:"score"`
	Box   *BoxData `json:"box,omitempty"`
}

// ObjectsData is one detector batch.
type ObjectsData struct {
	Hits []HitData `json:"hits"`
	At   int64     `json:"at,omitempty"` // Unix milliseconds
}

// TabSwitchData reports the browser losing focus.
type TabSwitchData struct {
	At int64 `json:"at,omitempty"`
}

// TickData advances the time-quality clock.
type TickData struct {
	At int64 `json:"at,omitempty"`
}

// =============================================================================
// Engine → Adapter Message Types
// =============================================================================

// AckData confirms a message was applied.
type AckData struct {
	For       MessageType `json:"for"`
	SessionID string      `json:"session_id,omitempty"`
	Token     string      `json:"token,omitempty"`
	Events    int         `json:"events"`
}

// Error codes.
const (
	CodeBadMessage  = "bad_message"
	CodeUnknownType = "unknown_type"
	CodeNoSession   = "no_session"
	CodeRejected    = "rejected"
)

// ErrorData explains a rejected message.
type ErrorData struct {
	For     MessageType `json:"for,omitempty"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

// =============================================================================
// Engine → Dashboard Message Types
// =============================================================================

// RiskData is a live risk update.
type RiskData struct {
	Score int    `json:"score"`
	Level string `json:"level"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
