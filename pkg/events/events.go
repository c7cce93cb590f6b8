// Package events defines session events and the append-only session log.
package events

import (
	"encoding/json"
	"math"
	"time"
)

// Type identifies the behavior an event reports.
type Type string

const (
	GazeAway       Type = "GAZE_AWAY"
	FaceAbsent     Type = "FACE_ABSENT"
	ObjectDetected Type = "OBJECT_DETECTED"
	TabSwitch      Type = "TAB_SWITCH"
)

// Types lists every event type in report order.
var Types = []Type{GazeAway, FaceAbsent, ObjectDetected, TabSwitch}

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	switch t {
	case GazeAway, FaceAbsent, ObjectDetected, TabSwitch:
		return true
	}
	return false
}

// Severity grades an event for display.
type Severity string

const (
	SeverityNormal     Severity = "normal"
	SeverityWarning    Severity = "warning"
	SeveritySuspicious Severity = "suspicious"
)

// DefaultSeverity returns the severity used when an event is raised.
func DefaultSeverity(t Type) Severity {
	switch t {
	case ObjectDetected:
		return SeveritySuspicious
	case GazeAway, FaceAbsent, TabSwitch:
		return SeverityWarning
	default:
		return SeverityNormal
	}
}

// Metadata keys.
const (
	KeyDurationMs   = "durationMs"
	KeyYaw          = "yaw"
	KeyPitch        = "pitch"
	KeyMaxDeviation = "maxDeviation"
	KeyLabel        = "label"
	KeyScore        = "score"
)

// Metadata carries type-specific event details.
type Metadata map[string]any

// clone returns a shallow copy so a logged event cannot be changed
// through the caller's map.
func (m Metadata) clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// DurationMs reads the duration key, tolerating the numeric types that
// show up after a JSON round trip. Missing or invalid values are 0.
func (m Metadata) DurationMs() int64 {
	return m.Int(KeyDurationMs)
}

// Int reads an integer-valued key. Missing, negative or non-numeric
// values read as 0.
func (m Metadata) Int(key string) int64 {
	var v int64
	switch x := m[key].(type) {
	case int:
		v = int64(x)
	case int32:
		v = int64(x)
	case int64:
		v = x
	case uint64:
		if x > math.MaxInt64 {
			return 0
		}
		v = int64(x)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0
		}
		v = int64(math.Round(x))
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0
		}
		v = int64(math.Round(f))
	default:
		return 0
	}
	if v < 0 {
		return 0
	}
	return v
}

// String reads a string-valued key.
func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Event is one logged behavior. Events are immutable once appended.
type Event struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"` // 1-based insertion index
	Type      Type      `json:"type"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  Metadata  `json:"metadata,omitempty"`
}

// New builds an unlogged event with the default severity.
func New(t Type, at time.Time, meta Metadata) Event {
	return Event{
		Type:      t,
		Severity:  DefaultSeverity(t),
		Timestamp: at,
		Metadata:  meta,
	}
}
