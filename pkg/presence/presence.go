// Package presence detects sustained loss of the subject's face,
// independently of where the subject is looking.
package presence

import (
	"math"
	"time"

	"github.com/teslashibe/go-proctor/pkg/gaze"
)

// Defaults for face absence detection.
const (
	// MinFaceConfidence is the lowest confidence still counted as a face.
	MinFaceConfidence = 0.6

	// SustainDuration is how long the face must be gone before it is logged.
	SustainDuration = 2500 * time.Millisecond

	// Cooldown is the minimum gap between two absence events.
	Cooldown = 5000 * time.Millisecond
)

// Config holds the absence tracker parameters.
type Config struct {
	MinConfidence float64
	Sustain       time.Duration
	Cooldown      time.Duration
}

// DefaultConfig returns the production parameters.
func DefaultConfig() Config {
	return Config{
		MinConfidence: MinFaceConfidence,
		Sustain:       SustainDuration,
		Cooldown:      Cooldown,
	}
}

// Absence is a logged face-absence episode.
type Absence struct {
	At         time.Time
	Since      time.Time
	DurationMs int64
}

// Tracker follows face presence across ticks.
// It is not goroutine-safe; the session engine serializes access.
type Tracker struct {
	config Config

	// Current episode
	absent       bool
	absenceStart time.Time
	logged       bool // Episode already produced an event

	// Cooldown
	lastEmit time.Time
	hasEmit  bool

	// Stats
	consecutiveMisses int
}

// NewTracker creates a tracker with no open episode.
func NewTracker(config Config) *Tracker {
	return &Tracker{config: config}
}

// IsFaceAbsent reports whether a sample has no usable face.
// A detected face with NaN or out-of-range confidence counts as absent
// so a malformed sample cannot crash or skew the tick.
func IsFaceAbsent(m gaze.Measurement, minConfidence float64) bool {
	if !m.FaceDetected {
		return true
	}
	c := m.FaceConfidence
	if math.IsNaN(c) || c > 1 || c < minConfidence {
		return true
	}
	return false
}

// Update feeds one sample. It returns an absence at most once per
// continuous episode.
func (t *Tracker) Update(m gaze.Measurement) (Absence, bool) {
	now := m.SampledAt

	if !IsFaceAbsent(m, t.config.MinConfidence) {
		// Face is back: re-arm for the next episode.
		t.absent = false
		t.absenceStart = time.Time{}
		t.logged = false
		t.consecutiveMisses = 0
		return Absence{}, false
	}

	t.consecutiveMisses++
	if !t.absent {
		t.absent = true
		t.absenceStart = now
	}

	if t.logged {
		return Absence{}, false
	}

	elapsed := now.Sub(t.absenceStart)
	if elapsed < t.config.Sustain {
		return Absence{}, false
	}
	if t.hasEmit && now.Sub(t.lastEmit) < t.config.Cooldown {
		return Absence{}, false
	}

	t.logged = true
	t.lastEmit = now
	t.hasEmit = true

	return Absence{
		At:         now,
		Since:      t.absenceStart,
		DurationMs: elapsed.Milliseconds(),
	}, true
}

// Absent reports whether the last sample had no usable face.
func (t *Tracker) Absent() bool {
	return t.absent
}

// ConsecutiveMisses returns how many samples in a row had no usable face.
func (t *Tracker) ConsecutiveMisses() int {
	return t.consecutiveMisses
}
