// Package timequality apportions session wall-clock time into focus buckets.
package timequality

import (
	"math"
	"time"
)

// Bucket is the category a tick's elapsed time is charged to.
type Bucket int

const (
	// Focused is safe-zone time.
	Focused Bucket = iota
	// MinorMovement is time spent slightly off-center.
	MinorMovement
	// Deviation is time spent in a timed or alerted strong deviation.
	Deviation
	// Absence is time with no usable face.
	Absence
)

// String returns the bucket name.
func (b Bucket) String() string {
	switch b {
	case Focused:
		return "focused"
	case MinorMovement:
		return "minor_movement"
	case Deviation:
		return "deviation"
	case Absence:
		return "absence"
	default:
		return "unknown"
	}
}

// Snapshot is a copy of the accumulator's buckets.
// TotalMs is always the sum of the four buckets.
type Snapshot struct {
	FocusedMs       int64   `json:"focused_ms"`
	MinorMovementMs int64   `json:"minor_movement_ms"`
	DeviationMs     int64   `json:"deviation_ms"`
	AbsenceMs       int64   `json:"absence_ms"`
	TotalMs         int64   `json:"total_ms"`
	FocusRatio      float64 `json:"focus_ratio"`
}

// Accumulator charges the delta between consecutive ticks to one bucket.
// It uses wall-clock deltas, so variable tick rates are fine. Buckets are
// kept at full clock resolution and only truncated to milliseconds in
// snapshots, so sub-millisecond remainders are never lost.
// It is not goroutine-safe; the session engine serializes access.
type Accumulator struct {
	lastTick time.Time
	anchored bool

	buckets [4]time.Duration // Indexed by Bucket
}

// New creates an empty accumulator.
func New() *Accumulator {
	return &Accumulator{}
}

// Advance charges now-lastTick to bucket b and cannot fail. The first
// call only anchors the clock. A backwards tick charges nothing and keeps
// the later anchor; rejecting it is the caller's job.
func (a *Accumulator) Advance(now time.Time, b Bucket) Snapshot {
	if !a.anchored {
		a.lastTick = now
		a.anchored = true
		return a.Snapshot()
	}

	delta := now.Sub(a.lastTick)
	if delta < 0 {
		return a.Snapshot()
	}
	a.lastTick = now

	if b < Focused || b > Absence {
		b = Focused
	}
	a.buckets[b] += delta
	return a.Snapshot()
}

// Elapsed returns the total charged time at full resolution.
func (a *Accumulator) Elapsed() time.Duration {
	var d time.Duration
	for _, v := range a.buckets {
		d += v
	}
	return d
}

// Snapshot returns the current buckets in milliseconds.
func (a *Accumulator) Snapshot() Snapshot {
	s := Snapshot{
		FocusedMs:       a.buckets[Focused].Milliseconds(),
		MinorMovementMs: a.buckets[MinorMovement].Milliseconds(),
		DeviationMs:     a.buckets[Deviation].Milliseconds(),
		AbsenceMs:       a.buckets[Absence].Milliseconds(),
	}
	s.TotalMs = s.FocusedMs + s.MinorMovementMs + s.DeviationMs + s.AbsenceMs

	s.FocusRatio = FocusRatio(a.buckets[Focused]+a.buckets[MinorMovement], a.Elapsed())
	return s
}

// FocusRatio returns attentive/total clamped to [0,1] and rounded to two
// decimals. A zero total is fully focused.
func FocusRatio(attentive, total time.Duration) float64 {
	if total <= 0 {
		return 1
	}
	return Round2(Clamp01(float64(attentive) / float64(total)))
}

// Clamp01 clamps v into [0,1]. NaN becomes 1.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 1
	}
	return math.Max(0, math.Min(1, v))
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
