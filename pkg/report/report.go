// Package report projects the session event log into metrics and the
// compressed payload handed to the narrative report generator.
//
// Every function here is a pure read over an event snapshot and is total:
// an empty or nil log yields zero counts, a focus ratio of 1 and a LOW risk.
package report

import (
	"math"
	"time"

	"github.com/teslashibe/go-proctor/pkg/events"
	"github.com/teslashibe/go-proctor/pkg/risk"
	"github.com/teslashibe/go-proctor/pkg/timequality"
)

// CountByType returns how many events have type t.
func CountByType(evs []events.Event, t events.Type) int {
	n := 0
	for _, e := range evs {
		if e.Type == t {
			n++
		}
	}
	return n
}

// LongestDuration returns the largest durationMs among events of type t,
// or 0 if there are none.
func LongestDuration(evs []events.Event, t events.Type) int64 {
	var longest int64
	for _, e := range evs {
		if e.Type != t {
			continue
		}
		if d := e.Metadata.DurationMs(); d > longest {
			longest = d
		}
	}
	return longest
}

// BuildRiskInput counts events per risk category.
func BuildRiskInput(evs []events.Event, sessionDurationMs int64) risk.Input {
	in := risk.Input{SessionDurationMs: max(sessionDurationMs, 0)}
	for _, e := range evs {
		switch e.Type {
		case events.GazeAway:
			in.GazeDeviationCount++
		case events.FaceAbsent:
			in.FaceAbsenceCount++
		case events.ObjectDetected:
			in.ObjectDetectionCount++
		case events.TabSwitch:
			in.TabSwitchCount++
		}
	}
	return in
}

// Metrics is the full aggregated view of a session.
type Metrics struct {
	SessionDurationMs   int64          `json:"sessionDurationMs"`
	FocusRatio          float64        `json:"focusRatio"`
	Counts              map[string]int `json:"counts"`
	GazeIncidents       int            `json:"gazeIncidents"`
	FaceAbsenceEvents   int            `json:"faceAbsenceEvents"`
	ObjectIncidents     int            `json:"objectIncidents"`
	TabSwitches         int            `json:"tabSwitches"`
	LongestGazeAwayMs   int64          `json:"longestGazeAwayMs"`
	LongestFaceAbsentMs int64          `json:"longestFaceAbsentMs"`
	Risk                risk.Breakdown `json:"risk"`
}

// Aggregate builds Metrics. A NaN or out-of-range focus ratio is clamped
// into [0,1], NaN reading as 1.
func Aggregate(evs []events.Event, sessionDurationMs int64, focusRatio float64) Metrics {
	in := BuildRiskInput(evs, sessionDurationMs)

	counts := make(map[string]int, len(events.Types))
	for _, t := range events.Types {
		counts[string(t)] = 0
	}
	for _, e := range evs {
		counts[string(e.Type)]++
	}

	return Metrics{
		SessionDurationMs:   in.SessionDurationMs,
		FocusRatio:          timequality.Round2(timequality.Clamp01(focusRatio)),
		Counts:              counts,
		GazeIncidents:       in.GazeDeviationCount,
		FaceAbsenceEvents:   in.FaceAbsenceCount,
		ObjectIncidents:     in.ObjectDetectionCount,
		TabSwitches:         in.TabSwitchCount,
		LongestGazeAwayMs:   LongestDuration(evs, events.GazeAway),
		LongestFaceAbsentMs: LongestDuration(evs, events.FaceAbsent),
		Risk:                risk.Explain(in),
	}
}

// Payload is the compressed numeric summary sent to the report generator.
type Payload struct {
	SessionDurationSec int64   `json:"sessionDurationSec"`
	FocusRatio         float64 `json:"focusRatio"`
	GazeIncidents      int     `json:"gazeIncidents"`
	LongestGazeAwaySec int64   `json:"longestGazeAwaySec"`
	FaceAbsenceEvents  int     `json:"faceAbsenceEvents"`
	ObjectIncidents    int     `json:"objectIncidents"`
	TabSwitches        int     `json:"tabSwitches"`
	RiskScore          int     `json:"riskScore"`
}

// BuildPayload builds the compressed payload.
func BuildPayload(evs []events.Event, sessionDurationMs int64, focusRatio float64) Payload {
	return Aggregate(evs, sessionDurationMs, focusRatio).Payload()
}

// Payload compresses m. Durations are converted to whole seconds, rounding
// half up.
func (m Metrics) Payload() Payload {
	return Payload{
		SessionDurationSec: Seconds(m.SessionDurationMs),
		FocusRatio:         m.FocusRatio,
		GazeIncidents:      m.GazeIncidents,
		LongestGazeAwaySec: Seconds(m.LongestGazeAwayMs),
		FaceAbsenceEvents:  m.FaceAbsenceEvents,
		ObjectIncidents:    m.ObjectIncidents,
		TabSwitches:        m.TabSwitches,
		RiskScore:          m.Risk.Score,
	}
}

// Seconds converts milliseconds to whole seconds, rounding half up.
// Negative input is 0.
func Seconds(ms int64) int64 {
	if ms <= 0 {
		return 0
	}
	return int64(math.Floor(float64(ms)/1000 + 0.5))
}

// TimelineEntry places one event relative to the first event.
type TimelineEntry struct {
	Seq        uint64          `json:"seq"`
	Type       events.Type     `json:"type"`
	Severity   events.Severity `json:"severity"`
	OffsetMs   int64           `json:"offsetMs"`
	DurationMs int64           `json:"durationMs,omitempty"`
	Label      string          `json:"label,omitempty"`
}

// Timeline lists events with offsets from start. A zero start uses the
// first event's timestamp.
func Timeline(evs []events.Event, start time.Time) []TimelineEntry {
	out := make([]TimelineEntry, 0, len(evs))
	if len(evs) == 0 {
		return out
	}
	if start.IsZero() {
		start = evs[0].Timestamp
	}
	for _, e := range evs {
		out = append(out, TimelineEntry{
			Seq:        e.Seq,
			Type:       e.Type,
			Severity:   e.Severity,
			OffsetMs:   max(e.Timestamp.Sub(start).Milliseconds(), 0),
			DurationMs: e.Metadata.DurationMs(),
			Label:      e.Metadata.String(events.KeyLabel),
		})
	}
	return out
}
