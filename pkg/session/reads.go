package session

import (
	"time"

	"github.com/teslashibe/go-proctor/pkg/events"
	"github.com/teslashibe/go-proctor/pkg/gaze"
	"github.com/teslashibe/go-proctor/pkg/report"
	"github.com/teslashibe/go-proctor/pkg/risk"
	"github.com/teslashibe/go-proctor/pkg/timequality"
)

// view is a consistent read of the session taken under e.mu.
// The event log is snapshotted after the lock is released.
type view struct {
	st         *state
	ended      *closed
	durationMs int64
	quality    timequality.Snapshot
}

func (e *Engine) view() view {
	e.mu.Lock()
	defer e.mu.Unlock()

	v := view{st: e.st, ended: e.ended}
	switch {
	case e.st != nil:
		v.durationMs = e.st.durationMs()
		v.quality = e.st.quality.Snapshot()
	case e.ended != nil:
		v.durationMs = e.ended.metrics.SessionDurationMs
		v.quality = e.ended.quality
	default:
		v.quality = timequality.New().Snapshot()
	}
	return v
}

func (v view) events() []events.Event {
	switch {
	case v.st != nil:
		return v.st.log.Snapshot()
	case v.ended != nil:
		out := make([]events.Event, len(v.ended.events))
		copy(out, v.ended.events)
		return out
	default:
		return []events.Event{}
	}
}

// Events returns the ordered event log of the active session, or of the
// last ended one.
func (e *Engine) Events() []events.Event {
	return e.view().events()
}

// EventsSince returns the events with a sequence number above seq, from
// the active session or the last ended one.
func (e *Engine) EventsSince(seq uint64) []events.Event {
	v := e.view()
	if v.st != nil {
		return v.st.log.Since(seq)
	}
	all := v.events()
	if seq >= uint64(len(all)) {
		return nil
	}
	return all[seq:]
}

// Metrics aggregates the active or last ended session.
func (e *Engine) Metrics() report.Metrics {
	v := e.view()
	return report.Aggregate(v.events(), v.durationMs, v.quality.FocusRatio)
}

// Summary returns the compressed payload for the active or last ended
// session.
func (e *Engine) Summary() report.Payload {
	return e.Metrics().Payload()
}

// CurrentRisk scores the current event log.
func (e *Engine) CurrentRisk() risk.Output {
	v := e.view()
	return risk.Score(report.BuildRiskInput(v.events(), v.durationMs))
}

// Timeline lists events relative to session start.
func (e *Engine) Timeline() []report.TimelineEntry {
	v := e.view()
	var start time.Time
	switch {
	case v.st != nil:
		start = v.st.startedAt
	case v.ended != nil:
		start = v.ended.startedAt
	}
	return report.Timeline(v.events(), start)
}

// Status is a point-in-time view of the engine.
type Status struct {
	Active             bool                 `json:"active"`
	SessionID          string               `json:"session_id,omitempty"`
	StartedAt          time.Time            `json:"started_at,omitempty"`
	Generation         uint64               `json:"generation"`
	GazeState          gaze.State           `json:"gaze_state"`
	FaceAbsent         bool                 `json:"face_absent"`
	LastClassification *gaze.Classification `json:"last_classification,omitempty"`
	DeviationSince     *time.Time           `json:"deviation_since,omitempty"`
	ConsecutiveMisses  int                  `json:"consecutive_misses"`
	ObjectLabels       int                  `json:"object_labels"`
	Events             int                  `json:"events"`
	EventCounts        map[events.Type]int  `json:"event_counts,omitempty"`
	Quality            timequality.Snapshot `json:"quality"`
}

// State returns the current status.
func (e *Engine) State() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Status{Generation: e.generation, GazeState: gaze.Normal}
	st := e.st
	if st == nil {
		if e.ended != nil {
			s.SessionID = e.ended.id
			s.StartedAt = e.ended.startedAt
			s.Events = len(e.ended.events)
			s.Quality = e.ended.quality
		} else {
			s.Quality = timequality.New().Snapshot()
		}
		return s
	}

	s.Active = true
	s.SessionID = st.id
	s.StartedAt = st.startedAt
	s.GazeState = st.gaze.State()
	s.FaceAbsent = st.presence.Absent()
	if st.hasClass {
		c := st.lastClass
		s.LastClassification = &c
	}
	if since, ok := st.gaze.DeviationStart(); ok {
		s.DeviationSince = &since
	}
	s.ConsecutiveMisses = st.presence.ConsecutiveMisses()
	s.ObjectLabels = st.objects.Labels()
	s.Events = st.log.Len()
	s.EventCounts = st.log.Counts()
	s.Quality = st.quality.Snapshot()
	return s
}

// Stats holds engine counters. They survive session boundaries.
type Stats struct {
	Sessions        uint64 `json:"sessions"`
	Ticks           uint64 `json:"ticks"`
	StaleTicks      uint64 `json:"stale_ticks"`
	OutOfOrderTicks uint64 `json:"out_of_order_ticks"`
	ConcurrentTicks uint64 `json:"concurrent_ticks"`
	Clamps          uint64 `json:"clamps"`
}

// Stats returns the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Sessions:        e.sessions.Load(),
		Ticks:           e.ticks.Load(),
		StaleTicks:      e.stale.Load(),
		OutOfOrderTicks: e.outOfOrder.Load(),
		ConcurrentTicks: e.concurrent.Load(),
		Clamps:          e.clamps.Load(),
	}
}
