package session

import (
	"time"

	"github.com/teslashibe/go-proctor/pkg/events"
	"github.com/teslashibe/go-proctor/pkg/gaze"
	"github.com/teslashibe/go-proctor/pkg/objects"
	"github.com/teslashibe/go-proctor/pkg/presence"
	"github.com/teslashibe/go-proctor/pkg/timequality"
)

// state is everything owned by one session. It is created by Start and
// dropped whole at End or Reset; nothing in it is reused.
type state struct {
	id        string
	startedAt time.Time
	lastAt    time.Time // High-water mark of accepted timestamps
	lastSeq   uint64

	gaze     *gaze.Machine
	presence *presence.Tracker
	objects  *objects.Tracker
	quality  *timequality.Accumulator
	log      *events.Log

	lastClass gaze.Classification
	hasClass  bool
}

func newState(id string, now time.Time, cfg *Config) *state {
	st := &state{
		id:        id,
		startedAt: now,
		lastAt:    now,
		gaze:      gaze.NewMachine(cfg.Timing),
		presence:  presence.NewTracker(cfg.Presence),
		objects:   objects.NewTracker(cfg.Objects),
		quality:   timequality.New(),
		log:       events.NewLog(),
	}
	// Anchor time quality at session start.
	st.quality.Advance(now, timequality.Focused)
	return st
}

// applyGaze resolves absence first, then the gaze state. An absent sample
// never reaches the gaze machine.
func (st *state) applyGaze(m gaze.Measurement, c gaze.Classification) []events.Event {
	var out []events.Event

	if a, ok := st.presence.Update(m); ok {
		out = append(out, st.log.Append(events.New(events.FaceAbsent, a.At, events.Metadata{
			events.KeyDurationMs: a.DurationMs,
		})))
	}
	if st.presence.Absent() {
		st.gaze.MarkAbsent()
		return out
	}

	st.lastClass = c
	st.hasClass = true

	if a, ok := st.gaze.Update(m, c); ok {
		out = append(out, st.log.Append(events.New(events.GazeAway, a.At, events.Metadata{
			events.KeyDurationMs:   a.DurationMs,
			events.KeyYaw:          a.Yaw,
			events.KeyPitch:        a.Pitch,
			events.KeyMaxDeviation: a.MaxDeviation,
		})))
	}
	return out
}

// applyObjects admits already validated hits through the label cooldowns.
func (st *state) applyObjects(at time.Time, valid []objects.Hit) []events.Event {
	var out []events.Event
	for _, d := range st.objects.Admit(at, valid) {
		out = append(out, st.log.Append(events.New(events.ObjectDetected, d.At, events.Metadata{
			events.KeyLabel: d.Label,
			events.KeyScore: d.Score,
		})))
	}
	return out
}

func (st *state) applyTabSwitch(at time.Time) events.Event {
	return st.log.Append(events.New(events.TabSwitch, at, nil))
}

// bucket picks where the current tick's time goes.
func (st *state) bucket() timequality.Bucket {
	s := st.gaze.State()
	switch {
	case st.presence.Absent() || s == gaze.Absent:
		return timequality.Absence
	case s.IsDeviating():
		return timequality.Deviation
	case st.hasClass && st.lastClass.IsMinorMovement():
		return timequality.MinorMovement
	default:
		return timequality.Focused
	}
}

func (st *state) durationMs() int64 {
	return st.lastAt.Sub(st.startedAt).Milliseconds()
}
