// Package session runs one monitoring session at a time: it owns the
// trackers, applies ticks in order and exposes risk and report reads.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-proctor/pkg/events"
	"github.com/teslashibe/go-proctor/pkg/gaze"
	"github.com/teslashibe/go-proctor/pkg/objects"
	"github.com/teslashibe/go-proctor/pkg/report"
	"github.com/teslashibe/go-proctor/pkg/risk"
	"github.com/teslashibe/go-proctor/pkg/timequality"
)

// Engine is the session-scoped behavioral monitor.
//
// All tracker mutation for a tick runs under one lock, so ticks apply
// strictly in arrival order. Listeners run after the lock is released.
type Engine struct {
	config     *Config
	logger     *slog.Logger
	prohibited map[string]bool // Read-only after New

	mu         sync.Mutex
	st         *state // nil when idle
	ended      *closed
	generation uint64

	seq      atomic.Uint64
	inFlight atomic.Int32

	listenersMu sync.RWMutex
	onEvent     []func(events.Event)
	onRisk      []func(risk.Output)
	onSummary   []func(string, report.Payload)

	// Stats
	ticks      atomic.Uint64
	stale      atomic.Uint64
	outOfOrder atomic.Uint64
	concurrent atomic.Uint64
	clamps     atomic.Uint64
	sessions   atomic.Uint64
}

// closed keeps the result of the last ended session for reads.
type closed struct {
	id        string
	startedAt time.Time
	events    []events.Event
	metrics   report.Metrics
	quality   timequality.Snapshot
}

// New creates an idle engine. A nil config uses DefaultConfig.
func New(cfg *Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.Apply(opts...)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Engine{
		config:     cfg,
		logger:     cfg.Logger.With("component", "session"),
		prohibited: objects.LabelSet(cfg.Objects.Prohibited),
		generation: 1,
	}, nil
}

// Config returns the engine configuration. It must not be modified.
func (e *Engine) Config() *Config {
	return e.config
}

// OnEvent registers a listener for every logged event.
func (e *Engine) OnEvent(fn func(events.Event)) {
	e.listenersMu.Lock()
	e.onEvent = append(e.onEvent, fn)
	e.listenersMu.Unlock()
}

// OnRisk registers a listener called with the updated risk after a tick
// that logged events.
func (e *Engine) OnRisk(fn func(risk.Output)) {
	e.listenersMu.Lock()
	e.onRisk = append(e.onRisk, fn)
	e.listenersMu.Unlock()
}

// OnSummary registers a listener called with the final payload at End.
func (e *Engine) OnSummary(fn func(sessionID string, p report.Payload)) {
	e.listenersMu.Lock()
	e.onSummary = append(e.onSummary, fn)
	e.listenersMu.Unlock()
}

// Generation returns the current session generation.
func (e *Engine) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}

// NextToken issues a token for the current generation.
func (e *Engine) NextToken() TickToken {
	e.mu.Lock()
	gen := e.generation
	e.mu.Unlock()
	return TickToken{Generation: gen, Seq: e.seq.Add(1)}
}

// Start opens a session at now and returns its id.
func (e *Engine) Start(now time.Time) (string, error) {
	e.mu.Lock()
	if e.st != nil {
		id := e.st.id
		e.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrSessionActive, id)
	}
	e.generation++
	id := uuid.New().String()
	e.st = newState(id, now, e.config)
	e.ended = nil
	gen := e.generation
	e.mu.Unlock()

	e.sessions.Add(1)
	e.logger.Info("session started", "session", id, "generation", gen)
	return id, nil
}

// End closes the session at now and returns its payload. Ticks still
// queued with the old generation are dropped.
func (e *Engine) End(now time.Time) (report.Payload, error) {
	e.mu.Lock()
	st := e.st
	if st == nil {
		e.mu.Unlock()
		return report.Payload{}, ErrNoSession
	}
	at, err := e.advanceClock(st, now)
	if err != nil {
		e.mu.Unlock()
		return report.Payload{}, err
	}
	st.quality.Advance(at, st.bucket())

	// Bump first so nothing can apply to the discarded state.
	e.generation++
	e.st = nil

	snap := st.log.Snapshot()
	q := st.quality.Snapshot()
	m := report.Aggregate(snap, st.durationMs(), q.FocusRatio)
	e.ended = &closed{
		id:        st.id,
		startedAt: st.startedAt,
		events:    snap,
		metrics:   m,
		quality:   q,
	}
	e.mu.Unlock()

	p := m.Payload()
	e.logger.Info("session ended",
		"session", st.id,
		"duration_sec", p.SessionDurationSec,
		"events", len(snap),
		"focus_ratio", p.FocusRatio,
		"risk", p.RiskScore,
		"level", m.Risk.Level,
	)

	e.listenersMu.RLock()
	listeners := e.onSummary
	e.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(st.id, p)
	}
	return p, nil
}

// Reset discards the session, if any, along with the last result. The
// engine is left idle.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.generation++
	var id string
	if e.st != nil {
		id = e.st.id
	}
	e.st = nil
	e.ended = nil
	gen := e.generation
	e.mu.Unlock()

	e.logger.Info("session reset", "session", id, "generation", gen)
}

// OnGazeMeasurement applies one head-pose sample. Absence is resolved
// before the gaze state, so it returns at most one event per kind.
func (e *Engine) OnGazeMeasurement(tok TickToken, m gaze.Measurement) ([]events.Event, error) {
	c := gaze.Classify(m, e.config.Thresholds)
	return e.tick(tok, "gaze", func(st *state) ([]events.Event, error) {
		at, err := e.advanceClock(st, m.SampledAt)
		if err != nil {
			return nil, err
		}
		m.SampledAt = at
		return st.applyGaze(m, c), nil
	})
}

// OnObjectDetectionBatch re-validates hits and applies per-label cooldowns.
func (e *Engine) OnObjectDetectionBatch(tok TickToken, at time.Time, hits []objects.Hit) ([]events.Event, error) {
	valid := objects.Filter(hits, e.config.Objects.MinScore, e.prohibited)
	return e.tick(tok, "objects", func(st *state) ([]events.Event, error) {
		at, err := e.advanceClock(st, at)
		if err != nil {
			return nil, err
		}
		return st.applyObjects(at, valid), nil
	})
}

// OnTabSwitch logs a tab switch reported by the browser adapter.
func (e *Engine) OnTabSwitch(tok TickToken, at time.Time) (events.Event, error) {
	evs, err := e.tick(tok, "tab_switch", func(st *state) ([]events.Event, error) {
		at, err := e.advanceClock(st, at)
		if err != nil {
			return nil, err
		}
		return []events.Event{st.applyTabSwitch(at)}, nil
	})
	if err != nil {
		return events.Event{}, err
	}
	return evs[0], nil
}

// OnTick charges the time since the previous tick to the current bucket.
func (e *Engine) OnTick(tok TickToken, now time.Time) (timequality.Snapshot, error) {
	var snap timequality.Snapshot
	_, err := e.tick(tok, "tick", func(st *state) ([]events.Event, error) {
		at, err := e.advanceClock(st, now)
		if err != nil {
			return nil, err
		}
		snap = st.quality.Advance(at, st.bucket())
		return nil, nil
	})
	return snap, err
}

// tick admits tok and runs fn under the state lock. fn must either fail
// before mutating state or succeed; the token's sequence is only recorded
// once fn has succeeded.
func (e *Engine) tick(tok TickToken, source string, fn func(*state) ([]events.Event, error)) ([]events.Event, error) {
	if e.inFlight.Add(1) > 1 {
		e.concurrent.Add(1)
		if e.config.Strict {
			e.inFlight.Add(-1)
			return nil, fmt.Errorf("%w: %s %s", ErrConcurrentTick, source, tok)
		}
		e.clamps.Add(1)
		e.logger.Warn("concurrent tick serialized", "source", source, "token", tok.String())
	}
	defer e.inFlight.Add(-1)

	e.mu.Lock()
	st, err := e.admit(tok, source)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	evs, err := fn(st)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	st.lastSeq = tok.Seq
	e.ticks.Add(1)

	var r risk.Output
	if len(evs) > 0 {
		r = risk.Score(report.BuildRiskInput(st.log.Snapshot(), st.durationMs()))
	}
	e.mu.Unlock()

	for _, ev := range evs {
		e.logger.Info("event",
			"session", st.id,
			"type", ev.Type,
			"severity", ev.Severity,
			"seq", ev.Seq,
		)
	}
	e.logger.Debug("tick applied", "source", source, "token", tok.String(), "events", len(evs))

	if len(evs) > 0 {
		e.notify(evs, r)
	}
	return evs, nil
}

// admit checks a token against the current session. Caller holds e.mu.
func (e *Engine) admit(tok TickToken, source string) (*state, error) {
	if e.st == nil || tok.Generation != e.generation {
		e.stale.Add(1)
		e.logger.Warn("stale tick dropped", "source", source, "token", tok.String(), "generation", e.generation)
		if e.st == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoSession, tok)
		}
		return nil, fmt.Errorf("%w: %s", ErrStaleTick, tok)
	}
	if tok.Seq < e.st.lastSeq {
		e.outOfOrder.Add(1)
		e.logger.Warn("out of order tick dropped", "source", source, "token", tok.String(), "last_seq", e.st.lastSeq)
		return nil, fmt.Errorf("%w: %s after seq %d", ErrTickOutOfOrder, tok, e.st.lastSeq)
	}
	return e.st, nil
}

// advanceClock accepts at as the session's latest time. A zero time reads
// as the latest accepted time. Outside strict mode a backwards timestamp
// is clamped to the latest one. Caller holds e.mu.
func (e *Engine) advanceClock(st *state, at time.Time) (time.Time, error) {
	if at.IsZero() {
		return st.lastAt, nil
	}
	if at.Before(st.lastAt) {
		if e.config.Strict {
			return time.Time{}, fmt.Errorf("%w: %s is %s before %s", ErrNonMonotonic,
				at.Format(time.RFC3339Nano), st.lastAt.Sub(at), st.lastAt.Format(time.RFC3339Nano))
		}
		e.clamps.Add(1)
		e.logger.Warn("non-monotonic timestamp clamped", "session", st.id, "behind", st.lastAt.Sub(at))
		return st.lastAt, nil
	}
	st.lastAt = at
	return at, nil
}

func (e *Engine) notify(evs []events.Event, r risk.Output) {
	e.listenersMu.RLock()
	onEvent, onRisk := e.onEvent, e.onRisk
	e.listenersMu.RUnlock()

	for _, ev := range evs {
		for _, fn := range onEvent {
			fn(ev)
		}
	}
	for _, fn := range onRisk {
		fn(r)
	}
}
