package session

import "errors"

// Sentinel errors for tick and lifecycle contract violations.
var (
	// ErrNoSession is returned when a tick arrives while no session is active.
	ErrNoSession = errors.New("session: no active session")

	// ErrSessionActive is returned by Start while a session is running.
	ErrSessionActive = errors.New("session: session already active")

	// ErrStaleTick is returned for a token from a torn-down session.
	// The tick is dropped.
	ErrStaleTick = errors.New("session: stale tick")

	// ErrTickOutOfOrder is returned when a token's sequence is older than
	// one already applied. The tick is dropped.
	ErrTickOutOfOrder = errors.New("session: tick out of order")

	// ErrConcurrentTick is returned in strict mode when a tick starts while
	// another is in flight.
	ErrConcurrentTick = errors.New("session: concurrent tick")

	// ErrNonMonotonic is returned in strict mode when a timestamp goes
	// back in time.
	ErrNonMonotonic = errors.New("session: non-monotonic timestamp")

	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("session: invalid config")
)
