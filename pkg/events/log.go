package events

import (
	"sync"

	"github.com/google/uuid"
)

// Log is the append-only, ordered event log of one session.
// Appends are serialized; insertion order is the canonical order.
// Readers get copies, so snapshots never observe a partial event.
type Log struct {
	mu     sync.RWMutex
	events []Event
	ids    map[string]struct{}
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{
		events: make([]Event, 0, 64),
		ids:    make(map[string]struct{}),
	}
}

// Append assigns an ID and sequence number and stores a frozen copy of e.
// The stored event is returned.
func (l *Log) Append(e Event) Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Generate ID if not set, and never accept a duplicate.
	if _, dup := l.ids[e.ID]; e.ID == "" || dup {
		e.ID = uuid.New().String()
	}
	if e.Severity == "" {
		e.Severity = DefaultSeverity(e.Type)
	}
	e.Metadata = e.Metadata.clone()
	e.Seq = uint64(len(l.events)) + 1

	l.events = append(l.events, e)
	l.ids[e.ID] = struct{}{}
	return e
}

// Len returns the number of events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Snapshot returns a copy of all events in insertion order.
func (l *Log) Snapshot() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Event, len(l.events))
	for i, e := range l.events {
		e.Metadata = e.Metadata.clone()
		out[i] = e
	}
	return out
}

// Since returns events with Seq greater than seq.
func (l *Log) Since(seq uint64) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if seq >= uint64(len(l.events)) {
		return nil
	}
	tail := l.events[seq:]
	out := make([]Event, len(tail))
	for i, e := range tail {
		e.Metadata = e.Metadata.clone()
		out[i] = e
	}
	return out
}

// Counts returns the number of events per type.
func (l *Log) Counts() map[Type]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	counts := make(map[Type]int, len(Types))
	for _, e := range l.events {
		counts[e.Type]++
	}
	return counts
}
