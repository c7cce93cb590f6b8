package objects

import (
	"time"
)

// Cooldown is the minimum gap between two events for the same label.
const Cooldown = 5000 * time.Millisecond

// Config holds the object tracker parameters.
type Config struct {
	MinScore   float64
	Prohibited []string
	Cooldown   time.Duration
}

// DefaultConfig returns the production parameters.
func DefaultConfig() Config {
	labels := make([]string, len(DefaultProhibited))
	copy(labels, DefaultProhibited)
	return Config{
		MinScore:   MinScore,
		Prohibited: labels,
		Cooldown:   Cooldown,
	}
}

// Detection is a hit that survived validation and cooldown.
type Detection struct {
	At    time.Time
	Label string
	Score float64
	Box   BoundingBox
}

// Tracker keeps the per-label cooldown registry.
// Entries live as long as the tracker. It is not goroutine-safe.
type Tracker struct {
	config      Config
	lastEmitted map[string]time.Time
}

// NewTracker creates a tracker with an empty registry.
func NewTracker(config Config) *Tracker {
	return &Tracker{
		config:      config,
		lastEmitted: make(map[string]time.Time),
	}
}

// Admit applies the cooldown to hits that were already validated.
func (t *Tracker) Admit(at time.Time, valid []Hit) []Detection {
	var out []Detection
	for _, h := range valid {
		if last, ok := t.lastEmitted[h.Label]; ok && at.Sub(last) < t.config.Cooldown {
			continue
		}
		t.lastEmitted[h.Label] = at
		out = append(out, Detection{
			At:    at,
			Label: h.Label,
			Score: h.Score,
			Box:   h.Box,
		})
	}
	return out
}

// Labels returns how many labels are in the registry.
func (t *Tracker) Labels() int {
	return len(t.lastEmitted)
}
