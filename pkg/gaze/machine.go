package gaze

import (
	"fmt"
	"time"
)

// State is the position of the gaze state machine.
type State int

const (
	// Normal means the subject is looking at the screen (or only moving slightly).
	Normal State = iota
	// MonitoringDeviation means a strong deviation started and is being timed.
	MonitoringDeviation
	// AlertActive means the current episode has already raised an alert.
	AlertActive
	// Absent means no usable face this tick. Set only by the absence path.
	Absent
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case Normal:
		return "normal"
	case MonitoringDeviation:
		return "monitoring_deviation"
	case AlertActive:
		return "alert_active"
	case Absent:
		return "absent"
	default:
		return "unknown"
	}
}

// MarshalText lets State encode as its name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for _, v := range []State{Normal, MonitoringDeviation, AlertActive, Absent} {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("gaze: unknown state %q", text)
}

// IsDeviating reports whether the state counts as deviation time.
func (s State) IsDeviating() bool {
	return s == MonitoringDeviation || s == AlertActive
}

// Timing holds the sustain and cooldown durations of the machine.
type Timing struct {
	Sustain         time.Duration
	CenteredSustain time.Duration
	Cooldown        time.Duration
}

// DefaultTiming returns the production durations.
func DefaultTiming() Timing {
	return Timing{
		Sustain:         SustainDuration,
		CenteredSustain: CenteredSustainDuration,
		Cooldown:        Cooldown,
	}
}

// Alert describes a sustained look-away that crossed the sustain threshold.
type Alert struct {
	At           time.Time
	DurationMs   int64
	Yaw          float64
	Pitch        float64
	MaxDeviation float64 // Largest max(|yaw|, |pitch|) seen in the episode
}

// Machine tracks sustained strong deviation across ticks.
// It is not goroutine-safe; the session engine serializes access.
type Machine struct {
	timing Timing
	state  State

	// Current episode
	deviationStart time.Time
	inEpisode      bool // deviationStart is set
	maxDeviation   float64

	// Cooldown
	lastAlert  time.Time
	hasAlerted bool
}

// NewMachine creates a machine in the Normal state.
func NewMachine(timing Timing) *Machine {
	return &Machine{timing: timing}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// DeviationStart returns when the current episode began, if one is running.
func (m *Machine) DeviationStart() (time.Time, bool) {
	return m.deviationStart, m.inEpisode
}

// Update advances the machine with a face-present sample and its
// classification. It returns an alert at most once per episode.
func (m *Machine) Update(s Measurement, c Classification) (Alert, bool) {
	// Safe zone and minor movement both collapse to Normal and drop the
	// timer, even mid-alert.
	if !c.IsStrongDeviation {
		m.toNormal()
		return Alert{}, false
	}

	now := s.SampledAt

	switch m.state {
	case AlertActive:
		if d := deviation(s); d > m.maxDeviation {
			m.maxDeviation = d
		}
		return Alert{}, false
	case Normal, Absent:
		m.state = MonitoringDeviation
		m.deviationStart = now
		m.inEpisode = true
		m.maxDeviation = 0
	}

	if d := deviation(s); d > m.maxDeviation {
		m.maxDeviation = d
	}

	sustained := now.Sub(m.deviationStart)
	if sustained < m.requiredSustain(s.IsCentered) {
		return Alert{}, false
	}
	if m.hasAlerted && now.Sub(m.lastAlert) < m.timing.Cooldown {
		return Alert{}, false
	}

	m.state = AlertActive
	m.lastAlert = now
	m.hasAlerted = true

	return Alert{
		At:           now,
		DurationMs:   sustained.Milliseconds(),
		Yaw:          s.Yaw,
		Pitch:        s.Pitch,
		MaxDeviation: m.maxDeviation,
	}, true
}

// MarkAbsent degrades the machine to Absent for a face-lost tick.
// The deviation timer is dropped; the cooldown is kept.
func (m *Machine) MarkAbsent() {
	m.state = Absent
	m.clearTimer()
}

func (m *Machine) requiredSustain(centered bool) time.Duration {
	if centered {
		return m.timing.CenteredSustain
	}
	return m.timing.Sustain
}

func (m *Machine) toNormal() {
	m.state = Normal
	m.clearTimer()
}

func (m *Machine) clearTimer() {
	m.deviationStart = time.Time{}
	m.inEpisode = false
	m.maxDeviation = 0
}
