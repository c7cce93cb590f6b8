package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/teslashibe/go-proctor/pkg/gaze"
	"github.com/teslashibe/go-proctor/pkg/objects"
)

// DefaultInterval is the sampling cadence of a scripted session.
const DefaultInterval = 200 * time.Millisecond

// Phase is a stretch of scripted behavior with a constant pose.
type Phase struct {
	Name       string
	Duration   time.Duration
	Yaw        float64
	Pitch      float64
	Face       bool
	Confidence float64
	Centered   bool
	Hits       []objects.Hit // Reported on every sample of the phase
	TabSwitch  bool          // Reported once at the start of the phase
}

// Script is a deterministic sequence of phases.
type Script struct {
	Interval time.Duration
	Phases   []Phase
}

// Step is one scripted sample.
type Step struct {
	At        time.Time
	Phase     string
	Gaze      gaze.Measurement
	Hits      []objects.Hit
	TabSwitch bool
}

func focused(name string, d time.Duration) Phase {
	return Phase{Name: name, Duration: d, Yaw: 2, Pitch: 5, Face: true, Confidence: 0.95, Centered: true}
}

// DefaultScript is a two-minute-style session compressed to under a
// minute. With default tuning it raises one event of each kind.
func DefaultScript() Script {
	phone := focused("phone", 3*time.Second)
	phone.Hits = []objects.Hit{{
		Label: "cell phone",
		Score: 0.91,
		Box:   objects.BoundingBox{X: 0.62, Y: 0.55, W: 0.12, H: 0.2},
	}}
	tab := focused("tab_switch", 2*time.Second)
	tab.TabSwitch = true

	return Script{
		Interval: DefaultInterval,
		Phases: []Phase{
			focused("settle", 10*time.Second),
			{Name: "fidget", Duration: 5 * time.Second, Yaw: 21, Pitch: 10, Face: true, Confidence: 0.9, Centered: true},
			{Name: "look_away", Duration: 4 * time.Second, Yaw: 38, Pitch: 4, Face: true, Confidence: 0.85},
			focused("return", 6*time.Second),
			{Name: "leave", Duration: 4 * time.Second},
			focused("back", 5*time.Second),
			phone,
			tab,
			focused("finish", 5*time.Second),
		},
	}
}

// Duration returns the total scripted time.
func (s Script) Duration() time.Duration {
	var d time.Duration
	for _, p := range s.Phases {
		d += p.Duration
	}
	return d
}

// Steps expands the script into samples starting at start.
func (s Script) Steps(start time.Time) []Step {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	var steps []Step
	at := start
	for _, p := range s.Phases {
		end := at.Add(p.Duration)
		first := true
		for ; at.Before(end); at = at.Add(interval) {
			steps = append(steps, Step{
				At:    at,
				Phase: p.Name,
				Gaze: gaze.Measurement{
					Yaw:            p.Yaw,
					Pitch:          p.Pitch,
					FaceDetected:   p.Face,
					FaceConfidence: p.Confidence,
					IsCentered:     p.Centered,
					SampledAt:      at,
				},
				Hits:      p.Hits,
				TabSwitch: p.TabSwitch && first,
			})
			first = false
		}
		at = end
	}
	return steps
}

// Sender is the part of Client a replay needs.
type Sender interface {
	SendGaze(m gaze.Measurement) error
	SendObjects(at time.Time, hits []objects.Hit) error
	SendTabSwitch(at time.Time) error
}

// Replay sends every step to s and returns how many steps were sent.
// With pace set it sleeps between steps to match the script's cadence;
// otherwise it sends as fast as the connection allows.
func Replay(ctx context.Context, s Sender, steps []Step, pace bool) (int, error) {
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if pace && i > 0 {
			select {
			case <-ctx.Done():
				return i, ctx.Err()
			case <-time.After(step.At.Sub(steps[i-1].At)):
			}
		}

		if err := s.SendGaze(step.Gaze); err != nil {
			return i, fmt.Errorf("step %d (%s): %w", i, step.Phase, err)
		}
		if len(step.Hits) > 0 {
			if err := s.SendObjects(step.At, step.Hits); err != nil {
				return i, fmt.Errorf("step %d (%s): %w", i, step.Phase, err)
			}
		}
		if step.TabSwitch {
			if err := s.SendTabSwitch(step.At); err != nil {
				return i, fmt.Errorf("step %d (%s): %w", i, step.Phase, err)
			}
		}
	}
	return len(steps), nil
}

// Messages returns how many messages Replay sends for steps.
func Messages(steps []Step) int {
	n := 0
	for _, s := range steps {
		n++
		if len(s.Hits) > 0 {
			n++
		}
		if s.TabSwitch {
			n++
		}
	}
	return n
}
