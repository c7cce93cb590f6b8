package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-proctor/pkg/session"
)

// Tuning overrides engine parameters. Unset fields keep their defaults.
//
//	gaze:
//	  strong_yaw: 28
//	  sustain: 3s
//	face:
//	  min_confidence: 0.6
//	objects:
//	  prohibited: [cell phone, book]
type Tuning struct {
	Gaze    GazeTuning   `yaml:"gaze"`
	Face    FaceTuning   `yaml:"face"`
	Objects ObjectTuning `yaml:"objects"`
}

// GazeTuning overrides the gaze thresholds (degrees) and timing.
type GazeTuning struct {
	MaxYawNormal    *float64       `yaml:"max_yaw_normal"`
	MaxPitchNormal  *float64       `yaml:"max_pitch_normal"`
	StrongYaw       *float64       `yaml:"strong_yaw"`
	StrongPitchUp   *float64       `yaml:"strong_pitch_up"`
	StrongPitchDown *float64       `yaml:"strong_pitch_down"`
	Sustain         *time.Duration `yaml:"sustain"`
	CenteredSustain *time.Duration `yaml:"centered_sustain"`
	Cooldown        *time.Duration `yaml:"cooldown"`
}

// FaceTuning overrides the face-absence tracker.
type FaceTuning struct {
	MinConfidence *float64       `yaml:"min_confidence"`
	Sustain       *time.Duration `yaml:"sustain"`
	Cooldown      *time.Duration `yaml:"cooldown"`
}

// ObjectTuning overrides the object tracker.
type ObjectTuning struct {
	MinScore   *float64       `yaml:"min_score"`
	Prohibited []string       `yaml:"prohibited"` // Replaces the default list when set
	Cooldown   *time.Duration `yaml:"cooldown"`
}

// LoadTuning reads a YAML tuning file. Unknown keys are errors.
func LoadTuning(path string) (*Tuning, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open tuning file: %w", err)
	}
	defer f.Close()

	var t Tuning
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &t, nil
}

// Validate rejects negative durations, ratios outside [0,1] and an empty
// label list.
func (t *Tuning) Validate() error {
	durations := map[string]*time.Duration{
		"gaze.sustain":          t.Gaze.Sustain,
		"gaze.centered_sustain": t.Gaze.CenteredSustain,
		"gaze.cooldown":         t.Gaze.Cooldown,
		"face.sustain":          t.Face.Sustain,
		"face.cooldown":         t.Face.Cooldown,
		"objects.cooldown":      t.Objects.Cooldown,
	}
	for name, d := range durations {
		if d != nil && *d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, *d)
		}
	}

	angles := map[string]*float64{
		"gaze.max_yaw_normal":    t.Gaze.MaxYawNormal,
		"gaze.max_pitch_normal":  t.Gaze.MaxPitchNormal,
		"gaze.strong_yaw":        t.Gaze.StrongYaw,
		"gaze.strong_pitch_up":   t.Gaze.StrongPitchUp,
		"gaze.strong_pitch_down": t.Gaze.StrongPitchDown,
	}
	for name, a := range angles {
		if a != nil && !(*a >= 0) {
			return fmt.Errorf("%s must be a non-negative angle, got %v", name, *a)
		}
	}

	ratios := map[string]*float64{
		"face.min_confidence": t.Face.MinConfidence,
		"objects.min_score":   t.Objects.MinScore,
	}
	for name, r := range ratios {
		if r != nil && !(*r >= 0 && *r <= 1) {
			return fmt.Errorf("%s must be within [0,1], got %v", name, *r)
		}
	}

	if t.Objects.Prohibited != nil && len(t.Objects.Prohibited) == 0 {
		return errors.New("objects.prohibited must not be empty")
	}
	return nil
}

// Apply merges the overrides into cfg.
func (t *Tuning) Apply(cfg *session.Config) {
	setFloat(&cfg.Thresholds.MaxYawNormal, t.Gaze.MaxYawNormal)
	setFloat(&cfg.Thresholds.MaxPitchNormal, t.Gaze.MaxPitchNormal)
	setFloat(&cfg.Thresholds.StrongYaw, t.Gaze.StrongYaw)
	setFloat(&cfg.Thresholds.StrongPitchUp, t.Gaze.StrongPitchUp)
	setFloat(&cfg.Thresholds.StrongPitchDown, t.Gaze.StrongPitchDown)
	setDuration(&cfg.Timing.Sustain, t.Gaze.Sustain)
	setDuration(&cfg.Timing.CenteredSustain, t.Gaze.CenteredSustain)
	setDuration(&cfg.Timing.Cooldown, t.Gaze.Cooldown)

	setFloat(&cfg.Presence.MinConfidence, t.Face.MinConfidence)
	setDuration(&cfg.Presence.Sustain, t.Face.Sustain)
	setDuration(&cfg.Presence.Cooldown, t.Face.Cooldown)

	setFloat(&cfg.Objects.MinScore, t.Objects.MinScore)
	setDuration(&cfg.Objects.Cooldown, t.Objects.Cooldown)
	if t.Objects.Prohibited != nil {
		cfg.Objects.Prohibited = append([]string(nil), t.Objects.Prohibited...)
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *time.Duration) {
	if v != nil {
		*dst = *v
	}
}
