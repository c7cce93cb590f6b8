package session

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/teslashibe/go-proctor/pkg/gaze"
	"github.com/teslashibe/go-proctor/pkg/objects"
	"github.com/teslashibe/go-proctor/pkg/presence"
)

// Config holds engine configuration.
type Config struct {
	// Gaze
	Thresholds gaze.Thresholds
	Timing     gaze.Timing

	// Trackers
	Presence presence.Config
	Objects  objects.Config

	// Strict fails a tick on contract violations instead of clamping.
	// Use it in development and tests.
	Strict bool

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring the engine.
type Option func(*Config)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithStrict enables or disables strict contract checking.
func WithStrict(strict bool) Option {
	return func(c *Config) { c.Strict = strict }
}

// WithThresholds overrides the gaze angle limits.
func WithThresholds(t gaze.Thresholds) Option {
	return func(c *Config) { c.Thresholds = t }
}

// WithProhibited overrides the prohibited object labels.
func WithProhibited(labels ...string) Option {
	return func(c *Config) { c.Objects.Prohibited = labels }
}

// DefaultConfig returns the production parameters.
func DefaultConfig() *Config {
	return &Config{
		Thresholds: gaze.DefaultThresholds(),
		Timing:     gaze.DefaultTiming(),
		Presence:   presence.DefaultConfig(),
		Objects:    objects.DefaultConfig(),
		Logger:     slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate rejects parameters the trackers cannot work with.
func (c *Config) Validate() error {
	t := c.Thresholds
	for name, v := range map[string]float64{
		"max_yaw_normal":    t.MaxYawNormal,
		"max_pitch_normal":  t.MaxPitchNormal,
		"strong_yaw":        t.StrongYaw,
		"strong_pitch_up":   t.StrongPitchUp,
		"strong_pitch_down": t.StrongPitchDown,
	} {
		if math.IsNaN(v) || v < 0 {
			return fmt.Errorf("%w: %s must be a non-negative angle", ErrInvalidConfig, name)
		}
	}
	if t.MaxYawNormal > t.StrongYaw {
		return fmt.Errorf("%w: safe yaw %.1f exceeds strong yaw %.1f", ErrInvalidConfig, t.MaxYawNormal, t.StrongYaw)
	}
	if t.MaxPitchNormal > t.StrongPitchUp || t.MaxPitchNormal > t.StrongPitchDown {
		return fmt.Errorf("%w: safe pitch %.1f exceeds a strong pitch limit", ErrInvalidConfig, t.MaxPitchNormal)
	}

	if c.Timing.Sustain < 0 || c.Timing.CenteredSustain < 0 || c.Timing.Cooldown < 0 {
		return fmt.Errorf("%w: gaze durations must not be negative", ErrInvalidConfig)
	}
	if c.Presence.Sustain < 0 || c.Presence.Cooldown < 0 {
		return fmt.Errorf("%w: absence durations must not be negative", ErrInvalidConfig)
	}
	if c.Objects.Cooldown < 0 {
		return fmt.Errorf("%w: object cooldown must not be negative", ErrInvalidConfig)
	}

	if !unit(c.Presence.MinConfidence) {
		return fmt.Errorf("%w: face confidence %v outside [0,1]", ErrInvalidConfig, c.Presence.MinConfidence)
	}
	if !unit(c.Objects.MinScore) {
		return fmt.Errorf("%w: object score %v outside [0,1]", ErrInvalidConfig, c.Objects.MinScore)
	}
	if len(objects.LabelSet(c.Objects.Prohibited)) == 0 {
		return fmt.Errorf("%w: no prohibited object labels", ErrInvalidConfig)
	}
	return nil
}

func unit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
