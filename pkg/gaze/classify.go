package gaze

import (
	"math"
	"time"
)

// Measurement is one head-pose sample produced by the landmark adapter.
// Angles are in degrees.
type Measurement struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`

	FaceDetected   bool    `json:"face_detected"`
	FaceConfidence float64 `json:"face_confidence"` // 0-1
	IsCentered     bool    `json:"is_centered"`     // Face box near frame center

	SampledAt time.Time `json:"sampled_at"`
}

// Classification is the per-sample verdict. It is derived, never stored.
type Classification struct {
	InSafeZone        bool `json:"in_safe_zone"`
	IsStrongDeviation bool `json:"is_strong_deviation"`
}

// IsMinorMovement reports a sample that is neither safe nor strong.
// Minor movement counts toward time quality but never advances the
// state machine.
func (c Classification) IsMinorMovement() bool {
	return !c.InSafeZone && !c.IsStrongDeviation
}

// Thresholds holds the tunable angular limits (degrees).
type Thresholds struct {
	MaxYawNormal    float64 `yaml:"max_yaw_normal"`
	MaxPitchNormal  float64 `yaml:"max_pitch_normal"`
	StrongYaw       float64 `yaml:"strong_yaw"`
	StrongPitchUp   float64 `yaml:"strong_pitch_up"`
	StrongPitchDown float64 `yaml:"strong_pitch_down"`
}

// DefaultThresholds returns the production limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxYawNormal:    MaxYawNormal,
		MaxPitchNormal:  MaxPitchNormal,
		StrongYaw:       StrongYawDeg,
		StrongPitchUp:   StrongPitchUpDeg,
		StrongPitchDown: StrongPitchDownDeg,
	}
}

// Classify maps a measurement onto the safe zone / strong deviation flags.
// It is pure and safe to call from any goroutine.
//
// NaN angles compare false everywhere, so a NaN sample is minor movement.
func Classify(m Measurement, t Thresholds) Classification {
	absYaw := math.Abs(m.Yaw)
	absPitch := math.Abs(m.Pitch)

	return Classification{
		InSafeZone: absYaw <= t.MaxYawNormal && absPitch <= t.MaxPitchNormal,
		IsStrongDeviation: absYaw > t.StrongYaw ||
			m.Pitch < -t.StrongPitchUp ||
			m.Pitch > t.StrongPitchDown,
	}
}

// deviation returns the larger of |yaw| and |pitch|.
func deviation(m Measurement) float64 {
	return math.Max(math.Abs(m.Yaw), math.Abs(m.Pitch))
}
