// Package gaze classifies head-pose measurements and tracks sustained
// deviation from the screen.
// This file defines the angular and timing limits used by the classifier
// and the state machine.
package gaze

import (
	"math"
	"time"
)

// Angular limits in degrees.
//
// Pitch is signed: negative looks up, positive looks down. The strong
// deviation band is asymmetric because looking down at a desk is far more
// common (and more often benign) than looking up.
const (
	// MaxYawNormal is the largest |yaw| still inside the safe zone.
	MaxYawNormal = 18.0

	// MaxPitchNormal is the largest |pitch| still inside the safe zone.
	MaxPitchNormal = 22.0

	// StrongYawDeg is the |yaw| beyond which a look-away is strong.
	StrongYawDeg = 25.0

	// StrongPitchUpDeg is how far up (pitch < -StrongPitchUpDeg) counts as strong.
	StrongPitchUpDeg = 30.0

	// StrongPitchDownDeg is how far down (pitch > StrongPitchDownDeg) counts as strong.
	StrongPitchDownDeg = 35.0
)

// Timing limits.
const (
	// SustainDuration is how long a strong deviation must hold before an
	// alert fires when the face is off-center.
	SustainDuration = 2500 * time.Millisecond

	// CenteredSustainDuration applies when the face box is centered.
	// Centered but off-angle postures are usually benign, so they get
	// a longer tolerance.
	CenteredSustainDuration = 3500 * time.Millisecond

	// Cooldown is the minimum gap between two gaze alerts.
	Cooldown = 5000 * time.Millisecond
)

// Degrees converts radians to degrees.
func Degrees(radians float64) float64 {
	return radians * 180.0 / math.Pi
}

// Radians converts degrees to radians.
func Radians(degrees float64) float64 {
	return degrees * math.Pi / 180.0
}
