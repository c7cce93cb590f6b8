// Package risk turns behavioral event counts into a bounded 0-100 score.
//
// Each category is capped before weighting, so no single noisy signal can
// drive the score to 100 on its own. Score is pure and deterministic.
package risk

import (
	"math"
)

// Level is the coarse risk band.
type Level string

const (
	Low    Level = "LOW"
	Medium Level = "MEDIUM"
	High   Level = "HIGH"
)

// Band thresholds (inclusive).
const (
	HighThreshold   = 70
	MediumThreshold = 35
	MaxScore        = 100
)

// Category weights and caps.
const (
	GazeWeight   = 8
	GazeCap      = 5
	AbsentWeight = 15
	AbsentCap    = 3
	ObjectWeight = 20
	ObjectCap    = 3
	TabWeight    = 6
	TabCap       = 5
)

// Input is the per-category event count for a session.
// SessionDurationMs is carried for consumers but does not affect the score.
type Input struct {
	GazeDeviationCount   int   `json:"gazeDeviationCount"`
	FaceAbsenceCount     int   `json:"faceAbsenceCount"`
	ObjectDetectionCount int   `json:"objectDetectionCount"`
	TabSwitchCount       int   `json:"tabSwitchCount"`
	SessionDurationMs    int64 `json:"sessionDurationMs"`
}

// Output is the scored result.
type Output struct {
	Score int   `json:"score"`
	Level Level `json:"level"`
}

// Contribution is one category's share of the raw score.
type Contribution struct {
	Count  int `json:"count"`  // Count after clamping negatives
	Capped int `json:"capped"` // min(Count, cap)
	Weight int `json:"weight"`
	Points int `json:"points"` // Capped * Weight
}

// Breakdown explains a score.
type Breakdown struct {
	Gaze   Contribution `json:"gaze"`
	Absent Contribution `json:"absent"`
	Object Contribution `json:"object"`
	Tab    Contribution `json:"tab"`
	Raw    int          `json:"raw"`
	Output
}

// Score computes the saturated risk score.
func Score(in Input) Output {
	return Explain(in).Output
}

// Explain computes the score along with per-category contributions.
func Explain(in Input) Breakdown {
	b := Breakdown{
		Gaze:   contribute(in.GazeDeviationCount, GazeCap, GazeWeight),
		Absent: contribute(in.FaceAbsenceCount, AbsentCap, AbsentWeight),
		Object: contribute(in.ObjectDetectionCount, ObjectCap, ObjectWeight),
		Tab:    contribute(in.TabSwitchCount, TabCap, TabWeight),
	}
	b.Raw = b.Gaze.Points + b.Absent.Points + b.Object.Points + b.Tab.Points

	b.Score = clamp(int(math.Round(float64(b.Raw))), 0, MaxScore)
	b.Level = LevelFor(b.Score)
	return b
}

// LevelFor maps a score onto its band.
func LevelFor(score int) Level {
	switch {
	case score >= HighThreshold:
		return High
	case score >= MediumThreshold:
		return Medium
	default:
		return Low
	}
}

func contribute(count, limit, weight int) Contribution {
	if count < 0 {
		count = 0
	}
	capped := min(count, limit)
	return Contribution{
		Count:  count,
		Capped: capped,
		Weight: weight,
		Points: capped * weight,
	}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
