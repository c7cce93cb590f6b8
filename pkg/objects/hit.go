// Package objects re-validates object detector hits and rate-limits
// prohibited object events per label.
package objects

import (
	"math"
	"strings"
)

// BoundingBox is a normalized (0-1) box in frame coordinates.
type BoundingBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Center returns the center point of the box.
func (b BoundingBox) Center() (x, y float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Area returns the area of the box.
func (b BoundingBox) Area() float64 {
	return b.W * b.H
}

// Hit is one matched object from one inference tick.
type Hit struct {
	Label string      `json:"label"`
	Score float64     `json:"score"` // 0-1
	Box   BoundingBox `json:"box"`
}

// Defaults for object validation.
const (
	// MinScore is the lowest detector score accepted.
	MinScore = 0.65
)

// DefaultProhibited is the allow-list of labels that raise an event.
// Names follow the COCO label set used by the detector adapter.
var DefaultProhibited = []string{"cell phone", "book", "laptop", "remote"}

// NormalizeLabel lower-cases and trims a detector label.
func NormalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// Filter returns the hits that pass the score threshold and the
// prohibited list, with labels normalized. The adapter may have filtered
// already; this runs regardless. Filter is pure.
func Filter(hits []Hit, minScore float64, prohibited map[string]bool) []Hit {
	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		if math.IsNaN(h.Score) || h.Score < minScore || h.Score > 1 {
			continue
		}
		label := NormalizeLabel(h.Label)
		if !prohibited[label] {
			continue
		}
		h.Label = label
		out = append(out, h)
	}
	return out
}

// LabelSet builds a lookup set from a label list.
func LabelSet(labels []string) map[string]bool {
	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		if n := NormalizeLabel(l); n != "" {
			set[n] = true
		}
	}
	return set
}
