// Package scoring ranks search-query opportunities on a 0-100 scale.
package scoring

import "math"

// Competition is the SERP competition difficulty. The zero value means unknown.
type Competition string

const (
	CompetitionLow    Competition = "low"
	CompetitionMedium Competition = "medium"
	CompetitionHigh   Competition = "high"
)

// Valid reports whether c is one of the known difficulties.
func (c Competition) Valid() bool {
	return c == CompetitionLow || c == CompetitionMedium || c == CompetitionHigh
}

const (
	volumeWeight    = 40.0
	relevanceWeight = 20.0
	gapWeight       = 10.0

	// maxVolume is the search volume that earns the full volume weight.
	maxVolume = 10000.0
)

var competitionPoints = map[Competition]float64{
	CompetitionLow:    30,
	CompetitionMedium: 15,
	CompetitionHigh:   5,
}

// Input holds the signals for one opportunity. Missing values contribute nothing.
type Input struct {
	SearchVolume     int
	Competition      Competition
	ProductRelevance float64 // 0..1
	ContentGap       float64 // 0..1
}

// Components is the per-factor contribution before rounding.
type Components struct {
	Volume      float64
	Competition float64
	Relevance   float64
	Gap         float64
}

// Total sums the components.
func (c Components) Total() float64 {
	return c.Volume + c.Competition + c.Relevance + c.Gap
}

// Breakdown returns the weighted contribution of every factor.
func Breakdown(in Input) Components {
	var c Components
	if in.SearchVolume > 0 {
		v := math.Log10(math.Max(float64(in.SearchVolume), 1)) / math.Log10(maxVolume)
		c.Volume = clamp(v, 0, 1) * volumeWeight
	}
	c.Competition = competitionPoints[in.Competition]
	c.Relevance = clamp(in.ProductRelevance, 0, 1) * relevanceWeight
	c.Gap = clamp(in.ContentGap, 0, 1) * gapWeight
	return c
}

// Score returns the rounded opportunity score in [0, 100].
func Score(in Input) int {
	total := math.Round(Breakdown(in).Total())
	return int(clamp(total, 0, 100))
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}
