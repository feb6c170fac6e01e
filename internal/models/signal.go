package models

import "time"

// Category enumerates what a signal is about.
type Category string

const (
	CategoryTechnical   Category = "technical"
	CategoryBug         Category = "bug"
	CategoryFeature     Category = "feature"
	CategoryCompetitive Category = "competitive"
	CategoryPerformance Category = "performance"
	CategorySecurity    Category = "security"
)

// Valid reports whether the category is a known variant.
func (c Category) Valid() bool {
	switch c {
	case CategoryTechnical, CategoryBug, CategoryFeature, CategoryCompetitive, CategoryPerformance, CategorySecurity:
		return true
	}
	return false
}

// Trend classifies the direction of a signal's recent strength deltas.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
)

// Observation is a single immutable ingested event. Created only by the
// ingest boundary, never mutated afterwards.
type Observation struct {
	SignalID  string    `json:"signalId" yaml:"signalId"`
	Source    string    `json:"source" yaml:"source"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Magnitude float64   `json:"magnitude" yaml:"magnitude"`
	Sentiment float64   `json:"sentiment" yaml:"sentiment"`
}

// Signal is the derived per-signal view recomputed from observation
// history. Strength and Confidence stay within [0,100]; Sentiment within
// [-1,1]. Scored is false while the signal has fewer samples than the
// configured minimum, which callers must not conflate with low confidence.
type Signal struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Source      string    `json:"source"`
	Category    Category  `json:"category"`
	Strength    float64   `json:"strength"`
	Velocity    float64   `json:"velocity"`
	Confidence  float64   `json:"confidence"`
	Trend       Trend     `json:"trend"`
	Sentiment   float64   `json:"sentiment"`
	Scored      bool      `json:"scored"`
	SampleCount int       `json:"sampleCount"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Severity buckets a signal's current strength for filtering purposes.
func (s Signal) Severity() Severity {
	switch {
	case s.Strength >= 80:
		return SeverityCritical
	case s.Strength >= 65:
		return SeverityHigh
	case s.Strength >= 50:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
