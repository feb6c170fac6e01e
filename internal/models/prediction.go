package models

import "time"

// ImpactTier buckets the expected blast radius of a predicted spike.
type ImpactTier string

const (
	ImpactLow    ImpactTier = "low"
	ImpactMedium ImpactTier = "medium"
	ImpactHigh   ImpactTier = "high"
)

// Trajectory is a qualitative word for how a prediction is developing.
type Trajectory string

const (
	TrajectoryAccelerating Trajectory = "accelerating"
	TrajectorySteady       Trajectory = "steady"
	TrajectoryBuilding     Trajectory = "building"
)

// Prediction is a per-signal spike forecast. A recomputation cycle
// replaces the whole prediction set wholesale so probability and
// timeframe are never from different cycles.
type Prediction struct {
	ID               string        `json:"id"`
	SignalID         string        `json:"signalId"`
	Probability      float64       `json:"probability"`
	Impact           ImpactTier    `json:"impact"`
	Trajectory       Trajectory    `json:"trajectory"`
	EarliestSpike    time.Duration `json:"earliestSpike"`
	LatestSpike      time.Duration `json:"latestSpike"`
	Fit              float64       `json:"fit"`
	LowFit           bool          `json:"lowFit"`
	Factors          []string      `json:"factors"`
	Recommendation   string        `json:"recommendation"`
	RecommendationID string        `json:"recommendationId"`
	GeneratedAt      time.Time     `json:"generatedAt"`
}
