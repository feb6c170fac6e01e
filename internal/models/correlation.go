package models

import "time"

// EdgeStrength labels the magnitude of a correlation coefficient.
type EdgeStrength string

const (
	EdgeStrong   EdgeStrength = "strong"
	EdgeModerate EdgeStrength = "moderate"
	EdgeWeak     EdgeStrength = "weak"
)

// EdgeDirection indicates the sign of the correlation.
type EdgeDirection string

const (
	DirectionPositive EdgeDirection = "positive"
	DirectionNegative EdgeDirection = "negative"
)

// CorrelationEdge links an unordered signal pair. SignalA is always the
// lexicographically smaller id so each pair produces exactly one edge and
// corr(A,B) == corr(B,A) by construction.
type CorrelationEdge struct {
	ID          string        `json:"id"`
	SignalA     string        `json:"signalA"`
	SignalB     string        `json:"signalB"`
	Coefficient float64       `json:"coefficient"`
	Lag         time.Duration `json:"lag"`
	LagLabel    string        `json:"lagLabel"`
	Strength    EdgeStrength  `json:"strength"`
	Direction   EdgeDirection `json:"direction"`
	Confidence  float64       `json:"confidence"`
	Samples     int           `json:"samples"`
	ComputedAt  time.Time     `json:"computedAt"`
}

// StrengthLabel maps |r| onto the closed label set.
func StrengthLabel(r float64) EdgeStrength {
	abs := r
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 0.8:
		return EdgeStrong
	case abs >= 0.6:
		return EdgeModerate
	default:
		return EdgeWeak
	}
}
