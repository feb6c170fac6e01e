package models

import "time"

// Severity captures alert impact levels, highest first.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Valid reports whether the severity is a known variant.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// Rank orders severities; lower rank sorts first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

// Priority derives the operator-facing P-level from severity.
func (s Severity) Priority() string {
	switch s {
	case SeverityCritical:
		return "P0"
	case SeverityHigh:
		return "P1"
	case SeverityMedium:
		return "P2"
	default:
		return "P3"
	}
}

// AlertState tracks the alert lifecycle: open -> acknowledged -> resolved.
type AlertState string

const (
	AlertOpen         AlertState = "open"
	AlertAcknowledged AlertState = "acknowledged"
	AlertResolved     AlertState = "resolved"
)

// Alert is created by the rule engine and immutable apart from its
// lifecycle transitions, each of which is timestamped and attributable.
type Alert struct {
	ID             string     `json:"id"`
	Severity       Severity   `json:"severity"`
	Priority       string     `json:"priority"`
	Title          string     `json:"title"`
	Message        string     `json:"message"`
	Source         string     `json:"source"`
	SignalID       string     `json:"signalId"`
	WorkflowID     string     `json:"workflowId"`
	ActionRequired bool       `json:"actionRequired"`
	AssignedTo     string     `json:"assignedTo,omitempty"`
	State          AlertState `json:"state"`
	CreatedAt      time.Time  `json:"createdAt"`
	AcknowledgedAt time.Time  `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy string     `json:"acknowledgedBy,omitempty"`
	ResolvedAt     time.Time  `json:"resolvedAt,omitempty"`
	ResolvedBy     string     `json:"resolvedBy,omitempty"`
}

// ActionRecord captures an automation action emitted by a workflow fire.
type ActionRecord struct {
	ID         string     `json:"id"`
	WorkflowID string     `json:"workflowId"`
	SignalID   string     `json:"signalId"`
	Type       ActionType `json:"type"`
	Target     string     `json:"target"`
	FiredAt    time.Time  `json:"firedAt"`
}
