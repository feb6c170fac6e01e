package models

import "time"

// WorkflowStatus is operator-controlled, never analytics-controlled.
type WorkflowStatus string

const (
	WorkflowActive WorkflowStatus = "active"
	WorkflowPaused WorkflowStatus = "paused"
)

// ConditionField enumerates the signal/prediction attributes a workflow
// condition may reference. The set is closed so evaluation is exhaustive.
type ConditionField string

const (
	FieldStrength    ConditionField = "strength"
	FieldVelocity    ConditionField = "velocity"
	FieldConfidence  ConditionField = "confidence"
	FieldSentiment   ConditionField = "sentiment"
	FieldProbability ConditionField = "probability"
	FieldTimeToSpike ConditionField = "time_to_spike_days"
	FieldTrend       ConditionField = "trend"
	FieldCategory    ConditionField = "category"
	FieldSource      ConditionField = "source"
)

// Numeric reports whether the field compares against Value rather than Values.
func (f ConditionField) Numeric() bool {
	switch f {
	case FieldStrength, FieldVelocity, FieldConfidence, FieldSentiment, FieldProbability, FieldTimeToSpike:
		return true
	}
	return false
}

// Valid reports whether the field is a known variant.
func (f ConditionField) Valid() bool {
	switch f {
	case FieldStrength, FieldVelocity, FieldConfidence, FieldSentiment,
		FieldProbability, FieldTimeToSpike, FieldTrend, FieldCategory, FieldSource:
		return true
	}
	return false
}

// ConditionOp enumerates comparison operators.
type ConditionOp string

const (
	OpGreater      ConditionOp = "gt"
	OpGreaterEqual ConditionOp = "gte"
	OpLess         ConditionOp = "lt"
	OpLessEqual    ConditionOp = "lte"
	OpEqual        ConditionOp = "eq"
	OpIn           ConditionOp = "in"
)

// Condition is a single predicate over the latest signal/prediction
// snapshot. Numeric fields use Value; categorical fields use Values.
type Condition struct {
	Field  ConditionField `json:"field" yaml:"field"`
	Op     ConditionOp    `json:"op" yaml:"op"`
	Value  float64        `json:"value,omitempty" yaml:"value,omitempty"`
	Values []string       `json:"values,omitempty" yaml:"values,omitempty"`
}

// ActionType enumerates what a workflow does when it fires.
type ActionType string

const (
	ActionAlert    ActionType = "alert"
	ActionEscalate ActionType = "escalate"
	ActionNotify   ActionType = "notify"
)

// Action describes one effect of a workflow fire. Actions are data, not
// code, so definitions can be validated and audited.
type Action struct {
	Type     ActionType `json:"type" yaml:"type"`
	Severity Severity   `json:"severity,omitempty" yaml:"severity,omitempty"`
	Target   string     `json:"target,omitempty" yaml:"target,omitempty"`
}

// Workflow is a declarative automation rule: all conditions must hold
// simultaneously in one evaluation pass for the workflow to fire.
type Workflow struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Conditions  []Condition    `json:"conditions" yaml:"conditions"`
	Actions     []Action       `json:"actions" yaml:"actions"`
	Status      WorkflowStatus `json:"status" yaml:"status"`
	Cooldown    time.Duration  `json:"cooldown" yaml:"cooldown"`
	CreatedAt   time.Time      `json:"createdAt" yaml:"-"`
	UpdatedAt   time.Time      `json:"updatedAt" yaml:"-"`
}

// WorkflowRunStats summarises a workflow's evaluation history.
type WorkflowRunStats struct {
	Runs        int       `json:"runs"`
	Fires       int       `json:"fires"`
	Confirmed   int       `json:"confirmed"`
	SuccessRate float64   `json:"successRate"`
	LastRun     time.Time `json:"lastRun"`
}
