package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/signalstack/signal-engine/internal/config"
	"github.com/signalstack/signal-engine/internal/metrics"
	"github.com/signalstack/signal-engine/internal/models"
	"github.com/signalstack/signal-engine/internal/predict"
	"github.com/signalstack/signal-engine/internal/stats"
)

var (
	// ErrInvalidWorkflow marks a definition rejected at configuration
	// time: unknown fields, unknown operators, or empty condition or
	// action lists. Invalid definitions never reach evaluation.
	ErrInvalidWorkflow = errors.New("invalid workflow definition")

	// ErrWorkflowNotFound marks an unknown workflow id.
	ErrWorkflowNotFound = errors.New("workflow not found")
)

// Stats supplies the latest aggregated signal snapshot.
type Stats interface {
	Snapshot() stats.Snapshot
}

// Predictions supplies the latest published prediction snapshot.
type Predictions interface {
	Current() predict.Snapshot
}

// WorkflowView pairs a workflow definition with its run history.
type WorkflowView struct {
	models.Workflow
	Stats models.WorkflowRunStats `json:"stats"`
}

// triggerState tracks the edge-trigger latch per (workflow, signal).
type triggerState struct {
	wasTrue   bool
	lastFired time.Time
	pending   string // alert id awaiting operator confirmation
}

type workflowState struct {
	mu          sync.Mutex
	def         models.Workflow
	stats       models.WorkflowRunStats
	lastVersion uint64
	evaluated   bool
	perSignal   map[string]*triggerState
}

// Engine evaluates declarative workflows against statistics snapshots.
// Workflows evaluate in parallel but each workflow is serialized against
// its own mutations, and a snapshot version evaluates at most once per
// workflow so restarts and overlapping ticks cannot double-fire.
type Engine struct {
	logger *slog.Logger
	cfg    config.RulesConfig
	stats  Stats
	preds  Predictions
	alerts *AlertLog

	mu        sync.RWMutex
	workflows map[string]*workflowState
	pending   map[string]pendingRef // alert id -> fire awaiting confirmation

	actionMu sync.Mutex
	actions  []models.ActionRecord
	fired    atomic.Int64

	now func() time.Time
}

type pendingRef struct {
	workflowID string
	signalID   string
}

// New constructs a rule engine over the given snapshot sources.
func New(cfg config.RulesConfig, st Stats, preds Predictions, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger:    logger,
		cfg:       cfg,
		stats:     st,
		preds:     preds,
		alerts:    NewAlertLog(cfg.AlertCapacity),
		workflows: make(map[string]*workflowState),
		pending:   make(map[string]pendingRef),
		now:       time.Now,
	}
}

// Alerts exposes the engine-owned alert log.
func (e *Engine) Alerts() *AlertLog { return e.alerts }

// ValidateWorkflow checks a definition against the closed field, operator
// and action sets. All violations are reported at configuration time.
func ValidateWorkflow(def models.Workflow) error {
	if strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidWorkflow)
	}
	if len(def.Conditions) == 0 {
		return fmt.Errorf("%w: at least one condition is required", ErrInvalidWorkflow)
	}
	if len(def.Actions) == 0 {
		return fmt.Errorf("%w: at least one action is required", ErrInvalidWorkflow)
	}
	if def.Cooldown < 0 {
		return fmt.Errorf("%w: cooldown must not be negative", ErrInvalidWorkflow)
	}

	for i, cond := range def.Conditions {
		if !cond.Field.Valid() {
			return fmt.Errorf("%w: condition %d references unknown field %q", ErrInvalidWorkflow, i, cond.Field)
		}
		if cond.Field.Numeric() {
			switch cond.Op {
			case models.OpGreater, models.OpGreaterEqual, models.OpLess, models.OpLessEqual, models.OpEqual:
			default:
				return fmt.Errorf("%w: condition %d uses operator %q on numeric field %q", ErrInvalidWorkflow, i, cond.Op, cond.Field)
			}
		} else {
			switch cond.Op {
			case models.OpEqual, models.OpIn:
			default:
				return fmt.Errorf("%w: condition %d uses operator %q on categorical field %q", ErrInvalidWorkflow, i, cond.Op, cond.Field)
			}
			if len(cond.Values) == 0 {
				return fmt.Errorf("%w: condition %d on field %q needs at least one value", ErrInvalidWorkflow, i, cond.Field)
			}
		}
	}

	for i, action := range def.Actions {
		switch action.Type {
		case models.ActionAlert, models.ActionEscalate, models.ActionNotify:
		default:
			return fmt.Errorf("%w: action %d has unknown type %q", ErrInvalidWorkflow, i, action.Type)
		}
		if action.Severity != "" && !action.Severity.Valid() {
			return fmt.Errorf("%w: action %d has unknown severity %q", ErrInvalidWorkflow, i, action.Severity)
		}
	}
	return nil
}

// Create validates and registers a workflow. Missing id, status and
// cooldown receive defaults.
func (e *Engine) Create(def models.Workflow) (models.Workflow, error) {
	if err := ValidateWorkflow(def); err != nil {
		return models.Workflow{}, err
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if def.Status == "" {
		def.Status = models.WorkflowActive
	}
	if def.Cooldown == 0 {
		def.Cooldown = e.cfg.Cooldown
	}
	now := e.now().UTC()
	def.CreatedAt = now
	def.UpdatedAt = now

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.workflows[def.ID]; exists {
		return models.Workflow{}, fmt.Errorf("%w: duplicate id %q", ErrInvalidWorkflow, def.ID)
	}
	e.workflows[def.ID] = &workflowState{
		def:       def,
		perSignal: make(map[string]*triggerState),
	}
	e.logger.Info("workflow registered", slog.String("workflow_id", def.ID), slog.String("name", def.Name))
	return def, nil
}

// Update replaces a workflow's definition, keeping its run history but
// resetting per-signal trigger latches since the predicate changed.
func (e *Engine) Update(id string, def models.Workflow) (models.Workflow, error) {
	def.ID = id
	if err := ValidateWorkflow(def); err != nil {
		return models.Workflow{}, err
	}

	e.mu.RLock()
	ws, ok := e.workflows[id]
	e.mu.RUnlock()
	if !ok {
		return models.Workflow{}, ErrWorkflowNotFound
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	if def.Status == "" {
		def.Status = ws.def.Status
	}
	if def.Cooldown == 0 {
		def.Cooldown = ws.def.Cooldown
	}
	def.CreatedAt = ws.def.CreatedAt
	def.UpdatedAt = e.now().UTC()
	ws.def = def
	ws.perSignal = make(map[string]*triggerState)
	return def, nil
}

// Pause stops a workflow from evaluating until resumed.
func (e *Engine) Pause(id string) (models.Workflow, error) {
	return e.setStatus(id, models.WorkflowPaused)
}

// Resume reactivates a paused workflow.
func (e *Engine) Resume(id string) (models.Workflow, error) {
	return e.setStatus(id, models.WorkflowActive)
}

func (e *Engine) setStatus(id string, status models.WorkflowStatus) (models.Workflow, error) {
	e.mu.RLock()
	ws, ok := e.workflows[id]
	e.mu.RUnlock()
	if !ok {
		return models.Workflow{}, ErrWorkflowNotFound
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.def.Status = status
	ws.def.UpdatedAt = e.now().UTC()
	return ws.def, nil
}

// Get returns one workflow with its run history.
func (e *Engine) Get(id string) (WorkflowView, error) {
	e.mu.RLock()
	ws, ok := e.workflows[id]
	e.mu.RUnlock()
	if !ok {
		return WorkflowView{}, ErrWorkflowNotFound
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	return viewOf(ws), nil
}

// List returns all workflows sorted by name.
func (e *Engine) List() []WorkflowView {
	e.mu.RLock()
	states := make([]*workflowState, 0, len(e.workflows))
	for _, ws := range e.workflows {
		states = append(states, ws)
	}
	e.mu.RUnlock()

	views := make([]WorkflowView, 0, len(states))
	for _, ws := range states {
		ws.mu.Lock()
		views = append(views, viewOf(ws))
		ws.mu.Unlock()
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	return views
}

func viewOf(ws *workflowState) WorkflowView {
	view := WorkflowView{Workflow: ws.def, Stats: ws.stats}
	if view.Stats.Fires > 0 {
		view.Stats.SuccessRate = 100 * float64(view.Stats.Confirmed) / float64(view.Stats.Fires)
	}
	return view
}

// ActiveCount returns the number of active workflows.
func (e *Engine) ActiveCount() int {
	e.mu.RLock()
	states := make([]*workflowState, 0, len(e.workflows))
	for _, ws := range e.workflows {
		states = append(states, ws)
	}
	e.mu.RUnlock()

	active := 0
	for _, ws := range states {
		ws.mu.Lock()
		if ws.def.Status == models.WorkflowActive {
			active++
		}
		ws.mu.Unlock()
	}
	return active
}

// ActionsFired returns the total automation actions executed.
func (e *Engine) ActionsFired() int64 { return e.fired.Load() }

// Actions returns the recorded non-alert action history, newest last.
func (e *Engine) Actions() []models.ActionRecord {
	e.actionMu.Lock()
	defer e.actionMu.Unlock()
	out := make([]models.ActionRecord, len(e.actions))
	copy(out, e.actions)
	return out
}

// Acknowledge transitions an alert and credits its originating workflow's
// success rate on first confirmation.
func (e *Engine) Acknowledge(alertID, actor string) (models.Alert, error) {
	alert, err := e.alerts.Acknowledge(alertID, actor)
	if err != nil {
		return models.Alert{}, err
	}
	e.confirm(alertID)
	metrics.SetOpenAlerts(e.alerts.OpenCount())
	return alert, nil
}

// Resolve transitions an alert and credits its originating workflow's
// success rate if it was not already confirmed by an acknowledgement.
func (e *Engine) Resolve(alertID, actor string) (models.Alert, error) {
	alert, err := e.alerts.Resolve(alertID, actor)
	if err != nil {
		return models.Alert{}, err
	}
	e.confirm(alertID)
	metrics.SetOpenAlerts(e.alerts.OpenCount())
	return alert, nil
}

// confirm credits at most one confirmation per fire. A fire superseded by
// a re-fire for the same signal has already been voided and earns nothing.
func (e *Engine) confirm(alertID string) {
	e.mu.Lock()
	ref, ok := e.pending[alertID]
	if ok {
		delete(e.pending, alertID)
	}
	ws := e.workflows[ref.workflowID]
	e.mu.Unlock()
	if !ok || ws == nil {
		return
	}

	ws.mu.Lock()
	ws.stats.Confirmed++
	ws.mu.Unlock()

	e.logger.Debug("workflow fire confirmed",
		slog.String("workflow_id", ref.workflowID),
		slog.String("signal_id", ref.signalID))
}

// Run evaluates workflows on the configured cadence until cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Cadence)
	defer ticker.Stop()

	for {
		e.EvaluateNow()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// EvaluateNow evaluates all workflows against the current statistics and
// prediction snapshots.
func (e *Engine) EvaluateNow() {
	e.Evaluate(e.stats.Snapshot(), e.preds.Current().Predictions)
}

// Evaluate runs every active workflow against one snapshot. Workflows
// run in parallel; a failure or slow evaluation in one workflow does not
// block the others.
func (e *Engine) Evaluate(snap stats.Snapshot, preds []models.Prediction) {
	start := time.Now()

	predBySignal := make(map[string]models.Prediction, len(preds))
	for _, p := range preds {
		predBySignal[p.SignalID] = p
	}

	e.mu.RLock()
	states := make([]*workflowState, 0, len(e.workflows))
	for _, ws := range e.workflows {
		states = append(states, ws)
	}
	e.mu.RUnlock()

	var wg sync.WaitGroup
	for _, ws := range states {
		wg.Add(1)
		go func(ws *workflowState) {
			defer wg.Done()
			e.evaluateWorkflow(ws, snap, predBySignal)
		}(ws)
	}
	wg.Wait()

	metrics.ObserveCycle(metrics.StageRules, time.Since(start))
	metrics.SetOpenAlerts(e.alerts.OpenCount())
}

func (e *Engine) evaluateWorkflow(ws *workflowState, snap stats.Snapshot, preds map[string]models.Prediction) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.def.Status != models.WorkflowActive {
		return
	}
	// A snapshot version evaluates at most once per workflow, so
	// re-delivery of the same snapshot cannot double-fire.
	if ws.evaluated && snap.Version == ws.lastVersion {
		return
	}
	ws.lastVersion = snap.Version
	ws.evaluated = true

	now := e.now().UTC()
	ws.stats.Runs++
	ws.stats.LastRun = now

	for _, sig := range snap.Signals {
		pred, hasPred := preds[sig.ID]
		hold := e.conditionsHold(ws.def.Conditions, sig, pred, hasPred)

		trig, ok := ws.perSignal[sig.ID]
		if !ok {
			trig = &triggerState{}
			ws.perSignal[sig.ID] = trig
		}

		if hold && e.mayFire(ws.def, trig, now) {
			e.fire(ws, trig, sig, now)
		}
		trig.wasTrue = hold
	}
}

// mayFire applies the edge trigger: once fired, a workflow stays quiet
// for the same signal until the condition drops and rises again or the
// cooldown window elapses.
func (e *Engine) mayFire(def models.Workflow, trig *triggerState, now time.Time) bool {
	if trig.lastFired.IsZero() {
		return true
	}
	if !trig.wasTrue {
		return true
	}
	return now.Sub(trig.lastFired) >= def.Cooldown
}

func (e *Engine) fire(ws *workflowState, trig *triggerState, sig models.Signal, now time.Time) {
	ws.stats.Fires++
	trig.lastFired = now
	metrics.ObserveWorkflowFire()

	// A re-fire supersedes the previous unconfirmed alert for the same
	// signal: the earlier fire can no longer earn a confirmation.
	if trig.pending != "" {
		e.mu.Lock()
		delete(e.pending, trig.pending)
		e.mu.Unlock()
		trig.pending = ""
	}

	for _, action := range ws.def.Actions {
		switch action.Type {
		case models.ActionAlert:
			alert := e.buildAlert(ws.def, action, sig, now)
			e.alerts.Append(alert)
			e.mu.Lock()
			e.pending[alert.ID] = pendingRef{workflowID: ws.def.ID, signalID: sig.ID}
			e.mu.Unlock()
			trig.pending = alert.ID
		case models.ActionEscalate, models.ActionNotify:
			e.recordAction(ws.def, action, sig, now)
		}
		e.fired.Add(1)
	}

	e.logger.Info("workflow fired",
		slog.String("workflow_id", ws.def.ID),
		slog.String("workflow", ws.def.Name),
		slog.String("signal_id", sig.ID))
}

func (e *Engine) buildAlert(def models.Workflow, action models.Action, sig models.Signal, now time.Time) models.Alert {
	severity := action.Severity
	if severity == "" {
		severity = models.SeverityHigh
	}
	return models.Alert{
		ID:       uuid.NewString(),
		Severity: severity,
		Priority: severity.Priority(),
		Title:    def.Name,
		Message: fmt.Sprintf("%s: signal %s at strength %.1f, velocity %+.1f pt/day, confidence %.0f%%",
			def.Name, sig.Name, sig.Strength, sig.Velocity, sig.Confidence),
		Source:         "workflow:" + def.ID,
		SignalID:       sig.ID,
		WorkflowID:     def.ID,
		ActionRequired: severity == models.SeverityCritical || severity == models.SeverityHigh,
		AssignedTo:     action.Target,
		State:          models.AlertOpen,
		CreatedAt:      now,
	}
}

func (e *Engine) recordAction(def models.Workflow, action models.Action, sig models.Signal, now time.Time) {
	record := models.ActionRecord{
		ID:         uuid.NewString(),
		WorkflowID: def.ID,
		SignalID:   sig.ID,
		Type:       action.Type,
		Target:     action.Target,
		FiredAt:    now,
	}
	e.actionMu.Lock()
	e.actions = append(e.actions, record)
	if len(e.actions) > e.cfg.AlertCapacity {
		e.actions = append(e.actions[:0:0], e.actions[1:]...)
	}
	e.actionMu.Unlock()
}

// conditionsHold evaluates the conjunction: every condition must hold in
// this one evaluation pass.
func (e *Engine) conditionsHold(conds []models.Condition, sig models.Signal, pred models.Prediction, hasPred bool) bool {
	for _, cond := range conds {
		if !conditionHolds(cond, sig, pred, hasPred) {
			return false
		}
	}
	return true
}

func conditionHolds(cond models.Condition, sig models.Signal, pred models.Prediction, hasPred bool) bool {
	if cond.Field.Numeric() {
		value, ok := numericValue(cond.Field, sig, pred, hasPred)
		if !ok {
			return false
		}
		switch cond.Op {
		case models.OpGreater:
			return value > cond.Value
		case models.OpGreaterEqual:
			return value >= cond.Value
		case models.OpLess:
			return value < cond.Value
		case models.OpLessEqual:
			return value <= cond.Value
		case models.OpEqual:
			return value == cond.Value
		}
		return false
	}

	var value string
	switch cond.Field {
	case models.FieldTrend:
		value = string(sig.Trend)
	case models.FieldCategory:
		value = string(sig.Category)
	case models.FieldSource:
		value = sig.Source
	default:
		return false
	}
	for _, candidate := range cond.Values {
		if strings.EqualFold(candidate, value) {
			return true
		}
	}
	return false
}

// numericValue resolves a numeric condition field. Prediction-backed
// fields fail closed when the signal has no current prediction.
func numericValue(field models.ConditionField, sig models.Signal, pred models.Prediction, hasPred bool) (float64, bool) {
	switch field {
	case models.FieldStrength:
		return sig.Strength, true
	case models.FieldVelocity:
		return sig.Velocity, true
	case models.FieldConfidence:
		return sig.Confidence, true
	case models.FieldSentiment:
		return sig.Sentiment, true
	case models.FieldProbability:
		if !hasPred {
			return 0, false
		}
		return pred.Probability, true
	case models.FieldTimeToSpike:
		if !hasPred {
			return 0, false
		}
		return pred.EarliestSpike.Hours() / 24, true
	}
	return 0, false
}
