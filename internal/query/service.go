package query

import (
	"log/slog"
	"strings"
	"time"

	"github.com/signalstack/signal-engine/internal/correlate"
	"github.com/signalstack/signal-engine/internal/models"
	"github.com/signalstack/signal-engine/internal/predict"
	"github.com/signalstack/signal-engine/internal/rules"
	"github.com/signalstack/signal-engine/internal/stats"
	"github.com/signalstack/signal-engine/internal/utils"
)

// Stats supplies the latest aggregated signal snapshot.
type Stats interface {
	Snapshot() stats.Snapshot
	Processed() int64
}

// Correlations supplies the latest published correlation edges.
type Correlations interface {
	Current() correlate.Snapshot
}

// Predictions supplies the latest published prediction snapshot.
type Predictions interface {
	Current() predict.Snapshot
}

// Rules exposes the workflow and alert state backing read projections.
type Rules interface {
	List() []rules.WorkflowView
	ActiveCount() int
	ActionsFired() int64
	Alerts() *rules.AlertLog
}

// History exposes store-level counters for the overview.
type History interface {
	TotalObservations() int
}

// Service is the read-only query facade. Every projection reads from
// published snapshots and never mutates analytics state, so dashboard
// load cannot skew statistics or trigger recomputation.
type Service struct {
	logger  *slog.Logger
	stats   Stats
	corr    Correlations
	preds   Predictions
	rules   Rules
	history History
	latency *utils.LatencyTracker
}

// New constructs the query facade.
func New(st Stats, corr Correlations, preds Predictions, ru Rules, history History, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:  logger,
		stats:   st,
		corr:    corr,
		preds:   preds,
		rules:   ru,
		history: history,
		latency: utils.NewLatencyTracker(512),
	}
}

// Signals returns the current signal set narrowed by the filter.
// Dimensions combine conjunctively; an empty set for a dimension means
// no restriction on it.
func (s *Service) Signals(filter models.QueryFilter) []models.Signal {
	start := time.Now()
	snap := s.stats.Snapshot()

	out := make([]models.Signal, 0, len(snap.Signals))
	for _, sig := range snap.Signals {
		if !matchesAny(filter.Sources, sig.Source) {
			continue
		}
		if !matchesAny(filter.Categories, string(sig.Category)) {
			continue
		}
		if !matchesAny(filter.Severities, string(sig.Severity())) {
			continue
		}
		// An unscored signal has no meaningful confidence yet: it only
		// passes when the caller did not narrow the confidence range.
		if !sig.Scored {
			if !filter.Unrestricted() {
				continue
			}
		} else if sig.Confidence < filter.ConfidenceMin || sig.Confidence > filter.ConfidenceMax {
			continue
		}
		out = append(out, sig)
	}

	s.observe("signals", start)
	return out
}

// Signal returns one signal by id.
func (s *Service) Signal(id string) (models.Signal, bool) {
	for _, sig := range s.stats.Snapshot().Signals {
		if sig.ID == id {
			return sig, true
		}
	}
	return models.Signal{}, false
}

// TopAlerts returns up to n alerts ordered by severity, then recency.
func (s *Service) TopAlerts(n int) []models.Alert {
	start := time.Now()
	alerts := s.rules.Alerts().TopN(n)
	s.observe("alerts", start)
	return alerts
}

// Matrix returns the current correlation edges with weak edges elided:
// the dashboard matrix only renders relationships worth acting on.
func (s *Service) Matrix() []models.CorrelationEdge {
	start := time.Now()
	snap := s.corr.Current()

	out := make([]models.CorrelationEdge, 0, len(snap.Edges))
	for _, edge := range snap.Edges {
		if edge.Strength == models.EdgeWeak {
			continue
		}
		out = append(out, edge)
	}

	s.observe("matrix", start)
	return out
}

// Predictions returns the latest prediction set, highest probability first.
func (s *Service) Predictions() []models.Prediction {
	start := time.Now()
	snap := s.preds.Current()
	out := make([]models.Prediction, len(snap.Predictions))
	copy(out, snap.Predictions)
	s.observe("predictions", start)
	return out
}

// Workflows returns all workflows with their run history.
func (s *Service) Workflows() []rules.WorkflowView {
	return s.rules.List()
}

// Overview assembles the dashboard header counters from live state.
func (s *Service) Overview() models.Overview {
	snap := s.stats.Snapshot()
	return models.Overview{
		SignalsTracked:    len(snap.Signals),
		SignalsProcessed:  s.stats.Processed(),
		DataPoints:        s.history.TotalObservations(),
		ActiveAlerts:      s.rules.Alerts().OpenCount(),
		AutomationActions: s.rules.ActionsFired(),
		ActiveWorkflows:   s.rules.ActiveCount(),
	}
}

func (s *Service) observe(projection string, start time.Time) {
	s.latency.Observe(time.Since(start))
	if s.latency.Count()%100 == 0 {
		s.logger.Debug("query latency",
			slog.String("projection", projection),
			slog.Duration("p95", s.latency.Percentile(95)))
	}
}

// matchesAny reports whether value is in the allow set; an empty set
// allows everything.
func matchesAny(allowed []string, value string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, candidate := range allowed {
		if strings.EqualFold(candidate, value) {
			return true
		}
	}
	return false
}
