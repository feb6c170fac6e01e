package predict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/signalstack/signal-engine/internal/config"
	"github.com/signalstack/signal-engine/internal/correlate"
	"github.com/signalstack/signal-engine/internal/metrics"
	"github.com/signalstack/signal-engine/internal/models"
	"github.com/signalstack/signal-engine/internal/stats"
	"github.com/signalstack/signal-engine/internal/utils"
)

// Probability blend weights: goodness of fit dominates, sustained
// velocity contributes the rest, corroboration adds on top.
const (
	fitWeight          = 0.7
	velocityWeight     = 0.3
	corroborationBoost = 4.0
	corroborationCap   = 10.0
	maxProbability     = 99.0
)

// Stats supplies the latest aggregated signal snapshot.
type Stats interface {
	Snapshot() stats.Snapshot
}

// Correlations supplies the latest published correlation edges.
type Correlations interface {
	Current() correlate.Snapshot
}

// History is the read-only observation source used for model fit.
type History interface {
	Window(signalID string, duration time.Duration) []models.Observation
}

// Snapshot is one atomically published prediction cycle. Predictions are
// superseded wholesale so probability and timeframe always come from the
// same cycle.
type Snapshot struct {
	Version     uint64
	GeneratedAt time.Time
	Predictions []models.Prediction
}

// Scorer estimates time-to-spike and spike probability per signal from
// trend extrapolation, model fit, and corroboration from correlated
// signals. It fails closed: low-fit trends are capped below the
// actionable threshold instead of reported as confident spikes.
type Scorer struct {
	logger  *slog.Logger
	cfg     config.PredictionConfig
	stats   Stats
	corr    Correlations
	history History

	snapshot atomic.Value // Snapshot
	cycles   atomic.Uint64
}

// New constructs a Scorer over the given upstream snapshots.
func New(cfg config.PredictionConfig, st Stats, corr Correlations, history History, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scorer{logger: logger, cfg: cfg, stats: st, corr: corr, history: history}
	s.snapshot.Store(Snapshot{})
	return s
}

// Run executes scoring cycles on the configured cadence until cancelled.
func (s *Scorer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Cadence)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("prediction cycle failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce scores every eligible signal and atomically replaces the
// prediction set. Cancellation publishes nothing.
func (s *Scorer) RunOnce(ctx context.Context) error {
	start := time.Now()

	snap := s.stats.Snapshot()
	peers := risingPeers(snap.Signals, s.corr.Current().Edges)

	preds := make([]models.Prediction, 0)
	for _, sig := range snap.Signals {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !sig.Scored || sig.Trend != models.TrendRising {
			continue
		}
		if sig.Confidence < s.cfg.ConfidenceFloor {
			continue
		}

		window := s.history.Window(sig.ID, s.cfg.FitWindow)
		fit, _, accel := trendFit(window)
		preds = append(preds, s.score(sig, fit, accel, peers[sig.ID]))
	}

	sort.Slice(preds, func(i, j int) bool { return preds[i].Probability > preds[j].Probability })

	published := Snapshot{
		Version:     s.cycles.Load() + 1,
		GeneratedAt: start.UTC(),
		Predictions: preds,
	}
	s.cycles.Store(published.Version)
	s.snapshot.Store(published)
	metrics.ObserveCycle(metrics.StagePrediction, time.Since(start))

	s.logger.Debug("prediction cycle complete", slog.Int("predictions", len(preds)))
	return nil
}

// Current returns the last published prediction snapshot.
func (s *Scorer) Current() Snapshot {
	snap, _ := s.snapshot.Load().(Snapshot)
	return snap
}

func (s *Scorer) score(sig models.Signal, fit, accel float64, corroborating int) models.Prediction {
	velocity := sig.Velocity + utils.Clamp(accel, -s.cfg.AccelerationCap, s.cfg.AccelerationCap)

	var eta time.Duration
	if velocity <= 0 {
		eta = s.cfg.MaxHorizon
	} else {
		remaining := s.cfg.SpikeThreshold - sig.Strength
		if remaining < 0 {
			remaining = 0
		}
		eta = time.Duration(remaining / velocity * 24 * float64(time.Hour))
	}
	eta = utils.ClampDuration(eta, s.cfg.MinHorizon, s.cfg.MaxHorizon)
	earliest := utils.ClampDuration(eta*3/4, s.cfg.MinHorizon, s.cfg.MaxHorizon)
	latest := utils.ClampDuration(eta*5/4, s.cfg.MinHorizon, s.cfg.MaxHorizon)

	trendCredit := utils.Clamp(velocity/s.cfg.VelocityRef, 0, 1)
	probability := 100 * (fitWeight*fit + velocityWeight*trendCredit)
	boost := utils.Clamp(corroborationBoost*float64(corroborating), 0, corroborationCap)
	probability = utils.Clamp(probability+boost, 0, maxProbability)

	lowFit := fit < s.cfg.FitFloor
	if lowFit && probability > s.cfg.ActionableCap {
		probability = s.cfg.ActionableCap
	}

	factors := []string{
		fmt.Sprintf("sustained velocity %+.1f pt/day", velocity),
		fmt.Sprintf("trend model fit %.2f", fit),
	}
	if corroborating > 0 {
		factors = append(factors, fmt.Sprintf("corroborated by %d correlated rising signals", corroborating))
	}
	if sig.Sentiment < -0.3 {
		factors = append(factors, fmt.Sprintf("negative sentiment %.1f", sig.Sentiment))
	}

	return models.Prediction{
		ID:               uuid.NewString(),
		SignalID:         sig.ID,
		Probability:      probability,
		Impact:           impactTier(probability, sig.Category),
		Trajectory:       trajectory(probability, accel),
		EarliestSpike:    earliest,
		LatestSpike:      latest,
		Fit:              fit,
		LowFit:           lowFit,
		Factors:          factors,
		Recommendation:   recommendationFor(sig.Category),
		RecommendationID: uuid.NewString(),
		GeneratedAt:      time.Now().UTC(),
	}
}

// risingPeers counts, per signal, the non-weak correlated signals that
// are themselves rising. Rising correlated signals raise confidence.
func risingPeers(signals []models.Signal, edges []models.CorrelationEdge) map[string]int {
	trends := make(map[string]models.Trend, len(signals))
	for _, sig := range signals {
		trends[sig.ID] = sig.Trend
	}

	peers := make(map[string]int)
	for _, edge := range edges {
		if edge.Strength == models.EdgeWeak {
			continue
		}
		if trends[edge.SignalB] == models.TrendRising {
			peers[edge.SignalA]++
		}
		if trends[edge.SignalA] == models.TrendRising {
			peers[edge.SignalB]++
		}
	}
	return peers
}

// trendFit regresses magnitude against time and returns the coefficient
// of determination, the fitted slope in pt/day, and a second-order
// acceleration estimate (slope delta between window halves, pt/day).
func trendFit(obs []models.Observation) (fit, slope, accel float64) {
	if len(obs) < 4 {
		return 0, 0, 0
	}

	fit, slope = regress(obs)

	mid := len(obs) / 2
	_, firstSlope := regress(obs[:mid])
	_, secondSlope := regress(obs[mid:])
	accel = secondSlope - firstSlope
	return fit, slope, accel
}

func regress(obs []models.Observation) (fit, slope float64) {
	if len(obs) < 2 {
		return 0, 0
	}

	t0 := obs[0].Timestamp
	n := float64(len(obs))
	var sumX, sumY float64
	for _, o := range obs {
		sumX += utils.DurationDays(o.Timestamp.Sub(t0))
		sumY += o.Magnitude
	}
	meanX := sumX / n
	meanY := sumY / n

	var covXY, varX float64
	for _, o := range obs {
		dx := utils.DurationDays(o.Timestamp.Sub(t0)) - meanX
		covXY += dx * (o.Magnitude - meanY)
		varX += dx * dx
	}
	if varX == 0 {
		return 0, 0
	}
	slope = covXY / varX
	intercept := meanY - slope*meanX

	var ssRes, ssTot float64
	for _, o := range obs {
		x := utils.DurationDays(o.Timestamp.Sub(t0))
		residual := o.Magnitude - (intercept + slope*x)
		ssRes += residual * residual
		dy := o.Magnitude - meanY
		ssTot += dy * dy
	}
	if ssTot == 0 {
		return 0, slope
	}
	return utils.Clamp(1-ssRes/ssTot, 0, 1), slope
}

func impactTier(probability float64, category models.Category) models.ImpactTier {
	tier := models.ImpactLow
	switch {
	case probability >= 80:
		tier = models.ImpactHigh
	case probability >= 60:
		tier = models.ImpactMedium
	}
	if category == models.CategorySecurity && tier == models.ImpactMedium {
		tier = models.ImpactHigh
	}
	return tier
}

func trajectory(probability, accel float64) models.Trajectory {
	switch {
	case accel > 0.5:
		return models.TrajectoryAccelerating
	case probability >= 75:
		return models.TrajectorySteady
	default:
		return models.TrajectoryBuilding
	}
}

func recommendationFor(category models.Category) string {
	switch category {
	case models.CategoryTechnical:
		return "Review capacity limits and scale the affected subsystem"
	case models.CategoryBug:
		return "Prioritize stability fixes for the affected surface"
	case models.CategoryFeature:
		return "Evaluate the requested capability against the roadmap"
	case models.CategoryCompetitive:
		return "Develop a competitive response strategy"
	case models.CategoryPerformance:
		return "Profile the hot path and schedule optimization work"
	case models.CategorySecurity:
		return "Escalate to the security team for immediate triage"
	default:
		return "Review recent signal history with the owning team"
	}
}
