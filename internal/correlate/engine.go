package correlate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/signalstack/signal-engine/internal/config"
	"github.com/signalstack/signal-engine/internal/metrics"
	"github.com/signalstack/signal-engine/internal/models"
	"github.com/signalstack/signal-engine/internal/utils"
)

// ErrStaleCorrelation marks a pair without enough overlapping samples to
// report an edge. Such edges are withheld rather than shown with
// misleading confidence.
var ErrStaleCorrelation = errors.New("insufficient overlapping samples for correlation")

// edgeConfidenceK tunes how fast edge confidence saturates with aligned
// bucket count.
const edgeConfidenceK = 8

// History is the read-only observation source the engine correlates over.
type History interface {
	SignalIDs() []string
	Window(signalID string, duration time.Duration) []models.Observation
}

// Snapshot is one atomically published correlation cycle result.
type Snapshot struct {
	Version    uint64
	ComputedAt time.Time
	Edges      []models.CorrelationEdge
	Partial    bool
	Withheld   int
}

// Engine recomputes pairwise correlation edges on a fixed cadence rather
// than per observation, because the pass is O(n^2) in active signals.
// Results are published via atomic snapshot swap; a cancelled cycle
// leaves the prior snapshot intact.
type Engine struct {
	logger  *slog.Logger
	history History
	cfg     config.CorrelationConfig

	snapshot atomic.Value // Snapshot
	cycles   atomic.Uint64
}

// New constructs a correlation engine over the given history.
func New(cfg config.CorrelationConfig, history History, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{logger: logger, history: history, cfg: cfg}
	e.snapshot.Store(Snapshot{})
	return e
}

// Run executes correlation cycles on the configured cadence until the
// context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Cadence)
	defer ticker.Stop()

	for {
		if err := e.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Warn("correlation cycle failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce computes every eligible pair and atomically swaps in the new
// edge set. Per-pair failures are isolated: the cycle completes with the
// snapshot flagged partial instead of aborting.
func (e *Engine) RunOnce(ctx context.Context) error {
	start := time.Now()

	ids := e.history.SignalIDs()
	series := make(map[string][]models.Observation, len(ids))
	eligible := make([]string, 0, len(ids))
	for _, id := range ids {
		window := e.history.Window(id, e.cfg.Window)
		if len(window) < e.cfg.MinSamples {
			continue
		}
		series[id] = window
		eligible = append(eligible, id)
		if e.cfg.MaxSignals > 0 && len(eligible) >= e.cfg.MaxSignals {
			break
		}
	}
	sort.Strings(eligible)

	snap := Snapshot{
		Version:    e.cycles.Load() + 1,
		ComputedAt: start.UTC(),
	}

	for i := 0; i < len(eligible); i++ {
		for j := i + 1; j < len(eligible); j++ {
			select {
			case <-ctx.Done():
				// Partial results are never published.
				return ctx.Err()
			default:
			}

			a, b := eligible[i], eligible[j]
			edge, err := e.computePair(a, b, series[a], series[b])
			if err != nil {
				if errors.Is(err, ErrStaleCorrelation) {
					snap.Withheld++
					continue
				}
				snap.Partial = true
				e.logger.Warn("pair correlation failed",
					slog.String("signal_a", a), slog.String("signal_b", b), slog.Any("error", err))
				continue
			}
			snap.Edges = append(snap.Edges, edge)
		}
	}

	sort.Slice(snap.Edges, func(i, j int) bool {
		return math.Abs(snap.Edges[i].Coefficient) > math.Abs(snap.Edges[j].Coefficient)
	})

	e.cycles.Store(snap.Version)
	e.snapshot.Store(snap)
	metrics.ObserveCycle(metrics.StageCorrelation, time.Since(start))

	e.logger.Debug("correlation cycle complete",
		slog.Int("signals", len(eligible)),
		slog.Int("edges", len(snap.Edges)),
		slog.Int("withheld", snap.Withheld),
		slog.Bool("partial", snap.Partial))
	return nil
}

// Current returns the last published snapshot. Readers keep whatever
// snapshot they fetched until they re-fetch; there are no torn reads.
func (e *Engine) Current() Snapshot {
	snap, _ := e.snapshot.Load().(Snapshot)
	return snap
}

// computePair aligns both series onto shared time buckets (bucket width =
// the coarser of the two native cadences), scans candidate lags, and
// reports the lag maximizing |r| with the coefficient at that lag.
func (e *Engine) computePair(idA, idB string, a, b []models.Observation) (models.CorrelationEdge, error) {
	bucket := e.bucketWidth(a, b)
	sa := resample(a, bucket)
	sb := resample(b, bucket)

	maxSteps := e.cfg.MaxLagSteps
	if bucket > 0 {
		if byLag := int(e.cfg.MaxLag / bucket); byLag < maxSteps {
			maxSteps = byLag
		}
	}

	var (
		found    bool
		bestR    float64
		bestLag  int
		bestN    int
		pairErrs int
	)
	for lag := 0; lag <= maxSteps; lag++ {
		xs, ys := alignAtLag(sa, sb, lag)
		if len(xs) < e.cfg.MinOverlap {
			continue
		}
		r, err := pearson(xs, ys)
		if err != nil {
			pairErrs++
			continue
		}
		if !found || math.Abs(r) > math.Abs(bestR) {
			found = true
			bestR = r
			bestLag = lag
			bestN = len(xs)
		}
	}
	if !found {
		if pairErrs > 0 {
			return models.CorrelationEdge{}, fmt.Errorf("no computable lag for %s/%s: %d degenerate alignments", idA, idB, pairErrs)
		}
		return models.CorrelationEdge{}, ErrStaleCorrelation
	}

	lag := time.Duration(bestLag) * bucket
	direction := models.DirectionPositive
	if bestR < 0 {
		direction = models.DirectionNegative
	}

	return models.CorrelationEdge{
		ID:          fmt.Sprintf("%s:%s", idA, idB),
		SignalA:     idA,
		SignalB:     idB,
		Coefficient: bestR,
		Lag:         lag,
		LagLabel:    utils.HumanizeLag(lag),
		Strength:    models.StrengthLabel(bestR),
		Direction:   direction,
		Confidence:  utils.Clamp(100*(1-1/(1+float64(bestN)/edgeConfidenceK)), 0, 100),
		Samples:     bestN,
		ComputedAt:  time.Now().UTC(),
	}, nil
}

func (e *Engine) bucketWidth(a, b []models.Observation) time.Duration {
	ga := utils.MedianGap(timestamps(a))
	gb := utils.MedianGap(timestamps(b))
	bucket := ga
	if gb > bucket {
		bucket = gb
	}
	return utils.ClampDuration(bucket, e.cfg.MinBucket, e.cfg.MaxBucket)
}

func timestamps(obs []models.Observation) []time.Time {
	times := make([]time.Time, len(obs))
	for i, o := range obs {
		times[i] = o.Timestamp
	}
	return times
}

// resample averages magnitudes per bucket index.
func resample(obs []models.Observation, bucket time.Duration) map[int64]float64 {
	sums := make(map[int64]float64)
	counts := make(map[int64]int)
	sec := int64(bucket / time.Second)
	if sec <= 0 {
		sec = 1
	}
	for _, o := range obs {
		idx := o.Timestamp.Unix() / sec
		sums[idx] += o.Magnitude
		counts[idx]++
	}
	out := make(map[int64]float64, len(sums))
	for idx, sum := range sums {
		out[idx] = sum / float64(counts[idx])
	}
	return out
}

// alignAtLag pairs A's bucket with B's bucket lag steps later, so a
// positive lag means A precedes B.
func alignAtLag(sa, sb map[int64]float64, lag int) ([]float64, []float64) {
	idxs := make([]int64, 0, len(sa))
	for idx := range sa {
		if _, ok := sb[idx+int64(lag)]; ok {
			idxs = append(idxs, idx)
		}
	}
	sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })

	xs := make([]float64, 0, len(idxs))
	ys := make([]float64, 0, len(idxs))
	for _, idx := range idxs {
		xs = append(xs, sa[idx])
		ys = append(ys, sb[idx+int64(lag)])
	}
	return xs, ys
}

func pearson(xs, ys []float64) (float64, error) {
	if len(xs) != len(ys) || len(xs) == 0 {
		return 0, fmt.Errorf("mismatched series lengths")
	}

	n := float64(len(xs))
	meanX, meanY := 0.0, 0.0
	for i := range xs {
		meanX += xs[i]
		meanY += ys[i]
	}
	meanX /= n
	meanY /= n

	var cov, varX, varY float64
	for i := range xs {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0, fmt.Errorf("series without variance")
	}
	return cov / math.Sqrt(varX*varY), nil
}
