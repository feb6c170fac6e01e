package stats

import (
	"errors"
	"hash/fnv"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/signalstack/signal-engine/internal/config"
	"github.com/signalstack/signal-engine/internal/models"
	"github.com/signalstack/signal-engine/internal/utils"
)

// ErrInsufficientData marks a signal with fewer samples than the scoring
// minimum. Callers surface it as "unscored", never as zero confidence.
var ErrInsufficientData = errors.New("insufficient samples to score signal")

// ErrUnknownSignal marks a signal id with no registered state at all.
var ErrUnknownSignal = errors.New("unknown signal")

const shardCount = 32

// Snapshot is a consistent view of every signal's derived statistics.
// Version increases monotonically with each applied observation so
// downstream consumers can key idempotent evaluation off it.
type Snapshot struct {
	Version uint64
	TakenAt time.Time
	Signals []models.Signal
}

// Aggregator owns the derived Signal views. Each signal's statistics are
// updated under one shard lock so the hot append path never takes a
// cross-signal lock.
type Aggregator struct {
	cfg       config.StatsConfig
	alpha     float64
	logger    *slog.Logger
	shards    [shardCount]*aggShard
	version   atomic.Uint64
	processed atomic.Int64
}

type aggShard struct {
	mu      sync.RWMutex
	signals map[string]*signalState
}

type signalState struct {
	sig     models.Signal
	recent  []strengthSample
	runUp   int
	runDown int
	runFlat int
}

type strengthSample struct {
	at       time.Time
	strength float64
}

// New constructs an Aggregator. The EWMA decay constant is derived from
// the configured half-life in samples.
func New(cfg config.StatsConfig, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StrengthHalfLife <= 0 {
		cfg.StrengthHalfLife = 14
	}
	if cfg.VelocityWindow < 2 {
		cfg.VelocityWindow = 5
	}
	if cfg.TrendRuns <= 0 {
		cfg.TrendRuns = 3
	}
	if cfg.TrendThreshold <= 0 {
		cfg.TrendThreshold = 1
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 5
	}
	if cfg.DefaultSourceK <= 0 {
		cfg.DefaultSourceK = 5
	}

	a := &Aggregator{
		cfg:    cfg,
		alpha:  1 - math.Pow(0.5, 1/cfg.StrengthHalfLife),
		logger: logger,
	}
	for i := range a.shards {
		a.shards[i] = &aggShard{signals: make(map[string]*signalState)}
	}
	return a
}

func (a *Aggregator) shardFor(signalID string) *aggShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(signalID))
	return a.shards[int(h.Sum32())%shardCount]
}

// Register seeds signal metadata ahead of its first observation.
func (a *Aggregator) Register(id, name, source string, category models.Category) {
	if id == "" {
		return
	}
	if name == "" {
		name = id
	}
	if !category.Valid() {
		category = models.CategoryTechnical
	}
	s := a.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.signals[id]; ok {
		return
	}
	s.signals[id] = &signalState{
		sig: models.Signal{
			ID:       id,
			Name:     name,
			Source:   source,
			Category: category,
			Trend:    models.TrendStable,
		},
	}
}

// Observe applies one observation to the owning signal's rolling
// statistics: EWMA strength and sentiment, short-window velocity, trend
// hysteresis, and saturating confidence.
func (a *Aggregator) Observe(obs models.Observation) {
	s := a.shardFor(obs.SignalID)
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.signals[obs.SignalID]
	if !ok {
		st = &signalState{
			sig: models.Signal{
				ID:       obs.SignalID,
				Name:     obs.SignalID,
				Source:   obs.Source,
				Category: models.CategoryTechnical,
				Trend:    models.TrendStable,
			},
		}
		s.signals[obs.SignalID] = st
	}
	if st.sig.Source == "" {
		st.sig.Source = obs.Source
	}

	magnitude := utils.Clamp(obs.Magnitude, 0, 100)
	sentiment := utils.Clamp(obs.Sentiment, -1, 1)

	if st.sig.SampleCount == 0 {
		st.sig.Strength = magnitude
		st.sig.Sentiment = sentiment
	} else {
		st.sig.Strength += a.alpha * (magnitude - st.sig.Strength)
		st.sig.Sentiment += a.alpha * (sentiment - st.sig.Sentiment)
	}
	st.sig.Strength = utils.Clamp(st.sig.Strength, 0, 100)
	st.sig.Sentiment = utils.Clamp(st.sig.Sentiment, -1, 1)
	st.sig.SampleCount++
	st.sig.UpdatedAt = obs.Timestamp

	st.recent = append(st.recent, strengthSample{at: obs.Timestamp, strength: st.sig.Strength})
	if len(st.recent) > a.cfg.VelocityWindow {
		st.recent = st.recent[len(st.recent)-a.cfg.VelocityWindow:]
	}
	st.sig.Velocity = a.velocity(st.recent, st.sig.Velocity)

	a.applyTrend(st)

	st.sig.Confidence = a.confidence(st.sig.SampleCount, st.sig.Source)
	st.sig.Scored = st.sig.SampleCount >= a.cfg.MinSamples
	if !st.sig.Scored {
		st.sig.Confidence = 0
	}

	a.version.Add(1)
	a.processed.Add(1)
}

// velocity is the rate of change of smoothed strength across the recent
// sample window, in points per day.
func (a *Aggregator) velocity(recent []strengthSample, previous float64) float64 {
	if len(recent) < 2 {
		return 0
	}
	first := recent[0]
	last := recent[len(recent)-1]
	days := utils.DurationDays(last.at.Sub(first.at))
	if days <= 0 {
		return previous
	}
	return (last.strength - first.strength) / days
}

// applyTrend classifies the trend with hysteresis: a direction only takes
// over after TrendRuns consecutive evaluations beyond the threshold, so a
// single noisy sample cannot flip the classification.
func (a *Aggregator) applyTrend(st *signalState) {
	switch {
	case st.sig.Velocity > a.cfg.TrendThreshold:
		st.runUp++
		st.runDown = 0
		st.runFlat = 0
	case st.sig.Velocity < -a.cfg.TrendThreshold:
		st.runDown++
		st.runUp = 0
		st.runFlat = 0
	default:
		st.runFlat++
		st.runUp = 0
		st.runDown = 0
	}

	switch {
	case st.runUp >= a.cfg.TrendRuns:
		st.sig.Trend = models.TrendRising
	case st.runDown >= a.cfg.TrendRuns:
		st.sig.Trend = models.TrendFalling
	case st.runFlat >= a.cfg.TrendRuns:
		st.sig.Trend = models.TrendStable
	}
}

// confidence saturates with sample count: 100 * (1 - 1/(1+n/k)), where k
// is the per-source reliability constant (noisier sources need more
// samples for the same confidence).
func (a *Aggregator) confidence(n int, source string) float64 {
	k := a.cfg.DefaultSourceK
	if v, ok := a.cfg.SourceK[source]; ok && v > 0 {
		k = v
	}
	return utils.Clamp(100*(1-1/(1+float64(n)/k)), 0, 100)
}

// Score returns the derived view for one signal. Signals below the
// minimum sample count return ErrInsufficientData alongside the partial
// (unscored) view.
func (a *Aggregator) Score(signalID string) (models.Signal, error) {
	s := a.shardFor(signalID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.signals[signalID]
	if !ok {
		return models.Signal{}, ErrUnknownSignal
	}
	if !st.sig.Scored {
		return st.sig, ErrInsufficientData
	}
	return st.sig, nil
}

// Snapshot returns a versioned copy of every signal's derived view,
// sorted by id. Unscored signals are included with Scored=false.
func (a *Aggregator) Snapshot() Snapshot {
	signals := make([]models.Signal, 0)
	for _, s := range a.shards {
		s.mu.RLock()
		for _, st := range s.signals {
			signals = append(signals, st.sig)
		}
		s.mu.RUnlock()
	}
	sort.Slice(signals, func(i, j int) bool { return signals[i].ID < signals[j].ID })
	return Snapshot{
		Version: a.version.Load(),
		TakenAt: time.Now().UTC(),
		Signals: signals,
	}
}

// Processed returns the number of observations applied since start.
func (a *Aggregator) Processed() int64 {
	return a.processed.Load()
}
