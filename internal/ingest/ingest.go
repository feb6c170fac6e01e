package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/signalstack/signal-engine/internal/config"
	"github.com/signalstack/signal-engine/internal/metrics"
	"github.com/signalstack/signal-engine/internal/models"
	"github.com/signalstack/signal-engine/internal/store"
)

var (
	// ErrInvalidObservation marks a malformed observation rejected at
	// the boundary before it can touch the store.
	ErrInvalidObservation = errors.New("invalid observation")

	// ErrBusy is the caller-visible backpressure signal: the ingest
	// queue is full and the observation was refused, not silently
	// dropped.
	ErrBusy = errors.New("ingest queue full")

	// ErrStopped marks a submission after shutdown began.
	ErrStopped = errors.New("ingestor stopped")
)

// Sink receives accepted observations downstream of the store append.
type Sink interface {
	Observe(obs models.Observation)
}

// Ingestor is the single write path into the engine. Observations are
// partitioned by signal id onto worker queues so each signal has one
// writer, which keeps per-signal updates ordered without locks on the
// hot path.
type Ingestor struct {
	logger *slog.Logger
	cfg    config.IngestConfig
	store  *store.TimeSeries
	sink   Sink

	queues []chan models.Observation
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// New constructs an ingestor writing to the given store and sink.
func New(cfg config.IngestConfig, ts *store.TimeSeries, sink Sink, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}

	queues := make([]chan models.Observation, workers)
	for i := range queues {
		queues[i] = make(chan models.Observation, queueSize)
	}
	return &Ingestor{
		logger: logger,
		cfg:    cfg,
		store:  ts,
		sink:   sink,
		queues: queues,
	}
}

// Start launches the worker goroutines.
func (in *Ingestor) Start() {
	for _, queue := range in.queues {
		in.wg.Add(1)
		go in.work(queue)
	}
	in.logger.Info("ingest workers started", slog.Int("workers", len(in.queues)))
}

// Stop drains the queues and waits for in-flight observations to land.
func (in *Ingestor) Stop(ctx context.Context) error {
	in.mu.Lock()
	if in.stopped {
		in.mu.Unlock()
		return nil
	}
	in.stopped = true
	in.mu.Unlock()

	for _, queue := range in.queues {
		close(queue)
	}

	done := make(chan struct{})
	go func() {
		in.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit validates and enqueues one observation. Every rejection is a
// typed error: validation failures, retention-floor staleness checked on
// the worker, and queue backpressure all surface to the caller.
func (in *Ingestor) Submit(obs models.Observation) error {
	if err := in.validate(obs); err != nil {
		metrics.ObserveIngest(metrics.OutcomeInvalid)
		return err
	}
	if !in.store.WithinRetention(obs.Timestamp) {
		metrics.ObserveIngest(metrics.OutcomeStale)
		return store.ErrRejectedStale
	}

	in.mu.RLock()
	defer in.mu.RUnlock()
	if in.stopped {
		return ErrStopped
	}

	queue := in.queues[partition(obs.SignalID, len(in.queues))]
	select {
	case queue <- obs:
		return nil
	default:
		metrics.ObserveIngest(metrics.OutcomeBusy)
		return ErrBusy
	}
}

func (in *Ingestor) validate(obs models.Observation) error {
	if obs.SignalID == "" {
		return fmt.Errorf("%w: missing signal id", ErrInvalidObservation)
	}
	if obs.Source == "" {
		return fmt.Errorf("%w: missing source", ErrInvalidObservation)
	}
	if obs.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidObservation)
	}
	if in.cfg.MaxFuture > 0 && obs.Timestamp.After(time.Now().Add(in.cfg.MaxFuture)) {
		return fmt.Errorf("%w: timestamp too far in the future", ErrInvalidObservation)
	}
	if obs.Magnitude < 0 || obs.Magnitude > 100 {
		return fmt.Errorf("%w: magnitude %.2f outside [0,100]", ErrInvalidObservation, obs.Magnitude)
	}
	if obs.Sentiment < -1 || obs.Sentiment > 1 {
		return fmt.Errorf("%w: sentiment %.2f outside [-1,1]", ErrInvalidObservation, obs.Sentiment)
	}
	return nil
}

func (in *Ingestor) work(queue <-chan models.Observation) {
	defer in.wg.Done()
	for obs := range queue {
		if err := in.store.Append(obs); err != nil {
			if errors.Is(err, store.ErrRejectedStale) {
				metrics.ObserveIngest(metrics.OutcomeStale)
				continue
			}
			metrics.ObserveIngest(metrics.OutcomeInvalid)
			in.logger.Warn("store append failed",
				slog.String("signal_id", obs.SignalID), slog.Any("error", err))
			continue
		}
		in.sink.Observe(obs)
		metrics.ObserveIngest(metrics.OutcomeAccepted)
	}
}

// partition maps a signal id to a worker queue with FNV-1a, so all
// observations for one signal land on the same worker.
func partition(signalID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(signalID))
	return int(h.Sum32() % uint32(n))
}
