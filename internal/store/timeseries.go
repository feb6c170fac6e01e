package store

import (
	"errors"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/signalstack/signal-engine/internal/models"
)

// ErrRejectedStale signals an observation older than the retention floor.
var ErrRejectedStale = errors.New("observation older than retention window")

// TimeSeries is the append-only, bounded-retention observation store.
// It exclusively owns Observations: records are immutable once appended
// and evicted oldest-first when they age out of the retention window.
// Signals are hash-partitioned across shards so appends to one signal
// never contend with another.
type TimeSeries struct {
	retention time.Duration
	shards    []*shard
	now       func() time.Time
}

type shard struct {
	mu     sync.RWMutex
	series map[string][]models.Observation
}

// New creates a store retaining observations for the given window.
func New(retention time.Duration, shardCount int) *TimeSeries {
	if shardCount <= 0 {
		shardCount = 32
	}
	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = &shard{series: make(map[string][]models.Observation)}
	}
	return &TimeSeries{
		retention: retention,
		shards:    shards,
		now:       time.Now,
	}
}

func (t *TimeSeries) shardFor(signalID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(signalID))
	return t.shards[int(h.Sum32())%len(t.shards)]
}

// Append stores one observation, rejecting records older than the
// retention floor. Eviction of aged-out history runs opportunistically
// here so it stays amortized O(1) per insert and independent of reads.
func (t *TimeSeries) Append(obs models.Observation) error {
	now := t.now()
	floor := now.Add(-t.retention)
	if obs.Timestamp.Before(floor) {
		return ErrRejectedStale
	}

	s := t.shardFor(obs.SignalID)
	s.mu.Lock()
	defer s.mu.Unlock()

	series := s.series[obs.SignalID]
	n := len(series)
	if n == 0 || !obs.Timestamp.Before(series[n-1].Timestamp) {
		series = append(series, obs)
	} else {
		// Out-of-order arrival: insert at the right slot to keep the
		// series time-ordered.
		idx := sort.Search(n, func(i int) bool {
			return series[i].Timestamp.After(obs.Timestamp)
		})
		series = append(series, models.Observation{})
		copy(series[idx+1:], series[idx:])
		series[idx] = obs
	}

	evicted := 0
	for evicted < len(series) && series[evicted].Timestamp.Before(floor) {
		evicted++
	}
	if evicted > 0 {
		series = append(series[:0:0], series[evicted:]...)
	}

	s.series[obs.SignalID] = series
	return nil
}

// WithinRetention reports whether a timestamp is newer than the
// retention floor, so callers can reject stale records synchronously
// before queueing them.
func (t *TimeSeries) WithinRetention(ts time.Time) bool {
	return !ts.Before(t.now().Add(-t.retention))
}

// Window returns a copy of the signal's observations newer than
// now-duration, time-ordered. Readers get their own slice so a window is
// never torn by concurrent appends or eviction.
func (t *TimeSeries) Window(signalID string, duration time.Duration) []models.Observation {
	cutoff := t.now().Add(-duration)

	s := t.shardFor(signalID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.series[signalID]
	idx := sort.Search(len(series), func(i int) bool {
		return !series[i].Timestamp.Before(cutoff)
	})
	if idx >= len(series) {
		return nil
	}
	out := make([]models.Observation, len(series)-idx)
	copy(out, series[idx:])
	return out
}

// Count returns the number of retained observations for one signal.
func (t *TimeSeries) Count(signalID string) int {
	s := t.shardFor(signalID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series[signalID])
}

// TotalObservations returns the number of observations currently retained.
func (t *TimeSeries) TotalObservations() int {
	total := 0
	for _, s := range t.shards {
		s.mu.RLock()
		for _, series := range s.series {
			total += len(series)
		}
		s.mu.RUnlock()
	}
	return total
}

// SignalIDs lists every signal with retained history.
func (t *TimeSeries) SignalIDs() []string {
	ids := make([]string, 0)
	for _, s := range t.shards {
		s.mu.RLock()
		for id := range s.series {
			ids = append(ids, id)
		}
		s.mu.RUnlock()
	}
	sort.Strings(ids)
	return ids
}
