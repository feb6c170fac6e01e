package correlate

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/signalstack/signal-engine/internal/config"
	"github.com/signalstack/signal-engine/internal/models"
)

type fakeHistory struct {
	series map[string][]models.Observation
}

func (f *fakeHistory) SignalIDs() []string {
	ids := make([]string, 0, len(f.series))
	for id := range f.series {
		ids = append(ids, id)
	}
	return ids
}

func (f *fakeHistory) Window(signalID string, duration time.Duration) []models.Observation {
	return f.series[signalID]
}

func testConfig() config.CorrelationConfig {
	return config.CorrelationConfig{
		Cadence:     time.Minute,
		Window:      30 * 24 * time.Hour,
		MinOverlap:  12,
		MinSamples:  8,
		MaxLag:      7 * 24 * time.Hour,
		MaxLagSteps: 8,
		MinBucket:   5 * time.Minute,
		MaxBucket:   24 * time.Hour,
		MaxSignals:  50,
	}
}

// dailySeries builds one observation per day from the given values.
func dailySeries(id, source string, start time.Time, values []float64) []models.Observation {
	obs := make([]models.Observation, 0, len(values))
	for i, v := range values {
		obs = append(obs, models.Observation{
			SignalID:  id,
			Source:    source,
			Timestamp: start.Add(time.Duration(i) * 24 * time.Hour),
			Magnitude: v,
		})
	}
	return obs
}

func antiCorrelatedValues(n int) ([]float64, []float64) {
	a := make([]float64, n)
	b := make([]float64, n)
	for i := 0; i < n; i++ {
		// Aperiodic wobble so no non-zero lag beats the aligned fit.
		v := 50 + 30*math.Sin(float64(i)*0.7) + 5*math.Sin(float64(i)*2.3)
		a[i] = v
		b[i] = 100 - v
	}
	return a, b
}

func TestAntiCorrelatedPairReportsStrongNegativeEdge(t *testing.T) {
	start := time.Now().Add(-29 * 24 * time.Hour).Truncate(24 * time.Hour)
	va, vb := antiCorrelatedValues(30)

	history := &fakeHistory{series: map[string][]models.Observation{
		"api-complaints": dailySeries("api-complaints", "Reddit", start, va),
		"crash-reports":  dailySeries("crash-reports", "Internal Telemetry", start, vb),
	}}

	engine := New(testConfig(), history, nil)
	if err := engine.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	snap := engine.Current()
	if len(snap.Edges) != 1 {
		t.Fatalf("expected one edge, got %d", len(snap.Edges))
	}
	edge := snap.Edges[0]
	if edge.Coefficient > -0.7 {
		t.Fatalf("expected coefficient <= -0.7, got %f", edge.Coefficient)
	}
	if edge.Strength != models.EdgeStrong {
		t.Fatalf("expected strong label, got %s", edge.Strength)
	}
	if edge.Direction != models.DirectionNegative {
		t.Fatalf("expected negative direction, got %s", edge.Direction)
	}
	if edge.SignalA >= edge.SignalB {
		t.Fatalf("edge pair must be canonically ordered: %s/%s", edge.SignalA, edge.SignalB)
	}
}

func TestRecomputationIsIdempotent(t *testing.T) {
	start := time.Now().Add(-29 * 24 * time.Hour).Truncate(24 * time.Hour)
	va, vb := antiCorrelatedValues(30)

	history := &fakeHistory{series: map[string][]models.Observation{
		"sig-a": dailySeries("sig-a", "Reddit", start, va),
		"sig-b": dailySeries("sig-b", "Twitter", start, vb),
	}}

	engine := New(testConfig(), history, nil)
	if err := engine.RunOnce(context.Background()); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	first := engine.Current()

	if err := engine.RunOnce(context.Background()); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	second := engine.Current()

	if second.Version <= first.Version {
		t.Fatalf("version must advance per cycle")
	}
	if len(first.Edges) != 1 || len(second.Edges) != 1 {
		t.Fatalf("expected one edge per cycle")
	}
	if first.Edges[0].Coefficient != second.Edges[0].Coefficient {
		t.Fatalf("unchanged window must yield the same coefficient: %f vs %f",
			first.Edges[0].Coefficient, second.Edges[0].Coefficient)
	}
	if first.Edges[0].Lag != second.Edges[0].Lag {
		t.Fatalf("unchanged window must yield the same lag")
	}
}

func TestLowOverlapEdgeIsWithheld(t *testing.T) {
	start := time.Now().Add(-29 * 24 * time.Hour).Truncate(24 * time.Hour)
	va, _ := antiCorrelatedValues(30)

	history := &fakeHistory{series: map[string][]models.Observation{
		"sig-a": dailySeries("sig-a", "Reddit", start, va),
		// Only 8 samples, all far from sig-a's tail: too little overlap.
		"sig-b": dailySeries("sig-b", "Twitter", start, []float64{1, 2, 3, 4, 5, 6, 7, 8}),
	}}

	engine := New(testConfig(), history, nil)
	if err := engine.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	snap := engine.Current()
	if len(snap.Edges) != 0 {
		t.Fatalf("expected low-overlap edge to be withheld, got %d edges", len(snap.Edges))
	}
	if snap.Withheld != 1 {
		t.Fatalf("expected 1 withheld pair, got %d", snap.Withheld)
	}
}

func TestCancelledCycleKeepsPriorSnapshot(t *testing.T) {
	start := time.Now().Add(-29 * 24 * time.Hour).Truncate(24 * time.Hour)
	va, vb := antiCorrelatedValues(30)

	history := &fakeHistory{series: map[string][]models.Observation{
		"sig-a": dailySeries("sig-a", "Reddit", start, va),
		"sig-b": dailySeries("sig-b", "Twitter", start, vb),
	}}

	engine := New(testConfig(), history, nil)
	if err := engine.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	published := engine.Current()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := engine.RunOnce(cancelled); err == nil {
		t.Fatalf("expected context error from cancelled cycle")
	}

	after := engine.Current()
	if after.Version != published.Version {
		t.Fatalf("cancelled cycle must leave last published snapshot intact")
	}
}
