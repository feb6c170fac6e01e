package predict

import (
	"context"
	"testing"
	"time"

	"github.com/signalstack/signal-engine/internal/config"
	"github.com/signalstack/signal-engine/internal/correlate"
	"github.com/signalstack/signal-engine/internal/models"
	"github.com/signalstack/signal-engine/internal/stats"
)

type fakeStats struct {
	snap stats.Snapshot
}

func (f *fakeStats) Snapshot() stats.Snapshot { return f.snap }

type fakeCorrelations struct {
	snap correlate.Snapshot
}

func (f *fakeCorrelations) Current() correlate.Snapshot { return f.snap }

type fakeHistory struct {
	series map[string][]models.Observation
}

func (f *fakeHistory) Window(signalID string, duration time.Duration) []models.Observation {
	return f.series[signalID]
}

func testConfig() config.PredictionConfig {
	return config.PredictionConfig{
		Cadence:         time.Minute,
		SpikeThreshold:  90,
		MinHorizon:      7 * 24 * time.Hour,
		MaxHorizon:      180 * 24 * time.Hour,
		ConfidenceFloor: 50,
		FitWindow:       14 * 24 * time.Hour,
		FitFloor:        0.6,
		ActionableCap:   60,
		VelocityRef:     5,
		AccelerationCap: 2,
	}
}

// rampObservations emits 20 samples over 10 days raising magnitude 40->88.
func rampObservations(id string, end time.Time) []models.Observation {
	obs := make([]models.Observation, 0, 20)
	start := end.Add(-10 * 24 * time.Hour)
	for i := 0; i < 20; i++ {
		obs = append(obs, models.Observation{
			SignalID:  id,
			Source:    "Reddit",
			Timestamp: start.Add(time.Duration(i) * 12 * time.Hour),
			Magnitude: 40 + float64(i)*48/19,
		})
	}
	return obs
}

func risingSignal(id string) models.Signal {
	return models.Signal{
		ID:          id,
		Name:        id,
		Source:      "Reddit",
		Category:    models.CategoryTechnical,
		Strength:    88,
		Velocity:    4.8,
		Confidence:  85,
		Trend:       models.TrendRising,
		Scored:      true,
		SampleCount: 20,
	}
}

func TestSteadyRampPredictsActionableSpike(t *testing.T) {
	now := time.Now()
	cfg := testConfig()
	scorer := New(cfg,
		&fakeStats{snap: stats.Snapshot{Version: 1, Signals: []models.Signal{risingSignal("api-complaints")}}},
		&fakeCorrelations{},
		&fakeHistory{series: map[string][]models.Observation{"api-complaints": rampObservations("api-complaints", now)}},
		nil,
	)

	if err := scorer.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	snap := scorer.Current()
	if len(snap.Predictions) != 1 {
		t.Fatalf("expected one prediction, got %d", len(snap.Predictions))
	}
	pred := snap.Predictions[0]
	if pred.Probability < 80 {
		t.Fatalf("clean ramp should score probability >= 80, got %f", pred.Probability)
	}
	if pred.LowFit {
		t.Fatalf("clean ramp must not be flagged low fit (fit %f)", pred.Fit)
	}
	// Raw extrapolation is (90-88)/4.8 ~ 0.4 days; the horizon clamp
	// floors it at the configured minimum window.
	if pred.EarliestSpike != cfg.MinHorizon {
		t.Fatalf("expected earliest spike clamped to min horizon, got %v", pred.EarliestSpike)
	}
	if pred.Impact != models.ImpactHigh {
		t.Fatalf("expected high impact, got %s", pred.Impact)
	}
}

func TestNoisyTrendIsCappedBelowActionable(t *testing.T) {
	now := time.Now()
	noisy := make([]models.Observation, 0, 20)
	values := []float64{40, 80, 35, 90, 30, 85, 45, 95, 20, 88, 50, 92, 25, 85, 55, 90, 30, 95, 42, 88}
	start := now.Add(-10 * 24 * time.Hour)
	for i, v := range values {
		noisy = append(noisy, models.Observation{
			SignalID:  "noisy",
			Source:    "Twitter",
			Timestamp: start.Add(time.Duration(i) * 12 * time.Hour),
			Magnitude: v,
		})
	}

	cfg := testConfig()
	scorer := New(cfg,
		&fakeStats{snap: stats.Snapshot{Version: 1, Signals: []models.Signal{risingSignal("noisy")}}},
		&fakeCorrelations{},
		&fakeHistory{series: map[string][]models.Observation{"noisy": noisy}},
		nil,
	)

	if err := scorer.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	snap := scorer.Current()
	if len(snap.Predictions) != 1 {
		t.Fatalf("expected one prediction, got %d", len(snap.Predictions))
	}
	pred := snap.Predictions[0]
	if !pred.LowFit {
		t.Fatalf("noisy series must be flagged low fit (fit %f)", pred.Fit)
	}
	if pred.Probability > cfg.ActionableCap {
		t.Fatalf("low-fit probability must be capped at %f, got %f", cfg.ActionableCap, pred.Probability)
	}
}

func TestShortHistoryNeverExceedsActionableCap(t *testing.T) {
	now := time.Now()
	short := rampObservations("short", now)[:3]

	cfg := testConfig()
	scorer := New(cfg,
		&fakeStats{snap: stats.Snapshot{Version: 1, Signals: []models.Signal{risingSignal("short")}}},
		&fakeCorrelations{},
		&fakeHistory{series: map[string][]models.Observation{"short": short}},
		nil,
	)

	if err := scorer.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	snap := scorer.Current()
	if len(snap.Predictions) != 1 {
		t.Fatalf("expected one prediction, got %d", len(snap.Predictions))
	}
	pred := snap.Predictions[0]
	if pred.Probability > cfg.ActionableCap {
		t.Fatalf("short history must stay below actionable cap, got %f", pred.Probability)
	}
}

func TestCorroborationRaisesProbability(t *testing.T) {
	now := time.Now()
	history := &fakeHistory{series: map[string][]models.Observation{
		"alone":        rampObservations("alone", now),
		"corroborated": rampObservations("corroborated", now),
		"peer":         rampObservations("peer", now),
	}}

	alone := New(testConfig(),
		&fakeStats{snap: stats.Snapshot{Version: 1, Signals: []models.Signal{risingSignal("alone")}}},
		&fakeCorrelations{},
		history, nil)
	if err := alone.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	edges := []models.CorrelationEdge{{
		SignalA:     "corroborated",
		SignalB:     "peer",
		Coefficient: 0.9,
		Strength:    models.EdgeStrong,
	}}
	corroborated := New(testConfig(),
		&fakeStats{snap: stats.Snapshot{Version: 1, Signals: []models.Signal{risingSignal("corroborated"), risingSignal("peer")}}},
		&fakeCorrelations{snap: correlate.Snapshot{Edges: edges}},
		history, nil)
	if err := corroborated.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	base := alone.Current().Predictions[0].Probability
	var boosted float64
	for _, p := range corroborated.Current().Predictions {
		if p.SignalID == "corroborated" {
			boosted = p.Probability
		}
	}
	if boosted <= base {
		t.Fatalf("rising correlated signal must raise probability: base=%f boosted=%f", base, boosted)
	}
}

func TestUnscoredAndNonRisingSignalsAreSkipped(t *testing.T) {
	now := time.Now()
	unscored := risingSignal("unscored")
	unscored.Scored = false
	falling := risingSignal("falling")
	falling.Trend = models.TrendFalling

	scorer := New(testConfig(),
		&fakeStats{snap: stats.Snapshot{Version: 1, Signals: []models.Signal{unscored, falling}}},
		&fakeCorrelations{},
		&fakeHistory{series: map[string][]models.Observation{
			"unscored": rampObservations("unscored", now),
			"falling":  rampObservations("falling", now),
		}},
		nil,
	)

	if err := scorer.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if got := len(scorer.Current().Predictions); got != 0 {
		t.Fatalf("expected no predictions, got %d", got)
	}
}
