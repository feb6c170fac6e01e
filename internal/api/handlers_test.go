package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/signalstack/signal-engine/internal/config"
	"github.com/signalstack/signal-engine/internal/correlate"
	"github.com/signalstack/signal-engine/internal/ingest"
	"github.com/signalstack/signal-engine/internal/models"
	"github.com/signalstack/signal-engine/internal/predict"
	"github.com/signalstack/signal-engine/internal/query"
	"github.com/signalstack/signal-engine/internal/rules"
	"github.com/signalstack/signal-engine/internal/stats"
	"github.com/signalstack/signal-engine/internal/store"
)

type testStack struct {
	handler    *Handler
	store      *store.TimeSeries
	aggregator *stats.Aggregator
	ingestor   *ingest.Ingestor
	rules      *rules.Engine
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	ts := store.New(90*24*time.Hour, 4)
	agg := stats.New(config.StatsConfig{
		StrengthHalfLife: 14,
		VelocityWindow:   5,
		TrendRuns:        3,
		TrendThreshold:   1.0,
		MinSamples:       5,
		DefaultSourceK:   5,
	}, nil)
	in := ingest.New(config.IngestConfig{QueueSize: 64, Workers: 2, MaxFuture: 5 * time.Minute}, ts, agg, nil)
	in.Start()
	t.Cleanup(func() { _ = in.Stop(context.Background()) })

	corr := correlate.New(config.CorrelationConfig{
		Cadence: time.Minute, Window: 30 * 24 * time.Hour,
		MinOverlap: 12, MinSamples: 8, MaxLag: 7 * 24 * time.Hour,
		MaxLagSteps: 8, MinBucket: 5 * time.Minute, MaxBucket: 24 * time.Hour,
	}, ts, nil)
	scorer := predict.New(config.PredictionConfig{
		Cadence: time.Minute, SpikeThreshold: 90,
		MinHorizon: 7 * 24 * time.Hour, MaxHorizon: 180 * 24 * time.Hour,
		ConfidenceFloor: 50, FitWindow: 14 * 24 * time.Hour,
		FitFloor: 0.6, ActionableCap: 60, VelocityRef: 5, AccelerationCap: 2,
	}, agg, corr, ts, nil)
	ruleEngine := rules.New(config.RulesConfig{
		Cadence: time.Minute, Cooldown: 6 * time.Hour, AlertCapacity: 64,
	}, agg, scorer, nil)

	queries := query.New(agg, corr, scorer, ruleEngine, ts, nil)
	return &testStack{
		handler:    NewHandler(in, queries, ruleEngine, nil),
		store:      ts,
		aggregator: agg,
		ingestor:   in,
		rules:      ruleEngine,
	}
}

func doJSON(t *testing.T, router http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Buffer
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(data)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestObservationSubmissionStatusCodes(t *testing.T) {
	stack := newTestStack(t)
	router := stack.handler.Router()

	accepted := doJSON(t, router, http.MethodPost, "/api/v1/observations", models.Observation{
		SignalID:  "api-complaints",
		Source:    "Reddit",
		Timestamp: time.Now(),
		Magnitude: 72,
	})
	require.Equal(t, http.StatusAccepted, accepted.Code)

	malformed := doJSON(t, router, http.MethodPost, "/api/v1/observations", models.Observation{
		SignalID:  "api-complaints",
		Source:    "Reddit",
		Timestamp: time.Now(),
		Magnitude: 150,
	})
	require.Equal(t, http.StatusBadRequest, malformed.Code)

	stale := doJSON(t, router, http.MethodPost, "/api/v1/observations", models.Observation{
		SignalID:  "api-complaints",
		Source:    "Reddit",
		Timestamp: time.Now().Add(-120 * 24 * time.Hour),
		Magnitude: 50,
	})
	require.Equal(t, http.StatusConflict, stale.Code)
}

func TestSignalListingHonoursSourceFilter(t *testing.T) {
	stack := newTestStack(t)
	router := stack.handler.Router()

	now := time.Now()
	for i := 0; i < 6; i++ {
		stack.aggregator.Observe(models.Observation{
			SignalID:  "reddit-signal",
			Source:    "Reddit",
			Timestamp: now.Add(time.Duration(i) * time.Hour),
			Magnitude: 60,
		})
		stack.aggregator.Observe(models.Observation{
			SignalID:  "twitter-signal",
			Source:    "Twitter",
			Timestamp: now.Add(time.Duration(i) * time.Hour),
			Magnitude: 60,
		})
	}

	rec := doJSON(t, router, http.MethodGet, "/api/v1/signals?sources=Reddit", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var signals []models.Signal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &signals))
	require.Len(t, signals, 1)
	require.Equal(t, "reddit-signal", signals[0].ID)
}

func TestWorkflowLifecycleOverHTTP(t *testing.T) {
	stack := newTestStack(t)
	router := stack.handler.Router()

	invalid := doJSON(t, router, http.MethodPost, "/api/v1/workflows", models.Workflow{
		Name:    "broken",
		Actions: []models.Action{{Type: models.ActionAlert}},
	})
	require.Equal(t, http.StatusUnprocessableEntity, invalid.Code)

	created := doJSON(t, router, http.MethodPost, "/api/v1/workflows", models.Workflow{
		Name: "Critical Signal Escalation",
		Conditions: []models.Condition{
			{Field: models.FieldStrength, Op: models.OpGreater, Value: 80},
		},
		Actions: []models.Action{
			{Type: models.ActionAlert, Severity: models.SeverityCritical},
		},
	})
	require.Equal(t, http.StatusCreated, created.Code)

	var wf models.Workflow
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &wf))
	require.NotEmpty(t, wf.ID)
	require.Equal(t, models.WorkflowActive, wf.Status)

	paused := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/workflows/%s/pause", wf.ID), nil)
	require.Equal(t, http.StatusOK, paused.Code)
	var pausedWF models.Workflow
	require.NoError(t, json.Unmarshal(paused.Body.Bytes(), &pausedWF))
	require.Equal(t, models.WorkflowPaused, pausedWF.Status)

	missing := doJSON(t, router, http.MethodGet, "/api/v1/workflows/nope", nil)
	require.Equal(t, http.StatusNotFound, missing.Code)
}

func TestAlertTransitionsOverHTTP(t *testing.T) {
	stack := newTestStack(t)
	router := stack.handler.Router()

	stack.rules.Alerts().Append(models.Alert{
		ID:        "alert-1",
		Severity:  models.SeverityHigh,
		State:     models.AlertOpen,
		CreatedAt: time.Now(),
	})

	ack := doJSON(t, router, http.MethodPost, "/api/v1/alerts/alert-1/acknowledge",
		map[string]string{"actor": "oncall"})
	require.Equal(t, http.StatusOK, ack.Code)
	var alert models.Alert
	require.NoError(t, json.Unmarshal(ack.Body.Bytes(), &alert))
	require.Equal(t, models.AlertAcknowledged, alert.State)
	require.Equal(t, "oncall", alert.AcknowledgedBy)

	resolved := doJSON(t, router, http.MethodPost, "/api/v1/alerts/alert-1/resolve",
		map[string]string{"actor": "oncall"})
	require.Equal(t, http.StatusOK, resolved.Code)

	again := doJSON(t, router, http.MethodPost, "/api/v1/alerts/alert-1/acknowledge",
		map[string]string{"actor": "oncall"})
	require.Equal(t, http.StatusConflict, again.Code)

	missing := doJSON(t, router, http.MethodPost, "/api/v1/alerts/nope/resolve", nil)
	require.Equal(t, http.StatusNotFound, missing.Code)
}

func TestOverviewEndpoint(t *testing.T) {
	stack := newTestStack(t)
	router := stack.handler.Router()

	rec := doJSON(t, router, http.MethodGet, "/api/v1/overview", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var overview models.Overview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &overview))
	require.Zero(t, overview.SignalsTracked)
}
