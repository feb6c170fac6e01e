package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeAccepted labels observations that entered the store.
	OutcomeAccepted = "accepted"
	// OutcomeStale labels observations rejected as older than the retention floor.
	OutcomeStale = "rejected_stale"
	// OutcomeInvalid labels malformed observations rejected at the boundary.
	OutcomeInvalid = "rejected_invalid"
	// OutcomeBusy labels observations refused by backpressure.
	OutcomeBusy = "busy"
)

const (
	// StageCorrelation labels the pairwise correlation pass.
	StageCorrelation = "correlation"
	// StagePrediction labels the spike scoring pass.
	StagePrediction = "prediction"
	// StageRules labels a workflow evaluation pass.
	StageRules = "rules"
)

var (
	observationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signal_engine",
			Name:      "observations_total",
			Help:      "Observations handled at the ingest boundary, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	cycleDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "signal_engine",
			Name:      "cycle_seconds",
			Help:      "Recomputation cycle latency in seconds, partitioned by stage.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"stage"},
	)

	workflowFiresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "signal_engine",
			Name:      "workflow_fires_total",
			Help:      "Total workflow fires across all workflows.",
		},
	)

	httpRequestSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "signal_engine",
			Name:      "http_request_seconds",
			Help:      "HTTP request latency in seconds, partitioned by route and status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	alertsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "signal_engine",
			Name:      "alerts_open",
			Help:      "Alerts currently in the open state.",
		},
	)
)

// Register attaches signal-engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		observationsTotal,
		cycleDurationSeconds,
		workflowFiresTotal,
		httpRequestSeconds,
		alertsOpen,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveIngest counts one ingest outcome.
func ObserveIngest(outcome string) {
	observationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCycle records a recomputation cycle duration for a stage.
func ObserveCycle(stage string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	cycleDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveHTTPRequest records one HTTP request's latency and status.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestSeconds.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}

// ObserveWorkflowFire counts a workflow fire.
func ObserveWorkflowFire() {
	workflowFiresTotal.Inc()
}

// SetOpenAlerts publishes the current open-alert count.
func SetOpenAlerts(n int) {
	alertsOpen.Set(float64(n))
}
