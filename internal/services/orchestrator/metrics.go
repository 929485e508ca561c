package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ternarybob/labnex/internal/models"
)

var (
	metricRunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "labnex",
		Name:      "runs_started_total",
		Help:      "Number of runs that began dispatching cases.",
	})
	metricRunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "labnex",
		Name:      "runs_finished_total",
		Help:      "Number of runs that reached a terminal state, by status.",
	}, []string{"status"})
	metricActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "labnex",
		Name:      "active_runs",
		Help:      "Runs currently held in memory by the orchestrator.",
	})
	metricCases = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "labnex",
		Name:      "cases_total",
		Help:      "Case results recorded into run aggregates, by status and error kind.",
	}, []string{"status", "error_kind"})
	metricCaseDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "labnex",
		Name:      "case_duration_seconds",
		Help:      "Wall time of recorded case executions.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})
)

func recordRunStarted() {
	metricRunsStarted.Inc()
}

func recordRunFinished(status models.RunStatus) {
	metricRunsFinished.WithLabelValues(string(status)).Inc()
}

func recordCase(result models.CaseResult) {
	kind := result.ErrorKind
	if kind == "" {
		kind = "none"
	}
	metricCases.WithLabelValues(string(result.Status), kind).Inc()
	if result.DurationMs > 0 {
		metricCaseDuration.Observe(float64(result.DurationMs) / 1000)
	}
}
