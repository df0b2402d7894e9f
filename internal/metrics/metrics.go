// Package metrics exposes the Prometheus counters and histograms this
// service's core touches: task state transitions, Pulsar REST call
// latency, and task-store query latency. Handlers call the package-level
// functions directly rather than threading a collector through every
// constructor.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TaskStateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tespapi_task_state_transitions_total",
			Help: "Total number of task state transitions, by resulting state.",
		},
		[]string{"state"},
	)

	PulsarCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tespapi_pulsar_call_duration_seconds",
			Help:    "Duration of outbound Pulsar REST calls, by operation and outcome.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "outcome"},
	)

	PulsarCircuitBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tespapi_pulsar_circuit_breaker_open",
			Help: "Whether the Pulsar REST circuit breaker is currently open (1) or not (0).",
		},
	)

	TasksCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tespapi_tasks_created_total",
			Help: "Total number of tasks created via the REST surface.",
		},
	)

	StoreQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tespapi_store_query_duration_seconds",
			Help:    "Duration of task store queries, by outcome.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(TaskStateTransitionsTotal)
	prometheus.MustRegister(PulsarCallDuration)
	prometheus.MustRegister(PulsarCircuitBreakerState)
	prometheus.MustRegister(TasksCreatedTotal)
	prometheus.MustRegister(StoreQueryDuration)
}

// RecordTransition increments the transition counter for the state a task
// just entered.
func RecordTransition(state string) {
	TaskStateTransitionsTotal.WithLabelValues(state).Inc()
}

// ObservePulsarCall records the duration of a Pulsar REST call, labeled by
// operation name (setup_job, upload, run_job, run_job_poll,
// download_output, erase_job_cancel, erase_job_delete) and outcome (ok,
// connection_error, operation_error).
func ObservePulsarCall(operation, outcome string, seconds float64) {
	PulsarCallDuration.WithLabelValues(operation, outcome).Observe(seconds)
}

// ObserveStoreQuery records the duration of a task store query, labeled by
// outcome (ok, slow, error).
func ObserveStoreQuery(outcome string, seconds float64) {
	StoreQueryDuration.WithLabelValues(outcome).Observe(seconds)
}

// Handler returns the HTTP handler serving the Prometheus exposition
// format, mounted at /metrics by the caller.
func Handler() http.Handler {
	return promhttp.Handler()
}
