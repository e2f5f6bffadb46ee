// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// GatewayAttempts counts forwarded calls by operation and outcome
	// (ok, retryable, fatal, transport).
	GatewayAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_attempts_total",
			Help: "Forwarded backend calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// GatewayRetries counts backoff waits taken before a retry.
	GatewayRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_retries_total",
			Help: "Retries scheduled after transient backend failures",
		},
		[]string{"operation"},
	)

	// JobPolls tracks how many status checks a job needed before settling.
	JobPolls = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "job_status_checks",
			Help:    "Status checks performed per job",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 40, 80, 150},
		},
	)

	// JobOutcomes counts settled jobs by outcome.
	JobOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_outcomes_total",
			Help: "Jobs settled by outcome",
		},
		[]string{"outcome"},
	)

	// JobsActive tracks jobs currently being polled.
	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_active",
			Help: "Jobs submitted and not yet settled",
		},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// MessagesTotal tracks reconciled messages by role and kind.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Messages reconciled into conversations",
		},
		[]string{"role", "kind"},
	)

	// EngineJobs tracks jobs handled by the local engine.
	EngineJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_jobs_total",
			Help: "Jobs processed by the local engine",
		},
		[]string{"status"},
	)

	// LLMDuration tracks local engine completion latency.
	LLMDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_completion_duration_seconds",
			Help:    "LLM completion duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"provider", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordAttempt records one forwarded call.
func RecordAttempt(operation, outcome string) {
	GatewayAttempts.WithLabelValues(operation, outcome).Inc()
}

// RecordRetry records a backoff wait before a retry.
func RecordRetry(operation string) {
	GatewayRetries.WithLabelValues(operation).Inc()
}

// RecordJob records the settlement of a job.
func RecordJob(outcome string, checks int) {
	JobOutcomes.WithLabelValues(outcome).Inc()
	JobPolls.Observe(float64(checks))
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
