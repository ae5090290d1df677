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
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
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

	// SessionsActive tracks open conversation sessions.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_sessions_active",
			Help: "Number of open conversation sessions",
		},
	)

	// SendsTotal tracks message send outcomes.
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_sends_total",
			Help: "Message sends by result",
		},
		[]string{"result"},
	)

	// ReconcileOps tracks message store reconciliation operations.
	ReconcileOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_reconcile_ops_total",
			Help: "Message store reconciliation operations",
		},
		[]string{"op"},
	)

	// StatusRegressions counts rejected backwards status transitions.
	StatusRegressions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_status_regressions_total",
			Help: "Status updates ignored for moving backwards",
		},
	)

	// SuggestionRequests tracks suggestion request outcomes.
	SuggestionRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "suggestion_requests_total",
			Help: "AI suggestion requests by result",
		},
		[]string{"result"},
	)

	// SuggestionCacheHits counts suggestion requests served from cache.
	SuggestionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "suggestion_cache_hits_total",
			Help: "Suggestion requests served from the cache",
		},
	)

	// SuggestionRetries counts internal rate-limit retries.
	SuggestionRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "suggestion_retries_total",
			Help: "Rate-limit retries performed by the suggestion client",
		},
	)

	// SuggestionDuration tracks end-to-end suggestion latency.
	SuggestionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "suggestion_duration_seconds",
			Help:    "AI suggestion request duration",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20},
		},
		[]string{"provider"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}
