// Package server — metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers and middleware.
package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, route pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec

	// queriesTotal counts query/chat/summary executions, partitioned by the
	// retrieval mode that produced the answer and the outcome.
	queriesTotal *prometheus.CounterVec

	// queryDurationSeconds records end-to-end query latency, including any
	// trips down the fallback ladder.
	queryDurationSeconds *prometheus.HistogramVec

	// documentsUploaded counts documents accepted for ingestion.
	documentsUploaded prometheus.Counter
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) is used so that each call
// registers into the provided registry rather than the global default —
// this keeps unit tests hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notebookd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", "handler", "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "notebookd",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "handler"}),

		queriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notebookd",
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Total number of query executions, partitioned by the mode that answered and the outcome.",
		}, []string{"mode", "outcome"}),

		queryDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "notebookd",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "End-to-end query latency, including fallback ladder retries.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"mode"}),

		documentsUploaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "notebookd",
			Subsystem: "ingest",
			Name:      "documents_uploaded_total",
			Help:      "Total number of documents accepted for background ingestion.",
		}),
	}
}
