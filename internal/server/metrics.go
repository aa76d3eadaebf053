// Package server — metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers and middleware.
package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// retrieveRequestsTotal counts completed retrieval requests, partitioned
	// by outcome: "ok", "insufficient", "cancelled", or "error".
	retrieveRequestsTotal *prometheus.CounterVec

	// retrieveDurationSeconds records the wall-clock duration of each
	// retrieval request, streaming ones measured to stream completion.
	retrieveDurationSeconds *prometheus.HistogramVec

	// activeStreams is the number of /api/retrieve/stream SSE streams
	// currently open.
	activeStreams prometheus.Gauge

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, route pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) is used so that each call
// registers into the provided registry rather than the global default —
// this keeps unit tests hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		retrieveRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "twind",
			Subsystem: "api",
			Name:      "retrieve_requests_total",
			Help:      "Total number of retrieval API requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		retrieveDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "twind",
			Subsystem: "api",
			Name:      "retrieve_duration_seconds",
			Help:      "Wall-clock duration of retrieval API requests.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"outcome"}),

		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "twind",
			Subsystem: "api",
			Name:      "active_streams",
			Help:      "Number of retrieval SSE streams currently open.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "twind",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, route, and status code.",
		}, []string{"method", "route", "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "twind",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// observeRetrieve records one finished retrieval request.
func (m *serverMetrics) observeRetrieve(outcome string, d time.Duration) {
	m.retrieveRequestsTotal.WithLabelValues(outcome).Inc()
	m.retrieveDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}
