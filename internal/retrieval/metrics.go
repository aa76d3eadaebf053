package retrieval

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// engineMetrics holds the Prometheus metrics owned by the retrieval engine.
// Registration is scoped to the injected registry so tests stay hermetic.
type engineMetrics struct {
	// requestsTotal counts retrievals by outcome: "verified", "retrieved",
	// or "insufficient".
	requestsTotal *prometheus.CounterVec

	// durationSeconds records end-to-end retrieval latency by outcome.
	durationSeconds *prometheus.HistogramVec
}

func newEngineMetrics(reg prometheus.Registerer) *engineMetrics {
	factory := promauto.With(reg)

	return &engineMetrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "twind",
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Total retrieval requests, partitioned by outcome.",
		}, []string{"outcome"}),

		durationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "twind",
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "End-to-end retrieval latency, partitioned by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
}

func (m *engineMetrics) observe(outcome string, d time.Duration) {
	m.requestsTotal.WithLabelValues(outcome).Inc()
	m.durationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}
