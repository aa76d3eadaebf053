package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// workerMetrics holds all Prometheus metrics owned by the worker pool.
// A single instance is created in NewPool and stored on Pool so that tests
// can inject a fresh prometheus.Registry without polluting the default one.
type workerMetrics struct {
	// jobsTotal counts finished job attempts, partitioned by job type and
	// outcome: "complete", "requeued", or "dead_letter".
	jobsTotal *prometheus.CounterVec

	// jobDurationSeconds records the wall-clock duration of each job attempt.
	jobDurationSeconds *prometheus.HistogramVec

	// jobsInFlight is the number of jobs currently being processed.
	jobsInFlight prometheus.Gauge

	// queueDepth is the number of queued jobs at the last poll.
	queueDepth prometheus.Gauge
}

// newWorkerMetrics registers all worker metrics against reg. promauto.With
// keeps registration scoped to the provided registry so unit tests stay
// hermetic.
func newWorkerMetrics(reg prometheus.Registerer) *workerMetrics {
	factory := promauto.With(reg)

	return &workerMetrics{
		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "twind",
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Total number of job attempts finished, partitioned by job type and outcome.",
		}, []string{"job_type", "outcome"}),

		jobDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "twind",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of job attempts.",
			Buckets:   []float64{0.1, 1, 5, 15, 60, 300, 900},
		}, []string{"job_type"}),

		jobsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "twind",
			Subsystem: "jobs",
			Name:      "in_flight",
			Help:      "Number of jobs currently being processed by this pool.",
		}),

		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "twind",
			Subsystem: "jobs",
			Name:      "queue_depth",
			Help:      "Number of queued jobs observed at the last poll.",
		}),
	}
}
