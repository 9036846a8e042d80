package daemon

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "robomonkey",
		Name:      "jobs_processed_total",
		Help:      "Jobs finished by the worker pool, by type and outcome.",
	}, []string{"job_type", "outcome"})

	jobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "robomonkey",
		Name:      "jobs_active",
		Help:      "Jobs currently being worked.",
	})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "robomonkey",
		Name:      "job_duration_seconds",
		Help:      "Wall time per job, by type.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 3, 10),
	}, []string{"job_type"})

	jobsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "robomonkey",
		Name:      "jobs_reaped_total",
		Help:      "Jobs returned to the queue from dead instances.",
	})

	// SearchDuration tracks control API query latency, observed by the
	// api package.
	SearchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "robomonkey",
		Name:      "search_duration_seconds",
		Help:      "Wall time per search request, by operation.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 3, 10),
	}, []string{"operation"})
)

// MetricsHandler serves the Prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
