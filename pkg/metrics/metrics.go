package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	JobsWaiting         prometheus.Gauge
	JobsProcessedTotal  *prometheus.CounterVec
	JobDuration         *prometheus.HistogramVec
	ExtractionSteps     *prometheus.CounterVec
	ExtractionDuration  *prometheus.HistogramVec

	initOnce sync.Once
)

// Init registers all collectors with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(register)
}

func register() {
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	JobsWaiting = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_waiting",
			Help: "Current number of jobs waiting to be claimed.",
		},
	)

	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Total number of job attempts by resulting state.",
		},
		[]string{"state"}, // completed, retrying, failed
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Duration of job attempts.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 900},
		},
		[]string{"state"},
	)

	ExtractionSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_steps_total",
			Help: "Extraction cascade steps by strategy and outcome.",
		},
		[]string{"strategy", "outcome"}, // outcome: success, failure, skipped
	)

	ExtractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "extraction_duration_seconds",
			Help:    "Duration of whole extractions by URL kind.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 900},
		},
		[]string{"kind"},
	)
}

// ObserveStep records one cascade step outcome. No-op before Init.
func ObserveStep(strategy, outcome string) {
	if ExtractionSteps == nil {
		return
	}
	ExtractionSteps.WithLabelValues(strategy, outcome).Inc()
}

// ObserveExtraction records a finished extraction. No-op before Init.
func ObserveExtraction(kind string, seconds float64) {
	if ExtractionDuration == nil {
		return
	}
	ExtractionDuration.WithLabelValues(kind).Observe(seconds)
}

// ObserveJob records a finished job attempt. No-op before Init.
func ObserveJob(state string, seconds float64) {
	if JobsProcessedTotal == nil {
		return
	}
	JobsProcessedTotal.WithLabelValues(state).Inc()
	JobDuration.WithLabelValues(state).Observe(seconds)
}

// SetWaiting updates the waiting gauge. No-op before Init.
func SetWaiting(n int64) {
	if JobsWaiting == nil {
		return
	}
	JobsWaiting.Set(float64(n))
}

// ObserveHTTP records one served request. No-op before Init.
func ObserveHTTP(method, path, status string, seconds float64) {
	if HTTPRequestsTotal == nil {
		return
	}
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(seconds)
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}
