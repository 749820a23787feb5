package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/docpipe/internal/model"
)

// Metric label values for job outcomes.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

var (
	jobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docpipe_jobs_completed_total",
			Help: "Total number of jobs reaching a terminal state, by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	jobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docpipe_job_duration_seconds",
			Help:    "Processing time of terminal jobs, in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"type"},
	)

	jobRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docpipe_job_retries_total",
			Help: "Total number of retry reinsertions, by job type.",
		},
		[]string{"type"},
	)

	jobsCancelledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docpipe_jobs_cancelled_total",
			Help: "Total number of cancelled jobs, by the phase they were in.",
		},
		[]string{"phase"},
	)

	workerCrashesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docpipe_worker_crashes_total",
			Help: "Number of execution contexts replaced after a crash.",
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docpipe_queue_depth",
			Help: "Number of jobs waiting in the priority queue.",
		},
	)

	activeJobsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docpipe_active_jobs",
			Help: "Number of jobs currently being processed.",
		},
	)
)

func init() {
	prometheus.MustRegister(jobsCompletedTotal)
	prometheus.MustRegister(jobDurationSeconds)
	prometheus.MustRegister(jobRetriesTotal)
	prometheus.MustRegister(jobsCancelledTotal)
	prometheus.MustRegister(workerCrashesTotal)
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(activeJobsGauge)

	// Pre-initialize label combinations so they appear in /metrics
	// with value 0 from startup, rather than only after first observation.
	for _, k := range model.Kinds() {
		jobsCompletedTotal.WithLabelValues(string(k), outcomeSuccess)
		jobsCompletedTotal.WithLabelValues(string(k), outcomeFailure)
		jobRetriesTotal.WithLabelValues(string(k))
	}
	jobsCancelledTotal.WithLabelValues("queued")
	jobsCancelledTotal.WithLabelValues("active")
}
