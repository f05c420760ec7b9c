package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gleaner_jobs_enqueued_total",
		Help: "Jobs enqueued by kind, including chained successors.",
	}, []string{"kind"})

	jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gleaner_jobs_finished_total",
		Help: "Jobs reaching a terminal status, by kind and status.",
	}, []string{"kind", "status"})

	jobsRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gleaner_jobs_retried_total",
		Help: "Transient job failures scheduled for retry, by kind.",
	}, []string{"kind"})

	jobsReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gleaner_jobs_reclaimed_total",
		Help: "Running jobs returned to pending by the stale sweep.",
	})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gleaner_job_duration_seconds",
		Help:    "Handler run time by job kind.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	}, []string{"kind"})
)
