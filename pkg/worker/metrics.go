package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "maintd",
		Subsystem: "worker",
		Name:      "job_runs_total",
		Help:      "Maintenance job runs by job type and outcome.",
	}, []string{"job_type", "outcome"})

	jobRunSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "maintd",
		Subsystem: "worker",
		Name:      "job_run_duration_seconds",
		Help:      "Wall-clock duration of maintenance job runs.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"job_type"})
)
