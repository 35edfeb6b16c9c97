package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsSubmittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "simplemedia",
			Name:      "jobs_submitted_total",
			Help:      "Total transcoding jobs submitted to the platform",
		},
	)

	jobTerminalStatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simplemedia",
			Name:      "job_terminal_states_total",
			Help:      "Polled jobs by the state polling stopped at",
		},
		[]string{"state"},
	)

	jobWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "simplemedia",
			Name:      "job_wait_seconds",
			Help:      "Time spent polling a job until it reached a terminal state",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~34m
		},
	)

	instanceProvisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simplemedia",
			Name:      "instance_provisions_total",
			Help:      "EnsureInstance outcomes",
		},
		[]string{"kind", "result"}, // "existing", "created", "error"
	)

	pipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simplemedia",
			Name:      "pipeline_runs_total",
			Help:      "Derived artifact pipeline runs by final proxy status",
		},
		[]string{"status"},
	)

	pipelineQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "simplemedia",
			Name:      "pipeline_queue_depth",
			Help:      "Assets waiting for a pipeline worker",
		},
	)
)
