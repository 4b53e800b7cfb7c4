package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSucceeded = "succeeded"
	outcomeFailed    = "failed"
)

var (
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keystone_jobs_processed_total",
		Help: "Jobs run by the worker pool, by queue and outcome.",
	}, []string{"queue", "outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "keystone_job_duration_seconds",
		Help:    "Handler run time per job.",
		Buckets: []float64{0.1, 1, 5, 30, 60, 300, 900, 1800},
	}, []string{"queue"})

	jobsRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keystone_jobs_recovered_total",
		Help: "Jobs reset from 'running' after exceeding the stale threshold.",
	})

	jobsScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keystone_jobs_scheduled_total",
		Help: "Jobs inserted by the scheduler, by queue. Ticks that find the day's job already queued are not counted.",
	}, []string{"queue"})
)
