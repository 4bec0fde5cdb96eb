// Copyright 2025 Mech Services, Inc.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	JobsEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_enqueued_total",
		Help: "Total number of jobs accepted into queues",
	}, []string{"queue"})
	JobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_completed_total",
		Help: "Total number of successfully completed jobs",
	}, []string{"queue"})
	JobsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_failed_total",
		Help: "Total number of jobs that reached the failed state",
	}, []string{"queue"})
	JobsRetried = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_retried_total",
		Help: "Total number of job retry re-enqueues",
	}, []string{"queue"})
	JobProcessingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "queue_job_processing_duration_seconds",
		Help:    "Histogram of handler execution durations",
		Buckets: prometheus.DefBuckets,
	})
	EventsEmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queue_events_emitted_total",
		Help: "Total lifecycle events emitted on the event bus",
	})
	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queue_events_dropped_total",
		Help: "Total lifecycle events dropped due to subscriber backpressure",
	})
	WebhookDeliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queue_webhook_deliveries_total",
		Help: "Total successful webhook deliveries",
	})
	WebhookFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queue_webhook_failures_total",
		Help: "Total webhook deliveries that exhausted retries",
	})
	SchedulesFired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queue_schedules_fired_total",
		Help: "Total schedule firings enqueued by the scheduler tick",
	})
	ReaperReclaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queue_reaper_reclaimed_total",
		Help: "Total active jobs reclaimed after visibility timeout",
	})
	DelayedPromoted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queue_delayed_promoted_total",
		Help: "Total delayed jobs promoted to waiting",
	})
	WorkerActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "queue_worker_active",
		Help: "Number of active worker goroutines",
	})
)

func init() {
	prometheus.MustRegister(
		JobsEnqueued, JobsCompleted, JobsFailed, JobsRetried,
		JobProcessingDuration, EventsEmitted, EventsDropped,
		WebhookDeliveries, WebhookFailures, SchedulesFired,
		ReaperReclaimed, DelayedPromoted, WorkerActive,
	)
}
