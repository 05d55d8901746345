// Package metrics provides Prometheus metrics for the alert engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsIngested counts accepted safety events by tenant.
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_events_ingested_total",
			Help: "Total number of safety events accepted for processing",
		},
		[]string{"tenant_id", "event_type"},
	)

	// EventsDeduplicated counts events dropped as duplicates.
	EventsDeduplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_events_deduplicated_total",
			Help: "Total number of events dropped by the deduplication gate",
		},
		[]string{"tenant_id"},
	)

	// EventsRejected counts events rejected by validation.
	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_events_rejected_total",
			Help: "Total number of events rejected by validation",
		},
		[]string{"reason"},
	)

	// PipelineRuns counts completed pipeline runs by outcome status.
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_pipeline_runs_total",
			Help: "Total number of pipeline runs by resulting alert status",
		},
		[]string{"status"},
	)

	// PipelineRunsSkipped counts runs dropped before acquiring the lock.
	PipelineRunsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_pipeline_runs_skipped_total",
			Help: "Total number of pipeline runs skipped before execution",
		},
		[]string{"reason"},
	)

	// StageFailures counts failed pipeline stages.
	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_pipeline_stage_failures_total",
			Help: "Total number of failed pipeline stages",
		},
		[]string{"stage"},
	)

	// StageDuration observes per-stage latency.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_pipeline_stage_duration_seconds",
			Help:    "Pipeline stage execution latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// RevalidationsScheduled counts monitoring cycles scheduled.
	RevalidationsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_revalidations_scheduled_total",
			Help: "Total number of revalidation timers scheduled",
		},
	)

	// RevalidationsFired counts revalidation timers that fired and enqueued
	// a run.
	RevalidationsFired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_revalidations_fired_total",
			Help: "Total number of revalidation timers that fired",
		},
	)

	// RevalidationsCancelled counts revalidations dropped at wake time.
	RevalidationsCancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_revalidations_cancelled_total",
			Help: "Total number of revalidations cancelled at wake time",
		},
		[]string{"reason"},
	)

	// NotificationsSent counts successful channel dispatches.
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_notifications_sent_total",
			Help: "Total number of successful notification dispatches",
		},
		[]string{"channel"},
	)

	// NotificationsFailed counts channel dispatches that exhausted retries.
	NotificationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_notifications_failed_total",
			Help: "Total number of failed notification dispatches",
		},
		[]string{"channel"},
	)

	// NotificationsThrottled counts dispatches suppressed by the throttle.
	NotificationsThrottled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_notifications_throttled_total",
			Help: "Total number of notification dispatches suppressed by throttling",
		},
		[]string{"channel"},
	)
)
