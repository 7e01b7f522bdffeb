package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BatchesProcessed counts inbound batches by outcome (ok, retryable, fatal).
	BatchesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spanlink_batches_processed_total",
		Help: "Inbound batches processed by outcome",
	}, []string{"outcome"})

	// SegmentsProcessed counts segment handling by result (completed, retrying, skipped, dropped).
	SegmentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spanlink_segments_processed_total",
		Help: "Segments handled by result",
	}, []string{"result"})

	// ResolveDuration tracks traversal latency per segment.
	ResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "spanlink_resolve_duration_seconds",
		Help:    "Alignment traversal duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	})

	// RelatedManifestations tracks how many manifestations a traversal reaches.
	RelatedManifestations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "spanlink_related_manifestations",
		Help:    "Related manifestations found per traversal",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
	})

	// JobsCompleted counts root jobs observed transitioning into COMPLETED.
	JobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spanlink_jobs_completed_total",
		Help: "Root jobs that reached COMPLETED",
	})

	// Notifications counts completion notifications by result (sent, failed).
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spanlink_notifications_total",
		Help: "Completion notifications by result",
	}, []string{"result"})

	// CacheLookups counts correspondence cache reads by result (hit, miss, unavailable).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spanlink_cache_lookups_total",
		Help: "Correspondence cache lookups by result",
	}, []string{"result"})

	// TasksRecovered counts abandoned IN_PROGRESS tasks moved back to RETRYING.
	TasksRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spanlink_tasks_recovered_total",
		Help: "Abandoned tasks returned to RETRYING by the sweeper",
	})

	// TasksRequeued counts recovered tasks republished as batches.
	TasksRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spanlink_tasks_requeued_total",
		Help: "Recovered tasks republished to the batch queue by the sweeper",
	})

	// QueueMessages counts local transport operations by action (enqueued, acked, nacked, dead).
	QueueMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spanlink_queue_messages_total",
		Help: "Local queue message transitions by action",
	}, []string{"action"})
)
