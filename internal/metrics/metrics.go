// Package metrics provides Prometheus metrics for Faultline.
// It tracks capture volume, flush health, alert dispatch and notification
// latencies so the tracker itself can be observed.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "faultline"
)

// Capture metrics track the ingestion path.
var (
	// EventsCapturedTotal counts events accepted into the buffer.
	EventsCapturedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_captured_total",
			Help:      "Total number of events accepted into the ingest buffer",
		},
		[]string{"severity"},
	)

	// CaptureFailuresTotal counts captures that returned the placeholder id.
	CaptureFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_failures_total",
			Help:      "Total number of captures that could not be recorded",
		},
		[]string{"stage"}, // stage: sanitize, fingerprint, buffer, panic
	)

	// CaptureLatency measures the time capture holds the caller.
	CaptureLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capture_latency_seconds",
			Help:      "Time spent inside capture in seconds",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
		},
	)

	// BufferDepth tracks the number of events waiting for the next flush.
	BufferDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_depth",
			Help:      "Current number of events in the ingest buffer",
		},
	)

	// IngestMessagesTotal counts capture messages consumed from the queue.
	IngestMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_messages_total",
			Help:      "Total number of capture messages consumed from the queue",
		},
		[]string{"result"}, // result: captured, invalid
	)
)

// Flush metrics track batch aggregation.
var (
	// FlushesTotal counts flush cycles by result.
	FlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Total number of flush cycles",
		},
		[]string{"result"}, // result: success, failure, empty, skipped
	)

	// FlushLatency measures one flush cycle.
	FlushLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_latency_seconds",
			Help:      "Time to aggregate one batch in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// FlushBatchSize tracks the number of events per flushed batch.
	FlushBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_batch_size",
			Help:      "Number of events per flushed batch",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		},
	)

	// EventsRequeuedTotal counts events put back after a failed flush.
	EventsRequeuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_requeued_total",
			Help:      "Total number of events requeued after a failed flush",
		},
	)

	// GroupsWrittenTotal counts durable group writes.
	GroupsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groups_written_total",
			Help:      "Total number of error group writes",
		},
		[]string{"operation", "result"}, // operation: create, update
	)

	// GroupRegressionsTotal counts resolved groups reopened by a new occurrence.
	GroupRegressionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "group_regressions_total",
			Help:      "Total number of resolved groups reopened by a new occurrence",
		},
	)
)

// Alert metrics track rule evaluation and notification delivery.
var (
	// AlertsDroppedTotal counts events not evaluated because the queue was full.
	AlertsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_dropped_total",
			Help:      "Total number of events dropped from alert evaluation",
		},
	)

	// AlertsTriggeredTotal counts rule firings before cooldown.
	AlertsTriggeredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_triggered_total",
			Help:      "Total number of alert rule firings",
		},
		[]string{"rule"}, // rule: critical, frequency
	)

	// NotificationsSentTotal counts notifications sent.
	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Total number of notifications sent",
		},
		[]string{"channel", "status"}, // status: success, failure, cooldown
	)

	// NotificationLatency measures a single transport send.
	NotificationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_latency_seconds",
			Help:      "Time to deliver one notification in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel"},
	)
)

// Storage metrics track database and cache operations.
var (
	// StorageOperationsTotal counts storage operations.
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operations_total",
			Help:      "Total number of storage operations",
		},
		[]string{"store", "operation", "status"}, // store: groups, counters; status: success, failure
	)

	// StatsQueryLatency measures one stats report.
	StatsQueryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stats_query_latency_seconds",
			Help:      "Time to build a stats report in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"window"},
	)

	// RetentionDeletedTotal counts groups removed by the retention job.
	RetentionDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_deleted_total",
			Help:      "Total number of error groups removed by retention",
		},
	)
)
