package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "durastore_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "durastore_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// Operation queue metrics
	OperationsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "durastore_operations_submitted_total",
			Help: "Total number of operations submitted to the queue",
		},
		[]string{"kind", "table"},
	)

	OperationApplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "durastore_operation_applies_total",
			Help: "Total number of operation apply attempts by outcome",
		},
		[]string{"kind", "outcome"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "durastore_queue_depth",
			Help: "Number of operations currently pending",
		},
	)

	DeadLetters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "durastore_dead_letters",
			Help: "Number of unacknowledged terminal failures",
		},
	)

	RetryDelaySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "durastore_retry_delay_seconds",
			Help:    "Backoff delays scheduled for failed applies",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	FlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "durastore_flushes_total",
			Help: "Total number of batch flushes by trigger",
		},
		[]string{"trigger"},
	)

	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "durastore_flush_duration_seconds",
			Help:    "Batch flush latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Operation log metrics
	OplogEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "durastore_oplog_entries_total",
			Help: "Total number of operation log entries written",
		},
	)

	OplogPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "durastore_oplog_pruned_total",
			Help: "Total number of operation log entries pruned",
		},
	)

	// Snapshot metrics
	SnapshotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "durastore_snapshots_total",
			Help: "Total number of snapshot captures by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	SnapshotSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "durastore_snapshot_size_bytes",
			Help: "Serialized size of the most recent snapshot",
		},
	)

	SnapshotTrimsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "durastore_snapshot_trims_total",
			Help: "Total number of snapshots deleted by the retention policy",
		},
	)

	RestoresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "durastore_restores_total",
			Help: "Total number of snapshot restores by outcome",
		},
		[]string{"outcome"},
	)

	// Lifecycle metrics
	EmergencyDumpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "durastore_emergency_dumps_total",
			Help: "Total number of emergency pending-set dumps by outcome",
		},
		[]string{"outcome"},
	)

	RecoveredOperationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "durastore_recovered_operations_total",
			Help: "Total number of operations replayed from the emergency store",
		},
	)

	// Event stream metrics
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "durastore_events_published_total",
			Help: "Total number of engine events published to subscribers",
		},
		[]string{"type"},
	)

	EventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "durastore_events_dropped_total",
			Help: "Total number of engine events dropped on full subscriber buffers",
		},
	)

	// Build info
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "durastore_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)
