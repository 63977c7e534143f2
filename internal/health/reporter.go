// Package health derives the engine's backpressure signal from queue depth
// and snapshot recency.
package health

import (
	"time"
)

// Status is the caller-visible health report. Healthy going false is a
// backpressure signal only; the engine keeps accepting submissions.
type Status struct {
	PendingCount          int       `json:"pending_count"`
	DeadLetterCount       int       `json:"dead_letter_count"`
	LastSnapshotTime      time.Time `json:"last_snapshot_time"`
	LastSnapshotSizeBytes int       `json:"last_snapshot_size_bytes"`
	Healthy               bool      `json:"healthy"`
}

// QueueStats is the slice of the executor the reporter reads.
type QueueStats interface {
	Pending() int
	DeadLetterCount() int
}

// SnapshotStats is the slice of the snapshot manager the reporter reads.
type SnapshotStats interface {
	Last() (time.Time, int)
}

// Reporter assembles the health status.
type Reporter struct {
	queue     QueueStats
	snapshots SnapshotStats
	threshold int
}

// NewReporter creates a health reporter
func NewReporter(queue QueueStats, snapshots SnapshotStats, threshold int) *Reporter {
	return &Reporter{queue: queue, snapshots: snapshots, threshold: threshold}
}

// Status returns the current health report.
func (r *Reporter) Status() Status {
	pending := r.queue.Pending()
	lastTime, lastSize := r.snapshots.Last()

	return Status{
		PendingCount:          pending,
		DeadLetterCount:       r.queue.DeadLetterCount(),
		LastSnapshotTime:      lastTime,
		LastSnapshotSizeBytes: lastSize,
		Healthy:               pending <= r.threshold,
	}
}
