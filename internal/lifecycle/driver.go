// Package lifecycle reacts to host activity signals: a best-effort flush
// when the process becomes active again, and an emergency dump of the
// pending set when termination is imminent.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lenshed/durastore/internal/emergency"
	"github.com/lenshed/durastore/internal/logger"
	"github.com/lenshed/durastore/internal/metrics"
	"github.com/lenshed/durastore/internal/queue"
)

// PendingBlobKey is where the emergency dump of the pending set lives.
const PendingBlobKey = "pending-operations"

// Queue is the slice of the executor the driver needs.
type Queue interface {
	FlushPending(ctx context.Context, trigger string) (bool, error)
	PendingOps() []queue.Operation
	Submit(ctx context.Context, kind queue.Kind, table, key string, payload []byte) (string, error)
}

// dump is the self-describing serialization of the pending set.
type dump struct {
	DumpedAt   time.Time         `json:"dumped_at"`
	Operations []queue.Operation `json:"operations"`
}

// Driver wires activity signals to the queue and the emergency store.
type Driver struct {
	queue   Queue
	blobs   emergency.BlobStore
	timeout time.Duration
	log     logger.Logger
}

// NewDriver creates a lifecycle driver
func NewDriver(q Queue, blobs emergency.BlobStore, timeout time.Duration, log logger.Logger) *Driver {
	return &Driver{queue: q, blobs: blobs, timeout: timeout, log: log}
}

// Activate handles the process becoming active again: it kicks off a
// best-effort flush of the pending set. No snapshot is taken.
func (d *Driver) Activate(ctx context.Context) {
	d.log.Info("Process active, flushing pending operations")
	go func() {
		if _, err := d.queue.FlushPending(ctx, "lifecycle"); err != nil {
			d.log.Warn("Activation flush interrupted", logger.Error(err))
		}
	}()
}

// Terminate dumps the pending set to the side-channel store. The write runs
// under a hard timeout so it can never hang process exit; on timeout the
// dump is abandoned.
func (d *Driver) Terminate(ctx context.Context) error {
	ops := d.queue.PendingOps()
	if len(ops) == 0 {
		d.log.Info("No pending operations at termination")
		return nil
	}

	payload, err := json.Marshal(dump{DumpedAt: time.Now().UTC(), Operations: ops})
	if err != nil {
		metrics.EmergencyDumpsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to serialize pending set: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- d.blobs.WriteBlob(PendingBlobKey, payload)
	}()

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			metrics.EmergencyDumpsTotal.WithLabelValues("error").Inc()
			d.log.Error("Emergency dump failed", logger.Error(err))
			return err
		}
		metrics.EmergencyDumpsTotal.WithLabelValues("ok").Inc()
		d.log.Info("Emergency dump written", logger.Int("operations", len(ops)))
		return nil
	case <-timer.C:
		metrics.EmergencyDumpsTotal.WithLabelValues("timeout").Inc()
		d.log.Error("Emergency dump timed out", logger.Duration("timeout", d.timeout))
		return errors.New("emergency dump timed out")
	case <-ctx.Done():
		metrics.EmergencyDumpsTotal.WithLabelValues("cancelled").Inc()
		return ctx.Err()
	}
}

// Recover replays a previous emergency dump into the queue and deletes the
// blob. Replayed operations restart with a fresh retry budget.
func (d *Driver) Recover(ctx context.Context) (int, error) {
	data, err := d.blobs.ReadBlob(PendingBlobKey)
	if errors.Is(err, emergency.ErrNoBlob) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var dumped dump
	if err := json.Unmarshal(data, &dumped); err != nil {
		return 0, fmt.Errorf("failed to decode emergency dump: %w", err)
	}

	recovered := 0
	for _, op := range dumped.Operations {
		if _, err := d.queue.Submit(ctx, op.Kind, op.Table, op.Key, op.Payload); err != nil {
			d.log.Warn("Failed to replay dumped operation",
				logger.String("operation_id", op.ID),
				logger.Error(err))
			continue
		}
		recovered++
	}

	if err := d.blobs.DeleteBlob(PendingBlobKey); err != nil {
		d.log.Warn("Failed to delete consumed emergency dump", logger.Error(err))
	}

	if recovered > 0 {
		metrics.RecoveredOperationsTotal.Add(float64(recovered))
		d.log.Info("Recovered pending operations from emergency dump",
			logger.Int("operations", recovered),
			logger.Time("dumped_at", dumped.DumpedAt))
	}
	return recovered, nil
}
