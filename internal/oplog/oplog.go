// Package oplog maintains the append-only audit trail of mutation intents.
// An entry is written before its operation is applied and is never mutated.
package oplog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/lenshed/durastore/internal/logger"
	"github.com/lenshed/durastore/internal/metrics"
	"github.com/lenshed/durastore/internal/storage"
)

// Table is the reserved table the log lives in.
const Table = "_oplog"

// Entry is an immutable audit record for one operation.
type Entry struct {
	OperationID string          `json:"operation_id"`
	Kind        string          `json:"kind"`
	TableName   string          `json:"table"`
	Key         string          `json:"key"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	LoggedAt    time.Time       `json:"logged_at"`
}

// Log writes and reads audit entries through the persistent store.
type Log struct {
	store storage.Store
	log   logger.Logger
}

// New creates an operation log backed by the given store
func New(store storage.Store, log logger.Logger) *Log {
	return &Log{store: store, log: log}
}

// Append records an entry. It must complete before the operation is applied.
func (l *Log) Append(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to serialize log entry: %w", err)
	}

	tx, err := l.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to open log transaction: %w", err)
	}
	if err := tx.Put(Table, storage.Record{ID: entry.OperationID, Data: data}); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to write log entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit log entry: %w", err)
	}

	metrics.OplogEntriesTotal.Inc()
	return nil
}

// Entries returns all log entries ordered by logged time ascending.
func (l *Log) Entries(ctx context.Context) ([]Entry, error) {
	records, err := l.store.GetAll(ctx, Table)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(records))
	for _, rec := range records {
		var entry Entry
		if err := json.Unmarshal(rec.Data, &entry); err != nil {
			l.log.Warn("Skipping malformed log entry",
				logger.String("operation_id", rec.ID),
				logger.Error(err))
			continue
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].LoggedAt.Equal(entries[j].LoggedAt) {
			return entries[i].OperationID < entries[j].OperationID
		}
		return entries[i].LoggedAt.Before(entries[j].LoggedAt)
	})
	return entries, nil
}

// Prune removes entries logged before the cutoff. Entries whose operation is
// still pending are kept regardless of age.
func (l *Log) Prune(ctx context.Context, before time.Time, pending func(operationID string) bool) (int, error) {
	entries, err := l.Entries(ctx)
	if err != nil {
		return 0, err
	}

	tx, err := l.store.Begin(ctx)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, entry := range entries {
		if !entry.LoggedAt.Before(before) {
			continue
		}
		if pending != nil && pending(entry.OperationID) {
			continue
		}
		if err := tx.Delete(Table, entry.OperationID); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("failed to prune log entry %s: %w", entry.OperationID, err)
		}
		pruned++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	if pruned > 0 {
		metrics.OplogPrunedTotal.Add(float64(pruned))
		l.log.Info("Pruned operation log", logger.Int("entries", pruned))
	}
	return pruned, nil
}
