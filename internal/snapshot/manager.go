// Package snapshot captures consistent point-in-time copies of all managed
// tables and restores the store from a retained copy.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lenshed/durastore/internal/logger"
	"github.com/lenshed/durastore/internal/metrics"
	"github.com/lenshed/durastore/internal/storage"
)

// Table is the reserved table snapshots are stored in.
const Table = "_snapshots"

// Kind distinguishes timer-driven captures from on-demand ones.
type Kind string

const (
	KindAutomatic Kind = "automatic"
	KindManual    Kind = "manual"
)

// Snapshot is a full point-in-time copy of every managed table. Tables are
// captured inside one transaction, so a snapshot never mixes states.
type Snapshot struct {
	ID        string                      `json:"id"`
	Timestamp time.Time                   `json:"timestamp"`
	Kind      Kind                        `json:"kind"`
	SizeBytes int                         `json:"size_bytes"`
	Tables    map[string][]storage.Record `json:"tables"`
}

// Info is snapshot metadata without table contents.
type Info struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
	SizeBytes int       `json:"size_bytes"`
}

// Manager captures, lists, restores, and trims snapshots.
type Manager struct {
	store     storage.Store
	tables    []string
	retention int
	interval  time.Duration
	log       logger.Logger

	mu        sync.Mutex
	lastTime  time.Time
	lastSize  int
	onCreated func(Info)
}

// NewManager creates a snapshot manager over the managed tables
func NewManager(store storage.Store, tables []string, retention int, interval time.Duration, log logger.Logger) *Manager {
	return &Manager{
		store:     store,
		tables:    append([]string(nil), tables...),
		retention: retention,
		interval:  interval,
		log:       log,
	}
}

// SetCreatedHandler installs a callback fired after each durable capture.
func (m *Manager) SetCreatedHandler(fn func(Info)) {
	m.mu.Lock()
	m.onCreated = fn
	m.mu.Unlock()
}

func newSnapshotID(now time.Time) string {
	return fmt.Sprintf("%020d-%s", now.UnixNano(), uuid.NewString()[:8])
}

// Create reads every managed table inside one transaction, writes the
// serialized snapshot, and then trims retention. The trim runs only after
// the new snapshot committed.
func (m *Manager) Create(ctx context.Context, kind Kind) (string, error) {
	now := time.Now().UTC()
	snap := Snapshot{
		ID:        newSnapshotID(now),
		Timestamp: now,
		Kind:      kind,
		Tables:    make(map[string][]storage.Record, len(m.tables)),
	}

	tx, err := m.store.Begin(ctx)
	if err != nil {
		metrics.SnapshotsTotal.WithLabelValues(string(kind), "error").Inc()
		return "", fmt.Errorf("failed to open snapshot transaction: %w", err)
	}

	for _, table := range m.tables {
		records, err := tx.GetAll(table)
		if err != nil {
			tx.Rollback()
			metrics.SnapshotsTotal.WithLabelValues(string(kind), "error").Inc()
			return "", fmt.Errorf("failed to capture table %s: %w", table, err)
		}
		if records == nil {
			records = []storage.Record{}
		}
		snap.Tables[table] = records
	}

	tablesData, err := json.Marshal(snap.Tables)
	if err != nil {
		tx.Rollback()
		metrics.SnapshotsTotal.WithLabelValues(string(kind), "error").Inc()
		return "", fmt.Errorf("failed to serialize snapshot: %w", err)
	}
	snap.SizeBytes = len(tablesData)

	doc, err := json.Marshal(snap)
	if err != nil {
		tx.Rollback()
		metrics.SnapshotsTotal.WithLabelValues(string(kind), "error").Inc()
		return "", fmt.Errorf("failed to serialize snapshot: %w", err)
	}

	if err := tx.Put(Table, storage.Record{ID: snap.ID, Data: doc}); err != nil {
		tx.Rollback()
		metrics.SnapshotsTotal.WithLabelValues(string(kind), "error").Inc()
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		metrics.SnapshotsTotal.WithLabelValues(string(kind), "error").Inc()
		return "", fmt.Errorf("failed to commit snapshot: %w", err)
	}

	m.mu.Lock()
	m.lastTime = snap.Timestamp
	m.lastSize = snap.SizeBytes
	created := m.onCreated
	m.mu.Unlock()

	metrics.SnapshotsTotal.WithLabelValues(string(kind), "ok").Inc()
	metrics.SnapshotSizeBytes.Set(float64(snap.SizeBytes))
	m.log.Info("Snapshot created",
		logger.String("snapshot_id", snap.ID),
		logger.String("kind", string(kind)),
		logger.Int("size_bytes", snap.SizeBytes))

	if err := m.trim(ctx); err != nil {
		// The new snapshot is durable; a failed trim only delays cleanup.
		m.log.Warn("Snapshot retention trim failed", logger.Error(err))
	}

	if created != nil {
		created(Info{ID: snap.ID, Timestamp: snap.Timestamp, Kind: snap.Kind, SizeBytes: snap.SizeBytes})
	}

	return snap.ID, nil
}

// trim deletes the oldest snapshots beyond the retention bound. Ties on
// timestamp break by id, which follows insertion order.
func (m *Manager) trim(ctx context.Context) error {
	infos, err := m.list(ctx)
	if err != nil {
		return err
	}
	if len(infos) <= m.retention {
		return nil
	}

	// list returns newest first; everything past the bound goes.
	excess := infos[m.retention:]

	tx, err := m.store.Begin(ctx)
	if err != nil {
		return err
	}
	for _, info := range excess {
		if err := tx.Delete(Table, info.ID); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	metrics.SnapshotTrimsTotal.Add(float64(len(excess)))
	for _, info := range excess {
		m.log.Info("Snapshot trimmed",
			logger.String("snapshot_id", info.ID),
			logger.Time("timestamp", info.Timestamp))
	}
	return nil
}

// List returns snapshot metadata ordered by timestamp descending.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	return m.list(ctx)
}

func (m *Manager) list(ctx context.Context) ([]Info, error) {
	records, err := m.store.GetAll(ctx, Table)
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(records))
	for _, rec := range records {
		var snap Snapshot
		if err := json.Unmarshal(rec.Data, &snap); err != nil {
			m.log.Warn("Skipping malformed snapshot record",
				logger.String("snapshot_id", rec.ID),
				logger.Error(err))
			continue
		}
		infos = append(infos, Info{ID: snap.ID, Timestamp: snap.Timestamp, Kind: snap.Kind, SizeBytes: snap.SizeBytes})
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Timestamp.Equal(infos[j].Timestamp) {
			return infos[i].ID > infos[j].ID
		}
		return infos[i].Timestamp.After(infos[j].Timestamp)
	})
	return infos, nil
}

// Get loads a full snapshot by id.
func (m *Manager) Get(ctx context.Context, id string) (Snapshot, error) {
	rec, err := m.store.Get(ctx, Table, id)
	if storage.IsNotFound(err) {
		return Snapshot{}, &NotFoundError{ID: id}
	}
	if err != nil {
		return Snapshot{}, err
	}

	var snap Snapshot
	if err := json.Unmarshal(rec.Data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot %s: %w", id, err)
	}
	return snap, nil
}

// Restore replaces the contents of every managed table with the snapshot's
// copy. The given id may be empty, selecting the most recent snapshot.
// Clearing and re-inserting happen inside one transaction: a failure partway
// aborts and leaves the store untouched.
func (m *Manager) Restore(ctx context.Context, id string) error {
	if id == "" {
		infos, err := m.list(ctx)
		if err != nil {
			metrics.RestoresTotal.WithLabelValues("error").Inc()
			return err
		}
		if len(infos) == 0 {
			metrics.RestoresTotal.WithLabelValues("not_found").Inc()
			return &NotFoundError{}
		}
		id = infos[0].ID
	}

	snap, err := m.Get(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			metrics.RestoresTotal.WithLabelValues("not_found").Inc()
		} else {
			metrics.RestoresTotal.WithLabelValues("error").Inc()
		}
		return err
	}

	tx, err := m.store.Begin(ctx)
	if err != nil {
		metrics.RestoresTotal.WithLabelValues("error").Inc()
		return &RestoreError{SnapshotID: id, Err: err}
	}

	if err := m.restoreInTx(tx, snap); err != nil {
		tx.Rollback()
		metrics.RestoresTotal.WithLabelValues("error").Inc()
		return &RestoreError{SnapshotID: id, Err: err}
	}
	if err := tx.Commit(); err != nil {
		metrics.RestoresTotal.WithLabelValues("error").Inc()
		return &RestoreError{SnapshotID: id, Err: err}
	}

	metrics.RestoresTotal.WithLabelValues("ok").Inc()
	m.log.Info("Store restored from snapshot",
		logger.String("snapshot_id", id),
		logger.Time("captured_at", snap.Timestamp))
	return nil
}

func (m *Manager) restoreInTx(tx storage.Tx, snap Snapshot) error {
	for _, table := range m.tables {
		current, err := tx.GetAll(table)
		if err != nil {
			return fmt.Errorf("failed to read table %s: %w", table, err)
		}
		for _, rec := range current {
			if err := tx.Delete(table, rec.ID); err != nil {
				return fmt.Errorf("failed to clear table %s: %w", table, err)
			}
		}
		for _, rec := range snap.Tables[table] {
			if err := tx.Put(table, rec); err != nil {
				return fmt.Errorf("failed to restore table %s: %w", table, err)
			}
		}
	}
	return nil
}

// Last returns the time and serialized size of the most recent capture made
// by this manager instance.
func (m *Manager) Last() (time.Time, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTime, m.lastSize
}

// Run captures automatic snapshots on the configured interval until the
// context is cancelled. Capture errors are logged, never propagated.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Create(ctx, KindAutomatic); err != nil {
				m.log.Error("Automatic snapshot failed", logger.Error(err))
			}
		}
	}
}
