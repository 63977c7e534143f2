package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory implementation of Store
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]map[string][]byte
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[string]map[string][]byte),
	}
}

func (m *MemoryStore) Get(ctx context.Context, table, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if rows, ok := m.tables[table]; ok {
		if data, ok := rows[id]; ok {
			return Record{ID: id, Data: append([]byte(nil), data...)}, nil
		}
	}
	return Record{}, &NotFoundError{Table: table, ID: id}
}

func (m *MemoryStore) Put(ctx context.Context, table string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, ok := m.tables[table]
	if !ok {
		rows = make(map[string][]byte)
		m.tables[table] = rows
	}
	rows[rec.ID] = append([]byte(nil), rec.Data...)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, table, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rows, ok := m.tables[table]; ok {
		delete(rows, id)
	}
	return nil
}

func (m *MemoryStore) GetAll(ctx context.Context, table string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.collectLocked(table), nil
}

func (m *MemoryStore) collectLocked(table string) []Record {
	rows := m.tables[table]
	records := make([]Record, 0, len(rows))
	for id, data := range rows {
		records = append(records, Record{ID: id, Data: append([]byte(nil), data...)})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	return &memoryTx{
		store:  m,
		staged: make(map[string]map[string][]byte),
	}, nil
}

// memoryTx stages writes and applies them under the store lock on Commit.
// A nil staged value marks a delete.
type memoryTx struct {
	store  *MemoryStore
	staged map[string]map[string][]byte
	closed bool
}

func (tx *memoryTx) stagedRows(table string) map[string][]byte {
	rows, ok := tx.staged[table]
	if !ok {
		rows = make(map[string][]byte)
		tx.staged[table] = rows
	}
	return rows
}

func (tx *memoryTx) Get(table, id string) (Record, error) {
	if tx.closed {
		return Record{}, ErrTxClosed
	}
	if rows, ok := tx.staged[table]; ok {
		if data, staged := rows[id]; staged {
			if data == nil {
				return Record{}, &NotFoundError{Table: table, ID: id}
			}
			return Record{ID: id, Data: append([]byte(nil), data...)}, nil
		}
	}
	return tx.store.Get(context.Background(), table, id)
}

func (tx *memoryTx) Put(table string, rec Record) error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.stagedRows(table)[rec.ID] = append([]byte(nil), rec.Data...)
	return nil
}

func (tx *memoryTx) Delete(table, id string) error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.stagedRows(table)[id] = nil
	return nil
}

func (tx *memoryTx) GetAll(table string) ([]Record, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}

	tx.store.mu.RLock()
	records := tx.store.collectLocked(table)
	tx.store.mu.RUnlock()

	staged, ok := tx.staged[table]
	if !ok {
		return records, nil
	}

	merged := make(map[string][]byte, len(records)+len(staged))
	for _, rec := range records {
		merged[rec.ID] = rec.Data
	}
	for id, data := range staged {
		if data == nil {
			delete(merged, id)
		} else {
			merged[id] = data
		}
	}

	result := make([]Record, 0, len(merged))
	for id, data := range merged {
		result = append(result, Record{ID: id, Data: append([]byte(nil), data...)})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (tx *memoryTx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.closed = true

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	for table, staged := range tx.staged {
		rows, ok := tx.store.tables[table]
		if !ok {
			rows = make(map[string][]byte)
			tx.store.tables[table] = rows
		}
		for id, data := range staged {
			if data == nil {
				delete(rows, id)
			} else {
				rows[id] = data
			}
		}
	}
	return nil
}

func (tx *memoryTx) Rollback() error {
	if tx.closed {
		return nil
	}
	tx.closed = true
	tx.staged = nil
	return nil
}
