// Package storage provides the table-scoped persistent store the engine
// writes through. Every mutation goes through a transaction.
package storage

import (
	"context"
	"encoding/json"
)

// Record is a single row in a table. Data holds the serialized record body;
// the store never interprets it.
type Record struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// Store represents a table-oriented persistence backend
type Store interface {
	// Single operations
	Get(ctx context.Context, table, id string) (Record, error)
	Put(ctx context.Context, table string, rec Record) error
	Delete(ctx context.Context, table, id string) error
	GetAll(ctx context.Context, table string) ([]Record, error)

	// Begin opens an atomic read-write transaction spanning all tables.
	Begin(ctx context.Context) (Tx, error)

	Close() error
}

// Tx represents an atomic multi-table transaction. Writes are not visible
// outside the transaction until Commit.
type Tx interface {
	Get(table, id string) (Record, error)
	Put(table string, rec Record) error
	Delete(table, id string) error
	GetAll(table string) ([]Record, error)
	Commit() error
	Rollback() error
}

// Config holds storage configuration
type Config struct {
	Type       string // "memory", "badger"
	DataDir    string
	SyncWrites bool
}
