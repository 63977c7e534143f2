package storage

import (
	"context"
	"testing"

	"github.com/lenshed/durastore/internal/logger"
)

func newTestBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(t.TempDir(), false, logger.NewFromConfig("error", "console"))
	if err != nil {
		t.Fatalf("NewBadgerStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBadgerStore_CRUD(t *testing.T) {
	store := newTestBadgerStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, "cameras", "c1"); !IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}

	if err := store.Put(ctx, "cameras", Record{ID: "c1", Data: []byte(`{"v":1}`)}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := store.Get(ctx, "cameras", "c1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Data) != `{"v":1}` {
		t.Errorf("unexpected payload: %q", got.Data)
	}

	// Replace, then delete.
	store.Put(ctx, "cameras", Record{ID: "c1", Data: []byte(`{"v":2}`)})
	got, _ = store.Get(ctx, "cameras", "c1")
	if string(got.Data) != `{"v":2}` {
		t.Errorf("expected replaced payload, got %q", got.Data)
	}

	if err := store.Delete(ctx, "cameras", "c1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "cameras", "c1"); !IsNotFound(err) {
		t.Errorf("expected NotFoundError after delete, got %v", err)
	}
	if err := store.Delete(ctx, "cameras", "c1"); err != nil {
		t.Errorf("deleting an absent record should not error, got %v", err)
	}
}

func TestBadgerStore_GetAllScopedToTable(t *testing.T) {
	store := newTestBadgerStore(t)
	ctx := context.Background()

	store.Put(ctx, "cameras", Record{ID: "c2", Data: []byte(`b`)})
	store.Put(ctx, "cameras", Record{ID: "c1", Data: []byte(`a`)})
	store.Put(ctx, "orders", Record{ID: "o1", Data: []byte(`x`)})

	records, err := store.GetAll(ctx, "cameras")
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 camera records, got %d", len(records))
	}
	if records[0].ID != "c1" || records[1].ID != "c2" {
		t.Errorf("records not in id order: %v, %v", records[0].ID, records[1].ID)
	}
}

func TestBadgerStore_TxCommitAndRollback(t *testing.T) {
	store := newTestBadgerStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	tx.Put("cameras", Record{ID: "c1", Data: []byte(`1`)})
	tx.Put("orders", Record{ID: "o1", Data: []byte(`1`)})
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if _, err := store.Get(ctx, "orders", "o1"); err != nil {
		t.Fatalf("expected committed record, got %v", err)
	}

	tx, _ = store.Begin(ctx)
	tx.Delete("cameras", "c1")
	tx.Rollback()

	if _, err := store.Get(ctx, "cameras", "c1"); err != nil {
		t.Errorf("rollback should preserve the record, got %v", err)
	}

	if err := tx.Put("cameras", Record{ID: "c2"}); err != ErrTxClosed {
		t.Errorf("expected ErrTxClosed on finished tx, got %v", err)
	}
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	log := logger.NewFromConfig("error", "console")
	ctx := context.Background()

	store, err := NewBadgerStore(dir, true, log)
	if err != nil {
		t.Fatalf("NewBadgerStore failed: %v", err)
	}
	store.Put(ctx, "cameras", Record{ID: "c1", Data: []byte(`{"v":1}`)})
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewBadgerStore(dir, true, log)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "cameras", "c1")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if string(got.Data) != `{"v":1}` {
		t.Errorf("unexpected payload after reopen: %q", got.Data)
	}
}
