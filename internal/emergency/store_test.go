package emergency

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStore_WriteReadDelete(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	payload := []byte(`{"operations":[]}`)
	if err := store.WriteBlob("pending-operations", payload); err != nil {
		t.Fatalf("WriteBlob failed: %v", err)
	}

	got, err := store.ReadBlob("pending-operations")
	if err != nil {
		t.Fatalf("ReadBlob failed: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("blob mismatch: got %q, want %q", got, payload)
	}

	if err := store.DeleteBlob("pending-operations"); err != nil {
		t.Fatalf("DeleteBlob failed: %v", err)
	}
	if _, err := store.ReadBlob("pending-operations"); !errors.Is(err, ErrNoBlob) {
		t.Errorf("expected ErrNoBlob after delete, got %v", err)
	}
}

func TestFileStore_ReadMissing(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	if _, err := store.ReadBlob("never-written"); !errors.Is(err, ErrNoBlob) {
		t.Errorf("expected ErrNoBlob, got %v", err)
	}
}

func TestFileStore_DeleteMissingIsNoop(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	if err := store.DeleteBlob("never-written"); err != nil {
		t.Errorf("deleting a missing blob should not error, got %v", err)
	}
}

func TestFileStore_OverwriteReplaces(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	store.WriteBlob("key", []byte("first"))
	store.WriteBlob("key", []byte("second"))

	got, err := store.ReadBlob("key")
	if err != nil {
		t.Fatalf("ReadBlob failed: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("expected overwritten blob, got %q", got)
	}
}

func TestFileStore_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	if err := store.WriteBlob("key", []byte("data")); err != nil {
		t.Fatalf("WriteBlob failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, entry := range entries {
		if strings.Contains(entry.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", filepath.Join(dir, entry.Name()))
		}
	}
}

func TestNewFileStore_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "emergency")
	if _, err := NewFileStore(dir); err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("directory not created: %v", err)
	}
}
