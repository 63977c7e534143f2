// Package emergency provides the side-channel blob store used for
// last-moment dumps of the pending set. It is deliberately independent of
// the main persistent store.
package emergency

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNoBlob is returned by ReadBlob when no blob exists under the key.
var ErrNoBlob = errors.New("no blob stored under key")

// BlobStore is a minimal key-to-bytes store.
type BlobStore interface {
	WriteBlob(key string, data []byte) error
	ReadBlob(key string) ([]byte, error)
	DeleteBlob(key string) error
}

// FileStore keeps each blob in its own file under a directory. Writes go
// through a temp file and rename, so a crash mid-write cannot leave a
// truncated blob under the key.
type FileStore struct {
	dir string
}

// NewFileStore creates a file-backed blob store rooted at dir
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create emergency directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+".blob")
}

func (s *FileStore) WriteBlob(key string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, key+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp blob: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close blob: %w", err)
	}

	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to publish blob: %w", err)
	}
	return nil
}

func (s *FileStore) ReadBlob(key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoBlob
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

func (s *FileStore) DeleteBlob(key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}
