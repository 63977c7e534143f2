package snapshot

import (
	"errors"
	"fmt"
)

// NotFoundError represents a missing snapshot
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return "no snapshots available"
	}
	return fmt.Sprintf("snapshot '%s' not found", e.ID)
}

// IsNotFound checks if an error is a snapshot not found error
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// RestoreError wraps a failure during the destructive restore transaction.
// The transaction is aborted before this is returned, so the store keeps its
// pre-restore contents.
type RestoreError struct {
	SnapshotID string
	Err        error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("restore of snapshot '%s' aborted: %v", e.SnapshotID, e.Err)
}

func (e *RestoreError) Unwrap() error {
	return e.Err
}
