package storage

import (
	"errors"
	"fmt"
)

// NotFoundError represents a missing record
type NotFoundError struct {
	Table string
	ID    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("record '%s' not found in table '%s'", e.ID, e.Table)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ErrTxClosed is returned when a transaction is used after Commit or Rollback.
var ErrTxClosed = errors.New("transaction already closed")
