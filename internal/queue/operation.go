// Package queue holds mutation intents and applies them to the persistent
// store with bounded, backed-off retries.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is the type of mutation an operation carries.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// ParseKind validates and normalizes an operation kind string
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindCreate, KindUpdate, KindDelete:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown operation kind: %q", s)
	}
}

// Operation is a single queued mutation intent. RetryCount is mutated only by
// the executor; everything else is fixed at submission.
type Operation struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Table      string          `json:"table"`
	Key        string          `json:"key"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	RetryCount int             `json:"retry_count"`
}

// TerminalFailure is an operation that exhausted its retry budget. It stays
// listed until explicitly acknowledged.
type TerminalFailure struct {
	Operation Operation `json:"operation"`
	LastError string    `json:"last_error"`
	FailedAt  time.Time `json:"failed_at"`
}

// EventType identifies a queue event.
type EventType string

const (
	EventApplied         EventType = "operation_applied"
	EventRetryScheduled  EventType = "operation_retry_scheduled"
	EventTerminalFailure EventType = "operation_terminal_failure"
)

// Event is emitted by the executor as operations move through the queue.
type Event struct {
	Type      EventType `json:"type"`
	Operation Operation `json:"operation"`
	Err       string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// newOperationID builds a creation-ordered id: a nanosecond timestamp prefix
// keeps ids sortable, the uuid suffix keeps them unique.
func newOperationID(now time.Time) string {
	return fmt.Sprintf("%020d-%s", now.UnixNano(), uuid.NewString()[:8])
}
