package oplog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lenshed/durastore/internal/logger"
	"github.com/lenshed/durastore/internal/storage"
)

func newTestLog() (*Log, storage.Store) {
	store := storage.NewMemoryStore()
	return New(store, logger.NewFromConfig("error", "console")), store
}

func entryAt(id string, at time.Time) Entry {
	return Entry{
		OperationID: id,
		Kind:        "create",
		TableName:   "cameras",
		Key:         "c1",
		Payload:     []byte(`{}`),
		LoggedAt:    at,
	}
}

func TestLog_AppendAndEntries(t *testing.T) {
	log, _ := newTestLog()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Appended out of time order; Entries sorts by logged time.
	require.NoError(t, log.Append(ctx, entryAt("op-b", base.Add(2*time.Second))))
	require.NoError(t, log.Append(ctx, entryAt("op-a", base)))
	require.NoError(t, log.Append(ctx, entryAt("op-c", base.Add(time.Second))))

	entries, err := log.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "op-a", entries[0].OperationID)
	assert.Equal(t, "op-c", entries[1].OperationID)
	assert.Equal(t, "op-b", entries[2].OperationID)
}

func TestLog_EntriesTieBreakByID(t *testing.T) {
	log, _ := newTestLog()
	ctx := context.Background()
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, log.Append(ctx, entryAt("op-2", at)))
	require.NoError(t, log.Append(ctx, entryAt("op-1", at)))

	entries, err := log.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "op-1", entries[0].OperationID)
	assert.Equal(t, "op-2", entries[1].OperationID)
}

func TestLog_PruneKeepsPendingAndRecent(t *testing.T) {
	log, _ := newTestLog()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, log.Append(ctx, entryAt("op-old", base)))
	require.NoError(t, log.Append(ctx, entryAt("op-old-pending", base.Add(time.Second))))
	require.NoError(t, log.Append(ctx, entryAt("op-recent", base.Add(time.Hour))))

	pruned, err := log.Prune(ctx, base.Add(30*time.Minute), func(id string) bool {
		return id == "op-old-pending"
	})
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	entries, err := log.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "op-old-pending", entries[0].OperationID)
	assert.Equal(t, "op-recent", entries[1].OperationID)
}

func TestLog_EntriesSkipsMalformed(t *testing.T) {
	log, store := newTestLog()
	ctx := context.Background()

	require.NoError(t, log.Append(ctx, entryAt("op-good", time.Now().UTC())))
	require.NoError(t, store.Put(ctx, Table, storage.Record{ID: "op-bad", Data: []byte("not json")}))

	entries, err := log.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "op-good", entries[0].OperationID)
}
