package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lenshed/durastore/internal/logger"
	"github.com/lenshed/durastore/internal/storage"
)

var managedTables = []string{"cameras", "orders"}

func newTestManager(store storage.Store, retention int) *Manager {
	return NewManager(store, managedTables, retention, time.Minute,
		logger.NewFromConfig("error", "console"))
}

func seed(t *testing.T, store storage.Store, table string, ids ...string) {
	t.Helper()
	ctx := context.Background()
	for _, id := range ids {
		data := []byte(fmt.Sprintf(`{"id":%q}`, id))
		require.NoError(t, store.Put(ctx, table, storage.Record{ID: id, Data: data}))
	}
}

func TestManager_CreateAndRestoreRoundtrip(t *testing.T) {
	store := storage.NewMemoryStore()
	mgr := newTestManager(store, 10)
	ctx := context.Background()

	seed(t, store, "cameras", "c1", "c2")
	seed(t, store, "orders", "o1")

	before := make(map[string][]storage.Record)
	for _, table := range managedTables {
		records, err := store.GetAll(ctx, table)
		require.NoError(t, err)
		before[table] = records
	}

	id, err := mgr.Create(ctx, KindManual)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Diverge from the captured state.
	require.NoError(t, store.Put(ctx, "cameras", storage.Record{ID: "c1", Data: []byte(`{"id":"mutated"}`)}))
	require.NoError(t, store.Delete(ctx, "orders", "o1"))
	seed(t, store, "cameras", "c3")

	require.NoError(t, mgr.Restore(ctx, id))

	for _, table := range managedTables {
		after, err := store.GetAll(ctx, table)
		require.NoError(t, err)
		require.Len(t, after, len(before[table]), "table %s", table)
		for i := range after {
			assert.Equal(t, before[table][i].ID, after[i].ID)
			assert.Equal(t, string(before[table][i].Data), string(after[i].Data))
		}
	}
}

func TestManager_RestoreLatestByDefault(t *testing.T) {
	store := storage.NewMemoryStore()
	mgr := newTestManager(store, 10)
	ctx := context.Background()

	seed(t, store, "cameras", "c1")
	_, err := mgr.Create(ctx, KindAutomatic)
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	seed(t, store, "cameras", "c2")
	_, err = mgr.Create(ctx, KindAutomatic)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "cameras", "c2"))

	require.NoError(t, mgr.Restore(ctx, ""))

	all, err := store.GetAll(ctx, "cameras")
	require.NoError(t, err)
	require.Len(t, all, 2, "latest snapshot should include c2")
}

func TestManager_RestoreNotFound(t *testing.T) {
	store := storage.NewMemoryStore()
	mgr := newTestManager(store, 10)
	ctx := context.Background()

	err := mgr.Restore(ctx, "")
	assert.True(t, IsNotFound(err), "expected not-found for empty history, got %v", err)

	err = mgr.Restore(ctx, "no-such-snapshot")
	assert.True(t, IsNotFound(err), "expected not-found for unknown id, got %v", err)
}

func TestManager_RetentionTrimsOldest(t *testing.T) {
	store := storage.NewMemoryStore()
	mgr := newTestManager(store, 2)
	ctx := context.Background()

	seed(t, store, "cameras", "c1")

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := mgr.Create(ctx, KindAutomatic)
		require.NoError(t, err)
		ids = append(ids, id)
		time.Sleep(2 * time.Millisecond) // distinct timestamps
	}

	infos, err := mgr.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, ids[2], infos[0].ID, "list is newest first")
	assert.Equal(t, ids[1], infos[1].ID)

	_, err = mgr.Get(ctx, ids[0])
	assert.True(t, IsNotFound(err), "oldest snapshot should be trimmed")
}

func TestManager_TrimTieBreaksByID(t *testing.T) {
	store := storage.NewMemoryStore()
	mgr := newTestManager(store, 2)
	ctx := context.Background()

	// Equal timestamps force the id tie-break; the smallest id is the oldest.
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"snap-1", "snap-2", "snap-3"} {
		doc, err := json.Marshal(Snapshot{
			ID:        id,
			Timestamp: at,
			Kind:      KindAutomatic,
			Tables:    map[string][]storage.Record{},
		})
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, Table, storage.Record{ID: id, Data: doc}))
	}

	require.NoError(t, mgr.trim(ctx))

	infos, err := mgr.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "snap-3", infos[0].ID)
	assert.Equal(t, "snap-2", infos[1].ID)
}

func TestManager_LastTracksCreates(t *testing.T) {
	store := storage.NewMemoryStore()
	mgr := newTestManager(store, 10)
	ctx := context.Background()

	lastTime, lastSize := mgr.Last()
	assert.True(t, lastTime.IsZero())
	assert.Zero(t, lastSize)

	seed(t, store, "cameras", "c1")
	_, err := mgr.Create(ctx, KindManual)
	require.NoError(t, err)

	lastTime, lastSize = mgr.Last()
	assert.False(t, lastTime.IsZero())
	assert.Greater(t, lastSize, 0)
}

func TestManager_CreatedHandlerFires(t *testing.T) {
	store := storage.NewMemoryStore()
	mgr := newTestManager(store, 10)
	ctx := context.Background()

	var got []Info
	mgr.SetCreatedHandler(func(info Info) { got = append(got, info) })

	id, err := mgr.Create(ctx, KindManual)
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, KindManual, got[0].Kind)
}

// restoreFailStore fails any transactional write to a chosen table, which
// aborts a restore partway through.
type restoreFailStore struct {
	*storage.MemoryStore
	failTable string
}

func (s *restoreFailStore) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.MemoryStore.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &restoreFailTx{Tx: tx, failTable: s.failTable}, nil
}

type restoreFailTx struct {
	storage.Tx
	failTable string
}

func (t *restoreFailTx) Put(table string, rec storage.Record) error {
	if table == t.failTable {
		return errors.New("simulated write failure")
	}
	return t.Tx.Put(table, rec)
}

func TestManager_RestoreIsAllOrNothing(t *testing.T) {
	inner := storage.NewMemoryStore()
	store := &restoreFailStore{MemoryStore: inner}
	mgr := newTestManager(store, 10)
	ctx := context.Background()

	seed(t, inner, "cameras", "c1")
	seed(t, inner, "orders", "o1")

	id, err := mgr.Create(ctx, KindManual)
	require.NoError(t, err)

	// Diverge, then make every write to orders fail.
	seed(t, inner, "cameras", "c2")
	store.failTable = "orders"

	err = mgr.Restore(ctx, id)
	require.Error(t, err)
	var restoreErr *RestoreError
	require.ErrorAs(t, err, &restoreErr)
	assert.Equal(t, id, restoreErr.SnapshotID)

	// The failed restore left the diverged state untouched.
	cameras, err := inner.GetAll(ctx, "cameras")
	require.NoError(t, err)
	assert.Len(t, cameras, 2)
	orders, err := inner.GetAll(ctx, "orders")
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}
