package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/lenshed/durastore/internal/logger"
)

// Keys are laid out as tbl/<table>/<id> so that a prefix scan over a table
// yields records in id order.
const tablePrefix = "tbl/"

func recordKey(table, id string) []byte {
	return []byte(tablePrefix + table + "/" + id)
}

func tableKeyPrefix(table string) []byte {
	return []byte(tablePrefix + table + "/")
}

// BadgerStore implements Store using BadgerDB
type BadgerStore struct {
	db   *badger.DB
	log  logger.Logger
	done chan struct{}
}

// NewBadgerStore creates a new BadgerDB-backed store
func NewBadgerStore(dataDir string, syncWrites bool, log logger.Logger) (*BadgerStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	opts := badger.DefaultOptions(dataDir)
	opts.SyncWrites = syncWrites
	opts.Logger = nil
	opts.ValueLogFileSize = 64 << 20
	opts.MemTableSize = 64 << 20
	opts.Compression = 1 // Snappy

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	store := &BadgerStore{
		db:   db,
		log:  log,
		done: make(chan struct{}),
	}
	go store.runGarbageCollection()

	log.Info("BadgerDB store opened",
		logger.String("data_dir", dataDir),
		logger.String("sync_writes", fmt.Sprintf("%t", syncWrites)))

	return store, nil
}

func (b *BadgerStore) runGarbageCollection() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				b.log.Warn("BadgerDB garbage collection failed", logger.Error(err))
			}
		}
	}
}

func (b *BadgerStore) Get(ctx context.Context, table, id string) (Record, error) {
	var rec Record
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(table, id))
		if err != nil {
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		rec = Record{ID: id, Data: data}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, &NotFoundError{Table: table, ID: id}
	}
	return rec, err
}

func (b *BadgerStore) Put(ctx context.Context, table string, rec Record) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(table, rec.ID), rec.Data)
	})
}

func (b *BadgerStore) Delete(ctx context.Context, table, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(table, id))
	})
}

func (b *BadgerStore) GetAll(ctx context.Context, table string) ([]Record, error) {
	var records []Record
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		records, err = scanTable(txn, table)
		return err
	})
	return records, err
}

func scanTable(txn *badger.Txn, table string) ([]Record, error) {
	var records []Record
	prefix := tableKeyPrefix(table)

	opts := badger.DefaultIteratorOptions
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		data, err := item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		id := strings.TrimPrefix(string(item.Key()), string(prefix))
		records = append(records, Record{ID: id, Data: data})
	}
	return records, nil
}

func (b *BadgerStore) Begin(ctx context.Context) (Tx, error) {
	return &badgerTx{txn: b.db.NewTransaction(true)}, nil
}

func (b *BadgerStore) Close() error {
	close(b.done)
	return b.db.Close()
}

// badgerTx implements Tx for BadgerDB
type badgerTx struct {
	txn    *badger.Txn
	closed bool
}

func (tx *badgerTx) Get(table, id string) (Record, error) {
	if tx.closed {
		return Record{}, ErrTxClosed
	}
	item, err := tx.txn.Get(recordKey(table, id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, &NotFoundError{Table: table, ID: id}
	}
	if err != nil {
		return Record{}, err
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return Record{}, err
	}
	return Record{ID: id, Data: data}, nil
}

func (tx *badgerTx) Put(table string, rec Record) error {
	if tx.closed {
		return ErrTxClosed
	}
	return tx.txn.Set(recordKey(table, rec.ID), rec.Data)
}

func (tx *badgerTx) Delete(table, id string) error {
	if tx.closed {
		return ErrTxClosed
	}
	return tx.txn.Delete(recordKey(table, id))
}

func (tx *badgerTx) GetAll(table string) ([]Record, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	return scanTable(tx.txn, table)
}

func (tx *badgerTx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.closed = true
	return tx.txn.Commit()
}

func (tx *badgerTx) Rollback() error {
	if tx.closed {
		return nil
	}
	tx.closed = true
	tx.txn.Discard()
	return nil
}
