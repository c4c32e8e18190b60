package kvstore

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore is a Store backed by an embedded BadgerDB instance,
// satisfying the host "embedding key-value storage" contract the graph
// layer is specified against (see spec §6) with a real, persistent
// engine rather than a stub.
//
// Example:
//
//	store, err := kvstore.NewBadgerStore(kvstore.BadgerOptions{DataDir: "./data/identitygraph"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
type BadgerStore struct {
	db *badger.DB
}

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	// DataDir is the directory BadgerDB persists its files to. Required
	// unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB without touching disk, useful for tests
	// that still want to exercise the real Badger code path.
	InMemory bool

	// SyncWrites forces an fsync after every write. Slower, more durable.
	SyncWrites bool
}

// NewBadgerStore opens (or creates) a BadgerDB-backed store at the
// configured location.
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	bopts := badger.DefaultOptions(opts.DataDir).
		WithInMemory(opts.InMemory).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(nil)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open badger: %w", err)
	}

	return &BadgerStore{db: db}, nil
}

// Get implements Store.
func (b *BadgerStore) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Put implements Store.
func (b *BadgerStore) Put(_ context.Context, key string, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// Delete implements Store.
func (b *BadgerStore) Delete(_ context.Context, key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

// List implements Store. The cursor is the last key returned by the
// previous page; BadgerDB's natural iterator order (lexicographic by
// key) makes resuming from it a plain seek-past.
func (b *BadgerStore) List(_ context.Context, prefix string, limit int, cursor *string) ([]string, *string, bool, error) {
	if limit <= 0 {
		return nil, nil, true, nil
	}

	var keys []string
	var complete bool

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		count := 0
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			key := string(it.Item().Key())
			if cursor != nil && key <= *cursor {
				continue
			}
			if count == limit {
				complete = false
				return nil
			}
			keys = append(keys, key)
			count++
		}
		complete = true
		return nil
	})
	if err != nil {
		return nil, nil, false, err
	}

	if complete {
		return keys, nil, true, nil
	}

	next := keys[len(keys)-1]
	return keys, &next, false, nil
}

// Close implements Store.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}
