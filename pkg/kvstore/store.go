// Package kvstore narrows a host key-value store down to exactly the
// operations the graph layer needs: point get/put/delete and
// prefix-ordered listing with opaque cursors.
//
// This is the thinnest layer in the module. It promises no atomicity
// across operations and no transactions — callers above it (the graph
// database) are responsible for tolerating partial writes.
//
// Example Usage:
//
//	store := kvstore.NewMemStore()
//	defer store.Close()
//
//	if err := store.Put(ctx, "node:abc", []byte(`{"id":"abc"}`)); err != nil {
//		log.Fatal(err)
//	}
//
//	val, err := store.Get(ctx, "node:abc")
//	if errors.Is(err, kvstore.ErrNotFound) {
//		// key does not exist
//	}
package kvstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kvstore: key not found")

// ErrClosed is returned by MemStore's Get, Put, Delete and List once
// Close has been called. BadgerStore does not return it.
var ErrClosed = errors.New("kvstore: store closed")

// Store is the minimal contract the graph database is built on. Keys are
// UTF-8 strings; values are opaque bytes (the graph layer stores JSON).
// Implementations must iterate List results in ascending lexicographic
// order and must not promise atomicity across distinct calls.
type Store interface {
	// Get returns the value for key, or ErrNotFound if it does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes value for key, overwriting any existing value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. It does not error if the key was absent.
	Delete(ctx context.Context, key string) error

	// List returns up to limit keys with the given prefix in ascending
	// order, starting after cursor (nil/empty means start at the
	// beginning). nextCursor is non-nil when more keys exist beyond the
	// returned page; complete is true iff no further keys remain for
	// this prefix. A cursor returned for one prefix must only be reused
	// with that same prefix.
	List(ctx context.Context, prefix string, limit int, cursor *string) (keys []string, nextCursor *string, complete bool, err error)

	// Close releases any resources held by the store.
	Close() error
}
