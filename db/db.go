// Package db is the key-value layer under the Pebble shard backend. Keys are
// grouped into logical column families, each stored under its own key
// prefix, so one engine can hold shard blobs next to any other record kind.
//
// [Store] is satisfied by [PebbleDB] and by the in-memory [MockStore] used in
// tests. Consumers receive a Store through their constructors.
package db

import (
	"errors"
	"io"
)

// Sentinel errors returned by Store implementations.
var (
	ErrClosed               = errors.New("db: database is closed")
	ErrColumnFamilyNotFound = errors.New("db: column family not found")
	ErrKeyNotFound          = errors.New("db: key not found")
	ErrNilKey               = errors.New("db: key must not be nil")
	ErrBatchClosed          = errors.New("db: batch is closed")
)

// Column families. DefaultColumnFamily is always registered.
const (
	DefaultColumnFamily = "default"
	ShardsColumnFamily  = "shards"
)

// Store is a column-family key-value store. All methods are safe for
// concurrent use.
type Store interface {
	// Get returns a copy of the value under key, or ErrKeyNotFound.
	Get(cf string, key []byte) ([]byte, error)

	Put(cf string, key, value []byte) error

	// Delete removes key. A missing key is not an error.
	Delete(cf string, key []byte) error

	// NewBatch starts an atomic group of writes. Close it when done.
	NewBatch() Batch

	// NewIterator walks cf in key order. Close it when done.
	NewIterator(cf string) (Iterator, error)

	// Flush persists buffered writes.
	Flush() error

	// Close flushes and releases the engine. Later calls return ErrClosed.
	io.Closer
}

// Batch buffers writes and applies them atomically on Commit.
type Batch interface {
	Put(cf string, key, value []byte) error
	Delete(cf string, key []byte) error

	// Len returns the number of staged writes.
	Len() int

	Commit() error

	// Close must be called even after Commit.
	Close()
}

// Iterator traverses one column family in ascending key order. Key and
// Value return copies that stay valid after the iterator moves.
type Iterator interface {
	SeekToFirst()

	// Seek moves to the first key >= target.
	Seek(target []byte)

	Next()
	Valid() bool
	Key() []byte
	Value() []byte
	Err() error
	Close()
}
