// Package storage persists serialized shards. A [Backend] maps a shard key
// to one opaque blob.
//
// Two backends are provided:
//
//   - [FileBackend]: one file per shard in a directory tree fanned out by
//     the characters of the shard key.
//   - [KVBackend]: one record per shard in a [db.Store] column family,
//     normally Pebble.
//
// A missing key is reported as [ErrNotFound]. Callers treat that as an
// empty shard, not as a failure.
package storage

import "errors"

// Sentinel errors.
var (
	ErrNotFound = errors.New("storage: shard not found")
	ErrEmptyKey = errors.New("storage: shard key must not be empty")
)

// Backend stores shard blobs by shard key. Implementations must be safe for
// concurrent use on distinct keys. Writes to one key are serialized by the
// caller.
type Backend interface {
	// Read returns the blob stored under key, or ErrNotFound.
	Read(key string) ([]byte, error)

	// Write replaces the blob under key. A reader never observes a
	// partially written blob.
	Write(key string, data []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// Keys lists every stored key in no particular order.
	Keys() ([]string, error)

	// Clear removes every stored key.
	Clear() error

	// Flush makes completed writes durable.
	Flush() error

	Close() error
}
