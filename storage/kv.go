package storage

import (
	"errors"
	"fmt"

	"github.com/beyondbrewing/brewery-markov/db"
)

// Compile-time interface check.
var _ Backend = (*KVBackend)(nil)

// KVBackend stores shards as records in one column family of a db.Store.
// It owns the store: Close closes it.
type KVBackend struct {
	store db.Store
	cf    string
}

// NewKVBackend stores shards in column family cf of store. The family must
// have been registered when the store was opened.
func NewKVBackend(store db.Store, cf string) *KVBackend {
	return &KVBackend{store: store, cf: cf}
}

func (k *KVBackend) Read(key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	data, err := k.store.Get(k.cf, []byte(key))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: read %q: %w", key, err)
	}
	return data, nil
}

func (k *KVBackend) Write(key string, data []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := k.store.Put(k.cf, []byte(key), data); err != nil {
		return fmt.Errorf("storage: write %q: %w", key, err)
	}
	return nil
}

func (k *KVBackend) Delete(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := k.store.Delete(k.cf, []byte(key)); err != nil {
		return fmt.Errorf("storage: delete %q: %w", key, err)
	}
	return nil
}

func (k *KVBackend) Keys() ([]string, error) {
	it, err := k.store.NewIterator(k.cf)
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	defer it.Close()

	var keys []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	return keys, nil
}

// Clear deletes every shard record in one atomic batch.
func (k *KVBackend) Clear() error {
	keys, err := k.Keys()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	batch := k.store.NewBatch()
	defer batch.Close()

	for _, key := range keys {
		if err := batch.Delete(k.cf, []byte(key)); err != nil {
			return fmt.Errorf("storage: clear: %w", err)
		}
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("storage: clear: %w", err)
	}
	return nil
}

func (k *KVBackend) Flush() error {
	if err := k.store.Flush(); err != nil {
		return fmt.Errorf("storage: flush: %w", err)
	}
	return nil
}

func (k *KVBackend) Close() error {
	return k.store.Close()
}
