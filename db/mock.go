package db

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Compile-time interface check.
var _ Store = (*MockStore)(nil)

// MockStore is an in-memory [Store] for tests. It honours column families,
// batches and Close exactly like PebbleDB, and can be told to fail writes.
//
//	store := db.NewMockStore(db.ShardsColumnFamily)
//	defer store.Close()
type MockStore struct {
	mu     sync.RWMutex
	data   map[string]map[string][]byte // cf -> key -> value
	closed bool

	// failPuts makes every Put and batch commit return this error.
	failPuts error
}

// NewMockStore registers DefaultColumnFamily plus cfs.
func NewMockStore(cfs ...string) *MockStore {
	m := &MockStore{data: make(map[string]map[string][]byte, 1+len(cfs))}
	for _, cf := range append([]string{DefaultColumnFamily}, cfs...) {
		m.data[cf] = make(map[string][]byte)
	}
	return m
}

// bucket resolves cf. Callers hold mu.
func (m *MockStore) bucket(cf string) (map[string][]byte, error) {
	if m.closed {
		return nil, ErrClosed
	}
	b, ok := m.data[cf]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrColumnFamilyNotFound, cf)
	}
	return b, nil
}

func (m *MockStore) Get(cf string, key []byte) ([]byte, error) {
	if key == nil {
		return nil, ErrNilKey
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, err := m.bucket(cf)
	if err != nil {
		return nil, err
	}
	v, ok := b[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return bytes.Clone(v), nil
}

func (m *MockStore) Put(cf string, key, value []byte) error {
	if key == nil {
		return ErrNilKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.bucket(cf)
	if err != nil {
		return err
	}
	if m.failPuts != nil {
		return m.failPuts
	}
	b[string(key)] = bytes.Clone(value)
	return nil
}

func (m *MockStore) Delete(cf string, key []byte) error {
	if key == nil {
		return ErrNilKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.bucket(cf)
	if err != nil {
		return err
	}
	delete(b, string(key))
	return nil
}

func (m *MockStore) NewBatch() Batch {
	return &mockBatch{store: m}
}

// NewIterator iterates over a sorted snapshot taken at creation.
func (m *MockStore) NewIterator(cf string) (Iterator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, err := m.bucket(cf)
	if err != nil {
		return nil, err
	}
	entries := make([]mockEntry, 0, len(b))
	for k, v := range b {
		entries = append(entries, mockEntry{key: []byte(k), value: bytes.Clone(v)})
	}
	slices.SortFunc(entries, func(a, b mockEntry) int { return bytes.Compare(a.key, b.key) })
	return &mockIterator{entries: entries, pos: -1}, nil
}

func (m *MockStore) Flush() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.closed = true
	m.data = nil
	return nil
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// Len returns the number of keys in cf, or -1 if cf is unknown or the store
// is closed.
func (m *MockStore) Len(cf string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, err := m.bucket(cf)
	if err != nil {
		return -1
	}
	return len(b)
}

// Keys returns the sorted keys of cf that start with prefix.
func (m *MockStore) Keys(cf, prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, err := m.bucket(cf)
	if err != nil {
		return nil
	}
	var out []string
	for k := range b {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

// FailPuts makes subsequent writes return err. Pass nil to stop failing.
func (m *MockStore) FailPuts(err error) {
	m.mu.Lock()
	m.failPuts = err
	m.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Batch
// ---------------------------------------------------------------------------

type mockOp struct {
	del   bool
	cf    string
	key   string
	value []byte
}

type mockBatch struct {
	store  *MockStore
	ops    []mockOp
	closed bool
}

func (b *mockBatch) stage(op mockOp, key []byte) error {
	if b.closed {
		return ErrBatchClosed
	}
	if key == nil {
		return ErrNilKey
	}
	b.store.mu.RLock()
	_, err := b.store.bucket(op.cf)
	b.store.mu.RUnlock()
	if err != nil {
		return err
	}
	b.ops = append(b.ops, op)
	return nil
}

func (b *mockBatch) Put(cf string, key, value []byte) error {
	return b.stage(mockOp{cf: cf, key: string(key), value: bytes.Clone(value)}, key)
}

func (b *mockBatch) Delete(cf string, key []byte) error {
	return b.stage(mockOp{del: true, cf: cf, key: string(key)}, key)
}

func (b *mockBatch) Len() int { return len(b.ops) }

func (b *mockBatch) Commit() error {
	if b.closed {
		return ErrBatchClosed
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	if b.store.closed {
		return ErrClosed
	}
	if b.store.failPuts != nil {
		return b.store.failPuts
	}
	for _, op := range b.ops {
		if op.del {
			delete(b.store.data[op.cf], op.key)
		} else {
			b.store.data[op.cf][op.key] = op.value
		}
	}
	return nil
}

func (b *mockBatch) Close() {
	b.closed = true
	b.ops = nil
}

// ---------------------------------------------------------------------------
// Iterator
// ---------------------------------------------------------------------------

type mockEntry struct {
	key   []byte
	value []byte
}

type mockIterator struct {
	entries []mockEntry
	pos     int
}

func (it *mockIterator) SeekToFirst() { it.pos = 0 }

func (it *mockIterator) Seek(target []byte) {
	it.pos, _ = slices.BinarySearchFunc(it.entries, target, func(e mockEntry, t []byte) int {
		return bytes.Compare(e.key, t)
	})
}

func (it *mockIterator) Next()       { it.pos++ }
func (it *mockIterator) Valid() bool { return it.pos >= 0 && it.pos < len(it.entries) }

func (it *mockIterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return bytes.Clone(it.entries[it.pos].key)
}

func (it *mockIterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return bytes.Clone(it.entries[it.pos].value)
}

func (it *mockIterator) Err() error { return nil }
func (it *mockIterator) Close()     {}
