package db

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/beyondbrewing/brewery-markov/pkg/logger"
	"github.com/cockroachdb/pebble"
)

// Compile-time interface check.
var _ Store = (*PebbleDB)(nil)

// PebbleDB is a [Store] on top of Pebble. Each column family maps to the
// key prefix cf+"\x00"; iteration over a family is bounded by cf+"\x01".
type PebbleDB struct {
	db        *pebble.DB
	prefixes  map[string][]byte // immutable after Open
	writeOpts *pebble.WriteOptions
	path      string
	logger    logger.Logger

	// Operations hold mu for reading; Close takes it for writing so it
	// waits for in-flight calls.
	closed atomic.Bool
	mu     sync.RWMutex
}

// Open creates or opens a Pebble database in dir.
func Open(dir string, opts ...Option) (*PebbleDB, error) {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(cfg)
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.With("component", "db")

	cache := pebble.NewCache(cfg.CacheSize)
	defer cache.Unref()

	engine, err := pebble.Open(dir, &pebble.Options{
		Cache:        cache,
		MemTableSize: cfg.MemTableSize,
		MaxOpenFiles: cfg.MaxOpenFiles,
		WALDir:       cfg.WALDir,
	})
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", dir, err)
	}

	writeOpts := pebble.NoSync
	if cfg.SyncWrites {
		writeOpts = pebble.Sync
	}

	p := &PebbleDB{
		db:        engine,
		prefixes:  prefixTable(cfg.ColumnFamilies),
		writeOpts: writeOpts,
		path:      dir,
		logger:    log,
	}
	log.Info("database opened", "path", dir, "column_families", len(p.prefixes))
	return p, nil
}

// enter takes the read side of the close lock and resolves cf. On success
// the caller must call leave.
func (p *PebbleDB) enter(cf string) ([]byte, error) {
	p.mu.RLock()
	if p.closed.Load() {
		p.mu.RUnlock()
		return nil, ErrClosed
	}
	prefix, ok := p.prefixes[cf]
	if !ok {
		p.mu.RUnlock()
		return nil, fmt.Errorf("%w: %q", ErrColumnFamilyNotFound, cf)
	}
	return prefix, nil
}

func (p *PebbleDB) leave() { p.mu.RUnlock() }

func (p *PebbleDB) Get(cf string, key []byte) ([]byte, error) {
	if key == nil {
		return nil, ErrNilKey
	}
	prefix, err := p.enter(cf)
	if err != nil {
		return nil, err
	}
	defer p.leave()

	val, closer, err := p.db.Get(join(prefix, key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("db: get: %w", err)
	}
	defer closer.Close()
	return bytes.Clone(val), nil
}

func (p *PebbleDB) Put(cf string, key, value []byte) error {
	if key == nil {
		return ErrNilKey
	}
	prefix, err := p.enter(cf)
	if err != nil {
		return err
	}
	defer p.leave()

	if err := p.db.Set(join(prefix, key), value, p.writeOpts); err != nil {
		return fmt.Errorf("db: put: %w", err)
	}
	return nil
}

func (p *PebbleDB) Delete(cf string, key []byte) error {
	if key == nil {
		return ErrNilKey
	}
	prefix, err := p.enter(cf)
	if err != nil {
		return err
	}
	defer p.leave()

	if err := p.db.Delete(join(prefix, key), p.writeOpts); err != nil {
		return fmt.Errorf("db: delete: %w", err)
	}
	return nil
}

func (p *PebbleDB) NewBatch() Batch {
	return &pebbleBatch{owner: p, batch: p.db.NewBatch()}
}

func (p *PebbleDB) NewIterator(cf string) (Iterator, error) {
	prefix, err := p.enter(cf)
	if err != nil {
		return nil, err
	}
	defer p.leave()

	upper := bytes.Clone(prefix)
	upper[len(upper)-1] = 0x01

	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("db: iterator: %w", err)
	}
	return &pebbleIterator{iter: iter, prefix: prefix}, nil
}

func (p *PebbleDB) Flush() error {
	if _, err := p.enter(DefaultColumnFamily); err != nil {
		return err
	}
	defer p.leave()

	if err := p.db.Flush(); err != nil {
		return fmt.Errorf("db: flush: %w", err)
	}
	return nil
}

// Close waits for in-flight operations, flushes the memtable and closes
// the engine.
func (p *PebbleDB) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Swap(true) {
		return ErrClosed
	}
	if err := p.db.Flush(); err != nil {
		p.logger.Error("flush on close failed", "path", p.path, "error", err)
	}
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("db: close: %w", err)
	}
	p.logger.Info("database closed", "path", p.path)
	return nil
}

// ---------------------------------------------------------------------------
// Batch
// ---------------------------------------------------------------------------

type pebbleBatch struct {
	owner  *PebbleDB
	batch  *pebble.Batch
	closed bool
}

func (b *pebbleBatch) stage(cf string, key []byte) ([]byte, error) {
	if b.closed {
		return nil, ErrBatchClosed
	}
	if key == nil {
		return nil, ErrNilKey
	}
	prefix, ok := b.owner.prefixes[cf]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrColumnFamilyNotFound, cf)
	}
	return join(prefix, key), nil
}

func (b *pebbleBatch) Put(cf string, key, value []byte) error {
	k, err := b.stage(cf, key)
	if err != nil {
		return err
	}
	if err := b.batch.Set(k, value, nil); err != nil {
		return fmt.Errorf("db: batch put: %w", err)
	}
	return nil
}

func (b *pebbleBatch) Delete(cf string, key []byte) error {
	k, err := b.stage(cf, key)
	if err != nil {
		return err
	}
	if err := b.batch.Delete(k, nil); err != nil {
		return fmt.Errorf("db: batch delete: %w", err)
	}
	return nil
}

func (b *pebbleBatch) Len() int { return int(b.batch.Count()) }

func (b *pebbleBatch) Commit() error {
	if b.closed {
		return ErrBatchClosed
	}
	if _, err := b.owner.enter(DefaultColumnFamily); err != nil {
		return err
	}
	defer b.owner.leave()

	if err := b.batch.Commit(b.owner.writeOpts); err != nil {
		return fmt.Errorf("db: batch commit: %w", err)
	}
	return nil
}

func (b *pebbleBatch) Close() {
	if !b.closed {
		_ = b.batch.Close()
		b.closed = true
	}
}

// ---------------------------------------------------------------------------
// Iterator
// ---------------------------------------------------------------------------

type pebbleIterator struct {
	iter   *pebble.Iterator
	prefix []byte
	err    error
	closed bool
}

func (it *pebbleIterator) SeekToFirst()       { it.iter.First() }
func (it *pebbleIterator) Seek(target []byte) { it.iter.SeekGE(join(it.prefix, target)) }
func (it *pebbleIterator) Next()              { it.iter.Next() }
func (it *pebbleIterator) Valid() bool        { return it.iter.Valid() }

// Key strips the column family prefix.
func (it *pebbleIterator) Key() []byte {
	raw := it.iter.Key()
	if len(raw) < len(it.prefix) {
		return nil
	}
	return bytes.Clone(raw[len(it.prefix):])
}

func (it *pebbleIterator) Value() []byte {
	val, err := it.iter.ValueAndErr()
	if err != nil {
		it.err = err
		return nil
	}
	return bytes.Clone(val)
}

func (it *pebbleIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.iter.Error()
}

func (it *pebbleIterator) Close() {
	if !it.closed {
		_ = it.iter.Close()
		it.closed = true
	}
}

// ---------------------------------------------------------------------------
// Key helpers
// ---------------------------------------------------------------------------

func prefixTable(cfs []string) map[string][]byte {
	out := make(map[string][]byte, 1+len(cfs))
	for _, cf := range append([]string{DefaultColumnFamily}, cfs...) {
		out[cf] = append([]byte(cf), 0x00)
	}
	return out
}

func join(prefix, key []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(key))
	out = append(out, prefix...)
	return append(out, key...)
}
