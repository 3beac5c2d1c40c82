// Package cache keeps a bounded set of shards in memory on top of a
// [storage.Backend]. Shards load on first access, and are written back
// before they are dropped.
//
// Every operation on a shard runs inside that shard's critical section:
// the entry is found or created, loaded if needed and then handed to the
// caller's function, all while holding one per-entry lock. Two operations
// on the same key therefore never interleave, and eviction cannot slip in
// between a lookup and the mutation that follows it. Operations on
// different keys proceed in parallel; the entry map is striped so that
// lookups of unrelated keys rarely contend.
//
// Two coarse locks coordinate whole-database work:
//
//   - the load lock is held shared by every shard operation and exclusively
//     by InvalidateAll, Clear and Load;
//   - the save lock serializes every write to the backend (eviction
//     write-back and SaveAll), so one shard file never has two writers.
package cache

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/beyondbrewing/brewery-markov/freqset"
	"github.com/beyondbrewing/brewery-markov/pkg/logger"
	"github.com/beyondbrewing/brewery-markov/shard"
	"github.com/beyondbrewing/brewery-markov/storage"
	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

const numStripes = 64

// Cache is the resident set of shards of one database.
type Cache struct {
	cfg     *Config
	backend storage.Backend
	pool    *freqset.Pool
	logger  logger.Logger
	metrics *metrics
	exec    Executor

	stripes  [numStripes]stripe
	resident atomic.Int64
	clock    atomic.Uint64
	ops      atomic.Uint64

	// start bypasses the stripes and is never evicted.
	start *shard.StartShard

	loadLock sync.RWMutex
	saveLock sync.Mutex
	maintMu  sync.Mutex
	pending  atomic.Bool

	loaded atomic.Bool
	closed atomic.Bool
}

type stripe struct {
	mu sync.Mutex
	m  map[string]*entry
}

// entry is one slot of the cache. mu is the per-key critical section; the
// remaining fields other than shard and lastUsed are guarded by it. shard is
// set once on load so SaveAll can read it without taking mu.
type entry struct {
	key      string
	mu       sync.Mutex
	shard    atomic.Pointer[shard.Shard]
	loaded   bool
	dead     bool
	lastUsed atomic.Uint64
}

// New builds an empty cache over backend. Call Load before any other
// operation.
func New(backend storage.Backend, opts ...Option) (*Cache, error) {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}

	c := &Cache{
		cfg:     cfg,
		backend: backend,
		pool:    cfg.Pool,
		logger:  log.With("component", "cache", "database", cfg.DatabaseID),
		exec:    cfg.Executor,
		start:   shard.NewStart(cfg.DatabaseID, cfg.Pool),
	}
	if c.exec == nil {
		if cfg.EvictionWorkers > 0 {
			c.exec = NewPoolExecutor(cfg.EvictionWorkers)
		} else {
			c.exec = inlineExecutor{}
		}
	}
	for i := range c.stripes {
		c.stripes[i].m = make(map[string]*entry)
	}
	c.metrics = newMetrics(cfg.Registerer, cfg.DatabaseID, func() float64 {
		return float64(c.resident.Load())
	})
	return c, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Load reads the start shard from the backend and enables the cache. It is
// a no-op once the cache is loaded.
func (c *Cache) Load() error {
	c.loadLock.Lock()
	defer c.loadLock.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}
	if c.loaded.Load() {
		return nil
	}
	if err := c.read(c.start.Shard); err != nil {
		return err
	}
	c.loaded.Store(true)
	c.logger.Info("cache loaded", "start_total", c.start.Total())
	return nil
}

// Close waits for background maintenance and disables the cache. It does
// not save; call SaveAll first.
func (c *Cache) Close() error {
	if c.closed.Swap(true) {
		return ErrClosed
	}
	c.exec.Wait()
	return nil
}

// ---------------------------------------------------------------------------
// Shard operations
// ---------------------------------------------------------------------------

// Do runs fn on the shard for key inside the key's critical section,
// loading the shard first if it is not resident. The start key resolves to
// the start shard.
//
// fn must not retain the shard or call back into the cache.
func (c *Cache) Do(key string, fn func(*shard.Shard) error) error {
	if err := c.enter(); err != nil {
		return err
	}

	if key == shard.StartKey {
		err := fn(c.start.Shard)
		c.loadLock.RUnlock()
		return err
	}

	e, err := c.acquire(key)
	if err != nil {
		c.loadLock.RUnlock()
		return err
	}
	err = fn(e.shard.Load())
	e.mu.Unlock()
	c.loadLock.RUnlock()

	c.afterOp()
	return err
}

// Add records word after b in the shard for key.
func (c *Cache) Add(key string, b shard.Bigram, word string) error {
	return c.Do(key, func(s *shard.Shard) error {
		s.Add(b, word)
		return nil
	})
}

// Remove drops one occurrence of word after b in the shard for key.
func (c *Cache) Remove(key string, b shard.Bigram, word string) error {
	return c.Do(key, func(s *shard.Shard) error {
		return s.Remove(b, word)
	})
}

// Get returns the shard for key, loading it if needed. The shard stays
// valid only while it is resident; mutate through Add, Remove or Do.
func (c *Cache) Get(key string) (*shard.Shard, error) {
	var out *shard.Shard
	err := c.Do(key, func(s *shard.Shard) error {
		out = s
		return nil
	})
	return out, err
}

// Start returns the always-resident start shard.
func (c *Cache) Start() *shard.StartShard { return c.start }

// Len returns the number of resident shards, excluding the start shard.
func (c *Cache) Len() int { return int(c.resident.Load()) }

// Keys returns the keys of the resident shards.
func (c *Cache) Keys() []string {
	entries := c.entries()
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.shard.Load() != nil {
			keys = append(keys, e.key)
		}
	}
	slices.Sort(keys)
	return keys
}

func (c *Cache) enter() error {
	c.loadLock.RLock()
	if c.closed.Load() {
		c.loadLock.RUnlock()
		return ErrClosed
	}
	if !c.loaded.Load() {
		c.loadLock.RUnlock()
		return ErrNotLoaded
	}
	return nil
}

// acquire returns the live, loaded entry for key with its mutex held.
func (c *Cache) acquire(key string) (*entry, error) {
	st := c.stripeFor(key)
	for {
		st.mu.Lock()
		e, ok := st.m[key]
		if !ok {
			e = &entry{key: key}
			st.m[key] = e
		}
		st.mu.Unlock()

		e.mu.Lock()
		if e.dead {
			// Evicted or failed to load while we waited; take a fresh slot.
			e.mu.Unlock()
			continue
		}
		if !e.loaded {
			s := shard.New(key, c.cfg.DatabaseID, c.pool)
			if err := c.read(s); err != nil {
				e.dead = true
				c.unlink(e)
				e.mu.Unlock()
				return nil, err
			}
			e.shard.Store(s)
			e.loaded = true
			c.resident.Add(1)
			c.metrics.misses.Inc()
		} else {
			c.metrics.hits.Inc()
		}
		e.lastUsed.Store(c.clock.Add(1))
		return e, nil
	}
}

// read fills s from the backend. A missing blob leaves s empty.
func (c *Cache) read(s *shard.Shard) error {
	data, err := c.backend.Read(s.Key())
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return &ShardError{Key: s.Key(), Op: OpLoad, Err: err}
	}
	if err := s.Unmarshal(data); err != nil {
		return &ShardError{Key: s.Key(), Op: OpLoad, Err: err}
	}
	return nil
}

// write persists s if it has unsaved changes. A shard that became empty is
// deleted from the backend instead. Callers hold saveLock.
func (c *Cache) write(s *shard.Shard) error {
	if !s.Dirty() {
		return nil
	}
	data, version := s.Marshal()

	var err error
	if s.Len() == 0 && s.Key() != shard.StartKey {
		err = c.backend.Delete(s.Key())
	} else {
		err = c.backend.Write(s.Key(), data)
	}
	if err != nil {
		c.metrics.saveFailures.Inc()
		return &ShardError{Key: s.Key(), Op: OpSave, Err: err}
	}
	s.MarkSaved(version)
	c.metrics.saves.Inc()
	return nil
}

func (c *Cache) stripeFor(key string) *stripe {
	return &c.stripes[xxhash.Sum64String(key)%numStripes]
}

// unlink removes e from its stripe if it is still the current entry.
func (c *Cache) unlink(e *entry) {
	st := c.stripeFor(e.key)
	st.mu.Lock()
	if st.m[e.key] == e {
		delete(st.m, e.key)
	}
	st.mu.Unlock()
}

func (c *Cache) entries() []*entry {
	var out []*entry
	for i := range c.stripes {
		st := &c.stripes[i]
		st.mu.Lock()
		for _, e := range st.m {
			out = append(out, e)
		}
		st.mu.Unlock()
	}
	return out
}

// ---------------------------------------------------------------------------
// Eviction
// ---------------------------------------------------------------------------

// afterOp runs once the caller has left every lock.
func (c *Cache) afterOp() {
	n := c.ops.Add(1)
	if every := c.cfg.CleanupEvery; every > 0 && n%uint64(every) == 0 {
		if err := c.Cleanup(); err != nil {
			c.logger.Error("scheduled cleanup failed", "error", err)
		}
		return
	}
	if c.cfg.Capacity == Unbounded || c.resident.Load() <= int64(c.cfg.Capacity) {
		return
	}
	if c.closed.Load() || !c.pending.CompareAndSwap(false, true) {
		return
	}
	c.exec.Go(func() {
		defer c.pending.Store(false)
		if err := c.maintain(false); err != nil {
			c.logger.Error("cache maintenance failed", "error", err)
		}
	})
}

// Cleanup runs a maintenance pass now, evicting least recently used shards
// until the cache is within capacity.
func (c *Cache) Cleanup() error {
	return c.maintain(true)
}

func (c *Cache) maintain(wait bool) error {
	if wait {
		c.maintMu.Lock()
	} else if !c.maintMu.TryLock() {
		return nil
	}
	defer c.maintMu.Unlock()

	c.loadLock.RLock()
	defer c.loadLock.RUnlock()

	if c.cfg.Capacity == Unbounded {
		return nil
	}
	excess := int(c.resident.Load()) - c.cfg.Capacity
	if excess <= 0 {
		return nil
	}

	candidates := c.entries()
	slices.SortFunc(candidates, func(a, b *entry) int {
		return cmp.Compare(a.lastUsed.Load(), b.lastUsed.Load())
	})

	var result *multierror.Error
	for _, e := range candidates {
		if excess <= 0 {
			break
		}
		evicted, err := c.evict(e, false)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if evicted {
			excess--
		}
	}
	return result.ErrorOrNil()
}

// evict writes e back and drops it. With block false an entry that is in
// use is skipped. A write-back failure keeps the shard resident.
func (c *Cache) evict(e *entry, block bool) (bool, error) {
	if block {
		e.mu.Lock()
	} else if !e.mu.TryLock() {
		return false, nil
	}
	defer e.mu.Unlock()

	if e.dead || !e.loaded {
		return false, nil
	}
	s := e.shard.Load()

	c.saveLock.Lock()
	defer c.saveLock.Unlock()

	if err := c.write(s); err != nil {
		c.metrics.evictionFailures.Inc()
		c.logger.Error("write-back failed, shard kept resident", "key", e.key, "error", err)
		return false, &ShardError{Key: e.key, Op: OpEvict, Err: err}
	}
	c.drop(e)
	c.metrics.evictions.Inc()
	return true, nil
}

// drop retires a loaded entry. Callers hold e.mu.
func (c *Cache) drop(e *entry) {
	e.dead = true
	c.unlink(e)
	if e.loaded {
		e.shard.Load().Reset()
		e.loaded = false
		c.resident.Add(-1)
	}
}

// ---------------------------------------------------------------------------
// Whole-database operations
// ---------------------------------------------------------------------------

// SaveAll writes every dirty resident shard and the start shard, then
// flushes the backend. Shards stay resident. A failing shard does not stop
// the others; the returned error lists each failure.
func (c *Cache) SaveAll() error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.loadLock.RUnlock()

	c.saveLock.Lock()
	defer c.saveLock.Unlock()

	shards := []*shard.Shard{c.start.Shard}
	for _, e := range c.entries() {
		if s := e.shard.Load(); s != nil {
			shards = append(shards, s)
		}
	}

	var (
		mu     sync.Mutex
		result *multierror.Error
		g      errgroup.Group
	)
	g.SetLimit(c.cfg.SaveConcurrency)
	for _, s := range shards {
		g.Go(func() error {
			if err := c.write(s); err != nil {
				mu.Lock()
				result = multierror.Append(result, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := c.backend.Flush(); err != nil {
		result = multierror.Append(result, fmt.Errorf("cache: flush: %w", err))
	}
	if err := result.ErrorOrNil(); err != nil {
		c.logger.Error("save failed", "shards", len(shards), "failed", len(result.Errors))
		return err
	}
	c.logger.Debug("saved", "shards", len(shards))
	return nil
}

// InvalidateAll writes back and evicts every resident shard, and saves the
// start shard, which stays resident. Shard operations wait until it
// finishes. Shards whose write-back fails stay resident and are reported.
func (c *Cache) InvalidateAll() error {
	c.loadLock.Lock()
	defer c.loadLock.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}

	var result *multierror.Error
	for _, e := range c.entries() {
		if _, err := c.evict(e, true); err != nil {
			result = multierror.Append(result, err)
		}
	}

	c.saveLock.Lock()
	if err := c.write(c.start.Shard); err != nil {
		result = multierror.Append(result, err)
	}
	c.saveLock.Unlock()

	if err := c.backend.Flush(); err != nil {
		result = multierror.Append(result, fmt.Errorf("cache: flush: %w", err))
	}
	return result.ErrorOrNil()
}

// Clear drops every shard without saving and deletes all stored data.
func (c *Cache) Clear() error {
	c.loadLock.Lock()
	defer c.loadLock.Unlock()
	c.saveLock.Lock()
	defer c.saveLock.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}
	for _, e := range c.entries() {
		e.mu.Lock()
		if !e.dead {
			c.drop(e)
		}
		e.mu.Unlock()
	}
	c.start.Reset()

	if err := c.backend.Clear(); err != nil {
		return fmt.Errorf("cache: clear: %w", err)
	}
	c.logger.Info("database cleared")
	return nil
}
