package cache

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/beyondbrewing/brewery-markov/db"
	"github.com/beyondbrewing/brewery-markov/freqset"
	"github.com/beyondbrewing/brewery-markov/shard"
	"github.com/beyondbrewing/brewery-markov/storage"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// faultyBackend injects per-key failures into another backend.
type faultyBackend struct {
	storage.Backend

	mu        sync.Mutex
	failRead  map[string]error
	failWrite map[string]error
}

func newFaulty(b storage.Backend) *faultyBackend {
	return &faultyBackend{Backend: b, failRead: map[string]error{}, failWrite: map[string]error{}}
}

func (f *faultyBackend) set(m map[string]error, key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(m, key)
		return
	}
	m[key] = err
}

func (f *faultyBackend) Read(key string) ([]byte, error) {
	f.mu.Lock()
	err := f.failRead[key]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Backend.Read(key)
}

func (f *faultyBackend) Write(key string, data []byte) error {
	f.mu.Lock()
	err := f.failWrite[key]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Backend.Write(key, data)
}

func fileBackend(t *testing.T) storage.Backend {
	t.Helper()
	b, err := storage.NewFileBackend(filepath.Join(t.TempDir(), "~database"), 1)
	require.NoError(t, err)
	return b
}

func openCache(t *testing.T, b storage.Backend, opts ...Option) *Cache {
	t.Helper()
	c, err := New(b, append([]Option{WithPool(freqset.NewPool())}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, c.Load())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func bigramFor(i int) (string, shard.Bigram) {
	b := shard.Bigram{Word1: fmt.Sprintf("%c-one", 'a'+i%26), Word2: fmt.Sprintf("%c-two", 'a'+i/26)}
	return shard.KeyOf(b, 1), b
}

func successorCount(t *testing.T, c *Cache, key string, b shard.Bigram) int {
	t.Helper()
	n := 0
	require.NoError(t, c.Do(key, func(s *shard.Shard) error {
		for _, cnt := range s.Successors(b) {
			n += cnt
		}
		return nil
	}))
	return n
}

func TestRequiresLoad(t *testing.T) {
	c, err := New(fileBackend(t))
	require.NoError(t, err)

	err = c.Add("A~B", shard.Bigram{Word1: "a", Word2: "b"}, "c")
	assert.ErrorIs(t, err, ErrNotLoaded)
	assert.ErrorIs(t, c.SaveAll(), ErrNotLoaded)

	require.NoError(t, c.Load())
	require.NoError(t, c.Load())
	require.NoError(t, c.Add("A~B", shard.Bigram{Word1: "a", Word2: "b"}, "c"))

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Add("A~B", shard.Bigram{Word1: "a", Word2: "b"}, "c"), ErrClosed)
	assert.ErrorIs(t, c.Close(), ErrClosed)
}

func TestInvalidOptions(t *testing.T) {
	_, err := New(fileBackend(t), WithCapacity(-2))
	assert.Error(t, err)
	_, err = New(fileBackend(t), WithCleanupEvery(-1))
	assert.Error(t, err)
}

func TestMissingShardLoadsEmpty(t *testing.T) {
	c := openCache(t, fileBackend(t))

	s, err := c.Get("Q~Q")
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, []string{"Q~Q"}, c.Keys())
}

func TestStartKeyBypassesCache(t *testing.T) {
	c := openCache(t, fileBackend(t))

	s, err := c.Get(shard.StartKey)
	require.NoError(t, err)
	assert.Same(t, c.Start().Shard, s)

	require.NoError(t, c.Add(shard.StartKey, shard.StartBigram("hello"), "world"))
	assert.Equal(t, 1, c.Start().Total())
	assert.Equal(t, 0, c.Len())
}

func TestEvictionPersistsShards(t *testing.T) {
	backend := fileBackend(t)
	c := openCache(t, backend, WithCapacity(2))

	const n = 40
	for i := range n {
		key, b := bigramFor(i)
		require.NoError(t, c.Add(key, b, "next"))
		require.LessOrEqual(t, c.Len(), 2)
	}
	require.NoError(t, c.Add(shard.StartKey, shard.StartBigram("first"), "second"))
	require.NoError(t, c.SaveAll())
	require.NoError(t, c.Close())

	reopened := openCache(t, backend)
	for i := range n {
		key, b := bigramFor(i)
		assert.Equal(t, 1, successorCount(t, reopened, key, b), "bigram %s", b)
	}
	assert.Equal(t, 1, reopened.Start().Total())
}

func TestCapacityZeroEvictsImmediately(t *testing.T) {
	backend := fileBackend(t)
	c := openCache(t, backend, WithCapacity(0))

	key, b := bigramFor(3)
	require.NoError(t, c.Add(key, b, "x"))
	assert.Equal(t, 0, c.Len())

	data, err := backend.Read(key)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	require.NoError(t, c.Add(key, b, "x"))
	assert.Equal(t, 2, successorCount(t, c, key, b))
}

func TestCleanupEvery(t *testing.T) {
	c := openCache(t, fileBackend(t), WithCapacity(1), WithCleanupEvery(1))

	for i := range 5 {
		key, b := bigramFor(i)
		require.NoError(t, c.Add(key, b, "x"))
		assert.LessOrEqual(t, c.Len(), 1)
	}
}

func TestEmptiedShardIsDeleted(t *testing.T) {
	backend := fileBackend(t)
	c := openCache(t, backend, WithCapacity(0))
	key, b := bigramFor(1)

	require.NoError(t, c.Add(key, b, "x"))
	_, err := backend.Read(key)
	require.NoError(t, err)

	require.NoError(t, c.Remove(key, b, "x"))
	_, err = backend.Read(key)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConcurrentAddsUnderEvictionPressure(t *testing.T) {
	backend := fileBackend(t)
	c := openCache(t, backend, WithCapacity(1))

	const (
		workers = 8
		perWork = 200
		keys    = 4
	)
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range perWork {
				key, b := bigramFor((w + j) % keys)
				assert.NoError(t, c.Add(key, b, fmt.Sprintf("s%d", j%5)))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, c.SaveAll())

	reopened := openCache(t, backend)
	total := 0
	for i := range keys {
		key, b := bigramFor(i)
		total += successorCount(t, reopened, key, b)
	}
	assert.Equal(t, workers*perWork, total)
}

func TestBackgroundEviction(t *testing.T) {
	backend := fileBackend(t)
	c, err := New(backend, WithCapacity(2), WithEvictionWorkers(2))
	require.NoError(t, err)
	require.NoError(t, c.Load())

	for i := range 30 {
		key, b := bigramFor(i)
		require.NoError(t, c.Add(key, b, "x"))
	}
	require.NoError(t, c.Cleanup())
	assert.LessOrEqual(t, c.Len(), 2)
	require.NoError(t, c.SaveAll())
	require.NoError(t, c.Close())

	reopened := openCache(t, backend)
	for i := range 30 {
		key, b := bigramFor(i)
		assert.Equal(t, 1, successorCount(t, reopened, key, b))
	}
}

func TestEvictionFailureKeepsShard(t *testing.T) {
	store := db.NewMockStore(db.ShardsColumnFamily)
	backend := storage.NewKVBackend(store, db.ShardsColumnFamily)
	reg := prometheus.NewRegistry()
	c := openCache(t, backend, WithCapacity(0), WithRegisterer(reg), WithDatabaseID("t"))

	boom := errors.New("disk full")
	store.FailPuts(boom)

	key, b := bigramFor(0)
	require.NoError(t, c.Add(key, b, "x"))
	assert.Equal(t, 1, c.Len(), "unsaved shard must stay resident")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.evictionFailures))

	err := c.Cleanup()
	var se *ShardError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, key, se.Key)
	assert.ErrorIs(t, err, boom)

	store.FailPuts(nil)
	require.NoError(t, c.Cleanup())
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 1, successorCount(t, c, key, b))
}

func TestLoadFailureLeavesNoEntry(t *testing.T) {
	backend := newFaulty(fileBackend(t))
	c := openCache(t, backend)
	key, b := bigramFor(0)

	boom := errors.New("permission denied")
	backend.set(backend.failRead, key, boom)

	err := c.Add(key, b, "x")
	var se *ShardError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, OpLoad, se.Op)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	backend.set(backend.failRead, key, nil)
	require.NoError(t, c.Add(key, b, "x"))
	assert.Equal(t, 1, successorCount(t, c, key, b))
}

func TestCorruptShardIsReported(t *testing.T) {
	backend := fileBackend(t)
	key, b := bigramFor(0)
	require.NoError(t, backend.Write(key, []byte{0, 0, 0, 4, 'J', 'U', 'N', 'K'}))

	c := openCache(t, backend)
	err := c.Add(key, b, "x")
	assert.ErrorIs(t, err, shard.ErrCorrupt)
	assert.Equal(t, 0, c.Len())
}

func TestTruncatedShardFileIsReported(t *testing.T) {
	backend := fileBackend(t)
	key, b := bigramFor(0)

	c := openCache(t, backend)
	for i := range 30 {
		require.NoError(t, c.Add(key, b, fmt.Sprint(i%7)))
	}
	require.NoError(t, c.SaveAll())
	require.NoError(t, c.Close())

	data, err := backend.Read(key)
	require.NoError(t, err)
	require.NoError(t, backend.Write(key, data[:len(data)-3]))

	reopened := openCache(t, backend)
	err = reopened.Add(key, b, "w")

	var se *ShardError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, OpLoad, se.Op)
	assert.Equal(t, key, se.Key)
	assert.ErrorIs(t, err, shard.ErrCorrupt)
	assert.Equal(t, 0, reopened.Len())

	// The entry was dropped, so the next call reads the file again.
	err = reopened.Add(key, b, "w")
	assert.ErrorIs(t, err, shard.ErrCorrupt)
}

func TestSaveAllContinuesPastFailures(t *testing.T) {
	backend := newFaulty(fileBackend(t))
	c := openCache(t, backend)

	var keys []string
	for i := range 6 {
		key, b := bigramFor(i)
		require.NoError(t, c.Add(key, b, "x"))
		keys = append(keys, key)
	}
	boom := errors.New("io error")
	backend.set(backend.failWrite, keys[1], boom)
	backend.set(backend.failWrite, keys[4], boom)

	err := c.SaveAll()
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 2)

	for i, key := range keys {
		_, err := backend.Backend.Read(key)
		if i == 1 || i == 4 {
			assert.ErrorIs(t, err, storage.ErrNotFound)
		} else {
			assert.NoError(t, err)
		}
	}

	// Failed shards are still dirty and succeed on the next save.
	backend.set(backend.failWrite, keys[1], nil)
	backend.set(backend.failWrite, keys[4], nil)
	require.NoError(t, c.SaveAll())
}

func TestInvalidateAll(t *testing.T) {
	backend := fileBackend(t)
	c := openCache(t, backend)

	for i := range 5 {
		key, b := bigramFor(i)
		require.NoError(t, c.Add(key, b, "x"))
	}
	require.NoError(t, c.Add(shard.StartKey, shard.StartBigram("s"), "t"))
	require.Equal(t, 5, c.Len())

	require.NoError(t, c.InvalidateAll())
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 1, c.Start().Total())

	keys, err := backend.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 6)

	key, b := bigramFor(2)
	assert.Equal(t, 1, successorCount(t, c, key, b))
}

func TestClear(t *testing.T) {
	backend := fileBackend(t)
	c := openCache(t, backend)

	key, b := bigramFor(0)
	require.NoError(t, c.Add(key, b, "x"))
	require.NoError(t, c.Add(shard.StartKey, shard.StartBigram("s"), "t"))
	require.NoError(t, c.SaveAll())

	require.NoError(t, c.Clear())
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, c.Start().Total())

	keys, err := backend.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Equal(t, 0, successorCount(t, c, key, b))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := openCache(t, fileBackend(t), WithRegisterer(reg), WithDatabaseID("metrics"))

	key, b := bigramFor(0)
	require.NoError(t, c.Add(key, b, "x"))
	require.NoError(t, c.Add(key, b, "y"))
	require.NoError(t, c.SaveAll())

	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.misses))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.hits))
	// The start shard is clean, so only the one dirty shard is written.
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.saves))

	n, err := testutil.GatherAndCount(reg, "markov_shard_cache_resident_shards")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
