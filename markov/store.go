package markov

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"path/filepath"
	"slices"
	"sync"

	"github.com/beyondbrewing/brewery-markov/cache"
	"github.com/beyondbrewing/brewery-markov/db"
	"github.com/beyondbrewing/brewery-markov/freqset"
	"github.com/beyondbrewing/brewery-markov/pkg/logger"
	"github.com/beyondbrewing/brewery-markov/shard"
	"github.com/beyondbrewing/brewery-markov/storage"
	"github.com/hashicorp/go-multierror"
)

// Errors returned by the store. The first five alias the lower-level
// sentinels so callers can match them without importing those packages.
var (
	ErrNotFound             = shard.ErrNotFound
	ErrRemovalInconsistency = shard.ErrRemoval
	ErrInconsistent         = freqset.ErrInconsistent
	ErrEmpty                = shard.ErrEmpty
	ErrNotLoaded            = cache.ErrNotLoaded
	ErrInvalidConfig        = errors.New("markov: invalid configuration")
)

// Directory names below Dir/ID.
const (
	fileDir   = "~database"
	pebbleDir = "~pebble"
)

// Bigram is re-exported for callers that never touch the shard package.
type Bigram = shard.Bigram

// Transition is one observed (bigram, successor) pair of a line.
type Transition struct {
	Bigram Bigram
	Word   string
}

// Store is the sharded bigram store: a shard cache over a storage backend
// plus the key derivation that routes each bigram to its shard.
type Store struct {
	cfg     *Config
	backend storage.Backend
	cache   *cache.Cache
	pool    *freqset.Pool
	rand    freqset.Rand
	logger  logger.Logger
}

// Open builds a store from opts. The store is empty until Load is called.
func Open(opts ...Option) (*Store, error) {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return open(cfg)
}

func open(cfg *Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.With("component", "markov", "database", cfg.ID)

	backend, err := openBackend(cfg, log)
	if err != nil {
		return nil, err
	}

	pool := freqset.NewPool()
	c, err := cache.New(backend,
		cache.WithDatabaseID(cfg.ID),
		cache.WithCapacity(cfg.CacheCapacity),
		cache.WithCleanupEvery(cfg.CleanupEvery),
		cache.WithEvictionWorkers(cfg.EvictionWorkers),
		cache.WithSaveConcurrency(cfg.SaveConcurrency),
		cache.WithPool(pool),
		cache.WithRegisterer(cfg.Registerer),
		cache.WithLogger(log),
	)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	r := cfg.Rand
	if r == nil {
		r = globalRand{}
	} else {
		r = &lockedRand{r: r}
	}

	return &Store{
		cfg:     cfg,
		backend: backend,
		cache:   c,
		pool:    pool,
		rand:    r,
		logger:  log,
	}, nil
}

func openBackend(cfg *Config, log logger.Logger) (storage.Backend, error) {
	if cfg.Backend != nil {
		return cfg.Backend, nil
	}

	root := filepath.Join(cfg.Dir, cfg.ID)
	switch cfg.BackendKind {
	case BackendPebble:
		store, err := db.Open(filepath.Join(root, pebbleDir),
			db.WithColumnFamilies(db.ShardsColumnFamily),
			db.WithLogger(log),
		)
		if err != nil {
			return nil, fmt.Errorf("markov: open pebble backend: %w", err)
		}
		return storage.NewKVBackend(store, db.ShardsColumnFamily), nil
	default:
		fb, err := storage.NewFileBackend(filepath.Join(root, fileDir), cfg.DirDepth)
		if err != nil {
			return nil, fmt.Errorf("markov: open file backend: %w", err)
		}
		return fb, nil
	}
}

// Config returns the settings the store was opened with.
func (s *Store) Config() Config { return *s.cfg }

// Load reads the start shard and enables every other operation.
func (s *Store) Load() error {
	return s.cache.Load()
}

func (s *Store) key(b Bigram) string {
	return shard.KeyOf(b, s.cfg.KeyWidth)
}

// ---------------------------------------------------------------------------
// Bigram operations
// ---------------------------------------------------------------------------

// Add records one occurrence of word after b.
func (s *Store) Add(b Bigram, word string) error {
	return s.cache.Add(s.key(b), b, word)
}

// RandomSuccessor picks a successor of b weighted by occurrence count. It
// returns ErrNotFound when b has never been recorded.
func (s *Store) RandomSuccessor(b Bigram) (string, error) {
	var word string
	err := s.cache.Do(s.key(b), func(sh *shard.Shard) error {
		var err error
		word, err = sh.RandomSuccessor(b, s.rand)
		return err
	})
	if errors.Is(err, ErrInconsistent) {
		s.logger.Error("successor set is inconsistent", "bigram", b.String(), "error", err)
	}
	return word, err
}

// RandomStartWord picks a first word weighted by how many lines began with
// it. It returns ErrEmpty when no line has been recorded.
func (s *Store) RandomStartWord() (string, error) {
	var word string
	err := s.cache.Do(shard.StartKey, func(*shard.Shard) error {
		var err error
		word, err = s.cache.Start().RandomStartWord(s.rand)
		return err
	})
	if errors.Is(err, ErrInconsistent) {
		s.logger.Error("start shard total is inconsistent", "error", err)
	}
	return word, err
}

// Contains reports whether word follows b at least count times.
func (s *Store) Contains(b Bigram, word string, count int) (bool, error) {
	var ok bool
	err := s.cache.Do(s.key(b), func(sh *shard.Shard) error {
		ok = sh.Contains(b, word, count)
		return nil
	})
	return ok, err
}

// Remove drops one occurrence of word after b. It returns an error wrapping
// ErrRemovalInconsistency when the occurrence is missing.
func (s *Store) Remove(b Bigram, word string) error {
	return s.cache.Remove(s.key(b), b, word)
}

// RemoveLineTransaction removes every transition of a line, or none of
// them. It first checks that each distinct transition is present at least
// as many times as it occurs in the line and returns false when one is not.
// The removals run only after the check passes. A removal that still fails
// means the store changed underneath the transaction; the error wraps
// ErrRemovalInconsistency and the line is left partly removed. An empty
// line removes nothing and reports false.
func (s *Store) RemoveLineTransaction(line []Transition) (bool, error) {
	if len(line) == 0 {
		return false, nil
	}
	counts := make(map[Transition]int, len(line))
	order := make([]Transition, 0, len(line))
	for _, t := range line {
		if counts[t] == 0 {
			order = append(order, t)
		}
		counts[t]++
	}

	for _, t := range order {
		ok, err := s.Contains(t.Bigram, t.Word, counts[t])
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	for i, t := range line {
		if err := s.Remove(t.Bigram, t.Word); err != nil {
			if errors.Is(err, ErrRemovalInconsistency) {
				s.logger.Error("line removal interrupted by a concurrent change",
					"bigram", t.Bigram.String(), "word", t.Word,
					"removed", i, "transitions", len(line))
			}
			return false, err
		}
	}
	return true, nil
}

// ---------------------------------------------------------------------------
// Whole-store operations
// ---------------------------------------------------------------------------

// SaveAll writes every modified resident shard and the start shard.
func (s *Store) SaveAll() error {
	return s.cache.SaveAll()
}

// InvalidateAll writes back and drops every resident shard.
func (s *Store) InvalidateAll() error {
	return s.cache.InvalidateAll()
}

// Clear deletes every shard from memory and from the backend.
func (s *Store) Clear() error {
	s.logger.Warn("clearing database")
	return s.cache.Clear()
}

// Resident returns the number of shards held in memory, excluding the start
// shard.
func (s *Store) Resident() int { return s.cache.Len() }

// Export saves the store and then writes every shard as text, the start
// shard first and the rest in key order. Each shard is preceded by a
// "# key" header line.
func (s *Store) Export(w io.Writer) error {
	if err := s.SaveAll(); err != nil {
		return err
	}
	keys, err := s.backend.Keys()
	if err != nil {
		return fmt.Errorf("markov: list shards: %w", err)
	}
	keys = slices.DeleteFunc(keys, func(k string) bool { return k == shard.StartKey })
	slices.Sort(keys)
	keys = append([]string{shard.StartKey}, keys...)

	for _, key := range keys {
		if _, err := fmt.Fprintf(w, "# %s\n", key); err != nil {
			return err
		}
		if err := s.cache.Do(key, func(sh *shard.Shard) error { return sh.Dump(w) }); err != nil {
			return err
		}
	}
	return nil
}

// Close saves the store when it was loaded and releases the backend.
func (s *Store) Close() error {
	var result *multierror.Error
	if err := s.cache.SaveAll(); err != nil && !errors.Is(err, cache.ErrNotLoaded) {
		result = multierror.Append(result, err)
	}
	if err := s.cache.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.backend.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("markov: close backend: %w", err))
	}
	return result.ErrorOrNil()
}

// ---------------------------------------------------------------------------
// Random sources
// ---------------------------------------------------------------------------

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

type lockedRand struct {
	mu sync.Mutex
	r  freqset.Rand
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}
