package markov

import (
	"fmt"
	"runtime"
	"time"

	"github.com/beyondbrewing/brewery-markov/cache"
	"github.com/beyondbrewing/brewery-markov/freqset"
	"github.com/beyondbrewing/brewery-markov/pkg/logger"
	"github.com/beyondbrewing/brewery-markov/shard"
	"github.com/beyondbrewing/brewery-markov/storage"
	"github.com/prometheus/client_golang/prometheus"
)

// Backend kinds accepted by WithBackendKind.
const (
	BackendFile   = "file"
	BackendPebble = "pebble"
)

// DefaultMaxWordsPerLine caps generated lines.
const DefaultMaxWordsPerLine = 256

// Config holds every setting of a Store and Database.
type Config struct {
	// ID names the database; its data lives under Dir/ID.
	ID  string
	Dir string

	// KeyWidth is the number of leading characters of each word folded
	// into a shard key.
	KeyWidth int

	// DirDepth is the number of directory levels per key side in the file
	// backend.
	DirDepth int

	// BackendKind selects the storage engine when Backend is nil.
	BackendKind string

	// Backend overrides BackendKind with a ready-made backend. The store
	// takes ownership and closes it.
	Backend storage.Backend

	// CacheCapacity bounds resident shards; cache.Unbounded disables it.
	CacheCapacity int

	// CleanupEvery forces a cache maintenance pass every N operations.
	CleanupEvery int

	// EvictionWorkers moves eviction write-back to a goroutine pool.
	EvictionWorkers int

	SaveConcurrency int

	// AutosaveInterval saves periodically while a Database runs. Zero
	// disables it.
	AutosaveInterval time.Duration

	// ShutdownTimeout bounds how long Stop waits for an in-flight autosave.
	ShutdownTimeout time.Duration

	MaxWordsPerLine int

	// Rand drives weighted selection. It is wrapped in a mutex, so any
	// source works. Defaults to the math/rand/v2 global source.
	Rand freqset.Rand

	Registerer prometheus.Registerer

	// Logger defaults to logger.Default().
	Logger logger.Logger
}

// DefaultConfig returns the settings used when no option overrides them.
func DefaultConfig() *Config {
	return &Config{
		ID:              "markov",
		Dir:             ".",
		KeyWidth:        1,
		DirDepth:        1,
		BackendKind:     BackendFile,
		CacheCapacity:   cache.Unbounded,
		SaveConcurrency: runtime.GOMAXPROCS(0),
		MaxWordsPerLine: DefaultMaxWordsPerLine,
		ShutdownTimeout: 10 * time.Second,
	}
}

func (c *Config) validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: database id must not be empty", ErrInvalidConfig)
	}
	if c.KeyWidth < shard.MinKeyWidth || c.KeyWidth > shard.MaxKeyWidth {
		return fmt.Errorf("%w: key width must be in [%d, %d], got %d",
			ErrInvalidConfig, shard.MinKeyWidth, shard.MaxKeyWidth, c.KeyWidth)
	}
	if c.DirDepth < 1 || c.DirDepth > c.KeyWidth {
		return fmt.Errorf("%w: directory depth must be in [1, key width], got %d", ErrInvalidConfig, c.DirDepth)
	}
	if c.Backend == nil && c.BackendKind != BackendFile && c.BackendKind != BackendPebble {
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.BackendKind)
	}
	if c.MaxWordsPerLine <= 0 {
		c.MaxWordsPerLine = DefaultMaxWordsPerLine
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.AutosaveInterval < 0 {
		return fmt.Errorf("%w: autosave interval must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Option configures a Store or Database.
type Option func(*Config)

// WithID sets the database id.
func WithID(id string) Option {
	return func(c *Config) { c.ID = id }
}

// WithDir sets the parent directory of the database.
func WithDir(dir string) Option {
	return func(c *Config) { c.Dir = dir }
}

// WithKeyWidth sets how many characters of each word go into a shard key.
func WithKeyWidth(n int) Option {
	return func(c *Config) { c.KeyWidth = n }
}

// WithDirDepth sets the directory levels per key side in the file backend.
func WithDirDepth(n int) Option {
	return func(c *Config) { c.DirDepth = n }
}

// WithBackendKind selects BackendFile or BackendPebble.
func WithBackendKind(kind string) Option {
	return func(c *Config) { c.BackendKind = kind }
}

// WithBackend supplies a backend directly. The store closes it.
func WithBackend(b storage.Backend) Option {
	return func(c *Config) { c.Backend = b }
}

// WithCacheCapacity bounds resident shards; cache.Unbounded disables the bound.
func WithCacheCapacity(n int) Option {
	return func(c *Config) { c.CacheCapacity = n }
}

// WithCleanupEvery forces a cache maintenance pass every n operations.
func WithCleanupEvery(n int) Option {
	return func(c *Config) { c.CleanupEvery = n }
}

// WithEvictionWorkers moves eviction write-back to n background goroutines.
func WithEvictionWorkers(n int) Option {
	return func(c *Config) { c.EvictionWorkers = n }
}

// WithSaveConcurrency bounds parallel shard writes when saving.
func WithSaveConcurrency(n int) Option {
	return func(c *Config) { c.SaveConcurrency = n }
}

// WithAutosave sets the autosave interval of a running Database.
func WithAutosave(d time.Duration) Option {
	return func(c *Config) { c.AutosaveInterval = d }
}

// WithShutdownTimeout sets the maximum time Stop waits for the autosave
// loop.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Config) { c.ShutdownTimeout = d }
}

// WithMaxWordsPerLine caps the length of generated lines.
func WithMaxWordsPerLine(n int) Option {
	return func(c *Config) { c.MaxWordsPerLine = n }
}

// WithRand sets the random source for weighted selection.
func WithRand(r freqset.Rand) Option {
	return func(c *Config) { c.Rand = r }
}

// WithRegisterer sets the registry for cache metrics.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(c *Config) { c.Registerer = r }
}

// WithLogger sets a structured logger for the store and database.
func WithLogger(l logger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}
