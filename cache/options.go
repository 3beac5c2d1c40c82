package cache

import (
	"fmt"
	"runtime"

	"github.com/beyondbrewing/brewery-markov/freqset"
	"github.com/beyondbrewing/brewery-markov/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
)

// Unbounded disables size-based eviction.
const Unbounded = -1

// Config holds the settings of a Cache. Use [Option] values with [New].
type Config struct {
	// DatabaseID is stamped into every shard and used as a metric label.
	DatabaseID string

	// Capacity is the maximum number of resident shards, excluding the
	// start shard. Unbounded (-1) disables eviction; 0 evicts every shard
	// as soon as the operation that loaded it completes.
	Capacity int

	// CleanupEvery forces a synchronous maintenance pass every N shard
	// operations. Zero disables it.
	CleanupEvery int

	// EvictionWorkers runs pressure-triggered maintenance on a pool of this
	// many goroutines. Zero runs it inline on the calling goroutine.
	EvictionWorkers int

	// Executor overrides EvictionWorkers.
	Executor Executor

	// SaveConcurrency bounds parallel shard writes in SaveAll.
	SaveConcurrency int

	// Pool interns Tiny successor sets across shards. May be nil.
	Pool *freqset.Pool

	// Registerer receives the cache metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer

	// Logger defaults to logger.Default().
	Logger logger.Logger
}

// DefaultConfig returns an unbounded cache configuration.
func DefaultConfig() *Config {
	return &Config{
		DatabaseID:      "default",
		Capacity:        Unbounded,
		SaveConcurrency: runtime.GOMAXPROCS(0),
	}
}

func (c *Config) validate() error {
	if c.Capacity < Unbounded {
		return fmt.Errorf("cache: capacity must be >= %d, got %d", Unbounded, c.Capacity)
	}
	if c.CleanupEvery < 0 {
		return fmt.Errorf("cache: cleanup interval must not be negative, got %d", c.CleanupEvery)
	}
	if c.EvictionWorkers < 0 {
		return fmt.Errorf("cache: eviction workers must not be negative, got %d", c.EvictionWorkers)
	}
	if c.SaveConcurrency <= 0 {
		c.SaveConcurrency = 1
	}
	return nil
}

// Option configures a Cache.
type Option func(*Config)

// WithDatabaseID sets the database id stamped into shards and metric labels.
func WithDatabaseID(id string) Option {
	return func(c *Config) { c.DatabaseID = id }
}

// WithCapacity bounds the number of resident shards. See Config.Capacity.
func WithCapacity(n int) Option {
	return func(c *Config) { c.Capacity = n }
}

// WithCleanupEvery forces a maintenance pass every n operations.
func WithCleanupEvery(n int) Option {
	return func(c *Config) { c.CleanupEvery = n }
}

// WithEvictionWorkers runs eviction write-back on a pool of n goroutines.
func WithEvictionWorkers(n int) Option {
	return func(c *Config) { c.EvictionWorkers = n }
}

// WithExecutor sets the executor for background maintenance.
func WithExecutor(e Executor) Option {
	return func(c *Config) { c.Executor = e }
}

// WithSaveConcurrency bounds parallel shard writes in SaveAll.
func WithSaveConcurrency(n int) Option {
	return func(c *Config) { c.SaveConcurrency = n }
}

// WithPool sets the intern pool shared by every shard.
func WithPool(p *freqset.Pool) Option {
	return func(c *Config) { c.Pool = p }
}

// WithRegisterer sets the registry for cache metrics.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(c *Config) { c.Registerer = r }
}

// WithLogger sets a structured logger for the cache.
func WithLogger(l logger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}
