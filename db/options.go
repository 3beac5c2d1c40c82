package db

import (
	"github.com/beyondbrewing/brewery-markov/pkg/logger"
)

// Config holds the tunables of a [PebbleDB]. Build it through [Option]
// values passed to [Open].
type Config struct {
	// ColumnFamilies lists the families accepted by Store methods in
	// addition to DefaultColumnFamily.
	ColumnFamilies []string

	// CacheSize is the block cache capacity in bytes.
	CacheSize int64

	// MemTableSize is the size of one memtable in bytes. Shard blobs are
	// rewritten whole on every save, so a larger memtable absorbs repeated
	// saves of hot shards before they reach L0.
	MemTableSize uint64

	// MaxOpenFiles caps open table files. Zero means unlimited.
	MaxOpenFiles int

	// WALDir places the write-ahead log on a separate device when set.
	WALDir string

	// SyncWrites fsyncs every write. When false, durability comes from
	// Flush, which the shard store calls after a full save.
	SyncWrites bool

	// Logger defaults to logger.Default().
	Logger logger.Logger
}

// DefaultConfig returns defaults sized for shard blobs: many small values,
// read once per cache miss and overwritten on eviction.
func DefaultConfig() *Config {
	return &Config{
		ColumnFamilies: []string{ShardsColumnFamily},
		CacheSize:      64 << 20,
		MemTableSize:   32 << 20,
	}
}

// Option configures Open.
type Option func(*Config)

// WithColumnFamilies replaces the registered column families.
func WithColumnFamilies(cfs ...string) Option {
	return func(c *Config) { c.ColumnFamilies = cfs }
}

// WithCacheSize sets the block cache capacity in bytes.
func WithCacheSize(size int64) Option {
	return func(c *Config) { c.CacheSize = size }
}

// WithMemTableSize sets the memtable size in bytes.
func WithMemTableSize(size uint64) Option {
	return func(c *Config) { c.MemTableSize = size }
}

// WithMaxOpenFiles caps open table files. Zero means unlimited.
func WithMaxOpenFiles(n int) Option {
	return func(c *Config) { c.MaxOpenFiles = n }
}

// WithWALDir sets a separate directory for the write-ahead log.
func WithWALDir(dir string) Option {
	return func(c *Config) { c.WALDir = dir }
}

// WithSyncWrites fsyncs every write.
func WithSyncWrites(sync bool) Option {
	return func(c *Config) { c.SyncWrites = sync }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}
