package config

import (
	"fmt"
	"time"

	"github.com/beyondbrewing/brewery-markov/markov"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// injected configurations
var (
	APP_NAME    string = "brewery-markov"
	APP_VERSION string = "0.0.1"
)

// Keys read from the environment, a .env file or command-line flags.
const (
	KeyID              = "MARKOV_ID"
	KeyDir             = "MARKOV_DIR"
	KeyBackend         = "MARKOV_BACKEND"
	KeyKeyWidth        = "MARKOV_KEY_WIDTH"
	KeyDirDepth        = "MARKOV_DIR_DEPTH"
	KeyCacheCapacity   = "MARKOV_CACHE_CAPACITY"
	KeyCleanupEvery    = "MARKOV_CLEANUP_EVERY"
	KeyEvictionWorkers = "MARKOV_EVICTION_WORKERS"
	KeyAutosave        = "MARKOV_AUTOSAVE"
	KeyMaxWords        = "MARKOV_MAX_WORDS"
	KeyDevelopment     = "MARKOV_DEV"
)

// Settings is the resolved runtime configuration.
type Settings struct {
	ID              string
	Dir             string
	Backend         string
	KeyWidth        int
	DirDepth        int
	CacheCapacity   int
	CleanupEvery    int
	EvictionWorkers int
	Autosave        time.Duration
	MaxWords        int
	Development     bool
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	d := markov.DefaultConfig()
	v.SetDefault(KeyID, d.ID)
	v.SetDefault(KeyDir, d.Dir)
	v.SetDefault(KeyBackend, d.BackendKind)
	v.SetDefault(KeyKeyWidth, d.KeyWidth)
	v.SetDefault(KeyDirDepth, d.DirDepth)
	v.SetDefault(KeyCacheCapacity, 4096)
	v.SetDefault(KeyCleanupEvery, 0)
	v.SetDefault(KeyEvictionWorkers, 0)
	v.SetDefault(KeyAutosave, time.Minute)
	v.SetDefault(KeyMaxWords, d.MaxWordsPerLine)
	v.SetDefault(KeyDevelopment, false)
}

// Load reads Settings from v. Values that cannot be parsed are reported
// rather than silently zeroed.
func Load(v *viper.Viper) (Settings, error) {
	SetDefaults(v)

	s := Settings{
		ID:          v.GetString(KeyID),
		Dir:         v.GetString(KeyDir),
		Backend:     v.GetString(KeyBackend),
		Development: v.GetBool(KeyDevelopment),
	}

	ints := []struct {
		key string
		dst *int
	}{
		{KeyKeyWidth, &s.KeyWidth},
		{KeyDirDepth, &s.DirDepth},
		{KeyCacheCapacity, &s.CacheCapacity},
		{KeyCleanupEvery, &s.CleanupEvery},
		{KeyEvictionWorkers, &s.EvictionWorkers},
		{KeyMaxWords, &s.MaxWords},
	}
	for _, f := range ints {
		n, err := cast.ToIntE(v.Get(f.key))
		if err != nil {
			return Settings{}, fmt.Errorf("config: %s: %w", f.key, err)
		}
		*f.dst = n
	}

	d, err := cast.ToDurationE(v.Get(KeyAutosave))
	if err != nil {
		return Settings{}, fmt.Errorf("config: %s: %w", KeyAutosave, err)
	}
	s.Autosave = d
	return s, nil
}

// Options converts s into database options.
func (s Settings) Options() []markov.Option {
	return []markov.Option{
		markov.WithID(s.ID),
		markov.WithDir(s.Dir),
		markov.WithBackendKind(s.Backend),
		markov.WithKeyWidth(s.KeyWidth),
		markov.WithDirDepth(s.DirDepth),
		markov.WithCacheCapacity(s.CacheCapacity),
		markov.WithCleanupEvery(s.CleanupEvery),
		markov.WithEvictionWorkers(s.EvictionWorkers),
		markov.WithAutosave(s.Autosave),
		markov.WithMaxWordsPerLine(s.MaxWords),
	}
}
