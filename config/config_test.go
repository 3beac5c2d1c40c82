package config

import (
	"testing"
	"time"

	"github.com/beyondbrewing/brewery-markov/markov"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, Settings{
		ID:            "markov",
		Dir:           ".",
		Backend:       markov.BackendFile,
		KeyWidth:      1,
		DirDepth:      1,
		CacheCapacity: 4096,
		Autosave:      time.Minute,
		MaxWords:      markov.DefaultMaxWordsPerLine,
	}, s)
}

func TestLoadOverrides(t *testing.T) {
	v := viper.New()
	v.Set(KeyBackend, "pebble")
	v.Set(KeyKeyWidth, "3")
	v.Set(KeyAutosave, "15s")
	v.Set(KeyDevelopment, "true")

	s, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "pebble", s.Backend)
	assert.Equal(t, 3, s.KeyWidth)
	assert.Equal(t, 15*time.Second, s.Autosave)
	assert.True(t, s.Development)
}

func TestLoadRejectsGarbage(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{KeyCacheCapacity, "lots"},
		{KeyAutosave, "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			v := viper.New()
			v.Set(tt.key, tt.value)
			_, err := Load(v)
			assert.ErrorContains(t, err, tt.key)
		})
	}
}

func TestOptionsOpenDatabase(t *testing.T) {
	v := viper.New()
	v.Set(KeyDir, t.TempDir())
	s, err := Load(v)
	require.NoError(t, err)

	d, err := markov.New(s.Options()...)
	require.NoError(t, err)
	require.NoError(t, d.Start())
	require.NoError(t, d.Close())
}
