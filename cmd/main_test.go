package main

import (
	"context"
	"testing"

	"github.com/beyondbrewing/brewery-markov/cache"
	"github.com/beyondbrewing/brewery-markov/markov"
	"github.com/beyondbrewing/brewery-markov/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDatabase(t *testing.T, dir string) *markov.Database {
	t.Helper()
	d, err := markov.New(markov.WithDir(dir), markov.WithLogger(logger.NewNop()))
	require.NoError(t, err)
	return d
}

func TestRunRemoveMissingLine(t *testing.T) {
	d := openDatabase(t, t.TempDir())

	err := run(context.Background(), d, []string{"remove", "never", "learned"}, 1)
	require.ErrorIs(t, err, errLineNotContained)
	assert.NotErrorIs(t, err, cache.ErrClosed)
	assert.Contains(t, err.Error(), "not fully contained")
}

func TestRunRemoveLearnedLine(t *testing.T) {
	dir := t.TempDir()
	d := openDatabase(t, dir)
	require.NoError(t, d.Start())
	require.NoError(t, d.ProcessLine(markov.Tokenize("hello there")))
	require.NoError(t, d.Close())

	d = openDatabase(t, dir)
	assert.NoError(t, run(context.Background(), d, []string{"remove", "hello", "there"}, 1))
}

func TestRunUnknownCommand(t *testing.T) {
	d := openDatabase(t, t.TempDir())

	err := run(context.Background(), d, []string{"frobnicate"}, 1)
	assert.ErrorContains(t, err, `unknown command "frobnicate"`)
	assert.NotErrorIs(t, err, cache.ErrClosed)
}

func TestRunServeStopsOnCancel(t *testing.T) {
	d := openDatabase(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, run(ctx, d, []string{"serve"}, 1))
}
