package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportEnvReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MARKOV_ID=fromfile\nMARKOV_KEY_WIDTH=3\n"), 0o644))

	v := viper.New()
	require.NoError(t, ImportEnv(v, dir))

	assert.Equal(t, "fromfile", v.GetString("MARKOV_ID"))
	assert.Equal(t, 3, v.GetInt("MARKOV_KEY_WIDTH"))
}

func TestImportEnvEnvironmentWins(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MARKOV_ID=fromfile\n"), 0o644))
	t.Setenv("MARKOV_ID", "fromenv")

	v := viper.New()
	require.NoError(t, ImportEnv(v, dir))

	assert.Equal(t, "fromenv", v.GetString("MARKOV_ID"))
}

func TestImportEnvMissingFile(t *testing.T) {
	v := viper.New()
	assert.NoError(t, ImportEnv(v, t.TempDir()))
}
