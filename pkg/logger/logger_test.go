package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithCarriesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core)).With("component", "cache")

	l.Info("shard evicted", "key", "A~B")
	l.Debug("noise")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "shard evicted", entries[0].Message)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "cache", ctx["component"])
	assert.Equal(t, "A~B", ctx["key"])
}

func TestSetDefault(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	core, logs := observer.New(zapcore.WarnLevel)
	SetDefault(New(zap.New(core)))

	Info("dropped")
	Warn("kept", "n", 1)
	Error("kept too")

	assert.Equal(t, 2, logs.Len())

	SetDefault(nil)
	assert.NotNil(t, Default())
}
