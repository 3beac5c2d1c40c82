// Package logger provides the structured key/value logger used across the
// module. It is a thin facade over zap's SugaredLogger so packages can
// accept a [Logger] through their options and stay decoupled from zap.
package logger

import (
	"sync"

	"go.uber.org/zap"
)

// Logger is a leveled, structured logger. Every method takes a message and
// an alternating list of keys and values.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
	Fatal(msg string, keysAndValues ...any)

	// With returns a child logger that always includes the given pairs.
	With(keysAndValues ...any) Logger

	// Sync flushes any buffered entries.
	Sync() error
}

// Compile-time interface check.
var _ Logger = (*zapLogger)(nil)

type zapLogger struct {
	s *zap.SugaredLogger
}

// New wraps an existing zap logger.
func New(z *zap.Logger) Logger {
	return &zapLogger{s: z.Sugar()}
}

// NewProduction returns a JSON logger at Info level.
func NewProduction() (Logger, error) {
	z, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return New(z), nil
}

// MustProduction is like NewProduction but panics on error.
func MustProduction() Logger {
	l, err := NewProduction()
	if err != nil {
		panic(err)
	}
	return l
}

// NewDevelopment returns a human-readable console logger at Debug level.
func NewDevelopment() (Logger, error) {
	z, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return New(z), nil
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return New(zap.NewNop())
}

func (l *zapLogger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l *zapLogger) Info(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l *zapLogger) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
func (l *zapLogger) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }
func (l *zapLogger) Fatal(msg string, kv ...any) { l.s.Fatalw(msg, kv...) }

func (l *zapLogger) With(kv ...any) Logger {
	return &zapLogger{s: l.s.With(kv...)}
}

func (l *zapLogger) Sync() error { return l.s.Sync() }

// ---------------------------------------------------------------------------
// Process default
// ---------------------------------------------------------------------------

var (
	defaultMu     sync.RWMutex
	defaultLogger = NewNop()
)

// Default returns the process-wide logger. Until SetDefault is called it
// discards all output, so library code stays quiet unless a binary opts in.
func Default() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the process-wide logger. A nil logger is ignored.
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// SyncDefault flushes the process-wide logger. Intended for a deferred call
// in main.
func SyncDefault() {
	_ = Default().Sync()
}

func Debug(msg string, kv ...any) { Default().Debug(msg, kv...) }
func Info(msg string, kv ...any)  { Default().Info(msg, kv...) }
func Warn(msg string, kv ...any)  { Default().Warn(msg, kv...) }
func Error(msg string, kv ...any) { Default().Error(msg, kv...) }
func Fatal(msg string, kv ...any) { Default().Fatal(msg, kv...) }
