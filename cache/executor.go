package cache

import "github.com/sourcegraph/conc/pool"

// Executor runs background cache maintenance.
type Executor interface {
	Go(fn func())

	// Wait blocks until every submitted function has returned.
	Wait()
}

type inlineExecutor struct{}

func (inlineExecutor) Go(fn func()) { fn() }
func (inlineExecutor) Wait()        {}

// NewPoolExecutor returns an Executor backed by a bounded goroutine pool.
func NewPoolExecutor(workers int) Executor {
	return pool.New().WithMaxGoroutines(max(workers, 1))
}
