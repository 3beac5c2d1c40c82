package cache

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrNotLoaded = errors.New("cache: Load must be called before use")
	ErrClosed    = errors.New("cache: cache is closed")
)

// Shard operations reported in ShardError.Op.
const (
	OpLoad  = "load"
	OpSave  = "save"
	OpEvict = "evict"
)

// ShardError is an I/O failure confined to one shard.
type ShardError struct {
	Key string
	Op  string
	Err error
}

func (e *ShardError) Error() string {
	return fmt.Sprintf("cache: %s shard %q: %v", e.Op, e.Key, e.Err)
}

func (e *ShardError) Unwrap() error {
	return e.Err
}
