package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/beyondbrewing/brewery-markov/shard"
	"github.com/natefinch/atomic"
)

// FileExt is the extension of every shard file.
const FileExt = ".database"

// Compile-time interface check.
var _ Backend = (*FileBackend)(nil)

// FileBackend keeps each shard in its own file under root. Shard keys of the
// form "LEFT~RIGHT" are spread over directories built from their leading
// characters:
//
//	root/L/E/~/R/I/LEFT~RIGHT.database   (depth 2)
//
// so no single directory accumulates every shard. The start key and keys
// without a separator live directly under root.
type FileBackend struct {
	root  string
	depth int
}

// NewFileBackend creates root if needed. depth is the number of directory
// levels taken from each side of a key and is clamped to at least one.
func NewFileBackend(root string, depth int) (*FileBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", root, err)
	}
	return &FileBackend{root: root, depth: max(depth, 1)}, nil
}

// Root returns the directory holding the shard tree.
func (f *FileBackend) Root() string { return f.root }

// Path returns the file that holds key.
func (f *FileBackend) Path(key string) string {
	left, right, ok := shard.SplitKey(key)
	if !ok || key == shard.StartKey {
		return filepath.Join(f.root, key+FileExt)
	}

	parts := make([]string, 0, 2*f.depth+3)
	parts = append(parts, f.root)
	parts = appendChars(parts, left, f.depth)
	parts = append(parts, string(shard.KeySeparator))
	parts = appendChars(parts, right, f.depth)
	parts = append(parts, key+FileExt)
	return filepath.Join(parts...)
}

func appendChars(parts []string, s string, depth int) []string {
	for i := 0; i < len(s) && i < depth; i++ {
		parts = append(parts, s[i:i+1])
	}
	return parts
}

func (f *FileBackend) Read(key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	data, err := os.ReadFile(f.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: read %q: %w", key, err)
	}
	return data, nil
}

func (f *FileBackend) Write(key string, data []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	path := f.Path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("storage: create directory for %q: %w", key, err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("storage: write %q: %w", key, err)
	}
	return nil
}

func (f *FileBackend) Delete(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := os.Remove(f.Path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: delete %q: %w", key, err)
	}
	return nil
}

func (f *FileBackend) Keys() ([]string, error) {
	var keys []string
	err := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if name, ok := strings.CutSuffix(d.Name(), FileExt); ok {
			keys = append(keys, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", f.root, err)
	}
	return keys, nil
}

// Clear removes the whole tree and recreates an empty root.
func (f *FileBackend) Clear() error {
	if err := os.RemoveAll(f.root); err != nil {
		return fmt.Errorf("storage: clear %s: %w", f.root, err)
	}
	if err := os.MkdirAll(f.root, 0o755); err != nil {
		return fmt.Errorf("storage: recreate %s: %w", f.root, err)
	}
	return nil
}

// Flush is a no-op; every Write is already synced before it is renamed
// into place.
func (f *FileBackend) Flush() error { return nil }

func (f *FileBackend) Close() error { return nil }
