// Package shard holds the unit of storage of the Markov store: every bigram
// whose key folds to the same shard key, mapped to its successor set.
//
// A [Shard] is safe for concurrent use. Mutations take the shard's write
// lock for the full read-modify-replace of a successor set, so concurrent
// updates to one bigram can never be lost. [StartShard] adds the running
// occurrence total needed for weighted start-word selection.
package shard

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/beyondbrewing/brewery-markov/freqset"
)

// Sentinel errors.
var (
	ErrNotFound = errors.New("shard: bigram has no successors")
	ErrRemoval  = errors.New("shard: successor to remove is missing")
	ErrEmpty    = errors.New("shard: no line starts recorded")
	ErrCorrupt  = errors.New("shard: corrupt shard data")
)

// Shard maps bigrams to successor sets for one shard key.
type Shard struct {
	key  string
	dbID string
	pool *freqset.Pool

	mu      sync.RWMutex
	entries map[Bigram]freqset.Set

	// start shards keep total == sum of all set sizes.
	start bool
	total int

	// version counts mutations; saved is the version last persisted.
	version uint64
	saved   uint64
}

// New returns an empty shard. pool may be nil to disable Tiny interning.
func New(key, dbID string, pool *freqset.Pool) *Shard {
	return &Shard{
		key:     key,
		dbID:    dbID,
		pool:    pool,
		entries: make(map[Bigram]freqset.Set),
	}
}

// Key returns the shard key.
func (s *Shard) Key() string { return s.key }

// DatabaseID returns the id of the database the shard belongs to.
func (s *Shard) DatabaseID() string { return s.dbID }

// Add records one occurrence of word after b and reports whether b was new
// to the shard.
func (s *Shard) Add(b Bigram, word string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.entries[b]
	s.entries[b] = freqset.Add(s.pool, cur, word)
	if s.start {
		s.total++
	}
	s.version++
	return !ok
}

// Remove drops one occurrence of word after b. It returns an error wrapping
// ErrRemoval when there is nothing to remove; the shard is then unchanged.
func (s *Shard) Remove(b Bigram, word string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.entries[b]
	if !ok {
		return fmt.Errorf("%w: %s has no entry in shard %q", ErrRemoval, b, s.key)
	}
	next, changed := freqset.Remove(s.pool, cur, word)
	if !changed {
		return fmt.Errorf("%w: %q after %s in shard %q", ErrRemoval, word, b, s.key)
	}
	if next == nil {
		delete(s.entries, b)
	} else {
		s.entries[b] = next
	}
	if s.start {
		s.total--
	}
	s.version++
	return nil
}

// RandomSuccessor returns a successor of b chosen by weight. It returns
// ErrNotFound when b has never been recorded.
func (s *Shard) RandomSuccessor(b Bigram, r freqset.Rand) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.entries[b]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, b)
	}
	w, err := set.RandomWord(r)
	if err != nil {
		return "", fmt.Errorf("shard %q: %s: %w", s.key, b, err)
	}
	return w, nil
}

// Contains reports whether word follows b at least count times. A count
// below one is treated as one.
func (s *Shard) Contains(b Bigram, word string, count int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.entries[b]
	if !ok {
		return false
	}
	return set.ContainsN(word, max(count, 1))
}

// Successors returns a copy of b's word counts, or nil if b is absent.
func (s *Shard) Successors(b Bigram) map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.entries[b]
	if !ok {
		return nil
	}
	return set.Counts()
}

// TierOf returns the representation currently holding b's successors.
func (s *Shard) TierOf(b Bigram) (freqset.Tier, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.entries[b]
	if !ok {
		return 0, false
	}
	return set.Tier(), true
}

// Len returns the number of bigrams in the shard.
func (s *Shard) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Snapshot copies the shard content as bigram -> word -> count.
func (s *Shard) Snapshot() map[Bigram]map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[Bigram]map[string]int, len(s.entries))
	for b, set := range s.entries {
		out[b] = set.Counts()
	}
	return out
}

// Dirty reports whether the shard has mutations that were not persisted.
func (s *Shard) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version != s.saved
}

// MarkSaved records that the content at version v has been persisted.
func (s *Shard) MarkSaved(v uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v > s.saved {
		s.saved = v
	}
}

// Reset drops every entry, returns pooled sets and marks the shard clean.
// Shards are reset when they leave the cache and on database clear.
func (s *Shard) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	releaseAll(s.pool, s.entries)
	s.entries = make(map[Bigram]freqset.Set)
	s.total = 0
	s.saved = s.version
}

// sorted returns the entries ordered by word1 then word2. Callers hold mu.
func (s *Shard) sorted() []entry {
	out := make([]entry, 0, len(s.entries))
	for b, set := range s.entries {
		out = append(out, entry{b, set})
	}
	slices.SortFunc(out, func(a, b entry) int {
		return cmp.Or(cmp.Compare(a.b.Word1, b.b.Word1), cmp.Compare(a.b.Word2, b.b.Word2))
	})
	return out
}

type entry struct {
	b   Bigram
	set freqset.Set
}

func releaseAll(p *freqset.Pool, m map[Bigram]freqset.Set) {
	for _, set := range m {
		freqset.Release(p, set)
	}
}
