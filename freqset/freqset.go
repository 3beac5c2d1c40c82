// Package freqset implements the per-bigram successor multiset used by the
// Markov store. A set moves between three representations as it grows and
// shrinks:
//
//   - [Tiny]: immutable and interned through a [Pool], for fewer than
//     [SmallThreshold] occurrences.
//   - [Small]: an append-only occurrence list, up to [LargeThreshold].
//   - [Large]: a word to count map.
//
// Callers never change the tier of a set directly. [Add] and [Remove] return
// the set that should replace the old one, which is either the same value or
// a freshly built instance of the new tier.
//
// None of the types here are safe for concurrent mutation. The owning shard
// serializes every mutation of a given set behind its own lock.
package freqset

import (
	"errors"
	"fmt"
	"slices"
)

// Sentinel errors.
var (
	// ErrEmpty is returned when selecting from a set with no occurrences.
	ErrEmpty = errors.New("freqset: set is empty")

	// ErrInconsistent means weighted selection ran past the recorded total
	// without choosing a word, i.e. count bookkeeping has drifted.
	ErrInconsistent = errors.New("freqset: count bookkeeping is inconsistent")
)

// Tier identifies a set representation. The numeric values are part of the
// on-disk format and must not change.
type Tier uint8

const (
	TierSmall Tier = 0
	TierLarge Tier = 1
	TierTiny  Tier = 2
)

// Size thresholds between tiers.
const (
	SmallThreshold = 4
	LargeThreshold = 24
)

func (t Tier) String() string {
	switch t {
	case TierTiny:
		return "tiny"
	case TierSmall:
		return "small"
	case TierLarge:
		return "large"
	default:
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
}

// Valid reports whether t is a known tier tag.
func (t Tier) Valid() bool {
	return t == TierTiny || t == TierSmall || t == TierLarge
}

// rank orders tiers by capacity: tiny < small < large.
func (t Tier) rank() int {
	switch t {
	case TierTiny:
		return 0
	case TierSmall:
		return 1
	default:
		return 2
	}
}

// TierFor returns the representation a set of the given size belongs in.
func TierFor(size int) Tier {
	switch {
	case size < SmallThreshold:
		return TierTiny
	case size < LargeThreshold:
		return TierSmall
	default:
		return TierLarge
	}
}

// Rand is the source of randomness for weighted selection. *math/rand/v2.Rand
// satisfies it.
type Rand interface {
	IntN(n int) int
}

// Set is the read side shared by all tiers.
type Set interface {
	Tier() Tier

	// Size is the total number of recorded occurrences.
	Size() int
	IsEmpty() bool

	Contains(word string) bool

	// ContainsN reports whether word occurs at least n times.
	ContainsN(word string, n int) bool

	// RandomWord picks a word with probability proportional to its count.
	RandomWord(r Rand) (string, error)

	// Counts returns a fresh word to count map.
	Counts() map[string]int

	// Words returns every occurrence. Tiny and Small return them in insertion
	// order; Large expands its counts in sorted word order.
	Words() []string
}

// Compile-time interface checks.
var (
	_ Set = (*Tiny)(nil)
	_ Set = (*Small)(nil)
	_ Set = (*Large)(nil)
)

// ---------------------------------------------------------------------------
// Tiny
// ---------------------------------------------------------------------------

// Tiny is an immutable occurrence list. Instances obtained from a Pool are
// shared between every bigram with identical content.
type Tiny struct {
	words []string
	hash  uint64
	pool  *Pool
	refs  int // guarded by the owning pool stripe
}

func (t *Tiny) Tier() Tier      { return TierTiny }
func (t *Tiny) Size() int       { return len(t.words) }
func (t *Tiny) IsEmpty() bool   { return len(t.words) == 0 }
func (t *Tiny) Words() []string { return slices.Clone(t.words) }
func (t *Tiny) Contains(w string) bool {
	return slices.Contains(t.words, w)
}

func (t *Tiny) ContainsN(w string, n int) bool { return countOf(t.words, w) >= n }
func (t *Tiny) Counts() map[string]int         { return tally(t.words) }

func (t *Tiny) RandomWord(r Rand) (string, error) {
	return pick(t.words, r)
}

// ---------------------------------------------------------------------------
// Small
// ---------------------------------------------------------------------------

// Small is a mutable occurrence list. Duplicates are repeated occurrences.
type Small struct {
	words []string
}

// NewSmall builds a Small set holding a copy of words.
func NewSmall(words []string) *Small {
	return &Small{words: slices.Clone(words)}
}

func (s *Small) Tier() Tier      { return TierSmall }
func (s *Small) Size() int       { return len(s.words) }
func (s *Small) IsEmpty() bool   { return len(s.words) == 0 }
func (s *Small) Words() []string { return slices.Clone(s.words) }
func (s *Small) Contains(w string) bool {
	return slices.Contains(s.words, w)
}

func (s *Small) ContainsN(w string, n int) bool { return countOf(s.words, w) >= n }
func (s *Small) Counts() map[string]int         { return tally(s.words) }

func (s *Small) RandomWord(r Rand) (string, error) {
	return pick(s.words, r)
}

// ---------------------------------------------------------------------------
// Large
// ---------------------------------------------------------------------------

// Large maps each distinct word to its occurrence count and keeps the sum in
// total.
type Large struct {
	counts map[string]int
	total  int
}

// NewLarge builds a Large set from a word to count map. Non-positive counts
// are skipped.
func NewLarge(counts map[string]int) *Large {
	l := &Large{counts: make(map[string]int, len(counts))}
	for w, c := range counts {
		if c <= 0 {
			continue
		}
		l.counts[w] = c
		l.total += c
	}
	return l
}

func (l *Large) Tier() Tier    { return TierLarge }
func (l *Large) Size() int     { return l.total }
func (l *Large) IsEmpty() bool { return l.total == 0 }

// Distinct returns the number of distinct words.
func (l *Large) Distinct() int { return len(l.counts) }

func (l *Large) Contains(w string) bool {
	return l.counts[w] > 0
}

func (l *Large) ContainsN(w string, n int) bool { return l.counts[w] >= n }

func (l *Large) Counts() map[string]int {
	out := make(map[string]int, len(l.counts))
	for w, c := range l.counts {
		out[w] = c
	}
	return out
}

func (l *Large) Words() []string {
	keys := make([]string, 0, len(l.counts))
	for w := range l.counts {
		keys = append(keys, w)
	}
	slices.Sort(keys)

	out := make([]string, 0, l.total)
	for _, w := range keys {
		for range l.counts[w] {
			out = append(out, w)
		}
	}
	return out
}

// RandomWord draws in [0, total) and walks the counts until the draw lands.
func (l *Large) RandomWord(r Rand) (string, error) {
	if l.total <= 0 {
		return "", ErrEmpty
	}
	n := r.IntN(l.total)
	for w, c := range l.counts {
		if n < c {
			return w, nil
		}
		n -= c
	}
	return "", fmt.Errorf("%w: total=%d distinct=%d", ErrInconsistent, l.total, len(l.counts))
}

func (l *Large) add(w string) {
	l.counts[w]++
	l.total++
}

func (l *Large) remove(w string) bool {
	c, ok := l.counts[w]
	if !ok {
		return false
	}
	if c <= 1 {
		delete(l.counts, w)
	} else {
		l.counts[w] = c - 1
	}
	l.total--
	return true
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func pick(words []string, r Rand) (string, error) {
	if len(words) == 0 {
		return "", ErrEmpty
	}
	return words[r.IntN(len(words))], nil
}

func countOf(words []string, w string) int {
	n := 0
	for _, x := range words {
		if x == w {
			n++
		}
	}
	return n
}

func tally(words []string) map[string]int {
	out := make(map[string]int, len(words))
	for _, w := range words {
		out[w]++
	}
	return out
}
