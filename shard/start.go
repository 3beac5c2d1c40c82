package shard

import (
	"fmt"

	"github.com/beyondbrewing/brewery-markov/freqset"
)

// StartShard is the shard under StartKey. Its bigrams are all (StartToken,
// word) and it keeps the total occurrence count in step with every add and
// remove, so picking a start word never has to re-sum the sets.
type StartShard struct {
	*Shard
}

// NewStart returns an empty start shard.
func NewStart(dbID string, pool *freqset.Pool) *StartShard {
	s := New(StartKey, dbID, pool)
	s.start = true
	return &StartShard{Shard: s}
}

// Total returns the number of recorded line starts.
func (s *StartShard) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// RandomStartWord returns a first word chosen with probability proportional
// to how many lines started with it.
func (s *StartShard) RandomStartWord(r freqset.Rand) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.total <= 0 {
		return "", ErrEmpty
	}
	n := r.IntN(s.total)
	for b, set := range s.entries {
		size := set.Size()
		if n < size {
			return b.Word2, nil
		}
		n -= size
	}
	return "", fmt.Errorf("%w: start total %d exceeds recorded sets (%d entries)",
		freqset.ErrInconsistent, s.total, len(s.entries))
}
