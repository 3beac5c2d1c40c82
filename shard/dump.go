package shard

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"
)

// Dump writes the shard as text, one bigram per line in sorted order:
//
//	word1 word2 -> tier [word:count ...]
func (s *Shard) Dump(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bw := bufio.NewWriter(w)
	for _, e := range s.sorted() {
		counts := e.set.Counts()
		words := make([]string, 0, len(counts))
		for word := range counts {
			words = append(words, word)
		}
		slices.Sort(words)

		var sb strings.Builder
		for i, word := range words {
			if i > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%s:%d", word, counts[word])
		}
		if _, err := fmt.Fprintf(bw, "%s %s -> %s [%s]\n", e.b.Word1, e.b.Word2, e.set.Tier(), sb.String()); err != nil {
			return err
		}
	}
	return bw.Flush()
}
