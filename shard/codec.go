package shard

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/beyondbrewing/brewery-markov/freqset"
	"github.com/viant/bintly"
)

// Binary layout, all fields written with bintly:
//
//	magic "MKVS" | version int16 | kind int16 | key | database id | entries int
//	entry: word1 | word2 | tier int16 | payload
//	  tiny, small: n int | n words
//	  large:       n int | n (word, count int) pairs, sorted by word
//	start kind only: total int
//	magic "MKVS"
const (
	magic         = "MKVS"
	formatVersion = int16(1)

	kindShard = int16(0)
	kindStart = int16(1)
)

var (
	writers = bintly.NewWriters()
	readers = bintly.NewReaders()
)

// Marshal encodes the shard and returns the version the bytes correspond to.
// Pass that version to MarkSaved once the bytes are durably written.
func (s *Shard) Marshal() ([]byte, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w := writers.Get()
	defer writers.Put(w)

	s.encode(w)
	return bytes.Clone(w.Bytes()), s.version
}

// Unmarshal replaces the shard content with the decoded data. On error the
// shard is left exactly as it was.
func (s *Shard) Unmarshal(data []byte) error {
	r := readers.Get()
	defer readers.Put(r)

	entries, total, err := s.decode(r, data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	releaseAll(s.pool, s.entries)
	s.entries = entries
	s.total = total
	s.saved = s.version
	return nil
}

func (s *Shard) kind() int16 {
	if s.start {
		return kindStart
	}
	return kindShard
}

func (s *Shard) encode(w *bintly.Writer) {
	w.String(magic)
	w.Int16(formatVersion)
	w.Int16(s.kind())
	w.String(s.key)
	w.String(s.dbID)

	entries := s.sorted()
	w.Int(len(entries))
	for _, e := range entries {
		w.String(e.b.Word1)
		w.String(e.b.Word2)
		w.Int16(int16(e.set.Tier()))

		if e.set.Tier() == freqset.TierLarge {
			counts := e.set.Counts()
			words := make([]string, 0, len(counts))
			for word := range counts {
				words = append(words, word)
			}
			slices.Sort(words)

			w.Int(len(words))
			for _, word := range words {
				w.String(word)
				w.Int(counts[word])
			}
			continue
		}

		words := e.set.Words()
		w.Int(len(words))
		for _, word := range words {
			w.String(word)
		}
	}

	if s.start {
		w.Int(s.total)
	}
	w.String(magic)
}

// decode reads data into a fresh entry map. bintly panics on short input, so
// the recover covers FromBytes as well as the field reads.
func (s *Shard) decode(r *bintly.Reader, data []byte) (entries map[Bigram]freqset.Set, total int, err error) {
	entries = make(map[Bigram]freqset.Set)
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrCorrupt, rec)
		}
		if err != nil {
			releaseAll(s.pool, entries)
			entries = nil
		}
	}()

	if err := r.FromBytes(data); err != nil {
		return entries, 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	// Every entry and element takes at least one byte, so a count above the
	// input length is corrupt and must not reach an allocation.
	limit := len(data)

	var (
		head    string
		version int16
		kind    int16
		key     string
		dbID    string
		n       int
	)
	r.String(&head)
	if head != magic {
		return nil, 0, fmt.Errorf("%w: bad magic %q", ErrCorrupt, head)
	}
	r.Int16(&version)
	if version != formatVersion {
		return nil, 0, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, version)
	}
	r.Int16(&kind)
	if kind != s.kind() {
		return nil, 0, fmt.Errorf("%w: kind %d, want %d", ErrCorrupt, kind, s.kind())
	}
	r.String(&key)
	if key != s.key {
		return nil, 0, fmt.Errorf("%w: file holds shard %q, want %q", ErrCorrupt, key, s.key)
	}
	r.String(&dbID)

	r.Int(&n)
	if n < 0 || n > limit {
		return nil, 0, fmt.Errorf("%w: entry count %d out of range", ErrCorrupt, n)
	}
	for i := 0; i < n; i++ {
		var b Bigram
		r.String(&b.Word1)
		r.String(&b.Word2)
		if _, dup := entries[b]; dup {
			return entries, 0, fmt.Errorf("%w: duplicate entry %s", ErrCorrupt, b)
		}
		set, err := s.decodeSet(r, limit)
		if err != nil {
			return entries, 0, fmt.Errorf("%s: %w", b, err)
		}
		entries[b] = set
	}

	if s.start {
		r.Int(&total)
		if sum := sumSets(entries); total != sum {
			return entries, 0, fmt.Errorf("%w: start total %d, sets hold %d", ErrCorrupt, total, sum)
		}
	}

	var tail string
	r.String(&tail)
	if tail != magic {
		return entries, 0, fmt.Errorf("%w: truncated shard %q", ErrCorrupt, s.key)
	}
	return entries, total, nil
}

func (s *Shard) decodeSet(r *bintly.Reader, limit int) (freqset.Set, error) {
	var (
		tag int16
		n   int
	)
	r.Int16(&tag)
	tier := freqset.Tier(tag)
	if tag < 0 || !tier.Valid() {
		return nil, fmt.Errorf("%w: unknown tier tag %d", ErrCorrupt, tag)
	}
	r.Int(&n)
	if n <= 0 || n > limit {
		return nil, fmt.Errorf("%w: %s set with %d elements", ErrCorrupt, tier, n)
	}

	if tier == freqset.TierLarge {
		counts := make(map[string]int, n)
		for i := 0; i < n; i++ {
			var (
				word  string
				count int
			)
			r.String(&word)
			r.Int(&count)
			if count <= 0 {
				return nil, fmt.Errorf("%w: count %d for %q", ErrCorrupt, count, word)
			}
			counts[word] += count
		}
		return freqset.NewLarge(counts), nil
	}

	words := make([]string, n)
	for i := range words {
		r.String(&words[i])
	}
	if tier == freqset.TierTiny {
		return s.pool.Intern(words), nil
	}
	return freqset.NewSmall(words), nil
}

func sumSets(m map[Bigram]freqset.Set) int {
	n := 0
	for _, set := range m {
		n += set.Size()
	}
	return n
}
