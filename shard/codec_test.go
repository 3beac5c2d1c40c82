package shard

import (
	"fmt"
	"testing"

	"github.com/beyondbrewing/brewery-markov/freqset"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func populated(t *testing.T, p *freqset.Pool) *Shard {
	t.Helper()
	s := New("A~B", "db-1", p)

	s.Add(Bigram{"a", "tiny"}, EndToken)
	for i := range 6 {
		s.Add(Bigram{"a", "small"}, fmt.Sprintf("w%d", i%2))
	}
	for i := range 40 {
		s.Add(Bigram{"a", "large"}, fmt.Sprintf("w%d", i%9))
	}
	return s
}

func TestCodecRoundTrip(t *testing.T) {
	p := freqset.NewPool()
	src := populated(t, p)
	data, _ := src.Marshal()

	dst := New("A~B", "db-1", p)
	require.NoError(t, dst.Unmarshal(data))

	if diff := cmp.Diff(src.Snapshot(), dst.Snapshot()); diff != "" {
		t.Fatalf("decoded shard differs (-want +got):\n%s", diff)
	}
	for _, b := range []Bigram{{"a", "tiny"}, {"a", "small"}, {"a", "large"}} {
		want, _ := src.TierOf(b)
		got, _ := dst.TierOf(b)
		assert.Equal(t, want, got, b.String())
	}
	assert.False(t, dst.Dirty())

	// The decoded tiny set is shared with the source through the pool.
	assert.Equal(t, 1, p.Len())
}

func TestCodecKeepsSerializedTier(t *testing.T) {
	src := New("A~B", "db", nil)
	b := Bigram{"a", "b"}
	src.entries[b] = freqset.NewSmall([]string{"only"})
	src.entries[Bigram{"a", "c"}] = freqset.NewLarge(map[string]int{"x": 2})

	data, _ := src.Marshal()
	dst := New("A~B", "db", nil)
	require.NoError(t, dst.Unmarshal(data))

	tier, _ := dst.TierOf(b)
	assert.Equal(t, freqset.TierSmall, tier)
	tier, _ = dst.TierOf(Bigram{"a", "c"})
	assert.Equal(t, freqset.TierLarge, tier)
}

func TestCodecStartShard(t *testing.T) {
	src := NewStart("db", nil)
	for i := range 30 {
		src.Add(StartBigram(fmt.Sprintf("s%d", i%4)), "next")
	}
	data, _ := src.Marshal()

	dst := NewStart("db", nil)
	require.NoError(t, dst.Unmarshal(data))

	assert.Equal(t, 30, dst.Total())
	if diff := cmp.Diff(src.Snapshot(), dst.Snapshot()); diff != "" {
		t.Fatalf("decoded start shard differs (-want +got):\n%s", diff)
	}
}

func TestCodecEmptyShard(t *testing.T) {
	data, _ := New("Q~Q", "db", nil).Marshal()

	dst := New("Q~Q", "db", nil)
	require.NoError(t, dst.Unmarshal(data))
	assert.Equal(t, 0, dst.Len())
}

func TestCodecToleratesDatabaseID(t *testing.T) {
	data, _ := populated(t, nil).Marshal()

	dst := New("A~B", "renamed", nil)
	require.NoError(t, dst.Unmarshal(data))
	assert.Equal(t, 3, dst.Len())
	assert.Equal(t, "renamed", dst.DatabaseID())
}

func TestCodecRejectsBadInput(t *testing.T) {
	good, _ := populated(t, nil).Marshal()
	start, _ := NewStart("db", nil).Marshal()

	w := writers.Get()
	w.String("XXXX")
	w.Int16(formatVersion)
	badMagic := append([]byte(nil), w.Bytes()...)
	writers.Put(w)

	tests := []struct {
		name string
		data []byte
	}{
		{"truncated tail", good[:len(good)-3]},
		{"truncated half", good[:len(good)/2]},
		{"wrong key", mustMarshal(New("Z~Z", "db", nil))},
		{"wrong kind", start},
		{"bad magic", badMagic},
		{"huge entry count", header(1 << 34)},
		{"huge element count", hugeSet()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := freqset.NewPool()
			dst := New("A~B", "db", p)
			dst.Add(Bigram{"keep", "me"}, "x")
			before := dst.Snapshot()

			err := dst.Unmarshal(tt.data)
			require.ErrorIs(t, err, ErrCorrupt)
			assert.Equal(t, before, dst.Snapshot(), "failed decode must not touch the shard")
			assert.Equal(t, 1, p.Len(), "sets decoded before the failure are released")
		})
	}
}

func TestCodecTruncatedAtEveryOffset(t *testing.T) {
	good, _ := populated(t, nil).Marshal()

	for n := range len(good) {
		dst := New("A~B", "db", nil)
		err := dst.Unmarshal(good[:n])
		require.ErrorIs(t, err, ErrCorrupt, "prefix of %d bytes", n)
		assert.Zero(t, dst.Len())
	}
}

// header encodes a shard preamble for "A~B" claiming n entries.
func header(n int) []byte {
	w := writers.Get()
	defer writers.Put(w)
	w.String(magic)
	w.Int16(formatVersion)
	w.Int16(kindShard)
	w.String("A~B")
	w.String("db")
	w.Int(n)
	return append([]byte(nil), w.Bytes()...)
}

// hugeSet encodes one entry whose small set claims far more words than
// the input holds.
func hugeSet() []byte {
	w := writers.Get()
	defer writers.Put(w)
	w.String(magic)
	w.Int16(formatVersion)
	w.Int16(kindShard)
	w.String("A~B")
	w.String("db")
	w.Int(1)
	w.String("a")
	w.String("b")
	w.Int16(int16(freqset.TierSmall))
	w.Int(1 << 34)
	return append([]byte(nil), w.Bytes()...)
}

func mustMarshal(s *Shard) []byte {
	data, _ := s.Marshal()
	return data
}
