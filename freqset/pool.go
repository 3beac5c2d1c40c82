package freqset

import (
	"encoding/binary"
	"slices"
	"sync"

	"github.com/minio/highwayhash"
)

const poolStripes = 64

// hashKey is the fixed 256-bit HighwayHash key. Hashes never leave the
// process, so a constant key is sufficient.
var hashKey = []byte("0123456789ABCDEF0123456789ABCDEF")

// Pool interns Tiny sets by content so that identical successor lists share
// one allocation. Entries are reference counted: Intern takes a reference,
// Release drops one, and the entry leaves the pool when the count reaches
// zero.
//
// A nil *Pool is valid and disables interning; every Intern then returns a
// private Tiny.
type Pool struct {
	stripes [poolStripes]poolStripe
}

type poolStripe struct {
	mu sync.Mutex
	m  map[uint64][]*Tiny // hash -> collision chain
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	p := &Pool{}
	for i := range p.stripes {
		p.stripes[i].m = make(map[uint64][]*Tiny)
	}
	return p
}

// Intern returns the pooled Tiny whose content equals words, creating it if
// needed. The slice is copied.
func (p *Pool) Intern(words []string) *Tiny {
	if p == nil {
		return &Tiny{words: slices.Clone(words)}
	}

	h := hashWords(words)
	st := &p.stripes[h%poolStripes]

	st.mu.Lock()
	defer st.mu.Unlock()

	for _, t := range st.m[h] {
		if slices.Equal(t.words, words) {
			t.refs++
			return t
		}
	}
	t := &Tiny{words: slices.Clone(words), hash: h, pool: p, refs: 1}
	st.m[h] = append(st.m[h], t)
	return t
}

// Release drops one reference to t. Sets that did not come from p are
// ignored.
func (p *Pool) Release(t *Tiny) {
	if p == nil || t == nil || t.pool != p {
		return
	}
	st := &p.stripes[t.hash%poolStripes]

	st.mu.Lock()
	defer st.mu.Unlock()

	if t.refs <= 0 {
		return
	}
	t.refs--
	if t.refs > 0 {
		return
	}
	chain := st.m[t.hash]
	for i, c := range chain {
		if c == t {
			chain = slices.Delete(chain, i, i+1)
			break
		}
	}
	if len(chain) == 0 {
		delete(st.m, t.hash)
	} else {
		st.m[t.hash] = chain
	}
}

// Len returns the number of distinct interned sets.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	n := 0
	for i := range p.stripes {
		st := &p.stripes[i]
		st.mu.Lock()
		for _, chain := range st.m {
			n += len(chain)
		}
		st.mu.Unlock()
	}
	return n
}

// refs reports the reference count of t. Test helper.
func (p *Pool) refs(t *Tiny) int {
	st := &p.stripes[t.hash%poolStripes]
	st.mu.Lock()
	defer st.mu.Unlock()
	return t.refs
}

// hashWords hashes the length-prefixed word sequence so that ["ab"] and
// ["a","b"] differ.
func hashWords(words []string) uint64 {
	buf := make([]byte, 0, 64)
	for _, w := range words {
		buf = binary.AppendUvarint(buf, uint64(len(w)))
		buf = append(buf, w...)
	}
	return highwayhash.Sum64(buf, hashKey)
}
