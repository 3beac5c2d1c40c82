package freqset

import "slices"

// Add records one occurrence of w and returns the set that now holds the
// bigram's successors. s may be nil for a bigram with no successors yet.
//
// The returned set is a new instance when s is a Tiny (always, since Tiny is
// immutable) or when the new size crosses a threshold upward. A replaced Tiny
// has its pool reference released.
func Add(p *Pool, s Set, w string) Set {
	switch cur := s.(type) {
	case nil:
		return p.Intern([]string{w})

	case *Tiny:
		words := append(slices.Clone(cur.words), w)
		p.Release(cur)
		return build(p, words, grown(TierTiny, len(words)))

	case *Small:
		cur.words = append(cur.words, w)
		if t := grown(TierSmall, len(cur.words)); t != TierSmall {
			return build(p, cur.words, t)
		}
		return cur

	case *Large:
		cur.add(w)
		return cur

	default:
		panic("freqset: unknown set implementation")
	}
}

// Remove drops exactly one occurrence of w. It reports whether anything
// changed and returns the replacement set, which is nil once the last
// occurrence is gone. A set that drops below its tier's lower threshold is
// rebuilt in the smaller tier.
func Remove(p *Pool, s Set, w string) (Set, bool) {
	switch cur := s.(type) {
	case nil:
		return nil, false

	case *Tiny:
		i := slices.Index(cur.words, w)
		if i < 0 {
			return cur, false
		}
		words := slices.Delete(slices.Clone(cur.words), i, i+1)
		p.Release(cur)
		if len(words) == 0 {
			return nil, true
		}
		return p.Intern(words), true

	case *Small:
		i := slices.Index(cur.words, w)
		if i < 0 {
			return cur, false
		}
		cur.words = slices.Delete(cur.words, i, i+1)
		if len(cur.words) == 0 {
			return nil, true
		}
		if t := shrunk(TierSmall, len(cur.words)); t != TierSmall {
			return build(p, cur.words, t), true
		}
		return cur, true

	case *Large:
		if !cur.remove(w) {
			return cur, false
		}
		if cur.total == 0 {
			return nil, true
		}
		if t := shrunk(TierLarge, cur.total); t != TierLarge {
			return build(p, cur.Words(), t), true
		}
		return cur, true

	default:
		panic("freqset: unknown set implementation")
	}
}

// Convert rebuilds s in tier t, preserving the multiset exactly. It returns s
// unchanged when it is already in t. The caller keeps its reference on s; if s
// is a pooled Tiny that is being replaced, release it separately.
func Convert(p *Pool, s Set, t Tier) Set {
	if s == nil || s.Tier() == t {
		return s
	}
	return build(p, s.Words(), t)
}

// Release returns a set's pool reference when it is a Tiny. Shards call it
// for every entry they drop.
func Release(p *Pool, s Set) {
	if t, ok := s.(*Tiny); ok {
		p.Release(t)
	}
}

// grown returns the tier a set in cur should move to after growing to size.
// It never moves down.
func grown(cur Tier, size int) Tier {
	if t := TierFor(size); t.rank() > cur.rank() {
		return t
	}
	return cur
}

// shrunk is the mirror of grown for removals.
func shrunk(cur Tier, size int) Tier {
	if t := TierFor(size); t.rank() < cur.rank() {
		return t
	}
	return cur
}

func build(p *Pool, words []string, t Tier) Set {
	switch t {
	case TierTiny:
		return p.Intern(words)
	case TierSmall:
		return NewSmall(words)
	default:
		return NewLarge(tally(words))
	}
}
