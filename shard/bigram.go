package shard

import (
	"strings"
	"unicode/utf8"
)

// Reserved words. StartToken as Word1 marks a line-start bigram; EndToken is
// recorded as the successor of a line's final bigram.
const (
	StartToken = "<_start>"
	EndToken   = "<_end>"
)

// StartKey is the shard key shared by every line-start bigram.
const StartKey = "~start"

// Fold symbols. KeySeparator is distinct from all of them so the two folded
// prefixes in a key can never run together.
const (
	KeySeparator = '~'
	foldDigit    = '0'
	foldPunct    = '!'
	foldOther    = '@'
)

// Width bounds for the per-word key prefix.
const (
	MinKeyWidth = 1
	MaxKeyWidth = 10
)

// Bigram is an ordered word pair. It is a comparable value and is used
// directly as a map key.
type Bigram struct {
	Word1 string
	Word2 string
}

// StartBigram returns the line-start bigram for word.
func StartBigram(word string) Bigram {
	return Bigram{Word1: StartToken, Word2: word}
}

// IsStart reports whether b is a line-start bigram.
func (b Bigram) IsStart() bool { return b.Word1 == StartToken }

func (b Bigram) String() string {
	return "(" + b.Word1 + ", " + b.Word2 + ")"
}

// KeyOf derives the shard key of b. Each word contributes at most width
// folded characters, so a key is never longer than 2*width+1 bytes. All
// start bigrams map to StartKey.
func KeyOf(b Bigram, width int) string {
	if b.IsStart() {
		return StartKey
	}
	width = clampWidth(width)

	var sb strings.Builder
	sb.Grow(2*width + 1)
	foldPrefix(&sb, b.Word1, width)
	sb.WriteByte(KeySeparator)
	foldPrefix(&sb, b.Word2, width)
	return sb.String()
}

// SplitKey returns the two folded prefixes of an ordinary shard key.
func SplitKey(key string) (string, string, bool) {
	return strings.Cut(key, string(KeySeparator))
}

func foldPrefix(sb *strings.Builder, word string, width int) {
	n := 0
	for _, r := range word {
		if n == width {
			return
		}
		sb.WriteByte(foldRune(r))
		n++
	}
}

func foldRune(r rune) byte {
	switch {
	case r >= 'a' && r <= 'z':
		return byte(r - 'a' + 'A')
	case r >= 'A' && r <= 'Z':
		return byte(r)
	case r >= '0' && r <= '9':
		return foldDigit
	case r < utf8.RuneSelf && isASCIIPunct(byte(r)):
		return foldPunct
	default:
		return foldOther
	}
}

// isASCIIPunct matches the POSIX punct class.
func isASCIIPunct(c byte) bool {
	return (c >= '!' && c <= '/') ||
		(c >= ':' && c <= '@') ||
		(c >= '[' && c <= '`') ||
		(c >= '{' && c <= '~')
}

func clampWidth(w int) int {
	return min(max(w, MinKeyWidth), MaxKeyWidth)
}
