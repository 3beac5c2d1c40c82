package shard

import (
	"math/rand/v2"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyOf(t *testing.T) {
	tests := []struct {
		name  string
		b     Bigram
		width int
		want  string
	}{
		{"letters", Bigram{"hello", "world"}, 1, "H~W"},
		{"wider", Bigram{"hello", "world"}, 3, "HEL~WOR"},
		{"short words", Bigram{"a", "be"}, 5, "A~BE"},
		{"digits fold", Bigram{"1984", "42"}, 2, "00~00"},
		{"punctuation fold", Bigram{"...", "~x"}, 2, "!!~!X"},
		{"other fold", Bigram{"héllo", "über"}, 2, "H@~@B"},
		{"empty word", Bigram{"", "x"}, 1, "~X"},
		{"width clamped low", Bigram{"abc", "def"}, 0, "A~D"},
		{"width clamped high", Bigram{"abcdefghijklmn", "x"}, 99, "ABCDEFGHIJ~X"},
		{"start", StartBigram("anything"), 3, StartKey},
		{"start ignores word2", Bigram{StartToken, ""}, 1, StartKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KeyOf(tt.b, tt.width))
		})
	}
}

func TestKeyOfBoundedAndDeterministic(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	alphabet := []rune("aZ9.,!?~ é日本\t")

	randomWord := func() string {
		n := r.IntN(40)
		var sb strings.Builder
		for range n {
			sb.WriteRune(alphabet[r.IntN(len(alphabet))])
		}
		return sb.String()
	}

	for range 2_000 {
		b := Bigram{randomWord(), randomWord()}
		width := 1 + r.IntN(MaxKeyWidth)

		key := KeyOf(b, width)
		require.Equal(t, key, KeyOf(b, width))
		require.True(t, utf8.ValidString(key))
		require.LessOrEqual(t, len(key), 2*width+1)

		left, right, ok := SplitKey(key)
		require.True(t, ok, key)
		require.LessOrEqual(t, len(left), width)
		require.LessOrEqual(t, len(right), width)
		require.NotContains(t, left+right, string(KeySeparator))
	}
}

func TestBigramString(t *testing.T) {
	assert.Equal(t, "(a, b)", Bigram{"a", "b"}.String())
	assert.True(t, StartBigram("x").IsStart())
	assert.False(t, Bigram{"x", StartToken}.IsStart())
}
