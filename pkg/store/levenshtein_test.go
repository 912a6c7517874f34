package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		max  int
		want int
	}{
		{"identical", "kitten", "kitten", 10, 0},
		{"classic", "kitten", "sitting", 10, 3},
		{"empty left", "", "abc", 10, 3},
		{"empty right", "abc", "", 10, 3},
		{"both empty", "", "", 10, 0},
		{"single substitution", "cat", "bat", 10, 1},
		{"insertion", "cat", "cats", 10, 1},
		{"unicode", "héllo", "hello", 10, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, levenshtein(tt.a, tt.b, tt.max))
		})
	}
}

func TestLevenshtein_BoundShortCircuits(t *testing.T) {
	// Length difference alone exceeds the bound
	d := levenshtein("a", "aaaaaaaaaa", 3)
	assert.GreaterOrEqual(t, d, 3)

	d = levenshtein("completely different", "nothing alike here!!", 5)
	assert.GreaterOrEqual(t, d, 5)
}
