package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_Length(t *testing.T) {
	got := New()
	assert.Len(t, got, Length)
}

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		got := New()
		assert.False(t, seen[got], "duplicate id generated: %s", got)
		seen[got] = true
	}
}

func TestToken(t *testing.T) {
	tok, err := Token(16)
	assert.NoError(t, err)
	assert.NotEmpty(t, tok)
}
