package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedIDs_InOrder(t *testing.T) {
	gen := NewFixedIDs("e1", "e2")
	assert.Equal(t, "e1", gen.Generate())
	assert.Equal(t, "e2", gen.Generate())
}

func TestFixedIDs_PanicsWhenExhausted(t *testing.T) {
	gen := NewFixedIDs("only")
	gen.Generate()
	assert.PanicsWithValue(t, "FixedIDs: all ids exhausted", func() { gen.Generate() })
}
