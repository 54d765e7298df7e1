package canon_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convergent-dev/convergent/internal/canon"
)

func TestEncodeRoundTrip(t *testing.T) {
	type sample struct {
		Name string `json:"name"`
		Kind string `json:"kind"`
	}
	in := sample{Name: "User", Kind: "class"}
	b, err := canon.Encode(in)
	require.NoError(t, err)

	var out sample
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)
}

func TestHashDeterministic(t *testing.T) {
	type sample struct{ A, B int }
	h1, err := canon.Hash(sample{A: 1, B: 2})
	require.NoError(t, err)
	h2, err := canon.Hash(sample{A: 1, B: 2})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	h3, err := canon.Hash(sample{A: 1, B: 3})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestHashSequenceOrderSensitive(t *testing.T) {
	a := canon.HashSequence([]string{"a", "b"})
	b := canon.HashSequence([]string{"b", "a"})
	assert.NotEqual(t, a, b)

	same := canon.HashSequence([]string{"a", "b"})
	assert.Equal(t, a, same)
}
