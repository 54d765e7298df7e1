package embedsem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convergent-dev/convergent/internal/match/embedsem"
	"github.com/convergent-dev/convergent/internal/model"
)

type stubEmbedder struct {
	vectors map[string][]float32
}

func (s stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.vectors[text], nil
}

func TestRelateAboveFloorIsRelated(t *testing.T) {
	a := model.InterfaceSpec{Name: "CreateUser", Kind: model.KindFunction}
	b := model.InterfaceSpec{Name: "RegisterAccount", Kind: model.KindFunction}

	embedder := stubEmbedder{vectors: map[string][]float32{
		"createuser (function)":     {1, 0, 0},
		"registeraccount (function)": {0.9, 0.1, 0},
	}}

	m := embedsem.NewMatcher(embedder, nil, nil)
	related, reason, err := m.Relate(context.Background(), a, b)
	require.NoError(t, err)
	assert.True(t, related)
	assert.NotEmpty(t, reason)
}

func TestRelateBelowFloorIsNotRelated(t *testing.T) {
	a := model.InterfaceSpec{Name: "CreateUser", Kind: model.KindFunction}
	b := model.InterfaceSpec{Name: "DeleteInvoice", Kind: model.KindFunction}

	embedder := stubEmbedder{vectors: map[string][]float32{
		"createuser (function)":    {1, 0, 0},
		"deleteinvoice (function)": {0, 1, 0},
	}}

	m := embedsem.NewMatcher(embedder, nil, nil)
	related, _, err := m.Relate(context.Background(), a, b)
	require.NoError(t, err)
	assert.False(t, related)
}
