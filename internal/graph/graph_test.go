package graph_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convergent-dev/convergent/internal/graph"
	"github.com/convergent-dev/convergent/internal/match"
	"github.com/convergent-dev/convergent/internal/model"
	"github.com/convergent-dev/convergent/internal/stability"
)

func newTestGraph() *graph.Graph {
	backend := graph.NewMemoryBackend()
	matcher := match.New(0.6, nil)
	return graph.New(backend, matcher, 0.05, stability.DefaultWeights)
}

func TestPublishIsIdempotentOnIdenticalContent(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph()
	intent := model.Intent{IntentID: "i1", AgentID: "agent-a", Category: model.CategoryDecision}

	require.NoError(t, g.Publish(ctx, intent))
	require.NoError(t, g.Publish(ctx, intent))

	got, err := g.Get(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, intent.IntentID, got.IntentID)
}

func TestPublishRejectsDifferingContentSameID(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph()
	require.NoError(t, g.Publish(ctx, model.Intent{IntentID: "i1", AgentID: "agent-a", Category: model.CategoryDecision, Description: "v1"}))

	err := g.Publish(ctx, model.Intent{IntentID: "i1", AgentID: "agent-a", Category: model.CategoryDecision, Description: "v2"})
	assert.ErrorIs(t, err, model.ErrDuplicateIntent)
}

func TestFindOverlappingDetectsSharedInterface(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph()

	a := model.Intent{
		IntentID: "a", AgentID: "agent-a", Category: model.CategoryInterface,
		Interfaces: []model.InterfaceSpec{{Name: "CreateUser", Kind: model.KindFunction}},
	}
	b := model.Intent{
		IntentID: "b", AgentID: "agent-b", Category: model.CategoryInterface,
		Interfaces: []model.InterfaceSpec{{Name: "CreateUser", Kind: model.KindFunction}},
	}
	require.NoError(t, g.Publish(ctx, a))
	require.NoError(t, g.Publish(ctx, b))

	overlaps, err := g.FindOverlapping(ctx, a)
	require.NoError(t, err)
	require.Len(t, overlaps, 1)
	assert.Equal(t, "b", overlaps[0].Other.IntentID)
}

func TestGetMissingIntentIsNotFound(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph()
	_, err := g.Get(ctx, "missing")
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestSnapshotIDIsDeterministic(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph()
	intent := model.Intent{IntentID: "a", AgentID: "agent-a", Category: model.CategoryDecision}
	require.NoError(t, g.Publish(ctx, intent))

	id1, err := g.SnapshotID(ctx)
	require.NoError(t, err)
	id2, err := g.SnapshotID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}
