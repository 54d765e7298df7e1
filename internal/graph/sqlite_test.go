package graph_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convergent-dev/convergent/internal/graph"
	"github.com/convergent-dev/convergent/internal/model"
)

func TestSQLiteBackendPublishAndGet(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "convergent.intents.db")

	backend, err := graph.NewSQLiteBackend(ctx, path)
	require.NoError(t, err)
	defer backend.Close(ctx)

	intent := model.Intent{IntentID: "i1", AgentID: "agent-a", Category: model.CategoryDecision, Description: "use postgres"}
	require.NoError(t, backend.Publish(ctx, intent))

	got, err := backend.Get(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, intent.Description, got.Description)
}

func TestSQLiteBackendPublishIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "convergent.intents.db")

	backend, err := graph.NewSQLiteBackend(ctx, path)
	require.NoError(t, err)
	defer backend.Close(ctx)

	intent := model.Intent{IntentID: "i1", AgentID: "agent-a", Category: model.CategoryDecision}
	require.NoError(t, backend.Publish(ctx, intent))
	require.NoError(t, backend.Publish(ctx, intent))

	all, err := backend.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLiteBackendRejectsDivergingRepublish(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "convergent.intents.db")

	backend, err := graph.NewSQLiteBackend(ctx, path)
	require.NoError(t, err)
	defer backend.Close(ctx)

	require.NoError(t, backend.Publish(ctx, model.Intent{IntentID: "i1", AgentID: "agent-a", Category: model.CategoryDecision, Description: "v1"}))
	err = backend.Publish(ctx, model.Intent{IntentID: "i1", AgentID: "agent-a", Category: model.CategoryDecision, Description: "v2"})
	assert.ErrorIs(t, err, model.ErrDuplicateIntent)
}

func TestSQLiteBackendAppendEvidencePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "convergent.intents.db")

	backend, err := graph.NewSQLiteBackend(ctx, path)
	require.NoError(t, err)
	defer backend.Close(ctx)

	require.NoError(t, backend.Publish(ctx, model.Intent{IntentID: "i1", AgentID: "agent-a", Category: model.CategoryDecision}))
	require.NoError(t, backend.AppendEvidence(ctx, "i1", model.Evidence{Kind: model.EvidenceTested, Source: "ci"}))

	got, err := backend.Get(ctx, "i1")
	require.NoError(t, err)
	require.Len(t, got.Evidence, 1)
	assert.Equal(t, model.EvidenceTested, got.Evidence[0].Kind)
}
