package version_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convergent-dev/convergent/internal/match"
	"github.com/convergent-dev/convergent/internal/model"
	"github.com/convergent-dev/convergent/internal/stability"
	"github.com/convergent-dev/convergent/internal/version"
)

type memStore map[string]model.Intent

func (m memStore) Get(ctx context.Context, id string) (model.Intent, error) {
	intent, ok := m[id]
	if !ok {
		return model.Intent{}, model.ErrNotFound
	}
	return intent, nil
}

func newVG(store memStore) *version.VersionedGraph {
	return version.New(store, match.New(0.6, nil), 0.05, stability.DefaultWeights)
}

func TestMergeIncludesNonConflictingIntent(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := memStore{
		"a": {IntentID: "a", AgentID: "agent-a", Category: model.CategoryDecision},
		"b": {IntentID: "b", AgentID: "agent-b", Category: model.CategoryDecision},
	}
	vg := newVG(store)

	base := vg.Snapshot([]string{"a"}, vg.Genesis())
	incoming := vg.Snapshot([]string{"a", "b"}, base.SnapshotID)

	result, err := vg.Merge(ctx, base.SnapshotID, incoming.SnapshotID, now)
	require.NoError(t, err)
	require.NotNil(t, result.Snapshot)
	assert.Contains(t, result.Snapshot.IntentIDs, "b")
	assert.Empty(t, result.Conflicts)
}

func TestMergeAbortsOnHardConstraintViolation(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := memStore{
		"a": {
			IntentID: "a", AgentID: "agent-a", Category: model.CategoryConstraint,
			Constraints:   []model.Constraint{{Subject: "file", Predicate: "no-write", Severity: model.SeverityHard, Scope: []string{"shared.go"}}},
			FilesAffected: []string{"shared.go"},
		},
		"b": {
			IntentID: "b", AgentID: "agent-b", Category: model.CategoryDecision,
			FilesAffected: []string{"shared.go"},
			Interfaces:    []model.InterfaceSpec{{Name: "Save", Kind: model.KindFunction}},
		},
	}
	// make "a" also provide the same interface so structural overlap fires
	a := store["a"]
	a.Interfaces = []model.InterfaceSpec{{Name: "Save", Kind: model.KindFunction}}
	store["a"] = a

	vg := newVG(store)
	base := vg.Snapshot([]string{"a"}, vg.Genesis())
	incoming := vg.Snapshot([]string{"a", "b"}, base.SnapshotID)

	result, err := vg.Merge(ctx, base.SnapshotID, incoming.SnapshotID, now)
	require.NoError(t, err)
	assert.True(t, result.Aborted)
}

func TestReplayReproducesFinalSnapshot(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := memStore{
		"a": {IntentID: "a", AgentID: "agent-a", Category: model.CategoryDecision},
		"b": {IntentID: "b", AgentID: "agent-b", Category: model.CategoryDecision},
	}
	vg := newVG(store)
	base := vg.Snapshot([]string{"a"}, vg.Genesis())
	incoming := vg.Snapshot([]string{"a", "b"}, base.SnapshotID)
	_, err := vg.Merge(ctx, base.SnapshotID, incoming.SnapshotID, now)
	require.NoError(t, err)

	replayed, err := version.Replay(ctx, store, match.New(0.6, nil), 0.05, stability.DefaultWeights, vg.ReplayLog())
	require.NoError(t, err)
	assert.NotNil(t, replayed)
}
