package convergent_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convergent-dev/convergent/internal/graph"
	"github.com/convergent-dev/convergent/internal/model"
	"github.com/convergent-dev/convergent/internal/signalbus"

	convergent "github.com/convergent-dev/convergent"
)

func newTestEngine(t *testing.T, opts ...convergent.Option) *convergent.Engine {
	t.Helper()
	base := []convergent.Option{
		convergent.WithGraphBackend(graph.NewMemoryBackend()),
		convergent.WithSignalBus(signalbus.NewMemoryBus(time.Minute, nil)),
		convergent.WithDomain("test"),
	}
	eng, err := convergent.New(append(base, opts...)...)
	require.NoError(t, err)
	return eng
}

func TestEngine_PublishAndGetIntent(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	intent := model.Intent{
		IntentID:    "i1",
		AgentID:     "agent-a",
		Description: "add retry wrapper",
		Category:    model.CategoryDecision,
		CreatedAt:   time.Now(),
	}

	require.NoError(t, eng.PublishIntent(ctx, intent))

	got, err := eng.GetIntent(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, intent.IntentID, got.IntentID)
	assert.Equal(t, intent.AgentID, got.AgentID)

	list, err := eng.ListIntentsByAgent(ctx, "agent-a")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	all, err := eng.ListIntents(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestEngine_AppendEvidence(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	intent := model.Intent{
		IntentID:    "i1",
		AgentID:     "agent-a",
		Description: "add retry wrapper",
		Category:    model.CategoryDecision,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, eng.PublishIntent(ctx, intent))

	evidence := model.Evidence{
		Kind:      model.EvidenceTested,
		Weight:    0.8,
		Timestamp: time.Now(),
		Source:    "ci",
	}
	require.NoError(t, eng.AppendEvidence(ctx, "i1", evidence))

	got, err := eng.GetIntent(ctx, "i1")
	require.NoError(t, err)
	require.Len(t, got.Evidence, 1)
	assert.Equal(t, "ci", got.Evidence[0].Source)
}

func TestEngine_DetectCycles(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	a := model.Intent{IntentID: "a", AgentID: "agent-a", Description: "a", Category: model.CategoryDependency, Provides: []string{"pkg-a"}, Requires: []string{"pkg-b"}, CreatedAt: time.Now()}
	b := model.Intent{IntentID: "b", AgentID: "agent-b", Description: "b", Category: model.CategoryDependency, Provides: []string{"pkg-b"}, Requires: []string{"pkg-a"}, CreatedAt: time.Now()}

	require.NoError(t, eng.PublishIntent(ctx, a))
	require.NoError(t, eng.PublishIntent(ctx, b))

	cycles, err := eng.DetectCycles(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, cycles, "expected a cycle between a and b")
}

func TestEngine_DetectCycles_NoCycle(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	a := model.Intent{IntentID: "a", AgentID: "agent-a", Description: "a", Category: model.CategoryDependency, Provides: []string{"pkg-a"}, CreatedAt: time.Now()}
	b := model.Intent{IntentID: "b", AgentID: "agent-b", Description: "b", Category: model.CategoryDependency, Requires: []string{"pkg-a"}, CreatedAt: time.Now()}

	require.NoError(t, eng.PublishIntent(ctx, a))
	require.NoError(t, eng.PublishIntent(ctx, b))

	cycles, err := eng.DetectCycles(ctx)
	require.NoError(t, err)
	assert.Empty(t, cycles)
}

func TestEngine_SnapshotBranchMerge(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	a := model.Intent{IntentID: "a", AgentID: "agent-a", Description: "a", Category: model.CategoryDecision, CreatedAt: time.Now()}
	require.NoError(t, eng.PublishIntent(ctx, a))

	base := eng.Snapshot([]string{"a"}, eng.Genesis())
	_, err := eng.Branch("main", base.SnapshotID)
	require.NoError(t, err)

	head, err := eng.BranchHead("main")
	require.NoError(t, err)
	assert.Equal(t, base.SnapshotID, head.SnapshotID)

	b := model.Intent{IntentID: "b", AgentID: "agent-b", Description: "b", Category: model.CategoryDecision, CreatedAt: time.Now()}
	require.NoError(t, eng.PublishIntent(ctx, b))
	incoming := eng.Snapshot([]string{"a", "b"}, base.SnapshotID)

	result, err := eng.Merge(ctx, base.SnapshotID, incoming.SnapshotID)
	require.NoError(t, err)
	assert.False(t, result.Aborted)
	require.NotNil(t, result.Snapshot)

	log := eng.EventLog()
	assert.Len(t, log, 1)
}

func TestEngine_VotingDisabled_DegradesGracefully(t *testing.T) {
	eng := newTestEngine(t, convergent.WithVotingDisabled())
	ctx := context.Background()

	err := eng.RequestConsensus(model.ConsensusRequest{
		RequestID: "r1",
		TaskID:    "t1",
		Question:  "merge?",
		Quorum:    model.QuorumMajority,
		Timeout:   time.Minute,
		CreatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, convergent.ErrVotingDisabled)

	_, err = eng.Evaluate("r1")
	assert.ErrorIs(t, err, convergent.ErrVotingDisabled)

	assert.Nil(t, eng.ConsensusRequestIDs())

	// Intent graph and prompt enrichment are unaffected.
	intent := model.Intent{IntentID: "i1", AgentID: "agent-a", Description: "x", Category: model.CategoryDecision, CreatedAt: time.Now()}
	require.NoError(t, eng.PublishIntent(ctx, intent))

	enrichment := eng.EnrichPrompt("agent-a", []string{"pkg/foo.go"})
	assert.NotNil(t, enrichment.AlignmentAdvisories)
}

func TestEngine_RequestConsensusAndVote(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	req := model.ConsensusRequest{
		RequestID: "r1",
		TaskID:    "t1",
		Question:  "merge?",
		Quorum:    model.QuorumAny,
		Timeout:   time.Minute,
		CreatedAt: time.Now(),
	}
	require.NoError(t, eng.RequestConsensus(req))

	vote := model.Vote{
		RequestID:  "r1",
		AgentID:    "agent-a",
		Choice:     model.ChoiceApprove,
		Confidence: 0.9,
		CastAt:     time.Now(),
	}
	require.NoError(t, eng.SubmitVote(ctx, vote))

	votes, err := eng.VotesFor("r1")
	require.NoError(t, err)
	assert.Len(t, votes, 1)

	decision, err := eng.Evaluate("r1")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeApproved, decision.Outcome)

	assert.Contains(t, eng.ConsensusRequestIDs(), "r1")
}

func TestEngine_RecordTaskOutcomeAndPhiScore(t *testing.T) {
	eng := newTestEngine(t)

	initial := eng.PhiScore("agent-a", "test")
	assert.InDelta(t, 0.5, initial, 1e-9)

	score := eng.RecordTaskOutcome(model.TaskOutcome{
		AgentID:  "agent-a",
		Domain:   "test",
		Approved: true,
		At:       time.Now(),
	})
	assert.Greater(t, score.Phi, initial)
	assert.Equal(t, score.Phi, eng.PhiScore("agent-a", "test"))
}

func TestEngine_SignalPublishSubscribe(t *testing.T) {
	eng := newTestEngine(t)
	require.NoError(t, eng.Start(context.Background()))
	defer eng.Shutdown(context.Background())

	ch, err := eng.SubscribeSignals("consumer-1")
	require.NoError(t, err)
	defer eng.UnsubscribeSignals("consumer-1")

	signal := model.Signal{
		SignalID:    "s1",
		SignalType:  "help_request",
		SourceAgent: "agent-a",
		Payload:     []byte("stuck on flaky test"),
		Timestamp:   time.Now(),
	}
	require.NoError(t, eng.PublishSignal(context.Background(), signal))

	select {
	case got := <-ch:
		assert.Equal(t, "s1", got.SignalID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for signal")
	}
}

func TestEngine_EnrichPrompt_EmptyWithNoMarkers(t *testing.T) {
	eng := newTestEngine(t)

	enrichment := eng.EnrichPrompt("agent-a", []string{"pkg/foo.go"})
	assert.Empty(t, enrichment.StigmergyContext)
	assert.Empty(t, enrichment.AlignmentAdvisories)
	assert.Empty(t, enrichment.SeparationAdvisories)
}

func TestEngine_LeaveMarkerEnrichesPrompt(t *testing.T) {
	eng := newTestEngine(t)

	marker := model.StigmergyMarker{
		MarkerID:  "m1",
		AgentID:   "agent-a",
		Type:      model.MarkerFileModified,
		Target:    "pkg/foo.go",
		Content:   "refactored error handling",
		CreatedAt: time.Now(),
	}
	_, err := eng.LeaveMarker(marker, 1.0)
	require.NoError(t, err)

	enrichment := eng.EnrichPrompt("agent-b", []string{"pkg/foo.go"})
	assert.NotEmpty(t, enrichment.StigmergyContext)
}

func TestEngine_CheckCohesion(t *testing.T) {
	eng := newTestEngine(t)

	result := eng.CheckCohesion("add retry wrapper around the http client", "add retry wrapper around the http client", 0.5)
	assert.False(t, result.Drifted)

	drifted := eng.CheckCohesion("add retry wrapper around the http client", "rewrite the entire authentication subsystem", 0.9)
	assert.True(t, drifted.Drifted)
}

func TestEngine_ConstraintChecksOmitsUnregisteredSubjects(t *testing.T) {
	eng := newTestEngine(t)

	constraints := []model.Constraint{
		{Subject: "no-network-io", Predicate: "forbidden", Severity: model.SeverityHard},
		{Subject: "unregistered-subject", Predicate: "forbidden", Severity: model.SeverityHard},
	}

	checks := eng.ConstraintChecks(constraints, "pkg/foo")
	assert.Empty(t, checks, "no gates registered yet")
}
