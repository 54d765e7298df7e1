package triumvirate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convergent-dev/convergent/internal/model"
	"github.com/convergent-dev/convergent/internal/triumvirate"
)

type fixedPhi map[string]float64

func (f fixedPhi) Score(agentID, domain string) float64 {
	if v, ok := f[agentID]; ok {
		return v
	}
	return 0.5
}

func newRequest(id string, quorum model.Quorum, timeout time.Duration) model.ConsensusRequest {
	return model.ConsensusRequest{RequestID: id, TaskID: "task-1", Question: "proceed?", Quorum: quorum, Timeout: timeout, CreatedAt: time.Now()}
}

func TestAnyQuorumApprovesOnSingleApprove(t *testing.T) {
	tv := triumvirate.New(fixedPhi{"a1": 0.8})
	req := newRequest("r1", model.QuorumAny, time.Minute)
	require.NoError(t, tv.Open(req, "backend"))
	require.NoError(t, tv.SubmitVote(context.Background(), model.Vote{RequestID: "r1", AgentID: "a1", Choice: model.ChoiceApprove, Confidence: 0.9}))

	decision, err := tv.Evaluate("r1", req.CreatedAt.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeApproved, decision.Outcome)
}

func TestMajorityQuorumRejectsWhenRejectWeightHigher(t *testing.T) {
	tv := triumvirate.New(fixedPhi{"a1": 0.9, "a2": 0.2})
	req := newRequest("r2", model.QuorumMajority, time.Minute)
	require.NoError(t, tv.Open(req, "backend"))
	require.NoError(t, tv.SubmitVote(context.Background(), model.Vote{RequestID: "r2", AgentID: "a1", Choice: model.ChoiceReject, Confidence: 1.0}))
	require.NoError(t, tv.SubmitVote(context.Background(), model.Vote{RequestID: "r2", AgentID: "a2", Choice: model.ChoiceApprove, Confidence: 1.0}))

	decision, err := tv.Evaluate("r2", req.CreatedAt.Add(req.Timeout+time.Second))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRejected, decision.Outcome)
}

func TestUnanimousRequiresNoRejects(t *testing.T) {
	tv := triumvirate.New(fixedPhi{"a1": 0.8, "a2": 0.8})
	req := newRequest("r3", model.QuorumUnanimous, time.Minute)
	require.NoError(t, tv.Open(req, "backend"))
	require.NoError(t, tv.SubmitVote(context.Background(), model.Vote{RequestID: "r3", AgentID: "a1", Choice: model.ChoiceApprove, Confidence: 1.0}))
	require.NoError(t, tv.SubmitVote(context.Background(), model.Vote{RequestID: "r3", AgentID: "a2", Choice: model.ChoiceReject, Confidence: 1.0}))

	decision, err := tv.Evaluate("r3", req.CreatedAt.Add(time.Second))
	require.NoError(t, err)
	assert.NotEqual(t, model.OutcomeApproved, decision.Outcome)
}

func TestAnyEscalateVoteForcesEscalated(t *testing.T) {
	tv := triumvirate.New(fixedPhi{"a1": 0.8})
	req := newRequest("r4", model.QuorumAny, time.Minute)
	require.NoError(t, tv.Open(req, "backend"))
	require.NoError(t, tv.SubmitVote(context.Background(), model.Vote{RequestID: "r4", AgentID: "a1", Choice: model.ChoiceEscalate, Confidence: 1.0}))

	decision, err := tv.Evaluate("r4", req.CreatedAt.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeEscalated, decision.Outcome)
}

func TestTimeoutWithInsufficientVotesIsDeadlock(t *testing.T) {
	tv := triumvirate.New(fixedPhi{"a1": 0.5})
	req := newRequest("r5", model.QuorumUnanimous, time.Minute)
	require.NoError(t, tv.Open(req, "backend"))

	decision, err := tv.Evaluate("r5", req.CreatedAt.Add(req.Timeout+time.Second))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeDeadlock, decision.Outcome)
}

func TestDecisionCachedAfterFinal(t *testing.T) {
	tv := triumvirate.New(fixedPhi{"a1": 0.8})
	req := newRequest("r6", model.QuorumAny, time.Minute)
	require.NoError(t, tv.Open(req, "backend"))
	require.NoError(t, tv.SubmitVote(context.Background(), model.Vote{RequestID: "r6", AgentID: "a1", Choice: model.ChoiceApprove, Confidence: 0.9}))

	d1, err := tv.Evaluate("r6", req.CreatedAt.Add(time.Second))
	require.NoError(t, err)

	// A late vote after the decision is final must be ignored.
	require.NoError(t, tv.SubmitVote(context.Background(), model.Vote{RequestID: "r6", AgentID: "a2", Choice: model.ChoiceReject, Confidence: 1.0}))
	d2, err := tv.Evaluate("r6", req.CreatedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, d1.Outcome, d2.Outcome)
}
