package votebag_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/convergent-dev/convergent/internal/model"
	"github.com/convergent-dev/convergent/internal/votebag"
)

func TestTallySumsByChoice(t *testing.T) {
	votes := []model.Vote{
		{AgentID: "a1", Choice: model.ChoiceApprove, WeightedScore: 0.6},
		{AgentID: "a2", Choice: model.ChoiceApprove, WeightedScore: 0.3},
		{AgentID: "a3", Choice: model.ChoiceReject, WeightedScore: 0.2},
	}
	bag := votebag.Tally(votes)
	assert.InDelta(t, 0.9, bag.ApproveWeight, 1e-9)
	assert.InDelta(t, 0.2, bag.RejectWeight, 1e-9)
	assert.True(t, bag.AnyApproved())
	assert.True(t, bag.MajorityApproved())
}

func TestTiedDetectsEqualWeight(t *testing.T) {
	votes := []model.Vote{
		{AgentID: "a1", Choice: model.ChoiceApprove, WeightedScore: 0.5},
		{AgentID: "a2", Choice: model.ChoiceReject, WeightedScore: 0.5},
	}
	bag := votebag.Tally(votes)
	assert.True(t, bag.Tied())
}

func TestBestReturnsHighestWeightedVote(t *testing.T) {
	votes := []model.Vote{
		{AgentID: "a1", Choice: model.ChoiceApprove, WeightedScore: 0.4},
		{AgentID: "a2", Choice: model.ChoiceReject, WeightedScore: 0.9},
	}
	bag := votebag.Tally(votes)
	best, ok := bag.Best()
	assert.True(t, ok)
	assert.Equal(t, "a2", best.AgentID)
}

func TestEscalateVoteCountedSeparately(t *testing.T) {
	votes := []model.Vote{
		{AgentID: "a1", Choice: model.ChoiceEscalate, WeightedScore: 0.9},
	}
	bag := votebag.Tally(votes)
	assert.Equal(t, 1, bag.EscalateCount)
	assert.False(t, bag.AnyApproved())
}
