package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convergent-dev/convergent/internal/model"
)

func TestIntentValidate(t *testing.T) {
	valid := model.Intent{
		IntentID:    "intent-1",
		AgentID:     "agent-a",
		Description: "AuthService",
		Category:    model.CategoryInterface,
		Interfaces: []model.InterfaceSpec{
			{Name: "User", Kind: model.KindClass, Tags: []string{"auth"}},
		},
	}
	require.NoError(t, valid.Validate())

	missingID := valid
	missingID.IntentID = ""
	assert.ErrorIs(t, missingID.Validate(), model.ErrValidation)

	badCategory := valid
	badCategory.Category = "nonsense"
	assert.ErrorIs(t, badCategory.Validate(), model.ErrValidation)
}

func TestIntentSameContentIgnoresEvidence(t *testing.T) {
	base := model.Intent{
		IntentID:    "intent-1",
		AgentID:     "agent-a",
		Description: "AuthService",
		Category:    model.CategoryInterface,
	}
	withEvidence := base
	withEvidence.Evidence = []model.Evidence{
		{Kind: model.EvidenceCommitted, Weight: 0.6, Timestamp: time.Now(), Source: "ci"},
	}
	assert.True(t, base.SameContent(withEvidence))

	differs := base
	differs.Description = "UserStore"
	assert.False(t, base.SameContent(differs))
}

func TestInterfaceSpecEqualIgnoresTagOrderAndCase(t *testing.T) {
	a := model.InterfaceSpec{Name: "User", Kind: model.KindClass, Tags: []string{"Auth", "Model"}}
	b := model.InterfaceSpec{Name: "  user ", Kind: model.KindClass, Tags: []string{"model", "auth"}}
	assert.True(t, a.Equal(b))
}

func TestEvidenceValidateRejectsNegativeWeight(t *testing.T) {
	e := model.Evidence{Kind: model.EvidenceCommitted, Weight: -1, Timestamp: time.Now()}
	assert.ErrorIs(t, e.Validate(), model.ErrValidation)
}

func TestConsensusRequestValidate(t *testing.T) {
	req := model.ConsensusRequest{
		RequestID: "r1",
		Question:  "Should we adopt X?",
		Quorum:    model.QuorumMajority,
		Timeout:   30 * time.Second,
	}
	require.NoError(t, req.Validate())

	req.Quorum = "bogus"
	assert.ErrorIs(t, req.Validate(), model.ErrValidation)
}

func TestMarkerExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	expiry := now.Add(-time.Minute)
	m := model.StigmergyMarker{
		MarkerID: "m1", Type: model.MarkerKnownIssue, Strength: 1, ExpiresAt: &expiry,
	}
	assert.True(t, m.Expired(now))
	m.ExpiresAt = nil
	assert.False(t, m.Expired(now))
}
