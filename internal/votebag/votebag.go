// Package votebag implements a small weighted-ballot counter
// shared by the triumvirate's quorum rules. It has no direct teacher
// analogue — it is built in the teacher's small-helper-type idiom (see
// the teacher's storage/retry.go and conflicts/claims.go for similarly
// scoped single-purpose types) to avoid every quorum rule in
// internal/triumvirate re-summing the same vote slice by hand.
package votebag

import "github.com/convergent-dev/convergent/internal/model"

// Bag tallies weighted votes by choice.
type Bag struct {
	ApproveWeight  float64
	RejectWeight   float64
	AbstainWeight  float64
	EscalateCount  int
	ApproveCount   int
	RejectCount    int
	best           *model.Vote // highest |weighted_score| approve-or-reject vote, for tie-breaking
}

// Tally sums a vote set's weighted scores by choice. Each vote's
// WeightedScore is expected to already be phi·confidence, computed by
// the caller at evaluation time.
func Tally(votes []model.Vote) Bag {
	var b Bag
	for i := range votes {
		v := votes[i]
		switch v.Choice {
		case model.ChoiceApprove:
			b.ApproveWeight += v.WeightedScore
			b.ApproveCount++
			b.considerForTiebreak(&votes[i])
		case model.ChoiceReject:
			b.RejectWeight += v.WeightedScore
			b.RejectCount++
			b.considerForTiebreak(&votes[i])
		case model.ChoiceAbstain:
			b.AbstainWeight += v.WeightedScore
		case model.ChoiceEscalate:
			b.EscalateCount++
		}
	}
	return b
}

func (b *Bag) considerForTiebreak(v *model.Vote) {
	if b.best == nil || v.WeightedScore > b.best.WeightedScore {
		b.best = v
	}
}

// Best returns the highest-weighted approve-or-reject vote, used to
// break MAJORITY ties. ok is false when no such vote exists.
func (b Bag) Best() (model.Vote, bool) {
	if b.best == nil {
		return model.Vote{}, false
	}
	return *b.best, true
}

// AnyApproved reports whether at least one approve vote carries
// positive weight, the ANY quorum rule.
func (b Bag) AnyApproved() bool {
	return b.ApproveWeight > 0
}

// MajorityApproved reports whether approve weight strictly exceeds
// reject weight, the MAJORITY quorum rule.
func (b Bag) MajorityApproved() bool {
	return b.ApproveWeight > b.RejectWeight
}

// Tied reports whether approve and reject weight are exactly equal and
// both sides cast at least one vote — the condition MAJORITY breaks by
// single highest weighted_score, falling back to DEADLOCK if still
// tied.
func (b Bag) Tied() bool {
	return b.ApproveWeight == b.RejectWeight && (b.ApproveCount > 0 || b.RejectCount > 0)
}
