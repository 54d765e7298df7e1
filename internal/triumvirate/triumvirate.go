// Package triumvirate implements phi-weighted consensus voting over a
// ConsensusRequest: quorum rules, tie-breaking, and timeout handling.
// Grounded on the teacher's decision/confidence model
// (internal/model.Decision, internal/conflicts validator confirmation
// step) generalized from a single-arbiter LLM confirmation into a
// multi-agent quorum vote.
package triumvirate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/convergent-dev/convergent/internal/model"
	"github.com/convergent-dev/convergent/internal/votebag"
)

// PhiSource resolves an agent's trust score in a domain at vote time.
// Satisfied by phi.Store.
type PhiSource interface {
	Score(agentID, domain string) float64
}

// Triumvirate tracks in-flight ConsensusRequests and their submitted
// votes, and evaluates them against phi-weighted quorum rules.
type Triumvirate struct {
	mu       sync.Mutex
	phi      PhiSource
	requests map[string]requestState
}

type requestState struct {
	request        model.ConsensusRequest
	domain         string
	votes          map[string]model.Vote // by agent id, one vote per agent per request
	humanConfirmed bool
	decided        *model.Decision
}

// New builds a Triumvirate scored against phi.
func New(phiSource PhiSource) *Triumvirate {
	return &Triumvirate{phi: phiSource, requests: make(map[string]requestState)}
}

// Open registers a new ConsensusRequest for voting. domain selects which
// phi score (agent_id, domain) weights votes on this request.
func (t *Triumvirate) Open(request model.ConsensusRequest, domain string) error {
	if err := request.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.requests[request.RequestID]; exists {
		return fmt.Errorf("triumvirate: request %q already open", request.RequestID)
	}
	t.requests[request.RequestID] = requestState{request: request, domain: domain, votes: make(map[string]model.Vote)}
	return nil
}

// SubmitVote records one agent's vote. One vote per agent per request —
// a later vote from the same agent replaces the earlier one, since the
// base contract makes no provision for a "change of mind" being
// rejected outright and evaluation always reads the latest ballot.
// Votes submitted after the request's decision is already final are
// ignored, per the failure-semantics rule that votes after timeout are
// dropped rather than erroring.
func (t *Triumvirate) SubmitVote(ctx context.Context, vote model.Vote) error {
	if err := vote.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.requests[vote.RequestID]
	if !ok {
		return fmt.Errorf("triumvirate: unknown request %q", vote.RequestID)
	}
	if state.decided != nil {
		return nil // already resolved; late vote ignored
	}
	state.votes[vote.AgentID] = vote
	t.requests[vote.RequestID] = state
	return nil
}

// Evaluate computes the outcome for a request as of now. now is
// explicit so timeout handling stays deterministic under test. The
// result is cached: repeated Evaluate calls after a decision is final
// return the same Decision.
func (t *Triumvirate) Evaluate(requestID string, now time.Time) (model.Decision, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.requests[requestID]
	if !ok {
		return model.Decision{}, fmt.Errorf("triumvirate: unknown request %q: %w", requestID, model.ErrNotFound)
	}
	if state.decided != nil {
		return *state.decided, nil
	}

	votes := make([]model.Vote, 0, len(state.votes))
	for agentID, v := range state.votes {
		v.WeightedScore = t.phi.Score(agentID, state.domain) * v.Confidence
		votes = append(votes, v)
	}

	decision := evaluateOutcome(state.request, votes, now, state.humanConfirmed)
	if decision.Outcome != model.OutcomePending {
		state.decided = &decision
		t.requests[requestID] = state
	}
	return decision, nil
}

// evaluateOutcome is the pure decision function: votes + quorum rule +
// elapsed time -> outcome. Kept free of Triumvirate's locking so it is
// independently testable.
func evaluateOutcome(request model.ConsensusRequest, votes []model.Vote, now time.Time, humanConfirmed bool) model.Decision {
	bag := votebag.Tally(votes)
	decision := model.Decision{Request: request, Votes: votes, ApproveWeight: bag.ApproveWeight, RejectWeight: bag.RejectWeight, DecidedAt: now, HumanConfirmed: humanConfirmed}

	if bag.EscalateCount > 0 {
		decision.Outcome = model.OutcomeEscalated
		return decision
	}

	expired := now.Sub(request.CreatedAt) >= request.Timeout

	satisfied := false
	switch request.Quorum {
	case model.QuorumAny:
		satisfied = bag.AnyApproved()
	case model.QuorumMajority:
		satisfied = bag.MajorityApproved()
	case model.QuorumUnanimous, model.QuorumUnanimousHuman:
		satisfied = bag.RejectCount == 0 && bag.ApproveCount > 0
		if request.Quorum == model.QuorumUnanimousHuman {
			satisfied = satisfied && decision.HumanConfirmed
		}
	}

	if satisfied {
		decision.Outcome = model.OutcomeApproved
		return decision
	}

	if request.Quorum == model.QuorumMajority && bag.Tied() {
		best, ok := bag.Best()
		for _, v := range votes {
			if ok && v.Choice != best.Choice && (v.Choice == model.ChoiceApprove || v.Choice == model.ChoiceReject) &&
				v.WeightedScore == best.WeightedScore {
				ok = false // the top approve and reject votes weigh the same: still tied
			}
		}
		if ok {
			if best.Choice == model.ChoiceApprove {
				decision.Outcome = model.OutcomeApproved
			} else {
				decision.Outcome = model.OutcomeRejected
			}
			return decision
		}
		if expired {
			decision.Outcome = model.OutcomeDeadlock
			return decision
		}
	}

	if expired {
		if request.Quorum == model.QuorumMajority && bag.RejectWeight > bag.ApproveWeight {
			decision.Outcome = model.OutcomeRejected
			return decision
		}
		decision.Outcome = model.OutcomeDeadlock
		return decision
	}

	decision.Outcome = model.OutcomePending
	return decision
}

// ConfirmHuman marks a request's decision with a human confirmation
// flag, required for UNANIMOUS_HUMAN to resolve as approved. Must be
// called before Evaluate for that request.
func (t *Triumvirate) ConfirmHuman(requestID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.requests[requestID]
	if !ok {
		return fmt.Errorf("triumvirate: unknown request %q: %w", requestID, model.ErrNotFound)
	}
	if state.decided != nil {
		return fmt.Errorf("triumvirate: request %q already decided", requestID)
	}
	state.humanConfirmed = true
	t.requests[requestID] = state
	return nil
}

// Votes returns the ballots submitted so far for a request, open or
// decided, for read-only inspection (e.g. a caller watching a vote in
// progress).
func (t *Triumvirate) Votes(requestID string) ([]model.Vote, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("triumvirate: unknown request %q: %w", requestID, model.ErrNotFound)
	}
	votes := make([]model.Vote, 0, len(state.votes))
	for _, v := range state.votes {
		votes = append(votes, v)
	}
	return votes, nil
}

// RequestIDs lists every request this Triumvirate has ever opened,
// decided or still pending.
func (t *Triumvirate) RequestIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.requests))
	for id := range t.requests {
		ids = append(ids, id)
	}
	return ids
}
