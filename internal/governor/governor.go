// Package governor implements the three-layer merge decision pipeline:
// constraints (via gate verdicts), intent conflicts (via classification),
// and economics (auto-resolve vs. escalate). Grounded on the teacher's
// internal/conflicts -> internal/service layering, where a scorer feeds
// a higher-level decision service that makes the final call; here
// generalized into three explicit, short-circuiting layers instead of
// two implicit ones.
package governor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/convergent-dev/convergent/internal/economics"
	"github.com/convergent-dev/convergent/internal/gate"
	"github.com/convergent-dev/convergent/internal/model"
	"github.com/convergent-dev/convergent/internal/telemetry"
)

// defaultEscalationTimeout bounds how long a governor-opened consensus
// request waits for votes before DEADLOCK, absent a caller override.
const defaultEscalationTimeout = 10 * time.Minute

// escalationCost is the unit cost charged against the economics policy's
// running budget each time the governor actually opens a consensus
// request. The budget (CONVERGENT_ESCALATION_BUDGET) is denominated in
// these units: a budget of 100 authorizes 100 escalations before the
// policy starts forcing AUTO_RESOLVE on its own.
const escalationCost = 1.0

// Outcome is the governor's final verdict on a proposal.
type Outcome string

const (
	OutcomeMerge       Outcome = "MERGE"
	OutcomeAutoResolve Outcome = "AUTO_RESOLVE"
	OutcomeEscalate    Outcome = "ESCALATE"
	OutcomeReject      Outcome = "REJECT"
	// OutcomeBlock is returned when escalation is warranted but no
	// Escalator is configured: the proposal cannot be silently
	// auto-resolved (the economics layer already decided the stakes are
	// too high for that) and there is nowhere to send it, so it is held
	// rather than guessed.
	OutcomeBlock Outcome = "BLOCK"
)

// ConstraintCheck pairs one constraint with the gate that evaluates it
// over a scope.
type ConstraintCheck struct {
	Constraint model.Constraint
	Gate       gate.Gate
	Scope      string
}

// Proposal is everything the governor needs to evaluate one candidate
// merge: the constraints that apply to it and the conflicts already
// classified between its incoming intents and the base graph.
type Proposal struct {
	ProposalID  string
	Constraints []ConstraintCheck
	Conflicts   []model.Conflict
}

// Escalator opens a consensus request for a conflict the economics layer
// decided is worth a human/agent vote. Satisfied by triumvirate.Triumvirate.
type Escalator interface {
	Open(request model.ConsensusRequest, domain string) error
}

// Rationale records the deciding component, its inputs, and the
// resulting classification, so every outcome is explainable per
// base-spec §7's user-visible failure requirement.
type Rationale struct {
	Outcome      Outcome
	Component    string // "constraints" | "intent" | "economics"
	Detail       string
	GateVerdicts []gate.Verdict
	Conflicts    []model.Conflict
	// Winners lists, for AUTO_RESOLVE, the intent id favored per
	// resolved conflict.
	Winners []string
	// EscalatedRequestID is set when Outcome == ESCALATE and an
	// Escalator was configured.
	EscalatedRequestID string
}

// Governor runs the three-layer evaluation pipeline.
type Governor struct {
	policy    *economics.Policy
	escalator Escalator
	domain    string
	outcomes  metric.Int64Counter
}

// New builds a Governor. escalator may be nil; without one, conflicts
// that the economics layer would otherwise escalate resolve to BLOCK
// instead. domain selects which phi-scored skill domain escalated
// consensus requests are opened against.
func New(policy *economics.Policy, escalator Escalator, domain string) *Governor {
	outcomes, _ := telemetry.GetMeter(telemetry.Meter).Int64Counter(
		"convergent.governor.outcomes",
		metric.WithDescription("count of governor.Evaluate outcomes, by outcome and component"),
	)
	return &Governor{policy: policy, escalator: escalator, domain: domain, outcomes: outcomes}
}

// Evaluate runs constraints, then intent conflicts, then economics, in
// strict order, short-circuiting on the first decisive verdict, and
// records the resulting outcome against the governor.outcomes counter.
func (g *Governor) Evaluate(ctx context.Context, proposal Proposal) (Rationale, error) {
	rationale, err := g.evaluate(ctx, proposal)
	if err == nil && g.outcomes != nil {
		g.outcomes.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", string(rationale.Outcome)),
			attribute.String("component", rationale.Component),
		))
	}
	return rationale, err
}

func (g *Governor) evaluate(ctx context.Context, proposal Proposal) (Rationale, error) {
	verdicts, rejected, err := g.evaluateConstraints(ctx, proposal.Constraints)
	if err != nil {
		return Rationale{}, err
	}
	if rejected != nil {
		return Rationale{
			Outcome:      OutcomeReject,
			Component:    "constraints",
			Detail:       fmt.Sprintf("hard constraint %q failed: %s", rejected.Constraint.Subject, rejected.verdict.Detail),
			GateVerdicts: verdicts,
		}, nil
	}

	unresolved, hardViolation := partitionConflicts(proposal.Conflicts)
	if hardViolation != nil {
		return Rationale{
			Outcome:      OutcomeReject,
			Component:    "intent",
			Detail:       "conflict classified HARD_CONSTRAINT",
			GateVerdicts: verdicts,
			Conflicts:    []model.Conflict{*hardViolation},
		}, nil
	}
	if len(unresolved) == 0 {
		return Rationale{
			Outcome:      OutcomeMerge,
			Component:    "intent",
			Detail:       "all conflicts classified SOFT or NONE",
			GateVerdicts: verdicts,
			Conflicts:    proposal.Conflicts,
		}, nil
	}

	return g.evaluateEconomics(proposal, verdicts, unresolved)
}

type rejectedConstraint struct {
	Constraint model.Constraint
	verdict    gate.Verdict
}

func (g *Governor) evaluateConstraints(ctx context.Context, checks []ConstraintCheck) ([]gate.Verdict, *rejectedConstraint, error) {
	verdicts := make([]gate.Verdict, 0, len(checks))
	for _, check := range checks {
		if !check.Constraint.IsHard() {
			continue
		}
		verdict, err := check.Gate.Run(ctx, check.Scope)
		if err != nil {
			return verdicts, nil, fmt.Errorf("governor: gate for constraint %q: %w", check.Constraint.Subject, err)
		}
		verdicts = append(verdicts, verdict)
		if !verdict.Passed {
			return verdicts, &rejectedConstraint{Constraint: check.Constraint, verdict: verdict}, nil
		}
	}
	return verdicts, nil, nil
}

// partitionConflicts splits conflicts into those needing economics
// evaluation (anything other than NONE/SOFT) and, if present, the first
// HARD_CONSTRAINT conflict which aborts the whole proposal.
func partitionConflicts(conflicts []model.Conflict) (unresolved []model.Conflict, hardViolation *model.Conflict) {
	for i, c := range conflicts {
		switch c.Class {
		case model.ConflictHardConstraint:
			return nil, &conflicts[i]
		case model.ConflictNone, model.ConflictSoft:
			continue
		default:
			unresolved = append(unresolved, c)
		}
	}
	return unresolved, nil
}

// evaluateEconomics computes an expected-value-of-escalation for each
// unresolved conflict: EV = 1 - stability_gap, so a closer call (smaller
// gap) carries a higher EV, per the base spec's conservative Open
// Question 3 resolution (see DESIGN.md) that escalation is worth more
// precisely when an automatic call would be least trustworthy. Any one
// conflict warranting escalation escalates the whole proposal.
func (g *Governor) evaluateEconomics(proposal Proposal, verdicts []gate.Verdict, unresolved []model.Conflict) (Rationale, error) {
	var winners []string
	for _, c := range unresolved {
		gap := c.StabilityA - c.StabilityB
		if gap < 0 {
			gap = -gap
		}
		ev := 1 - gap

		decision, _ := g.policy.Evaluate(economics.Input{StabilityA: c.StabilityA, StabilityB: c.StabilityB, EscalationEV: ev})
		if decision == economics.DecisionEscalate {
			return g.escalate(proposal, verdicts, unresolved, c)
		}

		// The policy forces AUTO_RESOLVE once its running budget is
		// exhausted, even for a conflict whose EV clears the escalation
		// threshold. That silent downgrade is the policy's own
		// conservative default (see economics.Policy.Evaluate); the
		// governor surfaces it as a hard error instead so a caller
		// driving the fleet sees the budget ceiling was hit rather than
		// mistaking it for an ordinary auto-resolve.
		if ev >= g.policy.Threshold && g.policy.Remaining() <= 0 {
			return Rationale{}, fmt.Errorf("governor: conflict between %q and %q: %w", c.A.IntentID, c.B.IntentID, model.ErrBudgetExceeded)
		}

		if c.StabilityA >= c.StabilityB {
			winners = append(winners, c.A.IntentID)
		} else {
			winners = append(winners, c.B.IntentID)
		}
	}

	return Rationale{
		Outcome:      OutcomeAutoResolve,
		Component:    "economics",
		Detail:       "all unresolved conflicts below escalation threshold, resolved toward higher stability",
		GateVerdicts: verdicts,
		Conflicts:    unresolved,
		Winners:      winners,
	}, nil
}

func (g *Governor) escalate(proposal Proposal, verdicts []gate.Verdict, unresolved []model.Conflict, decisive model.Conflict) (Rationale, error) {
	if g.escalator == nil {
		return Rationale{
			Outcome:      OutcomeBlock,
			Component:    "economics",
			Detail:       "escalation warranted but no escalator configured",
			GateVerdicts: verdicts,
			Conflicts:    unresolved,
		}, nil
	}

	request := model.ConsensusRequest{
		RequestID: fmt.Sprintf("%s:%s", proposal.ProposalID, decisive.A.IntentID),
		TaskID:    proposal.ProposalID,
		Question:  fmt.Sprintf("resolve %s conflict between %q and %q", decisive.Class, decisive.A.IntentID, decisive.B.IntentID),
		Quorum:    model.QuorumMajority,
		Timeout:   defaultEscalationTimeout,
		CreatedAt: time.Now(),
	}
	if err := g.escalator.Open(request, g.domain); err != nil {
		return Rationale{}, fmt.Errorf("governor: open consensus request: %w", err)
	}
	g.policy.Spend(escalationCost)

	return Rationale{
		Outcome:            OutcomeEscalate,
		Component:          "economics",
		Detail:             "escalation EV above threshold",
		GateVerdicts:       verdicts,
		Conflicts:          unresolved,
		EscalatedRequestID: request.RequestID,
	}, nil
}
