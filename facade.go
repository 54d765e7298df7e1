package convergent

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/convergent-dev/convergent/internal/flocking"
	"github.com/convergent-dev/convergent/internal/gate"
	"github.com/convergent-dev/convergent/internal/governor"
	"github.com/convergent-dev/convergent/internal/graph"
	"github.com/convergent-dev/convergent/internal/model"
	"github.com/convergent-dev/convergent/internal/telemetry"
	"github.com/convergent-dev/convergent/internal/version"
)

// ErrVotingDisabled is returned by the consensus-voting facade methods
// when the Engine was built with WithVotingDisabled.
var ErrVotingDisabled = errors.New("convergent: voting is disabled")

// defaultSeparationLookback bounds how far back EnrichPrompt looks for
// write-contention markers when the caller doesn't need finer control;
// callers that do should call flocking.Separation directly.
const defaultSeparationLookback = 24 * time.Hour

// ── Intent graph ────────────────────────────────────────────────────

// PublishIntent stores a new intent. Republishing an existing
// IntentID with identical content is a no-op; differing content fails
// with model.ErrDuplicateIntent.
func (e *Engine) PublishIntent(ctx context.Context, intent model.Intent) error {
	ctx, span := telemetry.GetTracer(telemetry.Tracer).Start(ctx, "PublishIntent")
	defer span.End()
	return e.intentGraph.Publish(ctx, intent)
}

// GetIntent retrieves a single intent by id.
func (e *Engine) GetIntent(ctx context.Context, intentID string) (model.Intent, error) {
	return e.intentGraph.Get(ctx, intentID)
}

// ListIntentsByAgent retrieves every intent published by one agent.
func (e *Engine) ListIntentsByAgent(ctx context.Context, agentID string) ([]model.Intent, error) {
	return e.intentGraph.ListByAgent(ctx, agentID)
}

// AppendEvidence attaches new evidence to an existing intent.
func (e *Engine) AppendEvidence(ctx context.Context, intentID string, evidence model.Evidence) error {
	return e.intentGraph.AppendEvidence(ctx, intentID, evidence)
}

// ListIntents returns every intent currently in the graph — the read
// method a CLI or dashboard would call to render the whole intent set.
func (e *Engine) ListIntents(ctx context.Context) ([]model.Intent, error) {
	return e.backend.All(ctx)
}

// Overlaps returns every other intent whose interfaces overlap the
// given intent's, and why.
func (e *Engine) Overlaps(ctx context.Context, intentID string) ([]graph.OverlapResult, error) {
	intent, err := e.intentGraph.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	return e.intentGraph.FindOverlapping(ctx, intent)
}

// FindConflicting classifies every conflict between the given intent
// and the rest of the graph, as of now.
func (e *Engine) FindConflicting(ctx context.Context, intentID string) ([]model.Conflict, error) {
	intent, err := e.intentGraph.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	return e.intentGraph.FindConflicting(ctx, intent, time.Now())
}

// DetectCycles reports dependency cycles among published intents, where
// an edge A -> B means A.Requires names something B.Provides — the
// "no import cycles in scope S" constraint base-spec's Constraint model
// names as an example. Each returned cycle lists intent ids in
// traversal order, first id repeated last.
func (e *Engine) DetectCycles(ctx context.Context) ([][]string, error) {
	intents, err := e.ListIntents(ctx)
	if err != nil {
		return nil, err
	}
	return detectCycles(intents), nil
}

// ── Versioning & replay ─────────────────────────────────────────────

// Genesis returns the empty root snapshot's id.
func (e *Engine) Genesis() string {
	return e.versionGraph.Genesis()
}

// Snapshot seals a new immutable snapshot from an explicit intent-id
// set and parent list.
func (e *Engine) Snapshot(intentIDs []string, parents ...string) model.Snapshot {
	return e.versionGraph.Snapshot(intentIDs, parents...)
}

// Branch creates or repoints a named ref at an existing snapshot.
func (e *Engine) Branch(name, snapshotID string) (model.Branch, error) {
	return e.versionGraph.Branch(name, snapshotID)
}

// BranchHead returns the snapshot a named branch currently points at.
func (e *Engine) BranchHead(name string) (model.Snapshot, error) {
	return e.versionGraph.BranchHead(name)
}

// Branches lists every named branch — the read method a CLI would call
// to render the whole branch set.
func (e *Engine) Branches() []model.Branch {
	return e.versionGraph.Branches()
}

// Merge merges incoming into base per base-spec §4.6's rule, returning
// unresolved conflicts for the caller (typically EvaluateProposal) to
// resolve.
func (e *Engine) Merge(ctx context.Context, baseSnapshot, incomingSnapshot string) (version.MergeResult, error) {
	ctx, span := telemetry.GetTracer(telemetry.Tracer).Start(ctx, "Merge")
	defer span.End()
	return e.versionGraph.Merge(ctx, baseSnapshot, incomingSnapshot, time.Now())
}

// EventLog returns the ordered merge history recorded so far — the
// append-only black-box recorder a CLI's event viewer would read.
func (e *Engine) EventLog() []model.MergeRecord {
	return e.versionGraph.ReplayLog()
}

// ── Three-layer governor ────────────────────────────────────────────

// ConstraintChecks builds governor.ConstraintCheck values for the given
// constraints, paired with whichever gate was registered for each
// constraint's Subject via WithConstraintGate. A constraint with no
// registered gate is omitted — the governor only rejects on constraints
// it has a way to actually verify.
func (e *Engine) ConstraintChecks(constraints []model.Constraint, scope string) []governor.ConstraintCheck {
	var checks []governor.ConstraintCheck
	for _, c := range constraints {
		g, ok := e.gates[c.Subject]
		if !ok {
			continue
		}
		checks = append(checks, governor.ConstraintCheck{Constraint: c, Gate: g, Scope: scope})
	}
	return checks
}

// EvaluateProposal runs the three-layer governor pipeline over a
// proposal's constraints and conflicts. When voting is disabled, any
// conflict the economics layer would otherwise escalate instead
// resolves to governor.OutcomeBlock — see WithVotingDisabled.
func (e *Engine) EvaluateProposal(ctx context.Context, proposal governor.Proposal) (governor.Rationale, error) {
	ctx, span := telemetry.GetTracer(telemetry.Tracer).Start(ctx, "EvaluateProposal")
	defer span.End()
	return e.gov.Evaluate(ctx, proposal)
}

// RegisterGate is a convenience wrapper for WithConstraintGate that
// registers a gate after construction, e.g. once a freshly-built
// gate.CommandGate is available.
func (e *Engine) RegisterGate(subject string, g gate.Gate) {
	e.gates[subject] = g
}

// ── Triumvirate (consensus voting) ──────────────────────────────────

// RequestConsensus opens a new ConsensusRequest for voting under this
// Engine's domain. A request with no Quorum or no Timeout gets the
// configured DefaultQuorum or VoteTimeout. Returns ErrVotingDisabled if
// the Engine was built with WithVotingDisabled.
func (e *Engine) RequestConsensus(request model.ConsensusRequest) error {
	if e.vote == nil {
		return ErrVotingDisabled
	}
	if request.Quorum == "" {
		request.Quorum = model.Quorum(e.cfg.DefaultQuorum)
	}
	if request.Timeout == 0 {
		request.Timeout = e.cfg.VoteTimeout
	}
	return e.vote.Open(request, e.domain)
}

// SubmitVote records one agent's vote. Returns ErrVotingDisabled if
// voting is off.
func (e *Engine) SubmitVote(ctx context.Context, vote model.Vote) error {
	if e.vote == nil {
		return ErrVotingDisabled
	}
	return e.vote.SubmitVote(ctx, vote)
}

// ConfirmHuman marks a request as human-confirmed, required before
// UNANIMOUS_HUMAN can resolve as approved.
func (e *Engine) ConfirmHuman(requestID string) error {
	if e.vote == nil {
		return ErrVotingDisabled
	}
	return e.vote.ConfirmHuman(requestID)
}

// Evaluate computes a ConsensusRequest's current outcome. Cached after
// a decision is final: repeated calls return the same Decision.
func (e *Engine) Evaluate(requestID string) (model.Decision, error) {
	if e.vote == nil {
		return model.Decision{}, ErrVotingDisabled
	}
	return e.vote.Evaluate(requestID, time.Now())
}

// VotesFor returns the ballots submitted so far for a request — a
// read-only vote-history query.
func (e *Engine) VotesFor(requestID string) ([]model.Vote, error) {
	if e.vote == nil {
		return nil, ErrVotingDisabled
	}
	return e.vote.Votes(requestID)
}

// ConsensusRequestIDs lists every request this Engine has ever opened —
// a read-only decision-history query.
func (e *Engine) ConsensusRequestIDs() []string {
	if e.vote == nil {
		return nil
	}
	return e.vote.RequestIDs()
}

// DefaultQuorum returns the configured default quorum rule, for callers
// building a ConsensusRequest that doesn't specify its own.
func (e *Engine) DefaultQuorum() model.Quorum {
	return model.Quorum(e.cfg.DefaultQuorum)
}

// DefaultVoteTimeout returns the configured default consensus timeout.
func (e *Engine) DefaultVoteTimeout() time.Duration {
	return e.cfg.VoteTimeout
}

// ── Phi scorer ──────────────────────────────────────────────────────

// RecordTaskOutcome records a task outcome and recomputes that agent's
// phi score in its domain.
func (e *Engine) RecordTaskOutcome(outcome model.TaskOutcome) model.PhiScore {
	return e.phi.RecordOutcome(outcome)
}

// PhiScore returns an agent's current cached trust score in a domain.
func (e *Engine) PhiScore(agentID, domain string) float64 {
	return e.phi.Score(agentID, domain)
}

// ── Signal bus ──────────────────────────────────────────────────────

// PublishSignal publishes a signal to every subscribed consumer (or, if
// TargetAgent is set, just that one).
func (e *Engine) PublishSignal(ctx context.Context, signal model.Signal) error {
	return e.bus.Publish(ctx, signal)
}

// SubscribeSignals registers consumerID and returns the channel it
// receives signals on.
func (e *Engine) SubscribeSignals(consumerID string) (<-chan model.Signal, error) {
	return e.bus.Subscribe(consumerID)
}

// UnsubscribeSignals deregisters a consumer.
func (e *Engine) UnsubscribeSignals(consumerID string) {
	e.bus.Unsubscribe(consumerID)
}

// ── Stigmergy ───────────────────────────────────────────────────────

// LeaveMarker reinforces (or, for a new marker id, creates) a stigmergy
// marker.
func (e *Engine) LeaveMarker(marker model.StigmergyMarker, delta float64) (model.StigmergyMarker, error) {
	return e.stig.Reinforce(marker, delta, time.Now())
}

// CheckCohesion compares a task's original description against an
// agent's current working summary, flagging drift below threshold.
func (e *Engine) CheckCohesion(taskDescription, workingSummary string, threshold float64) flocking.CohesionResult {
	return flocking.Cohesion(taskDescription, workingSummary, threshold)
}

// PromptEnrichment bundles everything EnrichPrompt derives for an
// agent's upcoming task: relevant stigmergy context as prose, plus the
// flocking coordinator's alignment and separation advisories.
type PromptEnrichment struct {
	StigmergyContext    string
	AlignmentAdvisories []string
	SeparationAdvisories []string
}

// EnrichPrompt composes stigmergy.ContextFor with the flocking
// coordinator's Alignment and Separation checks over the files an agent
// is about to touch. Degrades gracefully: with no markers on file, or
// with voting disabled, or with any other subsystem absent, the result
// is simply empty/sparse rather than an error — base-spec §4.13's
// "EnrichPrompt still works with voting disabled" requirement.
func (e *Engine) EnrichPrompt(agentID string, files []string) PromptEnrichment {
	now := time.Now()
	return PromptEnrichment{
		StigmergyContext:     e.stig.ContextFor(files, now),
		AlignmentAdvisories:  flocking.Alignment(e.stig, files, now),
		SeparationAdvisories: flocking.Separation(e.stig, agentID, files, now, defaultSeparationLookback),
	}
}

// ── helpers ─────────────────────────────────────────────────────────

// detectCycles runs a DFS-based cycle detection over the dependency
// graph implied by Requires/Provides: an edge from intent A to intent B
// exists when some entry of A.Requires equals some entry of B.Provides.
func detectCycles(intents []model.Intent) [][]string {
	provides := make(map[string][]string) // provided name -> intent ids providing it
	for _, in := range intents {
		for _, p := range in.Provides {
			provides[p] = append(provides[p], in.IntentID)
		}
	}

	edges := make(map[string][]string, len(intents))
	for _, in := range intents {
		seen := make(map[string]bool)
		for _, r := range in.Requires {
			for _, providerID := range provides[r] {
				if providerID == in.IntentID || seen[providerID] {
					continue
				}
				seen[providerID] = true
				edges[in.IntentID] = append(edges[in.IntentID], providerID)
			}
		}
		sort.Strings(edges[in.IntentID])
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(intents))
	var cycles [][]string
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		stack = append(stack, id)
		for _, next := range edges[id] {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				cycle := cycleFromStack(stack, next)
				cycles = append(cycles, cycle)
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	ids := make([]string, 0, len(intents))
	for _, in := range intents {
		ids = append(ids, in.IntentID)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if color[id] == white {
			visit(id)
		}
	}
	return cycles
}

func cycleFromStack(stack []string, start string) []string {
	idx := 0
	for i, id := range stack {
		if id == start {
			idx = i
			break
		}
	}
	cycle := append([]string{}, stack[idx:]...)
	cycle = append(cycle, start)
	return cycle
}
