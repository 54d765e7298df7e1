// Package graph implements the intent graph: an ordered, queryable,
// append-only store of intents plus a denormalized interface index for
// overlap queries. Three interchangeable backends satisfy the same
// contract — Memory (per-process), SQLite (single shared file,
// write-ahead logging), and Postgres (multi-process native) — grounded
// on the teacher's storage.DB split between a pooled connection and a
// dedicated LISTEN/NOTIFY connection, generalized here to three
// implementations of one Backend interface instead of one
// Postgres-only package.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/convergent-dev/convergent/internal/classify"
	"github.com/convergent-dev/convergent/internal/match"
	"github.com/convergent-dev/convergent/internal/model"
	"github.com/convergent-dev/convergent/internal/stability"
)

// Backend is the storage contract every graph implementation satisfies.
// Publish is idempotent on IntentID: republishing identical content is a
// no-op, republishing with different content under the same IntentID
// fails with model.ErrDuplicateIntent.
type Backend interface {
	Publish(ctx context.Context, intent model.Intent) error
	Get(ctx context.Context, intentID string) (model.Intent, error)
	ListByAgent(ctx context.Context, agentID string) ([]model.Intent, error)
	All(ctx context.Context) ([]model.Intent, error)
	AppendEvidence(ctx context.Context, intentID string, evidence model.Evidence) error
	SnapshotID(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// Graph composes a Backend with the matcher and stability scorer to
// implement the overlap and conflict queries the base contract names:
// find_overlapping and find_conflicting read the backend's current
// consistent snapshot and layer matching/classification on top, rather
// than each backend reimplementing that logic independently.
type Graph struct {
	backend   Backend
	matcher   *match.Matcher
	decayRate float64
	weights   stability.WeightTable
}

// New composes a Graph over a Backend. matcher may be configured with
// or without a semantic hook; decayRate and weights feed the stability
// scorer used to resolve conflict winners.
func New(backend Backend, matcher *match.Matcher, decayRate float64, weights stability.WeightTable) *Graph {
	return &Graph{backend: backend, matcher: matcher, decayRate: decayRate, weights: weights}
}

// Publish stores a new intent. See Backend.Publish for idempotency
// semantics.
func (g *Graph) Publish(ctx context.Context, intent model.Intent) error {
	if err := intent.Validate(); err != nil {
		return err
	}
	return g.backend.Publish(ctx, intent)
}

// Get retrieves a single intent by id.
func (g *Graph) Get(ctx context.Context, intentID string) (model.Intent, error) {
	return g.backend.Get(ctx, intentID)
}

// ListByAgent retrieves every intent published by one agent.
func (g *Graph) ListByAgent(ctx context.Context, agentID string) ([]model.Intent, error) {
	return g.backend.ListByAgent(ctx, agentID)
}

// AppendEvidence attaches new evidence to an existing intent. Evidence
// is the one field append-only rather than fully immutable.
func (g *Graph) AppendEvidence(ctx context.Context, intentID string, evidence model.Evidence) error {
	if err := evidence.Validate(); err != nil {
		return err
	}
	return g.backend.AppendEvidence(ctx, intentID, evidence)
}

// SnapshotID returns the backend's current deterministic, monotonic
// snapshot identifier.
func (g *Graph) SnapshotID(ctx context.Context) (string, error) {
	return g.backend.SnapshotID(ctx)
}

// Close releases the backend's resources.
func (g *Graph) Close(ctx context.Context) error {
	return g.backend.Close(ctx)
}

// OverlapResult is one other intent overlapping the query intent, and
// why.
type OverlapResult struct {
	Other        model.Intent
	MatchReasons []string
}

// FindOverlapping returns every other intent whose interfaces overlap
// the given intent's, in ascending publish order (earlier intents are
// returned first, so callers that tie-break on "earlier wins" can take
// the first match).
func (g *Graph) FindOverlapping(ctx context.Context, intent model.Intent) ([]OverlapResult, error) {
	all, err := g.backend.All(ctx)
	if err != nil {
		return nil, err
	}

	var out []OverlapResult
	for _, other := range all {
		if other.IntentID == intent.IntentID {
			continue
		}
		reasons, related, err := g.overlapsAny(ctx, intent, other)
		if err != nil {
			return nil, err
		}
		if related {
			out = append(out, OverlapResult{Other: other, MatchReasons: reasons})
		}
	}
	return out, nil
}

// FindConflicting returns the classified conflicts between the given
// intent and every overlapping intent already in the graph, scored as
// of the given instant (never time.Now() internally, so callers can
// evaluate deterministically — the same discipline the stability scorer
// enforces with its own explicit asOf parameter).
func (g *Graph) FindConflicting(ctx context.Context, intent model.Intent, asOf time.Time) ([]model.Conflict, error) {
	overlaps, err := g.FindOverlapping(ctx, intent)
	if err != nil {
		return nil, err
	}

	now := asOf
	var conflicts []model.Conflict
	for _, ov := range overlaps {
		stabilityA := stability.Score(intent.Evidence, now, g.decayRate, g.weights)
		stabilityB := stability.Score(ov.Other.Evidence, now, g.decayRate, g.weights)
		result := classify.Classify(classify.Input{
			A:            intent,
			B:            ov.Other,
			Related:      true,
			MatchReasons: ov.MatchReasons,
			StabilityA:   stabilityA,
			StabilityB:   stabilityB,
			HardViolation: hasHardViolation(intent, ov.Other),
		})
		if result.Class != model.ConflictNone {
			conflicts = append(conflicts, result)
		}
	}
	return conflicts, nil
}

// overlapsAny compares every interface pair between two intents and
// returns the union of match reasons plus whether any pair overlaps.
func (g *Graph) overlapsAny(ctx context.Context, a, b model.Intent) ([]string, bool, error) {
	var reasons []string
	related := false
	for _, ia := range a.Interfaces {
		for _, ib := range b.Interfaces {
			result, err := g.matcher.Compare(ctx, ia, ib)
			if err != nil {
				return nil, false, err
			}
			if result.Related {
				related = true
				reasons = append(reasons, result.Reasons...)
			}
		}
	}
	return reasons, related, nil
}

// hasHardViolation reports whether a hard constraint of either intent
// lists in its Scope a file the other intent affects. This is a
// structural pre-check; the authoritative verdict comes from gates (see
// internal/gate) run by the governor's constraints layer.
func hasHardViolation(a, b model.Intent) bool {
	for _, c := range b.Constraints {
		if !c.IsHard() {
			continue
		}
		if constraintAppliesTo(c, a) {
			return true
		}
	}
	for _, c := range a.Constraints {
		if !c.IsHard() {
			continue
		}
		if constraintAppliesTo(c, b) {
			return true
		}
	}
	return false
}

func constraintAppliesTo(c model.Constraint, other model.Intent) bool {
	if len(c.Scope) == 0 {
		return false
	}
	for _, scoped := range c.Scope {
		for _, f := range other.FilesAffected {
			if scoped == f {
				return true
			}
		}
	}
	return false
}

// ErrDuplicateIntent and ErrNotFound are re-exported from model for
// backends that want to construct graph-level errors without importing
// model directly.
var (
	ErrDuplicateIntent = model.ErrDuplicateIntent
	ErrNotFound        = model.ErrNotFound
)

func wrapNotFound(intentID string) error {
	return fmt.Errorf("%w: intent %q", ErrNotFound, intentID)
}

var errClosed = errors.New("graph: backend closed")
