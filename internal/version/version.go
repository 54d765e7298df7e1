// Package version implements the VersionedGraph: a DAG of immutable
// snapshots, named branch refs, deterministic merge, and replay.
// Grounded on the base contract's §4.6 merge rule — generalized from
// the teacher's run-lineage (traces rooted in runs, referenced by
// run_id) into an explicit snapshot/branch/merge graph, since the
// teacher has no analogous branching concept of its own.
package version

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/convergent-dev/convergent/internal/canon"
	"github.com/convergent-dev/convergent/internal/classify"
	"github.com/convergent-dev/convergent/internal/match"
	"github.com/convergent-dev/convergent/internal/model"
	"github.com/convergent-dev/convergent/internal/stability"
)

// IntentStore is the minimal read access version needs from the intent
// graph: fetch an intent by id. Kept narrow so this package doesn't
// depend on graph's backend selection.
type IntentStore interface {
	Get(ctx context.Context, intentID string) (model.Intent, error)
}

// MergeResult is the outcome of one merge attempt.
type MergeResult struct {
	Snapshot  *model.Snapshot // nil when the merge aborted
	Aborted   bool
	Reason    string
	Conflicts []model.Conflict // unresolved conflicts returned to the caller (governor) for resolution
}

// VersionedGraph maintains the snapshot DAG and branch refs over an
// IntentStore, using the matcher and stability scorer to classify
// conflicts during merge.
type VersionedGraph struct {
	store     IntentStore
	matcher   *match.Matcher
	decayRate float64
	weights   stability.WeightTable

	snapshots map[string]model.Snapshot
	branches  map[string]model.Branch
	log       []model.MergeRecord
}

// New builds an empty VersionedGraph rooted at a genesis snapshot (no
// intents, no parents).
func New(store IntentStore, matcher *match.Matcher, decayRate float64, weights stability.WeightTable) *VersionedGraph {
	genesis := model.Snapshot{SnapshotID: canon.HashSequence(nil), CreatedAt: time.Time{}}
	vg := &VersionedGraph{
		store:     store,
		matcher:   matcher,
		decayRate: decayRate,
		weights:   weights,
		snapshots: map[string]model.Snapshot{genesis.SnapshotID: genesis},
		branches:  map[string]model.Branch{"main": {Name: "main", SnapshotID: genesis.SnapshotID}},
	}
	return vg
}

// Genesis returns the empty root snapshot's id.
func (vg *VersionedGraph) Genesis() string {
	return canon.HashSequence(nil)
}

// Snapshot seals a new immutable snapshot from an explicit intent-id
// set and parent list. Sealing is the caller's responsibility to call
// after publishing intents into the underlying store — VersionedGraph
// itself never mutates the store.
func (vg *VersionedGraph) Snapshot(intentIDs []string, parents ...string) model.Snapshot {
	ordered := make([]string, len(intentIDs))
	copy(ordered, intentIDs)
	snap := model.Snapshot{
		SnapshotID: canon.HashSequence(ordered),
		Parents:    parents,
		IntentIDs:  ordered,
		CreatedAt:  time.Now(),
	}
	vg.snapshots[snap.SnapshotID] = snap
	return snap
}

// Branch creates or repoints a named ref at an existing snapshot.
func (vg *VersionedGraph) Branch(name, snapshotID string) (model.Branch, error) {
	if _, ok := vg.snapshots[snapshotID]; !ok {
		return model.Branch{}, fmt.Errorf("version: unknown snapshot %q", snapshotID)
	}
	b := model.Branch{Name: name, SnapshotID: snapshotID}
	vg.branches[name] = b
	return b, nil
}

// Branches lists every named ref currently registered, for a caller
// (e.g. a CLI) that wants to render the whole branch set rather than
// look one up by name.
func (vg *VersionedGraph) Branches() []model.Branch {
	out := make([]model.Branch, 0, len(vg.branches))
	for _, b := range vg.branches {
		out = append(out, b)
	}
	return out
}

// BranchHead returns the snapshot a named branch currently points at.
func (vg *VersionedGraph) BranchHead(name string) (model.Snapshot, error) {
	b, ok := vg.branches[name]
	if !ok {
		return model.Snapshot{}, fmt.Errorf("version: unknown branch %q", name)
	}
	return vg.snapshots[b.SnapshotID], nil
}

// GetSnapshot looks up a sealed snapshot by id.
func (vg *VersionedGraph) GetSnapshot(snapshotID string) (model.Snapshot, error) {
	snap, ok := vg.snapshots[snapshotID]
	if !ok {
		return model.Snapshot{}, fmt.Errorf("version: unknown snapshot %q: %w", snapshotID, model.ErrNotFound)
	}
	return snap, nil
}

// Merge produces a new snapshot from base and incoming, per §4.6: every
// intent in incoming not already in base is included if it is
// conflict-free with base or its classification is SOFT or NONE.
// STRUCTURAL/SEMANTIC/AMBIGUOUS/HUMAN_ESCALATION conflicts are returned
// unresolved for the governor; any HARD_CONSTRAINT conflict aborts the
// whole merge.
func (vg *VersionedGraph) Merge(ctx context.Context, baseID, incomingID string, asOf time.Time) (MergeResult, error) {
	base, err := vg.GetSnapshot(baseID)
	if err != nil {
		return MergeResult{}, err
	}
	incoming, err := vg.GetSnapshot(incomingID)
	if err != nil {
		return MergeResult{}, err
	}

	baseSet := make(map[string]struct{}, len(base.IntentIDs))
	for _, id := range base.IntentIDs {
		baseSet[id] = struct{}{}
	}

	baseIntents, err := vg.fetchAll(ctx, base.IntentIDs)
	if err != nil {
		return MergeResult{}, err
	}

	var newIDs []string
	var conflicts []model.Conflict
	for _, id := range incoming.IntentIDs {
		if _, ok := baseSet[id]; ok {
			continue // already present in base
		}
		incomingIntent, err := vg.store.Get(ctx, id)
		if err != nil {
			return MergeResult{}, err
		}

		classified, err := vg.classifyAgainst(ctx, incomingIntent, baseIntents, asOf)
		if err != nil {
			return MergeResult{}, err
		}

		for _, c := range classified {
			if c.Class == model.ConflictHardConstraint {
				return MergeResult{Aborted: true, Reason: fmt.Sprintf("hard constraint violated by intent %q", id), Conflicts: []model.Conflict{c}}, nil
			}
		}

		unresolved := false
		for _, c := range classified {
			switch c.Class {
			case model.ConflictStructural, model.ConflictSemantic, model.ConflictAmbiguous, model.ConflictHumanEscalation:
				conflicts = append(conflicts, c)
				unresolved = true
			}
		}
		if unresolved {
			continue
		}
		newIDs = append(newIDs, id)
	}

	mergedIDs := append(append([]string{}, base.IntentIDs...), newIDs...)
	sort.Strings(mergedIDs)
	result := vg.Snapshot(mergedIDs, base.SnapshotID, incoming.SnapshotID)

	vg.log = append(vg.log, model.MergeRecord{
		BaseSnapshot:     base.SnapshotID,
		IncomingSnapshot: incoming.SnapshotID,
		ResultSnapshot:   result.SnapshotID,
		AppliedIntentIDs: newIDs,
		At:               asOf,
	})

	return MergeResult{Snapshot: &result, Conflicts: conflicts}, nil
}

// ReplayLog returns the ordered merge history recorded so far.
func (vg *VersionedGraph) ReplayLog() []model.MergeRecord {
	out := make([]model.MergeRecord, len(vg.log))
	copy(out, vg.log)
	return out
}

// Replay reconstructs the final snapshot by re-running every recorded
// merge in order against a fresh VersionedGraph sharing the same
// IntentStore and policy parameters. Per the determinism contract, the
// same inputs must reproduce the output byte-for-byte; a mismatch
// against the recorded ResultSnapshot at any step aborts with
// model.ErrReplayDivergence identifying the first differing snapshot.
func Replay(ctx context.Context, store IntentStore, matcher *match.Matcher, decayRate float64, weights stability.WeightTable, log []model.MergeRecord) (*VersionedGraph, error) {
	vg := New(store, matcher, decayRate, weights)
	for i, rec := range log {
		result, err := vg.Merge(ctx, rec.BaseSnapshot, rec.IncomingSnapshot, rec.At)
		if err != nil {
			return nil, fmt.Errorf("version: replay step %d: %w", i, err)
		}
		if result.Aborted || result.Snapshot == nil {
			return nil, fmt.Errorf("%w: replay step %d aborted: %s", model.ErrReplayDivergence, i, result.Reason)
		}
		if result.Snapshot.SnapshotID != rec.ResultSnapshot {
			return nil, fmt.Errorf("%w: replay step %d produced %q, recorded %q", model.ErrReplayDivergence, i, result.Snapshot.SnapshotID, rec.ResultSnapshot)
		}
	}
	return vg, nil
}

func (vg *VersionedGraph) fetchAll(ctx context.Context, ids []string) ([]model.Intent, error) {
	out := make([]model.Intent, 0, len(ids))
	for _, id := range ids {
		intent, err := vg.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, intent)
	}
	return out, nil
}

// classifyAgainst classifies a candidate intent against every intent
// already in base, returning one Conflict per overlapping pair.
func (vg *VersionedGraph) classifyAgainst(ctx context.Context, candidate model.Intent, base []model.Intent, asOf time.Time) ([]model.Conflict, error) {
	var conflicts []model.Conflict
	for _, other := range base {
		reasons, related, err := vg.overlaps(ctx, candidate, other)
		if err != nil {
			return nil, err
		}
		if len(reasons) == 0 && !related {
			continue // no structural overlap at all: not a conflict candidate
		}
		stabilityCandidate := stability.Score(candidate.Evidence, asOf, vg.decayRate, vg.weights)
		stabilityOther := stability.Score(other.Evidence, asOf, vg.decayRate, vg.weights)
		result := classify.Classify(classify.Input{
			A:             candidate,
			B:             other,
			Related:       related,
			MatchReasons:  reasons,
			StabilityA:    stabilityCandidate,
			StabilityB:    stabilityOther,
			HardViolation: hardConstraintBetween(candidate, other),
		})
		if result.Class != model.ConflictNone {
			conflicts = append(conflicts, result)
		}
	}
	return conflicts, nil
}

func (vg *VersionedGraph) overlaps(ctx context.Context, a, b model.Intent) ([]string, bool, error) {
	var reasons []string
	related := false
	for _, ia := range a.Interfaces {
		for _, ib := range b.Interfaces {
			result, err := vg.matcher.Compare(ctx, ia, ib)
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

func hardConstraintBetween(a, b model.Intent) bool {
	for _, c := range a.Constraints {
		if c.IsHard() && scopeOverlaps(c.Scope, b.FilesAffected) {
			return true
		}
	}
	for _, c := range b.Constraints {
		if c.IsHard() && scopeOverlaps(c.Scope, a.FilesAffected) {
			return true
		}
	}
	return false
}

func scopeOverlaps(scope, files []string) bool {
	for _, s := range scope {
		for _, f := range files {
			if s == f {
				return true
			}
		}
	}
	return false
}
