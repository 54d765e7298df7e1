// Package flocking implements the three flocking rule checks -- pure
// functions that read a stigmergy.View and task metadata and return text
// constraints an agent's prompt can absorb. Flocking never mutates
// stigmergy state and never calls the bridge facade, per base-spec §9's
// cyclic-reference break: "flocking consumes a read-only view of
// stigmergy and never calls into the bridge."
package flocking

import (
	"fmt"
	"sort"
	"time"

	"github.com/convergent-dev/convergent/internal/model"
	"github.com/convergent-dev/convergent/internal/stigmergy"
)

// Alignment derives style constraints to propagate from pattern_found
// markers on the given files (or any ancestor/descendant directory of
// one, matching stigmergy's own target-intersection rule).
func Alignment(view stigmergy.View, files []string, asOf time.Time) []string {
	constraints := []string{}
	for _, m := range view.Markers(asOf) {
		if m.Type != model.MarkerPatternFound {
			continue
		}
		if !relatesToAny(m.Target, files) {
			continue
		}
		constraints = append(constraints, fmt.Sprintf("style: %s (observed on %s)", m.Content, m.Target))
	}
	sort.Strings(constraints)
	return constraints
}

// CohesionResult is the outcome of a Cohesion check.
type CohesionResult struct {
	Similarity float64
	Drifted    bool
}

// Cohesion compares a task's original description against an agent's
// current working summary via Jaccard token overlap; similarity below
// threshold is flagged as drift.
func Cohesion(taskDescription, workingSummary string, threshold float64) CohesionResult {
	sim := jaccard(tokenize(taskDescription), tokenize(workingSummary))
	return CohesionResult{Similarity: sim, Drifted: sim < threshold}
}

// Separation reports current write contention on an agent's planned
// file set, derived from file_modified markers left by other agents
// within the lookback window.
func Separation(view stigmergy.View, agentID string, plannedFiles []string, asOf time.Time, lookback time.Duration) []string {
	var reports []string
	for _, m := range view.Markers(asOf) {
		if m.Type != model.MarkerFileModified {
			continue
		}
		if m.AgentID == agentID {
			continue
		}
		if asOf.Sub(m.CreatedAt) > lookback {
			continue
		}
		if !relatesToAny(m.Target, plannedFiles) {
			continue
		}
		reports = append(reports, fmt.Sprintf("contention: %s recently touched by %s", m.Target, m.AgentID))
	}
	sort.Strings(reports)
	return reports
}

func relatesToAny(target string, paths []string) bool {
	for _, p := range paths {
		if target == p {
			return true
		}
		if len(p) > len(target) && p[:len(target)+1] == target+"/" {
			return true
		}
		if len(target) > len(p) && target[:len(p)+1] == p+"/" {
			return true
		}
	}
	return false
}
