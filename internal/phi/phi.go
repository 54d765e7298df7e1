// Package phi implements the Bayesian-smoothed trust scorer: per
// (agent_id, skill_domain), a score clamped to a configured [min, max]
// range that converges from a neutral prior as task outcomes accumulate
// and fades old outcomes by
// exponential recency weight. Grounded on the teacher's agent-state
// rollups (internal/storage agent_current_state materialized view) and
// conflicts/scorer.go's decay-weighted aggregation, generalized from a
// single confidence rollup into the two-parameter Bayesian-smoothing
// formula the base spec requires.
package phi

import (
	"math"
	"sync"
	"time"

	"github.com/convergent-dev/convergent/internal/model"
)

const (
	// neutralPrior (π) is the score a brand-new (agent, domain) pair
	// starts at before any outcomes are recorded.
	neutralPrior = 0.5
	// priorWeight (p) is the Bayesian smoothing strength: how many
	// "virtual" neutral outcomes the prior counts as.
	priorWeight = 2.0
)

// Key identifies one (agent, domain) pair the scorer tracks
// independently.
type Key struct {
	AgentID string
	Domain  string
}

// Store persists task outcomes and the cached phi score derived from
// them. Recomputation is idempotent: calling Recompute twice without a
// new outcome yields the same score.
type Store struct {
	mu       sync.RWMutex
	decay    float64
	minScore float64
	maxScore float64
	outcomes map[Key][]model.TaskOutcome
	cached   map[Key]model.PhiScore
}

// NewStore builds an empty Store with decay rate lambda, clamping every
// computed score to [minScore, maxScore].
func NewStore(decayRate, minScore, maxScore float64) *Store {
	return &Store{
		decay:    decayRate,
		minScore: minScore,
		maxScore: maxScore,
		outcomes: make(map[Key][]model.TaskOutcome),
		cached:   make(map[Key]model.PhiScore),
	}
}

// RecordOutcome appends a task outcome and recomputes that pair's
// cached score.
func (s *Store) RecordOutcome(outcome model.TaskOutcome) model.PhiScore {
	key := Key{AgentID: outcome.AgentID, Domain: outcome.Domain}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[key] = append(s.outcomes[key], outcome)
	return s.recomputeLocked(key, outcome.At)
}

// Score returns the cached phi score for (agentID, domain), or the
// neutral prior if no outcomes have been recorded yet.
func (s *Store) Score(agentID, domain string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cached, ok := s.cached[Key{AgentID: agentID, Domain: domain}]; ok {
		return cached.Phi
	}
	return neutralPrior
}

// Recompute forces recomputation of a pair's score as of asOf, without
// requiring a new outcome. Idempotent: repeated calls at the same asOf
// with no new outcomes return the same value.
func (s *Store) Recompute(agentID, domain string, asOf time.Time) model.PhiScore {
	key := Key{AgentID: agentID, Domain: domain}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recomputeLocked(key, asOf)
}

func (s *Store) recomputeLocked(key Key, asOf time.Time) model.PhiScore {
	outcomes := s.outcomes[key]

	var weightedApprovals, totalWeight float64
	for _, o := range outcomes {
		ageDays := asOf.Sub(o.At).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		w := math.Exp(-s.decay * ageDays)
		totalWeight += w
		if o.Approved {
			weightedApprovals += w
		}
	}

	phiValue := (weightedApprovals + priorWeight*neutralPrior) / (totalWeight + priorWeight)
	phiValue = clamp(phiValue, s.minScore, s.maxScore)

	score := model.PhiScore{AgentID: key.AgentID, Domain: key.Domain, Phi: phiValue, RecomputedAt: asOf}
	s.cached[key] = score
	return score
}

// Keys lists every (agent, domain) pair with at least one recorded
// outcome, for callers that periodically recompute every cached score
// rather than waiting for the next RecordOutcome to refresh it.
func (s *Store) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]Key, 0, len(s.outcomes))
	for k := range s.outcomes {
		keys = append(keys, k)
	}
	return keys
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
