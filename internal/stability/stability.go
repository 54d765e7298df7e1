// Package stability implements the evidence-weighted stability scorer:
// a pure function of an evidence list and a point in time, monotone in
// additional evidence and strictly decreasing in age absent
// reinforcement. Grounded on internal/conflicts/scorer.go's
// decayLambda-weighted significance in the teacher repo, generalized
// from a single scalar significance value to a full per-kind weight
// table plus per-evidence timestamps.
package stability

import (
	"math"
	"time"

	"github.com/convergent-dev/convergent/internal/model"
)

// WeightTable gives the base weight Convergent assigns to evidence when
// the caller doesn't supply an explicit Evidence.Weight override
// (Weight == 0 is the sentinel for "use the bracket default"; an
// explicit non-zero Weight always wins). Values sit at the midpoint of
// the bracket named in the base spec, per Open Question 1 — exposed as
// a struct so an embedder can retune brackets without forking the
// package.
type WeightTable struct {
	Speculative float64
	Committed   float64
	Tested      float64
	Consumed    float64
}

// DefaultWeights is the bracket-midpoint table used unless the caller
// supplies its own.
var DefaultWeights = WeightTable{
	Speculative: 0.20,
	Committed:   0.60,
	Tested:      0.775,
	Consumed:    0.925,
}

func (w WeightTable) baseWeight(kind model.EvidenceKind) float64 {
	switch kind {
	case model.EvidenceSpeculative:
		return w.Speculative
	case model.EvidenceCommitted:
		return w.Committed
	case model.EvidenceTested:
		return w.Tested
	case model.EvidenceConsumed:
		return w.Consumed
	default:
		// EvidenceManual has no table entry — the operator-supplied
		// Weight is mandatory for manual evidence.
		return 0
	}
}

// effectiveWeight resolves the weight used for one piece of evidence:
// an explicit non-zero Weight always wins (this is how manual evidence,
// and any caller override, is expressed); otherwise the kind's bracket
// midpoint from the table applies.
func effectiveWeight(e model.Evidence, table WeightTable) float64 {
	if e.Weight != 0 {
		return e.Weight
	}
	return table.baseWeight(e.Kind)
}

// Score computes Σ w_i · e^(-λ · age_days_i), clamped to [0, 1]. asOf is
// the point in time to score against (never time.Now() internally, so
// callers can test decay deterministically). lambda is the decay rate;
// an empty evidence list scores exactly 0 per the boundary behavior in
// the testable properties.
func Score(evidence []model.Evidence, asOf time.Time, lambda float64, table WeightTable) float64 {
	var sum float64
	for _, e := range evidence {
		ageDays := asOf.Sub(e.Timestamp).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		w := effectiveWeight(e, table)
		sum += w * math.Exp(-lambda*ageDays)
	}
	return clamp(sum, 0, 1)
}

// ScoreDefault scores with DefaultWeights, the common case.
func ScoreDefault(evidence []model.Evidence, asOf time.Time, lambda float64) float64 {
	return Score(evidence, asOf, lambda, DefaultWeights)
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
