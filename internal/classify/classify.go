// Package classify implements conflict classification: a pure function
// of two overlapping intents and the scorer state that produced their
// stability scores. Grounded on the teacher's internal/conflicts
// (claims.go/validator.go classification flow), generalized from the
// teacher's binary conflict/no-conflict verdict into the full
// classification taxonomy the coordination engine requires.
package classify

import (
	"strings"

	"github.com/convergent-dev/convergent/internal/model"
)

// ambiguityEpsilon is the stability-gap width below which two
// comparably-stable intents are classified AMBIGUOUS rather than SOFT.
const ambiguityEpsilon = 0.05

// Input bundles everything classification needs about one overlapping
// pair. MatchReasons and Related come from the matcher (package match);
// StabilityA/StabilityB come from the stability scorer, evaluated at
// the same asOf instant.
type Input struct {
	A, B          model.Intent
	Related       bool
	MatchReasons  []string
	StabilityA    float64
	StabilityB    float64
	HardViolation bool // true when merging B into A's scope breaks a hard constraint
	Escalated     bool // true when the matcher or a caller explicitly requests human escalation
}

// Classify returns the conflict classification and winner for one
// overlapping pair. It is pure: the same Input always yields the same
// Conflict.
func Classify(in Input) model.Conflict {
	conflict := model.Conflict{
		A:           in.A,
		B:           in.B,
		Reason:      strings.Join(in.MatchReasons, "; "),
		StabilityA:  in.StabilityA,
		StabilityB:  in.StabilityB,
	}

	switch {
	case in.HardViolation:
		conflict.Class = model.ConflictHardConstraint
		conflict.FavorsA = in.StabilityA >= in.StabilityB
	case in.Escalated:
		conflict.Class = model.ConflictHumanEscalation
		conflict.FavorsA = in.StabilityA >= in.StabilityB
	case !in.Related:
		// Interfaces overlapped structurally but the matcher (structural
		// or semantic) ultimately says they aren't the same thing.
		conflict.Class = model.ConflictSemantic
		conflict.FavorsA = in.StabilityA >= in.StabilityB
	case signaturesDisagree(in.A, in.B):
		conflict.Class = model.ConflictStructural
		conflict.FavorsA = in.StabilityA >= in.StabilityB
	case in.StabilityA == in.StabilityB:
		// Exactly equal stability is the compatible case, not the
		// ambiguous one: two intents that have accrued identical
		// evidence-backed confidence and still overlap structurally are
		// not in tension, they're duplicates of the same call. Checked
		// before closeEnough so it isn't shadowed (closeEnough's zero-gap
		// case always matches too).
		conflict.Class = model.ConflictNone
		conflict.FavorsA = true
	case closeEnough(in.StabilityA, in.StabilityB):
		conflict.Class = model.ConflictAmbiguous
		conflict.FavorsA = in.StabilityA >= in.StabilityB
	default:
		conflict.Class = model.ConflictSoft
		conflict.FavorsA = in.StabilityA > in.StabilityB
	}

	return conflict
}

// closeEnough reports whether two stability scores are within
// ambiguityEpsilon of each other.
func closeEnough(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= ambiguityEpsilon
}

// signaturesDisagree reports whether any interface the two intents both
// provide (matched by normalized name and kind) carries an incompatible
// signature. Two interfaces are incompatible when both supply a
// signature and the signatures differ.
func signaturesDisagree(a, b model.Intent) bool {
	byKey := make(map[string]model.InterfaceSpec, len(a.Interfaces))
	for _, spec := range a.Interfaces {
		byKey[string(spec.Kind)+"\x00"+spec.NormalizedName()] = spec
	}
	for _, spec := range b.Interfaces {
		key := string(spec.Kind) + "\x00" + spec.NormalizedName()
		other, ok := byKey[key]
		if !ok {
			continue
		}
		if other.Signature != "" && spec.Signature != "" && other.Signature != spec.Signature {
			return true
		}
	}
	return false
}
