package model

// ConflictClass is the classification assigned to a disagreement
// between two overlapping intents. Classification is a pure function of
// the two intents, the match result, and the current scorer state.
type ConflictClass string

const (
	ConflictNone            ConflictClass = "NONE"
	ConflictSoft            ConflictClass = "SOFT"
	ConflictAmbiguous       ConflictClass = "AMBIGUOUS"
	ConflictStructural      ConflictClass = "STRUCTURAL"
	ConflictSemantic        ConflictClass = "SEMANTIC"
	ConflictHardConstraint  ConflictClass = "HARD_CONSTRAINT"
	ConflictHumanEscalation ConflictClass = "HUMAN_ESCALATION"
)

// Conflict carries a classified disagreement between two intents,
// including which side (if any) the classification favors. Conflicts
// are returned as values, never raised as errors.
type Conflict struct {
	A          Intent        `json:"a"`
	B          Intent        `json:"b"`
	Class      ConflictClass `json:"class"`
	FavorsA    bool          `json:"favors_a"`
	Reason     string        `json:"reason"`
	StabilityA float64       `json:"stability_a"`
	StabilityB float64       `json:"stability_b"`
}

// Winner returns the intent the conflict resolves in favor of, when the
// classification is SOFT. Callers should only rely on this when
// Class == ConflictSoft.
func (c Conflict) Winner() Intent {
	if c.FavorsA {
		return c.A
	}
	return c.B
}
