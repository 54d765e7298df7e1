package flocking

import "strings"

// stopwords is the small, implementation-defined stopword list the base
// spec leaves unspecified for cohesion's text comparison.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "to": true, "in": true,
	"on": true, "for": true, "and": true, "or": true, "is": true, "are": true,
	"with": true, "by": true, "at": true, "be": true, "it": true, "this": true,
	"that": true, "as": true, "was": true, "were": true, "will": true,
}

// tokenize lowercases text, keeps only alphanumeric runs as tokens, and
// drops stopwords -- the simple tokenizer base-spec §9 calls out as
// implementation-defined for Cohesion's Jaccard comparison.
func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	var b strings.Builder
	flush := func() {
		if b.Len() == 0 {
			return
		}
		tok := b.String()
		b.Reset()
		if !stopwords[tok] {
			tokens[tok] = true
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// jaccard computes the Jaccard similarity between two token sets: 1.0
// when both are empty (vacuously identical), 0.0 when exactly one is
// empty.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	intersection := 0
	for tok := range a {
		if b[tok] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
