// Package canon implements the canonical textual encoding required by
// the external interfaces spec: field-ordered, human-readable structured
// encoding with exact round-trip on every field, including enum
// spellings, and lowercase booleans/enums.
//
// Grounded on internal/integrity's versioned, length-prefixed canonical
// hash encoding in the teacher repo: canon plays the same "one true
// encoding for hashing and comparison" role, generalized from decision
// rows to every protocol entity and exposed for reuse (snapshot ids,
// replay comparison, signal-bus payloads) instead of being private to
// one hash function.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Encode produces the canonical form of v: JSON with map keys sorted
// (encoding/json already sorts map[string]T keys) and no indentation.
// Struct field order follows declaration order, which callers control by
// how they define their model types — this is what gives the encoding
// its determinism for hashing purposes.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// json.Encoder.Encode appends a trailing newline; trim it so Encode
	// output is stable for hashing and for byte-exact round trip checks.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Hash returns the SHA-256 hex digest of v's canonical encoding, used
// for deterministic snapshot ids and replay-divergence comparison.
func Hash(v any) (string, error) {
	b, err := Encode(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// HashSequence hashes an ordered sequence of opaque ids, used to derive
// a deterministic snapshot id from the ordered intent-id sequence it
// contains.
func HashSequence(ids []string) string {
	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
