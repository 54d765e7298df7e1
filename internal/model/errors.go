// Package model defines the protocol entities shared by every Convergent
// component: intents, evidence, constraints, snapshots, votes, markers,
// and signals. Types here carry no persistence or scoring logic — they
// are the nouns other packages operate on.
package model

import "errors"

// Sentinel errors forming the taxonomy in the error handling design.
// Callers use errors.Is to classify a failure; wrapped context is added
// with fmt.Errorf("...: %w", ...) at the call site.
var (
	// ErrValidation covers malformed intents, missing required fields,
	// and enum values out of range.
	ErrValidation = errors.New("convergent: validation error")

	// ErrDuplicateIntent is returned when intent_id is reused with
	// content that differs from what was already published.
	ErrDuplicateIntent = errors.New("convergent: duplicate intent id with differing content")

	// ErrConflictUnresolved marks a conflict that cannot be classified
	// or auto-resolved without escalation. The governor reports such
	// conflicts in its Rationale rather than returning this error.
	ErrConflictUnresolved = errors.New("convergent: conflict unresolved")

	// ErrConstraintViolation is returned when a hard constraint fails
	// via a gate verdict.
	ErrConstraintViolation = errors.New("convergent: hard constraint violation")

	// ErrGateFailure wraps a gate that exited non-zero or timed out.
	ErrGateFailure = errors.New("convergent: gate failure")

	// ErrReplayDivergence is returned when a recomputed snapshot
	// differs from the one recorded in the replay log.
	ErrReplayDivergence = errors.New("convergent: replay divergence")

	// ErrBackendUnavailable is returned when a persistent store is
	// unreachable or corrupt.
	ErrBackendUnavailable = errors.New("convergent: backend unavailable")

	// ErrTimeout is returned when an operation exceeds its configured
	// deadline.
	ErrTimeout = errors.New("convergent: timeout")

	// ErrBudgetExceeded is returned when the economics layer refuses
	// further escalation spend.
	ErrBudgetExceeded = errors.New("convergent: budget exceeded")

	// ErrNotFound is returned when a lookup by id finds nothing. Not
	// part of the base-spec taxonomy but needed for Get/branch lookups;
	// kept distinct from ErrValidation since it isn't caller error.
	ErrNotFound = errors.New("convergent: not found")
)
