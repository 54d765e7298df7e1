package model

import (
	"fmt"
	"time"
)

// IntentCategory enumerates the kinds of architectural statement an
// intent can make.
type IntentCategory string

const (
	CategoryDecision   IntentCategory = "decision"
	CategoryInterface  IntentCategory = "interface"
	CategoryDependency IntentCategory = "dependency"
	CategoryConstraint IntentCategory = "constraint"
)

func (c IntentCategory) valid() bool {
	switch c {
	case CategoryDecision, CategoryInterface, CategoryDependency, CategoryConstraint:
		return true
	default:
		return false
	}
}

// Intent is a published, immutable record of an architectural decision
// made by one agent. Once stored, every field except Evidence (append
// only) and the derived stability score is frozen.
type Intent struct {
	IntentID       string         `json:"intent_id"`
	AgentID        string         `json:"agent_id"`
	Description    string         `json:"description"`
	Category       IntentCategory `json:"category"`
	Interfaces     []InterfaceSpec `json:"interfaces"`
	Provides       []string       `json:"provides"`
	Requires       []string       `json:"requires"`
	Constraints    []Constraint   `json:"constraints"`
	FilesAffected  []string       `json:"files_affected"`
	Evidence       []Evidence     `json:"evidence"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Validate checks the required fields and enum ranges of an intent
// before it is handed to a graph backend for publication.
func (i Intent) Validate() error {
	if i.IntentID == "" {
		return fmt.Errorf("%w: intent_id is required", ErrValidation)
	}
	if i.AgentID == "" {
		return fmt.Errorf("%w: agent_id is required", ErrValidation)
	}
	if !i.Category.valid() {
		return fmt.Errorf("%w: category %q out of range", ErrValidation, i.Category)
	}
	for _, iface := range i.Interfaces {
		if err := iface.Validate(); err != nil {
			return err
		}
	}
	for _, c := range i.Constraints {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	for _, e := range i.Evidence {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SameContent reports whether two intents are content-equal for the
// purposes of idempotent re-publish. It intentionally ignores Evidence
// (append-only, not part of the identity) since publish only compares
// the immutable fields.
func (i Intent) SameContent(other Intent) bool {
	if i.IntentID != other.IntentID ||
		i.AgentID != other.AgentID ||
		i.Description != other.Description ||
		i.Category != other.Category {
		return false
	}
	if !stringSliceEqual(i.Provides, other.Provides) ||
		!stringSliceEqual(i.Requires, other.Requires) ||
		!stringSliceEqual(i.FilesAffected, other.FilesAffected) {
		return false
	}
	if len(i.Interfaces) != len(other.Interfaces) {
		return false
	}
	for idx, iface := range i.Interfaces {
		if !iface.Equal(other.Interfaces[idx]) {
			return false
		}
	}
	if len(i.Constraints) != len(other.Constraints) {
		return false
	}
	for idx, c := range i.Constraints {
		o := other.Constraints[idx]
		if c.Subject != o.Subject || c.Predicate != o.Predicate || c.Severity != o.Severity ||
			!stringSliceEqual(c.Scope, o.Scope) {
			return false
		}
	}
	return true
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
