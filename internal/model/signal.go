package model

import (
	"fmt"
	"time"
)

// Signal is an immutable pub/sub message. Delivery to a consumer is
// non-decreasing by Timestamp; Target is empty for a broadcast.
type Signal struct {
	SignalID   string    `json:"signal_id"`
	SignalType string    `json:"signal_type"`
	SourceAgent string   `json:"source_agent"`
	TargetAgent string    `json:"target_agent,omitempty"`
	Payload    []byte    `json:"payload"`
	Timestamp  time.Time `json:"timestamp"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Validate checks the required fields of a signal before publication.
func (s Signal) Validate() error {
	if s.SignalType == "" {
		return fmt.Errorf("%w: signal_type is required", ErrValidation)
	}
	if s.SourceAgent == "" {
		return fmt.Errorf("%w: source_agent is required", ErrValidation)
	}
	return nil
}

// Broadcast reports whether the signal has no specific target.
func (s Signal) Broadcast() bool {
	return s.TargetAgent == ""
}

// Expired reports whether the signal has passed its TTL as of the given
// time.
func (s Signal) Expired(asOf time.Time) bool {
	return s.ExpiresAt != nil && asOf.After(*s.ExpiresAt)
}
