package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/convergent-dev/convergent/internal/canon"
	"github.com/convergent-dev/convergent/internal/model"
)

// MemoryBackend is the fast, per-process Backend: an append-only log
// guarded by a single mutex. Reads take a snapshot of the log under the
// lock, the consistent-read guarantee the base contract requires.
type MemoryBackend struct {
	mu     sync.RWMutex
	order  []string // publish order, for SnapshotID and tie-breaking
	byID   map[string]model.Intent
	closed bool
}

// NewMemoryBackend constructs an empty in-memory intent graph.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{byID: make(map[string]model.Intent)}
}

func (m *MemoryBackend) Publish(ctx context.Context, intent model.Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}

	existing, ok := m.byID[intent.IntentID]
	if !ok {
		m.byID[intent.IntentID] = intent
		m.order = append(m.order, intent.IntentID)
		return nil
	}
	if existing.SameContent(intent) {
		return nil // idempotent re-publish
	}
	return fmt.Errorf("%w: intent %q already exists with different content", model.ErrDuplicateIntent, intent.IntentID)
}

func (m *MemoryBackend) Get(ctx context.Context, intentID string) (model.Intent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	intent, ok := m.byID[intentID]
	if !ok {
		return model.Intent{}, wrapNotFound(intentID)
	}
	return intent, nil
}

func (m *MemoryBackend) ListByAgent(ctx context.Context, agentID string) ([]model.Intent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Intent
	for _, id := range m.order {
		intent := m.byID[id]
		if intent.AgentID == agentID {
			out = append(out, intent)
		}
	}
	return out, nil
}

func (m *MemoryBackend) All(ctx context.Context) ([]model.Intent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Intent, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.byID[id])
	}
	return out, nil
}

func (m *MemoryBackend) AppendEvidence(ctx context.Context, intentID string, evidence model.Evidence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.byID[intentID]
	if !ok {
		return wrapNotFound(intentID)
	}
	intent.Evidence = append(intent.Evidence, evidence)
	m.byID[intentID] = intent
	return nil
}

// SnapshotID hashes the publish-ordered intent-id sequence, satisfying
// the base contract's requirement that a snapshot id be deterministic
// and monotonic as a content hash of that sequence.
func (m *MemoryBackend) SnapshotID(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ordered := make([]string, len(m.order))
	copy(ordered, m.order)
	return canon.HashSequence(ordered), nil
}

func (m *MemoryBackend) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
