// Package stigmergy implements decaying environmental markers: agents
// leave StigmergyMarkers on targets (typically file paths) for other
// agents to discover, reinforce them over repeated observation, and let
// them evaporate when no longer reinforced. Grounded on the teacher's
// internal/conflicts.Scorer decay shape
// (strength' = strength * e^(-kappa*age_days), a floor below which a
// quantity is dropped) applied here to marker strength instead of
// conflict significance.
package stigmergy

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/convergent-dev/convergent/internal/model"
)

// Store holds the live marker set and applies decay/purge sweeps.
type Store struct {
	mu       sync.Mutex
	evap     float64 // kappa, the evaporation rate
	minFloor float64
	markers  map[string]model.StigmergyMarker
}

// NewStore builds an empty Store. evaporationRate is kappa in
// strength' = strength * e^(-kappa*age_days); minStrength is the purge
// floor below which a marker is dropped.
func NewStore(evaporationRate, minStrength float64) *Store {
	return &Store{
		evap:     evaporationRate,
		minFloor: minStrength,
		markers:  make(map[string]model.StigmergyMarker),
	}
}

// Reinforce adds delta to a marker's strength as of now, decaying its
// existing strength for elapsed time first. If the marker id is new, it
// is inserted with strength delta (floored at zero). Returns the
// marker's state after reinforcement.
func (s *Store) Reinforce(marker model.StigmergyMarker, delta float64, now time.Time) (model.StigmergyMarker, error) {
	if err := marker.Validate(); err != nil {
		return model.StigmergyMarker{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.markers[marker.MarkerID]
	if !ok {
		marker.Strength = math.Max(0, delta)
		if marker.CreatedAt.IsZero() {
			marker.CreatedAt = now
		}
		s.markers[marker.MarkerID] = marker
		return marker, nil
	}

	decayed := decayedStrength(existing.Strength, s.evap, existing.CreatedAt, now)
	existing.Strength = math.Max(0, decayed+delta)
	existing.Content = marker.Content
	if marker.ExpiresAt != nil {
		existing.ExpiresAt = marker.ExpiresAt
	}
	// CreatedAt is reset to now: decay thereafter is measured from the
	// most recent reinforcement, not the marker's original deposit.
	existing.CreatedAt = now
	s.markers[marker.MarkerID] = existing
	return existing, nil
}

// Get returns a marker's strength decayed to asOf without mutating the
// store, and whether it is still live (above the purge floor and not
// explicitly expired).
func (s *Store) Get(markerID string, asOf time.Time) (model.StigmergyMarker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markers[markerID]
	if !ok {
		return model.StigmergyMarker{}, false
	}
	m.Strength = decayedStrength(m.Strength, s.evap, m.CreatedAt, asOf)
	if m.Expired(asOf) || m.Strength < s.minFloor {
		return model.StigmergyMarker{}, false
	}
	return m, true
}

// View is the read-only surface the flocking coordinator observes.
// Flocking never sees the mutating Store methods and never reinforces
// or sweeps on its own, per base-spec §9's "flocking consumes a
// read-only view of stigmergy and never calls into the bridge."
type View interface {
	Markers(asOf time.Time) []model.StigmergyMarker
}

// Markers returns every live marker decayed to asOf, without mutating
// stored strengths. Held under the same lock as Sweep/ContextFor so
// evaporation never interleaves with a strength read mid-call.
func (s *Store) Markers(asOf time.Time) []model.StigmergyMarker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.StigmergyMarker, 0, len(s.markers))
	for _, m := range s.markers {
		m.Strength = decayedStrength(m.Strength, s.evap, m.CreatedAt, asOf)
		if m.Expired(asOf) || m.Strength < s.minFloor {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Sweep recomputes every marker's strength as of asOf and purges those
// that have fallen below the floor or past an explicit expiry.
func (s *Store) Sweep(asOf time.Time) (purged int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.markers {
		m.Strength = decayedStrength(m.Strength, s.evap, m.CreatedAt, asOf)
		if m.Expired(asOf) || m.Strength < s.minFloor {
			delete(s.markers, id)
			purged++
			continue
		}
		m.CreatedAt = asOf
		s.markers[id] = m
	}
	return purged
}

func decayedStrength(strength, kappa float64, createdAt, asOf time.Time) float64 {
	ageDays := asOf.Sub(createdAt).Hours() / 24
	if ageDays <= 0 {
		return strength
	}
	return strength * math.Exp(-kappa*ageDays)
}

// ContextFor assembles the surviving markers whose Target intersects
// paths into a deterministic, sorted text blob for an agent's upcoming
// task. "Intersects" means an exact match or a directory-prefix match,
// so a marker on "internal/graph" also surfaces for a query against
// "internal/graph/memory.go". Ordering is by target, then descending
// strength, then marker id, so the same store state always renders the
// same text -- the base spec leaves the exact rendering unspecified, so
// this shape is this package's own convention.
func (s *Store) ContextFor(paths []string, asOf time.Time) string {
	s.mu.Lock()
	live := make([]model.StigmergyMarker, 0, len(s.markers))
	for _, m := range s.markers {
		m.Strength = decayedStrength(m.Strength, s.evap, m.CreatedAt, asOf)
		if m.Expired(asOf) || m.Strength < s.minFloor {
			continue
		}
		if intersectsAny(m.Target, paths) {
			live = append(live, m)
		}
	}
	s.mu.Unlock()

	if len(live) == 0 {
		return ""
	}

	sort.Slice(live, func(i, j int) bool {
		if live[i].Target != live[j].Target {
			return live[i].Target < live[j].Target
		}
		if live[i].Strength != live[j].Strength {
			return live[i].Strength > live[j].Strength
		}
		return live[i].MarkerID < live[j].MarkerID
	})

	var b strings.Builder
	for _, m := range live {
		ageDays := asOf.Sub(m.CreatedAt).Hours() / 24
		fmt.Fprintf(&b, "[%s] %s (strength=%.2f, age=%.1fd): %s\n", m.Type, m.Target, m.Strength, ageDays, m.Content)
	}
	return b.String()
}

func intersectsAny(target string, paths []string) bool {
	for _, p := range paths {
		if target == p || strings.HasPrefix(p, target+"/") || strings.HasPrefix(target, p+"/") {
			return true
		}
	}
	return false
}
