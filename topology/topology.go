// Package topology owns the canonical, identity-keyed junction registry: the
// single place in the controller where a Junction's Mode and Signals are
// mutated. Junctions and roads never hold pointers into each other —
// everything is looked up by ID through flat maps — and signal mutation is
// guarded by one lock per junction so cross-junction writes never block each
// other while same-junction writes are strictly serialized.
package topology

import (
	"sync"

	"github.com/trafficgrid/controller/models"
)

// Registry is the shared junction store threaded through construction to
// every component that reads or writes signal state: Perception, the Action
// Applier, the Watchdog, and the Emergency Manager.
type Registry struct {
	mu        sync.RWMutex
	junctions map[string]*models.Junction
	locks     map[string]*sync.Mutex
}

// NewRegistry seeds the registry from a snapshot of junctions. Signals maps
// are deep-copied so the registry owns its own mutable state.
func NewRegistry(junctions []models.Junction) *Registry {
	r := &Registry{
		junctions: make(map[string]*models.Junction, len(junctions)),
		locks:     make(map[string]*sync.Mutex, len(junctions)),
	}
	for _, j := range junctions {
		cp := j
		cp.Signals = make(map[models.Direction]models.SignalState, len(j.Signals))
		for d, s := range j.Signals {
			cp.Signals[d] = s
		}
		cp.ConnectedRoads = make(map[models.Direction]string, len(j.ConnectedRoads))
		for d, rid := range j.ConnectedRoads {
			cp.ConnectedRoads[d] = rid
		}
		r.junctions[j.ID] = &cp
		r.locks[j.ID] = &sync.Mutex{}
	}
	return r
}

// Get returns a copy of the current state of junctionID.
func (r *Registry) Get(junctionID string) (models.Junction, bool) {
	r.mu.RLock()
	j, ok := r.junctions[junctionID]
	r.mu.RUnlock()
	if !ok {
		return models.Junction{}, false
	}
	return copyJunction(j), true
}

// All returns a copy of every junction, order unspecified.
func (r *Registry) All() []models.Junction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Junction, 0, len(r.junctions))
	for _, j := range r.junctions {
		out = append(out, copyJunction(j))
	}
	return out
}

// IDs returns every registered junction ID, order unspecified.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.junctions))
	for id := range r.junctions {
		out = append(out, id)
	}
	return out
}

// PositionOf returns junctionID's static position, used by the emergency
// pathfinder's Euclidean heuristic and by corridor direction derivation.
func (r *Registry) PositionOf(junctionID string) (models.Position, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.junctions[junctionID]
	if !ok {
		return models.Position{}, false
	}
	return j.Position, true
}

// Mutate acquires junctionID's per-junction lock and applies fn to the live
// junction, the sole path by which Signals or Mode may change. Returns false
// if junctionID is unknown.
func (r *Registry) Mutate(junctionID string, fn func(j *models.Junction)) bool {
	r.mu.RLock()
	j, ok := r.junctions[junctionID]
	lock := r.locks[junctionID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	lock.Lock()
	defer lock.Unlock()
	fn(j)
	return true
}

// MutateAll applies fn to every junction, each under its own per-junction
// lock, in registry iteration order.
func (r *Registry) MutateAll(fn func(j *models.Junction)) {
	for _, id := range r.IDs() {
		r.Mutate(id, fn)
	}
}

func copyJunction(j *models.Junction) models.Junction {
	cp := *j
	cp.Signals = make(map[models.Direction]models.SignalState, len(j.Signals))
	for d, s := range j.Signals {
		cp.Signals[d] = s
	}
	cp.ConnectedRoads = make(map[models.Direction]string, len(j.ConnectedRoads))
	for d, rid := range j.ConnectedRoads {
		cp.ConnectedRoads[d] = rid
	}
	return cp
}
