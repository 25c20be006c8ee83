// Package density implements the Density Tracking Engine (component C):
// O(1) per-road occupancy with bounded history. The history ring buffer
// reuses a container/list LRU-with-eviction shape, repurposed from a page
// cache into a per-road time-bounded sample buffer.
package density

import (
	"container/list"
	"math"
	"sync"
	"time"

	"github.com/trafficgrid/controller/models"
	"github.com/trafficgrid/controller/telemetry/policy"
)

// Tracker owns per-road and per-junction density state. All public methods
// are safe for concurrent use; Update, AddVehicleToRoad and
// RemoveVehicleFromRoad write under the tracker's lock.
type Tracker struct {
	mu sync.RWMutex

	roads     map[string]*models.RoadSegment
	junctions map[string]*models.Junction

	roadData map[string]models.RoadDensityData
	history  map[string]*list.List // road ID -> *list.List of models.DensitySnapshot

	retention  time.Duration
	maxSamples int

	policy func() policy.DensityThresholds
}

// NewTracker returns an empty Tracker. policyFn supplies the live
// classification thresholds (may be backed by an atomic policy snapshot).
func NewTracker(retention time.Duration, maxSamples int, policyFn func() policy.DensityThresholds) *Tracker {
	if policyFn == nil {
		policyFn = policy.DefaultDensityThresholds
	}
	return &Tracker{
		roads:      make(map[string]*models.RoadSegment),
		junctions:  make(map[string]*models.Junction),
		roadData:   make(map[string]models.RoadDensityData),
		history:    make(map[string]*list.List),
		retention:  retention,
		maxSamples: maxSamples,
		policy:     policyFn,
	}
}

// InitRoads sizes the tracker's road-keyed maps.
func (t *Tracker) InitRoads(roads []*models.RoadSegment) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range roads {
		if r.CurrentVehicles == nil {
			r.CurrentVehicles = make(map[string]struct{})
		}
		t.roads[r.ID] = r
		t.history[r.ID] = list.New()
		t.roadData[r.ID] = computeRoadDensity(r, t.policy())
	}
}

// InitJunctions sizes the tracker's junction-keyed map.
func (t *Tracker) InitJunctions(junctions []*models.Junction) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, j := range junctions {
		t.junctions[j.ID] = j
	}
}

// RoadDensity returns the current density view for roadID.
func (t *Tracker) RoadDensity(roadID string) (models.RoadDensityData, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.roadData[roadID]
	return d, ok
}

// AddVehicleToRoad adds vid to roadID's occupancy set, idempotently, and
// recomputes that road's score inline.
func (t *Tracker) AddVehicleToRoad(vehicleID, roadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.roads[roadID]
	if !ok {
		return
	}
	r.CurrentVehicles[vehicleID] = struct{}{}
	t.roadData[roadID] = computeRoadDensity(r, t.policy())
}

// RemoveVehicleFromRoad removes vid from roadID's occupancy set, idempotently.
func (t *Tracker) RemoveVehicleFromRoad(vehicleID, roadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.roads[roadID]
	if !ok {
		return
	}
	delete(r.CurrentVehicles, vehicleID)
	t.roadData[roadID] = computeRoadDensity(r, t.policy())
}

// Update rebuilds every road's occupancy set from the given vehicles' current
// positions, recomputes scores, aggregates per-junction, and appends a
// history sample for every road.
func (t *Tracker) Update(vehicles []models.Vehicle, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fresh := make(map[string]map[string]struct{}, len(t.roads))
	for id := range t.roads {
		fresh[id] = make(map[string]struct{})
	}
	for _, v := range vehicles {
		if set, ok := fresh[v.CurrentRoad]; ok {
			set[v.ID] = struct{}{}
		}
	}

	pol := t.policy()
	for id, r := range t.roads {
		r.CurrentVehicles = fresh[id]
		d := computeRoadDensity(r, pol)
		t.roadData[id] = d
		t.appendHistory(id, models.DensitySnapshot{
			Timestamp: now, RoadID: id, VehicleCount: d.VehicleCount,
			DensityScore: d.DensityScore, Classification: d.Classification,
		}, now)
	}
}

func (t *Tracker) appendHistory(roadID string, snap models.DensitySnapshot, now time.Time) {
	hist, ok := t.history[roadID]
	if !ok {
		hist = list.New()
		t.history[roadID] = hist
	}
	hist.PushBack(snap)
	for hist.Len() > 0 {
		front := hist.Front()
		s := front.Value.(models.DensitySnapshot)
		tooOld := t.retention > 0 && now.Sub(s.Timestamp) > t.retention
		tooMany := t.maxSamples > 0 && hist.Len() > t.maxSamples
		if tooOld || tooMany {
			hist.Remove(front)
			continue
		}
		break
	}
}

// History returns a copy of roadID's retained samples, oldest first.
func (t *Tracker) History(roadID string) []models.DensitySnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	hist, ok := t.history[roadID]
	if !ok {
		return nil
	}
	out := make([]models.DensitySnapshot, 0, hist.Len())
	for e := hist.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(models.DensitySnapshot))
	}
	return out
}

// JunctionDensity aggregates the four connected roads' density for junctionID.
func (t *Tracker) JunctionDensity(junctionID string) (models.JunctionDensityData, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	j, ok := t.junctions[junctionID]
	if !ok {
		return models.JunctionDensityData{}, false
	}
	pol := t.policy()
	by := make(map[models.Direction]float64, 4)
	var sum, max float64
	var total int
	for _, dir := range models.AllDirections {
		roadID, has := j.ConnectedRoads[dir]
		var score float64
		if has {
			if d, ok := t.roadData[roadID]; ok {
				score = d.DensityScore
				total += d.VehicleCount
			}
		}
		by[dir] = score
		sum += score
		if score > max {
			max = score
		}
	}
	avg := sum / 4
	level := models.Low
	if max >= pol.JunctionHighMax {
		level = models.High
	} else if max >= pol.JunctionMediumMax {
		level = models.Medium
	}
	return models.JunctionDensityData{
		JunctionID: junctionID, ByDirection: by, AvgDensity: avg,
		MaxDensity: max, TotalVehicles: total, CongestionLevel: level,
	}, true
}

// computeRoadDensity is a pure function of road state and thresholds.
func computeRoadDensity(r *models.RoadSegment, pol policy.DensityThresholds) models.RoadDensityData {
	count := r.VehicleCount()
	lanes := r.Geometry.Lanes
	if lanes < 1 {
		lanes = 1
	}
	capacity := math.Max(1, (r.Geometry.Length/30)*float64(lanes))
	score := math.Min(100, 100*float64(count)/capacity)

	var class models.Classification
	switch {
	case count < pol.LowVehicleCount && score < pol.LowScore:
		class = models.Low
	case count < pol.MediumVehicleCount && score < pol.MediumScore:
		class = models.Medium
	default:
		class = models.High
	}
	return models.RoadDensityData{RoadID: r.ID, VehicleCount: count, Capacity: capacity, DensityScore: score, Classification: class}
}
