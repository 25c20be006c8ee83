// Package perception implements the Perception component (D): it snapshots a
// models.PerceivedState from the external world once per tick. Every
// collaborator is reached through a narrow capability interface whose
// methods are total — a missing field or failed lookup yields the zero
// value rather than a panic or error, so one bad source never aborts a
// tick.
package perception

import (
	"context"
	"sort"
	"time"

	"github.com/trafficgrid/controller/clock"
	"github.com/trafficgrid/controller/density"
	"github.com/trafficgrid/controller/models"
	"github.com/trafficgrid/controller/telemetry/metrics"
	"github.com/trafficgrid/controller/topology"
)

// Simulator is the narrow slice of the Simulator capability Perception
// consumes: vehicle census, manual controls, and violations. Signal state is
// read from the topology.Registry, which the Action Applier keeps current.
type Simulator interface {
	GetVehicles() []models.Vehicle
	GetManualControls() []models.ManualControl
	GetRecentViolations() []models.Violation
}

// EmergencyStatus reports the controller's current emergency state. Wired to
// the emergency.Manager; Perception falls back to a zero EmergencyStatus
// when none is injected, which publishes emergencyActive=false.
type EmergencyStatus interface {
	Status() (active bool, vehicleID string, corridor []string)
}

// Perceiver builds one PerceivedState per call to Perceive.
type Perceiver struct {
	Sim       Simulator
	Density   *density.Tracker
	Topology  *topology.Registry
	Emergency EmergencyStatus
	Clock     clock.Clock

	provider  metrics.Provider
	latencyMs metrics.Histogram
}

// NewPerceiver wires a Perceiver. provider may be nil (metrics become noop).
func NewPerceiver(sim Simulator, dens *density.Tracker, topo *topology.Registry, emg EmergencyStatus, clk clock.Clock, provider metrics.Provider) *Perceiver {
	if clk == nil {
		clk = clock.Real{}
	}
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	p := &Perceiver{Sim: sim, Density: dens, Topology: topo, Emergency: emg, Clock: clk, provider: provider}
	p.latencyMs = provider.NewHistogram(metrics.HistogramOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "trafficgrid", Subsystem: "perception", Name: "latency_ms", Help: "Perceive() wall-clock latency in milliseconds",
	}})
	return p
}

// Perceive constructs a fresh, immutable PerceivedState. Never returns an
// error: a failing source simply contributes its zero value.
func (p *Perceiver) Perceive(ctx context.Context) models.PerceivedState {
	start := p.Clock.Now()
	state := models.PerceivedState{
		Timestamp:         start,
		VehiclesByType:    make(map[string]int),
		RoadDensities:     make(map[string]models.RoadDensityData),
		JunctionDensities: make(map[string]models.JunctionDensityData),
		SignalStates:      make(map[string]map[models.Direction]models.SignalState),
		JunctionWaitTimes: make(map[string]float64),
	}

	if p.Sim != nil {
		vehicles := safeVehicles(p.Sim)
		state.TotalVehicles = len(vehicles)
		waitSum := make(map[string]float64)
		waitCount := make(map[string]int)
		for _, v := range vehicles {
			kind := "car"
			if v.IsEmergency {
				kind = "emergency"
			}
			state.VehiclesByType[kind]++
			if v.CurrentJunction != "" {
				waitSum[v.CurrentJunction] += v.WaitingTime
				waitCount[v.CurrentJunction]++
			}
		}
		for id, n := range waitCount {
			state.JunctionWaitTimes[id] = waitSum[id] / float64(n)
		}
		state.ManualControls = safeManualControls(p.Sim)
		state.RecentViolations = safeViolations(p.Sim)
	}

	if p.Topology != nil {
		junctions := p.Topology.All()
		sort.Slice(junctions, func(i, j int) bool { return junctions[i].ID < junctions[j].ID })
		for _, j := range junctions {
			state.SignalStates[j.ID] = j.Signals
		}
	}

	if p.Density != nil && p.Topology != nil {
		var densitySum float64
		var congestion int
		for _, id := range p.Topology.IDs() {
			if rd, ok := p.Density.RoadDensity(id); ok {
				state.RoadDensities[id] = rd
				if rd.Classification == models.High {
					congestion++
				}
			}
			if jd, ok := p.Density.JunctionDensity(id); ok {
				state.JunctionDensities[id] = jd
				densitySum += jd.AvgDensity
			}
		}
		// Road densities are keyed by road ID, not junction ID; walk the
		// actual road set via connected-road references to avoid missing any.
		for _, j := range p.Topology.All() {
			for _, roadID := range j.ConnectedRoads {
				if _, have := state.RoadDensities[roadID]; have {
					continue
				}
				if rd, ok := p.Density.RoadDensity(roadID); ok {
					state.RoadDensities[roadID] = rd
					if rd.Classification == models.High {
						congestion++
					}
				}
			}
		}
		state.CongestionPoints = congestion
		if n := len(state.JunctionDensities); n > 0 {
			state.CityAvgDensity = densitySum / float64(n)
		}
	}

	if p.Emergency != nil {
		active, vid, corridor := p.Emergency.Status()
		state.EmergencyActive = active
		state.EmergencyVehicleID = vid
		state.EmergencyCorridor = corridor
	}

	p.latencyMs.Observe(float64(p.Clock.Now().Sub(start)) / float64(time.Millisecond))
	return state
}

func safeVehicles(s Simulator) (out []models.Vehicle) {
	defer func() { _ = recover() }()
	return s.GetVehicles()
}

func safeManualControls(s Simulator) (out []models.ManualControl) {
	defer func() { _ = recover() }()
	return s.GetManualControls()
}

func safeViolations(s Simulator) (out []models.Violation) {
	defer func() { _ = recover() }()
	return s.GetRecentViolations()
}
