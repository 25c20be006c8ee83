// Package corridor implements the rolling green-wave half of the Emergency
// Manager (component J): given a planned junction path, it forces GREEN on
// the cardinal direction facing the emergency vehicle's approach at each
// junction within the lookahead window and restores NORMAL mode on every
// junction the vehicle has passed, using a sliding-window activation scheme.
package corridor

import (
	"context"
	"math"

	"github.com/trafficgrid/controller/clock"
	"github.com/trafficgrid/controller/models"
	"github.com/trafficgrid/controller/telemetry/events"
	"github.com/trafficgrid/controller/telemetry/logging"
	"github.com/trafficgrid/controller/topology"
)

// SignalController is the narrow simulator slice corridor activation uses.
type SignalController interface {
	SetSignalGreen(junctionID string, direction models.Direction, duration float64)
}

// PositionLookup resolves a junction's static position, used to derive the
// cardinal direction an approaching vehicle faces.
type PositionLookup interface {
	PositionOf(junctionID string) (models.Position, bool)
}

const defaultLookahead = 5

// Manager owns the ActiveCorridor state for one EmergencySession at a time.
type Manager struct {
	Sim      SignalController
	Topology *topology.Registry
	Bus      events.Bus
	Logger   logging.Logger
	Clock    clock.Clock

	active *models.ActiveCorridor
}

// New wires a corridor Manager. bus/logger may be nil.
func New(sim SignalController, topo *topology.Registry, bus events.Bus, logger logging.Logger, clk clock.Clock) *Manager {
	if logger == nil {
		logger = logging.New(nil)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Manager{Sim: sim, Topology: topo, Bus: bus, Logger: logger, Clock: clk}
}

// Activate starts a corridor for sessionID along junctionPath and sets the
// first lookaheadJunctions (or defaultLookahead if <=0) junctions' approach
// direction GREEN, switching their JunctionMode to EMERGENCY.
func (m *Manager) Activate(ctx context.Context, sessionID string, junctionPath []string, lookaheadJunctions int) models.ActiveCorridor {
	if lookaheadJunctions <= 0 {
		lookaheadJunctions = defaultLookahead
	}
	ac := models.ActiveCorridor{
		SessionID: sessionID, JunctionPath: junctionPath,
		CurrentJunctionIndex: 0, LookaheadJunctions: lookaheadJunctions,
		SignalOverrides: make(map[string]models.Direction),
	}
	m.active = &ac
	m.activateWindow(ctx)
	return *m.active
}

// activateWindow forces GREEN on every junction from CurrentJunctionIndex up
// to the lookahead boundary. Every entry written to SignalOverrides has its
// JunctionMode flipped to EMERGENCY in the same topology.Mutate call, so the
// two can never disagree.
func (m *Manager) activateWindow(ctx context.Context) {
	if m.active == nil {
		return
	}
	end := m.active.CurrentJunctionIndex + m.active.LookaheadJunctions
	if end > len(m.active.JunctionPath) {
		end = len(m.active.JunctionPath)
	}
	for i := m.active.CurrentJunctionIndex; i < end; i++ {
		junctionID := m.active.JunctionPath[i]
		var dir models.Direction
		if i+1 < len(m.active.JunctionPath) {
			dir = m.approachDirection(junctionID, m.active.JunctionPath[i+1])
		} else if i > 0 {
			// Last junction: keep the direction of travel of the final hop.
			dir = m.approachDirection(m.active.JunctionPath[i-1], junctionID)
		} else {
			dir = m.approachDirection(junctionID, "")
		}
		m.active.SignalOverrides[junctionID] = dir

		if m.Topology != nil {
			m.Topology.Mutate(junctionID, func(j *models.Junction) {
				j.Mode = models.JunctionEmergency
				for _, d := range models.AllDirections {
					color := models.Red
					if d == dir {
						color = models.Green
					}
					j.Signals[d] = models.SignalState{Color: color, LastChange: m.Clock.Now()}
				}
			})
		}
		if m.Sim != nil {
			m.Sim.SetSignalGreen(junctionID, dir, 0)
		}
		if m.Bus != nil {
			_ = m.Bus.PublishCtx(ctx, events.Event{
				Category: events.CategoryEmergency, Type: "corridor.junction_activated",
				Fields: map[string]interface{}{"sessionId": m.active.SessionID, "junctionId": junctionID, "direction": string(dir)},
			})
		}
	}
}

// approachDirection derives the cardinal direction to hold GREEN at
// junctionID given the next hop in the path: the signal face pointing toward
// the vehicle's direction of travel.
func (m *Manager) approachDirection(junctionID, next string) models.Direction {
	if m.Topology == nil || next == "" {
		return models.North
	}
	from, okA := m.Topology.PositionOf(junctionID)
	to, okB := m.Topology.PositionOf(next)
	if !okA || !okB {
		return models.North
	}
	dx, dy := to.X-from.X, to.Y-from.Y
	if math.Abs(dx) > math.Abs(dy) {
		if dx > 0 {
			return models.East
		}
		return models.West
	}
	if dy > 0 {
		return models.South
	}
	return models.North
}

// Advance reports the vehicle has reached JunctionPath[CurrentJunctionIndex]
// and should move to the next: the junction just left is restored to NORMAL
// and the lookahead window slides forward. Returns false once the path is
// exhausted (caller should complete the session).
func (m *Manager) Advance(ctx context.Context) bool {
	if m.active == nil || m.active.CurrentJunctionIndex >= len(m.active.JunctionPath) {
		return false
	}
	passed := m.active.JunctionPath[m.active.CurrentJunctionIndex]
	delete(m.active.SignalOverrides, passed)
	if m.Topology != nil {
		m.Topology.Mutate(passed, func(j *models.Junction) {
			j.Mode = models.JunctionNormal
		})
	}
	m.active.CurrentJunctionIndex++
	if m.active.CurrentJunctionIndex >= len(m.active.JunctionPath) {
		return false
	}
	m.activateWindow(ctx)
	return true
}

// Deactivate restores every junction still under corridor control to NORMAL
// mode and clears the active corridor (session completed or cancelled).
func (m *Manager) Deactivate() {
	if m.active == nil {
		return
	}
	if m.Topology != nil {
		for junctionID := range m.active.SignalOverrides {
			m.Topology.Mutate(junctionID, func(j *models.Junction) {
				j.Mode = models.JunctionNormal
			})
		}
	}
	m.active = nil
}

// Active returns the current ActiveCorridor, if any.
func (m *Manager) Active() (models.ActiveCorridor, bool) {
	if m.active == nil {
		return models.ActiveCorridor{}, false
	}
	return *m.active, true
}
