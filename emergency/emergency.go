// Package emergency composes the route planner (pathfinder), the session
// bookkeeper (tracker), and the rolling green-wave activator (corridor) into
// the Emergency Manager (component J): declaring an emergency plans a route
// and opens a session, periodic ticks advance the corridor as the vehicle
// progresses, and arrival or cancellation tears the corridor down and closes
// the session. Implements perception.EmergencyStatus so Perception can read
// the controller's current emergency state without depending on this
// package's concrete types.
package emergency

import (
	"context"
	"math"
	"sync"

	"github.com/trafficgrid/controller/clock"
	"github.com/trafficgrid/controller/emergency/corridor"
	"github.com/trafficgrid/controller/emergency/pathfinder"
	"github.com/trafficgrid/controller/emergency/tracker"
	"github.com/trafficgrid/controller/models"
	"github.com/trafficgrid/controller/telemetry/events"
	"github.com/trafficgrid/controller/telemetry/logging"
)

// arrivalRadius is how close (in map units) a vehicle must be to a
// junction's position before the corridor advances past it. At the last
// junction of the path it is the arrival test that completes the session.
const arrivalRadius = 30.0

// Manager ties route planning, session tracking, and corridor activation
// together behind a single Declare/Tick/Complete/Cancel surface.
type Manager struct {
	mu      sync.Mutex
	graph   *pathfinder.Graph
	tracker *tracker.Tracker
	corridor *corridor.Manager
	logger  logging.Logger
	bus     events.Bus
	clock   clock.Clock
}

// New wires a Manager. bus/logger may be nil.
func New(graph *pathfinder.Graph, corridorMgr *corridor.Manager, clk clock.Clock, bus events.Bus, logger logging.Logger) *Manager {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = logging.New(nil)
	}
	return &Manager{
		graph:    graph,
		tracker:  tracker.New(clk),
		corridor: corridorMgr,
		logger:   logger,
		bus:      bus,
		clock:    clk,
	}
}

// Declare plans a route from the vehicle's current junction to its
// destination junction, opens a session and activates the corridor. If no
// route exists, the direct two-junction path [current, destination] is used
// instead. Returns xerrors.InvalidRequest if a session is already active (I6).
func (m *Manager) Declare(ctx context.Context, vehicle models.EmergencyVehicle, lookaheadJunctions int) (models.EmergencySession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result, ok := m.graph.FindPath(vehicle.CurrentJunctionID, vehicle.DestinationJunction)
	if !ok {
		m.logger.WarnCtx(ctx, "no route found, using direct path", "from", vehicle.CurrentJunctionID, "to", vehicle.DestinationJunction)
		result = pathfinder.Result{JunctionPath: []string{vehicle.CurrentJunctionID, vehicle.DestinationJunction}}
	}

	session, err := m.tracker.Open(vehicle, result.JunctionPath, result.JunctionPath, result.TotalDistance, estimateSeconds(result.TotalDistance))
	if err != nil {
		return models.EmergencySession{}, err
	}

	m.corridor.Activate(ctx, session.SessionID, result.JunctionPath, lookaheadJunctions)
	m.publish(ctx, "emergency.declared", session.SessionID, vehicle.ID)
	return session, nil
}

// estimateSeconds assumes a nominal 40 map-units/sec emergency travel speed;
// only used to seed EstimatedTime before the first Tick observes real progress.
func estimateSeconds(distance float64) float64 {
	const nominalSpeed = 40.0
	if nominalSpeed == 0 {
		return 0
	}
	return distance / nominalSpeed
}

// Tick advances the corridor if the vehicle's current position has reached
// the active junction in its path. Call once per agent cycle while a session
// is active.
func (m *Manager) Tick(ctx context.Context, vehiclePosition models.Position, topoPositionOf func(string) (models.Position, bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.tracker.Active()
	if !ok {
		return
	}
	ac, ok := m.corridor.Active()
	if !ok || ac.CurrentJunctionIndex >= len(ac.JunctionPath) {
		return
	}
	currentJunction := ac.JunctionPath[ac.CurrentJunctionIndex]
	pos, ok := topoPositionOf(currentJunction)
	if !ok || distance(pos, vehiclePosition) > arrivalRadius {
		return
	}
	if !m.corridor.Advance(ctx) {
		m.finish(ctx, session.SessionID, models.EmergencyCompleted)
	}
}

func distance(a, b models.Position) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Complete force-closes the active session as COMPLETED, tearing the
// corridor down. Used when the simulator reports arrival directly.
func (m *Manager) Complete(ctx context.Context) (models.EmergencySession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.tracker.Active()
	if !ok {
		return models.EmergencySession{}, false
	}
	return m.finish(ctx, session.SessionID, models.EmergencyCompleted), true
}

// Cancel force-closes the active session as CANCELLED.
func (m *Manager) Cancel(ctx context.Context) (models.EmergencySession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.tracker.Active()
	if !ok {
		return models.EmergencySession{}, false
	}
	return m.finish(ctx, session.SessionID, models.EmergencyCancelled), true
}

func (m *Manager) finish(ctx context.Context, sessionID string, status models.EmergencyStatus) models.EmergencySession {
	m.corridor.Deactivate()
	var done models.EmergencySession
	if status == models.EmergencyCompleted {
		done, _ = m.tracker.Complete()
	} else {
		done, _ = m.tracker.Cancel()
	}
	m.publish(ctx, "emergency."+string(status), sessionID, done.Vehicle.ID)
	return done
}

func (m *Manager) publish(ctx context.Context, eventType, sessionID, vehicleID string) {
	if m.bus == nil {
		return
	}
	_ = m.bus.PublishCtx(ctx, events.Event{
		Category: events.CategoryEmergency, Type: eventType,
		Fields: map[string]interface{}{"sessionId": sessionID, "vehicleId": vehicleID},
	})
}

// Status implements perception.EmergencyStatus.
func (m *Manager) Status() (active bool, vehicleID string, corridorJunctions []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.tracker.Active()
	if !ok {
		return false, "", nil
	}
	ac, _ := m.corridor.Active()
	remaining := ac.JunctionPath
	if ac.CurrentJunctionIndex < len(ac.JunctionPath) {
		remaining = ac.JunctionPath[ac.CurrentJunctionIndex:]
	}
	return true, session.Vehicle.ID, remaining
}
