// Package tracker owns EmergencySession lifecycle: opening a session when an
// emergency vehicle is declared, closing it on arrival or cancellation, and
// enforcing that at most one session is ACTIVE at a time. ID shapes ("EMG-"
// session / "EMV-" vehicle) follow the override registry's "OVR-" convention.
package tracker

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/trafficgrid/controller/clock"
	"github.com/trafficgrid/controller/models"
	"github.com/trafficgrid/controller/xerrors"
)

// Tracker owns the single active session slot plus completed/cancelled history.
type Tracker struct {
	mu      sync.Mutex
	active  *models.EmergencySession
	history []models.EmergencySession

	clock clock.Clock
}

// New returns an empty Tracker.
func New(clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Tracker{clock: clk}
}

// NewVehicleID returns a fresh "EMV-XXXXXXXX" vehicle identifier.
func NewVehicleID() string { return "EMV-" + uuid.NewString()[:8] }

func newSessionID(n int) string { return fmt.Sprintf("EMG-%05d", n) }

// Open starts a new ACTIVE session for vehicle following route (a junction
// path), recording affectedJunctions, the total distance and the estimated
// time. Returns xerrors.InvalidRequest if a session is already ACTIVE (I6).
func (t *Tracker) Open(vehicle models.EmergencyVehicle, route, affectedJunctions []string, totalDistance, estimatedTime float64) (models.EmergencySession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active != nil {
		return models.EmergencySession{}, &xerrors.InvalidRequest{Reason: "emergency session already active: " + t.active.SessionID}
	}
	s := models.EmergencySession{
		SessionID:         newSessionID(len(t.history) + 1),
		Vehicle:           vehicle,
		Status:            models.EmergencyActive,
		ActivatedAt:       t.clock.Now(),
		Route:             route,
		AffectedJunctions: affectedJunctions,
		TotalDistance:     totalDistance,
		EstimatedTime:     estimatedTime,
	}
	t.active = &s
	return s, nil
}

// Active returns the current ACTIVE session, if any.
func (t *Tracker) Active() (models.EmergencySession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return models.EmergencySession{}, false
	}
	return *t.active, true
}

func (t *Tracker) close(status models.EmergencyStatus) (models.EmergencySession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return models.EmergencySession{}, false
	}
	now := t.clock.Now()
	t.active.Status = status
	t.active.CompletedAt = &now
	travel := now.Sub(t.active.ActivatedAt).Seconds()
	t.active.ActualTravelTime = &travel
	done := *t.active
	t.history = append(t.history, done)
	t.active = nil
	return done, true
}

// Complete closes the active session as COMPLETED (vehicle reached its destination).
func (t *Tracker) Complete() (models.EmergencySession, bool) { return t.close(models.EmergencyCompleted) }

// Cancel closes the active session as CANCELLED (operator or simulator abort).
func (t *Tracker) Cancel() (models.EmergencySession, bool) { return t.close(models.EmergencyCancelled) }

// History returns up to limit most recently closed sessions, newest last.
func (t *Tracker) History(limit int) []models.EmergencySession {
	t.mu.Lock()
	defer t.mu.Unlock()
	if limit <= 0 || limit > len(t.history) {
		limit = len(t.history)
	}
	start := len(t.history) - limit
	out := make([]models.EmergencySession, limit)
	copy(out, t.history[start:])
	return out
}
