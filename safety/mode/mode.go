// Package mode implements the Mode Manager (component H): the SystemMode
// finite state machine. FAIL_SAFE is enterable from any state (forced) but
// only exitable through ExitFailSafe.
package mode

import (
	"sync"
	"time"

	"github.com/trafficgrid/controller/models"
)

// Callback is invoked when entering or exiting a mode. A callback that panics
// is recovered and ignored; it never blocks the transition.
type Callback func(models.SystemState)

// Manager owns the single SystemState value and its transition history.
type Manager struct {
	mu      sync.RWMutex
	state   models.SystemState
	history []models.ModeTransition

	onEnter map[models.SystemMode][]Callback
	onExit  map[models.SystemMode][]Callback

	now func() time.Time
}

// NewManager returns a Manager starting in NORMAL.
func NewManager(now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	m := &Manager{
		onEnter: make(map[models.SystemMode][]Callback),
		onExit:  make(map[models.SystemMode][]Callback),
		now:     now,
	}
	m.state = models.SystemState{Mode: models.ModeNormal, EnteredAt: now(), Reason: "system initialized"}
	return m
}

// RegisterCallback registers a hook fired on entry (onEnter=true) or exit
// (onEnter=false) of mode.
func (m *Manager) RegisterCallback(mode models.SystemMode, onEnter bool, cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if onEnter {
		m.onEnter[mode] = append(m.onEnter[mode], cb)
	} else {
		m.onExit[mode] = append(m.onExit[mode], cb)
	}
}

// CurrentMode returns the active mode.
func (m *Manager) CurrentMode() models.SystemMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Mode
}

// State returns a copy of the current SystemState.
func (m *Manager) State() models.SystemState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Duration returns how long the controller has been in its current mode.
func (m *Manager) Duration() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now().Sub(m.state.EnteredAt)
}

var validTransitions = map[models.SystemMode][]models.SystemMode{
	models.ModeNormal:    {models.ModeEmergency, models.ModeIncident},
	models.ModeEmergency: {models.ModeNormal},
	models.ModeIncident:  {models.ModeNormal},
}

func isValidTransition(from, to models.SystemMode) bool {
	if to == models.ModeFailSafe {
		return true
	}
	if from == models.ModeFailSafe {
		return false // must use ExitFailSafe
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionTo attempts a transition. forced=true bypasses the validity
// table (used by EnterFailSafe and ExitFailSafe). Returns false if the transition is
// invalid and not forced; the state is left unchanged.
func (m *Manager) TransitionTo(to models.SystemMode, reason string, forced bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Mode == to {
		return true
	}
	if !forced && !isValidTransition(m.state.Mode, to) {
		return false
	}
	from := m.state.Mode
	now := m.now()

	for _, cb := range m.onExit[from] {
		m.safeCall(cb, m.state)
	}

	prev := from
	m.state = models.SystemState{Mode: to, EnteredAt: now, Reason: reason, PreviousMode: &prev}
	m.history = append(m.history, models.ModeTransition{From: from, To: to, Timestamp: now, Reason: reason})

	for _, cb := range m.onEnter[to] {
		m.safeCall(cb, m.state)
	}
	return true
}

func (m *Manager) safeCall(cb Callback, s models.SystemState) {
	defer func() { _ = recover() }()
	cb(s)
}

// EnterFailSafe forces a transition into FAIL_SAFE from any mode.
func (m *Manager) EnterFailSafe(reason string) {
	m.TransitionTo(models.ModeFailSafe, reason, true)
}

// ExitFailSafe is the only valid exit from FAIL_SAFE.
func (m *Manager) ExitFailSafe(operatorID string) bool {
	m.mu.RLock()
	inFailSafe := m.state.Mode == models.ModeFailSafe
	m.mu.RUnlock()
	if !inFailSafe {
		return false
	}
	return m.TransitionTo(models.ModeNormal, "manual reset by operator: "+operatorID, true)
}

// History returns up to limit most recent transitions, newest last.
func (m *Manager) History(limit int) []models.ModeTransition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.history) {
		limit = len(m.history)
	}
	start := len(m.history) - limit
	out := make([]models.ModeTransition, limit)
	copy(out, m.history[start:])
	return out
}
