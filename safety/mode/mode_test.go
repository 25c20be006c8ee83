package mode

import (
	"testing"
	"time"

	"github.com/trafficgrid/controller/models"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestInitialStateIsNormal(t *testing.T) {
	m := NewManager(fixedClock(time.Now()))
	if m.CurrentMode() != models.ModeNormal {
		t.Fatalf("expected NORMAL, got %s", m.CurrentMode())
	}
}

func TestValidTransitions(t *testing.T) {
	m := NewManager(fixedClock(time.Now()))
	if !m.TransitionTo(models.ModeEmergency, "ambulance detected", false) {
		t.Fatalf("NORMAL -> EMERGENCY should be valid")
	}
	if m.TransitionTo(models.ModeIncident, "congestion", false) {
		t.Fatalf("EMERGENCY -> INCIDENT should be invalid")
	}
	if !m.TransitionTo(models.ModeNormal, "emergency cleared", false) {
		t.Fatalf("EMERGENCY -> NORMAL should be valid")
	}
	if !m.TransitionTo(models.ModeIncident, "sustained congestion", false) {
		t.Fatalf("NORMAL -> INCIDENT should be valid")
	}
}

func TestFailSafeForcedEntryAndExplicitExit(t *testing.T) {
	m := NewManager(fixedClock(time.Now()))
	m.TransitionTo(models.ModeEmergency, "x", false)

	m.EnterFailSafe("watchdog tripped")
	if m.CurrentMode() != models.ModeFailSafe {
		t.Fatalf("expected FAIL_SAFE")
	}

	if m.TransitionTo(models.ModeEmergency, "retry", false) {
		t.Fatalf("FAIL_SAFE should reject non-exit transitions")
	}

	if !m.ExitFailSafe("op-1") {
		t.Fatalf("ExitFailSafe should succeed from FAIL_SAFE")
	}
	if m.CurrentMode() != models.ModeNormal {
		t.Fatalf("expected NORMAL after exit, got %s", m.CurrentMode())
	}
}

func TestExitFailSafeNoopOutsideFailSafe(t *testing.T) {
	m := NewManager(fixedClock(time.Now()))
	if m.ExitFailSafe("op-1") {
		t.Fatalf("ExitFailSafe should fail when not in FAIL_SAFE")
	}
}

func TestHistoryRecordsTransitions(t *testing.T) {
	m := NewManager(fixedClock(time.Now()))
	m.TransitionTo(models.ModeEmergency, "a", false)
	m.TransitionTo(models.ModeNormal, "b", false)
	hist := m.History(0)
	if len(hist) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(hist))
	}
	if hist[0].To != models.ModeEmergency || hist[1].To != models.ModeNormal {
		t.Fatalf("unexpected history order: %+v", hist)
	}
}

func TestCallbacksFireOnEnterAndExit(t *testing.T) {
	m := NewManager(fixedClock(time.Now()))
	var entered, exited models.SystemMode
	m.RegisterCallback(models.ModeEmergency, true, func(s models.SystemState) { entered = s.Mode })
	m.RegisterCallback(models.ModeNormal, false, func(s models.SystemState) { exited = s.Mode })

	m.TransitionTo(models.ModeEmergency, "a", false)
	if entered != models.ModeEmergency {
		t.Fatalf("onEnter callback did not fire")
	}
	if exited != models.ModeNormal {
		t.Fatalf("onExit callback did not fire")
	}
}
