package watchdog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trafficgrid/controller/models"
	"github.com/trafficgrid/controller/safety/conflict"
	"github.com/trafficgrid/controller/telemetry/logging"
	"github.com/trafficgrid/controller/topology"
)

type fakeMode struct {
	tripped  bool
	reason   string
	mode     models.SystemMode
	duration time.Duration
}

func (f *fakeMode) EnterFailSafe(reason string) { f.tripped = true; f.reason = reason }
func (f *fakeMode) CurrentMode() models.SystemMode {
	if f.mode == "" {
		return models.ModeNormal
	}
	return f.mode
}
func (f *fakeMode) Duration() time.Duration { return f.duration }

type immediateClock struct{ now time.Time }

func (c immediateClock) Now() time.Time { return c.now }
func (c immediateClock) Every(ctx context.Context, period time.Duration, task func(context.Context)) {
	task(ctx)
}
func (c immediateClock) After(ctx context.Context, delay time.Duration, task func(context.Context)) {
	task(ctx)
}
func (c immediateClock) Sleep(ctx context.Context, d time.Duration) error { return nil }

// Scenario 4: a critical check trips FAIL_SAFE once it reaches MaxFailures.
func TestSignalConflictCheckTripsFailSafe(t *testing.T) {
	now := time.Now()
	signals := map[models.Direction]models.SignalState{
		models.North: {Color: models.Green, LastChange: now},
		models.East:  {Color: models.Green, LastChange: now},
	}
	topo := topology.NewRegistry([]models.Junction{{ID: "J-1", Signals: signals}})
	_, ok := conflict.ValidateFullJunction(signals)
	require.False(t, ok)

	fm := &fakeMode{}
	w := New(fm, immediateClock{now: now}, logging.New(nil), nil)
	w.Register(HealthCheck{
		Name: "signal_conflicts", Run: SignalConflictCheck(topo),
		Critical: true, Interval: time.Second, MaxFailures: 1,
	})
	w.Start(context.Background())

	// Start runs each check on its own goroutine.
	require.Eventually(t, func() bool { return w.Snapshot()["signal_conflicts"] == 1 && fm.reason != "" }, time.Second, time.Millisecond)
	require.True(t, fm.tripped)
	require.Contains(t, fm.reason, "signal_conflicts")
}

func TestModeValidityCheckFailsOnStuckEmergency(t *testing.T) {
	fm := &fakeMode{mode: models.ModeEmergency, duration: 301 * time.Second}
	err := ModeValidityCheck(fm, 300*time.Second)(context.Background())
	require.Error(t, err)
}

func TestModeValidityCheckPassesWithinDwellWindow(t *testing.T) {
	fm := &fakeMode{mode: models.ModeEmergency, duration: 60 * time.Second}
	require.NoError(t, ModeValidityCheck(fm, 300*time.Second)(context.Background()))
}

func TestModeValidityCheckPassesOutsideEmergency(t *testing.T) {
	fm := &fakeMode{mode: models.ModeNormal, duration: time.Hour}
	require.NoError(t, ModeValidityCheck(fm, 300*time.Second)(context.Background()))
}

func TestNonCriticalCheckNeverTrips(t *testing.T) {
	now := time.Now()
	fm := &fakeMode{}
	w := New(fm, immediateClock{now: now}, logging.New(nil), nil)
	calls := 0
	w.Register(HealthCheck{
		Name: "decision_latency", Critical: false, Interval: time.Second, MaxFailures: 1,
		Run: func(ctx context.Context) error { calls++; return errLatencyExceeded },
	})
	w.Start(context.Background())
	// Start runs each check on its own goroutine.
	require.Eventually(t, func() bool { return w.Snapshot()["decision_latency"] == 1 }, time.Second, time.Millisecond)
	require.False(t, fm.tripped)
	require.Equal(t, 1, calls)
	require.Equal(t, 1, w.Snapshot()["decision_latency"])
}
