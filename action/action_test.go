package action

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trafficgrid/controller/clock"
	"github.com/trafficgrid/controller/models"
	"github.com/trafficgrid/controller/safety/conflict"
	"github.com/trafficgrid/controller/telemetry/policy"
	"github.com/trafficgrid/controller/topology"
)

type fakeSignalController struct {
	greens []string
	reds   []string
}

func (f *fakeSignalController) SetSignalGreen(junctionID string, direction models.Direction, duration float64) {
	f.greens = append(f.greens, junctionID+":"+string(direction))
}
func (f *fakeSignalController) SetSignalRed(junctionID string, direction models.Direction) {
	f.reds = append(f.reds, junctionID+":"+string(direction))
}

type fakeOverrides struct {
	active map[string]models.ManualOverride
}

func (f *fakeOverrides) ActiveOverrideFor(junctionID string, direction models.Direction) (models.ManualOverride, bool) {
	o, ok := f.active[junctionID+":"+string(direction)]
	return o, ok
}

func newTestJunction(now time.Time, greenDir models.Direction, since time.Duration) *topology.Registry {
	signals := map[models.Direction]models.SignalState{}
	for _, d := range models.AllDirections {
		signals[d] = models.SignalState{Color: models.Red, LastChange: now.Add(-1 * time.Hour)}
	}
	if greenDir != "" {
		signals[greenDir] = models.SignalState{Color: models.Green, LastChange: now.Add(-since)}
	}
	return topology.NewRegistry([]models.Junction{{ID: "J-1", Signals: signals, ConnectedRoads: map[models.Direction]string{}}})
}

func TestExecuteAppliesGreenFromRedAfterMinRed(t *testing.T) {
	now := time.Now()
	topo := newTestJunction(now, "", 0)
	topo.Mutate("J-1", func(j *models.Junction) {
		j.Signals[models.South] = models.SignalState{Color: models.Red, LastChange: now.Add(-5 * time.Second)}
	})
	sim := &fakeSignalController{}
	v := conflict.NewValidator(policy.DefaultSignalPolicy)
	applier := NewApplier(sim, &fakeOverrides{}, v, topo, fixedClock(now), nil, nil, policy.DefaultSignalPolicy, nil)

	dec := models.Decisions{Signals: []models.SignalDecision{{JunctionID: "J-1", Direction: models.South, Action: models.ActionGreen, Duration: 30}}}
	results := applier.Execute(context.Background(), dec)
	require.Len(t, results, 1)
	require.Equal(t, OutcomeApplied, results[0].Outcome)
	require.Contains(t, sim.greens, "J-1:S")

	j, _ := topo.Get("J-1")
	require.Equal(t, models.Green, j.Signals[models.South].Color)
}

func TestExecuteSuppressesWhenOverrideDiffers(t *testing.T) {
	now := time.Now()
	topo := newTestJunction(now, "", 0)
	sim := &fakeSignalController{}
	overrides := &fakeOverrides{active: map[string]models.ManualOverride{
		"J-1:N": {OverrideID: "OVR-1", Active: true},
	}}
	v := conflict.NewValidator(policy.DefaultSignalPolicy)
	applier := NewApplier(sim, overrides, v, topo, fixedClock(now), nil, nil, policy.DefaultSignalPolicy, nil)

	dec := models.Decisions{Signals: []models.SignalDecision{{JunctionID: "J-1", Direction: models.North, Action: models.ActionHold, Duration: 30}}}
	results := applier.Execute(context.Background(), dec)
	// HOLD matches the override's implicit GREEN only if decision action is GREEN;
	// here decision is HOLD so it differs from the override and is suppressed.
	require.Equal(t, OutcomeSuppressedOverride, results[0].Outcome)
}

func TestExecuteBridgesOutgoingGreenBeforeSwitching(t *testing.T) {
	now := time.Now()
	topo := newTestJunction(now, models.North, 15*time.Second)
	sim := &fakeSignalController{}
	v := conflict.NewValidator(policy.DefaultSignalPolicy)
	done := make(chan struct{}, 1)
	applier := NewApplier(sim, &fakeOverrides{}, v, topo, immediateClock{t: now, done: done}, nil, nil, policy.DefaultSignalPolicy, nil)

	dec := models.Decisions{Signals: []models.SignalDecision{{JunctionID: "J-1", Direction: models.East, Action: models.ActionGreen, Duration: 30}}}
	results := applier.Execute(context.Background(), dec)
	require.Equal(t, OutcomeApplied, results[0].Outcome)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for scheduled bridge completion")
	}

	require.Contains(t, sim.reds, "J-1:N")
	require.Contains(t, sim.greens, "J-1:E")

	j, _ := topo.Get("J-1")
	require.Equal(t, models.Red, j.Signals[models.North].Color)
	require.Equal(t, models.Green, j.Signals[models.East].Color)
}

func TestExecuteSuppressesUnsafeConcurrentGreenWhenOutgoingBelowMinGreen(t *testing.T) {
	now := time.Now()
	topo := newTestJunction(now, models.North, 2*time.Second)
	sim := &fakeSignalController{}
	v := conflict.NewValidator(policy.DefaultSignalPolicy)
	applier := NewApplier(sim, &fakeOverrides{}, v, topo, fixedClock(now), nil, nil, policy.DefaultSignalPolicy, nil)

	dec := models.Decisions{Signals: []models.SignalDecision{{JunctionID: "J-1", Direction: models.East, Action: models.ActionGreen, Duration: 30}}}
	results := applier.Execute(context.Background(), dec)
	require.Equal(t, OutcomeSuppressedUnsafe, results[0].Outcome)
	require.Empty(t, sim.greens)

	j, _ := topo.Get("J-1")
	require.Equal(t, models.Green, j.Signals[models.North].Color)
}

type stubClock struct{ t time.Time }

func fixedClock(t time.Time) clock.Clock { return stubClock{t} }

func (s stubClock) Now() time.Time { return s.t }
func (s stubClock) Every(ctx context.Context, period time.Duration, task func(context.Context)) {}
func (s stubClock) After(ctx context.Context, delay time.Duration, task func(context.Context))  {}
func (s stubClock) Sleep(ctx context.Context, d time.Duration) error                             { return nil }

// immediateClock runs After's task synchronously and, if done is non-nil,
// signals on it afterward so callers on another goroutine can wait
// deterministically rather than sleeping.
type immediateClock struct {
	t    time.Time
	done chan struct{}
}

func (c immediateClock) Now() time.Time { return c.t }
func (c immediateClock) Every(ctx context.Context, period time.Duration, task func(context.Context)) {
}
func (c immediateClock) After(ctx context.Context, delay time.Duration, task func(context.Context)) {
	task(ctx)
	if c.done != nil {
		c.done <- struct{}{}
	}
}
func (c immediateClock) Sleep(ctx context.Context, d time.Duration) error { return nil }
