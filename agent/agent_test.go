package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trafficgrid/controller/action"
	"github.com/trafficgrid/controller/clock"
	"github.com/trafficgrid/controller/decision"
	"github.com/trafficgrid/controller/density"
	"github.com/trafficgrid/controller/models"
	"github.com/trafficgrid/controller/perception"
	"github.com/trafficgrid/controller/safety/conflict"
	"github.com/trafficgrid/controller/telemetry/logging"
	"github.com/trafficgrid/controller/telemetry/policy"
	"github.com/trafficgrid/controller/topology"
)

type immediateClock struct{ now time.Time }

func (c immediateClock) Now() time.Time { return c.now }
func (c immediateClock) Every(ctx context.Context, period time.Duration, task func(context.Context)) {
	task(ctx)
}
func (c immediateClock) After(ctx context.Context, delay time.Duration, task func(context.Context)) {
	task(ctx)
}
func (c immediateClock) Sleep(ctx context.Context, d time.Duration) error { return nil }

type fakeSim struct{}

func (fakeSim) GetVehicles() []models.Vehicle             { return nil }
func (fakeSim) GetManualControls() []models.ManualControl { return nil }
func (fakeSim) GetRecentViolations() []models.Violation   { return nil }
func (fakeSim) SetSignalGreen(string, models.Direction, float64) {}
func (fakeSim) SetSignalRed(string, models.Direction)             {}

type fakeOverrides struct{}

func (fakeOverrides) ActiveOverrideFor(string, models.Direction) (models.ManualOverride, bool) {
	return models.ManualOverride{}, false
}
func (fakeOverrides) AgentDisabled() bool { return false }

type capturingSink struct{ logs []models.AgentLog }

func (s *capturingSink) WriteAgentLog(l models.AgentLog) { s.logs = append(s.logs, l) }

func TestRunCycleProducesSnapshotAndLog(t *testing.T) {
	now := time.Now()
	signals := map[models.Direction]models.SignalState{}
	for _, d := range models.AllDirections {
		signals[d] = models.SignalState{Color: models.Red, LastChange: now.Add(-time.Hour)}
	}
	topo := topology.NewRegistry([]models.Junction{{ID: "J-1", Signals: signals, ConnectedRoads: map[models.Direction]string{}}})
	clk := immediateClock{now: now}
	dens := density.NewTracker(time.Minute, 100, nil)

	p := perception.NewPerceiver(fakeSim{}, dens, topo, nil, clk, nil)
	e := decision.NewEngine(policy.DefaultSignalPolicy, nil, clk, logging.New(nil), nil)
	v := conflict.NewValidator(policy.DefaultSignalPolicy)
	sim := fakeSim{}
	applier := action.NewApplier(sim, fakeOverrides{}, v, topo, clk, nil, nil, policy.DefaultSignalPolicy, nil)
	sink := &capturingSink{}

	loop := New(p, e, applier, fakeOverrides{}, nil, sink, nil, clk, logging.New(nil), nil, time.Second, 5)
	loop.runCycle(context.Background())

	snap := loop.Snapshot()
	require.Equal(t, uint64(1), snap.Tick)
	require.Len(t, sink.logs, 1)
}

func TestPauseResumeTogglesPaused(t *testing.T) {
	loop := &Loop{}
	loop.Pause()
	require.True(t, loop.Paused())
	loop.Resume()
	require.False(t, loop.Paused())
}
