package decision

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trafficgrid/controller/clock"
	"github.com/trafficgrid/controller/models"
	"github.com/trafficgrid/controller/telemetry/logging"
	"github.com/trafficgrid/controller/telemetry/policy"
)

func fixedClock(t time.Time) clock.Clock { return stubClock{t} }

type stubClock struct{ t time.Time }

func (s stubClock) Now() time.Time { return s.t }
func (s stubClock) Every(ctx context.Context, period time.Duration, task func(context.Context)) {}
func (s stubClock) After(ctx context.Context, delay time.Duration, task func(context.Context))  {}
func (s stubClock) Sleep(ctx context.Context, d time.Duration) error                             { return nil }

func newEngine(now time.Time) *Engine {
	return NewEngine(policy.DefaultSignalPolicy, nil, fixedClock(now), logging.New(nil), nil)
}

// Scenario 1: single-junction rule-based switch.
func TestRuleBasedSwitchToHighestDensity(t *testing.T) {
	now := time.Now()
	e := newEngine(now)
	state := models.PerceivedState{
		Timestamp: now,
		JunctionDensities: map[string]models.JunctionDensityData{
			"J-1": {ByDirection: map[models.Direction]float64{models.North: 8, models.East: 2, models.South: 1, models.West: 1}},
		},
		SignalStates: map[string]map[models.Direction]models.SignalState{
			"J-1": {models.East: {Color: models.Green, LastChange: now.Add(-12 * time.Second)}},
		},
	}
	dec := e.Decide(context.Background(), state, models.StrategyRuleBased)
	require.Equal(t, models.StrategyRuleBased, dec.StrategyUsed)
	require.Len(t, dec.Signals, 1)
	sd := dec.Signals[0]
	require.Equal(t, "J-1", sd.JunctionID)
	require.Equal(t, models.North, sd.Direction)
	require.Equal(t, models.ActionGreen, sd.Action)
	require.InDelta(t, 30.0, sd.Duration, 0.001)
	require.Contains(t, sd.Reason, "Switch to highest density (8.0)")
}

// Scenario 2: min-green guard.
func TestRuleBasedMinGreenGuard(t *testing.T) {
	now := time.Now()
	e := newEngine(now)
	state := models.PerceivedState{
		Timestamp: now,
		JunctionDensities: map[string]models.JunctionDensityData{
			"J-1": {ByDirection: map[models.Direction]float64{models.North: 8, models.East: 2, models.South: 1, models.West: 1}},
		},
		SignalStates: map[string]map[models.Direction]models.SignalState{
			"J-1": {models.East: {Color: models.Green, LastChange: now.Add(-4 * time.Second)}},
		},
	}
	dec := e.Decide(context.Background(), state, models.StrategyRuleBased)
	require.Len(t, dec.Signals, 1)
	sd := dec.Signals[0]
	require.Equal(t, models.East, sd.Direction)
	require.Equal(t, models.ActionHold, sd.Action)
	require.True(t, strings.HasPrefix(sd.Reason, "Rule: Min green time not reached"))
}

// Scenario 3: emergency takeover skips corridor junctions entirely.
func TestEmergencyTakeoverSkipsCorridorJunctions(t *testing.T) {
	now := time.Now()
	e := newEngine(now)
	state := models.PerceivedState{
		Timestamp:         now,
		EmergencyActive:   true,
		EmergencyCorridor: []string{"J-2", "J-3", "J-4"},
		JunctionDensities: map[string]models.JunctionDensityData{
			"J-2": {ByDirection: map[models.Direction]float64{models.North: 9}},
		},
	}
	dec := e.Decide(context.Background(), state, models.StrategyRuleBased)
	require.Equal(t, models.StrategyEmergency, dec.StrategyUsed)
	require.True(t, dec.EmergencyOverride)
	require.Empty(t, dec.Signals)
}

func TestEncodePadsAndOrdersBySortedID(t *testing.T) {
	state := models.PerceivedState{
		JunctionDensities: map[string]models.JunctionDensityData{
			"J-2": {ByDirection: map[models.Direction]float64{models.North: 50, models.East: 0, models.South: 0, models.West: 0}},
			"J-1": {ByDirection: map[models.Direction]float64{models.North: 100}},
		},
	}
	obs, ids := Encode(state)
	require.Equal(t, "J-1", ids[0])
	require.Equal(t, "J-2", ids[1])
	require.Equal(t, "", ids[2])
	require.InDelta(t, 1.0, obs[0], 0.001) // J-1 density N, clamped
	for i := len(state.JunctionDensities) * FeaturesPerJunc; i < ObservationSize; i++ {
		require.Zero(t, obs[i])
	}
}
