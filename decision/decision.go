// Package decision implements the Decision Engine (component E): strategy
// arbitration across EMERGENCY, MANUAL, RL, and RULE_BASED producing one
// models.Decisions value per tick. The dispatch table generalizes a
// multi-strategy registry pattern into a fixed priority order, evaluated
// highest priority first.
package decision

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/trafficgrid/controller/clock"
	"github.com/trafficgrid/controller/models"
	"github.com/trafficgrid/controller/telemetry/logging"
	"github.com/trafficgrid/controller/telemetry/metrics"
	"github.com/trafficgrid/controller/telemetry/policy"
)

// MaxJunctions and ObservationSize pin the learned-policy observation grid at
// exactly 9 junctions. Grids with fewer junctions zero-pad; grids with more
// are truncated by sorted ID, logging a warning.
const (
	MaxJunctions    = 9
	FeaturesPerJunc = 7
	ObservationSize = MaxJunctions * FeaturesPerJunc
)

// Observation is the fixed-length encoding fed to the learned policy.
type Observation [ObservationSize]float64

// Actions is the learned policy's per-junction direction choice, one of
// {0:N, 1:E, 2:S, 3:W}.
type Actions [MaxJunctions]int

// Policy is the narrow capability interface for the injected RL policy.
type Policy interface {
	Predict(observation Observation, deterministic bool) (Actions, error)
	IsReady() bool
}

// Engine arbitrates between strategies and emits one Decisions per tick.
type Engine struct {
	SignalPolicy func() policy.SignalPolicy
	RLPolicy     Policy
	Clock        clock.Clock
	Logger       logging.Logger

	rlFallbackCount uint64
	rlFallbacks     metrics.Counter
	latencyHist     metrics.Histogram
}

// NewEngine wires an Engine. rlPolicy may be nil (RL strategy always falls
// back to rules). provider may be nil (metrics become noop).
func NewEngine(signalPolicy func() policy.SignalPolicy, rlPolicy Policy, clk clock.Clock, logger logging.Logger, provider metrics.Provider) *Engine {
	if signalPolicy == nil {
		signalPolicy = policy.DefaultSignalPolicy
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = logging.New(nil)
	}
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	return &Engine{
		SignalPolicy: signalPolicy,
		RLPolicy:     rlPolicy,
		Clock:        clk,
		Logger:       logger,
		rlFallbacks:  provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "trafficgrid", Subsystem: "decision", Name: "rl_fallback_total", Help: "RL policy failures that fell back to rules"}}),
		latencyHist:  provider.NewHistogram(metrics.HistogramOpts{CommonOpts: metrics.CommonOpts{Namespace: "trafficgrid", Subsystem: "decision", Name: "latency_ms", Help: "Decide() latency in milliseconds"}}),
	}
}

// RLFallbackCount returns how many times the learned policy has failed and
// control fell back to rules.
func (e *Engine) RLFallbackCount() uint64 { return e.rlFallbackCount }

// Decide arbitrates strategy and returns one tick's Decisions.
func (e *Engine) Decide(ctx context.Context, state models.PerceivedState, strategy models.Strategy) models.Decisions {
	start := e.Clock.Now()
	var dec models.Decisions
	dec.Timestamp = start

	switch {
	case state.EmergencyActive:
		dec.Signals = nil // Emergency Manager is the exclusive writer for corridor junctions.
		dec.StrategyUsed = models.StrategyEmergency
		dec.EmergencyOverride = true
	case len(state.ManualControls) > 0:
		dec.Signals = e.manualDecisions(state)
		dec.StrategyUsed = models.StrategyManual
	case strategy == models.StrategyRL && e.RLPolicy != nil && e.RLPolicy.IsReady():
		if len(state.JunctionDensities) > MaxJunctions {
			e.Logger.WarnCtx(ctx, "observation truncated to MaxJunctions", "junctions", len(state.JunctionDensities), "max", MaxJunctions)
		}
		signals, err := e.rlDecisions(state)
		if err != nil {
			e.rlFallbackCount++
			e.rlFallbacks.Inc(1)
			e.Logger.WarnCtx(ctx, "rl policy failed, falling back to rules", "error", err)
			dec.Signals = e.ruleDecisions(state)
			dec.StrategyUsed = models.StrategyRuleBased
		} else {
			dec.Signals = signals
			dec.StrategyUsed = models.StrategyRL
		}
	default:
		dec.Signals = e.ruleDecisions(state)
		dec.StrategyUsed = models.StrategyRuleBased
	}

	dec.Latency = e.Clock.Now().Sub(start)
	e.latencyHist.Observe(float64(dec.Latency) / float64(time.Millisecond))
	target := 50 * time.Millisecond
	if dec.StrategyUsed == models.StrategyRL {
		target = 100 * time.Millisecond
	}
	if dec.Latency > target {
		e.Logger.WarnCtx(ctx, "decision latency exceeded target", "strategy", dec.StrategyUsed, "latency", dec.Latency, "target", target)
	}
	return dec
}

// emergencyJunctions skips corridor junctions in the rule/RL/manual paths;
// the Emergency Manager is the sole writer of their signal direction.
func emergencyJunctions(state models.PerceivedState) map[string]struct{} {
	skip := make(map[string]struct{}, len(state.EmergencyCorridor))
	for _, id := range state.EmergencyCorridor {
		skip[id] = struct{}{}
	}
	return skip
}

func (e *Engine) manualDecisions(state models.PerceivedState) []models.SignalDecision {
	skip := emergencyJunctions(state)
	pol := e.SignalPolicy()
	out := make([]models.SignalDecision, 0, len(state.ManualControls))
	for _, mc := range state.ManualControls {
		if _, skipped := skip[mc.JunctionID]; skipped {
			continue
		}
		out = append(out, models.SignalDecision{
			JunctionID: mc.JunctionID,
			Direction:  mc.Direction,
			Action:     models.ActionGreen,
			Duration:   pol.DefaultGreenTime.Seconds(),
			Reason:     "Manual: operator-issued control",
		})
	}
	return out
}

func (e *Engine) ruleDecisions(state models.PerceivedState) []models.SignalDecision {
	skip := emergencyJunctions(state)
	pol := e.SignalPolicy()
	now := state.Timestamp

	ids := make([]string, 0, len(state.JunctionDensities))
	for id := range state.JunctionDensities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]models.SignalDecision, 0, len(ids))
	for _, id := range ids {
		if _, skipped := skip[id]; skipped {
			continue
		}
		jd := state.JunctionDensities[id]
		maxDir, maxScore := argmax(jd.ByDirection)

		curDir, curState, hasCurrent := currentGreen(state.SignalStates[id])
		if hasCurrent {
			elapsed := now.Sub(curState.LastChange)
			switch {
			case curDir == maxDir && elapsed < pol.MaxGreenTime:
				out = append(out, models.SignalDecision{
					JunctionID: id, Direction: curDir, Action: models.ActionHold,
					Duration: pol.DefaultGreenTime.Seconds(),
					Reason:   "Rule: Hold current green (still highest density)",
				})
				continue
			case elapsed < pol.MinGreenTime:
				out = append(out, models.SignalDecision{
					JunctionID: id, Direction: curDir, Action: models.ActionHold,
					Duration: pol.DefaultGreenTime.Seconds(),
					Reason:   "Rule: Min green time not reached",
				})
				continue
			}
		}
		out = append(out, models.SignalDecision{
			JunctionID: id, Direction: maxDir, Action: models.ActionGreen,
			Duration: pol.DefaultGreenTime.Seconds(),
			Reason:   fmt.Sprintf("Rule: Switch to highest density (%.1f)", maxScore),
		})
	}
	return out
}

func argmax(by map[models.Direction]float64) (models.Direction, float64) {
	best := models.North
	bestVal := -1.0
	for _, d := range models.AllDirections {
		v := by[d]
		if v > bestVal {
			bestVal = v
			best = d
		}
	}
	if bestVal < 0 {
		bestVal = 0
	}
	return best, bestVal
}

func currentGreen(signals map[models.Direction]models.SignalState) (models.Direction, models.SignalState, bool) {
	for _, d := range models.AllDirections {
		if s, ok := signals[d]; ok && s.Color == models.Green {
			return d, s, true
		}
	}
	return "", models.SignalState{}, false
}

func (e *Engine) rlDecisions(state models.PerceivedState) ([]models.SignalDecision, error) {
	skip := emergencyJunctions(state)
	pol := e.SignalPolicy()
	obs, ids := Encode(state)
	actions, err := e.RLPolicy.Predict(obs, true)
	if err != nil {
		return nil, err
	}
	out := make([]models.SignalDecision, 0, len(ids))
	for i, id := range ids {
		if id == "" {
			continue
		}
		if _, skipped := skip[id]; skipped {
			continue
		}
		dir := actionToDirection(actions[i])
		curDir, _, hasCurrent := currentGreen(state.SignalStates[id])
		if hasCurrent && curDir == dir {
			out = append(out, models.SignalDecision{JunctionID: id, Direction: dir, Action: models.ActionHold, Duration: pol.DefaultGreenTime.Seconds(), Reason: "RL: policy holds current direction"})
			continue
		}
		out = append(out, models.SignalDecision{JunctionID: id, Direction: dir, Action: models.ActionGreen, Duration: pol.DefaultGreenTime.Seconds(), Reason: "RL: policy selection"})
	}
	return out, nil
}

func actionToDirection(a int) models.Direction {
	switch a {
	case 0:
		return models.North
	case 1:
		return models.East
	case 2:
		return models.South
	default:
		return models.West
	}
}

// Encode builds the fixed 9x7 observation vector fed to the learned policy,
// returning alongside it the sorted junction IDs used for each slot (a
// zero-length ID marks a zero-padded slot beyond the real grid).
func Encode(state models.PerceivedState) (Observation, [MaxJunctions]string) {
	ids := make([]string, 0, len(state.JunctionDensities))
	for id := range state.JunctionDensities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var slots [MaxJunctions]string
	var obs Observation
	for i := 0; i < MaxJunctions && i < len(ids); i++ {
		slots[i] = ids[i]
		jd := state.JunctionDensities[ids[i]]
		base := i * FeaturesPerJunc
		obs[base+0] = clamp01(jd.ByDirection[models.North] / 100)
		obs[base+1] = clamp01(jd.ByDirection[models.East] / 100)
		obs[base+2] = clamp01(jd.ByDirection[models.South] / 100)
		obs[base+3] = clamp01(jd.ByDirection[models.West] / 100)
		obs[base+4] = clampMax(state.JunctionWaitTimes[ids[i]]/100, 1)
		obs[base+5] = float64(signalIndex(state.SignalStates[ids[i]])) / 3
		sum := jd.ByDirection[models.North] + jd.ByDirection[models.East] + jd.ByDirection[models.South] + jd.ByDirection[models.West]
		obs[base+6] = clampMax((sum/4)/50, 1)
	}
	return obs, slots
}

func signalIndex(signals map[models.Direction]models.SignalState) int {
	dir, _, ok := currentGreen(signals)
	if !ok {
		return 0
	}
	for i, d := range models.AllDirections {
		if d == dir {
			return i
		}
	}
	return 0
}

func clamp01(v float64) float64 { return clampMax(v, 1) }

func clampMax(v, max float64) float64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
