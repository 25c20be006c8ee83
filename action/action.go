// Package action implements the Action Applier (component F): it pushes
// each models.SignalDecision through the signal-control capability,
// suppressing anything the Manual Override Registry or the Conflict
// Validator rejects, and bridges every GREEN→RED transition through YELLOW
// using the Clock's one-shot scheduling primitive. A GREEN decision that
// targets a junction where another direction is already GREEN is itself
// responsible for bridging that outgoing direction through YELLOW first —
// the Conflict Validator only ever reports a proposed change unsafe, it
// never mutates state to make room for one.
package action

import (
	"context"
	"time"

	"github.com/trafficgrid/controller/clock"
	"github.com/trafficgrid/controller/models"
	"github.com/trafficgrid/controller/safety/conflict"
	"github.com/trafficgrid/controller/telemetry/events"
	"github.com/trafficgrid/controller/telemetry/logging"
	"github.com/trafficgrid/controller/telemetry/metrics"
	"github.com/trafficgrid/controller/telemetry/policy"
	"github.com/trafficgrid/controller/topology"
)

// SignalController is the narrow slice of the Simulator capability the
// Applier submits accepted state changes through.
type SignalController interface {
	SetSignalGreen(junctionID string, direction models.Direction, duration float64)
	SetSignalRed(junctionID string, direction models.Direction)
}

// OverrideChecker is the narrow slice of the override.Registry the Applier
// consults before every application.
type OverrideChecker interface {
	ActiveOverrideFor(junctionID string, direction models.Direction) (models.ManualOverride, bool)
}

// Outcome classifies what happened to one SignalDecision.
type Outcome string

const (
	OutcomeApplied            Outcome = "applied"
	OutcomeSuppressedOverride Outcome = "suppressed_by_override"
	OutcomeSuppressedUnsafe   Outcome = "unsafe"
)

// Result is the per-decision record the caller (Agent Loop) may inspect or log.
type Result struct {
	Decision models.SignalDecision
	Outcome  Outcome
	Detail   string
}

// Applier applies Decisions, one SignalDecision at a time.
type Applier struct {
	Sim       SignalController
	Override  OverrideChecker
	Validator *conflict.Validator
	Topology  *topology.Registry
	Clock     clock.Clock
	Bus       events.Bus
	Logger    logging.Logger
	Policy    func() policy.SignalPolicy

	applied    metrics.Counter
	suppressed metrics.Counter
}

// NewApplier wires an Applier. bus/provider may be nil.
func NewApplier(sim SignalController, override OverrideChecker, validator *conflict.Validator, topo *topology.Registry, clk clock.Clock, bus events.Bus, logger logging.Logger, pol func() policy.SignalPolicy, provider metrics.Provider) *Applier {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = logging.New(nil)
	}
	if pol == nil {
		pol = policy.DefaultSignalPolicy
	}
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	return &Applier{
		Sim: sim, Override: override, Validator: validator, Topology: topo,
		Clock: clk, Bus: bus, Logger: logger, Policy: pol,
		applied:    provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "trafficgrid", Subsystem: "action", Name: "applied_total", Help: "Signal decisions applied"}}),
		suppressed: provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "trafficgrid", Subsystem: "action", Name: "suppressed_total", Help: "Signal decisions suppressed", Labels: []string{"reason"}}}),
	}
}

// Execute applies every decision in dec, returning one Result per decision
// in order.
func (a *Applier) Execute(ctx context.Context, dec models.Decisions) []Result {
	out := make([]Result, 0, len(dec.Signals))
	for _, sd := range dec.Signals {
		out = append(out, a.applyOne(ctx, sd))
	}
	return out
}

func (a *Applier) applyOne(ctx context.Context, sd models.SignalDecision) Result {
	if a.Override != nil {
		if ov, active := a.Override.ActiveOverrideFor(sd.JunctionID, sd.Direction); active {
			if overrideAction(ov) != sd.Action {
				a.suppressed.Inc(1, "override")
				a.Logger.WarnCtx(ctx, "decision suppressed by override", "junction", sd.JunctionID, "direction", sd.Direction)
				return Result{Decision: sd, Outcome: OutcomeSuppressedOverride, Detail: "active override: " + ov.OverrideID}
			}
		}
	}

	if sd.Action == models.ActionHold {
		return Result{Decision: sd, Outcome: OutcomeApplied, Detail: "hold, no mutation"}
	}

	if a.Topology == nil {
		return Result{Decision: sd, Outcome: OutcomeApplied}
	}
	junction, ok := a.Topology.Get(sd.JunctionID)
	if !ok {
		return Result{Decision: sd, Outcome: OutcomeSuppressedUnsafe, Detail: "unknown junction"}
	}
	now := a.Clock.Now()
	target := actionToColor(sd.Action)

	if target == models.Green {
		if outgoing, has := otherGreen(junction.Signals, sd.Direction); has {
			if a.Validator != nil {
				if ok, reason := a.Validator.Validate(outgoing, models.Red, junction.Signals, now); !ok {
					a.suppressed.Inc(1, "unsafe")
					a.Logger.WarnCtx(ctx, "decision suppressed as unsafe", "junction", sd.JunctionID, "direction", sd.Direction, "reason", reason)
					return Result{Decision: sd, Outcome: OutcomeSuppressedUnsafe, Detail: reason}
				}
			}
			a.bridgeOutgoingThenApply(ctx, sd, outgoing, now)
			a.applied.Inc(1)
			return Result{Decision: sd, Outcome: OutcomeApplied, Detail: "bridging outgoing " + string(outgoing) + " through YELLOW"}
		}
	}

	if a.Validator != nil {
		if ok, reason := a.Validator.Validate(sd.Direction, target, junction.Signals, now); !ok {
			a.suppressed.Inc(1, "unsafe")
			a.Logger.WarnCtx(ctx, "decision suppressed as unsafe", "junction", sd.JunctionID, "direction", sd.Direction, "reason", reason)
			return Result{Decision: sd, Outcome: OutcomeSuppressedUnsafe, Detail: reason}
		}
	}

	current := junction.Signals[sd.Direction]
	if target == models.Red && current.Color == models.Green {
		a.bridgeThroughYellow(ctx, sd, now)
	} else {
		a.commit(ctx, sd.JunctionID, sd.Direction, target, sd.Duration, now)
	}
	a.applied.Inc(1)
	return Result{Decision: sd, Outcome: OutcomeApplied}
}

// otherGreen reports the first direction other than direction that is
// currently GREEN at the junction, if any.
func otherGreen(signals map[models.Direction]models.SignalState, direction models.Direction) (models.Direction, bool) {
	for _, d := range models.AllDirections {
		if d == direction {
			continue
		}
		if signals[d].Color == models.Green {
			return d, true
		}
	}
	return "", false
}

// bridgeThroughYellow ensures a GREEN->RED transition passes through YELLOW
// for the policy's YellowDuration before landing on RED. The RED landing is
// scheduled as a one-shot task on the Clock's cooperative after() primitive
// rather than blocking Execute.
func (a *Applier) bridgeThroughYellow(ctx context.Context, sd models.SignalDecision, now time.Time) {
	a.Topology.Mutate(sd.JunctionID, func(j *models.Junction) {
		j.Signals[sd.Direction] = models.SignalState{Color: models.Yellow, LastChange: now}
	})
	yellow := a.Policy().YellowDuration
	go a.Clock.After(ctx, yellow, func(ctx context.Context) {
		a.commit(ctx, sd.JunctionID, sd.Direction, models.Red, sd.Duration, a.Clock.Now())
	})
}

// bridgeOutgoingThenApply is the caller-owned YELLOW bridge for a GREEN
// decision that targets a junction where outgoing is currently GREEN on a
// different direction: the outgoing direction is bridged YELLOW->RED first,
// honoring YellowDuration, and only once it lands on RED is the new
// direction's GREEN committed. This keeps at most one direction GREEN at a
// junction through the whole transition.
func (a *Applier) bridgeOutgoingThenApply(ctx context.Context, sd models.SignalDecision, outgoing models.Direction, now time.Time) {
	a.Topology.Mutate(sd.JunctionID, func(j *models.Junction) {
		j.Signals[outgoing] = models.SignalState{Color: models.Yellow, LastChange: now}
	})
	yellow := a.Policy().YellowDuration
	go a.Clock.After(ctx, yellow, func(ctx context.Context) {
		landed := a.Clock.Now()
		a.commit(ctx, sd.JunctionID, outgoing, models.Red, 0, landed)
		a.commit(ctx, sd.JunctionID, sd.Direction, models.Green, sd.Duration, landed)
	})
}

// commit submits the accepted change to the simulator capability and updates
// the canonical topology registry.
func (a *Applier) commit(ctx context.Context, junctionID string, direction models.Direction, color models.SignalColor, duration float64, now time.Time) {
	if a.Sim != nil {
		switch color {
		case models.Green:
			a.Sim.SetSignalGreen(junctionID, direction, duration)
		case models.Red:
			a.Sim.SetSignalRed(junctionID, direction)
		}
	}
	a.Topology.Mutate(junctionID, func(j *models.Junction) {
		j.Signals[direction] = models.SignalState{Color: color, Duration: duration, LastChange: now}
	})
	if a.Bus != nil {
		_ = a.Bus.PublishCtx(ctx, events.Event{
			Category: events.CategorySignal, Type: "signal.change",
			Fields: map[string]interface{}{"junctionId": junctionID, "direction": string(direction), "color": string(color)},
		})
	}
}

func actionToColor(a models.DecisionAction) models.SignalColor {
	if a == models.ActionGreen {
		return models.Green
	}
	return models.Red
}

func overrideAction(o models.ManualOverride) models.DecisionAction {
	// JUNCTION_SIGNAL overrides always force GREEN on their target direction;
	// the Conflict Validator rejects GREEN on any other direction while this
	// one is GREEN.
	return models.ActionGreen
}
