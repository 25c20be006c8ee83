// Package conflict implements the Conflict Validator (component G): a pure
// function deciding whether a proposed signal change is safe, checked in a
// fixed three-phase order: no concurrent GREEN directions, minimum green/red
// timing, then reachability. It does not check emergency-corridor precedence.
package conflict

import (
	"time"

	"github.com/trafficgrid/controller/models"
	"github.com/trafficgrid/controller/telemetry/policy"
)

// Validator checks proposed signal transitions against the shared
// policy.SignalPolicy timing constants — the same value the rule-based
// Decision Engine reads, so the two never enforce different minimum-green
// durations.
type Validator struct {
	Policy func() policy.SignalPolicy
}

// NewValidator returns a Validator reading live policy from policyFn.
func NewValidator(policyFn func() policy.SignalPolicy) *Validator {
	if policyFn == nil {
		policyFn = policy.DefaultSignalPolicy
	}
	return &Validator{Policy: policyFn}
}

// Validate checks whether direction at junction may transition to target,
// given the junction's current signal map and now. Returns (true, "") if
// safe, else (false, reason).
func (v *Validator) Validate(direction models.Direction, target models.SignalColor, signals map[models.Direction]models.SignalState, now time.Time) (bool, string) {
	pol := v.Policy()
	current, has := signals[direction]

	// Phase 1: no concurrent GREEN.
	if target == models.Green {
		for d, s := range signals {
			if d == direction {
				continue
			}
			if s.Color == models.Green {
				return false, "another direction is already GREEN"
			}
		}
	}

	// Phase 2: timing.
	if has {
		elapsed := now.Sub(current.LastChange)
		if current.Color == models.Green && target != models.Green {
			if elapsed < pol.MinGreenTime {
				return false, "minimum GREEN time not elapsed"
			}
		}
		if current.Color == models.Red && target == models.Green {
			if elapsed < pol.MinRedTime {
				return false, "minimum RED time not elapsed"
			}
		}
	}

	// Phase 3: reachability. YELLOW and RED are always reachable; GREEN is
	// reachable only from RED (callers are responsible for the YELLOW bridge
	// on the outgoing direction).
	if target == models.Green && has && current.Color == models.Yellow {
		return false, "cannot enter GREEN directly from YELLOW"
	}

	return true, ""
}

// ValidateFullJunction reports every direction at risk of the single-green
// invariant (I1): more than one concurrent GREEN. Used by the Watchdog's
// signal_conflicts check.
func ValidateFullJunction(signals map[models.Direction]models.SignalState) (bool, []string) {
	var greens []string
	for d, s := range signals {
		if s.Color == models.Green {
			greens = append(greens, string(d))
		}
	}
	if len(greens) > 1 {
		return false, greens
	}
	return true, nil
}
