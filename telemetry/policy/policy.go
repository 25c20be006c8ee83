// Package policy centralizes runtime-tunable controller knobs behind an
// atomically swapped snapshot, generalized from telemetry-tuning policy
// snapshots into the signal-timing and density-classification constants the
// Decision Engine and Conflict Validator both read, giving both readers one
// shared value instead of two independently drifting copies.
package policy

import "time"

// SignalPolicy holds the timing constants shared by decision.Engine (rule
// path) and safety/conflict.Validator. Unifying them here means neither can
// drift independently of the other.
type SignalPolicy struct {
	MinGreenTime     time.Duration
	MaxGreenTime     time.Duration
	DefaultGreenTime time.Duration
	MinRedTime       time.Duration
	YellowDuration   time.Duration
}

// DefaultSignalPolicy returns the controller's documented signal-timing defaults.
func DefaultSignalPolicy() SignalPolicy {
	return SignalPolicy{
		MinGreenTime:     10 * time.Second,
		MaxGreenTime:     60 * time.Second,
		DefaultGreenTime: 30 * time.Second,
		MinRedTime:       2 * time.Second,
		YellowDuration:   3 * time.Second,
	}
}

// DensityThresholds holds the density/congestion classification cutoffs read
// by density.Tracker.
type DensityThresholds struct {
	LowVehicleCount    int
	MediumVehicleCount int
	LowScore           float64
	MediumScore        float64
	JunctionMediumMax  float64 // max-density cutoff for junction MEDIUM congestion
	JunctionHighMax    float64 // max-density cutoff for junction HIGH congestion
}

// DefaultDensityThresholds returns the controller's documented density-classification defaults.
func DefaultDensityThresholds() DensityThresholds {
	return DensityThresholds{
		LowVehicleCount:    5,
		MediumVehicleCount: 12,
		LowScore:           40,
		MediumScore:        70,
		JunctionMediumMax:  40,
		JunctionHighMax:    70,
	}
}

// Policy is the full atomically-swapped controller policy snapshot.
type Policy struct {
	Signal  SignalPolicy
	Density DensityThresholds
}

// Default returns the documented defaults for every policy knob.
func Default() Policy {
	return Policy{Signal: DefaultSignalPolicy(), Density: DefaultDensityThresholds()}
}

// Normalize fills any zero-valued field with its default, returning a clean copy.
func (p Policy) Normalize() Policy {
	d := Default()
	c := p
	if c.Signal.MinGreenTime <= 0 {
		c.Signal.MinGreenTime = d.Signal.MinGreenTime
	}
	if c.Signal.MaxGreenTime <= 0 {
		c.Signal.MaxGreenTime = d.Signal.MaxGreenTime
	}
	if c.Signal.DefaultGreenTime <= 0 {
		c.Signal.DefaultGreenTime = d.Signal.DefaultGreenTime
	}
	if c.Signal.MinRedTime <= 0 {
		c.Signal.MinRedTime = d.Signal.MinRedTime
	}
	if c.Signal.YellowDuration <= 0 {
		c.Signal.YellowDuration = d.Signal.YellowDuration
	}
	if c.Density.LowVehicleCount <= 0 {
		c.Density.LowVehicleCount = d.Density.LowVehicleCount
	}
	if c.Density.MediumVehicleCount <= 0 {
		c.Density.MediumVehicleCount = d.Density.MediumVehicleCount
	}
	if c.Density.LowScore <= 0 {
		c.Density.LowScore = d.Density.LowScore
	}
	if c.Density.MediumScore <= 0 {
		c.Density.MediumScore = d.Density.MediumScore
	}
	if c.Density.JunctionMediumMax <= 0 {
		c.Density.JunctionMediumMax = d.Density.JunctionMediumMax
	}
	if c.Density.JunctionHighMax <= 0 {
		c.Density.JunctionHighMax = d.Density.JunctionHighMax
	}
	return c
}
