// Package xerrors defines the controller's five-category error taxonomy.
// Every boundary in the system returns one of these wrapper types (or a
// sentinel) rather than a bare fmt.Errorf, so callers can branch with
// errors.As instead of string matching; types that wrap a cause are
// Unwrap-compatible.
package xerrors

import "fmt"

// TransientExternal wraps a failed call to an external collaborator
// (simulator, policy, log sink). Callers retry or fall back; it never aborts
// a tick.
type TransientExternal struct {
	Component string
	Err       error
}

func (e *TransientExternal) Error() string {
	return fmt.Sprintf("transient external error in %s: %v", e.Component, e.Err)
}
func (e *TransientExternal) Unwrap() error { return e.Err }

// InvariantViolation signals a detected breach of a data-model invariant
// (e.g. two GREEN directions at one junction). Triggers immediate fail-safe.
type InvariantViolation struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant %s violated: %s", e.Invariant, e.Detail)
}

// ScheduleStall signals a cooperative task missed its expected cadence (e.g.
// the agent heartbeat). Triggers the watchdog's critical-check escalation.
type ScheduleStall struct {
	Task        string
	SinceLastOK string
}

func (e *ScheduleStall) Error() string {
	return fmt.Sprintf("%s stalled (last ok %s ago)", e.Task, e.SinceLastOK)
}

// InvalidRequest is returned at a control-plane boundary when the caller's
// request cannot be satisfied without mutating state (e.g. activating an
// emergency while one is already active). The caller's state is untouched.
type InvalidRequest struct {
	Reason string
}

func (e *InvalidRequest) Error() string { return e.Reason }

// ConfigError is returned only during startup/reload; a running core never
// observes one.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for %s: %s", e.Key, e.Reason)
}
