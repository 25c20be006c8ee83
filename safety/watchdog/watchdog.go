// Package watchdog implements the Safety Watchdog (component I): a set of
// periodic health checks that force the Mode Manager into FAIL_SAFE once a
// critical check accumulates its configured number of consecutive failures.
// Built on the same probe-and-escalate shape as telemetry/health.Evaluator,
// generalized from service-health probes to controller-safety checks.
package watchdog

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/trafficgrid/controller/clock"
	"github.com/trafficgrid/controller/models"
	"github.com/trafficgrid/controller/safety/conflict"
	"github.com/trafficgrid/controller/telemetry/logging"
	"github.com/trafficgrid/controller/telemetry/metrics"
	"github.com/trafficgrid/controller/topology"
)

// ModeManager is the narrow slice of safety/mode.Manager the Watchdog escalates through.
type ModeManager interface {
	EnterFailSafe(reason string)
	CurrentMode() models.SystemMode
	Duration() time.Duration
}

// CheckFunc runs one health check, returning nil on success.
type CheckFunc func(ctx context.Context) error

// HealthCheck is one named, independently scheduled probe.
type HealthCheck struct {
	Name        string
	Run         CheckFunc
	Critical    bool
	Interval    time.Duration
	Timeout     time.Duration
	MaxFailures int
}

type checkState struct {
	consecutiveFailures int
	lastErr             error
	lastRun             time.Time
}

// Watchdog runs every registered HealthCheck on its own interval and
// escalates to FAIL_SAFE when a critical check's failure streak reaches its
// MaxFailures.
type Watchdog struct {
	mu     sync.Mutex
	checks []HealthCheck
	state  map[string]*checkState

	mode   ModeManager
	clock  clock.Clock
	logger logging.Logger

	trips metrics.Counter
}

// New wires a Watchdog against mgr. logger/provider may be nil.
func New(mgr ModeManager, clk clock.Clock, logger logging.Logger, provider metrics.Provider) *Watchdog {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = logging.New(nil)
	}
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	return &Watchdog{
		state:  make(map[string]*checkState),
		mode:   mgr,
		clock:  clk,
		logger: logger,
		trips: provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "trafficgrid", Subsystem: "watchdog", Name: "failsafe_trips_total", Help: "FAIL_SAFE entries triggered by a critical check",
		}}),
	}
}

// Register adds a HealthCheck. Call before Start.
func (w *Watchdog) Register(hc HealthCheck) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.checks = append(w.checks, hc)
	w.state[hc.Name] = &checkState{}
}

// Start launches one scheduled goroutine per registered check via the Clock's
// Every primitive, returning when ctx is cancelled.
func (w *Watchdog) Start(ctx context.Context) {
	w.mu.Lock()
	checks := append([]HealthCheck(nil), w.checks...)
	w.mu.Unlock()
	for _, hc := range checks {
		hc := hc
		go w.clock.Every(ctx, hc.Interval, func(ctx context.Context) {
			w.runOne(ctx, hc)
		})
	}
}

func (w *Watchdog) runOne(ctx context.Context, hc HealthCheck) {
	if hc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hc.Timeout)
		defer cancel()
	}
	err := hc.Run(ctx)

	w.mu.Lock()
	st := w.state[hc.Name]
	st.lastRun = w.clock.Now()
	st.lastErr = err
	if err == nil {
		st.consecutiveFailures = 0
		w.mu.Unlock()
		return
	}
	st.consecutiveFailures++
	failures := st.consecutiveFailures
	w.mu.Unlock()

	w.logger.WarnCtx(ctx, "health check failed", "check", hc.Name, "error", err, "consecutive", failures)
	if hc.Critical && failures >= hc.MaxFailures {
		w.trips.Inc(1)
		w.mode.EnterFailSafe("watchdog: " + hc.Name + " failed " + strconv.Itoa(failures) + " consecutive times: " + err.Error())
	}
}

// Snapshot returns each check's current consecutive-failure count.
func (w *Watchdog) Snapshot() map[string]int {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]int, len(w.state))
	for name, st := range w.state {
		out[name] = st.consecutiveFailures
	}
	return out
}

// Standard check constructors. Heartbeat/Latency/ModeValidity take value
// providers rather than owning state, keeping the Watchdog itself dependency-free.

// HeartbeatCheck fails when the agent's last tick is older than maxAge.
func HeartbeatCheck(lastTick func() time.Time, now func() time.Time, maxAge time.Duration) CheckFunc {
	return func(ctx context.Context) error {
		if now().Sub(lastTick()) > maxAge {
			return errHeartbeatStale
		}
		return nil
	}
}

// SignalConflictCheck fails when any junction in topo has more than one
// concurrent GREEN.
func SignalConflictCheck(topo *topology.Registry) CheckFunc {
	return func(ctx context.Context) error {
		for _, j := range topo.All() {
			if ok, greens := conflict.ValidateFullJunction(j.Signals); !ok {
				return &conflictError{junction: j.ID, directions: greens}
			}
		}
		return nil
	}
}

// DecisionLatencyCheck fails when the last observed decision latency exceeds max.
func DecisionLatencyCheck(lastLatency func() time.Duration, max time.Duration) CheckFunc {
	return func(ctx context.Context) error {
		if lastLatency() > max {
			return errLatencyExceeded
		}
		return nil
	}
}

// ModeValidityCheck fails when the controller has been stuck in EMERGENCY
// mode for longer than maxEmergencyDwell, which signals a corridor session
// that never completed or was never cancelled.
func ModeValidityCheck(mgr ModeManager, maxEmergencyDwell time.Duration) CheckFunc {
	return func(ctx context.Context) error {
		if mgr.CurrentMode() == models.ModeEmergency && mgr.Duration() > maxEmergencyDwell {
			return &emergencyDwellError{dwell: mgr.Duration(), max: maxEmergencyDwell}
		}
		return nil
	}
}

type conflictError struct {
	junction   string
	directions []string
}

func (e *conflictError) Error() string {
	s := "junction " + e.junction + " has concurrent GREEN on:"
	for _, d := range e.directions {
		s += " " + d
	}
	return s
}

type emergencyDwellError struct {
	dwell time.Duration
	max   time.Duration
}

func (e *emergencyDwellError) Error() string {
	return "stuck in EMERGENCY mode for " + e.dwell.String() + ", exceeding " + e.max.String()
}

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const (
	errHeartbeatStale  = sentinelError("agent heartbeat stale")
	errLatencyExceeded = sentinelError("decision latency exceeded threshold")
)
