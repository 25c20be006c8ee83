// Package agent implements the Agent Control Loop (component M): the
// fixed-cadence perceive -> decide -> execute -> monitor cycle that ties
// every other component together. A single driving goroutine dispatches
// into narrow collaborators, the same facade-composition shape a crawl
// engine's fetch/parse/store run loop uses, generalized here into a
// sense/decide/act/watch cycle.
package agent

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trafficgrid/controller/action"
	"github.com/trafficgrid/controller/clock"
	"github.com/trafficgrid/controller/decision"
	"github.com/trafficgrid/controller/models"
	"github.com/trafficgrid/controller/perception"
	"github.com/trafficgrid/controller/telemetry/events"
	"github.com/trafficgrid/controller/telemetry/logging"
	"github.com/trafficgrid/controller/telemetry/metrics"
)

// OverrideGate is the narrow override.Registry slice the loop consults every
// tick to decide whether it should run at all.
type OverrideGate interface {
	AgentDisabled() bool
}

// ModeReader is the narrow safety/mode.Manager slice the loop reads to pick
// a decision strategy and to stamp AgentLog.Mode.
type ModeReader interface {
	CurrentMode() models.SystemMode
}

// LogSink is the narrow logsink.Sink slice the loop writes its per-cycle
// audit record through.
type LogSink interface {
	WriteAgentLog(models.AgentLog)
}

// Snapshot is the most recent cycle's observable state, read by the
// Operator Console and tests.
type Snapshot struct {
	Tick      uint64
	State     models.PerceivedState
	Decisions models.Decisions
	Results   []action.Result
	Err       error
}

// Loop drives perceive -> decide -> execute once per Interval, stopping
// itself after MaxConsecutiveErrors straight cycle failures.
type Loop struct {
	Perceiver *perception.Perceiver
	Engine    *decision.Engine
	Applier   *action.Applier
	Override  OverrideGate
	Mode      ModeReader
	Sink      LogSink
	Bus       events.Bus
	Clock     clock.Clock
	Logger    logging.Logger

	Interval             time.Duration
	MaxConsecutiveErrors int
	Strategy             models.Strategy

	mu           sync.RWMutex
	snapshot     Snapshot
	paused       atomic.Bool
	tick         atomic.Uint64
	consecutiveErrors int

	cancel context.CancelFunc
	done   chan struct{}

	ticks    metrics.Counter
	errors   metrics.Counter
	latency  metrics.Histogram
}

// New wires a Loop. Bus/Sink/Logger/provider may be nil.
func New(p *perception.Perceiver, e *decision.Engine, a *action.Applier, override OverrideGate, mode ModeReader, sink LogSink, bus events.Bus, clk clock.Clock, logger logging.Logger, provider metrics.Provider, interval time.Duration, maxConsecutiveErrors int) *Loop {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = logging.New(nil)
	}
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	if interval <= 0 {
		interval = time.Second
	}
	if maxConsecutiveErrors <= 0 {
		maxConsecutiveErrors = 5
	}
	l := &Loop{
		Perceiver: p, Engine: e, Applier: a, Override: override, Mode: mode, Sink: sink, Bus: bus,
		Clock: clk, Logger: logger, Interval: interval, MaxConsecutiveErrors: maxConsecutiveErrors,
		Strategy: models.StrategyRuleBased,
	}
	l.ticks = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "trafficgrid", Subsystem: "agent", Name: "ticks_total", Help: "Agent loop cycles executed"}})
	l.errors = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "trafficgrid", Subsystem: "agent", Name: "errors_total", Help: "Agent loop cycles that errored"}})
	l.latency = provider.NewHistogram(metrics.HistogramOpts{CommonOpts: metrics.CommonOpts{Namespace: "trafficgrid", Subsystem: "agent", Name: "cycle_latency_ms", Help: "Agent loop cycle latency in milliseconds"}})
	return l
}

// Start launches the loop's driving goroutine. Returns immediately; call
// Stop or cancel the parent context to terminate.
func (l *Loop) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go func() {
		defer close(l.done)
		l.Clock.Every(ctx, l.Interval, l.runCycle)
	}()
}

// Stop cancels the loop and waits for its goroutine to exit.
func (l *Loop) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	if l.done != nil {
		<-l.done
	}
}

// Pause suspends cycle execution without tearing the goroutine down.
func (l *Loop) Pause() { l.paused.Store(true) }

// Resume re-enables cycle execution after Pause.
func (l *Loop) Resume() { l.paused.Store(false) }

// Paused reports whether the loop is currently suspended (by Pause or by an
// active AGENT_DISABLE override).
func (l *Loop) Paused() bool {
	return l.paused.Load() || (l.Override != nil && l.Override.AgentDisabled())
}

func (l *Loop) runCycle(ctx context.Context) {
	if l.Paused() {
		return
	}
	start := l.Clock.Now()
	l.tick.Add(1)

	state := l.Perceiver.Perceive(ctx)
	strategy := l.Strategy
	if state.EmergencyActive {
		strategy = models.StrategyEmergency
	}
	dec := l.Engine.Decide(ctx, state, strategy)
	results := l.Applier.Execute(ctx, dec)

	var cycleErr error
	for _, r := range results {
		if r.Outcome == action.OutcomeSuppressedUnsafe {
			cycleErr = errUnsafeSuppressed
			break
		}
	}

	l.mu.Lock()
	l.snapshot = Snapshot{Tick: l.tick.Load(), State: state, Decisions: dec, Results: results, Err: cycleErr}
	l.mu.Unlock()

	if cycleErr != nil {
		l.errors.Add(1)
		l.consecutiveErrors++
		l.Logger.ErrorCtx(ctx, "agent cycle produced unsafe suppression", "error", cycleErr, "consecutive", l.consecutiveErrors)
		if l.consecutiveErrors >= l.MaxConsecutiveErrors {
			l.Logger.ErrorCtx(ctx, "agent loop stopping after consecutive cycle failures", "count", l.consecutiveErrors)
			if l.cancel != nil {
				l.cancel()
			}
		}
	} else {
		l.consecutiveErrors = 0
	}

	if l.Sink != nil {
		mode := ""
		if l.Mode != nil {
			mode = string(l.Mode.CurrentMode())
		}
		decJSON, _ := json.Marshal(dec)
		stateJSON, _ := json.Marshal(summarize(state))
		l.Sink.WriteAgentLog(models.AgentLog{
			Timestamp: start, Mode: mode, Strategy: string(dec.StrategyUsed),
			DecisionLatencyMs: float64(l.Clock.Now().Sub(start)) / float64(time.Millisecond),
			DecisionsJSON:     string(decJSON), StateSummaryJSON: string(stateJSON),
		})
	}
	if l.Bus != nil {
		_ = l.Bus.PublishCtx(ctx, events.Event{Category: events.CategoryAgent, Type: "agent.tick", Fields: map[string]interface{}{"tick": l.tick.Load()}})
	}
	l.latency.Observe(float64(l.Clock.Now().Sub(start)) / float64(time.Millisecond))
}

func summarize(s models.PerceivedState) map[string]interface{} {
	return map[string]interface{}{
		"totalVehicles":    s.TotalVehicles,
		"cityAvgDensity":   s.CityAvgDensity,
		"congestionPoints": s.CongestionPoints,
		"emergencyActive":  s.EmergencyActive,
	}
}

// Snapshot returns a copy of the most recent cycle's observable state.
func (l *Loop) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot
}

// LastDecisionTime returns the timestamp of the most recently completed
// cycle's decision, used by the watchdog's agent_heartbeat check to detect a
// stalled loop.
func (l *Loop) LastDecisionTime() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot.Decisions.Timestamp
}

// LastLatency returns the most recently completed cycle's decision latency,
// used by the watchdog's decision_latency check.
func (l *Loop) LastLatency() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot.Decisions.Latency
}

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const errUnsafeSuppressed = sentinelError("decision suppressed as unsafe")
