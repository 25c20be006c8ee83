// Package override implements the Manual Override Registry (component K):
// time-bounded operator directives that preempt the Action Applier, with an
// append-only audit trail. IDs follow the "OVR-XXXXXXXX" shape used by its
// domain siblings (emergency.Tracker's "EMG-"/"EMV-" prefixes).
package override

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trafficgrid/controller/clock"
	"github.com/trafficgrid/controller/models"
	"github.com/trafficgrid/controller/topology"
)

// AuditSink receives one OverrideAudit record per create/cancel call. Wired
// to logsink.Sink; may be nil.
type AuditSink interface {
	WriteOverrideAudit(models.OverrideAudit)
}

// SignalController is the narrow slice of the Simulator capability
// EmergencyStop needs to force every signal RED.
type SignalController interface {
	SetSignalRed(junctionID string, direction models.Direction)
}

// Registry owns the active/history override lists. Every method is safe for
// concurrent use; reads lazily drop expired entries.
type Registry struct {
	mu      sync.Mutex
	active  map[string]*models.ManualOverride
	history []models.ManualOverride

	clock    clock.Clock
	sink     AuditSink
	topology *topology.Registry
	sim      SignalController

	agentDisabled bool
}

// NewRegistry wires a Registry. sink/topo/sim may be nil in tests that don't
// exercise EmergencyStop or agent-disable gating.
func NewRegistry(clk clock.Clock, sink AuditSink, topo *topology.Registry, sim SignalController) *Registry {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Registry{
		active:   make(map[string]*models.ManualOverride),
		clock:    clk,
		sink:     sink,
		topology: topo,
		sim:      sim,
	}
}

func newID() string { return "OVR-" + uuid.NewString()[:8] }

func (r *Registry) record(o models.ManualOverride) {
	r.active[o.OverrideID] = &o
	r.history = append(r.history, o)
	if r.sink != nil {
		r.sink.WriteOverrideAudit(models.OverrideAudit{
			OverrideID: o.OverrideID, Type: o.Type, OperatorID: o.OperatorID,
			Timestamp: o.Timestamp, TargetID: o.TargetID, Parameters: o.Parameters, Reason: o.Reason,
		})
	}
}

// ForceSignalState creates a JUNCTION_SIGNAL override for (junctionID,
// direction), active for duration (0 = indefinite, cancelled explicitly).
func (r *Registry) ForceSignalState(junctionID string, direction models.Direction, duration time.Duration, operatorID, reason string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := newID()
	o := models.ManualOverride{
		OverrideID: id, Type: models.OverrideJunctionSignal, OperatorID: operatorID,
		Timestamp: r.clock.Now(), TargetID: junctionID,
		Parameters: map[string]interface{}{"direction": string(direction)},
		Active:     true, Reason: reason,
	}
	if duration > 0 {
		o.Duration = &duration
	}
	r.record(o)
	return id
}

// DisableAgent creates an AGENT_DISABLE override; the Agent Loop consults
// AgentDisabled() on its pause gate.
func (r *Registry) DisableAgent(operatorID, reason string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := newID()
	r.agentDisabled = true
	r.record(models.ManualOverride{
		OverrideID: id, Type: models.OverrideAgentDisable, OperatorID: operatorID,
		Timestamp: r.clock.Now(), Active: true, Reason: reason,
	})
	return id
}

// EnableAgent clears the agent-disabled flag. Returns false if it was already enabled.
func (r *Registry) EnableAgent(operatorID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	was := r.agentDisabled
	r.agentDisabled = false
	return was
}

// AgentDisabled reports whether an active AGENT_DISABLE override exists.
func (r *Registry) AgentDisabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agentDisabled
}

// EmergencyStop tears the agent down and forces every known junction's every
// direction RED.
func (r *Registry) EmergencyStop(operatorID, reason string) string {
	r.mu.Lock()
	r.agentDisabled = true
	id := newID()
	r.record(models.ManualOverride{
		OverrideID: id, Type: models.OverrideEmergencyStop, OperatorID: operatorID,
		Timestamp: r.clock.Now(), Active: true, Reason: reason,
	})
	r.mu.Unlock()

	if r.topology != nil {
		for _, jid := range r.topology.IDs() {
			r.topology.Mutate(jid, func(j *models.Junction) {
				for _, d := range models.AllDirections {
					j.Signals[d] = models.SignalState{Color: models.Red, LastChange: r.clock.Now()}
				}
			})
			if r.sim != nil {
				for _, d := range models.AllDirections {
					r.sim.SetSignalRed(jid, d)
				}
			}
		}
	}
	return id
}

// CancelOverride flips overrideID's Active flag to false. Returns false if
// unknown or already inactive.
func (r *Registry) CancelOverride(overrideID, operatorID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.active[overrideID]
	if !ok || !o.Active {
		return false
	}
	o.Active = false
	delete(r.active, overrideID)
	if o.Type == models.OverrideAgentDisable || o.Type == models.OverrideEmergencyStop {
		r.agentDisabled = false
	}
	if r.sink != nil {
		r.sink.WriteOverrideAudit(models.OverrideAudit{
			OverrideID: o.OverrideID, Type: o.Type, OperatorID: operatorID,
			Timestamp: r.clock.Now(), TargetID: o.TargetID, Parameters: o.Parameters,
			Reason: "cancelled: " + o.Reason,
		})
	}
	return true
}

// expireLocked drops overrides whose duration has elapsed. Caller holds mu.
func (r *Registry) expireLocked() {
	now := r.clock.Now()
	for id, o := range r.active {
		if o.Duration != nil && now.After(o.Timestamp.Add(*o.Duration)) {
			o.Active = false
			delete(r.active, id)
			if o.Type == models.OverrideAgentDisable || o.Type == models.OverrideEmergencyStop {
				r.agentDisabled = false
			}
		}
	}
}

// GetActive returns every currently active override, expiring stale entries first.
func (r *Registry) GetActive() []models.ManualOverride {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked()
	out := make([]models.ManualOverride, 0, len(r.active))
	for _, o := range r.active {
		out = append(out, *o)
	}
	return out
}

// GetHistory returns up to limit most recent overrides ever created, newest
// last. limit<=0 returns everything.
func (r *Registry) GetHistory(limit int) []models.ManualOverride {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.history) {
		limit = len(r.history)
	}
	start := len(r.history) - limit
	out := make([]models.ManualOverride, limit)
	copy(out, r.history[start:])
	return out
}

// ActiveOverrideFor reports the active JUNCTION_SIGNAL override, if any, for
// (junctionID, direction). Consulted by the Action Applier before every
// signal application.
func (r *Registry) ActiveOverrideFor(junctionID string, direction models.Direction) (models.ManualOverride, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked()
	for _, o := range r.active {
		if o.Type != models.OverrideJunctionSignal || o.TargetID != junctionID {
			continue
		}
		if dir, _ := o.Parameters["direction"].(string); models.Direction(dir) == direction {
			return *o, true
		}
	}
	return models.ManualOverride{}, false
}
