// Package models defines the flat, identity-keyed data entities shared across
// the controller. Entities reference each other by ID, never by pointer, so
// that junctions and roads (which cycle back to each other) can live in plain
// maps without a graph library.
package models

import "time"

// Direction is one of the four cardinal signal faces at a junction.
type Direction string

const (
	North Direction = "N"
	East  Direction = "E"
	South Direction = "S"
	West  Direction = "W"
)

// AllDirections is the canonical iteration order used wherever a fixed slot
// order matters (observation encoding, junction density aggregation).
var AllDirections = [4]Direction{North, East, South, West}

// SignalColor is the state of one direction's signal face.
type SignalColor string

const (
	Green  SignalColor = "GREEN"
	Yellow SignalColor = "YELLOW"
	Red    SignalColor = "RED"
)

// Classification buckets a density score or raw vehicle count.
type Classification string

const (
	Low    Classification = "LOW"
	Medium Classification = "MEDIUM"
	High   Classification = "HIGH"
)

// JunctionMode reflects which subsystem currently owns a junction's signals.
type JunctionMode string

const (
	JunctionNormal    JunctionMode = "NORMAL"
	JunctionEmergency JunctionMode = "EMERGENCY"
	JunctionManual    JunctionMode = "MANUAL"
)

// Position is a planar coordinate used for heuristics and cardinal-direction
// derivation. Units are arbitrary map units, consistent across a single grid.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Vehicle is a read-only snapshot of simulator-owned vehicle state.
type Vehicle struct {
	ID              string    `json:"id"`
	Plate           string    `json:"plate"`
	Position        Position  `json:"position"`
	Speed           float64   `json:"speed"`
	Heading         float64   `json:"heading"`
	CurrentRoad     string    `json:"currentRoad"`
	CurrentJunction string    `json:"currentJunction,omitempty"`
	Destination     Position  `json:"destination"`
	Path            []string  `json:"path,omitempty"`
	PathIndex       int       `json:"pathIndex"`
	IsEmergency     bool      `json:"isEmergency"`
	IsViolating     bool      `json:"isViolating"`
	WaitingTime     float64   `json:"waitingTime"`
	SpawnTime       time.Time `json:"spawnTime"`
}

// SignalState is one direction face's current state and the time it last changed.
type SignalState struct {
	Color      SignalColor `json:"color"`
	Duration   float64     `json:"duration"`
	LastChange time.Time   `json:"lastChange"`
}

// Junction is a signalized intersection. At most one Signals entry may be
// Green at a time; enforced by safety/conflict, not by this type.
type Junction struct {
	ID             string                      `json:"id"`
	Position       Position                    `json:"position"`
	Signals        map[Direction]SignalState   `json:"signals"`
	ConnectedRoads map[Direction]string        `json:"connectedRoads"`
	Mode           JunctionMode                `json:"mode"`
}

// RoadGeometry is the static shape of a road segment.
type RoadGeometry struct {
	Length float64 `json:"length"`
	Lanes  int     `json:"lanes"`
}

// RoadSegment connects two junctions. VehicleCount must equal
// len(CurrentVehicles) at all times; density.Tracker is the sole mutator.
type RoadSegment struct {
	ID              string              `json:"id"`
	StartJunction   string              `json:"startJunction"`
	EndJunction     string              `json:"endJunction"`
	Geometry        RoadGeometry        `json:"geometry"`
	CurrentVehicles map[string]struct{} `json:"-"`
	Oneway          bool                `json:"oneway"`
}

// VehicleCount returns len(CurrentVehicles); kept as a method rather than a
// stored field so the count can never drift from the backing set.
func (r *RoadSegment) VehicleCount() int { return len(r.CurrentVehicles) }

// DensitySnapshot is one historical sample of a road's occupancy.
type DensitySnapshot struct {
	Timestamp      time.Time      `json:"timestamp"`
	RoadID         string         `json:"roadId"`
	VehicleCount   int            `json:"vehicleCount"`
	DensityScore   float64        `json:"densityScore"`
	Classification Classification `json:"classification"`
}

// RoadDensityData is the Density Tracker's current view of one road.
type RoadDensityData struct {
	RoadID         string         `json:"roadId"`
	VehicleCount   int            `json:"vehicleCount"`
	Capacity       float64        `json:"capacity"`
	DensityScore   float64        `json:"densityScore"`
	Classification Classification `json:"classification"`
}

// JunctionDensityData aggregates the four connected roads' density into one
// junction-level view.
type JunctionDensityData struct {
	JunctionID       string                  `json:"junctionId"`
	ByDirection      map[Direction]float64   `json:"byDirection"`
	AvgDensity       float64                 `json:"avgDensity"`
	MaxDensity       float64                 `json:"maxDensity"`
	TotalVehicles    int                     `json:"totalVehicles"`
	CongestionLevel  Classification          `json:"congestionLevel"`
}

// ManualControl is an operator-issued directive picked up by Perception.
type ManualControl struct {
	JunctionID string    `json:"junctionId"`
	Direction  Direction `json:"direction"`
	IssuedAt   time.Time `json:"issuedAt"`
}

// Violation is a recent rule infraction surfaced by the simulator capability.
type Violation struct {
	VehicleID string    `json:"vehicleId"`
	JunctionID string   `json:"junctionId"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// PerceivedState is the immutable per-tick snapshot Perception publishes.
// Never mutated after construction; every field is a copy or a fresh map.
type PerceivedState struct {
	Timestamp         time.Time                       `json:"timestamp"`
	TotalVehicles     int                             `json:"totalVehicles"`
	VehiclesByType    map[string]int                  `json:"vehiclesByType"`
	RoadDensities     map[string]RoadDensityData      `json:"roadDensities"`
	JunctionDensities map[string]JunctionDensityData  `json:"junctionDensities"`
	CityAvgDensity    float64                         `json:"cityAvgDensity"`
	CongestionPoints  int                             `json:"congestionPoints"`
	JunctionWaitTimes map[string]float64              `json:"junctionWaitTimes,omitempty"`
	SignalStates      map[string]map[Direction]SignalState `json:"signalStates"`
	EmergencyActive   bool                            `json:"emergencyActive"`
	EmergencyVehicleID string                         `json:"emergencyVehicleId,omitempty"`
	EmergencyCorridor []string                        `json:"emergencyCorridor,omitempty"`
	ManualControls    []ManualControl                 `json:"manualControls,omitempty"`
	RecentViolations  []Violation                     `json:"recentViolations,omitempty"`
}

// DecisionAction is what a SignalDecision asks the Action Applier to do.
type DecisionAction string

const (
	ActionGreen DecisionAction = "GREEN"
	ActionRed   DecisionAction = "RED"
	ActionHold  DecisionAction = "HOLD"
)

// SignalDecision is one junction's directive for the current tick.
type SignalDecision struct {
	JunctionID string         `json:"junctionId"`
	Direction  Direction      `json:"direction"`
	Action     DecisionAction `json:"action"`
	Duration   float64        `json:"duration"`
	Reason     string         `json:"reason"`
}

// Strategy names which subsystem produced a Decisions value.
type Strategy string

const (
	StrategyEmergency Strategy = "EMERGENCY"
	StrategyManual    Strategy = "MANUAL"
	StrategyRL        Strategy = "RL"
	StrategyRuleBased Strategy = "RULE_BASED"
)

// Decisions aggregates one tick's worth of SignalDecisions.
type Decisions struct {
	Timestamp         time.Time        `json:"timestamp"`
	Signals           []SignalDecision `json:"signals"`
	StrategyUsed      Strategy         `json:"strategyUsed"`
	EmergencyOverride bool             `json:"emergencyOverride"`
	Latency           time.Duration    `json:"latency"`
}

// EmergencyType classifies the vehicle triggering a corridor.
type EmergencyType string

const (
	Ambulance EmergencyType = "AMBULANCE"
	FireTruck EmergencyType = "FIRE_TRUCK"
	Police    EmergencyType = "POLICE"
)

// EmergencyStatus is the lifecycle stage of an EmergencySession.
type EmergencyStatus string

const (
	EmergencyActive    EmergencyStatus = "ACTIVE"
	EmergencyCompleted EmergencyStatus = "COMPLETED"
	EmergencyCancelled EmergencyStatus = "CANCELLED"
)

// EmergencyVehicle mirrors Vehicle with emergency-specific fields.
type EmergencyVehicle struct {
	ID                  string        `json:"id"`
	Type                EmergencyType `json:"type"`
	Plate               string        `json:"plate"`
	Position            Position      `json:"position"`
	CurrentJunctionID   string        `json:"currentJunctionId,omitempty"`
	Destination         Position      `json:"destination"`
	DestinationJunction string        `json:"destinationJunction"`
	Speed               float64       `json:"speed"`
	Heading             float64       `json:"heading"`
}

// EmergencySession is the unit of work owned by emergency/tracker.
// At most one session may be EmergencyActive at a time.
type EmergencySession struct {
	SessionID          string           `json:"sessionId"`
	Vehicle            EmergencyVehicle `json:"vehicle"`
	Status             EmergencyStatus  `json:"status"`
	ActivatedAt        time.Time        `json:"activatedAt"`
	CompletedAt        *time.Time       `json:"completedAt,omitempty"`
	Route              []string         `json:"route"`
	AffectedJunctions  []string         `json:"affectedJunctions"`
	TotalDistance      float64          `json:"totalDistance"`
	EstimatedTime      float64          `json:"estimatedTime"`
	ActualTravelTime   *float64         `json:"actualTravelTime,omitempty"`
}

// ActiveCorridor is the rolling-wave state owned by emergency/corridor.
// Every key of SignalOverrides names a junction whose Mode is JunctionEmergency.
type ActiveCorridor struct {
	SessionID            string               `json:"sessionId"`
	JunctionPath         []string             `json:"junctionPath"`
	CurrentJunctionIndex int                  `json:"currentJunctionIndex"`
	LookaheadJunctions   int                  `json:"lookaheadJunctions"`
	SignalOverrides      map[string]Direction `json:"signalOverrides"`
}

// OverrideType classifies a ManualOverride's effect.
type OverrideType string

const (
	OverrideJunctionSignal OverrideType = "JUNCTION_SIGNAL"
	OverrideAgentDisable   OverrideType = "AGENT_DISABLE"
	OverrideEmergencyStop  OverrideType = "EMERGENCY_STOP"
	OverrideModeChange     OverrideType = "MODE_CHANGE"
)

// ManualOverride is a time-bounded operator directive.
type ManualOverride struct {
	OverrideID string                 `json:"overrideId"`
	Type       OverrideType           `json:"type"`
	OperatorID string                 `json:"operatorId"`
	Timestamp  time.Time              `json:"timestamp"`
	TargetID   string                 `json:"targetId"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Duration   *time.Duration         `json:"duration,omitempty"`
	Active     bool                   `json:"active"`
	Reason     string                 `json:"reason,omitempty"`
}

// SystemMode is the controller-wide safety state.
type SystemMode string

const (
	ModeNormal    SystemMode = "NORMAL"
	ModeEmergency SystemMode = "EMERGENCY"
	ModeIncident  SystemMode = "INCIDENT"
	ModeFailSafe  SystemMode = "FAIL_SAFE"
)

// SystemState is the Mode Manager's current state value.
type SystemState struct {
	Mode         SystemMode  `json:"mode"`
	EnteredAt    time.Time   `json:"enteredAt"`
	Reason       string      `json:"reason"`
	PreviousMode *SystemMode `json:"previousMode,omitempty"`
}

// IncidentRecord is opened by incident.Detector on sustained HIGH congestion.
type IncidentRecord struct {
	IncidentID string         `json:"incidentId"`
	JunctionID string         `json:"junctionId"`
	DetectedAt time.Time      `json:"detectedAt"`
	ClearedAt  *time.Time     `json:"clearedAt,omitempty"`
	Severity   Classification `json:"severity"`
	Cause      string         `json:"cause"`
}

// AgentLog is one Agent Loop cycle's audit record, persisted via logsink.Sink.
type AgentLog struct {
	Timestamp     time.Time `json:"timestamp"`
	Mode          string    `json:"mode"`
	Strategy      string    `json:"strategy"`
	DecisionLatencyMs float64 `json:"decisionLatencyMs"`
	DecisionsJSON string    `json:"decisionsJson"`
	StateSummaryJSON string `json:"stateSummaryJson"`
}

// ModeTransition is a persisted Mode Manager transition record.
type ModeTransition struct {
	From      SystemMode `json:"from"`
	To        SystemMode `json:"to"`
	Timestamp time.Time  `json:"timestamp"`
	Reason    string     `json:"reason"`
}

// OverrideAudit is a persisted Manual Override Registry record.
type OverrideAudit struct {
	OverrideID string                 `json:"overrideId"`
	Type       OverrideType           `json:"type"`
	OperatorID string                 `json:"operatorId"`
	Timestamp  time.Time              `json:"timestamp"`
	TargetID   string                 `json:"targetId"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
}
