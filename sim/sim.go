// Package sim provides an in-process reference implementation of the
// Simulator capability boundary: a small grid of junctions and roads, a
// handful of vehicles that take any GREEN outbound road each Step, and
// operator-pushable manual-control and violation queues for exercising the
// rest of the controller without a real microsimulation engine. It follows
// the common pattern of an in-repo stand-in for an external collaborator.
// This is the only package in the module allowed to import math/rand —
// every other package's randomness needs are out of scope by design.
package sim

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/trafficgrid/controller/models"
)

// Simulator is a thread-safe in-memory traffic world.
type Simulator struct {
	mu sync.Mutex
	rng *rand.Rand

	junctions map[string]*models.Junction
	roads     map[string]*models.RoadSegment
	vehicles  map[string]*models.Vehicle

	manualControls []models.ManualControl
	violations     []models.Violation

	gridSize   int
	nextVehicleSeq int
}

// Config tunes grid shape and spawn behavior.
type Config struct {
	GridSize   int // N x N junctions
	CellLength float64
	Lanes      int
	Seed       int64
}

// DefaultConfig returns a modest 4x4 grid.
func DefaultConfig() Config {
	return Config{GridSize: 4, CellLength: 120, Lanes: 2, Seed: 1}
}

// New builds a fully-wired grid: junctions at cfg.CellLength spacing, two-way
// roads between every orthogonal neighbor pair.
func New(cfg Config) *Simulator {
	if cfg.GridSize <= 0 {
		cfg.GridSize = 4
	}
	if cfg.Lanes <= 0 {
		cfg.Lanes = 2
	}
	if cfg.CellLength <= 0 {
		cfg.CellLength = 120
	}
	s := &Simulator{
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		junctions: make(map[string]*models.Junction),
		roads:     make(map[string]*models.RoadSegment),
		vehicles:  make(map[string]*models.Vehicle),
		gridSize:  cfg.GridSize,
	}

	id := func(x, y int) string { return fmt.Sprintf("J-%d-%d", x, y) }
	for x := 0; x < cfg.GridSize; x++ {
		for y := 0; y < cfg.GridSize; y++ {
			signals := make(map[models.Direction]models.SignalState, 4)
			for i, d := range models.AllDirections {
				color := models.Red
				if i == 0 {
					color = models.Green
				}
				signals[d] = models.SignalState{Color: color, LastChange: time.Time{}}
			}
			s.junctions[id(x, y)] = &models.Junction{
				ID:             id(x, y),
				Position:       models.Position{X: float64(x) * cfg.CellLength, Y: float64(y) * cfg.CellLength},
				Signals:        signals,
				ConnectedRoads: make(map[models.Direction]string),
				Mode:           models.JunctionNormal,
			}
		}
	}

	addRoad := func(fromX, fromY int, dir models.Direction, toX, toY int, opposite models.Direction) {
		from, to := id(fromX, fromY), id(toX, toY)
		_, okFrom := s.junctions[from]
		_, okTo := s.junctions[to]
		if !okFrom || !okTo {
			return
		}
		roadID := from + ">" + to
		s.roads[roadID] = &models.RoadSegment{
			ID: roadID, StartJunction: from, EndJunction: to,
			Geometry:        models.RoadGeometry{Length: cfg.CellLength, Lanes: cfg.Lanes},
			CurrentVehicles: make(map[string]struct{}),
		}
		s.junctions[from].ConnectedRoads[dir] = roadID
		_ = opposite
	}
	for x := 0; x < cfg.GridSize; x++ {
		for y := 0; y < cfg.GridSize; y++ {
			addRoad(x, y, models.East, x+1, y, models.West)
			addRoad(x+1, y, models.West, x, y, models.East)
			addRoad(x, y, models.South, x, y+1, models.North)
			addRoad(x, y+1, models.North, x, y, models.South)
		}
	}
	return s
}

// GetJunctions/GetRoads return a defensive snapshot for consumers that build
// their own graphs or registries (topology.NewRegistry, pathfinder.NewGraph).
func (s *Simulator) GetJunctions() []models.Junction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Junction, 0, len(s.junctions))
	for _, j := range s.junctions {
		out = append(out, *j)
	}
	return out
}

func (s *Simulator) GetRoads() []models.RoadSegment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RoadSegment, 0, len(s.roads))
	for _, r := range s.roads {
		out = append(out, *r)
	}
	return out
}

// GetVehicles implements perception.Simulator.
func (s *Simulator) GetVehicles() []models.Vehicle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Vehicle, 0, len(s.vehicles))
	for _, v := range s.vehicles {
		out = append(out, *v)
	}
	return out
}

// GetManualControls implements perception.Simulator, draining the queue.
func (s *Simulator) GetManualControls() []models.ManualControl {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.manualControls
	s.manualControls = nil
	return out
}

// GetRecentViolations implements perception.Simulator, draining the queue.
func (s *Simulator) GetRecentViolations() []models.Violation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.violations
	s.violations = nil
	return out
}

// PushManualControl lets an operator console or test inject a directive.
func (s *Simulator) PushManualControl(mc models.ManualControl) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manualControls = append(s.manualControls, mc)
}

// SetSignalGreen implements the consumed SignalController capability.
func (s *Simulator) SetSignalGreen(junctionID string, direction models.Direction, duration float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.junctions[junctionID]
	if !ok {
		return
	}
	j.Signals[direction] = models.SignalState{Color: models.Green, Duration: duration, LastChange: time.Now()}
}

// SetSignalRed implements the consumed SignalController capability.
func (s *Simulator) SetSignalRed(junctionID string, direction models.Direction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.junctions[junctionID]
	if !ok {
		return
	}
	j.Signals[direction] = models.SignalState{Color: models.Red, LastChange: time.Now()}
}

// SpawnVehicle places a new vehicle idle at a random junction with a random
// destination junction (possibly the same one). The destination is recorded
// only; Step does not route toward it.
func (s *Simulator) SpawnVehicle(emergency bool) models.Vehicle {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.junctionIDsLocked()
	start := ids[s.rng.Intn(len(ids))]
	dest := ids[s.rng.Intn(len(ids))]
	s.nextVehicleSeq++
	v := &models.Vehicle{
		ID:          fmt.Sprintf("V-%05d", s.nextVehicleSeq),
		Plate:       fmt.Sprintf("SIM-%04d", s.nextVehicleSeq),
		Position:    s.junctions[start].Position,
		CurrentJunction: start,
		Destination: s.junctions[dest].Position,
		IsEmergency: emergency,
		SpawnTime:   time.Now(),
	}
	s.vehicles[v.ID] = v
	return *v
}

func (s *Simulator) junctionIDsLocked() []string {
	ids := make([]string, 0, len(s.junctions))
	for id := range s.junctions {
		ids = append(ids, id)
	}
	return ids
}

// Step advances every vehicle by dt: vehicles on a road move toward its end
// junction at a nominal speed; vehicles idle at a junction accrue waiting
// time unless their facing signal is GREEN, in which case they are assigned
// onto a connected outbound road. Vehicles are never despawned.
func (s *Simulator) Step(dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	const nominalSpeed = 15.0 // map units / second
	seconds := dt.Seconds()

	for _, v := range s.vehicles {
		if v.CurrentRoad != "" {
			road, ok := s.roads[v.CurrentRoad]
			if !ok {
				continue
			}
			v.Speed = nominalSpeed
			v.Position.X += (s.junctions[road.EndJunction].Position.X - v.Position.X) * 0.2
			v.Position.Y += (s.junctions[road.EndJunction].Position.Y - v.Position.Y) * 0.2
			if distance(v.Position, s.junctions[road.EndJunction].Position) < 2 {
				delete(road.CurrentVehicles, v.ID)
				v.CurrentRoad = ""
				v.CurrentJunction = road.EndJunction
				v.Position = s.junctions[road.EndJunction].Position
			}
			continue
		}

		j, ok := s.junctions[v.CurrentJunction]
		if !ok {
			continue
		}
		v.Speed = 0
		v.WaitingTime += seconds
		moved := false
		for dir, roadID := range j.ConnectedRoads {
			if j.Signals[dir].Color != models.Green {
				continue
			}
			road := s.roads[roadID]
			if road.EndJunction == v.CurrentJunction {
				continue
			}
			road.CurrentVehicles[v.ID] = struct{}{}
			v.CurrentRoad = roadID
			v.CurrentJunction = ""
			v.WaitingTime = 0
			moved = true
			break
		}
		if !moved && s.rng.Float64() < 0.002 {
			// occasional impatience: running the red counts as a violation.
			s.violations = append(s.violations, models.Violation{
				VehicleID: v.ID, JunctionID: j.ID, Kind: "red_light_violation", Timestamp: time.Now(),
			})
		}
	}
}

func distance(a, b models.Position) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}
	return dx + dy
}
