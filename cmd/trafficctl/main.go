// Command trafficctl wires every controller component into a runnable
// process: it loads configuration, builds the in-process reference
// simulator, wires perception through decision through action, starts the
// safety watchdog and incident detector, and drops into the operator
// console, using a standard flag-parsing and signal-driven graceful
// shutdown shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/trafficgrid/controller/action"
	"github.com/trafficgrid/controller/agent"
	"github.com/trafficgrid/controller/clock"
	"github.com/trafficgrid/controller/config"
	"github.com/trafficgrid/controller/console"
	"github.com/trafficgrid/controller/decision"
	"github.com/trafficgrid/controller/density"
	"github.com/trafficgrid/controller/emergency"
	"github.com/trafficgrid/controller/emergency/corridor"
	"github.com/trafficgrid/controller/emergency/pathfinder"
	"github.com/trafficgrid/controller/incident"
	"github.com/trafficgrid/controller/logsink"
	"github.com/trafficgrid/controller/models"
	"github.com/trafficgrid/controller/perception"
	"github.com/trafficgrid/controller/reward"
	"github.com/trafficgrid/controller/safety/conflict"
	"github.com/trafficgrid/controller/safety/mode"
	"github.com/trafficgrid/controller/safety/override"
	"github.com/trafficgrid/controller/safety/watchdog"
	"github.com/trafficgrid/controller/sim"
	"github.com/trafficgrid/controller/telemetry/events"
	"github.com/trafficgrid/controller/telemetry/logging"
	"github.com/trafficgrid/controller/telemetry/metrics"
	"github.com/trafficgrid/controller/telemetry/policy"
	"github.com/trafficgrid/controller/telemetry/tracing"
	"github.com/trafficgrid/controller/topology"
)

func main() {
	var (
		configPath   string
		gridSize     int
		metricsAddr  string
		enableTrace  bool
		operatorID   string
		showVersion  bool
		seedVehicles int
	)
	flag.StringVar(&configPath, "config", "", "Path to a YAML config file (optional)")
	flag.IntVar(&gridSize, "grid", 4, "Reference simulator grid size (NxN junctions)")
	flag.StringVar(&metricsAddr, "metrics", "", "Address for the Prometheus /metrics endpoint (e.g. :9090); used only when metrics.enabled is true and metrics.backend is \"prom\"")
	flag.BoolVar(&enableTrace, "trace", false, "Enable OpenTelemetry span export")
	flag.StringVar(&operatorID, "operator", "console", "Operator ID recorded in override/mode audit trails")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.IntVar(&seedVehicles, "vehicles", 20, "Number of vehicles to seed into the reference simulator")
	flag.Parse()

	if showVersion {
		fmt.Println("trafficctl (city traffic intelligence controller)")
		return
	}

	_ = godotenv.Load(".env")

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if enableTrace {
		tracing.NewSDKProvider(20)
	}

	logger := logging.New(slog.Default())

	var provider metrics.Provider
	if cfg.Metrics.Enabled && cfg.Metrics.Backend == "prom" {
		promProvider := metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
		provider = promProvider
		if metricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promProvider.MetricsHandler())
			go func() {
				if err := http.ListenAndServe(metricsAddr, mux); err != nil {
					logger.ErrorCtx(context.Background(), "metrics server stopped", "error", err)
				}
			}()
		}
	} else {
		provider = metrics.NewNoopProvider()
	}

	var policyValue atomic.Pointer[policy.Policy]
	p0 := cfg.ToPolicy()
	policyValue.Store(&p0)
	signalPolicy := func() policy.SignalPolicy { return policyValue.Load().Signal }
	densityPolicy := func() policy.DensityThresholds { return policyValue.Load().Density }

	clk := clock.Real{}
	bus := events.NewBus(provider)

	simulator := sim.New(sim.Config{GridSize: gridSize, Seed: 1})
	for i := 0; i < seedVehicles; i++ {
		simulator.SpawnVehicle(false)
	}

	topo := topology.NewRegistry(simulator.GetJunctions())

	densTracker := density.NewTracker(
		time.Duration(cfg.Density.HistoryRetentionSeconds)*time.Second,
		cfg.Density.HistoryMaxSamples,
		densityPolicy,
	)
	roads := simulator.GetRoads()
	roadPtrs := make([]*models.RoadSegment, len(roads))
	for i := range roads {
		roadPtrs[i] = &roads[i]
	}
	densTracker.InitRoads(roadPtrs)
	junctions := simulator.GetJunctions()
	junctionPtrs := make([]*models.Junction, len(junctions))
	for i := range junctions {
		junctionPtrs[i] = &junctions[i]
	}
	densTracker.InitJunctions(junctionPtrs)

	modeManager := mode.NewManager(clk.Now)

	var logWriter io.Writer = io.Discard
	var logCloser io.Closer
	if logFile, ferr := os.OpenFile("trafficgrid.log.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); ferr == nil {
		logWriter, logCloser = logFile, logFile
	} else {
		logger.WarnCtx(context.Background(), "could not open log sink file, logs will be discarded", "error", ferr)
	}
	sink := logsink.New(logWriter, logCloser, clk, logger)
	sink.Retention = time.Duration(cfg.LogSink.RetentionDays) * 24 * time.Hour

	overrides := override.NewRegistry(clk, sink, topo, simulator)

	positions := make(map[string]models.Position, len(junctions))
	for _, j := range junctions {
		positions[j.ID] = j.Position
	}
	graph := pathfinder.NewGraph(roads, positions)
	corridorMgr := corridor.New(simulator, topo, bus, logger, clk)
	emergencyMgr := emergency.New(graph, corridorMgr, clk, bus, logger)

	incidentDetector := incident.New(modeManager, clk)
	rewardCalc := reward.New(reward.DefaultWeights())

	perceiver := perception.NewPerceiver(simulator, densTracker, topo, emergencyMgr, clk, provider)
	engine := decision.NewEngine(signalPolicy, nil, clk, logger, provider)
	validator := conflict.NewValidator(signalPolicy)
	applier := action.NewApplier(simulator, overrides, validator, topo, clk, bus, logger, signalPolicy, provider)

	loop := agent.New(perceiver, engine, applier, overrides, modeManager, sink, bus, clk, logger, provider, cfg.LoopInterval, cfg.MaxErrors)

	wd := watchdog.New(modeManager, clk, logger, provider)
	wd.Register(watchdog.HealthCheck{
		Name: "signal_conflicts", Critical: true, Interval: cfg.Safety.CheckInterval, MaxFailures: 1,
		Run: watchdog.SignalConflictCheck(topo),
	})
	wd.Register(watchdog.HealthCheck{
		Name: "mode_validity", Critical: false, Interval: cfg.Safety.CheckInterval, MaxFailures: 3,
		Run: watchdog.ModeValidityCheck(modeManager, cfg.Safety.MaxEmergencyDwell),
	})
	wd.Register(watchdog.HealthCheck{
		Name: "agent_heartbeat", Critical: true, Interval: cfg.Safety.CheckInterval, MaxFailures: cfg.Safety.HeartbeatMaxFailures,
		Run: watchdog.HeartbeatCheck(loop.LastDecisionTime, clk.Now, cfg.Safety.HeartbeatMaxAge),
	})
	wd.Register(watchdog.HealthCheck{
		Name: "decision_latency", Critical: false, Interval: cfg.Safety.CheckInterval, MaxFailures: 3,
		Run: watchdog.DecisionLatencyCheck(loop.LastLatency, cfg.Safety.DecisionLatencyMax),
	})

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	wd.Start(ctx)
	loop.Start(ctx)
	go sink.Run(ctx, 2*time.Second)
	go driveSimulator(ctx, simulator, densTracker, incidentDetector, emergencyMgr, rewardCalc, topo, clk, logger, cfg.LoopInterval)

	con := &console.Console{
		Loop: loop, Overrides: overrides, Mode: modeManager, Emergency: emergencyMgr,
		OperatorID: operatorID, HistoryFile: "", Out: os.Stdout,
	}
	if err := con.Run(ctx); err != nil && err != context.Canceled {
		logger.ErrorCtx(ctx, "console exited with error", "error", err)
	}

	cancel()
	loop.Stop()
	_ = sink.Close()
}

// driveSimulator advances the reference simulator's vehicle kinematics and
// feeds the density tracker, the incident detector, and the emergency
// manager's progress check each interval, standing in for a real
// microsimulation collaborator's independent tick loop.
func driveSimulator(ctx context.Context, s *sim.Simulator, dens *density.Tracker, inc *incident.Detector, emg *emergency.Manager, calc *reward.Calculator, topo *topology.Registry, clk clock.Clock, logger logging.Logger, interval time.Duration) {
	clk.Every(ctx, interval, func(ctx context.Context) {
		s.Step(interval)
		vehicles := s.GetVehicles()
		now := clk.Now()
		dens.Update(vehicles, now)

		densities := make(map[string]models.JunctionDensityData)
		var densitySum float64
		var congestion int
		var totalWaiting float64
		var throughput int
		for _, j := range s.GetJunctions() {
			if jd, ok := dens.JunctionDensity(j.ID); ok {
				densities[j.ID] = jd
				densitySum += jd.AvgDensity
				if jd.CongestionLevel == models.High {
					congestion++
				}
			}
		}
		for _, v := range vehicles {
			totalWaiting += v.WaitingTime
			if v.CurrentRoad == "" {
				throughput++
			}
		}
		avgDensity := 0.0
		if n := len(densities); n > 0 {
			avgDensity = densitySum / float64(n)
		}
		inc.Observe(densities)

		emergencyActive, vehicleID, _ := emg.Status()
		if emergencyActive {
			for _, v := range vehicles {
				if v.ID == vehicleID {
					emg.Tick(ctx, v.Position, topo.PositionOf)
					break
				}
			}
		}

		junctionAverages := make([]float64, 0, len(densities))
		for _, jd := range densities {
			junctionAverages = append(junctionAverages, jd.AvgDensity)
		}
		total, _ := calc.Calculate(reward.Input{
			Throughput: throughput, TotalWaitingTime: totalWaiting, CongestionPoints: congestion,
			AvgDensity: avgDensity, EmergencyHandled: emergencyActive, JunctionAvgDensities: junctionAverages,
		})
		logger.InfoCtx(ctx, "tick reward", "total", total, "avgDensity", avgDensity, "congestionPoints", congestion)
	})
}
