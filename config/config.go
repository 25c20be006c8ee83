// Package config is the controller's layered configuration surface: a
// Config struct with a Defaults() constructor, extended with YAML file
// loading (gopkg.in/yaml.v3) and fsnotify-based hot reload that atomically
// swaps the running telemetry/policy.Policy without restarting the agent
// loop.
package config

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/trafficgrid/controller/telemetry/policy"
	"github.com/trafficgrid/controller/xerrors"
)

// Config is the public configuration surface for the controller facade.
type Config struct {
	LoopInterval time.Duration `yaml:"loopInterval"`
	MaxErrors    int           `yaml:"maxErrors"`

	Density DensityConfig `yaml:"density"`
	Signal  SignalConfig  `yaml:"signal"`
	Safety  SafetyConfig  `yaml:"safety"`

	Emergency EmergencyConfig `yaml:"emergency"`
	Decision  DecisionConfig  `yaml:"decision"`
	Incident  IncidentConfig  `yaml:"incident"`

	LogSink LogSinkConfig `yaml:"logsink"`
	Metrics MetricsConfig `yaml:"metrics"`
	Console ConsoleConfig `yaml:"console"`
}

type DensityConfig struct {
	UpdateInterval          time.Duration `yaml:"updateInterval"`
	HistoryRetentionSeconds int           `yaml:"historyRetentionSeconds"`
	HistoryMaxSamples       int           `yaml:"historyMaxSamples"`
}

type SignalConfig struct {
	MinRedTime       time.Duration `yaml:"minRedTime"`
	MinGreenTime     time.Duration `yaml:"minGreenTime"`
	MaxGreenTime     time.Duration `yaml:"maxGreenTime"`
	DefaultGreenTime time.Duration `yaml:"defaultGreenTime"`
	YellowDuration   time.Duration `yaml:"yellowDuration"`
}

type SafetyConfig struct {
	CheckInterval        time.Duration `yaml:"checkInterval"`
	MaxEmergencyDwell    time.Duration `yaml:"maxEmergencyDwell"`
	HeartbeatMaxAge      time.Duration `yaml:"heartbeatMaxAge"`
	HeartbeatMaxFailures int           `yaml:"heartbeatMaxFailures"`
	DecisionLatencyMax   time.Duration `yaml:"decisionLatencyMax"`
}

type EmergencyConfig struct {
	LookaheadJunctions int           `yaml:"lookaheadJunctions"`
	SignalHoldDuration time.Duration `yaml:"signalHoldDuration"`
	UpdateInterval     time.Duration `yaml:"updateInterval"`
	AvgSpeedKmh        float64       `yaml:"avgSpeedKmh"`
}

type DecisionConfig struct {
	RLFallbackOnError bool `yaml:"rlFallbackOnError"`
}

type IncidentConfig struct {
	SustainedHighSeconds time.Duration `yaml:"sustainedHighSeconds"`
}

type LogSinkConfig struct {
	RetentionDays int `yaml:"retentionDays"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Backend    string `yaml:"backend"`
	ListenAddr string `yaml:"listenAddr"`
}

type ConsoleConfig struct {
	OperatorID string `yaml:"operatorId"`
	Prompt     string `yaml:"prompt"`
}

// Defaults returns a Config populated with the controller's documented
// default timings and thresholds.
func Defaults() Config {
	return Config{
		LoopInterval: 1 * time.Second,
		MaxErrors:    5,
		Density: DensityConfig{
			UpdateInterval:          1 * time.Second,
			HistoryRetentionSeconds: 600,
			HistoryMaxSamples:       1000,
		},
		Signal: SignalConfig{
			MinRedTime:       2 * time.Second,
			MinGreenTime:     10 * time.Second,
			MaxGreenTime:     60 * time.Second,
			DefaultGreenTime: 30 * time.Second,
			YellowDuration:   3 * time.Second,
		},
		Safety: SafetyConfig{
			CheckInterval:        2 * time.Second,
			MaxEmergencyDwell:    300 * time.Second,
			HeartbeatMaxAge:      10 * time.Second,
			HeartbeatMaxFailures: 2,
			DecisionLatencyMax:   2000 * time.Millisecond,
		},
		Emergency: EmergencyConfig{
			LookaheadJunctions: 5,
			SignalHoldDuration: 120 * time.Second,
			UpdateInterval:     1 * time.Second,
			AvgSpeedKmh:        60.0,
		},
		Decision: DecisionConfig{RLFallbackOnError: true},
		Incident: IncidentConfig{SustainedHighSeconds: 120 * time.Second},
		LogSink:  LogSinkConfig{RetentionDays: 7},
		Metrics:  MetricsConfig{Enabled: false, Backend: "prom"},
		Console:  ConsoleConfig{OperatorID: "", Prompt: "trafficctl> "},
	}
}

// ToPolicy derives the atomically-swappable runtime policy from this config.
func (c Config) ToPolicy() policy.Policy {
	return policy.Policy{
		Signal: policy.SignalPolicy{
			MinGreenTime:     c.Signal.MinGreenTime,
			MaxGreenTime:     c.Signal.MaxGreenTime,
			DefaultGreenTime: c.Signal.DefaultGreenTime,
			MinRedTime:       c.Signal.MinRedTime,
			YellowDuration:   c.Signal.YellowDuration,
		},
		Density: policy.DefaultDensityThresholds(),
	}.Normalize()
}

// Load decodes a YAML document at path, deep-merging it over Defaults(). A
// missing file is not an error (defaults apply); a malformed file is a
// xerrors.ConfigError, per the fail-at-startup error handling design.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, &xerrors.ConfigError{Key: path, Reason: err.Error()}
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &xerrors.ConfigError{Key: path, Reason: err.Error()}
	}
	return cfg, nil
}

// Watcher hot-reloads path on change, atomically swapping policy's pointer,
// driven by github.com/fsnotify/fsnotify filesystem events instead of an
// explicit reload API call.
type Watcher struct {
	path    string
	current *atomic.Pointer[policy.Policy]
	fsw     *fsnotify.Watcher
	onError func(error)
}

// NewWatcher loads path once, stores the resulting policy in current, and
// returns a Watcher ready to Run. onError (may be nil) receives reload
// failures; the previously loaded policy is kept active on error.
func NewWatcher(path string, current *atomic.Pointer[policy.Policy], onError func(error)) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	p := cfg.ToPolicy()
	current.Store(&p)
	if path == "" {
		return &Watcher{path: path, current: current, onError: onError}, nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &xerrors.ConfigError{Key: path, Reason: err.Error()}
	}
	if err := fsw.Add(path); err != nil {
		_ = fsw.Close()
		return nil, &xerrors.ConfigError{Key: path, Reason: err.Error()}
	}
	return &Watcher{path: path, current: current, fsw: fsw, onError: onError}, nil
}

// Run blocks, reloading on every write/create event until stop is closed.
func (w *Watcher) Run(stop <-chan struct{}) {
	if w.fsw == nil {
		return
	}
	defer func() { _ = w.fsw.Close() }()
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				if w.onError != nil {
					w.onError(err)
				}
				continue
			}
			p := cfg.ToPolicy()
			w.current.Store(&p)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}
