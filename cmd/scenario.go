package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	sim "github.com/gridsim/gridsim/sim"
	"github.com/gridsim/gridsim/sim/dataset"
)

// Scenario is the YAML description of a full co-simulation: the shared clock,
// one or more microgrids and the optional monitor/broker attachments.
type Scenario struct {
	SimStart   time.Time       `yaml:"sim_start"`
	StepSize   int64           `yaml:"step_size"`
	Until      int64           `yaml:"until"`
	RtFactor   float64         `yaml:"rt_factor"`
	Microgrids []MicrogridSpec `yaml:"microgrids"`
	Monitor    *MonitorSpec    `yaml:"monitor"`
	Broker     *BrokerSpec     `yaml:"broker"`
}

type MicrogridSpec struct {
	Name        string                `yaml:"name"`
	StepSize    int64                 `yaml:"step_size"`
	Actors      []ActorSpec           `yaml:"actors"`
	Storage     *StorageSpec          `yaml:"storage"`
	Policy      *PolicySpec           `yaml:"policy"`
	GridSignals map[string]SignalSpec `yaml:"grid_signals"`
}

type ActorSpec struct {
	Name     string      `yaml:"name"`
	StepSize int64       `yaml:"step_size"`
	Constant *float64    `yaml:"constant"`
	Trace    *SignalSpec `yaml:"trace"`
}

// SignalSpec points a signal at CSV data. File paths are resolved relative to
// the scenario file.
type SignalSpec struct {
	File         string        `yaml:"file"`
	ForecastFile string        `yaml:"forecast_file"`
	Column       string        `yaml:"column"`
	Fill         string        `yaml:"fill"`
	Range        string        `yaml:"range"`
	Scale        float64       `yaml:"scale"`
	Shift        time.Duration `yaml:"shift"`
	RebaseStart  bool          `yaml:"rebase_start"`
}

type StorageSpec struct {
	Kind       string  `yaml:"kind"`
	Capacity   float64 `yaml:"capacity"`
	InitialSoc float64 `yaml:"initial_soc"`
	MinSoc     float64 `yaml:"min_soc"`
	CRate      float64 `yaml:"c_rate"`
	NumCells   int     `yaml:"num_cells"`
}

type PolicySpec struct {
	Mode        string   `yaml:"mode"`
	ChargePower *float64 `yaml:"charge_power"`
}

type MonitorSpec struct {
	Out      string `yaml:"out"`
	StepSize int64  `yaml:"step_size"`
}

type BrokerSpec struct {
	Addr     string `yaml:"addr"`
	History  int    `yaml:"history"`
	StepSize int64  `yaml:"step_size"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if sc.SimStart.IsZero() {
		return nil, fmt.Errorf("%s: sim_start is required", path)
	}
	if sc.StepSize <= 0 {
		return nil, fmt.Errorf("%s: step_size must be positive", path)
	}
	if len(sc.Microgrids) == 0 {
		return nil, fmt.Errorf("%s: at least one microgrid is required", path)
	}
	return &sc, nil
}

// BuildEnvironment assembles the simulation environment described by the
// scenario. baseDir anchors relative dataset paths.
func BuildEnvironment(sc *Scenario, baseDir string) (*sim.Environment, error) {
	env, err := sim.NewEnvironment(sc.SimStart, sc.StepSize)
	if err != nil {
		return nil, err
	}
	for _, mgSpec := range sc.Microgrids {
		cfg, err := buildMicrogridConfig(mgSpec, sc.SimStart, baseDir)
		if err != nil {
			return nil, fmt.Errorf("microgrid %q: %w", mgSpec.Name, err)
		}
		if _, err := env.AddMicrogrid(*cfg); err != nil {
			return nil, err
		}
	}
	return env, nil
}

func buildMicrogridConfig(spec MicrogridSpec, simStart time.Time, baseDir string) (*sim.MicrogridConfig, error) {
	cfg := &sim.MicrogridConfig{
		Name:     spec.Name,
		StepSize: spec.StepSize,
	}

	for _, aSpec := range spec.Actors {
		signal, err := buildActorSignal(aSpec, simStart, baseDir)
		if err != nil {
			return nil, fmt.Errorf("actor %q: %w", aSpec.Name, err)
		}
		actor, err := sim.NewActor(aSpec.Name, signal, aSpec.StepSize)
		if err != nil {
			return nil, err
		}
		cfg.Actors = append(cfg.Actors, actor)
	}

	if spec.Storage != nil {
		storage, err := buildStorage(*spec.Storage)
		if err != nil {
			return nil, err
		}
		cfg.Storage = storage
	}

	if spec.Policy != nil {
		policy, err := buildPolicy(*spec.Policy)
		if err != nil {
			return nil, err
		}
		cfg.Policy = policy
	}

	if len(spec.GridSignals) > 0 {
		cfg.GridSignals = make(map[string]sim.Signal, len(spec.GridSignals))
		for name, sSpec := range spec.GridSignals {
			signal, err := buildTraceSignal(name, sSpec, simStart, baseDir)
			if err != nil {
				return nil, fmt.Errorf("grid signal %q: %w", name, err)
			}
			cfg.GridSignals[name] = signal
		}
	}

	return cfg, nil
}

func buildActorSignal(spec ActorSpec, simStart time.Time, baseDir string) (sim.Signal, error) {
	switch {
	case spec.Constant != nil && spec.Trace != nil:
		return nil, fmt.Errorf("constant and trace are mutually exclusive")
	case spec.Constant != nil:
		return sim.NewConstantSignal(*spec.Constant), nil
	case spec.Trace != nil:
		return buildTraceSignal(spec.Name, *spec.Trace, simStart, baseDir)
	default:
		return nil, fmt.Errorf("either constant or trace is required")
	}
}

func buildTraceSignal(name string, spec SignalSpec, simStart time.Time, baseDir string) (sim.Signal, error) {
	if spec.File == "" {
		return nil, fmt.Errorf("trace file is required")
	}
	opts := dataset.Options{Scale: spec.Scale, Shift: spec.Shift}
	if spec.RebaseStart {
		opts.StartTime = simStart
	}
	forecastPath := ""
	if spec.ForecastFile != "" {
		forecastPath = resolve(baseDir, spec.ForecastFile)
	}
	actual, forecast, err := dataset.LoadSignalCSV(resolve(baseDir, spec.File), forecastPath, opts)
	if err != nil {
		return nil, err
	}
	return sim.NewTraceSignal(actual, forecast, sim.TraceOptions{
		Name:   name,
		Fill:   sim.FillMethod(spec.Fill),
		Range:  sim.RangePolicy(spec.Range),
		Column: spec.Column,
	})
}

func buildStorage(spec StorageSpec) (sim.Storage, error) {
	switch spec.Kind {
	case "", "simple":
		return sim.NewSimpleBattery(spec.Capacity, spec.InitialSoc, spec.MinSoc, spec.CRate)
	case "clc":
		return sim.NewClcBattery(sim.ClcBatteryConfig{
			NumCells:   spec.NumCells,
			InitialSoc: spec.InitialSoc,
			MinSoc:     spec.MinSoc,
		})
	default:
		return nil, fmt.Errorf("unknown storage kind %q", spec.Kind)
	}
}

func buildPolicy(spec PolicySpec) (sim.MicrogridPolicy, error) {
	switch spec.Mode {
	case "", "grid-connected":
		p := sim.NewDefaultMicrogridPolicy()
		if spec.ChargePower != nil {
			p.SetChargePower(*spec.ChargePower)
		}
		return p, nil
	case "islanded":
		if spec.ChargePower != nil {
			return nil, fmt.Errorf("charge_power is only valid in grid-connected mode")
		}
		return sim.NewIslandedPolicy(), nil
	default:
		return nil, fmt.Errorf("unknown policy mode %q", spec.Mode)
	}
}

func resolve(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
