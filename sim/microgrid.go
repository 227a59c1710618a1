package sim

import (
	"fmt"
	"strings"
	"time"
)

// StepResult is the state snapshot a microgrid emits after each step. It is
// produced fresh per step; ownership passes to whichever controller consumes
// it.
type StepResult struct {
	Time         time.Time
	PDelta       float64
	PGrid        float64
	ActorStates  map[string]float64
	StorageState map[string]float64 // nil when the microgrid has no storage
	PolicyState  map[string]any
	GridSignals  map[string]float64
}

// MicrogridConfig describes a microgrid to be added to an environment.
type MicrogridConfig struct {
	Name   string
	Actors []*Actor
	// Storage is optional; Policy defaults to DefaultMicrogridPolicy.
	Storage Storage
	Policy  MicrogridPolicy
	// GridSignals are sampled each step for information only; they never
	// affect the power balance.
	GridSignals map[string]Signal
	// StepSize in seconds. Zero inherits the environment's step size.
	StepSize int64
}

// Microgrid owns a set of actors, an optional storage with a dispatch policy,
// and informational grid signals. It is constructed once when added to an
// environment and stepped repeatedly, never destroyed mid-run.
type Microgrid struct {
	name        string
	actors      []*Actor
	storage     Storage
	policy      MicrogridPolicy
	gridSignals map[string]Signal
	stepSize    int64

	elapsed int64 // seconds since simulation start, advanced per step
}

func newMicrogrid(cfg MicrogridConfig, envStepSize int64) (*Microgrid, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("microgrid name must not be empty")
	}
	if len(cfg.Actors) == 0 {
		return nil, fmt.Errorf("microgrid %q: at least one actor is required", cfg.Name)
	}
	stepSize := cfg.StepSize
	if stepSize == 0 {
		stepSize = envStepSize
	}
	if stepSize <= 0 || stepSize%envStepSize != 0 {
		return nil, fmt.Errorf("microgrid %q: step size %d must be a positive multiple of the environment step size %d",
			cfg.Name, stepSize, envStepSize)
	}

	seen := make(map[string]bool, len(cfg.Actors))
	for _, a := range cfg.Actors {
		if seen[a.Name] {
			return nil, fmt.Errorf("microgrid %q: duplicate actor name %q", cfg.Name, a.Name)
		}
		seen[a.Name] = true
		if a.StepSize == 0 {
			a.StepSize = stepSize
		}
		if a.StepSize%stepSize != 0 {
			return nil, fmt.Errorf("microgrid %q: actor %q step size %d must be a multiple of the microgrid step size %d",
				cfg.Name, a.Name, a.StepSize, stepSize)
		}
	}

	policy := cfg.Policy
	if policy == nil {
		policy = NewDefaultMicrogridPolicy()
	}
	return &Microgrid{
		name:        cfg.Name,
		actors:      cfg.Actors,
		storage:     cfg.Storage,
		policy:      policy,
		gridSignals: cfg.GridSignals,
		stepSize:    stepSize,
	}, nil
}

// Name returns the microgrid's name, unique within its environment.
func (mg *Microgrid) Name() string { return mg.name }

// StepSize returns the microgrid's step size in seconds.
func (mg *Microgrid) StepSize() int64 { return mg.stepSize }

// Storage returns the microgrid's storage, or nil.
func (mg *Microgrid) Storage() Storage { return mg.storage }

// Policy returns the microgrid's dispatch policy.
func (mg *Microgrid) Policy() MicrogridPolicy { return mg.policy }

// Actors returns the microgrid's actors in declaration order.
func (mg *Microgrid) Actors() []*Actor { return mg.actors }

// Step advances the microgrid by one step at the given time: sample actor
// powers, sum the delta, dispatch it through the policy against the storage,
// sample grid signals, and emit a snapshot. A failing actor or grid-signal
// query aborts the step; substituting a default would silently corrupt the
// energy balance.
func (mg *Microgrid) Step(now time.Time) (StepResult, error) {
	duration := float64(mg.stepSize)

	var pDelta float64
	actorStates := make(map[string]float64, len(mg.actors))
	for _, a := range mg.actors {
		if mg.elapsed%a.StepSize == 0 {
			if err := a.refresh(now); err != nil {
				return StepResult{}, fmt.Errorf("microgrid %q: %w", mg.name, err)
			}
		}
		actorStates[a.Name] = a.P()
		pDelta += a.P()
	}

	pGrid, err := mg.policy.Apply(pDelta, duration, mg.storage)
	if err != nil {
		return StepResult{}, fmt.Errorf("microgrid %q at %s: %w", mg.name, now.Format(time.RFC3339), err)
	}

	var gridValues map[string]float64
	if len(mg.gridSignals) > 0 {
		gridValues = make(map[string]float64, len(mg.gridSignals))
		for name, sig := range mg.gridSignals {
			v, err := sig.Now(now, "")
			if err != nil {
				return StepResult{}, fmt.Errorf("microgrid %q grid signal %q: %w", mg.name, name, err)
			}
			gridValues[name] = v
		}
	}

	res := StepResult{
		Time:        now,
		PDelta:      pDelta,
		PGrid:       pGrid,
		ActorStates: actorStates,
		PolicyState: mg.policy.State(),
		GridSignals: gridValues,
	}
	if mg.storage != nil {
		res.StorageState = mg.storage.State()
	}
	mg.elapsed += mg.stepSize
	return res, nil
}

// SetParameter applies a runtime mutation addressed by a narrow string-keyed
// path of the form "storage:<key>" or "policy:<key>". The mutation takes
// effect on the next step.
func (mg *Microgrid) SetParameter(path string, value any) error {
	target, key, ok := strings.Cut(path, ":")
	if !ok {
		return fmt.Errorf("invalid parameter path %q: want \"storage:<key>\" or \"policy:<key>\"", path)
	}
	switch target {
	case "storage":
		if mg.storage == nil {
			return fmt.Errorf("microgrid %q has no storage", mg.name)
		}
		v, err := toFloat(value)
		if err != nil {
			return fmt.Errorf("parameter %q: %w", path, err)
		}
		return mg.storage.SetParameter(key, v)
	case "policy":
		return mg.policy.SetParameter(key, value)
	default:
		return fmt.Errorf("invalid parameter target %q: want \"storage\" or \"policy\"", target)
	}
}

// signals returns every signal attached to the microgrid, actors first.
func (mg *Microgrid) signals() []Signal {
	out := make([]Signal, 0, len(mg.actors)+len(mg.gridSignals))
	for _, a := range mg.actors {
		out = append(out, a.Signal)
	}
	for _, sig := range mg.gridSignals {
		out = append(out, sig)
	}
	return out
}
