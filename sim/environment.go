package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// runState tracks the environment lifecycle: Idle -> Running -> Stopped.
type runState int

const (
	stateIdle runState = iota
	stateRunning
	stateStopped
)

type controllerEntry struct {
	controller Controller
	stepSize   int64
}

// Environment owns one or more microgrids and drives the stepping loop,
// either in virtual time (as fast as computation allows) or paced against the
// wall clock for software-in-the-loop runs.
type Environment struct {
	clock       Clock
	stepSize    int64
	microgrids  []*Microgrid
	controllers []controllerEntry
	state       runState
}

// NewEnvironment creates an environment starting at simStart with the given
// base step size in seconds.
func NewEnvironment(simStart time.Time, stepSize int64) (*Environment, error) {
	if stepSize <= 0 {
		return nil, fmt.Errorf("environment step size must be positive, got %d", stepSize)
	}
	return &Environment{
		clock:    NewClock(simStart),
		stepSize: stepSize,
	}, nil
}

// Clock returns the environment's clock.
func (e *Environment) Clock() Clock { return e.clock }

// StepSize returns the environment's base step size in seconds.
func (e *Environment) StepSize() int64 { return e.stepSize }

// Microgrids returns the environment's microgrids in declaration order.
func (e *Environment) Microgrids() []*Microgrid { return e.microgrids }

// AddMicrogrid constructs a microgrid from cfg and attaches it. Microgrid
// names must be unique within the environment.
func (e *Environment) AddMicrogrid(cfg MicrogridConfig) (*Microgrid, error) {
	if e.state != stateIdle {
		return nil, fmt.Errorf("cannot add microgrid %q: environment is already running", cfg.Name)
	}
	for _, existing := range e.microgrids {
		if existing.name == cfg.Name {
			return nil, fmt.Errorf("duplicate microgrid name %q", cfg.Name)
		}
	}
	mg, err := newMicrogrid(cfg, e.stepSize)
	if err != nil {
		return nil, err
	}
	e.microgrids = append(e.microgrids, mg)
	return mg, nil
}

// AddController registers a controller invoked at every multiple of stepSize
// seconds (0 inherits the environment step size). Controllers run in
// registration order after the microgrid steps of each boundary.
func (e *Environment) AddController(c Controller, stepSize int64) error {
	if e.state != stateIdle {
		return fmt.Errorf("cannot add controller: environment is already running")
	}
	if stepSize == 0 {
		stepSize = e.stepSize
	}
	if stepSize <= 0 || stepSize%e.stepSize != 0 {
		return fmt.Errorf("controller step size %d must be a positive multiple of the environment step size %d",
			stepSize, e.stepSize)
	}
	e.controllers = append(e.controllers, controllerEntry{controller: c, stepSize: stepSize})
	return nil
}

// Run drives the stepping loop until `until` virtual seconds have elapsed.
//
// With rtFactor == 0 the simulation runs in virtual time: deterministic,
// single-threaded, as fast as computation allows; `until` must be positive.
// With rtFactor > 0 each step is paced so that wall-clock time tracks
// virtual time divided by rtFactor (1.0 = real time); `until` <= 0 runs
// indefinitely until ctx is cancelled. If a step overruns its budget a drift
// warning is logged and the loop proceeds immediately.
//
// Cancellation takes effect at the next step boundary; the in-flight step
// completes, then background signal pollers are torn down. Errors inside a
// microgrid step halt the run and are returned with their original context.
func (e *Environment) Run(ctx context.Context, until int64, rtFactor float64) error {
	if e.state != stateIdle {
		return fmt.Errorf("environment has already run")
	}
	if rtFactor < 0 {
		return fmt.Errorf("rt factor must be non-negative, got %v", rtFactor)
	}
	if rtFactor == 0 && until <= 0 {
		return fmt.Errorf("virtual-time mode requires a positive until, got %d", until)
	}
	startables, finalizers := e.collectSignalLifecycles()
	if rtFactor == 0 && len(startables) > 0 {
		return fmt.Errorf("live signals detected: software-in-the-loop runs require real-time mode (rt factor > 0)")
	}

	e.state = stateRunning
	defer func() {
		e.state = stateStopped
		for _, f := range finalizers {
			f.Finalize()
		}
		for _, entry := range e.controllers {
			entry.controller.Finalize()
		}
	}()

	for _, s := range startables {
		s.Start(ctx)
	}

	wallStart := time.Now()
	for elapsed := int64(0); until <= 0 || elapsed < until; elapsed += e.stepSize {
		select {
		case <-ctx.Done():
			logrus.Infof("environment stopped after %d simulated seconds", elapsed)
			return nil
		default:
		}

		now, err := e.clock.ToTime(elapsed)
		if err != nil {
			return err
		}

		results := make(map[string]StepResult)
		for _, mg := range e.microgrids {
			if elapsed%mg.stepSize != 0 {
				continue
			}
			res, err := mg.Step(now)
			if err != nil {
				return err
			}
			results[mg.name] = res
			logrus.Debugf("[t=%07d] microgrid %q: p_delta=%.2f p_grid=%.2f", elapsed, mg.name, res.PDelta, res.PGrid)
		}

		for _, entry := range e.controllers {
			if elapsed%entry.stepSize != 0 {
				continue
			}
			if err := entry.controller.Step(now, results); err != nil {
				return fmt.Errorf("controller step at %s: %w", now.Format(time.RFC3339), err)
			}
		}

		if rtFactor > 0 {
			if err := e.pace(ctx, wallStart, elapsed+e.stepSize, rtFactor); err != nil {
				return nil
			}
		}
	}
	logrus.Infof("simulation finished after %d simulated seconds", until)
	return nil
}

// pace sleeps until the wall clock catches up with virtual time / rtFactor.
// Overruns are logged and never abort the run. Returns an error only when the
// context is cancelled while sleeping.
func (e *Environment) pace(ctx context.Context, wallStart time.Time, virtualSeconds int64, rtFactor float64) error {
	target := wallStart.Add(time.Duration(float64(virtualSeconds) / rtFactor * float64(time.Second)))
	wait := time.Until(target)
	if wait <= 0 {
		if wait < -10*time.Millisecond {
			logrus.Warnf("real-time drift: %s behind schedule at t=%d", -wait, virtualSeconds)
		}
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// collectSignalLifecycles gathers the startable and finalizable signals of
// every attached microgrid.
func (e *Environment) collectSignalLifecycles() ([]Startable, []Finalizer) {
	var startables []Startable
	var finalizers []Finalizer
	for _, mg := range e.microgrids {
		for _, sig := range mg.signals() {
			if s, ok := sig.(Startable); ok {
				startables = append(startables, s)
			}
			if f, ok := sig.(Finalizer); ok {
				finalizers = append(finalizers, f)
			}
		}
	}
	return startables, finalizers
}
