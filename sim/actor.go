package sim

import (
	"fmt"
	"time"
)

// Actor is a named power consumer or producer contributing to a microgrid.
// Its identity is immutable; the signal's value may change over its lifetime.
// The signal value carries the sign: consumption negative, production
// positive.
type Actor struct {
	Name   string
	Signal Signal
	// StepSize is the actor's sampling interval in seconds. Zero inherits
	// the microgrid's step size; otherwise it must be a positive multiple of
	// it. Between its own step boundaries the actor's last sampled power is
	// held constant.
	StepSize int64

	p float64 // last sampled power, W
}

// NewActor creates an actor over a signal. StepSize 0 inherits the microgrid
// step size at attach time.
func NewActor(name string, signal Signal, stepSize int64) (*Actor, error) {
	if name == "" {
		return nil, fmt.Errorf("actor name must not be empty")
	}
	if signal == nil {
		return nil, fmt.Errorf("actor %q: signal must not be nil", name)
	}
	if stepSize < 0 {
		return nil, fmt.Errorf("actor %q: step size must be non-negative, got %d", name, stepSize)
	}
	return &Actor{Name: name, Signal: signal, StepSize: stepSize}, nil
}

// refresh re-samples the actor's signal at the given time.
func (a *Actor) refresh(now time.Time) error {
	p, err := a.Signal.Now(now, "")
	if err != nil {
		return fmt.Errorf("actor %q at %s: %w", a.Name, now.Format(time.RFC3339), err)
	}
	a.p = p
	return nil
}

// P returns the actor's power as of its last sampling boundary.
func (a *Actor) P() float64 {
	return a.p
}
