package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Signal is a source of a scalar value at a given point in time.
//
// column selects the data column for multi-column signals; it may be empty
// for single-column signals or signals configured with a default column.
type Signal interface {
	Now(at time.Time, column string) (float64, error)
}

// ForecastPoint is a single forecasted value for a future target time.
type ForecastPoint struct {
	Time  time.Time
	Value float64
}

// Forecaster is the optional forecast capability of a Signal. Signals backed
// by forecast data return the entries of the most recent forecast request
// covering the queried window, in ascending target-time order.
type Forecaster interface {
	Forecast(start, end time.Time, column string) ([]ForecastPoint, error)
}

// Startable is implemented by signals that own background resources which
// must be started when the signal is attached to a running environment.
// The environment treats any startable signal as a software-in-the-loop
// participant and refuses to run it in virtual-time mode.
type Startable interface {
	Start(ctx context.Context)
}

// Finalizer is implemented by signals and controllers that hold resources
// which must be released when the simulation ends.
type Finalizer interface {
	Finalize()
}

// ErrForecastUnsupported is returned when a forecast is requested from a
// signal that has no forecast data configured.
var ErrForecastUnsupported = errors.New("signal does not provide forecast data")

// RangeError reports a query outside a trace signal's data span when no
// fallback range policy is configured.
type RangeError struct {
	Signal string
	Column string
	At     time.Time
	First  time.Time
	Last   time.Time
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("signal %q column %q: %s outside data range [%s, %s]",
		e.Signal, e.Column, e.At.Format(time.RFC3339),
		e.First.Format(time.RFC3339), e.Last.Format(time.RFC3339))
}

// ConstantSignal yields a fixed scalar that ignores time. The value can be
// updated externally between steps, e.g. by a controller or the SiL broker.
type ConstantSignal struct {
	mu    sync.RWMutex
	value float64
}

// NewConstantSignal creates a ConstantSignal with an initial value.
func NewConstantSignal(value float64) *ConstantSignal {
	return &ConstantSignal{value: value}
}

func (s *ConstantSignal) Now(at time.Time, column string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, nil
}

// SetValue replaces the signal's value. Visible from the next step on.
func (s *ConstantSignal) SetValue(value float64) {
	s.mu.Lock()
	s.value = value
	s.mu.Unlock()
}

// Value returns the current value.
func (s *ConstantSignal) Value() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}
