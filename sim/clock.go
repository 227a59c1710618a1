package sim

import (
	"fmt"
	"time"
)

// Clock converts between absolute timestamps and simulation-relative integer
// seconds. The reference point is fixed at construction; conversions are a
// pure bijection for all non-negative simulation times.
type Clock struct {
	simStart time.Time
}

// NewClock creates a Clock anchored at simStart.
func NewClock(simStart time.Time) Clock {
	return Clock{simStart: simStart}
}

// SimStart returns the simulation reference timestamp.
func (c Clock) SimStart() time.Time {
	return c.simStart
}

// ToTime converts simulation-relative seconds to an absolute timestamp.
// Negative values are invalid input.
func (c Clock) ToTime(seconds int64) (time.Time, error) {
	if seconds < 0 {
		return time.Time{}, fmt.Errorf("simulation time must be non-negative, got %d", seconds)
	}
	return c.simStart.Add(time.Duration(seconds) * time.Second), nil
}

// ToSeconds converts an absolute timestamp to simulation-relative seconds.
// Timestamps before the simulation start are invalid input.
func (c Clock) ToSeconds(t time.Time) (int64, error) {
	if t.Before(c.simStart) {
		return 0, fmt.Errorf("timestamp %s precedes simulation start %s",
			t.Format(time.RFC3339), c.simStart.Format(time.RFC3339))
	}
	return int64(t.Sub(c.simStart) / time.Second), nil
}
