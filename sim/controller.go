package sim

import "time"

// Controller observes and optionally mutates microgrid state between steps.
// Step is invoked from the environment's stepping goroutine after every step
// boundary with the results of the microgrids that stepped at that boundary,
// keyed by microgrid name. Mutations made during Step are visible from the
// next step on, never retroactively.
type Controller interface {
	Step(now time.Time, results map[string]StepResult) error

	// Finalize runs after the simulation has ended, for clean-up.
	Finalize()
}
