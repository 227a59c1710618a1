package sim

import (
	"fmt"
)

// PolicyMode selects how a microgrid exchanges energy with the public grid.
type PolicyMode string

const (
	// ModeGridConnected lets the microgrid draw from and feed to the public
	// grid at will.
	ModeGridConnected PolicyMode = "grid-connected"
	// ModeIslanded forces the microgrid to rely on its own resources; a
	// deficit that the storage cannot cover is an error.
	ModeIslanded PolicyMode = "islanded"
)

// MicrogridPolicy reconciles a power delta against the storage capability to
// produce the grid exchange for one step.
type MicrogridPolicy interface {
	// Apply dispatches pDelta (W, positive = surplus) over duration seconds,
	// possibly (dis)charging storage, and returns the power exchanged with
	// the public grid (positive = fed to the grid). storage may be nil.
	Apply(pDelta, duration float64, storage Storage) (float64, error)

	// State returns a snapshot of the policy for step results and logging.
	State() map[string]any

	// SetParameter mutates one of the explicitly supported runtime-tunable
	// parameters before the next step.
	SetParameter(key string, value any) error
}

// DefaultMicrogridPolicy charges the storage with all excess power and
// discharges it to cover deficits; the uncovered remainder flows to or from
// the public grid. An optional fixed charge power overrides the storage
// set-point in grid-connected mode.
type DefaultMicrogridPolicy struct {
	mode        PolicyMode
	chargePower float64
}

// NewDefaultMicrogridPolicy creates the default policy in grid-connected mode.
func NewDefaultMicrogridPolicy() *DefaultMicrogridPolicy {
	return &DefaultMicrogridPolicy{mode: ModeGridConnected}
}

// NewIslandedPolicy creates the default policy in islanded mode.
func NewIslandedPolicy() *DefaultMicrogridPolicy {
	return &DefaultMicrogridPolicy{mode: ModeIslanded}
}

// SetChargePower fixes the storage set-point to a constant power (W) instead
// of the step's power delta. Zero restores delta-driven dispatch.
func (p *DefaultMicrogridPolicy) SetChargePower(power float64) {
	p.chargePower = power
}

// Apply implements MicrogridPolicy. With a zero delta and no charge-power
// override the storage set-point is zero and the state never drifts.
func (p *DefaultMicrogridPolicy) Apply(pDelta, duration float64, storage Storage) (float64, error) {
	var applied float64
	if storage != nil {
		setpoint := pDelta
		if p.mode == ModeGridConnected && p.chargePower != 0 {
			setpoint = p.chargePower
		}
		var err error
		applied, err = storage.Update(setpoint, duration)
		if err != nil {
			return 0, err
		}
	}
	pGrid := pDelta - applied

	if p.mode == ModeIslanded {
		if pGrid < 0 {
			return 0, fmt.Errorf("islanded microgrid cannot cover a %v W deficit", -pGrid)
		}
		// Surplus the storage cannot absorb is curtailed.
		return 0, nil
	}
	return pGrid, nil
}

// State returns the current mode and charge power.
func (p *DefaultMicrogridPolicy) State() map[string]any {
	return map[string]any{
		"mode":         string(p.mode),
		"charge_power": p.chargePower,
	}
}

// SetParameter supports the runtime-tunable keys "mode" and "charge_power".
func (p *DefaultMicrogridPolicy) SetParameter(key string, value any) error {
	switch key {
	case "mode":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("mode must be a string, got %T", value)
		}
		mode := PolicyMode(s)
		if mode != ModeGridConnected && mode != ModeIslanded {
			return fmt.Errorf("invalid policy mode %q", s)
		}
		p.mode = mode
	case "charge_power":
		v, err := toFloat(value)
		if err != nil {
			return fmt.Errorf("charge_power: %w", err)
		}
		p.chargePower = v
	default:
		return fmt.Errorf("policy has no tunable parameter %q", key)
	}
	return nil
}

// toFloat converts the numeric types that reach us from YAML and JSON
// decoding into a float64.
func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", value)
	}
}
