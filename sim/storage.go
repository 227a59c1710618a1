package sim

import (
	"fmt"
	"math"
)

// Storage is an energy storage device, typically a battery. State is mutated
// only through Update; Soc and State are read-only snapshots.
type Storage interface {
	// Update feeds or draws power for the given duration. power is in W
	// (positive = charge, negative = discharge), duration in seconds. It
	// returns the power actually applied, which may be smaller in magnitude
	// than requested due to capacity, min-SoC, or rate limits. The residual
	// power that could not be absorbed or delivered flows to the grid.
	Update(power, duration float64) (float64, error)

	// Soc returns the state of charge in [0, 1].
	Soc() float64

	// State returns a snapshot of the storage for step results and logging.
	State() map[string]float64

	// SetParameter mutates one of the explicitly supported runtime-tunable
	// parameters. Takes effect on the next Update call.
	SetParameter(key string, value float64) error
}

// SimpleBattery is a capacity-bucket battery model. The charge level always
// stays within [minSoc*capacity, capacity]; discharging stops at the min-SoC
// floor and charging stops at capacity. An optional C-rate caps the
// charge/discharge power.
type SimpleBattery struct {
	capacity    float64 // Wh
	chargeLevel float64 // Wh
	minSoc      float64
	cRate       float64 // 0 = unbounded
}

// NewSimpleBattery validates parameters and creates a battery. capacity is in
// Wh and must be positive; initialSoc must lie in [minSoc, 1]; minSoc in
// [0, 1); cRate of 0 means no power limit.
func NewSimpleBattery(capacity, initialSoc, minSoc, cRate float64) (*SimpleBattery, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("battery capacity must be positive, got %v", capacity)
	}
	if minSoc < 0 || minSoc >= 1 {
		return nil, fmt.Errorf("min SoC must be in [0, 1), got %v", minSoc)
	}
	if initialSoc < minSoc || initialSoc > 1 {
		return nil, fmt.Errorf("initial SoC %v outside [min SoC %v, 1]", initialSoc, minSoc)
	}
	if cRate < 0 {
		return nil, fmt.Errorf("C-rate must be non-negative, got %v", cRate)
	}
	return &SimpleBattery{
		capacity:    capacity,
		chargeLevel: capacity * initialSoc,
		minSoc:      minSoc,
		cRate:       cRate,
	}, nil
}

// Update applies a charge (positive) or discharge (negative) power for the
// given duration in seconds and returns the power actually applied.
func (b *SimpleBattery) Update(power, duration float64) (float64, error) {
	if duration <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %v", duration)
	}

	// At or below the floor the battery is not discharged further. Raising
	// min_soc above the current SoC never force-charges the battery.
	if b.Soc() <= b.minSoc && power <= 0 {
		return 0, nil
	}

	if b.cRate > 0 {
		maxPower := b.cRate * b.capacity
		if power > maxPower {
			power = maxPower
		} else if power < -maxPower {
			power = -maxPower
		}
	}

	energy := power * duration / 3600 // Wh
	newLevel := b.chargeLevel + energy
	floor := b.minSoc * b.capacity

	switch {
	case newLevel < floor:
		energy = floor - b.chargeLevel
		b.chargeLevel = floor
	case newLevel > b.capacity:
		energy = b.capacity - b.chargeLevel
		b.chargeLevel = b.capacity
	default:
		b.chargeLevel = newLevel
	}
	return energy * 3600 / duration, nil
}

// Soc returns charge level divided by capacity.
func (b *SimpleBattery) Soc() float64 {
	return b.chargeLevel / b.capacity
}

// Capacity returns the battery's energy capacity in Wh.
func (b *SimpleBattery) Capacity() float64 {
	return b.capacity
}

// ChargeLevel returns the current charge level in Wh.
func (b *SimpleBattery) ChargeLevel() float64 {
	return b.chargeLevel
}

// MinSoc returns the current minimum state of charge.
func (b *SimpleBattery) MinSoc() float64 {
	return b.minSoc
}

// State returns a snapshot of the battery.
func (b *SimpleBattery) State() map[string]float64 {
	return map[string]float64{
		"soc":          b.Soc(),
		"charge_level": b.chargeLevel,
		"capacity":     b.capacity,
		"min_soc":      b.minSoc,
		"c_rate":       b.cRate,
	}
}

// SetParameter supports the runtime-tunable keys "min_soc" and "c_rate".
// Changing min_soc constrains future updates only; an already lower charge
// level is not retroactively adjusted.
func (b *SimpleBattery) SetParameter(key string, value float64) error {
	switch key {
	case "min_soc":
		if value < 0 || value >= 1 {
			return fmt.Errorf("min SoC must be in [0, 1), got %v", value)
		}
		b.minSoc = value
	case "c_rate":
		if value < 0 {
			return fmt.Errorf("C-rate must be non-negative, got %v", value)
		}
		b.cRate = value
	default:
		return fmt.Errorf("battery has no tunable parameter %q", key)
	}
	return nil
}

// ClcBattery implements the C-L-C model for lithium-ion batteries
// (Kazhamiaka, Rosenberg & Keshav, Energy Informatics 2019). The default
// parameterization models a pack of LGM50 21700 cells. Not suited to large
// step sizes.
type ClcBattery struct {
	numCells        int
	chargeLevel     float64 // Wh, per cell
	minSoc          float64
	nomVoltage      float64
	u1, v1          float64 // lower energy limit, linear in discharge current
	u2, v2          float64 // upper energy limit, linear in charge current; v2 = cell capacity
	alphaD          float64 // max discharge rate, Wh (alpha_d * v2)
	alphaC          float64 // max charge rate, Wh (alpha_c * v2)
	etaD            float64 // discharge inefficiency, >= 1
	etaC            float64 // charge efficiency, in [0, 1]
	dischargeCutoff float64 // W, per cell
	chargeCutoff    float64 // W, per cell
}

// ClcBatteryConfig parameterizes a ClcBattery. Zero values select the LGM50
// cell defaults.
type ClcBatteryConfig struct {
	NumCells                 int
	InitialSoc               float64
	MinSoc                   float64
	NomVoltage               float64
	U1, V1                   float64
	U2, V2                   float64
	AlphaD                   float64 // C-rate, negative
	AlphaC                   float64 // C-rate, positive
	EtaD                     float64
	EtaC                     float64
	DischargingCurrentCutoff float64 // A, negative
	ChargingCurrentCutoff    float64 // A, positive
}

// NewClcBattery validates the configuration and creates a C-L-C battery.
func NewClcBattery(cfg ClcBatteryConfig) (*ClcBattery, error) {
	if cfg.NumCells == 0 {
		cfg.NumCells = 1
	}
	if cfg.NumCells < 0 {
		return nil, fmt.Errorf("number of cells must be positive, got %d", cfg.NumCells)
	}
	if cfg.NomVoltage == 0 {
		cfg.NomVoltage = 3.63
	}
	if cfg.U1 == 0 {
		cfg.U1 = -0.087
	}
	if cfg.U2 == 0 {
		cfg.U2 = -1.326
	}
	if cfg.V2 == 0 {
		cfg.V2 = 19.14
	}
	if cfg.AlphaD == 0 {
		cfg.AlphaD = -1.5
	}
	if cfg.AlphaC == 0 {
		cfg.AlphaC = 0.7
	}
	if cfg.EtaD == 0 {
		cfg.EtaD = 1.014
	}
	if cfg.EtaC == 0 {
		cfg.EtaC = 0.978
	}
	if cfg.DischargingCurrentCutoff == 0 {
		cfg.DischargingCurrentCutoff = -0.05
	}
	if cfg.ChargingCurrentCutoff == 0 {
		cfg.ChargingCurrentCutoff = 0.05
	}
	if cfg.InitialSoc < 0 || cfg.InitialSoc > 1 {
		return nil, fmt.Errorf("initial SoC must be in [0, 1], got %v", cfg.InitialSoc)
	}
	if cfg.MinSoc < 0 || cfg.MinSoc >= 1 {
		return nil, fmt.Errorf("min SoC must be in [0, 1), got %v", cfg.MinSoc)
	}
	if cfg.EtaD < 1 {
		return nil, fmt.Errorf("discharge inefficiency must be >= 1, got %v", cfg.EtaD)
	}
	if cfg.EtaC < 0 || cfg.EtaC > 1 {
		return nil, fmt.Errorf("charge efficiency must be in [0, 1], got %v", cfg.EtaC)
	}
	return &ClcBattery{
		numCells:        cfg.NumCells,
		chargeLevel:     cfg.V2 * cfg.InitialSoc,
		minSoc:          cfg.MinSoc,
		nomVoltage:      cfg.NomVoltage,
		u1:              cfg.U1,
		v1:              cfg.V1,
		u2:              cfg.U2,
		v2:              cfg.V2,
		alphaD:          cfg.AlphaD * cfg.V2,
		alphaC:          cfg.AlphaC * cfg.V2,
		etaD:            cfg.EtaD,
		etaC:            cfg.EtaC,
		dischargeCutoff: cfg.DischargingCurrentCutoff * cfg.NomVoltage,
		chargeCutoff:    cfg.ChargingCurrentCutoff * cfg.NomVoltage,
	}, nil
}

func (b *ClcBattery) Soc() float64 {
	return b.chargeLevel / b.v2
}

// Update applies power for a duration and returns the power actually applied.
func (b *ClcBattery) Update(power, duration float64) (float64, error) {
	if duration <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %v", duration)
	}
	switch {
	case power > 0:
		return b.charge(power, duration), nil
	case power < 0 && b.Soc() > b.minSoc:
		return b.discharge(power, duration), nil
	default:
		return 0, nil
	}
}

func (b *ClcBattery) charge(power, duration float64) float64 {
	hours := duration / 3600
	// Charge power limit from the current-dependent upper energy bound.
	maxPower := math.Min(
		(b.chargeLevel-b.v2)/(b.u2/b.nomVoltage-hours*b.etaC),
		b.alphaC,
	) * float64(b.numCells)
	if power > maxPower {
		if maxPower >= b.chargeCutoff {
			power = maxPower
		} else {
			power = 0
		}
	}
	b.chargeLevel += b.etaC * (power / float64(b.numCells)) * hours
	return power
}

func (b *ClcBattery) discharge(power, duration float64) float64 {
	hours := duration / 3600
	// Discharge power limit from the current-dependent lower energy bound.
	minPower := math.Max(
		(b.chargeLevel-b.v1)/(b.u1/b.nomVoltage-hours*b.etaD),
		b.alphaD,
	) * float64(b.numCells)
	if power < minPower {
		if minPower <= b.dischargeCutoff {
			power = minPower
		} else {
			power = 0
		}
	}

	delta := b.etaD * (power / float64(b.numCells)) * hours // Wh, per cell, negative
	floor := b.minSoc * b.v2
	if b.chargeLevel+delta < floor {
		// Limit the discharge so the cell stops exactly at the floor.
		externalEnergy := (floor - b.chargeLevel) / b.etaD
		b.chargeLevel = floor
		return externalEnergy * float64(b.numCells) / hours
	}
	b.chargeLevel += delta
	return power
}

// State returns a snapshot of the battery pack.
func (b *ClcBattery) State() map[string]float64 {
	return map[string]float64{
		"soc":          b.Soc(),
		"charge_level": b.chargeLevel * float64(b.numCells),
		"capacity":     b.v2 * float64(b.numCells),
		"min_soc":      b.minSoc,
	}
}

// SetParameter supports the runtime-tunable key "min_soc".
func (b *ClcBattery) SetParameter(key string, value float64) error {
	switch key {
	case "min_soc":
		if value < 0 || value >= 1 {
			return fmt.Errorf("min SoC must be in [0, 1), got %v", value)
		}
		b.minSoc = value
	default:
		return fmt.Errorf("battery has no tunable parameter %q", key)
	}
	return nil
}
