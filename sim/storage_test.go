package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSimpleBattery_Validation(t *testing.T) {
	cases := []struct {
		name       string
		capacity   float64
		initialSoc float64
		minSoc     float64
		cRate      float64
	}{
		{"zero capacity", 0, 0.5, 0, 0},
		{"negative capacity", -100, 0.5, 0, 0},
		{"min soc of 1", 100, 1, 1, 0},
		{"negative min soc", 100, 0.5, -0.1, 0},
		{"initial below min", 100, 0.2, 0.3, 0},
		{"initial above 1", 100, 1.1, 0, 0},
		{"negative c-rate", 100, 0.5, 0, -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSimpleBattery(tc.capacity, tc.initialSoc, tc.minSoc, tc.cRate)
			assert.Error(t, err)
		})
	}
}

func TestSimpleBattery_Charge_FullyApplied(t *testing.T) {
	// GIVEN a half-full 100 Wh battery
	b, err := NewSimpleBattery(100, 0.5, 0, 0)
	require.NoError(t, err)

	// WHEN charging with 10 W for one hour
	applied, err := b.Update(10, 3600)
	require.NoError(t, err)

	// THEN the full power is applied and 10 Wh are stored
	assert.Equal(t, 10.0, applied)
	assert.Equal(t, 60.0, b.ChargeLevel())
	assert.InDelta(t, 0.6, b.Soc(), 1e-9)
}

func TestSimpleBattery_Charge_ClampedAtCapacity(t *testing.T) {
	// GIVEN a battery 10 Wh short of full
	b, err := NewSimpleBattery(100, 0.9, 0, 0)
	require.NoError(t, err)

	// WHEN charging with more power than fits
	applied, err := b.Update(100, 3600)
	require.NoError(t, err)

	// THEN only the power filling the battery is applied
	assert.Equal(t, 10.0, applied)
	assert.Equal(t, 100.0, b.ChargeLevel())
	assert.Equal(t, 1.0, b.Soc())

	// AND further charging applies nothing
	applied, err = b.Update(100, 3600)
	require.NoError(t, err)
	assert.Equal(t, 0.0, applied)
}

func TestSimpleBattery_Discharge_ClampedAtMinSoc(t *testing.T) {
	b, err := NewSimpleBattery(100, 0.4, 0.3, 0)
	require.NoError(t, err)

	// 10 Wh are available above the floor; a 20 W draw over an hour is cut.
	applied, err := b.Update(-20, 3600)
	require.NoError(t, err)
	assert.Equal(t, -10.0, applied)
	assert.InDelta(t, 0.3, b.Soc(), 1e-9)

	// At the floor a further discharge applies nothing.
	applied, err = b.Update(-20, 3600)
	require.NoError(t, err)
	assert.Equal(t, 0.0, applied)
	assert.InDelta(t, 0.3, b.Soc(), 1e-9)
}

func TestSimpleBattery_CRate_LimitsPower(t *testing.T) {
	// GIVEN a 100 Wh battery limited to 0.5C (50 W)
	b, err := NewSimpleBattery(100, 0.5, 0, 0.5)
	require.NoError(t, err)

	// WHEN requesting 200 W in either direction
	applied, err := b.Update(200, 3600)
	require.NoError(t, err)
	assert.Equal(t, 50.0, applied)

	applied, err = b.Update(-200, 3600)
	require.NoError(t, err)
	assert.Equal(t, -50.0, applied)
}

func TestSimpleBattery_Update_ZeroPowerKeepsState(t *testing.T) {
	b, err := NewSimpleBattery(100, 0.5, 0, 0)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		applied, err := b.Update(0, 60)
		require.NoError(t, err)
		assert.Equal(t, 0.0, applied)
	}
	assert.Equal(t, 0.5, b.Soc())
}

func TestSimpleBattery_Update_NonPositiveDuration_Fails(t *testing.T) {
	b, err := NewSimpleBattery(100, 0.5, 0, 0)
	require.NoError(t, err)

	_, err = b.Update(10, 0)
	assert.Error(t, err)
	_, err = b.Update(10, -1)
	assert.Error(t, err)
}

func TestSimpleBattery_SetParameter_MinSocAboveCurrentSoc(t *testing.T) {
	// GIVEN a battery at 40% whose floor is raised to 60% mid-run
	b, err := NewSimpleBattery(100, 0.4, 0.2, 0)
	require.NoError(t, err)
	require.NoError(t, b.SetParameter("min_soc", 0.6))

	// THEN discharging applies nothing but never force-charges
	applied, err := b.Update(-50, 3600)
	require.NoError(t, err)
	assert.Equal(t, 0.0, applied)
	assert.InDelta(t, 0.4, b.Soc(), 1e-9)

	// AND charging still works normally
	applied, err = b.Update(10, 3600)
	require.NoError(t, err)
	assert.Equal(t, 10.0, applied)
}

func TestSimpleBattery_SetParameter_Validation(t *testing.T) {
	b, err := NewSimpleBattery(100, 0.5, 0, 0)
	require.NoError(t, err)

	assert.Error(t, b.SetParameter("min_soc", 1.0))
	assert.Error(t, b.SetParameter("min_soc", -0.1))
	assert.Error(t, b.SetParameter("c_rate", -1.0))
	assert.Error(t, b.SetParameter("capacity", 200.0))
	assert.NoError(t, b.SetParameter("c_rate", 2.0))
}

func TestSimpleBattery_State_Snapshot(t *testing.T) {
	b, err := NewSimpleBattery(100, 0.5, 0.1, 1)
	require.NoError(t, err)

	state := b.State()
	assert.Equal(t, 0.5, state["soc"])
	assert.Equal(t, 50.0, state["charge_level"])
	assert.Equal(t, 100.0, state["capacity"])
	assert.Equal(t, 0.1, state["min_soc"])
	assert.Equal(t, 1.0, state["c_rate"])
}

func TestNewClcBattery_DefaultsAndValidation(t *testing.T) {
	// Zero config selects the LGM50 single-cell defaults.
	b, err := NewClcBattery(ClcBatteryConfig{InitialSoc: 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, b.Soc(), 1e-9)

	_, err = NewClcBattery(ClcBatteryConfig{InitialSoc: 1.5})
	assert.Error(t, err)
	_, err = NewClcBattery(ClcBatteryConfig{MinSoc: 1})
	assert.Error(t, err)
	_, err = NewClcBattery(ClcBatteryConfig{EtaD: 0.9})
	assert.Error(t, err)
	_, err = NewClcBattery(ClcBatteryConfig{EtaC: 1.5})
	assert.Error(t, err)
	_, err = NewClcBattery(ClcBatteryConfig{NumCells: -4})
	assert.Error(t, err)
}

func TestClcBattery_ChargeIncreasesAndDischargeDecreasesSoc(t *testing.T) {
	b, err := NewClcBattery(ClcBatteryConfig{InitialSoc: 0.5})
	require.NoError(t, err)

	applied, err := b.Update(2, 60)
	require.NoError(t, err)
	assert.Greater(t, applied, 0.0)
	assert.Greater(t, b.Soc(), 0.5)

	socAfterCharge := b.Soc()
	applied, err = b.Update(-2, 60)
	require.NoError(t, err)
	assert.Less(t, applied, 0.0)
	assert.Less(t, b.Soc(), socAfterCharge)
}

func TestClcBattery_ChargeEfficiency_LossesApply(t *testing.T) {
	// GIVEN a fresh cell at 50%
	b, err := NewClcBattery(ClcBatteryConfig{InitialSoc: 0.5})
	require.NoError(t, err)
	before := b.Soc()

	// WHEN charging and then discharging with the same power and duration
	_, err = b.Update(1, 60)
	require.NoError(t, err)
	_, err = b.Update(-1, 60)
	require.NoError(t, err)

	// THEN the round trip loses energy
	assert.Less(t, b.Soc(), before)
}

func TestClcBattery_DischargeStopsAtMinSoc(t *testing.T) {
	b, err := NewClcBattery(ClcBatteryConfig{InitialSoc: 0.31, MinSoc: 0.3})
	require.NoError(t, err)

	// Drain in small steps; the SoC never crosses the floor.
	for i := 0; i < 100; i++ {
		_, err := b.Update(-5, 60)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, b.Soc(), 0.3-1e-9)

	applied, err := b.Update(-5, 60)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, applied, 1e-9)
}

func TestClcBattery_MultiCell_ScalesPower(t *testing.T) {
	single, err := NewClcBattery(ClcBatteryConfig{InitialSoc: 0.5})
	require.NoError(t, err)
	pack, err := NewClcBattery(ClcBatteryConfig{NumCells: 10, InitialSoc: 0.5})
	require.NoError(t, err)

	appliedSingle, err := single.Update(100, 60)
	require.NoError(t, err)
	appliedPack, err := pack.Update(100, 60)
	require.NoError(t, err)

	// Ten cells absorb more of the requested power than one.
	assert.Greater(t, appliedPack, appliedSingle)
}
