package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustActor(t *testing.T, name string, signal Signal, stepSize int64) *Actor {
	t.Helper()
	a, err := NewActor(name, signal, stepSize)
	require.NoError(t, err)
	return a
}

func TestNewMicrogrid_Validation(t *testing.T) {
	actor := func() *Actor { return mustActor(t, "a", NewConstantSignal(1), 0) }

	_, err := newMicrogrid(MicrogridConfig{Actors: []*Actor{actor()}}, 60)
	assert.Error(t, err, "name is required")

	_, err = newMicrogrid(MicrogridConfig{Name: "mg"}, 60)
	assert.Error(t, err, "at least one actor is required")

	_, err = newMicrogrid(MicrogridConfig{
		Name:   "mg",
		Actors: []*Actor{mustActor(t, "a", NewConstantSignal(1), 0), mustActor(t, "a", NewConstantSignal(2), 0)},
	}, 60)
	assert.Error(t, err, "duplicate actor names are rejected")

	_, err = newMicrogrid(MicrogridConfig{Name: "mg", Actors: []*Actor{actor()}, StepSize: 90}, 60)
	assert.Error(t, err, "step size must be a multiple of the environment's")

	_, err = newMicrogrid(MicrogridConfig{
		Name:     "mg",
		Actors:   []*Actor{mustActor(t, "a", NewConstantSignal(1), 90)},
		StepSize: 60,
	}, 60)
	assert.Error(t, err, "actor step size must be a multiple of the microgrid's")
}

func TestMicrogrid_StepSizeInheritance(t *testing.T) {
	a := mustActor(t, "a", NewConstantSignal(1), 0)
	mg, err := newMicrogrid(MicrogridConfig{Name: "mg", Actors: []*Actor{a}}, 60)
	require.NoError(t, err)

	assert.Equal(t, int64(60), mg.StepSize())
	assert.Equal(t, int64(60), a.StepSize, "actor inherits the microgrid step size")
}

func TestMicrogrid_Step_SignConvention(t *testing.T) {
	// GIVEN a consumer of 700 W and a producer of 1000 W, no storage
	mg, err := newMicrogrid(MicrogridConfig{
		Name: "mg",
		Actors: []*Actor{
			mustActor(t, "server", NewConstantSignal(-700), 0),
			mustActor(t, "solar", NewConstantSignal(1000), 0),
		},
	}, 3600)
	require.NoError(t, err)

	// WHEN stepping
	res, err := mg.Step(time.Date(2020, 6, 11, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	// THEN the 300 W surplus is fed to the grid
	assert.Equal(t, 300.0, res.PDelta)
	assert.Equal(t, 300.0, res.PGrid)
	assert.Equal(t, -700.0, res.ActorStates["server"])
	assert.Equal(t, 1000.0, res.ActorStates["solar"])
	assert.Nil(t, res.StorageState)
}

func TestMicrogrid_Step_StorageAbsorbsDelta(t *testing.T) {
	b, err := NewSimpleBattery(1500, 0.8, 0.3, 0)
	require.NoError(t, err)
	mg, err := newMicrogrid(MicrogridConfig{
		Name:    "mg",
		Actors:  []*Actor{mustActor(t, "a", NewConstantSignal(300), 0)},
		Storage: b,
	}, 3600)
	require.NoError(t, err)

	res, err := mg.Step(time.Date(2020, 6, 11, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, 300.0, res.PDelta)
	assert.Equal(t, 0.0, res.PGrid, "the battery absorbs the full surplus")
	assert.InDelta(t, 0.8+300.0/1500, res.StorageState["soc"], 1e-9)
}

func TestMicrogrid_Step_SlowActorHoldsValue(t *testing.T) {
	// GIVEN an actor sampling every other microgrid step
	sig := NewConstantSignal(100)
	mg, err := newMicrogrid(MicrogridConfig{
		Name:   "mg",
		Actors: []*Actor{mustActor(t, "slow", sig, 120)},
	}, 60)
	require.NoError(t, err)
	now := time.Date(2020, 6, 11, 0, 0, 0, 0, time.UTC)

	// WHEN the signal changes between the actor's sampling boundaries
	res, err := mg.Step(now)
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.PDelta)

	sig.SetValue(999)
	res, err = mg.Step(now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.PDelta, "held value at t=60")

	// THEN the new value shows up at the next boundary
	res, err = mg.Step(now.Add(2 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 999.0, res.PDelta)
}

func TestMicrogrid_Step_GridSignalsSampled(t *testing.T) {
	ci, err := NewTraceSignal(TraceTable{
		"ci": {
			Times:  []time.Time{traceStart, traceStart.Add(time.Hour)},
			Values: []float64{250, 300},
		},
	}, nil, TraceOptions{Name: "ci", Column: "ci"})
	require.NoError(t, err)
	mg, err := newMicrogrid(MicrogridConfig{
		Name:        "mg",
		Actors:      []*Actor{mustActor(t, "a", NewConstantSignal(0), 0)},
		GridSignals: map[string]Signal{"carbon_intensity": ci},
	}, 3600)
	require.NoError(t, err)

	res, err := mg.Step(traceStart)
	require.NoError(t, err)
	assert.Equal(t, 250.0, res.GridSignals["carbon_intensity"])

	// A grid signal error aborts the step.
	_, err = mg.Step(traceStart.Add(2 * time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carbon_intensity")
}

func TestMicrogrid_Step_ActorErrorCarriesContext(t *testing.T) {
	solar, err := NewTraceSignal(TraceTable{
		"p": {Times: []time.Time{traceStart}, Values: []float64{1}},
	}, nil, TraceOptions{Name: "solar"})
	require.NoError(t, err)
	mg, err := newMicrogrid(MicrogridConfig{
		Name:   "site-a",
		Actors: []*Actor{mustActor(t, "panel", solar, 0)},
	}, 3600)
	require.NoError(t, err)

	_, err = mg.Step(traceStart.Add(time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "site-a")
	assert.Contains(t, err.Error(), "panel")
}

func TestMicrogrid_SetParameter(t *testing.T) {
	b, err := NewSimpleBattery(100, 0.5, 0.1, 0)
	require.NoError(t, err)
	mg, err := newMicrogrid(MicrogridConfig{
		Name:    "mg",
		Actors:  []*Actor{mustActor(t, "a", NewConstantSignal(0), 0)},
		Storage: b,
	}, 60)
	require.NoError(t, err)

	require.NoError(t, mg.SetParameter("storage:min_soc", 0.4))
	assert.Equal(t, 0.4, b.MinSoc())

	require.NoError(t, mg.SetParameter("policy:charge_power", 25.0))
	assert.Equal(t, 25.0, mg.Policy().State()["charge_power"])

	assert.Error(t, mg.SetParameter("min_soc", 0.4), "path needs a target prefix")
	assert.Error(t, mg.SetParameter("storage:capacity", 1.0))
	assert.Error(t, mg.SetParameter("inverter:mode", 1.0))
	assert.Error(t, mg.SetParameter("storage:min_soc", "half"))
}

func TestMicrogrid_SetParameter_NoStorage(t *testing.T) {
	mg, err := newMicrogrid(MicrogridConfig{
		Name:   "mg",
		Actors: []*Actor{mustActor(t, "a", NewConstantSignal(0), 0)},
	}, 60)
	require.NoError(t, err)

	assert.Error(t, mg.SetParameter("storage:min_soc", 0.4))
}
