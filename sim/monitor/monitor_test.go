package monitor

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsim/gridsim/sim"
)

func stepResult(t time.Time, pDelta, pGrid float64) sim.StepResult {
	return sim.StepResult{
		Time:   t,
		PDelta: pDelta,
		PGrid:  pGrid,
		ActorStates: map[string]float64{
			"server": -700,
			"solar":  1000,
		},
		StorageState: map[string]float64{"soc": 0.8},
		GridSignals:  map[string]float64{"carbon_intensity": 250},
	}
}

func TestFlatten_StableFieldSet(t *testing.T) {
	now := time.Date(2020, 6, 11, 0, 0, 0, 0, time.UTC)
	fields := Flatten(stepResult(now, 300, 0))

	assert.Equal(t, 300.0, fields["p_delta"])
	assert.Equal(t, 0.0, fields["p_grid"])
	assert.Equal(t, -700.0, fields["server.p"])
	assert.Equal(t, 1000.0, fields["solar.p"])
	assert.Equal(t, 0.8, fields["storage.soc"])
	assert.Equal(t, 250.0, fields["carbon_intensity"])
}

func TestMonitor_Step_CollectsPerMicrogrid(t *testing.T) {
	m, err := New("")
	require.NoError(t, err)
	now := time.Date(2020, 6, 11, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.Step(now, map[string]sim.StepResult{
		"site-a": stepResult(now, 300, 0),
		"site-b": stepResult(now, -100, -100),
	}))
	require.NoError(t, m.Step(now.Add(time.Hour), map[string]sim.StepResult{
		"site-a": stepResult(now.Add(time.Hour), 300, 300),
	}))

	assert.Equal(t, []string{"site-a", "site-b"}, m.Microgrids())
	assert.Len(t, m.Records("site-a"), 2)
	assert.Len(t, m.Records("site-b"), 1)
	assert.Equal(t, 300.0, m.Records("site-a")[1].Fields["p_grid"])
}

func TestMonitor_MonitorFn_AddsColumns(t *testing.T) {
	m, err := New("")
	require.NoError(t, err)
	m.AddMonitorFn(func(now time.Time) map[string]float64 {
		return map[string]float64{"outside_temp": 21.5}
	})
	now := time.Date(2020, 6, 11, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.Step(now, map[string]sim.StepResult{"site": stepResult(now, 0, 0)}))
	assert.Equal(t, 21.5, m.Records("site")[0].Fields["outside_temp"])
}

func TestMonitor_StreamsCSVPerMicrogrid(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir)
	require.NoError(t, err)
	now := time.Date(2020, 6, 11, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.Step(now, map[string]sim.StepResult{"site": stepResult(now, 300, 0)}))
	require.NoError(t, m.Step(now.Add(time.Hour), map[string]sim.StepResult{"site": stepResult(now.Add(time.Hour), 300, 300)}))
	m.Finalize()

	f, err := os.Open(filepath.Join(dir, "site.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 3, "header plus two data rows")
	assert.Equal(t, "time", rows[0][0])
	assert.Contains(t, rows[0], "p_grid")
	assert.Contains(t, rows[0], "server.p")
	assert.Equal(t, "2020-06-11T00:00:00Z", rows[1][0])
}

func TestMonitor_ToCSV_ExportsCollectedRows(t *testing.T) {
	m, err := New("")
	require.NoError(t, err)
	now := time.Date(2020, 6, 11, 0, 0, 0, 0, time.UTC)
	require.NoError(t, m.Step(now, map[string]sim.StepResult{"site": stepResult(now, 300, 0)}))

	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, m.ToCSV(path, "site"))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	assert.Error(t, m.ToCSV(path, "unknown"))
}

func TestMonitor_Summarize(t *testing.T) {
	m, err := New("")
	require.NoError(t, err)
	now := time.Date(2020, 6, 11, 0, 0, 0, 0, time.UTC)

	// p_grid over four hourly steps: 300, 300, -700, -700
	for i, pGrid := range []float64{300, 300, -700, -700} {
		ts := now.Add(time.Duration(i) * time.Hour)
		res := sim.StepResult{Time: ts, PDelta: pGrid, PGrid: pGrid}
		require.NoError(t, m.Step(ts, map[string]sim.StepResult{"site": res}))
	}

	s, err := m.Summarize("site", 3600)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Steps)
	assert.InDelta(t, -200.0, s.PGridMean, 1e-9)
	assert.Equal(t, -700.0, s.PGridMin)
	assert.Equal(t, 300.0, s.PGridMax)
	assert.InDelta(t, 1400.0, s.GridEnergyIn, 1e-9)
	assert.InDelta(t, 600.0, s.GridEnergyOut, 1e-9)

	_, err = m.Summarize("unknown", 3600)
	assert.Error(t, err)
}
