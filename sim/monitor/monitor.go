// Package monitor provides the built-in logging controller: it collects step
// results in memory, exports them as CSV, and computes run summaries.
package monitor

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/gridsim/gridsim/sim"
)

// Record is one flattened step-result row for a single microgrid.
type Record struct {
	Time   time.Time
	Fields map[string]float64
}

// MonitorFunc supplies extra columns per step, e.g. a sampled external signal.
type MonitorFunc func(now time.Time) map[string]float64

// Monitor is a Controller that keeps an in-memory log of every step result,
// one series per microgrid, and optionally streams rows to per-microgrid CSV
// files as the simulation runs.
type Monitor struct {
	outDir     string
	log        map[string][]Record
	order      []string // microgrid names in first-seen order
	fieldnames map[string][]string
	writers    map[string]*csv.Writer
	files      map[string]*os.File
	monitorFns []MonitorFunc
}

// New creates a Monitor. outDir may be empty to keep results in memory only;
// otherwise one CSV file per microgrid is written under it.
func New(outDir string) (*Monitor, error) {
	if outDir != "" {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return nil, fmt.Errorf("monitor output directory: %w", err)
		}
	}
	return &Monitor{
		outDir:     outDir,
		log:        make(map[string][]Record),
		fieldnames: make(map[string][]string),
		writers:    make(map[string]*csv.Writer),
		files:      make(map[string]*os.File),
	}, nil
}

// AddMonitorFn registers a function whose columns are appended to every row.
func (m *Monitor) AddMonitorFn(fn MonitorFunc) {
	m.monitorFns = append(m.monitorFns, fn)
}

// Step implements sim.Controller.
func (m *Monitor) Step(now time.Time, results map[string]sim.StepResult) error {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		res := results[name]
		fields := Flatten(res)
		for _, fn := range m.monitorFns {
			for k, v := range fn(now) {
				fields[k] = v
			}
		}
		if _, seen := m.log[name]; !seen {
			m.order = append(m.order, name)
		}
		m.log[name] = append(m.log[name], Record{Time: now, Fields: fields})

		if m.outDir != "" {
			if err := m.writeRow(name, now, fields); err != nil {
				return err
			}
		}
	}
	return nil
}

// Finalize implements sim.Controller; it flushes and closes any CSV files.
func (m *Monitor) Finalize() {
	for _, w := range m.writers {
		w.Flush()
	}
	for _, f := range m.files {
		f.Close()
	}
}

// Records returns the collected rows for a microgrid.
func (m *Monitor) Records(microgrid string) []Record {
	return m.log[microgrid]
}

// Microgrids returns the names of all observed microgrids in first-seen order.
func (m *Monitor) Microgrids() []string {
	return m.order
}

// ToCSV exports the collected rows of one microgrid to path.
func (m *Monitor) ToCSV(path, microgrid string) error {
	records := m.log[microgrid]
	if len(records) == 0 {
		return fmt.Errorf("no records collected for microgrid %q", microgrid)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := fieldOrder(records[0].Fields)
	if err := w.Write(append([]string{"time"}, header...)); err != nil {
		return err
	}
	for _, rec := range records {
		if err := w.Write(formatRow(rec, header)); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func (m *Monitor) writeRow(name string, now time.Time, fields map[string]float64) error {
	w, ok := m.writers[name]
	if !ok {
		f, err := os.Create(fmt.Sprintf("%s/%s.csv", m.outDir, name))
		if err != nil {
			return fmt.Errorf("monitor csv for %q: %w", name, err)
		}
		m.files[name] = f
		w = csv.NewWriter(f)
		m.writers[name] = w
		m.fieldnames[name] = fieldOrder(fields)
		if err := w.Write(append([]string{"time"}, m.fieldnames[name]...)); err != nil {
			return err
		}
	}
	if err := w.Write(formatRow(Record{Time: now, Fields: fields}, m.fieldnames[name])); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// Flatten maps a step result onto the stable field set consumed by CSV and
// API clients: p_delta, p_grid, <actor>.p, storage.*, and grid signal values.
func Flatten(res sim.StepResult) map[string]float64 {
	fields := map[string]float64{
		"p_delta": res.PDelta,
		"p_grid":  res.PGrid,
	}
	for name, p := range res.ActorStates {
		fields[name+".p"] = p
	}
	for key, v := range res.StorageState {
		fields["storage."+key] = v
	}
	for name, v := range res.GridSignals {
		fields[name] = v
	}
	return fields
}

// Summary aggregates a whole run for one microgrid.
type Summary struct {
	Steps          int
	PDeltaMean     float64
	PDeltaStdDev   float64
	PGridMean      float64
	PGridStdDev    float64
	PGridMin       float64
	PGridMax       float64
	GridEnergyIn   float64 // Wh drawn from the public grid
	GridEnergyOut  float64 // Wh fed to the public grid
}

// Summarize computes run statistics for a microgrid. stepSize is the
// microgrid's step size in seconds, used to integrate power into energy.
func (m *Monitor) Summarize(microgrid string, stepSize int64) (Summary, error) {
	records := m.log[microgrid]
	if len(records) == 0 {
		return Summary{}, fmt.Errorf("no records collected for microgrid %q", microgrid)
	}
	deltas := make([]float64, len(records))
	grids := make([]float64, len(records))
	for i, rec := range records {
		deltas[i] = rec.Fields["p_delta"]
		grids[i] = rec.Fields["p_grid"]
	}

	s := Summary{
		Steps:        len(records),
		PDeltaMean:   stat.Mean(deltas, nil),
		PGridMean:    stat.Mean(grids, nil),
		PGridMin:     grids[0],
		PGridMax:     grids[0],
		PDeltaStdDev: stat.StdDev(deltas, nil),
		PGridStdDev:  stat.StdDev(grids, nil),
	}
	hours := float64(stepSize) / 3600
	for _, g := range grids {
		if g < s.PGridMin {
			s.PGridMin = g
		}
		if g > s.PGridMax {
			s.PGridMax = g
		}
		if g < 0 {
			s.GridEnergyIn += -g * hours
		} else {
			s.GridEnergyOut += g * hours
		}
	}
	return s, nil
}

func fieldOrder(fields map[string]float64) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatRow(rec Record, header []string) []string {
	row := make([]string, 0, len(header)+1)
	row = append(row, rec.Time.Format(time.RFC3339))
	for _, k := range header {
		row = append(row, strconv.FormatFloat(rec.Fields[k], 'g', -1, 64))
	}
	return row
}
