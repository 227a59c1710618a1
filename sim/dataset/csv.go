// Package dataset converts CSV files into the in-memory tables consumed by
// trace signals. The simulation kernel performs no file I/O itself; scaling
// and time-shifting are applied here, once at load.
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/gridsim/gridsim/sim"
)

// Options controls the load-time transformations of a dataset.
type Options struct {
	// Scale multiplies every value. Zero means 1 (no scaling).
	Scale float64
	// StartTime, when non-zero, rebases the data so its first timestamp
	// becomes StartTime. Mutually exclusive with Shift.
	StartTime time.Time
	// Shift offsets every timestamp by a fixed duration.
	Shift time.Duration
}

func (o Options) scale() float64 {
	if o.Scale == 0 {
		return 1
	}
	return o.Scale
}

func (o Options) validate() error {
	if !o.StartTime.IsZero() && o.Shift != 0 {
		return fmt.Errorf("start time and shift are mutually exclusive")
	}
	return nil
}

// LoadSignalCSV loads an actual trace and, when forecastPath is non-empty,
// its forecast data. A StartTime rebase is resolved into a single shift
// against the actual data's earliest timestamp, and that same shift is
// applied to the forecast request and target times so the request-to-target
// lead and the actual/forecast alignment survive the rebase.
func LoadSignalCSV(tracePath, forecastPath string, opts Options) (sim.TraceTable, sim.ForecastTable, error) {
	if err := opts.validate(); err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", tracePath, err)
	}
	actual, shift, err := loadTrace(tracePath, opts)
	if err != nil {
		return nil, nil, err
	}
	if forecastPath == "" {
		return actual, nil, nil
	}
	forecast, err := LoadForecastCSV(forecastPath, Options{Scale: opts.Scale, Shift: shift})
	if err != nil {
		return nil, nil, err
	}
	return actual, forecast, nil
}

// LoadTraceCSV reads actual time-series data. The expected layout is a header
// `time,<col>[,<col>...]` followed by RFC 3339 timestamps and float values;
// empty cells become NaN and are dropped by the signal at construction.
func LoadTraceCSV(path string, opts Options) (sim.TraceTable, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	table, _, err := loadTrace(path, opts)
	return table, err
}

// loadTrace returns the loaded table along with the shift that was applied,
// so forecast data can be rebased by the same amount.
func loadTrace(path string, opts Options) (sim.TraceTable, time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	header, rows, err := readAll(f)
	if err != nil {
		return nil, 0, fmt.Errorf("load %s: %w", path, err)
	}
	if len(header) < 2 || header[0] != "time" {
		return nil, 0, fmt.Errorf("load %s: header must be \"time,<column>...\", got %v", path, header)
	}

	times := make([]time.Time, len(rows))
	for i, row := range rows {
		t, err := time.Parse(time.RFC3339, row[0])
		if err != nil {
			return nil, 0, fmt.Errorf("load %s row %d: %w", path, i+2, err)
		}
		times[i] = t
	}
	shift := resolveShift(times, opts)
	times = shiftTimes(times, shift)

	table := make(sim.TraceTable, len(header)-1)
	scale := opts.scale()
	for col := 1; col < len(header); col++ {
		series := sim.TraceSeries{
			Times:  times,
			Values: make([]float64, len(rows)),
		}
		for i, row := range rows {
			v, err := parseCell(row[col])
			if err != nil {
				return nil, 0, fmt.Errorf("load %s row %d column %q: %w", path, i+2, header[col], err)
			}
			series.Values[i] = v * scale
		}
		table[header[col]] = series
	}
	return table, shift, nil
}

// LoadForecastCSV reads forecast data. The expected layout is a header
// `request_time,target_time,<col>[,<col>...]`; an empty request_time column
// throughout marks a static forecast. A StartTime rebase is not supported
// here: the shift must anchor on the actual data, so load both through
// LoadSignalCSV instead.
func LoadForecastCSV(path string, opts Options) (sim.ForecastTable, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if !opts.StartTime.IsZero() {
		return nil, fmt.Errorf("load %s: start time rebase must be resolved against actual data, use LoadSignalCSV", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header, rows, err := readAll(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if len(header) < 3 || header[0] != "request_time" || header[1] != "target_time" {
		return nil, fmt.Errorf("load %s: header must be \"request_time,target_time,<column>...\", got %v", path, header)
	}

	static := true
	requestTimes := make([]time.Time, len(rows))
	targetTimes := make([]time.Time, len(rows))
	for i, row := range rows {
		if row[0] != "" {
			static = false
			t, err := time.Parse(time.RFC3339, row[0])
			if err != nil {
				return nil, fmt.Errorf("load %s row %d: %w", path, i+2, err)
			}
			requestTimes[i] = t
		}
		t, err := time.Parse(time.RFC3339, row[1])
		if err != nil {
			return nil, fmt.Errorf("load %s row %d: %w", path, i+2, err)
		}
		targetTimes[i] = t
	}
	targetTimes = shiftTimes(targetTimes, opts.Shift)
	if static {
		requestTimes = nil
	} else {
		requestTimes = shiftTimes(requestTimes, opts.Shift)
	}

	table := make(sim.ForecastTable, len(header)-2)
	scale := opts.scale()
	for col := 2; col < len(header); col++ {
		series := sim.ForecastSeries{
			RequestTimes: requestTimes,
			TargetTimes:  targetTimes,
			Values:       make([]float64, len(rows)),
		}
		for i, row := range rows {
			v, err := parseCell(row[col])
			if err != nil {
				return nil, fmt.Errorf("load %s row %d column %q: %w", path, i+2, header[col], err)
			}
			series.Values[i] = v * scale
		}
		table[header[col]] = series
	}
	return table, nil
}

func readAll(r io.Reader) ([]string, [][]string, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) < 2 {
		return nil, nil, fmt.Errorf("need a header and at least one data row")
	}
	return records[0], records[1:], nil
}

func parseCell(cell string) (float64, error) {
	if cell == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(cell, 64)
}

// resolveShift turns a StartTime rebase into a concrete shift anchored on
// the earliest timestamp.
func resolveShift(times []time.Time, opts Options) time.Duration {
	if opts.StartTime.IsZero() || len(times) == 0 {
		return opts.Shift
	}
	earliest := times[0]
	for _, t := range times[1:] {
		if t.Before(earliest) {
			earliest = t
		}
	}
	return opts.StartTime.Sub(earliest)
}

func shiftTimes(times []time.Time, shift time.Duration) []time.Time {
	if shift == 0 {
		return times
	}
	out := make([]time.Time, len(times))
	for i, t := range times {
		out[i] = t.Add(shift)
	}
	return out
}
