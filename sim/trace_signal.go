package sim

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// FillMethod determines how values between known samples are derived.
type FillMethod string

const (
	// FillForward returns the most recent sample at or before the queried time.
	FillForward FillMethod = "ffill"
	// FillBackward returns the next sample at or after the queried time.
	FillBackward FillMethod = "bfill"
	// FillLinear interpolates proportionally by elapsed time between samples.
	FillLinear FillMethod = "linear"
	// FillNearest returns the sample closest in time. Only valid for
	// forecast resampling, not for point-in-time queries.
	FillNearest FillMethod = "nearest"
)

// RangePolicy determines the behavior of queries outside the data's span.
type RangePolicy string

const (
	// RangeStrict fails out-of-range queries with a RangeError.
	RangeStrict RangePolicy = "strict"
	// RangeClamp answers out-of-range queries with the nearest edge value.
	RangeClamp RangePolicy = "clamp"
	// RangeWrap treats the series as periodic over its total span.
	RangeWrap RangePolicy = "wrap"
)

// TraceSeries is a single column of time-indexed samples. Timestamps need not
// be sorted on input; NaN values are dropped at construction.
type TraceSeries struct {
	Times  []time.Time
	Values []float64
}

// TraceTable maps column names to their actual time series.
type TraceTable map[string]TraceSeries

// ForecastSeries is a single column of forecast entries keyed by the time the
// forecast was requested and the time it is made for. A nil RequestTimes
// marks a static forecast that does not change over time.
type ForecastSeries struct {
	RequestTimes []time.Time
	TargetTimes  []time.Time
	Values       []float64
}

// ForecastTable maps column names to their forecast series.
type ForecastTable map[string]ForecastSeries

// TraceOptions configures a TraceSignal.
type TraceOptions struct {
	// Name identifies the signal in errors and logs.
	Name string
	// Fill selects the interpolation mode for Now queries. Defaults to
	// FillForward. FillNearest is not valid here.
	Fill FillMethod
	// Range selects the out-of-range policy. Defaults to RangeStrict.
	Range RangePolicy
	// Column is the default column used when a query passes none.
	Column string
}

// TraceSignal answers point-in-time and forecast-horizon queries against
// irregularly-sampled historical data. The backing data is immutable after
// construction, so concurrent reads are safe.
type TraceSignal struct {
	name          string
	fill          FillMethod
	rangePolicy   RangePolicy
	defaultColumn string
	actual        map[string]TraceSeries
	forecast      map[string]ForecastSeries
}

// NewTraceSignal builds a TraceSignal from in-memory tables. The actual data
// is sorted and NaN-stripped per column; each column must end up with at
// least one sample and strictly increasing timestamps. forecast may be nil.
func NewTraceSignal(actual TraceTable, forecast ForecastTable, opts TraceOptions) (*TraceSignal, error) {
	if len(actual) == 0 {
		return nil, fmt.Errorf("trace signal %q: actual data must contain at least one column", opts.Name)
	}
	fill := opts.Fill
	if fill == "" {
		fill = FillForward
	}
	if fill != FillForward && fill != FillBackward && fill != FillLinear {
		return nil, fmt.Errorf("trace signal %q: invalid fill method %q", opts.Name, fill)
	}
	rangePolicy := opts.Range
	if rangePolicy == "" {
		rangePolicy = RangeStrict
	}
	if rangePolicy != RangeStrict && rangePolicy != RangeClamp && rangePolicy != RangeWrap {
		return nil, fmt.Errorf("trace signal %q: invalid range policy %q", opts.Name, rangePolicy)
	}

	s := &TraceSignal{
		name:          opts.Name,
		fill:          fill,
		rangePolicy:   rangePolicy,
		defaultColumn: opts.Column,
		actual:        make(map[string]TraceSeries, len(actual)),
	}
	for col, series := range actual {
		cleaned, err := normalizeSeries(series)
		if err != nil {
			return nil, fmt.Errorf("trace signal %q column %q: %w", opts.Name, col, err)
		}
		s.actual[col] = cleaned
	}

	if forecast != nil {
		s.forecast = make(map[string]ForecastSeries, len(forecast))
		for col, series := range forecast {
			if _, ok := s.actual[col]; !ok {
				return nil, fmt.Errorf("trace signal %q: forecast column %q missing from actual data", opts.Name, col)
			}
			cleaned, err := normalizeForecastSeries(series)
			if err != nil {
				return nil, fmt.Errorf("trace signal %q forecast column %q: %w", opts.Name, col, err)
			}
			s.forecast[col] = cleaned
		}
	}
	return s, nil
}

// Columns returns the column names of the actual data.
func (s *TraceSignal) Columns() []string {
	cols := make([]string, 0, len(s.actual))
	for col := range s.actual {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// Now returns the value at the given time under the configured fill method.
// A query landing exactly on a sample returns that sample's value regardless
// of mode. Out-of-range queries follow the configured range policy.
func (s *TraceSignal) Now(at time.Time, column string) (float64, error) {
	col, err := s.columnName(column)
	if err != nil {
		return 0, err
	}
	series := s.actual[col]
	times, values := series.Times, series.Values
	first, last := times[0], times[len(times)-1]

	if at.Before(first) || at.After(last) {
		switch s.rangePolicy {
		case RangeClamp:
			if at.Before(first) {
				at = first
			} else {
				at = last
			}
		case RangeWrap:
			at = wrapIntoSpan(at, first, last)
		default:
			return 0, &RangeError{Signal: s.name, Column: col, At: at, First: first, Last: last}
		}
	}

	// First index with times[idx] >= at. In-range at guarantees idx < len.
	idx := sort.Search(len(times), func(i int) bool { return !times[i].Before(at) })
	if times[idx].Equal(at) {
		return values[idx], nil
	}

	switch s.fill {
	case FillBackward:
		return values[idx], nil
	case FillLinear:
		t0, t1 := times[idx-1], times[idx]
		frac := float64(at.Sub(t0)) / float64(t1.Sub(t0))
		return values[idx-1] + frac*(values[idx]-values[idx-1]), nil
	default: // FillForward
		return values[idx-1], nil
	}
}

// Forecast returns the entries of the most recent forecast request at or
// before start whose target times fall in [start, end], ascending by target
// time. A static forecast table is always eligible. Returns an empty slice
// when no eligible request exists and ErrForecastUnsupported when the signal
// has no forecast data at all.
func (s *TraceSignal) Forecast(start, end time.Time, column string) ([]ForecastPoint, error) {
	times, values, err := s.selectForecast(start, column)
	if err != nil {
		return nil, err
	}
	lo := sort.Search(len(times), func(i int) bool { return !times[i].Before(start) })
	hi := sort.Search(len(times), func(i int) bool { return times[i].After(end) })
	points := make([]ForecastPoint, 0, max(hi-lo, 0))
	for i := lo; i < hi; i++ {
		points = append(points, ForecastPoint{Time: times[i], Value: values[i]})
	}
	return points, nil
}

// ForecastResampled returns the selected forecast horizon resampled to a
// fixed frequency over (start, end]. The actual value valid at start anchors
// the interpolation for every method except FillBackward. An empty method
// requires the grid to coincide exactly with existing forecast entries.
func (s *TraceSignal) ForecastResampled(start, end time.Time, column string, freq time.Duration, method FillMethod) ([]ForecastPoint, error) {
	if freq <= 0 {
		return nil, fmt.Errorf("trace signal %q: resample frequency must be positive", s.name)
	}
	times, values, err := s.selectForecast(start, column)
	if err != nil {
		return nil, err
	}

	// Cut the horizon to (start, end].
	lo := sort.Search(len(times), func(i int) bool { return times[i].After(start) })
	hi := sort.Search(len(times), func(i int) bool { return times[i].After(end) })
	times, values = times[lo:hi], values[lo:hi]

	var grid []time.Time
	for t := start.Add(freq); !t.After(end); t = t.Add(freq) {
		grid = append(grid, t)
	}

	if method == "" {
		points := make([]ForecastPoint, 0, len(grid))
		for _, t := range grid {
			i := sort.Search(len(times), func(j int) bool { return !times[j].Before(t) })
			if i >= len(times) || !times[i].Equal(t) {
				return nil, fmt.Errorf("trace signal %q: not enough forecast data at frequency %s without a resample method", s.name, freq)
			}
			points = append(points, ForecastPoint{Time: t, Value: values[i]})
		}
		return points, nil
	}

	if method != FillBackward {
		// Anchor with the actual value valid at start.
		anchor, err := s.Now(start, column)
		if err != nil {
			return nil, err
		}
		times = append([]time.Time{start}, times...)
		values = append([]float64{anchor}, values...)
	}

	points := make([]ForecastPoint, 0, len(grid))
	for _, t := range grid {
		v, err := sampleAt(times, values, t, method)
		if err != nil {
			return nil, fmt.Errorf("trace signal %q: %w", s.name, err)
		}
		points = append(points, ForecastPoint{Time: t, Value: v})
	}
	return points, nil
}

// selectForecast resolves the forecast series for a column and narrows it to
// the most recent request at or before start. An empty result is legitimate.
func (s *TraceSignal) selectForecast(start time.Time, column string) ([]time.Time, []float64, error) {
	if s.forecast == nil {
		return nil, nil, fmt.Errorf("trace signal %q: %w", s.name, ErrForecastUnsupported)
	}
	col, err := s.columnName(column)
	if err != nil {
		return nil, nil, err
	}
	fs, ok := s.forecast[col]
	if !ok {
		return nil, nil, fmt.Errorf("trace signal %q: no forecast data for column %q", s.name, col)
	}
	if fs.RequestTimes == nil {
		return fs.TargetTimes, fs.Values, nil
	}
	// Entries are sorted by (request, target). Pick the latest request at or
	// before start and slice out exactly its entries.
	reqEnd := sort.Search(len(fs.RequestTimes), func(i int) bool { return fs.RequestTimes[i].After(start) })
	if reqEnd == 0 {
		return nil, nil, nil
	}
	selected := fs.RequestTimes[reqEnd-1]
	reqStart := sort.Search(len(fs.RequestTimes), func(i int) bool { return !fs.RequestTimes[i].Before(selected) })
	return fs.TargetTimes[reqStart:reqEnd], fs.Values[reqStart:reqEnd], nil
}

func (s *TraceSignal) columnName(column string) (string, error) {
	if column == "" {
		column = s.defaultColumn
	}
	if column == "" {
		if len(s.actual) == 1 {
			for col := range s.actual {
				return col, nil
			}
		}
		return "", fmt.Errorf("trace signal %q: column must be specified", s.name)
	}
	if _, ok := s.actual[column]; !ok {
		return "", fmt.Errorf("trace signal %q has no column %q", s.name, column)
	}
	return column, nil
}

// sampleAt derives a value for t from sorted samples using a fill method.
func sampleAt(times []time.Time, values []float64, t time.Time, method FillMethod) (float64, error) {
	if len(times) == 0 {
		return 0, fmt.Errorf("no samples to resample from")
	}
	idx := sort.Search(len(times), func(i int) bool { return !times[i].Before(t) })
	if idx < len(times) && times[idx].Equal(t) {
		return values[idx], nil
	}
	switch method {
	case FillForward:
		if idx == 0 {
			return 0, fmt.Errorf("no sample at or before %s", t.Format(time.RFC3339))
		}
		return values[idx-1], nil
	case FillBackward:
		if idx >= len(times) {
			// Matches the NaN padding the horizon gets past its last entry.
			return math.NaN(), nil
		}
		return values[idx], nil
	case FillNearest:
		if idx == 0 {
			return values[0], nil
		}
		if idx >= len(times) {
			return values[len(times)-1], nil
		}
		if t.Sub(times[idx-1]) <= times[idx].Sub(t) {
			return values[idx-1], nil
		}
		return values[idx], nil
	case FillLinear:
		// Clamp at the edges, interpolate inside.
		if idx == 0 {
			return values[0], nil
		}
		if idx >= len(times) {
			return values[len(times)-1], nil
		}
		t0, t1 := times[idx-1], times[idx]
		frac := float64(t.Sub(t0)) / float64(t1.Sub(t0))
		return values[idx-1] + frac*(values[idx]-values[idx-1]), nil
	default:
		return 0, fmt.Errorf("invalid resample method %q", method)
	}
}

// wrapIntoSpan maps t into [first, last) treating the span as one period.
func wrapIntoSpan(t time.Time, first, last time.Time) time.Time {
	span := last.Sub(first)
	if span <= 0 {
		return first
	}
	offset := t.Sub(first) % span
	if offset < 0 {
		offset += span
	}
	return first.Add(offset)
}

// normalizeSeries sorts samples by time, drops NaNs, and verifies strictly
// increasing timestamps.
func normalizeSeries(in TraceSeries) (TraceSeries, error) {
	if len(in.Times) != len(in.Values) {
		return TraceSeries{}, fmt.Errorf("times and values length mismatch (%d vs %d)", len(in.Times), len(in.Values))
	}
	type sample struct {
		t time.Time
		v float64
	}
	samples := make([]sample, 0, len(in.Times))
	for i := range in.Times {
		if math.IsNaN(in.Values[i]) {
			continue
		}
		samples = append(samples, sample{t: in.Times[i], v: in.Values[i]})
	}
	if len(samples) == 0 {
		return TraceSeries{}, fmt.Errorf("no valid samples")
	}
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].t.Before(samples[j].t) })

	out := TraceSeries{
		Times:  make([]time.Time, len(samples)),
		Values: make([]float64, len(samples)),
	}
	for i, sm := range samples {
		if i > 0 && !out.Times[i-1].Before(sm.t) {
			return TraceSeries{}, fmt.Errorf("duplicate timestamp %s", sm.t.Format(time.RFC3339))
		}
		out.Times[i] = sm.t
		out.Values[i] = sm.v
	}
	return out, nil
}

// normalizeForecastSeries sorts entries by (request time, target time) and
// drops NaNs. RequestTimes may be nil for a static forecast.
func normalizeForecastSeries(in ForecastSeries) (ForecastSeries, error) {
	if len(in.TargetTimes) != len(in.Values) {
		return ForecastSeries{}, fmt.Errorf("target times and values length mismatch (%d vs %d)", len(in.TargetTimes), len(in.Values))
	}
	if in.RequestTimes != nil && len(in.RequestTimes) != len(in.TargetTimes) {
		return ForecastSeries{}, fmt.Errorf("request times and target times length mismatch (%d vs %d)", len(in.RequestTimes), len(in.TargetTimes))
	}
	type entry struct {
		req, target time.Time
		v           float64
	}
	entries := make([]entry, 0, len(in.TargetTimes))
	for i := range in.TargetTimes {
		if math.IsNaN(in.Values[i]) {
			continue
		}
		e := entry{target: in.TargetTimes[i], v: in.Values[i]}
		if in.RequestTimes != nil {
			e.req = in.RequestTimes[i]
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].req.Equal(entries[j].req) {
			return entries[i].req.Before(entries[j].req)
		}
		return entries[i].target.Before(entries[j].target)
	})

	out := ForecastSeries{
		TargetTimes: make([]time.Time, len(entries)),
		Values:      make([]float64, len(entries)),
	}
	if in.RequestTimes != nil {
		out.RequestTimes = make([]time.Time, len(entries))
	}
	for i, e := range entries {
		out.TargetTimes[i] = e.target
		out.Values[i] = e.v
		if out.RequestTimes != nil {
			out.RequestTimes[i] = e.req
		}
	}
	return out, nil
}
