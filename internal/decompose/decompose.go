// Package decompose splits a cleaned channel into trend, seasonal and noise
// components aligned with the input points.
package decompose

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/experiment"
)

var (
	// ErrInvalidPeriod is returned for a period below 1.
	ErrInvalidPeriod = errors.New("invalid period")
	// ErrLengthMismatch is returned when a Smoother's output is not aligned
	// with its input.
	ErrLengthMismatch = errors.New("smoother output length mismatch")
)

// Smoother is a seasonal-trend decomposition algorithm. The three returned
// slices must have the length of values.
type Smoother interface {
	Smooth(values []float64, period int) (seasonal, trend, residual []float64, err error)
}

// Decomposition holds the series of one decomposition, indexed by
// experiment.DataType. Slices are read-only once returned.
type Decomposition struct {
	Period int
	series [experiment.NumDataTypes][]experiment.DataPoint
}

// Points returns the series of type t, or nil when it was not produced.
func (d *Decomposition) Points(t experiment.DataType) []experiment.DataPoint {
	if d == nil || t < 0 || int(t) >= len(d.series) {
		return nil
	}
	return d.series[t]
}

// PointsFor returns the points of type t inside the phase tag of phases. A
// nil tag selects every point and an unknown tag none.
func (d *Decomposition) PointsFor(t experiment.DataType, phases *experiment.PhaseMap, tag *experiment.Tag) []experiment.DataPoint {
	points := d.Points(t)
	if tag == nil || points == nil {
		return points
	}
	if phases == nil {
		return []experiment.DataPoint{}
	}
	r, ok := phases.Get(*tag)
	if !ok {
		return []experiment.DataPoint{}
	}
	return experiment.Select(points, r)
}

// At returns the point of type t recorded at timestamp ts.
func (d *Decomposition) At(t experiment.DataType, ts float64) (experiment.DataPoint, bool) {
	points := d.Points(t)
	i, found := slices.BinarySearchFunc(points, ts, func(p experiment.DataPoint, ts float64) int {
		return cmp.Compare(p.Timestamp, ts)
	})
	if !found {
		return experiment.DataPoint{}, false
	}
	return points[i], true
}

// ValueRange returns the value bounds of the series of type t.
func (d *Decomposition) ValueRange(t experiment.DataType) experiment.Range[float64] {
	return experiment.ValueRange(d.Points(t))
}

// Decomposed reports whether the trend, seasonal and noise series were
// produced. Inputs shorter than two periods only carry the raw series.
func (d *Decomposition) Decomposed() bool {
	return d != nil && d.series[experiment.Trend] != nil
}

// Len returns the number of points of each series.
func (d *Decomposition) Len() int {
	if d == nil {
		return 0
	}
	return len(d.series[experiment.Raw])
}

// Types returns the data types present in d, in DataTypes order.
func (d *Decomposition) Types() []experiment.DataType {
	var types []experiment.DataType
	for _, t := range experiment.DataTypes {
		if d.Points(t) != nil {
			types = append(types, t)
		}
	}
	return types
}

// Decomposer adapts a Smoother to data points.
type Decomposer struct {
	smoother Smoother
}

// New returns a Decomposer using smoother, or a robust periodic STL when nil.
func New(smoother Smoother) *Decomposer {
	if smoother == nil {
		smoother = NewSTL(DefaultSTLConfig())
	}
	return &Decomposer{smoother: smoother}
}

// Decompose runs the smoother over the values of points. The RAW series is
// always present; fewer than 2*period points yield RAW only. Output points
// reuse the input timestamps.
func (d *Decomposer) Decompose(points []experiment.DataPoint, period int) (*Decomposition, error) {
	if period < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPeriod, period)
	}

	res := &Decomposition{Period: period}
	res.series[experiment.Raw] = slices.Clone(points)
	if res.series[experiment.Raw] == nil {
		res.series[experiment.Raw] = []experiment.DataPoint{}
	}
	if len(points) < 2*period {
		return res, nil
	}

	seasonal, trend, residual, err := d.smoother.Smooth(experiment.Values(points), period)
	if err != nil {
		return nil, fmt.Errorf("smooth %d points with period %d: %w", len(points), period, err)
	}
	outputs := []struct {
		name   string
		values []float64
	}{{"seasonal", seasonal}, {"trend", trend}, {"residual", residual}}
	for _, o := range outputs {
		if len(o.values) != len(points) {
			return nil, fmt.Errorf("%w: %s has %d values for %d points", ErrLengthMismatch, o.name, len(o.values), len(points))
		}
	}

	res.series[experiment.Trend] = zip(points, trend)
	res.series[experiment.Seasonal] = zip(points, seasonal)
	res.series[experiment.Noise] = zip(points, residual)
	return res, nil
}

func zip(points []experiment.DataPoint, values []float64) []experiment.DataPoint {
	out := make([]experiment.DataPoint, len(points))
	for i, p := range points {
		out[i] = experiment.DataPoint{Timestamp: p.Timestamp, Value: values[i]}
	}
	return out
}
