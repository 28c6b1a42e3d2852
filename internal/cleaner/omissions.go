package cleaner

import (
	"slices"

	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/experiment"
)

// Omissions records the runs of invalid samples removed by one cleaning pass,
// keyed by their raw timestamp range. It is read-only once returned.
type Omissions struct {
	points map[experiment.TimeRange][]experiment.DataPoint
	ranges []experiment.TimeRange
}

func newOmissions() *Omissions {
	return &Omissions{points: make(map[experiment.TimeRange][]experiment.DataPoint)}
}

func (o *Omissions) add(r experiment.TimeRange, run []experiment.DataPoint) {
	if _, ok := o.points[r]; !ok {
		o.ranges = append(o.ranges, r)
	}
	o.points[r] = slices.Clone(run)
}

// Ranges returns the omitted ranges sorted by start.
func (o *Omissions) Ranges() []experiment.TimeRange {
	if o == nil {
		return []experiment.TimeRange{}
	}
	ranges := slices.Clone(o.ranges)
	if ranges == nil {
		ranges = []experiment.TimeRange{}
	}
	slices.SortFunc(ranges, experiment.TimeRange.Compare)
	return ranges
}

// Points returns a copy of the samples omitted in exactly r. Unknown ranges
// yield an empty slice.
func (o *Omissions) Points(r experiment.TimeRange) []experiment.DataPoint {
	if o == nil {
		return []experiment.DataPoint{}
	}
	points, ok := o.points[r]
	if !ok {
		return []experiment.DataPoint{}
	}
	return slices.Clone(points)
}

// Len returns the number of omitted runs.
func (o *Omissions) Len() int {
	if o == nil {
		return 0
	}
	return len(o.ranges)
}

// Count returns the total number of omitted samples.
func (o *Omissions) Count() int {
	if o == nil {
		return 0
	}
	n := 0
	for _, points := range o.points {
		n += len(points)
	}
	return n
}

// Span returns the summed raw span (Max - Min) of the omitted runs.
func (o *Omissions) Span() float64 {
	if o == nil {
		return 0
	}
	var span float64
	for _, r := range o.ranges {
		span += r.Max - r.Min
	}
	return span
}
