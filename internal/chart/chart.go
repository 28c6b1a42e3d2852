// Package chart renders decompositions: an interactive HTML page through
// go-echarts and a static PNG through gonum/plot. Phases are drawn as shaded
// bands behind the series.
package chart

import (
	"errors"
	"math"

	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/experiment"
)

// MaxPoints is the default cap on points drawn per series.
const MaxPoints = 8000

// ErrNoData is returned for a nil or empty decomposition.
var ErrNoData = errors.New("nothing to chart")

// stride returns the step keeping at most maxPoints of n points.
func stride(n, maxPoints int) int {
	if maxPoints <= 0 {
		maxPoints = MaxPoints
	}
	if n <= maxPoints {
		return 1
	}
	return int(math.Ceil(float64(n) / float64(maxPoints)))
}

// downsample keeps every step-th point. The last point is always kept so the
// series spans the whole recording.
func downsample(points []experiment.DataPoint, maxPoints int) []experiment.DataPoint {
	step := stride(len(points), maxPoints)
	if step == 1 {
		return points
	}
	out := make([]experiment.DataPoint, 0, len(points)/step+2)
	for i := 0; i < len(points); i += step {
		out = append(out, points[i])
	}
	if (len(points)-1)%step != 0 {
		out = append(out, points[len(points)-1])
	}
	return out
}

// visiblePhases drops phases a cleaning collapsed to nothing.
func visiblePhases(phases []experiment.Phase) []experiment.Phase {
	out := make([]experiment.Phase, 0, len(phases))
	for _, p := range phases {
		if p.Range.Max >= p.Range.Min {
			out = append(out, p)
		}
	}
	return out
}

// axisBounds pads r by 5% on each side. A flat series gets a band around
// its value.
func axisBounds(r experiment.Range[float64]) (lo, hi float64) {
	pad := (r.Max - r.Min) * 0.05
	if pad == 0 {
		pad = math.Max(math.Abs(r.Max)*0.05, 0.5)
	}
	return r.Min - pad, r.Max + pad
}
