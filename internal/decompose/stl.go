package decompose

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// STLConfig holds the STL parameters. Zero spans are derived from the period
// when smoothing.
type STLConfig struct {
	// Robust enables the outer loop computing bisquare robustness weights.
	Robust bool

	// InnerIterations is the number of passes of the inner loop. Zero means
	// 1 when Robust and 2 otherwise.
	InnerIterations int

	// RobustIterations is the number of outer robustness passes. Zero means
	// 15 when Robust. Ignored when Robust is false.
	RobustIterations int

	// TrendSpan is the LOESS window of the trend smoother, in samples.
	TrendSpan int

	// LowPassSpan is the LOESS window of the low-pass filter, in samples.
	LowPassSpan int
}

// DefaultSTLConfig returns a periodic, robust configuration.
func DefaultSTLConfig() STLConfig {
	return STLConfig{Robust: true}
}

// STL is a seasonal-trend decomposition by LOESS (Cleveland et al., 1990)
// with periodic seasonal smoothing: each cycle-subseries is replaced by its
// weighted mean, so the seasonal component repeats exactly every period.
type STL struct {
	cfg STLConfig
}

// NewSTL returns an STL smoother.
func NewSTL(cfg STLConfig) *STL {
	return &STL{cfg: cfg}
}

type stlParams struct {
	inner, outer int
	trendSpan    int
	lowPassSpan  int
}

func (s *STL) params(period int) stlParams {
	p := stlParams{
		inner:       s.cfg.InnerIterations,
		trendSpan:   s.cfg.TrendSpan,
		lowPassSpan: s.cfg.LowPassSpan,
	}
	if p.inner <= 0 {
		p.inner = 2
		if s.cfg.Robust {
			p.inner = 1
		}
	}
	if s.cfg.Robust {
		p.outer = s.cfg.RobustIterations
		if p.outer <= 0 {
			p.outer = 15
		}
	}
	if p.lowPassSpan <= 0 {
		p.lowPassSpan = nextOdd(float64(period))
	}
	if p.trendSpan <= 0 {
		p.trendSpan = nextOdd(1.5 * float64(period))
	}
	if p.trendSpan < 3 {
		p.trendSpan = 3
	}
	if p.lowPassSpan < 3 {
		p.lowPassSpan = 3
	}
	return p
}

// Smooth decomposes values into seasonal, trend and residual components.
// residual is computed as values - trend - seasonal.
func (s *STL) Smooth(values []float64, period int) (seasonal, trend, residual []float64, err error) {
	n := len(values)
	if period < 1 {
		return nil, nil, nil, fmt.Errorf("%w: %d", ErrInvalidPeriod, period)
	}
	if n < 2*period {
		return nil, nil, nil, fmt.Errorf("stl: %d values cover less than two periods of %d", n, period)
	}
	p := s.params(period)

	seasonal = make([]float64, n)
	trend = make([]float64, n)
	residual = make([]float64, n)
	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1
	}

	detrended := make([]float64, n)
	deseasoned := make([]float64, n)
	for k := 0; ; k++ {
		for range p.inner {
			floats.SubTo(detrended, values, trend)
			cycle := cycleMeans(detrended, weights, period)
			lowPass := lowPassFilter(cycle, n, period, p.lowPassSpan)
			for i := range seasonal {
				seasonal[i] = cycle[i%period] - lowPass[i]
			}
			floats.SubTo(deseasoned, values, seasonal)
			loess(trend, deseasoned, weights, p.trendSpan)
		}
		if k >= p.outer {
			break
		}
		floats.SubTo(residual, values, trend)
		floats.Sub(residual, seasonal)
		robustnessWeights(weights, residual)
	}

	floats.SubTo(residual, values, trend)
	floats.Sub(residual, seasonal)
	return seasonal, trend, residual, nil
}

// cycleMeans returns the weighted mean of each cycle-subseries.
func cycleMeans(x, w []float64, period int) []float64 {
	means := make([]float64, period)
	for c := range period {
		var sum, sumW, plain float64
		count := 0
		for i := c; i < len(x); i += period {
			sum += w[i] * x[i]
			sumW += w[i]
			plain += x[i]
			count++
		}
		switch {
		case sumW > 0:
			means[c] = sum / sumW
		case count > 0:
			means[c] = plain / float64(count)
		}
	}
	return means
}

// lowPassFilter applies the STL low-pass filter (moving averages of length
// period, period and 3 followed by LOESS) to the periodic extension of cycle
// over n+2*period samples and returns n values.
func lowPassFilter(cycle []float64, n, period, span int) []float64 {
	extended := make([]float64, n+2*period)
	for i := range extended {
		extended[i] = cycle[i%period]
	}
	smoothed := movingAverage(movingAverage(movingAverage(extended, period), period), 3)
	out := make([]float64, n)
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}
	loess(out, smoothed, ones, span)
	return out
}

func movingAverage(x []float64, length int) []float64 {
	if length > len(x) {
		length = len(x)
	}
	out := make([]float64, len(x)-length+1)
	sum := floats.Sum(x[:length])
	out[0] = sum / float64(length)
	for i := 1; i < len(out); i++ {
		sum += x[i+length-1] - x[i-1]
		out[i] = sum / float64(length)
	}
	return out
}

// loess writes into dst the local linear fit of y, sampled at unit spacing,
// using a tricube window of span samples and the robustness weights w.
func loess(dst, y, w []float64, span int) {
	n := len(y)
	// A window wider than the series widens the bandwidth instead.
	var extra float64
	if span > n {
		extra = float64(span-n) / 2
		span = n
	}
	half := span / 2
	xs := make([]float64, 0, span)
	ys := make([]float64, 0, span)
	ws := make([]float64, 0, span)
	for i := range n {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := lo + span - 1
		if hi >= n {
			hi = n - 1
			lo = max(0, hi-span+1)
		}
		h := math.Max(math.Max(float64(i-lo), float64(hi-i))+extra, 1)

		xs, ys, ws = xs[:0], ys[:0], ws[:0]
		for j := lo; j <= hi; j++ {
			d := math.Abs(float64(j-i)) / (h + 1)
			ws = append(ws, tricube(d)*w[j])
			xs = append(xs, float64(j))
			ys = append(ys, y[j])
		}
		dst[i] = localLinear(float64(i), xs, ys, ws, y[i])
	}
}

// localLinear evaluates at x the weighted least-squares line through xs, ys.
// It falls back to the weighted mean when the abscissas are degenerate and to
// fallback when every weight is zero.
func localLinear(x float64, xs, ys, ws []float64, fallback float64) float64 {
	sumW := floats.Sum(ws)
	if sumW <= 0 {
		return fallback
	}
	meanX := floats.Dot(ws, xs) / sumW
	meanY := floats.Dot(ws, ys) / sumW
	var sxx, sxy float64
	for j := range xs {
		dx := xs[j] - meanX
		sxx += ws[j] * dx * dx
		sxy += ws[j] * dx * (ys[j] - meanY)
	}
	if sxx <= 1e-12*sumW {
		return meanY
	}
	return meanY + sxy/sxx*(x-meanX)
}

func tricube(d float64) float64 {
	if d >= 1 {
		return 0
	}
	c := 1 - d*d*d
	return c * c * c
}

// robustnessWeights fills w with bisquare weights of the residuals scaled by
// six times their median absolute value.
func robustnessWeights(w, residual []float64) {
	abs := make([]float64, len(residual))
	for i, r := range residual {
		abs[i] = math.Abs(r)
	}
	sorted := slices.Clone(abs)
	slices.Sort(sorted)
	h := 6 * stat.Quantile(0.5, stat.Empirical, sorted, nil)
	for i, a := range abs {
		switch {
		case h == 0:
			w[i] = 1
		case a <= 0.001*h:
			w[i] = 1
		case a < h:
			u := a / h
			v := 1 - u*u
			w[i] = v * v
		default:
			w[i] = 0
		}
	}
}

func nextOdd(v float64) int {
	n := int(math.Ceil(v))
	if n%2 == 0 {
		n++
	}
	return n
}
