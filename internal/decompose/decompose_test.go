package decompose

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/experiment"
)

type fakeSmoother struct {
	seasonal, trend, residual []float64
	err                       error
	calls                     int
}

func (f *fakeSmoother) Smooth(values []float64, period int) ([]float64, []float64, []float64, error) {
	f.calls++
	return f.seasonal, f.trend, f.residual, f.err
}

func points(values ...float64) []experiment.DataPoint {
	out := make([]experiment.DataPoint, len(values))
	for i, v := range values {
		out[i] = experiment.DataPoint{Timestamp: float64(i) * 0.5, Value: v}
	}
	return out
}

func TestDecomposeInvalidPeriod(t *testing.T) {
	t.Parallel()

	for _, period := range []int{0, -3} {
		_, err := New(nil).Decompose(points(1, 2, 3), period)
		assert.ErrorIs(t, err, ErrInvalidPeriod)
	}
}

func TestDecomposeShortInputKeepsRawOnly(t *testing.T) {
	t.Parallel()

	f := &fakeSmoother{}
	in := points(1, 2, 3, 4, 5)
	d, err := New(f).Decompose(in, 3)
	require.NoError(t, err)

	assert.Zero(t, f.calls)
	assert.False(t, d.Decomposed())
	assert.Equal(t, in, d.Points(experiment.Raw))
	assert.Nil(t, d.Points(experiment.Trend))
	assert.Nil(t, d.Points(experiment.Noise))
	assert.Equal(t, []experiment.DataType{experiment.Raw}, d.Types())
	assert.Equal(t, 5, d.Len())
	assert.Equal(t, 3, d.Period)

	empty, err := New(f).Decompose(nil, 1)
	require.NoError(t, err)
	assert.NotNil(t, empty.Points(experiment.Raw))
	assert.Zero(t, empty.Len())
}

func TestDecomposeAlignsSeries(t *testing.T) {
	t.Parallel()

	f := &fakeSmoother{
		seasonal: []float64{1, -1, 1, -1},
		trend:    []float64{10, 10, 10, 10},
		residual: []float64{0, 0.5, 0, -0.5},
	}
	in := points(11, 9.5, 11, 8.5)
	d, err := New(f).Decompose(in, 2)
	require.NoError(t, err)

	assert.True(t, d.Decomposed())
	assert.Equal(t, experiment.DataTypes[:], d.Types())
	assert.Equal(t, []experiment.DataPoint{{0, 1}, {0.5, -1}, {1, 1}, {1.5, -1}}, d.Points(experiment.Seasonal))
	assert.Equal(t, []experiment.DataPoint{{0, 10}, {0.5, 10}, {1, 10}, {1.5, 10}}, d.Points(experiment.Trend))
	assert.Equal(t, []experiment.DataPoint{{0, 0}, {0.5, 0.5}, {1, 0}, {1.5, -0.5}}, d.Points(experiment.Noise))

	// The raw series is a copy of the input.
	in[0].Value = 99
	assert.Equal(t, 11.0, d.Points(experiment.Raw)[0].Value)
}

func TestDecomposeSmootherFailures(t *testing.T) {
	t.Parallel()

	t.Run("error", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := New(&fakeSmoother{err: boom}).Decompose(points(1, 2, 3, 4), 2)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("short output", func(t *testing.T) {
		f := &fakeSmoother{
			seasonal: []float64{0, 0, 0, 0},
			trend:    []float64{0, 0, 0},
			residual: []float64{0, 0, 0, 0},
		}
		_, err := New(f).Decompose(points(1, 2, 3, 4), 2)
		assert.ErrorIs(t, err, ErrLengthMismatch)
	})

	t.Run("first mismatch is reported", func(t *testing.T) {
		f := &fakeSmoother{
			seasonal: []float64{0, 0},
			trend:    []float64{0},
			residual: []float64{0, 0, 0},
		}
		for range 10 {
			_, err := New(f).Decompose(points(1, 2, 3, 4), 2)
			require.ErrorIs(t, err, ErrLengthMismatch)
			assert.Contains(t, err.Error(), "seasonal has 2 values for 4 points")
		}
	})
}

func decomposed(t *testing.T) *Decomposition {
	t.Helper()
	f := &fakeSmoother{
		seasonal: []float64{1, -1, 1, -1, 1, -1},
		trend:    []float64{10, 10, 11, 11, 12, 12},
		residual: []float64{0, 0.5, 0, -0.5, 0, 0},
	}
	d, err := New(f).Decompose(points(11, 9.5, 12, 9.5, 13, 11), 2)
	require.NoError(t, err)
	return d
}

func TestDecompositionPointsFor(t *testing.T) {
	t.Parallel()

	d := decomposed(t)
	phases := experiment.NewPhaseMap()
	phases.Set(experiment.Preparation, experiment.NewRange(0.0, 0.5))
	phases.Set("ach", experiment.NewRange(1.0, 2.5))

	ach := experiment.Tag("ach")
	assert.Equal(t, []experiment.DataPoint{{1, 11}, {1.5, 11}, {2, 12}, {2.5, 12}}, d.PointsFor(experiment.Trend, phases, &ach))
	assert.Equal(t, d.Points(experiment.Noise), d.PointsFor(experiment.Noise, phases, nil))

	unknown := experiment.Tag("adrenaline")
	got := d.PointsFor(experiment.Seasonal, phases, &unknown)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Empty(t, d.PointsFor(experiment.Seasonal, nil, &ach))

	raw, err := New(nil).Decompose(points(1, 2), 5)
	require.NoError(t, err)
	assert.Nil(t, raw.PointsFor(experiment.Trend, phases, &ach), "series not produced")
}

func TestDecompositionAt(t *testing.T) {
	t.Parallel()

	d := decomposed(t)
	p, ok := d.At(experiment.Seasonal, 1.5)
	require.True(t, ok)
	assert.Equal(t, experiment.DataPoint{Timestamp: 1.5, Value: -1}, p)

	p, ok = d.At(experiment.Raw, 2)
	require.True(t, ok)
	assert.Equal(t, 13.0, p.Value)

	_, ok = d.At(experiment.Trend, 1.25)
	assert.False(t, ok)
	_, ok = d.At(experiment.Trend, 9)
	assert.False(t, ok)

	var nilDecomposition *Decomposition
	_, ok = nilDecomposition.At(experiment.Raw, 0)
	assert.False(t, ok)
}

func TestDecompositionValueRange(t *testing.T) {
	t.Parallel()

	d := decomposed(t)
	assert.Equal(t, experiment.NewRange(9.5, 13.0), d.ValueRange(experiment.Raw))
	assert.Equal(t, experiment.NewRange(10.0, 12.0), d.ValueRange(experiment.Trend))
	assert.Equal(t, experiment.NewRange(-0.5, 0.5), d.ValueRange(experiment.Noise))

	raw, err := New(nil).Decompose(nil, 1)
	require.NoError(t, err)
	assert.Equal(t, experiment.NewRange(0.0, 1.0), raw.ValueRange(experiment.Trend), "empty series")
}

func TestNilDecomposition(t *testing.T) {
	t.Parallel()

	var d *Decomposition
	assert.Nil(t, d.Points(experiment.Raw))
	assert.False(t, d.Decomposed())
	assert.Zero(t, d.Len())
	assert.Nil(t, (&Decomposition{}).Points(experiment.DataType(7)))
}

// synthetic returns a linear trend plus a sine of the given period.
func synthetic(n, period int) []experiment.DataPoint {
	out := make([]experiment.DataPoint, n)
	for i := range out {
		v := 0.05*float64(i) + 3*math.Sin(2*math.Pi*float64(i)/float64(period))
		out[i] = experiment.DataPoint{Timestamp: float64(i), Value: v}
	}
	return out
}

func TestSTLIdentity(t *testing.T) {
	t.Parallel()

	const period = 12
	in := synthetic(120, period)

	for _, cfg := range []STLConfig{DefaultSTLConfig(), {Robust: false}} {
		d, err := New(NewSTL(cfg)).Decompose(in, period)
		require.NoError(t, err)
		require.True(t, d.Decomposed())

		trend := d.Points(experiment.Trend)
		seasonal := d.Points(experiment.Seasonal)
		noise := d.Points(experiment.Noise)
		sum := make([]float64, d.Len())
		for i := range sum {
			require.Equal(t, in[i].Timestamp, trend[i].Timestamp)
			sum[i] = trend[i].Value + seasonal[i].Value + noise[i].Value
		}
		// Compared as plain values: DataPoint.Equal is exact and cmp would
		// prefer it over the approximation.
		if diff := cmp.Diff(experiment.Values(in), sum, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
			t.Errorf("raw != trend + seasonal + noise (-want +got):\n%s", diff)
		}
	}
}

func TestSTLRecoversComponents(t *testing.T) {
	t.Parallel()

	const period = 12
	in := synthetic(120, period)
	d, err := New(nil).Decompose(in, period)
	require.NoError(t, err)

	seasonal := experiment.Values(d.Points(experiment.Seasonal))
	for i := 0; i+period < len(seasonal); i++ {
		assert.InDelta(t, seasonal[i], seasonal[i+period], 1e-6, "seasonal repeats every period")
	}
	var cycle float64
	for _, v := range seasonal[:period] {
		cycle += v
	}
	assert.InDelta(t, 0, cycle, 1e-6, "seasonal sums to zero over a period")
	assert.InDelta(t, 3, seasonal[3], 0.75, "seasonal peak")

	trend := experiment.Values(d.Points(experiment.Trend))
	assert.InDelta(t, 0.05*float64(len(trend)-1), trend[len(trend)-1]-trend[0], 1)

	var sq float64
	for _, v := range experiment.Values(d.Points(experiment.Noise)) {
		sq += v * v
	}
	assert.Less(t, math.Sqrt(sq/float64(d.Len())), 0.75)
}

func TestSTLRejectsBadInput(t *testing.T) {
	t.Parallel()

	s := NewSTL(DefaultSTLConfig())
	_, _, _, err := s.Smooth([]float64{1, 2, 3}, 0)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
	_, _, _, err = s.Smooth([]float64{1, 2, 3}, 2)
	assert.Error(t, err)
}

func TestSTLParams(t *testing.T) {
	t.Parallel()

	p := NewSTL(DefaultSTLConfig()).params(12)
	assert.Equal(t, stlParams{inner: 1, outer: 15, trendSpan: 19, lowPassSpan: 13}, p)

	p = NewSTL(STLConfig{}).params(1)
	assert.Equal(t, stlParams{inner: 2, outer: 0, trendSpan: 3, lowPassSpan: 3}, p)

	p = NewSTL(STLConfig{Robust: true, RobustIterations: 4, InnerIterations: 3, TrendSpan: 7, LowPassSpan: 5}).params(12)
	assert.Equal(t, stlParams{inner: 3, outer: 4, trendSpan: 7, lowPassSpan: 5}, p)
}

func TestMovingAverage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []float64{2, 3, 4}, movingAverage([]float64{1, 2, 3, 4, 5}, 3))
	assert.Equal(t, []float64{1, 2, 3}, movingAverage([]float64{1, 2, 3}, 1))
}

func TestLoessKeepsLines(t *testing.T) {
	t.Parallel()

	y := []float64{1, 3, 5, 7, 9, 11, 13}
	w := []float64{1, 1, 1, 1, 1, 1, 1}
	out := make([]float64, len(y))
	loess(out, y, w, 5)
	assert.InDeltaSlice(t, y, out, 1e-9)

	loess(out, y, w, 21)
	assert.InDeltaSlice(t, y, out, 1e-9)
}

func TestRobustnessWeights(t *testing.T) {
	t.Parallel()

	w := make([]float64, 5)
	robustnessWeights(w, []float64{0, 1, -1, 1, 100})
	assert.Equal(t, 1.0, w[0])
	assert.InDelta(t, math.Pow(1-1.0/36, 2), w[1], 1e-12)
	assert.Zero(t, w[4])

	robustnessWeights(w, []float64{0, 0, 0, 0, 0})
	assert.Equal(t, []float64{1, 1, 1, 1, 1}, w)
}
