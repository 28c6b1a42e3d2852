package experiment

import (
	"cmp"
	"fmt"
	"math"
)

// DataPoint is a recorded value and the time it was recorded at, in seconds
// from the start of the experiment. An invalid sample carries a NaN value: it
// is present in the recording but must not be charted.
type DataPoint struct {
	Timestamp float64 `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Invalid returns a point marking a missing sample at t.
func Invalid(t float64) DataPoint {
	return DataPoint{Timestamp: t, Value: math.NaN()}
}

// IsValid reports whether the point holds a usable value.
func (p DataPoint) IsValid() bool {
	return !math.IsNaN(p.Value)
}

// Equal compares both fields exactly. Two invalid samples at the same
// timestamp are equal.
func (p DataPoint) Equal(o DataPoint) bool {
	if p.Timestamp != o.Timestamp {
		return false
	}
	if !p.IsValid() || !o.IsValid() {
		return !p.IsValid() && !o.IsValid()
	}
	return p.Value == o.Value
}

func (p DataPoint) String() string {
	return fmt.Sprintf("%g at %g", p.Value, p.Timestamp)
}

// Tag names an experiment phase, as written in the tag column of a recording.
type Tag string

// Preparation is the implicit phase covering everything recorded before the
// first tag.
const Preparation Tag = "preparation"

func (t Tag) String() string { return string(t) }

// Measure names a recorded physiological channel.
type Measure string

func (m Measure) String() string { return string(m) }

// DataType identifies one series of a decomposition.
// RAW = TREND + SEASONAL + NOISE.
type DataType int

const (
	Raw DataType = iota
	Trend
	Seasonal
	Noise

	// NumDataTypes is the number of DataType values.
	NumDataTypes = 4
)

// DataTypes lists every DataType in declaration order.
var DataTypes = [NumDataTypes]DataType{Raw, Trend, Seasonal, Noise}

func (t DataType) String() string {
	switch t {
	case Raw:
		return "raw"
	case Trend:
		return "trend"
	case Seasonal:
		return "seasonal"
	case Noise:
		return "noise"
	default:
		return fmt.Sprintf("DataType(%d)", int(t))
	}
}

// ParseDataType is the inverse of DataType.String.
func ParseDataType(s string) (DataType, error) {
	for _, t := range DataTypes {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown data type %q", s)
}

// Range is a closed interval [Min, Max]. It is a value type: relocating a
// bound means building a new Range, so a Range used as a map key never changes
// under the map.
type Range[T cmp.Ordered] struct {
	Min T `json:"min"`
	Max T `json:"max"`
}

// NewRange returns [minimum, maximum].
func NewRange[T cmp.Ordered](minimum, maximum T) Range[T] {
	return Range[T]{Min: minimum, Max: maximum}
}

// Contains reports whether v lies in the range, bounds included.
func (r Range[T]) Contains(v T) bool {
	return v >= r.Min && v <= r.Max
}

// WithMin returns a copy of r starting at v.
func (r Range[T]) WithMin(v T) Range[T] {
	r.Min = v
	return r
}

// WithMax returns a copy of r ending at v.
func (r Range[T]) WithMax(v T) Range[T] {
	r.Max = v
	return r
}

// Compare orders ranges by their minimum, then by their maximum.
func (r Range[T]) Compare(o Range[T]) int {
	if c := cmp.Compare(r.Min, o.Min); c != 0 {
		return c
	}
	return cmp.Compare(r.Max, o.Max)
}

func (r Range[T]) String() string {
	return fmt.Sprintf("[%v, %v]", r.Min, r.Max)
}

// TimeRange is the range type used for timestamps.
type TimeRange = Range[float64]

// Phase is the interval during which a tag was active on one channel.
type Phase struct {
	Tag   Tag       `json:"tag"`
	Range TimeRange `json:"range"`
}
