package experiment

import (
	"math"
	"slices"
	"sort"
)

// Store holds one channel of a recording: its points in file order and its
// phases.
type Store struct {
	Points []DataPoint
	Phases *PhaseMap
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{Phases: NewPhaseMap()}
}

// Clone returns a deep copy of s.
func (s *Store) Clone() *Store {
	return &Store{
		Points: slices.Clone(s.Points),
		Phases: s.Phases.Clone(),
	}
}

// Tags returns the tags of the store's phases, in order.
func (s *Store) Tags() []Tag {
	return s.Phases.Tags()
}

// PointsFor returns the points recorded during tag's phase, or every point
// when tag is nil. An unknown tag yields an empty slice.
// The returned slice aliases the store.
func (s *Store) PointsFor(tag *Tag) []DataPoint {
	if tag == nil {
		return s.Points
	}
	r, ok := s.Phases.Get(*tag)
	if !ok {
		return []DataPoint{}
	}
	return Select(s.Points, r)
}

// Select returns the sub-slice of points whose timestamps fall in r.
// points must be sorted by timestamp.
func Select(points []DataPoint, r TimeRange) []DataPoint {
	if r.Max < r.Min {
		return []DataPoint{}
	}
	lo := sort.Search(len(points), func(i int) bool {
		return points[i].Timestamp >= r.Min
	})
	hi := sort.Search(len(points), func(i int) bool {
		return points[i].Timestamp > r.Max
	})
	if lo >= hi {
		return []DataPoint{}
	}
	return points[lo:hi]
}

// Values extracts the values of points.
func Values(points []DataPoint) []float64 {
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	return values
}

// ValueRange returns the smallest and largest valid values of points, or
// [0, 1] when there is none, so an axis scaled on it is never empty.
func ValueRange(points []DataPoint) Range[float64] {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		if !p.IsValid() {
			continue
		}
		lo = min(lo, p.Value)
		hi = max(hi, p.Value)
	}
	if lo > hi {
		return NewRange(0.0, 1.0)
	}
	return NewRange(lo, hi)
}
