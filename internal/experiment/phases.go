package experiment

import (
	"iter"
	"slices"
)

// PhaseMap is an ordered Tag -> TimeRange map. Iteration follows the order in
// which tags were first set, which for a loaded recording is chronological.
// A PhaseMap is not safe for concurrent mutation.
type PhaseMap struct {
	order  []Tag
	ranges map[Tag]TimeRange
}

// NewPhaseMap returns an empty map.
func NewPhaseMap() *PhaseMap {
	return &PhaseMap{ranges: make(map[Tag]TimeRange)}
}

// Set stores r for tag. An existing tag keeps its position.
func (m *PhaseMap) Set(tag Tag, r TimeRange) {
	if _, ok := m.ranges[tag]; !ok {
		m.order = append(m.order, tag)
	}
	m.ranges[tag] = r
}

// Get returns the range of tag.
func (m *PhaseMap) Get(tag Tag) (TimeRange, bool) {
	r, ok := m.ranges[tag]
	return r, ok
}

// Has reports whether tag is present.
func (m *PhaseMap) Has(tag Tag) bool {
	_, ok := m.ranges[tag]
	return ok
}

// Delete removes tag. Deleting an absent tag is a no-op.
func (m *PhaseMap) Delete(tag Tag) {
	if _, ok := m.ranges[tag]; !ok {
		return
	}
	delete(m.ranges, tag)
	if i := slices.Index(m.order, tag); i >= 0 {
		m.order = slices.Delete(m.order, i, i+1)
	}
}

// Len returns the number of phases.
func (m *PhaseMap) Len() int {
	return len(m.order)
}

// Tags returns the tags in order.
func (m *PhaseMap) Tags() []Tag {
	return slices.Clone(m.order)
}

// Phases returns the phases in order.
func (m *PhaseMap) Phases() []Phase {
	phases := make([]Phase, 0, len(m.order))
	for _, tag := range m.order {
		phases = append(phases, Phase{Tag: tag, Range: m.ranges[tag]})
	}
	return phases
}

// All iterates over the phases in order.
func (m *PhaseMap) All() iter.Seq2[Tag, TimeRange] {
	return func(yield func(Tag, TimeRange) bool) {
		for _, tag := range m.order {
			if !yield(tag, m.ranges[tag]) {
				return
			}
		}
	}
}

// Clone returns an independent copy.
func (m *PhaseMap) Clone() *PhaseMap {
	c := &PhaseMap{
		order:  slices.Clone(m.order),
		ranges: make(map[Tag]TimeRange, len(m.ranges)),
	}
	for tag, r := range m.ranges {
		c.ranges[tag] = r
	}
	return c
}
