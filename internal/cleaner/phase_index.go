package cleaner

import (
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/experiment"
)

// PhaseIndex indexes a channel's phases by their boundary values so the
// cleaner can relocate a boundary in O(1) when it meets the sample recorded
// on it.
//
// Two families of lookups are kept:
//   - raw lookups (rawStarts, rawEnds, tagsByRange) are built once from the
//     phase map's original bounds and never change during a pass, so a raw
//     timestamp always finds the phase it was recorded in;
//   - current lookups (starts, ends) follow every relocation and are what
//     zero-width phase detection compares against.
//
// Ranges are values: a relocation stores a new Range in the phase map rather
// than mutating a shared one.
type PhaseIndex struct {
	phases *experiment.PhaseMap

	tagsByRange map[experiment.TimeRange]experiment.Tag
	rawStarts   map[float64]experiment.TimeRange
	rawEnds     map[float64]experiment.TimeRange
	original    map[experiment.Tag]experiment.TimeRange

	starts map[float64]experiment.Tag
	ends   map[float64]experiment.Tag
}

// NewPhaseIndex builds the lookups for phases. Later relocations write
// through to phases.
func NewPhaseIndex(phases *experiment.PhaseMap) *PhaseIndex {
	n := phases.Len()
	idx := &PhaseIndex{
		phases:      phases,
		tagsByRange: make(map[experiment.TimeRange]experiment.Tag, n),
		rawStarts:   make(map[float64]experiment.TimeRange, n),
		rawEnds:     make(map[float64]experiment.TimeRange, n),
		original:    make(map[experiment.Tag]experiment.TimeRange, n),
		starts:      make(map[float64]experiment.Tag, n),
		ends:        make(map[float64]experiment.Tag, n),
	}
	for tag, r := range phases.All() {
		idx.tagsByRange[r] = tag
		idx.rawStarts[r.Min] = r
		idx.rawEnds[r.Max] = r
		idx.original[tag] = r
		idx.starts[r.Min] = tag
		idx.ends[r.Max] = tag
	}
	return idx
}

// TagOf returns the tag whose original range is r.
func (idx *PhaseIndex) TagOf(r experiment.TimeRange) (experiment.Tag, bool) {
	tag, ok := idx.tagsByRange[r]
	return tag, ok
}

// StartingAt returns the phase whose original start is the raw timestamp t.
func (idx *PhaseIndex) StartingAt(t float64) (experiment.Tag, bool) {
	return idx.rawLookup(idx.rawStarts, t)
}

// EndingAt returns the phase whose original end is the raw timestamp t.
func (idx *PhaseIndex) EndingAt(t float64) (experiment.Tag, bool) {
	return idx.rawLookup(idx.rawEnds, t)
}

func (idx *PhaseIndex) rawLookup(m map[float64]experiment.TimeRange, t float64) (experiment.Tag, bool) {
	r, ok := m[t]
	if !ok {
		return "", false
	}
	tag, ok := idx.tagsByRange[r]
	if !ok || !idx.phases.Has(tag) {
		return "", false
	}
	return tag, true
}

// CurrentlyStartingAt returns the phase whose start, as relocated so far,
// equals v.
func (idx *PhaseIndex) CurrentlyStartingAt(v float64) (experiment.Tag, bool) {
	tag, ok := idx.starts[v]
	return tag, ok
}

// CurrentlyEndingAt returns the phase whose end, as relocated so far, equals v.
func (idx *PhaseIndex) CurrentlyEndingAt(v float64) (experiment.Tag, bool) {
	tag, ok := idx.ends[v]
	return tag, ok
}

// RelocateStart moves tag's start to v and returns the previous start.
func (idx *PhaseIndex) RelocateStart(tag experiment.Tag, v float64) (float64, bool) {
	r, ok := idx.phases.Get(tag)
	if !ok {
		return 0, false
	}
	if idx.starts[r.Min] == tag {
		delete(idx.starts, r.Min)
	}
	idx.phases.Set(tag, r.WithMin(v))
	idx.starts[v] = tag
	return r.Min, true
}

// RelocateEnd moves tag's end to v and returns the previous end.
func (idx *PhaseIndex) RelocateEnd(tag experiment.Tag, v float64) (float64, bool) {
	r, ok := idx.phases.Get(tag)
	if !ok {
		return 0, false
	}
	if idx.ends[r.Max] == tag {
		delete(idx.ends, r.Max)
	}
	idx.phases.Set(tag, r.WithMax(v))
	idx.ends[v] = tag
	return r.Max, true
}

// Remove deletes tag from the phase map and from every lookup.
func (idx *PhaseIndex) Remove(tag experiment.Tag) (experiment.TimeRange, bool) {
	r, ok := idx.phases.Get(tag)
	if !ok {
		return experiment.TimeRange{}, false
	}
	idx.phases.Delete(tag)
	if idx.starts[r.Min] == tag {
		delete(idx.starts, r.Min)
	}
	if idx.ends[r.Max] == tag {
		delete(idx.ends, r.Max)
	}
	if orig, ok := idx.original[tag]; ok {
		if idx.rawStarts[orig.Min] == orig {
			delete(idx.rawStarts, orig.Min)
		}
		if idx.rawEnds[orig.Max] == orig {
			delete(idx.rawEnds, orig.Max)
		}
	}
	return r, true
}
