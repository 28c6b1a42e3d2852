// Package cleaner removes invalid samples from a channel and closes the gaps
// they leave, so the cleaned timeline is contiguous while every experiment
// phase still covers the samples it covered before.
//
// The cleaner makes a single forward pass keeping a running offset (always
// zero or negative). Invalid samples are buffered as an omitted run; the first
// valid sample after a run subtracts the run's raw span from the offset, and
// every valid sample is shifted by the offset. Phase boundaries are looked up
// by raw timestamp and moved by the offset in force when their sample is met.
// A phase made only of invalid samples ends up with the same start as the
// phase that follows it and is removed.
package cleaner

import (
	"fmt"
	"slices"

	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/experiment"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/monitoring"
)

var logf = monitoring.Component("cleaner")

// EventKind describes what an Event reports.
type EventKind int

const (
	// RunOmitted reports a closed run of invalid samples.
	RunOmitted EventKind = iota
	// PhaseStartMoved reports a relocated phase start.
	PhaseStartMoved
	// PhaseEndMoved reports a relocated phase end.
	PhaseEndMoved
	// PhaseRemoved reports a phase collapsed to zero width.
	PhaseRemoved
)

func (k EventKind) String() string {
	switch k {
	case RunOmitted:
		return "run omitted"
	case PhaseStartMoved:
		return "phase start moved"
	case PhaseEndMoved:
		return "phase end moved"
	case PhaseRemoved:
		return "phase removed"
	default:
		return "unknown"
	}
}

// Event is emitted to an Observer during a pass.
type Event struct {
	Kind  EventKind
	Tag   experiment.Tag       // phase events
	Range experiment.TimeRange // RunOmitted: omitted range; PhaseRemoved: range at removal
	From  float64              // moves: previous bound
	To    float64              // moves: new bound
	Count int                  // RunOmitted: number of samples
}

func (e Event) String() string {
	switch e.Kind {
	case RunOmitted:
		return fmt.Sprintf("%s: %d samples in %s", e.Kind, e.Count, e.Range)
	case PhaseStartMoved, PhaseEndMoved:
		return fmt.Sprintf("%s: %s %g -> %g", e.Kind, e.Tag, e.From, e.To)
	case PhaseRemoved:
		return fmt.Sprintf("%s: %s at %s", e.Kind, e.Tag, e.Range)
	default:
		return e.Kind.String()
	}
}

// Observer receives cleaning events. It is called synchronously.
type Observer func(Event)

// LogEvents is an Observer writing every event to the diagnostic log.
func LogEvents(e Event) {
	logf("%s", e)
}

// Config tunes a Cleaner.
type Config struct {
	// Observer, when set, receives every event of a pass.
	Observer Observer

	// SnapToValid anchors phase boundaries that fall on invalid samples to
	// the nearest valid sample inside the phase: a start waits for the first
	// valid sample after the run, an end moves back to the last valid sample
	// before it. A phase left without any valid sample is removed. When false,
	// boundaries are moved by the offset in force when their sample is met.
	SnapToValid bool
}

// Cleaner runs the gap-closing pass. It keeps no state between passes and is
// safe for concurrent use on distinct stores.
type Cleaner struct {
	cfg Config
}

// New returns a Cleaner.
func New(cfg Config) *Cleaner {
	return &Cleaner{cfg: cfg}
}

func (c *Cleaner) emit(e Event) {
	if c != nil && c.cfg.Observer != nil {
		c.cfg.Observer(e)
	}
}

// Clean removes the invalid samples of store, shifts the remaining timestamps
// to close the gaps, relocates the phase boundaries and returns what was
// removed. store is modified in place.
func (c *Cleaner) Clean(store *experiment.Store) *Omissions {
	omissions := newOmissions()
	if store == nil || len(store.Points) == 0 {
		return omissions
	}
	snap := c != nil && c.cfg.SnapToValid

	idx := NewPhaseIndex(store.Phases)
	points := store.Points

	var offset float64
	var previous float64
	var lastValid float64
	var seenValid bool
	var run []experiment.DataPoint
	var pending []experiment.Tag

	for i := range points {
		p := &points[i]
		raw := p.Timestamp
		last := i == len(points)-1
		valid := p.IsValid()

		if !valid {
			run = append(run, *p)
		} else {
			if len(run) > 0 {
				offset -= raw - run[0].Timestamp
			}
			p.Timestamp = raw + offset
		}

		if (valid || last) && len(run) > 0 {
			// The run ends on the previous sample, which was invalid and so
			// never shifted, unless it reaches the end of the data.
			end := previous
			if !valid {
				end = raw
			}
			r := experiment.NewRange(run[0].Timestamp, end)
			omissions.add(r, run)
			c.emit(Event{Kind: RunOmitted, Range: r, Count: len(run)})
			run = run[:0]
		}

		if valid {
			for _, tag := range pending {
				c.moveStart(idx, tag, p.Timestamp, true)
			}
			pending = pending[:0]
		}

		if tag, ok := idx.StartingAt(raw); ok {
			if snap && !valid {
				pending = append(pending, tag)
			} else {
				c.moveStart(idx, tag, raw+offset, offset != 0)
			}
		}

		if tag, ok := idx.EndingAt(raw); ok {
			target := raw + offset
			if snap && !valid && seenValid {
				target = lastValid
			}
			if from, ok := idx.RelocateEnd(tag, target); ok && from != target {
				c.emit(Event{Kind: PhaseEndMoved, Tag: tag, From: from, To: target})
			}
		}

		previous = p.Timestamp
		if valid {
			lastValid = p.Timestamp
			seenValid = true
		}
	}

	// Phases still waiting for a valid sample hold none.
	for _, tag := range pending {
		if removed, ok := idx.Remove(tag); ok {
			c.emit(Event{Kind: PhaseRemoved, Tag: tag, Range: removed})
		}
	}

	store.Points = slices.DeleteFunc(points, func(p experiment.DataPoint) bool {
		return !p.IsValid()
	})
	return omissions
}

// moveStart relocates tag's start to target. When collide is set, another
// phase already starting at target has zero width and is removed first.
func (c *Cleaner) moveStart(idx *PhaseIndex, tag experiment.Tag, target float64, collide bool) {
	if collide {
		if other, ok := idx.CurrentlyStartingAt(target); ok && other != tag {
			if removed, ok := idx.Remove(other); ok {
				c.emit(Event{Kind: PhaseRemoved, Tag: other, Range: removed})
			}
		}
	}
	if from, ok := idx.RelocateStart(tag, target); ok && from != target {
		c.emit(Event{Kind: PhaseStartMoved, Tag: tag, From: from, To: target})
	}
}
