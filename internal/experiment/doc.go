// Package experiment holds the data model shared by the loader, the cleaner,
// the decomposer and the manager: recorded points, channels, experiment
// phases and the per-channel store that groups them.
//
// Values in this package are immutable by convention. The only code allowed to
// mutate a Store in place is the gap-closing cleaner (timestamps, invalid
// samples and phase boundaries) and the loader while it builds the store.
//
// # Phases
//
// A phase is the timestamp interval during which a Tag was active. Phases are
// per channel because cleaning shifts each channel's timeline by a different
// amount. PhaseMap keeps them in chronological order of first occurrence:
//
//	phases := experiment.NewPhaseMap()
//	phases.Set(experiment.Preparation, experiment.NewRange(0.0, 12.5))
//	phases.Set("ach", experiment.NewRange(13.0, 20.0))
//
// # Selecting points
//
// Points are sorted by timestamp, so selections use binary search:
//
//	all := store.PointsFor(nil)
//	tag := experiment.Tag("ach")
//	ach := store.PointsFor(&tag)
package experiment
