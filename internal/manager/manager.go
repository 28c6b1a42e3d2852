// Package manager orchestrates loading, cleaning and decomposing recordings.
//
// Results are cached per recording: one cleaned store per channel and one
// decomposition per channel and period. Requests return a channel receiving
// exactly one result, or closed without a value when the request was
// superseded or cancelled. Cleaning a first channel starts a background sweep
// cleaning the other channels of the recording, so switching channel is
// immediate.
//
// All shared state is guarded by a single mutex. Background work runs on
// goroutines whose contexts derive from the manager's, so Shutdown cancels
// everything at once.
package manager

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/cleaner"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/decompose"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/experiment"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/loader"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/monitoring"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/timeutil"
)

var (
	// ErrNotFound is returned for a channel the current recording lacks.
	ErrNotFound = errors.New("channel not found")
	// ErrNoFile is returned when no recording is loaded.
	ErrNoFile = errors.New("no recording loaded")
	// ErrShutdown is returned once Shutdown was called.
	ErrShutdown = errors.New("manager is shut down")
)

// ExperimentLoader parses recordings.
type ExperimentLoader interface {
	Load(ctx context.Context, path string) (*loader.Experiment, error)
}

// ChannelCleaner removes invalid samples from a store in place.
type ChannelCleaner interface {
	Clean(store *experiment.Store) *cleaner.Omissions
}

// Decomposer splits points into their components.
type Decomposer interface {
	Decompose(points []experiment.DataPoint, period int) (*decompose.Decomposition, error)
}

// Recorder persists what the pipeline computed. Failures are logged and do
// not fail the request.
type Recorder interface {
	RecordLoad(ctx context.Context, exp *loader.Experiment) (runID string, err error)
	RecordCleaning(ctx context.Context, runID string, measure experiment.Measure, raw, cleaned *experiment.Store, omissions *cleaner.Omissions) error
}

// Config holds the Manager's collaborators and settings. Nil collaborators
// get defaults.
type Config struct {
	Loader     ExperimentLoader
	Cleaner    ChannelCleaner
	Decomposer Decomposer
	Recorder   Recorder
	Clock      timeutil.Clock
	Metrics    *monitoring.Metrics

	Logging    bool
	PreCompute bool
	// TaskTimeout bounds every background task. Zero means no bound.
	TaskTimeout time.Duration
	OnProgress  ProgressFunc
}

// LoadResult is delivered by Load.
type LoadResult struct {
	Path     string
	Measures []experiment.Measure
	Tags     []experiment.Tag
	Err      error
}

// CleanResult is delivered by Clean. Store and Omissions are shared with the
// cache and must not be modified.
type CleanResult struct {
	Measure   experiment.Measure
	Store     *experiment.Store
	Omissions *cleaner.Omissions
	Err       error
}

// DecomposeResult is delivered by Decompose. Decomposition is shared with the
// cache.
type DecomposeResult struct {
	Measure       experiment.Measure
	Period        int
	Decomposition *decompose.Decomposition
	Err           error
}

type cleanEntry struct {
	store     *experiment.Store
	omissions *cleaner.Omissions
}

type decomposeKey struct {
	measure experiment.Measure
	period  int
}

// fileState is everything cached for one recording.
type fileState struct {
	path       string
	gen        uint64 // distinguishes reloads of path
	exp        *loader.Experiment
	runID      string
	cleaned    map[experiment.Measure]*cleanEntry
	decomposed map[decomposeKey]*decompose.Decomposition
	sweeping   bool
}

// Manager is the pipeline cache and orchestrator.
type Manager struct {
	cfg        Config
	logging    atomic.Bool
	precompute atomic.Bool
	group      singleflight.Group

	base     context.Context
	stopBase context.CancelFunc
	wg       sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	loads    uint64
	current  string
	files    map[string]*fileState
	tasks    map[string]*task
	loading  *task
	cleaning *task
}

// New returns a Manager.
func New(cfg Config) *Manager {
	if cfg.Loader == nil {
		cfg.Loader = loader.New(nil)
	}
	if cfg.Cleaner == nil {
		cfg.Cleaner = cleaner.New(cleaner.Config{})
	}
	if cfg.Decomposer == nil {
		cfg.Decomposer = decompose.New(nil)
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}

	base, stop := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		base:     base,
		stopBase: stop,
		files:    make(map[string]*fileState),
		tasks:    make(map[string]*task),
	}
	m.logging.Store(cfg.Logging)
	m.precompute.Store(cfg.PreCompute)
	return m
}

var logComponent = monitoring.Component("manager")

func (m *Manager) logf(format string, v ...interface{}) {
	if m.logging.Load() {
		logComponent(format, v...)
	}
}

// SetLoggingEnabled toggles the manager's log messages.
func (m *Manager) SetLoggingEnabled(enabled bool) {
	m.logging.Store(enabled)
}

// SetPreComputingEnabled toggles the background sweep started by Clean.
// Running sweeps are not stopped.
func (m *Manager) SetPreComputingEnabled(enabled bool) {
	m.precompute.Store(enabled)
}

func filled[T any](v T) <-chan T {
	ch := make(chan T, 1)
	ch <- v
	close(ch)
	return ch
}

// Load makes path the current recording. A load still in flight is cancelled
// and its channel closed without a value. A recording already loaded is
// served from the cache.
func (m *Manager) Load(path string) <-chan LoadResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return filled(LoadResult{Path: path, Measures: []experiment.Measure{}, Tags: []experiment.Tag{}, Err: ErrShutdown})
	}

	m.cancelTask(m.loading)
	m.loading = nil
	m.current = path

	if st, ok := m.files[path]; ok {
		m.logf("recording %s served from cache", path)
		return filled(loadResult(st.exp))
	}

	out := make(chan LoadResult, 1)
	t := m.startTask(nil, TaskLoad, path, "", 0)
	m.loading = t

	var exp *loader.Experiment
	m.run(t, func(ctx context.Context) error {
		var err error
		exp, err = m.cfg.Loader.Load(ctx, path)
		return err
	}, func(delivered bool, err error) {
		if m.loading == t {
			m.loading = nil
		}
		defer close(out)
		if !delivered {
			return
		}
		if err != nil {
			out <- LoadResult{Path: path, Measures: []experiment.Measure{}, Tags: []experiment.Tag{}, Err: err}
			return
		}
		m.loads++
		st := &fileState{
			path:       path,
			gen:        m.loads,
			exp:        exp,
			cleaned:    make(map[experiment.Measure]*cleanEntry),
			decomposed: make(map[decomposeKey]*decompose.Decomposition),
		}
		m.files[path] = st
		m.logf("loaded %s: %d channels", path, len(exp.Measures))
		if m.cfg.Recorder != nil {
			m.wg.Add(1)
			go m.recordLoad(st)
		}
		out <- loadResult(exp)
	})
	return out
}

func loadResult(exp *loader.Experiment) LoadResult {
	tags := exp.Tags()
	if tags == nil {
		tags = []experiment.Tag{}
	}
	return LoadResult{
		Path:     exp.Path,
		Measures: slices.Clone(exp.Measures),
		Tags:     tags,
	}
}

// recordLoad creates the run of st, then records the channels cleaned while
// it was being created. Later cleanings record themselves.
func (m *Manager) recordLoad(st *fileState) {
	defer m.wg.Done()
	runID, err := m.cfg.Recorder.RecordLoad(recordContext, st.exp)
	if err != nil {
		m.logf("record %s: %v", st.path, err)
		return
	}
	m.mu.Lock()
	st.runID = runID
	pending := maps.Clone(st.cleaned)
	m.mu.Unlock()

	for _, measure := range st.exp.Measures {
		if e, ok := pending[measure]; ok {
			m.recordCleaning(st, runID, measure, e)
		}
	}
}

// recordContext is not cancelled by Shutdown, which waits for records in
// flight instead.
var recordContext = context.Background()

func (m *Manager) recordCleaning(st *fileState, runID string, measure experiment.Measure, e *cleanEntry) {
	raw, _ := st.exp.Store(measure)
	if err := m.cfg.Recorder.RecordCleaning(recordContext, runID, measure, raw, e.store, e.omissions); err != nil {
		m.logf("record cleaning of %s / %s: %v", st.path, measure, err)
	}
}

// lookup resolves the current recording and checks it has measure.
// m.mu must be held.
func (m *Manager) lookup(measure experiment.Measure) (*fileState, error) {
	if m.closed {
		return nil, ErrShutdown
	}
	st, ok := m.files[m.current]
	if !ok {
		return nil, ErrNoFile
	}
	if _, ok := st.exp.Store(measure); !ok {
		return nil, fmt.Errorf("%w: %q in %s", ErrNotFound, measure, st.path)
	}
	return st, nil
}

// Clean returns the cleaned store of measure in the current recording. A
// primary clean still in flight is superseded. ctx cancels the delivery, not
// the shared cleaning work.
func (m *Manager) Clean(ctx context.Context, measure experiment.Measure) <-chan CleanResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.lookup(measure)
	if err != nil {
		return filled(CleanResult{Measure: measure, Err: err})
	}
	if e, ok := st.cleaned[measure]; ok {
		m.cfg.Metrics.CacheLookup(monitoring.CacheClean, true)
		return filled(CleanResult{Measure: measure, Store: e.store, Omissions: e.omissions})
	}
	m.cfg.Metrics.CacheLookup(monitoring.CacheClean, false)

	m.cancelTask(m.cleaning)
	out := make(chan CleanResult, 1)
	t := m.startTask(ctx, TaskClean, st.path, measure, 0)
	m.cleaning = t

	var entry *cleanEntry
	m.run(t, func(context.Context) error {
		var err error
		entry, err = m.cleanShared(st, measure)
		return err
	}, func(delivered bool, err error) {
		if m.cleaning == t {
			m.cleaning = nil
		}
		defer close(out)
		if err == nil && m.precompute.Load() {
			m.startSweep(st)
		}
		if !delivered {
			return
		}
		if err != nil {
			out <- CleanResult{Measure: measure, Err: err}
			return
		}
		out <- CleanResult{Measure: measure, Store: entry.store, Omissions: entry.omissions}
	})
	return out
}

// cleanShared cleans measure once however many callers ask concurrently and
// caches the result while st is still the loaded state of its recording.
// Calls are shared per load, so a reload never joins work on evicted data.
func (m *Manager) cleanShared(st *fileState, measure experiment.Measure) (*cleanEntry, error) {
	key := fmt.Sprintf("clean\x00%d\x00%s", st.gen, measure)
	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		m.mu.Lock()
		if e, ok := st.cleaned[measure]; ok {
			m.mu.Unlock()
			return e, nil
		}
		m.mu.Unlock()

		raw, ok := st.exp.Store(measure)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, measure)
		}

		var entry *cleanEntry
		err := safely(func() error {
			store := raw.Clone()
			omissions := m.cfg.Cleaner.Clean(store)
			entry = &cleanEntry{store: store, omissions: omissions}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("clean %q: %w", measure, err)
		}

		m.mu.Lock()
		if m.files[st.path] == st {
			st.cleaned[measure] = entry
		}
		runID := st.runID
		m.mu.Unlock()

		removed := raw.Phases.Len() - entry.store.Phases.Len()
		m.cfg.Metrics.Cleaned(len(entry.store.Points), entry.omissions.Count(), removed)
		m.logf("cleaned %s / %s: kept %d samples, omitted %d in %d runs, removed %d phases",
			st.path, measure, len(entry.store.Points), entry.omissions.Count(), entry.omissions.Len(), removed)

		if m.cfg.Recorder != nil && runID != "" {
			m.recordCleaning(st, runID, measure, entry)
		}
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*cleanEntry), nil
}

// startSweep cleans the remaining channels of st in the background, at most
// once per loaded recording. m.mu must be held.
func (m *Manager) startSweep(st *fileState) {
	if m.closed || st.sweeping || m.files[st.path] != st {
		return
	}
	st.sweeping = true

	t := m.startTask(nil, TaskSweep, st.path, "", 0)
	m.run(t, func(ctx context.Context) error {
		for _, measure := range st.exp.Measures {
			select {
			case <-ctx.Done():
				m.logf("sweep of %s stopped: %v", st.path, ctx.Err())
				return nil
			default:
			}
			if _, err := m.cleanShared(st, measure); err != nil {
				return err
			}
		}
		m.logf("sweep of %s complete", st.path)
		return nil
	}, func(bool, error) {})
}

// Decompose returns the decomposition of measure in the current recording
// for period, cleaning the channel first when needed. Concurrent requests for
// the same decomposition share the work.
func (m *Manager) Decompose(ctx context.Context, measure experiment.Measure, period int) <-chan DecomposeResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if period < 1 {
		return filled(DecomposeResult{Measure: measure, Period: period, Err: fmt.Errorf("%w: %d", decompose.ErrInvalidPeriod, period)})
	}
	st, err := m.lookup(measure)
	if err != nil {
		return filled(DecomposeResult{Measure: measure, Period: period, Err: err})
	}
	key := decomposeKey{measure: measure, period: period}
	if d, ok := st.decomposed[key]; ok {
		m.cfg.Metrics.CacheLookup(monitoring.CacheDecompose, true)
		return filled(DecomposeResult{Measure: measure, Period: period, Decomposition: d})
	}
	m.cfg.Metrics.CacheLookup(monitoring.CacheDecompose, false)

	out := make(chan DecomposeResult, 1)
	t := m.startTask(ctx, TaskDecompose, st.path, measure, period)

	var d *decompose.Decomposition
	m.run(t, func(ctx context.Context) error {
		var err error
		d, err = m.decomposeShared(ctx, st, key)
		return err
	}, func(delivered bool, err error) {
		defer close(out)
		if !delivered {
			return
		}
		if err != nil {
			out <- DecomposeResult{Measure: measure, Period: period, Err: err}
			return
		}
		out <- DecomposeResult{Measure: measure, Period: period, Decomposition: d}
	})
	return out
}

func (m *Manager) decomposeShared(ctx context.Context, st *fileState, key decomposeKey) (*decompose.Decomposition, error) {
	entry, err := m.cleanShared(st, key.measure)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sfKey := fmt.Sprintf("decompose\x00%d\x00%s\x00%d", st.gen, key.measure, key.period)
	v, err, _ := m.group.Do(sfKey, func() (interface{}, error) {
		m.mu.Lock()
		if d, ok := st.decomposed[key]; ok {
			m.mu.Unlock()
			return d, nil
		}
		m.mu.Unlock()

		var d *decompose.Decomposition
		err := safely(func() error {
			var err error
			d, err = m.cfg.Decomposer.Decompose(entry.store.Points, key.period)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("decompose %q: %w", key.measure, err)
		}

		m.mu.Lock()
		if m.files[st.path] == st {
			st.decomposed[key] = d
		}
		m.mu.Unlock()
		m.logf("decomposed %s / %s with period %d (%d samples)", st.path, key.measure, key.period, d.Len())
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*decompose.Decomposition), nil
}

// InvalidateFile cancels every task working on path and evicts what was
// loaded and computed for it.
func (m *Manager) InvalidateFile(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tasks {
		if t.info.Path == path {
			m.cancelTask(t)
		}
	}
	if _, ok := m.files[path]; ok {
		delete(m.files, path)
		m.logf("invalidated %s", path)
	}
}

// Shutdown cancels every outstanding task and waits for them to return.
// Later requests fail with ErrShutdown. It is safe to call more than once.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, t := range m.tasks {
		m.cancelTask(t)
	}
	m.stopBase()
	m.mu.Unlock()

	m.wg.Wait()
	m.logf("shut down")
}

// CurrentFile returns the path of the current recording.
func (m *Manager) CurrentFile() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// HeaderComment returns the header comment of the current recording.
func (m *Manager) HeaderComment() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.files[m.current]; ok {
		return st.exp.HeaderComment
	}
	return ""
}

// Measures returns the channels of the current recording.
func (m *Manager) Measures() ([]experiment.Measure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.files[m.current]
	if !ok {
		return nil, ErrNoFile
	}
	return slices.Clone(st.exp.Measures), nil
}

// Cleaned reports whether measure of the current recording is cached.
func (m *Manager) Cleaned(measure experiment.Measure) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.files[m.current]
	if !ok {
		return false
	}
	_, ok = st.cleaned[measure]
	return ok
}

// store returns the cleaned store of measure when cached, else the raw one.
func (m *Manager) store(measure experiment.Measure) (*experiment.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.lookup(measure)
	if err != nil {
		return nil, err
	}
	if e, ok := st.cleaned[measure]; ok {
		return e.store, nil
	}
	raw, _ := st.exp.Store(measure)
	return raw, nil
}

// Points returns a copy of the points of measure, restricted to tag's phase
// when tag is not nil. Cleaned points are returned once the channel was
// cleaned, raw points before.
func (m *Manager) Points(measure experiment.Measure, tag *experiment.Tag) ([]experiment.DataPoint, error) {
	s, err := m.store(measure)
	if err != nil {
		return nil, err
	}
	return slices.Clone(s.PointsFor(tag)), nil
}

// Phases returns the phases of measure, cleaned once the channel was cleaned.
func (m *Manager) Phases(measure experiment.Measure) ([]experiment.Phase, error) {
	s, err := m.store(measure)
	if err != nil {
		return nil, err
	}
	return s.Phases.Phases(), nil
}

// Omissions returns what cleaning measure removed, or nil when it was not
// cleaned.
func (m *Manager) Omissions(measure experiment.Measure) *cleaner.Omissions {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.files[m.current]
	if !ok {
		return nil
	}
	if e, ok := st.cleaned[measure]; ok {
		return e.omissions
	}
	return nil
}

// OmittedRanges returns the omitted ranges of measure sorted by start. It is
// empty until the channel is cleaned.
func (m *Manager) OmittedRanges(measure experiment.Measure) []experiment.TimeRange {
	return m.Omissions(measure).Ranges()
}

// OmittedPoints returns the samples omitted in exactly r.
func (m *Manager) OmittedPoints(measure experiment.Measure, r experiment.TimeRange) []experiment.DataPoint {
	return m.Omissions(measure).Points(r)
}
