// Package loader reads recordings exported by the acquisition software.
//
// A recording is a table with one row per sample. The first column holds the
// time in seconds, the next columns one value per channel, and the last
// column an optional tag opening a new experiment phase. Rows before the
// first data row form the header: lines starting with '#' are free-form
// comments and the first other line names the channels.
//
// Tab-separated text and .xlsx workbooks are supported. Numbers accept a
// decimal comma, and "NaN" marks a sample the acquisition failed to record.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/experiment"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/fsutil"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/monitoring"
)

// ErrNoData is returned for a recording without any data row.
var ErrNoData = errors.New("recording has no data row")

// tagPrefix is written by the acquisition software before every tag.
const tagPrefix = "#*"

// ctxCheckEvery is how many rows are parsed between cancellation checks.
const ctxCheckEvery = 4096

// ParseError reports a malformed recording.
type ParseError struct {
	Path   string
	Line   int
	Column int
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %v", e.Path, e.Line, e.Column, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Experiment is a loaded recording.
type Experiment struct {
	Path          string
	HeaderComment string
	// Measures lists the channels in column order.
	Measures []experiment.Measure
	Stores   map[experiment.Measure]*experiment.Store
}

// Store returns the raw store of channel m.
func (e *Experiment) Store(m experiment.Measure) (*experiment.Store, bool) {
	s, ok := e.Stores[m]
	return s, ok
}

// Tags returns the phase tags of every channel, in order of first appearance.
func (e *Experiment) Tags() []experiment.Tag {
	var tags []experiment.Tag
	seen := make(map[experiment.Tag]bool)
	for _, m := range e.Measures {
		for _, tag := range e.Stores[m].Tags() {
			if !seen[tag] {
				seen[tag] = true
				tags = append(tags, tag)
			}
		}
	}
	return tags
}

// Loader reads recordings from a file system.
type Loader struct {
	fs fsutil.FileSystem
}

// New returns a Loader reading from fsys, or from the OS when nil.
func New(fsys fsutil.FileSystem) *Loader {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &Loader{fs: fsys}
}

// Load parses the recording at path.
func (l *Loader) Load(ctx context.Context, path string) (*Experiment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := l.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}

	var src rowSource
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		src, err = newSheetRows(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	default:
		src = newTSVRows(f)
	}
	defer src.Close()

	exp, err := parse(ctx, path, src)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("[loader] loaded %s: %d channels, %d phases, %d samples",
		path, len(exp.Measures), len(exp.Tags()), len(exp.Stores[exp.Measures[0]].Points))
	return exp, nil
}

type parser struct {
	path     string
	comments []string
	names    []string

	exp     *Experiment
	tagCol  int
	current experiment.Tag
	rows    int
}

func parse(ctx context.Context, path string, src rowSource) (*Experiment, error) {
	p := &parser{path: path}
	for {
		row, line, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *ParseError
			if errors.As(err, &perr) {
				perr.Path = path
				return nil, perr
			}
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		if p.exp == nil && !isDataRow(row) {
			p.header(row)
			continue
		}
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		if err := p.data(line, row); err != nil {
			return nil, err
		}
		if p.rows%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}
	if p.exp == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrNoData)
	}
	return p.exp, nil
}

// isDataRow reports whether row starts the data section: its first field is
// a time.
func isDataRow(row []string) bool {
	if len(row) == 0 {
		return false
	}
	t, err := parseNumber(row[0])
	return err == nil && !math.IsNaN(t)
}

func (p *parser) header(row []string) {
	if len(row) == 0 {
		return
	}
	if strings.HasPrefix(row[0], "#") {
		line := strings.TrimPrefix(strings.Join(row, "\t"), "#")
		line = strings.TrimPrefix(line, " ")
		p.comments = append(p.comments, strings.TrimRight(line, "\t"))
		return
	}
	if p.names == nil && len(row) >= 2 {
		// Time column first, tag column last.
		p.names = slices.Clone(row[1 : len(row)-1])
	}
}

// start sets up the stores from the first data row.
func (p *parser) start(row []string) {
	count := len(p.names)
	if count == 0 {
		count = max(len(row)-2, 1)
	}
	p.exp = &Experiment{
		Path:          p.path,
		HeaderComment: strings.Join(p.comments, "\n"),
		Stores:        make(map[experiment.Measure]*experiment.Store, count),
	}
	for i := range count {
		name := ""
		if i < len(p.names) {
			name = strings.TrimSpace(p.names[i])
		}
		if name == "" {
			name = fmt.Sprintf("Channel %d", i+1)
		}
		m := experiment.Measure(name)
		for n := 2; p.exp.Stores[m] != nil; n++ {
			m = experiment.Measure(fmt.Sprintf("%s (%d)", name, n))
		}
		p.exp.Measures = append(p.exp.Measures, m)
		p.exp.Stores[m] = experiment.NewStore()
	}
	p.tagCol = 1 + count
}

func (p *parser) data(line int, row []string) error {
	first := p.exp == nil
	if first {
		p.start(row)
	}

	t, err := parseNumber(row[0])
	if err == nil && math.IsNaN(t) {
		err = errors.New("time is NaN")
	}
	if err != nil {
		return &ParseError{Path: p.path, Line: line, Column: 1, Err: err}
	}

	tag := p.tag(row)
	switch {
	case tag != "":
		p.current = tag
		for _, s := range p.exp.Stores {
			s.Phases.Set(tag, experiment.NewRange(t, t))
		}
	case first:
		p.current = experiment.Preparation
		for _, s := range p.exp.Stores {
			s.Phases.Set(experiment.Preparation, experiment.NewRange(t, t))
		}
	}

	for i, m := range p.exp.Measures {
		v := math.NaN()
		if col := 1 + i; col < len(row) && strings.TrimSpace(row[col]) != "" {
			v, err = parseNumber(row[col])
			if err != nil {
				return &ParseError{Path: p.path, Line: line, Column: col + 1, Err: err}
			}
		}
		s := p.exp.Stores[m]
		s.Points = append(s.Points, experiment.DataPoint{Timestamp: t, Value: v})
		if r, ok := s.Phases.Get(p.current); ok {
			s.Phases.Set(p.current, r.WithMax(t))
		}
	}
	p.rows++
	return nil
}

func (p *parser) tag(row []string) experiment.Tag {
	if p.tagCol >= len(row) {
		return ""
	}
	tag := strings.TrimSpace(row[p.tagCol])
	tag = strings.TrimSpace(strings.TrimPrefix(tag, tagPrefix))
	return experiment.Tag(tag)
}

// parseNumber parses a decimal number written with a dot or a comma.
func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "nan") {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}
