package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/cleaner"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/experiment"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/loader"
)

// ErrRunNotFound is returned for an unknown run.
var ErrRunNotFound = errors.New("run not found")

// Run is one load of a recording.
type Run struct {
	ID            string    `json:"run_id"`
	FilePath      string    `json:"file_path"`
	HeaderComment string    `json:"header_comment"`
	Channels      int       `json:"channel_count"`
	SourceFormat  string    `json:"source_format"`
	CreatedAt     time.Time `json:"created_at"`
}

// Cleaning summarises the cleaning of one channel within a run.
type Cleaning struct {
	RunID         string             `json:"run_id"`
	Measure       experiment.Measure `json:"measure"`
	PointsBefore  int                `json:"points_before"`
	PointsAfter   int                `json:"points_after"`
	OmittedPoints int                `json:"omitted_points"`
	RemovedPhases int                `json:"removed_phases"`
	CreatedAt     time.Time          `json:"created_at"`
}

// OmittedRange is a run of invalid samples removed by a cleaning.
type OmittedRange struct {
	Range  experiment.TimeRange `json:"range"`
	Points int                  `json:"point_count"`
}

func sourceFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return "xlsx"
	default:
		return "tsv"
	}
}

// NewRun records a load of path and returns its run id.
func (db *DB) NewRun(ctx context.Context, path, headerComment string, channels int) (string, error) {
	runID := uuid.NewString()
	_, err := db.ExecContext(ctx, `
		INSERT INTO runs (run_id, file_path, header_comment, channel_count, source_format, created_unix)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, path, headerComment, channels, sourceFormat(path), time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return runID, nil
}

// RecordLoad records a loaded recording as a new run.
func (db *DB) RecordLoad(ctx context.Context, exp *loader.Experiment) (string, error) {
	return db.NewRun(ctx, exp.Path, exp.HeaderComment, len(exp.Measures))
}

// RecordCleaning stores the outcome of cleaning measure in run runID,
// replacing a previous record for the same channel.
func (db *DB) RecordCleaning(ctx context.Context, runID string, measure experiment.Measure, raw, cleaned *experiment.Store, omissions *cleaner.Omissions) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"phases", "omitted_ranges", "channel_cleanings"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE run_id = ? AND measure = ?", runID, measure); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO channel_cleanings (run_id, measure, points_before, points_after, omitted_points, removed_phases, created_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, measure, len(raw.Points), len(cleaned.Points), omissions.Count(),
		raw.Phases.Len()-cleaned.Phases.Len(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert cleaning: %w", err)
	}

	for _, r := range omissions.Ranges() {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO omitted_ranges (run_id, measure, range_start, range_end, point_count)
			VALUES (?, ?, ?, ?, ?)`,
			runID, measure, r.Min, r.Max, len(omissions.Points(r)),
		)
		if err != nil {
			return fmt.Errorf("insert omitted range %s: %w", r, err)
		}
	}

	for i, p := range cleaned.Phases.Phases() {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO phases (run_id, measure, tag, ordinal, range_start, range_end)
			VALUES (?, ?, ?, ?, ?, ?)`,
			runID, measure, p.Tag, i, p.Range.Min, p.Range.Max,
		)
		if err != nil {
			return fmt.Errorf("insert phase %s: %w", p.Tag, err)
		}
	}

	return tx.Commit()
}

const runColumns = `run_id, file_path, header_comment, channel_count, source_format, created_unix`

func scanRun(row interface{ Scan(...any) error }) (Run, error) {
	var (
		r       Run
		created int64
	)
	if err := row.Scan(&r.ID, &r.FilePath, &r.HeaderComment, &r.Channels, &r.SourceFormat, &created); err != nil {
		return Run{}, err
	}
	r.CreatedAt = time.Unix(created, 0).UTC()
	return r, nil
}

// Runs returns the most recent runs first, at most limit of them.
func (db *DB) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_unix DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Run returns run runID.
func (db *DB) Run(ctx context.Context, runID string) (Run, error) {
	r, err := scanRun(db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return r, err
}

// LatestRun returns the most recent run of path.
func (db *DB) LatestRun(ctx context.Context, path string) (Run, error) {
	r, err := scanRun(db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE file_path = ? ORDER BY created_unix DESC, rowid DESC LIMIT 1`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: no run of %s", ErrRunNotFound, path)
	}
	return r, err
}

// Cleanings returns the cleaned channels of run runID by measure name.
func (db *DB) Cleanings(ctx context.Context, runID string) ([]Cleaning, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, measure, points_before, points_after, omitted_points, removed_phases, created_unix
		FROM channel_cleanings WHERE run_id = ? ORDER BY measure`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cleanings := []Cleaning{}
	for rows.Next() {
		var (
			c       Cleaning
			created int64
		)
		if err := rows.Scan(&c.RunID, &c.Measure, &c.PointsBefore, &c.PointsAfter, &c.OmittedPoints, &c.RemovedPhases, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = time.Unix(created, 0).UTC()
		cleanings = append(cleanings, c)
	}
	return cleanings, rows.Err()
}

// OmittedRanges returns the omitted ranges recorded for measure, sorted by
// start.
func (db *DB) OmittedRanges(ctx context.Context, runID string, measure experiment.Measure) ([]OmittedRange, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT range_start, range_end, point_count
		FROM omitted_ranges WHERE run_id = ? AND measure = ?
		ORDER BY range_start, range_end`, runID, measure)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ranges := []OmittedRange{}
	for rows.Next() {
		var o OmittedRange
		if err := rows.Scan(&o.Range.Min, &o.Range.Max, &o.Points); err != nil {
			return nil, err
		}
		ranges = append(ranges, o)
	}
	return ranges, rows.Err()
}

// Phases returns the cleaned phases recorded for measure, in order.
func (db *DB) Phases(ctx context.Context, runID string, measure experiment.Measure) ([]experiment.Phase, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT tag, range_start, range_end
		FROM phases WHERE run_id = ? AND measure = ?
		ORDER BY ordinal`, runID, measure)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	phases := []experiment.Phase{}
	for rows.Next() {
		var p experiment.Phase
		if err := rows.Scan(&p.Tag, &p.Range.Min, &p.Range.Max); err != nil {
			return nil, err
		}
		phases = append(phases, p)
	}
	return phases, rows.Err()
}
