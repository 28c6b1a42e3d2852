package loader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// rowSource yields the rows of a recording one at a time, with their 1-based
// line number, and returns io.EOF once exhausted.
type rowSource interface {
	Next() ([]string, int, error)
	Close() error
}

// tsvRows reads tab-separated text. Quotes are taken literally since the
// acquisition software never quotes fields.
type tsvRows struct {
	r      *csv.Reader
	closer io.Closer
}

func newTSVRows(rc io.ReadCloser) *tsvRows {
	r := csv.NewReader(rc)
	r.Comma = '\t'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true
	return &tsvRows{r: r, closer: rc}
}

func (t *tsvRows) Next() ([]string, int, error) {
	row, err := t.r.Read()
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return nil, 0, &ParseError{Line: perr.Line, Column: perr.Column, Err: perr.Err}
		}
		return nil, 0, err
	}
	line, _ := t.r.FieldPos(0)
	return row, line, nil
}

func (t *tsvRows) Close() error {
	return t.closer.Close()
}

// sheetRows reads the first sheet of a workbook.
type sheetRows struct {
	f    *excelize.File
	rows *excelize.Rows
	line int
}

func newSheetRows(r io.Reader) (*sheetRows, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, errors.New("workbook has no sheet")
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return &sheetRows{f: f, rows: rows}, nil
}

func (s *sheetRows) Next() ([]string, int, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return nil, 0, err
		}
		return nil, 0, io.EOF
	}
	s.line++
	row, err := s.rows.Columns()
	return row, s.line, err
}

func (s *sheetRows) Close() error {
	err := s.rows.Close()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}
