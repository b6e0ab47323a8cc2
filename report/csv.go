// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

// Package report persists host metric rows produced by wfsim.Project.
//
// The primary sink is an append-only CSV file shared by every run of an
// experiment, possibly by several processes at once. Appends take an
// exclusive advisory lock on the file for the whole check-header-then-write
// sequence, so the header is written exactly once per file no matter how many
// writers race on an empty file.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/petenewcomb/wfsim"
)

type constError string

func (e constError) Error() string {
	return string(e)
}

// ErrHeaderMismatch is returned when appending to a file whose existing
// header differs from the writer's column set.
const ErrHeaderMismatch = constError("report header does not match column set")

// CSVWriter appends rows to a CSV file.
type CSVWriter struct {
	Path    string
	Columns []wfsim.Column
	Format  wfsim.CellFormat
}

// NewCSVWriter returns a writer for path. A nil columns slice selects
// wfsim.ExtendedColumns.
func NewCSVWriter(path string, columns []wfsim.Column, format wfsim.CellFormat) *CSVWriter {
	if columns == nil {
		columns = wfsim.ExtendedColumns
	}
	return &CSVWriter{Path: path, Columns: columns, Format: format}
}

// EnsureHeader creates the file if needed and writes the header if the file
// is empty. Appending does this implicitly; calling it up front lets a sweep
// initialize a shared file before any run starts.
func (w *CSVWriter) EnsureHeader() error {
	return w.withLockedFile(func(cw *csv.Writer) error {
		return nil
	})
}

// Append writes one line per row, preceded by the header if the file was
// empty when it was opened. Rows are never deduplicated.
func (w *CSVWriter) Append(rows []wfsim.HostMetricRow) error {
	return w.withLockedFile(func(cw *csv.Writer) error {
		for i := range rows {
			if err := cw.Write(wfsim.Cells(w.Columns, &rows[i], w.Format)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *CSVWriter) withLockedFile(fn func(cw *csv.Writer) error) (err error) {
	f, err := os.OpenFile(w.Path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("opening report: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing report: %w", cerr)
		}
	}()

	if err := lockFile(f); err != nil {
		return fmt.Errorf("locking report %s: %w", w.Path, err)
	}
	defer func() {
		if uerr := unlockFile(f); uerr != nil && err == nil {
			err = fmt.Errorf("unlocking report %s: %w", w.Path, uerr)
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("inspecting report %s: %w", w.Path, err)
	}

	headers := wfsim.Headers(w.Columns)
	cw := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := cw.Write(headers); err != nil {
			return fmt.Errorf("writing report header: %w", err)
		}
	} else if err := checkHeader(f, info.Size(), headers); err != nil {
		return fmt.Errorf("%s: %w", w.Path, err)
	}

	if err := fn(cw); err != nil {
		return fmt.Errorf("writing report rows: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing report: %w", err)
	}
	return nil
}

func checkHeader(f *os.File, size int64, want []string) error {
	r := csv.NewReader(io.NewSectionReader(f, 0, size))
	r.FieldsPerRecord = -1
	got, err := r.Read()
	if err != nil {
		return fmt.Errorf("reading existing header: %w", err)
	}
	if !slices.Equal(got, want) {
		return fmt.Errorf("%w: file has %q", ErrHeaderMismatch, got)
	}
	return nil
}
