// Package export turns an extraction result into an xlsx workbook with a raw
// data sheet, an optional plant list and summary sheets.
package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/airframesio/epias-extractor/cmd/epias"
)

const (
	SheetData    = "Generation_Data"
	SheetPlants  = "Power_Plants"
	SheetSummary = "Summary"
	SheetDaily   = "Daily_Summary"
)

// ErrNoRecords is returned when there is nothing to export.
var ErrNoRecords = errors.New("no records to export")

// Error wraps a failure while writing one sheet.
type Error struct {
	Sheet string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to write %s sheet: %v", e.Sheet, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Options controls the optional parts of the workbook.
type Options struct {
	// Plants fills the Power_Plants sheet when non-empty.
	Plants []epias.Plant
	// Username is reported on the summary sheet.
	Username string
	// CreatedAt defaults to time.Now.
	CreatedAt time.Time
}

// Build creates the workbook in memory. The caller closes the returned file.
func Build(records []epias.Record, opts Options) (*excelize.File, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	if opts.CreatedAt.IsZero() {
		opts.CreatedAt = time.Now()
	}

	f := excelize.NewFile()
	styles, err := newStyles(f)
	if err != nil {
		f.Close()
		return nil, &Error{Sheet: SheetData, Err: err}
	}

	if err := f.SetSheetName("Sheet1", SheetData); err != nil {
		f.Close()
		return nil, &Error{Sheet: SheetData, Err: err}
	}

	columns := epias.Columns(records)
	if err := writeData(f, styles, columns, records); err != nil {
		f.Close()
		return nil, &Error{Sheet: SheetData, Err: err}
	}

	if len(opts.Plants) > 0 {
		if err := writePlants(f, styles, opts.Plants); err != nil {
			f.Close()
			return nil, &Error{Sheet: SheetPlants, Err: err}
		}
	}

	summary := Summarize(records, opts.Username, opts.CreatedAt)
	if err := writeSummary(f, styles, summary); err != nil {
		f.Close()
		return nil, &Error{Sheet: SheetSummary, Err: err}
	}

	if days := DailyTotals(records); days != nil {
		if err := writeDaily(f, styles, days); err != nil {
			f.Close()
			return nil, &Error{Sheet: SheetDaily, Err: err}
		}
	}

	f.SetActiveSheet(0)
	return f, nil
}

// Write builds the workbook and writes it to w.
func Write(w io.Writer, records []epias.Record, opts Options) error {
	f, err := Build(records, opts)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// WriteFile builds the workbook and saves it at path, creating parent
// directories.
func WriteFile(path string, records []epias.Record, opts Options) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := Build(records, opts)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

// DefaultFilename returns epias_generation_<timestamp>.xlsx.
func DefaultFilename(now time.Time) string {
	return fmt.Sprintf("epias_generation_%s.xlsx", now.Format("20060102_150405"))
}
