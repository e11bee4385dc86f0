package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/airframesio/epias-extractor/cmd/epias"
)

const (
	DateLayout = "2006-01-02"

	DefaultChunkDays = 15
	MaxChunkDays     = 90
)

var (
	ErrInvalidChunkDays = errors.New("chunk days must be positive")
	ErrInvalidRange     = errors.New("end date must not be before start date")
)

// DateRange is a pair of calendar dates at midnight in the platform's zone.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateRange truncates both ends to midnight in epias.Location.
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: Midnight(start), End: Midnight(end)}
	if r.End.Before(r.Start) {
		return DateRange{}, fmt.Errorf("%w: %s > %s", ErrInvalidRange,
			r.Start.Format(DateLayout), r.End.Format(DateLayout))
	}
	return r, nil
}

// ParseDateRange parses two YYYY-MM-DD dates.
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := ParseDate(start)
	if err != nil {
		return DateRange{}, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return DateRange{}, err
	}
	return NewDateRange(s, e)
}

// ParseDate parses a YYYY-MM-DD date at midnight in epias.Location.
func ParseDate(value string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, value, epias.Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", value, err)
	}
	return t, nil
}

// Midnight returns the start of t's calendar day in epias.Location.
func Midnight(t time.Time) time.Time {
	local := t.In(epias.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, epias.Location)
}

// Days returns the number of days between Start and End.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours() / 24)
}

func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + " - " + r.End.Format(DateLayout)
}

// Chunk is one bounded sub-range of a job's date range.
type Chunk struct {
	Index int       `json:"index"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Key identifies the chunk by its boundaries.
func (c Chunk) Key() string {
	return c.Start.Format(DateLayout) + "/" + c.End.Format(DateLayout)
}

// Plan splits [start, end] into contiguous chunks of at most chunkDays days.
// The last chunk is clamped to end. start == end yields no chunks.
func Plan(start, end time.Time, chunkDays int) ([]Chunk, error) {
	if chunkDays <= 0 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidChunkDays, chunkDays)
	}
	if end.Before(start) {
		return nil, ErrInvalidRange
	}

	var chunks []Chunk
	for cursor := start; cursor.Before(end); {
		next := cursor.AddDate(0, 0, chunkDays)
		if next.After(end) {
			next = end
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Start: cursor, End: next})
		cursor = next
	}
	return chunks, nil
}
