package formatters

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/airframesio/epias-extractor/cmd/epias"
)

// CSVReader reads CSV format with a header row
type CSVReader struct {
	reader *csv.Reader
	closer io.Closer
}

// NewCSVReader creates a new CSV reader that closes r when done
func NewCSVReader(r io.ReadCloser) *CSVReader {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	return &CSVReader{reader: reader, closer: r}
}

// ReadAll reads all records. Empty cells are left out of the record so a
// row without a field reads back the same as it was written.
func (r *CSVReader) ReadAll() ([]epias.Record, error) {
	headers, err := r.reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	var records []epias.Record
	for {
		row, err := r.reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}

		record := make(epias.Record, len(headers))
		for i, value := range row {
			if i >= len(headers) {
				break // Skip extra columns
			}
			if value == "" {
				continue
			}
			record[headers[i]] = convertValue(value)
		}
		records = append(records, record)
	}

	return records, nil
}

// convertValue restores numbers and booleans; timestamps stay strings, as the
// platform sends them.
func convertValue(value string) any {
	if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
		return floatVal
	}
	if boolVal, err := strconv.ParseBool(value); err == nil {
		return boolVal
	}
	return value
}

// Close closes the underlying reader
func (r *CSVReader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
