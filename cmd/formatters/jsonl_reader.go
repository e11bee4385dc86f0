package formatters

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/airframesio/epias-extractor/cmd/epias"
)

const maxJSONLLine = 4 << 20

// JSONLReader reads JSONL format (one JSON object per line)
type JSONLReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
}

// NewJSONLReader creates a new JSONL reader that closes r when done
func NewJSONLReader(r io.ReadCloser) *JSONLReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxJSONLLine)
	return &JSONLReader{scanner: scanner, closer: r}
}

// ReadAll reads all remaining records from the JSONL stream
func (r *JSONLReader) ReadAll() ([]epias.Record, error) {
	var records []epias.Record

	line := 0
	for r.scanner.Scan() {
		line++
		data := bytes.TrimSpace(r.scanner.Bytes())
		if len(data) == 0 {
			continue // Skip empty lines
		}

		var record epias.Record
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("failed to parse JSON line %d: %w", line, err)
		}
		records = append(records, record)
	}

	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error: %w", err)
	}

	return records, nil
}

// Close closes the underlying reader
func (r *JSONLReader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
