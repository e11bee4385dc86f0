package formatters

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/airframesio/epias-extractor/cmd/epias"
)

// JSONLFormatter writes newline-delimited JSON, one record per line.
type JSONLFormatter struct{}

func NewJSONLFormatter() *JSONLFormatter {
	return &JSONLFormatter{}
}

// Format writes one JSON object per line, keys in encoding/json's sorted order.
func (f *JSONLFormatter) Format(records []epias.Record) ([]byte, error) {
	var out bytes.Buffer
	enc := json.NewEncoder(&out)
	enc.SetEscapeHTML(false)
	for i, record := range records {
		if err := enc.Encode(record); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return out.Bytes(), nil
}

func (f *JSONLFormatter) Extension() string { return ".jsonl" }
func (f *JSONLFormatter) MIMEType() string { return "application/x-ndjson" }
