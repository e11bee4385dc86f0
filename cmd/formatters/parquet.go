package formatters

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/airframesio/epias-extractor/cmd/epias"
)

// ParquetFormatter handles Parquet format output
type ParquetFormatter struct {
	compression string
}

// NewParquetFormatter creates a new Parquet formatter
func NewParquetFormatter() *ParquetFormatter {
	return &ParquetFormatter{
		compression: "snappy", // Default Parquet compression
	}
}

// NewParquetFormatterWithCompression creates a Parquet formatter with specified compression
func NewParquetFormatterWithCompression(compression string) *ParquetFormatter {
	return &ParquetFormatter{
		compression: compression,
	}
}

func (f *ParquetFormatter) codec() parquet.WriterOption {
	switch f.compression {
	case "zstd":
		return parquet.Compression(&parquet.Zstd)
	case "gzip":
		return parquet.Compression(&parquet.Gzip)
	case "lz4":
		return parquet.Compression(&parquet.Lz4Raw)
	case "none":
		return parquet.Compression(&parquet.Uncompressed)
	default:
		return parquet.Compression(&parquet.Snappy)
	}
}

// Format converts records to Parquet format
func (f *ParquetFormatter) Format(records []epias.Record) ([]byte, error) {
	if len(records) == 0 {
		return []byte{}, nil
	}

	var buffer bytes.Buffer
	schema := buildSchema(records)

	writer := parquet.NewGenericWriter[map[string]any](&buffer, schema, f.codec())

	rows := make([]map[string]any, len(records))
	for i, record := range records {
		rows[i] = normalizeRow(record, schema)
	}

	if _, err := writer.Write(rows); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write parquet rows: %w", err)
	}

	// Close writer to flush data
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close parquet writer: %w", err)
	}

	return buffer.Bytes(), nil
}

// buildSchema creates an all-optional schema from the union of record keys.
// Each column takes the type of its first non-nil value; numbers decoded from
// JSON are doubles.
func buildSchema(records []epias.Record) *parquet.Schema {
	fields := make(parquet.Group)
	for _, col := range epias.Columns(records) {
		var sample any
		for _, record := range records {
			if value := record[col]; value != nil {
				sample = value
				break
			}
		}

		switch sample.(type) {
		case bool:
			fields[col] = parquet.Optional(parquet.Leaf(parquet.BooleanType))
		case int, int8, int16, int32, int64:
			fields[col] = parquet.Optional(parquet.Leaf(parquet.Int64Type))
		case float32, float64:
			fields[col] = parquet.Optional(parquet.Leaf(parquet.DoubleType))
		default:
			fields[col] = parquet.Optional(parquet.String())
		}
	}
	return parquet.NewSchema("epias_generation", fields)
}

// normalizeRow coerces values to their column type so mixed rows still fit
// the schema; values that cannot be coerced become null.
func normalizeRow(record epias.Record, schema *parquet.Schema) map[string]any {
	row := make(map[string]any, len(schema.Fields()))
	for _, field := range schema.Fields() {
		value, ok := record[field.Name()]
		if !ok || value == nil {
			row[field.Name()] = nil
			continue
		}
		switch field.Type().Kind() {
		case parquet.Boolean:
			b, isBool := value.(bool)
			row[field.Name()] = nilUnless(isBool, b)
		case parquet.Int64:
			n, isInt := toInt64(value)
			row[field.Name()] = nilUnless(isInt, n)
		case parquet.Double:
			n, isFloat := toFloat64(value)
			row[field.Name()] = nilUnless(isFloat, n)
		default:
			if s, isString := value.(string); isString {
				row[field.Name()] = s
			} else {
				row[field.Name()] = fmt.Sprintf("%v", value)
			}
		}
	}
	return row
}

func nilUnless(ok bool, v any) any {
	if !ok {
		return nil
	}
	return v
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), n == float64(int64(n))
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// Extension returns the file extension for Parquet files
func (f *ParquetFormatter) Extension() string {
	return ".parquet"
}

// MIMEType returns the MIME type for Parquet
func (f *ParquetFormatter) MIMEType() string {
	return "application/vnd.apache.parquet"
}
