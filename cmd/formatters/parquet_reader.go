package formatters

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/airframesio/epias-extractor/cmd/epias"
)

// ParquetReader reads Parquet format
type ParquetReader struct {
	file *parquet.File
}

// NewParquetReader loads the whole dump, since parquet needs io.ReaderAt, and
// closes r.
func NewParquetReader(r io.ReadCloser) (*ParquetReader, error) {
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet data: %w", err)
	}

	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}

	return &ParquetReader{file: file}, nil
}

// ReadAll reads every row group. Null values are left out of the record.
func (r *ParquetReader) ReadAll() ([]epias.Record, error) {
	columnPaths := r.file.Schema().Columns()
	columnNames := make([]string, len(columnPaths))
	for i, path := range columnPaths {
		if len(path) > 0 {
			columnNames[i] = path[len(path)-1]
		}
	}

	var records []epias.Record
	for _, rowGroup := range r.file.RowGroups() {
		groupRecords, err := readRowGroup(rowGroup, columnNames)
		if err != nil {
			return nil, err
		}
		records = append(records, groupRecords...)
	}
	return records, nil
}

func readRowGroup(rowGroup parquet.RowGroup, columnNames []string) ([]epias.Record, error) {
	rows := rowGroup.Rows()
	defer rows.Close()

	var records []epias.Record
	batch := make([]parquet.Row, 1000)
	for {
		n, err := rows.ReadRows(batch)
		for _, row := range batch[:n] {
			record := make(epias.Record, len(columnNames))
			for _, val := range row {
				col := val.Column()
				if col < 0 || col >= len(columnNames) || val.IsNull() {
					continue
				}
				record[columnNames[col]] = parquetValue(val)
			}
			records = append(records, record)
		}
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read parquet rows: %w", err)
		}
		if n == 0 {
			return records, nil
		}
	}
}

func parquetValue(val parquet.Value) any {
	switch val.Kind() {
	case parquet.Boolean:
		return val.Boolean()
	case parquet.Int32:
		return int64(val.Int32())
	case parquet.Int64:
		return val.Int64()
	case parquet.Float:
		return float64(val.Float())
	case parquet.Double:
		return val.Double()
	default:
		return string(val.ByteArray())
	}
}

// Close is a no-op; the source was consumed when the reader was created.
func (r *ParquetReader) Close() error {
	return nil
}
