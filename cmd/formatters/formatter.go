package formatters

import (
	"fmt"
	"io"
	"strings"

	"github.com/airframesio/epias-extractor/cmd/epias"
)

// Format names accepted by --raw-format.
const (
	FormatJSONL   = "jsonl"
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// Formatter serializes generation records for a raw dump.
type Formatter interface {
	// Format converts records to the target format
	Format(records []epias.Record) ([]byte, error)

	// Extension returns the file extension for this format (e.g., ".jsonl", ".csv", ".parquet")
	Extension() string

	// MIMEType returns the MIME type for this format
	MIMEType() string
}

// Reader reads a raw dump back into records.
type Reader interface {
	ReadAll() ([]epias.Record, error)
	Close() error
}

// GetFormatter returns the appropriate formatter based on the format string
func GetFormatter(format string) Formatter {
	return GetFormatterWithCompression(format, "")
}

// GetFormatterWithCompression returns the appropriate formatter with compression settings.
// For Parquet, this enables internal compression. For other formats, compression parameter is ignored.
func GetFormatterWithCompression(format string, compression string) Formatter {
	switch format {
	case FormatCSV:
		return NewCSVFormatter()
	case FormatParquet:
		if compression == "" {
			return NewParquetFormatter()
		}
		return NewParquetFormatterWithCompression(compression)
	default:
		return NewJSONLFormatter() // Default to JSONL
	}
}

// UsesInternalCompression returns true if the format handles compression internally
func UsesInternalCompression(format string) bool {
	return format == FormatParquet
}

// GetReader opens a reader for the given format. The reader closes r.
func GetReader(format string, r io.ReadCloser) (Reader, error) {
	switch format {
	case FormatJSONL:
		return NewJSONLReader(r), nil
	case FormatCSV:
		return NewCSVReader(r), nil
	case FormatParquet:
		return NewParquetReader(r)
	default:
		r.Close()
		return nil, fmt.Errorf("unsupported raw format: %s", format)
	}
}

// FormatFromPath detects the format of a dump from its file name, ignoring a
// compression suffix.
func FormatFromPath(path string) (string, bool) {
	name := strings.ToLower(path)
	for _, suffix := range []string{".zst", ".lz4", ".gz"} {
		name = strings.TrimSuffix(name, suffix)
	}
	switch {
	case strings.HasSuffix(name, ".jsonl"), strings.HasSuffix(name, ".ndjson"):
		return FormatJSONL, true
	case strings.HasSuffix(name, ".csv"):
		return FormatCSV, true
	case strings.HasSuffix(name, ".parquet"):
		return FormatParquet, true
	}
	return "", false
}
