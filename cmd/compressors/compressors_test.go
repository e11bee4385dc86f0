package compressors

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressorsRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat(`{"date":"2025-05-01T00:00:00+03:00","total":1234.5}`+"\n", 200))

	for _, name := range []string{"zstd", "lz4", "gzip", "none"} {
		t.Run(name, func(t *testing.T) {
			c, err := GetCompressor(name)
			require.NoError(t, err)

			compressed, err := c.Compress(payload, c.DefaultLevel())
			require.NoError(t, err)
			if name != "none" {
				assert.Less(t, len(compressed), len(payload))
			}

			reader, err := c.NewReader(bytes.NewReader(compressed))
			require.NoError(t, err)
			defer reader.Close()

			restored, err := io.ReadAll(reader)
			require.NoError(t, err)
			assert.Equal(t, payload, restored)
		})
	}
}

func TestLZ4Levels(t *testing.T) {
	c := NewLZ4Compressor()
	for level := 0; level <= 10; level++ {
		_, err := c.Compress([]byte("generation data"), level)
		assert.NoError(t, err, "level %d", level)
	}
}

func TestGetCompressorUnsupported(t *testing.T) {
	_, err := GetCompressor("brotli")
	assert.ErrorIs(t, err, ErrUnsupportedCompression)
}

func TestFromPath(t *testing.T) {
	tests := map[string]string{
		"dump.jsonl.zst": ".zst",
		"dump.csv.LZ4":   ".lz4",
		"dump.jsonl.gz":  ".gz",
		"dump.parquet":   "",
	}
	for path, ext := range tests {
		assert.Equal(t, ext, FromPath(path).Extension(), path)
	}
}

func TestValidLevel(t *testing.T) {
	tests := []struct {
		compression string
		level       int
		want        bool
	}{
		{"zstd", 1, true},
		{"zstd", 22, true},
		{"zstd", 23, false},
		{"lz4", 9, true},
		{"lz4", 0, false},
		{"gzip", 6, true},
		{"gzip", 10, false},
		{"none", 0, true},
		{"none", 1, false},
		{"brotli", 1, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidLevel(tt.compression, tt.level), "%s level %d", tt.compression, tt.level)
	}
	assert.Equal(t, []string{"zstd", "lz4", "gzip", "none"}, Names())
}
