package compressors

import (
	"compress/gzip"
	"fmt"
	"io"
)

type GzipCompressor struct{}

func NewGzipCompressor() *GzipCompressor {
	return &GzipCompressor{}
}

// Compress uses gzip.DefaultCompression for levels outside 1-9.
func (c *GzipCompressor) Compress(data []byte, level int) ([]byte, error) {
	if lo, hi := c.Levels(); level < lo || level > hi {
		level = gzip.DefaultCompression
	}
	return encode(data, func(w io.Writer) (io.WriteCloser, error) {
		gz, err := gzip.NewWriterLevel(w, level)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		return gz, nil
	})
}

func (c *GzipCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	return gz, nil
}

func (c *GzipCompressor) Extension() string { return ".gz" }
func (c *GzipCompressor) DefaultLevel() int { return 6 }
func (c *GzipCompressor) Levels() (int, int) { return 1, 9 }
