// Package compressors wraps the codecs used for raw record dumps. Dumps are
// built in memory, so compression works on whole buffers while decompression
// streams from a file or an object body.
package compressors

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrUnsupportedCompression is returned when an unsupported compression type is requested
var ErrUnsupportedCompression = errors.New("unsupported compression type")

// Compressor compresses raw dumps and reads them back.
type Compressor interface {
	Compress(data []byte, level int) ([]byte, error)

	// NewReader decompresses a stream produced by Compress
	NewReader(r io.Reader) (io.ReadCloser, error)

	// Extension is the file suffix, including the dot; empty for none
	Extension() string

	DefaultLevel() int

	// Levels is the accepted level range, inclusive
	Levels() (lo, hi int)
}

// codecs lists every compressor by its configuration name, in the order
// FromPath tries their suffixes.
var codecs = []struct {
	name string
	ext  string
	make func() Compressor
}{
	{"zstd", ".zst", func() Compressor { return NewZstdCompressor() }},
	{"lz4", ".lz4", func() Compressor { return NewLZ4Compressor() }},
	{"gzip", ".gz", func() Compressor { return NewGzipCompressor() }},
}

// Names returns the accepted compression names, "none" included.
func Names() []string {
	names := make([]string, 0, len(codecs)+1)
	for _, c := range codecs {
		names = append(names, c.name)
	}
	return append(names, "none")
}

// GetCompressor returns the compressor registered under compression. "none"
// and the empty string select the pass-through compressor.
func GetCompressor(compression string) (Compressor, error) {
	if compression == "" || compression == "none" {
		return NewNoneCompressor(), nil
	}
	for _, c := range codecs {
		if c.name == compression {
			return c.make(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, compression)
}

// FromPath picks the compressor matching a file name's suffix. Names without a
// known suffix are treated as uncompressed.
func FromPath(path string) Compressor {
	lower := strings.ToLower(path)
	for _, c := range codecs {
		if strings.HasSuffix(lower, c.ext) {
			return c.make()
		}
	}
	return NewNoneCompressor()
}

// ValidLevel reports whether level is accepted by the named compressor.
func ValidLevel(compression string, level int) bool {
	c, err := GetCompressor(compression)
	if err != nil {
		return false
	}
	lo, hi := c.Levels()
	return level >= lo && level <= hi
}

// encode runs data through a writer built by open and returns what it wrote.
func encode(data []byte, open func(io.Writer) (io.WriteCloser, error)) ([]byte, error) {
	var buf bytes.Buffer
	w, err := open(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to compress data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush compressed data: %w", err)
	}
	return buf.Bytes(), nil
}
