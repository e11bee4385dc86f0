package compressors

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// ZstdCompressor writes Zstandard frames. Levels follow the zstd command line
// (1-22) and are folded onto the encoder's four speed presets.
type ZstdCompressor struct {
	concurrency int
}

func NewZstdCompressor() *ZstdCompressor {
	return &ZstdCompressor{concurrency: 2}
}

func (c *ZstdCompressor) Compress(data []byte, level int) ([]byte, error) {
	return encode(data, func(w io.Writer) (io.WriteCloser, error) {
		enc, err := zstd.NewWriter(w,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
			zstd.WithEncoderConcurrency(c.concurrency))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		return enc, nil
	})
}

func (c *ZstdCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(c.concurrency))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return dec.IOReadCloser(), nil
}

func (c *ZstdCompressor) Extension() string { return ".zst" }
func (c *ZstdCompressor) DefaultLevel() int { return 3 }
func (c *ZstdCompressor) Levels() (int, int) { return 1, 22 }
