package compressors

import (
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// lz4Levels maps levels 1-9 onto the library's level constants.
var lz4Levels = []lz4.CompressionLevel{
	lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4, lz4.Level5,
	lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

// LZ4Compressor writes LZ4 frames. Out-of-range levels keep the fast default.
type LZ4Compressor struct{}

func NewLZ4Compressor() *LZ4Compressor {
	return &LZ4Compressor{}
}

func (c *LZ4Compressor) Compress(data []byte, level int) ([]byte, error) {
	return encode(data, func(w io.Writer) (io.WriteCloser, error) {
		lw := lz4.NewWriter(w)
		if level >= 1 && level <= len(lz4Levels) {
			if err := lw.Apply(lz4.CompressionLevelOption(lz4Levels[level-1])); err != nil {
				return nil, fmt.Errorf("failed to set lz4 level %d: %w", level, err)
			}
		}
		return lw, nil
	})
}

func (c *LZ4Compressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

func (c *LZ4Compressor) Extension() string { return ".lz4" }
func (c *LZ4Compressor) DefaultLevel() int { return 1 }
func (c *LZ4Compressor) Levels() (int, int) { return 1, 9 }
