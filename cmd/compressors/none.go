package compressors

import "io"

// NoneCompressor passes data through; its only level is 0.
type NoneCompressor struct{}

func NewNoneCompressor() *NoneCompressor {
	return &NoneCompressor{}
}

func (c *NoneCompressor) Compress(data []byte, _ int) ([]byte, error) {
	return data, nil
}

func (c *NoneCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

func (c *NoneCompressor) Extension() string { return "" }
func (c *NoneCompressor) DefaultLevel() int { return 0 }
func (c *NoneCompressor) Levels() (int, int) { return 0, 0 }
