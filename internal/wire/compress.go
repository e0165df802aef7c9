package wire

import (
	"github.com/golang/snappy"
)

// Compressor compresses outbound frame bodies and undoes inbound ones.
// The algorithm name is what STARTUP advertises in its COMPRESSION option.
type Compressor interface {
	Name() string
	Compress(src []byte) []byte
	Decompress(src []byte) ([]byte, error)
}

// SnappyCompressor implements the "snappy" frame body compression the
// server negotiates via STARTUP.
type SnappyCompressor struct{}

func (SnappyCompressor) Name() string { return "snappy" }

func (SnappyCompressor) Compress(src []byte) []byte {
	return snappy.Encode(nil, src)
}

func (SnappyCompressor) Decompress(src []byte) ([]byte, error) {
	return snappy.Decode(nil, src)
}
