//go:build linux && (amd64 || arm64)

package snapshot

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// CompressionType defines the compression algorithm applied to images
type CompressionType uint32

const (
	// NoCompression stores the image as-is
	NoCompression CompressionType = iota
	// ZstdCompression applies Zstandard
	ZstdCompression
)

var (
	// DefaultCompression is used by DefaultImageOptions
	DefaultCompression = ZstdCompression

	// encoder and decoder for zstd are reusable and thread-safe
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	// DecodeAll never grows past the capacity it is handed, so a payload
	// cannot inflate beyond Size.
	zstdDecoder, _ = zstd.NewReader(nil,
		zstd.WithDecodeAllCapLimit(true),
		zstd.WithDecoderMaxMemory(maxPayload),
	)
)

func (c CompressionType) String() string {
	switch c {
	case NoCompression:
		return "none"
	case ZstdCompression:
		return "zstd"
	default:
		return "unknown"
	}
}

// compress encodes data with the given algorithm
func compress(data []byte, c CompressionType) []byte {
	if c == NoCompression {
		return data
	}
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2))
}

// decompress reverses compress
func decompress(data []byte, c CompressionType) ([]byte, error) {
	if c == NoCompression {
		return data, nil
	}
	img, err := zstdDecoder.DecodeAll(data, make([]byte, 0, Size))
	switch {
	case errors.Is(err, zstd.ErrDecoderSizeExceeded),
		errors.Is(err, zstd.ErrWindowSizeExceeded),
		errors.Is(err, zstd.ErrFrameSizeExceeded):
		return nil, fmt.Errorf("%w: payload inflates past %d bytes", ErrImageSize, Size)
	}
	return img, err
}
