package archive

import (
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionType is the codec applied to an entry payload.
type CompressionType string

const (
	CompressionNone CompressionType = "none"
	CompressionGzip CompressionType = "gzip"
	CompressionLZ4  CompressionType = "lz4"
	CompressionZstd CompressionType = "zstd"
)

// AllCompressionTypes returns all valid compression types.
func AllCompressionTypes() []CompressionType {
	return []CompressionType{
		CompressionNone,
		CompressionGzip,
		CompressionLZ4,
		CompressionZstd,
	}
}

// IsValid returns true if the compression type is recognized.
func (c CompressionType) IsValid() bool {
	for _, valid := range AllCompressionTypes() {
		if c == valid {
			return true
		}
	}
	return false
}

func (c CompressionType) String() string {
	return string(c)
}

// ParseCompression parses a compression name. Empty means lz4.
func ParseCompression(s string) (CompressionType, error) {
	if s == "" {
		return CompressionLZ4, nil
	}
	c := CompressionType(s)
	if !c.IsValid() {
		return "", fmt.Errorf("invalid compression type %q (valid: none, gzip, lz4, zstd)", s)
	}
	return c, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// compressor wraps w with the codec. Close flushes the codec, not w.
func compressor(c CompressionType, w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CompressionNone, "":
		return nopWriteCloser{w}, nil
	case CompressionGzip:
		return gzip.NewWriter(w), nil
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	case CompressionZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		return zw, nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", c)
	}
}

type zstdReadCloser struct{ *zstd.Decoder }

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}

// decompressor wraps r with the codec's reader.
func decompressor(c CompressionType, r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CompressionNone, "":
		return io.NopCloser(r), nil
	case CompressionGzip:
		return gzip.NewReader(r)
	case CompressionLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return zstdReadCloser{zr}, nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", c)
	}
}
