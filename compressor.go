package zarr3

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compressor selects the optional per-chunk compression codec applied inside
// shards. The default is CompressorNone: chunk payloads are raw bytes.
type Compressor int

const (
	CompressorNone Compressor = iota
	CompressorZstd
	CompressorGzip
)

const (
	zstdLevel = 3
	gzipLevel = 5
)

func (c Compressor) String() string {
	switch c {
	case CompressorZstd:
		return "zstd"
	case CompressorGzip:
		return "gzip"
	default:
		return "none"
	}
}

// codecName is the Zarr v3 codec identifier, or "" for no compression.
func (c Compressor) codecName() string {
	if c == CompressorNone {
		return ""
	}
	return c.String()
}

// compressorForCodec maps a Zarr v3 codec name back to a Compressor.
func compressorForCodec(name string) (Compressor, bool) {
	switch name {
	case "zstd":
		return CompressorZstd, true
	case "gzip":
		return CompressorGzip, true
	default:
		return CompressorNone, false
	}
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(zstdLevel)))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
	return zstdEnc, zstdDec, zstdErr
}

// encode compresses one chunk payload. CompressorNone returns p unchanged.
func (c Compressor) encode(p []byte) ([]byte, error) {
	switch c {
	case CompressorNone:
		return p, nil
	case CompressorZstd:
		enc, _, err := zstdCodec()
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(p, nil), nil
	case CompressorGzip:
		var buf bytes.Buffer
		zw, err := gzip.NewWriterLevel(&buf, gzipLevel)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(p); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compressor: %d", c)
	}
}

// decode decompresses one chunk payload.
func (c Compressor) decode(p []byte) ([]byte, error) {
	switch c {
	case CompressorNone:
		return p, nil
	case CompressorZstd:
		_, dec, err := zstdCodec()
		if err != nil {
			return nil, err
		}
		return dec.DecodeAll(p, nil)
	case CompressorGzip:
		zr, err := gzip.NewReader(bytes.NewReader(p))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return nil, fmt.Errorf("unsupported compressor: %d", c)
	}
}
