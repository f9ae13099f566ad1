// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package dimension

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression algorithm used for a stored chunk.
// The codec is recorded per chunk in the dimension index — values are
// persistence constants, changing them breaks existing dimensions.
type Codec uint8

const (
	// CodecNone indicates uncompressed data. Also the automatic
	// fallback for incompressible content (already-compressed media,
	// encrypted blobs) where compression adds CPU cost without
	// reducing size.
	CodecNone Codec = 0

	// CodecDeflate indicates DEFLATE compression at a configurable
	// level. The default codec: dependable ratios across mixed
	// content with a level knob when build time matters more than
	// size, or the other way around.
	CodecDeflate Codec = 1

	// CodecLZ4 indicates LZ4 block compression. Fast path for bulk
	// binary data (~1.5-2x ratio, multi-GB/s decode).
	CodecLZ4 Codec = 2

	// CodecZstd indicates zstd at its default level. Better ratios
	// for text-heavy content (source trees, JSON, logs) at moderate
	// CPU cost.
	CodecZstd Codec = 3
)

// DEFLATE compression levels. The level only applies to CodecDeflate;
// LZ4 is block-mode and zstd uses a shared encoder at its default
// level.
const (
	MinCompressionLevel     = 1
	MaxCompressionLevel     = 9
	DefaultCompressionLevel = 9
)

// String returns the human-readable name of a codec.
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecDeflate:
		return "deflate"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCodec parses a codec from its string representation.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "none":
		return CodecNone, nil
	case "deflate":
		return CodecDeflate, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZstd, nil
	default:
		return 0, fmt.Errorf("unknown codec: %q", name)
	}
}

// MarshalText implements encoding.TextMarshaler so codecs serialize
// by name in persisted documents.
func (c Codec) MarshalText() ([]byte, error) {
	switch c {
	case CodecNone, CodecDeflate, CodecLZ4, CodecZstd:
		return []byte(c.String()), nil
	default:
		return nil, fmt.Errorf("unknown codec: %d", uint8(c))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Codec) UnmarshalText(text []byte) error {
	parsed, err := ParseCodec(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Compress compresses a chunk with the requested codec, falling back
// to CodecNone when the output would not be smaller than the input.
// Returns the stored bytes and the codec actually used; callers must
// record the returned codec, not the requested one. The level only
// affects CodecDeflate; zero means DefaultCompressionLevel.
func Compress(data []byte, codec Codec, level int) ([]byte, Codec, error) {
	if len(data) == 0 {
		return data, CodecNone, nil
	}

	compressed, err := CompressChunk(data, codec, level)
	if err != nil {
		if IsIncompressible(err) {
			return data, CodecNone, nil
		}
		return nil, 0, err
	}

	return compressed, codec, nil
}

// CompressChunk compresses data using the specified codec without the
// incompressible fallback. For CodecNone, returns the input unchanged
// (no copy). Returns errIncompressible when the output would be at
// least as large as the input; most callers want [Compress] instead.
func CompressChunk(data []byte, codec Codec, level int) ([]byte, error) {
	switch codec {
	case CodecNone:
		return data, nil

	case CodecDeflate:
		return compressDeflate(data, level)

	case CodecLZ4:
		return compressLZ4(data)

	case CodecZstd:
		return compressZstd(data)

	default:
		return nil, fmt.Errorf("unsupported codec: %d", uint8(codec))
	}
}

// DecompressChunk decompresses data that was stored with the
// specified codec. The uncompressedSize must match the original data
// length exactly — this is verified and a mismatch returns an error.
func DecompressChunk(compressed []byte, codec Codec, uncompressedSize int) ([]byte, error) {
	switch codec {
	case CodecNone:
		if len(compressed) != uncompressedSize {
			return nil, fmt.Errorf("uncompressed chunk: size %d does not match expected %d",
				len(compressed), uncompressedSize)
		}
		return compressed, nil

	case CodecDeflate:
		return decompressDeflate(compressed, uncompressedSize)

	case CodecLZ4:
		return decompressLZ4(compressed, uncompressedSize)

	case CodecZstd:
		return decompressZstd(compressed, uncompressedSize)

	default:
		return nil, fmt.Errorf("unsupported codec: %d", uint8(codec))
	}
}

// DEFLATE compression: per-call writer because the level is a
// per-dimension configuration value.

func compressDeflate(data []byte, level int) ([]byte, error) {
	if level == 0 {
		level = DefaultCompressionLevel
	}
	if level < MinCompressionLevel || level > MaxCompressionLevel {
		return nil, fmt.Errorf("deflate level %d out of range [%d, %d]",
			level, MinCompressionLevel, MaxCompressionLevel)
	}

	var buffer bytes.Buffer
	writer, err := flate.NewWriter(&buffer, level)
	if err != nil {
		return nil, fmt.Errorf("deflate compress: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("deflate compress: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("deflate compress: %w", err)
	}

	if buffer.Len() >= len(data) {
		return nil, errIncompressible
	}
	return buffer.Bytes(), nil
}

func decompressDeflate(compressed []byte, uncompressedSize int) ([]byte, error) {
	reader := flate.NewReader(bytes.NewReader(compressed))
	defer reader.Close()

	result, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("deflate decompress: %w", err)
	}
	if len(result) != uncompressedSize {
		return nil, fmt.Errorf("deflate decompress: got %d bytes, expected %d", len(result), uncompressedSize)
	}
	return result, nil
}

// LZ4 compression: block-mode LZ4.

func compressLZ4(data []byte) ([]byte, error) {
	// CompressBlockBound returns the maximum compressed size.
	bound := lz4.CompressBlockBound(len(data))
	destination := make([]byte, bound)

	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}

	// CompressBlock returns 0 when it determines the data is
	// incompressible. We also check whether the compressed output
	// is actually smaller than the input — if not, compression is
	// not worthwhile.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}

	return destination[:written], nil
}

func decompressLZ4(compressed []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, uncompressedSize)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != uncompressedSize {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
	}
	return destination, nil
}

// Zstd compression: the library's default level, good ratio without
// excessive CPU.

// zstdEncoder and zstdDecoder are reused across calls to avoid
// repeated initialization overhead. zstd.Encoder and zstd.Decoder
// are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("dimension: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("dimension: zstd decoder initialization failed: " + err.Error())
	}
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, 0, uncompressedSize)
	result, err := zstdDecoder.DecodeAll(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != uncompressedSize {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), uncompressedSize)
	}
	return result, nil
}

// errIncompressible is returned by compression functions when the
// compressed output is not smaller than the input. The caller should
// fall back to CodecNone.
var errIncompressible = fmt.Errorf("data is incompressible")

// IsIncompressible returns true if the error indicates that data
// could not be compressed smaller than its original size.
func IsIncompressible(err error) bool {
	return err == errIncompressible
}
