// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package dimension

// Chunk size bounds. The chunk size is a per-dimension configuration
// value, persisted in the dimension's metadata; changing it on an
// existing dimension only affects newly written entries, because
// chunks are addressed by content rather than by position.
const (
	// DefaultChunkSize is the chunk size used when a dimension's
	// configuration does not specify one.
	DefaultChunkSize = 1 << 20 // 1 MiB

	// MinChunkSize is the smallest configurable chunk size.
	MinChunkSize = 4 << 10 // 4 KiB

	// MaxChunkSize is the largest configurable chunk size.
	MaxChunkSize = 64 << 20 // 64 MiB
)

// Chunker splits input data into fixed-size segments. Create one with
// [NewChunker] and call [Chunker.Next] repeatedly; every segment is
// exactly the configured size except the final one, which holds
// whatever remains. Empty input yields no segments.
type Chunker struct {
	data     []byte
	size     int
	position int
}

// NewChunker creates a chunker over the given data. Sizes outside the
// configurable bounds fall back to [DefaultChunkSize]. The data slice
// is not copied — the caller must not modify it while iterating.
func NewChunker(data []byte, size int) *Chunker {
	if size < MinChunkSize || size > MaxChunkSize {
		size = DefaultChunkSize
	}
	return &Chunker{data: data, size: size}
}

// Next returns the next segment, or nil when all input has been
// consumed. The returned slice aliases the original input buffer and
// is only valid while that buffer is unmodified.
func (c *Chunker) Next() []byte {
	if c.position >= len(c.data) {
		return nil
	}

	end := c.position + c.size
	if end > len(c.data) {
		end = len(c.data)
	}

	segment := c.data[c.position:end]
	c.position = end
	return segment
}

// Split is a convenience function that splits the entire input and
// returns all segments at once.
func Split(data []byte, size int) [][]byte {
	chunker := NewChunker(data, size)
	var segments [][]byte

	for {
		segment := chunker.Next()
		if segment == nil {
			break
		}
		segments = append(segments, segment)
	}

	return segments
}
