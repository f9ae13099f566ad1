// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package dimension

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/pocket-foundation/pocket/lib/clock"
	"github.com/pocket-foundation/pocket/lib/secret"
)

// ChunkStoreOptions configures a chunk store. The zero value is
// usable: default codec, default level, deduplication on, plaintext.
type ChunkStoreOptions struct {
	// Codec is the compression codec requested for new chunks. The
	// store falls back to CodecNone per chunk when compression does
	// not shrink the payload.
	Codec Codec

	// Level is the DEFLATE compression level. Zero means
	// DefaultCompressionLevel. Ignored by other codecs.
	Level int

	// DisableDedup turns off content deduplication: every Put
	// recompresses and rewrites, even for known hashes.
	DisableDedup bool

	// Key is the dimension master key. Nil means plaintext storage.
	// The store borrows the key; it never closes it.
	Key *secret.Buffer

	// Depth is the nesting depth recorded on new chunk records.
	Depth int

	// Cache holds decoded plaintext chunks. May be nil (no caching)
	// or shared across stores: chunk cache keys are content hashes,
	// so identical content is cached once regardless of origin.
	Cache *ByteCache

	Clock  clock.Clock
	Logger *slog.Logger
}

// PutResult reports the outcome of storing one segment.
type PutResult struct {
	Hash       Hash
	RawSize    int64
	StoredSize int64

	// Deduplicated is true when the segment's content was already
	// present and no new bytes were written.
	Deduplicated bool
}

// ChunkStore is a content-addressed store of compressed (and
// optionally encrypted) chunks beneath one dimension directory.
// Chunk files live flat under chunks/, named by their full content
// hash in hex.
//
// The store keeps its chunk records in memory; the owning dimension
// persists them in index.json on close. Put and Get are safe for
// concurrent use.
type ChunkStore struct {
	fs     afero.Fs
	codec  Codec
	level  int
	dedup  bool
	key    *secret.Buffer
	depth  int
	cache  *ByteCache
	clock  clock.Clock
	logger *slog.Logger

	mu     sync.Mutex
	chunks map[Hash]*Chunk
}

// NewChunkStore creates a chunk store rooted at fsys, creating the
// chunks/ directory if needed.
func NewChunkStore(fsys afero.Fs, options ChunkStoreOptions) (*ChunkStore, error) {
	if _, err := ParseCodec(options.Codec.String()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if options.Level != 0 && (options.Level < MinCompressionLevel || options.Level > MaxCompressionLevel) {
		return nil, fmt.Errorf("%w: compression level %d out of range [%d, %d]",
			ErrValidation, options.Level, MinCompressionLevel, MaxCompressionLevel)
	}
	if options.Key != nil && options.Key.Len() != KeySize {
		return nil, fmt.Errorf("%w: encryption key must be %d bytes, got %d",
			ErrValidation, KeySize, options.Key.Len())
	}

	if err := fsys.MkdirAll(chunksDirName, 0o755); err != nil {
		return nil, fmt.Errorf("creating chunks directory: %w", err)
	}

	store := &ChunkStore{
		fs:     fsys,
		codec:  options.Codec,
		level:  options.Level,
		dedup:  !options.DisableDedup,
		key:    options.Key,
		depth:  options.Depth,
		cache:  options.Cache,
		clock:  options.Clock,
		logger: options.Logger,
		chunks: make(map[Hash]*Chunk),
	}
	if store.clock == nil {
		store.clock = clock.Real()
	}
	if store.logger == nil {
		store.logger = slog.New(slog.DiscardHandler)
	}
	return store, nil
}

// adopt loads previously persisted chunk records, cloning them so the
// caller's map stays independent.
func (s *ChunkStore) adopt(records map[Hash]*Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, record := range records {
		clone := *record
		s.chunks[hash] = &clone
	}
}

// records returns a snapshot clone of all chunk records, for
// persisting in the dimension index.
func (s *ChunkStore) records() map[Hash]*Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make(map[Hash]*Chunk, len(s.chunks))
	for hash, record := range s.chunks {
		clone := *record
		snapshot[hash] = &clone
	}
	return snapshot
}

// Put stores one segment of plaintext. When deduplication is on and
// the content is already present, only the record's reference count
// and access time move; no bytes are compressed or written.
func (s *ChunkStore) Put(segment []byte) (PutResult, error) {
	hash := HashChunk(segment)
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.chunks[hash]; ok && s.dedup {
		record.AccessCount++
		record.LastAccessedAt = now
		return PutResult{
			Hash:         hash,
			RawSize:      record.RawSize,
			StoredSize:   record.StoredSize,
			Deduplicated: true,
		}, nil
	}

	payload, codecUsed, err := Compress(segment, s.codec, s.level)
	if err != nil {
		return PutResult{}, fmt.Errorf("compressing chunk %s: %w", FormatRef(hash), err)
	}

	encrypted := s.key != nil
	stored := payload
	if encrypted {
		stored, err = EncryptChunk(s.key, hash, payload)
		if err != nil {
			return PutResult{}, fmt.Errorf("encrypting chunk %s: %w", FormatRef(hash), err)
		}
	}

	if err := writeFileAtomic(s.fs, s.chunkFilePath(hash), stored, 0o644); err != nil {
		return PutResult{}, fmt.Errorf("persisting chunk %s: %w", FormatRef(hash), err)
	}

	record, existed := s.chunks[hash]
	if !existed {
		record = &Chunk{Hash: hash, CreatedAt: now, Depth: s.depth}
		s.chunks[hash] = record
	}
	record.RawSize = int64(len(segment))
	record.StoredSize = int64(len(stored))
	record.Codec = codecUsed
	record.Ratio = storageRatio(record.RawSize, record.StoredSize)
	record.LastAccessedAt = now
	record.AccessCount++
	record.Encrypted = encrypted

	s.logger.Debug("chunk stored",
		"chunk", FormatRef(hash),
		"raw_size", record.RawSize,
		"stored_size", record.StoredSize,
		"codec", codecUsed.String(),
		"encrypted", encrypted)

	return PutResult{
		Hash:       hash,
		RawSize:    record.RawSize,
		StoredSize: record.StoredSize,
	}, nil
}

// Get returns the plaintext of a stored chunk. Every read decodes
// back to the plaintext and re-verifies its content hash before
// returning, so corruption can never propagate silently. The returned
// slice may be shared with the cache — read-only.
func (s *ChunkStore) Get(hash Hash) ([]byte, error) {
	cacheKey := chunkCacheKey(hash)
	if s.cache != nil {
		if data, ok := s.cache.Get(cacheKey); ok {
			s.touch(hash)
			return data, nil
		}
	}

	s.mu.Lock()
	record, ok := s.chunks[hash]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrChunkNotFound, FormatRef(hash))
	}
	codecUsed := record.Codec
	rawSize := record.RawSize
	encrypted := record.Encrypted
	s.mu.Unlock()

	stored, err := afero.ReadFile(s.fs, s.chunkFilePath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s: backing file missing", ErrChunkNotFound, FormatRef(hash))
		}
		return nil, fmt.Errorf("reading chunk %s: %w", FormatRef(hash), err)
	}

	payload := stored
	if encrypted {
		if s.key == nil {
			return nil, fmt.Errorf("%w: chunk %s is encrypted", ErrMissingEncryptionKey, FormatRef(hash))
		}
		payload, err = DecryptChunk(s.key, hash, stored)
		if err != nil {
			return nil, err
		}
	}

	plaintext, err := DecompressChunk(payload, codecUsed, int(rawSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrChunkCorrupted, FormatRef(hash), err)
	}

	if HashChunk(plaintext) != hash {
		return nil, fmt.Errorf("%w: %s: content does not match its hash", ErrChunkCorrupted, FormatRef(hash))
	}

	if s.cache != nil {
		s.cache.Put(cacheKey, plaintext)
	}
	s.touch(hash)
	return plaintext, nil
}

// Has reports whether a chunk record exists for the given hash.
func (s *ChunkStore) Has(hash Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.chunks[hash]
	return ok
}

// Len returns the number of distinct chunks in the store.
func (s *ChunkStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// touch updates a chunk's last access time.
func (s *ChunkStore) touch(hash Hash) {
	s.mu.Lock()
	if record, ok := s.chunks[hash]; ok {
		record.LastAccessedAt = s.clock.Now()
	}
	s.mu.Unlock()
}

// chunkFilePath returns the file path for a chunk, relative to the
// store's filesystem root.
func (s *ChunkStore) chunkFilePath(hash Hash) string {
	return filepath.Join(chunksDirName, FormatHash(hash))
}

// chunkCacheKey namespaces chunk hashes in the shared byte cache so
// they can never collide with other consumers' keys.
func chunkCacheKey(hash Hash) string {
	return "chunk:" + FormatHash(hash)
}

// storageRatio is stored bytes over raw bytes: below 1.0 means
// compression helped, above means overhead (encryption framing on
// incompressible data).
func storageRatio(rawSize, storedSize int64) float64 {
	if rawSize == 0 {
		return 1
	}
	return float64(storedSize) / float64(rawSize)
}
