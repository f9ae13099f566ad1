// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package dimension

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// CurrentSchemaVersion is the version written into new dimension
// metadata and index documents. Readers reject documents with a
// higher version than they understand.
const CurrentSchemaVersion = 1

// Entry kinds. The kind is immutable for the lifetime of an entry:
// overwriting a path never changes what kind of thing lives there.
type EntryKind string

const (
	// KindFile is a regular entry whose content is stored as chunks.
	KindFile EntryKind = "file"

	// KindDirectory is an explicit directory marker. Directories
	// carry no content; they exist so listings can show empty
	// directories and extraction can recreate them.
	KindDirectory EntryKind = "directory"

	// KindDimension marks a nested dimension mounted under this
	// entry's path. The child's id is stored in the entry metadata
	// under MetadataKeyDimensionID.
	KindDimension EntryKind = "dimension"
)

// MetadataKeyDimensionID is the entry metadata key holding a nested
// dimension's id on KindDimension entries.
const MetadataKeyDimensionID = "dimension_id"

// ValidateEntryKind checks that a kind is one of the known values.
func ValidateEntryKind(kind EntryKind) error {
	switch kind {
	case KindFile, KindDirectory, KindDimension:
		return nil
	default:
		return fmt.Errorf("%w: invalid entry kind %q", ErrValidation, kind)
	}
}

// Entry is the index record for one logical path in a dimension.
// Entries are pure metadata: file content lives in the chunk store,
// referenced by hash.
type Entry struct {
	Path       string            `json:"path"`
	Kind       EntryKind         `json:"kind"`
	Size       int64             `json:"size"`
	StoredSize int64             `json:"stored_size"`
	Chunks     []Hash            `json:"chunks,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ModifiedAt time.Time         `json:"modified_at"`
	Version    int64             `json:"version"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy. List and Stat return clones so callers
// can hold or mutate results without racing the live index.
func (e *Entry) Clone() *Entry {
	clone := *e
	if e.Chunks != nil {
		clone.Chunks = make([]Hash, len(e.Chunks))
		copy(clone.Chunks, e.Chunks)
	}
	if e.Metadata != nil {
		clone.Metadata = make(map[string]string, len(e.Metadata))
		for key, value := range e.Metadata {
			clone.Metadata[key] = value
		}
	}
	return &clone
}

// Chunk is the index record for one stored chunk: where its bytes
// came from, how they are stored, and how often they are referenced.
type Chunk struct {
	Hash           Hash      `json:"hash"`
	RawSize        int64     `json:"raw_size"`
	StoredSize     int64     `json:"stored_size"`
	Codec          Codec     `json:"codec"`
	Ratio          float64   `json:"ratio"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	AccessCount    int64     `json:"access_count"`
	Encrypted      bool      `json:"encrypted"`
	Depth          int       `json:"depth"`
}

// Metadata is the per-dimension document persisted as metadata.json.
// Always plaintext, even in encrypted dimensions, so listings and
// inspection work without a key.
type Metadata struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	SchemaVersion int       `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	// Aggregates over this dimension's own chunk store. Grow-only:
	// deleting entries leaves chunks (and their accounted sizes) in
	// place.
	RawSize    int64 `json:"raw_size"`
	StoredSize int64 `json:"stored_size"`
	ChunkCount int64 `json:"chunk_count"`

	// Depth is this dimension's nesting depth: 0 for top-level
	// dimensions, parent depth + 1 for children. MaxDepthSeen is the
	// deepest descendant depth observed through this dimension.
	Depth        int `json:"depth"`
	MaxDepthSeen int `json:"max_depth_seen"`

	Encrypted bool   `json:"encrypted"`
	ParentID  string `json:"parent_id,omitempty"`
}

// Reserved names inside a dimension directory. Nested dimensions are
// materialized as subdirectories, so their names must not collide
// with the engine's own files.
var reservedNames = map[string]bool{
	"chunks":        true,
	"metadata.json": true,
	"index.json":    true,
	KeyFileName:     true,
}

// KeyFileName is the sidecar file holding an encrypted dimension's
// master key, written with 0600 permissions next to the metadata.
const KeyFileName = ".keyfile"

// validatePath checks a logical entry path. Paths are slash-separated
// relative paths with no traversal: "src/main.go", "assets/logo.png".
// The path namespace is purely logical (entries never touch the
// filesystem under their own names), so the engine's reserved names
// are not restricted here.
func validatePath(entryPath string) error {
	if entryPath == "" {
		return fmt.Errorf("%w: empty path", ErrValidation)
	}
	if strings.ContainsRune(entryPath, 0) {
		return fmt.Errorf("%w: path contains NUL byte", ErrValidation)
	}
	if strings.HasPrefix(entryPath, "/") {
		return fmt.Errorf("%w: path %q must be relative", ErrValidation, entryPath)
	}
	cleaned := path.Clean(entryPath)
	if cleaned != entryPath {
		return fmt.Errorf("%w: path %q is not in canonical form (want %q)", ErrValidation, entryPath, cleaned)
	}
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("%w: path %q escapes the dimension root", ErrValidation, entryPath)
	}
	return nil
}

// validateNestedName checks a nested dimension name. Unlike entry
// paths, nested names become real directory names inside the parent's
// storage directory, so they are a single path segment and must not
// collide with the engine's reserved files.
func validateNestedName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty nested dimension name", ErrValidation)
	}
	if strings.ContainsAny(name, "/\\") || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: nested dimension name %q must be a single path segment", ErrValidation, name)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: nested dimension name %q is not allowed", ErrValidation, name)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: nested dimension name %q: leading dot is reserved", ErrValidation, name)
	}
	if reservedNames[name] {
		return fmt.Errorf("%w: nested dimension name %q is reserved", ErrValidation, name)
	}
	return nil
}
