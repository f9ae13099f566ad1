// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package capsule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pocket-foundation/pocket/lib/dimension"
)

// ManifestSchemaVersion is the current manifest document version.
// Persisted in every manifest; readers reject versions they do not
// know.
const ManifestSchemaVersion = 1

// CapsuleIDPrefix distinguishes capsule dimensions from plain ones in
// a shared engine root.
const CapsuleIDPrefix = "cap-"

// Reserved entry paths inside a capsule dimension. The manifest and
// metadata documents are stored through the ordinary path-keyed write
// path, chunked and deduplicated like any other entry.
const (
	CapsuleDirName = "__capsule__"
	ManifestPath   = CapsuleDirName + "/manifest.json"
	MetadataPath   = CapsuleDirName + "/metadata.json"
)

// NewID returns a fresh capsule id: "cap-" + UUIDv4.
func NewID() string {
	return CapsuleIDPrefix + uuid.NewString()
}

// IsCapsuleID reports whether id carries the capsule prefix.
func IsCapsuleID(id string) bool {
	return strings.HasPrefix(id, CapsuleIDPrefix) && len(id) > len(CapsuleIDPrefix)
}

// FileDescriptor records one packaged file: its capsule-relative path,
// raw size, content hash (content domain, hex in JSON), and kind.
type FileDescriptor struct {
	Path string         `json:"path"`
	Size int64          `json:"size"`
	Hash dimension.Hash `json:"hash"`
	Kind FileKind       `json:"kind"`
}

// Manifest is the capsule's table of contents. Serialization is
// deterministic: fixed field order, two-space indentation. The
// manifest checksum in Metadata covers the exact serialized bytes, so
// the document is serialized once at build time and never re-derived.
type Manifest struct {
	SchemaVersion int               `json:"schema_version"`
	Files         []FileDescriptor  `json:"files"`
	Directories   []string          `json:"directories"`
	EntryPoint    string            `json:"entry_point,omitempty"`
	BuildCommand  string            `json:"build_command,omitempty"`
	StartCommand  string            `json:"start_command,omitempty"`
	Environment   map[string]string `json:"environment,omitempty"`
	Dependencies  map[string]string `json:"dependencies,omitempty"`
}

// Serialize renders the manifest as indented JSON. Equal manifests
// always produce identical bytes.
func (m *Manifest) Serialize() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serializing manifest: %w", err)
	}
	return data, nil
}

// ParseManifest decodes and validates a serialized manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if m.SchemaVersion != ManifestSchemaVersion {
		return nil, fmt.Errorf("manifest schema version %d not supported (want %d)",
			m.SchemaVersion, ManifestSchemaVersion)
	}
	return &m, nil
}

// ContentHash computes the capsule content checksum: the content-domain
// hash over the concatenated per-file hash bytes in manifest order.
// Any change to any file's bytes, or to the file set or its order,
// changes the result.
func (m *Manifest) ContentHash() dimension.Hash {
	concat := make([]byte, 0, len(m.Files)*len(dimension.Hash{}))
	for _, file := range m.Files {
		concat = append(concat, file.Hash[:]...)
	}
	return dimension.HashContent(concat)
}

// File returns the descriptor for path, if the manifest has one.
func (m *Manifest) File(path string) (FileDescriptor, bool) {
	for _, file := range m.Files {
		if file.Path == path {
			return file, true
		}
	}
	return FileDescriptor{}, false
}

// TotalSize sums the raw sizes of all manifest files.
func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, file := range m.Files {
		total += file.Size
	}
	return total
}

// RuntimeInfo records the engine that produced a capsule.
type RuntimeInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	OS      string `json:"os"`
	Arch    string `json:"arch"`
}

// Stats aggregates the packaged payload.
type Stats struct {
	TotalFiles     int     `json:"total_files"`
	TotalSize      int64   `json:"total_size"`
	CompressedSize int64   `json:"compressed_size"`
	Ratio          float64 `json:"ratio"`
}

// Checksums binds the capsule's integrity chain: Manifest is the
// manifest-domain hash of the exact serialized manifest bytes, Content
// the content-domain hash over the concatenated per-file hashes. Both
// hex-encoded.
type Checksums struct {
	Manifest string `json:"manifest"`
	Content  string `json:"content"`
}

// Metadata is the capsule identity document, stored at MetadataPath
// and summarized in listings.
type Metadata struct {
	ID          string      `json:"id"`
	Version     string      `json:"version"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	Author      string      `json:"author,omitempty"`
	Runtime     RuntimeInfo `json:"runtime"`
	Stats       Stats       `json:"stats"`
	Checksums   Checksums   `json:"checksums"`
	Encrypted   bool        `json:"encrypted"`
	Signature   string      `json:"signature,omitempty"`
}

// Serialize renders the metadata document as indented JSON.
func (m *Metadata) Serialize() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serializing capsule metadata: %w", err)
	}
	return data, nil
}

// ParseMetadata decodes a serialized capsule metadata document.
func ParseMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing capsule metadata: %w", err)
	}
	return &m, nil
}
