// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package dimension

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// File and directory names inside a dimension's storage directory.
const (
	metadataFileName = "metadata.json"
	indexFileName    = "index.json"
	chunksDirName    = "chunks"
)

// indexDocument is the persisted form of a dimension's entry index
// and chunk records, written as index.json on close.
type indexDocument struct {
	SchemaVersion int               `json:"schema_version"`
	Entries       map[string]*Entry `json:"entries"`
	Chunks        map[Hash]*Chunk   `json:"chunks"`
}

func newIndexDocument() *indexDocument {
	return &indexDocument{
		SchemaVersion: CurrentSchemaVersion,
		Entries:       make(map[string]*Entry),
		Chunks:        make(map[Hash]*Chunk),
	}
}

// writeFileAtomic writes data to filename via a temporary file in the
// same directory followed by a rename, so readers never observe a
// partially written document.
func writeFileAtomic(fsys afero.Fs, filename string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filename)

	tmpFile, err := afero.TempFile(fsys, dir, filepath.Base(filename)+".tmp-")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	// TempFile reports the name through the backing filesystem, which
	// under stacked BasePathFs layers is not a path fsys understands.
	// Rebuild it relative to fsys from the directory we asked for.
	tmpPath := filepath.Join(dir, filepath.Base(tmpFile.Name()))

	success := false
	defer func() {
		if !success {
			fsys.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing %s: %w", filename, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file for %s: %w", filename, err)
	}

	if err := fsys.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("setting permissions on %s: %w", filename, err)
	}

	if err := fsys.Rename(tmpPath, filename); err != nil {
		return fmt.Errorf("renaming into %s: %w", filename, err)
	}

	success = true
	return nil
}

// readMetadataFile loads metadata.json from a dimension directory.
// Returns an error wrapping os.ErrNotExist if the file is absent.
func readMetadataFile(fsys afero.Fs) (*Metadata, error) {
	data, err := afero.ReadFile(fsys, metadataFileName)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", metadataFileName, err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", metadataFileName, err)
	}
	if meta.SchemaVersion > CurrentSchemaVersion {
		return nil, fmt.Errorf("%s: schema version %d is newer than supported version %d",
			metadataFileName, meta.SchemaVersion, CurrentSchemaVersion)
	}
	return &meta, nil
}

// writeMetadataFile atomically persists metadata.json.
func writeMetadataFile(fsys afero.Fs, meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", metadataFileName, err)
	}
	return writeFileAtomic(fsys, metadataFileName, data, 0o644)
}

// readIndexFile loads index.json from a dimension directory. Returns
// an error wrapping os.ErrNotExist if the file is absent; callers
// treat that as an empty index (a dimension that has never been
// closed has no durable index yet).
func readIndexFile(fsys afero.Fs) (*indexDocument, error) {
	data, err := afero.ReadFile(fsys, indexFileName)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", indexFileName, err)
	}

	var doc indexDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", indexFileName, err)
	}
	if doc.SchemaVersion > CurrentSchemaVersion {
		return nil, fmt.Errorf("%s: schema version %d is newer than supported version %d",
			indexFileName, doc.SchemaVersion, CurrentSchemaVersion)
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]*Entry)
	}
	if doc.Chunks == nil {
		doc.Chunks = make(map[Hash]*Chunk)
	}
	return &doc, nil
}

// writeIndexFile atomically persists index.json.
func writeIndexFile(fsys afero.Fs, doc *indexDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", indexFileName, err)
	}
	return writeFileAtomic(fsys, indexFileName, data, 0o644)
}
