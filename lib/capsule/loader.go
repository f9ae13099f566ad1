// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package capsule

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pocket-foundation/pocket/lib/dimension"
	"github.com/pocket-foundation/pocket/lib/secret"
)

// LoadOptions configures capsule opening.
type LoadOptions struct {
	// EncryptionKey decrypts an encrypted capsule. Nil falls back to
	// the capsule's keyfile sidecar.
	EncryptionKey *secret.Buffer

	// CacheBytes bounds the virtual FS whole-file cache. Zero means
	// dimension.DefaultCacheBytes. Ignored by ExtractToPath.
	CacheBytes int64

	// Logger receives load and extraction logs. Nil discards.
	Logger *slog.Logger
}

// ExtractResult reports a completed extraction.
type ExtractResult struct {
	CapsuleID    string
	FileCount    int
	BytesWritten int64
	Duration     time.Duration
}

// Info is one row in a capsule listing, built from plaintext dimension
// metadata so listing never needs decryption keys.
type Info struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	Encrypted  bool      `json:"encrypted"`
	RawSize    int64     `json:"raw_size"`
	StoredSize int64     `json:"stored_size"`
}

// capsuleHandle is an opened, integrity-verified capsule. The
// dimension stays open until close is called.
type capsuleHandle struct {
	dim      *dimension.Dimension
	manifest *Manifest
	meta     *Metadata

	// manifestBytes are the exact stored manifest bytes, the ones the
	// metadata checksum covers. The export stream carries them
	// verbatim.
	manifestBytes []byte
	metaBytes     []byte
}

func (h *capsuleHandle) close() error {
	return h.dim.Close()
}

// openCapsule opens the capsule dimension and verifies the manifest
// integrity chain before returning: the stored manifest bytes must
// hash to the metadata's manifest checksum, and the manifest's
// per-file hashes must hash to the content checksum. Verification
// failures surface as ErrManifestIntegrity before the caller touches
// any file content.
func openCapsule(engine *dimension.Engine, id string, options LoadOptions) (*capsuleHandle, error) {
	if !IsCapsuleID(id) {
		return nil, fmt.Errorf("%w: %q is not a capsule id", dimension.ErrValidation, id)
	}
	if !engine.Exists(id) {
		return nil, fmt.Errorf("%w: %s", ErrCapsuleNotFound, id)
	}

	dim, err := engine.Open(id, dimension.Config{EncryptionKey: options.EncryptionKey})
	if err != nil {
		return nil, fmt.Errorf("opening capsule %s: %w", id, err)
	}

	success := false
	defer func() {
		if !success {
			dim.Close()
		}
	}()

	metaBytes, err := dim.Read(MetadataPath)
	if err != nil {
		if errors.Is(err, dimension.ErrEntryNotFound) {
			return nil, fmt.Errorf("%w: capsule %s has no metadata document", ErrManifestIntegrity, id)
		}
		return nil, fmt.Errorf("reading capsule metadata for %s: %w", id, err)
	}
	meta, err := ParseMetadata(metaBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: capsule %s: %v", ErrManifestIntegrity, id, err)
	}

	manifestBytes, err := dim.Read(ManifestPath)
	if err != nil {
		if errors.Is(err, dimension.ErrEntryNotFound) {
			return nil, fmt.Errorf("%w: capsule %s has no manifest document", ErrManifestIntegrity, id)
		}
		return nil, fmt.Errorf("reading capsule manifest for %s: %w", id, err)
	}
	manifestHash := dimension.FormatHash(dimension.HashManifest(manifestBytes))
	if manifestHash != meta.Checksums.Manifest {
		return nil, fmt.Errorf("%w: capsule %s manifest hash %s does not match recorded %s",
			ErrManifestIntegrity, id, manifestHash, meta.Checksums.Manifest)
	}

	manifest, err := ParseManifest(manifestBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: capsule %s: %v", ErrManifestIntegrity, id, err)
	}
	contentHash := dimension.FormatHash(manifest.ContentHash())
	if contentHash != meta.Checksums.Content {
		return nil, fmt.Errorf("%w: capsule %s content hash %s does not match recorded %s",
			ErrManifestIntegrity, id, contentHash, meta.Checksums.Content)
	}

	success = true
	return &capsuleHandle{
		dim:           dim,
		manifest:      manifest,
		meta:          meta,
		manifestBytes: manifestBytes,
		metaBytes:     metaBytes,
	}, nil
}

// ExtractToPath materializes the capsule as a real file tree at
// targetDir. The manifest is verified before any target I/O, so an
// integrity failure writes zero files. A failure mid-extraction leaves
// the partial tree in place; the caller must treat the operation as
// failed.
func ExtractToPath(engine *dimension.Engine, id, targetDir string, options LoadOptions) (*ExtractResult, error) {
	start := time.Now()

	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	handle, err := openCapsule(engine, id, options)
	if err != nil {
		return nil, err
	}
	defer handle.close()

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating target directory: %w", err)
	}
	for _, dir := range handle.manifest.Directories {
		if err := os.MkdirAll(filepath.Join(targetDir, filepath.FromSlash(dir)), 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	var bytesWritten int64
	for _, file := range handle.manifest.Files {
		data, err := handle.dim.Read(file.Path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file.Path, err)
		}
		if got := dimension.HashContent(data); got != file.Hash {
			return nil, fmt.Errorf("%w: file %s does not match its manifest hash",
				ErrManifestIntegrity, file.Path)
		}

		target := filepath.Join(targetDir, filepath.FromSlash(file.Path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, fmt.Errorf("creating parent of %s: %w", file.Path, err)
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", file.Path, err)
		}
		bytesWritten += int64(len(data))
	}

	duration := time.Since(start)
	logger.Info("capsule extracted",
		"capsule", id,
		"target", targetDir,
		"files", len(handle.manifest.Files),
		"bytes", bytesWritten,
		"duration", duration)

	return &ExtractResult{
		CapsuleID:    id,
		FileCount:    len(handle.manifest.Files),
		BytesWritten: bytesWritten,
		Duration:     duration,
	}, nil
}

// Inspect returns the full capsule metadata after verifying the
// integrity chain. Encrypted capsules need a key (or their keyfile).
func Inspect(engine *dimension.Engine, id string, options LoadOptions) (*Metadata, error) {
	handle, err := openCapsule(engine, id, options)
	if err != nil {
		return nil, err
	}
	defer handle.close()
	return handle.meta, nil
}

// List enumerates capsules under the engine root, newest first.
// Listing reads plaintext dimension metadata only, so it works without
// any decryption keys.
func List(engine *dimension.Engine) ([]Info, error) {
	metas, err := engine.List()
	if err != nil {
		return nil, fmt.Errorf("listing capsules: %w", err)
	}

	infos := make([]Info, 0, len(metas))
	for _, meta := range metas {
		if !IsCapsuleID(meta.ID) {
			continue
		}
		infos = append(infos, Info{
			ID:         meta.ID,
			Name:       meta.Name,
			CreatedAt:  meta.CreatedAt,
			Encrypted:  meta.Encrypted,
			RawSize:    meta.RawSize,
			StoredSize: meta.StoredSize,
		})
	}
	return infos, nil
}

// Delete removes a capsule's persisted storage. Open handles are
// closed first.
func Delete(engine *dimension.Engine, id string) error {
	if !IsCapsuleID(id) {
		return fmt.Errorf("%w: %q is not a capsule id", dimension.ErrValidation, id)
	}
	if !engine.Exists(id) {
		return fmt.Errorf("%w: %s", ErrCapsuleNotFound, id)
	}
	if err := engine.Delete(id); err != nil {
		return fmt.Errorf("deleting capsule %s: %w", id, err)
	}
	return nil
}
