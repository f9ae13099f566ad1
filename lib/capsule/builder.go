// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package capsule

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/pocket-foundation/pocket/lib/dimension"
	"github.com/pocket-foundation/pocket/lib/secret"
	"github.com/pocket-foundation/pocket/lib/version"
)

// BuildOptions configures a capsule build.
type BuildOptions struct {
	// Name identifies the capsule. Required.
	Name string

	// Version is the capsule's semantic version. Empty defaults to
	// "0.1.0"; a non-empty value must parse as MAJOR.MINOR.PATCH with
	// optional pre-release/build suffix.
	Version string

	Description string
	Author      string

	// EntryPoint, BuildCommand and StartCommand describe how to run
	// the packaged application. Recorded verbatim in the manifest.
	EntryPoint   string
	BuildCommand string
	StartCommand string

	// Environment and Dependencies are recorded in the manifest for
	// the runtime that boots the capsule.
	Environment  map[string]string
	Dependencies map[string]string

	// ExcludePatterns extend the default excludes. IncludePatterns,
	// when set, act as an allowlist applied after excludes. Both are
	// plain substrings matched against slash-separated relative
	// paths.
	ExcludePatterns []string
	IncludePatterns []string

	// Encrypt stores all capsule content encrypted. When
	// EncryptionKey is nil a key is generated and persisted to the
	// capsule's keyfile sidecar.
	Encrypt       bool
	EncryptionKey *secret.Buffer

	// DependencyArchive is an optional path to one prebuilt archive
	// (vendored dependencies, a node_modules tarball) packaged as a
	// single binary-kind entry at its base name.
	DependencyArchive string

	// Storage overrides. Zero values take the dimension defaults.
	ChunkSize        int
	Codec            string
	CompressionLevel int

	// Logger receives the build summary. Nil discards.
	Logger *slog.Logger
}

// Result reports a completed build.
type Result struct {
	CapsuleID string
	Manifest  *Manifest
	Metadata  *Metadata
	Duration  time.Duration
}

// Build packages the source tree at sourceDir into a fresh capsule
// dimension under the engine. On any failure after the dimension is
// created, the partial dimension is deleted and the returned error
// names the offending path.
func Build(engine *dimension.Engine, sourceDir string, options BuildOptions) (*Result, error) {
	start := time.Now()

	if err := validateBuildOptions(&options); err != nil {
		return nil, err
	}
	info, err := os.Stat(sourceDir)
	if err != nil {
		return nil, fmt.Errorf("%w: source directory %s: %v", dimension.ErrValidation, sourceDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: source path %s is not a directory", dimension.ErrValidation, sourceDir)
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	key := options.EncryptionKey
	if options.Encrypt && key == nil {
		key, err = dimension.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generating capsule key: %w", err)
		}
		defer key.Close()
	}

	capsuleID := NewID()
	dim, err := engine.Open(capsuleID, dimension.Config{
		Name:             options.Name,
		ChunkSize:        options.ChunkSize,
		Codec:            options.Codec,
		CompressionLevel: options.CompressionLevel,
		EncryptionKey:    key,
	})
	if err != nil {
		return nil, fmt.Errorf("creating capsule dimension: %w", err)
	}

	success := false
	defer func() {
		if !success {
			if err := engine.Delete(capsuleID); err != nil {
				logger.Warn("cleaning up partial capsule failed",
					"capsule", capsuleID, "error", err)
			}
		}
	}()

	filter := newPathFilter(options.ExcludePatterns, options.IncludePatterns)
	files, directories, err := packTree(dim, sourceDir, filter, logger)
	if err != nil {
		return nil, err
	}

	if options.DependencyArchive != "" {
		descriptor, err := packArchive(dim, options.DependencyArchive, files)
		if err != nil {
			return nil, err
		}
		files = append(files, descriptor)
	}

	manifest := &Manifest{
		SchemaVersion: ManifestSchemaVersion,
		Files:         files,
		Directories:   directories,
		EntryPoint:    options.EntryPoint,
		BuildCommand:  options.BuildCommand,
		StartCommand:  options.StartCommand,
		Environment:   options.Environment,
		Dependencies:  options.Dependencies,
	}
	manifestBytes, err := manifest.Serialize()
	if err != nil {
		return nil, err
	}

	// Payload aggregates are captured before the reserved documents
	// land, so Stats describes the packaged application alone.
	dimStats := dim.Stats()
	totalSize := manifest.TotalSize()
	ratio := 1.0
	if totalSize > 0 {
		ratio = float64(dimStats.StoredSize) / float64(totalSize)
	}

	meta := &Metadata{
		ID:          capsuleID,
		Version:     options.Version,
		Name:        options.Name,
		Description: options.Description,
		CreatedAt:   dimStats.CreatedAt,
		Author:      options.Author,
		Runtime: RuntimeInfo{
			Name:    "pocket",
			Version: version.Version,
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
		},
		Stats: Stats{
			TotalFiles:     len(files),
			TotalSize:      totalSize,
			CompressedSize: dimStats.StoredSize,
			Ratio:          ratio,
		},
		Checksums: Checksums{
			Manifest: dimension.FormatHash(dimension.HashManifest(manifestBytes)),
			Content:  dimension.FormatHash(manifest.ContentHash()),
		},
		Encrypted: options.Encrypt,
	}
	metaBytes, err := meta.Serialize()
	if err != nil {
		return nil, err
	}

	if _, err := dim.Write(ManifestPath, manifestBytes); err != nil {
		return nil, fmt.Errorf("storing manifest: %w", err)
	}
	if _, err := dim.Write(MetadataPath, metaBytes); err != nil {
		return nil, fmt.Errorf("storing capsule metadata: %w", err)
	}

	if err := dim.Close(); err != nil {
		return nil, fmt.Errorf("closing capsule dimension: %w", err)
	}
	success = true

	duration := time.Since(start)
	logger.Info("capsule built",
		"capsule", capsuleID,
		"name", options.Name,
		"files", len(files),
		"raw_size", totalSize,
		"stored_size", dimStats.StoredSize,
		"ratio", fmt.Sprintf("%.3f", ratio),
		"encrypted", options.Encrypt,
		"duration", duration)

	return &Result{
		CapsuleID: capsuleID,
		Manifest:  manifest,
		Metadata:  meta,
		Duration:  duration,
	}, nil
}

// packTree walks sourceDir depth-first in lexical order, writing every
// included regular file into the dimension at its slash-separated
// relative path. Returns the file descriptors in walk order and the
// sorted directory set.
func packTree(dim *dimension.Dimension, sourceDir string, filter *pathFilter, logger *slog.Logger) ([]FileDescriptor, []string, error) {
	var files []FileDescriptor
	var directories []string

	err := filepath.WalkDir(sourceDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walking %s: %w", path, err)
		}
		if path == sourceDir {
			return nil
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", path, err)
		}
		relPath := filepath.ToSlash(rel)

		if entry.IsDir() {
			// Include patterns apply to files only: a directory that
			// matches no include pattern may still hold files that do.
			if filter.excluded(relPath) {
				return fs.SkipDir
			}
			if _, err := dim.Mkdir(relPath); err != nil {
				return fmt.Errorf("recording directory %s: %w", relPath, err)
			}
			directories = append(directories, relPath)
			return nil
		}

		if !filter.allowed(relPath) {
			return nil
		}
		if !entry.Type().IsRegular() {
			logger.Debug("skipping irregular file", "path", relPath)
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading source file %s: %w", path, err)
		}
		if _, err := dim.Write(relPath, data); err != nil {
			return fmt.Errorf("storing %s: %w", relPath, err)
		}
		files = append(files, FileDescriptor{
			Path: relPath,
			Size: int64(len(data)),
			Hash: dimension.HashContent(data),
			Kind: Classify(relPath),
		})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	sort.Strings(directories)
	return files, directories, nil
}

// packArchive stores the prebuilt dependency archive as a single
// binary-kind entry at its base name.
func packArchive(dim *dimension.Dimension, archivePath string, existing []FileDescriptor) (FileDescriptor, error) {
	base := filepath.Base(archivePath)
	for _, file := range existing {
		if file.Path == base {
			return FileDescriptor{}, fmt.Errorf("%w: dependency archive name %s collides with a packaged file",
				dimension.ErrValidation, base)
		}
	}

	data, err := os.ReadFile(archivePath)
	if err != nil {
		return FileDescriptor{}, fmt.Errorf("reading dependency archive %s: %w", archivePath, err)
	}
	if _, err := dim.Write(base, data); err != nil {
		return FileDescriptor{}, fmt.Errorf("storing dependency archive %s: %w", base, err)
	}
	return FileDescriptor{
		Path: base,
		Size: int64(len(data)),
		Hash: dimension.HashContent(data),
		Kind: KindBinary,
	}, nil
}

func validateBuildOptions(options *BuildOptions) error {
	if strings.TrimSpace(options.Name) == "" {
		return fmt.Errorf("%w: capsule name is required", dimension.ErrValidation)
	}
	if options.Version == "" {
		options.Version = "0.1.0"
	} else if !validSemver(options.Version) {
		return fmt.Errorf("%w: version %q is not a semantic version", dimension.ErrValidation, options.Version)
	}
	if options.EncryptionKey != nil && !options.Encrypt {
		return fmt.Errorf("%w: encryption key supplied without Encrypt", dimension.ErrValidation)
	}
	if options.DependencyArchive != "" {
		info, err := os.Stat(options.DependencyArchive)
		if err != nil {
			return fmt.Errorf("%w: dependency archive %s: %v", dimension.ErrValidation, options.DependencyArchive, err)
		}
		if info.IsDir() {
			return fmt.Errorf("%w: dependency archive %s is a directory", dimension.ErrValidation, options.DependencyArchive)
		}
	}
	return nil
}

// validSemver accepts MAJOR.MINOR.PATCH with an optional leading "v"
// and optional pre-release or build suffix ("1.2.3-rc.1+build5").
func validSemver(v string) bool {
	v = strings.TrimPrefix(v, "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	parts := strings.Split(v, ".")
	if len(parts) != 3 {
		return false
	}
	for _, part := range parts {
		if part == "" {
			return false
		}
		for _, r := range part {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}
