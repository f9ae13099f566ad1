// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package capsule

import (
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/pocket-foundation/pocket/lib/dimension"
)

// VirtualFS serves a capsule's files without extracting them. Reads
// resolve on demand against the chunk store and memoize whole files in
// a bounded cache, so the hot set of a running application stays in
// memory while cold files cost one store round-trip.
//
// The returned byte slices are shared with the cache: callers must not
// modify them.
type VirtualFS struct {
	dim      *dimension.Dimension
	manifest *Manifest
	meta     *Metadata

	// Exact stored document bytes, retained for Export: the manifest
	// checksum covers these bytes, so the export stream carries them
	// verbatim rather than re-serializing.
	manifestBytes []byte
	metaBytes     []byte

	files map[string]FileDescriptor
	dirs  map[string]bool

	cache  *dimension.ByteCache
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// DirEntry is one child in a virtual directory listing.
type DirEntry struct {
	Name  string   `json:"name"`
	Path  string   `json:"path"`
	IsDir bool     `json:"is_dir"`
	Size  int64    `json:"size,omitempty"`
	Kind  FileKind `json:"kind,omitempty"`
}

// NewVirtualFS opens the capsule and verifies its integrity chain,
// returning a lazy filesystem view. No file content is read until the
// first ReadFile.
func NewVirtualFS(engine *dimension.Engine, id string, options LoadOptions) (*VirtualFS, error) {
	handle, err := openCapsule(engine, id, options)
	if err != nil {
		return nil, err
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	vfs := &VirtualFS{
		dim:           handle.dim,
		manifest:      handle.manifest,
		meta:          handle.meta,
		manifestBytes: handle.manifestBytes,
		metaBytes:     handle.metaBytes,
		files:         make(map[string]FileDescriptor, len(handle.manifest.Files)),
		dirs:          make(map[string]bool),
		cache:         dimension.NewByteCache(options.CacheBytes),
		logger:        logger,
	}
	for _, file := range handle.manifest.Files {
		vfs.files[file.Path] = file
		for dir := path.Dir(file.Path); dir != "." && dir != "/"; dir = path.Dir(dir) {
			vfs.dirs[dir] = true
		}
	}
	for _, dir := range handle.manifest.Directories {
		vfs.dirs[dir] = true
	}

	logger.Debug("virtual fs opened",
		"capsule", id,
		"files", len(vfs.files),
		"directories", len(vfs.dirs))
	return vfs, nil
}

// ReadFile returns the content of the file at the given
// capsule-relative path. The first read resolves against the chunk
// store; repeats are served from the cache. The returned slice is
// shared: treat it as read-only.
func (v *VirtualFS) ReadFile(filePath string) ([]byte, error) {
	cleaned := cleanPath(filePath)
	if err := v.check(); err != nil {
		return nil, err
	}
	if _, ok := v.files[cleaned]; !ok {
		return nil, fmt.Errorf("%w: %s", dimension.ErrEntryNotFound, cleaned)
	}

	if data, ok := v.cache.Get(cleaned); ok {
		return data, nil
	}
	data, err := v.dim.Read(cleaned)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", cleaned, err)
	}
	v.cache.Put(cleaned, data)
	return data, nil
}

// ReadFileString is ReadFile returning a string.
func (v *VirtualFS) ReadFileString(filePath string) (string, error) {
	data, err := v.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Exists reports whether a file or directory exists at the path.
func (v *VirtualFS) Exists(filePath string) bool {
	cleaned := cleanPath(filePath)
	if err := v.check(); err != nil {
		return false
	}
	if _, ok := v.files[cleaned]; ok {
		return true
	}
	return cleaned == "" || v.dirs[cleaned]
}

// ListDir returns the immediate children of the directory, directories
// first, each group sorted by name. The empty string (or "/", or ".")
// lists the capsule root.
func (v *VirtualFS) ListDir(dir string) ([]DirEntry, error) {
	cleaned := cleanPath(dir)
	if err := v.check(); err != nil {
		return nil, err
	}
	if cleaned != "" && !v.dirs[cleaned] {
		return nil, fmt.Errorf("%w: directory %s", dimension.ErrEntryNotFound, cleaned)
	}

	seen := make(map[string]bool)
	var entries []DirEntry

	for dirPath := range v.dirs {
		parent, name := splitChild(dirPath, cleaned)
		if !parent || seen[name] {
			continue
		}
		seen[name] = true
		entries = append(entries, DirEntry{Name: name, Path: dirPath, IsDir: true})
	}
	for filePath, descriptor := range v.files {
		parent, name := splitChild(filePath, cleaned)
		if !parent || seen[name] {
			continue
		}
		seen[name] = true
		entries = append(entries, DirEntry{
			Name: name,
			Path: filePath,
			Size: descriptor.Size,
			Kind: descriptor.Kind,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// Stat returns the descriptor for the file at the path.
func (v *VirtualFS) Stat(filePath string) (FileDescriptor, bool) {
	if err := v.check(); err != nil {
		return FileDescriptor{}, false
	}
	descriptor, ok := v.files[cleanPath(filePath)]
	return descriptor, ok
}

// IsDir reports whether the path is a directory in the capsule.
func (v *VirtualFS) IsDir(filePath string) bool {
	if err := v.check(); err != nil {
		return false
	}
	cleaned := cleanPath(filePath)
	return cleaned == "" || v.dirs[cleaned]
}

// FileCount returns the number of files in the capsule.
func (v *VirtualFS) FileCount() int {
	return len(v.files)
}

// Manifest returns the capsule manifest. Read-only.
func (v *VirtualFS) Manifest() *Manifest {
	return v.manifest
}

// Metadata returns the capsule metadata. Read-only.
func (v *VirtualFS) Metadata() *Metadata {
	return v.meta
}

// CacheStats reports the file cache's hit/miss counters.
func (v *VirtualFS) CacheStats() dimension.CacheStats {
	return v.cache.Stats()
}

// Close releases the underlying dimension. Further reads fail.
func (v *VirtualFS) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.mu.Unlock()

	v.logger.Debug("virtual fs closed", "capsule", v.meta.ID)
	return v.dim.Close()
}

func (v *VirtualFS) check() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return fmt.Errorf("%w: virtual fs is closed", dimension.ErrValidation)
	}
	return nil
}

// cleanPath normalizes a caller path to the capsule-relative form used
// in the manifest: forward slashes, no leading "./" or "/", no
// trailing slash. Root aliases ("", ".", "/") clean to "".
func cleanPath(p string) string {
	p = strings.TrimSpace(p)
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

// splitChild reports whether candidate is an immediate child of dir,
// and if so its base name. dir is "" for the root.
func splitChild(candidate, dir string) (bool, string) {
	if dir != "" {
		if !strings.HasPrefix(candidate, dir+"/") {
			return false, ""
		}
		candidate = candidate[len(dir)+1:]
	}
	if candidate == "" || strings.Contains(candidate, "/") {
		return false, ""
	}
	return true, candidate
}
