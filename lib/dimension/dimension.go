// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package dimension

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/pocket-foundation/pocket/lib/clock"
	"github.com/pocket-foundation/pocket/lib/secret"
)

// DefaultMaxDepth is the nesting depth limit applied when a
// configuration does not specify one. A top-level dimension is depth
// 0; with the default limit, ten levels of children fit beneath it.
const DefaultMaxDepth = 10

// Config configures a dimension at open or create time. The zero
// value is usable: 1 MiB chunks, deflate compression at the default
// level, deduplication on, plaintext.
//
// On reopen, chunking and compression settings apply to newly written
// chunks only; existing chunks carry their codec in their records.
type Config struct {
	// Name is a human-readable label, recorded in metadata on create
	// and ignored when opening an existing dimension.
	Name string `json:"name,omitempty" yaml:"name"`

	// ChunkSize is the fixed chunk size in bytes. Zero means
	// DefaultChunkSize; otherwise it must lie in
	// [MinChunkSize, MaxChunkSize].
	ChunkSize int `json:"chunk_size,omitempty" yaml:"chunk_size"`

	// Codec is the compression codec name ("none", "deflate", "lz4",
	// "zstd"). Empty means deflate.
	Codec string `json:"codec,omitempty" yaml:"codec"`

	// CompressionLevel is the DEFLATE level, 1-9. Zero means
	// DefaultCompressionLevel. Ignored by other codecs.
	CompressionLevel int `json:"compression_level,omitempty" yaml:"compression_level"`

	// DisableDedup turns off content deduplication.
	DisableDedup bool `json:"disable_dedup,omitempty" yaml:"disable_dedup"`

	// MaxDepth is the nesting depth limit enforced by CreateNested.
	// Zero means DefaultMaxDepth.
	MaxDepth int `json:"max_depth,omitempty" yaml:"max_depth"`

	// CacheBytes bounds the in-memory plaintext cache. Zero means
	// DefaultCacheBytes. Nested dimensions share their parent's
	// cache, so this only takes effect on top-level opens.
	CacheBytes int64 `json:"cache_bytes,omitempty" yaml:"cache_bytes"`

	// EncryptionKey is the master key for an encrypted dimension.
	// On create, a non-nil key makes the dimension encrypted. On
	// open, a non-nil key takes precedence over the keyfile sidecar.
	// The key is borrowed: the caller keeps ownership and closes it.
	EncryptionKey *secret.Buffer `json:"-" yaml:"-"`
}

// withDefaults fills zero-valued fields with the package defaults.
func (c Config) withDefaults() Config {
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.Codec == "" {
		c.Codec = CodecDeflate.String()
	}
	if c.CompressionLevel == 0 {
		c.CompressionLevel = DefaultCompressionLevel
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.CacheBytes == 0 {
		c.CacheBytes = DefaultCacheBytes
	}
	return c
}

// validate checks a defaults-applied configuration.
func (c Config) validate() error {
	var errs []error
	if c.ChunkSize < MinChunkSize || c.ChunkSize > MaxChunkSize {
		errs = append(errs, fmt.Errorf("chunk size %d out of range [%d, %d]", c.ChunkSize, MinChunkSize, MaxChunkSize))
	}
	if _, err := ParseCodec(c.Codec); err != nil {
		errs = append(errs, err)
	}
	if c.CompressionLevel < MinCompressionLevel || c.CompressionLevel > MaxCompressionLevel {
		errs = append(errs, fmt.Errorf("compression level %d out of range [%d, %d]",
			c.CompressionLevel, MinCompressionLevel, MaxCompressionLevel))
	}
	if c.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("max depth %d must not be negative", c.MaxDepth))
	}
	if c.CacheBytes < 0 {
		errs = append(errs, fmt.Errorf("cache bytes %d must not be negative", c.CacheBytes))
	}
	if c.EncryptionKey != nil && c.EncryptionKey.Len() != KeySize {
		errs = append(errs, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, c.EncryptionKey.Len()))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrValidation, errors.Join(errs...))
	}
	return nil
}

// Dimension is one path-keyed, chunk-backed store. Obtain instances
// from an [Engine] (top level) or from a parent dimension's
// CreateNested/OpenNested (children).
//
// All operations are safe for concurrent use. Writes are serialized;
// reads run in parallel. In-memory state is authoritative between
// opens — Close (or Flush) is the durability point for the entry
// index and metadata.
type Dimension struct {
	mu sync.RWMutex

	fs         afero.Fs
	id         string
	config     Config
	codec      Codec
	meta       *Metadata
	entries    map[string]*Entry
	store      *ChunkStore
	cache      *ByteCache
	children   map[string]*Dimension
	key        *secret.Buffer
	ownsKey    bool
	clock      clock.Clock
	baseLogger *slog.Logger
	logger     *slog.Logger
	closed     bool
}

// openParams carries everything openDimension needs. The fs must be
// rooted at the dimension's own directory, which must already exist.
type openParams struct {
	fs       afero.Fs
	id       string
	config   Config
	depth    int
	parentID string
	cache    *ByteCache // nil: create one from config.CacheBytes
	clock    clock.Clock
	logger   *slog.Logger
}

// openDimension loads a dimension from its directory, or initializes
// a fresh one if no metadata.json exists yet.
func openDimension(params openParams) (*Dimension, error) {
	config := params.config.withDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	clk := params.clock
	if clk == nil {
		clk = clock.Real()
	}
	baseLogger := params.logger
	if baseLogger == nil {
		baseLogger = slog.New(slog.DiscardHandler)
	}

	dim := &Dimension{
		fs:         params.fs,
		id:         params.id,
		config:     config,
		entries:    make(map[string]*Entry),
		children:   make(map[string]*Dimension),
		clock:      clk,
		baseLogger: baseLogger,
		logger:     baseLogger.With("dimension", params.id),
	}
	if codec, err := ParseCodec(config.Codec); err == nil {
		dim.codec = codec
	}

	now := clk.Now()

	meta, err := readMetadataFile(params.fs)
	switch {
	case err == nil:
		// Existing dimension: persisted identity and depth win over
		// whatever the caller passed.
		dim.meta = meta
		if meta.Encrypted {
			if config.EncryptionKey != nil {
				dim.key = config.EncryptionKey
			} else {
				key, err := secret.ReadFile(params.fs, KeyFileName)
				if err != nil {
					if os.IsNotExist(err) {
						return nil, fmt.Errorf("%w: dimension %s has no keyfile and no key was supplied",
							ErrMissingEncryptionKey, params.id)
					}
					return nil, fmt.Errorf("reading keyfile for %s: %w", params.id, err)
				}
				if key.Len() != KeySize {
					key.Close()
					return nil, fmt.Errorf("keyfile for %s holds %d bytes, want %d", params.id, key.Len(), KeySize)
				}
				dim.key = key
				dim.ownsKey = true
			}
		} else if config.EncryptionKey != nil {
			return nil, fmt.Errorf("%w: dimension %s is not encrypted but a key was supplied",
				ErrValidation, params.id)
		}

	case errors.Is(err, os.ErrNotExist):
		// Fresh dimension.
		dim.key = config.EncryptionKey
		dim.meta = &Metadata{
			ID:            params.id,
			Name:          config.Name,
			SchemaVersion: CurrentSchemaVersion,
			CreatedAt:     now,
			UpdatedAt:     now,
			Depth:         params.depth,
			MaxDepthSeen:  params.depth,
			Encrypted:     dim.key != nil,
			ParentID:      params.parentID,
		}

	default:
		return nil, err
	}

	cache := params.cache
	if cache == nil {
		cache = NewByteCache(config.CacheBytes)
	}
	dim.cache = cache

	store, err := NewChunkStore(params.fs, ChunkStoreOptions{
		Codec:        dim.codec,
		Level:        config.CompressionLevel,
		DisableDedup: config.DisableDedup,
		Key:          dim.key,
		Depth:        dim.meta.Depth,
		Cache:        cache,
		Clock:        clk,
		Logger:       dim.logger,
	})
	if err != nil {
		return nil, err
	}
	dim.store = store

	doc, err := readIndexFile(params.fs)
	switch {
	case err == nil:
		dim.entries = doc.Entries
		store.adopt(doc.Chunks)
	case errors.Is(err, os.ErrNotExist):
		// Never closed, or created fresh: empty index.
	default:
		return nil, err
	}

	return dim, nil
}

// ID returns the dimension's identifier. Top-level ids look like
// "dim-<uuid>"; nested ids are the parent id plus "/<name>".
func (d *Dimension) ID() string {
	return d.id
}

// Stats returns a copy of the dimension's metadata, including live
// aggregate counters.
func (d *Dimension) Stats() Metadata {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return *d.meta
}

// CacheStats returns a snapshot of the plaintext cache counters. For
// nested dimensions this reflects the cache shared with the parent.
func (d *Dimension) CacheStats() CacheStats {
	return d.cache.Stats()
}

// Write stores data at the given path, chunking, deduplicating,
// compressing, and (in encrypted dimensions) encrypting it. Creating
// and overwriting use the same call: overwriting keeps the entry's
// CreatedAt and increments its Version. Empty data is valid and
// yields an entry with no chunks.
//
// Returns a copy of the resulting entry.
func (d *Dimension) Write(entryPath string, data []byte) (*Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, d.closedError()
	}
	if err := validatePath(entryPath); err != nil {
		return nil, err
	}
	if existing, ok := d.entries[entryPath]; ok && existing.Kind != KindFile {
		return nil, fmt.Errorf("%w: path %q holds a %s entry", ErrValidation, entryPath, existing.Kind)
	}

	now := d.clock.Now()

	hashes := make([]Hash, 0, (len(data)+d.config.ChunkSize-1)/d.config.ChunkSize)
	var storedTotal int64
	chunker := NewChunker(data, d.config.ChunkSize)
	for {
		segment := chunker.Next()
		if segment == nil {
			break
		}
		result, err := d.store.Put(segment)
		if err != nil {
			return nil, fmt.Errorf("writing %q: %w", entryPath, err)
		}
		hashes = append(hashes, result.Hash)
		storedTotal += result.StoredSize
		if !result.Deduplicated {
			d.meta.RawSize += result.RawSize
			d.meta.StoredSize += result.StoredSize
			d.meta.ChunkCount++
		}
	}

	entry, ok := d.entries[entryPath]
	if !ok {
		entry = &Entry{Path: entryPath, Kind: KindFile, CreatedAt: now}
		d.entries[entryPath] = entry
	}
	entry.Size = int64(len(data))
	entry.StoredSize = storedTotal
	entry.Chunks = hashes
	entry.ModifiedAt = now
	entry.Version++
	d.meta.UpdatedAt = now

	d.logger.Debug("entry written",
		"path", entryPath,
		"size", entry.Size,
		"chunks", len(hashes),
		"version", entry.Version)

	return entry.Clone(), nil
}

// WriteString stores string content at the given path.
func (d *Dimension) WriteString(entryPath string, content string) (*Entry, error) {
	return d.Write(entryPath, []byte(content))
}

// Read reassembles and returns the content stored at the given path.
// Every chunk is verified against its content hash on the way
// through, so a successful Read is a proof of integrity.
func (d *Dimension) Read(entryPath string) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, d.closedError()
	}
	entry, ok := d.entries[entryPath]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEntryNotFound, entryPath)
	}
	if entry.Kind != KindFile {
		return nil, fmt.Errorf("%w: path %q holds a %s entry", ErrValidation, entryPath, entry.Kind)
	}

	buffer := make([]byte, 0, entry.Size)
	for _, hash := range entry.Chunks {
		chunk, err := d.store.Get(hash)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", entryPath, err)
		}
		buffer = append(buffer, chunk...)
	}

	if int64(len(buffer)) != entry.Size {
		return nil, fmt.Errorf("%w: entry %q reassembled to %d bytes, index says %d",
			ErrChunkCorrupted, entryPath, len(buffer), entry.Size)
	}
	return buffer, nil
}

// ReadString reads the content at the given path as a string.
func (d *Dimension) ReadString(entryPath string) (string, error) {
	data, err := d.Read(entryPath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Stat returns a copy of the entry at the given path.
func (d *Dimension) Stat(entryPath string) (*Entry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, d.closedError()
	}
	entry, ok := d.entries[entryPath]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEntryNotFound, entryPath)
	}
	return entry.Clone(), nil
}

// Exists reports whether an entry exists at the given path.
func (d *Dimension) Exists(entryPath string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	_, ok := d.entries[entryPath]
	return ok
}

// Len returns the number of entries in the dimension.
func (d *Dimension) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// List returns copies of all entries whose path starts with prefix,
// sorted by path. An empty prefix lists everything.
func (d *Dimension) List(prefix string) ([]*Entry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, d.closedError()
	}

	var entries []*Entry
	for entryPath, entry := range d.entries {
		if strings.HasPrefix(entryPath, prefix) {
			entries = append(entries, entry.Clone())
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Mkdir records an explicit directory marker at the given path.
// Idempotent: an existing directory entry is returned unchanged.
func (d *Dimension) Mkdir(entryPath string) (*Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, d.closedError()
	}
	if err := validatePath(entryPath); err != nil {
		return nil, err
	}

	if existing, ok := d.entries[entryPath]; ok {
		if existing.Kind != KindDirectory {
			return nil, fmt.Errorf("%w: path %q holds a %s entry", ErrValidation, entryPath, existing.Kind)
		}
		return existing.Clone(), nil
	}

	now := d.clock.Now()
	entry := &Entry{
		Path:       entryPath,
		Kind:       KindDirectory,
		CreatedAt:  now,
		ModifiedAt: now,
		Version:    1,
	}
	d.entries[entryPath] = entry
	d.meta.UpdatedAt = now
	return entry.Clone(), nil
}

// Delete removes the entry at the given path. For file entries the
// chunks stay in the store (references are never collected), so
// deleting does not reclaim space. For nested dimension entries the
// child's directory tree is removed as well; the child must not be
// open.
func (d *Dimension) Delete(entryPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return d.closedError()
	}
	entry, ok := d.entries[entryPath]
	if !ok {
		return fmt.Errorf("%w: %q", ErrEntryNotFound, entryPath)
	}

	if entry.Kind == KindDimension {
		if child, open := d.children[entryPath]; open && !child.isClosed() {
			return fmt.Errorf("%w: nested dimension %q is open", ErrValidation, entryPath)
		}
		if err := d.fs.RemoveAll(entryPath); err != nil {
			return fmt.Errorf("removing nested dimension %q: %w", entryPath, err)
		}
		delete(d.children, entryPath)
	}

	delete(d.entries, entryPath)
	d.meta.UpdatedAt = d.clock.Now()

	d.logger.Debug("entry deleted", "path", entryPath, "kind", string(entry.Kind))
	return nil
}

// CreateNested creates a child dimension mounted at name. The name
// becomes both the entry path in this dimension and the child's
// directory name on disk, so it must be a single path segment and not
// collide with the engine's reserved files.
//
// The depth limit is enforced before anything touches the filesystem.
// The child inherits this dimension's chunking and compression
// settings for any field left zero in config, shares its plaintext
// cache, and may carry its own independent encryption key.
func (d *Dimension) CreateNested(name string, config Config) (*Dimension, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, d.closedError()
	}
	if err := validateNestedName(name); err != nil {
		return nil, err
	}
	if _, ok := d.entries[name]; ok {
		return nil, fmt.Errorf("%w: entry %q already exists", ErrValidation, name)
	}

	childDepth := d.meta.Depth + 1
	if childDepth > d.config.MaxDepth {
		return nil, fmt.Errorf("%w: depth %d exceeds limit %d", ErrMaxDepthExceeded, childDepth, d.config.MaxDepth)
	}

	merged := d.inheritConfig(config)
	if merged.Name == "" {
		merged.Name = name
	}
	childID := d.meta.ID + "/" + name

	if err := d.fs.MkdirAll(name, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory for nested dimension %q: %w", name, err)
	}

	child, err := openDimension(openParams{
		fs:       afero.NewBasePathFs(d.fs, name),
		id:       childID,
		config:   merged,
		depth:    childDepth,
		parentID: d.meta.ID,
		cache:    d.cache,
		clock:    d.clock,
		logger:   d.baseLogger,
	})
	if err != nil {
		d.fs.RemoveAll(name)
		return nil, fmt.Errorf("creating nested dimension %q: %w", name, err)
	}

	now := d.clock.Now()
	d.children[name] = child
	d.entries[name] = &Entry{
		Path:       name,
		Kind:       KindDimension,
		CreatedAt:  now,
		ModifiedAt: now,
		Version:    1,
		Metadata:   map[string]string{MetadataKeyDimensionID: childID},
	}
	if childDepth > d.meta.MaxDepthSeen {
		d.meta.MaxDepthSeen = childDepth
	}
	d.meta.UpdatedAt = now

	d.logger.Info("nested dimension created", "child", childID, "depth", childDepth)
	return child, nil
}

// OpenNested opens the child dimension mounted at name. If the child
// is already open, the same instance is returned and config is
// ignored. Encrypted children resolve their key like any open:
// config.EncryptionKey first, keyfile sidecar second.
func (d *Dimension) OpenNested(name string, config Config) (*Dimension, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, d.closedError()
	}
	entry, ok := d.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEntryNotFound, name)
	}
	if entry.Kind != KindDimension {
		return nil, fmt.Errorf("%w: path %q holds a %s entry", ErrValidation, name, entry.Kind)
	}

	if child, open := d.children[name]; open && !child.isClosed() {
		return child, nil
	}

	childID := entry.Metadata[MetadataKeyDimensionID]
	if childID == "" {
		childID = d.meta.ID + "/" + name
	}

	child, err := openDimension(openParams{
		fs:       afero.NewBasePathFs(d.fs, name),
		id:       childID,
		config:   d.inheritConfig(config),
		depth:    d.meta.Depth + 1,
		parentID: d.meta.ID,
		cache:    d.cache,
		clock:    d.clock,
		logger:   d.baseLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening nested dimension %q: %w", name, err)
	}

	d.children[name] = child
	return child, nil
}

// inheritConfig fills zero-valued fields of a child configuration
// from this dimension's settings. The encryption key is never
// inherited: children are independently encrypted or plaintext.
func (d *Dimension) inheritConfig(config Config) Config {
	if config.ChunkSize == 0 {
		config.ChunkSize = d.config.ChunkSize
	}
	if config.Codec == "" {
		config.Codec = d.config.Codec
	}
	if config.CompressionLevel == 0 {
		config.CompressionLevel = d.config.CompressionLevel
	}
	if config.MaxDepth == 0 {
		config.MaxDepth = d.config.MaxDepth
	}
	if config.CacheBytes == 0 {
		config.CacheBytes = d.config.CacheBytes
	}
	config.DisableDedup = config.DisableDedup || d.config.DisableDedup
	return config
}

// Flush persists the entry index, chunk records, metadata, and (for
// encrypted dimensions) the keyfile sidecar without closing. Open
// children are flushed first, deepest first.
func (d *Dimension) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return d.closedError()
	}

	var errs []error
	for name, child := range d.children {
		if child.isClosed() {
			continue
		}
		if err := child.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flushing nested dimension %q: %w", name, err))
		}
		d.absorbChildDepth(child)
	}

	if err := d.persistLocked(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close persists all state and marks the dimension closed. Children
// close first, so by the time this dimension's metadata lands on
// disk, everything beneath it is durable. Further operations return
// a validation error. Idempotent.
func (d *Dimension) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}

	var errs []error
	for name, child := range d.children {
		if child.isClosed() {
			continue
		}
		// Close the child first: its own close absorbs depth from its
		// descendants, so absorbing before would miss anything deeper
		// than the immediate child.
		if err := child.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing nested dimension %q: %w", name, err))
		}
		d.absorbChildDepth(child)
	}

	if err := d.persistLocked(); err != nil {
		errs = append(errs, err)
	}

	d.closed = true
	if d.ownsKey && d.key != nil {
		if err := d.key.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	d.logger.Debug("dimension closed",
		"entries", len(d.entries),
		"chunks", d.store.Len(),
		"stored_size", d.meta.StoredSize)
	return errors.Join(errs...)
}

// absorbChildDepth raises this dimension's observed depth to cover a
// child's. Called with d.mu held.
func (d *Dimension) absorbChildDepth(child *Dimension) {
	stats := child.Stats()
	if stats.MaxDepthSeen > d.meta.MaxDepthSeen {
		d.meta.MaxDepthSeen = stats.MaxDepthSeen
	}
}

// persistLocked writes index.json, metadata.json, and the keyfile
// sidecar. Called with d.mu held.
func (d *Dimension) persistLocked() error {
	doc := &indexDocument{
		SchemaVersion: CurrentSchemaVersion,
		Entries:       d.entries,
		Chunks:        d.store.records(),
	}
	if err := writeIndexFile(d.fs, doc); err != nil {
		return err
	}
	if err := writeMetadataFile(d.fs, d.meta); err != nil {
		return err
	}
	if d.meta.Encrypted && d.key != nil {
		if err := writeFileAtomic(d.fs, KeyFileName, d.key.Bytes(), 0o600); err != nil {
			return fmt.Errorf("writing keyfile: %w", err)
		}
	}
	return nil
}

func (d *Dimension) isClosed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

func (d *Dimension) closedError() error {
	return fmt.Errorf("%w: dimension %s is closed", ErrValidation, d.id)
}
