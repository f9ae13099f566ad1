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

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/pocket-foundation/pocket/lib/clock"
)

// DimensionIDPrefix starts every id minted by [Engine.Create].
// Callers with their own naming (the capsule layer mints "cap-" ids)
// pass explicit ids to [Engine.Open] instead.
const DimensionIDPrefix = "dim-"

// NewID mints a fresh top-level dimension id.
func NewID() string {
	return DimensionIDPrefix + uuid.NewString()
}

// Options configures an engine.
type Options struct {
	// Root is the directory holding all top-level dimension
	// directories. Created if absent.
	Root string

	// Fs is the backing filesystem. Nil means the OS filesystem;
	// tests pass afero.NewMemMapFs().
	Fs afero.Fs

	// Logger receives engine and dimension logs. Nil discards.
	Logger *slog.Logger

	// Clock stamps all timestamps. Nil means the wall clock.
	Clock clock.Clock
}

// Engine manages the dimension store root: minting, opening, listing,
// and deleting top-level dimensions. Safe for concurrent use.
//
// The engine deduplicates opens: asking for an id that is already
// open returns the same *Dimension instance.
type Engine struct {
	fs     afero.Fs
	root   string
	clock  clock.Clock
	logger *slog.Logger

	mu         sync.Mutex
	dimensions map[string]*Dimension
	closed     bool
}

// Open creates an engine over the given root directory.
func Open(options Options) (*Engine, error) {
	if options.Root == "" {
		return nil, fmt.Errorf("%w: engine root directory is required", ErrValidation)
	}

	base := options.Fs
	if base == nil {
		base = afero.NewOsFs()
	}
	if err := base.MkdirAll(options.Root, 0o755); err != nil {
		return nil, fmt.Errorf("creating engine root %s: %w", options.Root, err)
	}

	engine := &Engine{
		fs:         afero.NewBasePathFs(base, options.Root),
		root:       options.Root,
		clock:      options.Clock,
		logger:     options.Logger,
		dimensions: make(map[string]*Dimension),
	}
	if engine.clock == nil {
		engine.clock = clock.Real()
	}
	if engine.logger == nil {
		engine.logger = slog.New(slog.DiscardHandler)
	}

	engine.logger.Debug("engine opened", "root", options.Root)
	return engine, nil
}

// Root returns the engine's root directory.
func (e *Engine) Root() string {
	return e.root
}

// Create mints a fresh id and opens a new dimension under it.
func (e *Engine) Create(config Config) (*Dimension, error) {
	return e.Open(NewID(), config)
}

// Open opens the dimension with the given id, initializing it if it
// does not exist yet. An id that is already open returns the existing
// instance with config ignored.
func (e *Engine) Open(id string, config Config) (*Dimension, error) {
	if err := validateDimensionID(id); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, fmt.Errorf("%w: engine is closed", ErrValidation)
	}
	if dim, ok := e.dimensions[id]; ok && !dim.isClosed() {
		return dim, nil
	}

	created := !e.existsLocked(id)
	if err := e.fs.MkdirAll(id, 0o755); err != nil {
		return nil, fmt.Errorf("creating dimension directory %s: %w", id, err)
	}

	dim, err := openDimension(openParams{
		fs:     afero.NewBasePathFs(e.fs, id),
		id:     id,
		config: config,
		depth:  0,
		clock:  e.clock,
		logger: e.logger,
	})
	if err != nil {
		if created {
			e.fs.RemoveAll(id)
		}
		return nil, fmt.Errorf("opening dimension %s: %w", id, err)
	}

	e.dimensions[id] = dim
	if created {
		e.logger.Info("dimension created",
			"dimension", id,
			"codec", dim.config.Codec,
			"encrypted", dim.meta.Encrypted)
	} else {
		e.logger.Info("dimension opened",
			"dimension", id,
			"entries", len(dim.entries),
			"chunks", dim.store.Len())
	}
	return dim, nil
}

// Exists reports whether a dimension with the given id has been
// persisted under the engine root. Dimensions that were created but
// never closed or flushed have no metadata on disk yet and do not
// count.
func (e *Engine) Exists(id string) bool {
	if err := validateDimensionID(id); err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.existsLocked(id)
}

func (e *Engine) existsLocked(id string) bool {
	_, err := e.fs.Stat(id + "/" + metadataFileName)
	return err == nil
}

// Metadata reads a dimension's persisted metadata without opening it.
// Works for encrypted dimensions: metadata is always plaintext.
func (e *Engine) Metadata(id string) (*Metadata, error) {
	if err := validateDimensionID(id); err != nil {
		return nil, err
	}
	return readMetadataFile(afero.NewBasePathFs(e.fs, id))
}

// List returns metadata for every persisted top-level dimension,
// newest first.
func (e *Engine) List() ([]*Metadata, error) {
	infos, err := afero.ReadDir(e.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("listing engine root: %w", err)
	}

	var metas []*Metadata
	for _, info := range infos {
		if !info.IsDir() {
			continue
		}
		meta, err := readMetadataFile(afero.NewBasePathFs(e.fs, info.Name()))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// Not a dimension directory (or never closed); skip.
				continue
			}
			return nil, fmt.Errorf("reading metadata for %s: %w", info.Name(), err)
		}
		metas = append(metas, meta)
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].CreatedAt.After(metas[j].CreatedAt) })
	return metas, nil
}

// Delete removes a dimension and everything beneath it, including
// nested dimensions. An open instance is closed first.
func (e *Engine) Delete(id string) error {
	if err := validateDimensionID(id); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return fmt.Errorf("%w: engine is closed", ErrValidation)
	}

	dim, open := e.dimensions[id]
	if !open {
		// Key off the directory, not persisted metadata: a dimension
		// that was created but never closed still has a directory to
		// clean up.
		if _, err := e.fs.Stat(id); err != nil {
			return fmt.Errorf("dimension %s: %w", id, os.ErrNotExist)
		}
	}

	if open && !dim.isClosed() {
		// The directory is going away, so a failed persist does not
		// block the delete.
		if err := dim.Close(); err != nil {
			e.logger.Warn("closing dimension before delete", "dimension", id, "error", err)
		}
	}
	delete(e.dimensions, id)

	if err := e.fs.RemoveAll(id); err != nil {
		return fmt.Errorf("removing dimension %s: %w", id, err)
	}

	e.logger.Info("dimension deleted", "dimension", id)
	return nil
}

// Close closes every open dimension. The engine is unusable
// afterwards. Idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	for id, dim := range e.dimensions {
		if dim.isClosed() {
			continue
		}
		if err := dim.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing dimension %s: %w", id, err))
		}
	}
	e.dimensions = nil

	e.logger.Debug("engine closed")
	return errors.Join(errs...)
}

// validateDimensionID checks a top-level dimension id. Ids become
// directory names under the engine root: single path segment, no
// traversal, no hidden-file prefix.
func validateDimensionID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty dimension id", ErrValidation)
	}
	if strings.ContainsAny(id, "/\\") || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: dimension id %q must be a single path segment", ErrValidation, id)
	}
	if id == "." || id == ".." || strings.HasPrefix(id, ".") {
		return fmt.Errorf("%w: dimension id %q is not allowed", ErrValidation, id)
	}
	return nil
}
