// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package dimension

import "errors"

// Sentinel errors returned by the storage engine. Callers match them
// with errors.Is; the returned errors wrap these with the path, hash,
// or dimension id involved.
var (
	// ErrEntryNotFound indicates no entry exists at the requested path.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrChunkNotFound indicates a referenced chunk is absent from the
	// chunk store (unknown hash, or index record without backing file).
	ErrChunkNotFound = errors.New("chunk not found")

	// ErrChunkCorrupted indicates stored chunk bytes failed
	// authentication, decompression, or content-hash verification.
	// Corruption is fatal: the engine never retries or silently
	// substitutes data.
	ErrChunkCorrupted = errors.New("chunk corrupted")

	// ErrMissingEncryptionKey indicates a dimension is marked encrypted
	// but neither a caller-supplied key nor a keyfile sidecar is
	// available. The engine fails hard instead of returning ciphertext.
	ErrMissingEncryptionKey = errors.New("missing encryption key")

	// ErrMaxDepthExceeded indicates creating a nested dimension would
	// exceed the configured maximum nesting depth.
	ErrMaxDepthExceeded = errors.New("max nesting depth exceeded")

	// ErrValidation indicates invalid input: a malformed path, an
	// out-of-range configuration value, or an operation that conflicts
	// with the existing entry kind. Validation errors are rejected
	// before any I/O.
	ErrValidation = errors.New("validation failed")
)
