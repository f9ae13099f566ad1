// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

// Package capsule packages application directory trees into portable,
// verifiable units stored as pocket dimensions. A capsule is one
// dimension holding the application files at their relative paths plus
// two reserved documents under __capsule__/: the manifest (the file
// inventory with per-file content hashes, plus entry point, commands,
// environment, and dependency pins) and the metadata document (identity,
// build-time stats, and the checksums that seal the manifest).
//
// Integrity is layered. Each file's hash is recorded in the manifest;
// the manifest's own hash and an aggregate content hash over the
// per-file hashes are recorded in the metadata. Loading verifies both
// document checksums before anything else, and extraction re-verifies
// every file against its manifest hash as it is written out. Any
// mismatch aborts with ErrManifestIntegrity.
//
// The package offers four ways to consume a capsule:
//
//   - ExtractToPath materializes the tree on disk.
//
//   - VirtualFS serves file reads directly from the chunk store
//     through a byte-bounded cache, without touching the filesystem.
//
//   - The fuse subpackage mounts a VirtualFS as a read-only
//     filesystem for applications that expect real paths.
//
//   - Export and Import move a capsule between engines as one
//     compressed stream, preserving its identity and checksums.
//
// Capsules are immutable once built. There is no update operation;
// rebuilding produces a new capsule with a new id.
package capsule
