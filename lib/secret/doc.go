// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for sensitive data such
// as dimension encryption keys, age identities, and passphrases.
//
// [Buffer] allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock (preventing swap), and marks it
// excluded from core dumps via madvise(MADV_DONTDUMP). On Close, the
// memory is zeroed, unlocked, and unmapped. Because the memory lives
// outside the Go heap, the garbage collector cannot copy or relocate
// it, guaranteeing secret material does not persist after release.
//
// Constructors:
//
//   - [New] -- allocates a zero-filled buffer of a given size
//   - [NewFromBytes] -- copies into protected memory, zeros the source
//   - [ReadFile] -- loads a key sidecar file from a backing filesystem
//   - [ReadFromPath] -- loads a trimmed text secret from a path or stdin
//
// Access via [Buffer.Bytes] (slice into the mmap region) or
// [Buffer.String] (heap copy for API boundaries). After Close, any
// access panics. Close is idempotent.
//
// Depends on golang.org/x/sys/unix and spf13/afero. No pocket-internal
// dependencies. Imported by lib/dimension for key material and by
// lib/sealed for age identities.
package secret
