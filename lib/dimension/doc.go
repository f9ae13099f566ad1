// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

// Package dimension implements the content-addressed storage engine
// behind pocket dimensions: isolated, path-keyed stores whose content
// is chunked, deduplicated, compressed, and optionally encrypted. The
// capsule packaging layer, FUSE mount, and CLI all build on it.
//
// The package is organized in layers, each usable independently:
//
//   - Hashing: BLAKE3 with domain-separated keyed mode. Three domains
//     (dimension chunk, capsule manifest, capsule content) prevent
//     cross-domain collisions over identical bytes. Chunk hashes are
//     computed on plaintext, so deduplication is unaffected by codec
//     or encryption settings.
//
//   - Chunking: fixed-size splitting, 1 MiB by default, configurable
//     per dimension within [MinChunkSize, MaxChunkSize]. The final
//     chunk of an entry carries the remainder.
//
//   - Compression: per-chunk transparent compression with four codecs
//     (none, deflate, lz4, zstd) and a per-chunk fallback to none when
//     compression does not shrink the payload. The codec actually used
//     is recorded on each chunk record.
//
//   - Encryption: optional XChaCha20-Poly1305 with a per-dimension
//     master key held in guarded memory (lib/secret) and per-chunk
//     keys derived via HKDF-SHA256. The chunk's content hash is bound
//     into the AAD, so blobs cannot be swapped between chunk paths.
//
//   - Chunk store: flat content-addressed files under chunks/, named
//     by full hex hash, written atomically (temp file + rename). Reads
//     decode and re-verify the content hash before returning.
//
//   - Dimension: the path-keyed API (Write, Read, List, Stat, Delete,
//     Mkdir) over an in-memory entry index, plus nested child
//     dimensions with a configurable depth limit. The index and
//     metadata persist as JSON on Close or Flush; chunk files persist
//     immediately.
//
//   - Engine: the store root. Mints "dim-" ids, opens dimensions by
//     id, lists persisted metadata (always plaintext, so encrypted
//     dimensions list without a key), and deletes dimension trees.
//
// Entries are pure metadata over chunk references. Deleting an entry
// never removes chunks: aggregates are grow-only and space is
// reclaimed only by deleting whole dimensions.
package dimension
