// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Pocket's standard CBOR encoding configuration.
//
// Pocket uses two serialization formats with a clear boundary:
//
//   - JSON for the persisted dimension layout and CLI output:
//     metadata.json, index.json, capsule manifests and metadata. These
//     are human-inspectable documents with fixed struct-driven field
//     order.
//   - CBOR for the capsule export stream: framed header and per-file
//     messages inside a portable single-file archive.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every Pocket package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (export/import streams):
//
//	encoder := codec.NewEncoder(w)
//	decoder := codec.NewDecoder(r)
//
// # Struct Tag Rules
//
// The struct tag on a type documents its serialization format:
//
//   - `cbor` tag: this type is ONLY ever serialized as CBOR, never as
//     JSON. Examples: export stream envelopes.
//   - `json` tag: this type may be serialized as BOTH JSON and CBOR.
//     fxamacker/cbor v2 reads `json` tags as fallback when `cbor` tags
//     are absent, so a single `json` tag controls field naming and
//     omitempty for both formats. Examples: capsule metadata embedded
//     in both the on-disk layout and the export stream header.
//
// Never use both `cbor` and `json` tags on the same field. The tag
// choice documents the contract — doubling up is noise that obscures
// whether a type participates in JSON serialization.
package codec
