// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package dimension

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 keyed hash. The key is a fixed domain
// constant, so hashes from different contexts (chunk content, capsule
// manifests, capsule content rollups) can never collide with each
// other even over identical input bytes.
type Hash [32]byte

// domainKey is a BLAKE3 key that namespaces a hash computation.
// Keys are ASCII strings zero-padded to the 32-byte key size.
type domainKey [32]byte

var (
	// chunkDomainKey namespaces chunk content hashes ("pocket.dimension.chunk").
	chunkDomainKey = domainKey{
		'p', 'o', 'c', 'k', 'e', 't', '.',
		'd', 'i', 'm', 'e', 'n', 's', 'i', 'o', 'n', '.',
		'c', 'h', 'u', 'n', 'k',
	}

	// manifestDomainKey namespaces capsule manifest hashes ("pocket.capsule.manifest").
	manifestDomainKey = domainKey{
		'p', 'o', 'c', 'k', 'e', 't', '.',
		'c', 'a', 'p', 's', 'u', 'l', 'e', '.',
		'm', 'a', 'n', 'i', 'f', 'e', 's', 't',
	}

	// contentDomainKey namespaces capsule content rollup hashes ("pocket.capsule.content").
	contentDomainKey = domainKey{
		'p', 'o', 'c', 'k', 'e', 't', '.',
		'c', 'a', 'p', 's', 'u', 'l', 'e', '.',
		'c', 'o', 'n', 't', 'e', 'n', 't',
	}
)

// keyedHash computes the BLAKE3 keyed hash of data under the given
// domain key.
func keyedHash(key domainKey, data []byte) Hash {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		// NewKeyed fails only for wrong key sizes; domainKey is
		// always exactly 32 bytes.
		panic(fmt.Sprintf("dimension: creating keyed hasher: %v", err))
	}
	hasher.Write(data)
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// HashChunk computes the content address of a plaintext chunk.
// Identical bytes always produce identical hashes, which is what makes
// deduplication and self-verification work.
func HashChunk(data []byte) Hash {
	return keyedHash(chunkDomainKey, data)
}

// HashManifest computes the integrity hash of serialized capsule
// manifest bytes.
func HashManifest(data []byte) Hash {
	return keyedHash(manifestDomainKey, data)
}

// HashContent computes a rollup hash over capsule content, typically
// the concatenation of the file hashes in manifest order.
func HashContent(data []byte) Hash {
	return keyedHash(contentDomainKey, data)
}

// FormatHash renders a hash as a 64-character lowercase hex string.
// This form names chunk files on disk and appears in persisted
// documents.
func FormatHash(hash Hash) string {
	return hex.EncodeToString(hash[:])
}

// ParseHash parses the hex form produced by FormatHash.
func ParseHash(hexString string) (Hash, error) {
	var hash Hash
	if len(hexString) != hex.EncodedLen(len(hash)) {
		return Hash{}, fmt.Errorf("hash must be %d hex characters, got %d", hex.EncodedLen(len(hash)), len(hexString))
	}
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return Hash{}, fmt.Errorf("parsing hash: %w", err)
	}
	copy(hash[:], decoded)
	return hash, nil
}

// FormatRef renders the short display form of a chunk hash, "chk-"
// followed by the first 12 hex characters. Used in logs and CLI output
// where the full hash would be noise.
func FormatRef(hash Hash) string {
	return "chk-" + FormatHash(hash)[:12]
}

// MarshalText implements encoding.TextMarshaler so hashes serialize as
// hex strings in JSON and CBOR documents, including as map keys.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(FormatHash(h)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
