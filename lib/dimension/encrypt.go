// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package dimension

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/pocket-foundation/pocket/lib/secret"
)

// KeySize is the size in bytes of a dimension master key. Per-chunk
// keys derived from it are the same size.
const KeySize = 32

// EncryptedBlobVersion is the version byte prepended to all encrypted
// chunk blobs. Included as additional authenticated data (AAD) in the
// AEAD Seal/Open call, so tampering with the version byte causes
// authentication failure.
const EncryptedBlobVersion byte = 0x01

// EncryptedBlobOverhead is the total byte overhead per encrypted
// chunk: 1 (version) + 24 (XChaCha20-Poly1305 nonce) + 16 (Poly1305
// tag). Negligible against the default 1 MiB chunk size.
const EncryptedBlobOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// hkdfInfoChunk is the "info" parameter to HKDF-SHA256 for per-chunk
// key derivation, concatenated with the chunk's content hash. It
// namespaces the derivation path; changing it invalidates all
// ciphertext in existing encrypted dimensions.
var hkdfInfoChunk = []byte("pocket.dimension.chunk.v1")

// GenerateKey creates a fresh random dimension master key in guarded
// memory. The returned Buffer must be closed by the caller (or handed
// to a dimension, which closes keys it owns).
func GenerateKey() (*secret.Buffer, error) {
	raw := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		secret.Zero(raw)
		return nil, fmt.Errorf("generating master key: %w", err)
	}
	// NewFromBytes copies into mmap and zeros the heap slice.
	return secret.NewFromBytes(raw)
}

// DeriveChunkKey derives the encryption key for a single chunk from
// the dimension master key and the chunk's content hash. Every chunk
// is encrypted under its own key, so identical master keys never
// produce related ciphertexts across chunks.
//
// The masterKey is borrowed (read via .Bytes()) and is NOT closed by
// this function. The returned Buffer must be closed by the caller.
func DeriveChunkKey(masterKey *secret.Buffer, chunkHash Hash) (*secret.Buffer, error) {
	info := make([]byte, len(hkdfInfoChunk)+len(chunkHash))
	copy(info, hkdfInfoChunk)
	copy(info[len(hkdfInfoChunk):], chunkHash[:])
	return deriveKey(masterKey.Bytes(), info)
}

// EncryptChunk encrypts a chunk payload (after compression) for an
// encrypted dimension. It derives the per-chunk key, encrypts with
// XChaCha20-Poly1305, and returns the blob in the standard format:
//
//	[Version: 1 byte (0x01)] [Nonce: 24 bytes (random)] [Ciphertext+Tag: N+16 bytes]
//
// The chunk's content hash is bound into the AAD, so a blob moved to
// a different chunk path fails authentication on read.
//
// The masterKey is borrowed and NOT closed.
func EncryptChunk(masterKey *secret.Buffer, chunkHash Hash, payload []byte) ([]byte, error) {
	chunkKey, err := DeriveChunkKey(masterKey, chunkHash)
	if err != nil {
		return nil, fmt.Errorf("deriving chunk key: %w", err)
	}
	defer chunkKey.Close()

	return encryptBlob(payload, chunkKey, chunkHash)
}

// DecryptChunk decrypts a blob produced by EncryptChunk. A malformed
// blob, a wrong key, or tampered ciphertext all return an error
// wrapping ErrChunkCorrupted; there is no way to distinguish the
// causes without the right key, and none of them is recoverable.
//
// The masterKey is borrowed and NOT closed.
func DecryptChunk(masterKey *secret.Buffer, chunkHash Hash, blob []byte) ([]byte, error) {
	chunkKey, err := DeriveChunkKey(masterKey, chunkHash)
	if err != nil {
		return nil, fmt.Errorf("deriving chunk key: %w", err)
	}
	defer chunkKey.Close()

	plaintext, err := decryptBlob(blob, chunkKey, chunkHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrChunkCorrupted, FormatRef(chunkHash), err)
	}
	return plaintext, nil
}

// encryptBlob encrypts plaintext using XChaCha20-Poly1305. The
// version byte and identityHash are included as additional
// authenticated data.
func encryptBlob(plaintext []byte, encryptionKey *secret.Buffer, identityHash Hash) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(encryptionKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	// Random 24-byte nonce. XChaCha20's nonce space is large enough
	// that random nonces are safe without counters.
	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}

	aad := buildAAD(EncryptedBlobVersion, identityHash)

	// Allocate output: version + nonce + ciphertext + tag.
	output := make([]byte, 1+chacha20poly1305.NonceSizeX, 1+chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	output[0] = EncryptedBlobVersion
	copy(output[1:], nonce[:])

	// Seal appends the ciphertext+tag to output.
	output = aead.Seal(output, nonce[:], plaintext, aad)
	return output, nil
}

// decryptBlob decrypts a blob produced by encryptBlob. It verifies
// the version byte, extracts the nonce, and authenticates the
// ciphertext against the AAD (version byte + identityHash).
func decryptBlob(encryptedBlob []byte, encryptionKey *secret.Buffer, identityHash Hash) ([]byte, error) {
	if len(encryptedBlob) < EncryptedBlobOverhead {
		return nil, fmt.Errorf("encrypted blob is %d bytes, minimum is %d (version + nonce + tag)",
			len(encryptedBlob), EncryptedBlobOverhead)
	}

	version := encryptedBlob[0]
	if version != EncryptedBlobVersion {
		return nil, fmt.Errorf("encrypted blob version %d is not supported (expected %d)",
			version, EncryptedBlobVersion)
	}

	nonce := encryptedBlob[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := encryptedBlob[1+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(encryptionKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	aad := buildAAD(version, identityHash)

	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("AEAD decryption failed (wrong key, tampered data, or mismatched chunk hash): %w", err)
	}

	return plaintext, nil
}

// deriveKey is the shared HKDF-SHA256 implementation. It derives a
// 32-byte key from inputKeyMaterial using the given info parameter.
// The salt is nil: the IKM is a uniformly random master key, so
// HKDF's extract phase with nil salt (HMAC-SHA256 with zero key) is
// appropriate per RFC 5869.
func deriveKey(inputKeyMaterial []byte, info []byte) (*secret.Buffer, error) {
	reader := hkdf.New(sha256.New, inputKeyMaterial, nil, info)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	// NewFromBytes copies into mmap and zeros the heap slice.
	return secret.NewFromBytes(derived)
}

// buildAAD constructs the additional authenticated data for AEAD
// operations: the version byte followed by the chunk's content hash.
// The hash binds the ciphertext to the specific chunk, preventing
// encrypted blobs from being swapped between chunk paths.
func buildAAD(version byte, identityHash Hash) []byte {
	aad := make([]byte, 1+len(identityHash))
	aad[0] = version
	copy(aad[1:], identityHash[:])
	return aad
}
