// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package dimension

import (
	"bytes"
	"errors"
	"testing"

	"github.com/pocket-foundation/pocket/lib/secret"
)

// testMasterKey creates a deterministic 32-byte master key for tests.
// The key is derived from a fixed seed so tests are reproducible.
func testMasterKey(t *testing.T) *secret.Buffer {
	t.Helper()
	key := [KeySize]byte{
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
		0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18,
		0x19, 0x1a, 0x1b, 0x1c, 0x1d, 0x1e, 0x1f, 0x20,
	}
	buffer, err := secret.NewFromBytes(key[:])
	if err != nil {
		t.Fatal(err)
	}
	return buffer
}

// testMasterKeyAlternate creates a different deterministic master key
// for testing that different keys produce different outputs.
func testMasterKeyAlternate(t *testing.T) *secret.Buffer {
	t.Helper()
	key := [KeySize]byte{
		0xf0, 0xe1, 0xd2, 0xc3, 0xb4, 0xa5, 0x96, 0x87,
		0x78, 0x69, 0x5a, 0x4b, 0x3c, 0x2d, 0x1e, 0x0f,
		0x0f, 0x1e, 0x2d, 0x3c, 0x4b, 0x5a, 0x69, 0x78,
		0x87, 0x96, 0xa5, 0xb4, 0xc3, 0xd2, 0xe1, 0xf0,
	}
	buffer, err := secret.NewFromBytes(key[:])
	if err != nil {
		t.Fatal(err)
	}
	return buffer
}

func TestGenerateKey(t *testing.T) {
	key1, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	defer key1.Close()

	if key1.Len() != KeySize {
		t.Fatalf("generated key is %d bytes, want %d", key1.Len(), KeySize)
	}

	key2, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	defer key2.Close()

	if key1.Equal(key2) {
		t.Error("two generated keys should not be identical")
	}
}

func TestDeriveChunkKeyDeterministic(t *testing.T) {
	masterKey := testMasterKey(t)
	defer masterKey.Close()
	chunkHash := HashChunk([]byte("chunk content"))

	key1, err := DeriveChunkKey(masterKey, chunkHash)
	if err != nil {
		t.Fatal(err)
	}
	defer key1.Close()

	key2, err := DeriveChunkKey(masterKey, chunkHash)
	if err != nil {
		t.Fatal(err)
	}
	defer key2.Close()

	if !key1.Equal(key2) {
		t.Error("same master key + same chunk hash should produce identical chunk keys")
	}
}

func TestDeriveChunkKeyVariesWithHash(t *testing.T) {
	masterKey := testMasterKey(t)
	defer masterKey.Close()

	key1, err := DeriveChunkKey(masterKey, HashChunk([]byte("chunk a")))
	if err != nil {
		t.Fatal(err)
	}
	defer key1.Close()

	key2, err := DeriveChunkKey(masterKey, HashChunk([]byte("chunk b")))
	if err != nil {
		t.Fatal(err)
	}
	defer key2.Close()

	if key1.Equal(key2) {
		t.Error("different chunk hashes should produce different chunk keys")
	}
}

func TestDeriveChunkKeyVariesWithMasterKey(t *testing.T) {
	masterKey1 := testMasterKey(t)
	defer masterKey1.Close()
	masterKey2 := testMasterKeyAlternate(t)
	defer masterKey2.Close()
	chunkHash := HashChunk([]byte("chunk content"))

	key1, err := DeriveChunkKey(masterKey1, chunkHash)
	if err != nil {
		t.Fatal(err)
	}
	defer key1.Close()

	key2, err := DeriveChunkKey(masterKey2, chunkHash)
	if err != nil {
		t.Fatal(err)
	}
	defer key2.Close()

	if key1.Equal(key2) {
		t.Error("different master keys should produce different chunk keys")
	}
}

func TestEncryptDecryptChunkRoundtrip(t *testing.T) {
	masterKey := testMasterKey(t)
	defer masterKey.Close()

	payload := []byte("compressed chunk payload bytes")
	chunkHash := HashChunk(payload)

	blob, err := EncryptChunk(masterKey, chunkHash, payload)
	if err != nil {
		t.Fatalf("EncryptChunk failed: %v", err)
	}

	if len(blob) != len(payload)+EncryptedBlobOverhead {
		t.Errorf("blob size = %d, want payload %d + overhead %d",
			len(blob), len(payload), EncryptedBlobOverhead)
	}
	if blob[0] != EncryptedBlobVersion {
		t.Errorf("blob version byte = %#x, want %#x", blob[0], EncryptedBlobVersion)
	}

	plaintext, err := DecryptChunk(masterKey, chunkHash, blob)
	if err != nil {
		t.Fatalf("DecryptChunk failed: %v", err)
	}
	if !bytes.Equal(plaintext, payload) {
		t.Error("decrypted payload does not match original")
	}
}

func TestEncryptChunkNonceVaries(t *testing.T) {
	masterKey := testMasterKey(t)
	defer masterKey.Close()

	payload := []byte("same payload")
	chunkHash := HashChunk(payload)

	blob1, err := EncryptChunk(masterKey, chunkHash, payload)
	if err != nil {
		t.Fatal(err)
	}
	blob2, err := EncryptChunk(masterKey, chunkHash, payload)
	if err != nil {
		t.Fatal(err)
	}

	if bytes.Equal(blob1, blob2) {
		t.Error("two encryptions of the same payload should differ (random nonce)")
	}
}

func TestDecryptChunkWrongKey(t *testing.T) {
	masterKey := testMasterKey(t)
	defer masterKey.Close()
	wrongKey := testMasterKeyAlternate(t)
	defer wrongKey.Close()

	payload := []byte("payload")
	chunkHash := HashChunk(payload)

	blob, err := EncryptChunk(masterKey, chunkHash, payload)
	if err != nil {
		t.Fatal(err)
	}

	_, err = DecryptChunk(wrongKey, chunkHash, blob)
	if err == nil {
		t.Fatal("decryption with the wrong key should fail")
	}
	if !errors.Is(err, ErrChunkCorrupted) {
		t.Errorf("expected ErrChunkCorrupted, got: %v", err)
	}
}

func TestDecryptChunkWrongHash(t *testing.T) {
	// The chunk hash is bound into the AAD and the key derivation, so
	// a blob presented under a different hash must fail.
	masterKey := testMasterKey(t)
	defer masterKey.Close()

	payload := []byte("payload")
	blob, err := EncryptChunk(masterKey, HashChunk(payload), payload)
	if err != nil {
		t.Fatal(err)
	}

	_, err = DecryptChunk(masterKey, HashChunk([]byte("other chunk")), blob)
	if err == nil {
		t.Fatal("decryption under a different chunk hash should fail")
	}
	if !errors.Is(err, ErrChunkCorrupted) {
		t.Errorf("expected ErrChunkCorrupted, got: %v", err)
	}
}

func TestDecryptChunkTampered(t *testing.T) {
	masterKey := testMasterKey(t)
	defer masterKey.Close()

	payload := []byte("payload that will be tampered with")
	chunkHash := HashChunk(payload)

	blob, err := EncryptChunk(masterKey, chunkHash, payload)
	if err != nil {
		t.Fatal(err)
	}

	// Flip one ciphertext bit.
	tampered := bytes.Clone(blob)
	tampered[len(tampered)-1] ^= 0x01

	_, err = DecryptChunk(masterKey, chunkHash, tampered)
	if err == nil {
		t.Fatal("decryption of tampered blob should fail")
	}
	if !errors.Is(err, ErrChunkCorrupted) {
		t.Errorf("expected ErrChunkCorrupted, got: %v", err)
	}
}

func TestDecryptChunkMalformed(t *testing.T) {
	masterKey := testMasterKey(t)
	defer masterKey.Close()
	chunkHash := HashChunk([]byte("payload"))

	tests := []struct {
		name string
		blob []byte
	}{
		{"empty", nil},
		{"too short", make([]byte, EncryptedBlobOverhead-1)},
		{"bad version", append([]byte{0x7f}, make([]byte, EncryptedBlobOverhead)...)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := DecryptChunk(masterKey, chunkHash, test.blob)
			if err == nil {
				t.Fatal("decryption of malformed blob should fail")
			}
			if !errors.Is(err, ErrChunkCorrupted) {
				t.Errorf("expected ErrChunkCorrupted, got: %v", err)
			}
		})
	}
}
