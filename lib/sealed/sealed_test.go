// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"filippo.io/age"

	"github.com/pocket-foundation/pocket/lib/secret"
)

// newSecret wraps a string in a secret.Buffer that is closed when the
// test ends.
func newSecret(t *testing.T, value string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromBytes([]byte(value))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

func newKeypair(t *testing.T) *Keypair {
	t.Helper()
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	t.Cleanup(func() { keypair.Close() })
	return keypair
}

func TestGenerateKeypair(t *testing.T) {
	keypair := newKeypair(t)

	if !strings.HasPrefix(keypair.PrivateKey.String(), "AGE-SECRET-KEY-1") {
		t.Error("private key lacks the AGE-SECRET-KEY-1 prefix")
	}
	if !strings.HasPrefix(keypair.PublicKey, "age1") {
		t.Errorf("PublicKey = %q, want prefix age1", keypair.PublicKey)
	}

	// Close is idempotent.
	if err := keypair.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := keypair.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}

func TestGenerateKeypair_Unique(t *testing.T) {
	first := newKeypair(t)
	second := newKeypair(t)

	if first.PublicKey == second.PublicKey {
		t.Error("two generated keypairs have identical public keys")
	}
	if first.PrivateKey.String() == second.PrivateKey.String() {
		t.Error("two generated keypairs have identical private keys")
	}
}

func TestSealUnseal_SingleRecipient(t *testing.T) {
	keypair := newKeypair(t)
	key := newSecret(t, "dimension-master-key-32-bytes!!!")

	ciphertext, err := Seal(key, []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	// Ciphertext is valid base64 and not the plaintext.
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		t.Fatalf("Seal() returned invalid base64: %v", err)
	}
	if bytes.Contains(raw, key.Bytes()) {
		t.Error("ciphertext contains the plaintext key")
	}

	recovered, err := Unseal(ciphertext, keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Unseal() error: %v", err)
	}
	defer recovered.Close()

	if !recovered.Equal(key) {
		t.Error("unsealed key does not match the original")
	}
}

func TestSealUnseal_MultipleRecipients(t *testing.T) {
	primary := newKeypair(t)
	escrow := newKeypair(t)
	key := newSecret(t, "shared-dimension-key")

	ciphertext, err := Seal(key, []string{primary.PublicKey, escrow.PublicKey})
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	// Both identities can unseal independently.
	for name, keypair := range map[string]*Keypair{"primary": primary, "escrow": escrow} {
		recovered, err := Unseal(ciphertext, keypair.PrivateKey)
		if err != nil {
			t.Fatalf("Unseal(%s) error: %v", name, err)
		}
		if !recovered.Equal(key) {
			t.Errorf("Unseal(%s) recovered wrong key", name)
		}
		recovered.Close()
	}
}

func TestUnseal_WrongKey(t *testing.T) {
	keypair := newKeypair(t)
	stranger := newKeypair(t)
	key := newSecret(t, "protected")

	ciphertext, err := Seal(key, []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	if _, err := Unseal(ciphertext, stranger.PrivateKey); err == nil {
		t.Error("Unseal() with the wrong key should return an error")
	}
}

func TestSeal_NoRecipients(t *testing.T) {
	key := newSecret(t, "lonely")

	_, err := Seal(key, nil)
	if err == nil || !strings.Contains(err.Error(), "at least one recipient") {
		t.Errorf("error = %v, want 'at least one recipient'", err)
	}
	if _, err := Seal(key, []string{}); err == nil {
		t.Error("Seal() with empty recipients should return an error")
	}
}

func TestSeal_InvalidRecipientKey(t *testing.T) {
	key := newSecret(t, "data")

	_, err := Seal(key, []string{"not-a-valid-key"})
	if err == nil || !strings.Contains(err.Error(), "parsing recipient key") {
		t.Errorf("error = %v, want 'parsing recipient key'", err)
	}
}

func TestUnseal_InvalidPrivateKey(t *testing.T) {
	keypair := newKeypair(t)
	key := newSecret(t, "data")

	ciphertext, err := Seal(key, []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	_, err = Unseal(ciphertext, newSecret(t, "not-a-valid-private-key"))
	if err == nil || !strings.Contains(err.Error(), "parsing private key") {
		t.Errorf("error = %v, want 'parsing private key'", err)
	}
}

func TestUnseal_InvalidBase64(t *testing.T) {
	keypair := newKeypair(t)

	_, err := Unseal("not-valid-base64!!!", keypair.PrivateKey)
	if err == nil || !strings.Contains(err.Error(), "decoding base64") {
		t.Errorf("error = %v, want 'decoding base64'", err)
	}
}

func TestUnseal_CorruptedCiphertext(t *testing.T) {
	keypair := newKeypair(t)

	corrupted := base64.StdEncoding.EncodeToString([]byte("this is not age ciphertext"))
	if _, err := Unseal(corrupted, keypair.PrivateKey); err == nil {
		t.Error("Unseal() with corrupted ciphertext should return an error")
	}
}

func TestUnseal_EmptyPayload(t *testing.T) {
	keypair := newKeypair(t)

	// Craft a valid age ciphertext holding zero bytes. The restore
	// path treats it as corrupt: a key backup is never empty.
	recipient, err := age.ParseX25519Recipient(keypair.PublicKey)
	if err != nil {
		t.Fatalf("ParseX25519Recipient: %v", err)
	}
	var raw bytes.Buffer
	writer, err := age.Encrypt(&raw, recipient)
	if err != nil {
		t.Fatalf("age.Encrypt: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ciphertext := base64.StdEncoding.EncodeToString(raw.Bytes())
	_, err = Unseal(ciphertext, keypair.PrivateKey)
	if err == nil || !strings.Contains(err.Error(), "empty") {
		t.Errorf("error = %v, want 'empty'", err)
	}
}

func TestSealUnsealWithPassphrase(t *testing.T) {
	key := newSecret(t, "dimension-master-key-32-bytes!!!")
	passphrase := newSecret(t, "correct horse battery staple")

	ciphertext, err := SealWithPassphrase(key, passphrase)
	if err != nil {
		t.Fatalf("SealWithPassphrase() error: %v", err)
	}

	recovered, err := UnsealWithPassphrase(ciphertext, passphrase)
	if err != nil {
		t.Fatalf("UnsealWithPassphrase() error: %v", err)
	}
	defer recovered.Close()

	if !recovered.Equal(key) {
		t.Error("unsealed key does not match the original")
	}
}

func TestUnsealWithPassphrase_WrongPassphrase(t *testing.T) {
	key := newSecret(t, "protected")
	passphrase := newSecret(t, "the real passphrase")

	ciphertext, err := SealWithPassphrase(key, passphrase)
	if err != nil {
		t.Fatalf("SealWithPassphrase() error: %v", err)
	}

	if _, err := UnsealWithPassphrase(ciphertext, newSecret(t, "a guess")); err == nil {
		t.Error("UnsealWithPassphrase() with the wrong passphrase should return an error")
	}
}

func TestPassphraseAndRecipientModesAreDistinct(t *testing.T) {
	keypair := newKeypair(t)
	key := newSecret(t, "cross-mode")
	passphrase := newSecret(t, "open sesame")

	ciphertext, err := SealWithPassphrase(key, passphrase)
	if err != nil {
		t.Fatalf("SealWithPassphrase() error: %v", err)
	}

	// A passphrase-sealed backup cannot be opened with an x25519
	// identity.
	if _, err := Unseal(ciphertext, keypair.PrivateKey); err == nil {
		t.Error("Unseal() opened a passphrase-sealed payload")
	}
}

func TestParsePublicKey(t *testing.T) {
	keypair := newKeypair(t)

	if err := ParsePublicKey(keypair.PublicKey); err != nil {
		t.Errorf("ParsePublicKey(valid) error: %v", err)
	}
	if err := ParsePublicKey("not-a-valid-key"); err == nil {
		t.Error("ParsePublicKey(invalid) should return an error")
	}
	if err := ParsePublicKey(""); err == nil {
		t.Error("ParsePublicKey(empty) should return an error")
	}
}

func TestParsePrivateKey(t *testing.T) {
	keypair := newKeypair(t)

	if err := ParsePrivateKey(keypair.PrivateKey); err != nil {
		t.Errorf("ParsePrivateKey(valid) error: %v", err)
	}
	if err := ParsePrivateKey(newSecret(t, "not-a-valid-key")); err == nil {
		t.Error("ParsePrivateKey(invalid) should return an error")
	}
}
