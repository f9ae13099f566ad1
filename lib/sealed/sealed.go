// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/pocket-foundation/pocket/lib/secret"
)

// Keypair holds an age x25519 keypair. The private key lives in a
// secret.Buffer (mmap-backed, locked against swap, excluded from core
// dumps). The public key is a plain string, safe to publish.
//
// The caller must call Close when the keypair is no longer needed.
type Keypair struct {
	// PrivateKey is the identity in AGE-SECRET-KEY-1... format, held
	// in mmap memory outside the Go heap. Must never be logged or
	// passed on a command line.
	PrivateKey *secret.Buffer

	// PublicKey is the corresponding recipient in age1... format.
	PublicKey string
}

// Close releases the private key memory. Idempotent.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair generates a new age x25519 keypair with the private
// key in a secret.Buffer. The caller must Close the returned Keypair.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}

	// Move the private key into mmap-backed memory immediately. The
	// identity's own string copy is on the heap and will be collected;
	// the buffer is the durable copy.
	privateKey, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}

	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// Seal encrypts a dimension master key to one or more recipients given
// as age public key strings (age1... format), returning the ciphertext
// as standard base64. The key buffer is borrowed, not closed.
func Seal(key *secret.Buffer, recipientKeys []string) (string, error) {
	if len(recipientKeys) == 0 {
		return "", fmt.Errorf("at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, recipientKey := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(recipientKey)
		if err != nil {
			return "", fmt.Errorf("parsing recipient key %q: %w", recipientKey, err)
		}
		recipients = append(recipients, recipient)
	}
	return seal(key, recipients...)
}

// SealWithPassphrase encrypts a dimension master key under a
// passphrase using age's scrypt recipient, returning base64
// ciphertext. Both buffers are borrowed, not closed.
func SealWithPassphrase(key, passphrase *secret.Buffer) (string, error) {
	// The age API takes the passphrase as a string; the heap copy is
	// brief and request-scoped.
	recipient, err := age.NewScryptRecipient(passphrase.String())
	if err != nil {
		return "", fmt.Errorf("preparing passphrase recipient: %w", err)
	}
	return seal(key, recipient)
}

// Unseal decrypts base64 ciphertext with an age private key and
// returns the recovered key bytes in a fresh secret.Buffer. The
// identity buffer is borrowed, not closed. The caller must Close the
// returned buffer.
func Unseal(ciphertext string, identity *secret.Buffer) (*secret.Buffer, error) {
	parsed, err := age.ParseX25519Identity(identity.String())
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return unseal(ciphertext, parsed)
}

// UnsealWithPassphrase decrypts base64 ciphertext produced by
// SealWithPassphrase. The passphrase buffer is borrowed, not closed.
func UnsealWithPassphrase(ciphertext string, passphrase *secret.Buffer) (*secret.Buffer, error) {
	identity, err := age.NewScryptIdentity(passphrase.String())
	if err != nil {
		return nil, fmt.Errorf("preparing passphrase identity: %w", err)
	}
	return unseal(ciphertext, identity)
}

func seal(key *secret.Buffer, recipients ...age.Recipient) (string, error) {
	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipients...)
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(key.Bytes()); err != nil {
		return "", fmt.Errorf("sealing key: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalizing age encryption: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext.Bytes()), nil
}

func unseal(ciphertext string, identity age.Identity) (*secret.Buffer, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decoding base64 ciphertext: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return nil, fmt.Errorf("unsealing: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading unsealed key: %w", err)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("sealed payload is empty")
	}

	// Move the recovered key into mmap-backed memory. NewFromBytes
	// zeros the heap copy on success.
	buffer, err := secret.NewFromBytes(plaintext)
	if err != nil {
		for index := range plaintext {
			plaintext[index] = 0
		}
		return nil, fmt.Errorf("protecting unsealed key: %w", err)
	}
	return buffer, nil
}

// ParsePublicKey validates an age public key string.
func ParsePublicKey(publicKey string) error {
	if _, err := age.ParseX25519Recipient(publicKey); err != nil {
		return fmt.Errorf("invalid age public key: %w", err)
	}
	return nil
}

// ParsePrivateKey validates an age private key held in a secret.Buffer.
func ParsePrivateKey(privateKey *secret.Buffer) error {
	if _, err := age.ParseX25519Identity(privateKey.String()); err != nil {
		return fmt.Errorf("invalid age private key: %w", err)
	}
	return nil
}
