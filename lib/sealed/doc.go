// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed provides age encryption for dimension master keys.
// It wraps filippo.io/age for the key backup workflow: generate x25519
// keypairs, seal a key to recipients or under a passphrase, and unseal
// it again during restore.
//
// Ciphertext is base64-encoded so backups travel as plain text.
// Private keys, passphrases, and recovered keys all live in
// [secret.Buffer] values backed by mmap memory outside the Go heap
// (locked against swap, excluded from core dumps, zeroed on Close).
//
// Key exports:
//
//   - [GenerateKeypair] -- new age x25519 keypair in a secret.Buffer
//   - [Seal] / [Unseal] -- recipient mode (age x25519 public keys)
//   - [SealWithPassphrase] / [UnsealWithPassphrase] -- scrypt passphrase mode
//   - [ParsePublicKey] / [ParsePrivateKey] -- key validation
//
// Used by the key backup and restore commands.
//
// Depends on lib/secret for secure memory allocation.
package sealed
