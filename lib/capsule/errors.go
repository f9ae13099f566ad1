// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package capsule

import "errors"

// ErrCapsuleNotFound is returned when the requested capsule id has no
// persisted dimension under the engine root.
var ErrCapsuleNotFound = errors.New("capsule not found")

// ErrManifestIntegrity is returned when the stored manifest bytes do
// not hash to the checksum recorded in the capsule metadata, or when a
// file's bytes do not match its manifest hash. Loading aborts before
// any target files are written.
var ErrManifestIntegrity = errors.New("capsule manifest integrity check failed")
