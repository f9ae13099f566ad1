// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Pocket packages.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// that individual tests do not need direct time.After calls. These are
// the only place in the test suite where real wall-clock timeouts are
// used; everything else stamps time through lib/clock.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation. Use it instead of time.Now() when tests need unique
// entry paths, dimension names, or capsule names distinguishable
// across subtests.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no pocket-internal dependencies.
package testutil
