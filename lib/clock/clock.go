// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source for testability.
//
// Production code that stamps timestamps (entry modification times,
// chunk access times, capsule creation times) accepts a Clock instead
// of calling time.Now directly. Real() provides standard library
// behavior; Fake() provides a deterministic clock that moves only when
// the test says so.
package clock

import "time"

// Clock abstracts the current time. Every production function that
// would call time.Now should accept a Clock parameter or be a method
// on a struct with a Clock field.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the time elapsed since t, measured against Now.
	Since(t time.Time) time.Duration
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Since(t time.Time) time.Duration { return time.Since(t) }
