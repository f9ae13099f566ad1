// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"
)

var uniqueCounter atomic.Uint64

// UniqueID returns a string of the form "prefix-N" where N is a
// monotonically increasing integer. Use this instead of time.Now()
// when tests need unique identifiers for entry paths, dimension names,
// or capsule names that must be distinguishable across subtests.
//
//	path := testutil.UniqueID("doc")      // "doc-1", "doc-2", ...
//	name := testutil.UniqueID("nested")   // "nested-3", ...
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}
