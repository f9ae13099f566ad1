// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package capsule

import "strings"

// defaultExcludes are the patterns every build applies before caller
// patterns: version-control directories, dependency caches, logs and
// editor droppings. Matching is plain substring against the
// slash-separated relative path, so ".log" also acts as a suffix
// match.
var defaultExcludes = []string{
	".git",
	".svn",
	".hg",
	"node_modules",
	"__pycache__",
	".venv",
	".cache",
	".log",
	".tmp",
	".DS_Store",
}

// DefaultExcludes returns a copy of the built-in exclude patterns.
func DefaultExcludes() []string {
	out := make([]string, len(defaultExcludes))
	copy(out, defaultExcludes)
	return out
}

// pathFilter decides which relative paths a build packages. Excludes
// run first (defaults plus caller patterns); include patterns, when
// present, then act as an allowlist.
type pathFilter struct {
	excludes []string
	includes []string
}

func newPathFilter(excludes, includes []string) *pathFilter {
	merged := make([]string, 0, len(defaultExcludes)+len(excludes))
	merged = append(merged, defaultExcludes...)
	merged = append(merged, excludes...)
	return &pathFilter{excludes: merged, includes: includes}
}

// excluded reports whether relPath matches any exclude pattern.
// Patterns are substrings, not globs: "node_modules" excludes the
// directory at any depth, ".log" excludes every rotated log file.
func (f *pathFilter) excluded(relPath string) bool {
	for _, pattern := range f.excludes {
		if pattern == "" {
			continue
		}
		if strings.Contains(relPath, pattern) {
			return true
		}
	}
	return false
}

// allowed reports whether relPath survives filtering: not excluded,
// and matching at least one include pattern when an allowlist is set.
func (f *pathFilter) allowed(relPath string) bool {
	if f.excluded(relPath) {
		return false
	}
	if len(f.includes) == 0 {
		return true
	}
	for _, pattern := range f.includes {
		if pattern == "" {
			continue
		}
		if strings.Contains(relPath, pattern) {
			return true
		}
	}
	return false
}
