// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the pocket
// CLI.
//
// Configuration is loaded from a single file specified by either the
// POCKET_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. This keeps the effective configuration
// deterministic and auditable, with no hidden overrides. When no file
// is given at all, [Default] alone is a usable configuration rooted at
// ~/.pocket.
//
// The configuration file supports per-environment override subtrees
// under an environments key (development, staging, production). The
// subtree matching [Config].Environment is folded into the base values
// at load time; POCKET_ENV, when set, selects the active environment
// instead of the file's environment field.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${VAR:-default}, and a leading ~ are expanded. No other
// environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Root, Logging, Chunk, Cache,
//     Capsule, and Mount sections
//   - [Default] -- returns a Config with usable defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other pocket packages.
package config
