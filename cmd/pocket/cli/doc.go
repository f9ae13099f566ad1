// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the pocket unified CLI.
//
// The central type is [Command], which represents a named subcommand with
// optional nested [Command.Subcommands], a [pflag.FlagSet] factory, and a
// Run function. Commands are assembled into a tree in cmd/pocket/main.go
// and dispatched via [Command.Execute], which handles flag parsing,
// subcommand routing, and structured help output with examples.
//
// When a user types an unknown subcommand or flag, the framework computes
// Levenshtein edit distance against all known names and suggests the
// closest match (threshold: distance <= 3). This is implemented in
// suggest.go.
//
// The package also provides the shared bootstrap used by CLI
// subcommand packages:
//
//   - [EngineConfig] / [EngineConfig.Open]: resolves the pocket.yaml
//     configuration (--config flag, then POCKET_CONFIG, then built-in
//     defaults), applies the --root override, and opens the storage
//     engine. Embedded by every command that touches dimensions.
//
//   - [NewCommandLogger]: constructs the slog logger for command
//     output, picking text or JSON by terminal detection unless the
//     config or --log-json decides.
//
//   - [JSONOutput] / [EmitJSON]: the --json flag convention for
//     commands whose output feeds scripts.
//
// Flag definitions are declarative: parameter structs carry flag tags
// and [FlagsFromParams] reflects them into a [pflag.FlagSet]
// (params.go).
package cli
