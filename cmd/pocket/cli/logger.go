// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewCommandLogger creates a structured logger for CLI command
// operations. The level and format strings follow the config package:
// level is one of debug, info, warn, error (unknown values fall back
// to info), and format is "text" or "json". An empty format picks
// text output when stderr is a terminal and JSON when stderr is piped
// or redirected (CI, scripts), keeping machine consumers on the same
// format the engine logs in.
//
// Callers scope the logger with command-specific context via With():
//
//	logger := cli.NewCommandLogger("info", "").With(
//	    "command", "capsule/build",
//	    "capsule", manifest.ID,
//	)
func NewCommandLogger(level, format string) *slog.Logger {
	options := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	switch {
	case format == "json":
		handler = slog.NewJSONHandler(os.Stderr, options)
	case format == "text":
		handler = slog.NewTextHandler(os.Stderr, options)
	case term.IsTerminal(int(os.Stderr.Fd())):
		handler = slog.NewTextHandler(os.Stderr, options)
	default:
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}

// parseLevel maps a config level string to a slog.Level.
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
