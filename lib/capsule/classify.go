// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package capsule

import (
	"path"
	"strings"
)

// FileKind categorizes a packaged file by its role in the application.
// The kind is advisory metadata for tooling (listings, selective
// extraction); it never affects how bytes are stored.
type FileKind string

const (
	// KindSource is program text: anything a build step compiles or a
	// runtime interprets.
	KindSource FileKind = "source"

	// KindAsset is static content served or displayed as-is: images,
	// fonts, media.
	KindAsset FileKind = "asset"

	// KindConfig is machine-read configuration and lockfiles.
	KindConfig FileKind = "config"

	// KindData is everything without a more specific home, documents
	// and datasets included.
	KindData FileKind = "data"

	// KindBinary is compiled or packed output: executables, shared
	// objects, archives.
	KindBinary FileKind = "binary"
)

// kindByExtension maps lowercased file extensions to their kind.
// Unlisted extensions classify as KindData.
var kindByExtension = map[string]FileKind{
	// Source.
	".c": KindSource, ".cc": KindSource, ".cpp": KindSource, ".h": KindSource,
	".hpp": KindSource, ".go": KindSource, ".rs": KindSource, ".py": KindSource,
	".rb": KindSource, ".js": KindSource, ".mjs": KindSource, ".cjs": KindSource,
	".ts": KindSource, ".jsx": KindSource, ".tsx": KindSource, ".java": KindSource,
	".kt": KindSource, ".swift": KindSource, ".php": KindSource, ".lua": KindSource,
	".pl": KindSource, ".sh": KindSource, ".bash": KindSource, ".zsh": KindSource,
	".sql": KindSource, ".html": KindSource, ".htm": KindSource, ".css": KindSource,
	".scss": KindSource, ".less": KindSource, ".vue": KindSource, ".svelte": KindSource,

	// Assets.
	".png": KindAsset, ".jpg": KindAsset, ".jpeg": KindAsset, ".gif": KindAsset,
	".svg": KindAsset, ".ico": KindAsset, ".webp": KindAsset, ".bmp": KindAsset,
	".mp3": KindAsset, ".mp4": KindAsset, ".wav": KindAsset, ".ogg": KindAsset,
	".webm": KindAsset, ".ttf": KindAsset, ".otf": KindAsset, ".woff": KindAsset,
	".woff2": KindAsset, ".eot": KindAsset, ".pdf": KindAsset,

	// Configuration.
	".json": KindConfig, ".yaml": KindConfig, ".yml": KindConfig, ".toml": KindConfig,
	".ini": KindConfig, ".cfg": KindConfig, ".conf": KindConfig, ".env": KindConfig,
	".properties": KindConfig, ".xml": KindConfig, ".lock": KindConfig,

	// Binaries and archives.
	".so": KindBinary, ".dylib": KindBinary, ".dll": KindBinary, ".a": KindBinary,
	".o": KindBinary, ".exe": KindBinary, ".bin": KindBinary, ".wasm": KindBinary,
	".tar": KindBinary, ".gz": KindBinary, ".tgz": KindBinary, ".zip": KindBinary,
	".bz2": KindBinary, ".xz": KindBinary, ".zst": KindBinary, ".7z": KindBinary,
	".jar": KindBinary, ".war": KindBinary,
}

// Classify returns the kind for a file path based on its extension.
// Unknown extensions, and files without one, are KindData.
func Classify(filePath string) FileKind {
	ext := strings.ToLower(path.Ext(filePath))
	if kind, ok := kindByExtension[ext]; ok {
		return kind
	}
	return KindData
}

// ValidFileKind reports whether kind is one of the five known kinds.
func ValidFileKind(kind FileKind) bool {
	switch kind {
	case KindSource, KindAsset, KindConfig, KindData, KindBinary:
		return true
	}
	return false
}
