// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/afero"
)

// MaxKeyFileSize bounds how much ReadFile will load. Key sidecar files
// are 32 bytes; anything near this limit is not a key.
const MaxKeyFileSize = 4096

// ReadFile loads a key sidecar file from the given filesystem into a
// protected buffer. The file contents are used raw — no trimming —
// because key material is binary and may begin or end with bytes that
// look like whitespace. The heap copy made while reading is zeroed
// before returning.
func ReadFile(fsys afero.Fs, path string) (*Buffer, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("secret: %s is empty", path)
	}
	if info.Size() > MaxKeyFileSize {
		return nil, fmt.Errorf("secret: %s is %d bytes, larger than any key material (max %d)",
			path, info.Size(), MaxKeyFileSize)
	}

	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, err
	}

	// NewFromBytes copies into mmap-backed memory and zeros data.
	return NewFromBytes(data)
}

// ReadFromPath reads a text secret from a file path, or from stdin if
// path is "-". Leading and trailing whitespace is trimmed before
// storing, which suits hex keys and passphrases pasted into files or
// piped in. Returns an error if the source is empty after trimming.
//
// The returned buffer is mmap-backed and must be closed by the caller.
func ReadFromPath(path string) (*Buffer, error) {
	var data []byte

	if path == "-" {
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, fmt.Errorf("reading stdin: %w", err)
			}
			return nil, fmt.Errorf("stdin is empty")
		}
		data = scanner.Bytes()
	} else {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		Zero(data)
		return nil, fmt.Errorf("secret is empty")
	}

	// NewFromBytes zeros trimmed; the whitespace prefix and suffix in
	// data are scrubbed separately.
	buffer, err := NewFromBytes(trimmed)
	Zero(data)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}
