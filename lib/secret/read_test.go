// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
)

func TestReadFromPath_File(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name:     "plain value",
			content:  "my-secret-token",
			expected: "my-secret-token",
		},
		{
			name:     "trailing newline",
			content:  "my-secret-token\n",
			expected: "my-secret-token",
		},
		{
			name:     "surrounding whitespace",
			content:  "  my-secret-token  \n",
			expected: "my-secret-token",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := filepath.Join(tempDir, "secret")
			if err := os.WriteFile(path, []byte(test.content), 0o600); err != nil {
				t.Fatalf("writing secret file: %v", err)
			}

			buffer, err := ReadFromPath(path)
			if err != nil {
				t.Fatalf("ReadFromPath failed: %v", err)
			}
			defer buffer.Close()

			if got := buffer.String(); got != test.expected {
				t.Errorf("expected %q, got %q", test.expected, got)
			}
		})
	}
}

func TestReadFromPath_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(path, []byte("  \n"), 0o600); err != nil {
		t.Fatalf("writing secret file: %v", err)
	}

	if _, err := ReadFromPath(path); err == nil {
		t.Fatal("expected error for whitespace-only secret")
	}
}

func TestReadFromPath_MissingFile(t *testing.T) {
	if _, err := ReadFromPath(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestReadFile_Raw(t *testing.T) {
	fs := afero.NewMemMapFs()

	// Binary key material that begins and ends with whitespace-looking
	// bytes must survive untouched.
	key := []byte{'\n', 0x00, 0xde, 0xad, 0xbe, 0xef, ' ', '\t'}
	if err := afero.WriteFile(fs, ".keyfile", key, 0o600); err != nil {
		t.Fatalf("writing keyfile: %v", err)
	}

	buffer, err := ReadFile(fs, ".keyfile")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	defer buffer.Close()

	if !bytes.Equal(buffer.Bytes(), []byte{'\n', 0x00, 0xde, 0xad, 0xbe, 0xef, ' ', '\t'}) {
		t.Errorf("key bytes altered: %x", buffer.Bytes())
	}
}

func TestReadFile_Empty(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, ".keyfile", nil, 0o600); err != nil {
		t.Fatalf("writing keyfile: %v", err)
	}

	if _, err := ReadFile(fs, ".keyfile"); err == nil {
		t.Fatal("expected error for empty keyfile")
	}
}

func TestReadFile_TooLarge(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, ".keyfile", make([]byte, MaxKeyFileSize+1), 0o600); err != nil {
		t.Fatalf("writing keyfile: %v", err)
	}

	if _, err := ReadFile(fs, ".keyfile"); err == nil {
		t.Fatal("expected error for oversized keyfile")
	}
}
