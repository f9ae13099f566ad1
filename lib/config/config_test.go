// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeConfig writes a config file into a fresh temp directory and
// returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pocket.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}
	if filepath.Base(cfg.Root) != ".pocket" {
		t.Errorf("expected root to end in .pocket, got %s", cfg.Root)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("expected logging info/json, got %s/%s", cfg.Logging.Level, cfg.Logging.Format)
	}
	if cfg.Chunk.Size != 1<<20 {
		t.Errorf("expected chunk.size=%d, got %d", 1<<20, cfg.Chunk.Size)
	}
	if cfg.Chunk.Codec != "deflate" {
		t.Errorf("expected chunk.codec=deflate, got %s", cfg.Chunk.Codec)
	}
	if cfg.Chunk.Level != 9 {
		t.Errorf("expected chunk.level=9, got %d", cfg.Chunk.Level)
	}
	if cfg.Cache.Bytes != 64<<20 {
		t.Errorf("expected cache.bytes=%d, got %d", int64(64<<20), cfg.Cache.Bytes)
	}
	if cfg.Mount.AllowOther {
		t.Error("expected mount.allow_other=false")
	}

	// The defaults alone are a valid configuration.
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults: %v", err)
	}
}

func TestLoad_RequiresPocketConfig(t *testing.T) {
	t.Setenv("POCKET_CONFIG", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when POCKET_CONFIG not set, got nil")
	}

	expectedMsg := "POCKET_CONFIG environment variable not set"
	if !strings.HasPrefix(err.Error(), expectedMsg) {
		t.Errorf("expected error message to start with %q, got %q", expectedMsg, err.Error())
	}
}

func TestLoad_WithPocketConfig(t *testing.T) {
	configPath := writeConfig(t, `
environment: staging
root: /test/root
`)
	t.Setenv("POCKET_CONFIG", configPath)
	t.Setenv("POCKET_ENV", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}
	if cfg.Root != "/test/root" {
		t.Errorf("expected root=/test/root, got %s", cfg.Root)
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("POCKET_ENV", "")

	configPath := writeConfig(t, `
environment: staging

root: /custom/pocket

logging:
  level: debug
  format: text

chunk:
  size: 65536
  codec: zstd

cache:
  bytes: 1048576

capsule:
  exclude: ["*.bak", "scratch/"]

mount:
  allow_other: true
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}
	if cfg.Root != "/custom/pocket" {
		t.Errorf("expected root=/custom/pocket, got %s", cfg.Root)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected logging.level=debug, got %s", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("expected logging.format=text, got %s", cfg.Logging.Format)
	}
	if cfg.Chunk.Size != 65536 {
		t.Errorf("expected chunk.size=65536, got %d", cfg.Chunk.Size)
	}
	if cfg.Chunk.Codec != "zstd" {
		t.Errorf("expected chunk.codec=zstd, got %s", cfg.Chunk.Codec)
	}

	// Fields absent from the file keep their defaults.
	if cfg.Chunk.Level != 9 {
		t.Errorf("expected chunk.level=9 from defaults, got %d", cfg.Chunk.Level)
	}

	if cfg.Cache.Bytes != 1048576 {
		t.Errorf("expected cache.bytes=1048576, got %d", cfg.Cache.Bytes)
	}
	if len(cfg.Capsule.Exclude) != 2 || cfg.Capsule.Exclude[0] != "*.bak" {
		t.Errorf("expected capsule.exclude=[*.bak scratch/], got %v", cfg.Capsule.Exclude)
	}
	if !cfg.Mount.AllowOther {
		t.Error("expected mount.allow_other=true")
	}
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
}

func TestLoadFile_Malformed(t *testing.T) {
	configPath := writeConfig(t, "root: [unterminated\n")

	_, err := LoadFile(configPath)
	if err == nil {
		t.Fatal("expected error for malformed config, got nil")
	}
	if !strings.Contains(err.Error(), "parsing config") {
		t.Errorf("expected 'parsing config' in error, got %q", err.Error())
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("POCKET_ENV", "")

	configPath := writeConfig(t, `
environment: production

root: /default/root

capsule:
  exclude: ["*.bak"]

environments:
  production:
    root: /prod/root
    chunk:
      codec: lz4
    capsule:
      exclude: []
    mount:
      allow_other: true
  staging:
    root: /staging/root
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Root != "/prod/root" {
		t.Errorf("expected root=/prod/root, got %s", cfg.Root)
	}
	if cfg.Chunk.Codec != "lz4" {
		t.Errorf("expected chunk.codec=lz4 from production override, got %s", cfg.Chunk.Codec)
	}

	// Fields the override subtree does not mention keep base values.
	if cfg.Chunk.Size != 1<<20 {
		t.Errorf("expected chunk.size=%d, got %d", 1<<20, cfg.Chunk.Size)
	}

	// An explicit empty exclude list clears the base list.
	if len(cfg.Capsule.Exclude) != 0 {
		t.Errorf("expected capsule.exclude cleared, got %v", cfg.Capsule.Exclude)
	}
	if !cfg.Mount.AllowOther {
		t.Error("expected mount.allow_other=true from production override")
	}

	// The overrides are folded in and the map cleared.
	if cfg.Environments != nil {
		t.Error("expected environments map to be cleared after load")
	}
}

func TestPocketEnvSelectsEnvironment(t *testing.T) {
	configPath := writeConfig(t, `
environment: development

root: /dev/root

environments:
  production:
    root: /prod/root
`)
	t.Setenv("POCKET_ENV", "production")

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Environment != Production {
		t.Errorf("expected POCKET_ENV to select production, got %s", cfg.Environment)
	}
	if cfg.Root != "/prod/root" {
		t.Errorf("expected root=/prod/root, got %s", cfg.Root)
	}
}

func TestEnvVarsDoNotOverrideValues(t *testing.T) {
	// The config file is the single source of truth. Ambient
	// variables do not override individual values.
	t.Setenv("POCKET_ENV", "")
	t.Setenv("POCKET_ROOT", "/env/root")

	configPath := writeConfig(t, `
root: /file/root
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Root != "/file/root" {
		t.Errorf("expected root=/file/root from file, got %s", cfg.Root)
	}
}

func TestExpandVars(t *testing.T) {
	tests := []struct {
		input    string
		vars     map[string]string
		expected string
	}{
		{
			input:    "${HOME}/pocket",
			vars:     map[string]string{"HOME": "/home/user"},
			expected: "/home/user/pocket",
		},
		{
			input:    "${MISSING:-default}",
			vars:     map[string]string{},
			expected: "default",
		},
		{
			input:    "${PRESENT:-default}",
			vars:     map[string]string{"PRESENT": "value"},
			expected: "value",
		},
		{
			input:    "${A}/${B}",
			vars:     map[string]string{"A": "first", "B": "second"},
			expected: "first/second",
		},
		{
			input:    "no variables here",
			vars:     map[string]string{},
			expected: "no variables here",
		},
	}

	for _, tt := range tests {
		result := expandVars(tt.input, tt.vars)
		if result != tt.expected {
			t.Errorf("expandVars(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/custom/home")

	tests := []struct {
		input    string
		expected string
	}{
		{"~", "/custom/home"},
		{"~/data", "/custom/home/data"},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
	}

	for _, tt := range tests {
		result := expandHome(tt.input)
		if result != tt.expected {
			t.Errorf("expandHome(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestRootExpansion(t *testing.T) {
	t.Setenv("POCKET_ENV", "")
	t.Setenv("HOME", "/custom/home")

	tests := []struct {
		name     string
		root     string
		expected string
	}{
		{"variable", "${HOME}/pocket-data", "/custom/home/pocket-data"},
		{"tilde", "~/pocket-data", "/custom/home/pocket-data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, "root: "+tt.root+"\n")

			cfg, err := LoadFile(configPath)
			if err != nil {
				t.Fatalf("LoadFile failed: %v", err)
			}
			if cfg.Root != tt.expected {
				t.Errorf("expected root=%s, got %s", tt.expected, cfg.Root)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "invalid environment",
			modify: func(c *Config) {
				c.Environment = "invalid"
			},
			wantErr: true,
		},
		{
			name: "empty root",
			modify: func(c *Config) {
				c.Root = ""
			},
			wantErr: true,
		},
		{
			name: "invalid logging level",
			modify: func(c *Config) {
				c.Logging.Level = "verbose"
			},
			wantErr: true,
		},
		{
			name: "invalid logging format",
			modify: func(c *Config) {
				c.Logging.Format = "xml"
			},
			wantErr: true,
		},
		{
			name: "chunk size too small",
			modify: func(c *Config) {
				c.Chunk.Size = 100
			},
			wantErr: true,
		},
		{
			name: "chunk size too large",
			modify: func(c *Config) {
				c.Chunk.Size = maxChunkSize + 1
			},
			wantErr: true,
		},
		{
			name: "invalid codec",
			modify: func(c *Config) {
				c.Chunk.Codec = "brotli"
			},
			wantErr: true,
		},
		{
			name: "chunk level too low",
			modify: func(c *Config) {
				c.Chunk.Level = 0
			},
			wantErr: true,
		},
		{
			name: "chunk level too high",
			modify: func(c *Config) {
				c.Chunk.Level = 10
			},
			wantErr: true,
		},
		{
			name: "negative cache bytes",
			modify: func(c *Config) {
				c.Cache.Bytes = -1
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Root = ""
	cfg.Chunk.Codec = "brotli"
	cfg.Cache.Bytes = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors, got nil")
	}

	for _, want := range []string{"root is required", "chunk.codec", "cache.bytes"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in joined error, got %q", want, err.Error())
		}
	}
}

func TestEnsurePaths(t *testing.T) {
	cfg := Default()
	cfg.Root = filepath.Join(t.TempDir(), "pocket", "nested")

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths failed: %v", err)
	}

	info, err := os.Stat(cfg.Root)
	if err != nil {
		t.Fatalf("root not created: %v", err)
	}
	if !info.IsDir() {
		t.Errorf("root %s is not a directory", cfg.Root)
	}

	// An empty root is a no-op, not an error.
	cfg.Root = ""
	if err := cfg.EnsurePaths(); err != nil {
		t.Errorf("EnsurePaths with empty root: %v", err)
	}
}

func TestString(t *testing.T) {
	t.Setenv("POCKET_ENV", "")

	configPath := writeConfig(t, `
root: /render/root

environments:
  production:
    root: /prod/root
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	rendered := cfg.String()
	for _, want := range []string{"root: /render/root", "codec: deflate", "level: info"} {
		if !strings.Contains(rendered, want) {
			t.Errorf("expected %q in rendered config, got:\n%s", want, rendered)
		}
	}

	// Only effective values render; the override subtrees are gone.
	if strings.Contains(rendered, "environments") {
		t.Errorf("expected no environments section in rendering, got:\n%s", rendered)
	}
}
