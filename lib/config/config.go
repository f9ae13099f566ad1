// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for the pocket CLI.
type Config struct {
	// Environment identifies the deployment type (development,
	// staging, production). The POCKET_ENV environment variable,
	// when set, takes precedence over this field.
	Environment Environment `yaml:"environment"`

	// Root is the engine root directory holding dimension
	// directories. A leading ~ expands to the user's home.
	Root string `yaml:"root"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`

	// Chunk configures how dimension content is segmented and
	// compressed.
	Chunk ChunkConfig `yaml:"chunk"`

	// Cache bounds the per-dimension plaintext chunk cache.
	Cache CacheConfig `yaml:"cache"`

	// Capsule configures capsule building.
	Capsule CapsuleConfig `yaml:"capsule"`

	// Mount configures FUSE mounts.
	Mount MountConfig `yaml:"mount"`

	// Environments contains per-environment override subtrees.
	// The subtree matching the active environment is folded into
	// the base values at load time, after which the map is cleared
	// so the struct always holds effective values.
	Environments map[Environment]*Overrides `yaml:"environments,omitempty"`
}

// Overrides contains the fields an environment section may override.
type Overrides struct {
	Root    string         `yaml:"root,omitempty"`
	Logging *LoggingConfig `yaml:"logging,omitempty"`
	Chunk   *ChunkConfig   `yaml:"chunk,omitempty"`
	Cache   *CacheConfig   `yaml:"cache,omitempty"`
	Capsule *CapsuleConfig `yaml:"capsule,omitempty"`
	Mount   *MountConfig   `yaml:"mount,omitempty"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is the minimum level logged: debug, info, warn, error.
	Level string `yaml:"level"`

	// Format selects the handler: text or json.
	Format string `yaml:"format"`
}

// ChunkConfig configures content segmentation for new dimensions.
type ChunkConfig struct {
	// Size is the chunk size in bytes.
	Size int `yaml:"size"`

	// Codec is the compression codec: none, deflate, lz4, zstd.
	Codec string `yaml:"codec"`

	// Level is the deflate compression level (1-9). Ignored by
	// other codecs.
	Level int `yaml:"level"`
}

// CacheConfig configures the in-memory chunk cache.
type CacheConfig struct {
	// Bytes caps the decompressed chunk data held in memory per
	// dimension.
	Bytes int64 `yaml:"bytes"`
}

// CapsuleConfig configures capsule building.
type CapsuleConfig struct {
	// Exclude lists extra path patterns skipped during capsule
	// build, on top of the built-in defaults.
	Exclude []string `yaml:"exclude"`
}

// MountConfig configures FUSE mounts.
type MountConfig struct {
	// AllowOther permits other users to access a mounted capsule.
	// Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool `yaml:"allow_other"`
}

// Accepted enum values. The chunk bounds mirror the engine's range.
var (
	logLevels   = []string{"debug", "info", "warn", "error"}
	logFormats  = []string{"text", "json"}
	chunkCodecs = []string{"none", "deflate", "lz4", "zstd"}
)

const (
	minChunkSize = 4 << 10
	maxChunkSize = 64 << 20
)

// Default returns the default configuration. These defaults are a
// usable standalone config: unlike most fields, Root points at a real
// location (~/.pocket) so the CLI works with no config file at all.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Environment: Development,
		Root:        filepath.Join(homeDir, ".pocket"),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Chunk: ChunkConfig{
			Size:  1 << 20,
			Codec: "deflate",
			Level: 9,
		},
		Cache: CacheConfig{
			Bytes: 64 << 20,
		},
	}
}

// Load loads configuration from the path in the POCKET_CONFIG
// environment variable.
//
// This is the only way to load configuration without an explicit
// path. There is no ~/.config discovery and no automatic file search,
// which keeps the effective configuration deterministic and auditable.
func Load() (*Config, error) {
	configPath := os.Getenv("POCKET_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("POCKET_CONFIG environment variable not set; " +
			"set it to the path of your pocket.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The file is parsed over the defaults, the environment section
// matching the active environment is applied, and ${VAR} patterns in
// path fields are expanded. Individual values are never overridden
// from the process environment; the only variables consulted are
// POCKET_CONFIG (the file path) and POCKET_ENV (the active
// environment section).
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// POCKET_ENV selects the active environment section; the file's
	// environment field is the fallback.
	if env := os.Getenv("POCKET_ENV"); env != "" {
		cfg.Environment = Environment(env)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// loadFile parses a configuration file over the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides folds the active environment's override
// subtree into the base values and clears the environments map.
func (c *Config) applyEnvironmentOverrides() {
	overrides := c.Environments[c.Environment]
	c.Environments = nil

	if overrides == nil {
		return
	}

	if overrides.Root != "" {
		c.Root = overrides.Root
	}

	if overrides.Logging != nil {
		if overrides.Logging.Level != "" {
			c.Logging.Level = overrides.Logging.Level
		}
		if overrides.Logging.Format != "" {
			c.Logging.Format = overrides.Logging.Format
		}
	}

	if overrides.Chunk != nil {
		if overrides.Chunk.Size != 0 {
			c.Chunk.Size = overrides.Chunk.Size
		}
		if overrides.Chunk.Codec != "" {
			c.Chunk.Codec = overrides.Chunk.Codec
		}
		if overrides.Chunk.Level != 0 {
			c.Chunk.Level = overrides.Chunk.Level
		}
	}

	if overrides.Cache != nil && overrides.Cache.Bytes != 0 {
		c.Cache.Bytes = overrides.Cache.Bytes
	}

	// A present exclude list replaces the base list, so an
	// environment can clear it with an explicit empty list.
	if overrides.Capsule != nil && overrides.Capsule.Exclude != nil {
		c.Capsule.Exclude = overrides.Capsule.Exclude
	}

	if overrides.Mount != nil {
		// AllowOther is a bool, so the section's presence applies it.
		c.Mount.AllowOther = overrides.Mount.AllowOther
	}
}

// expandVariables expands ${VAR} patterns and a leading ~ in path
// fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Root = expandHome(expandVars(c.Root, vars))
}

// expandHome resolves a leading ~ to the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration, collecting all problems.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Root == "" {
		errs = append(errs, fmt.Errorf("root is required"))
	}

	if !slices.Contains(logLevels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level must be one of: %v", logLevels))
	}
	if !slices.Contains(logFormats, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format must be one of: %v", logFormats))
	}

	if c.Chunk.Size < minChunkSize || c.Chunk.Size > maxChunkSize {
		errs = append(errs, fmt.Errorf("chunk.size %d out of range [%d, %d]",
			c.Chunk.Size, minChunkSize, maxChunkSize))
	}
	if !slices.Contains(chunkCodecs, c.Chunk.Codec) {
		errs = append(errs, fmt.Errorf("chunk.codec must be one of: %v", chunkCodecs))
	}
	if c.Chunk.Level < 1 || c.Chunk.Level > 9 {
		errs = append(errs, fmt.Errorf("chunk.level %d out of range [1, 9]", c.Chunk.Level))
	}

	if c.Cache.Bytes < 0 {
		errs = append(errs, fmt.Errorf("cache.bytes must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the root directory if it does not exist.
func (c *Config) EnsurePaths() error {
	if c.Root == "" {
		return nil
	}
	if err := os.MkdirAll(c.Root, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", c.Root, err)
	}
	return nil
}

// String renders the effective configuration as YAML, the form shown
// by the config show command. Config carries no secret material.
func (c *Config) String() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("config marshal error: %v", err)
	}
	return string(data)
}
