// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/pocket-foundation/pocket/lib/config"
	"github.com/pocket-foundation/pocket/lib/dimension"
)

// EngineConfig holds the shared flags for locating the storage engine:
// the config file, the engine root, and the log format. Used by every
// CLI command that reads or writes dimensions (dimension write,
// capsule build, key backup, etc.).
//
// The config file is the pocket.yaml consumed by the config package.
// --config points at it directly; when the flag is absent the
// POCKET_CONFIG environment variable is consulted, and when that is
// unset too the built-in defaults apply. --root overrides the engine
// root from either source, which is the common way to aim a one-off
// command at a scratch engine.
//
// Usage pattern:
//
//	var engine cli.EngineConfig
//	command := &cli.Command{
//	    Flags: func() *pflag.FlagSet {
//	        fs := pflag.NewFlagSet("mycommand", pflag.ContinueOnError)
//	        engine.AddFlags(fs)
//	        return fs
//	    },
//	    Run: func(args []string) error {
//	        eng, cfg, err := engine.Open()
//	        ...
//	    },
//	}
type EngineConfig struct {
	ConfigPath string
	Root       string
	LogJSON    bool
}

// AddFlags registers --config, --root, and --log-json on the given
// flag set. All three are optional; with none set the command runs
// against the default engine root with auto-detected log format.
func (e *EngineConfig) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&e.ConfigPath, "config", "", "path to pocket.yaml config file (default: $POCKET_CONFIG)")
	flagSet.StringVar(&e.Root, "root", "", "engine root directory (overrides config)")
	flagSet.BoolVar(&e.LogJSON, "log-json", false, "force JSON log output")
}

// Load resolves the effective configuration from the configured flags.
// If --config is set, that file is loaded. Otherwise POCKET_CONFIG is
// consulted, and if it is unset too the built-in defaults are used.
// --root overrides the engine root from any source.
//
// The returned config is not validated; callers that are about to act
// on it go through Open, and the config commands apply their own
// checks so that a broken file can still be inspected.
func (e *EngineConfig) Load() (*config.Config, error) {
	var cfg *config.Config
	var err error

	switch {
	case e.ConfigPath != "":
		cfg, err = config.LoadFile(e.ConfigPath)
	case os.Getenv("POCKET_CONFIG") != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}

	if e.Root != "" {
		cfg.Root = e.Root
	}
	return cfg, nil
}

// Logger creates the command logger for the loaded configuration.
// --log-json forces the JSON handler; otherwise the config's logging
// section decides, with "text" honored and the default "json" relaxed
// to terminal auto-detection so interactive runs stay readable.
func (e *EngineConfig) Logger(cfg *config.Config) *slog.Logger {
	format := ""
	if e.LogJSON {
		format = "json"
	} else if cfg.Logging.Format == "text" {
		format = "text"
	}
	return NewCommandLogger(cfg.Logging.Level, format)
}

// Open loads and validates the configuration, ensures the engine root
// exists, and opens the storage engine on it. The returned engine must
// be closed by the caller; the config is returned alongside so
// commands can consult sections beyond the engine root (capsule
// excludes, mount options).
func (e *EngineConfig) Open() (*dimension.Engine, *config.Config, error) {
	cfg, err := e.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, nil, fmt.Errorf("creating engine root: %w", err)
	}

	engine, err := dimension.Open(dimension.Options{
		Root:   cfg.Root,
		Logger: e.Logger(cfg),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening engine at %s: %w", cfg.Root, err)
	}
	return engine, cfg, nil
}
