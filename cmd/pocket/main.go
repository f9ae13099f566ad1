// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

// The pocket command is the CLI for the Pocket storage engine:
// dimensions (chunked, deduplicated, optionally encrypted path-keyed
// stores), capsules (packaged application snapshots inside a
// dimension), and the keys protecting them.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	capsulecmd "github.com/pocket-foundation/pocket/cmd/pocket/capsule"
	"github.com/pocket-foundation/pocket/cmd/pocket/cli"
	dimensioncmd "github.com/pocket-foundation/pocket/cmd/pocket/dimension"
	keycmd "github.com/pocket-foundation/pocket/cmd/pocket/key"
	"github.com/pocket-foundation/pocket/lib/version"
)

func main() {
	if err := root().Execute(os.Args[1:]); err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func root() *cli.Command {
	return &cli.Command{
		Name: "pocket",
		Description: `Pocket: an embedded content-addressed storage engine.

Store path-keyed data in dimensions (chunked, deduplicated,
compressed, optionally encrypted), and package whole application
trees into capsules that extract, serve, mount, and travel as
single-file streams.`,
		Subcommands: []*cli.Command{
			dimensioncmd.Command(),
			capsulecmd.Command(),
			keycmd.Command(),
			configCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("pocket %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Package a project into a capsule",
				Command:     "pocket capsule build ./webapp --name webapp",
			},
			{
				Description: "List everything in the engine",
				Command:     "pocket dimension list",
			},
			{
				Description: "Show the effective configuration",
				Command:     "pocket config show",
			},
		},
	}
}

// configCommand groups "config show" and "config validate". Both load
// through the same flag/env resolution as every other command, so what
// they report is exactly what the engine commands would use.
func configCommand() *cli.Command {
	return &cli.Command{
		Name:    "config",
		Summary: "Inspect and validate the configuration",
		Description: `Work with the pocket.yaml configuration file.

Commands resolve the config from --config, then the POCKET_CONFIG
environment variable, then built-in defaults. Show prints the
effective values after environment overrides are folded in; validate
checks them without touching the engine root.`,
		Subcommands: []*cli.Command{
			configShowCommand(),
			configValidateCommand(),
		},
	}
}

func configShowCommand() *cli.Command {
	var params struct {
		cli.EngineConfig
	}

	return &cli.Command{
		Name:    "show",
		Summary: "Print the effective configuration as YAML",
		Usage:   "pocket config show [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
			params.AddFlags(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			cfg, err := params.Load()
			if err != nil {
				return err
			}
			fmt.Print(cfg.String())
			return nil
		},
	}
}

func configValidateCommand() *cli.Command {
	var params struct {
		cli.EngineConfig
	}

	return &cli.Command{
		Name:    "validate",
		Summary: "Check the configuration for errors",
		Usage:   "pocket config validate [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("validate", pflag.ContinueOnError)
			params.AddFlags(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			cfg, err := params.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}
			fmt.Println("configuration OK")
			return nil
		},
	}
}
