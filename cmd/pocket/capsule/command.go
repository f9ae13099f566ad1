// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

// Package capsule implements the "pocket capsule" CLI subcommands:
// packaging directory trees into capsules, getting them back out, and
// moving them between machines as single-file streams.
//
// Build defaults (chunking, compression, exclude patterns) come from
// the config file's chunk and capsule sections; per-command flags
// override them for a single invocation.
package capsule

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/pocket-foundation/pocket/cmd/pocket/cli"
	"github.com/pocket-foundation/pocket/lib/capsule"
)

// Command returns the top-level "capsule" command with all subcommands.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "capsule",
		Summary: "Package, serve, and transfer capsules",
		Description: `Package directory trees into capsules and work with the results.

A capsule is a dimension holding a snapshot of a source tree plus a
manifest describing every file by content hash. Capsules verify their
own integrity on open, extract back to byte-identical trees, serve
their files without extraction, and travel between machines as
single-file export streams.`,
		Subcommands: []*cli.Command{
			buildCommand(),
			extractCommand(),
			serveCommand(),
			mountCommand(),
			listCommand(),
			infoCommand(),
			deleteCommand(),
			exportCommand(),
			importCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Package a project directory",
				Command:     "pocket capsule build ./webapp --name webapp --version 1.2.0",
			},
			{
				Description: "Extract a capsule to a directory",
				Command:     "pocket capsule extract cap-9d41f2ab ./restored",
			},
			{
				Description: "Ship a capsule to another machine",
				Command:     "pocket capsule export cap-9d41f2ab | ssh host pocket capsule import",
			},
			{
				Description: "Mount a capsule read-only",
				Command:     "pocket capsule mount cap-9d41f2ab /mnt/webapp",
			},
		},
	}
}

// parseEnvironment turns repeated KEY=VALUE flags into the manifest's
// environment map.
func parseEnvironment(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	environment := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --env %q, expected KEY=VALUE", pair)
		}
		environment[key] = value
	}
	return environment, nil
}

// --- build ---

type buildParams struct {
	cli.EngineConfig
	cli.JSONOutput
	Name        string   `json:"name"        flag:"name,n"     desc:"capsule name (required)"`
	Version     string   `json:"version"     flag:"version"    desc:"semantic version (default: 0.1.0)"`
	Description string   `json:"description" flag:"description" desc:"human-readable description"`
	Author      string   `json:"author"      flag:"author"     desc:"author recorded in metadata"`
	EntryPoint  string   `json:"entry_point" flag:"entry-point" desc:"application entry point (e.g. src/index.js)"`
	BuildCmd    string   `json:"build_command" flag:"build-command" desc:"build command recorded in the manifest"`
	StartCmd    string   `json:"start_command" flag:"start-command" desc:"start command recorded in the manifest"`
	DepArchive  string   `json:"dep_archive" flag:"dep-archive" desc:"prebuilt dependency archive packaged as one binary entry"`
	Env         []string `json:"env"         flag:"env"        desc:"environment KEY=VALUE pairs (repeatable)"`
	Exclude     []string `json:"exclude"     flag:"exclude"    desc:"exclude pattern, matched as substring (repeatable)"`
	Include     []string `json:"include"     flag:"include"    desc:"include pattern allowlist (repeatable)"`
	Encrypt     bool     `json:"encrypt"     flag:"encrypt"    desc:"encrypt capsule content with a generated key"`
	ChunkSize   int      `json:"chunk_size"  flag:"chunk-size" desc:"chunk size in bytes (default: config file)"`
	Codec       string   `json:"codec"       flag:"codec"      desc:"compression codec: none, deflate, lz4, zstd"`
	Level       int      `json:"level"       flag:"level"      desc:"deflate compression level, 1-9"`
}

func buildCommand() *cli.Command {
	var params buildParams

	return &cli.Command{
		Name:    "build",
		Summary: "Package a directory tree into a capsule",
		Usage:   "pocket capsule build <source-dir> [flags]",
		Description: `Walk a source tree and package it into a fresh capsule.

Every file is chunked, deduplicated, and compressed into the capsule's
dimension, and the manifest records each file's content hash. Exclude
patterns from the config file's capsule section apply in addition to
--exclude flags; --include patterns, when given, act as an allowlist
applied after excludes.

The capsule id is printed to stdout; the build summary goes to stderr
so the id stays pipeable.`,
		Examples: []cli.Example{
			{
				Description: "Package an application",
				Command:     "pocket capsule build ./webapp --name webapp --entry-point src/index.js",
			},
			{
				Description: "Package without test fixtures",
				Command:     "pocket capsule build ./service --name service --exclude testdata --exclude .git",
			},
			{
				Description: "Package encrypted",
				Command:     "pocket capsule build ./secrets-app --name vault --encrypt",
			},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("build", &params) },
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("source directory required\n\nUsage: pocket capsule build <source-dir> [flags]")
			}

			environment, err := parseEnvironment(params.Env)
			if err != nil {
				return err
			}

			engine, cfg, err := params.Open()
			if err != nil {
				return err
			}
			defer engine.Close()

			options := capsule.BuildOptions{
				Name:              params.Name,
				Version:           params.Version,
				Description:       params.Description,
				Author:            params.Author,
				EntryPoint:        params.EntryPoint,
				BuildCommand:      params.BuildCmd,
				StartCommand:      params.StartCmd,
				DependencyArchive: params.DepArchive,
				Environment:       environment,
				ExcludePatterns:   append(append([]string{}, cfg.Capsule.Exclude...), params.Exclude...),
				IncludePatterns:   params.Include,
				Encrypt:           params.Encrypt,
				ChunkSize:         cfg.Chunk.Size,
				Codec:             cfg.Chunk.Codec,
				CompressionLevel:  cfg.Chunk.Level,
				Logger:            params.Logger(cfg),
			}
			if params.ChunkSize != 0 {
				options.ChunkSize = params.ChunkSize
			}
			if params.Codec != "" {
				options.Codec = params.Codec
			}
			if params.Level != 0 {
				options.CompressionLevel = params.Level
			}

			result, err := capsule.Build(engine, args[0], options)
			if err != nil {
				return err
			}

			if done, err := params.EmitJSON(result.Metadata); done {
				return err
			}

			stats := result.Metadata.Stats
			fmt.Fprintf(os.Stderr, "%d files, %s raw, %s stored (%.1f%%) in %s\n",
				stats.TotalFiles,
				cli.FormatSize(stats.TotalSize),
				cli.FormatSize(stats.CompressedSize),
				stats.Ratio*100,
				result.Duration.Round(time.Millisecond),
			)
			fmt.Println(result.CapsuleID)
			return nil
		},
	}
}

// --- extract ---

type extractParams struct {
	cli.EngineConfig
	cli.JSONOutput
}

func extractCommand() *cli.Command {
	var params extractParams

	return &cli.Command{
		Name:    "extract",
		Summary: "Materialize a capsule as a file tree",
		Usage:   "pocket capsule extract <capsule-id> <target-dir> [flags]",
		Description: `Extract a capsule's files into a directory.

The manifest integrity chain is verified before any file is written:
a tampered capsule writes zero files. Each extracted file is verified
against its manifest hash on the way out.`,
		Examples: []cli.Example{
			{
				Description: "Extract to a new directory",
				Command:     "pocket capsule extract cap-9d41f2ab ./restored",
			},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("extract", &params) },
		Run: func(args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("capsule id and target directory required\n\nUsage: pocket capsule extract <capsule-id> <target-dir> [flags]")
			}

			engine, cfg, err := params.Open()
			if err != nil {
				return err
			}
			defer engine.Close()

			result, err := capsule.ExtractToPath(engine, args[0], args[1], capsule.LoadOptions{
				Logger: params.Logger(cfg),
			})
			if err != nil {
				return err
			}

			if done, err := params.EmitJSON(result); done {
				return err
			}

			fmt.Printf("extracted %d files (%s) to %s\n",
				result.FileCount, cli.FormatSize(result.BytesWritten), args[1])
			return nil
		},
	}
}

// --- serve ---

type serveParams struct {
	cli.EngineConfig
	Stats bool `json:"stats" flag:"stats" desc:"print cache statistics to stderr afterwards"`
}

func serveCommand() *cli.Command {
	var params serveParams

	return &cli.Command{
		Name:    "serve",
		Summary: "Read files from a capsule without extracting",
		Usage:   "pocket capsule serve <capsule-id> <path> [path...] [flags]",
		Description: `Open a capsule's virtual filesystem and print the named files to
stdout in order. Nothing is extracted to disk; reads resolve against
the chunk store and repeat reads of the same file hit the in-memory
cache.`,
		Examples: []cli.Example{
			{
				Description: "Print a packaged file",
				Command:     "pocket capsule serve cap-9d41f2ab src/index.js",
			},
			{
				Description: "Check cache behavior across repeated reads",
				Command:     "pocket capsule serve cap-9d41f2ab a.txt a.txt --stats",
			},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("serve", &params) },
		Run: func(args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("capsule id and at least one path required\n\nUsage: pocket capsule serve <capsule-id> <path> [path...] [flags]")
			}

			engine, cfg, err := params.Open()
			if err != nil {
				return err
			}
			defer engine.Close()

			vfs, err := capsule.NewVirtualFS(engine, args[0], capsule.LoadOptions{
				CacheBytes: cfg.Cache.Bytes,
				Logger:     params.Logger(cfg),
			})
			if err != nil {
				return err
			}
			defer vfs.Close()

			for _, filePath := range args[1:] {
				data, err := vfs.ReadFile(filePath)
				if err != nil {
					return err
				}
				if _, err := os.Stdout.Write(data); err != nil {
					return fmt.Errorf("writing %s: %w", filePath, err)
				}
			}

			if params.Stats {
				stats := vfs.CacheStats()
				fmt.Fprintf(os.Stderr, "cache: %d hits, %d misses, %d entries, %s\n",
					stats.Hits, stats.Misses, stats.Entries, cli.FormatSize(stats.Bytes))
			}
			return nil
		},
	}
}

// --- list ---

type listParams struct {
	cli.EngineConfig
	cli.JSONOutput
}

func listCommand() *cli.Command {
	var params listParams

	return &cli.Command{
		Name:    "list",
		Summary: "List capsules in the engine",
		Usage:   "pocket capsule list [flags]",
		Description: `List every capsule under the engine root, newest first. Listing
reads plaintext dimension metadata only, so encrypted capsules appear
without needing their keys.`,
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("list", &params) },
		Run: func(args []string) error {
			engine, _, err := params.Open()
			if err != nil {
				return err
			}
			defer engine.Close()

			infos, err := capsule.List(engine)
			if err != nil {
				return err
			}

			if done, err := params.EmitJSON(infos); done {
				return err
			}

			if len(infos) == 0 {
				fmt.Println("No capsules found.")
				return nil
			}

			writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(writer, "ID\tNAME\tSIZE\tSTORED\tENCRYPTED\tCREATED\n")
			for _, info := range infos {
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%t\t%s\n",
					info.ID,
					info.Name,
					cli.FormatSize(info.RawSize),
					cli.FormatSize(info.StoredSize),
					info.Encrypted,
					info.CreatedAt.Format("2006-01-02 15:04"),
				)
			}
			writer.Flush()
			return nil
		},
	}
}

// --- info ---

type infoParams struct {
	cli.EngineConfig
	cli.JSONOutput
}

func infoCommand() *cli.Command {
	var params infoParams

	return &cli.Command{
		Name:    "info",
		Summary: "Show capsule metadata",
		Usage:   "pocket capsule info <capsule-id> [flags]",
		Description: `Display a capsule's full metadata document after verifying its
integrity chain. Encrypted capsules are opened through their keyfile
sidecar.`,
		Examples: []cli.Example{
			{
				Description: "Show capsule details",
				Command:     "pocket capsule info cap-9d41f2ab",
			},
			{
				Description: "Metadata as JSON",
				Command:     "pocket capsule info cap-9d41f2ab --json",
			},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("info", &params) },
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("capsule id required\n\nUsage: pocket capsule info <capsule-id> [flags]")
			}

			engine, cfg, err := params.Open()
			if err != nil {
				return err
			}
			defer engine.Close()

			meta, err := capsule.Inspect(engine, args[0], capsule.LoadOptions{
				Logger: params.Logger(cfg),
			})
			if err != nil {
				return err
			}

			if done, err := params.EmitJSON(meta); done {
				return err
			}

			writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(writer, "ID:\t%s\n", meta.ID)
			fmt.Fprintf(writer, "Name:\t%s\n", meta.Name)
			fmt.Fprintf(writer, "Version:\t%s\n", meta.Version)
			if meta.Description != "" {
				fmt.Fprintf(writer, "Description:\t%s\n", meta.Description)
			}
			if meta.Author != "" {
				fmt.Fprintf(writer, "Author:\t%s\n", meta.Author)
			}
			fmt.Fprintf(writer, "Created:\t%s\n", meta.CreatedAt.Format("2006-01-02 15:04:05 UTC"))
			fmt.Fprintf(writer, "Runtime:\t%s %s (%s/%s)\n",
				meta.Runtime.Name, meta.Runtime.Version, meta.Runtime.OS, meta.Runtime.Arch)
			fmt.Fprintf(writer, "Files:\t%d\n", meta.Stats.TotalFiles)
			fmt.Fprintf(writer, "Size:\t%s (%d bytes)\n", cli.FormatSize(meta.Stats.TotalSize), meta.Stats.TotalSize)
			fmt.Fprintf(writer, "Stored:\t%s (%.1f%%)\n", cli.FormatSize(meta.Stats.CompressedSize), meta.Stats.Ratio*100)
			fmt.Fprintf(writer, "Encrypted:\t%t\n", meta.Encrypted)
			fmt.Fprintf(writer, "Manifest hash:\t%s\n", meta.Checksums.Manifest)
			fmt.Fprintf(writer, "Content hash:\t%s\n", meta.Checksums.Content)
			writer.Flush()
			return nil
		},
	}
}

// --- delete ---

type deleteParams struct {
	cli.EngineConfig
}

func deleteCommand() *cli.Command {
	var params deleteParams

	return &cli.Command{
		Name:    "delete",
		Summary: "Delete a capsule",
		Usage:   "pocket capsule delete <capsule-id> [flags]",
		Description: `Remove a capsule and all of its stored content. There is no
undo.`,
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("delete", &params) },
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("capsule id required\n\nUsage: pocket capsule delete <capsule-id> [flags]")
			}

			engine, _, err := params.Open()
			if err != nil {
				return err
			}
			defer engine.Close()

			if err := capsule.Delete(engine, args[0]); err != nil {
				return err
			}

			fmt.Printf("deleted: %s\n", args[0])
			return nil
		},
	}
}

// --- export ---

type exportParams struct {
	cli.EngineConfig
	OutputPath string `json:"-" flag:"output,o" desc:"output file (default: stdout)"`
}

func exportCommand() *cli.Command {
	var params exportParams

	return &cli.Command{
		Name:    "export",
		Summary: "Export a capsule as a single-file stream",
		Usage:   "pocket capsule export <capsule-id> [flags]",
		Description: `Write a capsule as a portable zstd-compressed stream.

The stream carries the exact manifest bytes plus every file's content,
so the importing side re-verifies the same checksums the builder
recorded. The stream is plaintext regardless of how the capsule is
stored; exporting an encrypted capsule requires its key.

The stream goes to --output or stdout; the summary goes to stderr.`,
		Examples: []cli.Example{
			{
				Description: "Export to a file",
				Command:     "pocket capsule export cap-9d41f2ab -o webapp.pocket",
			},
			{
				Description: "Stream straight to another machine",
				Command:     "pocket capsule export cap-9d41f2ab | ssh host pocket capsule import",
			},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("export", &params) },
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("capsule id required\n\nUsage: pocket capsule export <capsule-id> [flags]")
			}

			engine, cfg, err := params.Open()
			if err != nil {
				return err
			}
			defer engine.Close()

			vfs, err := capsule.NewVirtualFS(engine, args[0], capsule.LoadOptions{
				Logger: params.Logger(cfg),
			})
			if err != nil {
				return err
			}
			defer vfs.Close()

			var output io.Writer = os.Stdout
			if params.OutputPath != "" {
				file, err := os.Create(params.OutputPath)
				if err != nil {
					return fmt.Errorf("creating output file: %w", err)
				}
				defer file.Close()
				output = file
			}

			result, err := capsule.Export(vfs, output)
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "exported %s: %d files, %s written\n",
				result.CapsuleID, result.FileCount, cli.FormatSize(result.BytesWritten))
			return nil
		},
	}
}

// --- import ---

type importParams struct {
	cli.EngineConfig
	cli.JSONOutput
	Encrypt bool `json:"encrypt" flag:"encrypt" desc:"store imported content encrypted under a generated key"`
}

func importCommand() *cli.Command {
	var params importParams

	return &cli.Command{
		Name:    "import",
		Summary: "Import a capsule from an export stream",
		Usage:   "pocket capsule import [file] [flags]",
		Description: `Rebuild a capsule from an export stream, preserving its original
id. Reads from the named file, or from stdin if no file is given (or
file is "-"). Content is re-chunked and re-deduplicated through the
normal write path; --encrypt stores it encrypted under a fresh local
key even if the source capsule was plaintext.

Fails if a capsule with the stream's id already exists.`,
		Examples: []cli.Example{
			{
				Description: "Import from a file",
				Command:     "pocket capsule import webapp.pocket",
			},
			{
				Description: "Import from a pipeline, encrypting locally",
				Command:     "ssh host pocket capsule export cap-9d41f2ab | pocket capsule import --encrypt",
			},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("import", &params) },
		Run: func(args []string) error {
			var input io.Reader = os.Stdin
			if len(args) > 0 && args[0] != "-" {
				file, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("opening %s: %w", args[0], err)
				}
				defer file.Close()
				input = file
			}

			engine, cfg, err := params.Open()
			if err != nil {
				return err
			}
			defer engine.Close()

			result, err := capsule.Import(engine, input, capsule.ImportOptions{
				Encrypt: params.Encrypt,
				Logger:  params.Logger(cfg),
			})
			if err != nil {
				return err
			}

			if done, err := params.EmitJSON(result); done {
				return err
			}

			fmt.Fprintf(os.Stderr, "imported %d files, %s received\n",
				result.FileCount, cli.FormatSize(result.BytesReceived))
			fmt.Println(result.CapsuleID)
			return nil
		},
	}
}
