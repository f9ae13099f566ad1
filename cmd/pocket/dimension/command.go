// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

// Package dimension implements the "pocket dimension" CLI subcommands
// for working with dimensions directly: creating them, moving bytes in
// and out, and inspecting what they hold.
//
// All subcommands locate the engine through the shared [cli.EngineConfig]
// flags (--config, --root). Chunking and compression defaults come from
// the config file's chunk section; per-command flags override them for
// a single invocation.
package dimension

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/pocket-foundation/pocket/cmd/pocket/cli"
	"github.com/pocket-foundation/pocket/lib/config"
	"github.com/pocket-foundation/pocket/lib/dimension"
)

// Command returns the top-level "dimension" command with all subcommands.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "dimension",
		Summary: "Manage dimensions (create, write, read, inspect)",
		Description: `Work with dimensions in the local engine.

A dimension is a self-contained store of path-keyed entries backed by
content-addressed chunks. Content written to a dimension is chunked,
deduplicated, compressed, and optionally encrypted before it reaches
disk.

The engine root comes from the config file (--config or POCKET_CONFIG)
and can be overridden with --root.`,
		Subcommands: []*cli.Command{
			createCommand(),
			writeCommand(),
			readCommand(),
			deleteCommand(),
			listCommand(),
			statsCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Create an encrypted dimension with zstd compression",
				Command:     "pocket dimension create photos --codec zstd --encrypt",
			},
			{
				Description: "Write a file into a dimension",
				Command:     "pocket dimension write dim-8c2f41d9 assets/logo.png --input logo.png",
			},
			{
				Description: "Read an entry back out",
				Command:     "pocket dimension read dim-8c2f41d9 assets/logo.png -o logo.png",
			},
			{
				Description: "Show storage statistics",
				Command:     "pocket dimension stats dim-8c2f41d9",
			},
		},
	}
}

// storageConfig layers command-line overrides over the config file's
// chunk and cache sections. Zero-valued flags fall through to the
// config; the engine applies its own defaults below that.
func storageConfig(cfg *config.Config, chunkSize int, codec string, level int) dimension.Config {
	storage := dimension.Config{
		ChunkSize:        cfg.Chunk.Size,
		Codec:            cfg.Chunk.Codec,
		CompressionLevel: cfg.Chunk.Level,
		CacheBytes:       cfg.Cache.Bytes,
	}
	if chunkSize != 0 {
		storage.ChunkSize = chunkSize
	}
	if codec != "" {
		storage.Codec = codec
	}
	if level != 0 {
		storage.CompressionLevel = level
	}
	return storage
}

// --- create ---

type createParams struct {
	cli.EngineConfig
	cli.JSONOutput
	ChunkSize  int    `json:"chunk_size"  flag:"chunk-size"  desc:"chunk size in bytes (default: config file)"`
	Codec      string `json:"codec"       flag:"codec"       desc:"compression codec: none, deflate, lz4, zstd"`
	Level      int    `json:"level"       flag:"level"       desc:"deflate compression level, 1-9"`
	NoDedup    bool   `json:"no_dedup"    flag:"no-dedup"    desc:"disable content deduplication"`
	CacheBytes int64  `json:"cache_bytes" flag:"cache-bytes" desc:"plaintext cache budget in bytes"`
	Encrypt    bool   `json:"encrypt"     flag:"encrypt"     desc:"encrypt chunk content with a generated key"`
}

func createCommand() *cli.Command {
	var params createParams

	return &cli.Command{
		Name:    "create",
		Summary: "Create a new dimension",
		Usage:   "pocket dimension create [name] [flags]",
		Description: `Create a dimension and print its id.

The optional name is a human-readable label recorded in metadata; the
id is minted by the engine. With --encrypt, a fresh 256-bit key is
generated and stored in the dimension's keyfile sidecar, so later
opens need no key material from the caller.`,
		Examples: []cli.Example{
			{
				Description: "Create a dimension with defaults",
				Command:     "pocket dimension create",
			},
			{
				Description: "Create a named dimension with small chunks",
				Command:     "pocket dimension create thumbnails --chunk-size 65536",
			},
			{
				Description: "Create an encrypted dimension",
				Command:     "pocket dimension create secrets --encrypt",
			},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("create", &params) },
		Run: func(args []string) error {
			engine, cfg, err := params.Open()
			if err != nil {
				return err
			}
			defer engine.Close()

			storage := storageConfig(cfg, params.ChunkSize, params.Codec, params.Level)
			storage.DisableDedup = params.NoDedup
			if params.CacheBytes != 0 {
				storage.CacheBytes = params.CacheBytes
			}
			if len(args) > 0 {
				storage.Name = args[0]
			}

			if params.Encrypt {
				key, err := dimension.GenerateKey()
				if err != nil {
					return fmt.Errorf("generating encryption key: %w", err)
				}
				defer key.Close()
				storage.EncryptionKey = key
			}

			dim, err := engine.Create(storage)
			if err != nil {
				return err
			}
			meta := dim.Stats()

			// Close is the durability point: metadata, index, and the
			// keyfile sidecar hit disk here.
			if err := dim.Close(); err != nil {
				return fmt.Errorf("persisting dimension %s: %w", dim.ID(), err)
			}

			if done, err := params.EmitJSON(meta); done {
				return err
			}

			fmt.Println(dim.ID())
			return nil
		},
	}
}

// --- write ---

type writeParams struct {
	cli.EngineConfig
	cli.JSONOutput
	Input string `json:"-" flag:"input,i" desc:"input file (default: stdin)"`
}

func writeCommand() *cli.Command {
	var params writeParams

	return &cli.Command{
		Name:    "write",
		Summary: "Write an entry into a dimension",
		Usage:   "pocket dimension write <dimension-id> <path> [flags]",
		Description: `Store content under a logical path inside a dimension.

Reads from the file named by --input, or from stdin if the flag is
absent (or "-"). Writing to an existing path replaces its content;
chunks shared with other entries survive untouched.`,
		Examples: []cli.Example{
			{
				Description: "Write a file",
				Command:     "pocket dimension write dim-8c2f41d9 docs/readme.md --input README.md",
			},
			{
				Description: "Write from a pipeline",
				Command:     "tar cz src | pocket dimension write dim-8c2f41d9 backups/src.tar.gz",
			},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("write", &params) },
		Run: func(args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("dimension id and path arguments required\n\nUsage: pocket dimension write <dimension-id> <path> [flags]")
			}
			id, entryPath := args[0], args[1]

			var data []byte
			var err error
			if params.Input == "" || params.Input == "-" {
				data, err = io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
			} else {
				data, err = os.ReadFile(params.Input)
				if err != nil {
					return fmt.Errorf("reading %s: %w", params.Input, err)
				}
			}

			engine, _, err := params.Open()
			if err != nil {
				return err
			}
			defer engine.Close()

			if !engine.Exists(id) {
				return fmt.Errorf("dimension %s not found", id)
			}

			dim, err := engine.Open(id, dimension.Config{})
			if err != nil {
				return err
			}

			entry, err := dim.Write(entryPath, data)
			if err != nil {
				return err
			}
			if err := dim.Close(); err != nil {
				return fmt.Errorf("persisting dimension %s: %w", id, err)
			}

			if done, err := params.EmitJSON(entry); done {
				return err
			}

			fmt.Printf("%s %s\n", entry.Path, cli.FormatSize(entry.Size))
			return nil
		},
	}
}

// --- read ---

type readParams struct {
	cli.EngineConfig
	OutputPath string `json:"-" flag:"output,o" desc:"output file path (default: stdout)"`
}

func readCommand() *cli.Command {
	var params readParams

	return &cli.Command{
		Name:    "read",
		Summary: "Read an entry from a dimension",
		Usage:   "pocket dimension read <dimension-id> <path> [flags]",
		Description: `Reassemble an entry's content and write it out.

Writes to the named output file, or to stdout if -o is not set. Every
chunk is verified against its hash during reassembly; corrupted or
missing chunks fail the whole read.`,
		Examples: []cli.Example{
			{
				Description: "Read to a file",
				Command:     "pocket dimension read dim-8c2f41d9 docs/readme.md -o readme.md",
			},
			{
				Description: "Read to stdout",
				Command:     "pocket dimension read dim-8c2f41d9 backups/src.tar.gz | tar tz",
			},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("read", &params) },
		Run: func(args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("dimension id and path arguments required\n\nUsage: pocket dimension read <dimension-id> <path> [flags]")
			}
			id, entryPath := args[0], args[1]

			engine, _, err := params.Open()
			if err != nil {
				return err
			}
			defer engine.Close()

			if !engine.Exists(id) {
				return fmt.Errorf("dimension %s not found", id)
			}

			dim, err := engine.Open(id, dimension.Config{})
			if err != nil {
				return err
			}

			data, err := dim.Read(entryPath)
			if err != nil {
				return err
			}

			if params.OutputPath != "" {
				if err := os.WriteFile(params.OutputPath, data, 0o644); err != nil {
					return fmt.Errorf("writing output file: %w", err)
				}
				return nil
			}
			if _, err := os.Stdout.Write(data); err != nil {
				return fmt.Errorf("writing content: %w", err)
			}
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
		Summary: "Delete a dimension and everything in it",
		Usage:   "pocket dimension delete <dimension-id> [flags]",
		Description: `Remove a dimension, its chunks, and any nested dimensions beneath
it. There is no undo.`,
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("delete", &params) },
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("dimension id required\n\nUsage: pocket dimension delete <dimension-id> [flags]")
			}

			engine, _, err := params.Open()
			if err != nil {
				return err
			}
			defer engine.Close()

			if err := engine.Delete(args[0]); err != nil {
				return err
			}

			fmt.Printf("deleted: %s\n", args[0])
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
		Summary: "List dimensions in the engine",
		Usage:   "pocket dimension list [flags]",
		Description: `List every persisted dimension under the engine root, newest
first. Sizes are the raw and stored aggregates from each dimension's
metadata; listing never opens the dimensions themselves, so encrypted
dimensions appear without needing their keys.`,
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("list", &params) },
		Run: func(args []string) error {
			engine, _, err := params.Open()
			if err != nil {
				return err
			}
			defer engine.Close()

			metas, err := engine.List()
			if err != nil {
				return err
			}

			if done, err := params.EmitJSON(metas); done {
				return err
			}

			if len(metas) == 0 {
				fmt.Println("No dimensions found.")
				return nil
			}

			writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(writer, "ID\tNAME\tSIZE\tSTORED\tCHUNKS\tCREATED\n")
			for _, meta := range metas {
				name := meta.Name
				if name == "" {
					name = "-"
				}
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%d\t%s\n",
					meta.ID,
					name,
					cli.FormatSize(meta.RawSize),
					cli.FormatSize(meta.StoredSize),
					meta.ChunkCount,
					meta.CreatedAt.Format("2006-01-02 15:04"),
				)
			}
			writer.Flush()
			return nil
		},
	}
}

// --- stats ---

type statsParams struct {
	cli.EngineConfig
	cli.JSONOutput
}

func statsCommand() *cli.Command {
	var params statsParams

	return &cli.Command{
		Name:    "stats",
		Summary: "Show storage statistics for a dimension",
		Usage:   "pocket dimension stats <dimension-id> [flags]",
		Description: `Display a dimension's persisted metadata: sizes, chunk count,
compression ratio, nesting depth, and encryption state. Reads the
plaintext metadata document only, so no key is needed.`,
		Examples: []cli.Example{
			{
				Description: "Show stats for a dimension",
				Command:     "pocket dimension stats dim-8c2f41d9",
			},
			{
				Description: "Stats as JSON for scripting",
				Command:     "pocket dimension stats dim-8c2f41d9 --json",
			},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("stats", &params) },
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("dimension id required\n\nUsage: pocket dimension stats <dimension-id> [flags]")
			}

			engine, _, err := params.Open()
			if err != nil {
				return err
			}
			defer engine.Close()

			meta, err := engine.Metadata(args[0])
			if err != nil {
				return err
			}

			if done, err := params.EmitJSON(meta); done {
				return err
			}

			writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(writer, "ID:\t%s\n", meta.ID)
			if meta.Name != "" {
				fmt.Fprintf(writer, "Name:\t%s\n", meta.Name)
			}
			fmt.Fprintf(writer, "Size:\t%s (%d bytes)\n", cli.FormatSize(meta.RawSize), meta.RawSize)
			fmt.Fprintf(writer, "Stored:\t%s (%d bytes)\n", cli.FormatSize(meta.StoredSize), meta.StoredSize)
			if meta.RawSize > 0 {
				fmt.Fprintf(writer, "Ratio:\t%.1f%%\n", float64(meta.StoredSize)/float64(meta.RawSize)*100)
			}
			fmt.Fprintf(writer, "Chunks:\t%d\n", meta.ChunkCount)
			fmt.Fprintf(writer, "Depth:\t%d (deepest seen: %d)\n", meta.Depth, meta.MaxDepthSeen)
			fmt.Fprintf(writer, "Encrypted:\t%t\n", meta.Encrypted)
			fmt.Fprintf(writer, "Created:\t%s\n", meta.CreatedAt.Format("2006-01-02 15:04:05 UTC"))
			fmt.Fprintf(writer, "Updated:\t%s\n", meta.UpdatedAt.Format("2006-01-02 15:04:05 UTC"))
			writer.Flush()
			return nil
		},
	}
}
