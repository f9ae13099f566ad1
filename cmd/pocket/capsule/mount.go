// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux || darwin

package capsule

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/pocket-foundation/pocket/cmd/pocket/cli"
	"github.com/pocket-foundation/pocket/lib/capsule"
	capsulefuse "github.com/pocket-foundation/pocket/lib/capsule/fuse"
)

type mountParams struct {
	cli.EngineConfig
	AllowOther bool `json:"allow_other" flag:"allow-other" desc:"allow other users to access the mount (needs user_allow_other in /etc/fuse.conf)"`
}

func mountCommand() *cli.Command {
	var params mountParams

	return &cli.Command{
		Name:    "mount",
		Summary: "Mount a capsule as a read-only filesystem",
		Usage:   "pocket capsule mount <capsule-id> <mountpoint> [flags]",
		Description: `Mount a capsule's virtual filesystem at a directory via FUSE.

The mount is read-only; writes fail with EROFS. File content is
decompressed on first read and served from the in-memory cache after
that. The command runs until interrupted (Ctrl-C) or the filesystem
is unmounted externally (fusermount -u / umount).`,
		Examples: []cli.Example{
			{
				Description: "Mount a capsule and browse it",
				Command:     "pocket capsule mount cap-9d41f2ab /mnt/webapp",
			},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("mount", &params) },
		Run: func(args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("capsule id and mountpoint required\n\nUsage: pocket capsule mount <capsule-id> <mountpoint> [flags]")
			}

			engine, cfg, err := params.Open()
			if err != nil {
				return err
			}
			defer engine.Close()

			logger := params.Logger(cfg)

			vfs, err := capsule.NewVirtualFS(engine, args[0], capsule.LoadOptions{
				CacheBytes: cfg.Cache.Bytes,
				Logger:     logger,
			})
			if err != nil {
				return err
			}
			defer vfs.Close()

			server, err := capsulefuse.Mount(capsulefuse.Options{
				Mountpoint: args[1],
				VFS:        vfs,
				AllowOther: params.AllowOther || cfg.Mount.AllowOther,
				Logger:     logger,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "mounted %s at %s (Ctrl-C to unmount)\n", args[0], args[1])

			// Unmount on SIGINT/SIGTERM; Wait also returns if the
			// mount is removed externally with fusermount -u.
			signals := make(chan os.Signal, 1)
			signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
			done := make(chan struct{})
			go func() {
				select {
				case <-signals:
					if err := server.Unmount(); err != nil {
						logger.Error("unmount failed, retry with fusermount -u", "error", err)
					}
				case <-done:
				}
			}()

			server.Wait()
			close(done)
			signal.Stop(signals)

			fmt.Fprintf(os.Stderr, "unmounted %s\n", args[1])
			return nil
		},
	}
}
