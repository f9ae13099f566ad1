// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux && !darwin

package capsule

import (
	"fmt"
	"runtime"

	"github.com/pocket-foundation/pocket/cmd/pocket/cli"
)

func mountCommand() *cli.Command {
	return &cli.Command{
		Name:    "mount",
		Summary: "Mount a capsule as a read-only filesystem (Linux/macOS only)",
		Usage:   "pocket capsule mount <capsule-id> <mountpoint> [flags]",
		Description: `Mount a capsule's virtual filesystem at a directory via FUSE.

FUSE mounts are only available on Linux and macOS. Use "pocket
capsule serve" or "pocket capsule extract" on other platforms.`,
		Run: func(args []string) error {
			return fmt.Errorf("capsule mount is not supported on %s", runtime.GOOS)
		},
	}
}
