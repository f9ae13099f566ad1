// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux || darwin

// Package fuse mounts a capsule as a read-only FUSE filesystem. The
// directory tree comes from the capsule manifest; file reads are
// served by the memoizing virtual filesystem, so the running
// application's hot set stays in memory and everything else costs one
// chunk store round-trip.
package fuse

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sync"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/pocket-foundation/pocket/lib/capsule"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	// Created if it does not exist.
	Mountpoint string

	// VFS serves the capsule content. The caller keeps ownership and
	// must not close it while the mount is live.
	VFS *capsule.VirtualFS

	// AllowOther permits other users (including root) to access the
	// mount. Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, errors go to
	// stderr.
	Logger *slog.Logger
}

// Mount mounts the capsule filesystem at the configured mountpoint.
// The caller must call Unmount on the returned server when done.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.VFS == nil {
		return nil, fmt.Errorf("virtual filesystem is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	root := &dirNode{options: &options, path: ""}

	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "pocket-capsule",
			Name:       "pocket",
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("capsule FUSE filesystem mounted",
		"capsule", options.VFS.Metadata().ID,
		"mountpoint", options.Mountpoint)
	return server, nil
}

// dirNode is a capsule directory. The root is the dirNode with an
// empty path; children are resolved dynamically against the virtual
// filesystem.
type dirNode struct {
	gofuse.Inode
	options *Options
	path    string
}

var _ gofuse.InodeEmbedder = (*dirNode)(nil)
var _ gofuse.NodeLookuper = (*dirNode)(nil)
var _ gofuse.NodeReaddirer = (*dirNode)(nil)
var _ gofuse.NodeGetattrer = (*dirNode)(nil)

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	full := name
	if d.path != "" {
		full = path.Join(d.path, name)
	}

	if descriptor, ok := d.options.VFS.Stat(full); ok {
		node := &fileNode{options: d.options, descriptor: descriptor}
		child := d.NewPersistentInode(ctx, node, gofuse.StableAttr{Mode: syscall.S_IFREG})
		out.Mode = syscall.S_IFREG | 0o444
		out.Size = uint64(descriptor.Size)
		return child, 0
	}

	if full != "" && d.options.VFS.IsDir(full) {
		child := d.NewPersistentInode(ctx, &dirNode{
			options: d.options,
			path:    full,
		}, gofuse.StableAttr{Mode: syscall.S_IFDIR})
		out.Mode = syscall.S_IFDIR | 0o555
		return child, 0
	}

	return nil, syscall.ENOENT
}

func (d *dirNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	children, err := d.options.VFS.ListDir(d.path)
	if err != nil {
		d.options.Logger.Error("readdir failed", "path", d.path, "error", err)
		return nil, syscall.EIO
	}

	entries := make([]fuse.DirEntry, 0, len(children))
	for _, child := range children {
		mode := uint32(syscall.S_IFREG)
		if child.IsDir {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{
			Name: child.Name,
			Mode: mode,
		})
	}
	return &sliceDirStream{entries: entries}, 0
}

func (d *dirNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFDIR | 0o555
	return 0
}

// fileNode is one capsule file. Content is immutable, so the kernel
// page cache stays enabled and write opens are rejected.
type fileNode struct {
	gofuse.Inode
	options    *Options
	descriptor capsule.FileDescriptor

	// mu serializes the first content load; afterwards reads hit the
	// virtual filesystem's cache.
	mu sync.Mutex
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)
var _ gofuse.NodeReader = (*fileNode)(nil)

func (f *fileNode) Getattr(ctx context.Context, h gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFREG | 0o444
	out.Size = uint64(f.descriptor.Size)
	out.Blocks = (out.Size + 511) / 512
	out.Blksize = 65536
	return 0
}

func (f *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	// Capsule content is immutable: the kernel page cache is always
	// valid.
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (f *fileNode) Read(ctx context.Context, h gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	f.mu.Lock()
	data, err := f.options.VFS.ReadFile(f.descriptor.Path)
	f.mu.Unlock()
	if err != nil {
		f.options.Logger.Error("read failed",
			"path", f.descriptor.Path,
			"offset", off,
			"error", err)
		return nil, syscall.EIO
	}

	if off >= int64(len(data)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return fuse.ReadResultData(data[off:end]), 0
}

// sliceDirStream implements fs.DirStream from a slice of entries.
type sliceDirStream struct {
	entries []fuse.DirEntry
	index   int
}

func (s *sliceDirStream) HasNext() bool {
	return s.index < len(s.entries)
}

func (s *sliceDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if s.index >= len(s.entries) {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := s.entries[s.index]
	s.index++
	return entry, 0
}

func (s *sliceDirStream) Close() {}
