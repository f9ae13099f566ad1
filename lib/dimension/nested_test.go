// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package dimension

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/spf13/afero"
)

func TestCreateNestedRoundtrip(t *testing.T) {
	dim := newTestDimension(t)

	child, err := dim.CreateNested("inner", Config{})
	if err != nil {
		t.Fatalf("CreateNested failed: %v", err)
	}

	wantID := dim.ID() + "/inner"
	if child.ID() != wantID {
		t.Errorf("child ID = %q, want %q", child.ID(), wantID)
	}

	childStats := child.Stats()
	if childStats.Depth != 1 {
		t.Errorf("child Depth = %d, want 1", childStats.Depth)
	}
	if childStats.ParentID != dim.ID() {
		t.Errorf("child ParentID = %q, want %q", childStats.ParentID, dim.ID())
	}

	// The parent gains a dimension entry pointing at the child.
	entry, err := dim.Stat("inner")
	if err != nil {
		t.Fatalf("parent has no entry for child: %v", err)
	}
	if entry.Kind != KindDimension {
		t.Errorf("entry Kind = %q, want %q", entry.Kind, KindDimension)
	}
	if entry.Metadata[MetadataKeyDimensionID] != wantID {
		t.Errorf("entry dimension id = %q, want %q", entry.Metadata[MetadataKeyDimensionID], wantID)
	}

	if dim.Stats().MaxDepthSeen != 1 {
		t.Errorf("parent MaxDepthSeen = %d, want 1", dim.Stats().MaxDepthSeen)
	}

	// Writes through the child work like any dimension.
	if _, err := child.Write("nested.txt", []byte("inside the inner dimension")); err != nil {
		t.Fatalf("Write through child failed: %v", err)
	}
	content, err := child.ReadString("nested.txt")
	if err != nil {
		t.Fatal(err)
	}
	if content != "inside the inner dimension" {
		t.Errorf("child content = %q", content)
	}

	// The child's files do not appear in the parent's namespace.
	if dim.Exists("nested.txt") {
		t.Error("child entry leaked into parent namespace")
	}
}

func TestOpenNestedReturnsLiveChild(t *testing.T) {
	dim := newTestDimension(t)

	created, err := dim.CreateNested("inner", Config{})
	if err != nil {
		t.Fatal(err)
	}

	opened, err := dim.OpenNested("inner", Config{})
	if err != nil {
		t.Fatalf("OpenNested failed: %v", err)
	}
	if opened != created {
		t.Error("OpenNested returned a different instance for a live child")
	}

	if _, err := dim.OpenNested("missing", Config{}); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("OpenNested(missing): expected ErrEntryNotFound, got: %v", err)
	}

	if _, err := dim.Write("plain.txt", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := dim.OpenNested("plain.txt", Config{}); !errors.Is(err, ErrValidation) {
		t.Errorf("OpenNested on file entry: expected ErrValidation, got: %v", err)
	}
}

func TestNestedDepthLimit(t *testing.T) {
	engine, _ := newTestEngine(t)
	dim, err := engine.Create(Config{MaxDepth: 3})
	if err != nil {
		t.Fatal(err)
	}

	current := dim
	for i := 1; i <= 3; i++ {
		child, err := current.CreateNested(fmt.Sprintf("level%d", i), Config{})
		if err != nil {
			t.Fatalf("CreateNested at depth %d failed: %v", i, err)
		}
		if child.Stats().Depth != i {
			t.Errorf("depth = %d, want %d", child.Stats().Depth, i)
		}
		current = child
	}

	// One past the limit is rejected before any directory appears.
	_, err = current.CreateNested("level4", Config{})
	if !errors.Is(err, ErrMaxDepthExceeded) {
		t.Fatalf("expected ErrMaxDepthExceeded, got: %v", err)
	}
	if current.Exists("level4") {
		t.Error("rejected nested dimension left an entry behind")
	}
}

func TestNestedNameValidation(t *testing.T) {
	dim := newTestDimension(t)

	tests := []struct {
		name   string
		nested string
	}{
		{"empty", ""},
		{"multi segment", "a/b"},
		{"hidden", ".hidden"},
		{"dot dot", ".."},
		{"reserved chunks", "chunks"},
		{"reserved metadata", "metadata.json"},
		{"reserved index", "index.json"},
		{"reserved keyfile", KeyFileName},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := dim.CreateNested(test.nested, Config{}); !errors.Is(err, ErrValidation) {
				t.Errorf("CreateNested(%q): expected ErrValidation, got: %v", test.nested, err)
			}
		})
	}

	// A name that collides with an existing entry is rejected too.
	if _, err := dim.Write("taken", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := dim.CreateNested("taken", Config{}); !errors.Is(err, ErrValidation) {
		t.Errorf("CreateNested over existing entry: expected ErrValidation, got: %v", err)
	}
}

func TestNestedConfigInheritance(t *testing.T) {
	engine, _ := newTestEngine(t)
	dim, err := engine.Create(Config{
		ChunkSize: MinChunkSize,
		Codec:     "zstd",
		MaxDepth:  5,
	})
	if err != nil {
		t.Fatal(err)
	}

	child, err := dim.CreateNested("inherits", Config{})
	if err != nil {
		t.Fatal(err)
	}
	if child.config.ChunkSize != MinChunkSize {
		t.Errorf("child ChunkSize = %d, want %d", child.config.ChunkSize, MinChunkSize)
	}
	if child.codec != CodecZstd {
		t.Errorf("child codec = %v, want %v", child.codec, CodecZstd)
	}
	if child.config.MaxDepth != 5 {
		t.Errorf("child MaxDepth = %d, want 5", child.config.MaxDepth)
	}

	// Explicit overrides win over inheritance.
	override, err := dim.CreateNested("overrides", Config{Codec: "lz4"})
	if err != nil {
		t.Fatal(err)
	}
	if override.codec != CodecLZ4 {
		t.Errorf("override codec = %v, want %v", override.codec, CodecLZ4)
	}
}

func TestNestedSharedCache(t *testing.T) {
	dim := newTestDimension(t)

	child, err := dim.CreateNested("inner", Config{})
	if err != nil {
		t.Fatal(err)
	}
	if child.cache != dim.cache {
		t.Error("nested dimension does not share its parent's cache")
	}

	grand, err := child.CreateNested("deeper", Config{})
	if err != nil {
		t.Fatal(err)
	}
	if grand.cache != dim.cache {
		t.Error("cache not shared transitively down the tree")
	}
}

func TestCloseThroughParentAndReopen(t *testing.T) {
	fsys := afero.NewMemMapFs()
	engine, err := Open(Options{Root: "pocket", Fs: fsys})
	if err != nil {
		t.Fatal(err)
	}
	dim, err := engine.Create(Config{})
	if err != nil {
		t.Fatal(err)
	}
	id := dim.ID()

	child, err := dim.CreateNested("inner", Config{})
	if err != nil {
		t.Fatal(err)
	}
	grand, err := child.CreateNested("deeper", Config{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := grand.Write("deep.txt", []byte("two levels down")); err != nil {
		t.Fatal(err)
	}

	// Closing the root closes the whole tree.
	if err := dim.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := child.Read("anything"); !errors.Is(err, ErrValidation) {
		t.Errorf("child still usable after parent close: %v", err)
	}

	engine2, err := Open(Options{Root: "pocket", Fs: fsys})
	if err != nil {
		t.Fatal(err)
	}
	reopened, err := engine2.Open(id, Config{})
	if err != nil {
		t.Fatal(err)
	}

	// Depth from grandchild creation was absorbed on the way out.
	if reopened.Stats().MaxDepthSeen != 2 {
		t.Errorf("MaxDepthSeen = %d after reopen, want 2", reopened.Stats().MaxDepthSeen)
	}

	innerAgain, err := reopened.OpenNested("inner", Config{})
	if err != nil {
		t.Fatalf("OpenNested after reopen failed: %v", err)
	}
	deeperAgain, err := innerAgain.OpenNested("deeper", Config{})
	if err != nil {
		t.Fatalf("OpenNested two levels down failed: %v", err)
	}
	content, err := deeperAgain.ReadString("deep.txt")
	if err != nil {
		t.Fatal(err)
	}
	if content != "two levels down" {
		t.Errorf("deep content = %q", content)
	}
}

func TestDeleteNestedDimension(t *testing.T) {
	engine, _ := newTestEngine(t)
	dim, err := engine.Create(Config{})
	if err != nil {
		t.Fatal(err)
	}

	child, err := dim.CreateNested("inner", Config{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := child.Write("data.txt", []byte("going away")); err != nil {
		t.Fatal(err)
	}

	// An open child cannot be deleted out from under its users.
	if err := dim.Delete("inner"); !errors.Is(err, ErrValidation) {
		t.Errorf("Delete of open child: expected ErrValidation, got: %v", err)
	}

	if err := child.Close(); err != nil {
		t.Fatal(err)
	}
	if err := dim.Delete("inner"); err != nil {
		t.Fatalf("Delete of closed child failed: %v", err)
	}

	if dim.Exists("inner") {
		t.Error("dimension entry survived Delete")
	}
	if _, err := dim.OpenNested("inner", Config{}); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("OpenNested after delete: expected ErrEntryNotFound, got: %v", err)
	}
}

func TestNestedDeduplicationSharesStore(t *testing.T) {
	dim := newTestDimension(t)

	content := bytes.Repeat([]byte("shared payload "), 64)
	if _, err := dim.Write("top.txt", content); err != nil {
		t.Fatal(err)
	}

	child, err := dim.CreateNested("inner", Config{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := child.Write("copy.txt", content); err != nil {
		t.Fatal(err)
	}

	// Each dimension has its own chunk namespace, so the same bytes
	// land once per dimension, not once overall.
	if dim.store.Len() != 1 {
		t.Errorf("parent store has %d chunks, want 1", dim.store.Len())
	}
	if child.store.Len() != 1 {
		t.Errorf("child store has %d chunks, want 1", child.store.Len())
	}
	if dim.store == child.store {
		t.Error("parent and child share a chunk store")
	}
}

func TestCloseAbsorbsDepthFromGrandchildren(t *testing.T) {
	fsys := afero.NewMemMapFs()
	engine, err := Open(Options{Root: "pocket", Fs: fsys})
	if err != nil {
		t.Fatal(err)
	}
	dim, err := engine.Create(Config{})
	if err != nil {
		t.Fatal(err)
	}
	id := dim.ID()

	// Three levels below the root: depth raised at the bottom of the
	// chain must surface in the root's persisted metadata, even
	// though the root only ever sees its immediate child.
	level1, err := dim.CreateNested("a", Config{})
	if err != nil {
		t.Fatal(err)
	}
	level2, err := level1.CreateNested("b", Config{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := level2.CreateNested("c", Config{}); err != nil {
		t.Fatal(err)
	}

	if err := dim.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	engine2, err := Open(Options{Root: "pocket", Fs: fsys})
	if err != nil {
		t.Fatal(err)
	}
	reopened, err := engine2.Open(id, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if got := reopened.Stats().MaxDepthSeen; got != 3 {
		t.Errorf("root MaxDepthSeen = %d after reopen, want 3", got)
	}

	middle, err := reopened.OpenNested("a", Config{})
	if err != nil {
		t.Fatal(err)
	}
	if got := middle.Stats().MaxDepthSeen; got != 3 {
		t.Errorf("intermediate MaxDepthSeen = %d after reopen, want 3", got)
	}
}
