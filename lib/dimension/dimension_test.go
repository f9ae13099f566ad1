// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package dimension

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/pocket-foundation/pocket/lib/clock"
	"github.com/pocket-foundation/pocket/lib/testutil"
)

func newTestEngine(t *testing.T) (*Engine, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	engine, err := Open(Options{Root: "pocket", Fs: fsys})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return engine, fsys
}

func newTestDimension(t *testing.T) *Dimension {
	t.Helper()
	engine, _ := newTestEngine(t)
	dim, err := engine.Create(Config{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return dim
}

func TestWriteReadRoundtrip(t *testing.T) {
	dim := newTestDimension(t)

	content := []byte("hello from a pocket dimension")
	entry, err := dim.Write("greeting.txt", content)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if entry.Path != "greeting.txt" {
		t.Errorf("Path = %q, want %q", entry.Path, "greeting.txt")
	}
	if entry.Kind != KindFile {
		t.Errorf("Kind = %q, want %q", entry.Kind, KindFile)
	}
	if entry.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", entry.Size, len(content))
	}
	if entry.Version != 1 {
		t.Errorf("Version = %d, want 1", entry.Version)
	}
	if len(entry.Chunks) != 1 {
		t.Errorf("chunk count = %d, want 1", len(entry.Chunks))
	}

	readBack, err := dim.Read("greeting.txt")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(readBack, content) {
		t.Errorf("Read = %q, want %q", readBack, content)
	}

	asString, err := dim.ReadString("greeting.txt")
	if err != nil {
		t.Fatalf("ReadString failed: %v", err)
	}
	if asString != string(content) {
		t.Errorf("ReadString = %q, want %q", asString, content)
	}
}

func TestWriteReadEmpty(t *testing.T) {
	dim := newTestDimension(t)

	entry, err := dim.Write("empty.bin", nil)
	if err != nil {
		t.Fatalf("Write of empty content failed: %v", err)
	}
	if entry.Size != 0 {
		t.Errorf("Size = %d, want 0", entry.Size)
	}
	if len(entry.Chunks) != 0 {
		t.Errorf("chunk count = %d, want 0", len(entry.Chunks))
	}

	readBack, err := dim.Read("empty.bin")
	if err != nil {
		t.Fatalf("Read of empty entry failed: %v", err)
	}
	if len(readBack) != 0 {
		t.Errorf("Read returned %d bytes, want 0", len(readBack))
	}
}

func TestWriteReadMultiChunk(t *testing.T) {
	engine, _ := newTestEngine(t)
	dim, err := engine.Create(Config{ChunkSize: MinChunkSize})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		size       int
		wantChunks int
	}{
		{"remainder", MinChunkSize*2 + 100, 3},
		{"exact multiple", MinChunkSize * 4, 4},
		{"single byte over", MinChunkSize + 1, 2},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			content := make([]byte, test.size)
			for i := range content {
				content[i] = byte(i * 13)
			}

			entry, err := dim.Write("data-"+test.name, content)
			if err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			if len(entry.Chunks) != test.wantChunks {
				t.Errorf("chunk count = %d, want %d", len(entry.Chunks), test.wantChunks)
			}

			readBack, err := dim.Read("data-" + test.name)
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}
			if !bytes.Equal(readBack, content) {
				t.Error("multi-chunk roundtrip mismatch")
			}
		})
	}
}

func TestOverwriteKeepsCreatedAt(t *testing.T) {
	start := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	fake := clock.Fake(start)

	engine, err := Open(Options{Root: "pocket", Fs: afero.NewMemMapFs(), Clock: fake})
	if err != nil {
		t.Fatal(err)
	}
	dim, err := engine.Create(Config{})
	if err != nil {
		t.Fatal(err)
	}

	first, err := dim.Write("notes.md", []byte("first version"))
	if err != nil {
		t.Fatal(err)
	}

	fake.Advance(2 * time.Hour)
	second, err := dim.Write("notes.md", []byte("second version, longer than the first"))
	if err != nil {
		t.Fatal(err)
	}

	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed on overwrite: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	if !second.ModifiedAt.Equal(start.Add(2 * time.Hour)) {
		t.Errorf("ModifiedAt = %v, want %v", second.ModifiedAt, start.Add(2*time.Hour))
	}
	if second.Version != 2 {
		t.Errorf("Version = %d, want 2", second.Version)
	}

	content, err := dim.ReadString("notes.md")
	if err != nil {
		t.Fatal(err)
	}
	if content != "second version, longer than the first" {
		t.Errorf("Read after overwrite = %q", content)
	}
}

func TestDeduplicationAcrossPaths(t *testing.T) {
	dim := newTestDimension(t)

	content := []byte("identical bytes stored under two names")
	if _, err := dim.Write("first.txt", content); err != nil {
		t.Fatal(err)
	}

	statsBefore := dim.Stats()

	if _, err := dim.Write("second.txt", content); err != nil {
		t.Fatal(err)
	}

	statsAfter := dim.Stats()
	if statsAfter.ChunkCount != statsBefore.ChunkCount {
		t.Errorf("ChunkCount grew from %d to %d for duplicate content",
			statsBefore.ChunkCount, statsAfter.ChunkCount)
	}
	if statsAfter.StoredSize != statsBefore.StoredSize {
		t.Errorf("StoredSize grew from %d to %d for duplicate content",
			statsBefore.StoredSize, statsAfter.StoredSize)
	}

	// Both references count on the shared chunk record.
	record := dim.store.records()[HashChunk(content)]
	if record == nil {
		t.Fatal("no record for shared chunk")
	}
	if record.AccessCount != 2 {
		t.Errorf("AccessCount = %d, want 2", record.AccessCount)
	}

	// Both paths read back independently.
	for _, path := range []string{"first.txt", "second.txt"} {
		readBack, err := dim.Read(path)
		if err != nil {
			t.Fatalf("Read(%q) failed: %v", path, err)
		}
		if !bytes.Equal(readBack, content) {
			t.Errorf("Read(%q) mismatch", path)
		}
	}
}

func TestReadMissingEntry(t *testing.T) {
	dim := newTestDimension(t)

	_, err := dim.Read("nowhere.txt")
	if !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("expected ErrEntryNotFound, got: %v", err)
	}
	if _, err := dim.Stat("nowhere.txt"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("Stat: expected ErrEntryNotFound, got: %v", err)
	}
	if err := dim.Delete("nowhere.txt"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("Delete: expected ErrEntryNotFound, got: %v", err)
	}
}

func TestPathValidation(t *testing.T) {
	dim := newTestDimension(t)

	tests := []struct {
		name string
		path string
	}{
		{"empty", ""},
		{"absolute", "/etc/passwd"},
		{"parent escape", "../outside"},
		{"inner traversal", "a/../b"},
		{"double slash", "a//b"},
		{"dot", "."},
		{"trailing slash", "a/"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := dim.Write(test.path, []byte("x")); !errors.Is(err, ErrValidation) {
				t.Errorf("Write(%q): expected ErrValidation, got: %v", test.path, err)
			}
		})
	}
}

func TestMkdirAndKindConflicts(t *testing.T) {
	dim := newTestDimension(t)

	if _, err := dim.Mkdir("assets"); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	// Idempotent.
	entry, err := dim.Mkdir("assets")
	if err != nil {
		t.Fatalf("second Mkdir failed: %v", err)
	}
	if entry.Kind != KindDirectory {
		t.Errorf("Kind = %q, want %q", entry.Kind, KindDirectory)
	}

	// Writing file content over a directory marker is rejected.
	if _, err := dim.Write("assets", []byte("x")); !errors.Is(err, ErrValidation) {
		t.Errorf("Write over directory: expected ErrValidation, got: %v", err)
	}
	// Reading a directory marker as a file is rejected.
	if _, err := dim.Read("assets"); !errors.Is(err, ErrValidation) {
		t.Errorf("Read of directory: expected ErrValidation, got: %v", err)
	}

	// And the reverse: Mkdir over a file.
	if _, err := dim.Write("readme.md", []byte("content")); err != nil {
		t.Fatal(err)
	}
	if _, err := dim.Mkdir("readme.md"); !errors.Is(err, ErrValidation) {
		t.Errorf("Mkdir over file: expected ErrValidation, got: %v", err)
	}
}

func TestDeleteKeepsChunks(t *testing.T) {
	dim := newTestDimension(t)

	if _, err := dim.Write("doomed.txt", []byte("chunk survives entry deletion")); err != nil {
		t.Fatal(err)
	}
	statsBefore := dim.Stats()
	chunksBefore := dim.store.Len()

	if err := dim.Delete("doomed.txt"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if dim.Exists("doomed.txt") {
		t.Error("entry still exists after Delete")
	}
	if _, err := dim.Read("doomed.txt"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("expected ErrEntryNotFound after delete, got: %v", err)
	}

	// Chunks and aggregates are grow-only.
	if dim.store.Len() != chunksBefore {
		t.Errorf("chunk count changed on delete: %d -> %d", chunksBefore, dim.store.Len())
	}
	statsAfter := dim.Stats()
	if statsAfter.StoredSize != statsBefore.StoredSize || statsAfter.RawSize != statsBefore.RawSize {
		t.Error("aggregates changed on delete")
	}
}

func TestListPrefixAndOrder(t *testing.T) {
	dim := newTestDimension(t)

	for _, path := range []string{"src/main.go", "readme.md", "src/util.go", "assets/logo.png"} {
		if _, err := dim.Write(path, []byte(path)); err != nil {
			t.Fatal(err)
		}
	}

	all, err := dim.List("")
	if err != nil {
		t.Fatal(err)
	}
	wantAll := []string{"assets/logo.png", "readme.md", "src/main.go", "src/util.go"}
	if len(all) != len(wantAll) {
		t.Fatalf("List returned %d entries, want %d", len(all), len(wantAll))
	}
	for i, entry := range all {
		if entry.Path != wantAll[i] {
			t.Errorf("List[%d] = %q, want %q", i, entry.Path, wantAll[i])
		}
	}

	src, err := dim.List("src/")
	if err != nil {
		t.Fatal(err)
	}
	if len(src) != 2 {
		t.Fatalf("List(src/) returned %d entries, want 2", len(src))
	}
	if src[0].Path != "src/main.go" || src[1].Path != "src/util.go" {
		t.Errorf("List(src/) = [%q, %q]", src[0].Path, src[1].Path)
	}

	if dim.Len() != 4 {
		t.Errorf("Len = %d, want 4", dim.Len())
	}
}

func TestListReturnsClones(t *testing.T) {
	dim := newTestDimension(t)

	if _, err := dim.Write("file.txt", []byte("content")); err != nil {
		t.Fatal(err)
	}

	listed, err := dim.List("")
	if err != nil {
		t.Fatal(err)
	}
	listed[0].Path = "mutated"
	listed[0].Chunks[0] = Hash{}

	stat, err := dim.Stat("file.txt")
	if err != nil {
		t.Fatalf("Stat failed after mutating a listed entry: %v", err)
	}
	if stat.Path != "file.txt" {
		t.Error("mutating a List result leaked into the index")
	}
	var zero Hash
	if stat.Chunks[0] == zero {
		t.Error("mutating a listed entry's chunks leaked into the index")
	}
}

func TestCloseReopenPreservesState(t *testing.T) {
	fsys := afero.NewMemMapFs()
	engine, err := Open(Options{Root: "pocket", Fs: fsys})
	if err != nil {
		t.Fatal(err)
	}

	dim, err := engine.Create(Config{Name: "workspace"})
	if err != nil {
		t.Fatal(err)
	}
	id := dim.ID()

	content := []byte("durable across close and reopen")
	if _, err := dim.Write("state.bin", content); err != nil {
		t.Fatal(err)
	}
	if _, err := dim.Write("state.bin", append(content, " v2"...)); err != nil {
		t.Fatal(err)
	}
	statsBefore := dim.Stats()

	if err := dim.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A fresh engine over the same filesystem: nothing in memory.
	engine2, err := Open(Options{Root: "pocket", Fs: fsys})
	if err != nil {
		t.Fatal(err)
	}
	reopened, err := engine2.Open(id, Config{})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}

	readBack, err := reopened.Read("state.bin")
	if err != nil {
		t.Fatalf("Read after reopen failed: %v", err)
	}
	if !bytes.Equal(readBack, append(content, " v2"...)) {
		t.Error("content mismatch after reopen")
	}

	entry, err := reopened.Stat("state.bin")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Version != 2 {
		t.Errorf("Version = %d after reopen, want 2", entry.Version)
	}

	statsAfter := reopened.Stats()
	if statsAfter.Name != "workspace" {
		t.Errorf("Name = %q after reopen, want %q", statsAfter.Name, "workspace")
	}
	if !statsAfter.CreatedAt.Equal(statsBefore.CreatedAt) {
		t.Errorf("CreatedAt changed across reopen: %v -> %v", statsBefore.CreatedAt, statsAfter.CreatedAt)
	}
	if statsAfter.RawSize != statsBefore.RawSize || statsAfter.ChunkCount != statsBefore.ChunkCount {
		t.Errorf("aggregates changed across reopen: %+v -> %+v", statsBefore, statsAfter)
	}
}

func TestFlushIsDurable(t *testing.T) {
	fsys := afero.NewMemMapFs()
	engine, err := Open(Options{Root: "pocket", Fs: fsys})
	if err != nil {
		t.Fatal(err)
	}
	dim, err := engine.Create(Config{})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := dim.Write("flushed.txt", []byte("visible after flush")); err != nil {
		t.Fatal(err)
	}
	if err := dim.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	// The dimension stays open for further writes.
	if _, err := dim.Write("after-flush.txt", []byte("still open")); err != nil {
		t.Fatalf("Write after Flush failed: %v", err)
	}

	// A second engine over the same filesystem sees the flushed state.
	engine2, err := Open(Options{Root: "pocket", Fs: fsys})
	if err != nil {
		t.Fatal(err)
	}
	reopened, err := engine2.Open(dim.ID(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	content, err := reopened.ReadString("flushed.txt")
	if err != nil {
		t.Fatalf("Read of flushed entry failed: %v", err)
	}
	if content != "visible after flush" {
		t.Errorf("flushed content = %q", content)
	}
}

func TestOperationsAfterClose(t *testing.T) {
	dim := newTestDimension(t)
	if err := dim.Close(); err != nil {
		t.Fatal(err)
	}

	// Idempotent.
	if err := dim.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	if _, err := dim.Write("x", []byte("y")); !errors.Is(err, ErrValidation) {
		t.Errorf("Write after close: expected ErrValidation, got: %v", err)
	}
	if _, err := dim.Read("x"); !errors.Is(err, ErrValidation) {
		t.Errorf("Read after close: expected ErrValidation, got: %v", err)
	}
	if _, err := dim.List(""); !errors.Is(err, ErrValidation) {
		t.Errorf("List after close: expected ErrValidation, got: %v", err)
	}
	if err := dim.Flush(); !errors.Is(err, ErrValidation) {
		t.Errorf("Flush after close: expected ErrValidation, got: %v", err)
	}
}

func TestConfigValidationOnCreate(t *testing.T) {
	engine, _ := newTestEngine(t)

	tests := []struct {
		name   string
		config Config
	}{
		{"chunk size too small", Config{ChunkSize: MinChunkSize - 1}},
		{"chunk size too large", Config{ChunkSize: MaxChunkSize + 1}},
		{"unknown codec", Config{Codec: "brotli"}},
		{"level out of range", Config{CompressionLevel: 11}},
		{"negative max depth", Config{MaxDepth: -1}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := engine.Create(test.config); !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got: %v", err)
			}
		})
	}
}

func TestConcurrentReadersDuringWrites(t *testing.T) {
	dim := newTestDimension(t)

	shared := []byte("stable content read while other paths churn")
	if _, err := dim.Write("shared.txt", shared); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			readBack, err := dim.Read("shared.txt")
			if err != nil {
				t.Errorf("concurrent Read failed: %v", err)
				return
			}
			if !bytes.Equal(readBack, shared) {
				t.Error("concurrent Read returned wrong bytes")
				return
			}
		}
	}()

	for i := 0; i < 50; i++ {
		path := fmt.Sprintf("churn/file-%03d.dat", i)
		if _, err := dim.Write(path, []byte(path)); err != nil {
			t.Fatalf("Write during concurrent reads failed: %v", err)
		}
	}

	testutil.RequireClosed(t, done, 10*time.Second, "reader goroutine finished")

	if dim.Len() != 51 {
		t.Errorf("Len = %d, want 51", dim.Len())
	}
}
