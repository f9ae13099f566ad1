// Copyright 2026 The Pocket Authors
// SPDX-License-Identifier: Apache-2.0

package capsule

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/pocket-foundation/pocket/lib/codec"
	"github.com/pocket-foundation/pocket/lib/dimension"
	"github.com/pocket-foundation/pocket/lib/secret"
)

// Export stream format constants.
const (
	// StreamFormatVersion is the current export stream version.
	// Readers reject streams with versions they do not know.
	StreamFormatVersion = 1

	// MaxFrameSize caps a single data frame. Frames are
	// length-prefixed with a 4-byte uint32, so the theoretical limit
	// is ~4GB; 1MB keeps memory bounded on both ends.
	MaxFrameSize = 1024 * 1024

	// MaxHeaderSize caps a length-prefixed CBOR message. 64KB is
	// generous for stream and file headers.
	MaxHeaderSize = 64 * 1024
)

// The export stream is a zstd-compressed sequence of length-prefixed
// deterministic-CBOR messages and framed byte streams:
//
//	[stream header message]
//	[manifest bytes, framed][zero frame]
//	[metadata bytes, framed][zero frame]
//	FileCount x ( [file header message] [file bytes, framed][zero frame] )
//	[zero-length message]
//
// Messages are a 4-byte big-endian length followed by CBOR data.
// Frames are a 4-byte big-endian length followed by raw bytes; a
// zero-length frame terminates each byte stream. The manifest travels
// as its exact stored bytes so the importer re-verifies the same
// checksum the builder recorded.

// streamHeader opens an export stream.
type streamHeader struct {
	FormatVersion int       `cbor:"format_version" json:"format_version"`
	CapsuleID     string    `cbor:"capsule_id"     json:"capsule_id"`
	Name          string    `cbor:"name"           json:"name"`
	Version       string    `cbor:"version"        json:"version"`
	CreatedAt     time.Time `cbor:"created_at"     json:"created_at"`
	FileCount     int       `cbor:"file_count"     json:"file_count"`
}

// fileHeader precedes each file's framed data.
type fileHeader struct {
	Path string         `cbor:"path" json:"path"`
	Size int64          `cbor:"size" json:"size"`
	Kind FileKind       `cbor:"kind" json:"kind"`
	Hash dimension.Hash `cbor:"hash" json:"hash"`
}

// ExportResult reports a completed export.
type ExportResult struct {
	CapsuleID    string
	FileCount    int
	BytesWritten int64 // compressed bytes written to the destination
	Duration     time.Duration
}

// ImportOptions configures a capsule import.
type ImportOptions struct {
	// Encrypt stores the imported content encrypted under
	// EncryptionKey (generated and persisted to the keyfile when
	// nil). The stream itself is always plaintext.
	Encrypt       bool
	EncryptionKey *secret.Buffer

	// Logger receives the import summary. Nil discards.
	Logger *slog.Logger
}

// ImportResult reports a completed import.
type ImportResult struct {
	CapsuleID     string
	FileCount     int
	BytesReceived int64 // uncompressed file bytes received
	Duration      time.Duration
}

// Export writes the capsule behind vfs as a portable single-file
// stream. The stream is plaintext regardless of how the capsule is
// stored, so exporting an encrypted capsule requires its key.
func Export(vfs *VirtualFS, w io.Writer) (*ExportResult, error) {
	start := time.Now()
	if err := vfs.check(); err != nil {
		return nil, err
	}

	counting := &countingWriter{w: w}
	zw, err := zstd.NewWriter(counting)
	if err != nil {
		return nil, fmt.Errorf("initializing stream compression: %w", err)
	}

	header := streamHeader{
		FormatVersion: StreamFormatVersion,
		CapsuleID:     vfs.meta.ID,
		Name:          vfs.meta.Name,
		Version:       vfs.meta.Version,
		CreatedAt:     vfs.meta.CreatedAt,
		FileCount:     len(vfs.manifest.Files),
	}
	if err := writeMessage(zw, &header); err != nil {
		return nil, err
	}
	if err := writeFrameStream(zw, vfs.manifestBytes); err != nil {
		return nil, fmt.Errorf("exporting manifest: %w", err)
	}
	if err := writeFrameStream(zw, vfs.metaBytes); err != nil {
		return nil, fmt.Errorf("exporting metadata: %w", err)
	}

	for _, file := range vfs.manifest.Files {
		data, err := vfs.ReadFile(file.Path)
		if err != nil {
			return nil, fmt.Errorf("exporting %s: %w", file.Path, err)
		}
		fh := fileHeader{Path: file.Path, Size: file.Size, Kind: file.Kind, Hash: file.Hash}
		if err := writeMessage(zw, &fh); err != nil {
			return nil, err
		}
		if err := writeFrameStream(zw, data); err != nil {
			return nil, fmt.Errorf("exporting %s: %w", file.Path, err)
		}
	}

	// Trailing zero-length message marks a complete stream.
	var terminator [4]byte
	if _, err := zw.Write(terminator[:]); err != nil {
		return nil, fmt.Errorf("writing stream terminator: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("flushing stream: %w", err)
	}

	return &ExportResult{
		CapsuleID:    vfs.meta.ID,
		FileCount:    len(vfs.manifest.Files),
		BytesWritten: counting.n,
		Duration:     time.Since(start),
	}, nil
}

// Import rebuilds a capsule from an export stream under its original
// id, re-chunked and re-deduplicated through the normal write path and
// optionally re-encrypted under the importer's key. Fails if the id
// already exists under the engine root. The manifest checksum is
// verified before any storage is created.
func Import(engine *dimension.Engine, r io.Reader, options ImportOptions) (*ImportResult, error) {
	start := time.Now()

	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if options.EncryptionKey != nil && !options.Encrypt {
		return nil, fmt.Errorf("%w: encryption key supplied without Encrypt", dimension.ErrValidation)
	}

	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("initializing stream decompression: %w", err)
	}
	defer zr.Close()

	var header streamHeader
	if err := readMessage(zr, &header); err != nil {
		return nil, fmt.Errorf("reading stream header: %w", err)
	}
	if header.FormatVersion != StreamFormatVersion {
		return nil, fmt.Errorf("stream format version %d not supported (want %d)",
			header.FormatVersion, StreamFormatVersion)
	}
	if !IsCapsuleID(header.CapsuleID) {
		return nil, fmt.Errorf("%w: stream carries invalid capsule id %q",
			dimension.ErrValidation, header.CapsuleID)
	}
	if engine.Exists(header.CapsuleID) {
		return nil, fmt.Errorf("%w: capsule %s already exists",
			dimension.ErrValidation, header.CapsuleID)
	}

	manifestBytes, err := readFrameStream(zr)
	if err != nil {
		return nil, fmt.Errorf("reading manifest stream: %w", err)
	}
	metaBytes, err := readFrameStream(zr)
	if err != nil {
		return nil, fmt.Errorf("reading metadata stream: %w", err)
	}

	meta, err := ParseMetadata(metaBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestIntegrity, err)
	}
	manifestHash := dimension.FormatHash(dimension.HashManifest(manifestBytes))
	if manifestHash != meta.Checksums.Manifest {
		return nil, fmt.Errorf("%w: stream manifest hash %s does not match recorded %s",
			ErrManifestIntegrity, manifestHash, meta.Checksums.Manifest)
	}
	manifest, err := ParseManifest(manifestBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestIntegrity, err)
	}
	if len(manifest.Files) != header.FileCount {
		return nil, fmt.Errorf("%w: stream header names %d files, manifest %d",
			ErrManifestIntegrity, header.FileCount, len(manifest.Files))
	}

	key := options.EncryptionKey
	if options.Encrypt && key == nil {
		key, err = dimension.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generating capsule key: %w", err)
		}
		defer key.Close()
	}

	dim, err := engine.Open(header.CapsuleID, dimension.Config{
		Name:          meta.Name,
		EncryptionKey: key,
	})
	if err != nil {
		return nil, fmt.Errorf("creating capsule dimension: %w", err)
	}
	success := false
	defer func() {
		if !success {
			if err := engine.Delete(header.CapsuleID); err != nil {
				logger.Warn("cleaning up partial import failed",
					"capsule", header.CapsuleID, "error", err)
			}
		}
	}()

	for _, dir := range manifest.Directories {
		if _, err := dim.Mkdir(dir); err != nil {
			return nil, fmt.Errorf("recording directory %s: %w", dir, err)
		}
	}

	var bytesReceived int64
	for i := 0; i < header.FileCount; i++ {
		var fh fileHeader
		if err := readMessage(zr, &fh); err != nil {
			return nil, fmt.Errorf("reading file header %d: %w", i, err)
		}
		descriptor, ok := manifest.File(fh.Path)
		if !ok {
			return nil, fmt.Errorf("%w: stream carries %s, absent from manifest",
				ErrManifestIntegrity, fh.Path)
		}
		if fh.Hash != descriptor.Hash {
			return nil, fmt.Errorf("%w: stream hash for %s does not match manifest",
				ErrManifestIntegrity, fh.Path)
		}

		data, err := readFrameStream(zr)
		if err != nil {
			return nil, fmt.Errorf("reading data for %s: %w", fh.Path, err)
		}
		if int64(len(data)) != fh.Size {
			return nil, fmt.Errorf("%w: %s carries %d bytes, header says %d",
				ErrManifestIntegrity, fh.Path, len(data), fh.Size)
		}
		if got := dimension.HashContent(data); got != descriptor.Hash {
			return nil, fmt.Errorf("%w: %s does not match its manifest hash",
				ErrManifestIntegrity, fh.Path)
		}

		if _, err := dim.Write(fh.Path, data); err != nil {
			return nil, fmt.Errorf("storing %s: %w", fh.Path, err)
		}
		bytesReceived += int64(len(data))
	}

	if err := readTerminator(zr); err != nil {
		return nil, err
	}

	// The imported capsule keeps the exact manifest bytes; metadata is
	// re-serialized because the encryption flag reflects how this copy
	// is stored, not how the exported one was.
	meta.Encrypted = options.Encrypt
	metaOut, err := meta.Serialize()
	if err != nil {
		return nil, err
	}
	if _, err := dim.Write(ManifestPath, manifestBytes); err != nil {
		return nil, fmt.Errorf("storing manifest: %w", err)
	}
	if _, err := dim.Write(MetadataPath, metaOut); err != nil {
		return nil, fmt.Errorf("storing capsule metadata: %w", err)
	}
	if err := dim.Close(); err != nil {
		return nil, fmt.Errorf("closing capsule dimension: %w", err)
	}
	success = true

	duration := time.Since(start)
	logger.Info("capsule imported",
		"capsule", header.CapsuleID,
		"name", meta.Name,
		"files", header.FileCount,
		"bytes", bytesReceived,
		"encrypted", options.Encrypt,
		"duration", duration)

	return &ImportResult{
		CapsuleID:     header.CapsuleID,
		FileCount:     header.FileCount,
		BytesReceived: bytesReceived,
		Duration:      duration,
	}, nil
}

// --- Message helpers ---

// writeMessage encodes v as CBOR and writes it with a 4-byte length
// prefix.
func writeMessage(w io.Writer, v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	if len(data) > MaxHeaderSize {
		return fmt.Errorf("message size %d exceeds maximum %d", len(data), MaxHeaderSize)
	}
	var lengthPrefix [4]byte
	binary.BigEndian.PutUint32(lengthPrefix[:], uint32(len(data)))
	if _, err := w.Write(lengthPrefix[:]); err != nil {
		return fmt.Errorf("writing message length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing message body: %w", err)
	}
	return nil
}

// readMessage reads a length-prefixed CBOR message and decodes it into
// v. Rejects messages larger than MaxHeaderSize and the zero-length
// terminator.
func readMessage(r io.Reader, v any) error {
	var lengthPrefix [4]byte
	if _, err := io.ReadFull(r, lengthPrefix[:]); err != nil {
		return fmt.Errorf("reading message length: %w", err)
	}
	length := binary.BigEndian.Uint32(lengthPrefix[:])
	if length == 0 {
		return fmt.Errorf("unexpected stream terminator")
	}
	if length > MaxHeaderSize {
		return fmt.Errorf("message size %d exceeds maximum %d", length, MaxHeaderSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("reading message body: %w", err)
	}
	if err := codec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	return nil
}

// readTerminator consumes the trailing zero-length message.
func readTerminator(r io.Reader) error {
	var lengthPrefix [4]byte
	if _, err := io.ReadFull(r, lengthPrefix[:]); err != nil {
		return fmt.Errorf("reading stream terminator: %w", err)
	}
	if length := binary.BigEndian.Uint32(lengthPrefix[:]); length != 0 {
		return fmt.Errorf("expected stream terminator, got message of %d bytes", length)
	}
	return nil
}

// --- Frame helpers ---

// writeFrameStream writes data as length-prefixed frames of at most
// MaxFrameSize bytes, followed by a zero-length terminator frame.
func writeFrameStream(w io.Writer, data []byte) error {
	fw := newFrameWriter(w)
	if _, err := fw.Write(data); err != nil {
		return err
	}
	return fw.Close()
}

// readFrameStream reads framed data until the zero-length terminator.
func readFrameStream(r io.Reader) ([]byte, error) {
	return io.ReadAll(newFrameReader(r))
}

// frameWriter writes binary data as length-prefixed frames. Each frame
// is a 4-byte big-endian uint32 length followed by that many bytes.
// Close writes a zero-length terminator frame; the underlying writer
// is not closed.
type frameWriter struct {
	writer io.Writer
	closed bool
}

func newFrameWriter(w io.Writer) *frameWriter {
	return &frameWriter{writer: w}
}

// Write splits p into frames of at most MaxFrameSize bytes.
func (fw *frameWriter) Write(p []byte) (int, error) {
	if fw.closed {
		return 0, fmt.Errorf("write to closed frame writer")
	}

	totalWritten := 0
	for len(p) > 0 {
		frameSize := len(p)
		if frameSize > MaxFrameSize {
			frameSize = MaxFrameSize
		}
		if err := fw.writeFrame(p[:frameSize]); err != nil {
			return totalWritten, err
		}
		totalWritten += frameSize
		p = p[frameSize:]
	}
	return totalWritten, nil
}

func (fw *frameWriter) Close() error {
	if fw.closed {
		return nil
	}
	fw.closed = true

	var header [4]byte
	// header is already zero: the terminator frame.
	_, err := fw.writer.Write(header[:])
	return err
}

func (fw *frameWriter) writeFrame(data []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := fw.writer.Write(header[:]); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if _, err := fw.writer.Write(data); err != nil {
		return fmt.Errorf("writing frame data: %w", err)
	}
	return nil
}

// frameReader reads binary data from a sequence of length-prefixed
// frames, crossing frame boundaries transparently. Returns io.EOF
// after the zero-length terminator.
type frameReader struct {
	reader         io.Reader
	frameRemaining int
	done           bool
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{reader: r}
}

func (fr *frameReader) Read(p []byte) (int, error) {
	if fr.done {
		return 0, io.EOF
	}

	totalRead := 0
	for len(p) > 0 {
		if fr.frameRemaining == 0 {
			var header [4]byte
			if _, err := io.ReadFull(fr.reader, header[:]); err != nil {
				if err == io.EOF || err == io.ErrUnexpectedEOF {
					// Stream ended without a terminator.
					fr.done = true
					if totalRead > 0 {
						return totalRead, nil
					}
					return 0, io.ErrUnexpectedEOF
				}
				return totalRead, err
			}
			fr.frameRemaining = int(binary.BigEndian.Uint32(header[:]))
			if fr.frameRemaining == 0 {
				fr.done = true
				if totalRead > 0 {
					return totalRead, nil
				}
				return 0, io.EOF
			}
			if fr.frameRemaining > MaxFrameSize {
				return totalRead, fmt.Errorf("frame size %d exceeds maximum %d",
					fr.frameRemaining, MaxFrameSize)
			}
		}

		readSize := len(p)
		if readSize > fr.frameRemaining {
			readSize = fr.frameRemaining
		}

		bytesRead, err := fr.reader.Read(p[:readSize])
		totalRead += bytesRead
		p = p[bytesRead:]
		fr.frameRemaining -= bytesRead

		if err != nil {
			if err == io.EOF {
				fr.done = true
			}
			return totalRead, err
		}
	}
	return totalRead, nil
}

// countingWriter counts bytes passed through to the underlying writer.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
