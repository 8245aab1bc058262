// Package archive implements the container format that stitches the four
// codecs together into a multi-file archive: a fixed header naming the
// algorithm and every file's metadata, followed by the concatenated
// compressed payloads in input order.
package archive

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avbdr/archiver/adaptivehuff"
	"github.com/avbdr/archiver/lz77"
	"github.com/avbdr/archiver/lz78"
	"github.com/avbdr/archiver/progress"
	"github.com/avbdr/archiver/statichuff"
)

var magic = [4]byte{'a', 'r', 'c', 'h'}

// Algorithm identifies which codec compressed every payload in an archive.
// A single archive always uses exactly one algorithm for all its files.
type Algorithm uint8

const (
	StaticHuffman Algorithm = iota
	AdaptiveHuffman
	LZ77
	LZ78
)

func (a Algorithm) String() string {
	switch a {
	case StaticHuffman:
		return "static-huffman"
	case AdaptiveHuffman:
		return "adaptive-huffman"
	case LZ77:
		return "lz77"
	case LZ78:
		return "lz78"
	default:
		return fmt.Sprintf("algorithm(%d)", uint8(a))
	}
}

func (a Algorithm) encode(r io.Reader, w io.Writer, counter *progress.Counter) error {
	switch a {
	case StaticHuffman:
		return statichuff.Encode(r, w, counter)
	case AdaptiveHuffman:
		return adaptivehuff.Encode(r, w, counter)
	case LZ77:
		return lz77.Encode(r, w, counter)
	case LZ78:
		return lz78.Encode(r, w, counter)
	default:
		return InvalidArchiveError(fmt.Sprintf("unknown algorithm id %d", uint8(a)))
	}
}

func (a Algorithm) decode(r io.Reader, w io.Writer, counter *progress.Counter) error {
	switch a {
	case StaticHuffman:
		return statichuff.Decode(r, w, counter)
	case AdaptiveHuffman:
		return adaptivehuff.Decode(r, w, counter)
	case LZ77:
		return lz77.Decode(r, w, counter)
	case LZ78:
		return lz78.Decode(r, w, counter)
	default:
		return InvalidArchiveError(fmt.Sprintf("unknown algorithm id %d", uint8(a)))
	}
}

// InvalidArchiveError reports a structural problem found while parsing an
// archive's header: bad magic, an unknown algorithm id, or an implausible
// size/name-length field.
type InvalidArchiveError string

func (e InvalidArchiveError) Error() string { return "archive: invalid archive: " + string(e) }

// MalformedStreamError reports a problem found mid-decode, inside a
// codec's payload rather than the container header.
type MalformedStreamError string

func (e MalformedStreamError) Error() string { return "archive: malformed stream: " + string(e) }

// maxPlausibleNameLen guards against a corrupt nameLen field causing a
// huge, likely-OOM allocation before the bytes backing it are even read.
const maxPlausibleNameLen = 1 << 16

// Source is one file to add to an archive. archive.Create never touches
// the filesystem directly — it only calls Source methods — so tests can
// back sources with in-memory readers and the library caller can back
// them with real files, HTTP bodies, or anything else that implements it.
type Source interface {
	Name() string
	Size() (uint64, error)
	Open() (io.ReadCloser, error)
}

// FileSource is a Source backed by a real file on disk. Name returns the
// file's base name (the container never stores directory structure).
type FileSource struct {
	path string
}

// NewFileSource returns a Source for the file at path.
func NewFileSource(path string) FileSource {
	return FileSource{path: path}
}

func (f FileSource) Name() string { return filepath.Base(f.path) }

func (f FileSource) Size() (uint64, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return 0, fmt.Errorf("archive: stat %s: %w", f.path, err)
	}
	return uint64(info.Size()), nil
}

func (f FileSource) Open() (io.ReadCloser, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", f.path, err)
	}
	return file, nil
}

// FileStat reports per-file results from a Create or Extract run, the
// data the original source's manager surfaced as a post-run report.
type FileStat struct {
	Name           string
	OriginalSize   uint64
	CompressedSize uint64
	Elapsed        time.Duration
}

// countingWriter tallies bytes written through it without touching them,
// used to measure each codec's compressed output size without threading
// a return value through every Encode implementation.
type countingWriter struct {
	w io.Writer
	n uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += uint64(n)
	return n, err
}

// Create writes an archive to w: the header for sources in order, then
// each source's payload compressed with alg. It rejects sources sharing a
// base name before writing anything. counter is advanced by bytes of
// source data consumed; it may be nil.
func Create(w io.Writer, sources []Source, alg Algorithm, counter *progress.Counter) ([]FileStat, error) {
	if counter == nil {
		counter = &progress.Counter{}
	}

	seen := make(map[string]bool, len(sources))
	for _, s := range sources {
		name := s.Name()
		if seen[name] {
			return nil, InvalidArchiveError(fmt.Sprintf("duplicate file name %q", name))
		}
		seen[name] = true
	}

	sizes := make([]uint64, len(sources))
	for i, s := range sources {
		size, err := s.Size()
		if err != nil {
			return nil, fmt.Errorf("archive: size of %s: %w", s.Name(), err)
		}
		sizes[i] = size
	}

	if _, err := w.Write(magic[:]); err != nil {
		return nil, fmt.Errorf("archive: write magic: %w", err)
	}
	var countField [4]byte
	binary.LittleEndian.PutUint32(countField[:], uint32(len(sources)))
	if _, err := w.Write(countField[:]); err != nil {
		return nil, fmt.Errorf("archive: write file count: %w", err)
	}
	if _, err := w.Write([]byte{byte(alg)}); err != nil {
		return nil, fmt.Errorf("archive: write algorithm id: %w", err)
	}

	for i, s := range sources {
		name := []byte(s.Name())
		var nameLen [4]byte
		binary.LittleEndian.PutUint32(nameLen[:], uint32(len(name)))
		if _, err := w.Write(nameLen[:]); err != nil {
			return nil, fmt.Errorf("archive: write name length for %s: %w", s.Name(), err)
		}
		if _, err := w.Write(name); err != nil {
			return nil, fmt.Errorf("archive: write name for %s: %w", s.Name(), err)
		}
		var sizeField [8]byte
		binary.LittleEndian.PutUint64(sizeField[:], sizes[i])
		if _, err := w.Write(sizeField[:]); err != nil {
			return nil, fmt.Errorf("archive: write size for %s: %w", s.Name(), err)
		}
	}

	stats := make([]FileStat, len(sources))
	for i, s := range sources {
		rc, err := s.Open()
		if err != nil {
			return nil, fmt.Errorf("archive: open %s: %w", s.Name(), err)
		}

		cw := &countingWriter{w: w}
		start := time.Now()
		err = alg.encode(rc, cw, counter)
		elapsed := time.Since(start)
		closeErr := rc.Close()
		if err != nil {
			return nil, fmt.Errorf("archive: encode %s: %w", s.Name(), err)
		}
		if closeErr != nil {
			return nil, fmt.Errorf("archive: close %s: %w", s.Name(), closeErr)
		}

		stats[i] = FileStat{
			Name:           s.Name(),
			OriginalSize:   sizes[i],
			CompressedSize: cw.n,
			Elapsed:        elapsed,
		}
	}
	return stats, nil
}

// PeekMetadata reads just an archive's header and per-file metadata from
// r — no payloads — and returns each entry's name and original size plus
// their sum. This mirrors the original archive manager's pre-pass over
// file sizes before any codec runs; a caller with a seekable r (a real
// file) can use it to size a progress bar, then seek back to the start
// before calling Extract.
func PeekMetadata(r io.Reader) (names []string, totalOriginalSize uint64, err error) {
	var header [9]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, 0, fmt.Errorf("archive: read header: %w", err)
	}
	if [4]byte(header[0:4]) != magic {
		return nil, 0, InvalidArchiveError("bad magic")
	}
	fileCount := binary.LittleEndian.Uint32(header[4:8])

	names = make([]string, fileCount)
	for i := uint32(0); i < fileCount; i++ {
		var lenField [4]byte
		if _, err := io.ReadFull(r, lenField[:]); err != nil {
			return nil, 0, fmt.Errorf("archive: read name length for file %d: %w", i, err)
		}
		nameLen := binary.LittleEndian.Uint32(lenField[:])
		if nameLen == 0 || nameLen > maxPlausibleNameLen {
			return nil, 0, InvalidArchiveError(fmt.Sprintf("implausible name length %d for file %d", nameLen, i))
		}
		nameBytes := make([]byte, nameLen)
		if _, err := io.ReadFull(r, nameBytes); err != nil {
			return nil, 0, fmt.Errorf("archive: read name for file %d: %w", i, err)
		}
		names[i] = string(nameBytes)

		var sizeField [8]byte
		if _, err := io.ReadFull(r, sizeField[:]); err != nil {
			return nil, 0, fmt.Errorf("archive: read size for file %d: %w", i, err)
		}
		totalOriginalSize += binary.LittleEndian.Uint64(sizeField[:])
	}
	return names, totalOriginalSize, nil
}

// Extract reads an archive from r and writes each file into destDir,
// rejecting any stored name that is empty, absolute, or escapes destDir
// via "..". counter is advanced by bytes of decompressed data produced;
// it may be nil.
func Extract(r io.Reader, destDir string, counter *progress.Counter) ([]FileStat, error) {
	if counter == nil {
		counter = &progress.Counter{}
	}

	// Codecs buffer any reader lacking ReadByte; wrap r once here so every
	// codec shares that buffer instead of reading ahead into the next payload.
	if _, ok := r.(io.ByteReader); !ok {
		r = bufio.NewReader(r)
	}

	var header [9]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("archive: read header: %w", err)
	}
	if [4]byte(header[0:4]) != magic {
		return nil, InvalidArchiveError("bad magic")
	}
	fileCount := binary.LittleEndian.Uint32(header[4:8])
	alg := Algorithm(header[8])
	if alg > LZ78 {
		return nil, InvalidArchiveError(fmt.Sprintf("unknown algorithm id %d", header[8]))
	}

	type meta struct {
		name         string
		originalSize uint64
	}
	metas := make([]meta, fileCount)
	seen := make(map[string]bool, fileCount)

	for i := uint32(0); i < fileCount; i++ {
		var lenField [4]byte
		if _, err := io.ReadFull(r, lenField[:]); err != nil {
			return nil, fmt.Errorf("archive: read name length for file %d: %w", i, err)
		}
		nameLen := binary.LittleEndian.Uint32(lenField[:])
		if nameLen == 0 || nameLen > maxPlausibleNameLen {
			return nil, InvalidArchiveError(fmt.Sprintf("implausible name length %d for file %d", nameLen, i))
		}
		nameBytes := make([]byte, nameLen)
		if _, err := io.ReadFull(r, nameBytes); err != nil {
			return nil, fmt.Errorf("archive: read name for file %d: %w", i, err)
		}
		name := string(nameBytes)
		if err := validateEntryName(name); err != nil {
			return nil, err
		}
		if seen[name] {
			return nil, InvalidArchiveError(fmt.Sprintf("duplicate file name %q in archive", name))
		}
		seen[name] = true

		var sizeField [8]byte
		if _, err := io.ReadFull(r, sizeField[:]); err != nil {
			return nil, fmt.Errorf("archive: read size for file %d: %w", i, err)
		}
		metas[i] = meta{name: name, originalSize: binary.LittleEndian.Uint64(sizeField[:])}
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create destination directory: %w", err)
	}

	stats := make([]FileStat, fileCount)
	for i, m := range metas {
		outPath := filepath.Join(destDir, m.name)
		out, err := os.Create(outPath)
		if err != nil {
			return nil, fmt.Errorf("archive: create %s: %w", outPath, err)
		}

		start := time.Now()
		err = alg.decode(r, out, counter)
		elapsed := time.Since(start)
		closeErr := out.Close()
		if err != nil {
			return nil, MalformedStreamError(fmt.Sprintf("decode %s: %v", m.name, err))
		}
		if closeErr != nil {
			return nil, fmt.Errorf("archive: close %s: %w", outPath, closeErr)
		}

		stats[i] = FileStat{
			Name:         m.name,
			OriginalSize: m.originalSize,
			Elapsed:      elapsed,
		}
	}
	return stats, nil
}

// validateEntryName rejects stored names that would let an archive write
// outside destDir: empty names, absolute paths, and names containing a
// ".." path-traversal segment.
func validateEntryName(name string) error {
	if name == "" {
		return InvalidArchiveError("empty file name")
	}
	if filepath.IsAbs(name) {
		return InvalidArchiveError(fmt.Sprintf("absolute file name %q", name))
	}
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if part == ".." {
			return InvalidArchiveError(fmt.Sprintf("path-traversing file name %q", name))
		}
	}
	return nil
}
