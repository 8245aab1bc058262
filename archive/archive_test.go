package archive

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/avbdr/archiver/progress"
)

// memSource is an in-memory Source used to test archive.Create without
// touching the filesystem.
type memSource struct {
	name string
	data []byte
}

func (m memSource) Name() string             { return m.name }
func (m memSource) Size() (uint64, error)    { return uint64(len(m.data)), nil }
func (m memSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.data)), nil
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s): %v", path, err)
	}
	return data
}

func TestCreateExtractRoundTripAllAlgorithms(t *testing.T) {
	sources := []Source{
		memSource{name: "a.bin", data: []byte{0x00, 0x01, 0x02}},
		memSource{name: "b.bin", data: nil},
		memSource{name: "hello.txt", data: bytes.Repeat([]byte("hello world "), 40)},
	}

	for _, alg := range []Algorithm{StaticHuffman, AdaptiveHuffman, LZ77, LZ78} {
		t.Run(alg.String(), func(t *testing.T) {
			var archiveBuf bytes.Buffer
			c := &progress.Counter{}
			stats, err := Create(&archiveBuf, sources, alg, c)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if len(stats) != len(sources) {
				t.Fatalf("got %d stats, want %d", len(stats), len(sources))
			}

			destDir := t.TempDir()
			if _, err := Extract(&archiveBuf, destDir, c); err != nil {
				t.Fatalf("Extract: %v", err)
			}

			for _, src := range sources {
				m := src.(memSource)
				got := readFile(t, filepath.Join(destDir, m.name))
				if !bytes.Equal(got, m.data) {
					t.Errorf("%s: got %v, want %v", m.name, got, m.data)
				}
			}
		})
	}
}

// TestMultiFileArchiveLZ77 matches the two-file scenario: one file with a
// few literal bytes, one empty file, algorithm LZ77, extracted in order.
func TestMultiFileArchiveLZ77(t *testing.T) {
	sources := []Source{
		memSource{name: "a.bin", data: []byte{0x00, 0x01, 0x02}},
		memSource{name: "b.bin", data: []byte{}},
	}
	var archiveBuf bytes.Buffer
	c := &progress.Counter{}
	if _, err := Create(&archiveBuf, sources, LZ77, c); err != nil {
		t.Fatalf("Create: %v", err)
	}

	destDir := t.TempDir()
	stats, err := Extract(&archiveBuf, destDir, c)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(stats) != 2 || stats[0].Name != "a.bin" || stats[1].Name != "b.bin" {
		t.Fatalf("unexpected extraction order: %+v", stats)
	}
	if got := readFile(t, filepath.Join(destDir, "a.bin")); !bytes.Equal(got, []byte{0x00, 0x01, 0x02}) {
		t.Errorf("a.bin = %v", got)
	}
	if got := readFile(t, filepath.Join(destDir, "b.bin")); len(got) != 0 {
		t.Errorf("b.bin = %v, want empty", got)
	}
}

func TestCreateRejectsDuplicateNames(t *testing.T) {
	sources := []Source{
		memSource{name: "dup.bin", data: []byte{1}},
		memSource{name: "dup.bin", data: []byte{2}},
	}
	_, err := Create(&bytes.Buffer{}, sources, StaticHuffman, nil)
	if err == nil {
		t.Fatal("expected an error for duplicate source names")
	}
}

func TestExtractRejectsBadMagic(t *testing.T) {
	_, err := Extract(bytes.NewReader([]byte("not-an-archive-header")), t.TempDir(), nil)
	if err == nil {
		t.Fatal("expected an error for bad magic")
	}
	var invalid InvalidArchiveError
	if !errors.As(err, &invalid) {
		t.Errorf("got %v, want InvalidArchiveError", err)
	}
}

func TestExtractRejectsPathTraversal(t *testing.T) {
	var buf bytes.Buffer
	sources := []Source{memSource{name: "x.bin", data: []byte{1, 2, 3}}}
	if _, err := Create(&buf, sources, StaticHuffman, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	raw := buf.Bytes()
	// Patch the stored name "x.bin" (nameLen=5, starts at offset 13) to the
	// same-length traversal name "../ab", so nameLen stays 5.
	copy(raw[13:18], []byte("../ab"))

	_, err := Extract(bytes.NewReader(raw), t.TempDir(), nil)
	if err == nil {
		t.Fatal("expected an error for a path-traversing entry name")
	}
}

func TestFileSourceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "input.bin")
	want := []byte("file-backed source contents")
	if err := os.WriteFile(path, want, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	src := NewFileSource(path)
	var archiveBuf bytes.Buffer
	if _, err := Create(&archiveBuf, []Source{src}, LZ78, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	destDir := t.TempDir()
	if _, err := Extract(&archiveBuf, destDir, nil); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	got := readFile(t, filepath.Join(destDir, "input.bin"))
	if !bytes.Equal(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}
