package statichuff

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/avbdr/archiver/progress"
)

func roundTrip(t *testing.T, data []byte) []byte {
	t.Helper()
	var compressed bytes.Buffer
	c := &progress.Counter{}
	if err := Encode(bytes.NewReader(data), &compressed, c); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var out bytes.Buffer
	if err := Decode(&compressed, &out, c); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return out.Bytes()
}

func TestRoundTripEmpty(t *testing.T) {
	got := roundTrip(t, nil)
	if len(got) != 0 {
		t.Errorf("got %d bytes, want 0", len(got))
	}
}

func TestRoundTripSingleSymbol(t *testing.T) {
	got := roundTrip(t, []byte{0x41})
	if !bytes.Equal(got, []byte{0x41}) {
		t.Errorf("got %v, want [0x41]", got)
	}
}

func TestRoundTripSingleSymbolRepeated(t *testing.T) {
	data := bytes.Repeat([]byte{0x41}, 1000)
	got := roundTrip(t, data)
	if !bytes.Equal(got, data) {
		t.Errorf("round trip mismatch for 1000x 'A'")
	}
}

func TestRoundTripTwoSymbolAlphabet(t *testing.T) {
	data := []byte("ABABABAB")
	got := roundTrip(t, data)
	if !bytes.Equal(got, data) {
		t.Errorf("got %q, want %q", got, data)
	}
}

func TestRoundTripAll256Alphabet(t *testing.T) {
	data := make([]byte, 0, 512)
	for i := 0; i < 256; i++ {
		data = append(data, byte(i))
	}
	for i := 255; i >= 0; i-- {
		data = append(data, byte(i))
	}
	got := roundTrip(t, data)
	if !bytes.Equal(got, data) {
		t.Errorf("round trip mismatch for all-256 alphabet")
	}
}

func TestSingleLeafTreeProducesOneBitCode(t *testing.T) {
	root := buildTree(func() [256]uint64 {
		var f [256]uint64
		f[0x41] = 5
		return f
	}())
	table := assignCodes(root)
	c, ok := table[0x41]
	if !ok {
		t.Fatalf("symbol 0x41 missing from code table")
	}
	if len(c) != 1 || c[0] != 0 {
		t.Errorf("one-leaf code = %v, want [0]", c)
	}
}

func TestTableSizeMatchesDistinctSymbols(t *testing.T) {
	data := []byte("hello, world")
	distinct := map[byte]bool{}
	for _, b := range data {
		distinct[b] = true
	}
	var compressed bytes.Buffer
	c := &progress.Counter{}
	if err := Encode(bytes.NewReader(data), &compressed, c); err != nil {
		t.Fatal(err)
	}
	tableSize := int(compressed.Bytes()[0]) | int(compressed.Bytes()[1])<<8
	if tableSize != len(distinct) {
		t.Errorf("tableSize = %d, want %d", tableSize, len(distinct))
	}
}

func TestRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, n := range []int{1, 2, 3, 17, 255, 4096} {
		data := make([]byte, n)
		rng.Read(data)
		got := roundTrip(t, data)
		if !bytes.Equal(got, data) {
			t.Errorf("random round trip mismatch at n=%d", n)
		}
	}
}

func TestProgressCounterTracksBytes(t *testing.T) {
	data := []byte("abcabcabcabc")
	c := &progress.Counter{}
	var compressed bytes.Buffer
	if err := Encode(bytes.NewReader(data), &compressed, c); err != nil {
		t.Fatal(err)
	}
	if got := c.Load(); got != uint64(len(data)) {
		t.Errorf("encode progress = %d, want %d", got, len(data))
	}
	c2 := &progress.Counter{}
	var out bytes.Buffer
	if err := Decode(&compressed, &out, c2); err != nil {
		t.Fatal(err)
	}
	if got := c2.Load(); got != uint64(len(data)) {
		t.Errorf("decode progress = %d, want %d", got, len(data))
	}
}
