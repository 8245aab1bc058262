// Package statichuff implements the two-pass static Huffman codec: a
// frequency table is built over the whole input, a canonical-by-construction
// tree is merged bottom-up from it, and the resulting code table is written
// ahead of the bitstream so the decoder can rebuild the same tree without
// ever seeing the frequencies themselves.
package statichuff

import (
	"container/heap"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/avbdr/archiver/bitio"
	"github.com/avbdr/archiver/internal/framing"
	"github.com/avbdr/archiver/progress"
)

// node is a binary tree node: a leaf carries a symbol, an internal node
// carries only the summed frequency of its children.
type node struct {
	sym         byte
	freq        uint64
	left, right *node
	seq         int // encounter order, used only to break frequency ties deterministically
}

func (n *node) isLeaf() bool { return n.left == nil && n.right == nil }

// nodeHeap is a container/heap min-heap over node, ordered by frequency and
// then by encounter order so merges are deterministic. The decoder never
// depends on this tie-break since it rebuilds the tree from the transmitted
// code table, not from frequencies.
type nodeHeap []*node

func (h nodeHeap) Len() int { return len(h) }
func (h nodeHeap) Less(i, j int) bool {
	if h[i].freq != h[j].freq {
		return h[i].freq < h[j].freq
	}
	return h[i].seq < h[j].seq
}
func (h nodeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x interface{}) { *h = append(*h, x.(*node)) }
func (h *nodeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// buildTree merges leaves bottom-up, repeatedly combining the two
// minimum-frequency nodes, until a single root remains. Returns nil if
// freq has no nonzero entries.
func buildTree(freq [256]uint64) *node {
	h := &nodeHeap{}
	seq := 0
	for sym := 0; sym < 256; sym++ {
		if freq[sym] == 0 {
			continue
		}
		heap.Push(h, &node{sym: byte(sym), freq: freq[sym], seq: seq})
		seq++
	}
	if h.Len() == 0 {
		return nil
	}
	for h.Len() > 1 {
		a := heap.Pop(h).(*node)
		b := heap.Pop(h).(*node)
		heap.Push(h, &node{freq: a.freq + b.freq, left: a, right: b, seq: seq})
		seq++
	}
	return heap.Pop(h).(*node)
}

// code is a Huffman code as a sequence of 0/1 bit values, most significant
// (first-written) bit at index 0. A []byte rather than a fixed-width
// integer because a pathological frequency distribution can produce codes
// longer than 64 bits (spec bounds code length at 255).
type code []byte

// assignCodes walks root and returns a code per symbol. A single-leaf tree
// (one distinct symbol in the input) gets the one-bit code "0".
func assignCodes(root *node) map[byte]code {
	table := make(map[byte]code)
	if root == nil {
		return table
	}
	if root.isLeaf() {
		table[root.sym] = code{0}
		return table
	}
	var walk func(n *node, bits code)
	walk = func(n *node, bits code) {
		if n.isLeaf() {
			table[n.sym] = bits
			return
		}
		walk(n.left, append(append(code{}, bits...), 0))
		walk(n.right, append(append(code{}, bits...), 1))
	}
	walk(root, nil)
	return table
}

// Encode reads all of r, builds a Huffman tree over its byte frequencies,
// and writes the tableSize/dataSize/padding header, the code table, and the
// encoded bitstream to w per the static-Huffman wire format.
func Encode(r io.Reader, w io.Writer, counter *progress.Counter) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("statichuff: read input: %w", err)
	}

	var freq [256]uint64
	for _, b := range data {
		freq[b]++
	}
	root := buildTree(freq)
	table := assignCodes(root)

	payload, padding, err := framing.BuildBitstream(func(bw *bitio.Writer) error {
		for sym, c := range table {
			if err := bw.WriteByte(sym); err != nil {
				return err
			}
			if err := bw.WriteByte(byte(len(c))); err != nil {
				return err
			}
			for _, bit := range c {
				if err := bw.WriteBit(bit); err != nil {
					return err
				}
			}
		}
		for _, b := range data {
			for _, bit := range table[b] {
				if err := bw.WriteBit(bit); err != nil {
					return err
				}
			}
			counter.Add(1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("statichuff: encode: %w", err)
	}

	var header [11]byte
	binary.LittleEndian.PutUint16(header[0:2], uint16(len(table)))
	binary.LittleEndian.PutUint64(header[2:10], uint64(len(data)))
	header[10] = padding
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("statichuff: write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("statichuff: write payload: %w", err)
	}
	return nil
}

// decodeNode is an arena-free binary tree used only while rebuilding the
// tree from the transmitted table; it is discarded once decoding finishes.
type decodeNode struct {
	left, right *decodeNode
	sym         byte
	isLeaf      bool
}

// Decode reads a static-Huffman payload from r and writes the original
// bytes to w.
func Decode(r io.Reader, w io.Writer, counter *progress.Counter) error {
	br := bitio.NewReader(r)

	var header [11]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fmt.Errorf("statichuff: read header: %w", err)
	}
	tableSize := binary.LittleEndian.Uint16(header[0:2])
	dataSize := binary.LittleEndian.Uint64(header[2:10])
	padding := header[10]

	root := &decodeNode{}
	for i := uint16(0); i < tableSize; i++ {
		sym, err := br.ReadByte()
		if err != nil {
			return fmt.Errorf("statichuff: read table symbol %d: %w", i, err)
		}
		length, err := br.ReadByte()
		if err != nil {
			return fmt.Errorf("statichuff: read table code length %d: %w", i, err)
		}
		cur := root
		for j := byte(0); j < length; j++ {
			bit, err := br.ReadBit()
			if err != nil {
				return fmt.Errorf("statichuff: read table code bit: %w", err)
			}
			if bit != 0 {
				if cur.right == nil {
					cur.right = &decodeNode{}
				}
				cur = cur.right
			} else {
				if cur.left == nil {
					cur.left = &decodeNode{}
				}
				cur = cur.left
			}
		}
		if !cur.isLeaf && (cur.left != nil || cur.right != nil) {
			return fmt.Errorf("statichuff: code for symbol %#x collides with an internal node", sym)
		}
		cur.sym = sym
		cur.isLeaf = true
	}
	bw := bitio.NewWriter(w)
	for i := uint64(0); i < dataSize; i++ {
		cur := root
		for !cur.isLeaf {
			bit, err := br.ReadBit()
			if err != nil {
				return fmt.Errorf("statichuff: decode symbol %d: %w", i, err)
			}
			var next *decodeNode
			if bit != 0 {
				next = cur.right
			} else {
				next = cur.left
			}
			if next == nil {
				return fmt.Errorf("statichuff: decode symbol %d: tree walk hit absent child", i)
			}
			cur = next
		}
		if err := bw.WriteByte(cur.sym); err != nil {
			return fmt.Errorf("statichuff: write byte %d: %w", i, err)
		}
		counter.Add(1)
	}
	for i := uint8(0); i < padding; i++ {
		if _, err := br.ReadBit(); err != nil {
			return fmt.Errorf("statichuff: discard padding: %w", err)
		}
	}
	return bw.Flush()
}
