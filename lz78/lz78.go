// Package lz78 implements the dictionary-building LZ78 codec: the first
// byte of each dictionary "generation" is written raw, every subsequent
// novel sequence is announced as a 24-bit token (16-bit prefix index + an
// 8-bit extending byte), and the dictionary resets once its next free index
// reaches 65,535 (after 65,534 entries).
package lz78

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/avbdr/archiver/bitio"
	"github.com/avbdr/archiver/internal/framing"
	"github.com/avbdr/archiver/progress"
)

const maxDictSize = 65535

// Encode reads all of r and writes the tokenCount/currentSize header
// followed by the raw leading byte, the token stream, and any trailing
// unresolved sequence to w.
func Encode(r io.Reader, w io.Writer, counter *progress.Counter) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("lz78: read input: %w", err)
	}
	n := len(data)

	var tokenCount uint64
	var current []byte

	payload, _, err := framing.BuildBitstream(func(bw *bitio.Writer) error {
		if n == 0 {
			return nil
		}

		dict := make(map[string]uint16)
		nextIndex := uint16(1)
		pos := 0

		writeRaw := func(b byte) error {
			if err := bw.WriteByte(b); err != nil {
				return err
			}
			counter.Add(1)
			return nil
		}

		startGeneration := func() error {
			if pos >= n {
				return io.EOF
			}
			b := data[pos]
			pos++
			if err := writeRaw(b); err != nil {
				return err
			}
			current = []byte{b}
			dict[string(current)] = nextIndex
			nextIndex++
			tokenCount++
			current = nil
			return nil
		}

		if err := startGeneration(); err != nil {
			return err // n > 0 here, so this can only be a genuine write failure
		}

		for pos < n {
			b := data[pos]
			pos++
			counter.Add(1)

			candidate := make([]byte, len(current)+1)
			copy(candidate, current)
			candidate[len(current)] = b

			if _, ok := dict[string(candidate)]; ok {
				current = candidate
				continue
			}

			var idx uint16
			if len(current) > 0 {
				idx = dict[string(current)]
			}
			if err := bw.WriteBits(uint64(idx), 16); err != nil {
				return err
			}
			if err := bw.WriteByte(b); err != nil {
				return err
			}
			dict[string(candidate)] = nextIndex
			nextIndex++
			tokenCount++
			current = nil

			if nextIndex >= maxDictSize {
				dict = make(map[string]uint16)
				nextIndex = 1
				if err := startGeneration(); err != nil {
					if err == io.EOF {
						break
					}
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("lz78: encode: %w", err)
	}

	currentSize := uint16(len(current))
	if len(current) > 0 {
		payload = append(payload, current...)
	}

	var header [10]byte
	binary.LittleEndian.PutUint64(header[0:8], tokenCount)
	binary.LittleEndian.PutUint16(header[8:10], currentSize)
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("lz78: write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("lz78: write payload: %w", err)
	}
	return nil
}

// Decode reads an LZ78 payload from r and writes the original bytes to w.
func Decode(r io.Reader, w io.Writer, counter *progress.Counter) error {
	var header [10]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fmt.Errorf("lz78: read header: %w", err)
	}
	tokenCount := binary.LittleEndian.Uint64(header[0:8])
	currentSize := binary.LittleEndian.Uint16(header[8:10])

	if tokenCount == 0 && currentSize == 0 {
		return nil
	}

	br := bitio.NewReader(r)
	bw := bitio.NewWriter(w)

	var dict [][]byte
	nextIndex := 2
	var decodedCount uint64

	emit := func(b byte) error {
		if err := bw.WriteByte(b); err != nil {
			return err
		}
		counter.Add(1)
		return nil
	}

	b, err := br.ReadByte()
	if err != nil {
		return fmt.Errorf("lz78: read leading byte: %w", err)
	}
	if err := emit(b); err != nil {
		return fmt.Errorf("lz78: write leading byte: %w", err)
	}
	dict = append(dict, []byte{b})
	decodedCount++

	for decodedCount < tokenCount {
		idx, err := br.ReadBits(16)
		if err != nil {
			return fmt.Errorf("lz78: read token index: %w", err)
		}
		nb, err := br.ReadByte()
		if err != nil {
			return fmt.Errorf("lz78: read token byte: %w", err)
		}

		var seq []byte
		if idx == 0 {
			seq = []byte{nb}
		} else {
			if int(idx) > len(dict) {
				return fmt.Errorf("lz78: token index %d exceeds dictionary size %d", idx, len(dict))
			}
			prefix := dict[idx-1]
			seq = make([]byte, len(prefix)+1)
			copy(seq, prefix)
			seq[len(prefix)] = nb
		}
		dict = append(dict, seq)
		for _, c := range seq {
			if err := emit(c); err != nil {
				return fmt.Errorf("lz78: write decoded sequence: %w", err)
			}
		}
		decodedCount++
		nextIndex++

		// A generation restart writes its leading byte raw rather than as a
		// token, so it must only be read here if the stream actually holds
		// one: that's true exactly when more decoded items remain overall,
		// since Encode omits the restart byte entirely when input ends
		// right at the reset (decodedCount == tokenCount, loop ends above).
		if nextIndex >= maxDictSize && decodedCount < tokenCount {
			dict = dict[:0]
			rb, err := br.ReadByte()
			if err != nil {
				return fmt.Errorf("lz78: read post-reset byte: %w", err)
			}
			if err := emit(rb); err != nil {
				return fmt.Errorf("lz78: write post-reset byte: %w", err)
			}
			dict = append(dict, []byte{rb})
			decodedCount++
			nextIndex = 2
		}
	}

	for i := uint16(0); i < currentSize; i++ {
		c, err := br.ReadByte()
		if err != nil {
			return fmt.Errorf("lz78: read trailing byte %d: %w", i, err)
		}
		if err := emit(c); err != nil {
			return fmt.Errorf("lz78: write trailing byte %d: %w", i, err)
		}
	}
	return bw.Flush()
}
