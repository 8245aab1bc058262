// Package lz77 implements the sliding-window LZ77 codec: a 511-byte search
// buffer, a 63-byte lookahead buffer, and 25-bit tokens (9-bit offset,
// 6-bit length, 8-bit next_char, plus end-of-file and next-char-valid
// flags). A zero offset marks a literal token carrying only next_char.
package lz77

import (
	"errors"
	"fmt"
	"io"

	"github.com/avbdr/archiver/bitio"
	"github.com/avbdr/archiver/internal/framing"
	"github.com/avbdr/archiver/progress"
)

const (
	searchSize    = 511
	lookaheadSize = 63
	minMatchLen   = 3
)

// token is one 25-bit LZ77 unit. offset == 0 marks a literal: length is
// always 0 and only nextChar carries a payload.
type token struct {
	offset      uint16 // 0-511
	length      uint8  // 0-63
	nextChar    byte
	isEOF       bool
	hasNextChar bool
}

func writeToken(bw *bitio.Writer, t token) error {
	if err := bw.WriteBits(uint64(t.offset), 9); err != nil {
		return err
	}
	if err := bw.WriteBits(uint64(t.length), 6); err != nil {
		return err
	}
	if err := bw.WriteByte(t.nextChar); err != nil {
		return err
	}
	var eofBit, validBit byte
	if t.isEOF {
		eofBit = 1
	}
	if t.hasNextChar {
		validBit = 1
	}
	if err := bw.WriteBit(eofBit); err != nil {
		return err
	}
	return bw.WriteBit(validBit)
}

func readToken(br *bitio.Reader) (token, error) {
	offset, err := br.ReadBits(9)
	if err != nil {
		return token{}, err
	}
	length, err := br.ReadBits(6)
	if err != nil {
		return token{}, err
	}
	nextChar, err := br.ReadByte()
	if err != nil {
		return token{}, err
	}
	eofBit, err := br.ReadBit()
	if err != nil {
		return token{}, err
	}
	validBit, err := br.ReadBit()
	if err != nil {
		return token{}, err
	}
	return token{
		offset:      uint16(offset),
		length:      uint8(length),
		nextChar:    nextChar,
		isEOF:       eofBit != 0,
		hasNextChar: validBit != 0,
	}, nil
}

// findMatch looks for the longest run starting within searchSize bytes
// behind pos that matches the bytes at data[pos:]. Matches never reach
// into the portion of the lookahead being compared against itself — a
// candidate run stops at the search/lookahead boundary, same as the
// algorithm this is modeled on — so length never exceeds offset.
func findMatch(data []byte, pos, lookaheadLen int) (bestOffset, bestLength int) {
	searchStart := pos - searchSize
	if searchStart < 0 {
		searchStart = 0
	}
	for start := searchStart; start < pos; start++ {
		length := 0
		for length < lookaheadLen && start+length < pos && data[start+length] == data[pos+length] {
			length++
		}
		if length > bestLength {
			bestLength = length
			bestOffset = pos - start
		}
	}
	return bestOffset, bestLength
}

// Encode writes the padding byte followed by the LZ77 token stream for r to w.
func Encode(r io.Reader, w io.Writer, counter *progress.Counter) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("lz77: read input: %w", err)
	}
	n := len(data)

	payload, padding, err := framing.BuildBitstream(func(bw *bitio.Writer) error {
		pos := 0
		for pos < n {
			lookaheadLen := lookaheadSize
			if n-pos < lookaheadLen {
				lookaheadLen = n - pos
			}
			bestOffset, bestLength := findMatch(data, pos, lookaheadLen)

			if bestLength >= minMatchLen {
				if bestLength < lookaheadLen {
					newPos := pos + bestLength + 1
					tok := token{
						offset: uint16(bestOffset), length: uint8(bestLength),
						nextChar: data[pos+bestLength], hasNextChar: true,
						isEOF: newPos >= n,
					}
					if err := writeToken(bw, tok); err != nil {
						return err
					}
					counter.Add(uint64(bestLength + 1))
					pos = newPos
					continue
				}
				newPos := pos + bestLength
				if newPos >= n {
					tok := token{offset: uint16(bestOffset), length: uint8(bestLength), hasNextChar: false, isEOF: true}
					if err := writeToken(bw, tok); err != nil {
						return err
					}
					counter.Add(uint64(bestLength))
					pos = newPos
					continue
				}
				tok := token{
					offset: uint16(bestOffset), length: uint8(bestLength),
					nextChar: data[newPos], hasNextChar: true,
					isEOF: newPos+1 >= n,
				}
				if err := writeToken(bw, tok); err != nil {
					return err
				}
				counter.Add(uint64(bestLength + 1))
				pos = newPos + 1
				continue
			}

			newPos := pos + 1
			tok := token{nextChar: data[pos], hasNextChar: true, isEOF: newPos >= n}
			if err := writeToken(bw, tok); err != nil {
				return err
			}
			counter.Add(1)
			pos = newPos
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("lz77: encode: %w", err)
	}

	header := [1]byte{padding}
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("lz77: write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("lz77: write payload: %w", err)
	}
	return nil
}

// Decode reads an LZ77 payload from r and writes the original bytes to w.
// There is no token count in the header: the stream ends either at the
// token carrying isEOF, or — for a zero-length original input, which
// produces zero tokens — at end of stream on the very first read.
func Decode(r io.Reader, w io.Writer, counter *progress.Counter) error {
	var header [1]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fmt.Errorf("lz77: read header: %w", err)
	}
	padding := header[0]

	br := bitio.NewReader(r)
	bw := bitio.NewWriter(w)
	var out []byte
	first := true

	emit := func(b byte) error {
		out = append(out, b)
		counter.Add(1)
		return bw.WriteByte(b)
	}

	for {
		tok, err := readToken(br)
		if err != nil {
			if first && errors.Is(err, bitio.ErrEndOfInput) {
				break
			}
			return fmt.Errorf("lz77: read token: %w", err)
		}
		first = false

		if tok.offset == 0 {
			if err := emit(tok.nextChar); err != nil {
				return fmt.Errorf("lz77: write byte: %w", err)
			}
		} else {
			startPos := len(out) - int(tok.offset)
			if startPos < 0 {
				return fmt.Errorf("lz77: token offset %d exceeds decoded output", tok.offset)
			}
			for i := 0; i < int(tok.length); i++ {
				if err := emit(out[startPos+i]); err != nil {
					return fmt.Errorf("lz77: write byte: %w", err)
				}
			}
			if tok.isEOF && !tok.hasNextChar {
				// final token ended exactly at the lookahead boundary: no trailing literal
			} else if err := emit(tok.nextChar); err != nil {
				return fmt.Errorf("lz77: write byte: %w", err)
			}
		}

		if tok.isEOF {
			break
		}
	}

	for i := uint8(0); i < padding; i++ {
		if _, err := br.ReadBit(); err != nil {
			return fmt.Errorf("lz77: discard padding: %w", err)
		}
	}
	return bw.Flush()
}
