// Package framing holds the bit-buffering idiom shared by every codec's
// Encode method: the wire format commits a padding count (and sometimes a
// data size or token count) ahead of the bitstream it describes, but that
// count is only known once the bitstream has been fully written. Rather
// than require a seekable output to backpatch it, each codec builds its
// bitstream into memory first and the codec package writes the now-known
// header followed by the buffered bytes.
package framing

import (
	"bytes"

	"github.com/avbdr/archiver/bitio"
)

// BuildBitstream runs fn against a fresh bitio.Writer backed by an in-memory
// buffer, flushes it, and returns the resulting bytes together with the
// number of zero-fill padding bits the flush added.
func BuildBitstream(fn func(w *bitio.Writer) error) (payload []byte, padding uint8, err error) {
	var buf bytes.Buffer
	bw := bitio.NewWriter(&buf)
	if err := fn(bw); err != nil {
		return nil, 0, err
	}
	if err := bw.Flush(); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), bw.PaddingBits(), nil
}
