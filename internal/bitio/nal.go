package bitio

import (
	"bytes"

	"github.com/Eyevinn/mp4ff/bits"
	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
)

// FieldWriter writes header syntax: bit fields, Exp-Golomb codes and the
// trailing bits that close a header.
type FieldWriter interface {
	Sink
	WriteTrailingBits()
}

// NALWriter writes a NAL unit payload. Fields go through an EBSP writer,
// which inserts 0x03 after two zero bytes whenever the next byte is 0x00
// to 0x03, so the payload never contains a start code.
type NALWriter struct {
	buf bytes.Buffer
	w   *bits.EBSPWriter
	n   int // RBSP bits
}

// NewNALWriter returns an empty NALWriter.
func NewNALWriter() *NALWriter {
	nw := &NALWriter{}
	nw.w = bits.NewEBSPWriter(&nw.buf)
	return nw
}

// WriteBits writes the n (0..32) low bits of v.
func (nw *NALWriter) WriteBits(v uint32, n int) {
	if n == 0 {
		return
	}
	if n < 32 {
		v &= 1<<uint(n) - 1
	}
	nw.w.Write(uint(v), n)
	nw.n += n
}

// WriteFlag writes a single bit.
func (nw *NALWriter) WriteFlag(b bool) {
	nw.WriteBits(uint32(boolToInt(b)), 1)
}

// WriteUE writes v as an unsigned Exp-Golomb code.
func (nw *NALWriter) WriteUE(v uint32) {
	nw.w.WriteExpGolomb(uint(v))
	nw.n += UELen(v)
}

// WriteSE writes v as a signed Exp-Golomb code.
func (nw *NALWriter) WriteSE(v int32) {
	nw.WriteUE(seToUE(v))
}

// WriteTrailingBits writes the stop bit followed by zero alignment.
func (nw *NALWriter) WriteTrailingBits() {
	nw.WriteBits(1, 1)
	nw.w.StuffByteWithZeros()
	nw.n = (nw.n + 7) &^ 7
}

// WriteBytes appends RBSP bytes. The writer must be byte aligned.
func (nw *NALWriter) WriteBytes(b []byte) {
	for _, c := range b {
		nw.w.Write(uint(c), 8)
	}
	nw.n += 8 * len(b)
}

// NumWrittenBits returns the number of RBSP bits written so far.
func (nw *NALWriter) NumWrittenBits() int { return nw.n }

// ByteAligned reports whether the write position is on a byte boundary.
func (nw *NALWriter) ByteAligned() bool { return nw.n&7 == 0 }

// NAL returns the payload and the number of emulation prevention bytes in
// it. A payload ending in 0x00 gets a final 0x03. The writer must be byte
// aligned.
func (nw *NALWriter) NAL() ([]byte, int) {
	out := bytes.Clone(nw.buf.Bytes())
	if len(out) > 0 && out[len(out)-1] == 0 {
		out = append(out, 3)
	}
	return out, len(out) - nw.n/8
}

// AddEmulationPrevention converts an RBSP into a NAL unit payload and
// returns the number of inserted bytes.
func AddEmulationPrevention(rbsp []byte) ([]byte, int) {
	nw := NewNALWriter()
	nw.WriteBytes(rbsp)
	return nw.NAL()
}

// RemoveEmulationPrevention strips emulation prevention bytes from a NAL
// unit payload. The rules are shared by H.264 and H.265.
func RemoveEmulationPrevention(nal []byte) []byte {
	return h264.EmulationPreventionRemove(nal)
}
