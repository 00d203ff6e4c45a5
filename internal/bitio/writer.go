// Package bitio provides the bit-level I/O primitives used by the codec:
// an MSB-first bit writer, a counting sink for rate estimation, a reader
// for fixed-length and Exp-Golomb fields, and emulation prevention.
package bitio

import "math/bits"

// Sink is anything that accepts MSB-first bit fields. Writer produces bytes;
// Counter only tallies their length.
type Sink interface {
	WriteBits(v uint32, n int)
	WriteFlag(b bool)
	WriteUE(v uint32)
	WriteSE(v int32)
	NumWrittenBits() int
}

// Writer is an MSB-first bit writer.
//
// Bits are accumulated in a 64-bit register and emitted one byte at a time
// as soon as eight of them are pending.
type Writer struct {
	bits uint64 // pending bits, right aligned
	used int    // number of pending bits (0..7 between calls)
	buf  []byte
}

// NewWriter creates a Writer with room for expectedSize bytes.
func NewWriter(expectedSize int) *Writer {
	if expectedSize < 256 {
		expectedSize = 256
	}
	return &Writer{buf: make([]byte, 0, expectedSize)}
}

// Reset empties the writer, keeping its buffer.
func (w *Writer) Reset() {
	w.bits = 0
	w.used = 0
	w.buf = w.buf[:0]
}

// WriteBits writes the n (0..32) low bits of v.
func (w *Writer) WriteBits(v uint32, n int) {
	if n == 0 {
		return
	}
	if n < 32 {
		v &= 1<<uint(n) - 1
	}
	w.bits = w.bits<<uint(n) | uint64(v)
	w.used += n
	for w.used >= 8 {
		w.used -= 8
		w.buf = append(w.buf, byte(w.bits>>uint(w.used)))
	}
	w.bits &= 1<<uint(w.used) - 1
}

// WriteFlag writes a single bit.
func (w *Writer) WriteFlag(b bool) {
	w.WriteBits(uint32(boolToInt(b)), 1)
}

// WriteUE writes v as an unsigned Exp-Golomb code.
func (w *Writer) WriteUE(v uint32) {
	n := UELen(v)
	x := uint64(v) + 1
	// The prefix zeros and the value share one field when it fits.
	if n <= 32 {
		w.WriteBits(uint32(x), n)
		return
	}
	w.WriteBits(0, n/2)
	w.WriteBits(uint32(x), n-n/2)
}

// WriteSE writes v as a signed Exp-Golomb code.
func (w *Writer) WriteSE(v int32) {
	w.WriteUE(seToUE(v))
}

// WriteAlignOne pads with one bits up to the next byte boundary.
func (w *Writer) WriteAlignOne() {
	if n := w.BitsUntilAligned(); n > 0 {
		w.WriteBits(1<<uint(n)-1, n)
	}
}

// WriteAlignZero pads with zero bits up to the next byte boundary.
func (w *Writer) WriteAlignZero() {
	if n := w.BitsUntilAligned(); n > 0 {
		w.WriteBits(0, n)
	}
}

// WriteTrailingBits writes the stop bit followed by zero alignment.
func (w *Writer) WriteTrailingBits() {
	w.WriteBits(1, 1)
	w.WriteAlignZero()
}

// BitsUntilAligned returns how many bits remain before the next byte
// boundary.
func (w *Writer) BitsUntilAligned() int {
	return (8 - w.used) & 7
}

// ByteAligned reports whether the write position is on a byte boundary.
func (w *Writer) ByteAligned() bool {
	return w.used == 0
}

// NumWrittenBits returns the number of bits written so far.
func (w *Writer) NumWrittenBits() int {
	return len(w.buf)*8 + w.used
}

// Bytes returns the complete bytes written so far. A trailing partial byte
// is not included.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Append writes all of o's bits after the current position.
func (w *Writer) Append(o *Writer) {
	if w.used == 0 {
		w.buf = append(w.buf, o.buf...)
	} else {
		for _, b := range o.buf {
			w.WriteBits(uint32(b), 8)
		}
	}
	w.WriteBits(uint32(o.bits), o.used)
}

// Counter is a Sink that only counts bits. It is used to size syntax during
// rate-distortion decisions without producing a bitstream.
type Counter struct {
	n int
}

// Reset zeroes the count.
func (c *Counter) Reset() { c.n = 0 }

func (c *Counter) WriteBits(_ uint32, n int) { c.n += n }
func (c *Counter) WriteFlag(bool)            { c.n++ }
func (c *Counter) WriteUE(v uint32)          { c.n += UELen(v) }
func (c *Counter) WriteSE(v int32)           { c.n += UELen(seToUE(v)) }

// NumWrittenBits returns the number of bits counted.
func (c *Counter) NumWrittenBits() int { return c.n }

// UELen returns the length in bits of the Exp-Golomb code for v.
func UELen(v uint32) int {
	return 2*(bits.Len64(uint64(v)+1)-1) + 1
}

func seToUE(v int32) uint32 {
	if v > 0 {
		return uint32(v)*2 - 1
	}
	return uint32(-int64(v)) * 2
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
