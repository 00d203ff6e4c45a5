package bitio

import (
	"errors"

	"github.com/bluenviron/mediacommon/pkg/bits"
)

// ErrUnexpectedEnd is recorded when a read runs past the end of the buffer.
var ErrUnexpectedEnd = errors.New("bitio: unexpected end of data")

// Reader reads MSB-first bit fields from a byte buffer.
//
// Errors are sticky: after the first failure every read returns zero and
// Err reports the failure, so parsers can check once per syntax structure.
type Reader struct {
	buf []byte
	pos int // bit position
	err error
}

// NewReader creates a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

// Err returns the first error encountered.
func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// ReadBits reads n (0..32) bits.
func (r *Reader) ReadBits(n int) uint32 {
	if r.err != nil || n == 0 {
		return 0
	}
	if err := bits.HasSpace(r.buf, r.pos, n); err != nil {
		r.fail(ErrUnexpectedEnd)
		return 0
	}
	return uint32(bits.ReadBitsUnsafe(r.buf, &r.pos, n))
}

// ReadFlag reads a single bit.
func (r *Reader) ReadFlag() bool {
	if r.err != nil {
		return false
	}
	if err := bits.HasSpace(r.buf, r.pos, 1); err != nil {
		r.fail(ErrUnexpectedEnd)
		return false
	}
	return bits.ReadFlagUnsafe(r.buf, &r.pos)
}

// ReadUE reads an unsigned Exp-Golomb code.
func (r *Reader) ReadUE() uint32 {
	if r.err != nil {
		return 0
	}
	v, err := bits.ReadGolombUnsigned(r.buf, &r.pos)
	if err != nil {
		r.fail(ErrUnexpectedEnd)
		return 0
	}
	return v
}

// ReadSE reads a signed Exp-Golomb code.
func (r *Reader) ReadSE() int32 {
	k := r.ReadUE()
	if k&1 != 0 {
		return int32((k + 1) >> 1)
	}
	return -int32(k >> 1)
}

// ReadU8 reads eight bits. Past the end of the buffer it returns zero and
// records ErrUnexpectedEnd.
func (r *Reader) ReadU8() byte {
	if r.pos&7 == 0 && r.err == nil {
		i := r.pos >> 3
		if i < len(r.buf) {
			r.pos += 8
			return r.buf[i]
		}
		r.fail(ErrUnexpectedEnd)
		return 0
	}
	return byte(r.ReadBits(8))
}

// PeekPreviousByte returns the last fully consumed byte.
func (r *Reader) PeekPreviousByte() byte {
	i := r.pos>>3 - 1
	if i < 0 || i >= len(r.buf) {
		return 0
	}
	return r.buf[i]
}

// ByteAligned reports whether the read position is on a byte boundary.
func (r *Reader) ByteAligned() bool {
	return r.pos&7 == 0
}

// SkipToAlignment discards bits up to the next byte boundary.
func (r *Reader) SkipToAlignment() {
	r.pos = (r.pos + 7) &^ 7
}

// ReadTrailingBits consumes a stop bit and the zero alignment after it and
// reports whether they had the expected values.
func (r *Reader) ReadTrailingBits() bool {
	if !r.ReadFlag() {
		return false
	}
	for !r.ByteAligned() {
		if r.ReadFlag() {
			return false
		}
	}
	return r.err == nil
}

// BitPos returns the current bit position.
func (r *Reader) BitPos() int {
	return r.pos
}

// BitsLeft returns the number of unread bits.
func (r *Reader) BitsLeft() int {
	return len(r.buf)*8 - r.pos
}

// Rest returns the bytes from the current (aligned) position to the end.
func (r *Reader) Rest() []byte {
	i := (r.pos + 7) >> 3
	if i >= len(r.buf) {
		return nil
	}
	return r.buf[i:]
}
