// Package mathutil holds the small integer helpers shared by the prediction,
// quantisation and motion code.
package mathutil

import (
	"math/bits"

	"golang.org/x/exp/constraints"
)

// Number is any integer or floating point type.
type Number interface {
	constraints.Integer | constraints.Float
}

// Clip3 clamps v to [lo, hi].
func Clip3[T Number](lo, hi, v T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Abs returns |v|.
func Abs[T constraints.Signed | constraints.Float](v T) T {
	if v < 0 {
		return -v
	}
	return v
}

// Sign returns -1, 0 or 1.
func Sign[T constraints.Signed | constraints.Float](v T) T {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}

// ClipPel clamps a sample to the range of the given bit depth.
func ClipPel(v int32, bitDepth int) int16 {
	return int16(Clip3(0, int32(1)<<bitDepth-1, v))
}

// Log2 returns floor(log2(n)) for n > 0.
func Log2(n int) int {
	return bits.Len(uint(n)) - 1
}

// CeilLog2 returns ceil(log2(n)) for n > 0.
func CeilLog2(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

// MSB returns the index of the most significant set bit of x, or 0 when x
// is zero.
func MSB(x uint32) int {
	if x == 0 {
		return 0
	}
	return bits.Len32(x) - 1
}

// RedundantSignBits counts the leading bits of a 16-bit signed value that
// merely repeat the sign bit. Zero yields zero.
func RedundantSignBits(x int32) int {
	if x == 0 {
		return 0
	}
	if x < 0 {
		x = ^x
	}
	return 15 - bits.Len32(uint32(x))
}
