package rdcost

import (
	"github.com/nicolegarcia/MV-HEVC/internal/mathutil"
	"github.com/nicolegarcia/MV-HEVC/internal/picture"
)

// Metric selects the distortion measure of mode decisions.
type Metric uint8

const (
	MetricSSE Metric = iota
	MetricSAD
)

// Block is a rectangle of a plane.
type Block struct {
	P    *picture.Plane
	X, Y int
}

// SSE returns the sum of squared differences of two w x h blocks.
func SSE(a, b Block, w, h int) uint64 {
	var s uint64
	for j := 0; j < h; j++ {
		ra := a.P.Row(a.X, a.Y+j, w)
		rb := b.P.Row(b.X, b.Y+j, w)
		for i := range ra {
			d := int64(ra[i]) - int64(rb[i])
			s += uint64(d * d)
		}
	}
	return s
}

// SAD returns the sum of absolute differences of two w x h blocks.
func SAD(a, b Block, w, h int) uint64 {
	var s uint64
	for j := 0; j < h; j++ {
		ra := a.P.Row(a.X, a.Y+j, w)
		rb := b.P.Row(b.X, b.Y+j, w)
		for i := range ra {
			s += uint64(mathutil.Abs(int32(ra[i]) - int32(rb[i])))
		}
	}
	return s
}

// Distortion measures two blocks with metric m.
func Distortion(m Metric, a, b Block, w, h int) uint64 {
	if m == MetricSAD {
		return SAD(a, b, w, h)
	}
	return SSE(a, b, w, h)
}

// SATD returns the Hadamard transformed difference of two w x h blocks,
// using 8x8 transforms when both sides are multiples of 8 and 4x4
// otherwise.
func SATD(a, b Block, w, h int) uint64 {
	var s uint64
	step := 4
	if w%8 == 0 && h%8 == 0 {
		step = 8
	}
	var diff [64]int32
	for y := 0; y < h; y += step {
		for x := 0; x < w; x += step {
			for j := 0; j < step; j++ {
				ra := a.P.Row(a.X+x, a.Y+y+j, step)
				rb := b.P.Row(b.X+x, b.Y+y+j, step)
				for i := range ra {
					diff[j*step+i] = int32(ra[i]) - int32(rb[i])
				}
			}
			if step == 8 {
				s += hadamard8(&diff)
			} else {
				s += hadamard4(&diff)
			}
		}
	}
	return s
}

func hadamard4(d *[64]int32) uint64 {
	var m [16]int32
	for j := 0; j < 4; j++ {
		r := d[j*4 : j*4+4]
		a0, a1 := r[0]+r[3], r[1]+r[2]
		a2, a3 := r[1]-r[2], r[0]-r[3]
		m[j*4+0] = a0 + a1
		m[j*4+1] = a3 + a2
		m[j*4+2] = a0 - a1
		m[j*4+3] = a3 - a2
	}
	var sum uint64
	for i := 0; i < 4; i++ {
		a0, a1 := m[i]+m[12+i], m[4+i]+m[8+i]
		a2, a3 := m[4+i]-m[8+i], m[i]-m[12+i]
		sum += uint64(mathutil.Abs(a0+a1)) + uint64(mathutil.Abs(a3+a2)) +
			uint64(mathutil.Abs(a0-a1)) + uint64(mathutil.Abs(a3-a2))
	}
	return (sum + 1) >> 1
}

func hadamard8(d *[64]int32) uint64 {
	var m [64]int32
	for j := 0; j < 8; j++ {
		butterfly8(d[j*8:j*8+8], m[j*8:j*8+8])
	}
	var col, out [8]int32
	var sum uint64
	for i := 0; i < 8; i++ {
		for j := 0; j < 8; j++ {
			col[j] = m[j*8+i]
		}
		butterfly8(col[:], out[:])
		for _, v := range out {
			sum += uint64(mathutil.Abs(v))
		}
	}
	return (sum + 2) >> 2
}

// butterfly8 writes the 8-point Hadamard transform of in to out.
func butterfly8(in, out []int32) {
	var a, b [8]int32
	for i := 0; i < 4; i++ {
		a[i] = in[i] + in[i+4]
		a[i+4] = in[i] - in[i+4]
	}
	for _, base := range [2]int{0, 4} {
		b[base+0] = a[base+0] + a[base+2]
		b[base+1] = a[base+1] + a[base+3]
		b[base+2] = a[base+0] - a[base+2]
		b[base+3] = a[base+1] - a[base+3]
	}
	for i := 0; i < 4; i++ {
		out[2*i] = b[2*i] + b[2*i+1]
		out[2*i+1] = b[2*i] - b[2*i+1]
	}
}
