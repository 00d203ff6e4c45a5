package mvhevc

import (
	"io"

	"github.com/pkg/errors"

	"github.com/nicolegarcia/MV-HEVC/internal/cu"
	"github.com/nicolegarcia/MV-HEVC/internal/picture"
)

// Frame is one 4:2:0 picture of one view. Planes are stored row by row
// without padding; chroma planes have half the luma width and height.
// A depth map uses Y only.
type Frame struct {
	Width, Height int
	POC, View     int
	Y, Cb, Cr     []int16
}

// NewFrame allocates a frame of the given luma size.
func NewFrame(width, height int) *Frame {
	cw, ch := width/2, height/2
	return &Frame{
		Width:  width,
		Height: height,
		Y:      make([]int16, width*height),
		Cb:     make([]int16, cw*ch),
		Cr:     make([]int16, cw*ch),
	}
}

func (f *Frame) planes() [3][]int16 { return [3][]int16{f.Y, f.Cb, f.Cr} }

func (f *Frame) check(width, height int, lumaOnly bool) error {
	if f.Width != width || f.Height != height {
		return errors.Wrapf(ErrConfig, "frame %dx%d in a %dx%d sequence", f.Width, f.Height, width, height)
	}
	if len(f.Y) < width*height {
		return errors.Wrapf(ErrConfig, "luma plane of %d samples", len(f.Y))
	}
	if !lumaOnly && (len(f.Cb) < width*height/4 || len(f.Cr) < width*height/4) {
		return errors.Wrap(ErrConfig, "short chroma plane")
	}
	return nil
}

// yuv copies f into internal planes.
func (f *Frame) yuv() *picture.Yuv {
	y := picture.NewYuv(f.Width, f.Height)
	for c, src := range f.planes() {
		p := y.Planes[c]
		if len(src) < p.Width*p.Height {
			continue
		}
		for row := 0; row < p.Height; row++ {
			copy(p.Row(0, row, p.Width), src[row*p.Width:])
		}
	}
	return y
}

func frameFromYuv(y *picture.Yuv, poc, view int) *Frame {
	f := NewFrame(y.Width(), y.Height())
	f.POC, f.View = poc, view
	for c, dst := range f.planes() {
		p := y.Plane(cu.Comp(c))
		for row := 0; row < p.Height; row++ {
			copy(dst[row*p.Width:], p.Row(0, row, p.Width))
		}
	}
	return f
}

// ReadFrame reads one 8-bit 4:2:0 frame in planar order.
func ReadFrame(r io.Reader, width, height int) (*Frame, error) {
	f := NewFrame(width, height)
	buf := make([]byte, width*height)
	for _, dst := range f.planes() {
		if _, err := io.ReadFull(r, buf[:len(dst)]); err != nil {
			return nil, err
		}
		for i, v := range buf[:len(dst)] {
			dst[i] = int16(v)
		}
	}
	return f, nil
}

// WriteTo writes f as an 8-bit 4:2:0 frame in planar order, clipping
// samples to [0, 255].
func (f *Frame) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, len(f.Y))
	var n int64
	for _, src := range f.planes() {
		for i, v := range src {
			buf[i] = uint8(min(max(v, 0), 255))
		}
		m, err := w.Write(buf[:len(src)])
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// PSNR returns the peak signal-to-noise ratio of each plane of f against
// ref, in dB. Identical planes give +Inf.
func (f *Frame) PSNR(ref *Frame, bitDepth int) [3]float64 {
	a, b := f.yuv(), ref.yuv()
	var out [3]float64
	for c := range out {
		out[c] = picture.PSNR(a.Planes[c], b.Planes[c], bitDepth)
	}
	return out
}
