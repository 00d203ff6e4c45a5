// Package picture holds sample storage: planes, block buffers, decoded
// pictures and the decoded picture buffer.
package picture

import "github.com/nicolegarcia/MV-HEVC/internal/cu"

// Plane is one component of samples.
type Plane struct {
	Pix    []int16
	Stride int
	Width  int
	Height int
}

// NewPlane allocates a zeroed plane.
func NewPlane(w, h int) *Plane {
	return &Plane{Pix: make([]int16, w*h), Stride: w, Width: w, Height: h}
}

// At returns the sample at (x, y), which must be inside the plane.
func (p *Plane) At(x, y int) int16 { return p.Pix[y*p.Stride+x] }

// Set stores v at (x, y).
func (p *Plane) Set(x, y int, v int16) { p.Pix[y*p.Stride+x] = v }

// Clamped returns the sample at (x, y) with the coordinates clamped to the
// plane, which is equivalent to reading from an infinitely padded plane.
func (p *Plane) Clamped(x, y int) int16 {
	x = min(max(x, 0), p.Width-1)
	y = min(max(y, 0), p.Height-1)
	return p.Pix[y*p.Stride+x]
}

// Row returns the w samples of row y starting at column x.
func (p *Plane) Row(x, y, w int) []int16 {
	o := y*p.Stride + x
	return p.Pix[o : o+w]
}

// Fill sets every sample to v.
func (p *Plane) Fill(v int16) {
	for i := range p.Pix {
		p.Pix[i] = v
	}
}

// CopyFrom copies the w x h block at (sx, sy) of src to (dx, dy). The
// block is clipped to both planes.
func (p *Plane) CopyFrom(src *Plane, sx, sy, dx, dy, w, h int) {
	w = min(w, src.Width-sx, p.Width-dx)
	h = min(h, src.Height-sy, p.Height-dy)
	for y := 0; y < h; y++ {
		copy(p.Row(dx, dy+y, w), src.Row(sx, sy+y, w))
	}
}

// Clone returns a deep copy of p.
func (p *Plane) Clone() *Plane {
	c := &Plane{Pix: make([]int16, len(p.Pix)), Stride: p.Stride, Width: p.Width, Height: p.Height}
	copy(c.Pix, p.Pix)
	return c
}

// Yuv is a set of 4:2:0 planes: a picture or a block-sized work buffer.
type Yuv struct {
	Planes [3]*Plane
}

// NewYuv allocates a 4:2:0 buffer with a w x h luma plane.
func NewYuv(w, h int) *Yuv {
	return &Yuv{Planes: [3]*Plane{NewPlane(w, h), NewPlane(w/2, h/2), NewPlane(w/2, h/2)}}
}

// Plane returns the plane of component c.
func (y *Yuv) Plane(c cu.Comp) *Plane { return y.Planes[c] }

// Width returns the luma width.
func (y *Yuv) Width() int { return y.Planes[cu.Y].Width }

// Height returns the luma height.
func (y *Yuv) Height() int { return y.Planes[cu.Y].Height }

// CopyBlock copies the luma block (x, y, w, h) and its chroma blocks from
// src at the same position into dst at (dx, dy).
func (y *Yuv) CopyBlock(src *Yuv, sx, sy, dx, dy, w, h int) {
	y.Planes[cu.Y].CopyFrom(src.Planes[cu.Y], sx, sy, dx, dy, w, h)
	for c := cu.Cb; c <= cu.Cr; c++ {
		y.Planes[c].CopyFrom(src.Planes[c], sx/2, sy/2, dx/2, dy/2, w/2, h/2)
	}
}

// Clone returns a deep copy of y.
func (y *Yuv) Clone() *Yuv {
	return &Yuv{Planes: [3]*Plane{y.Planes[0].Clone(), y.Planes[1].Clone(), y.Planes[2].Clone()}}
}

// ChromaShift returns the subsampling shift of component c.
func ChromaShift(c cu.Comp) uint {
	if c.IsChroma() {
		return 1
	}
	return 0
}
