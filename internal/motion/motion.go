// Package motion derives the motion and disparity predictors that the
// encoder and the decoder must agree on: merge candidate lists, AMVP
// predictors, collocated motion and the neighbouring block disparity
// vector.
package motion

import (
	"github.com/nicolegarcia/MV-HEVC/internal/cu"
	"github.com/nicolegarcia/MV-HEVC/internal/mathutil"
	"github.com/nicolegarcia/MV-HEVC/internal/picture"
	"github.com/nicolegarcia/MV-HEVC/internal/predict"
)

// Motion is the motion of one prediction unit. RefIdx is -1 for an unused
// list.
type Motion struct {
	Dir    uint8
	RefIdx [2]int8
	MV     [2]cu.MV
	VSP    bool
}

// Uses reports whether list l is used.
func (m Motion) Uses(l int) bool { return m.Dir&(1<<uint(l)) != 0 }

// Equal reports whether m and o predict identically.
func (m Motion) Equal(o Motion) bool {
	if m.Dir != o.Dir || m.VSP != o.VSP {
		return false
	}
	for l := 0; l < 2; l++ {
		if m.Uses(l) && (m.RefIdx[l] != o.RefIdx[l] || m.MV[l] != o.MV[l]) {
			return false
		}
	}
	return true
}

// FromPart returns the motion stored in a unit.
func FromPart(p *cu.Part) Motion {
	m := Motion{Dir: p.InterDir, RefIdx: [2]int8{-1, -1}, VSP: p.VSP}
	for l := 0; l < 2; l++ {
		if m.Uses(l) {
			m.RefIdx[l] = p.RefIdx[l]
			m.MV[l] = p.MV[l]
		}
	}
	return m
}

// Store writes m into a unit.
func (m Motion) Store(p *cu.Part) {
	p.InterDir = m.Dir
	p.VSP = m.VSP
	for l := 0; l < 2; l++ {
		if m.Uses(l) {
			p.RefIdx[l] = m.RefIdx[l]
			p.MV[l] = m.MV[l]
		} else {
			p.RefIdx[l] = -1
			p.MV[l] = cu.MV{}
		}
	}
}

// Field looks up the motion of causal neighbours.
type Field interface {
	// At returns the motion at picture luma position (px, py) when the unit
	// there is inter coded and available to the block whose first unit is
	// curPart.
	At(px, py, curPart int) (Motion, bool)
}

// GridField reads neighbour motion from the CTU arena, applying its slice,
// tile and coding order availability.
type GridField struct {
	Nb *cu.Neighbours
}

func (f GridField) At(px, py, curPart int) (Motion, bool) {
	d, z, ok := f.Nb.At(px, py, curPart)
	if !ok || d.Parts[z].PredMode != cu.ModeInter {
		return Motion{}, false
	}
	return FromPart(&d.Parts[z]), true
}

// Block locates a prediction unit in picture luma samples.
type Block struct {
	X, Y, W, H int
	AbsPart    int // Z index of the first unit inside the CTU
	PartIdx    int
	PartSize   cu.PartSize
}

// RefPic identifies a reference picture.
type RefPic struct {
	POC  int
	View int
}

// Context is the slice state the derivations read.
type Context struct {
	Field    Field
	POC      int
	View     int
	Refs     [2][]RefPic
	NumLists int // 1 for P slices, 2 for B slices
	MaxMerge int

	PicW, PicH int
	Log2CTU    int

	// Col is the collocated picture; nil disables temporal candidates.
	Col       *picture.Picture
	ColFromL0 bool

	// BaseView is the reference view picture of the same POC, used for
	// inter-view motion. Depth is the depth of that view, used to refine
	// disparity and for view synthesis. LUT converts depth to disparity.
	BaseView *picture.Picture
	Depth    *picture.Picture
	LUT      *predict.DisparityLUT
	VSP      bool
}

// IsInterView reports whether reference idx of list l belongs to another
// view of the current access unit.
func (c *Context) IsInterView(l, idx int) bool {
	if idx < 0 || idx >= len(c.Refs[l]) {
		return false
	}
	return c.Refs[l][idx].View != c.View
}

// InterViewRef returns the first inter-view reference index of list l, or
// -1.
func (c *Context) InterViewRef(l int) int {
	for i, r := range c.Refs[l] {
		if r.View != c.View {
			return i
		}
	}
	return -1
}

func (c *Context) refPic(l int, idx int8) (RefPic, bool) {
	if idx < 0 || int(idx) >= len(c.Refs[l]) {
		return RefPic{}, false
	}
	return c.Refs[l][idx], true
}

// ScaleMV scales mv by the ratio of the POC distances tb and td.
func ScaleMV(mv cu.MV, tb, td int) cu.MV {
	if td == tb || td == 0 {
		return mv
	}
	td = mathutil.Clip3(-128, 127, td)
	tb = mathutil.Clip3(-128, 127, tb)
	tx := (16384 + mathutil.Abs(td)/2) / td
	f := mathutil.Clip3(-4096, 4095, (tb*tx+32)>>6)
	return cu.MV{X: scaleComponent(mv.X, f), Y: scaleComponent(mv.Y, f)}
}

func scaleComponent(v int32, f int) int32 {
	p := int64(f) * int64(v)
	s := int64(1)
	if p < 0 {
		s, p = -1, -p
	}
	return int32(mathutil.Clip3(-32768, 32767, s*((p+127)>>8)))
}

// ClipMV limits mv so that the w x h block at (x, y) reaches at most margin
// samples beyond a picture of picW x picH.
func ClipMV(mv cu.MV, x, y, w, h, picW, picH, margin int) cu.MV {
	minX := int32((-w - margin - x + 1) << 2)
	maxX := int32((picW + margin - x - 1) << 2)
	minY := int32((-h - margin - y + 1) << 2)
	maxY := int32((picH + margin - y - 1) << 2)
	return cu.MV{
		X: mathutil.Clip3(minX, maxX, mv.X),
		Y: mathutil.Clip3(minY, maxY, mv.Y),
	}
}

// ctuAddr returns the raster address of the CTU holding (px, py) in gr.
func ctuAddr(gr *cu.Grid, px, py int) int {
	l := uint(gr.Geo.Log2CTU)
	return (py>>l)*gr.WidthCTU + px>>l
}

// noBackward reports whether no reference follows the current picture.
func (c *Context) noBackward() bool {
	for l := 0; l < c.NumLists; l++ {
		for _, r := range c.Refs[l] {
			if r.POC > c.POC {
				return false
			}
		}
	}
	return true
}

// Temporal returns the collocated predictor for reference refIdx of list l:
// the bottom-right position when it lies in the current CTU row, else the
// centre, each read on a 16x16 grid.
func (c *Context) Temporal(b Block, l, refIdx int) (cu.MV, bool) {
	if c.Col == nil || refIdx < 0 || refIdx >= len(c.Refs[l]) {
		return cu.MV{}, false
	}
	bx, by := b.X+b.W, b.Y+b.H
	if by>>uint(c.Log2CTU) == b.Y>>uint(c.Log2CTU) && bx < c.PicW && by < c.PicH {
		if mv, ok := c.colMV(bx, by, l, refIdx); ok {
			return mv, true
		}
	}
	return c.colMV(b.X+b.W/2, b.Y+b.H/2, l, refIdx)
}

func (c *Context) colMV(px, py, l, refIdx int) (cu.MV, bool) {
	px, py = px>>4<<4, py>>4<<4
	d, z, ok := c.Col.Grid.PartAt(px, py)
	if !ok {
		return cu.MV{}, false
	}
	p := &d.Parts[z]
	if p.PredMode != cu.ModeInter || p.VSP {
		return cu.MV{}, false
	}
	var cl int
	switch p.InterDir {
	case cu.DirL0:
		cl = 0
	case cu.DirL1:
		cl = 1
	default:
		switch {
		case c.noBackward():
			cl = l
		case c.ColFromL0:
			cl = 1
		}
	}
	colRef, ok := c.Col.RefOf(ctuAddr(c.Col.Grid, px, py), cl, int(p.RefIdx[cl]))
	if !ok {
		return cu.MV{}, false
	}
	target := c.Refs[l][refIdx]
	colIV := colRef.View != c.Col.View
	curIV := target.View != c.View
	if colIV != curIV {
		return cu.MV{}, false
	}
	if colIV {
		return p.MV[cl], true
	}
	return ScaleMV(p.MV[cl], c.POC-target.POC, c.Col.POC-colRef.POC), true
}
