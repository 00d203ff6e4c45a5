package motion

import (
	"github.com/nicolegarcia/MV-HEVC/internal/cu"
	"github.com/nicolegarcia/MV-HEVC/internal/mathutil"
)

// Source tells where a merge candidate came from.
type Source uint8

const (
	SrcSpatial Source = iota
	SrcInterViewMotion
	SrcInterViewDisparity
	SrcViewSynthesis
	SrcTemporal
	SrcCombined
	SrcZero
)

// Candidate is one entry of a merge list.
type Candidate struct {
	Motion
	Source Source
	// DV is the disparity used by view synthesis candidates.
	DV cu.MV
}

// combinedPairs lists the (L0 candidate, L1 candidate) pairs tried for
// combined bi-predictive candidates.
var combinedPairs = [12][2]int{
	{0, 1}, {1, 0}, {0, 2}, {2, 0}, {1, 2}, {2, 1},
	{0, 3}, {3, 0}, {1, 3}, {3, 1}, {2, 3}, {3, 2},
}

// MergeCandidates builds the merge list of a prediction unit. dv is the
// disparity derived for the CU; inter-view candidates are only built when
// dv.Valid.
func (c *Context) MergeCandidates(b Block, dv Disparity) []Candidate {
	limit := c.MaxMerge
	list := make([]Candidate, 0, limit)
	add := func(m Motion, s Source) {
		if len(list) < limit {
			list = append(list, Candidate{Motion: m, Source: s})
		}
	}
	at := func(px, py int) (Motion, bool) { return c.Field.At(px, py, b.AbsPart) }

	var ivmc Motion
	hasIvMC := false
	if dv.Valid && c.BaseView != nil {
		if ivmc, hasIvMC = c.interViewMotion(b, dv); hasIvMC {
			add(ivmc, SrcInterViewMotion)
		}
	}

	a1, okA1 := at(b.X-1, b.Y+b.H-1)
	if b.PartIdx == 1 && b.PartSize.Vertical() {
		okA1 = false
	}
	b1, okB1 := at(b.X+b.W-1, b.Y-1)
	if b.PartIdx == 1 && b.PartSize.Horizontal() {
		okB1 = false
	}
	b0, okB0 := at(b.X+b.W, b.Y-1)
	a0, okA0 := at(b.X-1, b.Y+b.H)
	b2, okB2 := at(b.X-1, b.Y-1)

	spatial := 0
	if okA1 && !(hasIvMC && a1.Equal(ivmc)) {
		add(a1, SrcSpatial)
		spatial++
	}
	if okB1 && !(okA1 && b1.Equal(a1)) && !(hasIvMC && b1.Equal(ivmc)) {
		add(b1, SrcSpatial)
		spatial++
	}
	if okB0 && !(okB1 && b0.Equal(b1)) {
		add(b0, SrcSpatial)
		spatial++
	}
	if dv.Valid {
		if m, ok := c.disparityCandidate(dv); ok && !(okA1 && m.Equal(a1)) && !(okB1 && m.Equal(b1)) {
			add(m, SrcInterViewDisparity)
		}
		if m, ok := c.synthesisCandidate(dv); ok && len(list) < limit {
			list = append(list, Candidate{Motion: m, Source: SrcViewSynthesis, DV: dv.DV})
		}
	}
	if okA0 && !(okA1 && a0.Equal(a1)) {
		add(a0, SrcSpatial)
		spatial++
	}
	if okB2 && spatial < 4 && !(okA1 && b2.Equal(a1)) && !(okB1 && b2.Equal(b1)) {
		add(b2, SrcSpatial)
	}

	if len(list) < limit && c.Col != nil {
		m := Motion{RefIdx: [2]int8{-1, -1}}
		for l := 0; l < c.NumLists; l++ {
			if mv, ok := c.Temporal(b, l, 0); ok {
				m.Dir |= 1 << uint(l)
				m.RefIdx[l] = 0
				m.MV[l] = mv
			}
		}
		if m.Dir != 0 {
			add(m, SrcTemporal)
		}
	}

	if c.NumLists == 2 {
		list = c.appendCombined(list, limit)
	}

	numRef := len(c.Refs[0])
	if c.NumLists == 2 {
		numRef = min(numRef, len(c.Refs[1]))
	}
	for r := 0; len(list) < limit; r++ {
		idx := int8(0)
		if r < numRef {
			idx = int8(r)
		}
		m := Motion{Dir: cu.DirL0, RefIdx: [2]int8{idx, -1}}
		if c.NumLists == 2 {
			m.Dir = cu.DirBi
			m.RefIdx[1] = idx
		}
		add(m, SrcZero)
	}

	// 8x4 and 4x8 blocks are never bi-predicted.
	if b.W+b.H == 12 {
		for i := range list {
			if list[i].Dir == cu.DirBi {
				list[i].Dir = cu.DirL0
				list[i].RefIdx[1] = -1
				list[i].MV[1] = cu.MV{}
			}
		}
	}
	return list
}

func (c *Context) appendCombined(list []Candidate, limit int) []Candidate {
	n := len(list)
	if n < 2 {
		return list
	}
	for _, p := range combinedPairs {
		if len(list) >= limit {
			break
		}
		if p[0] >= n || p[1] >= n {
			continue
		}
		a, b := list[p[0]], list[p[1]]
		if a.VSP || b.VSP || !a.Uses(0) || !b.Uses(1) {
			continue
		}
		ra, okA := c.refPic(0, a.RefIdx[0])
		rb, okB := c.refPic(1, b.RefIdx[1])
		if !okA || !okB || (ra == rb && a.MV[0] == b.MV[1]) {
			continue
		}
		list = append(list, Candidate{
			Motion: Motion{
				Dir:    cu.DirBi,
				RefIdx: [2]int8{a.RefIdx[0], b.RefIdx[1]},
				MV:     [2]cu.MV{a.MV[0], b.MV[1]},
			},
			Source: SrcCombined,
		})
	}
	return list
}

// interViewMotion reuses the temporal motion of the reference view block
// the disparity points at.
func (c *Context) interViewMotion(b Block, dv Disparity) (Motion, bool) {
	base := c.BaseView
	xr := b.X + b.W/2 + int((dv.DV.X+2)>>2)
	yr := b.Y + b.H/2 + int((dv.DV.Y+2)>>2)
	xr = mathutil.Clip3(0, c.PicW-1, xr) >> 3 << 3
	yr = mathutil.Clip3(0, c.PicH-1, yr) >> 3 << 3
	d, z, ok := base.Grid.PartAt(xr, yr)
	if !ok {
		return Motion{}, false
	}
	p := &d.Parts[z]
	if p.PredMode != cu.ModeInter || p.VSP {
		return Motion{}, false
	}
	addr := ctuAddr(base.Grid, xr, yr)
	m := Motion{RefIdx: [2]int8{-1, -1}}
	for l := 0; l < c.NumLists; l++ {
		if p.InterDir&(1<<uint(l)) == 0 {
			continue
		}
		ref, ok := base.RefOf(addr, l, int(p.RefIdx[l]))
		if !ok || ref.View != base.View {
			continue
		}
		for i, r := range c.Refs[l] {
			if r.POC == ref.POC && r.View == c.View {
				m.Dir |= 1 << uint(l)
				m.RefIdx[l] = int8(i)
				m.MV[l] = p.MV[l]
				break
			}
		}
	}
	return m, m.Dir != 0
}

// disparityCandidate predicts from the inter-view references with the
// horizontal disparity.
func (c *Context) disparityCandidate(dv Disparity) (Motion, bool) {
	m := Motion{RefIdx: [2]int8{-1, -1}}
	for l := 0; l < c.NumLists; l++ {
		if i := c.InterViewRef(l); i >= 0 {
			m.Dir |= 1 << uint(l)
			m.RefIdx[l] = int8(i)
			m.MV[l] = cu.MV{X: dv.DV.X}
		}
	}
	return m, m.Dir != 0
}

// synthesisCandidate predicts by view synthesis from the first inter-view
// reference.
func (c *Context) synthesisCandidate(dv Disparity) (Motion, bool) {
	if !c.VSP || c.Depth == nil || c.LUT == nil {
		return Motion{}, false
	}
	for l := 0; l < c.NumLists; l++ {
		if i := c.InterViewRef(l); i >= 0 {
			m := Motion{Dir: 1 << uint(l), RefIdx: [2]int8{-1, -1}, VSP: true}
			m.RefIdx[l] = int8(i)
			m.MV[l] = dv.DV
			return m, true
		}
	}
	return Motion{}, false
}
