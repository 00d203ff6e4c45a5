package slice

import (
	"github.com/pkg/errors"

	"github.com/nicolegarcia/MV-HEVC/internal/cabac"
	"github.com/nicolegarcia/MV-HEVC/internal/cu"
	"github.com/nicolegarcia/MV-HEVC/internal/mathutil"
	"github.com/nicolegarcia/MV-HEVC/internal/motion"
	"github.com/nicolegarcia/MV-HEVC/internal/picture"
	"github.com/nicolegarcia/MV-HEVC/internal/pool"
	"github.com/nicolegarcia/MV-HEVC/internal/predict"
	"github.com/nicolegarcia/MV-HEVC/internal/syntax"
	"github.com/nicolegarcia/MV-HEVC/internal/tquant"
)

// sliceCtx is the state both sides derive from the slice parameters before
// coding the CTUs of a segment.
type sliceCtx struct {
	seq   *Sequence
	sp    *SliceParams
	pic   *picture.Picture
	geo   *cu.Geometry
	grid  *cu.Grid
	tiles *cu.TileMap
	reg   *predict.Registry

	sliceStart int // tile-scan address of the first CTU of the slice
	intra      bool
	numLists   int
	maxMerge   int
	ic         bool
	weights    *predict.WeightSet
	interView  [2][]bool
	init       cabac.ContextSet
	motion     motion.Context
}

func newSliceCtx(seq *Sequence, sp *SliceParams, pic *picture.Picture, reg *predict.Registry, sliceStart int) *sliceCtx {
	s := &sliceCtx{
		seq:        seq,
		sp:         sp,
		pic:        pic,
		grid:       pic.Grid,
		geo:        pic.Grid.Geo,
		tiles:      pic.Grid.Tiles,
		reg:        reg,
		sliceStart: sliceStart,
		intra:      sp.Type == cabac.SliceI,
		numLists:   sp.NumLists(),
		maxMerge:   sp.maxMerge(seq),
		ic:         sp.IC && seq.IC,
		weights:    weightSet(sp.Weights),
		init:       cabac.NewContextSet(sp.Type, sp.QP),
	}
	var refs [2][]picture.Ref
	mc := motion.Context{
		POC:       sp.POC,
		View:      sp.View,
		NumLists:  s.numLists,
		MaxMerge:  s.maxMerge,
		PicW:      seq.Width,
		PicH:      seq.Height,
		Log2CTU:   seq.Log2CTU,
		ColFromL0: sp.ColFromL0,
		BaseView:  sp.BaseView,
		Depth:     sp.RefDepth,
		LUT:       sp.LUT,
		VSP:       seq.VSP && sp.RefDepth != nil && sp.LUT != nil,
	}
	for l := 0; l < s.numLists; l++ {
		s.interView[l] = make([]bool, len(sp.Refs[l]))
		for i, r := range sp.Refs[l] {
			mc.Refs[l] = append(mc.Refs[l], motion.RefPic{POC: r.POC, View: r.View})
			refs[l] = append(refs[l], picture.Ref{POC: r.POC, View: r.View})
			s.interView[l][i] = r.View != sp.View
		}
	}
	if s.numLists > 0 {
		colList := 0
		if sp.Type == cabac.SliceB && !sp.ColFromL0 {
			colList = 1
		}
		if col := sp.Refs[colList][0]; col.View == sp.View {
			mc.Col = col
		}
	}
	s.motion = mc
	pic.SliceRefs[sliceStart] = refs
	return s
}

// ctuCtx binds a slice context to one CTU and the descriptor its CUs are
// decided in: the arena entry on the decoder, a work copy in the encoder.
type ctuCtx struct {
	*sliceCtx
	addr int
	x, y int // luma origin
	d    *cu.Data
	nb   cu.Neighbours
	mc   motion.Context
}

func (s *sliceCtx) newCTU() *ctuCtx {
	c := &ctuCtx{sliceCtx: s}
	c.mc = s.motion
	c.mc.Field = motion.GridField{Nb: &c.nb}
	return c
}

// bind points c at CTU addr with descriptor d.
func (c *ctuCtx) bind(addr int, d *cu.Data) {
	c.addr = addr
	c.x, c.y = c.grid.CTUPos(addr)
	c.d = d
	c.nb = cu.Neighbours{Grid: c.grid, Addr: addr, Cur: d, CUAbs: 0, CUParts: c.geo.NumParts}
}

// inside reports whether the CU at abs and depth overlaps the picture.
func (c *ctuCtx) inside(abs, depth int) bool {
	x, y := c.geo.PartXY(abs)
	return c.x+x < c.seq.Width && c.y+y < c.seq.Height
}

// fullyInside reports whether the CU at abs and depth lies in the picture.
func (c *ctuCtx) fullyInside(abs, depth int) bool {
	x, y := c.geo.PartXY(abs)
	s := 1 << uint(c.seq.Log2CTU-depth)
	return c.x+x+s <= c.seq.Width && c.y+y+s <= c.seq.Height
}

func (c *ctuCtx) splitCtx(abs, depth int) int {
	x, y := c.geo.PartXY(abs)
	inc := 0
	if d, z, ok := c.nb.Left(x, y, abs); ok && int(d.Parts[z].Depth) > depth {
		inc++
	}
	if d, z, ok := c.nb.Above(x, y, abs); ok && int(d.Parts[z].Depth) > depth {
		inc++
	}
	return inc
}

func (c *ctuCtx) skipCtx(abs int) int {
	x, y := c.geo.PartXY(abs)
	inc := 0
	if d, z, ok := c.nb.Left(x, y, abs); ok && d.Parts[z].Skip {
		inc++
	}
	if d, z, ok := c.nb.Above(x, y, abs); ok && d.Parts[z].Skip {
		inc++
	}
	return inc
}

// mpmFunc derives the most probable modes of the PUs of an intra CU.
// Neighbours inside the CU take the modes of earlier PUs from prev; an
// above neighbour outside the CTU counts as DC.
func (c *ctuCtx) mpmFunc(pus []cu.PU) syntax.MPMFunc {
	return func(i int, prev []int) [3]int {
		pu := pus[i]
		mode := func(x, y int) int {
			for k := 0; k < i && k < len(prev); k++ {
				q := pus[k]
				if x >= q.X && x < q.X+q.W && y >= q.Y && y < q.Y+q.H {
					return prev[k]
				}
			}
			d, z, ok := c.nb.At(c.x+x, c.y+y, pu.AbsPart)
			if !ok || d.Parts[z].PredMode != cu.ModeIntra {
				return cu.IntraDC
			}
			return int(d.Parts[z].IntraLuma)
		}
		left := mode(pu.X-1, pu.Y)
		above := cu.IntraDC
		if pu.Y > 0 {
			above = mode(pu.X, pu.Y-1)
		}
		return predict.MostProbableModes(left, above)
	}
}

// icCoded reports whether the CU at abs carries an illumination
// compensation flag: an unsplit inter CU predicting from another view
// without view synthesis.
func (c *ctuCtx) icCoded(abs int) bool {
	if !c.ic {
		return false
	}
	p := &c.d.Parts[abs]
	if p.PredMode != cu.ModeInter || p.PartSize != cu.Part2Nx2N || p.VSP {
		return false
	}
	for l := 0; l < c.numLists; l++ {
		if p.InterDir&(1<<uint(l)) != 0 && c.interView[l][p.RefIdx[l]] {
			return true
		}
	}
	return false
}

// chromaMode returns the chroma prediction mode of the intra CU at abs.
func (c *ctuCtx) chromaMode(abs int) int {
	p := &c.d.Parts[abs]
	return predict.ChromaModes(int(p.IntraLuma))[p.IntraChroma]
}

// motionBlock describes a PU for the motion derivations.
func (c *ctuCtx) motionBlock(pu cu.PU, idx int, part cu.PartSize) motion.Block {
	return motion.Block{X: c.x + pu.X, Y: c.y + pu.Y, W: pu.W, H: pu.H, AbsPart: pu.AbsPart, PartIdx: idx, PartSize: part}
}

// cuBlock describes the whole CU at abs for the disparity derivation.
func (c *ctuCtx) cuBlock(abs, log2 int) motion.Block {
	x, y := c.geo.PartXY(abs)
	s := 1 << uint(log2)
	return motion.Block{X: c.x + x, Y: c.y + y, W: s, H: s, AbsPart: abs}
}

// available reports whether the luma sample at picture position (px, py)
// may be referenced by a block whose first unit is curPart.
func (c *ctuCtx) available(px, py, curPart int) bool {
	_, _, ok := c.nb.At(px, py, curPart)
	return ok
}

// predictPU writes the inter prediction of pu, described by p, into the
// reconstruction at its own position.
func (c *ctuCtx) predictPU(pu cu.PU, p *cu.Part) error {
	x, y := c.x+pu.X, c.y+pu.Y
	req := predict.Request{
		X: x, Y: y, W: pu.W, H: pu.H, DstX: x, DstY: y,
		BitDepth: c.seq.BitDepth,
		Dir:      int(p.InterDir),
		Weights:  c.weights,
	}
	kind := predict.KindMotionComp
	used := -1
	for l := 0; l < 2; l++ {
		if p.InterDir&(1<<uint(l)) == 0 {
			continue
		}
		r := int(p.RefIdx[l])
		if l >= c.numLists || r < 0 || r >= len(c.sp.Refs[l]) {
			return errors.Wrapf(syntax.ErrConformance, "reference %d of list %d", r, l)
		}
		req.Refs[l] = c.sp.Refs[l][r].Recon
		req.MV[l] = p.MV[l]
		req.InterView[l] = c.interView[l][r]
		if req.InterView[l] {
			kind = predict.KindDisparityComp
		}
		used = l
	}
	if used < 0 {
		return errors.Wrap(syntax.ErrConformance, "inter prediction without a reference list")
	}
	switch {
	case p.VSP:
		if c.sp.RefDepth == nil {
			return errors.Wrap(syntax.ErrConformance, "view synthesis without reference depth")
		}
		kind = predict.KindViewSynthesis
		req.Refs[0] = req.Refs[used]
		req.DV = p.MV[used]
		req.Depth = c.sp.RefDepth.Recon
		req.LUT = c.sp.LUT
	case p.IC:
		kind = predict.KindIllumComp
		req.Cur = c.pic.Recon
		req.Neighbours = predict.ICNeighbours{
			Left:  c.available(x-1, y, pu.AbsPart),
			Above: c.available(x, y-1, pu.AbsPart),
		}
	}
	return c.reg.Predict(kind, c.pic.Recon, &req)
}

// predictCU writes the inter prediction of every PU of the CU at abs.
func (c *ctuCtx) predictCU(abs, log2 int) error {
	p := &c.d.Parts[abs]
	for _, pu := range c.geo.PUs(p.PartSize, abs, log2) {
		if err := c.predictPU(pu, &c.d.Parts[pu.AbsPart]); err != nil {
			return err
		}
	}
	return nil
}

// predictIntra writes the intra prediction of the n x n block of comp at
// plane position (x, y) into the reconstruction. curPart is the first unit
// of the TU the block belongs to.
func (c *ctuCtx) predictIntra(comp cu.Comp, x, y, n, mode, curPart int) error {
	s := picture.ChromaShift(comp)
	req := predict.Request{
		X: x, Y: y, W: n, H: n, DstX: x, DstY: y,
		BitDepth: c.seq.BitDepth,
		Comp:     comp,
		Mode:     mode,
		Recon:    c.pic.Recon.Plane(comp),
		Avail: func(ax, ay int) bool {
			return c.available(ax<<s, ay<<s, curPart)
		},
	}
	return c.reg.Predict(predict.KindIntra, c.pic.Recon, &req)
}

// tuBlock describes a TU for quantisation.
func (c *ctuCtx) tuBlock(comp cu.Comp, log2, qp int, intra bool, scan syntax.ScanIdx) tquant.Block {
	return tquant.Block{
		Log2Size:   log2,
		Comp:       comp,
		Scan:       scan,
		QP:         tquant.NewQParam(qp, comp, c.seq.BitDepth, c.seq.ChromaQPOffset),
		IntraCU:    intra,
		IntraSlice: c.intra,
	}
}

// scanFor returns the coefficient scan of a TU of the CU at abs.
func (c *ctuCtx) scanFor(comp cu.Comp, cuAbs, tuAbs, log2 int) syntax.ScanIdx {
	p := &c.d.Parts[cuAbs]
	if p.PredMode != cu.ModeIntra {
		return syntax.ScanDiag
	}
	if comp == cu.Y {
		return syntax.ScanIdxFor(true, int(c.d.Parts[tuAbs].IntraLuma), log2, false)
	}
	return syntax.ScanIdxFor(true, c.chromaMode(cuAbs), log2, true)
}

// reconstructTU adds the residual coded by levels to the prediction held
// at plane position (x, y) of p.
func reconstructTU(q *tquant.Quantizer, p *picture.Plane, x, y int, levels []int32, b *tquant.Block, bitDepth int) {
	n := 1 << uint(b.Log2Size)
	coeff := pool.GetInt32(n * n)
	resid := pool.GetInt32(n * n)
	defer pool.PutInt32(coeff)
	defer pool.PutInt32(resid)
	q.Dequant(levels, coeff, b)
	dst := b.IntraCU && b.Comp == cu.Y && b.Log2Size == 2
	tquant.Inverse(coeff, b.Log2Size, bitDepth, dst, resid)
	for j := 0; j < n; j++ {
		row := p.Row(x, y+j, n)
		for i := range row {
			row[i] = mathutil.ClipPel(int32(row[i])+resid[j*n+i], bitDepth)
		}
	}
}

// wrapMV applies the 16-bit wrap-around of vector reconstruction.
func wrapMV(mv cu.MV) cu.MV {
	return cu.MV{X: int32(int16(mv.X)), Y: int32(int16(mv.Y))}
}
