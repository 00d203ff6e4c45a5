package slice

import (
	"math"

	"github.com/nicolegarcia/MV-HEVC/internal/cu"
	"github.com/nicolegarcia/MV-HEVC/internal/mathutil"
	"github.com/nicolegarcia/MV-HEVC/internal/motion"
	"github.com/nicolegarcia/MV-HEVC/internal/picture"
	"github.com/nicolegarcia/MV-HEVC/internal/predict"
	"github.com/nicolegarcia/MV-HEVC/internal/rdcost"
	"github.com/nicolegarcia/MV-HEVC/internal/syntax"
)

// searchMargin is how far beyond the picture a searched block may reach,
// in luma samples.
const searchMargin = 80

var (
	largeDiamond = [...][2]int{{0, -1}, {1, 0}, {0, 1}, {-1, 0}, {1, -1}, {1, 1}, {-1, 1}, {-1, -1}}
	smallDiamond = [...][2]int{{0, -1}, {1, 0}, {0, 1}, {-1, 0}}
)

// searchInterCU evaluates the inter candidates of the CU of l: skip and
// merge, then every partitioning with motion search.
func (s *searcher) searchInterCU(l *leaf) error {
	dv := s.mc.NBDV(s.cuBlock(l.abs, l.log2))
	if err := s.searchMerge(l, dv); err != nil {
		return err
	}
	parts := []cu.PartSize{cu.Part2Nx2N, cu.Part2NxN, cu.PartNx2N}
	if s.seq.AMP && l.log2 > s.seq.Log2MinCU {
		parts = append(parts, cu.Part2NxnU, cu.Part2NxnD, cu.PartnLx2N, cu.PartnRx2N)
	}
	for _, part := range parts {
		if err := s.searchPart(l, part, dv); err != nil {
			return err
		}
	}
	return nil
}

func (s *searcher) initInter(l *leaf, part cu.PartSize, dv motion.Disparity) {
	s.work.InitCU(l.abs, l.n, l.depth, s.qp)
	s.work.SetRange(l.abs, l.n, func(p *cu.Part) {
		p.PredMode = cu.ModeInter
		p.PartSize = part
		p.DV = dv.DV
	})
}

// searchMerge tries every merge candidate of the unsplit CU, coded as skip
// or as merge with residual.
func (s *searcher) searchMerge(l *leaf, dv motion.Disparity) error {
	pu := s.geo.PUs(cu.Part2Nx2N, l.abs, l.log2)[0]
	s.initInter(l, cu.Part2Nx2N, dv)
	cands := s.mc.MergeCandidates(s.motionBlock(pu, 0, cu.Part2Nx2N), dv)
	for i, cand := range cands {
		s.initInter(l, cu.Part2Nx2N, dv)
		s.work.SetRange(l.abs, l.n, func(p *cu.Part) {
			p.Merge = true
			p.MergeIdx = uint8(i)
			cand.Motion.Store(p)
		})
		if err := s.tryInter(l); err != nil {
			return err
		}
	}
	return nil
}

// puChoice is the motion decided for one prediction unit.
type puChoice struct {
	m        motion.Motion
	merge    bool
	mergeIdx int
	mvd      [2]cu.MV
	mvp      [2]uint8
	cost     float64
}

func (c *puChoice) store(p *cu.Part) {
	c.m.Store(p)
	p.Merge = c.merge
	p.MergeIdx = uint8(c.mergeIdx)
	p.MVD = c.mvd
	p.MVPIdx = c.mvp
}

// searchPart decides the motion of every PU of part in coding order, each
// PU choosing between motion search and merging when the CU is split.
func (s *searcher) searchPart(l *leaf, part cu.PartSize, dv motion.Disparity) error {
	s.initInter(l, part, dv)
	for i, pu := range s.geo.PUs(part, l.abs, l.log2) {
		b := s.motionBlock(pu, i, part)
		best := s.motionSearch(l, pu, b)
		if part != cu.Part2Nx2N {
			if m := s.bestMerge(pu, b, dv); m.cost < best.cost {
				best = m
			}
		}
		s.work.SetPU(pu, best.store)
	}
	return s.tryInter(l)
}

// tryInter evaluates the inter CU described in the work descriptor with
// and without its residual, and with illumination compensation off and on
// when the CU can signal it.
func (s *searcher) tryInter(l *leaf) error {
	ics := []bool{false}
	if s.icCoded(l.abs) {
		ics = append(ics, true)
	}
	p := &s.work.Parts[l.abs]
	skippable := p.PartSize == cu.Part2Nx2N && p.Merge
	px, py := s.geo.PartXY(l.abs)
	size := 1 << uint(l.log2)
	for _, ic := range ics {
		s.work.SetRange(l.abs, l.n, func(p *cu.Part) {
			p.IC = ic
			p.Skip = false
		})
		if err := s.predictCU(l.abs, l.log2); err != nil {
			return err
		}
		s.pred.CopyBlock(s.pic.Recon, s.x+px, s.y+py, px, py, size, size)
		s.codeInter(l)
		if s.work.Parts[l.abs].Coded {
			s.consider(l)
			s.pic.Recon.CopyBlock(s.pred, px, py, s.x+px, s.y+py, size, size)
		}
		s.work.SetRange(l.abs, l.n, func(p *cu.Part) {
			p.Cbf = [3]uint8{}
			p.TrIdx = 0
			p.Coded = false
			p.Skip = skippable
		})
		s.consider(l)
	}
	return nil
}

// bestMerge returns the cheapest merge candidate of a PU by prediction
// error. View synthesis candidates are left to the unsplit CU.
func (s *searcher) bestMerge(pu cu.PU, b motion.Block, dv motion.Disparity) puChoice {
	best := puChoice{cost: math.Inf(1)}
	for i, cand := range s.mc.MergeCandidates(b, dv) {
		if cand.VSP {
			continue
		}
		cost := s.model.MotionCost(s.motionDist(pu, cand.Motion), i+2)
		if cost < best.cost {
			best = puChoice{m: cand.Motion, merge: true, mergeIdx: i, cost: cost}
		}
	}
	return best
}

// uniSearch is the best vector found for one reference list.
type uniSearch struct {
	ref  int
	mv   cu.MV
	bits int
	dist uint64
	cost float64
}

// motionSearch finds the uni- and bi-predictive motion of pu with the
// lowest prediction error plus vector rate.
func (s *searcher) motionSearch(l *leaf, pu cu.PU, b motion.Block) puChoice {
	var preds [2][][2]cu.MV
	var best [2]uniSearch
	for li := 0; li < s.numLists; li++ {
		best[li].cost = math.Inf(1)
		preds[li] = make([][2]cu.MV, len(s.sp.Refs[li]))
		for ref := range s.sp.Refs[li] {
			preds[li][ref] = s.mc.AMVP(b, li, ref)
			mv, dist := s.searchRef(pu, li, ref, preds[li][ref])
			bits := s.vectorBits(mv, preds[li][ref]) + refIdxBits(ref, len(s.sp.Refs[li]))
			if c := s.model.MotionCost(dist, bits); c < best[li].cost {
				best[li] = uniSearch{ref: ref, mv: mv, bits: bits, dist: dist, cost: c}
			}
		}
	}

	allowBi := pu.W+pu.H != 12
	dirCost := func(dir int) float64 {
		if s.numLists < 2 {
			return 0
		}
		return s.bitsCost(l.ctx, func(w syntax.Writer) { w.InterDir(dir, l.depth, allowBi) }) / s.model.SqrtLambda
	}
	choice := puChoice{cost: math.Inf(1)}
	for li := 0; li < s.numLists; li++ {
		m := motion.Motion{Dir: uint8(1 << uint(li)), RefIdx: [2]int8{-1, -1}}
		m.RefIdx[li] = int8(best[li].ref)
		m.MV[li] = best[li].mv
		if c := best[li].cost + dirCost(int(m.Dir)); c < choice.cost {
			choice = puChoice{m: m, cost: c}
		}
	}
	if s.numLists == 2 && allowBi {
		m := motion.Motion{Dir: cu.DirBi}
		for li := 0; li < 2; li++ {
			m.RefIdx[li], m.MV[li] = int8(best[li].ref), best[li].mv
		}
		biCost := func(m motion.Motion) float64 {
			bits := 0
			for li := 0; li < 2; li++ {
				r := int(m.RefIdx[li])
				bits += s.vectorBits(m.MV[li], preds[li][r]) + refIdxBits(r, len(s.sp.Refs[li]))
			}
			return s.model.MotionCost(s.motionDist(pu, m), bits)
		}
		cost := biCost(m)
		if s.cfg.BiSearch {
			m, cost = s.refineBi(pu, m, cost, biCost)
		}
		if c := cost + dirCost(cu.DirBi); c < choice.cost {
			choice = puChoice{m: m, cost: c}
		}
	}

	for li := 0; li < 2; li++ {
		if !choice.m.Uses(li) {
			continue
		}
		p := preds[li][choice.m.RefIdx[li]]
		idx := s.bestPredictor(choice.m.MV[li], p)
		choice.mvp[li] = uint8(idx)
		choice.mvd[li] = wrapMV(choice.m.MV[li].Sub(p[idx]))
	}
	return choice
}

// refineBi moves each vector of a bi-predictive candidate around its
// position while the joint cost improves.
func (s *searcher) refineBi(pu cu.PU, m motion.Motion, cost float64, costOf func(motion.Motion) float64) (motion.Motion, float64) {
	for iter := 0; iter < 4; iter++ {
		improved := false
		for li := 1; li >= 0; li-- {
			for _, step := range []int32{4, 1} {
				centre := m.MV[li]
				for _, d := range largeDiamond {
					c := m
					c.MV[li] = cu.MV{X: centre.X + int32(d[0])*step, Y: centre.Y + int32(d[1])*step}
					if !s.inMargin(pu, c.MV[li]) {
						continue
					}
					if v := costOf(c); v < cost {
						m, cost, improved = c, v, true
					}
				}
			}
		}
		if !improved {
			break
		}
	}
	return m, cost
}

// searchRef finds the vector of list l, reference ref for pu: an integer
// search around the best of the predictors and the zero vector, then half
// and quarter sample refinement. It returns the vector and its prediction
// error.
func (s *searcher) searchRef(pu cu.PU, l, ref int, preds [2]cu.MV) (cu.MV, uint64) {
	refPic := s.sp.Refs[l][ref]
	x, y := s.x+pu.X, s.y+pu.Y
	sr := s.cfg.SearchRange
	if refPic.View == s.sp.View {
		sr = rdcost.AdaptiveSearchRange(sr, s.sp.POC-refPic.POC, s.cfg.GOPSize)
	}
	org, rp := s.orig.Plane(cu.Y), refPic.Recon.Plane(cu.Y)

	intCost := func(ix, iy int) float64 {
		mv := cu.MV{X: int32(ix) << 2, Y: int32(iy) << 2}
		return s.model.MotionCost(s.intSAD(org, rp, x, y, ix, iy, pu.W, pu.H), s.vectorBits(mv, preds))
	}
	cx, cy := 0, 0
	best := intCost(0, 0)
	for _, p := range preds {
		c := motion.ClipMV(p, x, y, pu.W, pu.H, s.seq.Width, s.seq.Height, searchMargin)
		ix, iy := int((c.X+2)>>2), int((c.Y+2)>>2)
		if v := intCost(ix, iy); v < best {
			best, cx, cy = v, ix, iy
		}
	}
	ox, oy := cx, cy
	try := func(ix, iy int) bool {
		if mathutil.Abs(ix-ox) > sr || mathutil.Abs(iy-oy) > sr ||
			!s.inMargin(pu, cu.MV{X: int32(ix) << 2, Y: int32(iy) << 2}) {
			return false
		}
		if v := intCost(ix, iy); v < best {
			best, cx, cy = v, ix, iy
			return true
		}
		return false
	}
	if s.cfg.Search == SearchFull {
		for dy := -sr; dy <= sr; dy++ {
			for dx := -sr; dx <= sr; dx++ {
				try(ox+dx, oy+dy)
			}
		}
	} else {
		for dist := 1; dist <= sr; dist <<= 1 {
			for _, d := range largeDiamond {
				try(ox+d[0]*dist, oy+d[1]*dist)
			}
		}
		for moved := true; moved; {
			moved = false
			bx, by := cx, cy
			for _, d := range smallDiamond {
				moved = try(bx+d[0], by+d[1]) || moved
			}
		}
	}

	mv := cu.MV{X: int32(cx) << 2, Y: int32(cy) << 2}
	m := motion.Motion{Dir: uint8(1 << uint(l)), RefIdx: [2]int8{-1, -1}}
	m.RefIdx[l] = int8(ref)
	m.MV[l] = mv
	dist := s.motionDist(pu, m)
	cost := s.model.MotionCost(dist, s.vectorBits(mv, preds))
	for _, step := range []int32{2, 1} {
		centre := mv
		for _, d := range largeDiamond {
			c := cu.MV{X: centre.X + int32(d[0])*step, Y: centre.Y + int32(d[1])*step}
			if !s.inMargin(pu, c) {
				continue
			}
			m.MV[l] = c
			dd := s.motionDist(pu, m)
			if v := s.model.MotionCost(dd, s.vectorBits(c, preds)); v < cost {
				mv, dist, cost = c, dd, v
			}
		}
	}
	return mv, dist
}

// inMargin reports whether pu displaced by mv stays within the search
// margin around the picture.
func (s *searcher) inMargin(pu cu.PU, mv cu.MV) bool {
	return motion.ClipMV(mv, s.x+pu.X, s.y+pu.Y, pu.W, pu.H, s.seq.Width, s.seq.Height, searchMargin) == mv
}

// intSAD returns the SAD of the block at (x, y) against the reference
// displaced by whole samples, reading beyond the edges from the padding.
func (s *searcher) intSAD(org, ref *picture.Plane, x, y, dx, dy, w, h int) uint64 {
	rx, ry := x+dx, y+dy
	if rx >= 0 && ry >= 0 && rx+w <= ref.Width && ry+h <= ref.Height {
		return rdcost.SAD(rdcost.Block{P: org, X: x, Y: y}, rdcost.Block{P: ref, X: rx, Y: ry}, w, h)
	}
	var sad uint64
	for j := 0; j < h; j++ {
		row := org.Row(x, y+j, w)
		for i, v := range row {
			sad += uint64(mathutil.Abs(int32(v) - int32(ref.Clamped(rx+i, ry+j))))
		}
	}
	return sad
}

// motionDist predicts the luma of pu with m and returns its error against
// the source, by SATD when Hadamard motion estimation is on.
func (s *searcher) motionDist(pu cu.PU, m motion.Motion) uint64 {
	x, y := s.x+pu.X, s.y+pu.Y
	n := pu.W * pu.H
	var used []int
	for li := 0; li < 2; li++ {
		if !m.Uses(li) {
			continue
		}
		ref := s.sp.Refs[li][m.RefIdx[li]].Recon.Plane(cu.Y)
		predict.Interp(ref, cu.Y, x, y, pu.W, pu.H, m.MV[li], s.seq.BitDepth, s.ibuf[len(used)][:n])
		used = append(used, li)
	}
	if len(used) == 2 {
		predict.StoreBi(s.tmp, 0, 0, pu.W, pu.H, s.ibuf[0][:n], s.ibuf[1][:n], s.seq.BitDepth)
	} else {
		predict.StoreUni(s.tmp, 0, 0, pu.W, pu.H, s.ibuf[0][:n], s.seq.BitDepth)
	}
	a := rdcost.Block{P: s.tmp}
	b := rdcost.Block{P: s.orig.Plane(cu.Y), X: x, Y: y}
	if s.cfg.HadamardME {
		return rdcost.SATD(a, b, pu.W, pu.H)
	}
	return rdcost.SAD(a, b, pu.W, pu.H)
}

// bestPredictor returns the predictor index that codes mv cheapest.
func (s *searcher) bestPredictor(mv cu.MV, preds [2]cu.MV) int {
	if mvBits(mv.Sub(preds[1])) < mvBits(mv.Sub(preds[0])) {
		return 1
	}
	return 0
}

// vectorBits approximates the bits of mv with its cheapest predictor.
func (s *searcher) vectorBits(mv cu.MV, preds [2]cu.MV) int {
	return mvBits(mv.Sub(preds[s.bestPredictor(mv, preds)])) + 1
}

func mvBits(d cu.MV) int {
	return componentBits(d.X) + componentBits(d.Y)
}

// componentBits is the length of the signed Exp-Golomb code of v, the
// motion search estimate of a difference component.
func componentBits(v int32) int {
	u := uint32(v) << 1
	if v <= 0 {
		u = uint32(-v)<<1 + 1
	}
	n := 1
	for u != 1 {
		u >>= 1
		n += 2
	}
	return n
}

// refIdxBits is the length of the truncated unary reference index.
func refIdxBits(ref, numRef int) int {
	switch {
	case numRef <= 1:
		return 0
	case ref == numRef-1:
		return ref
	}
	return ref + 1
}
