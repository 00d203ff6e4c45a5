package slice

import (
	"github.com/pkg/errors"

	"github.com/nicolegarcia/MV-HEVC/internal/cu"
	"github.com/nicolegarcia/MV-HEVC/internal/motion"
	"github.com/nicolegarcia/MV-HEVC/internal/syntax"
	"github.com/nicolegarcia/MV-HEVC/internal/tquant"
)

// ctuParser parses the CTUs of a segment into the picture arena and
// reconstructs them as it goes.
type ctuParser struct {
	*ctuCtx
	r syntax.Reader
	q *tquant.Quantizer
}

func (c *ctuParser) fail() error {
	if err := c.r.Err(); err != nil {
		return errors.Wrapf(err, "CTU %d", c.addr)
	}
	return nil
}

// decodeCTU parses and reconstructs the CTU bound to c.
func (c *ctuParser) decodeCTU(qs *qpState) error {
	c.d.InitCU(0, c.geo.NumParts, 0, qs.pred)
	return c.decodeTree(0, 0, qs)
}

func (c *ctuParser) decodeTree(abs, depth int, qs *qpState) error {
	if !c.inside(abs, depth) {
		return nil
	}
	log2 := c.seq.Log2CTU - depth
	split := log2 > c.seq.Log2MinCU
	if split && c.fullyInside(abs, depth) {
		split = c.r.SplitFlag(c.splitCtx(abs, depth))
		if err := c.fail(); err != nil {
			return err
		}
	}
	if !split {
		return c.decodeCU(abs, depth, qs)
	}
	q := c.geo.PartsAtDepth(depth + 1)
	for i := 0; i < 4; i++ {
		if err := c.decodeTree(abs+i*q, depth+1, qs); err != nil {
			return err
		}
	}
	return nil
}

func (c *ctuParser) decodeCU(abs, depth int, qs *qpState) error {
	d := c.d
	n := c.geo.PartsAtDepth(depth)
	log2 := c.seq.Log2CTU - depth
	d.InitCU(abs, n, depth, qs.qp)

	if !c.intra && c.r.SkipFlag(c.skipCtx(abs)) {
		d.SetRange(abs, n, func(p *cu.Part) {
			p.PredMode = cu.ModeInter
			p.PartSize = cu.Part2Nx2N
			p.Skip = true
			p.Merge = true
		})
		pu := c.geo.PUs(cu.Part2Nx2N, abs, log2)[0]
		dv := c.mc.NBDV(c.cuBlock(abs, log2))
		d.SetRange(abs, n, func(p *cu.Part) { p.DV = dv.DV })
		if err := c.decodeMerge(pu, 0, cu.Part2Nx2N, dv); err != nil {
			return err
		}
		if c.icCoded(abs) {
			ic := c.r.ICFlag()
			d.SetRange(abs, n, func(p *cu.Part) { p.IC = ic })
		}
		if err := c.fail(); err != nil {
			return err
		}
		return c.predictCU(abs, log2)
	}

	intra := c.intra || c.r.PredMode()
	part := c.r.PartMode(c.partInfo(intra, log2))
	if err := c.fail(); err != nil {
		return err
	}
	if !intra && part == cu.PartNxN {
		return errors.Wrapf(syntax.ErrConformance, "CTU %d: inter NxN partitioning", c.addr)
	}
	mode := cu.ModeInter
	if intra {
		mode = cu.ModeIntra
	}
	d.SetRange(abs, n, func(p *cu.Part) {
		p.PredMode = mode
		p.PartSize = part
	})
	pus := c.geo.PUs(part, abs, log2)

	if intra {
		modes := c.r.IntraLumaModes(len(pus), c.mpmFunc(pus))
		chroma := c.r.IntraChromaMode()
		if err := c.fail(); err != nil {
			return err
		}
		for i, pu := range pus {
			m := uint8(modes[i])
			d.SetPU(pu, func(p *cu.Part) { p.IntraLuma = m })
		}
		d.SetRange(abs, n, func(p *cu.Part) { p.IntraChroma = uint8(chroma) })
	} else {
		dv := c.mc.NBDV(c.cuBlock(abs, log2))
		d.SetRange(abs, n, func(p *cu.Part) { p.DV = dv.DV })
		for i, pu := range pus {
			if err := c.decodePU(pu, i, part, depth, dv); err != nil {
				return err
			}
		}
		if c.icCoded(abs) {
			ic := c.r.ICFlag()
			d.SetRange(abs, n, func(p *cu.Part) { p.IC = ic })
		}
		rqt := true
		if !(part == cu.Part2Nx2N && d.Parts[abs].Merge) {
			rqt = c.r.RootCbf()
		}
		if err := c.fail(); err != nil {
			return err
		}
		if err := c.predictCU(abs, log2); err != nil {
			return err
		}
		if !rqt {
			return nil
		}
	}
	coded, err := c.decodeTT(abs, n, abs, log2, 0, false, false, 0, qs)
	if err != nil {
		return err
	}
	d.SetRange(abs, n, func(p *cu.Part) { p.Coded = coded })
	return nil
}

func (c *ctuParser) decodeMerge(pu cu.PU, idx int, part cu.PartSize, dv motion.Disparity) error {
	mi := 0
	if c.maxMerge > 1 {
		mi = c.r.MergeIdx(c.maxMerge)
	}
	if err := c.fail(); err != nil {
		return err
	}
	cands := c.mc.MergeCandidates(c.motionBlock(pu, idx, part), dv)
	if mi >= len(cands) {
		return errors.Wrapf(syntax.ErrConformance, "CTU %d: merge index %d of %d", c.addr, mi, len(cands))
	}
	cand := cands[mi]
	c.d.SetPU(pu, func(p *cu.Part) {
		p.Merge = true
		p.MergeIdx = uint8(mi)
		cand.Motion.Store(p)
	})
	return nil
}

func (c *ctuParser) decodePU(pu cu.PU, idx int, part cu.PartSize, depth int, dv motion.Disparity) error {
	if c.r.MergeFlag() {
		return c.decodeMerge(pu, idx, part, dv)
	}
	dir := cu.DirL0
	if c.numLists == 2 {
		dir = c.r.InterDir(depth, pu.W+pu.H != 12)
	}
	m := motion.Motion{Dir: uint8(dir), RefIdx: [2]int8{-1, -1}}
	var mvd [2]cu.MV
	var mvp [2]uint8
	b := c.motionBlock(pu, idx, part)
	for l := 0; l < c.numLists; l++ {
		if !m.Uses(l) {
			continue
		}
		ref := c.r.RefIdx(len(c.sp.Refs[l]))
		mvd[l] = c.r.Mvd()
		mvp[l] = uint8(c.r.MvpIdx())
		if err := c.fail(); err != nil {
			return err
		}
		preds := c.mc.AMVP(b, l, ref)
		m.RefIdx[l] = int8(ref)
		m.MV[l] = wrapMV(preds[mvp[l]].Add(mvd[l]))
	}
	c.d.SetPU(pu, func(p *cu.Part) {
		m.Store(p)
		p.MVD = mvd
		p.MVPIdx = mvp
	})
	return nil
}

// decodeTT parses the transform tree node at abs and reconstructs its
// residual. It reports whether any block of the node is coded.
func (c *ctuParser) decodeTT(cuAbs, cuParts, abs, log2, trDepth int, parentCb, parentCr bool, blk int, qs *qpState) (bool, error) {
	d := c.d
	p := &d.Parts[cuAbs]
	intra := p.PredMode == cu.ModeIntra
	nxn := intra && p.PartSize == cu.PartNxN
	split := c.splitInferred(log2, trDepth, nxn)
	if c.splitCoded(log2, trDepth, nxn) {
		split = c.r.SplitTransform(log2)
	}
	cb, cr := parentCb, parentCr
	if log2 > 2 {
		cb, cr = false, false
		if trDepth == 0 || parentCb {
			cb = c.r.CbfChroma(trDepth)
		}
		if trDepth == 0 || parentCr {
			cr = c.r.CbfChroma(trDepth)
		}
	}
	if err := c.fail(); err != nil {
		return false, err
	}
	n := tuParts(log2)
	setCbf := func(comp cu.Comp, on bool) {
		if on {
			d.SetRange(abs, n, func(p *cu.Part) { p.Cbf[comp] |= 1 << uint(trDepth) })
		}
	}
	if log2 > 2 {
		setCbf(cu.Cb, cb)
		setCbf(cu.Cr, cr)
	}
	if split {
		anyCoded := cb || cr
		q := tuParts(log2 - 1)
		for i := 0; i < 4; i++ {
			coded, err := c.decodeTT(cuAbs, cuParts, abs+i*q, log2-1, trDepth+1, cb, cr, i, qs)
			if err != nil {
				return false, err
			}
			anyCoded = anyCoded || coded
		}
		return anyCoded, nil
	}

	d.SetRange(abs, n, func(p *cu.Part) { p.TrIdx = uint8(trDepth) })
	y := true
	if intra || trDepth != 0 || cb || cr {
		y = c.r.CbfLuma(trDepth)
	}
	setCbf(cu.Y, y)
	if (y || cb || cr) && c.seq.CUQPDelta && !qs.coded {
		dqp := c.r.QPDelta()
		if err := c.fail(); err != nil {
			return false, err
		}
		qp := qs.pred + dqp
		if minQP := -6 * (c.seq.BitDepth - 8); qp < minQP || qp > 51 {
			return false, errors.Wrapf(syntax.ErrConformance, "CTU %d: QP %d", c.addr, qp)
		}
		qs.qp, qs.coded = qp, true
		d.SetRange(cuAbs, cuParts, func(p *cu.Part) { p.QP = int8(qp) })
	}

	px, py := c.geo.PartXY(abs)
	x, yy := c.x+px, c.y+py
	if intra {
		if err := c.predictIntra(cu.Y, x, yy, 1<<uint(log2), int(d.Parts[abs].IntraLuma), abs); err != nil {
			return false, err
		}
	}
	if y {
		if err := c.decodeBlock(cu.Y, cuAbs, abs, log2, x, yy, intra, qs); err != nil {
			return false, err
		}
	}
	switch {
	case log2 > 2:
		if err := c.decodeChroma(cuAbs, abs, log2-1, cb, cr, intra, qs); err != nil {
			return false, err
		}
	case blk == 3:
		if err := c.decodeChroma(cuAbs, abs-3, 2, cb, cr, intra, qs); err != nil {
			return false, err
		}
	}
	return y || cb || cr, nil
}

func (c *ctuParser) decodeChroma(cuAbs, abs, log2 int, cb, cr, intra bool, qs *qpState) error {
	px, py := c.geo.PartXY(abs)
	x, y := (c.x+px)>>1, (c.y+py)>>1
	for comp, coded := range [3]bool{false, cb, cr} {
		k := cu.Comp(comp)
		if k == cu.Y {
			continue
		}
		if intra {
			if err := c.predictIntra(k, x, y, 1<<uint(log2), c.chromaMode(cuAbs), abs); err != nil {
				return err
			}
		}
		if coded {
			if err := c.decodeBlock(k, cuAbs, abs, log2, x, y, intra, qs); err != nil {
				return err
			}
		}
	}
	return nil
}

// decodeBlock parses the levels of one block and adds its residual to the
// prediction at plane position (x, y).
func (c *ctuParser) decodeBlock(comp cu.Comp, cuAbs, abs, log2, x, y int, intra bool, qs *qpState) error {
	levels := c.d.CoeffSlice(comp, abs, log2)
	clear(levels)
	scan := c.scanFor(comp, cuAbs, abs, log2)
	c.r.Residual(levels, log2, comp, scan, c.seq.SignHiding)
	if err := c.fail(); err != nil {
		return err
	}
	b := c.tuBlock(comp, log2, qs.qp, intra, scan)
	reconstructTU(c.q, c.pic.Recon.Plane(comp), x, y, levels, &b, c.seq.BitDepth)
	return nil
}
