package slice

import (
	"github.com/nicolegarcia/MV-HEVC/internal/cu"
	"github.com/nicolegarcia/MV-HEVC/internal/syntax"
)

// qpState is the QP bookkeeping of one quantisation group, which is a CTU.
type qpState struct {
	pred  int  // predicted QP of the group
	qp    int  // QP the group is coded with
	coded bool // cu_qp_delta already signalled
}

// writeCTU codes the coding quadtree of the CTU bound to c.
func (c *ctuCtx) writeCTU(w syntax.Writer, qs *qpState) {
	c.writeTree(w, 0, 0, qs)
}

func (c *ctuCtx) writeTree(w syntax.Writer, abs, depth int, qs *qpState) {
	if !c.inside(abs, depth) {
		return
	}
	split := int(c.d.Parts[abs].Depth) > depth
	if c.fullyInside(abs, depth) && c.seq.Log2CTU-depth > c.seq.Log2MinCU {
		w.SplitFlag(split, c.splitCtx(abs, depth))
	}
	if split {
		q := c.geo.PartsAtDepth(depth + 1)
		for i := 0; i < 4; i++ {
			c.writeTree(w, abs+i*q, depth+1, qs)
		}
		return
	}
	c.writeCU(w, abs, depth, qs)
}

func (c *ctuCtx) partInfo(intra bool, log2 int) syntax.PartModeInfo {
	return syntax.PartModeInfo{Intra: intra, AtMinCU: log2 == c.seq.Log2MinCU, Log2CU: log2, AMP: c.seq.AMP}
}

// writeCU codes one coding unit.
func (c *ctuCtx) writeCU(w syntax.Writer, abs, depth int, qs *qpState) {
	p := &c.d.Parts[abs]
	log2 := c.seq.Log2CTU - depth
	if !c.intra {
		w.SkipFlag(p.Skip, c.skipCtx(abs))
	}
	if p.Skip {
		if c.maxMerge > 1 {
			w.MergeIdx(int(p.MergeIdx), c.maxMerge)
		}
		if c.icCoded(abs) {
			w.ICFlag(p.IC)
		}
		return
	}
	intra := p.PredMode == cu.ModeIntra
	if !c.intra {
		w.PredMode(intra)
	}
	w.PartMode(p.PartSize, c.partInfo(intra, log2))
	pus := c.geo.PUs(p.PartSize, abs, log2)
	if intra {
		modes := make([]int, len(pus))
		for i, pu := range pus {
			modes[i] = int(c.d.Parts[pu.AbsPart].IntraLuma)
		}
		w.IntraLumaModes(modes, c.mpmFunc(pus))
		w.IntraChromaMode(int(p.IntraChroma))
	} else {
		for _, pu := range pus {
			c.writePU(w, pu, depth)
		}
		if c.icCoded(abs) {
			w.ICFlag(p.IC)
		}
		if !(p.PartSize == cu.Part2Nx2N && p.Merge) {
			w.RootCbf(p.Coded)
		}
		if !p.Coded {
			return
		}
	}
	c.writeTT(w, abs, abs, log2, 0, false, false, 0, qs)
}

func (c *ctuCtx) writePU(w syntax.Writer, pu cu.PU, depth int) {
	p := &c.d.Parts[pu.AbsPart]
	w.MergeFlag(p.Merge)
	if p.Merge {
		if c.maxMerge > 1 {
			w.MergeIdx(int(p.MergeIdx), c.maxMerge)
		}
		return
	}
	if c.numLists == 2 {
		w.InterDir(int(p.InterDir), depth, pu.W+pu.H != 12)
	}
	for l := 0; l < c.numLists; l++ {
		if p.InterDir&(1<<uint(l)) == 0 {
			continue
		}
		w.RefIdx(int(p.RefIdx[l]), len(c.sp.Refs[l]))
		w.Mvd(p.MVD[l])
		w.MvpIdx(int(p.MVPIdx[l]))
	}
}

// splitCoded reports whether split_transform_flag is signalled for a node.
func (c *ctuCtx) splitCoded(log2, trDepth int, nxn bool) bool {
	maxDepth := c.seq.MaxTUDepth
	if nxn {
		maxDepth++
	}
	return log2 <= c.seq.Log2MaxTU && log2 > 2 && trDepth < maxDepth && !(nxn && trDepth == 0)
}

// splitInferred reports whether an unsignalled node splits.
func (c *ctuCtx) splitInferred(log2, trDepth int, nxn bool) bool {
	return log2 > c.seq.Log2MaxTU || (nxn && trDepth == 0)
}

// tuParts returns the units covered by a TU of size 1<<log2.
func tuParts(log2 int) int {
	return 1 << uint(2*(log2-cu.MinPartLog2))
}

// writeTT codes the transform tree node at abs. parentCb and parentCr are
// the chroma flags of the parent; blk is the index of the node among its
// siblings.
func (c *ctuCtx) writeTT(w syntax.Writer, cuAbs, abs, log2, trDepth int, parentCb, parentCr bool, blk int, qs *qpState) {
	d := c.d
	p := &d.Parts[cuAbs]
	intra := p.PredMode == cu.ModeIntra
	nxn := intra && p.PartSize == cu.PartNxN
	split := int(d.Parts[abs].TrIdx) > trDepth
	if c.splitCoded(log2, trDepth, nxn) {
		w.SplitTransform(split, log2)
	}
	cb, cr := parentCb, parentCr
	if log2 > 2 {
		cb, cr = false, false
		if trDepth == 0 || parentCb {
			cb = d.CbfAt(cu.Cb, abs, trDepth)
			w.CbfChroma(cb, trDepth)
		}
		if trDepth == 0 || parentCr {
			cr = d.CbfAt(cu.Cr, abs, trDepth)
			w.CbfChroma(cr, trDepth)
		}
	}
	if split {
		q := tuParts(log2 - 1)
		for i := 0; i < 4; i++ {
			c.writeTT(w, cuAbs, abs+i*q, log2-1, trDepth+1, cb, cr, i, qs)
		}
		return
	}
	y := d.CbfAt(cu.Y, abs, trDepth)
	if intra || trDepth != 0 || cb || cr {
		w.CbfLuma(y, trDepth)
	}
	if (y || cb || cr) && c.seq.CUQPDelta && !qs.coded {
		w.QPDelta(qs.qp - qs.pred)
		qs.coded = true
	}
	if y {
		w.Residual(d.CoeffSlice(cu.Y, abs, log2), log2, cu.Y, c.scanFor(cu.Y, cuAbs, abs, log2), c.seq.SignHiding)
	}
	switch {
	case log2 > 2:
		c.writeChroma(w, cuAbs, abs, log2-1, cb, cr)
	case blk == 3:
		c.writeChroma(w, cuAbs, abs-3, 2, cb, cr)
	}
}

func (c *ctuCtx) writeChroma(w syntax.Writer, cuAbs, abs, log2 int, cb, cr bool) {
	for comp, coded := range [3]bool{false, cb, cr} {
		if !coded {
			continue
		}
		k := cu.Comp(comp)
		w.Residual(c.d.CoeffSlice(k, abs, log2), log2, k, c.scanFor(k, cuAbs, abs, log2), c.seq.SignHiding)
	}
}
