package slice

import (
	"github.com/nicolegarcia/MV-HEVC/internal/cabac"
	"github.com/nicolegarcia/MV-HEVC/internal/cu"
	"github.com/nicolegarcia/MV-HEVC/internal/picture"
	"github.com/nicolegarcia/MV-HEVC/internal/rdcost"
	"github.com/nicolegarcia/MV-HEVC/internal/syntax"
	"github.com/nicolegarcia/MV-HEVC/internal/tquant"
)

// cbfRates returns the cost of a zero and a one coded block flag.
func (s *searcher) cbfRates(ctx *cabac.ContextSet, comp cu.Comp, trDepth int) [2]uint32 {
	if s.est.useCAVLC {
		return [2]uint32{cabac.FracOne, cabac.FracOne}
	}
	return syntax.CbfRates(ctx, comp, trDepth, false)
}

// codeTU transforms and quantises the residual of one block against the
// prediction held in the reconstruction, then reconstructs it. It reports
// whether the block is coded and its estimated rate. A block whose
// residual does not pay for itself is dropped and keeps the prediction.
func (s *searcher) codeTU(ctx cabac.ContextSet, comp cu.Comp, cuAbs, abs, log2, trDepth int, intra bool) (bool, uint64) {
	px, py := s.geo.PartXY(abs)
	sh := picture.ChromaShift(comp)
	x, y := (s.x+px)>>sh, (s.y+py)>>sh
	n := 1 << uint(log2)
	org, rec := s.orig.Plane(comp), s.pic.Recon.Plane(comp)

	resid := s.resid[:n*n]
	for j := 0; j < n; j++ {
		o, r := org.Row(x, y+j, n), rec.Row(x, y+j, n)
		for i := range o {
			resid[j*n+i] = int32(o[i]) - int32(r[i])
		}
	}
	coeff := s.coeff[:n*n]
	tquant.Forward(resid, log2, s.seq.BitDepth, intra && comp == cu.Y && log2 == 2, coeff)

	levels := s.work.CoeffSlice(comp, abs, log2)
	scan := s.scanFor(comp, cuAbs, abs, log2)
	b := s.tuBlock(comp, log2, s.qp, intra, scan)
	lambda := s.model.Lambda
	if comp.IsChroma() {
		lambda = s.model.ChromaLambda()
	}
	cbf := s.cbfRates(&ctx, comp, trDepth)
	var rd *tquant.RDInput
	if s.cfg.RDOQ {
		rd = &tquant.RDInput{Lambda: lambda, Rates: syntax.EstimateRates(&ctx, log2, comp, scan), Cbf: cbf}
	}
	if s.q.Quantize(coeff, levels, &b, rd) == 0 {
		clear(levels)
		return false, uint64(cbf[0])
	}

	saved := s.saved[:n*n]
	for j := 0; j < n; j++ {
		copy(saved[j*n:(j+1)*n], rec.Row(x, y+j, n))
	}
	ob := rdcost.Block{P: org, X: x, Y: y}
	rb := rdcost.Block{P: rec, X: x, Y: y}
	dist0 := rdcost.SSE(ob, rb, n, n)
	reconstructTU(s.q, rec, x, y, levels, &b, s.seq.BitDepth)
	dist1 := rdcost.SSE(ob, rb, n, n)

	w := s.est.start(ctx)
	w.Residual(levels, log2, comp, scan, s.seq.SignHiding)
	bits1 := w.FracBits() + uint64(cbf[1])
	cost0 := float64(dist0) + lambda*float64(cbf[0])/cabac.FracOne
	cost1 := float64(dist1) + lambda*float64(bits1)/cabac.FracOne
	if cost0 <= cost1 {
		for j := 0; j < n; j++ {
			copy(rec.Row(x, y+j, n), saved[j*n:(j+1)*n])
		}
		clear(levels)
		return false, uint64(cbf[0])
	}
	return true, bits1
}

// setCbf marks component comp coded at trDepth over n units from abs.
func (s *searcher) setCbf(comp cu.Comp, abs, n, trDepth int) {
	s.work.SetRange(abs, n, func(p *cu.Part) { p.Cbf[comp] |= 1 << uint(trDepth) })
}

// clearCbf drops the flags of transform depths trDepth and below.
func (s *searcher) clearCbf(abs, n, trDepth int, comps ...cu.Comp) {
	keep := uint8(1)<<uint(trDepth) - 1
	s.work.SetRange(abs, n, func(p *cu.Part) {
		for _, c := range comps {
			p.Cbf[c] &= keep
		}
	})
}

// finishResidual sets the flags of the split transform nodes from their
// leaves and the coded flag of the CU.
func (s *searcher) finishResidual(abs, log2, n int) {
	f := s.propagateCbf(abs, log2, 0)
	coded := f[cu.Y] || f[cu.Cb] || f[cu.Cr]
	s.work.SetRange(abs, n, func(p *cu.Part) { p.Coded = coded })
}

func (s *searcher) propagateCbf(abs, log2, trDepth int) [3]bool {
	d := s.work
	if int(d.Parts[abs].TrIdx) == trDepth {
		return [3]bool{d.CbfAt(cu.Y, abs, trDepth), d.CbfAt(cu.Cb, abs, trDepth), d.CbfAt(cu.Cr, abs, trDepth)}
	}
	var f [3]bool
	q := tuParts(log2 - 1)
	for i := 0; i < 4; i++ {
		c := s.propagateCbf(abs+i*q, log2-1, trDepth+1)
		for k := range f {
			f[k] = f[k] || c[k]
		}
	}
	if log2 == 3 {
		f[cu.Cb], f[cu.Cr] = d.CbfAt(cu.Cb, abs, trDepth), d.CbfAt(cu.Cr, abs, trDepth)
	}
	for k, on := range f {
		if on {
			s.setCbf(cu.Comp(k), abs, tuParts(log2), trDepth)
		}
	}
	return f
}

// codeInter codes the residual of the inter CU of l against the
// prediction saved in s.pred, choosing the transform tree by cost.
func (s *searcher) codeInter(l *leaf) {
	s.work.SetRange(l.abs, l.n, func(p *cu.Part) {
		p.Cbf = [3]uint8{}
		p.TrIdx = 0
	})
	s.interTT(l, l.abs, l.log2, 0)
	s.finishResidual(l.abs, l.log2, l.n)
}

func (s *searcher) interTT(l *leaf, abs, log2, trDepth int) float64 {
	if s.splitInferred(log2, trDepth, false) {
		return s.interSplit(l, abs, log2, trDepth)
	}
	cost := s.interLeaf(l, abs, log2, trDepth)
	if !s.splitCoded(log2, trDepth, false) {
		return cost
	}
	cost += s.bitsCost(l.ctx, func(w syntax.Writer) { w.SplitTransform(false, log2) })

	n := tuParts(log2)
	px, py := s.geo.PartXY(abs)
	size := 1 << uint(log2)
	s.tuData[trDepth].CopyCU(s.work, abs, n)
	s.tuRecon[trDepth].CopyBlock(s.pic.Recon, s.x+px, s.y+py, px, py, size, size)
	s.pic.Recon.CopyBlock(s.pred, px, py, s.x+px, s.y+py, size, size)

	split := s.interSplit(l, abs, log2, trDepth)
	split += s.bitsCost(l.ctx, func(w syntax.Writer) { w.SplitTransform(true, log2) })
	if split < cost {
		return split
	}
	s.work.CopyCU(s.tuData[trDepth], abs, n)
	s.pic.Recon.CopyBlock(s.tuRecon[trDepth], px, py, s.x+px, s.y+py, size, size)
	return cost
}

func (s *searcher) interLeaf(l *leaf, abs, log2, trDepth int) float64 {
	n := tuParts(log2)
	s.work.SetRange(abs, n, func(p *cu.Part) { p.TrIdx = uint8(trDepth) })
	s.clearCbf(abs, n, trDepth, cu.Y, cu.Cb, cu.Cr)
	coded, bits := s.codeTU(l.ctx, cu.Y, l.abs, abs, log2, trDepth, false)
	if coded {
		s.setCbf(cu.Y, abs, n, trDepth)
	}
	if log2 > 2 {
		for _, c := range []cu.Comp{cu.Cb, cu.Cr} {
			coded, b := s.codeTU(l.ctx, c, l.abs, abs, log2-1, trDepth, false)
			bits += b
			if coded {
				s.setCbf(c, abs, n, trDepth)
			}
		}
	}
	return s.model.Cost(s.blockDist(abs, log2, log2 > 2, rdcost.MetricSSE), bits)
}

func (s *searcher) interSplit(l *leaf, abs, log2, trDepth int) float64 {
	n := tuParts(log2)
	s.clearCbf(abs, n, trDepth, cu.Y, cu.Cb, cu.Cr)
	cost := 0.0
	if log2 == 3 {
		var bits uint64
		for _, c := range []cu.Comp{cu.Cb, cu.Cr} {
			coded, b := s.codeTU(l.ctx, c, l.abs, abs, 2, trDepth, false)
			bits += b
			if coded {
				s.setCbf(c, abs, n, trDepth)
			}
		}
		cost += s.model.Cost(s.chromaDist(abs, 2), bits)
	}
	q := tuParts(log2 - 1)
	for i := 0; i < 4; i++ {
		cost += s.interTT(l, abs+i*q, log2-1, trDepth+1)
	}
	return cost
}

// chromaDist returns the weighted SSE of the chroma blocks of size
// 1<<log2 at unit abs.
func (s *searcher) chromaDist(abs, log2 int) uint64 {
	px, py := s.geo.PartXY(abs)
	x, y, n := (s.x+px)>>1, (s.y+py)>>1, 1<<uint(log2)
	var d uint64
	for c := cu.Cb; c <= cu.Cr; c++ {
		d += rdcost.SSE(rdcost.Block{P: s.orig.Plane(c), X: x, Y: y}, rdcost.Block{P: s.pic.Recon.Plane(c), X: x, Y: y}, n, n)
	}
	return s.model.ChromaDist(d)
}

// codeIntra predicts and codes the intra CU of l. luma and chroma select
// the components coded; the other one keeps its reconstruction and flags.
func (s *searcher) codeIntra(l *leaf, luma, chroma bool) error {
	nxn := s.work.Parts[l.abs].PartSize == cu.PartNxN
	if luma {
		s.clearCbf(l.abs, l.n, 0, cu.Y)
	}
	if chroma {
		s.clearCbf(l.abs, l.n, 0, cu.Cb, cu.Cr)
	}
	if _, err := s.intraTT(l, l.abs, l.log2, 0, nxn, luma, chroma); err != nil {
		return err
	}
	s.finishResidual(l.abs, l.log2, l.n)
	return nil
}

// intraTT walks the transform tree of an intra CU and returns the luma
// rate. Intra trees only split where the split is inferred.
func (s *searcher) intraTT(l *leaf, abs, log2, trDepth int, nxn, luma, chroma bool) (uint64, error) {
	if s.splitInferred(log2, trDepth, nxn) {
		var bits uint64
		q := tuParts(log2 - 1)
		for i := 0; i < 4; i++ {
			b, err := s.intraTT(l, abs+i*q, log2-1, trDepth+1, nxn, luma, chroma)
			if err != nil {
				return 0, err
			}
			bits += b
		}
		if chroma && log2 == 3 {
			return bits, s.intraChroma(l, abs, 2, trDepth)
		}
		return bits, nil
	}
	n := tuParts(log2)
	s.work.SetRange(abs, n, func(p *cu.Part) { p.TrIdx = uint8(trDepth) })
	var bits uint64
	if luma {
		var err error
		if bits, err = s.intraLuma(l, abs, log2, trDepth); err != nil {
			return 0, err
		}
	}
	if chroma && log2 > 2 {
		return bits, s.intraChroma(l, abs, log2-1, trDepth)
	}
	return bits, nil
}

// intraLuma predicts and codes one luma TU and returns its rate.
func (s *searcher) intraLuma(l *leaf, abs, log2, trDepth int) (uint64, error) {
	px, py := s.geo.PartXY(abs)
	if err := s.predictIntra(cu.Y, s.x+px, s.y+py, 1<<uint(log2), int(s.work.Parts[abs].IntraLuma), abs); err != nil {
		return 0, err
	}
	coded, bits := s.codeTU(l.ctx, cu.Y, l.abs, abs, log2, trDepth, true)
	if coded {
		s.setCbf(cu.Y, abs, tuParts(log2), trDepth)
	}
	return bits, nil
}

// intraChroma predicts and codes the chroma blocks of size 1<<log2 of the
// transform node at abs.
func (s *searcher) intraChroma(l *leaf, abs, log2, trDepth int) error {
	px, py := s.geo.PartXY(abs)
	x, y := (s.x+px)>>1, (s.y+py)>>1
	mode := s.chromaMode(l.abs)
	for _, c := range []cu.Comp{cu.Cb, cu.Cr} {
		if err := s.predictIntra(c, x, y, 1<<uint(log2), mode, abs); err != nil {
			return err
		}
		if coded, _ := s.codeTU(l.ctx, c, l.abs, abs, log2, trDepth, true); coded {
			s.setCbf(c, abs, tuParts(log2+1), trDepth)
		}
	}
	return nil
}
