package slice

import (
	"math"
	"sort"

	"github.com/nicolegarcia/MV-HEVC/internal/cu"
	"github.com/nicolegarcia/MV-HEVC/internal/predict"
	"github.com/nicolegarcia/MV-HEVC/internal/rdcost"
)

// searchIntra evaluates the intra candidates of the CU of l: 2Nx2N with
// the luma modes kept by the SATD pass, the chroma modes of the best luma
// mode, and NxN at the minimum CU size.
func (s *searcher) searchIntra(l *leaf) error {
	pus := s.initIntra(l, cu.Part2Nx2N)
	cands, err := s.lumaCandidates(pus[0], s.mpmFunc(pus)(0, nil))
	if err != nil {
		return err
	}
	bestMode, bestCost := cands[0], math.Inf(1)
	for _, m := range cands {
		s.setLuma(pus[0], m)
		if err := s.codeIntra(l, true, true); err != nil {
			return err
		}
		if c := s.consider(l); c < bestCost {
			bestMode, bestCost = m, c
		}
	}

	s.setLuma(pus[0], bestMode)
	if err := s.codeIntra(l, true, false); err != nil {
		return err
	}
	for idx := 0; idx < cu.ChromaDM; idx++ {
		s.setChroma(l, idx)
		if err := s.codeIntra(l, false, true); err != nil {
			return err
		}
		s.consider(l)
	}

	if l.log2 == s.seq.Log2MinCU {
		return s.searchIntraNxN(l)
	}
	return nil
}

// searchIntraNxN picks the luma mode of each quarter in coding order, then
// evaluates the chroma modes of the whole CU.
func (s *searcher) searchIntraNxN(l *leaf) error {
	pus := s.initIntra(l, cu.PartNxN)
	mpmOf := s.mpmFunc(pus)
	log2 := l.log2 - 1
	chosen := make([]int, 0, len(pus))
	for i, pu := range pus {
		mpm := mpmOf(i, chosen)
		cands, err := s.lumaCandidates(pu, mpm)
		if err != nil {
			return err
		}
		best, bestCost := cands[0], math.Inf(1)
		for _, m := range cands {
			c, err := s.codeLumaPU(l, pu, log2, m, mpm)
			if err != nil {
				return err
			}
			if c < bestCost {
				best, bestCost = m, c
			}
		}
		if _, err := s.codeLumaPU(l, pu, log2, best, mpm); err != nil {
			return err
		}
		chosen = append(chosen, best)
	}

	for _, idx := range []int{cu.ChromaDM, 0, 1, 2, 3} {
		s.setChroma(l, idx)
		if err := s.codeIntra(l, false, true); err != nil {
			return err
		}
		s.consider(l)
	}
	return nil
}

// codeLumaPU codes the luma of one NxN quarter with mode m and returns its
// cost.
func (s *searcher) codeLumaPU(l *leaf, pu cu.PU, log2, m int, mpm [3]int) (float64, error) {
	s.setLuma(pu, m)
	n := tuParts(log2)
	s.clearCbf(pu.AbsPart, n, 1, cu.Y)
	bits, err := s.intraTT(l, pu.AbsPart, log2, 1, true, true, false)
	if err != nil {
		return 0, err
	}
	return s.model.Cost(s.blockDist(pu.AbsPart, log2, false, rdcost.MetricSSE), bits) +
		s.model.Lambda*float64(modeBits(m, mpm)), nil
}

func (s *searcher) initIntra(l *leaf, part cu.PartSize) []cu.PU {
	s.work.InitCU(l.abs, l.n, l.depth, s.qp)
	s.work.SetRange(l.abs, l.n, func(p *cu.Part) {
		p.PredMode = cu.ModeIntra
		p.PartSize = part
		p.IntraLuma = cu.IntraDC
		p.IntraChroma = cu.ChromaDM
	})
	return s.geo.PUs(part, l.abs, l.log2)
}

func (s *searcher) setLuma(pu cu.PU, m int) {
	s.work.SetPU(pu, func(p *cu.Part) { p.IntraLuma = uint8(m) })
}

func (s *searcher) setChroma(l *leaf, idx int) {
	s.work.SetRange(l.abs, l.n, func(p *cu.Part) { p.IntraChroma = uint8(idx) })
}

// modeBits approximates the bits of a luma mode given the most probable
// modes.
func modeBits(m int, mpm [3]int) int {
	switch m {
	case mpm[0]:
		return 2
	case mpm[1], mpm[2]:
		return 3
	}
	return 6
}

// lumaCandidates ranks every luma mode by the SATD of its prediction of
// the first transform block of pu plus the mode rate, and returns the
// best MaxIntraRD modes followed by the most probable modes not among
// them.
func (s *searcher) lumaCandidates(pu cu.PU, mpm [3]int) ([]int, error) {
	n := min(pu.W, predict.MaxIntraSize, 1<<uint(s.seq.Log2MaxTU))
	x, y := s.x+pu.X, s.y+pu.Y
	type scored struct {
		mode int
		cost float64
	}
	list := make([]scored, 0, cu.NumIntraModes)
	org := rdcost.Block{P: s.orig.Plane(cu.Y), X: x, Y: y}
	rec := rdcost.Block{P: s.pic.Recon.Plane(cu.Y), X: x, Y: y}
	for m := 0; m < cu.NumIntraModes; m++ {
		if err := s.predictIntra(cu.Y, x, y, n, m, pu.AbsPart); err != nil {
			return nil, err
		}
		list = append(list, scored{m, s.model.MotionCost(rdcost.SATD(org, rec, n, n), modeBits(m, mpm))})
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].cost < list[j].cost })

	keep := max(s.cfg.MaxIntraRD, 1)
	out := make([]int, 0, keep+len(mpm))
	seen := make(map[int]bool, keep+len(mpm))
	for _, c := range list[:keep] {
		out = append(out, c.mode)
		seen[c.mode] = true
	}
	for _, m := range mpm {
		if !seen[m] {
			out = append(out, m)
			seen[m] = true
		}
	}
	return out, nil
}
