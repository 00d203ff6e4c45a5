package slice

import (
	"math"

	"github.com/nicolegarcia/MV-HEVC/internal/bitio"
	"github.com/nicolegarcia/MV-HEVC/internal/cabac"
	"github.com/nicolegarcia/MV-HEVC/internal/cu"
	"github.com/nicolegarcia/MV-HEVC/internal/picture"
	"github.com/nicolegarcia/MV-HEVC/internal/rdcost"
	"github.com/nicolegarcia/MV-HEVC/internal/syntax"
	"github.com/nicolegarcia/MV-HEVC/internal/tquant"
)

// estimator measures the rate of candidate syntax without producing output.
type estimator struct {
	counter  cabac.Counter
	bits     bitio.Counter
	sbac     *syntax.SBACWriter
	cavlc    *syntax.CAVLCWriter
	useCAVLC bool
}

func newEstimator(e Entropy) *estimator {
	est := &estimator{useCAVLC: e == EntropyCAVLC}
	est.sbac = syntax.NewSBACWriter(&est.counter, nil, cabac.ContextSet{})
	est.cavlc = syntax.NewCAVLCWriter(&est.bits)
	return est
}

// start returns a writer with a zero count that codes from contexts ctx.
func (e *estimator) start(ctx cabac.ContextSet) syntax.Writer {
	if e.useCAVLC {
		e.bits.Reset()
		return e.cavlc
	}
	e.counter.Reset()
	e.sbac.SetContexts(ctx)
	return e.sbac
}

// searcher decides the coding units of CTUs. It is not safe for concurrent
// use; every wavefront worker owns one.
type searcher struct {
	*ctuCtx
	cfg   *Config
	q     *tquant.Quantizer
	model *rdcost.Model
	est   *estimator
	work  *cu.Data
	orig  *picture.Yuv

	qp int     // QP the CTU is searched with
	qs qpState // QP bookkeeping at the start of the CTU

	// Per CU depth and per transform depth save areas in CTU coordinates.
	bestData  []*cu.Data
	bestRecon []*picture.Yuv
	tuData    []*cu.Data
	tuRecon   []*picture.Yuv

	pred  *picture.Yuv   // inter prediction of the current candidate
	tmp   *picture.Plane // motion search prediction
	resid []int32
	coeff []int32
	saved []int16
	ibuf  [2][]int16
}

func newSearcher(cfg *Config, sc *sliceCtx) *searcher {
	geo := sc.geo
	size := geo.CTUSize()
	s := &searcher{
		cfg:   cfg,
		q:     tquant.NewQuantizer(cfg.QuantOptions()),
		model: rdcost.NewModel(1, 1, cfg.Metric),
		est:   newEstimator(cfg.Entropy),
		work:  cu.NewData(geo),
		pred:  picture.NewYuv(size, size),
		tmp:   picture.NewPlane(size, size),
		resid: make([]int32, 1<<(2*tquant.MaxLog2TrSize)),
		coeff: make([]int32, 1<<(2*tquant.MaxLog2TrSize)),
		saved: make([]int16, 1<<(2*tquant.MaxLog2TrSize)),
		ibuf:  [2][]int16{make([]int16, size*size), make([]int16, size*size)},
	}
	for i := cfg.Log2MinCU; i <= cfg.Log2CTU; i++ {
		s.bestData = append(s.bestData, cu.NewData(geo))
		s.bestRecon = append(s.bestRecon, picture.NewYuv(size, size))
	}
	for i := cu.MinPartLog2; i <= cfg.Log2CTU; i++ {
		s.tuData = append(s.tuData, cu.NewData(geo))
		s.tuRecon = append(s.tuRecon, picture.NewYuv(size, size))
	}
	s.setSlice(sc)
	return s
}

// setSlice points s at the slice the next CTUs belong to.
func (s *searcher) setSlice(sc *sliceCtx) {
	s.ctuCtx = sc.newCTU()
	s.orig = sc.pic.Orig
}

// compressCTU decides CTU addr into the work descriptor and leaves its
// reconstruction in the picture. qs carries the QP predictor and the QP
// chosen for the CTU and is updated to the QP the CTU ends with.
func (s *searcher) compressCTU(addr int, ctx cabac.ContextSet, qs *qpState, lambda float64) error {
	s.bind(addr, s.work)
	s.qp = qs.qp
	s.qs = qpState{pred: qs.pred, qp: qs.qp}
	s.model.SetLambda(lambda, rdcost.ChromaWeight(qs.qp, s.seq.ChromaQPOffset))
	s.work.InitCU(0, s.geo.NumParts, 0, qs.qp)
	if _, _, err := s.compressCU(0, 0, ctx); err != nil {
		return err
	}
	s.fixQP(qs)
	return nil
}

// fixQP gives the CUs preceding the first coded one the predicted QP, as
// the decoder infers it. A CTU without residual keeps the prediction.
func (s *searcher) fixQP(qs *qpState) {
	coded := false
	for _, lf := range s.work.Leaves(s.inside) {
		coded = coded || s.work.Parts[lf.AbsPart].Coded
		qp := qs.pred
		if coded {
			qp = qs.qp
		}
		s.work.SetRange(lf.AbsPart, lf.NumParts, func(p *cu.Part) { p.QP = int8(qp) })
	}
	if !coded {
		qs.qp = qs.pred
	}
}

// compressCU decides the quadtree node at abs and returns its cost and the
// contexts after it.
func (s *searcher) compressCU(abs, depth int, ctx cabac.ContextSet) (float64, cabac.ContextSet, error) {
	log2 := s.seq.Log2CTU - depth
	splittable := log2 > s.seq.Log2MinCU
	full := s.fullyInside(abs, depth)
	best, bestCtx := math.Inf(1), ctx
	if full {
		var err error
		if best, bestCtx, err = s.leafSearch(abs, depth, ctx, splittable); err != nil {
			return 0, ctx, err
		}
	}
	if !splittable {
		return best, bestCtx, nil
	}

	cost, cur := 0.0, ctx
	if full {
		w := s.est.start(ctx)
		w.SplitFlag(true, s.splitCtx(abs, depth))
		cost, cur = s.model.Cost(0, w.FracBits()), w.Contexts()
	}
	q := s.geo.PartsAtDepth(depth + 1)
	for i := 0; i < 4 && cost < best; i++ {
		if !s.inside(abs+i*q, depth+1) {
			continue
		}
		c, end, err := s.compressCU(abs+i*q, depth+1, cur)
		if err != nil {
			return 0, ctx, err
		}
		cost, cur = cost+c, end
	}
	if cost < best {
		return cost, cur, nil
	}
	s.restoreLeaf(&leaf{abs: abs, depth: depth, log2: log2, n: s.geo.PartsAtDepth(depth)})
	return best, bestCtx, nil
}

// leaf is the unsplit coding unit being decided and the best candidate
// found for it so far.
type leaf struct {
	abs, depth int
	log2, n    int
	ctx        cabac.ContextSet // contexts at the start of the CU
	splittable bool

	best    float64
	bestCtx cabac.ContextSet
}

func (s *searcher) leafSearch(abs, depth int, ctx cabac.ContextSet, splittable bool) (float64, cabac.ContextSet, error) {
	l := &leaf{
		abs: abs, depth: depth,
		log2:       s.seq.Log2CTU - depth,
		n:          s.geo.PartsAtDepth(depth),
		ctx:        ctx,
		splittable: splittable,
		best:       math.Inf(1),
	}
	if !s.intra {
		if err := s.searchInterCU(l); err != nil {
			return 0, ctx, err
		}
	}
	if err := s.searchIntra(l); err != nil {
		return 0, ctx, err
	}
	s.restoreLeaf(l)
	return l.best, l.bestCtx, nil
}

// consider measures the candidate held in the work descriptor and the
// reconstruction, and keeps it when it is the cheapest so far.
func (s *searcher) consider(l *leaf) float64 {
	w := s.est.start(l.ctx)
	if l.splittable {
		w.SplitFlag(false, s.splitCtx(l.abs, l.depth))
	}
	qs := s.qs
	s.writeCU(w, l.abs, l.depth, &qs)
	cost := s.model.Cost(s.blockDist(l.abs, l.log2, true, s.model.Metric), w.FracBits())
	if cost < l.best {
		l.best, l.bestCtx = cost, w.Contexts()
		s.saveLeaf(l)
	}
	return cost
}

func (s *searcher) saveLeaf(l *leaf) {
	px, py := s.geo.PartXY(l.abs)
	size := 1 << uint(l.log2)
	s.bestData[l.log2-s.seq.Log2MinCU].CopyCU(s.work, l.abs, l.n)
	s.bestRecon[l.log2-s.seq.Log2MinCU].CopyBlock(s.pic.Recon, s.x+px, s.y+py, px, py, size, size)
}

func (s *searcher) restoreLeaf(l *leaf) {
	px, py := s.geo.PartXY(l.abs)
	size := 1 << uint(l.log2)
	s.work.CopyCU(s.bestData[l.log2-s.seq.Log2MinCU], l.abs, l.n)
	s.pic.Recon.CopyBlock(s.bestRecon[l.log2-s.seq.Log2MinCU], px, py, s.x+px, s.y+py, size, size)
}

// blockDist returns the distortion of the reconstructed square block at
// abs, chroma weighted into luma units.
func (s *searcher) blockDist(abs, log2 int, chroma bool, m rdcost.Metric) uint64 {
	px, py := s.geo.PartXY(abs)
	last := cu.Y
	if chroma {
		last = cu.Cr
	}
	var d uint64
	for c := cu.Y; c <= last; c++ {
		sh := picture.ChromaShift(c)
		x, y, n := (s.x+px)>>sh, (s.y+py)>>sh, 1<<uint(log2)>>sh
		v := rdcost.Distortion(m,
			rdcost.Block{P: s.orig.Plane(c), X: x, Y: y},
			rdcost.Block{P: s.pic.Recon.Plane(c), X: x, Y: y}, n, n)
		if c.IsChroma() {
			v = s.model.ChromaDist(v)
		}
		d += v
	}
	return d
}

// bitsCost returns lambda times the bits fn writes from contexts ctx.
func (s *searcher) bitsCost(ctx cabac.ContextSet, fn func(w syntax.Writer)) float64 {
	w := s.est.start(ctx)
	fn(w)
	return s.model.Cost(0, w.FracBits())
}
