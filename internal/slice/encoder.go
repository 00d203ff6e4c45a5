package slice

import (
	"math"

	"github.com/pkg/errors"

	"github.com/nicolegarcia/MV-HEVC/internal/bitio"
	"github.com/nicolegarcia/MV-HEVC/internal/cabac"
	"github.com/nicolegarcia/MV-HEVC/internal/cu"
	"github.com/nicolegarcia/MV-HEVC/internal/mathutil"
	"github.com/nicolegarcia/MV-HEVC/internal/picture"
	"github.com/nicolegarcia/MV-HEVC/internal/predict"
	"github.com/nicolegarcia/MV-HEVC/internal/ratectl"
	"github.com/nicolegarcia/MV-HEVC/internal/rdcost"
	"github.com/nicolegarcia/MV-HEVC/internal/syntax"
)

// Status tells why a segment ended.
type Status uint8

const (
	EndOfPicture Status = iota
	NextSlice
	NextSegment
)

var statusNames = [...]string{"end of picture", "next slice", "next segment"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "?"
}

// Stats summarise one coded segment.
type Stats struct {
	CTUs   int
	Bits   int // RBSP bits, header included
	SSE    [3]uint64
	QP     int
	Lambda float64
}

// Result is the outcome of compressing a segment.
type Result struct {
	End    int // exclusive tile-scan address
	Status Status
}

// Segment is a coded slice segment.
type Segment struct {
	Header      *syntax.SliceHeader
	Start, End  int // tile-scan range
	NAL         []byte // RBSP with emulation prevention
	RBSPBytes   int
	EPBCount    int
	HeaderBytes int
	Substreams  int
	Status      Status
	Stats       Stats
}

// DataBytes returns the size of the slice data of s.
func (s *Segment) DataBytes() int { return s.RBSPBytes - s.HeaderBytes }

// Encoder codes the slices of one view. It is not safe for concurrent use.
type Encoder struct {
	cfg   Config
	geo   *cu.Geometry
	tiles *cu.TileMap
	reg   *predict.Registry

	rc     ratectl.Supplier
	rcBits int64

	pic    *picture.Picture
	sync   *entropySync
	slice  *sliceCtx
	ctuQP  []int
	search []*searcher
}

// NewEncoder validates cfg and returns an encoder for it.
func NewEncoder(cfg Config) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Encoder{
		cfg:   cfg,
		geo:   cfg.Geometry(),
		tiles: cfg.Tiles(),
		reg:   predict.NewRegistry(cfg.Tools()),
	}, nil
}

// Config returns the configuration of e.
func (e *Encoder) Config() *Config { return &e.cfg }

// NewPicture allocates a picture laid out for e.
func (e *Encoder) NewPicture(poc, view int, orig *picture.Yuv) *picture.Picture {
	p := e.cfg.NewPicture(poc, view, e.geo, e.tiles)
	p.Orig = orig
	return p
}

// SetRateControl makes e take per CTU lambdas and QPs from rc, with
// targetBits per picture. A nil rc disables rate control.
func (e *Encoder) SetRateControl(rc ratectl.Supplier, targetBits int64) {
	e.rc, e.rcBits = rc, targetBits
}

// StartPicture begins coding pic, whose Orig holds the source samples.
func (e *Encoder) StartPicture(pic *picture.Picture) error {
	if pic.Orig == nil {
		return errors.Wrap(ErrConfig, "picture without source samples")
	}
	if pic.Orig.Width() < e.cfg.Width || pic.Orig.Height() < e.cfg.Height {
		return errors.Wrapf(ErrConfig, "source %dx%d smaller than %dx%d",
			pic.Orig.Width(), pic.Orig.Height(), e.cfg.Width, e.cfg.Height)
	}
	pic.Grid.ResetSlices()
	e.pic = pic
	e.sync = newEntropySync(&e.cfg.Sequence, pic.Grid)
	e.ctuQP = make([]int, pic.Grid.NumCTUs())
	e.slice = nil
	return nil
}

// InitSlice prepares the slice starting at tile-scan address sliceStart:
// the slice lambda when sp leaves it unset, the motion derivation context
// and the search state.
func (e *Encoder) InitSlice(sp *SliceParams, sliceStart int) error {
	if e.pic == nil {
		return errors.New("slice: InitSlice before StartPicture")
	}
	if err := sp.validate(&e.cfg.Sequence); err != nil {
		return err
	}
	p := *sp
	if p.Lambda == 0 {
		p.Lambda, _ = rdcost.SliceLambda(rdcost.LambdaParams{
			QP:         p.QP,
			Intra:      p.Type == cabac.SliceI,
			BitDepth:   e.cfg.BitDepth,
			NumBFrames: e.cfg.NumBFrames,
			QPFactor:   p.QPFactor,
			Depth:      p.GOPDepth,
			HadamardME: e.cfg.HadamardME,
		})
	}
	sc := newSliceCtx(&e.cfg.Sequence, &p, e.pic, e.reg, sliceStart)
	e.slice = sc
	if len(e.search) == 0 {
		e.search = append(e.search, newSearcher(&e.cfg, sc))
	}
	for _, s := range e.search {
		s.setSlice(sc)
	}
	if e.rc != nil && sliceStart == 0 {
		e.rc.PictureStart(sc.intra, e.rcBits, p.QP, p.Lambda)
	}
	return nil
}

// ctuParams returns the lambda and QP to search CTU rs with. pred is the
// QP predictor of the CTU.
func (e *Encoder) ctuParams(rs, pred int) (float64, int) {
	sp := e.slice.sp
	lambda, qp := sp.Lambda, sp.QP
	if e.rc == nil {
		return lambda, qp
	}
	lambda, q := e.rc.CTUEstimate(rs)
	if e.cfg.CUQPDelta {
		q = mathutil.Clip3(-6*(e.cfg.BitDepth-8), 51, q)
		qp = mathutil.Clip3(pred-syntax.MaxCUQPDelta, pred+syntax.MaxCUQPDelta, q)
	}
	return lambda, qp
}

// Compress decides the CTUs of the segment starting at segStart in the
// slice starting at sliceStart. sliceBytes is the slice data already spent
// by earlier segments of the slice. Decisions land in the picture arena;
// entropy state is only simulated, EncodeSlice commits it.
func (e *Encoder) Compress(sliceStart, segStart, sliceBytes int) (Result, error) {
	sc := e.slice
	if sc == nil || sc.sliceStart != sliceStart {
		return Result{}, errors.Errorf("slice: Compress of slice %d without InitSlice", sliceStart)
	}
	n := e.pic.Grid.NumCTUs()
	b := DetermineBounds(&e.cfg, e.tiles, sliceStart, segStart)
	if e.parallel(segStart, b) {
		if err := e.compressParallel(); err != nil {
			return Result{}, err
		}
		return Result{End: n, Status: EndOfPicture}, nil
	}

	sync := e.sync.clone()
	tw := newTrialWriter(e.cfg.Entropy)
	s := e.search[0]
	cur, qp := sc.init, sc.sp.QP
	for ts := segStart; ts < b.SegmentEnd; ts++ {
		rs := e.tiles.TsToRs[ts]
		st := sync.begin(segmentPos{ts: ts, sliceStart: sliceStart, first: ts == segStart, dependent: segStart != sliceStart},
			sc.init, sc.sp.QP, cur, qp)
		if st.newSubstream {
			tw.closeSubstream()
		}
		e.pic.Grid.SetSlice(rs, sliceStart)

		lambda, ctuQP := e.ctuParams(rs, st.qpPrev)
		qs := qpState{pred: st.qpPrev, qp: ctuQP}
		if err := s.compressCTU(rs, st.ctx, &qs, lambda); err != nil {
			return Result{}, errors.Wrapf(err, "CTU %d", rs)
		}
		e.pic.Grid.CTUs[rs].CopyCU(s.work, 0, e.geo.NumParts)
		e.ctuQP[rs] = qs.qp

		before := tw.bits()
		ctx := tw.writeCTU(s.ctuCtx, st.ctx, qpState{pred: st.qpPrev, qp: qs.qp})
		segBytes := tw.bytes()
		if ts != segStart {
			if e.cfg.Slices.Mode == BoundFixedBytes && sliceBytes+segBytes > e.cfg.Slices.Arg {
				return Result{End: ts, Status: NextSlice}, nil
			}
			if e.cfg.Segments.Mode == BoundFixedBytes && segBytes > e.cfg.Segments.Arg {
				return Result{End: ts, Status: NextSegment}, nil
			}
		}
		if e.rc != nil {
			e.rc.CTUDone(rs, int64(tw.bits()-before), qs.qp, lambda)
		}
		sync.end(ts, ctx, qs.qp, ts == b.SegmentEnd-1)
		cur, qp = ctx, qs.qp
	}

	r := Result{End: b.SegmentEnd, Status: NextSegment}
	switch b.SegmentEnd {
	case n:
		r.Status = EndOfPicture
	case b.SliceEnd:
		r.Status = NextSlice
	}
	return r, nil
}

// trialWriter codes CTUs into counting sinks to measure segment sizes while
// compressing.
type trialWriter struct {
	cavlc  bool
	cnt    bitio.Counter
	enc    *cabac.Encoder
	sbac   *syntax.SBACWriter
	vlc    *syntax.CAVLCWriter
	closed int // bits of finished substreams, byte aligned
}

func newTrialWriter(e Entropy) *trialWriter {
	tw := &trialWriter{cavlc: e == EntropyCAVLC}
	tw.enc = cabac.NewEncoder(&tw.cnt)
	tw.sbac = syntax.NewSBACWriter(tw.enc, nil, cabac.ContextSet{})
	tw.vlc = syntax.NewCAVLCWriter(&tw.cnt)
	return tw
}

func (tw *trialWriter) writer() syntax.Writer {
	if tw.cavlc {
		return tw.vlc
	}
	return tw.sbac
}

// writeCTU codes the CTU bound to c from contexts ctx and returns the
// contexts after it.
func (tw *trialWriter) writeCTU(c *ctuCtx, ctx cabac.ContextSet, qs qpState) cabac.ContextSet {
	w := tw.writer()
	w.SetContexts(ctx)
	c.writeCTU(w, &qs)
	w.EndOfSlice(false)
	return w.Contexts()
}

// current returns the bits of the open substream.
func (tw *trialWriter) current() int {
	if tw.cavlc {
		return tw.cnt.NumWrittenBits()
	}
	return tw.enc.NumWrittenBits()
}

// closeSubstream terminates the open substream and starts the next one.
func (tw *trialWriter) closeSubstream() {
	if !tw.cavlc {
		tw.sbac.EndOfSubstream()
	}
	tw.closed += alignedBits(tw.cnt.NumWrittenBits())
	tw.cnt.Reset()
	tw.enc.Start()
}

func (tw *trialWriter) bits() int { return tw.closed + tw.current() }

// bytes estimates the segment data size if it ended now: the open
// substream gets its flush and its stop bit.
func (tw *trialWriter) bytes() int {
	flush := 0
	if !tw.cavlc {
		flush = 8
	}
	return (tw.closed + alignedBits(tw.current()+flush)) / 8
}

// alignedBits returns n plus the stop bit, rounded up to whole bytes.
func alignedBits(n int) int { return (n + 8) &^ 7 }

// EncodeSlice writes the segment [segStart, end) decided by Compress: the
// header, the substreams with their termination and the entry points.
func (e *Encoder) EncodeSlice(sliceStart, segStart, end int, status Status) (*Segment, error) {
	sc := e.slice
	if sc == nil || sc.sliceStart != sliceStart {
		return nil, errors.Errorf("slice: EncodeSlice of slice %d without InitSlice", sliceStart)
	}
	if segStart >= end || end > e.pic.Grid.NumCTUs() {
		return nil, errors.Errorf("slice: empty or out of range segment [%d, %d)", segStart, end)
	}
	cavlc := e.cfg.Entropy == EntropyCAVLC
	var (
		subs []*bitio.Writer
		enc  *cabac.Encoder
		sbac *syntax.SBACWriter
		vlc  *syntax.CAVLCWriter
		w    syntax.Writer
	)
	open := func() {
		bw := bitio.NewWriter(1 << 10)
		subs = append(subs, bw)
		switch {
		case cavlc:
			vlc = syntax.NewCAVLCWriter(bw)
			w = vlc
		case enc == nil:
			enc = cabac.NewEncoder(bw)
			sbac = syntax.NewSBACWriter(enc, bw, sc.init)
			w = sbac
		default:
			enc.SetSink(bw)
			enc.Start()
			sbac.Reset(enc, bw)
		}
	}
	open()

	stats := Stats{CTUs: end - segStart, QP: sc.sp.QP, Lambda: sc.sp.Lambda}
	c := sc.newCTU()
	cur, qp := sc.init, sc.sp.QP
	for ts := segStart; ts < end; ts++ {
		rs := e.tiles.TsToRs[ts]
		st := e.sync.begin(segmentPos{ts: ts, sliceStart: sliceStart, first: ts == segStart, dependent: segStart != sliceStart},
			sc.init, sc.sp.QP, cur, qp)
		if st.newSubstream {
			if cavlc {
				vlc.Finish()
			} else {
				sbac.EndOfSubstream()
			}
			open()
		}
		w.SetContexts(st.ctx)
		c.bind(rs, e.pic.Grid.CTUs[rs])
		qs := qpState{pred: st.qpPrev, qp: e.ctuQP[rs]}
		c.writeCTU(w, &qs)
		last := ts == end-1
		w.EndOfSlice(last)
		e.sync.end(ts, w.Contexts(), qs.qp, last)
		cur, qp = w.Contexts(), qs.qp
		e.ctuSSE(rs, &stats.SSE)
	}
	w.Finish()

	h := sc.sp.Header(&e.cfg.Sequence)
	if segStart != sliceStart {
		h = &syntax.SliceHeader{Dependent: true}
	}
	h.FirstInPicture = segStart == 0
	h.Address = e.tiles.TsToRs[segStart]
	for _, bw := range subs[:len(subs)-1] {
		h.EntryPoints = append(h.EntryPoints, len(bw.Bytes()))
	}
	nw := bitio.NewNALWriter()
	syntax.WriteSliceHeader(nw, h, e.cfg.HeaderParams())
	headerBytes := nw.NumWrittenBits() / 8
	for _, bw := range subs {
		nw.WriteBytes(bw.Bytes())
	}
	nal, epb := nw.NAL()
	stats.Bits = nw.NumWrittenBits()
	return &Segment{
		Header:      h,
		Start:       segStart,
		End:         end,
		NAL:         nal,
		RBSPBytes:   nw.NumWrittenBits() / 8,
		EPBCount:    epb,
		HeaderBytes: headerBytes,
		Substreams:  len(subs),
		Status:      status,
		Stats:       stats,
	}, nil
}

// ctuSSE adds the reconstruction error of CTU rs to sse.
func (e *Encoder) ctuSSE(rs int, sse *[3]uint64) {
	x, y := e.pic.Grid.CTUPos(rs)
	size := e.geo.CTUSize()
	w, h := min(size, e.cfg.Width-x), min(size, e.cfg.Height-y)
	for c := cu.Y; c <= cu.Cr; c++ {
		sh := picture.ChromaShift(c)
		sse[c] += rdcost.SSE(
			rdcost.Block{P: e.pic.Orig.Plane(c), X: x >> sh, Y: y >> sh},
			rdcost.Block{P: e.pic.Recon.Plane(c), X: x >> sh, Y: y >> sh},
			w>>sh, h>>sh)
	}
}

// EncodePicture codes pic as slices with the parameters sp, following the
// slice and segment boundaries of the configuration.
func (e *Encoder) EncodePicture(pic *picture.Picture, sp *SliceParams) ([]*Segment, error) {
	if err := e.StartPicture(pic); err != nil {
		return nil, err
	}
	var segs []*Segment
	sliceStart, segStart, sliceBytes := 0, 0, 0
	for {
		if segStart == sliceStart {
			if err := e.InitSlice(sp, sliceStart); err != nil {
				return nil, err
			}
			sliceBytes = 0
		}
		r, err := e.Compress(sliceStart, segStart, sliceBytes)
		if err != nil {
			return nil, err
		}
		seg, err := e.EncodeSlice(sliceStart, segStart, r.End, r.Status)
		if err != nil {
			return nil, err
		}
		segs = append(segs, seg)
		switch r.Status {
		case EndOfPicture:
			return segs, nil
		case NextSlice:
			sliceStart = r.End
		default:
			sliceBytes += seg.DataBytes()
		}
		segStart = r.End
	}
}

// Precompress codes pic once per QP around sp.QP, DeltaQPRD steps away at
// most, and returns the QP with the lowest picture cost together with its
// lambda. Trials run on a scratch picture with rate control off and leave
// e untouched.
func (e *Encoder) Precompress(pic *picture.Picture, sp *SliceParams) (int, float64, error) {
	if err := sp.validate(&e.cfg.Sequence); err != nil {
		return 0, 0, err
	}
	base := *sp
	if base.Lambda == 0 {
		base.Lambda, _ = rdcost.SliceLambda(rdcost.LambdaParams{
			QP:         base.QP,
			Intra:      base.Type == cabac.SliceI,
			BitDepth:   e.cfg.BitDepth,
			NumBFrames: e.cfg.NumBFrames,
			QPFactor:   base.QPFactor,
			Depth:      base.GOPDepth,
			HadamardME: e.cfg.HadamardME,
		})
	}
	cands := rdcost.PrecompressCandidates(base.QP, e.cfg.DeltaQPRD, -6*(e.cfg.BitDepth-8))
	if len(cands) == 1 {
		return base.QP, base.Lambda, nil
	}
	trial := &Encoder{cfg: e.cfg, geo: e.geo, tiles: e.tiles, reg: e.reg}
	bestQP, bestLambda, bestCost := base.QP, base.Lambda, math.Inf(1)
	for _, qp := range cands {
		p := base
		p.QP = qp
		p.Lambda = rdcost.LambdaForQP(base.Lambda, base.QP, qp)
		scratch := e.NewPicture(pic.POC, pic.View, pic.Orig)
		scratch.IsDepth = pic.IsDepth
		segs, err := trial.EncodePicture(scratch, &p)
		if err != nil {
			return 0, 0, errors.Wrapf(err, "precompress QP %d", qp)
		}
		var dist uint64
		bits := 0
		for _, s := range segs {
			bits += s.Stats.Bits
			dist += s.Stats.SSE[cu.Y] + s.Stats.SSE[cu.Cb] + s.Stats.SSE[cu.Cr]
		}
		if c := float64(dist) + p.Lambda*float64(bits); c < bestCost {
			bestQP, bestLambda, bestCost = qp, p.Lambda, c
		}
	}
	return bestQP, bestLambda, nil
}
