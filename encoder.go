package mvhevc

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/nicolegarcia/MV-HEVC/internal/cabac"
	"github.com/nicolegarcia/MV-HEVC/internal/cu"
	"github.com/nicolegarcia/MV-HEVC/internal/picture"
	"github.com/nicolegarcia/MV-HEVC/internal/ratectl"
	"github.com/nicolegarcia/MV-HEVC/internal/slice"
)

// SliceStats describe one coded slice segment.
type SliceStats struct {
	// FirstCTU and EndCTU delimit the segment in tile-scan order, EndCTU
	// exclusive.
	FirstCTU, EndCTU int
	Dependent        bool
	Bytes            int // NAL bytes, emulation prevention included
	DataBytes        int // slice data bytes
	Bits             int // RBSP bits
	Substreams       int
	QP               int
	Lambda           float64
	SSE              [3]uint64
	// End tells why the segment ended: "end of picture", "next slice" or
	// "next segment".
	End string
}

// AccessUnit holds the coded slice segments of one picture of one view.
type AccessUnit struct {
	POC, View int
	Type      SliceType
	QP        int
	Segments  [][]byte

	// The fields below are filled by the encoder only.
	Stats []SliceStats
	Bits  int
	PSNR  [3]float64
	Recon *Frame
}

// Encoder codes pictures of one or more views. It is not safe for
// concurrent use.
type Encoder struct {
	*dpbState
	opts EncoderOptions
	enc  *slice.Encoder
	log  *slog.Logger
}

// NewEncoder returns an encoder for seq. A nil opts selects
// DefaultEncoderOptions.
func NewEncoder(seq *SequenceParams, opts *EncoderOptions) (*Encoder, error) {
	if opts == nil {
		opts = DefaultEncoderOptions()
	}
	st, err := newDPBState(seq)
	if err != nil {
		return nil, err
	}
	cfg, err := opts.config(st.seq)
	if err != nil {
		return nil, err
	}
	enc, err := slice.NewEncoder(cfg)
	if err != nil {
		return nil, err
	}
	if opts.TargetBits > 0 {
		enc.SetRateControl(ratectl.NewLambdaDomain(ctuPixels(&st.seq)), opts.TargetBits)
	}
	return &Encoder{dpbState: st, opts: *opts, enc: enc, log: opts.Logger}, nil
}

// ctuPixels returns the luma samples of each CTU in raster order.
func ctuPixels(seq *slice.Sequence) []int {
	size := 1 << uint(seq.Log2CTU)
	w, h := seq.WidthCTU(), seq.HeightCTU()
	out := make([]int, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out[y*w+x] = min(size, seq.Width-x*size) * min(size, seq.Height-y*size)
		}
	}
	return out
}

// Sequence returns the sequence parameters of e.
func (e *Encoder) Sequence() *SequenceParams { return &e.params }

// EncodePicture codes f with the parameters pp and keeps its
// reconstruction for reference by later pictures.
func (e *Encoder) EncodePicture(f *Frame, pp *PictureParams) (*AccessUnit, error) {
	if pp == nil {
		return nil, errors.Wrap(ErrConfig, "nil picture parameters")
	}
	if err := f.check(e.params.Width, e.params.Height, false); err != nil {
		return nil, err
	}
	if pp.View < 0 || pp.View >= e.params.Views {
		return nil, errors.Wrapf(ErrConfig, "view %d of %d", pp.View, e.params.Views)
	}
	if pp.Depth != nil {
		if err := e.addDepth(pp.POC, pp.Depth, pp.Camera); err != nil {
			return nil, err
		}
	}

	sp := &slice.SliceParams{
		Type:         cabac.SliceType(pp.Type),
		QP:           e.opts.QP + pp.QPOffset,
		GOPDepth:     pp.GOPDepth,
		QPFactor:     pp.QPFactor,
		POC:          pp.POC,
		View:         pp.View,
		ColFromL0:    pp.ColFromL0,
		IC:           pp.IC,
		Weights:      pp.Weights.table(),
		MaxMergeCand: pp.MaxMergeCand,
	}
	for l := 0; l < sp.NumLists(); l++ {
		for _, r := range pp.Refs[l] {
			ref := e.lookup(r.POC, r.View)
			if ref == nil {
				return nil, errors.Wrapf(ErrMissingReference, "L%d POC %d view %d", l, r.POC, r.View)
			}
			sp.Refs[l] = append(sp.Refs[l], ref)
		}
	}
	e.attachViews(sp)

	pic := e.enc.NewPicture(pp.POC, pp.View, f.yuv())
	pic.NeededForOutput = false
	if e.opts.DeltaQPRD > 0 && e.opts.TargetBits == 0 {
		qp, lambda, err := e.enc.Precompress(pic, sp)
		if err != nil {
			return nil, err
		}
		sp.QP, sp.Lambda = qp, lambda
	}
	segs, err := e.enc.EncodePicture(pic, sp)
	if err != nil {
		return nil, errors.Wrapf(err, "POC %d view %d", pp.POC, pp.View)
	}
	au := e.accessUnit(pic, sp, segs)
	if err := e.insert(pic); err != nil {
		return nil, err
	}
	return au, nil
}

func (e *Encoder) accessUnit(pic *picture.Picture, sp *slice.SliceParams, segs []*slice.Segment) *AccessUnit {
	au := &AccessUnit{
		POC:   pic.POC,
		View:  pic.View,
		Type:  SliceType(sp.Type),
		QP:    sp.QP,
		Recon: frameFromYuv(pic.Recon, pic.POC, pic.View),
	}
	for _, s := range segs {
		st := SliceStats{
			FirstCTU:   s.Start,
			EndCTU:     s.End,
			Dependent:  s.Header.Dependent,
			Bytes:      len(s.NAL),
			DataBytes:  s.DataBytes(),
			Bits:       s.Stats.Bits,
			Substreams: s.Substreams,
			QP:         s.Stats.QP,
			Lambda:     s.Stats.Lambda,
			SSE:        s.Stats.SSE,
			End:        s.Status.String(),
		}
		au.Segments = append(au.Segments, s.NAL)
		au.Stats = append(au.Stats, st)
		au.Bits += 8 * len(s.NAL)
		if e.log != nil {
			e.log.Debug("slice segment",
				"poc", pic.POC, "view", pic.View,
				"first_ctu", s.Start, "end_ctu", s.End,
				"dependent", st.Dependent, "bytes", st.Bytes,
				"qp", st.QP, "lambda", st.Lambda, "end", st.End)
		}
	}
	for c := range au.PSNR {
		au.PSNR[c] = picture.PSNR(pic.Orig.Plane(cu.Comp(c)), pic.Recon.Plane(cu.Comp(c)), pic.BitDepth)
	}
	if e.log != nil {
		e.log.Info("picture",
			"poc", pic.POC, "view", pic.View, "type", au.Type.String(),
			"qp", au.QP, "bits", au.Bits, "segments", len(segs),
			"psnr_y", au.PSNR[0], "psnr_u", au.PSNR[1], "psnr_v", au.PSNR[2])
	}
	return au
}
