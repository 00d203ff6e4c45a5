package slice

import (
	"github.com/pkg/errors"

	"github.com/nicolegarcia/MV-HEVC/internal/bitio"
	"github.com/nicolegarcia/MV-HEVC/internal/cu"
	"github.com/nicolegarcia/MV-HEVC/internal/picture"
	"github.com/nicolegarcia/MV-HEVC/internal/predict"
	"github.com/nicolegarcia/MV-HEVC/internal/syntax"
	"github.com/nicolegarcia/MV-HEVC/internal/tquant"
)

// ErrMissingReference reports a slice referencing a picture the decoder
// does not hold.
var ErrMissingReference = errors.New("slice: missing reference picture")

// ParamsFromHeader rebuilds the slice parameters of an independent header.
// lookup resolves references; the multiview inputs (BaseView, RefDepth,
// LUT) are left for the caller.
func ParamsFromHeader(h *syntax.SliceHeader, lookup func(poc, view int) *picture.Picture) (*SliceParams, error) {
	sp := &SliceParams{
		Type:         h.Type,
		QP:           h.QP,
		POC:          h.POC,
		View:         h.View,
		ColFromL0:    h.ColFromL0,
		IC:           h.ICEnabled,
		Weights:      h.Weights,
		MaxMergeCand: h.MaxMergeCand,
	}
	for l := 0; l < sp.NumLists(); l++ {
		for _, r := range h.Refs[l] {
			p := lookup(r.POC, r.View)
			if p == nil {
				return nil, errors.Wrapf(ErrMissingReference, "POC %d view %d", r.POC, r.View)
			}
			sp.Refs[l] = append(sp.Refs[l], p)
		}
	}
	return sp, nil
}

// ParsedSegment is a slice segment split into its header and substreams.
type ParsedSegment struct {
	Header     *syntax.SliceHeader
	Substreams [][]byte
}

// ParseSegment removes emulation prevention from nal, parses the header
// and cuts the slice data at the entry points. prev is the header of the
// preceding independent segment of the picture, or nil.
func ParseSegment(nal []byte, hp syntax.HeaderParams, prev *syntax.SliceHeader) (*ParsedSegment, error) {
	r := bitio.NewReader(bitio.RemoveEmulationPrevention(nal))
	h, err := syntax.ReadSliceHeader(r, hp, prev)
	if err != nil {
		return nil, err
	}
	data := r.Rest()
	seg := &ParsedSegment{Header: h}
	for i, n := range h.EntryPoints {
		if n > len(data) {
			return nil, errors.Wrapf(syntax.ErrConformance, "entry point %d: %d bytes with %d left", i, n, len(data))
		}
		seg.Substreams = append(seg.Substreams, data[:n])
		data = data[n:]
	}
	if len(data) == 0 {
		return nil, errors.Wrap(syntax.ErrConformance, "empty slice data")
	}
	seg.Substreams = append(seg.Substreams, data)
	return seg, nil
}

// Decoder reconstructs the slice segments of one picture at a time.
type Decoder struct {
	seq   Sequence
	geo   *cu.Geometry
	tiles *cu.TileMap
	reg   *predict.Registry
	q     *tquant.Quantizer

	pic   *picture.Picture
	sync  *entropySync
	slice *sliceCtx
	next  int // tile-scan address the next segment must start at
}

// NewDecoder validates seq and returns a decoder for it.
func NewDecoder(seq Sequence) (*Decoder, error) {
	if err := seq.Validate(); err != nil {
		return nil, err
	}
	return &Decoder{
		seq:   seq,
		geo:   seq.Geometry(),
		tiles: seq.Tiles(),
		reg:   predict.NewRegistry(seq.Tools()),
		q:     tquant.NewQuantizer(seq.QuantOptions()),
	}, nil
}

// Sequence returns the sequence constants of d.
func (d *Decoder) Sequence() *Sequence { return &d.seq }

// NewPicture allocates a picture laid out for d.
func (d *Decoder) NewPicture(poc, view int) *picture.Picture {
	return d.seq.NewPicture(poc, view, d.geo, d.tiles)
}

// StartPicture begins reconstructing pic.
func (d *Decoder) StartPicture(pic *picture.Picture) {
	pic.Grid.ResetSlices()
	d.pic = pic
	d.sync = newEntropySync(&d.seq, pic.Grid)
	d.slice = nil
	d.next = 0
}

// Done reports whether every CTU of the picture has been decoded.
func (d *Decoder) Done() bool { return d.pic != nil && d.next == d.pic.Grid.NumCTUs() }

// DecodeSegment parses and reconstructs seg. sp describes the slice of an
// independent segment and is ignored for a dependent one. It returns the
// tile-scan address following the last CTU of the segment.
func (d *Decoder) DecodeSegment(seg *ParsedSegment, sp *SliceParams) (int, error) {
	if d.pic == nil {
		return 0, errors.New("slice: DecodeSegment before StartPicture")
	}
	h := seg.Header
	n := d.pic.Grid.NumCTUs()
	start := d.tiles.RsToTs[h.Address]
	if start != d.next {
		return 0, errors.Wrapf(syntax.ErrConformance, "segment at CTU %d, expected %d", start, d.next)
	}
	if h.FirstInPicture != (start == 0) {
		return 0, errors.Wrapf(syntax.ErrConformance, "first_slice_segment_in_pic_flag at CTU %d", start)
	}
	if !h.Dependent {
		if err := sp.validate(&d.seq); err != nil {
			return 0, errors.Wrap(syntax.ErrConformance, err.Error())
		}
		d.slice = newSliceCtx(&d.seq, sp, d.pic, d.reg, start)
	} else if d.slice == nil {
		return 0, errors.Wrap(syntax.ErrConformance, "dependent segment without a slice")
	}
	sc := d.slice

	cavlc := d.seq.Entropy == EntropyCAVLC
	k := 0
	var (
		sbac *syntax.SBACReader
		vlc  *syntax.CAVLCReader
		r    syntax.Reader
	)
	open := func() {
		br := bitio.NewReader(seg.Substreams[k])
		switch {
		case cavlc:
			vlc = syntax.NewCAVLCReader(br)
			r = vlc
		case sbac == nil:
			sbac = syntax.NewSBACReader(br, sc.init)
			r = sbac
		default:
			sbac.Reset(br)
		}
	}
	open()

	c := &ctuParser{ctuCtx: sc.newCTU(), q: d.q}
	cur, qp := sc.init, sc.sp.QP
	for ts := start; ; ts++ {
		if ts >= n {
			return 0, errors.Wrap(syntax.ErrConformance, "slice data past the last CTU")
		}
		rs := d.tiles.TsToRs[ts]
		st := d.sync.begin(segmentPos{ts: ts, sliceStart: sc.sliceStart, first: ts == start, dependent: h.Dependent},
			sc.init, sc.sp.QP, cur, qp)
		if st.newSubstream {
			if cavlc {
				vlc.Finish()
			} else {
				sbac.EndOfSubstream()
			}
			if err := r.Err(); err != nil {
				return 0, errors.Wrapf(err, "substream %d", k)
			}
			if k++; k >= len(seg.Substreams) {
				return 0, errors.Wrapf(syntax.ErrConformance, "CTU %d needs substream %d of %d", rs, k, len(seg.Substreams))
			}
			open()
		}
		r.SetContexts(st.ctx)
		d.pic.Grid.SetSlice(rs, sc.sliceStart)
		c.r = r
		c.bind(rs, d.pic.Grid.CTUs[rs])
		qs := qpState{pred: st.qpPrev, qp: st.qpPrev}
		if err := c.decodeCTU(&qs); err != nil {
			return 0, err
		}
		last := r.EndOfSlice()
		if err := c.fail(); err != nil {
			return 0, err
		}
		d.sync.end(ts, r.Contexts(), qs.qp, last)
		cur, qp = r.Contexts(), qs.qp
		if !last {
			continue
		}
		r.Finish()
		if err := r.Err(); err != nil {
			return 0, errors.Wrapf(err, "CTU %d", rs)
		}
		if k != len(seg.Substreams)-1 {
			return 0, errors.Wrapf(syntax.ErrConformance, "%d unused substreams", len(seg.Substreams)-1-k)
		}
		d.next = ts + 1
		return d.next, nil
	}
}
