package mvhevc

import (
	"github.com/pkg/errors"

	"github.com/nicolegarcia/MV-HEVC/internal/picture"
	"github.com/nicolegarcia/MV-HEVC/internal/slice"
	"github.com/nicolegarcia/MV-HEVC/internal/syntax"
)

// Decoder reconstructs pictures from their slice segments. It is not safe
// for concurrent use.
type Decoder struct {
	*dpbState
	dec  *slice.Decoder
	cur  *picture.Picture
	prev *syntax.SliceHeader // last independent header of cur
	out  []*Frame
}

// NewDecoder returns a decoder for seq.
func NewDecoder(seq *SequenceParams) (*Decoder, error) {
	st, err := newDPBState(seq)
	if err != nil {
		return nil, err
	}
	dec, err := slice.NewDecoder(st.seq)
	if err != nil {
		return nil, err
	}
	return &Decoder{dpbState: st, dec: dec}, nil
}

// Sequence returns the sequence parameters of d.
func (d *Decoder) Sequence() *SequenceParams { return &d.params }

// SetDepth supplies the depth map of the base view at poc for view
// synthesis prediction of the secondary views.
func (d *Decoder) SetDepth(poc int, depth *Frame, cam Camera) error {
	return d.addDepth(poc, depth, cam)
}

// DecodeSegment decodes one slice segment NAL. It returns the picture in
// decoding order once its last segment is decoded, and nil before that.
// After an error the picture being decoded is dropped.
func (d *Decoder) DecodeSegment(nal []byte) (*Frame, error) {
	f, err := d.decodeSegment(nal)
	if err != nil {
		d.cur, d.prev = nil, nil
	}
	return f, err
}

func (d *Decoder) decodeSegment(nal []byte) (*Frame, error) {
	seg, err := slice.ParseSegment(nal, d.seq.HeaderParams(), d.prev)
	if err != nil {
		return nil, err
	}
	h := seg.Header
	switch {
	case h.FirstInPicture:
		if d.cur != nil {
			return nil, errors.Wrapf(ErrConformance, "POC %d view %d incomplete", d.cur.POC, d.cur.View)
		}
		if h.View >= d.params.Views {
			return nil, errors.Wrapf(ErrConformance, "view %d of %d", h.View, d.params.Views)
		}
		d.cur = d.dec.NewPicture(h.POC, h.View)
		d.dec.StartPicture(d.cur)
	case d.cur == nil:
		return nil, errors.Wrap(ErrConformance, "segment without a first segment")
	case !h.Dependent && (h.POC != d.cur.POC || h.View != d.cur.View):
		return nil, errors.Wrapf(ErrConformance, "slice of POC %d view %d inside POC %d view %d",
			h.POC, h.View, d.cur.POC, d.cur.View)
	}

	var sp *slice.SliceParams
	if !h.Dependent {
		if sp, err = slice.ParamsFromHeader(h, d.lookup); err != nil {
			return nil, err
		}
		d.attachViews(sp)
		d.prev = h
	}
	if _, err := d.dec.DecodeSegment(seg, sp); err != nil {
		return nil, errors.Wrapf(err, "POC %d view %d", d.cur.POC, d.cur.View)
	}
	if !d.dec.Done() {
		return nil, nil
	}

	pic := d.cur
	d.cur, d.prev = nil, nil
	if err := d.insert(pic); err != nil {
		return nil, err
	}
	d.bump(d.params.MaxReorder)
	return frameFromYuv(pic.Recon, pic.POC, pic.View), nil
}

// DecodeAccessUnit decodes every segment of au and returns the picture.
func (d *Decoder) DecodeAccessUnit(au *AccessUnit) (*Frame, error) {
	for i, nal := range au.Segments {
		f, err := d.DecodeSegment(nal)
		if err != nil {
			return nil, errors.Wrapf(err, "segment %d", i)
		}
		if f != nil {
			if i != len(au.Segments)-1 {
				return nil, errors.Wrapf(ErrConformance, "picture complete after segment %d of %d", i+1, len(au.Segments))
			}
			return f, nil
		}
	}
	d.cur, d.prev = nil, nil
	return nil, errors.Wrapf(ErrConformance, "POC %d view %d incomplete", au.POC, au.View)
}

// bump moves pictures to the output queue, in output order, until at most
// keep remain waiting.
func (d *Decoder) bump(keep int) {
	waiting := 0
	for _, p := range d.dpb.Pictures() {
		if p.NeededForOutput && !p.IsDepth {
			waiting++
		}
	}
	for ; waiting > keep; waiting-- {
		p := d.dpb.Bump()
		d.out = append(d.out, frameFromYuv(p.Recon, p.POC, p.View))
	}
	d.dpb.Prune()
}

// Output returns the pictures that left the buffer in output order since
// the last call.
func (d *Decoder) Output() []*Frame {
	out := d.out
	d.out = nil
	return out
}

// Flush outputs every picture still waiting and returns the output queue.
func (d *Decoder) Flush() []*Frame {
	d.bump(0)
	return d.Output()
}
