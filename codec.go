package mvhevc

import (
	"github.com/pkg/errors"

	"github.com/nicolegarcia/MV-HEVC/internal/cu"
	"github.com/nicolegarcia/MV-HEVC/internal/picture"
	"github.com/nicolegarcia/MV-HEVC/internal/predict"
	"github.com/nicolegarcia/MV-HEVC/internal/slice"
)

// dpbState is the picture bookkeeping shared by the encoder and the
// decoder. Both apply the same sliding window, so they hold the same
// references without any signalling.
type dpbState struct {
	params SequenceParams
	seq    slice.Sequence
	geo    *cu.Geometry
	tiles  *cu.TileMap
	dpb    *picture.DPB
	luts   map[int]*predict.DisparityLUT // per POC of a held depth map
}

func newDPBState(p *SequenceParams) (*dpbState, error) {
	if p == nil {
		return nil, errors.Wrap(ErrConfig, "nil sequence parameters")
	}
	seq, err := p.sequence()
	if err != nil {
		return nil, err
	}
	s := &dpbState{
		params: *p,
		seq:    seq,
		geo:    seq.Geometry(),
		tiles:  seq.Tiles(),
		dpb:    picture.NewDPB(p.dpbSize()),
		luts:   make(map[int]*predict.DisparityLUT),
	}
	s.params.TileColumns = seq.TileColumns
	s.params.TileRows = seq.TileRows
	return s, nil
}

// lookup returns the reference picture poc of view, or nil when it is not
// held for reference.
func (s *dpbState) lookup(poc, view int) *picture.Picture {
	p := s.dpb.Find(poc, view)
	if p == nil || p.Marking == picture.Unused {
		return nil
	}
	return p
}

// addDepth stores the depth map of the base view at poc.
func (s *dpbState) addDepth(poc int, f *Frame, cam Camera) error {
	if err := f.check(s.params.Width, s.params.Height, true); err != nil {
		return errors.Wrap(err, "depth map")
	}
	if old := s.dpb.FindDepth(poc, 0); old != nil {
		old.Marking = picture.Unused
		s.dpb.Prune()
	}
	p := s.seq.NewPicture(poc, 0, s.geo, s.tiles)
	p.IsDepth = true
	p.NeededForOutput = false
	y := p.Recon.Planes[cu.Y]
	for row := 0; row < y.Height; row++ {
		copy(y.Row(0, row, y.Width), f.Y[row*y.Width:])
	}
	if err := s.dpb.Insert(p); err != nil {
		return errors.Wrapf(err, "depth map POC %d", poc)
	}
	s.luts[poc] = cam.lut(s.params.BitDepth)
	return nil
}

// attachViews supplies the inter-view inputs of a secondary view slice:
// the base view picture of the access unit and, when present, its depth.
func (s *dpbState) attachViews(sp *slice.SliceParams) {
	if sp.View == 0 || !s.seq.InterView {
		return
	}
	sp.BaseView = s.lookup(sp.POC, 0)
	if !s.seq.VSP {
		return
	}
	if d := s.dpb.FindDepth(sp.POC, 0); d != nil && d.Marking != picture.Unused {
		sp.RefDepth, sp.LUT = d, s.luts[sp.POC]
	}
}

// insert stores a finished picture and applies the sliding window to its
// view: the MaxRefPictures most recently decoded pictures stay references.
func (s *dpbState) insert(p *picture.Picture) error {
	if err := s.dpb.Insert(p); err != nil {
		return errors.Wrapf(err, "POC %d view %d", p.POC, p.View)
	}
	var order []int
	for _, q := range s.dpb.Pictures() {
		if q.View == p.View && !q.IsDepth && q.Marking != picture.Unused {
			order = append(order, q.POC)
		}
	}
	if n := len(order) - s.params.MaxRefPictures; n > 0 {
		order = order[n:]
	}
	s.dpb.ApplyRPS(p.View, order)
	s.dpb.Prune()
	for poc := range s.luts {
		if s.dpb.FindDepth(poc, 0) == nil {
			delete(s.luts, poc)
		}
	}
	return nil
}
