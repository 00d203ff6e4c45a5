// Package predict builds prediction signals: intra angular prediction,
// motion and disparity compensated prediction with the illumination
// compensation and view synthesis variants, and the registry that selects
// them by kind.
package predict

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/nicolegarcia/MV-HEVC/internal/cu"
	"github.com/nicolegarcia/MV-HEVC/internal/mathutil"
	"github.com/nicolegarcia/MV-HEVC/internal/picture"
	"github.com/nicolegarcia/MV-HEVC/internal/pool"
)

// ErrVariantDisabled is returned for a prediction kind that the sequence
// does not enable.
var ErrVariantDisabled = errors.New("predict: prediction variant disabled")

// Kind names a prediction variant.
type Kind uint8

const (
	KindIntra Kind = iota
	KindMotionComp
	KindDisparityComp
	KindIllumComp
	KindViewSynthesis
	numKinds
)

var kindNames = [...]string{"intra", "motion", "disparity", "illumination", "view-synthesis"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Request describes one prediction block.
type Request struct {
	// X, Y, W, H locate the block: in the plane of Comp for intra, in luma
	// picture samples for inter prediction.
	X, Y, W, H int
	// DstX, DstY locate the block in the destination buffer, in the same
	// units as X and Y.
	DstX, DstY int
	BitDepth   int

	// Intra.
	Comp  cu.Comp
	Mode  int
	Recon *picture.Plane
	Avail Availability

	// Inter.
	Dir       int // cu.DirL0, cu.DirL1 or cu.DirBi
	Refs      [2]*picture.Yuv
	MV        [2]cu.MV
	InterView [2]bool
	Weights   *WeightSet

	// Illumination compensation templates come from Cur.
	Cur        *picture.Yuv
	Neighbours ICNeighbours

	// View synthesis.
	Depth *picture.Yuv
	DV    cu.MV
	LUT   *DisparityLUT
}

// Variant produces the prediction of one request into dst.
type Variant interface {
	Kind() Kind
	Predict(dst *picture.Yuv, req *Request) error
}

// Tools are the sequence-level switches that decide which variants exist.
type Tools struct {
	InterView bool
	IC        bool
	VSP       bool
}

// Registry maps kinds to the variants enabled for a sequence.
type Registry struct {
	v [numKinds]Variant
}

// NewRegistry registers intra and motion compensation plus the tools
// enabled in t.
func NewRegistry(t Tools) *Registry {
	r := &Registry{}
	mc := &compensator{kind: KindMotionComp}
	r.v[KindIntra] = intraVariant{}
	r.v[KindMotionComp] = mc
	if t.InterView {
		r.v[KindDisparityComp] = &compensator{kind: KindDisparityComp}
		if t.IC {
			r.v[KindIllumComp] = &illumination{inner: mc}
		}
		if t.VSP {
			r.v[KindViewSynthesis] = synthesis{}
		}
	}
	return r
}

// Get returns the variant registered for k.
func (r *Registry) Get(k Kind) (Variant, error) {
	if k >= numKinds || r.v[k] == nil {
		return nil, errors.Wrapf(ErrVariantDisabled, "%v", k)
	}
	return r.v[k], nil
}

// Predict runs the variant of kind k.
func (r *Registry) Predict(k Kind, dst *picture.Yuv, req *Request) error {
	v, err := r.Get(k)
	if err != nil {
		return err
	}
	return v.Predict(dst, req)
}

type intraVariant struct{}

func (intraVariant) Kind() Kind { return KindIntra }

func (intraVariant) Predict(dst *picture.Yuv, req *Request) error {
	var rs RefSamples
	BuildRefSamples(&rs, req.Recon, req.X, req.Y, req.W, req.Avail, req.BitDepth)
	luma := !req.Comp.IsChroma()
	if luma && NeedsFilter(req.Mode, mathutil.Log2(req.W)) {
		rs.Filter()
	}
	Intra(dst.Plane(req.Comp), req.DstX, req.DstY, &rs, req.Mode, luma, req.BitDepth)
	return nil
}

// blockHook post-processes the intermediate block of one list and
// component before it is stored.
type blockHook func(l int, c cu.Comp, blk []int16, x, y, w, h int)

type compensator struct {
	kind Kind
}

func (m *compensator) Kind() Kind { return m.kind }

func (m *compensator) Predict(dst *picture.Yuv, req *Request) error {
	return m.run(dst, req, nil)
}

func (m *compensator) run(dst *picture.Yuv, req *Request, hook blockHook) error {
	lists := usedLists(req.Dir)
	for _, l := range lists {
		if req.Refs[l] == nil {
			return errors.Errorf("predict: missing reference for list %d", l)
		}
	}
	for c := cu.Y; c <= cu.Cr; c++ {
		s := picture.ChromaShift(c)
		x, y := req.X>>s, req.Y>>s
		w, h := req.W>>s, req.H>>s
		dx, dy := req.DstX>>s, req.DstY>>s
		var blk [2][]int16
		for i, l := range lists {
			blk[i] = pool.GetInt16(w * h)
			Interp(req.Refs[l].Plane(c), c, x, y, w, h, req.MV[l], req.BitDepth, blk[i])
			if hook != nil {
				hook(l, c, blk[i], x, y, w, h)
			}
		}
		p := dst.Plane(c)
		switch {
		case len(lists) == 2 && req.Weights != nil:
			StoreWeightedBi(p, dx, dy, w, h, blk[0], blk[1], req.Weights[0][c], req.Weights[1][c], req.BitDepth)
		case len(lists) == 2:
			StoreBi(p, dx, dy, w, h, blk[0], blk[1], req.BitDepth)
		case req.Weights != nil:
			StoreWeightedUni(p, dx, dy, w, h, blk[0], req.Weights[lists[0]][c], req.BitDepth)
		default:
			StoreUni(p, dx, dy, w, h, blk[0], req.BitDepth)
		}
		for i := range lists {
			pool.PutInt16(blk[i])
		}
	}
	return nil
}

func usedLists(dir int) []int {
	switch dir {
	case cu.DirL0:
		return []int{0}
	case cu.DirL1:
		return []int{1}
	}
	return []int{0, 1}
}

// illumination decorates motion or disparity compensation with a linear
// illumination model fitted on the block templates of every inter-view
// list.
type illumination struct {
	inner *compensator
}

func (v *illumination) Kind() Kind { return KindIllumComp }

func (v *illumination) Predict(dst *picture.Yuv, req *Request) error {
	if req.Cur == nil {
		return errors.New("predict: illumination compensation without current picture")
	}
	r := *req
	r.Weights = nil
	return v.inner.run(dst, &r, func(l int, c cu.Comp, blk []int16, x, y, w, h int) {
		if !req.InterView[l] {
			return
		}
		ox, oy := icDisplacement(req.MV[l], c)
		p := EstimateIC(req.Cur.Plane(c), req.Refs[l].Plane(c), x, y, w, h, ox, oy, req.Neighbours, req.BitDepth)
		if !p.Identity() {
			ApplyIC(blk, p, req.BitDepth)
		}
	})
}

type synthesis struct{}

func (synthesis) Kind() Kind { return KindViewSynthesis }

func (synthesis) Predict(dst *picture.Yuv, req *Request) error {
	if req.Depth == nil || req.LUT == nil || req.Refs[0] == nil {
		return errors.New("predict: view synthesis needs a reference, its depth and a disparity table")
	}
	PredictVSP(dst, req.DstX, req.DstY, req.Refs[0], req.Depth, req.X, req.Y, req.W, req.H, req.DV, req.LUT, req.BitDepth)
	return nil
}
