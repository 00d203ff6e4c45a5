package syntax

import (
	"github.com/pkg/errors"

	"github.com/nicolegarcia/MV-HEVC/internal/bitio"
	"github.com/nicolegarcia/MV-HEVC/internal/cabac"
	"github.com/nicolegarcia/MV-HEVC/internal/mathutil"
)

// MaxRefs bounds the number of active references per list.
const MaxRefs = 16

// HeaderParams are the sequence-level values a slice header depends on.
type HeaderParams struct {
	NumCTUs         int
	DependentSlices bool
	EntryPoints     bool // tiles or wavefronts in use
	IC              bool
	MaxMergeCand    int // upper bound of SliceHeader.MaxMergeCand
	MinQP           int // -QpBdOffset
}

// RefEntry identifies a reference picture.
type RefEntry struct {
	POC  int
	View int
}

// WeightTable holds explicit weighted prediction parameters per list and
// component. Offsets are in units of the 8-bit sample range.
type WeightTable struct {
	LumaLog2Wd   int
	ChromaLog2Wd int
	W            [2][3]int
	Offset       [2][3]int
}

// Log2Wd returns the weight denominator of component c.
func (t *WeightTable) Log2Wd(c int) int {
	if c == 0 {
		return t.LumaLog2Wd
	}
	return t.ChromaLog2Wd
}

// SliceHeader is a slice segment header. A dependent segment carries only
// its address and entry points; the remaining fields are inherited from the
// preceding independent segment.
type SliceHeader struct {
	FirstInPicture bool
	Dependent      bool
	Address        int // raster address of the first CTU
	Type           cabac.SliceType
	POC            int
	View           int
	QP             int
	Refs           [2][]RefEntry
	ColFromL0      bool
	Weights        *WeightTable // nil: default weighting
	ICEnabled      bool
	MaxMergeCand   int
	// EntryPoints holds the byte sizes of all substreams but the last.
	EntryPoints []int
}

func addressBits(numCTUs int) int {
	return mathutil.CeilLog2(numCTUs)
}

// WriteSliceHeader writes h followed by byte alignment.
func WriteSliceHeader(w bitio.FieldWriter, h *SliceHeader, p HeaderParams) {
	w.WriteFlag(h.FirstInPicture)
	if !h.FirstInPicture {
		if p.DependentSlices {
			w.WriteFlag(h.Dependent)
		}
		w.WriteBits(uint32(h.Address), addressBits(p.NumCTUs))
	}
	if !h.Dependent {
		w.WriteUE(uint32(h.Type))
		w.WriteUE(uint32(h.POC))
		w.WriteUE(uint32(h.View))
		w.WriteSE(int32(h.QP - 26))
		if h.Type != cabac.SliceI {
			lists := 1
			if h.Type == cabac.SliceB {
				lists = 2
			}
			for l := 0; l < lists; l++ {
				w.WriteUE(uint32(len(h.Refs[l]) - 1))
				for _, ref := range h.Refs[l] {
					w.WriteSE(int32(h.POC - ref.POC))
					w.WriteUE(uint32(ref.View))
				}
			}
			if h.Type == cabac.SliceB {
				w.WriteFlag(h.ColFromL0)
			}
			w.WriteFlag(h.Weights != nil)
			if h.Weights != nil {
				writeWeights(w, h.Weights, lists)
			}
			if p.IC {
				w.WriteFlag(h.ICEnabled)
			}
			w.WriteUE(uint32(p.MaxMergeCand - h.MaxMergeCand))
		}
	}
	if p.EntryPoints {
		w.WriteUE(uint32(len(h.EntryPoints)))
		if len(h.EntryPoints) > 0 {
			maxOff := 1
			for _, e := range h.EntryPoints {
				maxOff = max(maxOff, e)
			}
			n := max(mathutil.CeilLog2(maxOff), 1)
			w.WriteUE(uint32(n - 1))
			for _, e := range h.EntryPoints {
				w.WriteBits(uint32(e-1), n)
			}
		}
	}
	w.WriteTrailingBits()
}

// ReadSliceHeader parses a header written by WriteSliceHeader. prev is the
// header of the preceding independent segment and supplies the inherited
// fields of a dependent segment.
func ReadSliceHeader(r *bitio.Reader, p HeaderParams, prev *SliceHeader) (*SliceHeader, error) {
	h := &SliceHeader{}
	h.FirstInPicture = r.ReadFlag()
	if !h.FirstInPicture {
		if p.DependentSlices {
			h.Dependent = r.ReadFlag()
		}
		h.Address = int(r.ReadBits(addressBits(p.NumCTUs)))
		if h.Address >= p.NumCTUs {
			return nil, errors.Wrapf(ErrConformance, "slice_segment_address %d", h.Address)
		}
	}
	if h.Dependent {
		if prev == nil {
			return nil, errors.Wrap(ErrConformance, "dependent slice segment without a preceding slice")
		}
		inherit := *prev
		inherit.FirstInPicture, inherit.Dependent, inherit.Address = false, true, h.Address
		inherit.EntryPoints = nil
		h = &inherit
	} else {
		t := r.ReadUE()
		if t > uint32(cabac.SliceI) {
			return nil, errors.Wrapf(ErrConformance, "slice_type %d", t)
		}
		h.Type = cabac.SliceType(t)
		h.POC = int(r.ReadUE())
		h.View = int(r.ReadUE())
		h.QP = 26 + int(r.ReadSE())
		if h.QP < p.MinQP || h.QP > 51 {
			return nil, errors.Wrapf(ErrConformance, "slice qp %d", h.QP)
		}
		if h.Type != cabac.SliceI {
			lists := 1
			if h.Type == cabac.SliceB {
				lists = 2
			}
			for l := 0; l < lists; l++ {
				n := int(r.ReadUE()) + 1
				if n > MaxRefs {
					return nil, errors.Wrapf(ErrConformance, "num_ref_idx_l%d_active %d", l, n)
				}
				h.Refs[l] = make([]RefEntry, n)
				for i := range h.Refs[l] {
					h.Refs[l][i].POC = h.POC - int(r.ReadSE())
					h.Refs[l][i].View = int(r.ReadUE())
				}
			}
			if h.Type == cabac.SliceB {
				h.ColFromL0 = r.ReadFlag()
			}
			if r.ReadFlag() {
				wt, err := readWeights(r, lists)
				if err != nil {
					return nil, err
				}
				h.Weights = wt
			}
			if p.IC {
				h.ICEnabled = r.ReadFlag()
			}
			h.MaxMergeCand = p.MaxMergeCand - int(r.ReadUE())
			if h.MaxMergeCand < 1 || h.MaxMergeCand > p.MaxMergeCand {
				return nil, errors.Wrapf(ErrConformance, "max merge candidates %d", h.MaxMergeCand)
			}
		}
	}
	if p.EntryPoints {
		n := r.ReadUE()
		if int(n) >= p.NumCTUs {
			return nil, errors.Wrapf(ErrConformance, "num_entry_point_offsets %d", n)
		}
		if n > 0 {
			bits := int(r.ReadUE()) + 1
			if bits > 32 {
				return nil, errors.Wrapf(ErrConformance, "offset_len %d", bits)
			}
			h.EntryPoints = make([]int, n)
			for i := range h.EntryPoints {
				h.EntryPoints[i] = int(r.ReadBits(bits)) + 1
			}
		}
	}
	if !r.ReadTrailingBits() {
		return nil, errors.Wrap(ErrConformance, "slice header alignment")
	}
	if err := r.Err(); err != nil {
		return nil, errors.Wrap(err, "slice header")
	}
	return h, nil
}

func writeWeights(w bitio.FieldWriter, t *WeightTable, lists int) {
	w.WriteUE(uint32(t.LumaLog2Wd))
	w.WriteSE(int32(t.ChromaLog2Wd - t.LumaLog2Wd))
	for l := 0; l < lists; l++ {
		for c := 0; c < 3; c++ {
			w.WriteSE(int32(t.W[l][c] - 1<<uint(t.Log2Wd(c))))
			w.WriteSE(int32(t.Offset[l][c]))
		}
	}
}

func readWeights(r *bitio.Reader, lists int) (*WeightTable, error) {
	t := &WeightTable{LumaLog2Wd: int(r.ReadUE())}
	t.ChromaLog2Wd = t.LumaLog2Wd + int(r.ReadSE())
	if t.LumaLog2Wd > 7 || t.ChromaLog2Wd < 0 || t.ChromaLog2Wd > 7 {
		return nil, errors.Wrapf(ErrConformance, "weight denominators %d/%d", t.LumaLog2Wd, t.ChromaLog2Wd)
	}
	for l := 0; l < lists; l++ {
		for c := 0; c < 3; c++ {
			dw, off := int(r.ReadSE()), int(r.ReadSE())
			if dw < -128 || dw > 127 || off < -128 || off > 127 {
				return nil, errors.Wrapf(ErrConformance, "weight %d offset %d of list %d", dw, off, l)
			}
			t.W[l][c] = dw + 1<<uint(t.Log2Wd(c))
			t.Offset[l][c] = off
		}
	}
	return t, nil
}
