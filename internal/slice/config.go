// Package slice drives the coding of slice segments: the recursive CTU and
// CU search of the encoder, the matching parser and reconstruction of the
// decoder, slice and segment boundaries, and the entropy context
// synchronisation at tile, wavefront and dependent segment boundaries.
package slice

import (
	"github.com/pkg/errors"

	"github.com/nicolegarcia/MV-HEVC/internal/cabac"
	"github.com/nicolegarcia/MV-HEVC/internal/cu"
	"github.com/nicolegarcia/MV-HEVC/internal/picture"
	"github.com/nicolegarcia/MV-HEVC/internal/predict"
	"github.com/nicolegarcia/MV-HEVC/internal/rdcost"
	"github.com/nicolegarcia/MV-HEVC/internal/syntax"
	"github.com/nicolegarcia/MV-HEVC/internal/tquant"
)

// ErrConfig reports a tool combination that cannot be coded.
var ErrConfig = errors.New("slice: invalid configuration")

// Entropy selects the entropy coding of slice data.
type Entropy uint8

const (
	EntropyCABAC Entropy = iota
	EntropyCAVLC
)

func (e Entropy) String() string {
	if e == EntropyCAVLC {
		return "cavlc"
	}
	return "cabac"
}

// BoundaryMode decides where slices or slice segments end.
type BoundaryMode uint8

const (
	BoundNone BoundaryMode = iota
	// BoundFixedCTUs ends after Arg CTUs.
	BoundFixedCTUs
	// BoundFixedBytes ends before the CTU that would push the coded size
	// beyond Arg bytes.
	BoundFixedBytes
	// BoundFixedTiles ends after Arg tiles.
	BoundFixedTiles
)

var boundNames = [...]string{"none", "ctus", "bytes", "tiles"}

func (m BoundaryMode) String() string {
	if int(m) < len(boundNames) {
		return boundNames[m]
	}
	return "?"
}

// Boundary is a slice or segment partitioning rule.
type Boundary struct {
	Mode BoundaryMode
	Arg  int
}

// Sequence holds the constants shared by the encoder and the decoder of a
// sequence. It is not modified once coding starts.
type Sequence struct {
	Width, Height int // luma samples
	BitDepth      int

	Log2CTU    int
	Log2MinCU  int
	Log2MaxTU  int
	MaxTUDepth int // transform tree levels below the CU beyond forced splits

	Entropy        Entropy
	AMP            bool
	SignHiding     bool
	ScalingList    bool
	CUQPDelta      bool // per CTU QP changes are signalled
	ChromaQPOffset int
	MaxMergeCand   int

	// TileColumns and TileRows give tile sizes in CTUs; nil selects a
	// single column or row.
	TileColumns []int
	TileRows    []int
	WPP         bool
	// DependentSlices allows slice segments that inherit the header and
	// the entropy state of the preceding segment.
	DependentSlices bool

	InterView bool
	IC        bool
	VSP       bool
}

// Geometry returns the CTU geometry of the sequence.
func (s *Sequence) Geometry() *cu.Geometry {
	return cu.NewGeometry(s.Log2CTU, s.Log2MinCU)
}

// WidthCTU returns the picture width in CTUs.
func (s *Sequence) WidthCTU() int { return (s.Width + 1<<uint(s.Log2CTU) - 1) >> uint(s.Log2CTU) }

// HeightCTU returns the picture height in CTUs.
func (s *Sequence) HeightCTU() int { return (s.Height + 1<<uint(s.Log2CTU) - 1) >> uint(s.Log2CTU) }

// NumCTUs returns the number of CTUs of a picture.
func (s *Sequence) NumCTUs() int { return s.WidthCTU() * s.HeightCTU() }

// Tiles builds the tile map of the sequence.
func (s *Sequence) Tiles() *cu.TileMap {
	w, h := s.WidthCTU(), s.HeightCTU()
	cols, rows := s.TileColumns, s.TileRows
	if len(cols) == 0 {
		cols = []int{w}
	}
	if len(rows) == 0 {
		rows = []int{h}
	}
	return cu.NewTileMap(w, h, cols, rows)
}

// NewPicture allocates a picture of the sequence.
func (s *Sequence) NewPicture(poc, view int, geo *cu.Geometry, tiles *cu.TileMap) *picture.Picture {
	return picture.New(poc, view, geo, s.Width, s.Height, s.BitDepth, tiles)
}

// HeaderParams returns what slice header coding needs to know.
func (s *Sequence) HeaderParams() syntax.HeaderParams {
	return syntax.HeaderParams{
		NumCTUs:         s.NumCTUs(),
		DependentSlices: s.DependentSlices,
		EntryPoints:     s.WPP || len(s.TileColumns) > 1 || len(s.TileRows) > 1,
		IC:              s.IC,
		MaxMergeCand:    s.MaxMergeCand,
		MinQP:           -6 * (s.BitDepth - 8),
	}
}

// Tools returns the prediction variants the sequence enables.
func (s *Sequence) Tools() predict.Tools {
	return predict.Tools{InterView: s.InterView, IC: s.IC, VSP: s.VSP}
}

// QuantOptions returns the quantiser options shared by both sides; the
// encoder adds its search options on top.
func (s *Sequence) QuantOptions() tquant.Options {
	opt := tquant.Options{BitDepth: s.BitDepth}
	if s.ScalingList {
		opt.Scaling = tquant.DefaultScalingList()
	}
	return opt
}

func sum(v []int) int {
	n := 0
	for _, x := range v {
		n += x
	}
	return n
}

// Validate reports the first inconsistency of s.
func (s *Sequence) Validate() error {
	switch {
	case s.Width <= 0 || s.Height <= 0:
		return errors.Wrapf(ErrConfig, "picture size %dx%d", s.Width, s.Height)
	case s.BitDepth < 8 || s.BitDepth > 12:
		return errors.Wrapf(ErrConfig, "bit depth %d", s.BitDepth)
	case s.Log2CTU < 3 || s.Log2CTU > 6:
		return errors.Wrapf(ErrConfig, "CTU size %d is not a power of two in [8, 64]", 1<<uint(max(s.Log2CTU, 0)))
	case s.Log2MinCU < 3 || s.Log2MinCU > s.Log2CTU:
		return errors.Wrapf(ErrConfig, "minimum CU size %d with CTU size %d", 1<<uint(max(s.Log2MinCU, 0)), 1<<uint(s.Log2CTU))
	case s.Width%(1<<uint(s.Log2MinCU)) != 0 || s.Height%(1<<uint(s.Log2MinCU)) != 0:
		return errors.Wrapf(ErrConfig, "picture size %dx%d is not a multiple of the minimum CU", s.Width, s.Height)
	case s.Log2MaxTU < 2 || s.Log2MaxTU > tquant.MaxLog2TrSize || s.Log2MaxTU > s.Log2CTU:
		return errors.Wrapf(ErrConfig, "maximum TU size %d", 1<<uint(max(s.Log2MaxTU, 0)))
	case s.MaxTUDepth < 0 || s.MaxTUDepth > 3:
		return errors.Wrapf(ErrConfig, "transform tree depth %d", s.MaxTUDepth)
	case s.MaxMergeCand < 1 || s.MaxMergeCand > 6:
		return errors.Wrapf(ErrConfig, "%d merge candidates", s.MaxMergeCand)
	case s.ChromaQPOffset < -12 || s.ChromaQPOffset > 12:
		return errors.Wrapf(ErrConfig, "chroma QP offset %d", s.ChromaQPOffset)
	case s.Entropy == EntropyCAVLC && s.WPP:
		return errors.Wrap(ErrConfig, "wavefronts need CABAC")
	case s.Entropy == EntropyCAVLC && (len(s.TileColumns) > 1 || len(s.TileRows) > 1):
		return errors.Wrap(ErrConfig, "tiles need CABAC")
	case s.Entropy == EntropyCAVLC && s.SignHiding:
		return errors.Wrap(ErrConfig, "sign data hiding needs CABAC")
	case (s.IC || s.VSP) && !s.InterView:
		return errors.Wrap(ErrConfig, "illumination compensation and view synthesis need inter-view prediction")
	}
	if len(s.TileColumns) > 0 && sum(s.TileColumns) != s.WidthCTU() {
		return errors.Wrapf(ErrConfig, "tile columns %v do not span %d CTUs", s.TileColumns, s.WidthCTU())
	}
	if len(s.TileRows) > 0 && sum(s.TileRows) != s.HeightCTU() {
		return errors.Wrapf(ErrConfig, "tile rows %v do not span %d CTUs", s.TileRows, s.HeightCTU())
	}
	for _, v := range append(append([]int(nil), s.TileColumns...), s.TileRows...) {
		if v < 1 {
			return errors.Wrapf(ErrConfig, "empty tile in %v x %v", s.TileColumns, s.TileRows)
		}
	}
	return nil
}

// Search selects the motion search pattern.
type Search uint8

const (
	SearchDiamond Search = iota
	SearchFull
)

// Config is the encoder configuration: the sequence constants plus the
// search effort and the slicing rules.
type Config struct {
	Sequence

	RDOQ        bool
	SDHTieBreak tquant.TieBreak
	SDHWithRDOQ bool

	Metric      rdcost.Metric
	HadamardME  bool
	Search      Search
	SearchRange int // integer luma samples
	GOPSize     int // for the adaptive search range, 0 disables it
	NumBFrames  int
	BiSearch    bool // refine bi-prediction
	MaxIntraRD  int  // luma modes kept for full RD after the SATD pass
	DeltaQPRD   int  // precompress QP range

	Slices   Boundary
	Segments Boundary

	// Workers caps the goroutines of wavefront compression; 0 or 1
	// compresses sequentially.
	Workers int
}

// DefaultConfig returns a CABAC configuration with 64x64 CTUs for a
// picture of the given size.
func DefaultConfig(width, height int) Config {
	return Config{
		Sequence: Sequence{
			Width: width, Height: height, BitDepth: 8,
			Log2CTU: 6, Log2MinCU: 3, Log2MaxTU: 5, MaxTUDepth: 1,
			SignHiding:   true,
			MaxMergeCand: 5,
		},
		RDOQ:        true,
		SDHWithRDOQ: true,
		HadamardME:  true,
		SearchRange: 64,
		MaxIntraRD:  3,
	}
}

// Validate reports the first inconsistency of c.
func (c *Config) Validate() error {
	if err := c.Sequence.Validate(); err != nil {
		return err
	}
	switch {
	case c.Entropy == EntropyCAVLC && c.RDOQ:
		return errors.Wrap(ErrConfig, "RDOQ needs CABAC rate estimates")
	case c.SearchRange < 0:
		return errors.Wrapf(ErrConfig, "search range %d", c.SearchRange)
	case c.MaxIntraRD < 0 || c.MaxIntraRD > cu.NumIntraModes:
		return errors.Wrapf(ErrConfig, "%d intra RD candidates", c.MaxIntraRD)
	case c.DeltaQPRD < 0:
		return errors.Wrapf(ErrConfig, "delta QP RD %d", c.DeltaQPRD)
	}
	for _, b := range []Boundary{c.Slices, c.Segments} {
		if b.Mode != BoundNone && b.Arg < 1 {
			return errors.Wrapf(ErrConfig, "%v boundary with argument %d", b.Mode, b.Arg)
		}
	}
	if c.Segments.Mode != BoundNone && !c.DependentSlices {
		return errors.Wrap(ErrConfig, "segment boundaries need dependent slices")
	}
	return nil
}

// QuantOptions returns the encoder quantiser options.
func (c *Config) QuantOptions() tquant.Options {
	opt := c.Sequence.QuantOptions()
	opt.RDOQ = c.RDOQ
	opt.SDH = c.SignHiding
	opt.SDHTieBreak = c.SDHTieBreak
	opt.SDHWithRDOQ = c.SDHWithRDOQ
	return opt
}

// SliceParams describe the slice a segment belongs to.
type SliceParams struct {
	Type cabac.SliceType
	QP   int
	// Lambda is the slice Lagrange multiplier; zero derives it from QP.
	Lambda float64
	// GOPDepth and QPFactor feed the lambda derivation of inter slices.
	GOPDepth int
	QPFactor float64

	POC, View int
	Refs      [2][]*picture.Picture
	ColFromL0 bool
	IC        bool
	// Weights enables explicit weighted prediction; nil averages.
	Weights *syntax.WeightTable
	// MaxMergeCand is the merge list size of the slice; zero selects the
	// sequence maximum.
	MaxMergeCand int

	// BaseView is the picture of the reference view in the same access
	// unit, RefDepth its depth. LUT converts that depth to disparity.
	BaseView *picture.Picture
	RefDepth *picture.Picture
	LUT      *predict.DisparityLUT
}

// NumLists returns the number of reference lists used by the slice.
func (p *SliceParams) NumLists() int {
	switch p.Type {
	case cabac.SliceB:
		return 2
	case cabac.SliceP:
		return 1
	}
	return 0
}

// Header returns the independent slice segment header of p.
func (p *SliceParams) Header(seq *Sequence) *syntax.SliceHeader {
	h := &syntax.SliceHeader{
		Type:      p.Type,
		POC:       p.POC,
		View:      p.View,
		QP:        p.QP,
		ColFromL0: p.ColFromL0,
		ICEnabled: p.IC && seq.IC,
	}
	if p.NumLists() > 0 {
		h.Weights = p.Weights
	}
	h.MaxMergeCand = p.maxMerge(seq)
	for l := 0; l < p.NumLists(); l++ {
		for _, r := range p.Refs[l] {
			h.Refs[l] = append(h.Refs[l], syntax.RefEntry{POC: r.POC, View: r.View})
		}
	}
	return h
}

func (p *SliceParams) maxMerge(seq *Sequence) int {
	if p.MaxMergeCand > 0 {
		return min(p.MaxMergeCand, seq.MaxMergeCand)
	}
	return seq.MaxMergeCand
}

func (p *SliceParams) validate(seq *Sequence) error {
	if p.QP < -6*(seq.BitDepth-8) || p.QP > 51 {
		return errors.Wrapf(ErrConfig, "slice QP %d", p.QP)
	}
	for l := 0; l < p.NumLists(); l++ {
		if len(p.Refs[l]) == 0 || len(p.Refs[l]) > syntax.MaxRefs {
			return errors.Wrapf(ErrConfig, "%d references in list %d", len(p.Refs[l]), l)
		}
		for _, r := range p.Refs[l] {
			if r == nil {
				return errors.Wrapf(ErrConfig, "missing reference in list %d", l)
			}
			if r.View != p.View && !seq.InterView {
				return errors.Wrap(ErrConfig, "inter-view reference without inter-view prediction")
			}
		}
	}
	if t := p.Weights; t != nil && p.NumLists() > 0 {
		if t.LumaLog2Wd < 0 || t.LumaLog2Wd > 7 || t.ChromaLog2Wd < 0 || t.ChromaLog2Wd > 7 {
			return errors.Wrapf(ErrConfig, "weight denominators %d/%d", t.LumaLog2Wd, t.ChromaLog2Wd)
		}
		for l := 0; l < p.NumLists(); l++ {
			for c := 0; c < 3; c++ {
				dw := t.W[l][c] - 1<<uint(t.Log2Wd(c))
				if dw < -128 || dw > 127 || t.Offset[l][c] < -128 || t.Offset[l][c] > 127 {
					return errors.Wrapf(ErrConfig, "weight %d offset %d of list %d", t.W[l][c], t.Offset[l][c], l)
				}
			}
		}
	}
	return nil
}

// weightSet converts t to the prediction weights, or nil.
func weightSet(t *syntax.WeightTable) *predict.WeightSet {
	if t == nil {
		return nil
	}
	var ws predict.WeightSet
	for l := range ws {
		for c := range ws[l] {
			ws[l][c] = predict.Weight{W: int32(t.W[l][c]), Offset: int32(t.Offset[l][c]), Log2Wd: t.Log2Wd(c)}
		}
	}
	return &ws
}
