package mvhevc

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/nicolegarcia/MV-HEVC/internal/cabac"
	"github.com/nicolegarcia/MV-HEVC/internal/mathutil"
	"github.com/nicolegarcia/MV-HEVC/internal/picture"
	"github.com/nicolegarcia/MV-HEVC/internal/predict"
	"github.com/nicolegarcia/MV-HEVC/internal/slice"
	"github.com/nicolegarcia/MV-HEVC/internal/syntax"
)

// Errors returned by the encoder and the decoder. Returned errors wrap
// them with context; test with errors.Is.
var (
	// ErrConformance reports a bitstream that violates the syntax or its
	// value ranges. The picture being decoded is abandoned.
	ErrConformance = syntax.ErrConformance
	// ErrConfig reports inconsistent sequence parameters or options.
	ErrConfig = slice.ErrConfig
	// ErrDPBFull reports a decoded picture buffer without room for a new
	// picture.
	ErrDPBFull = picture.ErrDPBFull
	// ErrMissingReference reports a reference picture that is not held.
	ErrMissingReference = slice.ErrMissingReference
)

// SequenceParams are the constants shared by the encoder and the decoder
// of a sequence. They are fixed once a codec is created.
type SequenceParams struct {
	Width, Height int // luma samples, multiples of MinCUSize
	BitDepth      int // 8 to 12

	CTUSize    int // 8 to 64, a power of two
	MinCUSize  int // 8 to CTUSize, a power of two
	MaxTUSize  int // 4 to 32, a power of two
	MaxTUDepth int // transform tree levels below the CU, 0 to 3

	// CAVLC selects variable-length coding of slice data instead of CABAC.
	// It excludes tiles, wavefronts, sign hiding and RDOQ.
	CAVLC          bool
	AMP            bool
	SignHiding     bool
	ScalingList    bool
	CUQPDelta      bool
	ChromaQPOffset int
	MaxMergeCand   int // 1 to 6

	// TileColumns and TileRows give tile sizes in CTUs. Nil selects a
	// single column or row.
	TileColumns     []int
	TileRows        []int
	WPP             bool
	DependentSlices bool

	// Views is the number of texture views, 1 or more.
	Views     int
	InterView bool
	IC        bool
	VSP       bool

	// MaxRefPictures is the number of pictures of each view kept for
	// reference, oldest in decoding order dropped first.
	MaxRefPictures int
	// MaxReorder is the number of decoded pictures that may precede a
	// picture in output order.
	MaxReorder int
}

// DefaultSequenceParams returns single-view CABAC parameters with 64x64
// CTUs for a picture of the given size.
func DefaultSequenceParams(width, height int) *SequenceParams {
	return &SequenceParams{
		Width:          width,
		Height:         height,
		BitDepth:       8,
		CTUSize:        64,
		MinCUSize:      8,
		MaxTUSize:      32,
		MaxTUDepth:     1,
		SignHiding:     true,
		MaxMergeCand:   5,
		Views:          1,
		MaxRefPictures: 4,
	}
}

func log2Of(v int, what string) (int, error) {
	if v <= 0 || v&(v-1) != 0 {
		return 0, errors.Wrapf(ErrConfig, "%s %d is not a power of two", what, v)
	}
	return mathutil.CeilLog2(v), nil
}

// sequence converts p to the internal sequence constants and validates
// them.
func (p *SequenceParams) sequence() (slice.Sequence, error) {
	var s slice.Sequence
	var err error
	if s.Log2CTU, err = log2Of(p.CTUSize, "CTU size"); err != nil {
		return s, err
	}
	if s.Log2MinCU, err = log2Of(p.MinCUSize, "minimum CU size"); err != nil {
		return s, err
	}
	if s.Log2MaxTU, err = log2Of(p.MaxTUSize, "maximum TU size"); err != nil {
		return s, err
	}
	switch {
	case p.Views < 1:
		return s, errors.Wrapf(ErrConfig, "%d views", p.Views)
	case p.MaxRefPictures < 1 || p.MaxRefPictures > syntax.MaxRefs:
		return s, errors.Wrapf(ErrConfig, "%d reference pictures", p.MaxRefPictures)
	case p.MaxReorder < 0:
		return s, errors.Wrapf(ErrConfig, "reorder depth %d", p.MaxReorder)
	}
	s.Width, s.Height, s.BitDepth = p.Width, p.Height, p.BitDepth
	s.MaxTUDepth = p.MaxTUDepth
	if p.CAVLC {
		s.Entropy = slice.EntropyCAVLC
	}
	s.AMP = p.AMP
	s.SignHiding = p.SignHiding
	s.ScalingList = p.ScalingList
	s.CUQPDelta = p.CUQPDelta
	s.ChromaQPOffset = p.ChromaQPOffset
	s.MaxMergeCand = p.MaxMergeCand
	s.TileColumns = append([]int(nil), p.TileColumns...)
	s.TileRows = append([]int(nil), p.TileRows...)
	s.WPP = p.WPP
	s.DependentSlices = p.DependentSlices
	s.InterView = p.InterView
	s.IC = p.IC
	s.VSP = p.VSP
	return s, s.Validate()
}

// dpbSize bounds the decoded picture buffer: the references of every
// view with their depth maps, the picture being coded and the pictures
// waiting for output.
func (p *SequenceParams) dpbSize() int {
	return 2*p.Views*(p.MaxRefPictures+1) + p.MaxReorder
}

// SliceMode selects where slices or slice segments end.
type SliceMode uint8

const (
	// SliceModeNone codes the picture as one slice or segment.
	SliceModeNone SliceMode = iota
	// SliceModeCTUs ends after Arg CTUs.
	SliceModeCTUs
	// SliceModeBytes ends before the CTU that would push the slice data
	// beyond Arg bytes.
	SliceModeBytes
	// SliceModeTiles ends after Arg tiles.
	SliceModeTiles
)

var sliceModes = [...]slice.BoundaryMode{
	SliceModeNone:  slice.BoundNone,
	SliceModeCTUs:  slice.BoundFixedCTUs,
	SliceModeBytes: slice.BoundFixedBytes,
	SliceModeTiles: slice.BoundFixedTiles,
}

func (m SliceMode) String() string {
	if int(m) < len(sliceModes) {
		return sliceModes[m].String()
	}
	return "?"
}

// Partition is a slice or segment partitioning rule.
type Partition struct {
	Mode SliceMode
	Arg  int
}

func (p Partition) boundary() (slice.Boundary, error) {
	if int(p.Mode) >= len(sliceModes) {
		return slice.Boundary{}, errors.Wrapf(ErrConfig, "slice mode %d", p.Mode)
	}
	return slice.Boundary{Mode: sliceModes[p.Mode], Arg: p.Arg}, nil
}

// EncoderOptions controls the encoder search and the slicing of pictures.
type EncoderOptions struct {
	// QP is the base quantisation parameter (default 32). Pictures offset
	// it with PictureParams.QPOffset.
	QP int

	// RDOQ enables rate-distortion optimised quantisation (CABAC only).
	RDOQ bool
	// SignHidingWithRDOQ applies sign data hiding on top of RDOQ.
	SignHidingWithRDOQ bool
	// HadamardME measures motion search and intra preselection with SATD
	// instead of SAD.
	HadamardME bool
	// FullSearch scans the whole search window instead of a diamond
	// pattern.
	FullSearch bool
	// SearchRange is the integer motion search range in luma samples
	// (default 64).
	SearchRange int
	// BiSearch refines bi-prediction by searching one list against the
	// prediction of the other.
	BiSearch bool
	// MaxIntraRD is the number of luma intra modes kept for full RD after
	// the SATD pass (default 3).
	MaxIntraRD int
	// DeltaQPRD codes each picture with every QP up to DeltaQPRD away from
	// its QP and keeps the best. Ignored under rate control.
	DeltaQPRD int
	// GOPSize scales the search range by POC distance; 0 disables it.
	GOPSize    int
	NumBFrames int

	Slices   Partition
	Segments Partition // requires SequenceParams.DependentSlices

	// Workers is the number of goroutines compressing wavefront rows or
	// tiles; 0 or 1 compresses sequentially.
	Workers int

	// TargetBits enables rate control with a budget per picture.
	TargetBits int64

	// Logger receives a debug record per slice segment and an info record
	// per picture. Nil is silent.
	Logger *slog.Logger
}

// DefaultEncoderOptions returns options with QP 32, RDOQ, SATD motion
// search and a search range of 64.
func DefaultEncoderOptions() *EncoderOptions {
	return &EncoderOptions{
		QP:                 32,
		RDOQ:               true,
		SignHidingWithRDOQ: true,
		HadamardME:         true,
		SearchRange:        64,
		MaxIntraRD:         3,
	}
}

// config builds the internal encoder configuration.
func (o *EncoderOptions) config(seq slice.Sequence) (slice.Config, error) {
	c := slice.Config{
		Sequence:    seq,
		RDOQ:        o.RDOQ,
		SDHWithRDOQ: o.SignHidingWithRDOQ,
		HadamardME:  o.HadamardME,
		SearchRange: o.SearchRange,
		GOPSize:     o.GOPSize,
		NumBFrames:  o.NumBFrames,
		BiSearch:    o.BiSearch,
		MaxIntraRD:  o.MaxIntraRD,
		DeltaQPRD:   o.DeltaQPRD,
		Workers:     o.Workers,
	}
	if o.FullSearch {
		c.Search = slice.SearchFull
	}
	if o.QP < -6*(seq.BitDepth-8) || o.QP > 51 {
		return c, errors.Wrapf(ErrConfig, "QP %d", o.QP)
	}
	if o.TargetBits < 0 {
		return c, errors.Wrapf(ErrConfig, "target of %d bits", o.TargetBits)
	}
	var err error
	if c.Slices, err = o.Slices.boundary(); err != nil {
		return c, err
	}
	if c.Segments, err = o.Segments.boundary(); err != nil {
		return c, err
	}
	return c, c.Validate()
}

// SliceType is the coding type of a picture's slices.
type SliceType uint8

const (
	SliceB SliceType = SliceType(cabac.SliceB)
	SliceP SliceType = SliceType(cabac.SliceP)
	SliceI SliceType = SliceType(cabac.SliceI)
)

func (t SliceType) String() string {
	switch t {
	case SliceB:
		return "B"
	case SliceP:
		return "P"
	case SliceI:
		return "I"
	}
	return "?"
}

// RefPicture names a reference picture.
type RefPicture struct {
	POC, View int
}

// Camera converts depth samples to horizontal disparities:
// disparity = (Scale*depth + Offset<<bitDepth) >> (bitDepth+Precision+2),
// rounded.
type Camera struct {
	Scale     int
	Offset    int
	Precision int
}

func (c Camera) lut(bitDepth int) *predict.DisparityLUT {
	return predict.NewDisparityLUT(predict.CameraParams{Scale: c.Scale, Offset: c.Offset, Precision: c.Precision}, bitDepth)
}

// Weights are explicit weighted prediction parameters. W and Offset are
// indexed by list, then by component Y, Cb, Cr. A weight of
// 1<<Log2Denom with a zero offset leaves the prediction unchanged.
// Offsets are in units of the 8-bit sample range.
type Weights struct {
	LumaLog2Denom   int
	ChromaLog2Denom int
	W               [2][3]int
	Offset          [2][3]int
}

// UnitWeights returns weights that reproduce default prediction at the
// given denominators.
func UnitWeights(lumaLog2Denom, chromaLog2Denom int) *Weights {
	w := &Weights{LumaLog2Denom: lumaLog2Denom, ChromaLog2Denom: chromaLog2Denom}
	for l := range w.W {
		w.W[l] = [3]int{1 << uint(lumaLog2Denom), 1 << uint(chromaLog2Denom), 1 << uint(chromaLog2Denom)}
	}
	return w
}

func (w *Weights) table() *syntax.WeightTable {
	if w == nil {
		return nil
	}
	return &syntax.WeightTable{
		LumaLog2Wd:   w.LumaLog2Denom,
		ChromaLog2Wd: w.ChromaLog2Denom,
		W:            w.W,
		Offset:       w.Offset,
	}
}

// PictureParams describe how one picture is coded.
type PictureParams struct {
	Type      SliceType
	POC, View int
	// QPOffset is added to EncoderOptions.QP.
	QPOffset int
	// GOPDepth and QPFactor refine the lambda of inter pictures.
	GOPDepth int
	QPFactor float64

	// Refs lists the references of L0 and L1. P pictures use L0 only.
	Refs      [2][]RefPicture
	ColFromL0 bool
	// Weights enables explicit weighted prediction of P and B pictures.
	Weights *Weights
	// IC enables illumination compensation for inter-view references.
	IC bool
	// MaxMergeCand lowers the merge list size; 0 keeps the sequence value.
	MaxMergeCand int

	// Depth is the depth map of the base view at POC, used by view
	// synthesis prediction of secondary views, and Camera its conversion
	// to disparity.
	Depth  *Frame
	Camera Camera
}
