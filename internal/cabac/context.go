package cabac

// SliceType selects the context initialisation table. The values match the
// slice_type syntax element.
type SliceType uint8

const (
	SliceB SliceType = 0
	SliceP SliceType = 1
	SliceI SliceType = 2
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

// Context is one adaptive probability model: the probability state index
// in the upper bits and the most probable symbol in bit 0.
type Context uint8

// NewContext derives the initial model for initValue at the given slice QP.
func NewContext(qp int, initValue uint8) Context {
	if qp < 0 {
		qp = 0
	} else if qp > 51 {
		qp = 51
	}
	slope := int(initValue>>4)*5 - 45
	offset := int(initValue&15)<<3 - 16
	s := (slope*qp)>>4 + offset
	if s < 1 {
		s = 1
	} else if s > 126 {
		s = 126
	}
	if s >= 64 {
		return Context((s-64)<<1 | 1)
	}
	return Context((63 - s) << 1)
}

// State returns the probability state index (0..63).
func (c Context) State() int { return int(c >> 1) }

// MPS returns the most probable symbol.
func (c Context) MPS() int { return int(c & 1) }

// Update advances the model after coding bin.
func (c *Context) Update(bin int) {
	s := c.State()
	mps := c.MPS()
	if bin == mps {
		*c = Context(transIdxMPS[s])<<1 | Context(mps)
		return
	}
	if s == 0 {
		mps ^= 1
	}
	*c = Context(transIdxLPS[s])<<1 | Context(mps)
}

// Bits returns the estimated cost of coding bin with this model, in
// 1/32768 bit units.
func (c Context) Bits(bin int) uint32 {
	return entropyBits[int(c)^bin]
}

// Context offsets of each syntax element inside a ContextSet.
const (
	CtxSplitFlag      = 0   // 3
	CtxSkipFlag       = 3   // 3
	CtxMergeFlag      = 6   // 1
	CtxMergeIdx       = 7   // 1
	CtxPartMode       = 8   // 4
	CtxPredMode       = 12  // 1
	CtxIntraLumaPred  = 13  // 1
	CtxIntraChroma    = 14  // 1
	CtxInterDir       = 15  // 5
	CtxMvd            = 20  // 2
	CtxRefIdx         = 22  // 2
	CtxMvpIdx         = 24  // 1
	CtxRootCbf        = 25  // 1
	CtxSplitTransform = 26  // 3
	CtxCbfLuma        = 29  // 2
	CtxCbfChroma      = 31  // 5
	CtxLastX          = 36  // 18: 15 luma, 3 chroma
	CtxLastY          = 54  // 18
	CtxCodedSubBlock  = 72  // 4: 2 luma, 2 chroma
	CtxSigCoeff       = 76  // 42: 27 luma, 15 chroma
	CtxGreater1       = 118 // 24: 16 luma, 8 chroma
	CtxGreater2       = 142 // 6: 4 luma, 2 chroma
	CtxQPDelta        = 148 // 3
	CtxTransformSkip  = 151 // 2
	CtxICFlag         = 153 // 1
	NumContexts       = 154
)

// Sub-offsets for chroma within the residual context groups.
const (
	LastChromaOffset   = 15
	SigChromaOffset    = 27
	CSBFChromaOffset   = 2
	Gt1ChromaOffset    = 16
	Gt2ChromaOffset    = 4
	CbfChromaPerDepths = 5
)

// ContextSet holds every context model used by slice data. It is a plain
// value: assigning it takes a snapshot, and assigning a snapshot back
// restores the models exactly.
type ContextSet [NumContexts]Context

// NewContextSet returns the initial models for a slice of type t coded at
// QP qp.
func NewContextSet(t SliceType, qp int) ContextSet {
	var cs ContextSet
	tab := &initTables[t]
	for i := range cs {
		cs[i] = NewContext(qp, tab[i])
	}
	return cs
}

const cnu = 154

// initTables[sliceType] holds the init value of every context.
var initTables [3][NumContexts]uint8

type initEntry struct {
	offset int
	b, p, i []uint8
}

func init() {
	entries := []initEntry{
		{CtxSplitFlag, u(107, 139, 126), u(107, 139, 126), u(139, 141, 157)},
		{CtxSkipFlag, u(197, 185, 201), u(197, 185, 201), u(cnu, cnu, cnu)},
		{CtxMergeFlag, u(154), u(110), u(cnu)},
		{CtxMergeIdx, u(137), u(122), u(cnu)},
		{CtxPartMode, u(154, 139, 154, 154), u(154, 139, 154, 154), u(184, cnu, cnu, cnu)},
		{CtxPredMode, u(134), u(149), u(cnu)},
		{CtxIntraLumaPred, u(183), u(154), u(184)},
		{CtxIntraChroma, u(152), u(152), u(63)},
		{CtxInterDir, u(95, 79, 63, 31, 31), u(95, 79, 63, 31, 31), u(cnu, cnu, cnu, cnu, cnu)},
		{CtxMvd, u(140, 198), u(169, 198), u(cnu, cnu)},
		{CtxRefIdx, u(153, 153), u(153, 153), u(cnu, cnu)},
		{CtxMvpIdx, u(168), u(168), u(cnu)},
		{CtxRootCbf, u(79), u(79), u(cnu)},
		{CtxSplitTransform, u(224, 167, 122), u(124, 138, 94), u(153, 138, 138)},
		{CtxCbfLuma, u(153, 111), u(153, 111), u(111, 141)},
		{CtxCbfChroma, u(149, 92, 167, 154, 154), u(149, 107, 167, 154, 154), u(94, 138, 182, 154, 154)},
		{CtxLastX, lastInit[0], lastInit[1], lastInit[2]},
		{CtxLastY, lastInit[0], lastInit[1], lastInit[2]},
		{CtxCodedSubBlock, u(121, 140, 61, 154), u(121, 140, 61, 154), u(91, 171, 134, 141)},
		{CtxSigCoeff, sigInit[0], sigInit[1], sigInit[2]},
		{CtxGreater1, gt1Init[0], gt1Init[1], gt1Init[2]},
		{CtxGreater2, u(107, 167, 91, 107, 107, 167), u(107, 167, 91, 122, 107, 167), u(138, 153, 136, 167, 152, 152)},
		{CtxQPDelta, u(154, 154, 154), u(154, 154, 154), u(154, 154, 154)},
		{CtxTransformSkip, u(139, 139), u(139, 139), u(139, 139)},
		{CtxICFlag, u(154), u(154), u(154)},
	}
	for _, e := range entries {
		copy(initTables[SliceB][e.offset:], e.b)
		copy(initTables[SliceP][e.offset:], e.p)
		copy(initTables[SliceI][e.offset:], e.i)
	}
}

func u(v ...uint8) []uint8 { return v }

var lastInit = [3][]uint8{
	{125, 110, 124, 110, 95, 94, 125, 111, 111, 79, 125, 126, 111, 111, 79, 108, 123, 93},
	{125, 110, 94, 110, 95, 79, 125, 111, 110, 78, 110, 111, 111, 95, 94, 108, 123, 108},
	{110, 110, 124, 125, 140, 153, 125, 127, 140, 109, 111, 143, 127, 111, 79, 108, 123, 63},
}

var sigInit = [3][]uint8{
	{
		170, 154, 139, 153, 139, 123, 123, 63, 124, 166, 183, 140, 136, 153, 154, 166, 183, 140, 136, 153, 154, 166, 183, 140, 136, 153, 154,
		170, 153, 138, 138, 122, 121, 122, 121, 167, 151, 183, 140, 151, 183, 140,
	},
	{
		155, 154, 139, 153, 139, 123, 123, 63, 153, 166, 183, 140, 136, 153, 154, 166, 183, 140, 136, 153, 154, 166, 183, 140, 136, 153, 154,
		170, 153, 123, 123, 107, 121, 107, 121, 167, 151, 183, 140, 151, 183, 140,
	},
	{
		111, 111, 125, 110, 110, 94, 124, 108, 124, 107, 125, 141, 179, 153, 125, 107, 125, 141, 179, 153, 125, 107, 125, 141, 179, 153, 125,
		140, 139, 182, 182, 152, 136, 152, 136, 153, 136, 139, 111, 136, 139, 111,
	},
}

var gt1Init = [3][]uint8{
	{154, 196, 167, 167, 154, 152, 167, 182, 182, 134, 149, 136, 153, 121, 136, 137, 169, 194, 166, 167, 154, 167, 137, 182},
	{154, 196, 196, 167, 154, 152, 167, 182, 182, 134, 149, 136, 153, 121, 136, 122, 169, 208, 166, 167, 154, 152, 167, 182},
	{140, 92, 137, 138, 140, 152, 138, 139, 153, 74, 149, 92, 139, 107, 122, 152, 140, 179, 166, 182, 140, 227, 122, 197},
}
