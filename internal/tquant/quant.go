package tquant

import (
	"math"

	"github.com/nicolegarcia/MV-HEVC/internal/cu"
	"github.com/nicolegarcia/MV-HEVC/internal/mathutil"
	"github.com/nicolegarcia/MV-HEVC/internal/syntax"
)

const (
	maxTrDynamicRange = 15
	quantShift        = 14
	iquantShift       = 6
	scalingNeutral    = 16
	log2Neutral       = 4
)

var quantScales = [6]int64{26214, 23302, 20560, 18396, 16384, 14564}

var invQuantScales = [6]int64{40, 45, 51, 57, 64, 72}

var chromaScale = [58]int{
	0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19,
	20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 29, 30, 31, 32, 33, 33, 34, 34, 35, 35,
	36, 36, 37, 37, 38, 39, 40, 41, 42, 43, 44, 45, 46, 47, 48, 49, 50, 51,
}

// ChromaQP maps a chroma QP index to the 4:2:0 chroma QP.
func ChromaQP(qpi int) int {
	if qpi < 0 {
		return qpi
	}
	return chromaScale[min(qpi, 57)]
}

// QParam is a quantisation parameter split into period and remainder.
type QParam struct {
	QP  int // QP after bit-depth offset
	Per int
	Rem int
}

// NewQParam derives the parameter of component c from the luma QP.
func NewQParam(qp int, c cu.Comp, bitDepth, chromaOffset int) QParam {
	bdOffset := 6 * (bitDepth - 8)
	var q int
	if c.IsChroma() {
		qpi := mathutil.Clip3(-bdOffset, 57, qp+chromaOffset)
		q = ChromaQP(qpi) + bdOffset
	} else {
		q = mathutil.Clip3(-bdOffset, 51, qp) + bdOffset
	}
	return QParam{QP: q, Per: q / 6, Rem: q % 6}
}

func transformShift(bitDepth, log2N int) int {
	return maxTrDynamicRange - bitDepth - log2N
}

// TieBreak selects the coefficient adjusted by sign data hiding when two
// candidates change the cost equally.
type TieBreak uint8

const (
	// TieHighFrequency keeps the first candidate met in reverse scan order.
	TieHighFrequency TieBreak = iota
	// TieLowFrequency keeps the last candidate met in reverse scan order.
	TieLowFrequency
)

// Options configures a Quantizer.
type Options struct {
	BitDepth    int
	RDOQ        bool
	SDH         bool
	SDHTieBreak TieBreak
	// SDHWithRDOQ drives sign hiding after RDOQ with the rate-aware
	// adjustment. When false the rounding residues alone decide.
	SDHWithRDOQ bool
	Scaling     *ScalingList // nil for flat
}

// Block describes the TU being quantised.
type Block struct {
	Log2Size   int
	Comp       cu.Comp
	Scan       syntax.ScanIdx
	QP         QParam
	IntraCU    bool
	IntraSlice bool
}

// Quantizer holds per-TU scratch state. It is not safe for concurrent use;
// every worker owns one.
type Quantizer struct {
	opt          Options
	deltaU       [1024]int32
	rateIncUp    [1024]int32
	rateIncDown  [1024]int32
	sigRateDelta [1024]int32
	levelDouble  [1024]int64
	costCoeff    [1024]float64
	costCoeff0   [1024]float64
	costSig      [1024]float64
}

// NewQuantizer creates a Quantizer.
func NewQuantizer(opt Options) *Quantizer {
	if opt.BitDepth == 0 {
		opt.BitDepth = 8
	}
	return &Quantizer{opt: opt}
}

// Options returns the configuration of q.
func (q *Quantizer) Options() Options { return q.opt }

func (q *Quantizer) scale(b *Block, pos int) int64 {
	m := int64(scalingNeutral)
	if q.opt.Scaling != nil {
		m = int64(q.opt.Scaling.Factor(b.Log2Size, b.IntraCU, b.Comp, pos))
	}
	return quantScales[b.QP.Rem] * scalingNeutral / m
}

// Quant quantises coeff into levels with dead-zone rounding and applies
// sign data hiding when enabled. It returns the sum of absolute levels.
func (q *Quantizer) Quant(coeff, levels []int32, b *Block) int {
	n := 1 << uint(2*b.Log2Size)
	qbits := uint(quantShift + b.QP.Per + transformShift(q.opt.BitDepth, b.Log2Size))
	add := int64(85) << (qbits - 9)
	if b.IntraSlice {
		add = int64(171) << (qbits - 9)
	}
	absSum := 0
	for i := 0; i < n; i++ {
		v := int64(coeff[i])
		tmp := mathutil.Abs(v) * q.scale(b, i)
		l := (tmp + add) >> qbits
		q.deltaU[i] = int32((tmp - l<<qbits) >> (qbits - 8))
		absSum += int(l)
		if v < 0 {
			l = -l
		}
		levels[i] = clip16(l)
	}
	if q.opt.SDH && absSum >= 2 {
		q.hideSignsHDQ(coeff, levels, b)
	}
	return absSum
}

// Dequant scales levels back to transform coefficients.
func (q *Quantizer) Dequant(levels, coeff []int32, b *Block) {
	n := 1 << uint(2*b.Log2Size)
	shift := q.opt.BitDepth + b.Log2Size - 9 + log2Neutral - b.QP.Per
	for i := 0; i < n; i++ {
		l := int64(levels[i])
		if l == 0 {
			coeff[i] = 0
			continue
		}
		m := int64(scalingNeutral)
		if q.opt.Scaling != nil {
			m = int64(q.opt.Scaling.Factor(b.Log2Size, b.IntraCU, b.Comp, i))
		}
		s := invQuantScales[b.QP.Rem] * m
		if shift > 0 {
			coeff[i] = clip16((l*s + 1<<uint(shift-1)) >> uint(shift))
		} else {
			coeff[i] = clip16(l * s << uint(-shift))
		}
	}
}

// hideSignsHDQ adjusts one level per eligible group so that the parity of
// the group sum encodes the sign of its first nonzero coefficient, picking
// the change with the smallest rounding penalty.
func (q *Quantizer) hideSignsHDQ(coeff, levels []int32, b *Block) {
	sc := syntax.GetScan(b.Scan, b.Log2Size)
	lastCG := -1
	for cg := len(sc.CG) - 1; cg >= 0; cg-- {
		first, last := groupBounds(levels, sc, cg)
		if last >= 0 && lastCG == -1 {
			lastCG = 1
		}
		if last >= 0 && syntax.SignHidden(first, last) {
			sub := cg << 4
			signBit := levels[sc.Pos[sub+first]] < 0
			if signBit != (groupSum(levels, sc, cg)&1 == 1) {
				minCost := int64(noCandidate)
				minPos, change := -1, 0
				start := 15
				if lastCG == 1 {
					start = last
				}
				for n := start; n >= 0; n-- {
					p := sc.Pos[sub+n]
					du := int64(q.deltaU[p])
					cost, ch := int64(noCandidate), 0
					switch {
					case levels[p] != 0:
						if du > 0 {
							cost, ch = -du, 1
						} else if !(n == first && mathutil.Abs(levels[p]) == 1) {
							cost, ch = du, -1
						}
					case n < first:
						if (coeff[p] < 0) == signBit {
							cost, ch = -du, 1
						}
					default:
						cost, ch = -du, 1
					}
					if q.better(cost, minCost) {
						minCost, minPos, change = cost, p, ch
					}
				}
				q.applyChange(coeff, levels, minPos, change)
			}
		}
		if lastCG == 1 {
			lastCG = 0
		}
	}
}

const noCandidate = math.MaxInt64

func (q *Quantizer) better(cost, best int64) bool {
	if cost == noCandidate {
		return false
	}
	if q.opt.SDHTieBreak == TieLowFrequency {
		return cost <= best
	}
	return cost < best
}

func (q *Quantizer) applyChange(coeff, levels []int32, pos, change int) {
	if pos < 0 {
		return
	}
	if levels[pos] == 32767 || levels[pos] == -32768 {
		change = -1
	}
	if coeff[pos] >= 0 {
		levels[pos] += int32(change)
	} else {
		levels[pos] -= int32(change)
	}
}

// groupBounds returns the first and last nonzero positions inside group cg
// relative to the group start, or -1 for last when the group is empty.
func groupBounds(levels []int32, sc *syntax.Scan, cg int) (first, last int) {
	sub := cg << 4
	first, last = 16, -1
	for n := 15; n >= 0; n-- {
		if levels[sc.Pos[sub+n]] != 0 {
			last = n
			break
		}
	}
	for n := 0; n < 16; n++ {
		if levels[sc.Pos[sub+n]] != 0 {
			first = n
			break
		}
	}
	return first, last
}

func groupSum(levels []int32, sc *syntax.Scan, cg int) int32 {
	var s int32
	for n := cg << 4; n < cg<<4+16; n++ {
		s += mathutil.Abs(levels[sc.Pos[n]])
	}
	return s
}
