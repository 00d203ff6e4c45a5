package syntax

import (
	"github.com/nicolegarcia/MV-HEVC/internal/cabac"
	"github.com/nicolegarcia/MV-HEVC/internal/cu"
)

// Rates holds the cost in 1/32768 bits of the residual bins of one
// component under a context state. Rate-distortion optimised quantisation
// uses it to price levels without coding them.
type Rates struct {
	Log2Size int
	Chroma   bool
	Scan     ScanIdx
	Sig      [27][2]uint32 // indexed by sigCtx increment
	CSBF     [2][2]uint32
	Gt1      [16][2]uint32 // 4*ctxSet + c1
	Gt2      [4][2]uint32
	// LastX[g] is the cost of the prefix selecting group g of the last
	// position, suffix bits included.
	LastX [10]uint32
	LastY [10]uint32
}

// EstimateRates builds the rate tables for a TU.
func EstimateRates(cs *cabac.ContextSet, log2Size int, c cu.Comp, scan ScanIdx) *Rates {
	r := &Rates{Log2Size: log2Size, Chroma: c.IsChroma(), Scan: scan}
	sigOff, csbfOff, gt1Off, gt2Off := compOffsets(c)
	n := 27
	if r.Chroma {
		n = 15
	}
	for i := 0; i < n; i++ {
		for b := 0; b < 2; b++ {
			r.Sig[i][b] = cs[cabac.CtxSigCoeff+sigOff+i].Bits(b)
		}
	}
	for i := range r.CSBF {
		for b := 0; b < 2; b++ {
			r.CSBF[i][b] = cs[cabac.CtxCodedSubBlock+csbfOff+i].Bits(b)
		}
	}
	ng1, ng2 := 16, 4
	if r.Chroma {
		ng1, ng2 = 8, 2
	}
	for i := 0; i < ng1; i++ {
		for b := 0; b < 2; b++ {
			r.Gt1[i][b] = cs[cabac.CtxGreater1+gt1Off+i].Bits(b)
		}
	}
	for i := 0; i < ng2; i++ {
		for b := 0; b < 2; b++ {
			r.Gt2[i][b] = cs[cabac.CtxGreater2+gt2Off+i].Bits(b)
		}
	}

	off, shift := lastCtx(log2Size, r.Chroma)
	maxGroup := groupIdx[1<<uint(log2Size)-1]
	for axis, base := range [2]int{cabac.CtxLastX, cabac.CtxLastY} {
		dst := &r.LastX
		if axis == 1 {
			dst = &r.LastY
		}
		var acc uint32
		for g := 0; g <= maxGroup; g++ {
			cost := acc
			if g < maxGroup {
				cost += cs[base+off+g>>uint(shift)].Bits(0)
			}
			if g > 3 {
				cost += uint32((g-2)>>1) * cabac.FracOne
			}
			dst[g] = cost
			acc += cs[base+off+g>>uint(shift)].Bits(1)
		}
	}
	return r
}

// SigCtx returns the significance context increment of raster position pos
// inside a group whose right and lower neighbours have the given pattern.
func (r *Rates) SigCtx(pattern, pos int) int {
	return sigCtx(pattern, pos, r.Log2Size, r.Scan, r.Chroma)
}

// LastBits returns the cost of coding (px, py) as the last position. The
// coordinates are in raster orientation.
func (r *Rates) LastBits(px, py int) uint32 {
	if r.Scan == ScanVer {
		px, py = py, px
	}
	return r.LastX[groupIdx[px]] + r.LastY[groupIdx[py]]
}

// Gt1Ctx returns the greater1 context increment for ctxSet and c1.
func Gt1Ctx(ctxSet, c1 int) int { return 4*ctxSet + c1 }

// RemainBits returns the bypass cost of coeff_abs_level_remaining.
func RemainBits(v uint32, rice int) uint32 {
	if v>>uint(rice) < coefRemainBinReduction {
		return uint32(int(v>>uint(rice))+1+rice) * cabac.FracOne
	}
	l := rice
	v -= coefRemainBinReduction << uint(rice)
	for v >= 1<<uint(l) {
		v -= 1 << uint(l)
		l++
	}
	return uint32(coefRemainBinReduction+l+1-rice+l) * cabac.FracOne
}

// PatternSigCtx exposes the group pattern used for significance contexts.
func PatternSigCtx(flags []uint8, gx, gy, groups int) int {
	return patternSigCtx(flags, gx, gy, groups)
}

// CSBFCtx exposes the coded_sub_block_flag context increment.
func CSBFCtx(flags []uint8, gx, gy, groups int) int {
	return csbfCtx(flags, gx, gy, groups)
}

// Level coding limits.
const (
	NumGt1Flags  = numGt1Flags
	MaxRiceParam = maxRiceParam
)

// CbfRates returns the cost of a zero and a one coded block flag. root
// selects rqt_root_cbf, which replaces the luma flag of an inter CU whose
// transform tree is not split.
func CbfRates(cs *cabac.ContextSet, c cu.Comp, trDepth int, root bool) [2]uint32 {
	idx := cabac.CtxCbfChroma + trDepth
	switch {
	case root:
		idx = cabac.CtxRootCbf
	case c == cu.Y && trDepth == 0:
		idx = cabac.CtxCbfLuma + 1
	case c == cu.Y:
		idx = cabac.CtxCbfLuma
	}
	return [2]uint32{cs[idx].Bits(0), cs[idx].Bits(1)}
}
