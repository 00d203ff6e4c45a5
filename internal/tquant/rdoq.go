package tquant

import (
	"math"

	"github.com/nicolegarcia/MV-HEVC/internal/cabac"
	"github.com/nicolegarcia/MV-HEVC/internal/mathutil"
	"github.com/nicolegarcia/MV-HEVC/internal/syntax"
)

const (
	scaleBits  = 15
	sdhLastPen = 4 << cabac.FracShift
)

// RDInput carries what rate-distortion optimised quantisation needs beyond
// the block description.
type RDInput struct {
	Lambda float64 // already divided by the chroma weight for chroma
	Rates  *syntax.Rates
	// Cbf is the cost of a zero and a one coded block flag (or root cbf)
	// for the TU.
	Cbf [2]uint32
}

// Quantize runs RDOQ when it is enabled and rd is given, and plain
// quantisation otherwise.
func (q *Quantizer) Quantize(coeff, levels []int32, b *Block, rd *RDInput) int {
	if q.opt.RDOQ && rd != nil && rd.Rates != nil {
		return q.QuantRD(coeff, levels, b, rd)
	}
	return q.Quant(coeff, levels, b)
}

type cgStats struct {
	nnzBeforePos0     int
	codedLevelAndDist float64
	uncodedDist       float64
	sigCost           float64
	sigCost0          float64
}

// QuantRD chooses each level among the rounded-up value, one less and zero
// by minimising distortion plus λ times the estimated rate, then decides
// which coefficient groups to zero and where to put the last position. It
// returns the sum of absolute levels.
func (q *Quantizer) QuantRD(coeff, levels []int32, b *Block, rd *RDInput) int {
	bd := q.opt.BitDepth
	log2 := b.Log2Size
	n := 1 << uint(2*log2)
	sc := syntax.GetScan(b.Scan, log2)
	rt := rd.Rates
	lambda := rd.Lambda
	luma := !b.Comp.IsChroma()
	tshift := transformShift(bd, log2)
	qbits := uint(quantShift + b.QP.Per + tshift)
	errBase := math.Exp2(float64(scaleBits-2*tshift)) / math.Exp2(float64(2*(bd-8)))
	cost := func(rate uint32) float64 { return lambda * float64(rate) }

	groups := 1 << uint(log2-2)
	numCG := n >> 4
	var cgFlags [64]uint8
	var cgSigCost [64]float64

	for i := 0; i < n; i++ {
		levels[i] = 0
	}

	var blockUncoded, baseCost float64
	lastScanPos, cgLastScanPos := -1, -1
	ctxSet, c1, c2, c1Idx, c2Idx, rice := 0, 1, 0, 0, 0, 0

	for cg := numCG - 1; cg >= 0; cg-- {
		cgPos := sc.CG[cg]
		gx, gy := cgPos%groups, cgPos/groups
		var st cgStats
		pattern := syntax.PatternSigCtx(cgFlags[:], gx, gy, groups)
		for k := 15; k >= 0; k-- {
			sp := cg<<4 + k
			pos := sc.Pos[sp]
			scale := q.scale(b, pos)
			errScale := errBase / float64(scale*scale)
			ld := mathutil.Abs(int64(coeff[pos])) * scale
			q.levelDouble[pos] = ld
			maxAbs := uint32((ld + 1<<(qbits-1)) >> qbits)
			e := float64(ld)
			q.costCoeff0[sp] = e * e * errScale
			q.costCoeff[sp] = q.costCoeff0[sp]
			q.costSig[sp] = 0
			blockUncoded += q.costCoeff0[sp]
			if maxAbs > 0 && lastScanPos < 0 {
				lastScanPos = sp
				if sp >= 16 && luma {
					ctxSet = 2
				} else {
					ctxSet = 0
				}
				cgLastScanPos = cg
			}
			var level uint32
			if lastScanPos >= 0 {
				oneCtx := syntax.Gt1Ctx(ctxSet, c1)
				lc := levelCtx{oneCtx: oneCtx, absCtx: ctxSet, rice: rice, c1Idx: c1Idx, c2Idx: c2Idx}
				if sp == lastScanPos {
					level = q.codedLevel(rt, sp, -1, ld, maxAbs, lc, qbits, errScale, cost)
					q.sigRateDelta[pos] = 0
				} else {
					sctx := rt.SigCtx(pattern, pos)
					level = q.codedLevel(rt, sp, sctx, ld, maxAbs, lc, qbits, errScale, cost)
					q.sigRateDelta[pos] = int32(rt.Sig[sctx][1]) - int32(rt.Sig[sctx][0])
				}
				q.deltaU[pos] = int32((ld - int64(level)<<qbits) >> (qbits - 8))
				if level > 0 {
					now := icRate(rt, level, lc)
					q.rateIncUp[pos] = icRate(rt, level+1, lc) - now
					q.rateIncDown[pos] = icRate(rt, level-1, lc) - now
				} else {
					q.rateIncUp[pos] = int32(rt.Gt1[oneCtx][0])
					q.rateIncDown[pos] = 0
				}
				levels[pos] = int32(level)
				baseCost += q.costCoeff[sp]

				base := uint32(1)
				if c1Idx < syntax.NumGt1Flags {
					base = 2
					if c2Idx < 1 {
						base = 3
					}
				}
				if level >= base && level > 3<<uint(rice) {
					rice = min(rice+1, syntax.MaxRiceParam)
				}
				if level >= 1 {
					c1Idx++
				}
				if level > 1 {
					c1 = 0
					if c2 < 2 {
						c2++
					}
					c2Idx++
				} else if c1 < 3 && c1 > 0 && level > 0 {
					c1++
				}
				if sp%16 == 0 && sp > 0 {
					ctxSet = 0
					if (sp-1)>>4 > 0 && luma {
						ctxSet = 2
					}
					if c1 == 0 {
						ctxSet++
					}
					c1, c2, c1Idx, c2Idx, rice = 1, 0, 0, 0, 0
				}
			} else {
				q.deltaU[pos] = 0
				baseCost += q.costCoeff0[sp]
			}
			st.sigCost += q.costSig[sp]
			if k == 0 {
				st.sigCost0 = q.costSig[sp]
			}
			if levels[pos] != 0 {
				cgFlags[cgPos] = 1
				st.codedLevelAndDist += q.costCoeff[sp] - q.costSig[sp]
				st.uncodedDist += q.costCoeff0[sp]
				if k != 0 {
					st.nnzBeforePos0++
				}
			}
		}

		if cgLastScanPos < 0 {
			continue
		}
		if cg == 0 {
			cgFlags[cgPos] = 1
			continue
		}
		csbf := syntax.CSBFCtx(cgFlags[:], gx, gy, groups)
		if cgFlags[cgPos] == 0 {
			baseCost += cost(rt.CSBF[csbf][0]) - st.sigCost
			cgSigCost[cg] = cost(rt.CSBF[csbf][0])
			continue
		}
		if cg >= cgLastScanPos {
			continue
		}
		if st.nnzBeforePos0 == 0 {
			baseCost -= st.sigCost0
			st.sigCost -= st.sigCost0
		}
		zeroCost := baseCost
		baseCost += cost(rt.CSBF[csbf][1])
		zeroCost += cost(rt.CSBF[csbf][0])
		cgSigCost[cg] = cost(rt.CSBF[csbf][1])
		zeroCost += st.uncodedDist - st.codedLevelAndDist - st.sigCost
		if zeroCost < baseCost {
			cgFlags[cgPos] = 0
			baseCost = zeroCost
			cgSigCost[cg] = cost(rt.CSBF[csbf][0])
			for k := 15; k >= 0; k-- {
				sp := cg<<4 + k
				pos := sc.Pos[sp]
				if levels[pos] != 0 {
					levels[pos] = 0
					q.costCoeff[sp] = q.costCoeff0[sp]
					q.costSig[sp] = 0
				}
			}
		}
	}

	if lastScanPos < 0 {
		return 0
	}

	bestCost := blockUncoded + cost(rd.Cbf[0])
	baseCost += cost(rd.Cbf[1])
	bestLastP1 := 0
	found := false
	for cg := cgLastScanPos; cg >= 0 && !found; cg-- {
		baseCost -= cgSigCost[cg]
		if cgFlags[sc.CG[cg]] == 0 {
			continue
		}
		for k := 15; k >= 0; k-- {
			sp := cg<<4 + k
			if sp > lastScanPos {
				continue
			}
			pos := sc.Pos[sp]
			if levels[pos] == 0 {
				baseCost -= q.costSig[sp]
				continue
			}
			py := pos >> uint(log2)
			px := pos - py<<uint(log2)
			total := baseCost + cost(rt.LastBits(px, py)) - q.costSig[sp]
			if total < bestCost {
				bestLastP1 = sp + 1
				bestCost = total
			}
			if levels[pos] > 1 {
				found = true
				break
			}
			baseCost -= q.costCoeff[sp]
			baseCost += q.costCoeff0[sp]
		}
	}

	absSum := 0
	for sp := 0; sp < bestLastP1; sp++ {
		pos := sc.Pos[sp]
		absSum += int(levels[pos])
		if coeff[pos] < 0 {
			levels[pos] = -levels[pos]
		}
	}
	for sp := bestLastP1; sp <= lastScanPos; sp++ {
		levels[sc.Pos[sp]] = 0
	}

	if q.opt.SDH && absSum >= 2 {
		if q.opt.SDHWithRDOQ {
			q.hideSignsRD(coeff, levels, b, lambda)
		} else {
			q.hideSignsHDQ(coeff, levels, b)
		}
	}
	return absSum
}

type levelCtx struct {
	oneCtx, absCtx int
	rice           int
	c1Idx, c2Idx   int
}

// codedLevel picks the best level for one coefficient and records its
// coded and significance costs. sigCtx is -1 for the last position, whose
// significance is implied.
func (q *Quantizer) codedLevel(rt *syntax.Rates, sp, sigCtx int, ld int64, maxAbs uint32, lc levelCtx, qbits uint, errScale float64, cost func(uint32) float64) uint32 {
	var sigOn float64
	best := uint32(0)
	last := sigCtx < 0
	if !last && maxAbs < 3 {
		q.costSig[sp] = cost(rt.Sig[sigCtx][0])
		q.costCoeff[sp] = q.costCoeff0[sp] + q.costSig[sp]
		if maxAbs == 0 {
			return 0
		}
	} else {
		q.costCoeff[sp] = math.MaxFloat64
	}
	if !last {
		sigOn = cost(rt.Sig[sigCtx][1])
	}
	minAbs := uint32(1)
	if maxAbs > 1 {
		minAbs = maxAbs - 1
	}
	for l := maxAbs; l >= minAbs; l-- {
		e := float64(ld - int64(l)<<qbits)
		c := e*e*errScale + cost(uint32(icRate(rt, l, lc))) + sigOn
		if c < q.costCoeff[sp] {
			best = l
			q.costCoeff[sp] = c
			q.costSig[sp] = sigOn
		}
	}
	return best
}

// icRate returns the rate of coding level l, sign included.
func icRate(rt *syntax.Rates, l uint32, lc levelCtx) int32 {
	if l == 0 {
		return 0
	}
	rate := uint32(cabac.FracOne)
	base := uint32(1)
	if lc.c1Idx < syntax.NumGt1Flags {
		base = 2
		if lc.c2Idx < 1 {
			base = 3
		}
	}
	switch {
	case l >= base:
		rate += syntax.RemainBits(l-base, lc.rice)
		if lc.c1Idx < syntax.NumGt1Flags {
			rate += rt.Gt1[lc.oneCtx][1]
			if lc.c2Idx < 1 {
				rate += rt.Gt2[lc.absCtx][1]
			}
		}
	case l == 1:
		rate += rt.Gt1[lc.oneCtx][0]
	default:
		rate += rt.Gt1[lc.oneCtx][1] + rt.Gt2[lc.absCtx][0]
	}
	return int32(rate)
}

// hideSignsRD is sign data hiding after RDOQ: candidate changes are priced
// with the rounding residue scaled to the rate domain plus the rate deltas
// recorded during the level decision.
func (q *Quantizer) hideSignsRD(coeff, levels []int32, b *Block, lambda float64) {
	bd := q.opt.BitDepth
	inv := float64(invQuantScales[b.QP.Rem])
	rdFactor := int64(inv*inv*math.Exp2(float64(2*b.QP.Per))/lambda/16/math.Exp2(float64(2*(bd-8))) + 0.5)
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
					var cur int64
					var ch int
					if levels[p] != 0 {
						up := -rdFactor*du + int64(q.rateIncUp[p])
						down := rdFactor*du + int64(q.rateIncDown[p])
						abs1 := mathutil.Abs(levels[p]) == 1
						if abs1 {
							down -= int64(q.sigRateDelta[p])
						}
						if lastCG == 1 && n == last && abs1 {
							down -= sdhLastPen
						}
						if up < down {
							cur, ch = up, 1
						} else {
							ch = -1
							cur = down
							if n == first && abs1 {
								cur = noCandidate
							}
						}
					} else {
						cur = -rdFactor*mathutil.Abs(du) + cabac.FracOne + int64(q.rateIncUp[p]) + int64(q.sigRateDelta[p])
						ch = 1
						if n < first && (coeff[p] < 0) != signBit {
							cur = noCandidate
						}
					}
					if q.better(cur, minCost) {
						minCost, minPos, change = cur, p, ch
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
