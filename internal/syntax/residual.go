package syntax

import (
	"github.com/nicolegarcia/MV-HEVC/internal/cabac"
	"github.com/nicolegarcia/MV-HEVC/internal/cu"
)

const (
	// numGt1Flags is the number of greater1 flags coded per 4x4 group.
	numGt1Flags = 8
	// sdhThreshold is the minimum scan distance between the first and last
	// nonzero coefficient of a group for its sign to be hidden.
	sdhThreshold = 4
	// coefRemainBinReduction is the prefix length at which the
	// coeff_abs_level_remaining code switches from Rice to Exp-Golomb.
	coefRemainBinReduction = 3
	maxRiceParam           = 4
	maxCoeff               = 32767
)

// SignHidden reports whether the sign of the first nonzero coefficient of a
// group is inferred from the parity of the group's level sum.
func SignHidden(firstNZ, lastNZ int) bool {
	return lastNZ-firstNZ >= sdhThreshold
}

// LastScanPos returns the scan index of the last nonzero coefficient or -1.
func LastScanPos(coeff []int32, sc *Scan) int {
	for n := len(sc.Pos) - 1; n >= 0; n-- {
		if coeff[sc.Pos[n]] != 0 {
			return n
		}
	}
	return -1
}

// Residual codes the coefficients of one TU. coeff is in raster order and
// must hold at least one nonzero value.
func (w *SBACWriter) Residual(coeff []int32, log2Size int, c cu.Comp, scanIdx ScanIdx, signHiding bool) {
	chroma := c.IsChroma()
	sigOff, csbfOff, gt1Off, gt2Off := compOffsets(c)
	sc := GetScan(scanIdx, log2Size)
	groups := 1 << uint(log2Size-2)

	last := LastScanPos(coeff, sc)
	if last < 0 {
		return
	}
	pos := sc.Pos[last]
	px, py := pos&(1<<uint(log2Size)-1), pos>>uint(log2Size)
	if scanIdx == ScanVer {
		px, py = py, px
	}
	w.lastPosition(px, py, log2Size, chroma)

	var flags [64]uint8
	lastCG := last >> 4
	c1 := 1
	for cg := lastCG; cg >= 0; cg-- {
		g := sc.CG[cg]
		gx, gy := g%groups, g/groups
		first := cg << 4
		n := first + 15

		var absLvl [16]int32
		var signs uint32
		numNZ := 0
		firstNZ, lastNZ := -1, -1
		if cg == lastCG {
			a := coeff[sc.Pos[last]]
			absLvl[0] = abs32(a)
			signs = uint32(boolToInt(a < 0))
			numNZ = 1
			firstNZ, lastNZ = last, last
			n = last - 1
		}

		if cg == lastCG || cg == 0 {
			flags[g] = 1
		} else {
			coded := false
			for k := first; k <= first+15; k++ {
				if coeff[sc.Pos[k]] != 0 {
					coded = true
					break
				}
			}
			w.bin(coded, cabac.CtxCodedSubBlock+csbfOff+csbfCtx(flags[:], gx, gy, groups))
			flags[g] = uint8(boolToInt(coded))
		}
		if flags[g] == 0 {
			continue
		}

		pattern := patternSigCtx(flags[:], gx, gy, groups)
		for ; n >= first; n-- {
			p := sc.Pos[n]
			v := coeff[p]
			if n > first || cg == 0 || numNZ > 0 {
				w.bin(v != 0, cabac.CtxSigCoeff+sigOff+sigCtx(pattern, p, log2Size, scanIdx, chroma))
			}
			if v != 0 {
				absLvl[numNZ] = abs32(v)
				signs = signs<<1 | uint32(boolToInt(v < 0))
				numNZ++
				if lastNZ < 0 {
					lastNZ = n
				}
				firstNZ = n
			}
		}
		if numNZ == 0 {
			continue
		}

		hidden := signHiding && SignHidden(firstNZ, lastNZ)
		ctxSet := 0
		if cg > 0 && !chroma {
			ctxSet = 2
		}
		if c1 == 0 {
			ctxSet++
		}
		c1 = 1
		firstC2 := -1
		for i := 0; i < numNZ && i < numGt1Flags; i++ {
			gt1 := absLvl[i] > 1
			w.bin(gt1, cabac.CtxGreater1+gt1Off+4*ctxSet+c1)
			if gt1 {
				c1 = 0
				if firstC2 < 0 {
					firstC2 = i
				}
			} else if c1 > 0 && c1 < 3 {
				c1++
			}
		}
		if firstC2 >= 0 {
			w.bin(absLvl[firstC2] > 2, cabac.CtxGreater2+gt2Off+ctxSet)
		}
		if hidden {
			w.enc.EncodeBypassBins(signs>>1, numNZ-1)
		} else {
			w.enc.EncodeBypassBins(signs, numNZ)
		}
		if c1 == 0 || numNZ > numGt1Flags {
			firstCoeff2 := int32(1)
			rice := 0
			for i := 0; i < numNZ; i++ {
				base := int32(1)
				if i < numGt1Flags {
					base = 2 + firstCoeff2
				}
				if absLvl[i] >= base {
					w.coefRemain(uint32(absLvl[i]-base), rice)
					if absLvl[i] > 3<<uint(rice) {
						rice = min(rice+1, maxRiceParam)
					}
				}
				if absLvl[i] >= 2 {
					firstCoeff2 = 0
				}
			}
		}
	}
}

func (w *SBACWriter) lastPosition(px, py, log2Size int, chroma bool) {
	off, shift := lastCtx(log2Size, chroma)
	maxGroup := groupIdx[1<<uint(log2Size)-1]
	gxIdx, gyIdx := groupIdx[px], groupIdx[py]
	for i := 0; i < gxIdx; i++ {
		w.bin(true, cabac.CtxLastX+off+i>>uint(shift))
	}
	if gxIdx < maxGroup {
		w.bin(false, cabac.CtxLastX+off+gxIdx>>uint(shift))
	}
	for i := 0; i < gyIdx; i++ {
		w.bin(true, cabac.CtxLastY+off+i>>uint(shift))
	}
	if gyIdx < maxGroup {
		w.bin(false, cabac.CtxLastY+off+gyIdx>>uint(shift))
	}
	if gxIdx > 3 {
		w.enc.EncodeBypassBins(uint32(px-minInGroup[gxIdx]), (gxIdx-2)>>1)
	}
	if gyIdx > 3 {
		w.enc.EncodeBypassBins(uint32(py-minInGroup[gyIdx]), (gyIdx-2)>>1)
	}
}

// coefRemain codes coeff_abs_level_remaining with Rice parameter rice.
func (w *SBACWriter) coefRemain(v uint32, rice int) {
	if v>>uint(rice) < coefRemainBinReduction {
		l := int(v >> uint(rice))
		w.enc.EncodeBypassBins(1<<uint(l+1)-2, l+1)
		w.enc.EncodeBypassBins(v&(1<<uint(rice)-1), rice)
		return
	}
	l := rice
	v -= coefRemainBinReduction << uint(rice)
	for v >= 1<<uint(l) {
		v -= 1 << uint(l)
		l++
	}
	n := coefRemainBinReduction + l + 1 - rice
	w.enc.EncodeBypassBins(1<<uint(n)-2, n)
	w.enc.EncodeBypassBins(v, l)
}

// Residual parses the coefficients of one TU into coeff (raster order),
// which must be zeroed by the caller.
func (r *SBACReader) Residual(coeff []int32, log2Size int, c cu.Comp, scanIdx ScanIdx, signHiding bool) {
	if r.err() != nil {
		return
	}
	chroma := c.IsChroma()
	sigOff, csbfOff, gt1Off, gt2Off := compOffsets(c)
	sc := GetScan(scanIdx, log2Size)
	groups := 1 << uint(log2Size-2)

	px, py := r.lastPosition(log2Size, chroma)
	if scanIdx == ScanVer {
		px, py = py, px
	}
	lastPos := py<<uint(log2Size) + px
	last := 0
	for n, p := range sc.Pos {
		if p == lastPos {
			last = n
			break
		}
	}

	var flags [64]uint8
	lastCG := last >> 4
	c1 := 1
	for cg := lastCG; cg >= 0; cg-- {
		g := sc.CG[cg]
		gx, gy := g%groups, g/groups
		first := cg << 4
		n := first + 15

		var posNZ [16]int
		numNZ := 0
		firstNZ, lastNZ := -1, -1
		if cg == lastCG {
			posNZ[0] = sc.Pos[last]
			numNZ = 1
			firstNZ, lastNZ = last, last
			n = last - 1
		}

		if cg == lastCG || cg == 0 {
			flags[g] = 1
		} else {
			flags[g] = uint8(r.bin(cabac.CtxCodedSubBlock + csbfOff + csbfCtx(flags[:], gx, gy, groups)))
		}
		if flags[g] == 0 {
			continue
		}

		pattern := patternSigCtx(flags[:], gx, gy, groups)
		for ; n >= first; n-- {
			p := sc.Pos[n]
			sig := 1
			if n > first || cg == 0 || numNZ > 0 {
				sig = r.bin(cabac.CtxSigCoeff + sigOff + sigCtx(pattern, p, log2Size, scanIdx, chroma))
			}
			if sig != 0 {
				posNZ[numNZ] = p
				numNZ++
				if lastNZ < 0 {
					lastNZ = n
				}
				firstNZ = n
			}
		}
		if numNZ == 0 {
			continue
		}

		var absLvl [16]int32
		hidden := signHiding && SignHidden(firstNZ, lastNZ)
		ctxSet := 0
		if cg > 0 && !chroma {
			ctxSet = 2
		}
		if c1 == 0 {
			ctxSet++
		}
		c1 = 1
		firstC2 := -1
		for i := 0; i < numNZ; i++ {
			absLvl[i] = 1
		}
		for i := 0; i < numNZ && i < numGt1Flags; i++ {
			gt1 := r.bin(cabac.CtxGreater1 + gt1Off + 4*ctxSet + c1)
			absLvl[i] += int32(gt1)
			if gt1 != 0 {
				c1 = 0
				if firstC2 < 0 {
					firstC2 = i
				}
			} else if c1 > 0 && c1 < 3 {
				c1++
			}
		}
		if firstC2 >= 0 {
			absLvl[firstC2] += int32(r.bin(cabac.CtxGreater2 + gt2Off + ctxSet))
		}
		nSigns := numNZ
		if hidden {
			nSigns--
		}
		signs := r.dec.DecodeBypassBins(nSigns) << uint(32-nSigns)
		if c1 == 0 || numNZ > numGt1Flags {
			firstCoeff2 := int32(1)
			rice := 0
			for i := 0; i < numNZ; i++ {
				base := int32(1)
				if i < numGt1Flags {
					base = 2 + firstCoeff2
				}
				if absLvl[i] == base {
					absLvl[i] = base + int32(r.coefRemain(rice))
					if absLvl[i] > 3<<uint(rice) {
						rice = min(rice+1, maxRiceParam)
					}
				}
				if absLvl[i] >= 2 {
					firstCoeff2 = 0
				}
			}
		}

		sum := int32(0)
		for i := 0; i < numNZ; i++ {
			v := min(absLvl[i], maxCoeff)
			sum += v
			if i < nSigns {
				if signs&0x80000000 != 0 {
					v = -v
				}
				signs <<= 1
			}
			coeff[posNZ[i]] = v
		}
		if hidden && sum&1 != 0 {
			p := posNZ[numNZ-1]
			coeff[p] = -coeff[p]
		}
	}
}

func (r *SBACReader) lastPosition(log2Size int, chroma bool) (px, py int) {
	off, shift := lastCtx(log2Size, chroma)
	maxGroup := groupIdx[1<<uint(log2Size)-1]
	gxIdx := 0
	for gxIdx < maxGroup && r.bin(cabac.CtxLastX+off+gxIdx>>uint(shift)) != 0 {
		gxIdx++
	}
	gyIdx := 0
	for gyIdx < maxGroup && r.bin(cabac.CtxLastY+off+gyIdx>>uint(shift)) != 0 {
		gyIdx++
	}
	px, py = gxIdx, gyIdx
	if gxIdx > 3 {
		px = minInGroup[gxIdx] + int(r.dec.DecodeBypassBins((gxIdx-2)>>1))
	}
	if gyIdx > 3 {
		py = minInGroup[gyIdx] + int(r.dec.DecodeBypassBins((gyIdx-2)>>1))
	}
	return px, py
}

// maxRemainPrefix bounds the unary prefix of coeff_abs_level_remaining so
// corrupt input cannot loop.
const maxRemainPrefix = 32

func (r *SBACReader) coefRemain(rice int) uint32 {
	prefix := 0
	for prefix < maxRemainPrefix && r.dec.DecodeBypass() != 0 {
		prefix++
	}
	if prefix == maxRemainPrefix {
		r.fail(ErrConformance)
		return 0
	}
	if prefix < coefRemainBinReduction {
		return uint32(prefix)<<uint(rice) + r.dec.DecodeBypassBins(rice)
	}
	n := prefix - coefRemainBinReduction + rice
	if n > 24 {
		r.fail(ErrConformance)
		return 0
	}
	return (1<<uint(prefix-coefRemainBinReduction)+coefRemainBinReduction-1)<<uint(rice) + r.dec.DecodeBypassBins(n)
}
