package syntax

import (
	"github.com/nicolegarcia/MV-HEVC/internal/cabac"
	"github.com/nicolegarcia/MV-HEVC/internal/cu"
)

// ScanIdx selects the coefficient scan order.
type ScanIdx uint8

const (
	ScanDiag ScanIdx = iota
	ScanHor
	ScanVer
)

// Scan is a coefficient scan of one TU size: Pos[n] is the raster position
// of the n-th coefficient in scan order, and CG[n] the raster position of
// the n-th 4x4 group inside the grid of groups.
type Scan struct {
	Log2Size int
	Pos      []int
	CG       []int
	Sub      []int // raster positions inside a 4x4 group
}

// scans[scanIdx][log2Size-2], built once.
var scans [3][4]*Scan

func init() {
	for s := ScanDiag; s <= ScanVer; s++ {
		sub := blockScan(s, 2)
		for l := 2; l <= 5; l++ {
			sc := &Scan{Log2Size: l, Sub: sub, CG: blockScan(s, l-2)}
			size := 1 << uint(l)
			groups := 1 << uint(l-2)
			for _, g := range sc.CG {
				gx, gy := g%groups, g/groups
				for _, p := range sub {
					x, y := gx*4+p%4, gy*4+p/4
					sc.Pos = append(sc.Pos, y*size+x)
				}
			}
			scans[s][l-2] = sc
		}
	}
}

// blockScan returns the raster positions of a (1<<log2)-wide square in the
// given scan order.
func blockScan(s ScanIdx, log2 int) []int {
	n := 1 << uint(log2)
	out := make([]int, 0, n*n)
	switch s {
	case ScanHor:
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				out = append(out, y*n+x)
			}
		}
	case ScanVer:
		for x := 0; x < n; x++ {
			for y := 0; y < n; y++ {
				out = append(out, y*n+x)
			}
		}
	default:
		// Up-right diagonal: each anti-diagonal from bottom-left upwards.
		x, y := 0, 0
		for len(out) < n*n {
			for y >= 0 {
				if x < n && y < n {
					out = append(out, y*n+x)
				}
				y--
				x++
			}
			y = x
			x = 0
		}
	}
	return out
}

// GetScan returns the scan of a TU.
func GetScan(s ScanIdx, log2Size int) *Scan {
	return scans[s][log2Size-2]
}

// ScanIdxFor returns the scan used for a TU: intra 4x4 and 8x8 luma (and
// 4x4 chroma) follow the prediction direction, everything else is diagonal.
func ScanIdxFor(intra bool, mode int, log2Size int, chroma bool) ScanIdx {
	if !intra {
		return ScanDiag
	}
	if log2Size != 2 && !(log2Size == 3 && !chroma) {
		return ScanDiag
	}
	switch {
	case mode >= 6 && mode <= 14:
		return ScanVer
	case mode >= 22 && mode <= 30:
		return ScanHor
	}
	return ScanDiag
}

var groupIdx = [32]int{0, 1, 2, 3, 4, 4, 5, 5, 6, 6, 6, 6, 7, 7, 7, 7, 8, 8, 8, 8, 8, 8, 8, 8, 9, 9, 9, 9, 9, 9, 9, 9}

var minInGroup = [10]int{0, 1, 2, 3, 4, 6, 8, 12, 16, 24}

var ctxIndMap4x4 = [16]int{0, 1, 4, 5, 2, 3, 4, 5, 6, 6, 8, 8, 7, 7, 8, 8}

// lastCtx returns the context offset and shift of the last position
// prefix.
func lastCtx(log2Size int, chroma bool) (offset, shift int) {
	if chroma {
		return cabac.LastChromaOffset, log2Size - 2
	}
	return 3*(log2Size-2) + (log2Size-1)>>2, (log2Size + 1) >> 2
}

// csbfCtx returns the coded_sub_block_flag context increment of group
// (gx, gy).
func csbfCtx(flags []uint8, gx, gy, groups int) int {
	right, below := 0, 0
	if gx < groups-1 {
		right = int(flags[gy*groups+gx+1])
	}
	if gy < groups-1 {
		below = int(flags[(gy+1)*groups+gx])
	}
	if right|below != 0 {
		return 1
	}
	return 0
}

// patternSigCtx summarises the coded flags of the right and lower groups.
func patternSigCtx(flags []uint8, gx, gy, groups int) int {
	right, below := 0, 0
	if gx < groups-1 {
		right = int(flags[gy*groups+gx+1])
	}
	if gy < groups-1 {
		below = int(flags[(gy+1)*groups+gx])
	}
	return right | below<<1
}

// sigCtx returns the significant_coeff_flag context increment (relative to
// the component's first sig context) of raster position pos.
func sigCtx(pattern, pos, log2Size int, scan ScanIdx, chroma bool) int {
	posY := pos >> uint(log2Size)
	posX := pos - posY<<uint(log2Size)
	if posX+posY == 0 {
		return 0
	}
	if log2Size == 2 {
		return ctxIndMap4x4[4*posY+posX]
	}
	var cnt int
	switch pattern {
	case 0:
		t := posX&3 + posY&3
		switch {
		case t >= 3:
			cnt = 0
		case t > 0:
			cnt = 1
		default:
			cnt = 2
		}
	case 1:
		cnt = near(posY & 3)
	case 2:
		cnt = near(posX & 3)
	default:
		cnt = 2
	}
	first := 0
	if !chroma && (posX>>2)+(posY>>2) > 0 {
		first = 3
	}
	var start int
	switch {
	case chroma && log2Size == 3:
		start = 9
	case chroma:
		start = 12
	case log2Size == 3:
		start = 9
		if scan != ScanDiag {
			start += 6
		}
	default:
		start = 21
	}
	return start + first + cnt
}

func near(v int) int {
	switch {
	case v >= 2:
		return 0
	case v > 0:
		return 1
	}
	return 2
}

// compOffsets returns the context offsets of the residual context groups
// for a component.
func compOffsets(c cu.Comp) (sig, csbf, gt1, gt2 int) {
	if c.IsChroma() {
		return cabac.SigChromaOffset, cabac.CSBFChromaOffset, cabac.Gt1ChromaOffset, cabac.Gt2ChromaOffset
	}
	return 0, 0, 0, 0
}
