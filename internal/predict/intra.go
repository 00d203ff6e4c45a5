package predict

import (
	"github.com/nicolegarcia/MV-HEVC/internal/cu"
	"github.com/nicolegarcia/MV-HEVC/internal/mathutil"
	"github.com/nicolegarcia/MV-HEVC/internal/picture"
)

// MaxIntraSize is the largest intra prediction block.
const MaxIntraSize = 32

var intraPredAngle = [35]int{
	0, 0, 32, 26, 21, 17, 13, 9, 5, 2, 0, -2, -5, -9, -13, -17, -21, -26,
	-32, -26, -21, -17, -13, -9, -5, -2, 0, 2, 5, 9, 13, 17, 21, 26, 32,
}

var invAngle = [35]int{
	11: -4096, 12: -1638, 13: -910, 14: -630, 15: -482, 16: -390, 17: -315,
	18: -256, 19: -315, 20: -390, 21: -482, 22: -630, 23: -910, 24: -1638, 25: -4096,
}

// RefSamples are the neighbouring samples of an N x N block. Top[0] and
// Left[0] both hold the corner; Top[1+i] lies above column i and Left[1+i]
// left of row i, for i in [0, 2N).
type RefSamples struct {
	N    int
	Top  [2*MaxIntraSize + 1]int32
	Left [2*MaxIntraSize + 1]int32
}

// Availability reports whether the sample at plane position (x, y) has been
// reconstructed and may be referenced.
type Availability func(x, y int) bool

// BuildRefSamples gathers the references of the n x n block at (x, y) of
// plane p. Missing samples are substituted from the nearest available one
// in the order bottom-left upwards then left to right; when nothing is
// available every reference is the mid-grey value.
func BuildRefSamples(rs *RefSamples, p *picture.Plane, x, y, n int, avail Availability, bitDepth int) {
	rs.N = n
	total := 4*n + 1
	// Linear order: Left[2n] .. Left[1], corner, Top[1] .. Top[2n].
	var val [4*MaxIntraSize + 1]int32
	var ok [4*MaxIntraSize + 1]bool
	found := false
	for i := 0; i < total; i++ {
		px, py := x+i-2*n-1, y-1
		switch {
		case i < 2*n:
			px, py = x-1, y+2*n-1-i
		case i == 2*n:
			px = x - 1
		}
		if px >= 0 && py >= 0 && px < p.Width && py < p.Height && avail(px, py) {
			val[i] = int32(p.At(px, py))
			ok[i] = true
			found = true
		}
	}
	if !found {
		mid := int32(1) << uint(bitDepth-1)
		for i := 0; i < total; i++ {
			val[i] = mid
		}
	} else {
		if !ok[0] {
			for i := 1; i < total; i++ {
				if ok[i] {
					val[0] = val[i]
					break
				}
			}
		}
		for i := 1; i < total; i++ {
			if !ok[i] {
				val[i] = val[i-1]
			}
		}
	}
	for i := 0; i < 2*n; i++ {
		rs.Left[1+i] = val[2*n-1-i]
		rs.Top[1+i] = val[2*n+1+i]
	}
	rs.Left[0] = val[2*n]
	rs.Top[0] = val[2*n]
}

// NeedsFilter reports whether the references of a luma block are smoothed
// before predicting with mode.
func NeedsFilter(mode, log2Size int) bool {
	if mode == cu.IntraDC || log2Size < 3 || log2Size > 5 {
		return false
	}
	thres := [3]int{7, 1, 0}[log2Size-3]
	d := min(mathutil.Abs(mode-cu.IntraVer), mathutil.Abs(mode-cu.IntraHor))
	return d > thres
}

// Filter applies the [1 2 1] smoothing to rs in place.
func (rs *RefSamples) Filter() {
	n2 := 2 * rs.N
	top, left := rs.Top, rs.Left
	corner := (left[1] + 2*top[0] + top[1] + 2) >> 2
	for i := 1; i < n2; i++ {
		rs.Top[i] = (top[i-1] + 2*top[i] + top[i+1] + 2) >> 2
		rs.Left[i] = (left[i-1] + 2*left[i] + left[i+1] + 2) >> 2
	}
	rs.Top[0], rs.Left[0] = corner, corner
}

// Intra predicts an n x n block with mode into dst at (dx, dy). edge enables
// the boundary smoothing of DC and pure horizontal or vertical prediction,
// which applies to luma blocks smaller than 32.
func Intra(dst *picture.Plane, dx, dy int, rs *RefSamples, mode int, edge bool, bitDepth int) {
	n := rs.N
	log2 := mathutil.Log2(n)
	switch mode {
	case cu.IntraPlanar:
		tr, bl := rs.Top[1+n], rs.Left[1+n]
		for y := 0; y < n; y++ {
			row := dst.Row(dx, dy+y, n)
			for x := 0; x < n; x++ {
				v := int32(n-1-x)*rs.Left[1+y] + int32(x+1)*tr + int32(n-1-y)*rs.Top[1+x] + int32(y+1)*bl + int32(n)
				row[x] = int16(v >> uint(log2+1))
			}
		}
	case cu.IntraDC:
		var sum int32
		for i := 1; i <= n; i++ {
			sum += rs.Top[i] + rs.Left[i]
		}
		dc := (sum + int32(n)) >> uint(log2+1)
		for y := 0; y < n; y++ {
			row := dst.Row(dx, dy+y, n)
			for x := range row {
				row[x] = int16(dc)
			}
		}
		if edge && n < 32 {
			dst.Set(dx, dy, int16((rs.Left[1]+2*dc+rs.Top[1]+2)>>2))
			for x := 1; x < n; x++ {
				dst.Set(dx+x, dy, int16((rs.Top[1+x]+3*dc+2)>>2))
			}
			for y := 1; y < n; y++ {
				dst.Set(dx, dy+y, int16((rs.Left[1+y]+3*dc+2)>>2))
			}
		}
	default:
		angular(dst, dx, dy, rs, mode, edge && n < 32, bitDepth)
	}
}

func angular(dst *picture.Plane, dx, dy int, rs *RefSamples, mode int, edge bool, bitDepth int) {
	n := rs.N
	vertical := mode >= 18
	angle := intraPredAngle[mode]
	main, side := &rs.Top, &rs.Left
	if !vertical {
		main, side = &rs.Left, &rs.Top
	}
	// ref[n+k] is the reference at index k, k in [-n, 2n].
	var buf [3*MaxIntraSize + 1]int32
	ref := buf[:3*n+1]
	for k := 0; k <= 2*n; k++ {
		ref[n+k] = main[k]
	}
	if angle < 0 {
		last := (n * angle) >> 5
		if last < -1 {
			inv := invAngle[mode]
			for k := last; k <= -1; k++ {
				ref[n+k] = side[(k*inv+128)>>8]
			}
		}
	}
	for j := 0; j < n; j++ {
		pos := (j + 1) * angle
		idx, fact := pos>>5, int32(pos&31)
		for i := 0; i < n; i++ {
			var v int32
			if fact != 0 {
				v = ((32-fact)*ref[n+i+idx+1] + fact*ref[n+i+idx+2] + 16) >> 5
			} else {
				v = ref[n+i+idx+1]
			}
			if vertical {
				dst.Set(dx+i, dy+j, int16(v))
			} else {
				dst.Set(dx+j, dy+i, int16(v))
			}
		}
	}
	if edge && angle == 0 {
		for j := 0; j < n; j++ {
			v := mathutil.ClipPel(main[1]+((side[1+j]-side[0])>>1), bitDepth)
			if vertical {
				dst.Set(dx, dy+j, v)
			} else {
				dst.Set(dx+j, dy, v)
			}
		}
	}
}

// MostProbableModes derives the three most probable luma modes from the
// left and above candidates. Unavailable or non-intra neighbours, and an
// above neighbour outside the current CTU row, count as DC.
func MostProbableModes(left, above int) [3]int {
	if left == above {
		if left < 2 {
			return [3]int{cu.IntraPlanar, cu.IntraDC, cu.IntraVer}
		}
		return [3]int{left, 2 + (left+29)%32, 2 + (left-2+1)%32}
	}
	m := [3]int{left, above, 0}
	switch {
	case left != cu.IntraPlanar && above != cu.IntraPlanar:
		m[2] = cu.IntraPlanar
	case left != cu.IntraDC && above != cu.IntraDC:
		m[2] = cu.IntraDC
	default:
		m[2] = cu.IntraVer
	}
	return m
}

// ChromaModes returns the candidate chroma modes for a luma mode, indexed
// by intra_chroma_pred_mode. A fixed candidate equal to the luma mode is
// replaced by mode 34.
func ChromaModes(luma int) [5]int {
	m := [5]int{cu.IntraPlanar, cu.IntraVer, cu.IntraHor, cu.IntraDC, luma}
	for i := 0; i < 4; i++ {
		if m[i] == luma {
			m[i] = cu.IntraDiagonal
		}
	}
	return m
}
