package predict

import (
	"math/bits"

	"github.com/nicolegarcia/MV-HEVC/internal/cu"
	"github.com/nicolegarcia/MV-HEVC/internal/mathutil"
	"github.com/nicolegarcia/MV-HEVC/internal/picture"
)

const (
	icShift    = 13
	icMaxA     = 1<<6 - 1
	icA1Bits   = 15
	icA2Bits   = 6
	icAccuracy = 15
)

// icRecip[i-1] is 2^15 / i rounded, for the normalised denominators.
var icRecip [63]int64

func init() {
	for i := 1; i <= len(icRecip); i++ {
		icRecip[i-1] = (1<<15 + int64(i)/2) / int64(i)
	}
}

// ICParams is a linear illumination model: pred' = (A*pred >> Shift) + B.
type ICParams struct {
	A     int32
	B     int32
	Shift uint
}

// Identity reports whether p leaves samples unchanged.
func (p ICParams) Identity() bool { return p.A == 1<<p.Shift && p.B == 0 }

// ICNeighbours selects which template rows are used.
type ICNeighbours struct {
	Left, Above bool
}

// EstimateIC fits the illumination model by least squares over the row
// above and the column left of the current square block in cur and of the
// reference block at the integer displacement (dx, dy) in ref. Positions
// are in the plane of the component. A template is used only when both it
// and its reference counterpart lie inside the picture. The division uses
// a reciprocal table on operands normalised to a few significant bits, so
// encoder and decoder derive identical parameters.
func EstimateIC(cur, ref *picture.Plane, x, y, w, h, dx, dy int, nb ICNeighbours, bitDepth int) ICParams {
	var sx, sy, sxx, sxy int64
	add := func(cx, cy int) {
		r := int64(ref.Clamped(cx+dx, cy+dy))
		c := int64(cur.At(cx, cy))
		sx += r
		sy += c
		sxx += r * r
		sxy += r * c
	}
	log2W := mathutil.Log2(w)
	countShift := 0
	if nb.Above && y > 0 && y+dy > 0 {
		for i := 0; i < w; i++ {
			add(x+i, y-1)
		}
		countShift += log2W
	}
	if nb.Left && x > 0 && x+dx > 0 {
		for j := 0; j < h; j++ {
			add(x-1, y+j)
		}
		if countShift > 0 {
			countShift++
		} else {
			countShift = log2W
		}
	}
	if countShift == 0 {
		return ICParams{A: 1}
	}

	if t := bitDepth + log2W + 1 - icAccuracy; t > 0 {
		rnd := int64(1) << uint(t-1)
		sx = (sx + rnd) >> uint(t)
		sy = (sy + rnd) >> uint(t)
		sxx = (sxx + rnd) >> uint(t)
		sxy = (sxy + rnd) >> uint(t)
		countShift -= t
	}

	a1 := sxy<<uint(countShift) - sy*sx
	a2 := sxx<<uint(countShift) - sx*sx
	s1 := max(bits.Len64(uint64(mathutil.Abs(a1)))-icA1Bits, 0)
	s2 := max(bits.Len64(uint64(mathutil.Abs(a2)))-icA2Bits, 0)
	a1s, a2s := a1>>uint(s1), a2>>uint(s2)
	var a int64
	if a2s >= 1 {
		a = a1s * icRecip[a2s-1]
	}
	if sa := s2 + icAccuracy - icShift - s1; sa < 0 {
		a <<= uint(-sa)
	} else {
		a >>= uint(sa)
	}
	a = mathutil.Clip3(-(1 << 15), 1<<15-1, a)

	shift := icShift
	if a > icMaxA || a < -icMaxA-1 {
		n := 9 - mathutil.RedundantSignBits(int32(a))
		a >>= uint(n)
		shift -= n
	}
	b := (sy - (a*sx)>>uint(shift) + 1<<uint(countShift-1)) >> uint(countShift)
	return ICParams{A: int32(a), B: int32(b), Shift: uint(shift)}
}

// ApplyIC transforms an intermediate block in place.
func ApplyIC(blk []int16, p ICParams, bitDepth int) {
	headroom := uint(InternalPrec - bitDepth)
	lo := -int32(InternalOffset)
	hi := int32(1)<<InternalPrec - 1 - InternalOffset
	for i, v := range blk {
		s := int32(v) + InternalOffset
		s = (p.A*s)>>p.Shift + p.B<<headroom
		blk[i] = int16(mathutil.Clip3(lo, hi, s-InternalOffset))
	}
}

// icDisplacement rounds a vector to the integer template offset used for
// component c.
func icDisplacement(mv cu.MV, c cu.Comp) (int, int) {
	if c.IsChroma() {
		return int((mv.X + 4) >> 3), int((mv.Y + 4) >> 3)
	}
	return int((mv.X + 2) >> 2), int((mv.Y + 2) >> 2)
}
