package predict

import (
	"github.com/nicolegarcia/MV-HEVC/internal/cu"
	"github.com/nicolegarcia/MV-HEVC/internal/mathutil"
	"github.com/nicolegarcia/MV-HEVC/internal/picture"
	"github.com/nicolegarcia/MV-HEVC/internal/pool"
)

// Interpolation works on 14-bit intermediates offset by -InternalOffset so
// they fit int16.
const (
	InternalPrec   = 14
	InternalOffset = 1 << (InternalPrec - 1)
	filterPrec     = 6
)

var lumaFilter = [4][8]int32{
	{0, 0, 0, 64, 0, 0, 0, 0},
	{-1, 4, -10, 58, 17, -5, 1, 0},
	{-1, 4, -11, 40, 40, -11, 4, -1},
	{0, 1, -5, 17, 58, -10, 4, -1},
}

var chromaFilter = [8][4]int32{
	{0, 64, 0, 0},
	{-2, 58, 10, -2},
	{-4, 54, 16, -2},
	{-6, 46, 28, -4},
	{-4, 36, 36, -4},
	{-4, 28, 46, -6},
	{-2, 16, 54, -4},
	{-2, 10, 58, -2},
}

// Interp fills dst (w x h, stride w) with the intermediate samples of the
// block at plane position (x, y) of ref displaced by mv. mv is in quarter
// luma samples; for chroma it is read in eighth chroma samples. Reads
// outside ref are clamped to its border.
func Interp(ref *picture.Plane, c cu.Comp, x, y, w, h int, mv cu.MV, bitDepth int, dst []int16) {
	var fx, fy int
	var ix, iy int
	var taps int
	var coefX, coefY []int32
	if c.IsChroma() {
		fx, fy = int(mv.X&7), int(mv.Y&7)
		ix, iy = x+int(mv.X>>3), y+int(mv.Y>>3)
		taps = 4
		coefX, coefY = chromaFilter[fx][:], chromaFilter[fy][:]
	} else {
		fx, fy = int(mv.X&3), int(mv.Y&3)
		ix, iy = x+int(mv.X>>2), y+int(mv.Y>>2)
		taps = 8
		coefX, coefY = lumaFilter[fx][:], lumaFilter[fy][:]
	}
	headroom := uint(InternalPrec - bitDepth)
	half := taps/2 - 1

	switch {
	case fx == 0 && fy == 0:
		for j := 0; j < h; j++ {
			for i := 0; i < w; i++ {
				dst[j*w+i] = int16(int32(ref.Clamped(ix+i, iy+j))<<headroom - InternalOffset)
			}
		}
	case fy == 0:
		shift := uint(filterPrec) - headroom
		for j := 0; j < h; j++ {
			for i := 0; i < w; i++ {
				var sum int32
				for k := 0; k < taps; k++ {
					sum += coefX[k] * int32(ref.Clamped(ix+i+k-half, iy+j))
				}
				dst[j*w+i] = int16((sum - InternalOffset<<shift) >> shift)
			}
		}
	case fx == 0:
		shift := uint(filterPrec) - headroom
		for j := 0; j < h; j++ {
			for i := 0; i < w; i++ {
				var sum int32
				for k := 0; k < taps; k++ {
					sum += coefY[k] * int32(ref.Clamped(ix+i, iy+j+k-half))
				}
				dst[j*w+i] = int16((sum - InternalOffset<<shift) >> shift)
			}
		}
	default:
		th := h + taps - 1
		tmp := pool.GetInt16(w * th)
		defer pool.PutInt16(tmp)
		shift := uint(filterPrec) - headroom
		for j := 0; j < th; j++ {
			for i := 0; i < w; i++ {
				var sum int32
				for k := 0; k < taps; k++ {
					sum += coefX[k] * int32(ref.Clamped(ix+i+k-half, iy+j-half))
				}
				tmp[j*w+i] = int16((sum - InternalOffset<<shift) >> shift)
			}
		}
		for j := 0; j < h; j++ {
			for i := 0; i < w; i++ {
				var sum int32
				for k := 0; k < taps; k++ {
					sum += coefY[k] * int32(tmp[(j+k)*w+i])
				}
				dst[j*w+i] = int16(sum >> filterPrec)
			}
		}
	}
}

// Weight is an explicit weighted prediction parameter of one list and
// component. Offset is in units of the 8-bit range.
type Weight struct {
	W      int32
	Offset int32
	Log2Wd int
}

// WeightSet holds the weights of both lists for all components.
type WeightSet [2][3]Weight

// StoreUni converts one intermediate block to samples.
func StoreUni(dst *picture.Plane, dx, dy, w, h int, src []int16, bitDepth int) {
	shift := uint(InternalPrec - bitDepth)
	off := int32(InternalOffset)
	if shift > 0 {
		off += 1 << (shift - 1)
	}
	for j := 0; j < h; j++ {
		row := dst.Row(dx, dy+j, w)
		for i := range row {
			row[i] = mathutil.ClipPel((int32(src[j*w+i])+off)>>shift, bitDepth)
		}
	}
}

// StoreBi averages two intermediate blocks into samples.
func StoreBi(dst *picture.Plane, dx, dy, w, h int, a, b []int16, bitDepth int) {
	shift := uint(InternalPrec + 1 - bitDepth)
	off := int32(1)<<(shift-1) + 2*InternalOffset
	for j := 0; j < h; j++ {
		row := dst.Row(dx, dy+j, w)
		for i := range row {
			k := j*w + i
			row[i] = mathutil.ClipPel((int32(a[k])+int32(b[k])+off)>>shift, bitDepth)
		}
	}
}

func weightShift(bitDepth int) int {
	return max(2, InternalPrec-bitDepth)
}

// StoreWeightedUni applies an explicit weight to one intermediate block.
func StoreWeightedUni(dst *picture.Plane, dx, dy, w, h int, src []int16, wt Weight, bitDepth int) {
	shift := uint(wt.Log2Wd + weightShift(bitDepth))
	var round int32
	if shift > 0 {
		round = 1 << (shift - 1)
	}
	o := wt.Offset << uint(bitDepth-8)
	for j := 0; j < h; j++ {
		row := dst.Row(dx, dy+j, w)
		for i := range row {
			v := (wt.W*(int32(src[j*w+i])+InternalOffset)+round)>>shift + o
			row[i] = mathutil.ClipPel(v, bitDepth)
		}
	}
}

// StoreWeightedBi combines two intermediate blocks with explicit weights.
func StoreWeightedBi(dst *picture.Plane, dx, dy, w, h int, a, b []int16, w0, w1 Weight, bitDepth int) {
	shift := uint(w0.Log2Wd + weightShift(bitDepth) + 1)
	round := int32(1) << (shift - 1)
	o := (w0.Offset + w1.Offset) << uint(bitDepth-8)
	for j := 0; j < h; j++ {
		row := dst.Row(dx, dy+j, w)
		for i := range row {
			k := j*w + i
			v := (w0.W*(int32(a[k])+InternalOffset) + w1.W*(int32(b[k])+InternalOffset) + round + o<<(shift-1)) >> shift
			row[i] = mathutil.ClipPel(v, bitDepth)
		}
	}
}
