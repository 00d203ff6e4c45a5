package predict

import (
	"github.com/nicolegarcia/MV-HEVC/internal/cu"
	"github.com/nicolegarcia/MV-HEVC/internal/picture"
	"github.com/nicolegarcia/MV-HEVC/internal/pool"
)

// CameraParams converts depth to disparity between two views:
// disparity = (Scale*depth + Offset<<bitDepth) >> (bitDepth+Precision+2),
// in quarter luma samples.
type CameraParams struct {
	Scale     int
	Offset    int
	Precision int
}

// DisparityLUT maps every depth value to a horizontal disparity.
type DisparityLUT struct {
	lut []int32
}

// NewDisparityLUT tabulates the disparity of every depth value.
func NewDisparityLUT(cp CameraParams, bitDepth int) *DisparityLUT {
	n := 1 << uint(bitDepth)
	log2Div := uint(bitDepth + cp.Precision + 2)
	l := &DisparityLUT{lut: make([]int32, n)}
	for d := 0; d < n; d++ {
		v := int64(cp.Scale)*int64(d) + int64(cp.Offset)<<uint(bitDepth) + int64(1)<<(log2Div-1)
		l.lut[d] = int32(v >> log2Div)
	}
	return l
}

// Disparity returns the quarter-sample disparity of depth value d.
func (l *DisparityLUT) Disparity(d int) int32 {
	return l.lut[min(max(d, 0), len(l.lut)-1)]
}

// DepthToDisparity converts the block of depth at (x, y) to a disparity
// from the maximum of its four corners.
func (l *DisparityLUT) DepthToDisparity(depth *picture.Plane, x, y, w, h int) int32 {
	m := depth.Clamped(x, y)
	m = max(m, depth.Clamped(x+w-1, y))
	m = max(m, depth.Clamped(x, y+h-1))
	m = max(m, depth.Clamped(x+w-1, y+h-1))
	return l.Disparity(int(m))
}

const vspBlock = 4

// PredictVSP synthesises the luma block at picture position (x, y) and its
// chroma from the inter-view reference ref. Each 4x4 sub-block uses the
// disparity of the reference-view depth it maps to under dv.
func PredictVSP(dst *picture.Yuv, dx, dy int, ref, depth *picture.Yuv, x, y, w, h int, dv cu.MV, lut *DisparityLUT, bitDepth int) {
	ox, oy := int((dv.X+2)>>2), int((dv.Y+2)>>2)
	tmp := pool.GetInt16(vspBlock * vspBlock)
	defer pool.PutInt16(tmp)
	for j := 0; j < h; j += vspBlock {
		for i := 0; i < w; i += vspBlock {
			disp := lut.DepthToDisparity(depth.Plane(cu.Y), x+i+ox, y+j+oy, vspBlock, vspBlock)
			mv := cu.MV{X: disp}
			Interp(ref.Plane(cu.Y), cu.Y, x+i, y+j, vspBlock, vspBlock, mv, bitDepth, tmp)
			StoreUni(dst.Plane(cu.Y), dx+i, dy+j, vspBlock, vspBlock, tmp, bitDepth)
			const cb = vspBlock / 2
			for c := cu.Cb; c <= cu.Cr; c++ {
				Interp(ref.Plane(c), c, (x+i)/2, (y+j)/2, cb, cb, mv, bitDepth, tmp)
				StoreUni(dst.Plane(c), (dx+i)/2, (dy+j)/2, cb, cb, tmp, bitDepth)
			}
		}
	}
}
