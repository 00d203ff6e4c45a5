package tquant

import "github.com/nicolegarcia/MV-HEVC/internal/cu"

var defaultIntra8x8 = [64]uint8{
	16, 16, 16, 16, 17, 18, 21, 24,
	16, 16, 16, 16, 17, 19, 22, 25,
	16, 16, 17, 18, 20, 22, 25, 29,
	16, 16, 18, 21, 24, 27, 31, 36,
	17, 17, 20, 24, 30, 35, 41, 47,
	18, 19, 22, 27, 35, 44, 54, 65,
	21, 22, 25, 31, 41, 54, 70, 88,
	24, 25, 29, 36, 47, 65, 88, 115,
}

var defaultInter8x8 = [64]uint8{
	16, 16, 16, 16, 17, 18, 20, 24,
	16, 16, 16, 17, 18, 20, 24, 25,
	16, 16, 17, 18, 20, 24, 25, 28,
	16, 17, 18, 20, 24, 25, 28, 33,
	17, 18, 20, 24, 25, 28, 33, 41,
	18, 20, 24, 25, 28, 33, 41, 54,
	20, 24, 25, 28, 33, 41, 54, 71,
	24, 25, 28, 33, 41, 54, 71, 91,
}

// ScalingList holds the expanded weighting matrices for every TU size,
// prediction type and component, in raster order.
type ScalingList struct {
	m [MaxLog2TrSize + 1][2][3][]uint8
}

// DefaultScalingList returns the default lists: flat for 4x4 and the
// standard intra and inter 8x8 matrices, upsampled for 16x16 and 32x32 with
// a DC of 16.
func DefaultScalingList() *ScalingList {
	s := &ScalingList{}
	for log2 := 2; log2 <= MaxLog2TrSize; log2++ {
		for intra := 0; intra < 2; intra++ {
			base := &defaultInter8x8
			if intra == 1 {
				base = &defaultIntra8x8
			}
			for c := 0; c < 3; c++ {
				s.m[log2][intra][c] = expand(base, log2)
			}
		}
	}
	return s
}

func expand(base *[64]uint8, log2 int) []uint8 {
	size := 1 << uint(log2)
	out := make([]uint8, size*size)
	if log2 == 2 {
		for i := range out {
			out[i] = scalingNeutral
		}
		return out
	}
	ratio := size / 8
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			out[y*size+x] = base[(y/ratio)*8+x/ratio]
		}
	}
	if log2 > 3 {
		out[0] = scalingNeutral
	}
	return out
}

// Factor returns the weight applied to raster position pos of a TU.
func (s *ScalingList) Factor(log2Size int, intra bool, c cu.Comp, pos int) int {
	i := 0
	if intra {
		i = 1
	}
	return int(s.m[log2Size][i][c][pos])
}
