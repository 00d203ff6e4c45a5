// Package tquant implements the integer transforms, scalar quantisation,
// rate-distortion optimised quantisation and sign data hiding.
package tquant

import "github.com/nicolegarcia/MV-HEVC/internal/pool"

// MaxLog2TrSize is the largest transform size.
const MaxLog2TrSize = 5

// cosTab[m] is the integer basis value for the angle m*pi/64.
var cosTab = [33]int32{
	64, 90, 90, 90, 89, 88, 87, 85, 83, 82, 80, 78, 75, 73, 70, 67,
	64, 61, 57, 54, 50, 46, 43, 38, 36, 31, 25, 22, 18, 13, 9, 4, 0,
}

// dctMat[log2N-2] is the N-point DCT basis, row k holding frequency k.
var dctMat [4][]int32

var dstMat = []int32{
	29, 55, 74, 84,
	74, 74, 0, -74,
	84, -29, -74, 55,
	55, -84, 74, -29,
}

func basis(m int) int32 {
	m &= 127
	switch {
	case m <= 32:
		return cosTab[m]
	case m <= 64:
		return -cosTab[64-m]
	case m <= 96:
		return -cosTab[m-64]
	}
	return cosTab[128-m]
}

func init() {
	for l := 2; l <= MaxLog2TrSize; l++ {
		n := 1 << uint(l)
		step := 32 / n
		m := make([]int32, n*n)
		for k := 0; k < n; k++ {
			for j := 0; j < n; j++ {
				m[k*n+j] = basis((2*j + 1) * k * step)
			}
		}
		dctMat[l-2] = m
	}
}

func matrix(log2N int, dst bool) []int32 {
	if dst {
		return dstMat
	}
	return dctMat[log2N-2]
}

func round(v int64, shift uint) int64 {
	if shift == 0 {
		return v
	}
	return (v + 1<<(shift-1)) >> shift
}

func clip16(v int64) int32 {
	return int32(min(max(v, -32768), 32767))
}

// Forward transforms the N x N residual block resid (raster order) into
// out. dst selects the 4x4 DST used for intra luma.
func Forward(resid []int32, log2N, bitDepth int, dst bool, out []int32) {
	n := 1 << uint(log2N)
	m := matrix(log2N, dst)
	shift1 := uint(log2N - 1 + bitDepth - 8)
	shift2 := uint(log2N + 6)

	tmp := pool.GetInt32(n * n)
	defer pool.PutInt32(tmp)
	// Rows: tmp[i][k] = sum_j resid[i][j] * m[k][j].
	for i := 0; i < n; i++ {
		row := resid[i*n : i*n+n]
		for k := 0; k < n; k++ {
			bk := m[k*n : k*n+n]
			var s int64
			for j, v := range row {
				s += int64(v) * int64(bk[j])
			}
			tmp[i*n+k] = int32(round(s, shift1))
		}
	}
	// Columns: out[k][l] = sum_i m[k][i] * tmp[i][l].
	for k := 0; k < n; k++ {
		bk := m[k*n : k*n+n]
		for l := 0; l < n; l++ {
			var s int64
			for i, b := range bk {
				s += int64(b) * int64(tmp[i*n+l])
			}
			out[k*n+l] = int32(round(s, shift2))
		}
	}
}

// Inverse reconstructs the residual from dequantised coefficients. The
// intermediate values are clipped to 16 bits.
func Inverse(coeff []int32, log2N, bitDepth int, dst bool, out []int32) {
	n := 1 << uint(log2N)
	m := matrix(log2N, dst)
	const shift1 = 7
	shift2 := uint(12 - (bitDepth - 8))

	tmp := pool.GetInt32(n * n)
	defer pool.PutInt32(tmp)
	// Columns: tmp[i][l] = sum_k m[k][i] * coeff[k][l].
	for l := 0; l < n; l++ {
		for i := 0; i < n; i++ {
			var s int64
			for k := 0; k < n; k++ {
				s += int64(m[k*n+i]) * int64(coeff[k*n+l])
			}
			tmp[i*n+l] = clip16(round(s, shift1))
		}
	}
	// Rows: out[i][j] = sum_l tmp[i][l] * m[l][j].
	for i := 0; i < n; i++ {
		row := tmp[i*n : i*n+n]
		for j := 0; j < n; j++ {
			var s int64
			for l, v := range row {
				s += int64(v) * int64(m[l*n+j])
			}
			out[i*n+j] = clip16(round(s, shift2))
		}
	}
}
