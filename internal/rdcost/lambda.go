package rdcost

import (
	"math"

	"github.com/nicolegarcia/MV-HEVC/internal/mathutil"
	"github.com/nicolegarcia/MV-HEVC/internal/tquant"
)

// LambdaParams are the inputs of the slice lambda.
type LambdaParams struct {
	QP       int
	Intra    bool
	BitDepth int
	// FullNBit measures distortion at the coded bit depth instead of
	// scaling it to 8 bits.
	FullNBit bool
	// NumBFrames is the number of B pictures in the GOP.
	NumBFrames int
	// QPFactor is the GOP entry factor of inter slices. Zero selects 0.4624.
	QPFactor float64
	// Depth is the hierarchy depth of the picture inside the GOP.
	Depth int
	// TemporalScale multiplies inter lambdas per temporal layer. Zero
	// selects 1.
	TemporalScale float64
	// HadamardME is set when motion estimation uses SATD.
	HadamardME bool
}

const (
	defaultQPFactor = 0.4624
	intraQPFactor   = 0.57
)

// SliceLambda returns the lambda and the clipped QP of a slice.
func SliceLambda(p LambdaParams) (float64, int) {
	qpTemp := float64(p.QP - 12)
	if p.FullNBit {
		qpTemp += float64(6 * (p.BitDepth - 8))
	}
	scale := 1 - mathutil.Clip3(0, 0.5, 0.05*float64(p.NumBFrames))
	factor := p.QPFactor
	if factor == 0 {
		factor = defaultQPFactor
	}
	if p.Intra {
		factor = intraQPFactor * scale
	}
	lambda := factor * math.Pow(2, qpTemp/3)
	if p.Depth > 0 {
		lambda *= mathutil.Clip3(2, 4, qpTemp/6)
	}
	if !p.Intra {
		if !p.HadamardME {
			lambda *= 0.95
		}
		if p.TemporalScale != 0 {
			lambda *= p.TemporalScale
		}
	}
	bdOffset := 6 * (max(p.BitDepth, 8) - 8)
	return lambda, mathutil.Clip3(-bdOffset, 51, p.QP)
}

// ChromaWeight returns the weight of chroma distortion for luma qp and a
// chroma QP offset.
func ChromaWeight(qp, chromaOffset int) float64 {
	qpc := tquant.ChromaQP(mathutil.Clip3(0, 57, qp+chromaOffset))
	return math.Pow(2, float64(qp-qpc)/3)
}

// QPFromLambda returns the QP whose slice lambda is closest to lambda.
func QPFromLambda(lambda float64) int {
	return int(math.Round(4.2005*math.Log(lambda) + 13.7122))
}

// LambdaForQP scales lambda, valid at QP from, to QP to.
func LambdaForQP(lambda float64, from, to int) float64 {
	return lambda * math.Pow(2, float64(to-from)/3)
}

// PrecompressCandidates lists the QPs tried for a picture in the order
// qp, qp-1, qp+1, qp-2, qp+2, ... up to deltaQPRD away, clipped to
// [minQP, 51] without repetition.
func PrecompressCandidates(qp, deltaQPRD, minQP int) []int {
	out := make([]int, 0, 2*deltaQPRD+1)
	seen := make(map[int]bool, 2*deltaQPRD+1)
	for i := 0; i <= 2*deltaQPRD; i++ {
		d := (i + 1) >> 1
		if i%2 == 1 {
			d = -d
		}
		q := mathutil.Clip3(minQP, 51, qp+d)
		if !seen[q] {
			seen[q] = true
			out = append(out, q)
		}
	}
	return out
}

// AdaptiveSearchRange narrows the motion search range for references
// close to the current picture.
func AdaptiveSearchRange(maxSR, deltaPOC, gopSize int) int {
	if gopSize <= 0 {
		return maxSR
	}
	sr := (maxSR*mathutil.Abs(deltaPOC) + gopSize/2) / gopSize
	return mathutil.Clip3(min(8, maxSR), maxSR, sr)
}
