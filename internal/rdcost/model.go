// Package rdcost is the Lagrangian cost model that arbitrates every
// encoder decision: cost = distortion + lambda * bits.
package rdcost

import (
	"math"

	"github.com/nicolegarcia/MV-HEVC/internal/cabac"
)

// Model converts distortion and rate into a comparable cost.
type Model struct {
	Lambda       float64
	SqrtLambda   float64
	ChromaWeight float64
	Metric       Metric

	lambdaFix uint64 // Lambda in 1/256 units
}

// NewModel returns a model for lambda with chroma distortion weighted by
// chromaWeight.
func NewModel(lambda, chromaWeight float64, metric Metric) *Model {
	m := &Model{Metric: metric}
	m.SetLambda(lambda, chromaWeight)
	return m
}

// SetLambda changes the multiplier, for example after a rate control update.
func (m *Model) SetLambda(lambda, chromaWeight float64) {
	m.Lambda = lambda
	m.SqrtLambda = math.Sqrt(lambda)
	m.ChromaWeight = chromaWeight
	m.lambdaFix = uint64(math.Round(lambda * 256))
}

// Cost returns dist + lambda*bits, with fracBits in 1/32768 bit units.
func (m *Model) Cost(dist, fracBits uint64) float64 {
	return float64(dist) + m.Lambda*float64(fracBits)/cabac.FracOne
}

// MotionCost returns sad + sqrt(lambda)*bits, the cost of motion search
// where distortion is measured as SAD or SATD.
func (m *Model) MotionCost(sad uint64, bits int) float64 {
	return float64(sad) + m.SqrtLambda*float64(bits)
}

// ChromaDist weights chroma distortion by the luma to chroma QP gap.
func (m *Model) ChromaDist(d uint64) uint64 {
	return uint64(math.Round(float64(d) * m.ChromaWeight))
}

// ChromaLambda is the lambda used when quantising chroma.
func (m *Model) ChromaLambda() float64 {
	return m.Lambda / m.ChromaWeight
}

// Score is the integer form of Cost, scaled by 256:
//
//	score = rate * lambda + 256 * distortion
//
// with rate in 1/32768 bit units and lambda in 1/256 units.
func (m *Model) Score(dist, fracBits uint64) uint64 {
	return RDScore(dist, fracBits, m.lambdaFix)
}

// RDScore computes the integer rate-distortion score for a fixed-point
// lambda.
func RDScore(dist, fracBits, lambdaFix uint64) uint64 {
	return (fracBits*lambdaFix)>>cabac.FracShift + 256*dist
}
