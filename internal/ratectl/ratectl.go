// Package ratectl supplies per-CTU lambda and QP from a bit budget and
// learns from the bits each CTU actually consumed.
package ratectl

import (
	"math"

	"github.com/nicolegarcia/MV-HEVC/internal/mathutil"
	"github.com/nicolegarcia/MV-HEVC/internal/rdcost"
)

// Supplier is the rate control collaborator of the slice encoder.
type Supplier interface {
	// PictureStart begins a picture with a bit budget; sliceQP and
	// sliceLambda are the values chosen without rate control.
	PictureStart(intra bool, targetBits int64, sliceQP int, sliceLambda float64)
	// CTUEstimate returns the lambda and QP to code CTU addr with.
	CTUEstimate(addr int) (lambda float64, qp int)
	// CTUDone reports the bits CTU addr consumed with the given QP and
	// lambda.
	CTUDone(addr int, bits int64, qp int, lambda float64)
}

// Model limits.
const (
	initAlpha = 6.7542
	initBeta  = -1.7860
	minAlpha  = 0.05
	maxAlpha  = 500.0
	minBeta   = -3.0
	maxBeta   = -0.1
	alphaStep = 0.1
	betaStep  = 0.05
	maxDQP    = 2
	minBpp    = 0.0001
)

// model is the R-lambda relation lambda = alpha * bpp^beta.
type model struct {
	alpha, beta float64
}

// LambdaDomain is the R-lambda rate controller: each CTU gets an even
// share of the remaining budget per pixel, converted to lambda by the
// picture type's model and clipped near the slice QP.
type LambdaDomain struct {
	pixels []int // per CTU

	models [2]model // inter, intra
	cur    *model

	remainingBits   int64
	remainingPixels int
	sliceQP         int
	sliceLambda     float64
}

// NewLambdaDomain creates a controller for CTUs of the given pixel counts.
func NewLambdaDomain(pixelsPerCTU []int) *LambdaDomain {
	r := &LambdaDomain{pixels: append([]int(nil), pixelsPerCTU...)}
	for i := range r.models {
		r.models[i] = model{alpha: initAlpha, beta: initBeta}
	}
	return r
}

func (r *LambdaDomain) PictureStart(intra bool, targetBits int64, sliceQP int, sliceLambda float64) {
	r.cur = &r.models[0]
	if intra {
		r.cur = &r.models[1]
	}
	r.remainingBits = targetBits
	r.remainingPixels = 0
	for _, p := range r.pixels {
		r.remainingPixels += p
	}
	r.sliceQP = sliceQP
	r.sliceLambda = sliceLambda
}

func (r *LambdaDomain) CTUEstimate(addr int) (float64, int) {
	bpp := minBpp
	if r.remainingPixels > 0 {
		bpp = max(float64(r.remainingBits)/float64(r.remainingPixels), minBpp)
	}
	lambda := r.cur.alpha * math.Pow(bpp, r.cur.beta)
	lo := rdcost.LambdaForQP(r.sliceLambda, 0, -maxDQP)
	hi := rdcost.LambdaForQP(r.sliceLambda, 0, maxDQP)
	lambda = mathutil.Clip3(max(lo, 0.1), min(hi, 10000), lambda)
	qp := mathutil.Clip3(r.sliceQP-maxDQP, r.sliceQP+maxDQP, rdcost.QPFromLambda(lambda))
	return lambda, mathutil.Clip3(0, 51, qp)
}

func (r *LambdaDomain) CTUDone(addr int, bits int64, qp int, lambda float64) {
	px := r.pixels[addr]
	r.remainingBits -= bits
	r.remainingPixels -= px
	bpp := float64(bits) / float64(px)
	m := r.cur
	if bpp < minBpp {
		m.alpha = mathutil.Clip3(minAlpha, maxAlpha, m.alpha*(1-alphaStep/2))
		m.beta = mathutil.Clip3(minBeta, maxBeta, m.beta*(1-betaStep/2))
		return
	}
	calc := m.alpha * math.Pow(bpp, m.beta)
	calc = mathutil.Clip3(lambda/10, lambda*10, calc)
	diff := math.Log(lambda) - math.Log(calc)
	lnBpp := mathutil.Clip3(-5, -0.1, math.Log(bpp))
	m.alpha = mathutil.Clip3(minAlpha, maxAlpha, m.alpha+alphaStep*diff*m.alpha)
	m.beta = mathutil.Clip3(minBeta, maxBeta, m.beta+betaStep*diff*lnBpp)
}

// Alpha and Beta expose the model of the current picture type.
func (r *LambdaDomain) Alpha() float64 { return r.cur.alpha }

func (r *LambdaDomain) Beta() float64 { return r.cur.beta }
