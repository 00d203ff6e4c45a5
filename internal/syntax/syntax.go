// Package syntax codes the CU-level syntax elements of slice data. Writer
// and Reader have two implementations each: context-adaptive arithmetic
// coding over the cabac package, and the legacy variable-length path over
// Exp-Golomb codes.
package syntax

import (
	"github.com/pkg/errors"

	"github.com/nicolegarcia/MV-HEVC/internal/cabac"
	"github.com/nicolegarcia/MV-HEVC/internal/cu"
)

// ErrConformance reports a syntax element outside its legal range.
var ErrConformance = errors.New("syntax: bitstream conformance violation")

// MaxCUQPDelta bounds the magnitude of cu_qp_delta for 8-bit video.
const MaxCUQPDelta = 26

// PartModeInfo carries what part_mode binarisation depends on.
type PartModeInfo struct {
	Intra   bool
	AtMinCU bool // CU is at the minimum CU size
	Log2CU  int
	AMP     bool
}

// MPMFunc returns the most probable luma modes of PU i of a CU. prev holds
// the modes of PUs 0 to i-1, which the list of PU i may depend on.
type MPMFunc func(i int, prev []int) [3]int

// Writer emits CU syntax. Values passed in are assumed legal.
type Writer interface {
	SplitFlag(split bool, ctxInc int)
	SkipFlag(skip bool, ctxInc int)
	PredMode(intra bool)
	PartMode(part cu.PartSize, info PartModeInfo)
	// IntraLumaModes codes the luma modes of the PUs of an intra CU, each
	// against its own most probable mode list.
	IntraLumaModes(modes []int, mpm MPMFunc)
	IntraChromaMode(idx int)
	MergeFlag(merge bool)
	MergeIdx(idx, numCand int)
	InterDir(dir int, ctxInc int, allowBi bool)
	RefIdx(idx, numRef int)
	Mvd(mvd cu.MV)
	MvpIdx(idx int)
	ICFlag(ic bool)
	RootCbf(cbf bool)
	SplitTransform(split bool, log2Size int)
	CbfLuma(cbf bool, trDepth int)
	CbfChroma(cbf bool, trDepth int)
	QPDelta(dqp int)
	Residual(coeff []int32, log2Size int, c cu.Comp, scan ScanIdx, signHiding bool)
	// EndOfSlice codes end_of_slice_segment_flag.
	EndOfSlice(last bool)
	// Finish closes the current substream: flush plus stop bit and byte
	// alignment.
	Finish()
	Contexts() cabac.ContextSet
	SetContexts(cs cabac.ContextSet)
	// FracBits returns the bits produced so far in 1/32768 bit units.
	FracBits() uint64
}

// Reader parses CU syntax. Errors are sticky: after the first failure every
// method returns a legal placeholder value and Err reports the failure.
type Reader interface {
	SplitFlag(ctxInc int) bool
	SkipFlag(ctxInc int) bool
	PredMode() bool
	PartMode(info PartModeInfo) cu.PartSize
	IntraLumaModes(n int, mpm MPMFunc) []int
	IntraChromaMode() int
	MergeFlag() bool
	MergeIdx(numCand int) int
	InterDir(ctxInc int, allowBi bool) int
	RefIdx(numRef int) int
	Mvd() cu.MV
	MvpIdx() int
	ICFlag() bool
	RootCbf() bool
	SplitTransform(log2Size int) bool
	CbfLuma(trDepth int) bool
	CbfChroma(trDepth int) bool
	QPDelta() int
	Residual(coeff []int32, log2Size int, c cu.Comp, scan ScanIdx, signHiding bool)
	EndOfSlice() bool
	// Finish checks the end of the current substream.
	Finish()
	Contexts() cabac.ContextSet
	SetContexts(cs cabac.ContextSet)
	Err() error
}

// RemIntraMode maps a luma mode that is not in mpm to its 5-bit code.
func RemIntraMode(mode int, mpm [3]int) int {
	s := sortedMPM(mpm)
	for i := 2; i >= 0; i-- {
		if mode > s[i] {
			mode--
		}
	}
	return mode
}

// IntraModeFromRem inverts RemIntraMode.
func IntraModeFromRem(rem int, mpm [3]int) int {
	s := sortedMPM(mpm)
	for i := 0; i < 3; i++ {
		if rem >= s[i] {
			rem++
		}
	}
	return rem
}

func sortedMPM(mpm [3]int) [3]int {
	s := mpm
	if s[0] > s[1] {
		s[0], s[1] = s[1], s[0]
	}
	if s[0] > s[2] {
		s[0], s[2] = s[2], s[0]
	}
	if s[1] > s[2] {
		s[1], s[2] = s[2], s[1]
	}
	return s
}

// mpmIndex returns the position of mode in mpm or -1.
func mpmIndex(mode int, mpm [3]int) int {
	for i, m := range mpm {
		if m == mode {
			return i
		}
	}
	return -1
}
