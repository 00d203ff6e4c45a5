package syntax

import (
	"github.com/pkg/errors"

	"github.com/nicolegarcia/MV-HEVC/internal/bitio"
	"github.com/nicolegarcia/MV-HEVC/internal/cabac"
	"github.com/nicolegarcia/MV-HEVC/internal/cu"
)

// SBACReader parses syntax elements coded by SBACWriter.
type SBACReader struct {
	dec *cabac.Decoder
	br  *bitio.Reader
	ctx cabac.ContextSet
	e   error
}

// NewSBACReader starts arithmetic decoding of the substream in br.
func NewSBACReader(br *bitio.Reader, cs cabac.ContextSet) *SBACReader {
	return &SBACReader{dec: cabac.NewDecoder(br), br: br, ctx: cs}
}

// Reset starts decoding a new substream, keeping the contexts.
func (r *SBACReader) Reset(br *bitio.Reader) {
	r.br = br
	r.dec.Reset(br)
}

func (r *SBACReader) fail(err error) {
	if r.e == nil {
		r.e = err
	}
}

func (r *SBACReader) err() error {
	if r.e == nil {
		if err := r.br.Err(); err != nil {
			r.e = err
		}
	}
	return r.e
}

// Err returns the first error met while parsing.
func (r *SBACReader) Err() error { return r.err() }

func (r *SBACReader) bin(idx int) int {
	return r.dec.DecodeBin(&r.ctx[idx])
}

func (r *SBACReader) flag(idx int) bool { return r.bin(idx) != 0 }

func (r *SBACReader) SplitFlag(ctxInc int) bool { return r.flag(cabac.CtxSplitFlag + ctxInc) }
func (r *SBACReader) SkipFlag(ctxInc int) bool  { return r.flag(cabac.CtxSkipFlag + ctxInc) }
func (r *SBACReader) PredMode() bool            { return r.flag(cabac.CtxPredMode) }
func (r *SBACReader) MergeFlag() bool           { return r.flag(cabac.CtxMergeFlag) }
func (r *SBACReader) MvpIdx() int               { return r.bin(cabac.CtxMvpIdx) }
func (r *SBACReader) ICFlag() bool              { return r.flag(cabac.CtxICFlag) }
func (r *SBACReader) RootCbf() bool             { return r.flag(cabac.CtxRootCbf) }

func (r *SBACReader) SplitTransform(log2Size int) bool {
	return r.flag(cabac.CtxSplitTransform + 5 - log2Size)
}

func (r *SBACReader) CbfLuma(trDepth int) bool {
	inc := 0
	if trDepth == 0 {
		inc = 1
	}
	return r.flag(cabac.CtxCbfLuma + inc)
}

func (r *SBACReader) CbfChroma(trDepth int) bool {
	return r.flag(cabac.CtxCbfChroma + trDepth)
}

func (r *SBACReader) PartMode(info PartModeInfo) cu.PartSize {
	const c = cabac.CtxPartMode
	if info.Intra {
		if info.AtMinCU && !r.flag(c) {
			return cu.PartNxN
		}
		return cu.Part2Nx2N
	}
	if r.flag(c) {
		return cu.Part2Nx2N
	}
	ampAllowed := info.AMP && !info.AtMinCU
	if r.flag(c + 1) {
		if !ampAllowed || r.flag(c+3) {
			return cu.Part2NxN
		}
		if r.dec.DecodeBypass() != 0 {
			return cu.Part2NxnD
		}
		return cu.Part2NxnU
	}
	if info.AtMinCU && info.Log2CU != 3 {
		if !r.flag(c + 2) {
			return cu.PartNxN
		}
		return cu.PartNx2N
	}
	if !ampAllowed || r.flag(c+3) {
		return cu.PartNx2N
	}
	if r.dec.DecodeBypass() != 0 {
		return cu.PartnRx2N
	}
	return cu.PartnLx2N
}

func (r *SBACReader) IntraLumaModes(n int, mpm MPMFunc) []int {
	prev := make([]bool, n)
	for i := range prev {
		prev[i] = r.flag(cabac.CtxIntraLumaPred)
	}
	modes := make([]int, n)
	for i := range modes {
		list := mpm(i, modes[:i])
		if prev[i] {
			idx := 0
			if r.dec.DecodeBypass() != 0 {
				idx = 1 + r.dec.DecodeBypass()
			}
			modes[i] = list[idx]
			continue
		}
		modes[i] = IntraModeFromRem(int(r.dec.DecodeBypassBins(5)), list)
	}
	return modes
}

func (r *SBACReader) IntraChromaMode() int {
	if !r.flag(cabac.CtxIntraChroma) {
		return cu.ChromaDM
	}
	return int(r.dec.DecodeBypassBins(2))
}

func (r *SBACReader) MergeIdx(numCand int) int {
	idx := 0
	for idx < numCand-1 {
		var b int
		if idx == 0 {
			b = r.bin(cabac.CtxMergeIdx)
		} else {
			b = r.dec.DecodeBypass()
		}
		if b == 0 {
			break
		}
		idx++
	}
	return idx
}

func (r *SBACReader) InterDir(ctxInc int, allowBi bool) int {
	if allowBi && r.flag(cabac.CtxInterDir+ctxInc) {
		return cu.DirBi
	}
	if r.flag(cabac.CtxInterDir + 4) {
		return cu.DirL1
	}
	return cu.DirL0
}

func (r *SBACReader) RefIdx(numRef int) int {
	if numRef <= 1 || !r.flag(cabac.CtxRefIdx) {
		return 0
	}
	idx := 1
	for idx < numRef-1 {
		var b int
		if idx == 1 {
			b = r.bin(cabac.CtxRefIdx + 1)
		} else {
			b = r.dec.DecodeBypass()
		}
		if b == 0 {
			break
		}
		idx++
	}
	return idx
}

func (r *SBACReader) Mvd() cu.MV {
	nzX := r.flag(cabac.CtxMvd)
	nzY := r.flag(cabac.CtxMvd)
	gtX, gtY := false, false
	if nzX {
		gtX = r.flag(cabac.CtxMvd + 1)
	}
	if nzY {
		gtY = r.flag(cabac.CtxMvd + 1)
	}
	comp := func(nz, gt bool) int32 {
		if !nz {
			return 0
		}
		a := int32(1)
		if gt {
			a = 2 + int32(r.expGolombBypass(1))
		}
		if r.dec.DecodeBypass() != 0 {
			return -a
		}
		return a
	}
	x := comp(nzX, gtX)
	y := comp(nzY, gtY)
	return cu.MV{X: x, Y: y}
}

func (r *SBACReader) QPDelta() int {
	a := 0
	if r.flag(cabac.CtxQPDelta) {
		a = 1
		for a < 5 && r.flag(cabac.CtxQPDelta+1) {
			a++
		}
	}
	if a == 5 {
		a += int(r.expGolombBypass(0))
	}
	if a > 0 && r.dec.DecodeBypass() != 0 {
		a = -a
	}
	if a < -MaxCUQPDelta || a > MaxCUQPDelta {
		r.fail(errors.Wrapf(ErrConformance, "cu_qp_delta %d", a))
		return 0
	}
	return a
}

func (r *SBACReader) EndOfSlice() bool {
	return r.dec.DecodeTerminate() != 0
}

// Finish checks the arithmetic decoder stop pattern and the trailing bits
// of the substream.
func (r *SBACReader) Finish() {
	if err := r.dec.Finish(); err != nil {
		r.fail(err)
	}
}

// EndOfSubstream parses end_of_subset_one_bit and closes the substream.
func (r *SBACReader) EndOfSubstream() {
	if r.dec.DecodeTerminate() != 1 {
		r.fail(errors.Wrap(ErrConformance, "end_of_subset_one_bit"))
		return
	}
	r.Finish()
}

func (r *SBACReader) Contexts() cabac.ContextSet      { return r.ctx }
func (r *SBACReader) SetContexts(cs cabac.ContextSet) { r.ctx = cs }

// maxEGPrefix bounds bypass Exp-Golomb prefixes.
const maxEGPrefix = 24

func (r *SBACReader) expGolombBypass(k int) uint32 {
	var v uint32
	for r.dec.DecodeBypass() != 0 {
		v += 1 << uint(k)
		k++
		if k > maxEGPrefix {
			r.fail(errors.Wrap(ErrConformance, "exp-golomb prefix"))
			return 0
		}
	}
	return v + r.dec.DecodeBypassBins(k)
}
