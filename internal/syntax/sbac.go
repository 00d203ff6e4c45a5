package syntax

import (
	"github.com/nicolegarcia/MV-HEVC/internal/bitio"
	"github.com/nicolegarcia/MV-HEVC/internal/cabac"
	"github.com/nicolegarcia/MV-HEVC/internal/cu"
)

// SBACWriter codes syntax elements with context-adaptive binary arithmetic
// coding. The bin encoder decides whether bits are produced (cabac.Encoder)
// or only estimated (cabac.Counter).
type SBACWriter struct {
	enc  cabac.BinEncoder
	sink *bitio.Writer // stop bit and alignment target, nil when estimating
	ctx  cabac.ContextSet
}

// NewSBACWriter creates a writer over enc. sink receives the stop bit and
// alignment on Finish and may be nil for estimation.
func NewSBACWriter(enc cabac.BinEncoder, sink *bitio.Writer, cs cabac.ContextSet) *SBACWriter {
	return &SBACWriter{enc: enc, sink: sink, ctx: cs}
}

// Reset switches to a new bin encoder and output.
func (w *SBACWriter) Reset(enc cabac.BinEncoder, sink *bitio.Writer) {
	w.enc = enc
	w.sink = sink
}

func (w *SBACWriter) bin(b bool, idx int) {
	w.enc.EncodeBin(boolToInt(b), &w.ctx[idx])
}

func (w *SBACWriter) SplitFlag(split bool, ctxInc int) { w.bin(split, cabac.CtxSplitFlag+ctxInc) }
func (w *SBACWriter) SkipFlag(skip bool, ctxInc int)   { w.bin(skip, cabac.CtxSkipFlag+ctxInc) }
func (w *SBACWriter) PredMode(intra bool)              { w.bin(intra, cabac.CtxPredMode) }
func (w *SBACWriter) MergeFlag(merge bool)             { w.bin(merge, cabac.CtxMergeFlag) }
func (w *SBACWriter) MvpIdx(idx int)                   { w.bin(idx != 0, cabac.CtxMvpIdx) }
func (w *SBACWriter) ICFlag(ic bool)                   { w.bin(ic, cabac.CtxICFlag) }
func (w *SBACWriter) RootCbf(cbf bool)                 { w.bin(cbf, cabac.CtxRootCbf) }

func (w *SBACWriter) SplitTransform(split bool, log2Size int) {
	w.bin(split, cabac.CtxSplitTransform+5-log2Size)
}

func (w *SBACWriter) CbfLuma(cbf bool, trDepth int) {
	inc := 0
	if trDepth == 0 {
		inc = 1
	}
	w.bin(cbf, cabac.CtxCbfLuma+inc)
}

func (w *SBACWriter) CbfChroma(cbf bool, trDepth int) {
	w.bin(cbf, cabac.CtxCbfChroma+trDepth)
}

func (w *SBACWriter) PartMode(part cu.PartSize, info PartModeInfo) {
	const c = cabac.CtxPartMode
	if info.Intra {
		if info.AtMinCU {
			w.bin(part == cu.Part2Nx2N, c)
		}
		return
	}
	ampAllowed := info.AMP && !info.AtMinCU
	switch {
	case part == cu.Part2Nx2N:
		w.bin(true, c)
	case part.Horizontal():
		w.bin(false, c)
		w.bin(true, c+1)
		if ampAllowed {
			if part == cu.Part2NxN {
				w.bin(true, c+3)
			} else {
				w.bin(false, c+3)
				w.enc.EncodeBypass(boolToInt(part == cu.Part2NxnD))
			}
		}
	case part.Vertical():
		w.bin(false, c)
		w.bin(false, c+1)
		if info.AtMinCU && info.Log2CU != 3 {
			w.bin(true, c+2)
		}
		if ampAllowed {
			if part == cu.PartNx2N {
				w.bin(true, c+3)
			} else {
				w.bin(false, c+3)
				w.enc.EncodeBypass(boolToInt(part == cu.PartnRx2N))
			}
		}
	case part == cu.PartNxN:
		if info.AtMinCU && info.Log2CU != 3 {
			w.bin(false, c)
			w.bin(false, c+1)
			w.bin(false, c+2)
		}
	}
}

func (w *SBACWriter) IntraLumaModes(modes []int, mpm MPMFunc) {
	idx := make([]int, len(modes))
	lists := make([][3]int, len(modes))
	for i, m := range modes {
		lists[i] = mpm(i, modes[:i])
		idx[i] = mpmIndex(m, lists[i])
		w.bin(idx[i] >= 0, cabac.CtxIntraLumaPred)
	}
	for i, m := range modes {
		if idx[i] >= 0 {
			w.enc.EncodeBypass(boolToInt(idx[i] > 0))
			if idx[i] > 0 {
				w.enc.EncodeBypass(idx[i] - 1)
			}
			continue
		}
		w.enc.EncodeBypassBins(uint32(RemIntraMode(m, lists[i])), 5)
	}
}

func (w *SBACWriter) IntraChromaMode(idx int) {
	if idx == cu.ChromaDM {
		w.bin(false, cabac.CtxIntraChroma)
		return
	}
	w.bin(true, cabac.CtxIntraChroma)
	w.enc.EncodeBypassBins(uint32(idx), 2)
}

func (w *SBACWriter) MergeIdx(idx, numCand int) {
	for i := 0; i < numCand-1; i++ {
		b := i != idx
		if i == 0 {
			w.bin(b, cabac.CtxMergeIdx)
		} else {
			w.enc.EncodeBypass(boolToInt(b))
		}
		if !b {
			break
		}
	}
}

func (w *SBACWriter) InterDir(dir int, ctxInc int, allowBi bool) {
	if allowBi {
		w.bin(dir == cu.DirBi, cabac.CtxInterDir+ctxInc)
	}
	if dir != cu.DirBi {
		w.bin(dir == cu.DirL1, cabac.CtxInterDir+4)
	}
}

func (w *SBACWriter) RefIdx(idx, numRef int) {
	if numRef <= 1 {
		return
	}
	w.bin(idx > 0, cabac.CtxRefIdx)
	if idx == 0 {
		return
	}
	for i := 0; i < numRef-2; i++ {
		b := i != idx-1
		if i == 0 {
			w.bin(b, cabac.CtxRefIdx+1)
		} else {
			w.enc.EncodeBypass(boolToInt(b))
		}
		if !b {
			break
		}
	}
}

func (w *SBACWriter) Mvd(mvd cu.MV) {
	ax, ay := abs32(mvd.X), abs32(mvd.Y)
	w.bin(ax != 0, cabac.CtxMvd)
	w.bin(ay != 0, cabac.CtxMvd)
	if ax != 0 {
		w.bin(ax > 1, cabac.CtxMvd+1)
	}
	if ay != 0 {
		w.bin(ay > 1, cabac.CtxMvd+1)
	}
	if ax != 0 {
		if ax > 1 {
			w.expGolombBypass(uint32(ax-2), 1)
		}
		w.enc.EncodeBypass(boolToInt(mvd.X < 0))
	}
	if ay != 0 {
		if ay > 1 {
			w.expGolombBypass(uint32(ay-2), 1)
		}
		w.enc.EncodeBypass(boolToInt(mvd.Y < 0))
	}
}

func (w *SBACWriter) QPDelta(dqp int) {
	a := dqp
	if a < 0 {
		a = -a
	}
	tu := a
	if tu > 5 {
		tu = 5
	}
	w.bin(tu > 0, cabac.CtxQPDelta)
	if tu > 0 {
		for i := 1; i < tu; i++ {
			w.bin(true, cabac.CtxQPDelta+1)
		}
		if tu < 5 {
			w.bin(false, cabac.CtxQPDelta+1)
		}
	}
	if a >= 5 {
		w.expGolombBypass(uint32(a-5), 0)
	}
	if a > 0 {
		w.enc.EncodeBypass(boolToInt(dqp < 0))
	}
}

func (w *SBACWriter) EndOfSlice(last bool) {
	w.enc.EncodeTerminate(boolToInt(last))
}

// Finish terminates the substream: the arithmetic coder is flushed and the
// stop bit and alignment are written.
func (w *SBACWriter) Finish() {
	w.enc.Finish()
	if w.sink != nil {
		w.sink.WriteTrailingBits()
	}
}

// EndOfSubstream codes end_of_subset_one_bit and closes the substream.
func (w *SBACWriter) EndOfSubstream() {
	w.enc.EncodeTerminate(1)
	w.Finish()
}

func (w *SBACWriter) Contexts() cabac.ContextSet      { return w.ctx }
func (w *SBACWriter) SetContexts(cs cabac.ContextSet) { w.ctx = cs }
func (w *SBACWriter) FracBits() uint64                { return w.enc.FracBits() }

// expGolombBypass codes v as a k-th order Exp-Golomb code in bypass bins.
func (w *SBACWriter) expGolombBypass(v uint32, k int) {
	var bins uint32
	n := 0
	for v >= 1<<uint(k) {
		bins = bins<<1 | 1
		n++
		v -= 1 << uint(k)
		k++
	}
	bins <<= 1
	n++
	w.enc.EncodeBypassBins(bins, n)
	w.enc.EncodeBypassBins(v, k)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
