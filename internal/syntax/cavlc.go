package syntax

import (
	"github.com/pkg/errors"

	"github.com/nicolegarcia/MV-HEVC/internal/bitio"
	"github.com/nicolegarcia/MV-HEVC/internal/cabac"
	"github.com/nicolegarcia/MV-HEVC/internal/cu"
)

// CAVLCWriter codes CU syntax with fixed-length and Exp-Golomb codes. It
// keeps no adaptive state: Contexts returns an empty set and SetContexts is
// a no-op.
type CAVLCWriter struct {
	sink bitio.Sink
	bw   *bitio.Writer // nil while estimating
}

// NewCAVLCWriter creates a writer on sink. When sink is a *bitio.Writer,
// Finish also writes the trailing bits.
func NewCAVLCWriter(sink bitio.Sink) *CAVLCWriter {
	bw, _ := sink.(*bitio.Writer)
	return &CAVLCWriter{sink: sink, bw: bw}
}

func (w *CAVLCWriter) SplitFlag(split bool, _ int) { w.sink.WriteFlag(split) }
func (w *CAVLCWriter) SkipFlag(skip bool, _ int)   { w.sink.WriteFlag(skip) }
func (w *CAVLCWriter) PredMode(intra bool)         { w.sink.WriteFlag(intra) }
func (w *CAVLCWriter) MergeFlag(merge bool)        { w.sink.WriteFlag(merge) }
func (w *CAVLCWriter) MvpIdx(idx int)              { w.sink.WriteFlag(idx != 0) }
func (w *CAVLCWriter) ICFlag(ic bool)              { w.sink.WriteFlag(ic) }
func (w *CAVLCWriter) RootCbf(cbf bool)            { w.sink.WriteFlag(cbf) }
func (w *CAVLCWriter) CbfLuma(cbf bool, _ int)     { w.sink.WriteFlag(cbf) }
func (w *CAVLCWriter) CbfChroma(cbf bool, _ int)   { w.sink.WriteFlag(cbf) }
func (w *CAVLCWriter) EndOfSlice(last bool)        { w.sink.WriteFlag(last) }
func (w *CAVLCWriter) QPDelta(dqp int)             { w.sink.WriteSE(int32(dqp)) }

func (w *CAVLCWriter) SplitTransform(split bool, _ int) { w.sink.WriteFlag(split) }

func (w *CAVLCWriter) PartMode(part cu.PartSize, info PartModeInfo) {
	if info.Intra {
		if info.AtMinCU {
			w.sink.WriteFlag(part == cu.Part2Nx2N)
		}
		return
	}
	w.sink.WriteUE(uint32(part))
}

func (w *CAVLCWriter) IntraLumaModes(modes []int, mpm MPMFunc) {
	for i, m := range modes {
		list := mpm(i, modes[:i])
		idx := mpmIndex(m, list)
		w.sink.WriteFlag(idx >= 0)
		if idx >= 0 {
			w.sink.WriteUE(uint32(idx))
		} else {
			w.sink.WriteBits(uint32(RemIntraMode(m, list)), 5)
		}
	}
}

func (w *CAVLCWriter) IntraChromaMode(idx int) { w.sink.WriteUE(uint32(idx)) }

func (w *CAVLCWriter) MergeIdx(idx, numCand int) {
	if numCand > 1 {
		w.sink.WriteUE(uint32(idx))
	}
}

func (w *CAVLCWriter) InterDir(dir int, _ int, allowBi bool) {
	if allowBi {
		w.sink.WriteUE(uint32(dir - 1))
		return
	}
	w.sink.WriteFlag(dir == cu.DirL1)
}

func (w *CAVLCWriter) RefIdx(idx, numRef int) {
	if numRef > 1 {
		w.sink.WriteUE(uint32(idx))
	}
}

func (w *CAVLCWriter) Mvd(mvd cu.MV) {
	w.sink.WriteSE(mvd.X)
	w.sink.WriteSE(mvd.Y)
}

// Residual codes the number of nonzero coefficients, the scan index of the
// last one, then each level from the last backwards with the zero run that
// separates it from the next.
func (w *CAVLCWriter) Residual(coeff []int32, log2Size int, _ cu.Comp, scanIdx ScanIdx, _ bool) {
	sc := GetScan(scanIdx, log2Size)
	last := LastScanPos(coeff, sc)
	if last < 0 {
		return
	}
	numNZ := 0
	for n := 0; n <= last; n++ {
		if coeff[sc.Pos[n]] != 0 {
			numNZ++
		}
	}
	w.sink.WriteUE(uint32(numNZ - 1))
	w.sink.WriteUE(uint32(last))
	prev := last
	for n := last; n >= 0; n-- {
		v := coeff[sc.Pos[n]]
		if v == 0 {
			continue
		}
		if n != last {
			w.sink.WriteUE(uint32(prev - n - 1))
		}
		w.sink.WriteSE(v)
		prev = n
	}
}

// Finish writes the stop bit and alignment.
func (w *CAVLCWriter) Finish() {
	if w.bw != nil {
		w.bw.WriteTrailingBits()
	}
}

func (w *CAVLCWriter) Contexts() cabac.ContextSet   { return cabac.ContextSet{} }
func (w *CAVLCWriter) SetContexts(cabac.ContextSet) {}

func (w *CAVLCWriter) FracBits() uint64 {
	return uint64(w.sink.NumWrittenBits()) << cabac.FracShift
}

// CAVLCReader parses syntax coded by CAVLCWriter.
type CAVLCReader struct {
	br *bitio.Reader
	e  error
}

// NewCAVLCReader creates a reader over br.
func NewCAVLCReader(br *bitio.Reader) *CAVLCReader {
	return &CAVLCReader{br: br}
}

func (r *CAVLCReader) fail(err error) {
	if r.e == nil {
		r.e = err
	}
}

// Err returns the first error met while parsing.
func (r *CAVLCReader) Err() error {
	if r.e == nil {
		r.e = r.br.Err()
	}
	return r.e
}

// ue reads an Exp-Golomb value and checks it against limit.
func (r *CAVLCReader) ue(limit uint32, what string) int {
	v := r.br.ReadUE()
	if v > limit {
		r.fail(errors.Wrapf(ErrConformance, "%s %d", what, v))
		return 0
	}
	return int(v)
}

func (r *CAVLCReader) SplitFlag(int) bool      { return r.br.ReadFlag() }
func (r *CAVLCReader) SkipFlag(int) bool       { return r.br.ReadFlag() }
func (r *CAVLCReader) PredMode() bool          { return r.br.ReadFlag() }
func (r *CAVLCReader) MergeFlag() bool         { return r.br.ReadFlag() }
func (r *CAVLCReader) MvpIdx() int             { return boolToInt(r.br.ReadFlag()) }
func (r *CAVLCReader) ICFlag() bool            { return r.br.ReadFlag() }
func (r *CAVLCReader) RootCbf() bool           { return r.br.ReadFlag() }
func (r *CAVLCReader) SplitTransform(int) bool { return r.br.ReadFlag() }
func (r *CAVLCReader) CbfLuma(int) bool        { return r.br.ReadFlag() }
func (r *CAVLCReader) CbfChroma(int) bool      { return r.br.ReadFlag() }
func (r *CAVLCReader) EndOfSlice() bool        { return r.br.ReadFlag() }
func (r *CAVLCReader) IntraChromaMode() int    { return r.ue(cu.ChromaDM, "intra_chroma_pred_mode") }

func (r *CAVLCReader) Contexts() cabac.ContextSet   { return cabac.ContextSet{} }
func (r *CAVLCReader) SetContexts(cabac.ContextSet) {}

func (r *CAVLCReader) QPDelta() int {
	v := int(r.br.ReadSE())
	if v < -MaxCUQPDelta || v > MaxCUQPDelta {
		r.fail(errors.Wrapf(ErrConformance, "cu_qp_delta %d", v))
		return 0
	}
	return v
}

func (r *CAVLCReader) PartMode(info PartModeInfo) cu.PartSize {
	if info.Intra {
		if info.AtMinCU && !r.br.ReadFlag() {
			return cu.PartNxN
		}
		return cu.Part2Nx2N
	}
	p := cu.PartSize(r.ue(uint32(cu.PartnRx2N), "part_mode"))
	if p.IsAMP() && (!info.AMP || info.AtMinCU) {
		r.fail(errors.Wrapf(ErrConformance, "part_mode %v", p))
		return cu.Part2Nx2N
	}
	return p
}

func (r *CAVLCReader) IntraLumaModes(n int, mpm MPMFunc) []int {
	modes := make([]int, n)
	for i := range modes {
		list := mpm(i, modes[:i])
		if r.br.ReadFlag() {
			modes[i] = list[r.ue(2, "mpm_idx")]
			continue
		}
		modes[i] = IntraModeFromRem(int(r.br.ReadBits(5)), list)
	}
	return modes
}

func (r *CAVLCReader) MergeIdx(numCand int) int {
	if numCand <= 1 {
		return 0
	}
	return r.ue(uint32(numCand-1), "merge_idx")
}

func (r *CAVLCReader) InterDir(_ int, allowBi bool) int {
	if allowBi {
		return 1 + r.ue(2, "inter_pred_idc")
	}
	if r.br.ReadFlag() {
		return cu.DirL1
	}
	return cu.DirL0
}

func (r *CAVLCReader) RefIdx(numRef int) int {
	if numRef <= 1 {
		return 0
	}
	return r.ue(uint32(numRef-1), "ref_idx")
}

func (r *CAVLCReader) Mvd() cu.MV {
	x := r.br.ReadSE()
	y := r.br.ReadSE()
	return cu.MV{X: x, Y: y}
}

func (r *CAVLCReader) Residual(coeff []int32, log2Size int, _ cu.Comp, scanIdx ScanIdx, _ bool) {
	sc := GetScan(scanIdx, log2Size)
	total := uint32(len(sc.Pos))
	numNZ := r.ue(total-1, "coded coefficients") + 1
	last := r.ue(total-1, "last position")
	if numNZ > last+1 {
		r.fail(errors.Wrap(ErrConformance, "coefficient count exceeds last position"))
		return
	}
	n := last
	for i := 0; i < numNZ; i++ {
		if i > 0 {
			n -= r.ue(uint32(n), "zero run") + 1
			if n < 0 {
				r.fail(errors.Wrap(ErrConformance, "zero run"))
				return
			}
		}
		v := r.br.ReadSE()
		if v == 0 || v > maxCoeff || v < -maxCoeff-1 {
			r.fail(errors.Wrapf(ErrConformance, "coefficient level %d", v))
			return
		}
		coeff[sc.Pos[n]] = v
	}
}

func (r *CAVLCReader) Finish() {
	if !r.br.ReadTrailingBits() {
		r.fail(errors.Wrap(ErrConformance, "rbsp trailing bits"))
	}
}
