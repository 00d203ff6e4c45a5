package syntax

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/nicolegarcia/MV-HEVC/internal/bitio"
	"github.com/nicolegarcia/MV-HEVC/internal/cabac"
	"github.com/nicolegarcia/MV-HEVC/internal/cu"
)

// randomCoeffs fills a TU with a sparse, mostly low-frequency block.
func randomCoeffs(rng *rand.Rand, log2Size int) []int32 {
	n := 1 << uint(2*log2Size)
	c := make([]int32, n)
	density := rng.Intn(4) + 1
	for i := range c {
		if rng.Intn(8) >= density {
			continue
		}
		v := int32(1)
		switch rng.Intn(10) {
		case 0:
			v = int32(rng.Intn(3000)) + 1
		case 1, 2:
			v = int32(rng.Intn(20)) + 1
		case 3, 4, 5:
			v = 2
		}
		if rng.Intn(2) == 0 {
			v = -v
		}
		c[i] = v
	}
	if syntaxAllZero(c) {
		c[rng.Intn(n)] = 1
	}
	return c
}

func syntaxAllZero(c []int32) bool {
	for _, v := range c {
		if v != 0 {
			return false
		}
	}
	return true
}

// hideSigns makes the parity of every eligible group agree with the sign
// of its first nonzero coefficient, as a quantiser with sign hiding would.
func hideSigns(c []int32, sc *Scan) {
	for cg := 0; cg < len(sc.CG); cg++ {
		firstNZ, lastNZ := -1, -1
		sum := int32(0)
		for n := cg << 4; n < cg<<4+16; n++ {
			v := c[sc.Pos[n]]
			if v == 0 {
				continue
			}
			if firstNZ < 0 {
				firstNZ = n
			}
			lastNZ = n
			sum += abs32(v)
		}
		if firstNZ < 0 || !SignHidden(firstNZ, lastNZ) {
			continue
		}
		p := sc.Pos[firstNZ]
		a := abs32(c[p])
		if sum&1 != 0 {
			c[p] = -a
		} else {
			c[p] = a
		}
	}
}

type residualCase struct {
	log2 int
	comp cu.Comp
	scan ScanIdx
	sdh  bool
	in   []int32
}

func randomResidualCases(rng *rand.Rand, n int) []residualCase {
	var cases []residualCase
	for i := 0; i < n; i++ {
		rc := residualCase{comp: cu.Comp(rng.Intn(3))}
		if rc.comp.IsChroma() {
			rc.log2 = 2 + rng.Intn(3)
		} else {
			rc.log2 = 2 + rng.Intn(4)
		}
		if rc.log2 <= 3 {
			rc.scan = ScanIdx(rng.Intn(3))
		}
		rc.sdh = rng.Intn(2) == 0
		rc.in = randomCoeffs(rng, rc.log2)
		if rc.sdh {
			hideSigns(rc.in, GetScan(rc.scan, rc.log2))
		}
		cases = append(cases, rc)
	}
	return cases
}

func TestSBAC_ResidualRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	cases := randomResidualCases(rng, 300)
	cs := cabac.NewContextSet(cabac.SliceP, 30)

	bw := bitio.NewWriter(1 << 16)
	w := NewSBACWriter(cabac.NewEncoder(bw), bw, cs)
	for _, rc := range cases {
		w.Residual(rc.in, rc.log2, rc.comp, rc.scan, rc.sdh)
	}
	w.EndOfSlice(true)
	w.Finish()

	r := NewSBACReader(bitio.NewReader(bw.Bytes()), cs)
	for i, rc := range cases {
		out := make([]int32, len(rc.in))
		r.Residual(out, rc.log2, rc.comp, rc.scan, rc.sdh)
		for k := range out {
			if out[k] != rc.in[k] {
				t.Fatalf("case %d (log2 %d comp %d scan %d): coeff %d = %d, want %d",
					i, rc.log2, rc.comp, rc.scan, k, out[k], rc.in[k])
			}
		}
	}
	if !r.EndOfSlice() {
		t.Fatal("missing end of slice")
	}
	r.Finish()
	if err := r.Err(); err != nil {
		t.Fatal(err)
	}
	if w.Contexts() != r.Contexts() {
		t.Fatal("encoder and decoder contexts diverged")
	}
}

func TestCAVLC_ResidualRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	cases := randomResidualCases(rng, 200)
	bw := bitio.NewWriter(1 << 16)
	w := NewCAVLCWriter(bw)
	for _, rc := range cases {
		w.Residual(rc.in, rc.log2, rc.comp, rc.scan, false)
	}
	w.Finish()

	r := NewCAVLCReader(bitio.NewReader(bw.Bytes()))
	for i, rc := range cases {
		out := make([]int32, len(rc.in))
		r.Residual(out, rc.log2, rc.comp, rc.scan, false)
		for k := range out {
			if out[k] != rc.in[k] {
				t.Fatalf("case %d: coeff %d = %d, want %d", i, k, out[k], rc.in[k])
			}
		}
	}
	r.Finish()
	if err := r.Err(); err != nil {
		t.Fatal(err)
	}
}

// element writes one syntax element and checks it reads back.
type element struct {
	write func(Writer)
	read  func(Reader) bool
}

func randomElements(rng *rand.Rand, n int) []element {
	var els []element
	for len(els) < n {
		switch rng.Intn(17) {
		case 0:
			v, inc := rng.Intn(2) == 0, rng.Intn(3)
			els = append(els, element{
				func(w Writer) { w.SplitFlag(v, inc) },
				func(r Reader) bool { return r.SplitFlag(inc) == v },
			})
		case 1:
			v, inc := rng.Intn(2) == 0, rng.Intn(3)
			els = append(els, element{
				func(w Writer) { w.SkipFlag(v, inc) },
				func(r Reader) bool { return r.SkipFlag(inc) == v },
			})
		case 2:
			v := rng.Intn(2) == 0
			els = append(els, element{
				func(w Writer) { w.PredMode(v) },
				func(r Reader) bool { return r.PredMode() == v },
			})
		case 3:
			info := PartModeInfo{Intra: rng.Intn(3) == 0, AtMinCU: rng.Intn(2) == 0, Log2CU: 3 + rng.Intn(4), AMP: rng.Intn(2) == 0}
			var legal []cu.PartSize
			switch {
			case info.Intra && info.AtMinCU:
				legal = []cu.PartSize{cu.Part2Nx2N, cu.PartNxN}
			case info.Intra:
				legal = []cu.PartSize{cu.Part2Nx2N}
			default:
				legal = []cu.PartSize{cu.Part2Nx2N, cu.Part2NxN, cu.PartNx2N}
				if info.AtMinCU && info.Log2CU != 3 {
					legal = append(legal, cu.PartNxN)
				}
				if info.AMP && !info.AtMinCU {
					legal = append(legal, cu.Part2NxnU, cu.Part2NxnD, cu.PartnLx2N, cu.PartnRx2N)
				}
			}
			p := legal[rng.Intn(len(legal))]
			els = append(els, element{
				func(w Writer) { w.PartMode(p, info) },
				func(r Reader) bool { return r.PartMode(info) == p },
			})
		case 4:
			k := 1 + 3*rng.Intn(2)
			modes := make([]int, k)
			mpm := make([][3]int, k)
			for i := range modes {
				modes[i] = rng.Intn(cu.NumIntraModes)
				mpm[i] = [3]int{cu.IntraPlanar, cu.IntraDC, cu.IntraVer}
				if rng.Intn(2) == 0 {
					mpm[i] = [3]int{18, 17, 19}
				}
			}
			els = append(els, element{
				func(w Writer) { w.IntraLumaModes(modes, func(i int, _ []int) [3]int { return mpm[i] }) },
				func(r Reader) bool {
					got := r.IntraLumaModes(k, func(i int, _ []int) [3]int { return mpm[i] })
					for i := range got {
						if got[i] != modes[i] {
							return false
						}
					}
					return true
				},
			})
		case 5:
			v := rng.Intn(5)
			els = append(els, element{
				func(w Writer) { w.IntraChromaMode(v) },
				func(r Reader) bool { return r.IntraChromaMode() == v },
			})
		case 6:
			numCand := 1 + rng.Intn(6)
			v := rng.Intn(numCand)
			els = append(els, element{
				func(w Writer) { w.MergeIdx(v, numCand) },
				func(r Reader) bool { return r.MergeIdx(numCand) == v },
			})
		case 7:
			allowBi := rng.Intn(2) == 0
			dir := 1 + rng.Intn(2)
			if allowBi {
				dir = 1 + rng.Intn(3)
			}
			inc := rng.Intn(4)
			els = append(els, element{
				func(w Writer) { w.InterDir(dir, inc, allowBi) },
				func(r Reader) bool { return r.InterDir(inc, allowBi) == dir },
			})
		case 8:
			numRef := 1 + rng.Intn(5)
			v := rng.Intn(numRef)
			els = append(els, element{
				func(w Writer) { w.RefIdx(v, numRef) },
				func(r Reader) bool { return r.RefIdx(numRef) == v },
			})
		case 9:
			mv := cu.MV{X: int32(rng.Intn(2001) - 1000), Y: int32(rng.Intn(7) - 3)}
			els = append(els, element{
				func(w Writer) { w.Mvd(mv) },
				func(r Reader) bool { return r.Mvd() == mv },
			})
		case 10:
			v := rng.Intn(2)
			els = append(els, element{
				func(w Writer) { w.MvpIdx(v) },
				func(r Reader) bool { return r.MvpIdx() == v },
			})
		case 11:
			v := rng.Intn(2) == 0
			els = append(els, element{
				func(w Writer) { w.ICFlag(v) },
				func(r Reader) bool { return r.ICFlag() == v },
			})
		case 12:
			v := rng.Intn(2) == 0
			els = append(els, element{
				func(w Writer) { w.RootCbf(v) },
				func(r Reader) bool { return r.RootCbf() == v },
			})
		case 13:
			v, l := rng.Intn(2) == 0, 3+rng.Intn(3)
			els = append(els, element{
				func(w Writer) { w.SplitTransform(v, l) },
				func(r Reader) bool { return r.SplitTransform(l) == v },
			})
		case 14:
			v, d := rng.Intn(2) == 0, rng.Intn(3)
			els = append(els, element{
				func(w Writer) { w.CbfLuma(v, d) },
				func(r Reader) bool { return r.CbfLuma(d) == v },
			})
		case 15:
			v, d := rng.Intn(2) == 0, rng.Intn(4)
			els = append(els, element{
				func(w Writer) { w.CbfChroma(v, d) },
				func(r Reader) bool { return r.CbfChroma(d) == v },
			})
		case 16:
			v := rng.Intn(2*MaxCUQPDelta+1) - MaxCUQPDelta
			els = append(els, element{
				func(w Writer) { w.QPDelta(v) },
				func(r Reader) bool { return r.QPDelta() == v },
			})
		}
	}
	return els
}

func TestWriterReader_ElementsRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	els := randomElements(rng, 3000)
	cs := cabac.NewContextSet(cabac.SliceB, 32)

	for _, tc := range []struct {
		name   string
		writer func(*bitio.Writer) Writer
		reader func([]byte) Reader
	}{
		{
			"sbac",
			func(bw *bitio.Writer) Writer { return NewSBACWriter(cabac.NewEncoder(bw), bw, cs) },
			func(b []byte) Reader { return NewSBACReader(bitio.NewReader(b), cs) },
		},
		{
			"cavlc",
			func(bw *bitio.Writer) Writer { return NewCAVLCWriter(bw) },
			func(b []byte) Reader { return NewCAVLCReader(bitio.NewReader(b)) },
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			bw := bitio.NewWriter(1 << 14)
			w := tc.writer(bw)
			for _, e := range els {
				e.write(w)
			}
			w.EndOfSlice(true)
			w.Finish()

			r := tc.reader(bw.Bytes())
			for i, e := range els {
				if !e.read(r) {
					t.Fatalf("element %d did not round trip", i)
				}
			}
			if !r.EndOfSlice() {
				t.Fatal("missing end of slice")
			}
			r.Finish()
			if err := r.Err(); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestSBACWriter_CounterMatchesEncoderContexts(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	els := randomElements(rng, 500)
	cs := cabac.NewContextSet(cabac.SliceI, 22)

	bw := bitio.NewWriter(1 << 12)
	coded := NewSBACWriter(cabac.NewEncoder(bw), bw, cs)
	est := NewSBACWriter(&cabac.Counter{}, nil, cs)
	for _, e := range els {
		e.write(coded)
		e.write(est)
	}
	if coded.Contexts() != est.Contexts() {
		t.Fatal("estimation adapted contexts differently from coding")
	}
	if est.FracBits() == 0 {
		t.Fatal("counter produced no bits")
	}
}

func TestIntraModeRem(t *testing.T) {
	for _, mpm := range [][3]int{{0, 1, 26}, {18, 17, 19}, {34, 2, 10}, {0, 1, 10}} {
		seen := make(map[int]bool)
		for m := 0; m < cu.NumIntraModes; m++ {
			if mpmIndex(m, mpm) >= 0 {
				continue
			}
			rem := RemIntraMode(m, mpm)
			if rem < 0 || rem >= 32 || seen[rem] {
				t.Fatalf("mpm %v: mode %d maps to %d", mpm, m, rem)
			}
			seen[rem] = true
			if back := IntraModeFromRem(rem, mpm); back != m {
				t.Fatalf("mpm %v: rem %d maps back to %d, want %d", mpm, rem, back, m)
			}
		}
		if len(seen) != 32 {
			t.Fatalf("mpm %v: %d remaining modes", mpm, len(seen))
		}
	}
}

func TestScan_IsPermutation(t *testing.T) {
	for s := ScanDiag; s <= ScanVer; s++ {
		for l := 2; l <= 5; l++ {
			sc := GetScan(s, l)
			seen := make([]bool, 1<<uint(2*l))
			for _, p := range sc.Pos {
				if seen[p] {
					t.Fatalf("scan %d log2 %d repeats %d", s, l, p)
				}
				seen[p] = true
			}
			if len(sc.Pos) != len(seen) {
				t.Fatalf("scan %d log2 %d has %d positions", s, l, len(sc.Pos))
			}
		}
	}
	d := GetScan(ScanDiag, 2)
	want := []int{0, 4, 1, 8, 5, 2, 12, 9, 6, 3, 13, 10, 7, 14, 11, 15}
	for i, p := range want {
		if d.Pos[i] != p {
			t.Fatalf("diagonal 4x4 scan[%d] = %d, want %d", i, d.Pos[i], p)
		}
	}
}

func TestRemainBits_MatchesCoding(t *testing.T) {
	for rice := 0; rice <= MaxRiceParam; rice++ {
		for _, v := range []uint32{0, 1, 2, 5, 11, 12, 40, 1000, 30000} {
			c := &cabac.Counter{}
			w := NewSBACWriter(c, nil, cabac.ContextSet{})
			w.coefRemain(v, rice)
			if got, want := RemainBits(v, rice), uint32(c.FracBits()); got != want {
				t.Errorf("rice %d v %d: RemainBits = %d, coded %d", rice, v, got, want)
			}
		}
	}
}

func TestSliceHeader_RoundTrip(t *testing.T) {
	p := HeaderParams{NumCTUs: 40, DependentSlices: true, EntryPoints: true, IC: true, MaxMergeCand: 6}
	first := &SliceHeader{
		FirstInPicture: true,
		Type:           cabac.SliceB,
		POC:            9,
		View:           1,
		QP:             31,
		Refs:           [2][]RefEntry{{{POC: 8}, {POC: 9, View: 0}}, {{POC: 10}}},
		ColFromL0:      true,
		Weights: &WeightTable{
			LumaLog2Wd:   6,
			ChromaLog2Wd: 2,
			W:            [2][3]int{{70, 4, 3}, {64, 5, 4}},
			Offset:       [2][3]int{{-3, 0, 1}, {127, -128, 0}},
		},
		ICEnabled:    true,
		MaxMergeCand: 5,
		EntryPoints:  []int{100, 3, 70000},
	}
	dep := &SliceHeader{Dependent: true, Address: 17, EntryPoints: []int{1}}

	nw := bitio.NewNALWriter()
	WriteSliceHeader(nw, first, p)
	WriteSliceHeader(nw, dep, p)
	nal, _ := nw.NAL()

	r := bitio.NewReader(bitio.RemoveEmulationPrevention(nal))
	got, err := ReadSliceHeader(r, p, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.POC != 9 || got.View != 1 || got.QP != 31 || got.Type != cabac.SliceB || !got.ColFromL0 || !got.ICEnabled || got.MaxMergeCand != 5 {
		t.Fatalf("header mismatch: %+v", got)
	}
	if len(got.Refs[0]) != 2 || got.Refs[0][1] != (RefEntry{POC: 9}) || got.Refs[1][0].POC != 10 {
		t.Fatalf("refs mismatch: %+v", got.Refs)
	}
	if got.Weights == nil || *got.Weights != *first.Weights {
		t.Fatalf("weights %+v, want %+v", got.Weights, first.Weights)
	}
	if len(got.EntryPoints) != 3 || got.EntryPoints[2] != 70000 {
		t.Fatalf("entry points %v", got.EntryPoints)
	}
	gotDep, err := ReadSliceHeader(r, p, got)
	if err != nil {
		t.Fatal(err)
	}
	if !gotDep.Dependent || gotDep.Address != 17 || gotDep.POC != 9 || gotDep.QP != 31 || len(gotDep.EntryPoints) != 1 {
		t.Fatalf("dependent header mismatch: %+v", gotDep)
	}
}

func TestReader_ConformanceErrors(t *testing.T) {
	bw := bitio.NewWriter(16)
	bw.WriteSE(40) // cu_qp_delta beyond the legal range
	bw.WriteTrailingBits()
	r := NewCAVLCReader(bitio.NewReader(bw.Bytes()))
	if r.QPDelta() != 0 {
		t.Fatal("illegal value must be replaced by a placeholder")
	}
	if !errors.Is(r.Err(), ErrConformance) {
		t.Fatalf("Err() = %v, want ErrConformance", r.Err())
	}

	bw = bitio.NewWriter(16)
	bw.WriteFlag(false)
	bw.WriteBits(63, 6) // address past the last CTU
	bw.WriteTrailingBits()
	_, err := ReadSliceHeader(bitio.NewReader(bw.Bytes()), HeaderParams{NumCTUs: 40}, nil)
	if !errors.Is(err, ErrConformance) {
		t.Fatalf("err = %v, want ErrConformance", err)
	}

	// A weight denominator above 7.
	bw = bitio.NewWriter(16)
	bw.WriteFlag(true)
	bw.WriteUE(uint32(cabac.SliceP))
	bw.WriteUE(1) // POC
	bw.WriteUE(0) // view
	bw.WriteSE(0) // QP
	bw.WriteUE(0) // one reference
	bw.WriteSE(1) // delta POC
	bw.WriteUE(0) // view
	bw.WriteFlag(true)
	bw.WriteUE(9)
	bw.WriteSE(0)
	bw.WriteTrailingBits()
	_, err = ReadSliceHeader(bitio.NewReader(bw.Bytes()), HeaderParams{NumCTUs: 40, MaxMergeCand: 5}, nil)
	if !errors.Is(err, ErrConformance) {
		t.Fatalf("bad weights: err = %v, want ErrConformance", err)
	}
}
