package cabac

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/nicolegarcia/MV-HEVC/internal/bitio"
)

type binOp struct {
	kind int // 0 context, 1 bypass, 2 bypass run, 3 terminate(0)
	ctx  int
	bin  int
	v    uint32
	n    int
}

func randomOps(rng *rand.Rand, n int) []binOp {
	ops := make([]binOp, n)
	for i := range ops {
		op := binOp{kind: rng.Intn(10)}
		switch {
		case op.kind < 6:
			op.kind = 0
			op.ctx = rng.Intn(NumContexts)
			// Skewed bins so contexts move towards confident states.
			if rng.Intn(8) == 0 {
				op.bin = 1
			}
		case op.kind < 8:
			op.kind = 1
			op.bin = rng.Intn(2)
		case op.kind == 8:
			op.kind = 2
			op.n = 1 + rng.Intn(16)
			op.v = rng.Uint32() & (1<<uint(op.n) - 1)
		default:
			op.kind = 3
		}
		ops[i] = op
	}
	return ops
}

func encodeOps(ops []binOp, cs ContextSet) ([]byte, ContextSet) {
	w := bitio.NewWriter(0)
	e := NewEncoder(w)
	for _, op := range ops {
		switch op.kind {
		case 0:
			e.EncodeBin(op.bin, &cs[op.ctx])
		case 1:
			e.EncodeBypass(op.bin)
		case 2:
			e.EncodeBypassBins(op.v, op.n)
		case 3:
			e.EncodeTerminate(0)
		}
	}
	e.EncodeTerminate(1)
	e.Finish()
	w.WriteTrailingBits()
	return w.Bytes(), cs
}

func TestEncoder_Decoder_RoundTrip(t *testing.T) {
	for _, st := range []SliceType{SliceI, SliceP, SliceB} {
		rng := rand.New(rand.NewSource(int64(st) + 11))
		ops := randomOps(rng, 20000)
		start := NewContextSet(st, 30)
		data, encCtx := encodeOps(ops, start)

		dcs := start
		d := NewDecoder(bitio.NewReader(data))
		for i, op := range ops {
			switch op.kind {
			case 0:
				if got := d.DecodeBin(&dcs[op.ctx]); got != op.bin {
					t.Fatalf("%v: op %d: bin %d, want %d", st, i, got, op.bin)
				}
			case 1:
				if got := d.DecodeBypass(); got != op.bin {
					t.Fatalf("%v: op %d: bypass %d, want %d", st, i, got, op.bin)
				}
			case 2:
				if got := d.DecodeBypassBins(op.n); got != op.v {
					t.Fatalf("%v: op %d: bypass run %#x, want %#x", st, i, got, op.v)
				}
			case 3:
				if got := d.DecodeTerminate(); got != 0 {
					t.Fatalf("%v: op %d: terminate 1", st, i)
				}
			}
		}
		if d.DecodeTerminate() != 1 {
			t.Fatalf("%v: missing end of stream", st)
		}
		if err := d.Finish(); err != nil {
			t.Fatalf("%v: finish: %v", st, err)
		}
		if dcs != encCtx {
			t.Fatalf("%v: decoder contexts diverged from encoder", st)
		}
	}
}

func TestEncoder_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	ops := randomOps(rng, 5000)
	a, _ := encodeOps(ops, NewContextSet(SliceP, 27))
	b, _ := encodeOps(ops, NewContextSet(SliceP, 27))
	if !bytes.Equal(a, b) {
		t.Fatal("two encodes of the same bins differ")
	}
}

func TestContextSet_SnapshotIdempotence(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	ops := randomOps(rng, 4000)
	start := NewContextSet(SliceB, 32)

	// Straight run.
	want, wantCtx := encodeOps(ops, start)

	// Same run with a snapshot taken half way, the live set scribbled on,
	// and the snapshot restored before continuing.
	w := bitio.NewWriter(0)
	e := NewEncoder(w)
	cs := start
	var snap ContextSet
	for i, op := range ops {
		if i == len(ops)/2 {
			snap = cs
			for j := range cs {
				cs[j] = 0
			}
			cs = snap
		}
		switch op.kind {
		case 0:
			e.EncodeBin(op.bin, &cs[op.ctx])
		case 1:
			e.EncodeBypass(op.bin)
		case 2:
			e.EncodeBypassBins(op.v, op.n)
		case 3:
			e.EncodeTerminate(0)
		}
	}
	e.EncodeTerminate(1)
	e.Finish()
	w.WriteTrailingBits()
	if !bytes.Equal(w.Bytes(), want) {
		t.Fatal("snapshot restore changed the coded bins")
	}
	if cs != wantCtx {
		t.Fatal("snapshot restore changed the final contexts")
	}
}

func TestContext_AdaptationSequence(t *testing.T) {
	// State 0 with MPS 0: an LPS at the weakest state flips the MPS.
	c := Context(0)
	steps := []struct {
		bin   int
		state int
		mps   int
	}{
		{1, 0, 1},
		{1, 1, 1},
		{0, 0, 1},
		{1, 1, 1},
	}
	for i, s := range steps {
		c.Update(s.bin)
		if c.State() != s.state || c.MPS() != s.mps {
			t.Fatalf("step %d: got (%d,%d), want (%d,%d)", i, c.State(), c.MPS(), s.state, s.mps)
		}
	}

	// The same bins through an encoder and a decoder leave both models in
	// the same state.
	ec, dc := Context(0), Context(0)
	w := bitio.NewWriter(0)
	e := NewEncoder(w)
	for _, s := range steps {
		e.EncodeBin(s.bin, &ec)
	}
	e.EncodeTerminate(1)
	e.Finish()
	w.WriteTrailingBits()
	d := NewDecoder(bitio.NewReader(w.Bytes()))
	for i, s := range steps {
		if got := d.DecodeBin(&dc); got != s.bin {
			t.Fatalf("bin %d: got %d", i, got)
		}
	}
	if ec != dc || ec != c {
		t.Fatalf("models differ: enc %d dec %d table %d", ec, dc, c)
	}
}

func TestNewContext(t *testing.T) {
	tests := []struct {
		qp    int
		init  uint8
		state int
		mps   int
	}{
		{26, 154, 0, 1}, // neutral init value
		{0, 154, 0, 1},
		{51, 154, 0, 1},
		{26, 139, 0, 0},
		{22, 63, 1, 0},
		{32, 197, 9, 0},
	}
	for _, tc := range tests {
		c := NewContext(tc.qp, tc.init)
		if c.State() != tc.state || c.MPS() != tc.mps {
			t.Errorf("NewContext(%d, %d) = (%d,%d), want (%d,%d)",
				tc.qp, tc.init, c.State(), c.MPS(), tc.state, tc.mps)
		}
	}
}

func TestCounter_TracksEncoder(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	ops := randomOps(rng, 20000)
	start := NewContextSet(SliceI, 22)
	data, _ := encodeOps(ops, start)

	var c Counter
	cs := start
	for _, op := range ops {
		switch op.kind {
		case 0:
			c.EncodeBin(op.bin, &cs[op.ctx])
		case 1:
			c.EncodeBypass(op.bin)
		case 2:
			c.EncodeBypassBins(op.v, op.n)
		case 3:
			c.EncodeTerminate(0)
		}
	}
	est := float64(c.FracBits()) / float64(1<<FracShift)
	got := float64(len(data) * 8)
	if est < got*0.95 || est > got*1.05 {
		t.Fatalf("estimate %.0f bits, actual %.0f", est, got)
	}
}

func TestEncoder_NumWrittenBitsMonotonic(t *testing.T) {
	var cnt bitio.Counter
	e := NewEncoder(&cnt)
	var ctx Context
	prev := e.NumWrittenBits()
	for i := 0; i < 1000; i++ {
		e.EncodeBin(i%3&1, &ctx)
		e.EncodeBypass(i & 1)
		n := e.NumWrittenBits()
		if n < prev {
			t.Fatalf("bit count went backwards at %d: %d < %d", i, n, prev)
		}
		prev = n
	}
}
