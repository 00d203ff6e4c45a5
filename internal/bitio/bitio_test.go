package bitio

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestWriter_Reader_RoundTrip_Fields(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	type field struct {
		kind int // 0 bits, 1 flag, 2 ue, 3 se
		v    uint32
		n    int
		s    int32
	}
	fields := make([]field, 400)
	w := NewWriter(0)
	for i := range fields {
		f := field{kind: rng.Intn(4)}
		switch f.kind {
		case 0:
			f.n = rng.Intn(33)
			f.v = rng.Uint32()
			if f.n < 32 {
				f.v &= 1<<uint(f.n) - 1
			}
			w.WriteBits(f.v, f.n)
		case 1:
			f.v = uint32(rng.Intn(2))
			w.WriteFlag(f.v == 1)
		case 2:
			f.v = uint32(rng.Intn(1 << uint(rng.Intn(20))))
			w.WriteUE(f.v)
		case 3:
			f.s = int32(rng.Intn(4001) - 2000)
			w.WriteSE(f.s)
		}
		fields[i] = f
	}
	w.WriteTrailingBits()

	r := NewReader(w.Bytes())
	for i, f := range fields {
		switch f.kind {
		case 0:
			if got := r.ReadBits(f.n); got != f.v {
				t.Fatalf("field %d: ReadBits(%d) = %#x, want %#x", i, f.n, got, f.v)
			}
		case 1:
			if got := r.ReadFlag(); got != (f.v == 1) {
				t.Fatalf("field %d: flag = %v", i, got)
			}
		case 2:
			if got := r.ReadUE(); got != f.v {
				t.Fatalf("field %d: ue = %d, want %d", i, got, f.v)
			}
		case 3:
			if got := r.ReadSE(); got != f.s {
				t.Fatalf("field %d: se = %d, want %d", i, got, f.s)
			}
		}
	}
	if !r.ReadTrailingBits() {
		t.Fatal("trailing bits not recognised")
	}
	if r.Err() != nil {
		t.Fatalf("unexpected error: %v", r.Err())
	}
}

func TestWriter_ExpGolombCodes(t *testing.T) {
	tests := []struct {
		v    uint32
		want string
	}{
		{0, "1"},
		{1, "010"},
		{2, "011"},
		{3, "00100"},
		{7, "0001000"},
	}
	for _, tc := range tests {
		w := NewWriter(0)
		w.WriteUE(tc.v)
		if got := w.NumWrittenBits(); got != len(tc.want) {
			t.Errorf("ue(%d) length = %d, want %d", tc.v, got, len(tc.want))
		}
		if UELen(tc.v) != len(tc.want) {
			t.Errorf("UELen(%d) = %d", tc.v, UELen(tc.v))
		}
	}
}

func TestWriter_AppendUnaligned(t *testing.T) {
	a := NewWriter(0)
	a.WriteBits(0x5, 3)
	b := NewWriter(0)
	b.WriteBits(0xABCD, 16)
	b.WriteBits(0x3, 2)
	a.Append(b)
	if got := a.NumWrittenBits(); got != 21 {
		t.Fatalf("bits = %d, want 21", got)
	}
	a.WriteAlignZero()
	r := NewReader(a.Bytes())
	if r.ReadBits(3) != 0x5 || r.ReadBits(16) != 0xABCD || r.ReadBits(2) != 0x3 {
		t.Fatal("appended fields mismatch")
	}
}

func TestCounter_MatchesWriter(t *testing.T) {
	w := NewWriter(0)
	var c Counter
	for _, s := range []Sink{w, &c} {
		s.WriteUE(17)
		s.WriteSE(-9)
		s.WriteBits(3, 5)
		s.WriteFlag(true)
	}
	if w.NumWrittenBits() != c.NumWrittenBits() {
		t.Fatalf("counter %d != writer %d", c.NumWrittenBits(), w.NumWrittenBits())
	}
}

func TestReader_StickyError(t *testing.T) {
	r := NewReader([]byte{0xff})
	r.ReadBits(6)
	if r.ReadBits(4) != 0 {
		t.Fatal("read past end returned data")
	}
	if r.Err() != ErrUnexpectedEnd {
		t.Fatalf("err = %v", r.Err())
	}
	if r.ReadFlag() {
		t.Fatal("read after error returned data")
	}
}

func TestEmulationPrevention_RoundTrip(t *testing.T) {
	tests := []struct {
		rbsp []byte
		want int
	}{
		{[]byte{0x00, 0x00, 0x01, 0x80}, 1},
		// The zero run restarts after an inserted byte.
		{[]byte{0x00, 0x00, 0x00, 0x00, 0x80}, 1},
		{[]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x80}, 2},
		{[]byte{0x00, 0x00, 0x04, 0x80}, 0},
		{[]byte{0x12, 0x00, 0x00, 0x03, 0x00, 0x00, 0x02, 0x80}, 2},
	}
	for i, tc := range tests {
		nal, n := AddEmulationPrevention(tc.rbsp)
		if n != tc.want {
			t.Errorf("case %d: inserted %d, want %d", i, n, tc.want)
		}
		if len(nal) != len(tc.rbsp)+n {
			t.Errorf("case %d: len %d", i, len(nal))
		}
		if back := RemoveEmulationPrevention(nal); !bytes.Equal(back, tc.rbsp) {
			t.Errorf("case %d: round trip = %x, want %x", i, back, tc.rbsp)
		}
	}
}

func TestEmulationPrevention_TrailingZero(t *testing.T) {
	tests := []struct {
		rbsp []byte
		want []byte
	}{
		{[]byte{0x12, 0x00}, []byte{0x12, 0x00, 0x03}},
		{[]byte{0x12, 0x00, 0x00}, []byte{0x12, 0x00, 0x00, 0x03}},
		{[]byte{0x12, 0x80}, []byte{0x12, 0x80}},
	}
	for i, tc := range tests {
		nal, n := AddEmulationPrevention(tc.rbsp)
		if !bytes.Equal(nal, tc.want) {
			t.Errorf("case %d: nal = %x, want %x", i, nal, tc.want)
		}
		if n != len(tc.want)-len(tc.rbsp) {
			t.Errorf("case %d: inserted %d", i, n)
		}
	}
}

// TestNALWriter_MatchesWriter writes the same fields to a NALWriter and a
// Writer: the NAL payload must be the Writer's bytes with emulation
// prevention.
func TestNALWriter_MatchesWriter(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	nw := NewNALWriter()
	w := NewWriter(0)
	for i := 0; i < 300; i++ {
		switch rng.Intn(4) {
		case 0:
			// Long zero runs force emulation prevention.
			nw.WriteBits(0, 24)
			w.WriteBits(0, 24)
		case 1:
			v := uint32(rng.Intn(4))
			nw.WriteBits(v, 8)
			w.WriteBits(v, 8)
		case 2:
			v := uint32(rng.Intn(1 << 12))
			nw.WriteUE(v)
			w.WriteUE(v)
		default:
			v := int32(rng.Intn(400) - 200)
			nw.WriteSE(v)
			w.WriteSE(v)
		}
	}
	nw.WriteTrailingBits()
	w.WriteTrailingBits()
	if !nw.ByteAligned() || nw.NumWrittenBits() != w.NumWrittenBits() {
		t.Fatalf("bits %d, want %d", nw.NumWrittenBits(), w.NumWrittenBits())
	}
	nal, epb := nw.NAL()
	want, wantEPB := AddEmulationPrevention(w.Bytes())
	if epb == 0 || epb != wantEPB || !bytes.Equal(nal, want) {
		t.Fatalf("nal with %d EPBs differs from %d", epb, wantEPB)
	}
	if !bytes.Equal(RemoveEmulationPrevention(nal), w.Bytes()) {
		t.Fatal("payload does not round trip")
	}
}

func TestReader_ReadU8(t *testing.T) {
	r := NewReader([]byte{0xa5, 0x3c, 0x0f})
	if b := r.ReadU8(); b != 0xa5 {
		t.Fatalf("aligned byte %#x", b)
	}
	r.ReadBits(4)
	if b := r.ReadU8(); b != 0xc0 {
		t.Fatalf("unaligned byte %#x, want 0xc0", b)
	}
	r.ReadBits(4)
	if b := r.ReadU8(); b != 0 || r.Err() != ErrUnexpectedEnd {
		t.Fatalf("past end: %#x, %v", b, r.Err())
	}
}
