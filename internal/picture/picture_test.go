package picture

import (
	"math"
	"testing"

	"github.com/nicolegarcia/MV-HEVC/internal/cu"
)

func TestPlane_ClampedAndCopy(t *testing.T) {
	p := NewPlane(8, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			p.Set(x, y, int16(y*8+x))
		}
	}
	tests := []struct {
		x, y int
		want int16
	}{
		{-3, -1, 0},
		{10, 0, 7},
		{2, 9, 26},
		{3, 2, 19},
	}
	for _, tt := range tests {
		if got := p.Clamped(tt.x, tt.y); got != tt.want {
			t.Errorf("Clamped(%d,%d) = %d, want %d", tt.x, tt.y, got, tt.want)
		}
	}

	q := NewPlane(4, 4)
	q.CopyFrom(p, 6, 2, 1, 1, 4, 4) // clipped to 2x2 by the source
	if q.At(1, 1) != 22 || q.At(2, 2) != 31 || q.At(3, 3) != 0 {
		t.Fatalf("unexpected copy result %v", q.Pix)
	}
}

func TestPSNR(t *testing.T) {
	a := NewPlane(4, 4)
	b := a.Clone()
	if !math.IsInf(PSNR(a, b, 8), 1) {
		t.Fatal("identical planes must give +Inf")
	}
	b.Set(0, 0, 4)
	if sse := SSE(a, b); sse != 16 {
		t.Fatalf("SSE = %d, want 16", sse)
	}
	want := 10 * math.Log10(255*255/1.0)
	if got := PSNR(a, b, 8); math.Abs(got-want) > 1e-9 {
		t.Fatalf("PSNR = %f, want %f", got, want)
	}
}

func TestDPB_Lifecycle(t *testing.T) {
	geo := cu.NewGeometry(4, 3)
	d := NewDPB(3)
	for poc := 0; poc < 3; poc++ {
		if err := d.Insert(New(poc, 0, geo, 16, 16, 8, nil)); err != nil {
			t.Fatal(err)
		}
	}
	if err := d.Insert(New(3, 0, geo, 16, 16, 8, nil)); err != ErrDPBFull {
		t.Fatalf("Insert into full DPB: %v", err)
	}

	if p := d.Bump(); p == nil || p.POC != 0 {
		t.Fatalf("Bump = %v, want POC 0", p)
	}
	d.ApplyRPS(0, []int{2})
	if d.Find(0, 0).Marking != Unused || d.Find(2, 0).Marking != ShortTerm {
		t.Fatal("RPS marking")
	}
	// POC 0 is unused and output: it goes. POC 1 still waits for output.
	if err := d.Insert(New(3, 0, geo, 16, 16, 8, nil)); err != nil {
		t.Fatal(err)
	}
	if d.Find(0, 0) != nil || d.Find(1, 0) == nil || d.Len() != 3 {
		t.Fatalf("unexpected contents after pruning: %d pictures", d.Len())
	}
	order := []int{1, 2, 3}
	for _, poc := range order {
		if p := d.Bump(); p == nil || p.POC != poc {
			t.Fatalf("output order: got %v, want POC %d", p, poc)
		}
	}
	if d.Bump() != nil {
		t.Fatal("nothing left to output")
	}
}

func TestPicture_RefOf(t *testing.T) {
	geo := cu.NewGeometry(4, 3)
	p := New(4, 1, geo, 32, 16, 8, nil)
	p.Grid.SetSlice(0, 0)
	p.Grid.SetSlice(1, 0)
	p.SliceRefs[0] = [2][]Ref{{{POC: 4, View: 0}, {POC: 3, View: 1}}}
	if r, ok := p.RefOf(1, 0, 1); !ok || r.POC != 3 || r.View != 1 {
		t.Fatalf("RefOf = %v %v", r, ok)
	}
	if _, ok := p.RefOf(1, 1, 0); ok {
		t.Fatal("empty list must not resolve")
	}
}
