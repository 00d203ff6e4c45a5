package motion

import (
	"testing"

	"github.com/nicolegarcia/MV-HEVC/internal/cu"
	"github.com/nicolegarcia/MV-HEVC/internal/picture"
	"github.com/nicolegarcia/MV-HEVC/internal/predict"
)

// fakeField holds motion per 4x4 unit, every unit available.
type fakeField map[pos]Motion

func (f fakeField) set(px, py int, m Motion) { f[pos{px >> 2 << 2, py >> 2 << 2}] = m }

func (f fakeField) At(px, py, _ int) (Motion, bool) {
	m, ok := f[pos{px >> 2 << 2, py >> 2 << 2}]
	return m, ok
}

func uniL0(idx int8, x, y int32) Motion {
	return Motion{Dir: cu.DirL0, RefIdx: [2]int8{idx, -1}, MV: [2]cu.MV{{X: x, Y: y}}}
}

func uniL1(idx int8, x, y int32) Motion {
	return Motion{Dir: cu.DirL1, RefIdx: [2]int8{-1, idx}, MV: [2]cu.MV{{}, {X: x, Y: y}}}
}

func pContext(f Field) *Context {
	return &Context{
		Field:    f,
		POC:      4,
		Refs:     [2][]RefPic{{{POC: 3}, {POC: 2}}},
		NumLists: 1,
		MaxMerge: 5,
		PicW:     128,
		PicH:     128,
		Log2CTU:  6,
	}
}

func TestScaleMV(t *testing.T) {
	tests := []struct {
		mv     cu.MV
		tb, td int
		want   cu.MV
	}{
		{cu.MV{X: 100, Y: -7}, 3, 3, cu.MV{X: 100, Y: -7}},
		{cu.MV{X: 100, Y: -100}, 1, 2, cu.MV{X: 50, Y: -50}},
		{cu.MV{X: 100, Y: 3}, 2, 1, cu.MV{X: 200, Y: 6}},
		{cu.MV{X: 64}, -1, 1, cu.MV{X: -64}},
		{cu.MV{X: 30000}, 8, 1, cu.MV{X: 32767}},
	}
	for _, tt := range tests {
		if got := ScaleMV(tt.mv, tt.tb, tt.td); got != tt.want {
			t.Errorf("ScaleMV(%v, %d, %d) = %v, want %v", tt.mv, tt.tb, tt.td, got, tt.want)
		}
	}
}

func TestClipMV(t *testing.T) {
	got := ClipMV(cu.MV{X: -1000, Y: 1000}, 0, 0, 8, 8, 64, 64, 8)
	if want := (cu.MV{X: -60, Y: 284}); got != want {
		t.Errorf("ClipMV = %v, want %v", got, want)
	}
	in := cu.MV{X: 13, Y: -9}
	if got := ClipMV(in, 16, 16, 8, 8, 64, 64, 8); got != in {
		t.Errorf("in-range vector changed to %v", got)
	}
}

func TestMergeCandidates_ZeroFill(t *testing.T) {
	c := pContext(fakeField{})
	list := c.MergeCandidates(Block{X: 16, Y: 16, W: 16, H: 16}, Disparity{})
	if len(list) != 5 {
		t.Fatalf("len = %d, want 5", len(list))
	}
	wantIdx := []int8{0, 1, 0, 0, 0}
	for i, cand := range list {
		if cand.Source != SrcZero || cand.Dir != cu.DirL0 || cand.RefIdx[0] != wantIdx[i] || !cand.MV[0].IsZero() {
			t.Errorf("candidate %d = %+v", i, cand)
		}
	}
}

func TestMergeCandidates_Pruning(t *testing.T) {
	f := fakeField{}
	same := uniL0(0, 4, 8)
	f.set(15, 31, same) // A1
	f.set(31, 15, same) // B1
	other := uniL0(1, -4, 0)
	f.set(32, 15, other) // B0
	c := pContext(f)
	list := c.MergeCandidates(Block{X: 16, Y: 16, W: 16, H: 16}, Disparity{})
	if !list[0].Equal(same) || list[0].Source != SrcSpatial {
		t.Errorf("candidate 0 = %+v, want A1", list[0])
	}
	if !list[1].Equal(other) {
		t.Errorf("candidate 1 = %+v, want B0", list[1])
	}
	for i := 2; i < len(list); i++ {
		if list[i].Source != SrcZero {
			t.Errorf("candidate %d source %d, want zero", i, list[i].Source)
		}
	}
}

func TestMergeCandidates_SecondPartitionSkipsFirst(t *testing.T) {
	f := fakeField{}
	f.set(23, 31, uniL0(0, 12, 12)) // A1 of the right PU lies in the left PU
	c := pContext(f)
	b := Block{X: 24, Y: 16, W: 8, H: 16, PartIdx: 1, PartSize: cu.PartNx2N}
	for _, cand := range c.MergeCandidates(b, Disparity{}) {
		if cand.Source != SrcZero {
			t.Fatalf("unexpected candidate %+v", cand)
		}
	}
}

func TestMergeCandidates_CombinedBi(t *testing.T) {
	f := fakeField{}
	a1 := uniL0(0, 4, 0)
	b1 := uniL1(0, -4, 0)
	f.set(15, 31, a1)
	f.set(31, 15, b1)
	c := &Context{
		Field:    f,
		POC:      2,
		Refs:     [2][]RefPic{{{POC: 0}}, {{POC: 4}}},
		NumLists: 2,
		MaxMerge: 5,
		PicW:     64,
		PicH:     64,
		Log2CTU:  6,
	}
	list := c.MergeCandidates(Block{X: 16, Y: 16, W: 16, H: 16}, Disparity{})
	if len(list) != 5 {
		t.Fatalf("len = %d", len(list))
	}
	want := Motion{Dir: cu.DirBi, RefIdx: [2]int8{0, 0}, MV: [2]cu.MV{{X: 4}, {X: -4}}}
	if list[2].Source != SrcCombined || !list[2].Equal(want) {
		t.Errorf("candidate 2 = %+v, want combined %+v", list[2], want)
	}
	if list[3].Dir != cu.DirBi || list[3].Source != SrcZero {
		t.Errorf("candidate 3 = %+v, want bi zero", list[3])
	}

	small := c.MergeCandidates(Block{X: 16, Y: 16, W: 8, H: 4}, Disparity{})
	for i, cand := range small {
		if cand.Dir == cu.DirBi {
			t.Errorf("8x4 candidate %d is bi-predicted", i)
		}
	}
}

func TestAMVP(t *testing.T) {
	f := fakeField{}
	f.set(15, 31, uniL0(0, 8, 4)) // A1 references POC 3
	c := pContext(f)
	b := Block{X: 16, Y: 16, W: 16, H: 16}

	if got, want := c.AMVP(b, 0, 0), [2]cu.MV{{X: 8, Y: 4}, {}}; got != want {
		t.Errorf("same reference: %v, want %v", got, want)
	}
	// POC 2 is twice as far as POC 3.
	if got, want := c.AMVP(b, 0, 1), [2]cu.MV{{X: 16, Y: 8}, {}}; got != want {
		t.Errorf("scaled: %v, want %v", got, want)
	}

	f = fakeField{}
	f.set(31, 15, uniL0(0, 4, 4)) // B1 only
	c = pContext(f)
	if got, want := c.AMVP(b, 0, 0), [2]cu.MV{{X: 4, Y: 4}, {}}; got != want {
		t.Errorf("above only: %v, want %v", got, want)
	}

	f.set(15, 31, uniL0(0, -8, 0))
	c = pContext(f)
	if got, want := c.AMVP(b, 0, 0), [2]cu.MV{{X: -8}, {X: 4, Y: 4}}; got != want {
		t.Errorf("left and above: %v, want %v", got, want)
	}
}

func TestNBDV(t *testing.T) {
	c := &Context{
		Field:    fakeField{},
		POC:      0,
		View:     1,
		Refs:     [2][]RefPic{{{POC: 0, View: 0}}},
		NumLists: 1,
		MaxMerge: 6,
		PicW:     64,
		PicH:     64,
		Log2CTU:  6,
	}
	b := Block{X: 16, Y: 16, W: 16, H: 16}
	d := c.NBDV(b)
	if !d.Valid || d.FromNeighbour || !d.DV.IsZero() || d.RefView != 0 {
		t.Errorf("no neighbours: %+v", d)
	}

	f := fakeField{}
	f.set(15, 31, uniL0(0, -20, 0))
	c.Field = f
	d = c.NBDV(b)
	if !d.FromNeighbour || d.DV != (cu.MV{X: -20}) {
		t.Errorf("neighbour disparity: %+v", d)
	}

	depth := picture.New(0, 0, cu.NewGeometry(6, 3), 64, 64, 8, nil)
	depth.IsDepth = true
	depth.Recon.Plane(cu.Y).Fill(128)
	c.Depth = depth
	c.LUT = predict.NewDisparityLUT(predict.CameraParams{Scale: 1 << 12, Precision: 4}, 8)
	d = c.NBDV(b)
	if !d.Refined || d.DV != (cu.MV{X: 32}) {
		t.Errorf("refined disparity: %+v", d)
	}

	c.Refs = [2][]RefPic{{{POC: -1, View: 1}}}
	if d := c.NBDV(b); d.Valid {
		t.Errorf("temporal-only references gave %+v", d)
	}
}

func TestMergeCandidates_InterView(t *testing.T) {
	geo := cu.NewGeometry(6, 3)
	base := picture.New(4, 0, geo, 64, 64, 8, nil)
	base.Grid.SetSlice(0, 0)
	base.SliceRefs[0] = [2][]picture.Ref{{{POC: 0, View: 0}}}
	d, z, _ := base.Grid.PartAt(24, 24)
	d.Parts[z] = cu.Part{PredMode: cu.ModeInter, InterDir: cu.DirL0, RefIdx: [2]int8{0, -1}, MV: [2]cu.MV{{X: 12, Y: -4}}}

	c := &Context{
		Field:    fakeField{},
		POC:      4,
		View:     1,
		Refs:     [2][]RefPic{{{POC: 0, View: 1}, {POC: 4, View: 0}}},
		NumLists: 1,
		MaxMerge: 6,
		PicW:     64,
		PicH:     64,
		Log2CTU:  6,
		BaseView: base,
	}
	// The block centre (24, 24) with a zero disparity lands on the base
	// view block above.
	list := c.MergeCandidates(Block{X: 16, Y: 16, W: 16, H: 16}, Disparity{Valid: true})
	if list[0].Source != SrcInterViewMotion || !list[0].Equal(uniL0(0, 12, -4)) {
		t.Errorf("candidate 0 = %+v, want inter-view motion", list[0])
	}
	if list[1].Source != SrcInterViewDisparity || list[1].RefIdx[0] != 1 {
		t.Errorf("candidate 1 = %+v, want disparity candidate on reference 1", list[1])
	}
}

func TestMergeCandidates_Temporal(t *testing.T) {
	geo := cu.NewGeometry(6, 3)
	col := picture.New(4, 0, geo, 64, 64, 8, nil)
	col.Grid.SetSlice(0, 0)
	col.SliceRefs[0] = [2][]picture.Ref{{{POC: 0}}}
	d, z, _ := col.Grid.PartAt(32, 32)
	d.Parts[z] = cu.Part{PredMode: cu.ModeInter, InterDir: cu.DirL0, RefIdx: [2]int8{0, -1}, MV: [2]cu.MV{{X: 16, Y: -8}}}

	c := &Context{
		Field:    fakeField{},
		POC:      6,
		Refs:     [2][]RefPic{{{POC: 4}}},
		NumLists: 1,
		MaxMerge: 5,
		PicW:     64,
		PicH:     64,
		Log2CTU:  6,
		Col:      col,
	}
	b := Block{X: 0, Y: 0, W: 32, H: 32}
	list := c.MergeCandidates(b, Disparity{})
	if list[0].Source != SrcTemporal || !list[0].Equal(uniL0(0, 8, -4)) {
		t.Errorf("candidate 0 = %+v, want scaled temporal", list[0])
	}
	// The bottom-right position of a block on the CTU bottom row falls back
	// to the centre, which is not coded.
	if _, ok := c.Temporal(Block{X: 0, Y: 32, W: 32, H: 32}, 0, 0); ok {
		t.Error("temporal predictor found below the CTU row")
	}
}
