package mvhevc

import (
	"bytes"
	"io"
	"math/rand"
	"slices"
	"testing"

	"github.com/pkg/errors"
)

// testSequence returns small single-view parameters with 16x16 CTUs.
func testSequence(w, h int) *SequenceParams {
	p := DefaultSequenceParams(w, h)
	p.CTUSize = 16
	p.MaxTUSize = 16
	return p
}

func testOptions() *EncoderOptions {
	o := DefaultEncoderOptions()
	o.QP = 30
	o.SearchRange = 8
	o.MaxIntraRD = 2
	return o
}

// textureFrames returns n frames cut from one random texture, moving by
// dx luma samples per frame. dx must be even.
func textureFrames(seed int64, w, h, n, dx int) []*Frame {
	rng := rand.New(rand.NewSource(seed))
	bw, bh := w+n*dx+8, h
	big := NewFrame(bw, bh)
	for i, plane := range big.planes() {
		pw := bw
		if i > 0 {
			pw = bw / 2
		}
		for j := range plane {
			x, y := j%pw, j/pw
			plane[j] = int16(64 + (x/4*37+y/4*91)%128 + rng.Intn(8))
		}
	}
	out := make([]*Frame, n)
	for k := range out {
		f := NewFrame(w, h)
		f.POC = k
		for i, dst := range f.planes() {
			src, fw, sw, off := big.planes()[i], w, bw, k*dx
			fh := h
			if i > 0 {
				fw, sw, off, fh = w/2, bw/2, k*dx/2, h/2
			}
			for y := 0; y < fh; y++ {
				copy(dst[y*fw:(y+1)*fw], src[y*sw+off:])
			}
		}
		out[k] = f
	}
	return out
}

func flatFrame(w, h int, v int16) *Frame {
	f := NewFrame(w, h)
	for i := range f.Y {
		f.Y[i] = v
	}
	for i := range f.Cb {
		f.Cb[i], f.Cr[i] = 128, 128
	}
	return f
}

func assertSameFrame(t *testing.T, got, want *Frame) {
	t.Helper()
	if got.POC != want.POC || got.View != want.View {
		t.Fatalf("frame POC %d view %d, want POC %d view %d", got.POC, got.View, want.POC, want.View)
	}
	names := [3]string{"Y", "Cb", "Cr"}
	for c, p := range got.planes() {
		if !slices.Equal(p, want.planes()[c]) {
			t.Errorf("POC %d view %d: %s plane differs from the encoder reconstruction", got.POC, got.View, names[c])
		}
	}
}

func TestEncodeDecode_SingleView(t *testing.T) {
	const w, h = 48, 32
	tests := []struct {
		name string
		seq  func(p *SequenceParams)
		opts func(o *EncoderOptions)
	}{
		{"default", nil, nil},
		{"cavlc", func(p *SequenceParams) {
			p.CAVLC = true
			p.SignHiding = false
		}, func(o *EncoderOptions) { o.RDOQ = false }},
		{"wpp_workers", func(p *SequenceParams) { p.WPP = true }, func(o *EncoderOptions) { o.Workers = 3 }},
		{"tiles_byte_slices", func(p *SequenceParams) {
			p.TileColumns = []int{1, 2}
		}, func(o *EncoderOptions) { o.Slices = Partition{SliceModeBytes, 80} }},
		{"dependent_segments", func(p *SequenceParams) {
			p.DependentSlices = true
		}, func(o *EncoderOptions) {
			o.Slices = Partition{SliceModeCTUs, 4}
			o.Segments = Partition{SliceModeCTUs, 2}
		}},
		{"rate_control", func(p *SequenceParams) { p.CUQPDelta = true }, func(o *EncoderOptions) { o.TargetBits = 2500 }},
		{"precompress", nil, func(o *EncoderOptions) { o.DeltaQPRD = 1 }},
	}
	frames := textureFrames(1, w, h, 3, 2)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := testSequence(w, h)
			if tt.seq != nil {
				tt.seq(seq)
			}
			opts := testOptions()
			if tt.opts != nil {
				tt.opts(opts)
			}
			enc, err := NewEncoder(seq, opts)
			if err != nil {
				t.Fatal(err)
			}
			dec, err := NewDecoder(seq)
			if err != nil {
				t.Fatal(err)
			}
			params := []*PictureParams{
				{Type: SliceI, POC: 0},
				{Type: SliceP, POC: 1, Refs: [2][]RefPicture{{{POC: 0}}}},
				{Type: SliceB, POC: 2, Refs: [2][]RefPicture{{{POC: 1}, {POC: 0}}, {{POC: 0}}}},
			}
			for i, pp := range params {
				au, err := enc.EncodePicture(frames[i], pp)
				if err != nil {
					t.Fatalf("encode POC %d: %v", pp.POC, err)
				}
				if au.PSNR[0] < 25 {
					t.Errorf("POC %d: luma PSNR %.2f dB", pp.POC, au.PSNR[0])
				}
				got, err := dec.DecodeAccessUnit(au)
				if err != nil {
					t.Fatalf("decode POC %d: %v", pp.POC, err)
				}
				assertSameFrame(t, got, au.Recon)
			}
		})
	}
}

// TestEncodeDecode_TwoViews codes a second view that predicts from the
// base view with illumination compensation and view synthesis.
func TestEncodeDecode_TwoViews(t *testing.T) {
	const w, h = 48, 32
	seq := testSequence(w, h)
	seq.Views = 2
	seq.InterView, seq.IC, seq.VSP = true, true, true
	enc, err := NewEncoder(seq, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	dec, err := NewDecoder(seq)
	if err != nil {
		t.Fatal(err)
	}

	base := textureFrames(2, w, h, 2, 4)
	side := textureFrames(2, w, h, 3, 4)[1:]
	for _, f := range side {
		for i, v := range f.Y {
			f.Y[i] = min(v+10, 255)
		}
	}
	depth := flatFrame(w, h, 100)
	cam := Camera{Scale: 1 << 12, Precision: 4}

	for poc := 0; poc < 2; poc++ {
		p0 := &PictureParams{Type: SliceI, POC: poc}
		p1 := &PictureParams{Type: SliceP, POC: poc, View: 1, IC: true, Depth: depth, Camera: cam,
			Refs: [2][]RefPicture{{{POC: poc, View: 0}}}}
		if poc > 0 {
			p0 = &PictureParams{Type: SliceP, POC: poc, Refs: [2][]RefPicture{{{POC: poc - 1}}}}
			p1.Type = SliceB
			p1.Refs = [2][]RefPicture{{{POC: poc, View: 0}, {POC: poc - 1, View: 1}}, {{POC: poc - 1, View: 1}}}
		}
		for _, pp := range []*PictureParams{p0, p1} {
			f := base[poc]
			if pp.View == 1 {
				f = side[poc]
				if err := dec.SetDepth(poc, depth, cam); err != nil {
					t.Fatal(err)
				}
			}
			au, err := enc.EncodePicture(f, pp)
			if err != nil {
				t.Fatalf("encode POC %d view %d: %v", poc, pp.View, err)
			}
			got, err := dec.DecodeAccessUnit(au)
			if err != nil {
				t.Fatalf("decode POC %d view %d: %v", poc, pp.View, err)
			}
			assertSameFrame(t, got, au.Recon)
		}
	}
}

// TestEncodeDecode_Weighted codes a B picture with explicit weights and
// rejects weights that cannot be signalled.
func TestEncodeDecode_Weighted(t *testing.T) {
	const w, h = 32, 32
	seq := testSequence(w, h)
	enc, err := NewEncoder(seq, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	dec, err := NewDecoder(seq)
	if err != nil {
		t.Fatal(err)
	}
	frames := textureFrames(6, w, h, 3, 2)
	wt := UnitWeights(5, 3)
	wt.W[0][0], wt.Offset[1][0] = 30, -4
	params := []*PictureParams{
		{Type: SliceI, POC: 0},
		{Type: SliceP, POC: 1, Refs: [2][]RefPicture{{{POC: 0}}}, Weights: UnitWeights(0, 0)},
		{Type: SliceB, POC: 2, Refs: [2][]RefPicture{{{POC: 1}}, {{POC: 0}}}, Weights: wt},
	}
	for i, pp := range params {
		au, err := enc.EncodePicture(frames[i], pp)
		if err != nil {
			t.Fatalf("POC %d: %v", pp.POC, err)
		}
		got, err := dec.DecodeAccessUnit(au)
		if err != nil {
			t.Fatalf("POC %d: %v", pp.POC, err)
		}
		assertSameFrame(t, got, au.Recon)
	}

	bad := UnitWeights(6, 6)
	bad.W[0][0] = 300
	_, err = enc.EncodePicture(frames[0], &PictureParams{Type: SliceP, POC: 3, Refs: [2][]RefPicture{{{POC: 2}}}, Weights: bad})
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}
}

func TestDecoder_OutputOrder(t *testing.T) {
	const w, h = 32, 32
	seq := testSequence(w, h)
	seq.MaxReorder = 1
	enc, err := NewEncoder(seq, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	dec, err := NewDecoder(seq)
	if err != nil {
		t.Fatal(err)
	}
	frames := textureFrames(3, w, h, 3, 2)
	// Decoding order 0, 2, 1.
	params := []*PictureParams{
		{Type: SliceI, POC: 0},
		{Type: SliceP, POC: 2, Refs: [2][]RefPicture{{{POC: 0}}}},
		{Type: SliceB, POC: 1, Refs: [2][]RefPicture{{{POC: 0}}, {{POC: 2}}}},
	}
	var out []int
	for _, pp := range params {
		au, err := enc.EncodePicture(frames[pp.POC], pp)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := dec.DecodeAccessUnit(au); err != nil {
			t.Fatal(err)
		}
		for _, f := range dec.Output() {
			out = append(out, f.POC)
		}
		if pp.POC == 0 && len(out) != 0 {
			t.Fatalf("picture output before the reorder window filled: %v", out)
		}
	}
	for _, f := range dec.Flush() {
		out = append(out, f.POC)
	}
	if want := []int{0, 1, 2}; !slices.Equal(out, want) {
		t.Errorf("output order %v, want %v", out, want)
	}
}

func TestDecoder_Errors(t *testing.T) {
	const w, h = 32, 32
	seq := testSequence(w, h)
	enc, err := NewEncoder(seq, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	frames := textureFrames(4, w, h, 2, 2)
	intra, err := enc.EncodePicture(frames[0], &PictureParams{Type: SliceI})
	if err != nil {
		t.Fatal(err)
	}
	inter, err := enc.EncodePicture(frames[1], &PictureParams{Type: SliceP, POC: 1, Refs: [2][]RefPicture{{{POC: 0}}}})
	if err != nil {
		t.Fatal(err)
	}

	t.Run("missing_reference", func(t *testing.T) {
		dec, _ := NewDecoder(seq)
		if _, err := dec.DecodeAccessUnit(inter); !errors.Is(err, ErrMissingReference) {
			t.Errorf("err = %v, want ErrMissingReference", err)
		}
	})
	t.Run("truncated_access_unit", func(t *testing.T) {
		dec, _ := NewDecoder(seq)
		cut := &AccessUnit{POC: intra.POC, Segments: [][]byte{intra.Segments[0][:len(intra.Segments[0])/2]}}
		if _, err := dec.DecodeAccessUnit(cut); err == nil {
			t.Error("truncated picture decoded")
		}
		// The decoder recovers at the next picture.
		if _, err := dec.DecodeAccessUnit(intra); err != nil {
			t.Errorf("after an error: %v", err)
		}
	})
	t.Run("segment_without_picture", func(t *testing.T) {
		seq := testSequence(w, h)
		seq.DependentSlices = true
		o := testOptions()
		o.Segments = Partition{SliceModeCTUs, 1}
		e, err := NewEncoder(seq, o)
		if err != nil {
			t.Fatal(err)
		}
		au, err := e.EncodePicture(frames[0], &PictureParams{Type: SliceI})
		if err != nil {
			t.Fatal(err)
		}
		dec, _ := NewDecoder(seq)
		if _, err := dec.DecodeSegment(au.Segments[1]); !errors.Is(err, ErrConformance) {
			t.Errorf("err = %v, want ErrConformance", err)
		}
	})
	t.Run("encoder_missing_reference", func(t *testing.T) {
		_, err := enc.EncodePicture(frames[1], &PictureParams{Type: SliceP, POC: 5, Refs: [2][]RefPicture{{{POC: 4}}}})
		if !errors.Is(err, ErrMissingReference) {
			t.Errorf("err = %v, want ErrMissingReference", err)
		}
	})
}

func TestNewEncoder_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		seq  func(p *SequenceParams)
		opts func(o *EncoderOptions)
	}{
		{"ctu_not_power_of_two", func(p *SequenceParams) { p.CTUSize = 24 }, nil},
		{"no_views", func(p *SequenceParams) { p.Views = 0 }, nil},
		{"wpp_with_cavlc", func(p *SequenceParams) {
			p.CAVLC, p.SignHiding, p.WPP = true, false, true
		}, func(o *EncoderOptions) { o.RDOQ = false }},
		{"rdoq_with_cavlc", func(p *SequenceParams) {
			p.CAVLC, p.SignHiding = true, false
		}, nil},
		{"vsp_without_inter_view", func(p *SequenceParams) { p.VSP = true }, nil},
		{"qp_out_of_range", nil, func(o *EncoderOptions) { o.QP = 60 }},
		{"bad_slice_mode", nil, func(o *EncoderOptions) { o.Slices = Partition{Mode: 9, Arg: 1} }},
		{"segments_without_dependent_slices", nil, func(o *EncoderOptions) { o.Segments = Partition{SliceModeCTUs, 2} }},
		{"negative_target", nil, func(o *EncoderOptions) { o.TargetBits = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := testSequence(32, 32)
			if tt.seq != nil {
				tt.seq(seq)
			}
			opts := testOptions()
			if tt.opts != nil {
				tt.opts(opts)
			}
			if _, err := NewEncoder(seq, opts); !errors.Is(err, ErrConfig) {
				t.Errorf("NewEncoder() = %v, want ErrConfig", err)
			}
		})
	}
}

func TestEncodePicture_FrameSize(t *testing.T) {
	enc, err := NewEncoder(testSequence(32, 32), testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := enc.EncodePicture(NewFrame(16, 16), &PictureParams{Type: SliceI}); !errors.Is(err, ErrConfig) {
		t.Errorf("mismatched frame: %v", err)
	}
	if _, err := enc.EncodePicture(NewFrame(32, 32), &PictureParams{Type: SliceI, View: 1}); !errors.Is(err, ErrConfig) {
		t.Errorf("view beyond the sequence: %v", err)
	}
}

func TestSequenceParams_Binary(t *testing.T) {
	p := testSequence(64, 48)
	p.TileColumns = []int{1, 3}
	p.TileRows = []int{2, 1}
	p.Views, p.InterView, p.IC = 3, true, true
	p.ChromaQPOffset = -2
	p.MaxReorder = 2
	b, err := p.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	var q SequenceParams
	if err := q.UnmarshalBinary(b); err != nil {
		t.Fatal(err)
	}
	pb, _ := p.MarshalBinary()
	qb, _ := q.MarshalBinary()
	if !bytes.Equal(pb, qb) || q.Views != 3 || !slices.Equal(q.TileColumns, p.TileColumns) {
		t.Errorf("round trip changed the parameters: %+v", q)
	}
	if err := q.UnmarshalBinary(b[:len(b)/2]); err == nil {
		t.Error("truncated parameter set accepted")
	}
}

func TestStream_RoundTrip(t *testing.T) {
	const w, h = 32, 32
	seq := testSequence(w, h)
	seq.DependentSlices = true
	opts := testOptions()
	opts.Segments = Partition{SliceModeCTUs, 2}
	enc, err := NewEncoder(seq, opts)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	sw, err := NewStreamWriter(&buf, seq)
	if err != nil {
		t.Fatal(err)
	}
	frames := textureFrames(5, w, h, 3, 2)
	var aus []*AccessUnit
	for i, f := range frames {
		pp := &PictureParams{Type: SliceI, POC: i}
		if i > 0 {
			pp = &PictureParams{Type: SliceP, POC: i, Refs: [2][]RefPicture{{{POC: i - 1}}}}
		}
		au, err := enc.EncodePicture(f, pp)
		if err != nil {
			t.Fatal(err)
		}
		if err := sw.WriteAccessUnit(au); err != nil {
			t.Fatal(err)
		}
		aus = append(aus, au)
	}

	sr, err := NewStreamReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	dec, err := NewDecoder(sr.Sequence())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; ; i++ {
		au, err := sr.Next()
		if err == io.EOF {
			if i != len(aus) {
				t.Fatalf("read %d access units, wrote %d", i, len(aus))
			}
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if au.POC != aus[i].POC || au.Type != aus[i].Type || len(au.Segments) != len(aus[i].Segments) {
			t.Fatalf("access unit %d: POC %d type %v with %d segments", i, au.POC, au.Type, len(au.Segments))
		}
		f, err := dec.DecodeAccessUnit(au)
		if err != nil {
			t.Fatal(err)
		}
		assertSameFrame(t, f, aus[i].Recon)
	}
}

func TestNewStreamReader_Errors(t *testing.T) {
	if _, err := NewStreamReader(bytes.NewReader([]byte("JUNKJUNK"))); !errors.Is(err, ErrStream) {
		t.Errorf("bad header: %v", err)
	}
	var buf bytes.Buffer
	if _, err := NewStreamWriter(&buf, testSequence(32, 32)); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStreamReader(bytes.NewReader(buf.Bytes()[:buf.Len()-3])); err == nil {
		t.Error("truncated parameter set accepted")
	}
}

func TestFrame_ReadWrite(t *testing.T) {
	f := textureFrames(6, 16, 8, 1, 0)[0]
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 16*8*3/2 {
		t.Fatalf("wrote %d bytes", buf.Len())
	}
	g, err := ReadFrame(&buf, 16, 8)
	if err != nil {
		t.Fatal(err)
	}
	psnr := g.PSNR(f, 8)
	for c, v := range psnr {
		if v < 1e9 {
			t.Errorf("plane %d: PSNR %f after a lossless round trip", c, v)
		}
	}
	if _, err := ReadFrame(&buf, 16, 8); err == nil {
		t.Error("read past the end")
	}
}
