package mvhevc

import (
	"testing"
)

func benchFrames(b *testing.B, n int) (*SequenceParams, []*Frame) {
	b.Helper()
	seq := DefaultSequenceParams(192, 128)
	return seq, textureFrames(8, seq.Width, seq.Height, n, 4)
}

func BenchmarkEncodeIntra(b *testing.B) {
	seq, frames := benchFrames(b, 1)
	enc, err := NewEncoder(seq, nil)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	var bits int
	for i := 0; i < b.N; i++ {
		au, err := enc.EncodePicture(frames[0], &PictureParams{Type: SliceI, POC: i})
		if err != nil {
			b.Fatal(err)
		}
		bits = au.Bits
	}
	b.SetBytes(int64(bits / 8))
}

func BenchmarkEncodeInter_WPP(b *testing.B) {
	seq, frames := benchFrames(b, 2)
	seq.WPP = true
	opts := DefaultEncoderOptions()
	opts.Workers = 4
	enc, err := NewEncoder(seq, opts)
	if err != nil {
		b.Fatal(err)
	}
	if _, err := enc.EncodePicture(frames[0], &PictureParams{Type: SliceI}); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// Every picture references POC 0, which stays in the window.
		pp := &PictureParams{Type: SliceP, POC: 1 + i, Refs: [2][]RefPicture{{{POC: 0}}}}
		if _, err := enc.EncodePicture(frames[1], pp); err != nil {
			b.Fatal(err)
		}
		b.StopTimer()
		enc.dpb.ApplyRPS(0, []int{0})
		enc.dpb.Prune()
		b.StartTimer()
	}
}

func BenchmarkDecode(b *testing.B) {
	seq, frames := benchFrames(b, 2)
	enc, err := NewEncoder(seq, nil)
	if err != nil {
		b.Fatal(err)
	}
	intra, err := enc.EncodePicture(frames[0], &PictureParams{Type: SliceI})
	if err != nil {
		b.Fatal(err)
	}
	inter, err := enc.EncodePicture(frames[1], &PictureParams{Type: SliceP, POC: 1, Refs: [2][]RefPicture{{{POC: 0}}}})
	if err != nil {
		b.Fatal(err)
	}
	b.SetBytes(int64((intra.Bits + inter.Bits) / 8))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dec, err := NewDecoder(seq)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := dec.DecodeAccessUnit(intra); err != nil {
			b.Fatal(err)
		}
		if _, err := dec.DecodeAccessUnit(inter); err != nil {
			b.Fatal(err)
		}
	}
}
