package mvhevc

import (
	"io"

	"github.com/pkg/errors"

	"github.com/nicolegarcia/MV-HEVC/internal/bitio"
	"github.com/nicolegarcia/MV-HEVC/internal/container"
)

// ErrStream reports a malformed stream file.
var ErrStream = errors.New("mvhevc: malformed stream")

// MarshalBinary encodes p as a parameter set: Exp-Golomb codes and flags
// followed by trailing bits, with emulation prevention.
func (p *SequenceParams) MarshalBinary() ([]byte, error) {
	if _, err := p.sequence(); err != nil {
		return nil, err
	}
	w := bitio.NewNALWriter()
	w.WriteUE(uint32(p.Width))
	w.WriteUE(uint32(p.Height))
	w.WriteUE(uint32(p.BitDepth - 8))
	w.WriteUE(uint32(log2(p.CTUSize) - 3))
	w.WriteUE(uint32(log2(p.MinCUSize) - 3))
	w.WriteUE(uint32(log2(p.MaxTUSize) - 2))
	w.WriteUE(uint32(p.MaxTUDepth))
	for _, f := range []bool{p.CAVLC, p.AMP, p.SignHiding, p.ScalingList, p.CUQPDelta} {
		w.WriteFlag(f)
	}
	w.WriteSE(int32(p.ChromaQPOffset))
	w.WriteUE(uint32(p.MaxMergeCand - 1))
	for _, sizes := range [][]int{p.TileColumns, p.TileRows} {
		w.WriteUE(uint32(len(sizes)))
		for _, v := range sizes {
			w.WriteUE(uint32(v - 1))
		}
	}
	w.WriteFlag(p.WPP)
	w.WriteFlag(p.DependentSlices)
	w.WriteUE(uint32(p.Views - 1))
	for _, f := range []bool{p.InterView, p.IC, p.VSP} {
		w.WriteFlag(f)
	}
	w.WriteUE(uint32(p.MaxRefPictures - 1))
	w.WriteUE(uint32(p.MaxReorder))
	w.WriteTrailingBits()
	ps, _ := w.NAL()
	return ps, nil
}

func log2(v int) int {
	n, _ := log2Of(v, "")
	return n
}

// UnmarshalBinary decodes a parameter set written by MarshalBinary.
func (p *SequenceParams) UnmarshalBinary(data []byte) error {
	r := bitio.NewReader(bitio.RemoveEmulationPrevention(data))
	ue := func(limit uint32) int {
		return int(min(r.ReadUE(), limit))
	}
	var q SequenceParams
	q.Width = ue(1 << 16)
	q.Height = ue(1 << 16)
	q.BitDepth = 8 + ue(8)
	q.CTUSize = 8 << uint(ue(4))
	q.MinCUSize = 8 << uint(ue(4))
	q.MaxTUSize = 4 << uint(ue(4))
	q.MaxTUDepth = ue(8)
	for _, f := range []*bool{&q.CAVLC, &q.AMP, &q.SignHiding, &q.ScalingList, &q.CUQPDelta} {
		*f = r.ReadFlag()
	}
	q.ChromaQPOffset = int(r.ReadSE())
	q.MaxMergeCand = 1 + ue(8)
	for _, sizes := range []*[]int{&q.TileColumns, &q.TileRows} {
		n := ue(1 << 10)
		for i := 0; i < n && r.Err() == nil; i++ {
			*sizes = append(*sizes, 1+ue(1<<16))
		}
	}
	q.WPP = r.ReadFlag()
	q.DependentSlices = r.ReadFlag()
	q.Views = 1 + ue(1<<10)
	for _, f := range []*bool{&q.InterView, &q.IC, &q.VSP} {
		*f = r.ReadFlag()
	}
	q.MaxRefPictures = 1 + ue(1<<10)
	q.MaxReorder = ue(1 << 10)
	if !r.ReadTrailingBits() {
		return errors.Wrap(ErrStream, "parameter set alignment")
	}
	if err := r.Err(); err != nil {
		return errors.Wrap(ErrStream, err.Error())
	}
	if _, err := q.sequence(); err != nil {
		return err
	}
	*p = q
	return nil
}

// StreamWriter writes a stream file: the sequence parameters followed by
// access units.
type StreamWriter struct {
	w io.Writer
}

// NewStreamWriter writes the file header and seq to w.
func NewStreamWriter(w io.Writer, seq *SequenceParams) (*StreamWriter, error) {
	ps, err := seq.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if err := container.WriteFileHeader(w); err != nil {
		return nil, err
	}
	if err := container.WriteChunk(w, container.FourCCSequence, ps); err != nil {
		return nil, err
	}
	return &StreamWriter{w: w}, nil
}

// WriteAccessUnit appends au.
func (s *StreamWriter) WriteAccessUnit(au *AccessUnit) error {
	h := bitio.NewNALWriter()
	h.WriteUE(uint32(au.POC))
	h.WriteUE(uint32(au.View))
	h.WriteUE(uint32(au.Type))
	h.WriteSE(int32(au.QP))
	h.WriteTrailingBits()
	hdr, _ := h.NAL()
	if err := container.WriteChunk(s.w, container.FourCCAccessUnit, hdr); err != nil {
		return err
	}
	for _, nal := range au.Segments {
		if err := container.WriteChunk(s.w, container.FourCCSegment, nal); err != nil {
			return err
		}
	}
	return nil
}

// StreamReader reads a stream file written by StreamWriter.
type StreamReader struct {
	r    io.Reader
	seq  SequenceParams
	next *AccessUnit
}

// NewStreamReader reads the file header and the sequence parameters.
func NewStreamReader(r io.Reader) (*StreamReader, error) {
	if err := container.ReadFileHeader(r); err != nil {
		return nil, errors.Wrap(ErrStream, err.Error())
	}
	c, err := container.ReadChunk(r)
	if err != nil {
		return nil, errors.Wrap(ErrStream, "missing sequence parameters")
	}
	if c.FourCC != container.FourCCSequence {
		return nil, errors.Wrapf(ErrStream, "%s chunk before the sequence parameters", container.FourCCString(c.FourCC))
	}
	s := &StreamReader{r: r}
	if err := s.seq.UnmarshalBinary(c.Payload); err != nil {
		return nil, err
	}
	return s, nil
}

// Sequence returns the sequence parameters of the stream.
func (s *StreamReader) Sequence() *SequenceParams { return &s.seq }

// Next returns the next access unit, or io.EOF after the last one.
// Chunks of unknown type are skipped.
func (s *StreamReader) Next() (*AccessUnit, error) {
	au := s.next
	s.next = nil
	for {
		c, err := container.ReadChunk(s.r)
		if err == io.EOF {
			if au == nil {
				return nil, io.EOF
			}
			return au, nil
		}
		if err != nil {
			return nil, err
		}
		switch c.FourCC {
		case container.FourCCAccessUnit:
			next, err := parseAUHeader(c.Payload)
			if err != nil {
				return nil, err
			}
			if au != nil {
				s.next = next
				return au, nil
			}
			au = next
		case container.FourCCSegment:
			if au == nil {
				return nil, errors.Wrap(ErrStream, "segment outside an access unit")
			}
			au.Segments = append(au.Segments, c.Payload)
		}
	}
}

func parseAUHeader(b []byte) (*AccessUnit, error) {
	r := bitio.NewReader(bitio.RemoveEmulationPrevention(b))
	au := &AccessUnit{
		POC:  int(r.ReadUE()),
		View: int(r.ReadUE()),
		Type: SliceType(r.ReadUE()),
		QP:   int(r.ReadSE()),
	}
	if !r.ReadTrailingBits() || r.Err() != nil || au.Type > SliceI {
		return nil, errors.Wrap(ErrStream, "access unit header")
	}
	return au, nil
}
