package container

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Common errors.
var (
	ErrInvalidHeader = errors.New("container: invalid file header")
	ErrVersion       = errors.New("container: unsupported version")
	ErrTooLarge      = errors.New("container: chunk too large")
)

// Chunk is a single chunk with its FourCC tag and payload.
type Chunk struct {
	FourCC  uint32
	Payload []byte
}

// PaddedSize returns the payload size padded to an even number of bytes.
func PaddedSize(size uint32) uint32 {
	return size + (size & 1)
}

// FourCCString returns a human-readable string for a FourCC value.
func FourCCString(fourcc uint32) string {
	b := [4]byte{
		byte(fourcc),
		byte(fourcc >> 8),
		byte(fourcc >> 16),
		byte(fourcc >> 24),
	}
	return string(b[:])
}

// WriteFileHeader writes the magic and the format version.
func WriteFileHeader(w io.Writer) error {
	var hdr [FileHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], FourCCFile)
	binary.LittleEndian.PutUint32(hdr[4:8], Version)
	_, err := w.Write(hdr[:])
	return errors.Wrap(err, "container: writing file header")
}

// ReadFileHeader checks the magic and the format version.
func ReadFileHeader(r io.Reader) error {
	var hdr [FileHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return errors.Wrap(err, "container: reading file header")
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != FourCCFile {
		return ErrInvalidHeader
	}
	if v := binary.LittleEndian.Uint32(hdr[4:8]); v != Version {
		return errors.Wrapf(ErrVersion, "version %d", v)
	}
	return nil
}

// WriteChunk writes a chunk header, the payload and the padding byte.
func WriteChunk(w io.Writer, fourcc uint32, payload []byte) error {
	if len(payload) > MaxChunkPayload {
		return errors.Wrapf(ErrTooLarge, "%s chunk of %d bytes", FourCCString(fourcc), len(payload))
	}
	var hdr [ChunkHeaderSize + 1]byte
	binary.LittleEndian.PutUint32(hdr[0:4], fourcc)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(payload)))
	if _, err := w.Write(hdr[:ChunkHeaderSize]); err != nil {
		return errors.Wrap(err, "container: writing chunk header")
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "container: writing chunk payload")
	}
	if len(payload)&1 != 0 {
		if _, err := w.Write(hdr[ChunkHeaderSize:]); err != nil {
			return errors.Wrap(err, "container: writing chunk padding")
		}
	}
	return nil
}

// ReadChunk reads a complete chunk (header + payload) from an io.Reader.
// It returns io.EOF when r ends before a new chunk.
func ReadChunk(r io.Reader) (Chunk, error) {
	var hdr [ChunkHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return Chunk{}, io.EOF
		}
		return Chunk{}, errors.Wrap(err, "container: reading chunk header")
	}

	fourcc := binary.LittleEndian.Uint32(hdr[0:4])
	payloadSize := binary.LittleEndian.Uint32(hdr[4:8])
	if payloadSize > MaxChunkPayload {
		return Chunk{}, errors.Wrapf(ErrTooLarge, "%s chunk of %d bytes", FourCCString(fourcc), payloadSize)
	}

	payload := make([]byte, PaddedSize(payloadSize))
	if _, err := io.ReadFull(r, payload); err != nil {
		return Chunk{}, errors.Wrapf(err, "container: reading %s payload", FourCCString(fourcc))
	}
	// Return only the actual payload (not padding byte).
	return Chunk{FourCC: fourcc, Payload: payload[:payloadSize]}, nil
}
