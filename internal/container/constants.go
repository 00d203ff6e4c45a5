// Package container reads and writes the chunked stream file that carries
// coded slice segments: a file header followed by size-prefixed chunks,
// each tagged with a FourCC. Sizes are little-endian and payloads are
// padded to an even length.
package container

// FourCC creates a FourCC value from four bytes (little-endian).
func FourCC(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

// Chunk tags.
var (
	FourCCFile = FourCC('M', 'V', 'H', 'C')
	// FourCCSequence carries the sequence parameters.
	FourCCSequence = FourCC('S', 'E', 'Q', 'P')
	// FourCCAccessUnit opens the segments of one coded picture.
	FourCCAccessUnit = FourCC('A', 'U', 'H', 'D')
	// FourCCSegment holds one slice segment NAL.
	FourCCSegment = FourCC('N', 'A', 'L', 'U')
)

// Sizes.
const (
	FileHeaderSize  = 8 // magic, version
	ChunkHeaderSize = 8 // FourCC, payload size
	MaxChunkPayload = 1 << 28

	Version = 1
)
