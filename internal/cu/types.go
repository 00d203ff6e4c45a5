// Package cu holds the coding-unit data model: per-partition descriptors
// addressed by Z-scan index inside a CTU, the CTU geometry tables, and the
// picture-wide CTU arena used for neighbour lookups.
package cu

// PredMode is the prediction mode of a coding unit. The zero value marks a
// unit that has not been coded.
type PredMode uint8

const (
	ModeNone PredMode = iota
	ModeInter
	ModeIntra
)

// PartSize is the prediction partitioning of a coding unit.
type PartSize uint8

const (
	Part2Nx2N PartSize = iota
	Part2NxN
	PartNx2N
	PartNxN
	Part2NxnU
	Part2NxnD
	PartnLx2N
	PartnRx2N
)

var partNames = [...]string{"2Nx2N", "2NxN", "Nx2N", "NxN", "2NxnU", "2NxnD", "nLx2N", "nRx2N"}

func (p PartSize) String() string {
	if int(p) < len(partNames) {
		return partNames[p]
	}
	return "?"
}

// NumPUs returns the number of prediction units of the partitioning.
func (p PartSize) NumPUs() int {
	switch p {
	case Part2Nx2N:
		return 1
	case PartNxN:
		return 4
	}
	return 2
}

// IsAMP reports whether p is an asymmetric partitioning.
func (p PartSize) IsAMP() bool {
	return p >= Part2NxnU
}

// Horizontal reports whether the PUs of p are stacked vertically (split by
// a horizontal line).
func (p PartSize) Horizontal() bool {
	return p == Part2NxN || p == Part2NxnU || p == Part2NxnD
}

// Vertical reports whether the PUs of p sit side by side.
func (p PartSize) Vertical() bool {
	return p == PartNx2N || p == PartnLx2N || p == PartnRx2N
}

// Intra prediction mode numbers.
const (
	IntraPlanar   = 0
	IntraDC       = 1
	IntraHor      = 10
	IntraVer      = 26
	IntraDiagonal = 34
	NumIntraModes = 35

	// ChromaDM is the chroma mode index that derives chroma from luma.
	ChromaDM = 4
)

// Inter prediction directions.
const (
	DirL0 = 1
	DirL1 = 2
	DirBi = 3
)

// MV is a motion or disparity vector in quarter luma samples.
type MV struct {
	X, Y int32
}

// Add returns a+b.
func (a MV) Add(b MV) MV { return MV{a.X + b.X, a.Y + b.Y} }

// Sub returns a-b.
func (a MV) Sub(b MV) MV { return MV{a.X - b.X, a.Y - b.Y} }

// IsZero reports whether both components are zero.
func (a MV) IsZero() bool { return a.X == 0 && a.Y == 0 }

// Comp selects a colour component.
type Comp int

const (
	Y Comp = iota
	Cb
	Cr
)

// IsChroma reports whether c is a chroma component.
func (c Comp) IsChroma() bool { return c != Y }
