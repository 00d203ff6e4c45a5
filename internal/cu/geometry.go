package cu

// MinPartLog2 is the log2 size of the smallest addressable partition.
const MinPartLog2 = 2

// Geometry describes the CTU partitioning and owns the Z-scan tables. It is
// immutable after construction and shared by every CTU of a sequence.
type Geometry struct {
	Log2CTU     int // CTU size
	Log2MinCU   int
	MaxDepth    int // number of quadtree levels below the CTU
	PartsPerRow int // 4x4 units per CTU row
	NumParts    int // 4x4 units per CTU

	zToRaster []int
	rasterToZ []int
}

// NewGeometry builds the tables for the given CTU and minimum CU sizes.
func NewGeometry(log2CTU, log2MinCU int) *Geometry {
	g := &Geometry{
		Log2CTU:     log2CTU,
		Log2MinCU:   log2MinCU,
		MaxDepth:    log2CTU - log2MinCU,
		PartsPerRow: 1 << uint(log2CTU-MinPartLog2),
	}
	g.NumParts = g.PartsPerRow * g.PartsPerRow
	g.zToRaster = make([]int, g.NumParts)
	g.rasterToZ = make([]int, g.NumParts)
	for z := 0; z < g.NumParts; z++ {
		// De-interleave the Z index into column and row.
		x, y := 0, 0
		for b := 0; (1 << uint(2*b)) < g.NumParts; b++ {
			x |= (z >> uint(2*b) & 1) << uint(b)
			y |= (z >> uint(2*b+1) & 1) << uint(b)
		}
		r := y*g.PartsPerRow + x
		g.zToRaster[z] = r
		g.rasterToZ[r] = z
	}
	return g
}

// CTUSize returns the CTU size in luma samples.
func (g *Geometry) CTUSize() int { return 1 << uint(g.Log2CTU) }

// PartXY returns the luma offset of partition z inside its CTU.
func (g *Geometry) PartXY(z int) (x, y int) {
	r := g.zToRaster[z]
	return (r % g.PartsPerRow) << MinPartLog2, (r / g.PartsPerRow) << MinPartLog2
}

// PartAt returns the Z index of the 4x4 unit holding luma offset (x, y)
// inside a CTU.
func (g *Geometry) PartAt(x, y int) int {
	return g.rasterToZ[(y>>MinPartLog2)*g.PartsPerRow+x>>MinPartLog2]
}

// PartsAtDepth returns the number of 4x4 units in a CU at depth.
func (g *Geometry) PartsAtDepth(depth int) int {
	return g.NumParts >> uint(2*depth)
}

// Log2CUSize returns the CU size at depth.
func (g *Geometry) Log2CUSize(depth int) int {
	return g.Log2CTU - depth
}

// PU describes one prediction unit of a coding unit.
type PU struct {
	X, Y    int // luma offset inside the CTU
	W, H    int
	AbsPart int // Z index of the top-left unit
}

// PUs returns the prediction units of a CU at absPart with size 1<<log2Size.
func (g *Geometry) PUs(part PartSize, absPart, log2Size int) []PU {
	s := 1 << uint(log2Size)
	x0, y0 := g.PartXY(absPart)
	var rects [][4]int // x, y, w, h relative to the CU
	switch part {
	case Part2Nx2N:
		rects = [][4]int{{0, 0, s, s}}
	case Part2NxN:
		rects = [][4]int{{0, 0, s, s / 2}, {0, s / 2, s, s / 2}}
	case PartNx2N:
		rects = [][4]int{{0, 0, s / 2, s}, {s / 2, 0, s / 2, s}}
	case PartNxN:
		h := s / 2
		rects = [][4]int{{0, 0, h, h}, {h, 0, h, h}, {0, h, h, h}, {h, h, h, h}}
	case Part2NxnU:
		rects = [][4]int{{0, 0, s, s / 4}, {0, s / 4, s, s * 3 / 4}}
	case Part2NxnD:
		rects = [][4]int{{0, 0, s, s * 3 / 4}, {0, s * 3 / 4, s, s / 4}}
	case PartnLx2N:
		rects = [][4]int{{0, 0, s / 4, s}, {s / 4, 0, s * 3 / 4, s}}
	case PartnRx2N:
		rects = [][4]int{{0, 0, s * 3 / 4, s}, {s * 3 / 4, 0, s / 4, s}}
	}
	pus := make([]PU, len(rects))
	for i, r := range rects {
		pus[i] = PU{
			X: x0 + r[0], Y: y0 + r[1], W: r[2], H: r[3],
			AbsPart: g.PartAt(x0+r[0], y0+r[1]),
		}
	}
	return pus
}

// ForEachPart calls fn with the Z index of every 4x4 unit inside the luma
// rectangle (x, y, w, h) given relative to the CTU.
func (g *Geometry) ForEachPart(x, y, w, h int, fn func(z int)) {
	for py := y; py < y+h; py += 1 << MinPartLog2 {
		for px := x; px < x+w; px += 1 << MinPartLog2 {
			fn(g.PartAt(px, py))
		}
	}
}
