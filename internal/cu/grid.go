package cu

// Grid is the CTU arena of one picture: one descriptor per CTU, indexed by
// raster address, plus the slice and tile membership needed to decide
// neighbour availability.
type Grid struct {
	Geo       *Geometry
	Tiles     *TileMap
	Width     int // luma samples
	Height    int
	WidthCTU  int
	HeightCTU int
	CTUs      []*Data

	sliceOf []int // tile-scan address of the first CTU of the owning slice, -1 if not coded
}

// NewGrid allocates the arena for a picture of the given luma size. tiles
// may be nil for a single tile.
func NewGrid(g *Geometry, width, height int, tiles *TileMap) *Grid {
	s := g.CTUSize()
	gr := &Grid{
		Geo:       g,
		Width:     width,
		Height:    height,
		WidthCTU:  (width + s - 1) / s,
		HeightCTU: (height + s - 1) / s,
	}
	if tiles == nil {
		tiles = UniformTiles(gr.WidthCTU, gr.HeightCTU, 1, 1)
	}
	gr.Tiles = tiles
	n := gr.WidthCTU * gr.HeightCTU
	gr.CTUs = make([]*Data, n)
	gr.sliceOf = make([]int, n)
	for i := range gr.CTUs {
		gr.CTUs[i] = NewData(g)
		gr.sliceOf[i] = -1
	}
	return gr
}

// NumCTUs returns the number of CTUs in the picture.
func (gr *Grid) NumCTUs() int { return len(gr.CTUs) }

// CTUPos returns the luma position of CTU addr.
func (gr *Grid) CTUPos(addr int) (x, y int) {
	s := gr.Geo.CTUSize()
	return (addr % gr.WidthCTU) * s, (addr / gr.WidthCTU) * s
}

// SetSlice records that CTU addr belongs to the slice starting at tile-scan
// address sliceStart.
func (gr *Grid) SetSlice(addr, sliceStart int) {
	gr.sliceOf[addr] = sliceStart
}

// SliceOf returns the tile-scan start of the slice holding CTU addr, or -1.
func (gr *Grid) SliceOf(addr int) int {
	return gr.sliceOf[addr]
}

// ResetSlices marks every CTU as not yet coded.
func (gr *Grid) ResetSlices() {
	for i := range gr.sliceOf {
		gr.sliceOf[i] = -1
	}
}

// PartAt returns the descriptor and unit holding picture luma position
// (px, py), without availability checks. ok is false outside the picture.
func (gr *Grid) PartAt(px, py int) (d *Data, z int, ok bool) {
	if px < 0 || py < 0 || px >= gr.Width || py >= gr.Height {
		return nil, 0, false
	}
	l := gr.Geo.Log2CTU
	addr := (py>>uint(l))*gr.WidthCTU + px>>uint(l)
	mask := gr.Geo.CTUSize() - 1
	return gr.CTUs[addr], gr.Geo.PartAt(px&mask, py&mask), true
}

// Neighbours resolves causal neighbours of the CU being coded in CTU Addr.
// Units inside the CU come from Cur, which holds the candidate under
// evaluation; everything else comes from the committed arena.
type Neighbours struct {
	Grid    *Grid
	Addr    int
	Cur     *Data
	CUAbs   int
	CUParts int
}

// At returns the unit holding picture luma position (px, py) if it is
// available to a block whose current unit is curPart: inside the picture,
// in the same slice and tile, and coded before curPart.
func (n *Neighbours) At(px, py, curPart int) (*Data, int, bool) {
	gr := n.Grid
	if px < 0 || py < 0 || px >= gr.Width || py >= gr.Height {
		return nil, 0, false
	}
	l := uint(gr.Geo.Log2CTU)
	addr := (py>>l)*gr.WidthCTU + px>>l
	mask := gr.Geo.CTUSize() - 1
	z := gr.Geo.PartAt(px&mask, py&mask)
	if addr != n.Addr {
		// Tile membership is immutable; sliceOf of another tile may be
		// written concurrently by that tile's worker.
		ts, cur := gr.Tiles.RsToTs[addr], gr.Tiles.RsToTs[n.Addr]
		if ts >= cur || gr.Tiles.TileOf[addr] != gr.Tiles.TileOf[n.Addr] || gr.sliceOf[addr] != gr.sliceOf[n.Addr] {
			return nil, 0, false
		}
		return gr.CTUs[addr], z, true
	}
	if z >= curPart {
		return nil, 0, false
	}
	if n.Cur != nil && z >= n.CUAbs && z < n.CUAbs+n.CUParts {
		return n.Cur, z, true
	}
	return gr.CTUs[addr], z, true
}

// Left returns the unit left of luma position (x, y) of the current CTU.
func (n *Neighbours) Left(x, y, curPart int) (*Data, int, bool) {
	cx, cy := n.Grid.CTUPos(n.Addr)
	return n.At(cx+x-1, cy+y, curPart)
}

// Above returns the unit above luma position (x, y) of the current CTU.
func (n *Neighbours) Above(x, y, curPart int) (*Data, int, bool) {
	cx, cy := n.Grid.CTUPos(n.Addr)
	return n.At(cx+x, cy+y-1, curPart)
}
