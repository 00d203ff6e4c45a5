package cu

// TileMap partitions the CTUs of a picture into tiles and holds the
// raster-scan to tile-scan address maps.
type TileMap struct {
	ColWidths  []int // in CTUs
	RowHeights []int
	TileOf     []int // raster address -> tile index
	RsToTs     []int
	TsToRs     []int
	// TileStart[t] is the tile-scan address of the first CTU of tile t.
	TileStart []int
	widthCTU  int
	colStart  []int
	rowStart  []int
}

// UniformTiles spreads cols x rows tiles evenly over the picture.
func UniformTiles(widthCTU, heightCTU, cols, rows int) *TileMap {
	cw := make([]int, cols)
	for i := range cw {
		cw[i] = (i+1)*widthCTU/cols - i*widthCTU/cols
	}
	rh := make([]int, rows)
	for i := range rh {
		rh[i] = (i+1)*heightCTU/rows - i*heightCTU/rows
	}
	return NewTileMap(widthCTU, heightCTU, cw, rh)
}

// NewTileMap builds the maps for explicit column widths and row heights.
// The widths and heights must sum to the picture size in CTUs.
func NewTileMap(widthCTU, heightCTU int, colWidths, rowHeights []int) *TileMap {
	n := widthCTU * heightCTU
	t := &TileMap{
		ColWidths:  colWidths,
		RowHeights: rowHeights,
		TileOf:     make([]int, n),
		RsToTs:     make([]int, n),
		TsToRs:     make([]int, n),
		widthCTU:   widthCTU,
	}
	t.colStart = prefixSums(colWidths)
	t.rowStart = prefixSums(rowHeights)
	ts := 0
	for tr := range rowHeights {
		for tc := range colWidths {
			t.TileStart = append(t.TileStart, ts)
			tile := tr*len(colWidths) + tc
			for y := t.rowStart[tr]; y < t.rowStart[tr]+rowHeights[tr]; y++ {
				for x := t.colStart[tc]; x < t.colStart[tc]+colWidths[tc]; x++ {
					rs := y*widthCTU + x
					t.TileOf[rs] = tile
					t.RsToTs[rs] = ts
					t.TsToRs[ts] = rs
					ts++
				}
			}
		}
	}
	return t
}

func prefixSums(v []int) []int {
	out := make([]int, len(v))
	s := 0
	for i, w := range v {
		out[i] = s
		s += w
	}
	return out
}

// NumTiles returns the number of tiles.
func (t *TileMap) NumTiles() int { return len(t.ColWidths) * len(t.RowHeights) }

// TileBounds returns the CTU column/row origin and size of tile.
func (t *TileMap) TileBounds(tile int) (x, y, w, h int) {
	tc, tr := tile%len(t.ColWidths), tile/len(t.ColWidths)
	return t.colStart[tc], t.rowStart[tr], t.ColWidths[tc], t.RowHeights[tr]
}

// IsTileStart reports whether tile-scan address ts starts a tile.
func (t *TileMap) IsTileStart(ts int) bool {
	rs := t.TsToRs[ts]
	x, y, _, _ := t.TileBounds(t.TileOf[rs])
	return rs == y*t.widthCTU+x
}

// IsRowStart reports whether raster address rs is the first CTU of a CTU
// row inside its tile.
func (t *TileMap) IsRowStart(rs int) bool {
	x, _, _, _ := t.TileBounds(t.TileOf[rs])
	return rs%t.widthCTU == x
}

// ColumnInTile returns the CTU column of rs relative to its tile.
func (t *TileMap) ColumnInTile(rs int) int {
	x, _, _, _ := t.TileBounds(t.TileOf[rs])
	return rs%t.widthCTU - x
}

// TileWidth returns the width in CTUs of the tile holding rs.
func (t *TileMap) TileWidth(rs int) int {
	_, _, w, _ := t.TileBounds(t.TileOf[rs])
	return w
}
