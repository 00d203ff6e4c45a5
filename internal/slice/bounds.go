package slice

import "github.com/nicolegarcia/MV-HEVC/internal/cu"

// Bounds are the tile-scan limits of the slice and segment starting at a
// given CTU. The limits are exclusive; FixedBytes rules can end a slice or
// segment earlier while it is compressed.
type Bounds struct {
	SliceEnd   int
	SegmentEnd int
}

// DetermineBounds returns where the slice starting at sliceStart and the
// segment starting at segStart end, both in tile-scan addresses. Under
// wavefronts a slice or segment that does not start a CTU row ends with
// that row.
func DetermineBounds(c *Config, tiles *cu.TileMap, sliceStart, segStart int) Bounds {
	n := len(tiles.TsToRs)
	b := Bounds{
		SliceEnd:   boundFor(c.Slices, tiles, sliceStart, n),
		SegmentEnd: boundFor(c.Segments, tiles, segStart, n),
	}
	if c.WPP {
		b.SliceEnd = min(b.SliceEnd, rowEnd(tiles, sliceStart))
		b.SegmentEnd = min(b.SegmentEnd, rowEnd(tiles, segStart))
	}
	b.SegmentEnd = min(b.SegmentEnd, b.SliceEnd)
	return b
}

func boundFor(b Boundary, tiles *cu.TileMap, start, n int) int {
	switch b.Mode {
	case BoundFixedCTUs:
		return min(start+b.Arg, n)
	case BoundFixedTiles:
		t := tiles.TileOf[tiles.TsToRs[start]] + b.Arg
		if t >= tiles.NumTiles() {
			return n
		}
		return tiles.TileStart[t]
	}
	return n
}

// rowEnd returns the end of the tile row holding ts when ts does not start
// it, and the number of CTUs otherwise.
func rowEnd(tiles *cu.TileMap, ts int) int {
	rs := tiles.TsToRs[ts]
	if tiles.IsRowStart(rs) {
		return len(tiles.TsToRs)
	}
	return ts + tiles.TileWidth(rs) - tiles.ColumnInTile(rs)
}
