package slice

import (
	"github.com/nicolegarcia/MV-HEVC/internal/cabac"
	"github.com/nicolegarcia/MV-HEVC/internal/cu"
)

// entropySync carries entropy contexts and the QP predictor across the
// CTUs, substreams and slice segments of one picture. The encoder's trial
// pass, its final write and the decoder apply the same rules, so the three
// see identical context evolutions.
//
// Row snapshots are indexed by the raster address of the CTU that stored
// them; distinct rows never share an entry, which lets wavefront workers
// fill them concurrently.
type entropySync struct {
	seq   *Sequence
	grid  *cu.Grid
	tiles *cu.TileMap

	rowCtx []cabac.ContextSet
	rowOK  []bool

	segEnd   cabac.ContextSet
	segEndQP int
}

func newEntropySync(seq *Sequence, grid *cu.Grid) *entropySync {
	n := grid.NumCTUs()
	return &entropySync{
		seq:    seq,
		grid:   grid,
		tiles:  grid.Tiles,
		rowCtx: make([]cabac.ContextSet, n),
		rowOK:  make([]bool, n),
	}
}

// clone returns an independent copy for trial passes.
func (s *entropySync) clone() *entropySync {
	c := *s
	c.rowCtx = append([]cabac.ContextSet(nil), s.rowCtx...)
	c.rowOK = append([]bool(nil), s.rowOK...)
	return &c
}

// ctuState is the entropy state a CTU is coded with.
type ctuState struct {
	ctx    cabac.ContextSet
	qpPrev int
	// newSubstream is set when the CTU opens a substream after the first
	// one of its segment.
	newSubstream bool
}

// segmentPos locates a CTU inside its slice and segment.
type segmentPos struct {
	ts         int
	sliceStart int // tile-scan address of the first CTU of the slice
	first      bool
	dependent  bool
}

// begin returns the state to code a CTU with. init is the initial context
// set of the slice; cur and qp the state left by the previous CTU of the
// segment.
func (s *entropySync) begin(p segmentPos, init cabac.ContextSet, sliceQP int, cur cabac.ContextSet, qp int) ctuState {
	rs := s.tiles.TsToRs[p.ts]
	tileStart := s.tiles.IsTileStart(p.ts)
	rowStart := s.seq.WPP && s.tiles.IsRowStart(rs)
	st := ctuState{ctx: cur, qpPrev: qp, newSubstream: !p.first && (tileStart || rowStart)}
	switch {
	case p.ts == p.sliceStart || tileStart:
		st.ctx, st.qpPrev = init, sliceQP
	case rowStart:
		st.ctx, st.qpPrev = init, sliceQP
		if tr, ok := s.aboveRight(rs, p.sliceStart); ok {
			st.ctx = s.rowCtx[tr]
		}
	case p.first && p.dependent:
		st.ctx, st.qpPrev = s.segEnd, s.segEndQP
	}
	return st
}

// aboveRight returns the CTU whose snapshot a wavefront row starting at rs
// inherits, when it lies in the same slice and tile.
func (s *entropySync) aboveRight(rs, sliceStart int) (int, bool) {
	w := s.grid.WidthCTU
	if rs < w || s.tiles.TileWidth(rs) < 2 {
		return 0, false
	}
	tr := rs - w + 1
	if s.tiles.TileOf[tr] != s.tiles.TileOf[rs] || s.grid.SliceOf(tr) != sliceStart || !s.rowOK[tr] {
		return 0, false
	}
	return tr, true
}

// end records the state after coding CTU ts: the wavefront snapshot after
// the second CTU of a tile row, and the end of segment state.
func (s *entropySync) end(ts int, ctx cabac.ContextSet, qp int, lastInSegment bool) {
	rs := s.tiles.TsToRs[ts]
	if s.seq.WPP && s.tiles.ColumnInTile(rs) == 1 {
		s.rowCtx[rs] = ctx
		s.rowOK[rs] = true
	}
	if lastInSegment {
		s.segEnd, s.segEndQP = ctx, qp
	}
}
