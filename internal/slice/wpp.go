package slice

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// errAborted stops waiting workers once another one failed; the failing
// worker reports the cause.
var errAborted = errors.New("slice: parallel compression aborted")

// rowSync publishes how many CTUs of each wavefront row are decided.
// Waiters take an atomic fast path when the row is already far enough.
type rowSync struct {
	rows    []rowState
	aborted atomic.Bool
}

// rowState is padded to a cache line.
type rowState struct {
	done    atomic.Int32
	waiters atomic.Int32
	mu      sync.Mutex
	cond    *sync.Cond
	_       [8]byte
}

func newRowSync(rows int) *rowSync {
	rs := &rowSync{rows: make([]rowState, rows)}
	for i := range rs.rows {
		rs.rows[i].cond = sync.NewCond(&rs.rows[i].mu)
	}
	return rs
}

// waitFor blocks until row y has decided at least needed CTUs. It reports
// false when the wait ended because of an abort.
func (rs *rowSync) waitFor(y int, needed int32) bool {
	r := &rs.rows[y]
	if r.done.Load() >= needed {
		return true
	}
	r.waiters.Add(1)
	r.mu.Lock()
	for r.done.Load() < needed && !rs.aborted.Load() {
		r.cond.Wait()
	}
	r.mu.Unlock()
	r.waiters.Add(-1)
	return r.done.Load() >= needed
}

// signal records that row y has decided done CTUs and wakes its waiters.
func (rs *rowSync) signal(y int, done int32) {
	r := &rs.rows[y]
	r.done.Store(done)
	if r.waiters.Load() > 0 {
		r.mu.Lock()
		r.mu.Unlock()
		r.cond.Broadcast()
	}
}

// abort releases every waiter.
func (rs *rowSync) abort() {
	rs.aborted.Store(true)
	for i := range rs.rows {
		r := &rs.rows[i]
		r.mu.Lock()
		r.mu.Unlock()
		r.cond.Broadcast()
	}
}

// parallel reports whether the segment starting at segStart can be
// compressed by concurrent workers: a single slice and segment covering
// the picture, split into wavefront rows of one tile or into tiles, with
// no rule that needs the coded size while compressing.
func (e *Encoder) parallel(segStart int, b Bounds) bool {
	c := &e.cfg
	if c.Workers < 2 || e.rc != nil || segStart != 0 || b.SegmentEnd != e.pic.Grid.NumCTUs() {
		return false
	}
	if c.Slices.Mode == BoundFixedBytes || c.Segments.Mode == BoundFixedBytes {
		return false
	}
	if c.WPP {
		return e.tiles.NumTiles() == 1 && e.pic.Grid.HeightCTU > 1
	}
	return e.tiles.NumTiles() > 1
}

// compressParallel decides every CTU of the picture with c.Workers
// goroutines. Under wavefronts each worker takes whole CTU rows and waits
// for the row above to be two CTUs ahead; otherwise workers take whole
// tiles, which do not depend on each other. The decisions and the context
// snapshots equal those of sequential compression.
func (e *Encoder) compressParallel() error {
	var units [][]int // tile-scan addresses per unit, in coding order
	wpp := e.cfg.WPP
	if wpp {
		w := e.pic.Grid.WidthCTU
		for y := 0; y < e.pic.Grid.HeightCTU; y++ {
			row := make([]int, w)
			for x := range row {
				row[x] = y*w + x
			}
			units = append(units, row)
		}
	} else {
		n := e.pic.Grid.NumCTUs()
		for t := 0; t < e.tiles.NumTiles(); t++ {
			end := n
			if t+1 < e.tiles.NumTiles() {
				end = e.tiles.TileStart[t+1]
			}
			unit := make([]int, 0, end-e.tiles.TileStart[t])
			for ts := e.tiles.TileStart[t]; ts < end; ts++ {
				unit = append(unit, ts)
			}
			units = append(units, unit)
		}
	}

	// A single slice covers the picture, so membership is known up front
	// and workers never write it.
	for rs := 0; rs < e.pic.Grid.NumCTUs(); rs++ {
		e.pic.Grid.SetSlice(rs, 0)
	}
	workers := min(e.cfg.Workers, len(units))
	for len(e.search) < workers {
		e.search = append(e.search, newSearcher(&e.cfg, e.slice))
	}
	rows := newRowSync(len(units))
	es := e.sync.clone()
	var next atomic.Int32
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		s := e.search[i]
		g.Go(func() error {
			for {
				u := int(next.Add(1) - 1)
				if u >= len(units) {
					return nil
				}
				err := e.compressUnit(s, es, units[u], u, wpp, rows)
				if errors.Is(err, errAborted) {
					return nil
				}
				if err != nil {
					rows.abort()
					return err
				}
			}
		})
	}
	return g.Wait()
}

// compressUnit decides the CTUs of one row or tile with searcher s. Under
// wavefronts, row u waits for row u-1 to finish the CTU above and to the
// right of each CTU.
func (e *Encoder) compressUnit(s *searcher, es *entropySync, ctus []int, u int, wpp bool, rows *rowSync) error {
	sc := e.slice
	last := e.pic.Grid.NumCTUs() - 1
	w := len(ctus)
	cur, qp := sc.init, sc.sp.QP
	for x, ts := range ctus {
		if wpp && u > 0 && !rows.waitFor(u-1, int32(min(x+2, w))) {
			return errAborted
		}
		rs := e.tiles.TsToRs[ts]
		st := es.begin(segmentPos{ts: ts, sliceStart: 0, first: ts == 0}, sc.init, sc.sp.QP, cur, qp)
		qs := qpState{pred: st.qpPrev, qp: sc.sp.QP}
		if err := s.compressCTU(rs, st.ctx, &qs, sc.sp.Lambda); err != nil {
			return errors.Wrapf(err, "CTU %d", rs)
		}
		e.pic.Grid.CTUs[rs].CopyCU(s.work, 0, e.geo.NumParts)
		e.ctuQP[rs] = qs.qp

		ew := s.est.start(st.ctx)
		cq := qpState{pred: st.qpPrev, qp: qs.qp}
		s.writeCTU(ew, &cq)
		ctx := ew.Contexts()
		es.end(ts, ctx, qs.qp, ts == last)
		cur, qp = ctx, qs.qp
		rows.signal(u, int32(x+1))
	}
	return nil
}
