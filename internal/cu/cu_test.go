package cu

import (
	"math/rand"
	"sync"
	"testing"
)

func TestGeometry_ZScan(t *testing.T) {
	g := NewGeometry(6, 3)
	if g.NumParts != 256 || g.PartsPerRow != 16 || g.MaxDepth != 3 {
		t.Fatalf("unexpected geometry %+v", g)
	}
	want := [][2]int{{0, 0}, {4, 0}, {0, 4}, {4, 4}, {8, 0}, {12, 0}, {8, 4}, {12, 4}, {0, 8}}
	for z, w := range want {
		x, y := g.PartXY(z)
		if x != w[0] || y != w[1] {
			t.Errorf("PartXY(%d) = (%d,%d), want (%d,%d)", z, x, y, w[0], w[1])
		}
	}
	seen := make(map[int]bool)
	for z := 0; z < g.NumParts; z++ {
		x, y := g.PartXY(z)
		if g.PartAt(x, y) != z {
			t.Fatalf("PartAt(PartXY(%d)) = %d", z, g.PartAt(x, y))
		}
		seen[y*64+x] = true
	}
	if len(seen) != g.NumParts {
		t.Fatalf("z-scan is not a bijection: %d distinct", len(seen))
	}
}

func TestGeometry_PUsCoverCU(t *testing.T) {
	g := NewGeometry(6, 3)
	for part := Part2Nx2N; part <= PartnRx2N; part++ {
		for _, depth := range []int{0, 1, 2} {
			abs := g.NumParts - g.PartsAtDepth(depth) // last CU at this depth
			log2 := g.Log2CUSize(depth)
			pus := g.PUs(part, abs, log2)
			if len(pus) != part.NumPUs() {
				t.Fatalf("%v: %d PUs", part, len(pus))
			}
			area := 0
			covered := make(map[int]int)
			for _, pu := range pus {
				area += pu.W * pu.H
				g.ForEachPart(pu.X, pu.Y, pu.W, pu.H, func(z int) { covered[z]++ })
				if g.PartAt(pu.X, pu.Y) != pu.AbsPart {
					t.Fatalf("%v: PU origin mismatch", part)
				}
			}
			if area != 1<<uint(2*log2) {
				t.Fatalf("%v depth %d: PU area %d", part, depth, area)
			}
			n := g.PartsAtDepth(depth)
			for z := abs; z < abs+n; z++ {
				if covered[z] != 1 {
					t.Fatalf("%v depth %d: unit %d covered %d times", part, depth, z, covered[z])
				}
			}
		}
	}
}

func TestData_LeavesTileCTU(t *testing.T) {
	g := NewGeometry(6, 3)
	rng := rand.New(rand.NewSource(1))
	for iter := 0; iter < 50; iter++ {
		d := NewData(g)
		var split func(abs, depth int)
		split = func(abs, depth int) {
			n := g.PartsAtDepth(depth)
			if depth < g.MaxDepth && rng.Intn(2) == 0 {
				for i := 0; i < 4; i++ {
					split(abs+i*n/4, depth+1)
				}
				return
			}
			d.SetRange(abs, n, func(p *Part) { p.Depth = uint8(depth) })
		}
		split(0, 0)

		covered := make([]int, 64*64)
		for _, l := range d.Leaves(nil) {
			x0, y0 := g.PartXY(l.AbsPart)
			s := 1 << uint(g.Log2CUSize(l.Depth))
			for y := y0; y < y0+s; y++ {
				for x := x0; x < x0+s; x++ {
					covered[y*64+x]++
				}
			}
		}
		for i, c := range covered {
			if c != 1 {
				t.Fatalf("iteration %d: sample %d covered %d times", iter, i, c)
			}
		}
	}
}

func TestTileMap(t *testing.T) {
	tm := UniformTiles(5, 3, 2, 1)
	if tm.NumTiles() != 2 {
		t.Fatalf("tiles = %d", tm.NumTiles())
	}
	// Column widths 2 and 3: the first tile is scanned before the second.
	wantTs := []int{0, 1, 6, 7, 8, 2, 3, 9, 10, 11, 4, 5, 12, 13, 14}
	for rs, ts := range wantTs {
		if tm.RsToTs[rs] != ts {
			t.Errorf("RsToTs[%d] = %d, want %d", rs, tm.RsToTs[rs], ts)
		}
		if tm.TsToRs[ts] != rs {
			t.Errorf("TsToRs[%d] = %d, want %d", ts, tm.TsToRs[ts], rs)
		}
	}
	if !tm.IsTileStart(6) || tm.IsTileStart(7) {
		t.Error("tile start detection")
	}
	if !tm.IsRowStart(7) || tm.IsRowStart(8) {
		t.Error("row start detection")
	}
}

func TestNeighbours_Availability(t *testing.T) {
	g := NewGeometry(4, 3) // 16x16 CTUs
	gr := NewGrid(g, 48, 32, UniformTiles(3, 2, 1, 1))
	for addr := 0; addr < gr.NumCTUs(); addr++ {
		gr.SetSlice(addr, 0)
	}
	gr.SetSlice(5, 5) // last CTU starts a new slice

	n := Neighbours{Grid: gr, Addr: 4}
	x, y := gr.CTUPos(4)
	if _, _, ok := n.At(x-1, y, 0); !ok {
		t.Error("left CTU should be available")
	}
	if _, _, ok := n.At(x+16, y-1, 0); !ok {
		t.Error("above-right CTU should be available")
	}
	if _, _, ok := n.At(x+16, y, 0); ok {
		t.Error("right CTU is not coded yet")
	}
	if _, _, ok := n.At(x, y+4, 0); ok {
		t.Error("unit after the current one must be unavailable")
	}
	if _, _, ok := n.At(x, y, 2); !ok {
		t.Error("earlier unit in the same CTU should be available")
	}

	n5 := Neighbours{Grid: gr, Addr: 5}
	x5, y5 := gr.CTUPos(5)
	if _, _, ok := n5.At(x5-1, y5, 0); ok {
		t.Error("CTU of another slice must be unavailable")
	}
}

// A CTU in one tile must not depend on the slice state of another tile,
// which a concurrent tile worker may be writing. Run with -race.
func TestNeighbours_OtherTileConcurrent(t *testing.T) {
	g := NewGeometry(4, 3)
	gr := NewGrid(g, 64, 32, UniformTiles(4, 2, 2, 1))
	left := []int{0, 1, 4, 5} // tile 0
	right := []int{2, 3, 6, 7}
	for _, addr := range right {
		gr.SetSlice(addr, 0)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			for _, addr := range left {
				gr.SetSlice(addr, 0)
			}
		}
	}()
	for i := 0; i < 200; i++ {
		for _, addr := range []int{2, 6} {
			n := Neighbours{Grid: gr, Addr: addr}
			x, y := gr.CTUPos(addr)
			if _, _, ok := n.At(x-1, y, 0); ok {
				t.Fatalf("CTU %d: left neighbour in another tile reported available", addr)
			}
		}
	}
	wg.Wait()
}
