package picture

import (
	"errors"
	"math"

	"github.com/nicolegarcia/MV-HEVC/internal/cu"
)

// Marking is the reference marking of a picture.
type Marking uint8

const (
	Unused Marking = iota
	ShortTerm
	LongTerm
)

// Ref names a reference picture of a slice.
type Ref struct {
	POC  int
	View int
}

// Picture is a coded picture of one view: its samples, its coding data and
// its reference state.
type Picture struct {
	POC      int
	View     int
	IsDepth  bool
	BitDepth int

	Orig  *Yuv // nil on the decoder side
	Recon *Yuv
	Grid  *cu.Grid

	Marking         Marking
	NeededForOutput bool

	// SliceRefs maps the slice id recorded in Grid to the slice's
	// reference lists, for scaling collocated motion.
	SliceRefs map[int][2][]Ref
}

// New allocates a picture with reconstruction storage and a CTU arena.
func New(poc, view int, geo *cu.Geometry, width, height, bitDepth int, tiles *cu.TileMap) *Picture {
	return &Picture{
		POC:             poc,
		View:            view,
		BitDepth:        bitDepth,
		Recon:           NewYuv(width, height),
		Grid:            cu.NewGrid(geo, width, height, tiles),
		Marking:         ShortTerm,
		NeededForOutput: true,
		SliceRefs:       make(map[int][2][]Ref),
	}
}

// RefOf returns the reference used by list l, index idx of the slice that
// holds CTU addr.
func (p *Picture) RefOf(addr, l, idx int) (Ref, bool) {
	refs, ok := p.SliceRefs[p.Grid.SliceOf(addr)]
	if !ok || idx < 0 || idx >= len(refs[l]) {
		return Ref{}, false
	}
	return refs[l][idx], true
}

// SSE returns the sum of squared differences between two planes.
func SSE(a, b *Plane) uint64 {
	var s uint64
	for y := 0; y < a.Height; y++ {
		ra, rb := a.Row(0, y, a.Width), b.Row(0, y, a.Width)
		for x := range ra {
			d := int64(ra[x]) - int64(rb[x])
			s += uint64(d * d)
		}
	}
	return s
}

// PSNR returns the peak signal-to-noise ratio in dB, +Inf when equal.
func PSNR(a, b *Plane, bitDepth int) float64 {
	sse := SSE(a, b)
	if sse == 0 {
		return math.Inf(1)
	}
	peak := float64(int(1)<<uint(bitDepth) - 1)
	mse := float64(sse) / float64(a.Width*a.Height)
	return 10 * math.Log10(peak*peak/mse)
}

// ErrDPBFull is returned when a picture cannot be stored because every slot
// holds a reference or a picture waiting for output.
var ErrDPBFull = errors.New("picture: decoded picture buffer full")

// DPB is the bounded decoded picture buffer.
type DPB struct {
	pics []*Picture
	max  int
}

// NewDPB creates a buffer holding at most size pictures.
func NewDPB(size int) *DPB {
	return &DPB{max: size}
}

// Len returns the number of stored pictures.
func (d *DPB) Len() int { return len(d.pics) }

// Pictures returns the stored pictures in insertion order.
func (d *DPB) Pictures() []*Picture { return d.pics }

// Insert stores p, pruning first if the buffer is full.
func (d *DPB) Insert(p *Picture) error {
	if len(d.pics) >= d.max {
		d.Prune()
	}
	if len(d.pics) >= d.max {
		return ErrDPBFull
	}
	d.pics = append(d.pics, p)
	return nil
}

// Find returns the picture with the given POC and view, or nil.
func (d *DPB) Find(poc, view int) *Picture {
	for _, p := range d.pics {
		if p.POC == poc && p.View == view && !p.IsDepth {
			return p
		}
	}
	return nil
}

// FindDepth returns the depth picture with the given POC and view, or nil.
func (d *DPB) FindDepth(poc, view int) *Picture {
	for _, p := range d.pics {
		if p.POC == poc && p.View == view && p.IsDepth {
			return p
		}
	}
	return nil
}

// ApplyRPS keeps the pictures of view whose POC is listed in keep marked as
// references and marks the others of that view unused.
func (d *DPB) ApplyRPS(view int, keep []int) {
	for _, p := range d.pics {
		if p.View != view || p.Marking == Unused {
			continue
		}
		kept := false
		for _, poc := range keep {
			if p.POC == poc {
				kept = true
				break
			}
		}
		if !kept {
			p.Marking = Unused
		}
	}
}

// Bump returns the next picture in output order (lowest POC, then view) and
// clears its output flag. It returns nil when nothing waits for output.
func (d *DPB) Bump() *Picture {
	var best *Picture
	for _, p := range d.pics {
		if !p.NeededForOutput || p.IsDepth {
			continue
		}
		if best == nil || p.POC < best.POC || (p.POC == best.POC && p.View < best.View) {
			best = p
		}
	}
	if best != nil {
		best.NeededForOutput = false
	}
	return best
}

// Prune removes pictures that are neither references nor waiting for
// output.
func (d *DPB) Prune() {
	out := d.pics[:0]
	for _, p := range d.pics {
		if p.Marking != Unused || (p.NeededForOutput && !p.IsDepth) {
			out = append(out, p)
		}
	}
	for i := len(out); i < len(d.pics); i++ {
		d.pics[i] = nil
	}
	d.pics = out
}
