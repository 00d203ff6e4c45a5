package motion

import "github.com/nicolegarcia/MV-HEVC/internal/cu"

// Disparity is the disparity vector derived for a coding unit.
type Disparity struct {
	DV      cu.MV
	RefView int
	// Valid is set when the slice has an inter-view reference; inter-view
	// candidates are derived only then.
	Valid bool
	// FromNeighbour is set when DV was taken from a spatial neighbour
	// rather than defaulting to zero.
	FromNeighbour bool
	// Refined is set when DV was replaced by the depth derived disparity.
	Refined bool
}

// NBDV derives the disparity of block b from the first disparity vector
// used by its A1 or B1 neighbour, zero when there is none. When the depth
// of the reference view is known, the vector is refined to the disparity
// of the depth block it points at.
func (c *Context) NBDV(b Block) Disparity {
	var d Disparity
	for l := 0; l < c.NumLists && !d.Valid; l++ {
		if i := c.InterViewRef(l); i >= 0 {
			d.Valid = true
			d.RefView = c.Refs[l][i].View
		}
	}
	if !d.Valid {
		return d
	}
	for _, p := range [2]pos{{b.X - 1, b.Y + b.H - 1}, {b.X + b.W - 1, b.Y - 1}} {
		m, ok := c.Field.At(p.x, p.y, b.AbsPart)
		if !ok {
			continue
		}
		for l := 0; l < 2 && !d.FromNeighbour; l++ {
			if m.Uses(l) && c.IsInterView(l, int(m.RefIdx[l])) {
				d.DV = m.MV[l]
				d.FromNeighbour = true
			}
		}
		if d.FromNeighbour {
			break
		}
	}
	if c.Depth != nil && c.LUT != nil {
		depth := c.Depth.Recon.Plane(cu.Y)
		x := b.X + int((d.DV.X+2)>>2)
		y := b.Y + int((d.DV.Y+2)>>2)
		d.DV = cu.MV{X: c.LUT.DepthToDisparity(depth, x, y, b.W, b.H)}
		d.Refined = true
	}
	return d
}
