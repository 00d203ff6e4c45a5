package motion

import "github.com/nicolegarcia/MV-HEVC/internal/cu"

type pos struct{ x, y int }

// AMVP returns the two motion vector predictors for reference refIdx of
// list l: a left candidate from A0 and A1, an above candidate from B0, B1
// and B2, then the temporal candidate and zero vectors to fill.
func (c *Context) AMVP(b Block, l, refIdx int) [2]cu.MV {
	target := c.Refs[l][refIdx]
	left := []pos{{b.X - 1, b.Y + b.H}, {b.X - 1, b.Y + b.H - 1}}
	above := []pos{{b.X + b.W, b.Y - 1}, {b.X + b.W - 1, b.Y - 1}, {b.X - 1, b.Y - 1}}

	isScaled := false
	for _, p := range left {
		if _, ok := c.Field.At(p.x, p.y, b.AbsPart); ok {
			isScaled = true
			break
		}
	}
	mvA, okA := c.sameRef(b, left, l, target)
	if !okA {
		mvA, okA = c.scaledRef(b, left, l, target)
	}
	mvB, okB := c.sameRef(b, above, l, target)
	if !isScaled {
		if okB {
			mvA, okA = mvB, true
		}
		mvB, okB = c.scaledRef(b, above, l, target)
	}

	var cands [2]cu.MV
	n := 0
	if okA {
		cands[n] = mvA
		n++
	}
	if okB && !(okA && mvA == mvB) {
		cands[n] = mvB
		n++
	}
	if n < 2 {
		if mv, ok := c.Temporal(b, l, refIdx); ok {
			cands[n] = mv
		}
	}
	return cands
}

// sameRef returns the first neighbour vector that points at target, from
// list l then the other list.
func (c *Context) sameRef(b Block, ps []pos, l int, target RefPic) (cu.MV, bool) {
	for _, p := range ps {
		m, ok := c.Field.At(p.x, p.y, b.AbsPart)
		if !ok {
			continue
		}
		for _, x := range [2]int{l, 1 - l} {
			if !m.Uses(x) {
				continue
			}
			if r, ok := c.refPic(x, m.RefIdx[x]); ok && r == target {
				return m.MV[x], true
			}
		}
	}
	return cu.MV{}, false
}

// scaledRef returns the first neighbour vector whose reference is of the
// same kind as target, scaled by POC distance. Inter-view references are
// treated like long-term ones: they are never scaled and only match each
// other.
func (c *Context) scaledRef(b Block, ps []pos, l int, target RefPic) (cu.MV, bool) {
	targetIV := target.View != c.View
	for _, p := range ps {
		m, ok := c.Field.At(p.x, p.y, b.AbsPart)
		if !ok {
			continue
		}
		for _, x := range [2]int{l, 1 - l} {
			if !m.Uses(x) {
				continue
			}
			r, ok := c.refPic(x, m.RefIdx[x])
			if !ok || (r.View != c.View) != targetIV {
				continue
			}
			if targetIV {
				return m.MV[x], true
			}
			return ScaleMV(m.MV[x], c.POC-target.POC, c.POC-r.POC), true
		}
	}
	return cu.MV{}, false
}
