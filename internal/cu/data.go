package cu

// Part is the descriptor of one 4x4 unit. Every unit of a CU carries the
// CU-level fields; PU- and TU-level fields are replicated over the units
// the PU or TU covers.
type Part struct {
	Depth    uint8 // quadtree depth of the CU
	PredMode PredMode
	PartSize PartSize
	Skip     bool
	Merge    bool
	MergeIdx uint8

	InterDir uint8 // DirL0, DirL1 or DirBi
	RefIdx   [2]int8
	MV       [2]MV
	MVD      [2]MV
	MVPIdx   [2]uint8
	IC       bool // illumination compensation
	VSP      bool // view synthesis prediction
	DV       MV   // derived disparity vector

	IntraLuma   uint8
	IntraChroma uint8 // signalled chroma mode index, ChromaDM for derived

	TrIdx uint8    // transform depth of the TU covering the unit
	Cbf   [3]uint8 // coded block flag per component, bit n for transform depth n
	QP    int8
	Coded bool // CU holds at least one coded residual (QP delta signalled)
}

// Data is the descriptor array of one CTU plus its coefficient storage.
//
// Arrays are indexed by absolute Z index inside the CTU, so copying a CU
// between candidates is a contiguous slice copy.
type Data struct {
	Geo   *Geometry
	Parts []Part
	// Coeff holds quantised levels per component. A TU at unit z stores its
	// levels in raster order starting at z*16 (luma) or z*4 (chroma).
	Coeff [3][]int32
}

// NewData allocates descriptor storage for one CTU.
func NewData(g *Geometry) *Data {
	return &Data{
		Geo:   g,
		Parts: make([]Part, g.NumParts),
		Coeff: [3][]int32{
			make([]int32, g.NumParts*16),
			make([]int32, g.NumParts*4),
			make([]int32, g.NumParts*4),
		},
	}
}

// CopyCU copies the CU of numParts units starting at absPart from src.
func (d *Data) CopyCU(src *Data, absPart, numParts int) {
	copy(d.Parts[absPart:absPart+numParts], src.Parts[absPart:absPart+numParts])
	copy(d.Coeff[Y][absPart*16:(absPart+numParts)*16], src.Coeff[Y][absPart*16:(absPart+numParts)*16])
	for c := Cb; c <= Cr; c++ {
		copy(d.Coeff[c][absPart*4:(absPart+numParts)*4], src.Coeff[c][absPart*4:(absPart+numParts)*4])
	}
}

// InitCU resets the units of a CU to an undecided state at depth.
func (d *Data) InitCU(absPart, numParts, depth int, qp int) {
	for i := absPart; i < absPart+numParts; i++ {
		d.Parts[i] = Part{
			Depth:    uint8(depth),
			PredMode: ModeNone,
			QP:       int8(qp),
			RefIdx:   [2]int8{-1, -1},
		}
	}
}

// SetRange applies fn to numParts units starting at absPart.
func (d *Data) SetRange(absPart, numParts int, fn func(p *Part)) {
	for i := absPart; i < absPart+numParts; i++ {
		fn(&d.Parts[i])
	}
}

// SetPU applies fn to every unit of a prediction unit.
func (d *Data) SetPU(pu PU, fn func(p *Part)) {
	d.Geo.ForEachPart(pu.X, pu.Y, pu.W, pu.H, func(z int) { fn(&d.Parts[z]) })
}

// CoeffSlice returns the coefficient storage of a TU of size 1<<log2Size
// starting at unit absPart.
func (d *Data) CoeffSlice(c Comp, absPart, log2Size int) []int32 {
	n := 1 << uint(2*log2Size)
	if c == Y {
		return d.Coeff[Y][absPart*16 : absPart*16+n]
	}
	return d.Coeff[c][absPart*4 : absPart*4+n]
}

// CbfAt reports the coded block flag of component c at transform depth
// trDepth for unit z.
func (d *Data) CbfAt(c Comp, z, trDepth int) bool {
	return d.Parts[z].Cbf[c]>>uint(trDepth)&1 != 0
}

// Leaf is one coded CU found by Leaves.
type Leaf struct {
	AbsPart  int
	Depth    int
	NumParts int
}

// Leaves returns the coding units of the CTU in Z order. When inside is
// not nil it reports whether a node overlaps the picture; nodes that do not
// are skipped.
func (d *Data) Leaves(inside func(absPart, depth int) bool) []Leaf {
	var out []Leaf
	var walk func(abs, depth int)
	walk = func(abs, depth int) {
		n := d.Geo.PartsAtDepth(depth)
		if inside != nil && !inside(abs, depth) {
			return
		}
		if int(d.Parts[abs].Depth) > depth {
			q := n / 4
			for i := 0; i < 4; i++ {
				walk(abs+i*q, depth+1)
			}
			return
		}
		out = append(out, Leaf{AbsPart: abs, Depth: depth, NumParts: n})
	}
	walk(0, 0)
	return out
}
