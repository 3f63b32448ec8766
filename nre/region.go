package nre

import (
	"fmt"
	"math/rand"
	"strings"
)

// FactorRegion is the Cartesian product of one IntervalSet per parameter axis.
// Membership and volume factorize over axes; this is a deliberate
// approximation of the true joint credible region. Immutable.
type FactorRegion struct {
	axes []IntervalSet
}

// NewFactorRegion builds a region from per-axis sets.
// Panics if no axes are given.
func NewFactorRegion(axes []IntervalSet) FactorRegion {
	if len(axes) == 0 {
		panic("FactorRegion: at least one axis required")
	}
	cp := make([]IntervalSet, len(axes))
	copy(cp, axes)
	return FactorRegion{axes: cp}
}

// UnitCube returns [0, 1]^dim.
func UnitCube(dim int) FactorRegion {
	if dim < 1 {
		panic(fmt.Sprintf("UnitCube: dim must be >= 1, got %d", dim))
	}
	axes := make([]IntervalSet, dim)
	for i := range axes {
		axes[i] = UnitInterval()
	}
	return FactorRegion{axes: axes}
}

// Dim returns the number of parameter axes.
func (r FactorRegion) Dim() int {
	return len(r.axes)
}

// Axis returns the IntervalSet of axis i.
func (r FactorRegion) Axis(i int) IntervalSet {
	return r.axes[i]
}

// Axes returns a copy of the per-axis sets.
func (r FactorRegion) Axes() []IntervalSet {
	out := make([]IntervalSet, len(r.axes))
	copy(out, r.axes)
	return out
}

// Volume returns the product of per-axis lengths. Zero if any axis is empty.
func (r FactorRegion) Volume() float64 {
	if len(r.axes) == 0 {
		return 0
	}
	v := 1.0
	for _, a := range r.axes {
		v *= a.Length()
	}
	return v
}

// IsEmpty reports whether some axis excludes every point.
func (r FactorRegion) IsEmpty() bool {
	for _, a := range r.axes {
		if a.IsEmpty() {
			return true
		}
	}
	return len(r.axes) == 0
}

// Contains reports whether every coordinate of z lies in its axis set.
// Vectors of the wrong dimension are never contained.
func (r FactorRegion) Contains(z []float64) bool {
	if len(z) != len(r.axes) {
		return false
	}
	for i, a := range r.axes {
		if !a.Contains(z[i]) {
			return false
		}
	}
	return true
}

// Covers reports whether r contains o as a set, axis by axis.
func (r FactorRegion) Covers(o FactorRegion) bool {
	if len(r.axes) != len(o.axes) {
		return false
	}
	for i := range r.axes {
		if !r.axes[i].Covers(o.axes[i]) {
			return false
		}
	}
	return true
}

// Intersect returns the axis-wise intersection of two regions.
func (r FactorRegion) Intersect(o FactorRegion) (FactorRegion, error) {
	if len(r.axes) != len(o.axes) {
		return FactorRegion{}, fmt.Errorf("%w: intersect %d-dim with %d-dim region", ErrDimensionMismatch, len(r.axes), len(o.axes))
	}
	axes := make([]IntervalSet, len(r.axes))
	for i := range r.axes {
		axes[i] = r.axes[i].Intersect(o.axes[i])
	}
	return FactorRegion{axes: axes}, nil
}

// BoundingBox returns the per-axis extents of the region as a region of
// single intervals. Empty axes stay empty.
func (r FactorRegion) BoundingBox() FactorRegion {
	axes := make([]IntervalSet, len(r.axes))
	for i, a := range r.axes {
		if ext, ok := a.Extent(); ok {
			axes[i] = IntervalSet{intervals: []Interval{ext}}
		}
	}
	return FactorRegion{axes: axes}
}

// SampleUniform draws k points. Each axis is sampled independently from its
// IntervalSet (segment weighted by length, then uniform within the segment).
// Panics if the region is empty.
func (r FactorRegion) SampleUniform(rng *rand.Rand, k int) [][]float64 {
	if r.IsEmpty() {
		panic("FactorRegion.SampleUniform: empty region")
	}
	out := make([][]float64, k)
	for n := range out {
		z := make([]float64, len(r.axes))
		for i, a := range r.axes {
			z[i] = a.Sample(rng)
		}
		out[n] = z
	}
	return out
}

// String renders one IntervalSet per axis.
func (r FactorRegion) String() string {
	parts := make([]string, len(r.axes))
	for i, a := range r.axes {
		parts[i] = fmt.Sprintf("z%d=%s", i, a)
	}
	return strings.Join(parts, " ")
}
