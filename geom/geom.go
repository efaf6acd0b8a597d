/*package geom contains the geometric primitives used by the decomposition:
vectors, axis-aligned boxes with half-open bounds, and 3D grid indexers.*/
package geom

// Vec is a three dimensional vector.
type Vec [3]float64

// AddSelf adds v2 to v in place.
func (v *Vec) AddSelf(v2 *Vec) {
	for i := 0; i < 3; i++ {
		v[i] += v2[i]
	}
}

// Box is an axis-aligned box. Its bounds are half-open: a point x is inside
// the box on a given axis if Lo <= x < Hi.
type Box struct {
	Lo, Hi Vec
}

// Width returns the extent of the box along the given axis.
func (b *Box) Width(dim int) float64 { return b.Hi[dim] - b.Lo[dim] }

// Contains returns true if v is inside the box on every axis.
func (b *Box) Contains(v *Vec) bool {
	for i := 0; i < 3; i++ {
		if v[i] < b.Lo[i] || v[i] >= b.Hi[i] {
			return false
		}
	}
	return true
}

// SubBox returns the sub-box obtained by splitting b uniformly into
// dims[0] x dims[1] x dims[2] pieces and selecting the piece at coord.
func (b *Box) SubBox(dims, coord [3]int) Box {
	sub := Box{}
	for i := 0; i < 3; i++ {
		w := b.Width(i) / float64(dims[i])
		sub.Lo[i] = b.Lo[i] + w*float64(coord[i])
		sub.Hi[i] = b.Lo[i] + w*float64(coord[i]+1)
	}
	return sub
}
