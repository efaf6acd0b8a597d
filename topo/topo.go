/*package topo describes the 3D Cartesian grid of ranks that a simulation box
is decomposed over: the position of each rank in the grid, its six face
neighbors, and which of its faces lie on the global periodic boundary.*/
package topo

import (
	"fmt"

	"github.com/phil-mansfield/domdec/geom"
)

// Direction identifies one of the six faces of a rank's sub-box.
type Direction int

const (
	East Direction = iota // +x
	West                  // -x
	North                 // +y
	South                 // -y
	Up                    // +z
	Down                  // -z

	// NumDirections is the number of face directions.
	NumDirections = 6
)

var oppositeTable = [NumDirections]Direction{West, East, South, North, Down, Up}
var axisTable = [NumDirections]int{0, 0, 1, 1, 2, 2}
var positiveTable = [NumDirections]bool{true, false, true, false, true, false}
var nameTable = [NumDirections]string{
	"east", "west", "north", "south", "up", "down",
}

// Opposite returns the direction pointing through the antiparallel face.
func (d Direction) Opposite() Direction { return oppositeTable[d] }

// Axis returns the axis, 0 - 2, that d points along.
func (d Direction) Axis() int { return axisTable[d] }

// Positive returns true if d points toward the upper face of its axis.
func (d Direction) Positive() bool { return positiveTable[d] }

// Bit returns the bitmask flag for d, used by ghost send plans.
func (d Direction) Bit() uint8 { return 1 << uint(d) }

func (d Direction) String() string { return nameTable[d] }

// Topology is the position of a single rank within the 3D rank grid. It is
// immutable over a run. The rank grid has wraparound adjacency: every face of
// every rank has a neighbor, and a rank on the edge of the grid neighbors the
// rank on the opposite edge.
type Topology struct {
	Dims  [3]int // number of ranks along each axis
	Coord [3]int // this rank's position in the grid
	// Neighbors[d] is the rank that shares the face in direction d.
	Neighbors [NumDirections]int
	// AtBoundary[d] is true if the face in direction d lies on the global
	// periodic boundary.
	AtBoundary [NumDirections]bool
}

// New returns the Topology of the given rank within a grid of the given
// dimensions. Ranks are assigned to grid positions in x-major order, the
// same convention geom.Grid uses for cells.
func New(dims [3]int, rank int) (*Topology, error) {
	for i := 0; i < 3; i++ {
		if dims[i] < 1 {
			return nil, fmt.Errorf(
				"Rank grid dimensions %v contain a non-positive extent.", dims,
			)
		}
	}
	size := dims[0] * dims[1] * dims[2]
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf(
			"Rank %d is outside the %d-rank grid %v.", rank, size, dims,
		)
	}

	t := &Topology{Dims: dims}
	g := geom.NewGrid([3]int{0, 0, 0}, dims)
	t.Coord[0], t.Coord[1], t.Coord[2] = g.Coords(rank)

	for d := Direction(0); d < NumDirections; d++ {
		axis := d.Axis()

		step := -1
		if d.Positive() {
			step = +1
		}

		c := t.Coord
		c[axis] = geom.PMod(c[axis]+step, dims[axis])
		t.Neighbors[d] = g.Idx(c[0], c[1], c[2])

		if d.Positive() {
			t.AtBoundary[d] = t.Coord[axis] == dims[axis]-1
		} else {
			t.AtBoundary[d] = t.Coord[axis] == 0
		}
	}

	return t, nil
}

// Rank returns the rank id corresponding to the topology's grid coordinate.
func (t *Topology) Rank() int {
	return t.Coord[0] + t.Coord[1]*t.Dims[0] + t.Coord[2]*t.Dims[0]*t.Dims[1]
}

// Size returns the total number of ranks in the grid.
func (t *Topology) Size() int { return t.Dims[0] * t.Dims[1] * t.Dims[2] }

// RankAt returns the rank id of the grid position coord, wrapping coord
// through the grid bounds first.
func (t *Topology) RankAt(coord [3]int) int {
	x := geom.PMod(coord[0], t.Dims[0])
	y := geom.PMod(coord[1], t.Dims[1])
	z := geom.PMod(coord[2], t.Dims[2])
	return x + y*t.Dims[0] + z*t.Dims[0]*t.Dims[1]
}

// LocalBox returns this rank's sub-box of the global box.
func (t *Topology) LocalBox(global *geom.Box) geom.Box {
	return global.SubBox(t.Dims, t.Coord)
}
