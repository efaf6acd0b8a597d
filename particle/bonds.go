package particle

import (
	"fmt"

	"github.com/phil-mansfield/table"
)

// Bonds is the list of bonded tag pairs in the simulation. Every rank holds
// the full list; which endpoints are locally present changes as particles
// migrate.
type Bonds struct {
	Pairs [][2]uint32
}

// NewBonds wraps a list of bonded tag pairs.
func NewBonds(pairs [][2]uint32) *Bonds {
	return &Bonds{Pairs: pairs}
}

// ReadBonds reads a bond list from a whitespace-separated table whose first
// two columns are the global tags of the bonded particles.
func ReadBonds(fname string) (*Bonds, error) {
	cols, err := table.ReadTable(fname, []int{0, 1}, nil)
	if err != nil {
		return nil, err
	}

	pairs := make([][2]uint32, len(cols[0]))
	for i := range pairs {
		a, b := cols[0][i], cols[1][i]
		if a < 0 || b < 0 || a != float64(uint32(a)) || b != float64(uint32(b)) {
			return nil, fmt.Errorf(
				"Bond %d of '%s' joins (%g, %g), which are not valid tags.",
				i, fname, a, b,
			)
		}
		pairs[i] = [2]uint32{uint32(a), uint32(b)}
	}
	return &Bonds{Pairs: pairs}, nil
}

// IncompleteEndpoints returns the owned slots whose bond partner is not
// owned by this rank. A slot appears once per incomplete bond it belongs to.
func (b *Bonds) IncompleteEndpoints(s *Store) []int {
	idxs := []int{}
	for _, pair := range b.Pairs {
		i, j := s.Index(pair[0]), s.Index(pair[1])
		if i != NotLocal && i < s.N() && (j == NotLocal || j >= s.N()) {
			idxs = append(idxs, i)
		}
		if j != NotLocal && j < s.N() && (i == NotLocal || i >= s.N()) {
			idxs = append(idxs, j)
		}
	}
	return idxs
}
