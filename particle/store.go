/*package particle maintains the per-rank particle arrays of a decomposed
simulation: one attribute array per field, a transient local index per slot,
and a reverse lookup from stable global tags to local indices.*/
package particle

import (
	"fmt"

	"github.com/phil-mansfield/domdec/geom"
)

// NotLocal is the reverse-tag table entry for a tag with no local slot.
const NotLocal = -1

// Particle is the full record of a single particle. Its layout is fixed-size
// so the same record can be exchanged between ranks byte-for-byte.
type Particle struct {
	Pos, Vel, Accel geom.Vec
	Charge, Diameter float64
	Image           [3]int32
	Body            uint32
	Type            int32
	Orientation     [4]float64
	Tag             uint32
}

// Store holds the live particles of one rank as parallel attribute arrays.
// Slots [0, N) hold owned particles and slots [N, N+NGhosts) hold read-only
// ghost replicas. The first Len fields are exported for downstream force and
// observable computations; membership changes must go through the Store's
// methods so the reverse-tag table stays consistent.
type Store struct {
	Pos, Vel, Accel []geom.Vec
	Charge, Diameter []float64
	Image       [][3]int32
	Body        []uint32
	Type        []int32
	Orientation [][4]float64
	Tag         []uint32

	n, nGhost int

	// rtag[tag] is the local slot of tag, or NotLocal. Entries are cleared
	// before a slot is reused.
	rtag []int

	// partition scratch, reused across calls
	perm   []int
	vecTmp []geom.Vec
	f64Tmp []float64
	i3Tmp  [][3]int32
	u32Tmp []uint32
	i32Tmp []int32
	o4Tmp  [][4]float64
}

// NewStore creates an empty Store able to track nTags distinct global tags.
// The tag space grows automatically if larger tags appear.
func NewStore(nTags int) *Store {
	s := &Store{}
	s.rtag = make([]int, nTags)
	for i := range s.rtag {
		s.rtag[i] = NotLocal
	}
	return s
}

// N returns the number of owned particles.
func (s *Store) N() int { return s.n }

// NGhosts returns the number of ghost particles.
func (s *Store) NGhosts() int { return s.nGhost }

// NTotal returns the number of owned plus ghost particles.
func (s *Store) NTotal() int { return s.n + s.nGhost }

// Index returns the local slot holding the given tag, or NotLocal.
func (s *Store) Index(tag uint32) int {
	if int(tag) >= len(s.rtag) {
		return NotLocal
	}
	return s.rtag[tag]
}

// Get returns a copy of the particle in slot i.
func (s *Store) Get(i int) Particle {
	return Particle{
		Pos: s.Pos[i], Vel: s.Vel[i], Accel: s.Accel[i],
		Charge: s.Charge[i], Diameter: s.Diameter[i],
		Image: s.Image[i], Body: s.Body[i], Type: s.Type[i],
		Orientation: s.Orientation[i], Tag: s.Tag[i],
	}
}

// grow extends the attribute arrays to hold at least total slots.
func (s *Store) grow(total int) {
	for len(s.Pos) < total {
		s.Pos = append(s.Pos, geom.Vec{})
		s.Vel = append(s.Vel, geom.Vec{})
		s.Accel = append(s.Accel, geom.Vec{})
		s.Charge = append(s.Charge, 0)
		s.Diameter = append(s.Diameter, 0)
		s.Image = append(s.Image, [3]int32{})
		s.Body = append(s.Body, 0)
		s.Type = append(s.Type, 0)
		s.Orientation = append(s.Orientation, [4]float64{})
		s.Tag = append(s.Tag, 0)
	}
}

func (s *Store) growTags(tag uint32) {
	for int(tag) >= len(s.rtag) {
		s.rtag = append(s.rtag, NotLocal)
	}
}

// AddOwned appends p as an owned particle and records its tag. It may only
// be called while no ghosts are present, since owned particles must precede
// ghosts in the arrays.
func (s *Store) AddOwned(p *Particle) error {
	if s.nGhost != 0 {
		return fmt.Errorf(
			"Cannot add owned particle %d while %d ghosts are present.",
			p.Tag, s.nGhost,
		)
	}
	s.growTags(p.Tag)
	if s.rtag[p.Tag] != NotLocal {
		return fmt.Errorf(
			"Tag %d is already in local slot %d.", p.Tag, s.rtag[p.Tag],
		)
	}

	idx := s.n
	s.grow(idx + 1)
	s.Pos[idx], s.Vel[idx], s.Accel[idx] = p.Pos, p.Vel, p.Accel
	s.Charge[idx], s.Diameter[idx] = p.Charge, p.Diameter
	s.Image[idx], s.Body[idx], s.Type[idx] = p.Image, p.Body, p.Type
	s.Orientation[idx] = p.Orientation
	s.Tag[idx] = p.Tag
	s.rtag[p.Tag] = idx
	s.n++
	return nil
}

// AddGhost appends a ghost replica holding only the fields ghosts carry:
// position, charge, diameter and tag. Ghosts are immutable snapshots; their
// velocities and remaining fields stay zero.
func (s *Store) AddGhost(pos geom.Vec, charge, diameter float64, tag uint32) error {
	s.growTags(tag)
	if s.rtag[tag] != NotLocal {
		return fmt.Errorf(
			"Ghost tag %d is already in local slot %d.", tag, s.rtag[tag],
		)
	}

	idx := s.n + s.nGhost
	s.grow(idx + 1)
	s.Pos[idx] = pos
	s.Vel[idx], s.Accel[idx] = geom.Vec{}, geom.Vec{}
	s.Charge[idx], s.Diameter[idx] = charge, diameter
	s.Image[idx], s.Body[idx], s.Type[idx] = [3]int32{}, 0, 0
	s.Orientation[idx] = [4]float64{}
	s.Tag[idx] = tag
	s.rtag[tag] = idx
	s.nGhost++
	return nil
}

// RemoveAllGhosts expires every ghost and clears their reverse-tag entries.
func (s *Store) RemoveAllGhosts() {
	for i := s.n; i < s.n+s.nGhost; i++ {
		s.rtag[s.Tag[i]] = NotLocal
	}
	s.nGhost = 0
}

// PartitionAndCompact stably reorders the owned particles so that every
// particle with leaves(i) == false precedes every particle with
// leaves(i) == true, applying one permutation to all attribute arrays. The
// owned count shrinks by the number of leavers and their reverse-tag entries
// are cleared, but the departed records remain readable in slots
// [N(), N()+moved) until the next mutation, so the caller can pack them into
// a send buffer. It may only be called while no ghosts are present.
func (s *Store) PartitionAndCompact(leaves func(i int) bool) int {
	if s.nGhost != 0 {
		panic("PartitionAndCompact called with ghosts present")
	}

	s.perm = s.perm[:0]
	moved := 0
	for i := 0; i < s.n; i++ {
		if !leaves(i) {
			s.perm = append(s.perm, i)
		} else {
			moved++
		}
	}
	if moved == 0 {
		return 0
	}
	for i := 0; i < s.n; i++ {
		if leaves(i) {
			s.perm = append(s.perm, i)
		}
	}

	s.applyPermutation()

	s.n -= moved
	for i := 0; i < s.n; i++ {
		s.rtag[s.Tag[i]] = i
	}
	for i := s.n; i < s.n+moved; i++ {
		s.rtag[s.Tag[i]] = NotLocal
	}
	return moved
}

// applyPermutation reorders every attribute array so that new slot i holds
// the data previously in slot perm[i].
func (s *Store) applyPermutation() {
	n := len(s.perm)
	if cap(s.vecTmp) < n {
		s.vecTmp = make([]geom.Vec, n)
		s.f64Tmp = make([]float64, n)
		s.i3Tmp = make([][3]int32, n)
		s.u32Tmp = make([]uint32, n)
		s.i32Tmp = make([]int32, n)
		s.o4Tmp = make([][4]float64, n)
	}

	vec := s.vecTmp[:n]
	for i := 0; i < n; i++ { vec[i] = s.Pos[s.perm[i]] }
	copy(s.Pos, vec)
	for i := 0; i < n; i++ { vec[i] = s.Vel[s.perm[i]] }
	copy(s.Vel, vec)
	for i := 0; i < n; i++ { vec[i] = s.Accel[s.perm[i]] }
	copy(s.Accel, vec)

	f64 := s.f64Tmp[:n]
	for i := 0; i < n; i++ { f64[i] = s.Charge[s.perm[i]] }
	copy(s.Charge, f64)
	for i := 0; i < n; i++ { f64[i] = s.Diameter[s.perm[i]] }
	copy(s.Diameter, f64)

	i3 := s.i3Tmp[:n]
	for i := 0; i < n; i++ { i3[i] = s.Image[s.perm[i]] }
	copy(s.Image, i3)

	u32 := s.u32Tmp[:n]
	for i := 0; i < n; i++ { u32[i] = s.Body[s.perm[i]] }
	copy(s.Body, u32)
	for i := 0; i < n; i++ { u32[i] = s.Tag[s.perm[i]] }
	copy(s.Tag, u32)

	i32 := s.i32Tmp[:n]
	for i := 0; i < n; i++ { i32[i] = s.Type[s.perm[i]] }
	copy(s.Type, i32)

	o4 := s.o4Tmp[:n]
	for i := 0; i < n; i++ { o4[i] = s.Orientation[s.perm[i]] }
	copy(s.Orientation, o4)
}
