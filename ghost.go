package domdec

import (
	"bytes"
	"fmt"

	"github.com/phil-mansfield/domdec/comm"
	"github.com/phil-mansfield/domdec/particle"
	"github.com/phil-mansfield/domdec/topo"
)

// posDirs[axis] and negDirs[axis] are the directions through the upper and
// lower face of each axis.
var posDirs = [3]topo.Direction{topo.East, topo.North, topo.Up}
var negDirs = [3]topo.Direction{topo.West, topo.South, topo.Down}

// ExchangeGhosts rebuilds the ghost send plans and replicates every
// boundary-adjacent particle onto the neighbors that need it. Directions run
// in sequence and received ghosts carry their plans, so a corner particle is
// forwarded through intermediate ranks and reaches diagonal neighbors too.
func (c *Communicator) ExchangeGhosts() error {
	s := c.store

	// Plans are independent of history: start from zero for every owned
	// particle. Ghost slots extend this array as they arrive.
	c.plan = c.plan[:0]
	for i := 0; i < s.N(); i++ {
		c.plan = append(c.plan, 0)
	}

	c.markBondEndpoints()
	c.markBoundaryParticles()

	for d := topo.Direction(0); d < topo.NumDirections; d++ {
		if c.skipDir(d) {
			continue
		}

		// Select everything whose plan points through this face, including
		// ghosts received in an earlier direction of this pass.
		c.ghostTags[d] = c.ghostTags[d][:0]
		buf := bytes.NewBuffer(make([]byte, 0, ghostSize*8))
		for idx := 0; idx < s.NTotal(); idx++ {
			if c.plan[idx]&d.Bit() == 0 {
				continue
			}
			rec := ghostRecord{
				Pos: s.Pos[idx], Charge: s.Charge[idx],
				Diameter: s.Diameter[idx],
				Tag:      s.Tag[idx], Plan: c.plan[idx],
			}
			packGhost(buf, &rec)
			c.ghostTags[d] = append(c.ghostTags[d], s.Tag[idx])
		}

		recv, count, err := c.sendRecvDir(
			d, tagGhostCount, tagGhostPayload, buf.Bytes(), ghostSize,
		)
		if err != nil {
			return err
		}
		c.nRecvGhosts[d] = count

		rd := bytes.NewReader(recv)
		for i := 0; i < count; i++ {
			rec, err := unpackGhost(rd)
			if err != nil {
				return fmt.Errorf(
					"Protocol violation in direction %v: rank %d could not "+
						"decode ghost %d of %d: %v",
					d, c.comm.Rank(), i, count, err,
				)
			}

			c.wrapReceived(d, &rec.Pos, nil)
			err = s.AddGhost(rec.Pos, rec.Charge, rec.Diameter, rec.Tag)
			if err != nil {
				return fmt.Errorf(
					"Protocol violation in direction %v on rank %d: %v",
					d, c.comm.Rank(), err,
				)
			}
			c.plan = append(c.plan, rec.Plan)
		}
	}
	return nil
}

// markBondEndpoints marks particles that are endpoints of a bond whose
// partner is not owned locally. The endpoint is sent toward whichever half
// of the box it sits in on each axis, which is where the partner's owner can
// find it. The test uses only the box midpoint, not the partner's position.
func (c *Communicator) markBondEndpoints() {
	if c.bonds == nil {
		return
	}
	s := c.store

	var mid [3]float64
	for i := 0; i < 3; i++ {
		mid[i] = c.local.Lo[i] + c.local.Width(i)/2
	}

	for _, idx := range c.bonds.IncompleteEndpoints(s) {
		for axis := 0; axis < 3; axis++ {
			if s.Pos[idx][axis] > mid[axis] {
				c.plan[idx] |= posDirs[axis].Bit()
			} else {
				c.plan[idx] |= negDirs[axis].Bit()
			}
		}
	}
}

// markBoundaryParticles marks every owned particle within one ghost layer of
// a face for replication through that face, independent of bonding.
func (c *Communicator) markBoundaryParticles() {
	s := c.store
	for i := 0; i < s.N(); i++ {
		for axis := 0; axis < 3; axis++ {
			if s.Pos[i][axis] >= c.local.Hi[axis]-c.rGhost {
				c.plan[i] |= posDirs[axis].Bit()
			}
			if s.Pos[i][axis] < c.local.Lo[axis]+c.rGhost {
				c.plan[i] |= negDirs[axis].Bit()
			}
		}
	}
}

// RefreshGhostPositions updates the positions of the existing ghosts without
// rebuilding the ghost topology. It reuses the per-direction tag lists from
// the last full exchange, so ghost count, order and identity are unchanged;
// only positions are overwritten.
func (c *Communicator) RefreshGhostPositions() error {
	s := c.store

	totRecv := 0
	for d := topo.Direction(0); d < topo.NumDirections; d++ {
		if c.skipDir(d) {
			continue
		}

		buf := bytes.NewBuffer(make([]byte, 0, vecSize*len(c.ghostTags[d])))
		for _, tag := range c.ghostTags[d] {
			idx := s.Index(tag)
			if idx == particle.NotLocal {
				return fmt.Errorf(
					"Protocol violation on rank %d: ghost tag %d for "+
						"direction %v is no longer local; a migration was "+
						"missed.", c.comm.Rank(), tag, d,
				)
			}
			pos := s.Pos[idx]
			packVec(buf, &pos)
		}

		to := c.topo.Neighbors[d]
		from := c.topo.Neighbors[d.Opposite()]
		sreq := c.comm.Isend(to, tagRefresh, buf.Bytes())
		rreq := c.comm.Irecv(from, tagRefresh)
		if err := comm.WaitAll(sreq, rreq); err != nil {
			return err
		}

		recv := rreq.Data()
		if len(recv) != c.nRecvGhosts[d]*vecSize {
			return fmt.Errorf(
				"Protocol violation in direction %v: rank %d expected "+
					"positions for %d ghosts from rank %d, got %d bytes.",
				d, c.comm.Rank(), c.nRecvGhosts[d], from, len(recv),
			)
		}

		start := s.N() + totRecv
		rd := bytes.NewReader(recv)
		for i := 0; i < c.nRecvGhosts[d]; i++ {
			pos, err := unpackVec(rd)
			if err != nil {
				return fmt.Errorf(
					"Protocol violation in direction %v: rank %d could not "+
						"decode ghost position %d: %v",
					d, c.comm.Rank(), i, err,
				)
			}
			c.wrapReceived(d, &pos, nil)
			s.Pos[start+i] = pos
		}
		totRecv += c.nRecvGhosts[d]
	}
	return nil
}
