/*package domdec keeps a particle simulation consistently decomposed over a
3D grid of ranks. Each rank owns an axis-aligned sub-box of the global
periodic box. As particles move, two protocols keep the ranks consistent:
atom migration relocates particles whose positions leave the local box to
the owning face neighbor, and ghost exchange replicates boundary-adjacent
particles onto neighboring ranks so that short-range interactions near a
boundary see correct neighbor state without global synchronization.

A third protocol, CellCommunicator, shuttles per-cell payloads for
simulations that track particles on a discretized cell grid. Its
communication schedule depends only on the grid geometry, so it is built
lazily and reused until the cell list reports a size change.*/
package domdec

import (
	"fmt"

	"github.com/phil-mansfield/domdec/comm"
	"github.com/phil-mansfield/domdec/geom"
	"github.com/phil-mansfield/domdec/particle"
	"github.com/phil-mansfield/domdec/topo"
)

// Message tags for the exchange protocols. Every exchange pairs one send
// with one receive per tag, and directions are processed strictly in
// sequence, so tags never collide between rounds.
const (
	tagMigrateCount = iota
	tagMigratePayload
	tagGhostCount
	tagGhostPayload
	tagRefresh
	tagCellIndex
	tagCellPayload
)

// Communicator runs the migration and ghost protocols for one rank.
// Creating one is collective: every rank must construct its Communicator
// concurrently, since the global particle count is reduced across ranks.
type Communicator struct {
	comm  *comm.Comm
	topo  *topo.Topology
	store *particle.Store
	bonds *particle.Bonds

	global, local geom.Box
	rGhost        float64
	nGlobal       int

	trigger func(step int) bool

	// plan[i] is the ghost send plan of slot i, one bit per direction.
	// Rebuilt from scratch on every full exchange.
	plan []uint8

	// ghostTags[d] lists, in slot order, the tags currently replicated
	// toward direction d. They persist across refresh steps until the next
	// full exchange rebuilds them.
	ghostTags   [topo.NumDirections][]uint32
	nRecvGhosts [topo.NumDirections]int
}

// NewCommunicator creates the Communicator of one rank. global is the full
// simulation box and rGhost the ghost layer thickness. The local sub-box is
// derived from the rank's grid position. Configuration errors, like a ghost
// layer thicker than half the local box, are detected here, before any
// exchange runs.
func NewCommunicator(
	cm *comm.Comm, t *topo.Topology, s *particle.Store,
	global geom.Box, rGhost float64,
) (*Communicator, error) {
	if t.Size() != cm.Size() {
		return nil, fmt.Errorf(
			"Rank grid %v describes %d ranks, but the network connects %d.",
			t.Dims, t.Size(), cm.Size(),
		)
	}

	local := t.LocalBox(&global)
	if rGhost <= 0 {
		return nil, fmt.Errorf(
			"Ghost layer thickness must be positive, but is %g.", rGhost,
		)
	}
	for i := 0; i < 3; i++ {
		if rGhost > local.Width(i)/2 {
			return nil, fmt.Errorf(
				"Ghost layer thickness %g exceeds half the local box "+
					"extent %g on axis %d.", rGhost, local.Width(i), i,
			)
		}
	}

	nGlobal, err := cm.AllSum(s.N())
	if err != nil {
		return nil, err
	}

	c := &Communicator{
		comm: cm, topo: t, store: s,
		global: global, local: local,
		rGhost: rGhost, nGlobal: nGlobal,
		trigger: func(step int) bool { return true },
	}
	return c, nil
}

// SetBonds registers the simulation's bond list. Endpoints of bonds split
// across ranks are replicated as ghosts so the bond can be evaluated.
func (c *Communicator) SetBonds(b *particle.Bonds) { c.bonds = b }

// SetTrigger installs the per-step migration decision. The default migrates
// every step.
func (c *Communicator) SetTrigger(f func(step int) bool) { c.trigger = f }

// LocalBox returns this rank's sub-box.
func (c *Communicator) LocalBox() geom.Box { return c.local }

// Communicate runs one step of the protocol: a full migration and ghost
// exchange if the trigger requires it, and a cheap position-only refresh of
// the existing ghosts otherwise.
func (c *Communicator) Communicate(step int) error {
	if c.trigger(step) {
		if err := c.Migrate(); err != nil {
			return err
		}
		return c.ExchangeGhosts()
	}
	return c.RefreshGhostPositions()
}

// skipDir reports whether the given direction requires no communication
// because the rank grid is a single rank wide on its axis. Single-rank
// periodicity is handled by the per-rank integration code instead.
func (c *Communicator) skipDir(d topo.Direction) bool {
	return c.topo.Dims[d.Axis()] == 1
}

// sendRecvDir exchanges one staged payload of recSize-byte records with the
// neighbor pair of direction d: counts first, then the payload sized to the
// exchanged count. Both legs are posted before either wait.
func (c *Communicator) sendRecvDir(
	d topo.Direction, countTag, payloadTag int, send []byte, recSize int,
) (recv []byte, count int, err error) {
	to := c.topo.Neighbors[d]
	from := c.topo.Neighbors[d.Opposite()]
	nSend := len(send) / recSize

	sreq := c.comm.Isend(to, countTag, packCount(nSend))
	rreq := c.comm.Irecv(from, countTag)
	if err := comm.WaitAll(sreq, rreq); err != nil {
		return nil, 0, err
	}
	count, err = unpackCount(rreq.Data())
	if err != nil {
		return nil, 0, fmt.Errorf(
			"Protocol violation in direction %v between ranks %d and %d: %v",
			d, c.comm.Rank(), from, err,
		)
	}

	sreq = c.comm.Isend(to, payloadTag, send)
	rreq = c.comm.Irecv(from, payloadTag)
	if err := comm.WaitAll(sreq, rreq); err != nil {
		return nil, 0, err
	}

	recv = rreq.Data()
	if len(recv) != count*recSize {
		return nil, 0, fmt.Errorf(
			"Protocol violation in direction %v: rank %d expected %d "+
				"records (%d bytes) from rank %d, got %d bytes.",
			d, c.comm.Rank(), count, count*recSize, from, len(recv),
		)
	}
	return recv, count, nil
}

// wrapReceived applies the periodic shift to a position entering through the
// face opposite to send direction d, when that face lies on the global
// boundary. image, if non-nil, tracks the crossing.
func (c *Communicator) wrapReceived(
	d topo.Direction, pos *geom.Vec, image *[3]int32,
) {
	if !c.topo.AtBoundary[d.Opposite()] {
		return
	}

	axis := d.Axis()
	width := c.global.Width(axis)
	if d.Positive() {
		pos[axis] -= width
		if image != nil {
			image[axis]++
		}
	} else {
		pos[axis] += width
		if image != nil {
			image[axis]--
		}
	}
}
