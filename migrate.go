package domdec

import (
	"bytes"
	"fmt"

	"github.com/phil-mansfield/domdec/topo"
)

// Migrate relocates every owned particle whose position has left the local
// box to the neighbor that owns it now. All six directions are processed in
// sequence, so a particle that moved diagonally reaches its owner in at most
// three hops. After the pass the global particle count is re-checked by a
// cross-rank sum: migration may move particles, never create or drop them.
func (c *Communicator) Migrate() error {
	s := c.store

	// Ghosts expire on migration: the exchange that follows rebuilds them.
	s.RemoveAllGhosts()

	for d := topo.Direction(0); d < topo.NumDirections; d++ {
		if c.skipDir(d) {
			continue
		}

		axis := d.Axis()
		var leaves func(i int) bool
		if d.Positive() {
			hi := c.local.Hi[axis]
			leaves = func(i int) bool { return s.Pos[i][axis] >= hi }
		} else {
			lo := c.local.Lo[axis]
			leaves = func(i int) bool { return s.Pos[i][axis] < lo }
		}

		moved := s.PartitionAndCompact(leaves)
		send := packParticles(s, s.N(), moved)

		recv, count, err := c.sendRecvDir(
			d, tagMigrateCount, tagMigratePayload, send, particleSize,
		)
		if err != nil {
			return err
		}

		rd := bytes.NewReader(recv)
		for i := 0; i < count; i++ {
			p, err := unpackParticle(rd)
			if err != nil {
				return fmt.Errorf(
					"Protocol violation in direction %v: rank %d could not "+
						"decode particle %d of %d: %v",
					d, c.comm.Rank(), i, count, err,
				)
			}

			c.wrapReceived(d, &p.Pos, &p.Image)
			if err := s.AddOwned(&p); err != nil {
				return fmt.Errorf(
					"Protocol violation in direction %v on rank %d: %v",
					d, c.comm.Rank(), err,
				)
			}
		}
	}

	total, err := c.comm.AllSum(s.N())
	if err != nil {
		return err
	}
	if total != c.nGlobal {
		return fmt.Errorf(
			"Protocol violation on rank %d: global particle count drifted "+
				"from %d to %d during migration.",
			c.comm.Rank(), c.nGlobal, total,
		)
	}
	return nil
}
