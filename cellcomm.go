package domdec

import (
	"fmt"
	"sort"

	"github.com/phil-mansfield/domdec/comm"
	"github.com/phil-mansfield/domdec/geom"
	"github.com/phil-mansfield/domdec/topo"
)

// CellGeometry is the view of a cell list that the CellCommunicator
// consumes. All grids are cell-granular: LocalGrid spans this rank's cells
// including its ghost layers, and GlobalGrid spans the whole box. The cell
// list bumps Version whenever its size or layout changes, which invalidates
// any communication schedule built against the old geometry.
type CellGeometry interface {
	// LocalGrid returns the ghost-layer-inclusive local cell grid.
	LocalGrid() *geom.Grid
	// GlobalGrid returns the global cell grid.
	GlobalGrid() *geom.Grid
	// GlobalCell maps local cell coordinates to global cell coordinates.
	GlobalCell(local [3]int) [3]int
	// LocalCell maps global cell coordinates to local cell coordinates.
	LocalCell(global [3]int) [3]int
	// CommCells returns the number of cell layers on the given face that
	// must be communicated.
	CommCells(d topo.Direction) int
	// Version counts size and layout changes.
	Version() uint64
}

// MergeOp combines a received per-cell value into a destination cell.
type MergeOp func(dst, src float64) float64

// MergeSum accumulates received values into the destination cell.
func MergeSum(dst, src float64) float64 { return dst + src }

// CellCommunicator shuttles per-cell payloads between the ranks whose cell
// grids overlap. Which cells go where depends only on the grid geometry, not
// on particle positions, so the schedule is computed once and reused every
// step until the cell list's version changes.
type CellCommunicator struct {
	comm  *comm.Comm
	topo  *topo.Topology
	cells CellGeometry

	initialized bool
	version     uint64

	// neighbors holds the unique ranks exchanged with, sorted. sendIdx is
	// the local cell index of every send slot, grouped contiguously by
	// neighbor; sendBegin and sendCount delimit each neighbor's group. By
	// symmetry of the decomposition each neighbor sends back exactly as
	// many cells as it is sent.
	neighbors            []int
	sendBegin, sendCount []int
	sendIdx              []int

	// recvIdx is the destination local cell of every received slot.
	// recvCells lists the slots regrouped by destination cell:
	// recvCells[cellBegin[u]:cellEnd[u]] are the slots merged into
	// uniqueCells[u].
	recvIdx            []int
	uniqueCells        []int
	recvCells          []int
	cellBegin, cellEnd []int

	sendBuf, recvBuf []float64
}

// NewCellCommunicator creates a CellCommunicator for one rank. The schedule
// is built lazily on first use.
func NewCellCommunicator(
	cm *comm.Comm, t *topo.Topology, cells CellGeometry,
) *CellCommunicator {
	return &CellCommunicator{comm: cm, topo: t, cells: cells}
}

// ensureInitialized rebuilds the schedule if it has never been built or if
// the cell list has changed size since it was.
func (cc *CellCommunicator) ensureInitialized() error {
	if cc.initialized && cc.version == cc.cells.Version() {
		return nil
	}
	return cc.Initialize()
}

// offsetsFor returns the grid offsets along one axis that the cell at
// coordinate x must be sent through: always 0, plus -1 or +1 if the cell
// lies in the lower or upper comm layer of that axis.
func offsetsFor(x, maxLo, minHi int) []int {
	if x < maxLo {
		return []int{0, -1}
	}
	if x >= minHi {
		return []int{0, 1}
	}
	return []int{0}
}

// Initialize builds the communication schedule: which local cells are sent
// to which neighbor ranks, and how the cells received back map onto local
// cells. Creating the schedule is collective. Re-running it with unchanged
// geometry produces an identical schedule.
func (cc *CellCommunicator) Initialize() error {
	ci := cc.cells.LocalGrid()
	gci := cc.cells.GlobalGrid()

	maxLo := [3]int{
		cc.cells.CommCells(topo.West),
		cc.cells.CommCells(topo.South),
		cc.cells.CommCells(topo.Down),
	}
	minHi := [3]int{
		ci.Width[0] - cc.cells.CommCells(topo.East),
		ci.Width[1] - cc.cells.CommCells(topo.North),
		ci.Width[2] - cc.cells.CommCells(topo.Up),
	}

	// Walk every cell of the local grid, skipping the strictly interior
	// ones. The loop is wasteful but Initialize runs rarely. A cell in the
	// comm layer of several faces at once belongs to every combination of
	// those face offsets, so a corner cell reaches up to 7 neighbors.
	//
	// The send side keeps the local index it walked: a global index cannot
	// recover it, since a periodic wrap can alias a ghost cell and a real
	// cell onto the same global cell.
	type sendCell struct {
		global int32
		local  int
	}
	sendMap := map[int][]sendCell{}
	for k := 0; k < ci.Width[2]; k++ {
		for j := 0; j < ci.Width[1]; j++ {
			for i := 0; i < ci.Width[0]; i++ {
				if i >= maxLo[0] && i < minHi[0] &&
					j >= maxLo[1] && j < minHi[1] &&
					k >= maxLo[2] && k < minHi[2] {
					continue
				}

				g := cc.cells.GlobalCell([3]int{i, j, k})
				gx := geom.PMod(g[0], gci.Width[0])
				gy := geom.PMod(g[1], gci.Width[1])
				gz := geom.PMod(g[2], gci.Width[2])
				cell := sendCell{
					global: int32(gci.Idx(gx, gy, gz)),
					local:  ci.Idx(i, j, k),
				}

				dxs := offsetsFor(i, maxLo[0], minHi[0])
				dys := offsetsFor(j, maxLo[1], minHi[1])
				dzs := offsetsFor(k, maxLo[2], minHi[2])
				for _, dx := range dxs {
					for _, dy := range dys {
						for _, dz := range dzs {
							if dx == 0 && dy == 0 && dz == 0 {
								continue
							}
							r := cc.topo.RankAt([3]int{
								cc.topo.Coord[0] + dx,
								cc.topo.Coord[1] + dy,
								cc.topo.Coord[2] + dz,
							})
							// With one or two ranks on an axis, several
							// offsets can alias the same rank. Each cell is
							// listed once per neighbor: its value is one
							// contribution, however many paths lead there.
							cells := sendMap[r]
							if n := len(cells); n > 0 && cells[n-1] == cell {
								continue
							}
							sendMap[r] = append(cells, cell)
						}
					}
				}
			}
		}
	}

	cc.neighbors = cc.neighbors[:0]
	for r := range sendMap {
		cc.neighbors = append(cc.neighbors, r)
	}
	sort.Ints(cc.neighbors)

	cc.sendBegin = cc.sendBegin[:0]
	cc.sendCount = cc.sendCount[:0]
	cc.sendIdx = cc.sendIdx[:0]
	sendGlobal := []int32{}
	for _, r := range cc.neighbors {
		cc.sendBegin = append(cc.sendBegin, len(sendGlobal))
		cc.sendCount = append(cc.sendCount, len(sendMap[r]))
		for _, cell := range sendMap[r] {
			sendGlobal = append(sendGlobal, cell.global)
			cc.sendIdx = append(cc.sendIdx, cell.local)
		}
	}

	// Exchange the global cell index lists pairwise with every neighbor,
	// all requests outstanding at once, then one wait for the lot.
	sreqs := make([]*comm.Request, len(cc.neighbors))
	rreqs := make([]*comm.Request, len(cc.neighbors))
	for ni, r := range cc.neighbors {
		seg := sendGlobal[cc.sendBegin[ni] : cc.sendBegin[ni]+cc.sendCount[ni]]
		sreqs[ni] = cc.comm.Isend(r, tagCellIndex, packInt32s(seg))
		rreqs[ni] = cc.comm.Irecv(r, tagCellIndex)
	}
	if err := comm.WaitAll(append(sreqs, rreqs...)...); err != nil {
		return err
	}

	recvGlobal := make([]int32, len(sendGlobal))
	for ni, r := range cc.neighbors {
		xs, err := unpackInt32s(rreqs[ni].Data())
		if err != nil {
			return fmt.Errorf(
				"Protocol violation: rank %d received a malformed cell "+
					"index list from rank %d: %v", cc.comm.Rank(), r, err,
			)
		}
		if len(xs) != cc.sendCount[ni] {
			return fmt.Errorf(
				"Protocol violation: rank %d sends %d cells to rank %d "+
					"but received %d back; the schedules disagree.",
				cc.comm.Rank(), cc.sendCount[ni], r, len(xs),
			)
		}
		copy(recvGlobal[cc.sendBegin[ni]:], xs)
	}

	// Translate the received global cell indices into local destinations.
	var err error
	if cc.recvIdx, err = cc.localize(recvGlobal, cc.recvIdx); err != nil {
		return err
	}

	// Regroup the received slots by destination cell so per-step transfers
	// can merge each cell's incoming data without searching.
	cellMap := map[int][]int{}
	for slot, cell := range cc.recvIdx {
		cellMap[cell] = append(cellMap[cell], slot)
	}
	cc.uniqueCells = cc.uniqueCells[:0]
	for cell := range cellMap {
		cc.uniqueCells = append(cc.uniqueCells, cell)
	}
	sort.Ints(cc.uniqueCells)

	cc.recvCells = cc.recvCells[:0]
	cc.cellBegin = cc.cellBegin[:0]
	cc.cellEnd = cc.cellEnd[:0]
	for _, cell := range cc.uniqueCells {
		cc.cellBegin = append(cc.cellBegin, len(cc.recvCells))
		cc.recvCells = append(cc.recvCells, cellMap[cell]...)
		cc.cellEnd = append(cc.cellEnd, len(cc.recvCells))
	}

	cc.version = cc.cells.Version()
	cc.initialized = true
	return nil
}

// localize converts global cell indices to local ones, wrapping coordinates
// that fall off the local grid through the global bounds.
func (cc *CellCommunicator) localize(global []int32, out []int) ([]int, error) {
	ci := cc.cells.LocalGrid()
	gci := cc.cells.GlobalGrid()

	out = out[:0]
	for _, gidx := range global {
		x, y, z := gci.Coords(int(gidx))
		l := cc.cells.LocalCell([3]int{x, y, z})

		// The shift is one global period, but the bounds test must use the
		// local grid: with one rank on an axis the ghost-inclusive local
		// grid is wider than the global one, and a real cell index would
		// pass a global-width test and be wrapped into the ghost layer.
		for axis := 0; axis < 3; axis++ {
			if l[axis] >= ci.Width[axis] {
				l[axis] -= gci.Width[axis]
			} else if l[axis] < 0 {
				l[axis] += gci.Width[axis]
			}
		}

		idx, ok := ci.IdxCheck(l[0], l[1], l[2])
		if !ok {
			return nil, fmt.Errorf(
				"Cell geometry mismatch on rank %d: global cell %d maps to "+
					"local cell %v, outside the local grid %v.",
				cc.comm.Rank(), gidx, l, ci.Width,
			)
		}
		out = append(out, idx)
	}
	return out, nil
}

// Exchange communicates one per-cell payload according to the precomputed
// schedule and merges the received values into their destination cells with
// merge. props must have one value per local cell. The schedule is rebuilt
// first if the cell list's version has changed.
func (cc *CellCommunicator) Exchange(props []float64, merge MergeOp) error {
	if err := cc.ensureInitialized(); err != nil {
		return err
	}

	ci := cc.cells.LocalGrid()
	if len(props) != ci.Volume {
		return fmt.Errorf(
			"Cell payload has %d values, but the local grid has %d cells.",
			len(props), ci.Volume,
		)
	}

	if cap(cc.sendBuf) < len(cc.sendIdx) {
		cc.sendBuf = make([]float64, len(cc.sendIdx))
		cc.recvBuf = make([]float64, len(cc.recvIdx))
	}
	sendBuf := cc.sendBuf[:len(cc.sendIdx)]
	recvBuf := cc.recvBuf[:len(cc.recvIdx)]
	for i, idx := range cc.sendIdx {
		sendBuf[i] = props[idx]
	}

	sreqs := make([]*comm.Request, len(cc.neighbors))
	rreqs := make([]*comm.Request, len(cc.neighbors))
	for ni, r := range cc.neighbors {
		seg := sendBuf[cc.sendBegin[ni] : cc.sendBegin[ni]+cc.sendCount[ni]]
		sreqs[ni] = cc.comm.Isend(r, tagCellPayload, packFloat64s(seg))
		rreqs[ni] = cc.comm.Irecv(r, tagCellPayload)
	}
	if err := comm.WaitAll(append(sreqs, rreqs...)...); err != nil {
		return err
	}

	for ni, r := range cc.neighbors {
		xs, err := unpackFloat64s(rreqs[ni].Data())
		if err == nil && len(xs) != cc.sendCount[ni] {
			err = fmt.Errorf("received %d values, expected %d",
				len(xs), cc.sendCount[ni])
		}
		if err != nil {
			return fmt.Errorf(
				"Protocol violation: rank %d got a bad cell payload from "+
					"rank %d: %v", cc.comm.Rank(), r, err,
			)
		}
		copy(recvBuf[cc.sendBegin[ni]:], xs)
	}

	for u, cell := range cc.uniqueCells {
		for s := cc.cellBegin[u]; s < cc.cellEnd[u]; s++ {
			props[cell] = merge(props[cell], recvBuf[cc.recvCells[s]])
		}
	}
	return nil
}
