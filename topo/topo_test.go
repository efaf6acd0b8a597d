package topo

import (
	"testing"

	"github.com/phil-mansfield/domdec/geom"
)

func TestDirection(t *testing.T) {
	table := []struct {
		d, opp   Direction
		axis     int
		positive bool
	}{
		{East, West, 0, true},
		{West, East, 0, false},
		{North, South, 1, true},
		{South, North, 1, false},
		{Up, Down, 2, true},
		{Down, Up, 2, false},
	}

	for i, test := range table {
		if test.d.Opposite() != test.opp {
			t.Errorf("%d) %v.Opposite() = %v, expected %v",
				i, test.d, test.d.Opposite(), test.opp)
		}
		if test.d.Axis() != test.axis {
			t.Errorf("%d) %v.Axis() = %d, expected %d",
				i, test.d, test.d.Axis(), test.axis)
		}
		if test.d.Positive() != test.positive {
			t.Errorf("%d) %v.Positive() = %v, expected %v",
				i, test.d, test.d.Positive(), test.positive)
		}
		if test.d.Opposite().Opposite() != test.d {
			t.Errorf("%d) double Opposite() does not return %v", i, test.d)
		}
	}
}

func TestDirectionBits(t *testing.T) {
	seen := uint8(0)
	for d := Direction(0); d < NumDirections; d++ {
		if seen&d.Bit() != 0 {
			t.Errorf("%v.Bit() collides with an earlier direction", d)
		}
		seen |= d.Bit()
	}
	if seen != 0x3f {
		t.Errorf("Direction bits cover %06b, expected 111111", seen)
	}
}

func TestNewTopology(t *testing.T) {
	table := []struct {
		dims       [3]int
		rank       int
		coord      [3]int
		neighbors  [NumDirections]int
		atBoundary [NumDirections]bool
	}{
		{[3]int{2, 2, 2}, 0, [3]int{0, 0, 0},
			[NumDirections]int{1, 1, 2, 2, 4, 4},
			[NumDirections]bool{false, true, false, true, false, true}},
		{[3]int{2, 2, 2}, 7, [3]int{1, 1, 1},
			[NumDirections]int{6, 6, 5, 5, 3, 3},
			[NumDirections]bool{true, false, true, false, true, false}},
		{[3]int{3, 1, 1}, 1, [3]int{1, 0, 0},
			[NumDirections]int{2, 0, 1, 1, 1, 1},
			[NumDirections]bool{false, false, true, true, true, true}},
	}

	for i, test := range table {
		topo, err := New(test.dims, test.rank)
		if err != nil {
			t.Fatalf("%d) New(%v, %d) failed: %v", i, test.dims, test.rank, err)
		}

		if topo.Coord != test.coord {
			t.Errorf("%d) Coord = %v, expected %v", i, topo.Coord, test.coord)
		}
		if topo.Neighbors != test.neighbors {
			t.Errorf("%d) Neighbors = %v, expected %v",
				i, topo.Neighbors, test.neighbors)
		}
		if topo.AtBoundary != test.atBoundary {
			t.Errorf("%d) AtBoundary = %v, expected %v",
				i, topo.AtBoundary, test.atBoundary)
		}
		if topo.Rank() != test.rank {
			t.Errorf("%d) Rank() = %d, expected %d", i, topo.Rank(), test.rank)
		}
	}
}

func TestNewTopologyErrors(t *testing.T) {
	if _, err := New([3]int{0, 1, 1}, 0); err == nil {
		t.Errorf("New accepted a zero-width grid")
	}
	if _, err := New([3]int{2, 2, 2}, 8); err == nil {
		t.Errorf("New accepted an out-of-range rank")
	}
	if _, err := New([3]int{2, 2, 2}, -1); err == nil {
		t.Errorf("New accepted a negative rank")
	}
}

func TestRankAtWraps(t *testing.T) {
	topo, err := New([3]int{2, 3, 4}, 0)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	table := []struct {
		coord [3]int
		rank  int
	}{
		{[3]int{0, 0, 0}, 0},
		{[3]int{-1, 0, 0}, 1},
		{[3]int{2, 0, 0}, 0},
		{[3]int{0, -1, 0}, 4},
		{[3]int{0, 0, -1}, 18},
	}
	for i, test := range table {
		if got := topo.RankAt(test.coord); got != test.rank {
			t.Errorf("%d) RankAt(%v) = %d, expected %d",
				i, test.coord, got, test.rank)
		}
	}
}

func TestLocalBox(t *testing.T) {
	global := geom.Box{Lo: geom.Vec{0, 0, 0}, Hi: geom.Vec{10, 10, 10}}
	topo, err := New([3]int{2, 2, 2}, 7)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	local := topo.LocalBox(&global)
	want := geom.Box{Lo: geom.Vec{5, 5, 5}, Hi: geom.Vec{10, 10, 10}}
	if local != want {
		t.Errorf("LocalBox = %v, expected %v", local, want)
	}
}
