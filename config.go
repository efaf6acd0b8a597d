package domdec

import (
	"fmt"

	"gopkg.in/gcfg.v1"

	"github.com/phil-mansfield/domdec/geom"
)

const ExampleDecompFile = `[Decomp]

#######################
# Required Parameters #
#######################

# Number of ranks along each axis of the decomposition. The product must
# equal the number of ranks the simulation runs on.
GridX = 2
GridY = 2
GridZ = 2

# Side length of the (cubic) global simulation box.
BoxWidth = 10.0

# Width of the ghost layer copied in from neighboring ranks. Must be
# positive and no larger than half the local box width along any axis.
GhostRadius = 1.0

#######################
# Optional Parameters #
#######################

# Particles are migrated to their owning rank every MigrateEvery steps.
# Default is 1, i.e. every step.
# MigrateEvery = 1

# BondFile is a two-column text file of particle tag pairs. When set, ghost
# exchange also replicates the particles needed to complete bonds that span
# rank boundaries.
# BondFile = path/to/bonds.txt

# Output file which is useful for debugging. Generally, there isn't a
# reason to use this unless something goes wrong.
# LogFile = log.out`

type DecompConfig struct {
	// Required
	GridX, GridY, GridZ int
	BoxWidth            float64
	GhostRadius         float64

	// Optional
	MigrateEvery int
	BondFile     string
	LogFile      string
}

type DecompWrapper struct {
	Decomp DecompConfig
}

func DefaultDecompWrapper() *DecompWrapper {
	con := DecompConfig{}
	con.MigrateEvery = 1
	return &DecompWrapper{con}
}

func (con *DecompConfig) CheckInit() error {
	if con.GridX <= 0 || con.GridY <= 0 || con.GridZ <= 0 {
		return fmt.Errorf(
			"GridX, GridY, and GridZ must all be positive, but are "+
				"%d, %d, and %d.", con.GridX, con.GridY, con.GridZ,
		)
	}

	if con.BoxWidth <= 0 {
		return fmt.Errorf(
			"Need to specify a positive BoxWidth, but got %g.", con.BoxWidth,
		)
	}

	if con.GhostRadius <= 0 {
		return fmt.Errorf(
			"Need to specify a positive GhostRadius, but got %g.",
			con.GhostRadius,
		)
	}
	dims := con.Dims()
	for i := 0; i < 3; i++ {
		local := con.BoxWidth / float64(dims[i])
		if con.GhostRadius > local/2 {
			return fmt.Errorf(
				"GhostRadius is %g, but the local box is only %g wide "+
					"along axis %d. It cannot be larger than half the "+
					"local width.", con.GhostRadius, local, i,
			)
		}
	}

	if con.MigrateEvery <= 0 {
		return fmt.Errorf(
			"MigrateEvery must be positive, but is %d.", con.MigrateEvery,
		)
	}

	return nil
}

// Dims returns the rank grid dimensions.
func (con *DecompConfig) Dims() [3]int {
	return [3]int{con.GridX, con.GridY, con.GridZ}
}

// Size returns the total number of ranks the configuration decomposes over.
func (con *DecompConfig) Size() int {
	return con.GridX * con.GridY * con.GridZ
}

// GlobalBox returns the global simulation box, anchored at the origin.
func (con *DecompConfig) GlobalBox() geom.Box {
	w := con.BoxWidth
	return geom.Box{Hi: geom.Vec{w, w, w}}
}

// ShouldMigrate returns true on the steps where particles must be handed
// off to their owning ranks.
func (con *DecompConfig) ShouldMigrate(step int) bool {
	return step%con.MigrateEvery == 0
}

// ReadDecompConfig parses and validates a [Decomp] configuration file.
func ReadDecompConfig(fname string) (*DecompConfig, error) {
	wrap := DefaultDecompWrapper()
	if err := gcfg.ReadFileInto(wrap, fname); err != nil {
		return nil, err
	}
	if err := wrap.Decomp.CheckInit(); err != nil {
		return nil, err
	}
	return &wrap.Decomp, nil
}
