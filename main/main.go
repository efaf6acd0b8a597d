package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path"
	"sync"

	"github.com/phil-mansfield/domdec"
	"github.com/phil-mansfield/domdec/comm"
	"github.com/phil-mansfield/domdec/geom"
	"github.com/phil-mansfield/domdec/particle"
	"github.com/phil-mansfield/domdec/snapshot"
	"github.com/phil-mansfield/domdec/topo"
)

func main() {
	var (
		config, exampleConfig, checkpointDir string
		steps, perRank                       int
		seed                                 int64
	)

	flag.StringVar(
		&config, "Decomp", "",
		"Configuration file with a [Decomp] section.",
	)
	flag.StringVar(
		&exampleConfig, "ExampleConfig", "",
		"Prints an example configuration file to stdout. The only "+
			"accepted argument is 'Decomp'.",
	)
	flag.StringVar(
		&checkpointDir, "CheckpointDir", "",
		"Directory which per-rank checkpoint files are written to after "+
			"the last step. No checkpoints are written if unset.",
	)
	flag.IntVar(&steps, "Steps", 100, "Number of steps to run.")
	flag.IntVar(
		&perRank, "Particles", 100,
		"Number of particles seeded in each rank's sub-box.",
	)
	flag.Int64Var(&seed, "Seed", 1, "Seed for the particle positions.")

	flag.Parse()

	if exampleConfig != "" {
		if exampleConfig != "Decomp" {
			log.Fatalf(
				"Unrecognized -ExampleConfig argument '%s'.", exampleConfig,
			)
		}
		fmt.Println(domdec.ExampleDecompFile)
		os.Exit(0)
	}

	if config == "" {
		log.Fatalf("No configuration file given. Run with -Decomp <file>.")
	}
	con, err := domdec.ReadDecompConfig(config)
	if err != nil {
		log.Fatalf("Error reading %s: %s", config, err.Error())
	}

	if err = run(con, steps, perRank, seed, checkpointDir); err != nil {
		log.Fatalf(err.Error())
	}
}

// run drives every rank of the decomposition concurrently through the step
// loop. Each rank drifts its particles with a fixed per-particle velocity
// and lets the communication layer keep ownership and ghosts consistent.
func run(
	con *domdec.DecompConfig, steps, perRank int,
	seed int64, checkpointDir string,
) error {
	size := con.Size()
	net := comm.NewNetwork(size)
	global := con.GlobalBox()

	errs := make([]error, size)
	wg := sync.WaitGroup{}
	for rank := 0; rank < size; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			errs[rank] = runRank(
				net.Comm(rank), con, global,
				steps, perRank, seed, checkpointDir,
			)
		}(rank)
	}
	wg.Wait()

	for rank, err := range errs {
		if err != nil {
			return fmt.Errorf("rank %d: %s", rank, err.Error())
		}
	}
	return nil
}

func runRank(
	cm *comm.Comm, con *domdec.DecompConfig, global geom.Box,
	steps, perRank int, seed int64, checkpointDir string,
) error {
	tp, err := topo.New(con.Dims(), cm.Rank())
	if err != nil {
		return err
	}

	local := tp.LocalBox(&global)
	rng := rand.New(rand.NewSource(seed + int64(cm.Rank())))

	s := particle.NewStore(perRank * cm.Size())
	for i := 0; i < perRank; i++ {
		p := particle.Particle{Tag: uint32(cm.Rank()*perRank + i)}
		for dim := 0; dim < 3; dim++ {
			w := local.Width(dim)
			p.Pos[dim] = local.Lo[dim] + w*rng.Float64()
			p.Vel[dim] = (rng.Float64() - 0.5) * w / 20
		}
		if err := s.AddOwned(&p); err != nil {
			return err
		}
	}

	c, err := domdec.NewCommunicator(cm, tp, s, global, con.GhostRadius)
	if err != nil {
		return err
	}
	c.SetTrigger(con.ShouldMigrate)
	if con.BondFile != "" {
		bonds, err := particle.ReadBonds(con.BondFile)
		if err != nil {
			return err
		}
		c.SetBonds(bonds)
	}

	for step := 0; step < steps; step++ {
		// Drift. Velocities ride with their particles through migrations,
		// so the slot arrays stay aligned.
		for i := 0; i < s.N(); i++ {
			s.Pos[i].AddSelf(&s.Vel[i])
		}
		if err := c.Communicate(step); err != nil {
			return err
		}
	}

	if checkpointDir != "" {
		fname := path.Join(
			checkpointDir, fmt.Sprintf("chk.%d.ddec", cm.Rank()),
		)
		return snapshot.Write(fname, cm.Rank(), steps, s)
	}
	return nil
}
