/*package snapshot writes and reads per-rank particle checkpoints. A
checkpoint holds the owned particles of one rank at one step; ghosts are
never stored, since the next ghost exchange rebuilds them. The particle
payload is zstd-compressed.*/
package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/DataDog/zstd"

	"github.com/phil-mansfield/domdec/particle"
)

const (
	// MagicNumber starts every checkpoint file. It should catch attempts
	// to read something else by accident.
	MagicNumber = 0x64646563
	Version     = 1

	compressionLevel = 1
)

var order = binary.LittleEndian

// header is the fixed-size block following the file identification.
type header struct {
	Rank, Step int64
	N          int64
	NTags      int64
}

// Write checkpoints the owned particles of s to fname.
func Write(fname string, rank, step int, s *particle.Store) error {
	raw := &bytes.Buffer{}
	maxTag := uint32(0)
	for i := 0; i < s.N(); i++ {
		p := s.Get(i)
		if p.Tag > maxTag {
			maxTag = p.Tag
		}
		if err := binary.Write(raw, order, &p); err != nil {
			return err
		}
	}

	comp := []byte{}
	if raw.Len() > 0 {
		c, err := zstd.CompressLevel(nil, raw.Bytes(), compressionLevel)
		if err != nil {
			return err
		}
		comp = c
	}

	fp, err := os.Create(fname)
	if err != nil {
		return err
	}
	defer fp.Close()

	hd := header{
		Rank: int64(rank), Step: int64(step),
		N: int64(s.N()), NTags: int64(maxTag) + 1,
	}
	if err := binary.Write(fp, order, uint32(MagicNumber)); err != nil {
		return err
	}
	if err := binary.Write(fp, order, uint32(Version)); err != nil {
		return err
	}
	if err := binary.Write(fp, order, &hd); err != nil {
		return err
	}
	if err := binary.Write(fp, order, int64(len(comp))); err != nil {
		return err
	}
	_, err = fp.Write(comp)
	return err
}

// Read restores a checkpoint written by Write. It returns the rank and step
// recorded in the file along with a fresh Store holding the particles.
func Read(fname string) (rank, step int, s *particle.Store, err error) {
	fp, err := os.Open(fname)
	if err != nil {
		return 0, 0, nil, err
	}
	defer fp.Close()

	var magic, version uint32
	if err := binary.Read(fp, order, &magic); err != nil {
		return 0, 0, nil, err
	}
	if magic != MagicNumber {
		return 0, 0, nil, fmt.Errorf(
			"%s does not look like a checkpoint file: magic number is "+
				"0x%x, expected 0x%x.", fname, magic, uint32(MagicNumber),
		)
	}
	if err := binary.Read(fp, order, &version); err != nil {
		return 0, 0, nil, err
	}
	if version != Version {
		return 0, 0, nil, fmt.Errorf(
			"%s has version %d, but this code reads version %d.",
			fname, version, Version,
		)
	}

	hd := header{}
	if err := binary.Read(fp, order, &hd); err != nil {
		return 0, 0, nil, err
	}

	var nComp int64
	if err := binary.Read(fp, order, &nComp); err != nil {
		return 0, 0, nil, err
	}
	comp, err := ioutil.ReadAll(fp)
	if err != nil {
		return 0, 0, nil, err
	}
	if int64(len(comp)) != nComp {
		return 0, 0, nil, fmt.Errorf(
			"%s holds %d compressed bytes, but its header promises %d.",
			fname, len(comp), nComp,
		)
	}

	raw := []byte{}
	if len(comp) > 0 {
		raw, err = zstd.Decompress(nil, comp)
		if err != nil {
			return 0, 0, nil, err
		}
	}

	s = particle.NewStore(int(hd.NTags))
	rd := bytes.NewReader(raw)
	for i := int64(0); i < hd.N; i++ {
		p := particle.Particle{}
		if err := binary.Read(rd, order, &p); err != nil {
			return 0, 0, nil, fmt.Errorf(
				"%s ends after %d of %d particles: %v", fname, i, hd.N, err,
			)
		}
		if err := s.AddOwned(&p); err != nil {
			return 0, 0, nil, fmt.Errorf("%s is corrupted: %v", fname, err)
		}
	}

	return int(hd.Rank), int(hd.Step), s, nil
}
