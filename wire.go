package domdec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/phil-mansfield/domdec/geom"
	"github.com/phil-mansfield/domdec/particle"
)

// All cross-rank payloads use fixed-size little-endian records so that every
// rank agrees on the layout. A received payload whose length disagrees with
// the exchanged count is a protocol violation.
var byteOrder = binary.ByteOrder(binary.LittleEndian)

// ghostRecord is the narrow record replicated for ghost particles. Ghosts
// carry the send plan with them so a receiving rank can forward them onward
// in a later direction of the same pass.
type ghostRecord struct {
	Pos              geom.Vec
	Charge, Diameter float64
	Tag              uint32
	Plan             uint8
}

var (
	particleSize = binary.Size(particle.Particle{})
	ghostSize    = binary.Size(ghostRecord{})
	vecSize      = binary.Size(geom.Vec{})
)

// packCount encodes a message count.
func packCount(n int) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(n))
	return buf
}

// unpackCount decodes a message count.
func unpackCount(b []byte) (int, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf(
			"Count message is %d bytes long, expected 8.", len(b),
		)
	}
	return int(int64(binary.LittleEndian.Uint64(b))), nil
}

// packParticles packs n full particle records starting at slot start.
func packParticles(s *particle.Store, start, n int) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, n*particleSize))
	for i := start; i < start+n; i++ {
		p := s.Get(i)
		binary.Write(buf, byteOrder, &p)
	}
	return buf.Bytes()
}

func unpackParticle(rd io.Reader) (particle.Particle, error) {
	p := particle.Particle{}
	err := binary.Read(rd, byteOrder, &p)
	return p, err
}

func packGhost(buf *bytes.Buffer, rec *ghostRecord) {
	binary.Write(buf, byteOrder, rec)
}

func unpackGhost(rd io.Reader) (ghostRecord, error) {
	rec := ghostRecord{}
	err := binary.Read(rd, byteOrder, &rec)
	return rec, err
}

func packVec(buf *bytes.Buffer, v *geom.Vec) {
	binary.Write(buf, byteOrder, v)
}

func unpackVec(rd io.Reader) (geom.Vec, error) {
	v := geom.Vec{}
	err := binary.Read(rd, byteOrder, &v)
	return v, err
}

// packInt32s packs a slice of cell indices.
func packInt32s(xs []int32) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 4*len(xs)))
	binary.Write(buf, byteOrder, xs)
	return buf.Bytes()
}

func unpackInt32s(b []byte) ([]int32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf(
			"Cell index message is %d bytes long, not a multiple of 4.",
			len(b),
		)
	}
	xs := make([]int32, len(b)/4)
	err := binary.Read(bytes.NewReader(b), byteOrder, xs)
	return xs, err
}

// packFloat64s packs a per-cell payload slice.
func packFloat64s(xs []float64) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 8*len(xs)))
	binary.Write(buf, byteOrder, xs)
	return buf.Bytes()
}

func unpackFloat64s(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf(
			"Cell payload message is %d bytes long, not a multiple of 8.",
			len(b),
		)
	}
	xs := make([]float64, len(b)/8)
	err := binary.Read(bytes.NewReader(b), byteOrder, xs)
	return xs, err
}
