package domdec

import (
	"bytes"
	"testing"

	"github.com/phil-mansfield/domdec/geom"
	"github.com/phil-mansfield/domdec/particle"
)

func TestParticleRoundTrip(t *testing.T) {
	s := particle.NewStore(8)
	p := particle.Particle{
		Pos: geom.Vec{1, 2, 3}, Vel: geom.Vec{-1, 0, 1},
		Charge: -0.5, Diameter: 1.25,
		Image: [3]int32{1, 0, -2}, Body: 9, Type: 2,
		Orientation: [4]float64{1, 0, 0, 0}, Tag: 5,
	}
	if err := s.AddOwned(&p); err != nil {
		t.Fatal(err)
	}

	b := packParticles(s, 0, 1)
	if len(b) != particleSize {
		t.Fatalf("packed 1 particle into %d bytes, record size is %d",
			len(b), particleSize)
	}

	got, err := unpackParticle(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	if got != p {
		t.Errorf("round trip changed the particle: got %+v, want %+v", got, p)
	}
}

func TestGhostRoundTrip(t *testing.T) {
	rec := ghostRecord{
		Pos: geom.Vec{9.5, 0.25, 4}, Charge: 1.5, Diameter: 0.5,
		Tag: 40, Plan: 0x15,
	}

	buf := &bytes.Buffer{}
	packGhost(buf, &rec)
	if buf.Len() != ghostSize {
		t.Fatalf("packed ghost is %d bytes, record size is %d",
			buf.Len(), ghostSize)
	}

	got, err := unpackGhost(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != rec {
		t.Errorf("round trip changed the ghost: got %+v, want %+v", got, rec)
	}
}

func TestUnpackLengthErrors(t *testing.T) {
	if _, err := unpackCount(make([]byte, 7)); err == nil {
		t.Error("unpackCount accepted a 7 byte buffer")
	}
	if _, err := unpackInt32s(make([]byte, 6)); err == nil {
		t.Error("unpackInt32s accepted a buffer with a partial record")
	}
	if _, err := unpackFloat64s(make([]byte, 12)); err == nil {
		t.Error("unpackFloat64s accepted a buffer with a partial record")
	}

	if xs, err := unpackInt32s(nil); err != nil || len(xs) != 0 {
		t.Errorf("empty int32 buffer gave %v, %v", xs, err)
	}
}
