package domdec

import (
	"io/ioutil"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phil-mansfield/domdec/geom"
)

func writeConfig(t *testing.T, text string) string {
	t.Helper()
	dir := t.TempDir()
	fname := path.Join(dir, "decomp.txt")
	err := ioutil.WriteFile(fname, []byte(text), 0644)
	require.NoError(t, err)
	return fname
}

func TestReadDecompConfig(t *testing.T) {
	fname := writeConfig(t, `[Decomp]
GridX = 2
GridY = 2
GridZ = 1
BoxWidth = 10.0
GhostRadius = 1.0
MigrateEvery = 4
`)

	con, err := ReadDecompConfig(fname)
	require.NoError(t, err)

	assert.Equal(t, [3]int{2, 2, 1}, con.Dims())
	assert.Equal(t, 4, con.Size())
	assert.Equal(t, geom.Box{Hi: geom.Vec{10, 10, 10}}, con.GlobalBox())

	assert.True(t, con.ShouldMigrate(0))
	assert.False(t, con.ShouldMigrate(1))
	assert.False(t, con.ShouldMigrate(3))
	assert.True(t, con.ShouldMigrate(8))
}

func TestReadDecompConfigDefaults(t *testing.T) {
	fname := writeConfig(t, `[Decomp]
GridX = 1
GridY = 1
GridZ = 1
BoxWidth = 8.0
GhostRadius = 0.5
`)

	con, err := ReadDecompConfig(fname)
	require.NoError(t, err)
	assert.Equal(t, 1, con.MigrateEvery)
	assert.True(t, con.ShouldMigrate(17))
}

func TestReadDecompConfigErrors(t *testing.T) {
	bad := []struct {
		name, text string
	}{
		{"zero grid", `[Decomp]
GridX = 0
GridY = 1
GridZ = 1
BoxWidth = 10.0
GhostRadius = 1.0
`},
		{"negative box", `[Decomp]
GridX = 1
GridY = 1
GridZ = 1
BoxWidth = -10.0
GhostRadius = 1.0
`},
		{"missing ghost radius", `[Decomp]
GridX = 1
GridY = 1
GridZ = 1
BoxWidth = 10.0
`},
		{"ghost radius over half the local box", `[Decomp]
GridX = 4
GridY = 1
GridZ = 1
BoxWidth = 10.0
GhostRadius = 2.0
`},
		{"zero migrate interval", `[Decomp]
GridX = 1
GridY = 1
GridZ = 1
BoxWidth = 10.0
GhostRadius = 1.0
MigrateEvery = 0
`},
	}

	for _, test := range bad {
		fname := writeConfig(t, test.text)
		_, err := ReadDecompConfig(fname)
		if err == nil {
			t.Errorf("%s: config accepted", test.name)
		}
	}
}
