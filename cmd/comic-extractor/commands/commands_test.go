package commands

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/comic-extractor/pkg/comiccore"
)

func TestParseInts(t *testing.T) {
	v, err := parseInts("10, 20,30,40", ",", 4)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 20, 30, 40}, v)

	v, err = parseInts("800x600", "x", 2)
	require.NoError(t, err)
	assert.Equal(t, []int{800, 600}, v)

	_, err = parseInts("1,2,3", ",", 4)
	assert.Error(t, err)
	_, err = parseInts("1,2,a,4", ",", 4)
	assert.Error(t, err)
}

func TestParseFloats(t *testing.T) {
	v, err := parseFloats("0.1,0.2,0.9,0.8", 4)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.9, 0.8}, v)

	_, err = parseFloats("0.1,x,0.9,0.8", 4)
	assert.Error(t, err)
}

func TestParseDirectionFlag(t *testing.T) {
	assert.Equal(t, comiccore.DirectionRTL, parseDirectionFlag("RTL"))
	assert.Equal(t, comiccore.DirectionLTR, parseDirectionFlag("ltr"))
	assert.Equal(t, comiccore.Direction(""), parseDirectionFlag(""))
	assert.Equal(t, comiccore.Direction(""), parseDirectionFlag("sideways"))
}

func TestCollectContainers(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "series", "vol1")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	for _, name := range []string{
		filepath.Join(dir, "a.cbz"),
		filepath.Join(dir, "notes.txt"),
		filepath.Join(nested, "b.CBR"),
		filepath.Join(nested, "c.pdf"),
	} {
		require.NoError(t, os.WriteFile(name, []byte("x"), 0o644))
	}
	explicit := filepath.Join(dir, "notes.txt")

	paths, err := collectContainers([]string{dir, explicit})
	require.NoError(t, err)
	sort.Strings(paths)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.cbz"),
		explicit,
		filepath.Join(nested, "b.CBR"),
		filepath.Join(nested, "c.pdf"),
	}, paths)

	_, err = collectContainers([]string{filepath.Join(dir, "missing")})
	assert.Error(t, err)
}
