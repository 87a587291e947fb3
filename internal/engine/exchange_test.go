package engine

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x*7 + y*13) % 256)})
		}
	}
	return img
}

func TestExchangeDirectoriesAreUnique(t *testing.T) {
	root := t.TempDir()
	a, err := NewExchange(root)
	require.NoError(t, err)
	b, err := NewExchange(root)
	require.NoError(t, err)

	assert.NotEqual(t, a.Dir(), b.Dir())
	assert.NotEqual(t, a.Path(RoleRawInput), b.Path(RoleRawInput))
	assert.Equal(t, filepath.Join(a.Dir(), "attitude.txt"), a.Path(RoleAttitude))

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	require.NoError(t, a.Close(), "close must be repeatable")
}

func TestExchangeImageRoundTrip(t *testing.T) {
	ex, err := NewExchange(t.TempDir())
	require.NoError(t, err)
	defer ex.Close()

	src := testImage(16, 8)
	require.NoError(t, ex.WriteInput(src))
	require.NoError(t, ex.WriteInput(src), "input must be overwritable")

	got, err := ex.ReadImage(RoleRawInput)
	require.NoError(t, err)
	assert.Equal(t, src.Bounds(), got.Bounds())
	r, _, _, _ := got.At(3, 2).RGBA()
	wantR, _, _, _ := src.At(3, 2).RGBA()
	assert.Equal(t, wantR, r)

	require.NoError(t, ex.Cleanup(RoleRawInput))
	require.NoError(t, ex.Cleanup(RoleRawInput), "cleanup of a missing file is tolerated")
	_, err = os.Stat(ex.Path(RoleRawInput))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestExchangeMissingOutput(t *testing.T) {
	ex, err := NewExchange(t.TempDir())
	require.NoError(t, err)
	defer ex.Close()

	_, err = ex.ReadText(RoleAttitude)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingOutput))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	var missing *MissingOutputError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, RoleAttitude, missing.Role)
	assert.Equal(t, ex.Path(RoleAttitude), missing.Path)

	_, err = ex.ReadImage(RoleAnnotatedOutput)
	assert.True(t, errors.Is(err, ErrMissingOutput))
}

func TestExchangeCloseRemovesEverything(t *testing.T) {
	root := t.TempDir()
	ex, err := NewExchange(root)
	require.NoError(t, err)
	require.NoError(t, ex.WriteInput(testImage(2, 2)))
	require.NoError(t, os.WriteFile(ex.Path(RoleAttitude), []byte("attitude_known 0\n"), 0o644))

	require.NoError(t, ex.Close())
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteInputRejectsNil(t *testing.T) {
	ex, err := NewExchange(t.TempDir())
	require.NoError(t, err)
	defer ex.Close()
	assert.Error(t, ex.WriteInput(nil))
}
