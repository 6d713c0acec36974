package visualization

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"demonsreg/internal/models"
)

// createVolume builds a 3D image filled by pattern
func createVolume(width, height, depth int, pattern func(x, y, z int) float64) *models.Image {
	im := models.NewImage(width, height, depth)
	im.Region().ForEach(func(index []int) {
		im.Set(index, pattern(index[0], index[1], index[2]))
	})
	return im
}

// TestNewViewer verifies dimensions and the default intensity window
func TestNewViewer(t *testing.T) {
	volume := createVolume(10, 8, 5, func(x, y, z int) float64 { return float64(x + y + z) })
	viewer, err := NewViewer(volume)
	require.NoError(t, err)

	assert.Equal(t, 10, viewer.width)
	assert.Equal(t, 8, viewer.height)
	assert.Equal(t, 5, viewer.depth)
	assert.Equal(t, 0.0, viewer.low)
	assert.Equal(t, 20.0, viewer.high)

	flat, err := NewViewer(models.NewImage(4, 3))
	require.NoError(t, err)
	assert.Equal(t, 1, flat.depth, "2D images have a single slice")

	_, err = NewViewer(models.NewImage(7))
	assert.ErrorIs(t, err, models.ErrInvalidConfiguration)
	assert.ErrorIs(t, viewer.SetWindow(1, 1), models.ErrInvalidConfiguration)
}

// TestExtractSlice verifies that slices are correctly extracted from the volume
func TestExtractSlice(t *testing.T) {
	width, height, depth := 10, 10, 5
	// each slice along Z has a unique value
	volume := createVolume(width, height, depth, func(x, y, z int) float64 { return float64(z) })
	viewer, err := NewViewer(volume)
	require.NoError(t, err)

	for z := 0; z < depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		require.NoError(t, err, "z slice %d", z)
		assert.Equal(t, image.Rect(0, 0, width, height), img.Bounds())

		gray, ok := img.(*image.Gray16)
		require.True(t, ok, "expected *image.Gray16, got %T", img)
		want := uint16(float64(z) / float64(depth-1) * 65535)
		assert.InDelta(t, want, gray.Gray16At(width/2, height/2).Y, 1, "z slice %d", z)
	}

	imgX, err := viewer.ExtractSlice("x", width/2)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, depth, height), imgX.Bounds())

	imgY, err := viewer.ExtractSlice("y", height/2)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, width, depth), imgY.Bounds())

	_, err = viewer.ExtractSlice("invalid", 0)
	assert.Error(t, err)
	_, err = viewer.ExtractSlice("z", depth+1)
	assert.Error(t, err)
	_, err = viewer.ExtractSlice("x", -1)
	assert.Error(t, err)
}

// TestConstantImageRendersBlack covers an empty intensity window
func TestConstantImageRendersBlack(t *testing.T) {
	im := models.NewImage(3, 3)
	im.Fill(0.7)
	viewer, err := NewViewer(im)
	require.NoError(t, err)

	img, err := viewer.ExtractSlice("z", 0)
	require.NoError(t, err)
	assert.Zero(t, img.(*image.Gray16).Gray16At(1, 1).Y)
}

// TestExtractRegion verifies that sub-regions are copied with their physical origin
func TestExtractRegion(t *testing.T) {
	volume := createVolume(10, 10, 5, func(x, y, z int) float64 {
		return float64(x) + 10*float64(y) + 100*float64(z)
	})
	volume.Spacing[2] = 2.5
	viewer, err := NewViewer(volume)
	require.NoError(t, err)

	region := models.Region{Index: []int{2, 3, 1}, Size: []int{4, 3, 2}}
	sub, err := viewer.ExtractRegion(region)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 3, 2}, sub.Size)
	assert.Equal(t, []float64{2, 3, 2.5}, sub.Origin)
	assert.Equal(t, []float64{1, 1, 2.5}, sub.Spacing)

	sub.Region().ForEach(func(index []int) {
		want := float64(index[0]+2) + 10*float64(index[1]+3) + 100*float64(index[2]+1)
		assert.Equal(t, want, sub.At(index), "index %v", index)
	})

	_, err = viewer.ExtractRegion(models.Region{Index: []int{-1, 0, 0}, Size: []int{1, 1, 1}})
	assert.ErrorIs(t, err, models.ErrInvalidConfiguration)
	_, err = viewer.ExtractRegion(models.Region{Index: []int{0, 0, 0}, Size: []int{0, 1, 1}})
	assert.ErrorIs(t, err, models.ErrInvalidConfiguration)
	_, err = viewer.ExtractRegion(models.Region{Index: []int{9, 0, 0}, Size: []int{2, 1, 1}})
	assert.ErrorIs(t, err, models.ErrInvalidConfiguration)
}

// TestSaveSliceSequence verifies that a sequence of slices can be saved
func TestSaveSliceSequence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	depth := 3
	volume := createVolume(5, 5, depth, func(x, y, z int) float64 { return float64(x * y) })
	viewer, err := NewViewer(volume)
	require.NoError(t, err)

	outputDir := filepath.Join(t.TempDir(), "slices")
	require.NoError(t, viewer.SaveSliceSequence("z", outputDir))
	for z := 0; z < depth; z++ {
		assert.FileExists(t, filepath.Join(outputDir, fmt.Sprintf("slice_z_%03d.jpg", z)))
	}

	assert.Error(t, viewer.SaveSliceSequence("invalid", outputDir))
}

// TestSave writes a 2D image as one file and a volume as a directory
func TestSave(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}
	dir := t.TempDir()

	flat := models.NewImage(6, 4)
	for i := range flat.Data {
		flat.Data[i] = float64(i)
	}
	viewer, err := NewViewer(flat)
	require.NoError(t, err)
	path := filepath.Join(dir, "out", "warped.jpg")
	require.NoError(t, viewer.Save(path))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	cfg, format, err := image.DecodeConfig(file)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 6, cfg.Width)
	assert.Equal(t, 4, cfg.Height)

	volume, err := NewViewer(createVolume(3, 3, 2, func(x, y, z int) float64 { return float64(z) }))
	require.NoError(t, err)
	require.NoError(t, volume.Save(filepath.Join(dir, "magnitude")))
	assert.FileExists(t, filepath.Join(dir, "magnitude", "slice_z_001.jpg"))
}
