// Package visualization exports registration images, such as the warped
// moving image or the displacement magnitude, as grayscale JPEG slices.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"

	"demonsreg/internal/models"
)

// Viewer renders slices of a 2D or 3D image. Intensities are windowed
// linearly from the image minimum (black) to its maximum (white).
type Viewer struct {
	image *models.Image

	// dimensions of the volume; a 2D image has depth 1
	width  int
	height int
	depth  int

	// window bounds
	low  float64
	high float64
}

// NewViewer creates a viewer for a 2D or 3D image
func NewViewer(im *models.Image) (*Viewer, error) {
	if err := im.Validate(); err != nil {
		return nil, err
	}
	if im.Dimension() < 2 || im.Dimension() > 3 {
		return nil, fmt.Errorf("%w: cannot view a %d-dimensional image",
			models.ErrInvalidConfiguration, im.Dimension())
	}

	v := &Viewer{
		image:  im,
		width:  im.Size[0],
		height: im.Size[1],
		depth:  1,
		low:    floats.Min(im.Data),
		high:   floats.Max(im.Data),
	}
	if im.Dimension() == 3 {
		v.depth = im.Size[2]
	}
	return v, nil
}

// SetWindow overrides the intensity window.
func (v *Viewer) SetWindow(low, high float64) error {
	if !(high > low) {
		return fmt.Errorf("%w: window [%v, %v] is empty", models.ErrInvalidConfiguration, low, high)
	}
	v.low, v.high = low, high
	return nil
}

func (v *Viewer) gray(x, y, z int) color.Gray16 {
	value := v.image.Data[z*v.width*v.height+y*v.width+x]
	if v.high == v.low {
		return color.Gray16{}
	}
	scaled := (value - v.low) / (v.high - v.low)
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, scaled*65535)))}
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.Gray16

	switch axis {
	case "x", "X":
		// YZ plane
		if position >= v.width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.width)
		}
		img = image.NewGray16(image.Rect(0, 0, v.depth, v.height))
		for y := 0; y < v.height; y++ {
			for z := 0; z < v.depth; z++ {
				img.SetGray16(z, y, v.gray(position, y, z))
			}
		}

	case "y", "Y":
		// XZ plane
		if position >= v.height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.height)
		}
		img = image.NewGray16(image.Rect(0, 0, v.width, v.depth))
		for z := 0; z < v.depth; z++ {
			for x := 0; x < v.width; x++ {
				img.SetGray16(x, z, v.gray(x, position, z))
			}
		}

	case "z", "Z":
		// XY plane
		if position >= v.depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.depth)
		}
		img = image.NewGray16(image.Rect(0, 0, v.width, v.height))
		for y := 0; y < v.height; y++ {
			for x := 0; x < v.width; x++ {
				img.SetGray16(x, y, v.gray(x, y, position))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// ExtractRegion copies a sub-region of the image into a new image whose
// origin is the physical position of the region's first voxel.
func (v *Viewer) ExtractRegion(region models.Region) (*models.Image, error) {
	if region.NumberOfPixels() == 0 {
		return nil, fmt.Errorf("%w: region %v is empty", models.ErrInvalidConfiguration, region)
	}
	if !v.image.Region().Contains(region) {
		return nil, fmt.Errorf("%w: region %v extends beyond the image", models.ErrInvalidConfiguration, region)
	}

	g := v.image.Geometry.Clone()
	copy(g.Size, region.Size)
	v.image.IndexToPoint(region.Index, g.Origin)
	out := models.NewImageWithGeometry(g)

	local := make([]int, region.Dimension())
	region.ForEach(func(index []int) {
		for d := range index {
			local[d] = index[d] - region.Index[d]
		}
		out.Set(local, v.image.At(index))
	})
	return out, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves a sequence of slices along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.width
	case "y", "Y":
		maxPos = v.height
	case "z", "Z":
		maxPos = v.depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

// Save writes a 2D image to path as a single JPEG file, or a 3D image as a
// sequence of axial slices in the directory path.
func (v *Viewer) Save(path string) error {
	if v.depth == 1 {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		img, err := v.ExtractSlice("z", 0)
		if err != nil {
			return err
		}
		return v.SaveSlice(img, path)
	}
	return v.SaveSliceSequence("z", path)
}
