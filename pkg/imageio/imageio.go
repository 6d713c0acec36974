// Package imageio loads registration inputs from disk: a single 2D image
// file, or a directory of 2D slices stacked into a 3D volume.
package imageio

import (
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"demonsreg/internal/models"
)

var supportedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// Load reads path as a 2D image, or as a 3D volume if path is a directory.
func Load(path string) (*models.Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return LoadVolume(path)
	}
	return LoadImage(path)
}

// LoadImage decodes a JPEG or PNG file into a 2D image with intensities in [0, 1].
func LoadImage(path string) (*models.Image, error) {
	img, err := decode(path)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	out := models.NewImage(bounds.Dx(), bounds.Dy())
	imageToFloat(img, out.Data)
	return out, nil
}

// LoadVolume stacks every JPEG or PNG file in dir along axis 2, ordered by
// the number embedded in the file name. All slices must share one size.
func LoadVolume(dir string) (*models.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if supportedExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no JPG or PNG images found in %s", dir)
	}

	// slice order follows the number in the file name
	sort.SliceStable(files, func(i, j int) bool {
		return extractNumber(files[i]) < extractNumber(files[j])
	})

	slices := make([]image.Image, len(files))
	var g errgroup.Group
	for i, name := range files {
		i, name := i, name
		g.Go(func() error {
			img, err := decode(filepath.Join(dir, name))
			if err != nil {
				return fmt.Errorf("failed to load slice %s: %w", name, err)
			}
			slices[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	width, height := slices[0].Bounds().Dx(), slices[0].Bounds().Dy()
	out := models.NewImage(width, height, len(slices))
	size := width * height
	for i, img := range slices {
		if b := img.Bounds(); b.Dx() != width || b.Dy() != height {
			return nil, fmt.Errorf("%w: slice %s is %dx%d, expected %dx%d",
				models.ErrInvalidConfiguration, files[i], b.Dx(), b.Dy(), width, height)
		}
		imageToFloat(img, out.Data[i*size:(i+1)*size])
	}
	return out, nil
}

// ApplySpacing overrides the voxel spacing of im. An empty spacing keeps
// the current one.
func ApplySpacing(im *models.Image, spacing []float64) error {
	if len(spacing) == 0 {
		return nil
	}
	if len(spacing) != im.Dimension() {
		return fmt.Errorf("%w: %d spacing values for a %d-dimensional image",
			models.ErrInvalidConfiguration, len(spacing), im.Dimension())
	}
	for d, s := range spacing {
		if !(s > 0) {
			return fmt.Errorf("%w: spacing along axis %d is %v", models.ErrInvalidConfiguration, d, s)
		}
	}
	copy(im.Spacing, spacing)
	return nil
}

func decode(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return img, nil
}

// extractNumber extracts the numeric part from a filename
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	var digits strings.Builder
	for _, c := range base {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if n, err := strconv.Atoi(digits.String()); err == nil {
		return n
	}
	return 0
}

// imageToFloat converts an image to gray intensities in [0, 1], row by row.
func imageToFloat(img image.Image, dst []float64) {
	bounds := img.Bounds()
	width := bounds.Dx()
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < width; x++ {
			r, _, _, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// 16-bit channel value
			dst[y*width+x] = float64(r) / 65535.0
		}
	}
}
