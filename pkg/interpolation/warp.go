package interpolation

import (
	"fmt"

	"demonsreg/internal/models"
)

// Warp resamples moving through a deformation field onto the field's grid:
// the output voxel at x takes the moving intensity at x + field(x). Voxels
// that map outside the moving buffer are set to edgePadding.
func Warp(moving *models.Image, field *models.VectorField, edgePadding float64) (*models.Image, error) {
	if err := moving.Validate(); err != nil {
		return nil, fmt.Errorf("moving image: %w", err)
	}
	if err := field.Validate(); err != nil {
		return nil, fmt.Errorf("deformation field: %w", err)
	}
	if moving.Dimension() != field.Dimension() {
		return nil, fmt.Errorf("%w: moving image has %d axes, field has %d",
			models.ErrInvalidConfiguration, moving.Dimension(), field.Dimension())
	}

	interp := NewLinearInterpolator(moving)
	out := models.NewImageWithGeometry(field.Geometry)
	dim := field.Dimension()
	point := make([]float64, dim)

	offset := 0
	field.Region().ForEach(func(index []int) {
		field.IndexToPoint(index, point)
		displacement := field.Vector(offset)
		for d := 0; d < dim; d++ {
			point[d] += displacement[d]
		}
		if v, ok := interp.Evaluate(point); ok {
			out.Data[offset] = v
		} else {
			out.Data[offset] = edgePadding
		}
		offset++
	})
	return out, nil
}
