package interpolation

import "demonsreg/internal/models"

// CentralDifference computes image gradients in physical units by central
// differences. A component whose stencil leaves the buffer is zero.
type CentralDifference struct {
	image *models.Image
}

// NewCentralDifference binds a gradient calculator to im.
func NewCentralDifference(im *models.Image) *CentralDifference {
	return &CentralDifference{image: im}
}

// EvaluateAtIndex writes the gradient at a grid index into grad.
func (c *CentralDifference) EvaluateAtIndex(index []int, grad []float64) {
	im := c.image
	offset := im.Offset(index)
	stride := 1
	for d, s := range im.Size {
		if index[d] <= 0 || index[d] >= s-1 {
			grad[d] = 0
		} else {
			grad[d] = (im.Data[offset+stride] - im.Data[offset-stride]) / (2 * im.Spacing[d])
		}
		stride *= s
	}
}

// EvaluateAtContinuousIndex writes the gradient of the interpolated image at
// cindex into grad, sampling one voxel either side along each axis.
func (c *CentralDifference) EvaluateAtContinuousIndex(interp *LinearInterpolator, cindex, grad []float64) {
	im := c.image
	var buf [maxStackAxes]float64
	probe := append(buf[:0], cindex...)
	for d := range im.Size {
		probe[d] = cindex[d] + 1
		if !interp.IsInsideBuffer(probe) {
			grad[d] = 0
			probe[d] = cindex[d]
			continue
		}
		forward := interp.EvaluateAtContinuousIndex(probe)

		probe[d] = cindex[d] - 1
		if !interp.IsInsideBuffer(probe) {
			grad[d] = 0
			probe[d] = cindex[d]
			continue
		}
		backward := interp.EvaluateAtContinuousIndex(probe)

		grad[d] = (forward - backward) / (2 * im.Spacing[d])
		probe[d] = cindex[d]
	}
}
