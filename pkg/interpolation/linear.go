package interpolation

import (
	"math"

	"demonsreg/internal/models"
)

// maxStackAxes is the largest dimension whose per-call scratch stays on the
// stack.
const maxStackAxes = 8

// LinearInterpolator samples an image between grid points by N-linear
// interpolation of the 2^N surrounding voxels. It keeps no per-call state
// and may be shared by any number of goroutines.
type LinearInterpolator struct {
	image   *models.Image
	strides []int
}

// NewLinearInterpolator binds an interpolator to im.
func NewLinearInterpolator(im *models.Image) *LinearInterpolator {
	strides := make([]int, im.Dimension())
	stride := 1
	for d, s := range im.Size {
		strides[d] = stride
		stride *= s
	}
	return &LinearInterpolator{image: im, strides: strides}
}

// Image returns the image the interpolator samples.
func (l *LinearInterpolator) Image() *models.Image {
	return l.image
}

// IsInsideBuffer reports whether cindex lies within the hull of the grid,
// where every corner needed for interpolation exists.
func (l *LinearInterpolator) IsInsideBuffer(cindex []float64) bool {
	for d, s := range l.image.Size {
		c := cindex[d]
		if !(c >= 0) || c > float64(s-1) {
			return false
		}
	}
	return true
}

// EvaluateAtContinuousIndex interpolates the image at cindex, which must
// satisfy IsInsideBuffer.
func (l *LinearInterpolator) EvaluateAtContinuousIndex(cindex []float64) float64 {
	dim := len(l.strides)
	var buf [maxStackAxes]float64
	var frac []float64
	if dim <= maxStackAxes {
		frac = buf[:dim]
	} else {
		frac = make([]float64, dim)
	}
	offset := 0
	for d := 0; d < dim; d++ {
		f := math.Floor(cindex[d])
		i := int(f)
		if i >= l.image.Size[d]-1 {
			// exactly on the last grid line: no upper neighbour needed
			i = l.image.Size[d] - 1
			f = float64(i)
		}
		frac[d] = cindex[d] - f
		offset += i * l.strides[d]
	}

	var value float64
	for corner := 0; corner < 1<<dim; corner++ {
		weight := 1.0
		o := offset
		for d := 0; d < dim; d++ {
			if corner&(1<<d) != 0 {
				if frac[d] == 0 {
					weight = 0
					break
				}
				weight *= frac[d]
				o += l.strides[d]
			} else {
				weight *= 1 - frac[d]
			}
		}
		if weight != 0 {
			value += weight * l.image.Data[o]
		}
	}
	return value
}

// Evaluate interpolates the image at a physical point. The second result is
// false when the point maps outside the buffer.
func (l *LinearInterpolator) Evaluate(point []float64) (float64, bool) {
	cindex := make([]float64, l.image.Dimension())
	l.image.PointToContinuousIndex(point, cindex)
	if !l.IsInsideBuffer(cindex) {
		return 0, false
	}
	return l.EvaluateAtContinuousIndex(cindex), true
}
