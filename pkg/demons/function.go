// Package demons implements the per-voxel update of the demons deformable
// registration algorithm with a mean square difference metric.
//
// A Function is prepared once per iteration with InitializeIteration and is
// then evaluated concurrently by several workers, each passing its own
// GlobalData. After InitializeIteration returns, the Function is read-only.
package demons

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"demonsreg/internal/models"
	"demonsreg/pkg/interpolation"
)

// Error kinds returned by the kernel.
var (
	ErrInvalidConfiguration = models.ErrInvalidConfiguration
	ErrNumericalInstability = models.ErrNumericalInstability
)

const (
	// DefaultIntensityDifferenceThreshold is the absolute intensity difference
	// below which a voxel is treated as already matched.
	DefaultIntensityDifferenceThreshold = 0.001

	// DefaultDenominatorThreshold guards the force against division blow-up
	// where the gradient vanishes and the difference is small.
	DefaultDenominatorThreshold = 1e-9
)

// GradientSource selects which image gradient drives the update.
type GradientSource int

const (
	// FixedImageGradient uses the gradient of the fixed image at the voxel.
	FixedImageGradient GradientSource = iota

	// MovingImageGradient uses the gradient of the moving image at the
	// position the voxel currently maps to.
	MovingImageGradient
)

func (s GradientSource) String() string {
	switch s {
	case FixedImageGradient:
		return "fixed"
	case MovingImageGradient:
		return "moving"
	default:
		return fmt.Sprintf("GradientSource(%d)", int(s))
	}
}

// Function computes demons update vectors.
type Function struct {
	intensityDifferenceThreshold float64
	denominatorThreshold         float64
	gradientSource               GradientSource

	// bound by InitializeIteration
	normalizer     float64
	fixed          *models.Image
	moving         *models.Image
	field          *models.VectorField
	movingInterp   *interpolation.LinearInterpolator
	fixedGradient  *interpolation.CentralDifference
	movingGradient *interpolation.CentralDifference
}

// NewFunction returns a kernel with the default threshold and the fixed
// image gradient.
func NewFunction() *Function {
	return &Function{
		intensityDifferenceThreshold: DefaultIntensityDifferenceThreshold,
		denominatorThreshold:         DefaultDenominatorThreshold,
		gradientSource:               FixedImageGradient,
		normalizer:                   1.0,
	}
}

// SetIntensityDifferenceThreshold sets the matched-voxel threshold. It must
// be positive and finite.
func (f *Function) SetIntensityDifferenceThreshold(threshold float64) error {
	if !(threshold > 0) || math.IsInf(threshold, 1) {
		return fmt.Errorf("%w: intensity difference threshold must be positive, got %v",
			ErrInvalidConfiguration, threshold)
	}
	f.intensityDifferenceThreshold = threshold
	return nil
}

// IntensityDifferenceThreshold returns the matched-voxel threshold.
func (f *Function) IntensityDifferenceThreshold() float64 {
	return f.intensityDifferenceThreshold
}

// SetGradientSource selects the gradient used for the force.
func (f *Function) SetGradientSource(source GradientSource) error {
	switch source {
	case FixedImageGradient, MovingImageGradient:
		f.gradientSource = source
		return nil
	default:
		return fmt.Errorf("%w: unknown gradient source %v", ErrInvalidConfiguration, source)
	}
}

// GradientSource returns the gradient used for the force.
func (f *Function) GradientSource() GradientSource {
	return f.gradientSource
}

// SetUseMovingImageGradient toggles between the moving and fixed image gradient.
func (f *Function) SetUseMovingImageGradient(use bool) {
	if use {
		f.gradientSource = MovingImageGradient
	} else {
		f.gradientSource = FixedImageGradient
	}
}

// UseMovingImageGradient reports whether the moving image gradient is used.
func (f *Function) UseMovingImageGradient() bool {
	return f.gradientSource == MovingImageGradient
}

// Normalizer returns the factor dividing the squared difference in the
// denominator: the mean squared spacing of the fixed image.
func (f *Function) Normalizer() float64 {
	return f.normalizer
}

// InitializeIteration binds the images and the current deformation field
// and refreshes the interpolators and gradient calculators built on them.
func (f *Function) InitializeIteration(fixed, moving *models.Image, field *models.VectorField) error {
	if fixed == nil || moving == nil || field == nil {
		return fmt.Errorf("%w: fixed image, moving image and deformation field are required",
			ErrInvalidConfiguration)
	}
	if err := fixed.Validate(); err != nil {
		return fmt.Errorf("fixed image: %w", err)
	}
	if err := moving.Validate(); err != nil {
		return fmt.Errorf("moving image: %w", err)
	}
	if err := field.Validate(); err != nil {
		return fmt.Errorf("deformation field: %w", err)
	}
	if fixed.Dimension() != moving.Dimension() {
		return fmt.Errorf("%w: fixed image has %d axes, moving image has %d",
			ErrInvalidConfiguration, fixed.Dimension(), moving.Dimension())
	}
	if !field.SameGrid(fixed.Geometry) {
		return fmt.Errorf("%w: deformation field grid differs from the fixed image grid",
			ErrInvalidConfiguration)
	}

	var sum float64
	for _, s := range fixed.Spacing {
		sum += s * s
	}
	f.normalizer = sum / float64(fixed.Dimension())

	f.fixed = fixed
	f.moving = moving
	f.field = field
	f.movingInterp = interpolation.NewLinearInterpolator(moving)
	f.fixedGradient = interpolation.NewCentralDifference(fixed)
	f.movingGradient = interpolation.NewCentralDifference(moving)
	return nil
}

// ComputeUpdate writes the update vector for the fixed-image voxel at index
// into update and records the voxel's contribution to the metric in gd.
//
// Voxels whose mapped position falls outside the moving image, and voxels
// whose absolute intensity difference is strictly below the threshold,
// receive a zero update and leave gd untouched.
func (f *Function) ComputeUpdate(index []int, gd *GlobalData, update []float64) error {
	if f.fixed == nil {
		return fmt.Errorf("%w: ComputeUpdate called before InitializeIteration", ErrInvalidConfiguration)
	}
	for i := range update {
		update[i] = 0
	}

	dim := f.fixed.Dimension()
	gd.ensureScratch(dim)
	offset := f.fixed.Offset(index)

	fixedValue := f.fixed.Data[offset]

	point, cindex := gd.point, gd.cindex
	f.fixed.IndexToPoint(index, point)
	displacement := f.field.Vector(offset)
	for d := 0; d < dim; d++ {
		point[d] += displacement[d]
	}
	f.moving.PointToContinuousIndex(point, cindex)
	if !f.movingInterp.IsInsideBuffer(cindex) {
		return nil
	}
	movingValue := f.movingInterp.EvaluateAtContinuousIndex(cindex)

	gradient := gd.gradient
	if f.gradientSource == MovingImageGradient {
		f.movingGradient.EvaluateAtContinuousIndex(f.movingInterp, cindex, gradient)
	} else {
		f.fixedGradient.EvaluateAtIndex(index, gradient)
	}

	diff := movingValue - fixedValue
	if !isFinite(diff) || !allFinite(gradient) {
		return fmt.Errorf("%w: non-finite difference %v or gradient %v at index %v",
			ErrNumericalInstability, diff, gradient, index)
	}

	if math.Abs(diff) < f.intensityDifferenceThreshold {
		return nil
	}

	gd.SumOfSquaredDifference += diff * diff
	gd.NumberOfPixelsProcessed++

	denominator := floats.Dot(gradient, gradient) + diff*diff/f.normalizer
	if denominator < f.denominatorThreshold {
		return nil
	}

	// The force pulls the moving intensity toward the fixed one.
	floats.ScaleTo(update[:dim], -diff/denominator, gradient)
	if !allFinite(update[:dim]) {
		return fmt.Errorf("%w: non-finite update %v at index %v",
			ErrNumericalInstability, update[:dim], index)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if !isFinite(x) {
			return false
		}
	}
	return true
}
