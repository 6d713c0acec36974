package registration

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"demonsreg/pkg/metrics"
)

// maximumKernelRadius caps the Gaussian kernel at 31 taps.
const maximumKernelRadius = 15

// gaussianKernel returns a normalized sampled Gaussian of the given standard
// deviation in voxels, truncated at three standard deviations.
func gaussianKernel(sigma float64) []float64 {
	radius := int(math.Ceil(3 * sigma))
	if radius > maximumKernelRadius {
		radius = maximumKernelRadius
	}
	if radius < 1 {
		radius = 1
	}
	kernel := make([]float64, 2*radius+1)
	for i := range kernel {
		x := float64(i - radius)
		kernel[i] = math.Exp(-x * x / (2 * sigma * sigma))
	}
	floats.Scale(1/floats.Sum(kernel), kernel)
	return kernel
}

// smoothField convolves every component of the field with the Gaussian
// kernel, one axis at a time. Each axis is two phases: workers write the
// smoothed values of their region into the update buffer, then copy them
// back into the field. Borders repeat the edge value.
func (r *run) smoothField() error {
	for axis := 0; axis < r.field.Dimension(); axis++ {
		if r.field.Size[axis] < 2 {
			continue
		}
		smooth := func(id int) error { return r.smoothAlong(id, axis) }
		if err := r.runPhase(metrics.PhaseSmooth, smooth, r.computeBarrier); err != nil {
			return err
		}
		if err := r.runPhase(metrics.PhaseSmooth, r.copyBack, r.applyBarrier); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) smoothAlong(id, axis int) error {
	st := &r.states[id]
	radius := len(r.smoothingKernel) / 2
	size := r.field.Size[axis]
	stride := 1
	for d := 0; d < axis; d++ {
		stride *= r.field.Size[d]
	}

	return st.region.Walk(func(index []int) error {
		offset := r.field.Offset(index)
		out := r.update.Vector(offset)
		for c := range out {
			out[c] = 0
		}
		for k, w := range r.smoothingKernel {
			pos := index[axis] + k - radius
			if pos < 0 {
				pos = 0
			} else if pos >= size {
				pos = size - 1
			}
			floats.AddScaled(out, w, r.field.Vector(offset+(pos-index[axis])*stride))
		}
		return nil
	})
}

func (r *run) copyBack(id int) error {
	st := &r.states[id]
	return st.region.Walk(func(index []int) error {
		offset := r.field.Offset(index)
		copy(r.field.Vector(offset), r.update.Vector(offset))
		return nil
	})
}
