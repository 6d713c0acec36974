// Package partition divides an image region into disjoint sub-regions, one
// per worker, so that no two workers ever touch the same voxel in a phase.
package partition

import (
	"fmt"

	"demonsreg/internal/models"
)

// ErrInvalidConfiguration is returned for a non-positive piece count.
var ErrInvalidConfiguration = models.ErrInvalidConfiguration

// SplitAxis returns the axis a region is divided along: the axis with the
// largest extent, preferring the slowest-varying axis on ties so that every
// piece stays contiguous in a row-major buffer.
func SplitAxis(region models.Region) int {
	axis := -1
	extent := 0
	for d := region.Dimension() - 1; d >= 0; d-- {
		if region.Size[d] > extent {
			axis, extent = d, region.Size[d]
		}
	}
	return axis
}

// Split divides region into at most pieces disjoint sub-regions whose union
// is region. The pieces are cut along SplitAxis and differ in length along it
// by at most one voxel. When the region is shorter than pieces along that
// axis, fewer sub-regions are returned; an empty region yields none.
func Split(region models.Region, pieces int) ([]models.Region, error) {
	if pieces <= 0 {
		return nil, fmt.Errorf("%w: cannot split into %d pieces", ErrInvalidConfiguration, pieces)
	}
	if region.NumberOfPixels() == 0 {
		return nil, nil
	}

	axis := SplitAxis(region)
	extent := region.Size[axis]
	if pieces > extent {
		pieces = extent
	}

	out := make([]models.Region, 0, pieces)
	for i := 0; i < pieces; i++ {
		begin := extent * i / pieces
		end := extent * (i + 1) / pieces

		sub := region.Clone()
		sub.Index[axis] = region.Index[axis] + begin
		sub.Size[axis] = end - begin
		out = append(out, sub)
	}
	return out, nil
}
