package models

import "fmt"

// Region is an axis-aligned block of grid indices. Index is the first index
// covered by the region and Size the number of voxels along each axis.
type Region struct {
	Index []int
	Size  []int
}

// NewRegion builds a region starting at the origin of the index space.
func NewRegion(size ...int) Region {
	return Region{
		Index: make([]int, len(size)),
		Size:  append([]int(nil), size...),
	}
}

// Dimension returns the number of axes of the region.
func (r Region) Dimension() int {
	return len(r.Size)
}

// NumberOfPixels returns the number of voxels covered by the region.
// A region with any empty axis covers no voxels.
func (r Region) NumberOfPixels() int {
	if len(r.Size) == 0 {
		return 0
	}
	n := 1
	for _, s := range r.Size {
		if s <= 0 {
			return 0
		}
		n *= s
	}
	return n
}

// IsInside reports whether index lies within the region.
func (r Region) IsInside(index []int) bool {
	if len(index) != len(r.Size) {
		return false
	}
	for d, i := range index {
		if i < r.Index[d] || i >= r.Index[d]+r.Size[d] {
			return false
		}
	}
	return true
}

// Contains reports whether other lies entirely within r.
func (r Region) Contains(other Region) bool {
	if other.Dimension() != r.Dimension() {
		return false
	}
	for d := range r.Size {
		if other.Index[d] < r.Index[d] || other.Index[d]+other.Size[d] > r.Index[d]+r.Size[d] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the region.
func (r Region) Clone() Region {
	return Region{
		Index: append([]int(nil), r.Index...),
		Size:  append([]int(nil), r.Size...),
	}
}

// ForEach calls fn for every index of the region, axis 0 varying fastest.
// The index slice is reused between calls and must be copied if retained.
func (r Region) ForEach(fn func(index []int)) {
	_ = r.Walk(func(index []int) error {
		fn(index)
		return nil
	})
}

// Walk is ForEach with early exit: it stops at and returns the first error
// reported by fn.
func (r Region) Walk(fn func(index []int) error) error {
	var err error
	if r.NumberOfPixels() == 0 {
		return nil
	}
	dim := r.Dimension()
	index := append([]int(nil), r.Index...)
	for err == nil {
		err = fn(index)

		d := 0
		for ; d < dim; d++ {
			index[d]++
			if index[d] < r.Index[d]+r.Size[d] {
				break
			}
			index[d] = r.Index[d]
		}
		if d == dim {
			break
		}
	}
	return err
}

func (r Region) String() string {
	return fmt.Sprintf("Region{Index: %v, Size: %v}", r.Index, r.Size)
}
