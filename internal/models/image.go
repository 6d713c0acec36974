package models

import (
	"fmt"
	"math"
)

// Geometry describes the grid shared by images and vector fields: the number
// of voxels along each axis and how grid indices map to physical points.
type Geometry struct {
	// Size is the number of voxels along each axis
	Size []int

	// Spacing is the physical distance between neighbouring voxels along each axis
	Spacing []float64

	// Origin is the physical position of the voxel at index zero
	Origin []float64
}

// NewGeometry returns a geometry with unit spacing and zero origin.
func NewGeometry(size ...int) Geometry {
	spacing := make([]float64, len(size))
	for i := range spacing {
		spacing[i] = 1.0
	}
	return Geometry{
		Size:    append([]int(nil), size...),
		Spacing: spacing,
		Origin:  make([]float64, len(size)),
	}
}

// Dimension returns the number of axes.
func (g Geometry) Dimension() int {
	return len(g.Size)
}

// Region returns the buffered region of the grid.
func (g Geometry) Region() Region {
	return NewRegion(g.Size...)
}

// NumberOfPixels returns the number of voxels in the grid.
func (g Geometry) NumberOfPixels() int {
	return g.Region().NumberOfPixels()
}

// Offset converts an index into a position of the row-major buffer,
// with axis 0 varying fastest.
func (g Geometry) Offset(index []int) int {
	offset, stride := 0, 1
	for d, s := range g.Size {
		offset += index[d] * stride
		stride *= s
	}
	return offset
}

// IndexToPoint writes the physical position of index into point.
func (g Geometry) IndexToPoint(index []int, point []float64) {
	for d := range g.Size {
		point[d] = g.Origin[d] + float64(index[d])*g.Spacing[d]
	}
}

// PointToContinuousIndex writes the continuous grid index of point into cindex.
func (g Geometry) PointToContinuousIndex(point, cindex []float64) {
	for d := range g.Size {
		cindex[d] = (point[d] - g.Origin[d]) / g.Spacing[d]
	}
}

// SameGrid reports whether both geometries describe the same sampling grid.
func (g Geometry) SameGrid(other Geometry) bool {
	if g.Dimension() != other.Dimension() {
		return false
	}
	for d := range g.Size {
		if g.Size[d] != other.Size[d] || g.Spacing[d] != other.Spacing[d] || g.Origin[d] != other.Origin[d] {
			return false
		}
	}
	return true
}

// Validate checks that the geometry is usable for sampling.
func (g Geometry) Validate() error {
	if g.Dimension() == 0 {
		return fmt.Errorf("%w: geometry has no axes", ErrInvalidConfiguration)
	}
	if len(g.Spacing) != g.Dimension() || len(g.Origin) != g.Dimension() {
		return fmt.Errorf("%w: geometry has %d axes but %d spacings and %d origin components",
			ErrInvalidConfiguration, g.Dimension(), len(g.Spacing), len(g.Origin))
	}
	for d := range g.Size {
		if g.Size[d] <= 0 {
			return fmt.Errorf("%w: size along axis %d is %d", ErrInvalidConfiguration, d, g.Size[d])
		}
		if !(g.Spacing[d] > 0) || math.IsInf(g.Spacing[d], 0) {
			return fmt.Errorf("%w: spacing along axis %d is %v", ErrInvalidConfiguration, d, g.Spacing[d])
		}
	}
	return nil
}

// Clone returns a deep copy of the geometry.
func (g Geometry) Clone() Geometry {
	return Geometry{
		Size:    append([]int(nil), g.Size...),
		Spacing: append([]float64(nil), g.Spacing...),
		Origin:  append([]float64(nil), g.Origin...),
	}
}

// Image is a dense scalar image of any dimension.
type Image struct {
	Geometry

	// Data holds one intensity per voxel in row-major order
	Data []float64
}

// NewImage allocates a zero image with unit spacing and zero origin.
func NewImage(size ...int) *Image {
	g := NewGeometry(size...)
	return &Image{
		Geometry: g,
		Data:     make([]float64, g.NumberOfPixels()),
	}
}

// NewImageWithGeometry allocates a zero image on the given grid.
func NewImageWithGeometry(g Geometry) *Image {
	return &Image{
		Geometry: g.Clone(),
		Data:     make([]float64, g.NumberOfPixels()),
	}
}

// At returns the intensity at index.
func (im *Image) At(index []int) float64 {
	return im.Data[im.Offset(index)]
}

// Set stores v at index.
func (im *Image) Set(index []int, v float64) {
	im.Data[im.Offset(index)] = v
}

// Fill sets every voxel to v.
func (im *Image) Fill(v float64) {
	for i := range im.Data {
		im.Data[i] = v
	}
}

// Validate checks the geometry and that the buffer matches it.
func (im *Image) Validate() error {
	if err := im.Geometry.Validate(); err != nil {
		return err
	}
	if len(im.Data) != im.NumberOfPixels() {
		return fmt.Errorf("%w: image buffer holds %d values for %d voxels",
			ErrInvalidConfiguration, len(im.Data), im.NumberOfPixels())
	}
	return nil
}

// VectorField is a dense field with Components values per voxel. A
// deformation field stores one physical displacement vector per voxel.
type VectorField struct {
	Geometry

	// Components is the number of values stored per voxel
	Components int

	// Data holds Components consecutive values per voxel in row-major order
	Data []float64
}

// NewVectorField allocates a zero field on grid g with one component per axis.
func NewVectorField(g Geometry) *VectorField {
	return &VectorField{
		Geometry:   g.Clone(),
		Components: g.Dimension(),
		Data:       make([]float64, g.NumberOfPixels()*g.Dimension()),
	}
}

// Vector returns the slice backing the vector stored at buffer offset.
// Writes through the returned slice modify the field.
func (f *VectorField) Vector(offset int) []float64 {
	i := offset * f.Components
	return f.Data[i : i+f.Components : i+f.Components]
}

// At returns the vector stored at index.
func (f *VectorField) At(index []int) []float64 {
	return f.Vector(f.Offset(index))
}

// Clone returns a deep copy of the field.
func (f *VectorField) Clone() *VectorField {
	return &VectorField{
		Geometry:   f.Geometry.Clone(),
		Components: f.Components,
		Data:       append([]float64(nil), f.Data...),
	}
}

// Magnitude returns the Euclidean norm of every vector as a scalar image.
func (f *VectorField) Magnitude() *Image {
	out := NewImageWithGeometry(f.Geometry)
	for i := range out.Data {
		var sum float64
		for _, c := range f.Vector(i) {
			sum += c * c
		}
		out.Data[i] = math.Sqrt(sum)
	}
	return out
}

// Validate checks the geometry and that the buffer matches it.
func (f *VectorField) Validate() error {
	if err := f.Geometry.Validate(); err != nil {
		return err
	}
	if f.Components < f.Dimension() {
		return fmt.Errorf("%w: field has %d components for %d axes",
			ErrInvalidConfiguration, f.Components, f.Dimension())
	}
	if len(f.Data) != f.NumberOfPixels()*f.Components {
		return fmt.Errorf("%w: field buffer holds %d values for %d voxels of %d components",
			ErrInvalidConfiguration, len(f.Data), f.NumberOfPixels(), f.Components)
	}
	return nil
}
