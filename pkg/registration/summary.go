package registration

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"demonsreg/internal/models"
)

// FieldSummary describes the displacement magnitudes of a deformation field.
type FieldSummary struct {
	Voxels  int     `json:"voxels" yaml:"voxels"`
	Mean    float64 `json:"mean" yaml:"mean"`
	StdDev  float64 `json:"stdDev" yaml:"stdDev"`
	Median  float64 `json:"median" yaml:"median"`
	P95     float64 `json:"p95" yaml:"p95"`
	Maximum float64 `json:"maximum" yaml:"maximum"`
}

func (s FieldSummary) String() string {
	return fmt.Sprintf("voxels=%d mean=%.4g std=%.4g median=%.4g p95=%.4g max=%.4g",
		s.Voxels, s.Mean, s.StdDev, s.Median, s.P95, s.Maximum)
}

// Summarize computes displacement magnitude statistics of field.
func Summarize(field *models.VectorField) FieldSummary {
	if field == nil {
		return FieldSummary{}
	}
	magnitudes := field.Magnitude().Data
	if len(magnitudes) == 0 {
		return FieldSummary{}
	}

	s := FieldSummary{Voxels: len(magnitudes)}
	if len(magnitudes) == 1 {
		s.Mean, s.Median, s.P95, s.Maximum = magnitudes[0], magnitudes[0], magnitudes[0], magnitudes[0]
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(magnitudes, nil)
	s.Maximum = floats.Max(magnitudes)

	sorted := append([]float64(nil), magnitudes...)
	sort.Float64s(sorted)
	s.Median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	s.P95 = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	return s
}

// MeanSquareDifference returns the mean squared intensity difference of two
// images on the same grid.
func MeanSquareDifference(a, b *models.Image) (float64, error) {
	if a == nil || b == nil {
		return 0, fmt.Errorf("%w: both images are required", ErrInvalidConfiguration)
	}
	if !a.SameGrid(b.Geometry) || len(a.Data) != len(b.Data) {
		return 0, fmt.Errorf("%w: images are not on the same grid", ErrInvalidConfiguration)
	}
	if len(a.Data) == 0 {
		return 0, nil
	}
	d := floats.Distance(a.Data, b.Data, 2)
	return d * d / float64(len(a.Data)), nil
}
