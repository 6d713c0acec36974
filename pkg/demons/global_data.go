package demons

// GlobalData is the running metric of one worker. Each worker owns one
// instance for the duration of a compute phase; the solver sums them once
// every worker has finished.
type GlobalData struct {
	// SumOfSquaredDifference accumulates squared intensity differences
	SumOfSquaredDifference float64

	// NumberOfPixelsProcessed counts voxels that contributed to the sum
	NumberOfPixelsProcessed int

	// per-worker scratch reused across voxels
	gradient []float64
	point    []float64
	cindex   []float64
}

// Reset clears the accumulated metric for the next iteration.
func (gd *GlobalData) Reset() {
	gd.SumOfSquaredDifference = 0
	gd.NumberOfPixelsProcessed = 0
}

// Add folds other into gd.
func (gd *GlobalData) Add(other *GlobalData) {
	gd.SumOfSquaredDifference += other.SumOfSquaredDifference
	gd.NumberOfPixelsProcessed += other.NumberOfPixelsProcessed
}

// MeanSquareDifference returns the mean of the accumulated squared
// differences, or zero when no voxel contributed.
func (gd *GlobalData) MeanSquareDifference() float64 {
	if gd.NumberOfPixelsProcessed == 0 {
		return 0
	}
	return gd.SumOfSquaredDifference / float64(gd.NumberOfPixelsProcessed)
}

func (gd *GlobalData) ensureScratch(dim int) {
	if len(gd.gradient) != dim {
		gd.gradient = make([]float64, dim)
		gd.point = make([]float64, dim)
		gd.cindex = make([]float64, dim)
	}
}
