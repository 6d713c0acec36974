package registration

import (
	"fmt"
	"math"
	"runtime"

	"github.com/go-logr/logr"

	"demonsreg/internal/models"
	"demonsreg/pkg/demons"
	"demonsreg/pkg/metrics"
)

// Options holds the numeric configuration of a registration run.
type Options struct {
	// NumberOfIterations is the fixed iteration budget of a run.
	NumberOfIterations int

	// NumberOfThreads is the size of the worker pool. Each worker owns one
	// sub-region of the fixed image.
	NumberOfThreads int

	// IntensityDifferenceThreshold is the absolute intensity difference below
	// which a voxel counts as matched and receives no update.
	IntensityDifferenceThreshold float64

	// UseMovingImageGradient selects the moving image gradient, evaluated at
	// the deformed position, instead of the fixed image gradient.
	UseMovingImageGradient bool

	// TimeStep scales every update before it is added to the field.
	TimeStep float64

	// MaximumUpdateStepLength bounds the largest displacement added in one
	// iteration, in physical units. Zero disables the bound.
	MaximumUpdateStepLength float64

	// SmoothDeformationField enables Gaussian smoothing of the field after
	// every iteration.
	SmoothDeformationField bool

	// StandardDeviation is the smoothing kernel width in voxels.
	StandardDeviation float64
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		NumberOfIterations:           10,
		NumberOfThreads:              runtime.NumCPU(),
		IntensityDifferenceThreshold: demons.DefaultIntensityDifferenceThreshold,
		TimeStep:                     1.0,
		StandardDeviation:            1.0,
	}
}

// Validate reports the first invalid setting.
func (o Options) Validate() error {
	switch {
	case o.NumberOfIterations <= 0:
		return fmt.Errorf("%w: number of iterations must be positive, got %d",
			ErrInvalidConfiguration, o.NumberOfIterations)
	case o.NumberOfThreads <= 0:
		return fmt.Errorf("%w: number of threads must be positive, got %d",
			ErrInvalidConfiguration, o.NumberOfThreads)
	case !positive(o.IntensityDifferenceThreshold):
		return fmt.Errorf("%w: intensity difference threshold must be positive, got %v",
			ErrInvalidConfiguration, o.IntensityDifferenceThreshold)
	case !positive(o.TimeStep):
		return fmt.Errorf("%w: time step must be positive, got %v",
			ErrInvalidConfiguration, o.TimeStep)
	case !(o.MaximumUpdateStepLength >= 0) || math.IsInf(o.MaximumUpdateStepLength, 1):
		return fmt.Errorf("%w: maximum update step length must be zero or positive, got %v",
			ErrInvalidConfiguration, o.MaximumUpdateStepLength)
	case o.SmoothDeformationField && !positive(o.StandardDeviation):
		return fmt.Errorf("%w: smoothing standard deviation must be positive, got %v",
			ErrInvalidConfiguration, o.StandardDeviation)
	}
	return nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

// Option customizes a Solver.
type Option func(*Solver)

// WithLogger sets the logger of the solver.
func WithLogger(logger logr.Logger) Option {
	return func(s *Solver) {
		s.logger = logger
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Solver) {
		s.metrics = m
	}
}

// WithLauncher replaces the goroutine launcher of the worker pool.
func WithLauncher(newLauncher func(threads int) Launcher) Option {
	return func(s *Solver) {
		s.newLauncher = newLauncher
	}
}

// WithInitialField starts every run from a copy of field instead of zero.
func WithInitialField(field *models.VectorField) Option {
	return func(s *Solver) {
		s.initialField = field
	}
}

// WithIterationObserver registers a function called after every completed
// iteration, on the goroutine running the solver.
func WithIterationObserver(observer func(IterationReport)) Option {
	return func(s *Solver) {
		s.observer = observer
	}
}
