// Package registration drives demons deformable registration: it owns the
// deformation field, runs the fixed iteration loop, and executes every
// phase of an iteration on a pool of workers over disjoint sub-regions of
// the fixed image.
//
// Each iteration performs:
//  1. InitializeIteration: bind the kernel to the images and current field
//  2. Compute phase: every worker writes update vectors for its region
//  3. Reduction: sum per-worker metrics, choose the global time step
//  4. Apply phase: every worker adds the scaled update to its region
//  5. Optional smoothing of the field, one pass per axis
//  6. Halting check: iteration budget exhausted or Stop requested
//
// Every phase ends with all workers and the coordinator meeting at a
// barrier, so no phase starts before the previous one has finished on
// every region.
package registration

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"demonsreg/internal/models"
	"demonsreg/pkg/demons"
	"demonsreg/pkg/logging"
	"demonsreg/pkg/metrics"
)

// Error kinds returned by the solver.
var (
	ErrInvalidConfiguration = models.ErrInvalidConfiguration
	ErrNumericalInstability = models.ErrNumericalInstability
	ErrDispatchFailure      = models.ErrDispatchFailure
)

// UpdateFunction is the per-voxel kernel plugged into the solver.
//
// InitializeIteration is called once per iteration before any worker runs.
// ComputeUpdate is then called concurrently from every worker, each with
// its own GlobalData, and must write every component of update.
type UpdateFunction interface {
	InitializeIteration(fixed, moving *models.Image, field *models.VectorField) error
	ComputeUpdate(index []int, gd *demons.GlobalData, update []float64) error
}

// IterationReport describes one completed iteration.
type IterationReport struct {
	// Iteration is the 1-based number of the completed iteration
	Iteration int

	// Metric is the mean square difference computed during the iteration
	Metric float64

	// RMSChange is the root mean square displacement added by the iteration
	RMSChange float64

	// TimeStep is the global step the updates were scaled by
	TimeStep float64

	// Duration is the wall time of the iteration
	Duration time.Duration
}

// Solver registers a moving image onto a fixed image.
type Solver struct {
	kernel       UpdateFunction
	logger       logr.Logger
	metrics      *metrics.Metrics
	newLauncher  func(threads int) Launcher
	initialField *models.VectorField
	observer     func(IterationReport)

	stop atomic.Bool

	mu        sync.Mutex
	opts      Options
	running   bool
	field     *models.VectorField
	metric    float64
	rmsChange float64
	elapsed   int
}

// New returns a solver configured by opts. A nil kernel selects the demons
// kernel configured from opts.
func New(opts Options, kernel UpdateFunction, options ...Option) (*Solver, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if kernel == nil {
		f := demons.NewFunction()
		if err := f.SetIntensityDifferenceThreshold(opts.IntensityDifferenceThreshold); err != nil {
			return nil, err
		}
		f.SetUseMovingImageGradient(opts.UseMovingImageGradient)
		kernel = f
	}

	s := &Solver{
		kernel:      kernel,
		logger:      logr.Discard(),
		newLauncher: newErrgroupLauncher,
		opts:        opts,
		metric:      math.MaxFloat64,
	}
	for _, o := range options {
		o(s)
	}
	return s, nil
}

// GetMetric returns the mean square difference computed during the last
// iteration whose apply phase has started. It is math.MaxFloat64 before the
// first iteration and lags an in-progress compute phase by one iteration.
func (s *Solver) GetMetric() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metric
}

// GetRMSChange returns the RMS field change of the last completed iteration.
func (s *Solver) GetRMSChange() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rmsChange
}

// GetElapsedIterations returns the number of completed iterations.
func (s *Solver) GetElapsedIterations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

// GetDeformationField returns the field owned by the solver. It must not be
// modified while a run is in progress; iteration observers may read it.
func (s *Solver) GetDeformationField() *models.VectorField {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.field
}

// Stop asks the running registration to halt after the current iteration.
func (s *Solver) Stop() {
	s.stop.Store(true)
}

// Options returns a copy of the current configuration.
func (s *Solver) Options() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

// SetNumberOfIterations sets the iteration budget.
func (s *Solver) SetNumberOfIterations(n int) error {
	return s.update(func(o *Options) { o.NumberOfIterations = n })
}

// GetNumberOfIterations returns the iteration budget.
func (s *Solver) GetNumberOfIterations() int {
	return s.Options().NumberOfIterations
}

// SetNumberOfThreads sets the worker pool size.
func (s *Solver) SetNumberOfThreads(n int) error {
	return s.update(func(o *Options) { o.NumberOfThreads = n })
}

// GetNumberOfThreads returns the worker pool size.
func (s *Solver) GetNumberOfThreads() int {
	return s.Options().NumberOfThreads
}

// SetIntensityDifferenceThreshold sets the matched-voxel threshold and
// forwards it to the kernel when the kernel supports it.
func (s *Solver) SetIntensityDifferenceThreshold(threshold float64) error {
	return s.update(func(o *Options) { o.IntensityDifferenceThreshold = threshold })
}

// GetIntensityDifferenceThreshold returns the matched-voxel threshold.
func (s *Solver) GetIntensityDifferenceThreshold() float64 {
	return s.Options().IntensityDifferenceThreshold
}

// SetUseMovingImageGradient selects the gradient source of the kernel.
func (s *Solver) SetUseMovingImageGradient(use bool) error {
	return s.update(func(o *Options) { o.UseMovingImageGradient = use })
}

// GetUseMovingImageGradient reports whether the moving image gradient is used.
func (s *Solver) GetUseMovingImageGradient() bool {
	return s.Options().UseMovingImageGradient
}

func (s *Solver) update(change func(*Options)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("%w: configuration cannot change while registration is running",
			ErrInvalidConfiguration)
	}
	next := s.opts
	change(&next)
	if err := next.Validate(); err != nil {
		return err
	}

	if k, ok := s.kernel.(interface {
		SetIntensityDifferenceThreshold(float64) error
	}); ok {
		if err := k.SetIntensityDifferenceThreshold(next.IntensityDifferenceThreshold); err != nil {
			return err
		}
	}
	if k, ok := s.kernel.(interface{ SetUseMovingImageGradient(bool) }); ok {
		k.SetUseMovingImageGradient(next.UseMovingImageGradient)
	}
	s.opts = next
	return nil
}

// Run registers moving onto fixed for the configured number of iterations.
// The images are only read, and only for the duration of the call. Any
// failure aborts the run; the field is left as the last completed phase
// wrote it and has no defined meaning.
func (s *Solver) Run(fixed, moving *models.Image) (err error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("%w: registration already running", ErrInvalidConfiguration)
	}
	opts := s.opts
	s.running = true
	s.elapsed = 0
	s.metric = math.MaxFloat64
	s.rmsChange = 0
	s.mu.Unlock()
	s.stop.Store(false)

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		if err != nil {
			s.logger.Error(err, "Registration failed")
			if s.metrics != nil {
				s.metrics.IncrementRunFailure(errorKind(err))
			}
		}
	}()

	r, err := s.newRun(opts, fixed, moving)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.field = r.field
	s.mu.Unlock()

	pool, err := startPool(opts.NumberOfThreads, s.newLauncher)
	if err != nil {
		return err
	}
	r.pool = pool

	s.logger.V(logging.DEFAULT).Info("Starting registration",
		"iterations", opts.NumberOfIterations,
		"threads", opts.NumberOfThreads,
		"regions", r.activeRegions(),
		"size", fixed.Size,
		"gradient", gradientName(opts.UseMovingImageGradient))

	err = r.iterate()
	if stopErr := pool.stop(); err == nil {
		err = stopErr
	}
	if err != nil {
		return err
	}

	s.logger.V(logging.DEFAULT).Info("Registration finished",
		"elapsedIterations", s.GetElapsedIterations(),
		"metric", s.GetMetric(),
		"rmsChange", s.GetRMSChange())
	return nil
}

// publishMetric makes the metric of the iteration whose apply phase is
// about to start visible to GetMetric.
func (s *Solver) publishMetric(metric float64) {
	s.mu.Lock()
	s.metric = metric
	s.mu.Unlock()
}

func (s *Solver) finishIteration(rmsChange float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rmsChange = rmsChange
	s.elapsed++
	return s.elapsed
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidConfiguration):
		return "invalid_configuration"
	case errors.Is(err, ErrNumericalInstability):
		return "numerical_instability"
	case errors.Is(err, ErrDispatchFailure):
		return "dispatch_failure"
	default:
		return "unknown"
	}
}

func gradientName(useMoving bool) string {
	if useMoving {
		return demons.MovingImageGradient.String()
	}
	return demons.FixedImageGradient.String()
}
