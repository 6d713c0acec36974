package registration

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"demonsreg/internal/models"
	"demonsreg/pkg/barrier"
	"demonsreg/pkg/demons"
	"demonsreg/pkg/logging"
	"demonsreg/pkg/metrics"
	"demonsreg/pkg/partition"
)

// threadState is the private record of one worker: its sub-region and the
// partial results it accumulates during a phase. Only the owning worker
// writes it; the coordinator reads it after the phase barrier.
type threadState struct {
	id     int
	region models.Region

	globalData         demons.GlobalData
	maxUpdateLength    float64
	sumOfSquaredChange float64
}

// run holds the state of one call to Solver.Run.
type run struct {
	solver *Solver
	opts   Options
	kernel UpdateFunction

	fixed  *models.Image
	moving *models.Image
	field  *models.VectorField
	// update is written by the compute phase and consumed by the apply
	// phase; smoothing reuses it as scratch afterwards.
	update *models.VectorField

	states []threadState
	pool   *workerPool

	computeBarrier *barrier.Barrier
	applyBarrier   *barrier.Barrier

	smoothingKernel []float64
}

func (s *Solver) newRun(opts Options, fixed, moving *models.Image) (*run, error) {
	if fixed == nil || moving == nil {
		return nil, fmt.Errorf("%w: fixed and moving images are required", ErrInvalidConfiguration)
	}
	if err := fixed.Validate(); err != nil {
		return nil, fmt.Errorf("fixed image: %w", err)
	}
	if err := moving.Validate(); err != nil {
		return nil, fmt.Errorf("moving image: %w", err)
	}
	if fixed.Dimension() != moving.Dimension() {
		return nil, fmt.Errorf("%w: fixed image has %d axes, moving image has %d",
			ErrInvalidConfiguration, fixed.Dimension(), moving.Dimension())
	}

	var field *models.VectorField
	if s.initialField != nil {
		if err := s.initialField.Validate(); err != nil {
			return nil, fmt.Errorf("initial deformation field: %w", err)
		}
		if !s.initialField.SameGrid(fixed.Geometry) {
			return nil, fmt.Errorf("%w: initial deformation field grid differs from the fixed image grid",
				ErrInvalidConfiguration)
		}
		field = s.initialField.Clone()
	} else {
		field = models.NewVectorField(fixed.Geometry)
	}
	update := &models.VectorField{
		Geometry:   field.Geometry.Clone(),
		Components: field.Components,
		Data:       make([]float64, len(field.Data)),
	}

	regions, err := partition.Split(fixed.Region(), opts.NumberOfThreads)
	if err != nil {
		return nil, err
	}
	states := make([]threadState, opts.NumberOfThreads)
	for i := range states {
		states[i].id = i
		if i < len(regions) {
			states[i].region = regions[i]
		}
	}

	// workers plus the coordinator
	parties := opts.NumberOfThreads + 1
	computeBarrier, err := barrier.New(parties)
	if err != nil {
		return nil, err
	}
	applyBarrier, err := barrier.New(parties)
	if err != nil {
		return nil, err
	}

	r := &run{
		solver:         s,
		opts:           opts,
		kernel:         s.kernel,
		fixed:          fixed,
		moving:         moving,
		field:          field,
		update:         update,
		states:         states,
		computeBarrier: computeBarrier,
		applyBarrier:   applyBarrier,
	}
	if opts.SmoothDeformationField {
		r.smoothingKernel = gaussianKernel(opts.StandardDeviation)
	}
	return r, nil
}

func (r *run) activeRegions() int {
	n := 0
	for i := range r.states {
		if r.states[i].region.NumberOfPixels() > 0 {
			n++
		}
	}
	return n
}

// iterate runs the iteration loop until the budget is spent or Stop is called.
func (r *run) iterate() error {
	s := r.solver
	for iteration := 0; iteration < r.opts.NumberOfIterations; iteration++ {
		start := time.Now()

		if err := r.initializeIteration(); err != nil {
			return err
		}

		if err := r.runPhase(metrics.PhaseCompute, r.computeUpdate, r.computeBarrier); err != nil {
			return err
		}

		var total demons.GlobalData
		var maxUpdateLength float64
		for i := range r.states {
			total.Add(&r.states[i].globalData)
			maxUpdateLength = math.Max(maxUpdateLength, r.states[i].maxUpdateLength)
		}
		metric := total.MeanSquareDifference()
		dt := r.timeStep(maxUpdateLength)

		s.publishMetric(metric)
		apply := func(id int) error { return r.applyUpdate(id, dt) }
		if err := r.runPhase(metrics.PhaseApply, apply, r.applyBarrier); err != nil {
			return err
		}

		if r.opts.SmoothDeformationField {
			if err := r.smoothField(); err != nil {
				return err
			}
		}

		changes := make([]float64, len(r.states))
		for i := range r.states {
			changes[i] = r.states[i].sumOfSquaredChange
		}
		rmsChange := math.Sqrt(floats.Sum(changes) / float64(r.field.NumberOfPixels()))

		elapsed := s.finishIteration(rmsChange)
		report := IterationReport{
			Iteration: elapsed,
			Metric:    metric,
			RMSChange: rmsChange,
			TimeStep:  dt,
			Duration:  time.Since(start),
		}
		if s.metrics != nil {
			s.metrics.ObserveIteration(start, metric, rmsChange, dt)
		}
		s.logger.V(logging.DEBUG).Info("Iteration completed",
			"iteration", report.Iteration,
			"metric", report.Metric,
			"overlap", total.NumberOfPixelsProcessed,
			"rmsChange", report.RMSChange,
			"timeStep", report.TimeStep,
			"duration", report.Duration)
		if s.observer != nil {
			s.observer(report)
		}

		if s.stop.Load() {
			s.logger.V(logging.DEFAULT).Info("Registration stopped on request", "iteration", elapsed)
			return nil
		}
	}
	return nil
}

// initializeIteration refreshes the kernel and clears every partial result.
func (r *run) initializeIteration() error {
	if err := r.kernel.InitializeIteration(r.fixed, r.moving, r.field); err != nil {
		return err
	}
	for i := range r.states {
		st := &r.states[i]
		st.globalData.Reset()
		st.maxUpdateLength = 0
		st.sumOfSquaredChange = 0
	}
	return nil
}

func (r *run) runPhase(name string, fn func(threadID int) error, b *barrier.Barrier) error {
	start := time.Now()
	err := r.pool.runParallel(fn, b)
	if r.solver.metrics != nil {
		r.solver.metrics.ObservePhase(name, start)
	}
	r.solver.logger.V(logging.TRACE).Info("Phase completed", "phase", name, "duration", time.Since(start))
	return err
}

// timeStep returns the configured step, reduced when the largest update
// would otherwise exceed MaximumUpdateStepLength.
func (r *run) timeStep(maxUpdateLength float64) float64 {
	dt := r.opts.TimeStep
	if limit := r.opts.MaximumUpdateStepLength; limit > 0 && maxUpdateLength*dt > limit {
		dt = limit / maxUpdateLength
	}
	return dt
}

// computeUpdate fills the update field over the worker's region.
func (r *run) computeUpdate(id int) error {
	st := &r.states[id]
	return st.region.Walk(func(index []int) error {
		update := r.update.Vector(r.update.Offset(index))
		for i := range update {
			update[i] = 0
		}
		if err := r.kernel.ComputeUpdate(index, &st.globalData, update); err != nil {
			return fmt.Errorf("worker %d: %w", id, err)
		}
		if n := floats.Norm(update, 2); n > st.maxUpdateLength {
			st.maxUpdateLength = n
		}
		return nil
	})
}

// applyUpdate adds dt times the update to the field over the worker's region.
func (r *run) applyUpdate(id int, dt float64) error {
	st := &r.states[id]
	return st.region.Walk(func(index []int) error {
		offset := r.field.Offset(index)
		displacement := r.field.Vector(offset)
		update := r.update.Vector(offset)

		floats.AddScaled(displacement, dt, update)
		change := dt * floats.Norm(update, 2)
		st.sumOfSquaredChange += change * change

		for _, c := range displacement {
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return fmt.Errorf("worker %d: %w: non-finite displacement %v at index %v",
					id, ErrNumericalInstability, displacement, index)
			}
		}
		return nil
	})
}
