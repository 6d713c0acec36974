// Package metrics exposes Prometheus instrumentation for registration runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Phase labels used by PhaseDuration.
const (
	PhaseCompute = "compute"
	PhaseApply   = "apply"
	PhaseSmooth  = "smooth"
)

// Metrics tracks the progress of registration runs: completed iterations,
// the latest metric values, and how long each phase takes.
type Metrics struct {
	IterationsCompleted prometheus.Counter
	RunFailures         *prometheus.CounterVec
	MeanSquareDiff      prometheus.Gauge
	RMSChange           prometheus.Gauge
	TimeStep            prometheus.Gauge
	IterationDuration   prometheus.Histogram
	PhaseDuration       *prometheus.HistogramVec
}

// New creates the registration metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them globally.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IterationsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "demonsreg_iterations_completed_total",
			Help: "Total number of completed registration iterations",
		}),
		RunFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "demonsreg_run_failures_total",
			Help: "Total number of registration runs aborted, by error kind",
		}, []string{"kind"}),
		MeanSquareDiff: factory.NewGauge(prometheus.GaugeOpts{
			Name: "demonsreg_mean_square_difference",
			Help: "Mean square intensity difference of the last completed iteration",
		}),
		RMSChange: factory.NewGauge(prometheus.GaugeOpts{
			Name: "demonsreg_rms_change",
			Help: "Root mean square change of the deformation field in the last iteration",
		}),
		TimeStep: factory.NewGauge(prometheus.GaugeOpts{
			Name: "demonsreg_time_step",
			Help: "Global time step applied in the last iteration",
		}),
		IterationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "demonsreg_iteration_duration_seconds",
			Help:    "Duration of a complete registration iteration",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
		PhaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "demonsreg_phase_duration_seconds",
			Help:    "Duration of a synchronized worker phase, from dispatch to barrier release",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"phase"}),
	}
}

// ObserveIteration records a completed iteration.
// Call with time.Now() taken when the iteration started.
func (m *Metrics) ObserveIteration(start time.Time, metric, rmsChange, timeStep float64) {
	m.IterationsCompleted.Inc()
	m.MeanSquareDiff.Set(metric)
	m.RMSChange.Set(rmsChange)
	m.TimeStep.Set(timeStep)
	m.IterationDuration.Observe(time.Since(start).Seconds())
}

// ObservePhase records the duration of one phase.
func (m *Metrics) ObservePhase(phase string, start time.Time) {
	m.PhaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}

// IncrementRunFailure records an aborted run.
func (m *Metrics) IncrementRunFailure(kind string) {
	m.RunFailures.WithLabelValues(kind).Inc()
}
