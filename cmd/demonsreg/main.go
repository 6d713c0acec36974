package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"demonsreg/internal/models"
	"demonsreg/pkg/config"
	"demonsreg/pkg/imageio"
	"demonsreg/pkg/interpolation"
	"demonsreg/pkg/logging"
	"demonsreg/pkg/metrics"
	"demonsreg/pkg/registration"
	"demonsreg/pkg/visualization"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		logger, _ := logging.NewLogger(logging.DEFAULT, true)
		logging.Fatal(logger, err, "Registration failed")
	}
}

func run(args []string, stdout io.Writer) error {
	opts := NewOptions()
	fs := pflag.NewFlagSet("demonsreg", pflag.ContinueOnError)
	opts.AddFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if opts.WriteConfig != "" {
		if err := config.CreateDefaultConfigFile(opts.WriteConfig); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Default configuration written to: %s\n", opts.WriteConfig)
		return nil
	}

	if err := opts.Complete(); err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	cfg := opts.Config()

	logger, err := logging.NewLogger(cfg.Output.LogVerbosity, opts.Development)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}

	fixed, err := loadInput(opts.Fixed, cfg)
	if err != nil {
		return fmt.Errorf("loading fixed image: %w", err)
	}
	moving, err := loadInput(opts.Moving, cfg)
	if err != nil {
		return fmt.Errorf("loading moving image: %w", err)
	}
	logger.V(logging.VERBOSE).Info("Loaded images", "fixed", fixed.Size, "moving", moving.Size)

	regOpts, err := cfg.RegistrationOptions()
	if err != nil {
		return err
	}
	registry := prometheus.NewRegistry()
	solver, err := registration.New(regOpts, nil,
		registration.WithLogger(logger.WithName("solver")),
		registration.WithMetrics(metrics.New(registry)),
		registration.WithIterationObserver(func(r registration.IterationReport) {
			logger.V(logging.VERBOSE).Info("Iteration", "iteration", r.Iteration,
				"metric", r.Metric, "rmsChange", r.RMSChange)
		}))
	if err != nil {
		return err
	}

	// an interrupt ends the run after the current iteration
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		solver.Stop()
	}()

	start := time.Now()
	if err := solver.Run(fixed, moving); err != nil {
		return err
	}
	elapsed := time.Since(start)

	field := solver.GetDeformationField()
	warped, err := interpolation.Warp(moving, field, 0)
	if err != nil {
		return err
	}
	before, err := meanSquareDifference(fixed, moving)
	if err != nil {
		return err
	}
	after, err := registration.MeanSquareDifference(fixed, warped)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Registration completed in %.2f seconds (%d iterations, %d threads)\n",
		elapsed.Seconds(), solver.GetElapsedIterations(), regOpts.NumberOfThreads)
	fmt.Fprintf(stdout, "Mean square difference: %.6g -> %.6g\n", before, after)
	fmt.Fprintf(stdout, "Last iteration metric: %.6g, RMS change: %.6g\n", solver.GetMetric(), solver.GetRMSChange())
	fmt.Fprintf(stdout, "Displacement: %s\n", registration.Summarize(field))

	if err := saveOutputs(logger, cfg, opts.OutputDir, fixed.Dimension(), warped, field.Magnitude()); err != nil {
		return err
	}

	if cfg.Output.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(cfg.Output.MetricsFile, registry); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
		logger.V(logging.VERBOSE).Info("Metrics written", "path", cfg.Output.MetricsFile)
	}
	return nil
}

func loadInput(path string, cfg *config.Config) (*models.Image, error) {
	im, err := imageio.Load(path)
	if err != nil {
		return nil, err
	}
	if err := imageio.ApplySpacing(im, cfg.Image.Spacing); err != nil {
		return nil, err
	}
	return im, nil
}

// meanSquareDifference compares the inputs before registration. Images on
// different grids are compared after resampling moving onto fixed.
func meanSquareDifference(fixed, moving *models.Image) (float64, error) {
	if fixed.SameGrid(moving.Geometry) {
		return registration.MeanSquareDifference(fixed, moving)
	}
	resampled, err := interpolation.Warp(moving, models.NewVectorField(fixed.Geometry), 0)
	if err != nil {
		return 0, err
	}
	return registration.MeanSquareDifference(fixed, resampled)
}

func saveOutputs(logger logr.Logger, cfg *config.Config, dir string, dim int, warped, magnitude *models.Image) error {
	name := func(base string) string {
		if dim == 2 {
			return filepath.Join(dir, base+".jpg")
		}
		return filepath.Join(dir, base)
	}

	outputs := []struct {
		enabled bool
		image   *models.Image
		path    string
	}{
		{cfg.Output.SaveWarpedImage, warped, name("warped")},
		{cfg.Output.SaveFieldMagnitude, magnitude, name("displacement_magnitude")},
	}
	for _, out := range outputs {
		if !out.enabled {
			continue
		}
		viewer, err := visualization.NewViewer(out.image)
		if err != nil {
			return err
		}
		if err := viewer.Save(out.path); err != nil {
			return fmt.Errorf("saving %s: %w", out.path, err)
		}
		logger.V(logging.DEFAULT).Info("Saved output", "path", out.path)
	}
	return nil
}
