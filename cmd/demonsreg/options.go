package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"demonsreg/pkg/config"
)

// Options contains the command-line configuration of demonsreg.
type Options struct {
	//
	// Inputs and outputs.
	//
	Fixed       string // Fixed image file or slice directory.
	Moving      string // Moving image file or slice directory.
	ConfigFile  string // YAML configuration file; missing means defaults.
	OutputDir   string // Directory receiving the warped image and field magnitude.
	WriteConfig string // Writes the default configuration here and exits.
	//
	// Registration overrides, applied only when set on the command line.
	//
	Iterations             int
	Threads                int
	Threshold              float64
	UseMovingImageGradient bool
	TimeStep               float64
	MaxStepLength          float64
	Smooth                 bool
	StandardDeviation      float64
	//
	// Diagnostics.
	//
	LogVerbosity int    // Number for the log level verbosity.
	Development  bool   // Human-readable console logging.
	MetricsFile  string // Prometheus text file written after the run.

	// internal
	fs  *pflag.FlagSet // FlagSet used in AddFlags() and consulted in Complete()
	cfg *config.Config // configuration after Complete()
}

// NewOptions returns a new Options struct initialized with default values.
func NewOptions() *Options {
	defaults := config.DefaultConfig()
	return &Options{
		ConfigFile:             "demonsreg.yaml",
		OutputDir:              "registration_output",
		Iterations:             defaults.Registration.Iterations,
		Threads:                defaults.Processing.NumThreads,
		Threshold:              defaults.Registration.IntensityDifferenceThreshold,
		UseMovingImageGradient: defaults.Registration.UseMovingImageGradient,
		TimeStep:               defaults.Registration.TimeStep,
		MaxStepLength:          defaults.Registration.MaximumUpdateStepLength,
		Smooth:                 defaults.Registration.SmoothDeformationField,
		StandardDeviation:      defaults.Registration.StandardDeviation,
		LogVerbosity:           defaults.Output.LogVerbosity,
	}
}

// AddFlags binds the Options fields to command-line flags on the given FlagSet.
func (opts *Options) AddFlags(fs *pflag.FlagSet) {
	if fs == nil {
		fs = pflag.CommandLine
	}
	opts.fs = fs

	fs.StringVar(&opts.Fixed, "fixed", opts.Fixed,
		"Fixed image: a JPG/PNG file, or a directory of slices stacked into a volume.")
	fs.StringVar(&opts.Moving, "moving", opts.Moving,
		"Moving image: a JPG/PNG file, or a directory of slices stacked into a volume.")
	fs.StringVarP(&opts.ConfigFile, "config", "c", opts.ConfigFile,
		"YAML configuration file. Defaults are used when it does not exist.")
	fs.StringVarP(&opts.OutputDir, "output", "o", opts.OutputDir,
		"Directory receiving the warped moving image and the displacement magnitude.")
	fs.StringVar(&opts.WriteConfig, "write-config", opts.WriteConfig,
		"Write the default configuration to this path and exit.")

	fs.IntVarP(&opts.Iterations, "iterations", "n", opts.Iterations,
		"Number of demons iterations.")
	fs.IntVarP(&opts.Threads, "threads", "t", opts.Threads,
		"Number of worker threads sharing each iteration.")
	fs.Float64Var(&opts.Threshold, "threshold", opts.Threshold,
		"Intensity difference below which a voxel counts as matched.")
	fs.BoolVar(&opts.UseMovingImageGradient, "moving-gradient", opts.UseMovingImageGradient,
		"Drive the force with the warped moving image gradient instead of the fixed image gradient.")
	fs.Float64Var(&opts.TimeStep, "time-step", opts.TimeStep,
		"Scale applied to every update before it is added to the field.")
	fs.Float64Var(&opts.MaxStepLength, "max-step", opts.MaxStepLength,
		"Largest displacement added in one iteration. 0 disables the bound.")
	fs.BoolVar(&opts.Smooth, "smooth", opts.Smooth,
		"Smooth the deformation field with a Gaussian after every iteration.")
	fs.Float64Var(&opts.StandardDeviation, "sigma", opts.StandardDeviation,
		"Standard deviation of the smoothing Gaussian, in voxels.")

	fs.IntVarP(&opts.LogVerbosity, "v", "v", opts.LogVerbosity,
		"Number for the log level verbosity.")
	fs.BoolVar(&opts.Development, "development", opts.Development,
		"Human-readable console logging instead of JSON.")
	fs.StringVar(&opts.MetricsFile, "metrics-file", opts.MetricsFile,
		"Write Prometheus metrics of the run to this file.")
}

// Complete loads the configuration file and applies every flag set on the
// command line on top of it.
func (opts *Options) Complete() error {
	cfg, err := config.LoadConfig(opts.ConfigFile)
	if err != nil {
		return err
	}

	changed := func(name string) bool {
		f := opts.fs.Lookup(name)
		return f != nil && f.Changed
	}
	if changed("iterations") {
		cfg.Registration.Iterations = opts.Iterations
	}
	if changed("threads") {
		cfg.Processing.NumThreads = opts.Threads
	}
	if changed("threshold") {
		cfg.Registration.IntensityDifferenceThreshold = opts.Threshold
	}
	if changed("moving-gradient") {
		cfg.Registration.UseMovingImageGradient = opts.UseMovingImageGradient
	}
	if changed("time-step") {
		cfg.Registration.TimeStep = opts.TimeStep
	}
	if changed("max-step") {
		cfg.Registration.MaximumUpdateStepLength = opts.MaxStepLength
	}
	if changed("smooth") {
		cfg.Registration.SmoothDeformationField = opts.Smooth
	}
	if changed("sigma") {
		cfg.Registration.StandardDeviation = opts.StandardDeviation
	}
	if changed("v") {
		cfg.Output.LogVerbosity = opts.LogVerbosity
	}
	if changed("metrics-file") {
		cfg.Output.MetricsFile = opts.MetricsFile
	}
	opts.cfg = cfg
	return nil
}

// Validate checks the Options for invalid or conflicting values.
func (opts *Options) Validate() error {
	if opts.WriteConfig != "" {
		return nil
	}
	if opts.Fixed == "" || opts.Moving == "" {
		return fmt.Errorf("flags %q and %q are required", "fixed", "moving")
	}
	if opts.cfg == nil {
		return fmt.Errorf("options are not completed")
	}
	return opts.cfg.Validate()
}

// Config returns the configuration assembled by Complete.
func (opts *Options) Config() *config.Config {
	return opts.cfg
}
