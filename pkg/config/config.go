// Package config provides configuration loading and management for demonsreg.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"demonsreg/internal/models"
	"demonsreg/pkg/demons"
	"demonsreg/pkg/logging"
	"demonsreg/pkg/registration"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Registration parameters
	Registration struct {
		// Iterations is the fixed number of demons iterations
		Iterations int `yaml:"iterations"`

		// IntensityDifferenceThreshold is the difference below which a voxel counts as matched
		IntensityDifferenceThreshold float64 `yaml:"intensityDifferenceThreshold"`

		// UseMovingImageGradient drives the force with the warped moving image gradient
		UseMovingImageGradient bool `yaml:"useMovingImageGradient"`

		// TimeStep scales every update before it is added to the field
		TimeStep float64 `yaml:"timeStep"`

		// MaximumUpdateStepLength bounds the per-iteration displacement; 0 disables it
		MaximumUpdateStepLength float64 `yaml:"maximumUpdateStepLength"`

		// SmoothDeformationField enables Gaussian regularization of the field
		SmoothDeformationField bool `yaml:"smoothDeformationField"`

		// StandardDeviation is the smoothing kernel width in voxels
		StandardDeviation float64 `yaml:"standardDeviation"`
	} `yaml:"registration"`

	// Processing parameters
	Processing struct {
		// NumThreads specifies how many workers share each iteration
		NumThreads int `yaml:"numThreads"`
	} `yaml:"processing"`

	// Image parameters
	Image struct {
		// Spacing overrides the voxel spacing of loaded images, one value per
		// axis; empty keeps unit spacing
		Spacing []float64 `yaml:"spacing,omitempty"`
	} `yaml:"image"`

	// Output parameters
	Output struct {
		// SaveWarpedImage writes the moving image resampled through the final field
		SaveWarpedImage bool `yaml:"saveWarpedImage"`

		// SaveFieldMagnitude writes the displacement magnitude as an image
		SaveFieldMagnitude bool `yaml:"saveFieldMagnitude"`

		// MetricsFile is where Prometheus metrics are written after the run; empty disables it
		MetricsFile string `yaml:"metricsFile"`

		// LogVerbosity controls the level of logging output
		LogVerbosity int `yaml:"logVerbosity"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default registration parameters
	cfg.Registration.Iterations = 50
	cfg.Registration.IntensityDifferenceThreshold = demons.DefaultIntensityDifferenceThreshold
	cfg.Registration.UseMovingImageGradient = false
	cfg.Registration.TimeStep = 1.0
	cfg.Registration.MaximumUpdateStepLength = 0
	cfg.Registration.SmoothDeformationField = true
	cfg.Registration.StandardDeviation = 1.0

	// Set default processing parameters
	cfg.Processing.NumThreads = runtime.NumCPU() // Use all available cores by default

	// Set default output parameters
	cfg.Output.SaveWarpedImage = true
	cfg.Output.SaveFieldMagnitude = true
	cfg.Output.LogVerbosity = logging.DEFAULT

	return cfg
}

// Validate checks that the configuration can drive a registration run
func (c *Config) Validate() error {
	if _, err := c.RegistrationOptions(); err != nil {
		return err
	}
	for i, s := range c.Image.Spacing {
		if !(s > 0) || math.IsInf(s, 1) {
			return fmt.Errorf("%w: image spacing %d is %v", models.ErrInvalidConfiguration, i, s)
		}
	}
	if c.Output.LogVerbosity < 0 {
		return fmt.Errorf("%w: log verbosity must not be negative, got %d",
			models.ErrInvalidConfiguration, c.Output.LogVerbosity)
	}
	return nil
}

// RegistrationOptions converts the registration and processing sections into solver options
func (c *Config) RegistrationOptions() (registration.Options, error) {
	opts := registration.Options{
		NumberOfIterations:           c.Registration.Iterations,
		NumberOfThreads:              c.Processing.NumThreads,
		IntensityDifferenceThreshold: c.Registration.IntensityDifferenceThreshold,
		UseMovingImageGradient:       c.Registration.UseMovingImageGradient,
		TimeStep:                     c.Registration.TimeStep,
		MaximumUpdateStepLength:      c.Registration.MaximumUpdateStepLength,
		SmoothDeformationField:       c.Registration.SmoothDeformationField,
		StandardDeviation:            c.Registration.StandardDeviation,
	}
	if err := opts.Validate(); err != nil {
		return registration.Options{}, err
	}
	return opts, nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
