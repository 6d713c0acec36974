package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"demonsreg/internal/models"
	"demonsreg/pkg/logging"
)

// TestDefaultConfig verifies the documented defaults and that they validate
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 50, cfg.Registration.Iterations)
	assert.Equal(t, 0.001, cfg.Registration.IntensityDifferenceThreshold)
	assert.True(t, cfg.Registration.SmoothDeformationField)
	assert.Equal(t, runtime.NumCPU(), cfg.Processing.NumThreads)
	assert.Equal(t, logging.DEFAULT, cfg.Output.LogVerbosity)
	require.NoError(t, cfg.Validate())

	opts, err := cfg.RegistrationOptions()
	require.NoError(t, err)
	assert.Equal(t, 50, opts.NumberOfIterations)
	assert.Equal(t, runtime.NumCPU(), opts.NumberOfThreads)
	assert.Equal(t, 1.0, opts.StandardDeviation)
}

// TestLoadMissingFileReturnsDefaults keeps defaults when no file exists
func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

// TestLoadOverridesDefaults reads a partial file over the defaults
func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
registration:
  iterations: 12
  useMovingImageGradient: true
  maximumUpdateStepLength: 0.5
processing:
  numThreads: 3
image:
  spacing: [0.5, 0.5, 2.0]
output:
  metricsFile: metrics.prom
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Registration.Iterations)
	assert.True(t, cfg.Registration.UseMovingImageGradient)
	assert.Equal(t, 0.5, cfg.Registration.MaximumUpdateStepLength)
	assert.Equal(t, 1.0, cfg.Registration.TimeStep, "unset keys keep their default")
	assert.Equal(t, 3, cfg.Processing.NumThreads)
	assert.Equal(t, []float64{0.5, 0.5, 2.0}, cfg.Image.Spacing)
	assert.Equal(t, "metrics.prom", cfg.Output.MetricsFile)
}

// TestLoadRejectsInvalidValues reports configuration errors at load time
func TestLoadRejectsInvalidValues(t *testing.T) {
	for name, data := range map[string]string{
		"ZeroThreads":     "processing:\n  numThreads: 0\n",
		"NegativeStep":    "registration:\n  timeStep: -1\n",
		"ZeroSpacing":     "image:\n  spacing: [1, 0]\n",
		"InfiniteSpacing": "image:\n  spacing: [1, .inf]\n",
		"NegativeVerbose": "output:\n  logVerbosity: -2\n",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(data), 0644))
			_, err := LoadConfig(path)
			assert.ErrorIs(t, err, models.ErrInvalidConfiguration)
		})
	}

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("registration: [unclosed"), 0644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

// TestSaveAndLoadRoundTrip writes the default file and reads it back
func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "demonsreg.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}
