package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"demonsreg/internal/models"
	"demonsreg/pkg/config"
	"demonsreg/pkg/logging"
)

// writeBlob writes a 16-bit PNG with a Gaussian blob centered at (cx, cy)
func writeBlob(t *testing.T, path string, cx, cy float64) {
	t.Helper()
	img := image.NewGray16(image.Rect(0, 0, 20, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			v := math.Exp(-(dx*dx + dy*dy) / 18)
			img.Set(x, y, color.Gray16{Y: uint16(v * 65535)})
		}
	}
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()
	require.NoError(t, png.Encode(file, img))
}

func TestNewOptionsDefaults(t *testing.T) {
	opts := NewOptions()
	defaults := config.DefaultConfig()

	assert.Equal(t, "demonsreg.yaml", opts.ConfigFile)
	assert.Equal(t, defaults.Registration.Iterations, opts.Iterations)
	assert.Equal(t, defaults.Processing.NumThreads, opts.Threads)
	assert.Equal(t, logging.DEFAULT, opts.LogVerbosity)
	assert.True(t, opts.Smooth)
}

// TestFlagsOverrideConfigFile applies only flags that were set
func TestFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demonsreg.yaml")
	cfg := config.DefaultConfig()
	cfg.Registration.Iterations = 33
	cfg.Registration.TimeStep = 0.5
	require.NoError(t, config.SaveConfig(cfg, path))

	opts := NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	opts.AddFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"--config", path,
		"--fixed", "a.png",
		"--moving", "b.png",
		"-t", "3",
		"--smooth=false",
		"--max-step", "0.75",
		"-v", "4",
	}))
	require.NoError(t, opts.Complete())
	require.NoError(t, opts.Validate())

	got := opts.Config()
	assert.Equal(t, 33, got.Registration.Iterations, "file value kept")
	assert.Equal(t, 0.5, got.Registration.TimeStep, "file value kept")
	assert.Equal(t, 3, got.Processing.NumThreads)
	assert.False(t, got.Registration.SmoothDeformationField)
	assert.Equal(t, 0.75, got.Registration.MaximumUpdateStepLength)
	assert.Equal(t, 4, got.Output.LogVerbosity)
}

// TestValidateRejectsBadOptions covers missing inputs and invalid overrides
func TestValidateRejectsBadOptions(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")
	for name, args := range map[string][]string{
		"NoInputs":     {"--config", missing},
		"NoThreads":    {"--config", missing, "--fixed", "a", "--moving", "b", "--threads", "0"},
		"BadThreshold": {"--config", missing, "--fixed", "a", "--moving", "b", "--threshold", "-1"},
	} {
		t.Run(name, func(t *testing.T) {
			opts := NewOptions()
			fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
			opts.AddFlags(fs)
			require.NoError(t, fs.Parse(args))
			require.NoError(t, opts.Complete())
			assert.Error(t, opts.Validate())
		})
	}

	err := run([]string{"--unknown-flag"}, &bytes.Buffer{})
	assert.Error(t, err)
}

// TestWriteConfig writes the default file and exits
func TestWriteConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "demonsreg.yaml")
	var stdout bytes.Buffer
	require.NoError(t, run([]string{"--write-config", path}, &stdout))
	assert.Contains(t, stdout.String(), path)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

// TestRunRegistersImagePair runs the whole pipeline on two blob images
func TestRunRegistersImagePair(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping end-to-end test in short mode")
	}
	dir := t.TempDir()
	fixed := filepath.Join(dir, "fixed.png")
	moving := filepath.Join(dir, "moving.png")
	writeBlob(t, fixed, 9, 10)
	writeBlob(t, moving, 10.5, 10)
	outDir := filepath.Join(dir, "out")
	metricsFile := filepath.Join(dir, "metrics.prom")

	var stdout bytes.Buffer
	require.NoError(t, run([]string{
		"--config", filepath.Join(dir, "absent.yaml"),
		"--fixed", fixed,
		"--moving", moving,
		"--output", outDir,
		"--iterations", "15",
		"--threads", "3",
		"--metrics-file", metricsFile,
		"-v", "0",
	}, &stdout))

	assert.Contains(t, stdout.String(), "Registration completed")
	assert.Contains(t, stdout.String(), "15 iterations, 3 threads")
	assert.FileExists(t, filepath.Join(outDir, "warped.jpg"))
	assert.FileExists(t, filepath.Join(outDir, "displacement_magnitude.jpg"))

	data, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "demonsreg_iterations_completed_total 15")
}

// TestMeanSquareDifferenceResamplesMismatchedGrids compares images of different sizes
func TestMeanSquareDifferenceResamplesMismatchedGrids(t *testing.T) {
	fixed := models.NewImage(3, 3)
	moving := models.NewImage(5, 5)
	moving.Fill(2)

	msd, err := meanSquareDifference(fixed, moving)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, msd, 1e-12)
}
