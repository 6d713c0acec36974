package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewLoggerVerbosity checks that V levels above the configured verbosity are disabled
func TestNewLoggerVerbosity(t *testing.T) {
	logger, err := NewLogger(DEFAULT, false)
	require.NoError(t, err)

	assert.True(t, logger.V(DEFAULT).Enabled())
	assert.False(t, logger.V(DEBUG).Enabled())

	verbose, err := NewLogger(TRACE, true)
	require.NoError(t, err)
	assert.True(t, verbose.V(TRACE).Enabled())
}

// TestNewTestLogger verifies the test logger accepts every level
func TestNewTestLogger(t *testing.T) {
	logger := NewTestLogger(t)
	assert.True(t, logger.V(TRACE).Enabled())
	logger.V(DEBUG).Info("test logger ready", "level", DEBUG)
}
