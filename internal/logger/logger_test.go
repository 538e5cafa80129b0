package logger

import (
	"os"
	"path/filepath"
	"paper-trading-sim/internal/models"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.log")
	l := InitLogger(models.LogConfig{Level: "debug", Output: "file", File: path, MaxSize: 1})
	require.NotNil(t, l)

	l.Debug("hello from test")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
	assert.Same(t, l, L())
}

func TestInitLoggerFallsBackToConsole(t *testing.T) {
	l := InitLogger(models.LogConfig{Level: "not-a-level", Output: "nowhere"})
	require.NotNil(t, l)
	assert.True(t, l.Core().Enabled(0), "info level should be enabled by default")
	assert.NotNil(t, S())
}
