package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("critical"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))

	assert.True(t, New("debug").Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, New("error").Enabled(context.Background(), slog.LevelWarn))
}

func TestNewWithWriter_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Options{Level: "warn"})

	logger.Info("hidden")
	logger.Warn("task attempt failed", "task", "generate_content")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "task=generate_content")
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, Options{Format: "json"}).Info("pin shared", "pin", 7)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "pin shared", line["msg"])
	assert.Equal(t, float64(7), line["pin"])
}

func TestOpen_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "automation.log")
	var console bytes.Buffer
	logger, closer, err := Open(Options{Level: "info", File: path, Output: &console})
	require.NoError(t, err)

	logger.Info("worker started")
	require.NoError(t, closer.Close())
	assert.Contains(t, console.String(), "worker started")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "worker started")
}
