package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Config{Level: "warn", Format: "json"})

	logger.Info("index.done", "files", 3)
	assert.Zero(t, buf.Len(), "info is below warn")

	logger.Warn("worker.exit", "code", 2)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "worker.exit", entry["msg"])
	assert.Equal(t, float64(2), entry["code"])
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Config{Level: "debug"})

	logger.Debug("extract.file.skip", "path", "a.go")
	assert.Contains(t, buf.String(), "msg=extract.file.skip")
	assert.Contains(t, buf.String(), "path=a.go")
}

func TestSetup_InstallsDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := Setup(&buf, Config{Level: "info"})
	assert.Same(t, logger, slog.Default())

	slog.Info("search.done")
	assert.Contains(t, buf.String(), "search.done")
}
