package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T, cfg Config) (*Logger, *bytes.Buffer) {
	t.Helper()

	output := &bytes.Buffer{}
	cfg.writer = output

	logger, err := New(&cfg)
	require.NoError(t, err)
	return logger, output
}

func entries(t *testing.T, output *bytes.Buffer) []map[string]any {
	t.Helper()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		level  string
		levels []string
	}{
		{level: "debug", levels: []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{level: "info", levels: []string{"INFO", "WARN", "ERROR"}},
		{level: "warning", levels: []string{"WARN", "ERROR"}},
		{level: "error", levels: []string{"ERROR"}},
		{level: "bogus", levels: []string{"INFO", "WARN", "ERROR"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, output := newBufferLogger(t, Config{Level: tt.level, Format: "json"})

			logger.Debug("claim attempt")
			logger.Info("job completed")
			logger.Warn("job failed, retrying")
			logger.Error("job failed")

			var got []string
			for _, e := range entries(t, output) {
				got = append(got, e["level"].(string))
			}
			assert.Equal(t, tt.levels, got)
		})
	}
}

func TestNew_ConsoleFormat(t *testing.T) {
	logger, output := newBufferLogger(t, Config{Level: "info", Format: "console"})

	logger.Info("worker started", slog.String("worker_id", "host-1-0-abcd1234"))

	// tint abbreviates levels
	assert.Contains(t, output.String(), "INF")
	assert.Contains(t, output.String(), "worker started")
	assert.Contains(t, output.String(), "host-1-0-abcd1234")
}

func TestNew_Source(t *testing.T) {
	logger, output := newBufferLogger(t, Config{Level: "info", Format: "json", EnableSource: true})

	logger.Info("message with source")

	entry := entries(t, output)[0]
	source := entry["source"].(map[string]any)
	assert.Contains(t, source, "file")
	assert.Contains(t, source, "line")
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.log")

	logger, err := New(&Config{
		Level:  "info",
		Format: "json",
		Output: path,
	})
	require.NoError(t, err)

	logger.Info("written to file")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestNew_UnwritableFile(t *testing.T) {
	_, err := New(&Config{Output: filepath.Join(t.TempDir(), "missing", "worker.log")})
	assert.Error(t, err)
}

func TestNewDefault(t *testing.T) {
	logger := NewDefault()
	require.NotNil(t, logger.Logger)
	assert.NoError(t, logger.Close())
}

func TestLogger_WithAndGroup(t *testing.T) {
	logger, output := newBufferLogger(t, Config{Level: "info", Format: "json"})

	logger.With(slog.String("worker_id", "w-1")).
		WithGroup("job").
		Info("job claimed", slog.String("job_id", "j-1"), slog.Int("attempt", 2))

	entry := entries(t, output)[0]
	assert.Equal(t, "w-1", entry["worker_id"])

	group := entry["job"].(map[string]any)
	assert.Equal(t, "j-1", group["job_id"])
	assert.Equal(t, float64(2), group["attempt"])
}

func TestLogger_RedactsSensitiveAttributes(t *testing.T) {
	logger, output := newBufferLogger(t, Config{Level: "info", Format: "json"})

	logger.Info("job failed",
		slog.String("job_id", "b5a8f7f0-1d5c-4a0b-9f5e-0d8f3c1e2a44"),
		slog.String("api_key", "sk-live-123"),
		slog.String("db_password", "hunter2"),
		slog.Any("error", errors.New("upstream rejected token=abc123\nstack line")),
	)

	entry := entries(t, output)[0]
	assert.Equal(t, "b5a8f7f0-1d5c-4a0b-9f5e-0d8f3c1e2a44", entry["job_id"])
	assert.Equal(t, "[REDACTED]", entry["api_key"])
	assert.Equal(t, "[REDACTED]", entry["db_password"])
	assert.Equal(t, "upstream rejected token=[REDACTED]", entry["error"])
	assert.NotContains(t, output.String(), "sk-live-123")
	assert.NotContains(t, output.String(), "hunter2")
}

func TestLogger_RedactsInsideGroups(t *testing.T) {
	logger, output := newBufferLogger(t, Config{Level: "info", Format: "json"})

	logger.WithGroup("provider").Info("calling provider", slog.String("secret", "abc"), slog.String("model", "m1"))

	group := entries(t, output)[0]["provider"].(map[string]any)
	assert.Equal(t, "[REDACTED]", group["secret"])
	assert.Equal(t, "m1", group["model"])
}
