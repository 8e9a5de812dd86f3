package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/vat-reconcile/internal/infrastructure/config"
)

func newTestLogger(buf *bytes.Buffer, level slog.Level) *slog.Logger {
	return slog.New(NewMavenHandler(buf, &slog.HandlerOptions{Level: level}))
}

func TestMavenHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, slog.LevelInfo).With("system", "match", "owner", "user:42")

	logger.Info("Line item matching completed", "matched", 3, "vendor", "Acme Ltd")

	line := strings.TrimSpace(buf.String())
	pattern := regexp.MustCompile(`^\[INFO\] \[match\] \[user:42\] \[\d{2}:\d{2}:\d{2}\] Line item matching completed matched=3 vendor="Acme Ltd"$`)
	assert.Regexp(t, pattern, line)
}

func TestMavenHandler_OwnerOnRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, slog.LevelInfo)

	logger.Warn("duplicate check failed", slog.String("owner", "team:7"), slog.Any("error", errors.New("locked")))

	out := buf.String()
	assert.Contains(t, out, "[WARN] [team:7]")
	assert.Contains(t, out, "error=locked")
	assert.NotContains(t, out, "owner=")
}

func TestMavenHandler_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, slog.LevelWarn)

	logger.Info("hidden")
	logger.Debug("hidden too")
	logger.Error("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "[ERROR]")
}

func TestMavenHandler_Groups(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, slog.LevelInfo).WithGroup("run").With("id", 7)

	logger.Info("done", slog.Group("counts", slog.Int("failed", 1)))

	assert.Contains(t, buf.String(), "run.id=7")
	assert.Contains(t, buf.String(), "run.counts.failed=1")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("loud"))
}

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LoggingConfig{Level: "info", Format: "json"})

	logger.Info("hello", "owner", "user:1")

	require.NotEmpty(t, buf.String())
	assert.Contains(t, buf.String(), `"owner":"user:1"`)
}
