package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconhawk/reconhawk-stack/common/middleware"
)

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestNewWithWriter_Formats(t *testing.T) {
	var jsonBuf, textBuf bytes.Buffer
	NewWithWriter(&jsonBuf, slog.LevelInfo, "json").Info("hello", RuleID("r1"))
	NewWithWriter(&textBuf, slog.LevelInfo, "TEXT").Info("hello", RuleID("r1"))

	entry := lastEntry(t, &jsonBuf)
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "r1", entry["rule_id"])
	assert.Contains(t, textBuf.String(), "rule_id=r1")
}

func TestNewWithWriter_Level(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, slog.LevelWarn, "json")
	l.Info("dropped")
	assert.Empty(t, buf.String())
	l.Warn("kept")
	assert.Equal(t, "kept", lastEntry(t, &buf)["msg"])
}

func TestLogger_ContextAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, slog.LevelDebug, "json")
	ctx := middleware.WithRequestID(context.Background(), "req-42")

	l.InfoContext(ctx, "info")
	assert.Equal(t, "req-42", lastEntry(t, &buf)["request_id"])
	l.WarnContext(ctx, "warn")
	assert.Equal(t, "WARN", lastEntry(t, &buf)["level"])
	l.ErrorContext(ctx, "error")
	assert.Equal(t, "ERROR", lastEntry(t, &buf)["level"])
	l.DebugContext(ctx, "debug")
	assert.Equal(t, "req-42", lastEntry(t, &buf)["request_id"])

	l.InfoContext(context.Background(), "plain")
	assert.NotContains(t, lastEntry(t, &buf), "request_id")
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, slog.LevelInfo, "json").With(Service("correlation"))
	l.Info("started")
	assert.Equal(t, "correlation", lastEntry(t, &buf)["service"])
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestSetDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetDefault(NewWithWriter(&buf, slog.LevelInfo, "json"))
	slog.Info("via default")
	assert.Equal(t, "via default", lastEntry(t, &buf)["msg"])
	assert.Equal(t, slog.Default(), Default().Logger)
}
