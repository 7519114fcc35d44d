package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(buf *bytes.Buffer) *Logger {
	h := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return &Logger{Logger: slog.New(h), component: "test"}
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	return m
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"未知", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), tt.in)
	}
}

func TestLogger_WithHelpers(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	l.WithTaskID("task-1").WithStrategy("hash").WithError(errors.New("boom")).WithDuration(1500 * time.Millisecond).Info("done")

	m := decode(t, &buf)
	assert.Equal(t, "task-1", m["task_id"])
	assert.Equal(t, "hash", m["strategy"])
	assert.Equal(t, "boom", m["error"])
	assert.EqualValues(t, 1500, m["duration_ms"])
}

func TestLogger_WithErrorNil(t *testing.T) {
	l := Nop()
	assert.Same(t, l, l.WithError(nil))
}

func TestLogger_WithContext(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	ctx := context.WithValue(context.Background(), TaskIDKey, "task-9")
	ctx = context.WithValue(ctx, WorkerIDKey, "w-1")
	l.WithContext(ctx).Info("x")

	m := decode(t, &buf)
	assert.Equal(t, "task-9", m["task_id"])
	assert.Equal(t, "w-1", m["worker_id"])

	assert.Same(t, l, l.WithContext(context.Background()))
}

func TestLogger_StrategyLog(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	l.StrategyLog("task-1", "hash", 42, 2*time.Second, nil)
	m := decode(t, &buf)
	assert.Equal(t, "Strategy finished", m["msg"])
	assert.EqualValues(t, 42, m["matches"])

	buf.Reset()
	l.StrategyLog("task-1", "hash", 0, time.Second, errors.New("bad"))
	m = decode(t, &buf)
	assert.Equal(t, "Strategy failed", m["msg"])
	assert.Equal(t, "ERROR", m["level"])
}
