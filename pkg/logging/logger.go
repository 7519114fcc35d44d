// Package logging 结构化日志
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// ContextKey 上下文键类型
type ContextKey string

const (
	TaskIDKey    ContextKey = "task_id"
	SessionIDKey ContextKey = "session_id"
	WorkerIDKey  ContextKey = "worker_id"
)

// Logger 结构化日志器
type Logger struct {
	*slog.Logger
	component string
}

// Config 日志配置
type Config struct {
	Level     string `json:"level" yaml:"level"`
	Format    string `json:"format" yaml:"format"` // json or text
	Output    string `json:"output" yaml:"output"` // stdout, stderr, discard, or file path
	Component string `json:"component" yaml:"component"`
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New 创建新的日志器
func New(cfg Config) *Logger {
	level := parseLevel(cfg.Level)

	var output io.Writer
	switch cfg.Output {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	case "discard":
		output = io.Discard
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			output = os.Stdout
		} else {
			output = f
		}
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	base := slog.New(handler)
	if cfg.Component != "" {
		base = base.With(slog.String("component", cfg.Component))
	}
	return &Logger{Logger: base, component: cfg.Component}
}

// Default 创建默认日志器，级别和格式取自 LOG_LEVEL / LOG_FORMAT
func Default(component string) *Logger {
	return New(Config{
		Level:     os.Getenv("LOG_LEVEL"),
		Format:    os.Getenv("LOG_FORMAT"),
		Output:    "stdout",
		Component: component,
	})
}

// Nop 丢弃全部输出（测试用）
func Nop() *Logger {
	return New(Config{Output: "discard"})
}

// Component 返回组件名
func (l *Logger) Component() string {
	return l.component
}

func (l *Logger) with(attrs ...any) *Logger {
	return &Logger{Logger: l.Logger.With(attrs...), component: l.component}
}

// WithContext 从上下文提取任务/会话/worker 标识
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var attrs []any
	if v, ok := ctx.Value(TaskIDKey).(string); ok && v != "" {
		attrs = append(attrs, slog.String("task_id", v))
	}
	if v, ok := ctx.Value(SessionIDKey).(string); ok && v != "" {
		attrs = append(attrs, slog.String("session_id", v))
	}
	if v, ok := ctx.Value(WorkerIDKey).(string); ok && v != "" {
		attrs = append(attrs, slog.String("worker_id", v))
	}
	if len(attrs) == 0 {
		return l
	}
	return l.with(attrs...)
}

// WithTaskID 添加 Task ID
func (l *Logger) WithTaskID(taskID string) *Logger {
	return l.with(slog.String("task_id", taskID))
}

// WithStrategy 添加匹配策略标识
func (l *Logger) WithStrategy(strategy string) *Logger {
	return l.with(slog.String("strategy", strategy))
}

// WithSessionID 添加客户端会话 ID
func (l *Logger) WithSessionID(sessionID string) *Logger {
	return l.with(slog.String("session_id", sessionID))
}

// WithError 添加错误信息
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with(slog.String("error", err.Error()))
}

// WithDuration 添加持续时间
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return l.with(slog.Float64("duration_ms", float64(d.Milliseconds())))
}

// HTTPRequestLog HTTP 请求日志
func (l *Logger) HTTPRequestLog(method, path string, status int, duration time.Duration, clientIP string) {
	l.Logger.Info("HTTP request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
		slog.String("client_ip", clientIP),
	)
}

// TaskLog 任务生命周期日志
func (l *Logger) TaskLog(action, taskID string, extra ...any) {
	attrs := []any{
		slog.String("action", action),
		slog.String("task_id", taskID),
	}
	attrs = append(attrs, extra...)
	l.Logger.Info("Task event", attrs...)
}

// StrategyLog 单个策略执行结果
func (l *Logger) StrategyLog(taskID, strategy string, matches int64, took time.Duration, err error) {
	attrs := []any{
		slog.String("task_id", taskID),
		slog.String("strategy", strategy),
		slog.Int64("matches", matches),
		slog.Float64("took_ms", float64(took.Milliseconds())),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		l.Logger.Error("Strategy failed", attrs...)
		return
	}
	l.Logger.Info("Strategy finished", attrs...)
}
