// Package server Prometheus 指标导出
package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rematch/internal/shared/model"
)

// Metrics 包含 API Server 与编排器指标
//
// 每个实例持有独立的 prometheus.Registry，同一进程内可创建多个。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// 任务指标
	TasksCreatedTotal  prometheus.Counter
	TasksFinishedTotal *prometheus.CounterVec

	// 策略指标
	StrategyDuration    *prometheus.HistogramVec
	StrategyErrorsTotal *prometheus.CounterVec
	MatchesCreatedTotal *prometheus.CounterVec

	// 上传指标
	InstancesUploadedTotal prometheus.Counter

	// WebSocket 指标
	WSConnectionsActive prometheus.Gauge
}

// NewMetrics 创建指标实例
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		TasksCreatedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_created_total",
				Help:      "Total match tasks created",
			},
		),
		TasksFinishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_finished_total",
				Help:      "Total match tasks finished by status",
			},
			[]string{"status"},
		),
		StrategyDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "strategy_duration_seconds",
				Help:      "Match strategy execution duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
			},
			[]string{"strategy"},
		),
		StrategyErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "strategy_errors_total",
				Help:      "Total match strategy failures",
			},
			[]string{"strategy"},
		),
		MatchesCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "matches_created_total",
				Help:      "Total matches persisted by strategy",
			},
			[]string{"strategy"},
		),
		InstancesUploadedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instances_uploaded_total",
				Help:      "Total function instances uploaded",
			},
		),
		WSConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_connections_active",
				Help:      "Active WebSocket connections",
			},
		),
	}
}

// Registry 返回底层 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 Prometheus HTTP Handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// MetricsMiddleware 创建 HTTP 指标中间件
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		// 包装 ResponseWriter 以捕获状态码
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)
		status := strconv.Itoa(wrapped.statusCode)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter 包装 http.ResponseWriter 以捕获状态码
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath 将数字段替换为 {id}，避免高基数
//
//	/api/v1/tasks/42/matches -> /api/v1/tasks/{id}/matches
//	/api/v1/files/3/file_version/ab12 -> /api/v1/files/{id}/file_version/{hash}
func normalizePath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = "{id}"
			continue
		}
		if i > 0 && parts[i-1] == "file_version" {
			parts[i] = "{hash}"
		}
	}
	return strings.Join(parts, "/")
}

// ============================================================================
// 编排器 / 上传 指标
// ============================================================================

// ObserveStrategy 记录单个策略执行
func (m *Metrics) ObserveStrategy(strategy string, took time.Duration, matches int64, err error) {
	m.StrategyDuration.WithLabelValues(strategy).Observe(took.Seconds())
	m.MatchesCreatedTotal.WithLabelValues(strategy).Add(float64(matches))
	if err != nil {
		m.StrategyErrorsTotal.WithLabelValues(strategy).Inc()
	}
}

// TaskFinished 记录任务结束
func (m *Metrics) TaskFinished(status model.TaskStatus) {
	m.TasksFinishedTotal.WithLabelValues(string(status)).Inc()
}

// TaskCreated 记录任务创建
func (m *Metrics) TaskCreated() {
	m.TasksCreatedTotal.Inc()
}

// InstancesUploaded 记录上传的实例数
func (m *Metrics) InstancesUploaded(n int) {
	m.InstancesUploadedTotal.Add(float64(n))
}

// WSConnectionOpened WebSocket 连接打开
func (m *Metrics) WSConnectionOpened() {
	m.WSConnectionsActive.Inc()
}

// WSConnectionClosed WebSocket 连接关闭
func (m *Metrics) WSConnectionClosed() {
	m.WSConnectionsActive.Dec()
}
