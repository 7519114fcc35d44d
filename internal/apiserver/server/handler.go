package server

import (
	"net"
	"net/http"
	"time"

	"rematch/internal/apiserver/file"
	"rematch/internal/apiserver/instance"
	"rematch/internal/apiserver/project"
	"rematch/internal/apiserver/strategy"
	"rematch/internal/apiserver/task"
	"rematch/pkg/logging"
)

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 健康检查 / 指标:
//   - GET /health
//   - GET /metrics
//
// 项目与文件:
//   - GET  /api/v1/projects            - 列出项目
//   - POST /api/v1/projects            - 创建项目
//   - GET  /api/v1/projects/{id}       - 获取项目
//   - POST /api/v1/files               - 创建文件
//   - GET  /api/v1/files/{id}          - 获取文件
//   - POST /api/v1/files/{id}/file_version/{hash} - 幂等创建文件版本
//   - GET  /api/v1/files/{id}/file_version/{hash} - 查询文件版本
//
// 实例与策略:
//   - POST /api/v1/instances           - 批量上传实例
//   - GET  /api/v1/instances/{id}      - 获取实例
//   - GET  /api/v1/strategies          - 列出匹配策略
//
// 任务 (Task):
//   - GET    /api/v1/tasks             - 列出任务
//   - POST   /api/v1/tasks             - 创建任务
//   - GET    /api/v1/tasks/{id}        - 获取任务
//   - DELETE /api/v1/tasks/{id}        - 删除任务
//   - GET    /api/v1/tasks/{id}/locals  - 有匹配的源实例
//   - GET    /api/v1/tasks/{id}/remotes - 被匹配的目标实例
//   - GET    /api/v1/tasks/{id}/matches - 匹配结果
//   - GET    /api/v1/tasks/{id}/report  - 执行报告
//
// WebSocket:
//   - GET /ws/tasks/{id}               - 任务进度推送
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", h.Health)

	// Prometheus 指标端点
	mux.Handle("GET /metrics", h.metrics.Handler())

	project.NewHandler(h.store).RegisterRoutes(mux)
	file.NewHandler(h.store).RegisterRoutes(mux)
	instance.NewHandler(h.store, h.maxBulk, h.metrics).RegisterRoutes(mux)
	strategy.NewHandler(h.registry).RegisterRoutes(mux)

	taskHandler := task.NewHandler(h.store, h.queue, h.registry, h.pagination)
	taskHandler.SetRecorder(h.metrics)
	if h.reports != nil {
		taskHandler.SetReports(h.reports)
	}
	taskHandler.RegisterRoutes(mux)

	// 应用指标与访问日志中间件到 REST API
	apiHandler := h.metrics.MetricsMiddleware(mux)
	apiHandler = loggingMiddleware(h.logger)(apiHandler)

	// 应用 CORS 中间件
	corsHandler := corsMiddleware(apiHandler)

	// 创建顶层路由，WebSocket 绕过中间件（避免 http.Hijacker 问题）
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /ws/tasks/{id}", h.progress.HandleWebSocket)
	topMux.Handle("/", corsHandler)

	return topMux
}

// loggingMiddleware 访问日志
func loggingMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			logger.HTTPRequestLog(r.Method, r.URL.Path, wrapped.statusCode, time.Since(start), clientIP(r))
		})
	}
}

// clientIP 优先取反向代理头
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// corsMiddleware 添加 CORS 头支持跨域请求
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
