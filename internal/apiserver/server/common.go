// Package server 路由配置与核心基础设施
//
// 文件组织：
//   - common.go: Handler 定义与通用工具函数
//   - handler.go: 路由与中间件
//   - progress.go: 任务进度 WebSocket 推送
//   - metrics.go: Prometheus 指标
//
// 各领域接口（project/file/instance/strategy/task）位于独立子包。
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"rematch/internal/apiserver/task"
	"rematch/internal/config"
	"rematch/internal/matcher"
	"rematch/internal/shared/eventbus"
	"rematch/internal/shared/queue"
	"rematch/internal/shared/storage"
	"rematch/pkg/logging"
)

// Options Handler 可选配置
type Options struct {
	Pagination config.PaginationConfig
	// MaxBulk 单次实例上传上限
	MaxBulk int
	// Reports 报告归档，未配置对象存储时为 nil
	Reports task.ReportStore
	// Metrics 为 nil 时创建独立实例
	Metrics *Metrics
	Logger  *logging.Logger
	// ProgressInterval WebSocket 进度轮询间隔
	ProgressInterval time.Duration
	// Events 任务事件订阅，为 nil 时只轮询
	Events eventbus.Subscriber
}

// Handler API 处理器
//
// 持有存储、任务队列与策略注册表，
// 由 Router 分发到各领域子包。
type Handler struct {
	store    storage.PersistentStore
	queue    queue.TaskQueue
	registry *matcher.Registry

	pagination config.PaginationConfig
	maxBulk    int
	reports    task.ReportStore

	progress *ProgressGateway
	metrics  *Metrics
	logger   *logging.Logger
}

// NewHandler 创建 Handler 实例
func NewHandler(store storage.PersistentStore, q queue.TaskQueue, registry *matcher.Registry, opts Options) *Handler {
	h := &Handler{
		store:      store,
		queue:      q,
		registry:   registry,
		pagination: opts.Pagination,
		maxBulk:    opts.MaxBulk,
		reports:    opts.Reports,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
	}
	if h.metrics == nil {
		h.metrics = NewMetrics("rematch")
	}
	if h.logger == nil {
		h.logger = logging.Default("api-server")
	}
	h.progress = NewProgressGateway(store, h.metrics)
	if opts.ProgressInterval > 0 {
		h.progress.SetInterval(opts.ProgressInterval)
	}
	if opts.Events != nil {
		h.progress.SetEvents(opts.Events)
	}
	return h
}

// GetMetrics 返回指标实例
func (h *Handler) GetMetrics() *Metrics {
	return h.metrics
}

// writeJSON 将数据以 JSON 格式写入 HTTP 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 将错误信息以 JSON 格式写入 HTTP 响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// pathID 解析路径中的数字 ID
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id, err == nil && id > 0
}

// pinger 支持连通性检查的存储
type pinger interface {
	Ping(ctx context.Context) error
}

// Health 健康检查接口
//
// 路由: GET /health
//
// 存储不可达时返回 503。
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
