// Package strategy 匹配策略查询 - HTTP 处理
package strategy

import (
	"encoding/json"
	"net/http"

	"rematch/internal/matcher"
)

// Handler 策略 HTTP 处理器
type Handler struct {
	registry *matcher.Registry
}

// NewHandler 创建策略处理器
func NewHandler(registry *matcher.Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes 注册策略相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/strategies", h.List)
}

// List 按注册顺序列出策略
// GET /api/v1/strategies
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(h.registry.Infos())
}
