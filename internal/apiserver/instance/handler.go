// Package instance 函数实例领域 - HTTP 处理
package instance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"rematch/internal/shared/model"
)

// DefaultMaxBulk 单次 POST 最多实例数
const DefaultMaxBulk = 1000

// maxBodyBytes 请求体上限
const maxBodyBytes = 64 << 20

// Store 实例处理器依赖的存储能力
type Store interface {
	CreateInstances(ctx context.Context, uploads []model.InstanceUpload) (int, error)
	GetInstance(ctx context.Context, id int64) (*model.Instance, error)
}

// Recorder 上传计数
type Recorder interface {
	InstancesUploaded(n int)
}

// Handler 实例领域 HTTP 处理器
type Handler struct {
	store    Store
	maxBulk  int
	recorder Recorder
}

// NewHandler 创建实例处理器，recorder 可为 nil
func NewHandler(store Store, maxBulk int, recorder Recorder) *Handler {
	if maxBulk <= 0 {
		maxBulk = DefaultMaxBulk
	}
	return &Handler{store: store, maxBulk: maxBulk, recorder: recorder}
}

// RegisterRoutes 注册实例相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/instances", h.Create)
	mux.HandleFunc("GET /api/v1/instances/{id}", h.Get)
}

// decodeUploads 请求体可以是单个对象或数组
func decodeUploads(body []byte) ([]model.InstanceUpload, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty request body")
	}
	if body[0] == '[' {
		var uploads []model.InstanceUpload
		if err := json.Unmarshal(body, &uploads); err != nil {
			return nil, err
		}
		return uploads, nil
	}
	var one model.InstanceUpload
	if err := json.Unmarshal(body, &one); err != nil {
		return nil, err
	}
	return []model.InstanceUpload{one}, nil
}

// Create 批量创建实例（含向量与注解），整批在同一事务中提交
// POST /api/v1/instances
//
// 响应: 201 {"created": n}
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	uploads, err := decodeUploads(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(uploads) > h.maxBulk {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d instances per request, got %d", h.maxBulk, len(uploads)))
		return
	}
	for i := range uploads {
		if err := uploads[i].Validate(); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("instances[%d]: %v", i, err))
			return
		}
	}

	n, err := h.store.CreateInstances(r.Context(), uploads)
	if err != nil {
		log.Printf("[Instance] Create error: count=%d error=%v", len(uploads), err)
		writeStoreError(w, err, "failed to create instances")
		return
	}
	if h.recorder != nil {
		h.recorder.InstancesUploaded(n)
	}
	writeJSON(w, http.StatusCreated, map[string]int{"created": n})
}

// Get 获取实例
// GET /api/v1/instances/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid instance id")
		return
	}
	inst, err := h.store.GetInstance(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "failed to get instance")
		return
	}
	writeJSON(w, http.StatusOK, inst)
}
