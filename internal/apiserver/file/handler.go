// Package file 文件与文件版本 - HTTP 处理
//
// 文件版本以函数布局哈希寻址：
//   - POST 同一 (file, hash) 幂等，首次返回 201 + newly_created=true，之后 200 + false
//   - GET 仅查询，不存在返回 404
package file

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"regexp"
	"strings"

	"rematch/internal/shared/model"
)

// Store 文件处理器依赖的存储能力
type Store interface {
	CreateFile(ctx context.Context, f *model.File) error
	GetFile(ctx context.Context, id int64) (*model.File, error)
	GetOrCreateFileVersion(ctx context.Context, fileID int64, md5hash string) (*model.FileVersion, error)
	GetFileVersion(ctx context.Context, fileID int64, md5hash string) (*model.FileVersion, error)
}

// hashPattern 内容哈希：md5 十六进制
var hashPattern = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

// Handler 文件领域 HTTP 处理器
type Handler struct {
	store Store
}

// NewHandler 创建文件处理器
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册文件相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/files", h.Create)
	mux.HandleFunc("GET /api/v1/files/{id}", h.Get)
	mux.HandleFunc("POST /api/v1/files/{id}/file_version/{hash}", h.CreateVersion)
	mux.HandleFunc("GET /api/v1/files/{id}/file_version/{hash}", h.GetVersion)
}

// CreateRequest 创建文件请求体
type CreateRequest struct {
	Project     *int64 `json:"project"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MD5Hash     string `json:"md5hash"`
}

// Create 创建文件
// POST /api/v1/files
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	f := &model.File{ProjectID: req.Project, Name: req.Name, Description: req.Description, MD5Hash: req.MD5Hash}
	if err := h.store.CreateFile(r.Context(), f); err != nil {
		log.Printf("[File] Create error: %v", err)
		writeStoreError(w, err, "failed to create file")
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// Get 获取文件
// GET /api/v1/files/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid file id")
		return
	}
	f, err := h.store.GetFile(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "failed to get file")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// versionParams 解析 {id} 与 {hash}，哈希统一为小写
func versionParams(w http.ResponseWriter, r *http.Request) (int64, string, bool) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid file id")
		return 0, "", false
	}
	hash := r.PathValue("hash")
	if !hashPattern.MatchString(hash) {
		writeError(w, http.StatusBadRequest, "content hash must be 32 hex characters")
		return 0, "", false
	}
	return id, strings.ToLower(hash), true
}

// CreateVersion 幂等创建文件版本
// POST /api/v1/files/{id}/file_version/{hash}
func (h *Handler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	id, hash, ok := versionParams(w, r)
	if !ok {
		return
	}
	fv, err := h.store.GetOrCreateFileVersion(r.Context(), id, hash)
	if err != nil {
		log.Printf("[File] CreateVersion error: file=%d hash=%s error=%v", id, hash, err)
		writeStoreError(w, err, "failed to create file version")
		return
	}
	status := http.StatusOK
	if fv.NewlyCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, fv)
}

// GetVersion 查询文件版本
// GET /api/v1/files/{id}/file_version/{hash}
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	id, hash, ok := versionParams(w, r)
	if !ok {
		return
	}
	fv, err := h.store.GetFileVersion(r.Context(), id, hash)
	if err != nil {
		writeStoreError(w, err, "failed to get file version")
		return
	}
	writeJSON(w, http.StatusOK, fv)
}
