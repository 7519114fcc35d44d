// Package project 项目领域 - HTTP 处理
package project

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"rematch/internal/shared/model"
)

// Store 项目处理器依赖的存储能力
type Store interface {
	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, id int64) (*model.Project, error)
	ListProjects(ctx context.Context) ([]*model.Project, error)
}

// Handler 项目领域 HTTP 处理器
type Handler struct {
	store Store
}

// NewHandler 创建项目处理器
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册项目相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/projects", h.List)
	mux.HandleFunc("POST /api/v1/projects", h.Create)
	mux.HandleFunc("GET /api/v1/projects/{id}", h.Get)
}

// CreateRequest 创建项目请求体
type CreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Private     bool   `json:"private"`
}

// Create 创建项目
// POST /api/v1/projects
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

	p := &model.Project{Name: req.Name, Description: req.Description, Private: req.Private}
	if err := h.store.CreateProject(r.Context(), p); err != nil {
		log.Printf("[Project] Create error: %v", err)
		writeStoreError(w, err, "failed to create project")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// List 列出项目
// GET /api/v1/projects
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	projects, err := h.store.ListProjects(r.Context())
	if err != nil {
		writeStoreError(w, err, "failed to list projects")
		return
	}
	if projects == nil {
		projects = []*model.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

// Get 获取项目
// GET /api/v1/projects/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	p, err := h.store.GetProject(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "failed to get project")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
