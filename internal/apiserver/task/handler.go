// Package task 匹配任务领域 - HTTP 处理
//
// 任务创建后立即入队并返回 201，由 worker 异步执行；
// 进度通过 GET /tasks/{id} 轮询或 /ws/tasks/{id} 推送获取。
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"

	"rematch/internal/config"
	"rematch/internal/matcher"
	"rematch/internal/shared/model"
	"rematch/internal/shared/queue"
	"rematch/internal/shared/storage"
)

// DefaultCacheSize 终态任务缓存容量
const DefaultCacheSize = 1024

// Store 任务处理器依赖的存储能力
type Store interface {
	storage.TaskStore
	storage.MatchStore
	GetProject(ctx context.Context, id int64) (*model.Project, error)
	GetFile(ctx context.Context, id int64) (*model.File, error)
	GetFileVersionByID(ctx context.Context, id int64) (*model.FileVersion, error)
}

// ReportStore 任务报告归档（可选）
type ReportStore interface {
	LoadReport(ctx context.Context, taskID int64) (*model.TaskReport, bool, error)
	DeleteReport(ctx context.Context, taskID int64) error
}

// Recorder 任务创建计数
type Recorder interface {
	TaskCreated()
}

// Handler 任务领域 HTTP 处理器
type Handler struct {
	store      Store
	queue      queue.TaskQueue
	registry   *matcher.Registry
	pagination config.PaginationConfig

	reports  ReportStore
	recorder Recorder

	// terminal 已结束任务不再变化，GET 直接命中缓存
	terminal *lru.Cache[int64, *model.Task]
}

// NewHandler 创建任务处理器
func NewHandler(store Store, q queue.TaskQueue, registry *matcher.Registry, pagination config.PaginationConfig) *Handler {
	if pagination.DefaultPageSize <= 0 {
		pagination.DefaultPageSize = 100
	}
	if pagination.MaxPageSize <= 0 {
		pagination.MaxPageSize = 1000
	}
	cache, err := lru.New[int64, *model.Task](DefaultCacheSize)
	if err != nil {
		panic(fmt.Sprintf("task cache: %v", err))
	}
	return &Handler{
		store:      store,
		queue:      q,
		registry:   registry,
		pagination: pagination,
		terminal:   cache,
	}
}

// SetReports 设置报告归档
func (h *Handler) SetReports(reports ReportStore) {
	h.reports = reports
}

// SetRecorder 设置指标记录
func (h *Handler) SetRecorder(recorder Recorder) {
	h.recorder = recorder
}

// RegisterRoutes 注册任务相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/tasks", h.List)
	mux.HandleFunc("POST /api/v1/tasks", h.Create)
	mux.HandleFunc("GET /api/v1/tasks/{id}", h.Get)
	mux.HandleFunc("DELETE /api/v1/tasks/{id}", h.Delete)
	mux.HandleFunc("GET /api/v1/tasks/{id}/locals", h.Locals)
	mux.HandleFunc("GET /api/v1/tasks/{id}/remotes", h.Remotes)
	mux.HandleFunc("GET /api/v1/tasks/{id}/matches", h.Matches)
	mux.HandleFunc("GET /api/v1/tasks/{id}/report", h.Report)
}

// ============================================================================
// HTTP 处理函数
// ============================================================================

// Create 创建任务并入队
// POST /api/v1/tasks
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.TaskCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := h.registry.Select(req.Methods); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if status, err := h.checkReferences(r.Context(), &req); err != nil {
		writeError(w, status, err.Error())
		return
	}

	task := &model.Task{
		SourceFile:        req.SourceFile,
		SourceFileVersion: req.SourceFileVersion,
		SourceStart:       req.SourceStart,
		SourceEnd:         req.SourceEnd,
		SourceKind:        req.SourceKind,
		TargetProject:     req.TargetProject,
		TargetFile:        req.TargetFile,
		Methods:           req.Methods,
	}
	if err := h.store.CreateTask(r.Context(), task); err != nil {
		log.Printf("[Task] Create error: %v", err)
		writeStoreError(w, err, "failed to create task")
		return
	}
	if h.recorder != nil {
		h.recorder.TaskCreated()
	}

	// 入队失败不影响创建结果，worker 的兜底轮询会补偿
	if h.queue != nil {
		if _, err := h.queue.Enqueue(context.WithoutCancel(r.Context()), task.ID); err != nil {
			log.Printf("[Task] Enqueue failed: task=%d error=%v", task.ID, err)
		}
	}

	log.Printf("[Task] Created: id=%d source_file=%d kind=%s methods=%v", task.ID, task.SourceFile, task.SourceKind, task.Methods)
	writeJSON(w, http.StatusCreated, task)
}

// checkReferences 校验源文件与目标存在，源版本须属于源文件
func (h *Handler) checkReferences(ctx context.Context, req *model.TaskCreateRequest) (int, error) {
	check := func(err error, what string, id int64) (int, error) {
		if errors.Is(err, storage.ErrNotFound) {
			return http.StatusBadRequest, fmt.Errorf("%s %d does not exist", what, id)
		}
		return http.StatusInternalServerError, fmt.Errorf("failed to look up %s", what)
	}
	if _, err := h.store.GetFile(ctx, req.SourceFile); err != nil {
		return check(err, "source_file", req.SourceFile)
	}
	if req.SourceFileVersion != nil {
		fv, err := h.store.GetFileVersionByID(ctx, *req.SourceFileVersion)
		if err != nil {
			return check(err, "source_file_version", *req.SourceFileVersion)
		}
		if fv.FileID != req.SourceFile {
			return http.StatusBadRequest, fmt.Errorf("source_file_version %d does not belong to source_file %d", fv.ID, req.SourceFile)
		}
	}
	if req.TargetFile != nil {
		if _, err := h.store.GetFile(ctx, *req.TargetFile); err != nil {
			return check(err, "target_file", *req.TargetFile)
		}
	}
	if req.TargetProject != nil {
		if _, err := h.store.GetProject(ctx, *req.TargetProject); err != nil {
			return check(err, "target_project", *req.TargetProject)
		}
	}
	return 0, nil
}

// List 列出任务
// GET /api/v1/tasks?status=&page=&page_size=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p, err := parsePage(r, h.pagination)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := model.TaskStatus(r.URL.Query().Get("status"))
	if status != "" && !status.IsValid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", status))
		return
	}

	pr := p.request()
	tasks, count, err := h.store.ListTasks(r.Context(), storage.TaskFilter{Status: status, Limit: pr.Limit, Offset: pr.Offset})
	if err != nil {
		log.Printf("[Task] List error: %v", err)
		writeStoreError(w, err, "failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, newPage(r, p, tasks, count))
}

// Get 获取任务
// GET /api/v1/tasks/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	task, err := h.lookup(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "failed to get task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// lookup 终态任务走缓存
func (h *Handler) lookup(ctx context.Context, id int64) (*model.Task, error) {
	if task, ok := h.terminal.Get(id); ok {
		return task, nil
	}
	task, err := h.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		h.terminal.Add(id, task)
	}
	return task, nil
}

// Delete 删除任务及其匹配结果
// DELETE /api/v1/tasks/{id}
//
// 执行中的任务返回 409。
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	if err := h.store.DeleteTask(r.Context(), id); err != nil {
		if !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrConflict) {
			log.Printf("[Task] Delete error: id=%d error=%v", id, err)
		}
		writeStoreError(w, err, "failed to delete task")
		return
	}
	h.terminal.Remove(id)

	if h.reports != nil {
		if err := h.reports.DeleteReport(context.WithoutCancel(r.Context()), id); err != nil {
			log.Printf("[Task] Delete report failed: id=%d error=%v", id, err)
		}
	}
	log.Printf("[Task] Deleted: id=%d", id)
	w.WriteHeader(http.StatusNoContent)
}
