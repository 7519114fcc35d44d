package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"rematch/internal/config"
	"rematch/internal/shared/model"
	"rematch/internal/shared/storage"
)

// writeJSON 写入 JSON 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 写入错误响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// pathID 解析路径中的数字 ID
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id, err == nil && id > 0
}

// writeStoreError 将存储层错误映射为 HTTP 状态码
func writeStoreError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrConflict), errors.Is(err, storage.ErrDuplicate):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

// ============================================================================
// 分页
// ============================================================================

// pageParams ?page=&page_size=，page 从 1 开始
type pageParams struct {
	page int
	size int
}

// parsePage 解析分页参数，page_size 超过上限时截断
func parsePage(r *http.Request, cfg config.PaginationConfig) (pageParams, error) {
	p := pageParams{page: 1, size: cfg.DefaultPageSize}
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, fmt.Errorf("invalid page %q", v)
		}
		p.page = n
	}
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, fmt.Errorf("invalid page_size %q", v)
		}
		p.size = n
	}
	if p.size <= 0 {
		p.size = 100
	}
	if cfg.MaxPageSize > 0 && p.size > cfg.MaxPageSize {
		p.size = cfg.MaxPageSize
	}
	return p, nil
}

func (p pageParams) request() storage.PageRequest {
	return storage.PageRequest{Limit: p.size, Offset: (p.page - 1) * p.size}
}

// link 当前请求路径上替换 page 的相对链接
func (p pageParams) link(r *http.Request, page int) *string {
	q := r.URL.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(p.size))
	s := r.URL.Path + "?" + q.Encode()
	return &s
}

// newPage 组装分页响应
func newPage[T any](r *http.Request, p pageParams, results []T, count int64) model.Page[T] {
	if results == nil {
		results = []T{}
	}
	page := model.Page[T]{Count: count, Results: results}
	if int64(p.page)*int64(p.size) < count {
		page.Next = p.link(r, p.page+1)
	}
	if p.page > 1 {
		page.Previous = p.link(r, p.page-1)
	}
	return page
}
