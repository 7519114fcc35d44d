package task

import (
	"log"
	"net/http"
)

// ============================================================================
// 匹配结果查询
// ============================================================================

// resultParams 解析任务 ID 与分页参数，并确认任务存在
func (h *Handler) resultParams(w http.ResponseWriter, r *http.Request) (int64, pageParams, bool) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return 0, pageParams{}, false
	}
	p, err := parsePage(r, h.pagination)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, pageParams{}, false
	}
	if _, err := h.lookup(r.Context(), id); err != nil {
		writeStoreError(w, err, "failed to get task")
		return 0, pageParams{}, false
	}
	return id, p, true
}

// Locals 拥有匹配结果的源实例
// GET /api/v1/tasks/{id}/locals
func (h *Handler) Locals(w http.ResponseWriter, r *http.Request) {
	id, p, ok := h.resultParams(w, r)
	if !ok {
		return
	}
	instances, count, err := h.store.ListLocals(r.Context(), id, p.request())
	if err != nil {
		log.Printf("[Task] Locals error: id=%d error=%v", id, err)
		writeStoreError(w, err, "failed to list local instances")
		return
	}
	writeJSON(w, http.StatusOK, newPage(r, p, instances, count))
}

// Remotes 被匹配的目标实例
// GET /api/v1/tasks/{id}/remotes
func (h *Handler) Remotes(w http.ResponseWriter, r *http.Request) {
	id, p, ok := h.resultParams(w, r)
	if !ok {
		return
	}
	instances, count, err := h.store.ListRemotes(r.Context(), id, p.request())
	if err != nil {
		log.Printf("[Task] Remotes error: id=%d error=%v", id, err)
		writeStoreError(w, err, "failed to list remote instances")
		return
	}
	writeJSON(w, http.StatusOK, newPage(r, p, instances, count))
}

// Matches 任务的匹配结果
// GET /api/v1/tasks/{id}/matches
func (h *Handler) Matches(w http.ResponseWriter, r *http.Request) {
	id, p, ok := h.resultParams(w, r)
	if !ok {
		return
	}
	matches, count, err := h.store.ListMatches(r.Context(), id, p.request())
	if err != nil {
		log.Printf("[Task] Matches error: id=%d error=%v", id, err)
		writeStoreError(w, err, "failed to list matches")
		return
	}
	writeJSON(w, http.StatusOK, newPage(r, p, matches, count))
}

// Report 任务执行报告
// GET /api/v1/tasks/{id}/report
//
// 未配置对象存储或报告尚未归档时返回 404。
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	if _, err := h.lookup(r.Context(), id); err != nil {
		writeStoreError(w, err, "failed to get task")
		return
	}
	if h.reports == nil {
		writeError(w, http.StatusNotFound, "report archive is not configured")
		return
	}
	report, found, err := h.reports.LoadReport(r.Context(), id)
	if err != nil {
		log.Printf("[Task] Report error: id=%d error=%v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to load report")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
