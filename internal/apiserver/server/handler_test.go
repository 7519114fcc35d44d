package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rematch/internal/collector"
	"rematch/internal/config"
	"rematch/internal/matcher"
	"rematch/internal/shared/model"
	"rematch/internal/shared/queue"
	"rematch/internal/shared/storage/repository"
	"rematch/pkg/logging"
)

// ============================================================================
// 测试辅助
// ============================================================================

type testServer struct {
	store   *repository.Store
	queue   *queue.MemoryQueue
	handler *Handler
	srv     *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := repository.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry, err := matcher.NewRegistry(matcher.NewHashStrategy(), matcher.NewCosineStrategy(90, 5))
	require.NoError(t, err)

	q := queue.NewMemoryQueue()
	t.Cleanup(func() { q.Close() })

	h := NewHandler(store, q, registry, Options{
		Pagination:       config.PaginationConfig{DefaultPageSize: 100, MaxPageSize: 1000},
		MaxBulk:          10,
		Metrics:          NewMetrics("test"),
		Logger:           logging.Nop(),
		ProgressInterval: 10 * time.Millisecond,
	})
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return &testServer{store: store, queue: q, handler: h, srv: srv}
}

func (s *testServer) call(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *testServer) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(s.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

// ============================================================================
// 路由
// ============================================================================

func TestRouter_Health(t *testing.T) {
	s := newTestServer(t)
	status, body := s.get(t, "/health")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, body)
}

func TestRouter_CORSPreflight(t *testing.T) {
	s := newTestServer(t)
	req, err := http.NewRequest(http.MethodOptions, s.srv.URL+"/api/v1/tasks", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

// TestRouter_UploadAndCreateTask 完整上传流程：项目 → 文件 → 版本 → 实例 → 任务
func TestRouter_UploadAndCreateTask(t *testing.T) {
	s := newTestServer(t)

	var project model.Project
	require.Equal(t, http.StatusCreated, s.call(t, http.MethodPost, "/api/v1/projects",
		map[string]any{"name": "router-fw"}, &project))

	var src, peer model.File
	require.Equal(t, http.StatusCreated, s.call(t, http.MethodPost, "/api/v1/files",
		map[string]any{"name": "httpd-1.0", "project": project.ID}, &src))
	require.Equal(t, http.StatusCreated, s.call(t, http.MethodPost, "/api/v1/files",
		map[string]any{"name": "httpd-1.1", "project": project.ID}, &peer))

	dump, err := collector.NewDump(
		&collector.Function{Offset: 0x1000, Name: "parse_header", Chunks: [][2]int64{{0x1000, 0x1004}}, Bytes: []byte{0x55, 0x89, 0xe5, 0xc3}},
		&collector.Function{Offset: 0x2000, Name: "sub_2000", Chunks: [][2]int64{{0x2000, 0x2002}}, Bytes: []byte{0x90, 0xc3}},
	)
	require.NoError(t, err)
	hash, err := collector.LayoutHash(dump)
	require.NoError(t, err)

	versionPath := "/api/v1/files/" + itoa(src.ID) + "/file_version/" + hash
	var fv model.FileVersion
	require.Equal(t, http.StatusCreated, s.call(t, http.MethodPost, versionPath, nil, &fv))
	assert.True(t, fv.NewlyCreated)

	var again model.FileVersion
	require.Equal(t, http.StatusOK, s.call(t, http.MethodPost, versionPath, nil, &again))
	assert.False(t, again.NewlyCreated)
	assert.Equal(t, fv.ID, again.ID)

	var uploads []model.InstanceUpload
	for _, offset := range dump.Functions() {
		u, err := collector.Serialize(dump, fv.ID, offset,
			collector.DefaultVectors().All(), collector.DefaultAnnotations().All())
		require.NoError(t, err)
		uploads = append(uploads, u)
	}
	var created map[string]int
	require.Equal(t, http.StatusCreated, s.call(t, http.MethodPost, "/api/v1/instances", uploads, &created))
	assert.Equal(t, 2, created["created"])
	assert.Equal(t, http.StatusConflict, s.call(t, http.MethodPost, "/api/v1/instances", uploads, nil))

	var strategies []model.StrategyInfo
	require.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/api/v1/strategies", nil, &strategies))
	require.Len(t, strategies, 2)
	assert.Equal(t, matcher.HashStrategyName, strategies[0].Name)

	var task model.Task
	require.Equal(t, http.StatusCreated, s.call(t, http.MethodPost, "/api/v1/tasks",
		model.TaskCreateRequest{SourceFile: src.ID, TargetFile: &peer.ID}, &task))
	assert.Equal(t, model.TaskStatusQueued, task.Status)

	n, err := s.queue.Len(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	status, metrics := s.get(t, "/metrics")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, metrics, "test_tasks_created_total 1")
	assert.Contains(t, metrics, "test_instances_uploaded_total 2")
	assert.Contains(t, metrics, `test_http_requests_total{method="POST",path="/api/v1/files/{id}/file_version/{hash}",status="201"} 1`)
}

func TestRouter_BulkLimit(t *testing.T) {
	s := newTestServer(t)
	uploads := make([]model.InstanceUpload, 11)
	assert.Equal(t, http.StatusBadRequest, s.call(t, http.MethodPost, "/api/v1/instances", uploads, nil))
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/api/v1/tasks", "/api/v1/tasks"},
		{"/api/v1/tasks/42/matches", "/api/v1/tasks/{id}/matches"},
		{"/api/v1/files/3/file_version/d41d8cd98f00b204e9800998ecf8427e", "/api/v1/files/{id}/file_version/{hash}"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePath(tt.path))
		})
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.RemoteAddr = "10.0.0.7:51234"
	assert.Equal(t, "10.0.0.7", clientIP(r))

	r.Header.Set("X-Real-IP", "192.168.1.9")
	assert.Equal(t, "192.168.1.9", clientIP(r))
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
