// Package client rematch 客户端
//
// 组成：
//   - API: HTTP 接口封装，错误按 errdefs 分类
//   - Stage: 单个阶段的状态机（idle → running ⇄ awaiting-response → done | failed | cancelled）
//   - Uploader: 分批上传函数实例
//   - Poller: 轮询任务进度
//   - Assembler: 并发拉取三组分页结果并合并
//   - Session: 串联以上阶段的一次匹配会话
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"

	"rematch/internal/shared/model"
)

// ErrTaskFailed 任务以 failed 结束
var ErrTaskFailed = errors.New("task failed")

// IsNotFound 资源不存在
func IsNotFound(err error) bool {
	return errdefs.IsNotFound(err)
}

// API rematch HTTP 接口
type API struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPI 创建 API 客户端，httpClient 为 nil 时使用 30s 超时的默认客户端
func NewAPI(baseURL string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &API{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// BaseURL 服务端地址
func (a *API) BaseURL() string {
	return a.baseURL
}

// ============================================================================
// 请求与错误映射
// ============================================================================

// statusError 将 HTTP 错误响应映射为 errdefs 分类
func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	var kind error
	switch {
	case resp.StatusCode == http.StatusNotFound:
		kind = errdefs.ErrNotFound
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnprocessableEntity:
		kind = errdefs.ErrInvalidArgument
	case resp.StatusCode == http.StatusConflict:
		kind = errdefs.ErrConflict
	case resp.StatusCode == http.StatusServiceUnavailable:
		kind = errdefs.ErrUnavailable
	case resp.StatusCode >= 500:
		kind = errdefs.ErrInternal
	default:
		kind = errdefs.ErrUnknown
	}
	return fmt.Errorf("%w: %s %s: %d %s", kind, resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, msg)
}

// do 发送请求并解码 JSON 响应；out 为 nil 时丢弃响应体
func (a *API) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("%w: encode request: %v", errdefs.ErrInvalidArgument, err)
		}
		body = bytes.NewReader(data)
	}
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = a.baseURL + path
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errdefs.ErrInvalidArgument, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("%w: %s %s: %v", errdefs.ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resp.StatusCode, statusError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: decode %s %s: %v", errdefs.ErrInternal, method, path, err)
		}
	}
	return resp.StatusCode, nil
}

// ============================================================================
// 项目 / 文件
// ============================================================================

// CreateProject 创建项目
func (a *API) CreateProject(ctx context.Context, name, description string) (*model.Project, error) {
	var p model.Project
	_, err := a.do(ctx, http.MethodPost, "/api/v1/projects",
		map[string]any{"name": name, "description": description}, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateFile 创建文件，project 可为 nil
func (a *API) CreateFile(ctx context.Context, project *int64, name, md5hash string) (*model.File, error) {
	var f model.File
	_, err := a.do(ctx, http.MethodPost, "/api/v1/files",
		map[string]any{"project": project, "name": name, "md5hash": md5hash}, &f)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// GetFile 获取文件
func (a *API) GetFile(ctx context.Context, id int64) (*model.File, error) {
	var f model.File
	if _, err := a.do(ctx, http.MethodGet, "/api/v1/files/"+strconv.FormatInt(id, 10), nil, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func fileVersionPath(fileID int64, hash string) string {
	return "/api/v1/files/" + strconv.FormatInt(fileID, 10) + "/file_version/" + url.PathEscape(hash)
}

// CreateFileVersion 幂等创建文件版本，NewlyCreated 为 false 表示已上传过
func (a *API) CreateFileVersion(ctx context.Context, fileID int64, hash string) (*model.FileVersion, error) {
	var fv model.FileVersion
	if _, err := a.do(ctx, http.MethodPost, fileVersionPath(fileID, hash), nil, &fv); err != nil {
		return nil, err
	}
	return &fv, nil
}

// GetFileVersion 查询文件版本
func (a *API) GetFileVersion(ctx context.Context, fileID int64, hash string) (*model.FileVersion, error) {
	var fv model.FileVersion
	if _, err := a.do(ctx, http.MethodGet, fileVersionPath(fileID, hash), nil, &fv); err != nil {
		return nil, err
	}
	return &fv, nil
}

// ============================================================================
// 实例 / 策略
// ============================================================================

// CreateInstances 批量上传实例，返回服务端确认的数量
func (a *API) CreateInstances(ctx context.Context, uploads []model.InstanceUpload) (int, error) {
	var resp struct {
		Created int `json:"created"`
	}
	if _, err := a.do(ctx, http.MethodPost, "/api/v1/instances", uploads, &resp); err != nil {
		return 0, err
	}
	return resp.Created, nil
}

// Strategies 服务端注册的匹配策略
func (a *API) Strategies(ctx context.Context) ([]model.StrategyInfo, error) {
	var infos []model.StrategyInfo
	if _, err := a.do(ctx, http.MethodGet, "/api/v1/strategies", nil, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// ============================================================================
// 任务
// ============================================================================

// CreateTask 创建匹配任务
func (a *API) CreateTask(ctx context.Context, req *model.TaskCreateRequest) (*model.Task, error) {
	var t model.Task
	if _, err := a.do(ctx, http.MethodPost, "/api/v1/tasks", req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTask 获取任务
func (a *API) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	var t model.Task
	if _, err := a.do(ctx, http.MethodGet, taskPath(id), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// DeleteTask 删除任务
func (a *API) DeleteTask(ctx context.Context, id int64) error {
	_, err := a.do(ctx, http.MethodDelete, taskPath(id), nil, nil)
	return err
}

// Report 任务执行报告
func (a *API) Report(ctx context.Context, id int64) (*model.TaskReport, error) {
	var r model.TaskReport
	if _, err := a.do(ctx, http.MethodGet, taskPath(id)+"/report", nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func taskPath(id int64) string {
	return "/api/v1/tasks/" + strconv.FormatInt(id, 10)
}

// ResultsPath 任务结果第一页的路径，kind 为 locals / remotes / matches
func ResultsPath(taskID int64, kind string, pageSize int) string {
	path := taskPath(taskID) + "/" + kind
	if pageSize > 0 {
		path += "?page_size=" + strconv.Itoa(pageSize)
	}
	return path
}

// GetPage 获取一页结果，path 为服务端返回的相对链接
func GetPage[T any](ctx context.Context, a *API, path string) (*model.Page[T], error) {
	var page model.Page[T]
	if _, err := a.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}
