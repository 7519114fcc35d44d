package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"rematch/internal/collector"
	"rematch/internal/config"
	"rematch/internal/shared/model"
	"rematch/pkg/logging"
)

// ErrSessionClosed 会话已关闭或已运行过
var ErrSessionClosed = errors.New("session is closed")

// MatchRequest 一次匹配的输入
type MatchRequest struct {
	// FileID 服务端已存在的源文件
	FileID int64
	Source collector.FunctionSource

	SourceKind    model.SourceKind
	SourceStart   *int64
	SourceEnd     *int64
	TargetProject *int64
	TargetFile    *int64
	Methods       []string
}

// SessionOptions 会话选项
type SessionOptions struct {
	UploadBatchSize int
	UploadPolicy    UploadErrorPolicy
	PollInterval    time.Duration
	PageSize        int
	OnProgress      func(Progress)
	Logger          *logging.Logger
}

// OptionsFromConfig 由客户端配置构造会话选项
func OptionsFromConfig(cfg config.ClientConfig) SessionOptions {
	return SessionOptions{
		UploadBatchSize: cfg.UploadBatchSize,
		UploadPolicy:    UploadErrorPolicy(cfg.UploadErrorPolicy),
		PollInterval:    cfg.PollInterval,
		PageSize:        cfg.PageSize,
	}
}

// Session 一次匹配会话：布局哈希 → 文件版本 → 上传（仅新版本）→ 创建任务 → 轮询 → 拉取结果
//
// 各阶段依次执行，前一阶段完全结束后才开始下一阶段。
// 会话只能运行一次，Close 后持有的结果被释放。
type Session struct {
	id     string
	api    *API
	opts   SessionOptions
	logger *logging.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	closed  bool
	fv      *model.FileVersion
	task    *model.Task
	upload  *UploadResult
	results *ResultSet
}

// NewSession 创建会话
func NewSession(api *API, opts SessionOptions) *Session {
	id := uuid.NewString()
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default("client")
	}
	return &Session{
		id:     id,
		api:    api,
		opts:   opts,
		logger: logger.WithSessionID(id),
	}
}

// ID 会话 ID
func (s *Session) ID() string {
	return s.id
}

// Task 已创建的任务
func (s *Session) Task() *model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task
}

// FileVersion 本次使用的文件版本
func (s *Session) FileVersion() *model.FileVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fv
}

// Upload 上传结果，文件版本已存在时为 nil
func (s *Session) Upload() *UploadResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upload
}

// Results 合并后的结果，完成前为 nil
func (s *Session) Results() *ResultSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results
}

// Cancel 取消正在执行的阶段，尚未开始的阶段不再执行
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close 取消并释放会话状态
func (s *Session) Close() {
	s.Cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.results = nil
	s.upload = nil
}

// Run 执行完整的匹配流程
func (s *Session) Run(ctx context.Context, req MatchRequest) (*ResultSet, error) {
	s.mu.Lock()
	if s.closed || s.started {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.started = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	start := time.Now()
	s.logger.Info("session started", "file", req.FileID)

	rs, err := s.run(ctx, req)
	if err != nil {
		s.logger.WithError(err).WithDuration(time.Since(start)).Warn("session ended")
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	s.results = rs
	s.logger.WithDuration(time.Since(start)).Info("session finished",
		"locals", len(rs.Locals), "remotes", len(rs.Remotes), "matches", rs.MatchCount())
	return rs, nil
}

func (s *Session) run(ctx context.Context, req MatchRequest) (*ResultSet, error) {
	hash, err := collector.LayoutHash(req.Source)
	if err != nil {
		return nil, fmt.Errorf("layout hash: %w", err)
	}
	fv, err := s.api.CreateFileVersion(ctx, req.FileID, hash)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.fv = fv
	s.mu.Unlock()

	if fv.NewlyCreated {
		uploader := NewUploader(s.api, req.Source, fv.ID, UploaderOptions{
			BatchSize:  s.opts.UploadBatchSize,
			Policy:     s.opts.UploadPolicy,
			OnProgress: s.opts.OnProgress,
			Logger:     s.logger,
		})
		result, err := uploader.Run(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.upload = result
		s.mu.Unlock()
	} else {
		s.logger.Info("file version already uploaded", "file_version", fv.ID)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	task, err := s.api.CreateTask(ctx, &model.TaskCreateRequest{
		SourceFile:        req.FileID,
		SourceFileVersion: &fv.ID,
		SourceStart:       req.SourceStart,
		SourceEnd:         req.SourceEnd,
		SourceKind:        req.SourceKind,
		TargetProject:     req.TargetProject,
		TargetFile:        req.TargetFile,
		Methods:           req.Methods,
	})
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.task = task
	s.mu.Unlock()
	s.logger.TaskLog("created", fmt.Sprint(task.ID))

	finished, err := NewPoller(s.api, s.opts.PollInterval, s.opts.OnProgress).Poll(ctx, task.ID)
	if finished != nil {
		s.mu.Lock()
		s.task = finished
		s.mu.Unlock()
	}
	if err != nil {
		return nil, err
	}

	return NewAssembler(s.api, s.opts.PageSize, s.opts.OnProgress).Assemble(ctx, task.ID)
}
