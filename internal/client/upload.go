package client

import (
	"context"
	"fmt"

	"rematch/internal/collector"
	"rematch/internal/config"
	"rematch/internal/shared/model"
	"rematch/pkg/logging"
)

// DefaultUploadBatchSize 每次 POST /instances 的实例数
const DefaultUploadBatchSize = 100

// UploadErrorPolicy 采集失败处理策略
type UploadErrorPolicy string

const (
	// UploadAbort 遇到第一个采集失败即中止
	UploadAbort UploadErrorPolicy = config.UploadPolicyAbort
	// UploadSkip 跳过失败的偏移继续上传
	UploadSkip UploadErrorPolicy = config.UploadPolicySkip
)

// InstanceCreator 上传依赖的接口
type InstanceCreator interface {
	CreateInstances(ctx context.Context, uploads []model.InstanceUpload) (int, error)
}

// SkippedOffset 因采集失败被跳过的函数
type SkippedOffset struct {
	Offset int64
	Err    error
}

// UploadResult 上传结果
type UploadResult struct {
	Uploaded int
	Batches  int
	Skipped  []SkippedOffset
}

// UploaderOptions 上传选项
type UploaderOptions struct {
	BatchSize   int
	Policy      UploadErrorPolicy
	Vectors     []collector.Extractor
	Annotations []collector.Extractor
	OnProgress  func(Progress)
	Logger      *logging.Logger
}

// offsetQueue 待处理偏移
type offsetQueue struct {
	offsets []int64
	pos     int
}

func (q *offsetQueue) HasNext() bool { return q.pos < len(q.offsets) }

func (q *offsetQueue) Next() int64 {
	off := q.offsets[q.pos]
	q.pos++
	return off
}

func (q *offsetQueue) Len() int { return len(q.offsets) }

// Uploader 上传流水线
//
// 每步只处理一个偏移，累积到 BatchSize 后发送一次批量创建。
// 进度上限 = 偏移数 + 已发出的批次数，批次在服务端确认后才计入进度。
type Uploader struct {
	api         InstanceCreator
	src         collector.FunctionSource
	fileVersion int64
	opts        UploaderOptions
	stage       *Stage
	logger      *logging.Logger

	queue   *offsetQueue
	pending []model.InstanceUpload
	result  UploadResult
}

// NewUploader 创建上传流水线
func NewUploader(api InstanceCreator, src collector.FunctionSource, fileVersion int64, opts UploaderOptions) *Uploader {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultUploadBatchSize
	}
	if opts.Policy == "" {
		opts.Policy = UploadAbort
	}
	if opts.Vectors == nil {
		opts.Vectors = collector.DefaultVectors().All()
	}
	if opts.Annotations == nil {
		opts.Annotations = collector.DefaultAnnotations().All()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Uploader{
		api:         api,
		src:         src,
		fileVersion: fileVersion,
		opts:        opts,
		stage:       NewStage("upload", opts.OnProgress),
		logger:      logger,
		queue:       &offsetQueue{offsets: src.Functions()},
	}
}

// Stage 上传阶段状态
func (u *Uploader) Stage() *Stage {
	return u.stage
}

// Result 当前结果
func (u *Uploader) Result() UploadResult {
	return u.result
}

// Run 执行上传直到完成、失败或 ctx 取消
//
// 取消时丢弃尚未发送的实例。
func (u *Uploader) Run(ctx context.Context) (*UploadResult, error) {
	if err := u.stage.Start(); err != nil {
		return nil, err
	}
	u.stage.SetProgress(0, int64(u.queue.Len()))

	for {
		more, err := u.Step(ctx)
		if err != nil {
			u.pending = nil
			u.stage.Fail(err)
			return nil, err
		}
		if !more {
			break
		}
	}
	u.stage.Done()
	u.logger.Info("upload finished", "uploaded", u.result.Uploaded, "batches", u.result.Batches, "skipped", len(u.result.Skipped))
	return &u.result, nil
}

// Step 处理一个偏移，返回是否还有剩余工作
func (u *Uploader) Step(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !u.queue.HasNext() {
		if len(u.pending) > 0 {
			if err := u.flush(ctx); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	offset := u.queue.Next()
	upload, err := collector.Serialize(u.src, u.fileVersion, offset, u.opts.Vectors, u.opts.Annotations)
	u.stage.Advance(1)
	if err != nil {
		if u.opts.Policy != UploadSkip {
			return false, err
		}
		u.logger.WithError(err).Warn("skip function", "offset", fmt.Sprintf("%#x", offset))
		u.result.Skipped = append(u.result.Skipped, SkippedOffset{Offset: offset, Err: err})
		return true, nil
	}

	u.pending = append(u.pending, upload)
	if len(u.pending) >= u.opts.BatchSize {
		if err := u.flush(ctx); err != nil {
			return false, err
		}
	}
	return true, nil
}

// flush 发送一个批次，服务端确认后推进一格进度
func (u *Uploader) flush(ctx context.Context) error {
	batch := u.pending
	u.pending = nil

	u.stage.AddMax(1)
	if err := u.stage.Await(); err != nil {
		return err
	}
	n, err := u.api.CreateInstances(ctx, batch)
	if err != nil {
		return fmt.Errorf("upload batch of %d: %w", len(batch), err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := u.stage.Resume(); err != nil {
		return err
	}
	u.stage.Advance(1)
	u.result.Uploaded += n
	u.result.Batches++
	return nil
}
