// Package orchestrator 匹配任务编排
//
// Runner 负责单个任务的完整生命周期：
//
//	queued → started (progress_max = 策略数) → 每个策略 progress + 1 → done
//	                                         ↘ 任一未处理错误 → failed
//
// 状态迁移与进度递增均由存储层以带条件的单行 UPDATE 原子完成，
// Runner 不缓存任务状态做读改写。已提交的匹配结果在失败后保留。
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"rematch/internal/matcher"
	"rematch/internal/shared/eventbus"
	"rematch/internal/shared/model"
	"rematch/internal/shared/storage"
	"rematch/pkg/logging"
)

// DefaultBatchSize 匹配结果批量写入大小
const DefaultBatchSize = 10000

// ErrNotQueued 任务不处于 queued，已被其他 worker 领取或已结束
var ErrNotQueued = errors.New("task is not queued")

// StrategyError 策略执行失败
type StrategyError struct {
	TaskID   int64
	Strategy string
	Err      error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("task %d: strategy %s: %v", e.TaskID, e.Strategy, e.Err)
}

func (e *StrategyError) Unwrap() error {
	return e.Err
}

// Store Runner 依赖的存储能力
type Store interface {
	GetTask(ctx context.Context, id int64) (*model.Task, error)
	StartTask(ctx context.Context, id int64, progressMax int) error
	IncrementTaskProgress(ctx context.Context, id int64) error
	FinishTask(ctx context.Context, id int64, status model.TaskStatus) error

	HasVectors(ctx context.Context, f storage.VectorFilter) (bool, error)
	EachVector(ctx context.Context, f storage.VectorFilter, fn func(*model.Vector) error) error

	CreateMatches(ctx context.Context, matches []model.Match) error
}

// ReportSink 任务结束后归档执行报告（MinIO 等）
type ReportSink interface {
	SaveReport(ctx context.Context, report *model.TaskReport) error
}

// Metrics 编排器指标
type Metrics interface {
	ObserveStrategy(strategy string, took time.Duration, matches int64, err error)
	TaskFinished(status model.TaskStatus)
}

type nopMetrics struct{}

func (nopMetrics) ObserveStrategy(string, time.Duration, int64, error) {}
func (nopMetrics) TaskFinished(model.TaskStatus)                       {}

// Option Runner 可选项
type Option func(*Runner)

// WithBatchSize 设置匹配结果批量写入大小
func WithBatchSize(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithReportSink 设置报告归档
func WithReportSink(sink ReportSink) Option {
	return func(r *Runner) { r.reports = sink }
}

// WithEvents 设置任务事件发布，发布失败只记录日志
func WithEvents(pub eventbus.Publisher) Option {
	return func(r *Runner) { r.events = pub }
}

// WithMetrics 设置指标
func WithMetrics(m Metrics) Option {
	return func(r *Runner) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithLogger 设置日志器
func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// Runner 任务编排器，可被多个 worker goroutine 并发调用
type Runner struct {
	store     Store
	registry  *matcher.Registry
	batchSize int
	reports   ReportSink
	events    eventbus.Publisher
	metrics   Metrics
	logger    *logging.Logger
}

// NewRunner 创建编排器
func NewRunner(store Store, registry *matcher.Registry, opts ...Option) *Runner {
	r := &Runner{
		store:     store,
		registry:  registry,
		batchSize: DefaultBatchSize,
		metrics:   nopMetrics{},
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run 执行一个任务
//
// 任务不处于 queued 时返回 ErrNotQueued 且不做任何修改。
// 策略失败时任务置为 failed 并返回 *StrategyError。
func (r *Runner) Run(ctx context.Context, taskID int64) error {
	task, err := r.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task %d: %w", taskID, err)
	}
	if task.Status != model.TaskStatusQueued {
		return fmt.Errorf("task %d is %s: %w", taskID, task.Status, ErrNotQueued)
	}
	id := strconv.FormatInt(taskID, 10)
	log := r.logger.WithTaskID(id)

	strategies, selectErr := r.registry.Select(task.Methods)
	progressMax := len(strategies)
	if selectErr != nil {
		progressMax = len(task.Methods)
	}

	if err := r.store.StartTask(ctx, taskID, progressMax); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return fmt.Errorf("start task %d: %w", taskID, ErrNotQueued)
		}
		return fmt.Errorf("start task %d: %w", taskID, err)
	}
	report := &model.TaskReport{TaskID: taskID, Started: time.Now().UTC()}
	r.logger.TaskLog("started", id, "progress_max", progressMax)
	r.publish(ctx, taskID, eventbus.EventStarted, model.TaskStatusStarted, 0, progressMax)

	run := &progress{max: progressMax}
	if selectErr != nil {
		return r.fail(ctx, task, report, run, selectErr)
	}

	for _, s := range strategies {
		sr, err := r.runStrategy(ctx, task, s)
		report.Strategies = append(report.Strategies, sr)
		if err != nil {
			return r.fail(ctx, task, report, run, &StrategyError{TaskID: taskID, Strategy: s.Name(), Err: err})
		}
		if err := r.store.IncrementTaskProgress(ctx, taskID); err != nil {
			return r.fail(ctx, task, report, run, fmt.Errorf("advance progress: %w", err))
		}
		run.done++
		r.publish(ctx, taskID, eventbus.EventProgress, model.TaskStatusStarted, run.done, progressMax)
	}

	// 取消不影响结束状态落库
	if err := r.store.FinishTask(context.WithoutCancel(ctx), taskID, model.TaskStatusDone); err != nil {
		log.WithError(err).Error("Finish task failed")
		return r.fail(ctx, task, report, run, fmt.Errorf("finish task %d: %w", taskID, err))
	}
	r.metrics.TaskFinished(model.TaskStatusDone)
	r.logger.TaskLog("done", id, "strategies", len(strategies))
	r.publish(ctx, taskID, eventbus.EventFinished, model.TaskStatusDone, progressMax, progressMax)
	r.archive(ctx, report, model.TaskStatusDone, nil)
	return nil
}

// progress 单次执行已推进的进度
type progress struct {
	done int
	max  int
}

// fail 将任务置为 failed 并原样返回 cause
func (r *Runner) fail(ctx context.Context, task *model.Task, report *model.TaskReport, run *progress, cause error) error {
	// 取消引起的失败也必须落库
	ctx = context.WithoutCancel(ctx)
	id := strconv.FormatInt(task.ID, 10)
	if err := r.store.FinishTask(ctx, task.ID, model.TaskStatusFailed); err != nil {
		r.logger.WithTaskID(id).WithError(err).Error("Mark task failed")
		return errors.Join(cause, err)
	}
	r.metrics.TaskFinished(model.TaskStatusFailed)
	r.logger.TaskLog("failed", id, "error", cause.Error())
	r.publish(ctx, task.ID, eventbus.EventFinished, model.TaskStatusFailed, run.done, run.max)
	r.archive(ctx, report, model.TaskStatusFailed, cause)
	return cause
}

func (r *Runner) publish(ctx context.Context, taskID int64, typ string, status model.TaskStatus, progress, progressMax int) {
	if r.events == nil {
		return
	}
	err := r.events.PublishTaskEvent(context.WithoutCancel(ctx), &eventbus.TaskEvent{
		TaskID:      taskID,
		Type:        typ,
		Status:      status,
		Progress:    progress,
		ProgressMax: progressMax,
		Timestamp:   time.Now().UTC(),
	})
	if err != nil {
		r.logger.WithTaskID(strconv.FormatInt(taskID, 10)).WithError(err).Warn("Publish task event failed")
	}
}

func (r *Runner) archive(ctx context.Context, report *model.TaskReport, status model.TaskStatus, cause error) {
	if r.reports == nil {
		return
	}
	report.Status = status
	report.Finished = time.Now().UTC()
	if cause != nil {
		report.Error = cause.Error()
	}
	if err := r.reports.SaveReport(context.WithoutCancel(ctx), report); err != nil {
		r.logger.WithTaskID(strconv.FormatInt(report.TaskID, 10)).WithError(err).Warn("Archive report failed")
	}
}

// ============================================================================
// 单个策略
// ============================================================================

// SourceFilter 任务源向量过滤条件
func SourceFilter(task *model.Task, s matcher.Strategy) storage.VectorFilter {
	fileID := task.SourceFile
	return storage.VectorFilter{
		Type:          s.VectorType(),
		TypeVersion:   s.VectorVersion(),
		FileID:        &fileID,
		FileVersionID: task.SourceFileVersion,
		OffsetStart:   task.SourceStart,
		OffsetEnd:     task.SourceEnd,
	}
}

// TargetFilter 任务目标向量过滤条件，始终排除源文件
func TargetFilter(task *model.Task, s matcher.Strategy) storage.VectorFilter {
	exclude := task.SourceFile
	return storage.VectorFilter{
		Type:          s.VectorType(),
		TypeVersion:   s.VectorVersion(),
		ProjectID:     task.TargetProject,
		FileID:        task.TargetFile,
		ExcludeFileID: &exclude,
	}
}

// storeSource 以存储层过滤条件实现 matcher.VectorSource
type storeSource struct {
	store  Store
	filter storage.VectorFilter
}

func (s storeSource) Each(ctx context.Context, fn func(*model.Vector) error) error {
	return s.store.EachVector(ctx, s.filter, fn)
}

func (r *Runner) runStrategy(ctx context.Context, task *model.Task, s matcher.Strategy) (model.StrategyReport, error) {
	start := time.Now()
	sr := model.StrategyReport{Strategy: s.Name()}
	id := strconv.FormatInt(task.ID, 10)

	source := storeSource{store: r.store, filter: SourceFilter(task, s)}
	target := storeSource{store: r.store, filter: TargetFilter(task, s)}

	hasSource, err := r.store.HasVectors(ctx, source.filter)
	if err != nil {
		return sr, err
	}
	hasTarget := false
	if hasSource {
		if hasTarget, err = r.store.HasVectors(ctx, target.filter); err != nil {
			return sr, err
		}
	}
	if !hasSource || !hasTarget {
		sr.Skipped = true
		sr.Took = time.Since(start)
		r.logger.WithTaskID(id).WithStrategy(s.Name()).Info("Strategy skipped",
			"has_source", hasSource, "has_target", hasTarget)
		return sr, nil
	}

	batch := make([]model.Match, 0, min(r.batchSize, 1024))
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := r.store.CreateMatches(ctx, batch); err != nil {
			return err
		}
		sr.Matches += int64(len(batch))
		batch = batch[:0]
		return nil
	}

	err = s.Match(ctx, source, target, func(c matcher.Candidate) error {
		batch = append(batch, model.Match{
			TaskID:         task.ID,
			Type:           s.Name(),
			FromVectorID:   c.FromVectorID,
			ToVectorID:     c.ToVectorID,
			FromInstanceID: c.FromInstanceID,
			ToInstanceID:   c.ToInstanceID,
			Score:          c.Score,
		})
		if len(batch) >= r.batchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	sr.Took = time.Since(start)
	r.metrics.ObserveStrategy(s.Name(), sr.Took, sr.Matches, err)
	r.logger.StrategyLog(id, s.Name(), sr.Matches, sr.Took, err)
	return sr, err
}
