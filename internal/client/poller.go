package client

import (
	"context"
	"fmt"
	"time"

	"rematch/internal/shared/model"
)

// DefaultPollInterval 默认轮询间隔
const DefaultPollInterval = time.Second

// TaskGetter 轮询依赖的接口
type TaskGetter interface {
	GetTask(ctx context.Context, id int64) (*model.Task, error)
}

// Poller 任务进度轮询
//
// failed 立即停止并返回 ErrTaskFailed；progress_max 已知且 progress 达到上限视为完成。
// 请求出错直接中止，不重试。
type Poller struct {
	api      TaskGetter
	interval time.Duration
	stage    *Stage
}

// NewPoller 创建轮询器，interval <= 0 时使用默认值
func NewPoller(api TaskGetter, interval time.Duration, onProgress func(Progress)) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{api: api, interval: interval, stage: NewStage("poll", onProgress)}
}

// Stage 轮询阶段状态
func (p *Poller) Stage() *Stage {
	return p.stage
}

// Poll 轮询直到任务结束，返回最后一次读取的任务
func (p *Poller) Poll(ctx context.Context, taskID int64) (*model.Task, error) {
	if err := p.stage.Start(); err != nil {
		return nil, err
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		task, done, err := p.check(ctx, taskID)
		if err != nil {
			p.stage.Fail(err)
			return task, err
		}
		if done {
			p.stage.Done()
			return task, nil
		}

		select {
		case <-ctx.Done():
			p.stage.Cancel()
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Poller) check(ctx context.Context, taskID int64) (*model.Task, bool, error) {
	if err := p.stage.Await(); err != nil {
		return nil, false, err
	}
	task, err := p.api.GetTask(ctx, taskID)
	if err != nil {
		return nil, false, err
	}
	if err := p.stage.Resume(); err != nil {
		return task, false, err
	}

	if task.Status == model.TaskStatusFailed {
		return task, false, fmt.Errorf("%w: task %d", ErrTaskFailed, taskID)
	}
	if task.ProgressMax != nil {
		p.stage.SetProgress(int64(task.Progress), int64(*task.ProgressMax))
	}
	return task, task.IsComplete(), nil
}
