// Package worker 匹配任务 worker
//
// 架构：任务队列消费（主路径）+ 数据库保底轮询
//
// 主路径：N 个消费者从 TaskQueue 领取消息，每条消息由一次 Runner.Run 处理后确认。
// 任务失败是终态，失败的消息同样确认，不做自动重试。
// 保底路径：定期扫描长时间停留在 queued 的任务并重新入队（处理入队失败的情况）。
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"rematch/internal/config"
	"rematch/internal/orchestrator"
	"rematch/internal/shared/queue"
)

// TaskRunner 执行单个任务
type TaskRunner interface {
	Run(ctx context.Context, taskID int64) error
}

// StaleLister 查询滞留在 queued 的任务
type StaleLister interface {
	ListStaleQueuedTasks(ctx context.Context, before time.Time, limit int) ([]int64, error)
}

// fallbackBatch 每轮保底轮询最多重新入队的任务数
const fallbackBatch = 100

// Pool worker 池
type Pool struct {
	cfg    config.WorkerConfig
	queue  queue.TaskQueue
	runner TaskRunner
	stale  StaleLister

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewPool 创建 worker 池
//
// stale 可为 nil，此时不启用保底轮询。cfg 中未设置的字段使用默认值。
func NewPool(cfg config.WorkerConfig, q queue.TaskQueue, runner TaskRunner, stale StaleLister) *Pool {
	def := config.Defaults().Worker
	if cfg.ID == "" {
		cfg.ID = "worker-" + uuid.NewString()[:8]
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.ReadCount <= 0 {
		cfg.ReadCount = def.ReadCount
	}
	if cfg.FallbackInterval <= 0 {
		cfg.FallbackInterval = def.FallbackInterval
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = def.StaleThreshold
	}
	return &Pool{
		cfg:    cfg,
		queue:  q,
		runner: runner,
		stale:  stale,
		stopCh: make(chan struct{}),
	}
}

// ID worker 标识
func (p *Pool) ID() string {
	return p.cfg.ID
}

// Start 启动 worker 池，阻塞直到 ctx 取消或 Stop
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	log.Printf("[worker.start] worker_id=%s concurrency=%d fallback=%v",
		p.cfg.ID, p.cfg.Concurrency, p.stale != nil)

	if err := p.queue.EnsureGroup(ctx); err != nil {
		log.Printf("[worker.queue.group.failed] error=%v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		consumerID := fmt.Sprintf("%s-%d", p.cfg.ID, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.consume(ctx, consumerID)
		}()
	}

	if p.stale != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.fallbackPolling(ctx)
		}()
	}

	wg.Wait()
	log.Printf("[worker.stopped] worker_id=%s", p.cfg.ID)
}

// Stop 停止 worker 池，进行中的任务会执行完
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		close(p.stopCh)
		p.running = false
	}
}

func (p *Pool) stopped(ctx context.Context) (string, bool) {
	select {
	case <-ctx.Done():
		return "context_cancelled", true
	case <-p.stopCh:
		return "stop_signal", true
	default:
		return "", false
	}
}

// consume 单个消费者循环
func (p *Pool) consume(ctx context.Context, consumerID string) {
	log.Printf("[worker.consumer.start] consumer_id=%s", consumerID)

	for {
		if reason, ok := p.stopped(ctx); ok {
			log.Printf("[worker.consumer.stop] consumer_id=%s reason=%s", consumerID, reason)
			return
		}

		messages, err := p.queue.Consume(ctx, consumerID, int64(p.cfg.ReadCount), p.cfg.ReadTimeout)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				log.Printf("[worker.consumer.stop] consumer_id=%s reason=%v", consumerID, err)
				return
			}
			log.Printf("[worker.consume.failed] consumer_id=%s error=%v", consumerID, err)
			select {
			case <-ctx.Done():
			case <-p.stopCh:
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range messages {
			p.handle(ctx, consumerID, msg)
		}
	}
}

// handle 执行一条消息并确认
func (p *Pool) handle(ctx context.Context, consumerID string, msg *queue.TaskMessage) {
	start := time.Now()
	log.Printf("[worker.task.start] task_id=%d msg_id=%s consumer_id=%s", msg.TaskID, msg.ID, consumerID)

	err := p.runner.Run(ctx, msg.TaskID)
	switch {
	case err == nil:
		log.Printf("[worker.task.done] task_id=%d delay_ms=%d duration_ms=%d",
			msg.TaskID, start.Sub(msg.EnqueuedAt).Milliseconds(), time.Since(start).Milliseconds())
	case errors.Is(err, orchestrator.ErrNotQueued):
		log.Printf("[worker.task.skip] task_id=%d reason=not_queued", msg.TaskID)
	default:
		log.Printf("[worker.task.failed] task_id=%d duration_ms=%d error=%v",
			msg.TaskID, time.Since(start).Milliseconds(), err)
	}

	if err := p.queue.Ack(context.WithoutCancel(ctx), msg.ID); err != nil {
		log.Printf("[worker.queue.ack.failed] task_id=%d msg_id=%s error=%v", msg.TaskID, msg.ID, err)
	}
}

// fallbackPolling 保底轮询
func (p *Pool) fallbackPolling(ctx context.Context) {
	// 启动时立即执行一次
	p.requeueStale(ctx)

	ticker := time.NewTicker(p.cfg.FallbackInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[worker.fallback.stop] reason=context_cancelled")
			return
		case <-p.stopCh:
			log.Printf("[worker.fallback.stop] reason=stop_signal")
			return
		case <-ticker.C:
			p.requeueStale(ctx)
		}
	}
}

// requeueStale 将超过阈值仍处于 queued 的任务重新入队，返回入队数量
//
// 队列仍有未领取消息时跳过本轮，积压中的任务等待正常消费。
// 重复投递由 Runner 的 queued 检查去重。
func (p *Pool) requeueStale(ctx context.Context) int {
	backlog, err := p.queue.Len(ctx)
	if err != nil {
		log.Printf("[worker.fallback.len.failed] error=%v", err)
		return 0
	}
	if backlog > 0 {
		log.Printf("[worker.fallback.skip] reason=backlog pending=%d", backlog)
		return 0
	}

	before := time.Now().Add(-p.cfg.StaleThreshold)
	ids, err := p.stale.ListStaleQueuedTasks(ctx, before, fallbackBatch)
	if err != nil {
		log.Printf("[worker.fallback.query.failed] error=%v", err)
		return 0
	}
	if len(ids) == 0 {
		return 0
	}

	log.Printf("[worker.fallback.found] count=%d threshold=%s", len(ids), p.cfg.StaleThreshold)
	n := 0
	for _, id := range ids {
		msgID, err := p.queue.Enqueue(ctx, id)
		if err != nil {
			log.Printf("[worker.fallback.failed] task_id=%d error=%v", id, err)
			continue
		}
		n++
		log.Printf("[worker.fallback.requeued] task_id=%d msg_id=%s", id, msgID)
	}
	return n
}
