package queue

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"
)

// ErrClosed 队列已关闭
var ErrClosed = errors.New("queue closed")

// MemoryQueue 进程内任务队列
//
// 语义与 Redis Streams 消费者组一致：消息领取后进入 pending，Ack 后移除。
type MemoryQueue struct {
	mu      sync.Mutex
	seq     int64
	ready   []*TaskMessage
	pending map[string]*TaskMessage
	notify  chan struct{}
	closed  bool
}

// NewMemoryQueue 创建内存队列
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		pending: make(map[string]*TaskMessage),
		notify:  make(chan struct{}),
	}
}

var _ TaskQueue = (*MemoryQueue)(nil)

func (q *MemoryQueue) Enqueue(ctx context.Context, taskID int64) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrClosed
	}
	q.seq++
	msg := &TaskMessage{
		ID:         strconv.FormatInt(q.seq, 10) + "-0",
		TaskID:     taskID,
		EnqueuedAt: time.Now(),
	}
	q.ready = append(q.ready, msg)
	q.broadcast()
	return msg.ID, nil
}

// broadcast 唤醒所有等待中的消费者，调用方需持有锁
func (q *MemoryQueue) broadcast() {
	close(q.notify)
	q.notify = make(chan struct{})
}

func (q *MemoryQueue) EnsureGroup(ctx context.Context) error {
	return nil
}

func (q *MemoryQueue) Consume(ctx context.Context, consumerID string, count int64, block time.Duration) ([]*TaskMessage, error) {
	if count <= 0 {
		count = 1
	}
	var timeout <-chan time.Time
	if block > 0 {
		timer := time.NewTimer(block)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		if len(q.ready) > 0 {
			n := int(count)
			if n > len(q.ready) {
				n = len(q.ready)
			}
			batch := q.ready[:n:n]
			q.ready = q.ready[n:]
			for _, m := range batch {
				q.pending[m.ID] = m
			}
			q.mu.Unlock()
			return batch, nil
		}
		wait := q.notify
		q.mu.Unlock()

		if timeout == nil {
			return []*TaskMessage{}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return []*TaskMessage{}, nil
		case <-wait:
		}
	}
}

func (q *MemoryQueue) Ack(ctx context.Context, messageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, messageID)
	return nil
}

func (q *MemoryQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.ready)), nil
}

// Pending 已领取未确认的消息数
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.broadcast()
	}
	return nil
}
