package eventbus

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// subscriberBuffer 每个订阅者的缓冲，满时丢弃事件
const subscriberBuffer = 16

// MemoryBus 进程内事件总线，用于单进程部署与测试
//
// 只向发布时已存在的订阅者投递，不保留历史。
type MemoryBus struct {
	mu     sync.Mutex
	seq    int64
	subs   map[int64]map[chan *TaskEvent]struct{}
	closed bool
}

// NewMemoryBus 创建内存事件总线
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int64]map[chan *TaskEvent]struct{})}
}

var _ EventBus = (*MemoryBus)(nil)

func (b *MemoryBus) PublishTaskEvent(ctx context.Context, event *TaskEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.seq++
	e := *event
	e.ID = strconv.FormatInt(b.seq, 10) + "-0"
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	for ch := range b.subs[e.TaskID] {
		select {
		case ch <- &e:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) SubscribeTaskEvents(ctx context.Context, taskID int64) (<-chan *TaskEvent, error) {
	ch := make(chan *TaskEvent, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, nil
	}
	if b.subs[taskID] == nil {
		b.subs[taskID] = make(map[chan *TaskEvent]struct{})
	}
	b.subs[taskID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(taskID, ch)
	}()
	return ch, nil
}

func (b *MemoryBus) unsubscribe(taskID int64, ch chan *TaskEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.subs[taskID]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	if len(subs) == 0 {
		delete(b.subs, taskID)
	}
	close(ch)
}

// Subscribers 指定任务的订阅数
func (b *MemoryBus) Subscribers(taskID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[taskID])
}

func (b *MemoryBus) DeleteTaskEvents(ctx context.Context, taskID int64) error {
	return nil
}

// Close 关闭总线并关闭所有订阅 channel
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for taskID, subs := range b.subs {
		for ch := range subs {
			close(ch)
		}
		delete(b.subs, taskID)
	}
	return nil
}
