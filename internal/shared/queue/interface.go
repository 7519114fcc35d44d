// Package queue 匹配任务队列抽象
//
// API Server 创建任务后入队，worker 以消费者组方式领取，
// 生产环境由 Redis Streams 实现，单进程部署使用内存实现。
package queue

import (
	"context"
	"time"
)

// ============================================================================
// 消息与常量
// ============================================================================

// TaskMessage 待执行的匹配任务
type TaskMessage struct {
	ID         string
	TaskID     int64
	EnqueuedAt time.Time
}

const (
	// KeyMatchTasks 任务 Stream
	KeyMatchTasks = "rematch:tasks"

	// WorkerConsumerGroup worker 消费者组
	WorkerConsumerGroup = "match_workers"
)

// ============================================================================
// 队列接口
// ============================================================================

// TaskQueue 任务队列接口
type TaskQueue interface {
	// Enqueue 将任务加入队列，返回消息 ID
	Enqueue(ctx context.Context, taskID int64) (string, error)
	// EnsureGroup 创建消费者组（已存在时忽略）
	EnsureGroup(ctx context.Context) error
	// Consume 领取最多 count 条消息，最长阻塞 block；超时返回空切片
	Consume(ctx context.Context, consumerID string, count int64, block time.Duration) ([]*TaskMessage, error)
	// Ack 确认消息已处理
	Ack(ctx context.Context, messageID string) error
	// Len 队列中尚未领取的消息数
	Len(ctx context.Context) (int64, error)
	Close() error
}
