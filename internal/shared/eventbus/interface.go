// Package eventbus 任务事件总线抽象接口
//
// 编排器在任务状态或进度变化时发布事件，进度网关订阅后立即刷新，
// 不必等待下一次轮询。事件只作为唤醒信号，任务记录仍以存储层为准。
package eventbus

import (
	"context"
)

// ============================================================================
// 事件总线接口定义
// ============================================================================

// Publisher 发布任务事件
type Publisher interface {
	PublishTaskEvent(ctx context.Context, event *TaskEvent) error
}

// Subscriber 订阅单个任务的事件
//
// 返回的 channel 在 ctx 结束或总线关闭时关闭。
type Subscriber interface {
	SubscribeTaskEvents(ctx context.Context, taskID int64) (<-chan *TaskEvent, error)
}

// ============================================================================
// 组合接口
// ============================================================================

// EventBus 事件总线组合接口
type EventBus interface {
	Publisher
	Subscriber
	DeleteTaskEvents(ctx context.Context, taskID int64) error
	Close() error
}
