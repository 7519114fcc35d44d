// Package redis 基于 Redis Streams 的任务事件总线
package redis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"rematch/internal/shared/eventbus"
	"rematch/internal/shared/model"
)

// Bus Redis 任务事件总线
type Bus struct {
	client *redis.Client
	block  time.Duration
}

var _ eventbus.EventBus = (*Bus)(nil)

// NewFromURL 从 URL 创建事件总线并检查连通性
func NewFromURL(redisURL string) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return New(client), nil
}

// New 使用已有客户端创建事件总线
func New(client *redis.Client) *Bus {
	return &Bus{client: client, block: 5 * time.Second}
}

// PublishTaskEvent 发布任务事件，结束事件为流设置过期时间
func (b *Bus) PublishTaskEvent(ctx context.Context, event *eventbus.TaskEvent) error {
	key := eventbus.StreamKey(event.TaskID)
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	args := &redis.XAddArgs{
		Stream: key,
		MaxLen: eventbus.MaxStreamLength,
		Approx: true,
		Values: map[string]interface{}{
			"type":         event.Type,
			"status":       string(event.Status),
			"progress":     strconv.Itoa(event.Progress),
			"progress_max": strconv.Itoa(event.ProgressMax),
			"timestamp":    ts.Format(time.RFC3339Nano),
		},
	}

	id, err := b.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("failed to publish task event: %w", err)
	}
	if event.Type == eventbus.EventFinished {
		if err := b.client.Expire(ctx, key, eventbus.FinishedRetention).Err(); err != nil {
			return fmt.Errorf("failed to expire task events: %w", err)
		}
	}

	log.Printf("[eventbus.published] task=%d id=%s type=%s", event.TaskID, id, event.Type)
	return nil
}

// SubscribeTaskEvents 订阅订阅时刻之后的新事件
func (b *Bus) SubscribeTaskEvents(ctx context.Context, taskID int64) (<-chan *eventbus.TaskEvent, error) {
	key := eventbus.StreamKey(taskID)
	ch := make(chan *eventbus.TaskEvent, 100)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			streams, err := b.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{key, lastID},
				Count:   10,
				Block:   b.block,
			}).Result()

			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() == nil {
					log.Printf("[eventbus.subscribe_failed] task=%d error=%v", taskID, err)
				}
				return
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					event := parseEvent(taskID, msg)
					select {
					case ch <- event:
						lastID = msg.ID
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch, nil
}

// DeleteTaskEvents 删除任务事件流
func (b *Bus) DeleteTaskEvents(ctx context.Context, taskID int64) error {
	return b.client.Del(ctx, eventbus.StreamKey(taskID)).Err()
}

// Close 关闭 Redis 连接
func (b *Bus) Close() error {
	return b.client.Close()
}

// parseEvent 解析 Stream 消息，缺失或非法字段保留零值
func parseEvent(taskID int64, msg redis.XMessage) *eventbus.TaskEvent {
	event := &eventbus.TaskEvent{ID: msg.ID, TaskID: taskID}
	if v, ok := msg.Values["type"].(string); ok {
		event.Type = v
	}
	if v, ok := msg.Values["status"].(string); ok {
		event.Status = model.TaskStatus(v)
	}
	if v, ok := msg.Values["progress"].(string); ok {
		event.Progress, _ = strconv.Atoi(v)
	}
	if v, ok := msg.Values["progress_max"].(string); ok {
		event.ProgressMax, _ = strconv.Atoi(v)
	}
	if v, ok := msg.Values["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			event.Timestamp = t
		}
	}
	return event
}
