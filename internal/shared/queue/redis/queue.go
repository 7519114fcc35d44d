// Package redis 基于 Redis Streams 的任务队列
package redis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"rematch/internal/shared/queue"
)

// Queue Redis Streams 任务队列
type Queue struct {
	client *redis.Client
	stream string
	group  string
	maxLen int64
}

var _ queue.TaskQueue = (*Queue)(nil)

// NewFromURL 从 URL 创建队列并检查连通性
func NewFromURL(redisURL string) (*Queue, error) {
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

	log.Printf("[Redis] Connected to %s", opts.Addr)
	return New(client), nil
}

// New 使用已有客户端创建队列
func New(client *redis.Client) *Queue {
	return &Queue{
		client: client,
		stream: queue.KeyMatchTasks,
		group:  queue.WorkerConsumerGroup,
		maxLen: 10000,
	}
}

// Client 返回底层 Redis 客户端
func (q *Queue) Client() *redis.Client {
	return q.client
}

// Enqueue 将任务加入 Stream
func (q *Queue) Enqueue(ctx context.Context, taskID int64) (string, error) {
	args := &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"task_id":     strconv.FormatInt(taskID, 10),
			"enqueued_at": time.Now().Format(time.RFC3339Nano),
		},
	}
	msgID, err := q.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task %d: %w", taskID, err)
	}
	return msgID, nil
}

// EnsureGroup 创建消费者组，已存在时忽略 BUSYGROUP
func (q *Queue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s: %w", q.group, err)
	}
	return nil
}

// Consume 以消费者组方式领取新消息
func (q *Queue) Consume(ctx context.Context, consumerID string, count int64, block time.Duration) ([]*queue.TaskMessage, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumerID,
		Streams:  []string{q.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*queue.TaskMessage{}, nil
		}
		return nil, fmt.Errorf("failed to consume tasks: %w", err)
	}

	var messages []*queue.TaskMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			m, err := parseMessage(msg)
			if err != nil {
				// 无法解析的消息直接确认，避免反复投递
				log.Printf("[Redis/Queue] Dropping malformed message %s: %v", msg.ID, err)
				q.client.XAck(ctx, q.stream, q.group, msg.ID)
				continue
			}
			messages = append(messages, m)
		}
	}
	return messages, nil
}

// parseMessage 解析 Stream 消息
func parseMessage(msg redis.XMessage) (*queue.TaskMessage, error) {
	raw, ok := msg.Values["task_id"].(string)
	if !ok {
		return nil, fmt.Errorf("missing task_id")
	}
	taskID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid task_id %q: %w", raw, err)
	}
	m := &queue.TaskMessage{ID: msg.ID, TaskID: taskID}
	if enqueuedAt, ok := msg.Values["enqueued_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, enqueuedAt); err == nil {
			m.EnqueuedAt = t
		}
	}
	return m, nil
}

// Ack 确认消息已处理
func (q *Queue) Ack(ctx context.Context, messageID string) error {
	return q.client.XAck(ctx, q.stream, q.group, messageID).Err()
}

// Len 消费者组尚未领取的消息数
//
// 取 XINFO GROUPS 的 lag；组尚未创建时为整个 Stream 长度，
// lag 不可知时统计 last-delivered-id 之后的条目。
func (q *Queue) Len(ctx context.Context) (int64, error) {
	groups, err := q.client.XInfoGroups(ctx, q.stream).Result()
	if err != nil {
		if strings.Contains(err.Error(), "no such key") {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to inspect consumer groups: %w", err)
	}
	g, ok := findGroup(groups, q.group)
	if !ok {
		return q.client.XLen(ctx, q.stream).Result()
	}
	if g.Lag >= 0 {
		return g.Lag, nil
	}
	msgs, err := q.client.XRangeN(ctx, q.stream, "("+g.LastDeliveredID, "+", q.maxLen).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count undelivered messages: %w", err)
	}
	return int64(len(msgs)), nil
}

func findGroup(groups []redis.XInfoGroup, name string) (redis.XInfoGroup, bool) {
	for _, g := range groups {
		if g.Name == name {
			return g, true
		}
	}
	return redis.XInfoGroup{}, false
}

// Pending 未确认消息数量
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		return 0, err
	}
	return pending.Count, nil
}

// Close 关闭 Redis 连接
func (q *Queue) Close() error {
	return q.client.Close()
}
