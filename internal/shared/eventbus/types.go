// Package eventbus 事件总线类型定义
package eventbus

import (
	"strconv"
	"time"

	"rematch/internal/shared/model"
)

// ============================================================================
// 事件类型
// ============================================================================

const (
	EventStarted  = "started"
	EventProgress = "progress"
	EventFinished = "finished"
)

// TaskEvent 任务事件
type TaskEvent struct {
	ID          string           `json:"id"`
	TaskID      int64            `json:"task_id"`
	Type        string           `json:"type"`
	Status      model.TaskStatus `json:"status"`
	Progress    int              `json:"progress"`
	ProgressMax int              `json:"progress_max"`
	Timestamp   time.Time        `json:"timestamp"`
}

// ============================================================================
// Key 前缀和常量
// ============================================================================

const (
	// Key 前缀
	KeyTaskEvents = "rematch:task_events:"

	// Stream 最大长度
	MaxStreamLength = 1000

	// FinishedRetention 任务结束后事件流保留时长
	FinishedRetention = time.Hour
)

// StreamKey 任务事件流 key
func StreamKey(taskID int64) string {
	return KeyTaskEvents + strconv.FormatInt(taskID, 10)
}
