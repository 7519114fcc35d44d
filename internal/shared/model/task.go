// task.go 包含匹配任务相关的数据模型：
//   - TaskStatus：任务状态枚举
//   - SourceKind：源选择方式
//   - Task：任务实例
//   - TaskCreateRequest：创建任务请求
package model

import (
	"errors"
	"fmt"
	"time"
)

// ============================================================================
// TaskStatus - 任务状态
// ============================================================================

// TaskStatus 任务状态
//
// 生命周期：queued → started → done | failed，不会回退。
type TaskStatus string

const (
	// TaskStatusQueued 已创建，等待 worker 领取
	TaskStatusQueued TaskStatus = "queued"

	// TaskStatusStarted 执行中，progress_max 已确定
	TaskStatusStarted TaskStatus = "started"

	// TaskStatusDone 全部策略执行完毕
	TaskStatusDone TaskStatus = "done"

	// TaskStatusFailed 某个策略出现未处理错误
	TaskStatusFailed TaskStatus = "failed"
)

// IsTerminal 是否为终态
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusDone || s == TaskStatusFailed
}

// IsValid 是否为合法状态
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusStarted, TaskStatusDone, TaskStatusFailed:
		return true
	}
	return false
}

// ============================================================================
// SourceKind - 源选择方式
// ============================================================================

type SourceKind string

const (
	// SourceKindIDB 整个源文件
	SourceKindIDB SourceKind = "idb"
	// SourceKindSingle 单个函数，source_start == source_end
	SourceKindSingle SourceKind = "single"
	// SourceKindRange 偏移闭区间 [source_start, source_end]，两端均可为空
	SourceKindRange SourceKind = "range"
)

// ============================================================================
// Task
// ============================================================================

// Task 匹配任务
type Task struct {
	ID                int64      `json:"id"`
	Status            TaskStatus `json:"status"`
	Progress          int        `json:"progress"`
	ProgressMax       *int       `json:"progress_max"`
	SourceFile        int64      `json:"source_file"`
	SourceFileVersion *int64     `json:"source_file_version"`
	SourceStart       *int64     `json:"source_start"`
	SourceEnd         *int64     `json:"source_end"`
	SourceKind        SourceKind `json:"source_kind"`
	TargetProject     *int64     `json:"target_project"`
	TargetFile        *int64     `json:"target_file"`
	Methods           []string   `json:"methods"`
	Created           time.Time  `json:"created"`
	Finished          *time.Time `json:"finished"`
}

// IsComplete 客户端轮询的完成判定：progress_max 已知且 progress 已达上限
func (t *Task) IsComplete() bool {
	return t.ProgressMax != nil && t.Progress >= *t.ProgressMax
}

// TaskCreateRequest 创建任务请求
type TaskCreateRequest struct {
	SourceFile        int64      `json:"source_file"`
	SourceFileVersion *int64     `json:"source_file_version,omitempty"`
	SourceStart       *int64     `json:"source_start,omitempty"`
	SourceEnd         *int64     `json:"source_end,omitempty"`
	SourceKind        SourceKind `json:"source_kind,omitempty"`
	TargetProject     *int64     `json:"target_project,omitempty"`
	TargetFile        *int64     `json:"target_file,omitempty"`
	Methods           []string   `json:"methods,omitempty"`
}

// Validate 校验请求并补齐默认 SourceKind
func (r *TaskCreateRequest) Validate() error {
	if r.SourceFile <= 0 {
		return errors.New("source_file is required")
	}
	if (r.TargetProject == nil) == (r.TargetFile == nil) {
		return errors.New("exactly one of target_project and target_file is required")
	}
	if r.TargetFile != nil && *r.TargetFile == r.SourceFile {
		return errors.New("target_file must differ from source_file")
	}
	if r.SourceKind == "" {
		switch {
		case r.SourceStart == nil && r.SourceEnd == nil:
			r.SourceKind = SourceKindIDB
		default:
			r.SourceKind = SourceKindRange
		}
	}
	switch r.SourceKind {
	case SourceKindIDB:
		if r.SourceStart != nil || r.SourceEnd != nil {
			return errors.New("source_kind idb does not accept source_start/source_end")
		}
	case SourceKindSingle:
		if r.SourceStart == nil || r.SourceEnd == nil || *r.SourceStart != *r.SourceEnd {
			return errors.New("source_kind single requires source_start == source_end")
		}
	case SourceKindRange:
		if r.SourceStart != nil && r.SourceEnd != nil && *r.SourceStart > *r.SourceEnd {
			return fmt.Errorf("source_start %d is greater than source_end %d", *r.SourceStart, *r.SourceEnd)
		}
	default:
		return fmt.Errorf("unsupported source_kind %q", r.SourceKind)
	}
	return nil
}
