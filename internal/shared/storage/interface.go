// Package storage 定义持久化存储层抽象接口
//
// 调用方（API handler、编排器、worker）只依赖接口，
// 具体实现在 repository/ 子包中，由 driver/ 提供连接与方言。
package storage

import (
	"context"
	"time"

	"rematch/internal/shared/model"
)

// ============================================================================
// 查询条件
// ============================================================================

// VectorFilter 向量过滤条件
//
// Type / TypeVersion 必填；其余为空表示不限制。
// 偏移区间为闭区间，两端独立可空。
type VectorFilter struct {
	Type          string
	TypeVersion   int
	FileID        *int64
	FileVersionID *int64
	ProjectID     *int64
	ExcludeFileID *int64
	OffsetStart   *int64
	OffsetEnd     *int64
}

// TaskFilter 任务列表过滤条件
type TaskFilter struct {
	Status model.TaskStatus
	Limit  int
	Offset int
}

// PageRequest 偏移分页请求
type PageRequest struct {
	Limit  int
	Offset int
}

// ============================================================================
// 领域存储接口
// ============================================================================

// ProjectStore 项目与文件
type ProjectStore interface {
	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, id int64) (*model.Project, error)
	ListProjects(ctx context.Context) ([]*model.Project, error)

	CreateFile(ctx context.Context, f *model.File) error
	GetFile(ctx context.Context, id int64) (*model.File, error)

	// GetOrCreateFileVersion 按 (fileID, md5hash) 幂等创建，NewlyCreated 标识本次是否新建
	GetOrCreateFileVersion(ctx context.Context, fileID int64, md5hash string) (*model.FileVersion, error)
	GetFileVersion(ctx context.Context, fileID int64, md5hash string) (*model.FileVersion, error)
	GetFileVersionByID(ctx context.Context, id int64) (*model.FileVersion, error)
}

// InstanceStore 实例、向量与注解
type InstanceStore interface {
	// CreateInstances 在单个事务中创建实例及其向量/注解，返回创建数量
	CreateInstances(ctx context.Context, uploads []model.InstanceUpload) (int, error)
	GetInstance(ctx context.Context, id int64) (*model.Instance, error)

	// HasVectors 是否存在满足条件的向量
	HasVectors(ctx context.Context, f VectorFilter) (bool, error)
	// EachVector 按 id 升序分页流式遍历向量，fn 执行期间不持有数据库游标
	EachVector(ctx context.Context, f VectorFilter, fn func(*model.Vector) error) error
}

// TaskStore 任务状态机
type TaskStore interface {
	CreateTask(ctx context.Context, t *model.Task) error
	GetTask(ctx context.Context, id int64) (*model.Task, error)
	ListTasks(ctx context.Context, f TaskFilter) ([]*model.Task, int64, error)
	// DeleteTask 仅允许删除 queued 或已结束的任务，执行中返回 ErrConflict
	DeleteTask(ctx context.Context, id int64) error

	// StartTask queued → started，同时置 progress = 0、progress_max
	StartTask(ctx context.Context, id int64, progressMax int) error
	// IncrementTaskProgress 原子递增 progress（仅 started）
	IncrementTaskProgress(ctx context.Context, id int64) error
	// FinishTask started → done | failed，finished 只写入一次
	FinishTask(ctx context.Context, id int64, status model.TaskStatus) error
	// ListStaleQueuedTasks 返回创建时间早于 before 仍处于 queued 的任务
	ListStaleQueuedTasks(ctx context.Context, before time.Time, limit int) ([]int64, error)
}

// MatchStore 匹配结果
type MatchStore interface {
	// CreateMatches 在单个事务中批量写入
	CreateMatches(ctx context.Context, matches []model.Match) error
	ListMatches(ctx context.Context, taskID int64, page PageRequest) ([]*model.Match, int64, error)
	// ListLocals 拥有至少一个出向匹配的源实例
	ListLocals(ctx context.Context, taskID int64, page PageRequest) ([]*model.Instance, int64, error)
	// ListRemotes 被任意匹配引用的目标实例
	ListRemotes(ctx context.Context, taskID int64, page PageRequest) ([]*model.Instance, int64, error)
	CountMatchesByType(ctx context.Context, taskID int64) (map[string]int64, error)
}

// PersistentStore 聚合接口
type PersistentStore interface {
	ProjectStore
	InstanceStore
	TaskStore
	MatchStore
	Close() error
}
