package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"rematch/internal/shared/model"
	"rematch/internal/shared/storage"
	"rematch/internal/shared/storage/dbutil"
)

const taskColumns = `id, status, progress, progress_max, source_file, source_file_version, source_start, source_end,
	source_kind, target_project, target_file, methods, created, finished`

func scanTask(row scanner) (*model.Task, error) {
	t := &model.Task{}
	var (
		progressMax                             sql.NullInt64
		fileVersion, start, end, project, file sql.NullInt64
		methods                                 []byte
		finished                                sql.NullTime
	)
	err := row.Scan(&t.ID, &t.Status, &t.Progress, &progressMax, &t.SourceFile, &fileVersion, &start, &end,
		&t.SourceKind, &project, &file, &methods, &t.Created, &finished)
	if err != nil {
		return nil, err
	}
	if progressMax.Valid {
		n := int(progressMax.Int64)
		t.ProgressMax = &n
	}
	t.SourceFileVersion = int64Ptr(fileVersion)
	t.SourceStart = int64Ptr(start)
	t.SourceEnd = int64Ptr(end)
	t.TargetProject = int64Ptr(project)
	t.TargetFile = int64Ptr(file)
	if len(methods) > 0 {
		if err := json.Unmarshal(methods, &t.Methods); err != nil {
			return nil, fmt.Errorf("decode task methods: %w", err)
		}
	}
	if finished.Valid {
		ts := finished.Time
		t.Finished = &ts
	}
	return t, nil
}

// CreateTask 创建任务，状态固定为 queued
func (s *Store) CreateTask(ctx context.Context, t *model.Task) error {
	if t.Methods == nil {
		t.Methods = []string{}
	}
	methods, err := json.Marshal(t.Methods)
	if err != nil {
		return err
	}
	t.Status = model.TaskStatusQueued
	t.Progress = 0
	t.ProgressMax = nil
	t.Finished = nil
	t.Created = now()

	query := s.rebind(`
		INSERT INTO tasks (status, progress, source_file, source_file_version, source_start, source_end,
			source_kind, target_project, target_file, methods, created)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`)
	return s.db.QueryRowContext(ctx, query, string(t.Status), t.Progress, t.SourceFile,
		nullInt64(t.SourceFileVersion), nullInt64(t.SourceStart), nullInt64(t.SourceEnd),
		string(t.SourceKind), nullInt64(t.TargetProject), nullInt64(t.TargetFile), string(methods), t.Created,
	).Scan(&t.ID)
}

// GetTask 获取任务
func (s *Store) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	query := s.rebind(`SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`)
	t, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "task", id)
	}
	return t, nil
}

// ListTasks 列出任务（按创建时间倒序），返回当前页与总数
func (s *Store) ListTasks(ctx context.Context, f storage.TaskFilter) ([]*model.Task, int64, error) {
	var conds []string
	var args []any
	if f.Status != "" {
		conds = append(conds, "status = $1")
		args = append(args, string(f.Status))
	}
	where := dbutil.Where(conds)

	var count int64
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM tasks`+where), args...).Scan(&count); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	n := len(args)
	query := s.rebind(`SELECT ` + taskColumns + ` FROM tasks` + where +
		fmt.Sprintf(` ORDER BY id DESC LIMIT $%d OFFSET $%d`, n+1, n+2))
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, t)
	}
	return tasks, count, rows.Err()
}

// DeleteTask 删除任务及其匹配结果，执行中的任务不可删除
func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	query := s.rebind(`DELETE FROM tasks WHERE id = $1 AND status <> $2`)
	res, err := s.db.ExecContext(ctx, query, id, string(model.TaskStatusStarted))
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, id)
}

// ============================================================================
// 状态迁移
// ============================================================================

// StartTask queued → started
func (s *Store) StartTask(ctx context.Context, id int64, progressMax int) error {
	query := s.rebind(`UPDATE tasks SET status = $1, progress = 0, progress_max = $2 WHERE id = $3 AND status = $4`)
	res, err := s.db.ExecContext(ctx, query, string(model.TaskStatusStarted), progressMax, id, string(model.TaskStatusQueued))
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, id)
}

// IncrementTaskProgress 由数据库完成 progress + 1，不做读改写
func (s *Store) IncrementTaskProgress(ctx context.Context, id int64) error {
	query := s.rebind(`UPDATE tasks SET progress = progress + 1 WHERE id = $1 AND status = $2`)
	res, err := s.db.ExecContext(ctx, query, id, string(model.TaskStatusStarted))
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, id)
}

// FinishTask started → done | failed
func (s *Store) FinishTask(ctx context.Context, id int64, status model.TaskStatus) error {
	if !status.IsTerminal() {
		return fmt.Errorf("finish task %d with non-terminal status %q", id, status)
	}
	query := s.rebind(`UPDATE tasks SET status = $1, finished = $2 WHERE id = $3 AND status = $4 AND finished IS NULL`)
	res, err := s.db.ExecContext(ctx, query, string(status), now(), id, string(model.TaskStatusStarted))
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, id)
}

// checkTransition 受保护的更新未命中时区分 ErrNotFound 与 ErrConflict
func (s *Store) checkTransition(ctx context.Context, res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("task %d is %s: %w", id, t.Status, storage.ErrConflict)
}

// ListStaleQueuedTasks 返回创建时间早于 before 仍处于 queued 的任务
func (s *Store) ListStaleQueuedTasks(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	query := s.rebind(`SELECT id FROM tasks WHERE status = $1 AND created < $2 ORDER BY id LIMIT $3`)
	rows, err := s.db.QueryContext(ctx, query, string(model.TaskStatusQueued), before.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
