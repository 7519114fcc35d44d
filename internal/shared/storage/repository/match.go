package repository

import (
	"context"
	"database/sql"
	"fmt"

	"rematch/internal/shared/model"
	"rematch/internal/shared/storage"
	"rematch/internal/shared/storage/dbutil"
)

const matchColumnCount = 7

// CreateMatches 在单个事务中批量写入匹配结果
//
// 按方言参数上限切分为多条多行 INSERT。
func (s *Store) CreateMatches(ctx context.Context, matches []model.Match) error {
	if len(matches) == 0 {
		return nil
	}
	rowsPerStmt := s.dialect.MaxParams() / matchColumnCount
	if rowsPerStmt > 1000 {
		rowsPerStmt = 1000
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for start := 0; start < len(matches); start += rowsPerStmt {
			end := start + rowsPerStmt
			if end > len(matches) {
				end = len(matches)
			}
			chunk := matches[start:end]
			args := make([]any, 0, len(chunk)*matchColumnCount)
			for _, m := range chunk {
				args = append(args, m.TaskID, m.Type, m.FromVectorID, m.ToVectorID, m.FromInstanceID, m.ToInstanceID, m.Score)
			}
			query := s.rebind(`INSERT INTO matches (task_id, type, from_vector_id, to_vector_id, from_instance_id, to_instance_id, score) VALUES ` +
				dbutil.ValuesList(len(chunk), matchColumnCount))
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("insert matches: %w", err)
			}
		}
		return nil
	})
}

// ListMatches 分页列出任务的匹配结果
func (s *Store) ListMatches(ctx context.Context, taskID int64, page storage.PageRequest) ([]*model.Match, int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM matches WHERE task_id = $1`), taskID).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	query := s.rebind(`SELECT id, task_id, type, from_vector_id, to_vector_id, from_instance_id, to_instance_id, score
		FROM matches WHERE task_id = $1 ORDER BY id LIMIT $2 OFFSET $3`)
	rows, err := s.db.QueryContext(ctx, query, taskID, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	matches := make([]*model.Match, 0, page.Limit)
	for rows.Next() {
		m := &model.Match{}
		if err := rows.Scan(&m.ID, &m.TaskID, &m.Type, &m.FromVectorID, &m.ToVectorID, &m.FromInstanceID, &m.ToInstanceID, &m.Score); err != nil {
			return nil, 0, err
		}
		matches = append(matches, m)
	}
	return matches, count, rows.Err()
}

// ListLocals 拥有至少一个出向匹配的源实例
func (s *Store) ListLocals(ctx context.Context, taskID int64, page storage.PageRequest) ([]*model.Instance, int64, error) {
	return s.listMatchedInstances(ctx, "from_instance_id", taskID, page)
}

// ListRemotes 被任意匹配引用的目标实例
func (s *Store) ListRemotes(ctx context.Context, taskID int64, page storage.PageRequest) ([]*model.Instance, int64, error) {
	return s.listMatchedInstances(ctx, "to_instance_id", taskID, page)
}

// listMatchedInstances column 只能是 from_instance_id / to_instance_id
func (s *Store) listMatchedInstances(ctx context.Context, column string, taskID int64, page storage.PageRequest) ([]*model.Instance, int64, error) {
	var count int64
	countQuery := s.rebind(fmt.Sprintf(`SELECT COUNT(DISTINCT %s) FROM matches WHERE task_id = $1`, column))
	if err := s.db.QueryRowContext(ctx, countQuery, taskID).Scan(&count); err != nil {
		return nil, 0, err
	}

	query := s.rebind(fmt.Sprintf(`SELECT %s FROM instances i
		WHERE i.id IN (SELECT %s FROM matches WHERE task_id = $1)
		ORDER BY i.id LIMIT $2 OFFSET $3`, instanceColumns, column))
	rows, err := s.db.QueryContext(ctx, query, taskID, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, err
	}
	instances := make([]*model.Instance, 0, page.Limit)
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		instances = append(instances, inst)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if err := s.attachAnnotations(ctx, instances); err != nil {
		return nil, 0, err
	}
	return instances, count, nil
}

// CountMatchesByType 按策略统计匹配数（任务报告使用）
func (s *Store) CountMatchesByType(ctx context.Context, taskID int64) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT type, COUNT(*) FROM matches WHERE task_id = $1 GROUP BY type`), taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var typ string
		var n int64
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		counts[typ] = n
	}
	return counts, rows.Err()
}
