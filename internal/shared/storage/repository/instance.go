package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"rematch/internal/shared/model"
	"rematch/internal/shared/storage"
	"rematch/internal/shared/storage/dbutil"
)

// ============================================================================
// Instance 写入
// ============================================================================

// CreateInstances 在单个事务中创建实例及其向量/注解
//
// 向量的 file_id / file_version_id 从所属实例冗余写入。
// (file_version, offset) 重复时整批回滚并返回 ErrDuplicate。
func (s *Store) CreateInstances(ctx context.Context, uploads []model.InstanceUpload) (int, error) {
	if len(uploads) == 0 {
		return 0, nil
	}
	created := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		fileIDs := make(map[int64]int64)
		insertInstance := s.rebind(`INSERT INTO instances (file_version_id, file_id, "offset", type, created) VALUES ($1, $2, $3, $4, $5) RETURNING id`)
		insertVector := s.rebind(`INSERT INTO vectors (instance_id, file_id, file_version_id, type, type_version, data) VALUES ($1, $2, $3, $4, $5, $6)`)
		insertAnnotation := s.rebind(`INSERT INTO annotations (instance_id, type, type_version, data) VALUES ($1, $2, $3, $4)`)

		for i := range uploads {
			u := &uploads[i]
			fileID, ok := fileIDs[u.FileVersion]
			if !ok {
				var err error
				if fileID, err = s.fileIDForVersion(ctx, tx, u.FileVersion); err != nil {
					return err
				}
				fileIDs[u.FileVersion] = fileID
			}

			var instanceID int64
			err := tx.QueryRowContext(ctx, insertInstance, u.FileVersion, fileID, u.Offset, u.Type, now()).Scan(&instanceID)
			if err != nil {
				if s.dialect.IsUniqueViolation(err) {
					return fmt.Errorf("instance (file_version=%d, offset=%d): %w", u.FileVersion, u.Offset, storage.ErrDuplicate)
				}
				return fmt.Errorf("insert instance: %w", err)
			}
			for _, v := range u.Vectors {
				if _, err := tx.ExecContext(ctx, insertVector, instanceID, fileID, u.FileVersion, v.Type, v.TypeVersion, string(v.Data)); err != nil {
					return fmt.Errorf("insert vector %s: %w", v.Type, err)
				}
			}
			for _, a := range u.Annotations {
				if _, err := tx.ExecContext(ctx, insertAnnotation, instanceID, a.Type, a.TypeVersion, string(a.Data)); err != nil {
					return fmt.Errorf("insert annotation %s: %w", a.Type, err)
				}
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// ============================================================================
// Instance 读取
// ============================================================================

const instanceColumns = `i.id, i.file_version_id, i.file_id, i."offset", i.type, i.created`

func scanInstance(row scanner) (*model.Instance, error) {
	inst := &model.Instance{}
	err := row.Scan(&inst.ID, &inst.FileVersionID, &inst.FileID, &inst.Offset, &inst.Type, &inst.Created)
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// GetInstance 获取实例（含向量与注解）
func (s *Store) GetInstance(ctx context.Context, id int64) (*model.Instance, error) {
	query := s.rebind(`SELECT ` + instanceColumns + ` FROM instances i WHERE i.id = $1`)
	inst, err := scanInstance(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "instance", id)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+vectorColumns+` FROM vectors v WHERE v.instance_id = $1 ORDER BY v.id`), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		v, err := scanVector(rows)
		if err != nil {
			return nil, err
		}
		inst.Vectors = append(inst.Vectors, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachAnnotations(ctx, []*model.Instance{inst}); err != nil {
		return nil, err
	}
	return inst, nil
}

// attachAnnotations 为一页实例批量加载注解
func (s *Store) attachAnnotations(ctx context.Context, instances []*model.Instance) error {
	if len(instances) == 0 {
		return nil
	}
	byID := make(map[int64]*model.Instance, len(instances))
	args := make([]any, len(instances))
	for i, inst := range instances {
		byID[inst.ID] = inst
		args[i] = inst.ID
	}
	query := s.rebind(`SELECT id, instance_id, type, type_version, data FROM annotations WHERE instance_id IN (` +
		dbutil.PlaceholderList(1, len(args)) + `) ORDER BY id`)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var a model.Annotation
		var data []byte
		if err := rows.Scan(&a.ID, &a.InstanceID, &a.Type, &a.TypeVersion, &data); err != nil {
			return err
		}
		a.Data = data
		if inst := byID[a.InstanceID]; inst != nil {
			inst.Annotations = append(inst.Annotations, a)
		}
	}
	return rows.Err()
}

// ============================================================================
// Vector 流式读取
// ============================================================================

const vectorColumns = `v.id, v.instance_id, v.file_id, v.file_version_id, v.type, v.type_version, v.data`

func scanVector(row scanner) (*model.Vector, error) {
	v := &model.Vector{}
	var data []byte
	if err := row.Scan(&v.ID, &v.InstanceID, &v.FileID, &v.FileVersionID, &v.Type, &v.TypeVersion, &data); err != nil {
		return nil, err
	}
	v.Data = data
	return v, nil
}

// vectorConditions 将 VectorFilter 转换为 WHERE 条件，占位符从 $1 开始顺序编号
func vectorConditions(f storage.VectorFilter) ([]string, []any) {
	conds := []string{"v.type = $1", "v.type_version = $2"}
	args := []any{f.Type, f.TypeVersion}
	add := func(expr string, val any) {
		args = append(args, val)
		conds = append(conds, strings.Replace(expr, "?", fmt.Sprintf("$%d", len(args)), 1))
	}
	if f.FileID != nil {
		add("v.file_id = ?", *f.FileID)
	}
	if f.FileVersionID != nil {
		add("v.file_version_id = ?", *f.FileVersionID)
	}
	if f.ProjectID != nil {
		add("v.file_id IN (SELECT id FROM files WHERE project_id = ?)", *f.ProjectID)
	}
	if f.ExcludeFileID != nil {
		add("v.file_id <> ?", *f.ExcludeFileID)
	}
	if f.OffsetStart != nil || f.OffsetEnd != nil {
		sub := "v.instance_id IN (SELECT id FROM instances WHERE 1 = 1"
		if f.OffsetStart != nil {
			args = append(args, *f.OffsetStart)
			sub += fmt.Sprintf(` AND "offset" >= $%d`, len(args))
		}
		if f.OffsetEnd != nil {
			args = append(args, *f.OffsetEnd)
			sub += fmt.Sprintf(` AND "offset" <= $%d`, len(args))
		}
		conds = append(conds, sub+")")
	}
	return conds, args
}

// HasVectors 是否存在满足条件的向量
func (s *Store) HasVectors(ctx context.Context, f storage.VectorFilter) (bool, error) {
	conds, args := vectorConditions(f)
	query := s.rebind(`SELECT v.id FROM vectors v` + dbutil.Where(conds) + ` LIMIT 1`)
	var id int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// EachVector 按 id 升序的 keyset 分页遍历
//
// 每页读完并关闭游标后才回调 fn，回调中可以安全地写库。
func (s *Store) EachVector(ctx context.Context, f storage.VectorFilter, fn func(*model.Vector) error) error {
	conds, args := vectorConditions(f)
	conds = append(conds, fmt.Sprintf("v.id > $%d", len(args)+1))
	query := s.rebind(`SELECT ` + vectorColumns + ` FROM vectors v` + dbutil.Where(conds) +
		fmt.Sprintf(` ORDER BY v.id LIMIT $%d`, len(args)+2))

	var last int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := s.vectorPage(ctx, query, append(append([]any{}, args...), last, s.vectorPageSize))
		if err != nil {
			return err
		}
		for _, v := range page {
			if err := fn(v); err != nil {
				return err
			}
		}
		if len(page) < s.vectorPageSize {
			return nil
		}
		last = page[len(page)-1].ID
	}
}

func (s *Store) vectorPage(ctx context.Context, query string, args []any) ([]*model.Vector, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := make([]*model.Vector, 0, s.vectorPageSize)
	for rows.Next() {
		v, err := scanVector(rows)
		if err != nil {
			return nil, err
		}
		page = append(page, v)
	}
	return page, rows.Err()
}
