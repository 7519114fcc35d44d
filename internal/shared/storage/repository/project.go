package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"rematch/internal/shared/model"
)

// ============================================================================
// Project
// ============================================================================

// CreateProject 创建项目
func (s *Store) CreateProject(ctx context.Context, p *model.Project) error {
	p.Created = now()
	query := s.rebind(`INSERT INTO projects (name, description, private, created) VALUES ($1, $2, $3, $4) RETURNING id`)
	return s.db.QueryRowContext(ctx, query, p.Name, p.Description, p.Private, p.Created).Scan(&p.ID)
}

// GetProject 获取项目
func (s *Store) GetProject(ctx context.Context, id int64) (*model.Project, error) {
	query := s.rebind(`SELECT id, name, description, private, created FROM projects WHERE id = $1`)
	p := &model.Project{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.Description, &p.Private, &p.Created)
	if err != nil {
		return nil, notFound(err, "project", id)
	}
	return p, nil
}

// ListProjects 列出全部项目
func (s *Store) ListProjects(ctx context.Context) ([]*model.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description, private, created FROM projects ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*model.Project
	for rows.Next() {
		p := &model.Project{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Private, &p.Created); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// ============================================================================
// File
// ============================================================================

// CreateFile 创建文件，ProjectID 非空时校验项目存在
func (s *Store) CreateFile(ctx context.Context, f *model.File) error {
	if f.ProjectID != nil {
		if _, err := s.GetProject(ctx, *f.ProjectID); err != nil {
			return err
		}
	}
	f.Created = now()
	query := s.rebind(`INSERT INTO files (project_id, name, description, md5hash, created) VALUES ($1, $2, $3, $4, $5) RETURNING id`)
	return s.db.QueryRowContext(ctx, query, nullInt64(f.ProjectID), f.Name, f.Description, f.MD5Hash, f.Created).Scan(&f.ID)
}

// GetFile 获取文件
func (s *Store) GetFile(ctx context.Context, id int64) (*model.File, error) {
	query := s.rebind(`SELECT id, project_id, name, description, md5hash, created FROM files WHERE id = $1`)
	f := &model.File{}
	var projectID sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, id).Scan(&f.ID, &projectID, &f.Name, &f.Description, &f.MD5Hash, &f.Created)
	if err != nil {
		return nil, notFound(err, "file", id)
	}
	f.ProjectID = int64Ptr(projectID)
	return f, nil
}

// ============================================================================
// FileVersion
// ============================================================================

// GetOrCreateFileVersion 幂等创建文件版本
//
// INSERT ... ON CONFLICT DO NOTHING RETURNING 在冲突时不返回行，
// 以此区分新建与复用，并发上传同一哈希时只有一方得到 NewlyCreated。
func (s *Store) GetOrCreateFileVersion(ctx context.Context, fileID int64, md5hash string) (*model.FileVersion, error) {
	if _, err := s.GetFile(ctx, fileID); err != nil {
		return nil, err
	}

	fv := &model.FileVersion{FileID: fileID, MD5Hash: md5hash, Created: now()}
	query := s.rebind(`
		INSERT INTO file_versions (file_id, md5hash, created) VALUES ($1, $2, $3)
		ON CONFLICT (file_id, md5hash) DO NOTHING
		RETURNING id`)
	err := s.db.QueryRowContext(ctx, query, fileID, md5hash, fv.Created).Scan(&fv.ID)
	switch {
	case err == nil:
		fv.NewlyCreated = true
		return fv, nil
	case errors.Is(err, sql.ErrNoRows):
		return s.GetFileVersion(ctx, fileID, md5hash)
	default:
		return nil, fmt.Errorf("create file version: %w", err)
	}
}

// GetFileVersion 按 (fileID, md5hash) 获取文件版本
func (s *Store) GetFileVersion(ctx context.Context, fileID int64, md5hash string) (*model.FileVersion, error) {
	query := s.rebind(`SELECT id, file_id, md5hash, created FROM file_versions WHERE file_id = $1 AND md5hash = $2`)
	fv := &model.FileVersion{}
	err := s.db.QueryRowContext(ctx, query, fileID, md5hash).Scan(&fv.ID, &fv.FileID, &fv.MD5Hash, &fv.Created)
	if err != nil {
		return nil, notFound(err, "file version", md5hash)
	}
	return fv, nil
}

// GetFileVersionByID 按 id 获取文件版本
func (s *Store) GetFileVersionByID(ctx context.Context, id int64) (*model.FileVersion, error) {
	query := s.rebind(`SELECT id, file_id, md5hash, created FROM file_versions WHERE id = $1`)
	fv := &model.FileVersion{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(&fv.ID, &fv.FileID, &fv.MD5Hash, &fv.Created)
	if err != nil {
		return nil, notFound(err, "file version", id)
	}
	return fv, nil
}

func (s *Store) fileIDForVersion(ctx context.Context, q querier, fileVersionID int64) (int64, error) {
	var fileID int64
	err := q.QueryRowContext(ctx, s.rebind(`SELECT file_id FROM file_versions WHERE id = $1`), fileVersionID).Scan(&fileID)
	if err != nil {
		return 0, notFound(err, "file version", fileVersionID)
	}
	return fileID, nil
}
