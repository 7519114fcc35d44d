// Package postgres PostgreSQL 数据库驱动
//
// 提供 PostgreSQL 连接管理、方言实现和内置 Schema 迁移。
package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rematch/internal/shared/storage/dbutil"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// uniqueViolation SQLSTATE unique_violation
const uniqueViolation = "23505"

// Dialect PostgreSQL 方言实现
type Dialect struct{}

var _ dbutil.Dialect = (*Dialect)(nil)

func (d *Dialect) DriverType() dbutil.DriverType {
	return dbutil.DriverPostgres
}

func (d *Dialect) Rebind(query string) string {
	return query
}

func (d *Dialect) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// MaxParams 协议上限 65535
func (d *Dialect) MaxParams() int {
	return 65000
}

func (d *Dialect) AutoMigrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// Open 创建 PostgreSQL 数据库连接
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return db, nil
}

// NewDialect 创建 PostgreSQL 方言
func NewDialect() *Dialect {
	return &Dialect{}
}

const schema = `
CREATE TABLE IF NOT EXISTS projects (
    id BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    private BOOLEAN NOT NULL DEFAULT FALSE,
    created TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
    id BIGSERIAL PRIMARY KEY,
    project_id BIGINT REFERENCES projects(id) ON DELETE SET NULL,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    md5hash TEXT NOT NULL DEFAULT '',
    created TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_project ON files(project_id);

CREATE TABLE IF NOT EXISTS file_versions (
    id BIGSERIAL PRIMARY KEY,
    file_id BIGINT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
    md5hash TEXT NOT NULL,
    created TIMESTAMPTZ NOT NULL,
    UNIQUE (file_id, md5hash)
);

CREATE TABLE IF NOT EXISTS instances (
    id BIGSERIAL PRIMARY KEY,
    file_version_id BIGINT NOT NULL REFERENCES file_versions(id) ON DELETE CASCADE,
    file_id BIGINT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
    "offset" BIGINT NOT NULL,
    type TEXT NOT NULL,
    created TIMESTAMPTZ NOT NULL,
    UNIQUE (file_version_id, "offset")
);
CREATE INDEX IF NOT EXISTS idx_instances_file ON instances(file_id);

CREATE TABLE IF NOT EXISTS vectors (
    id BIGSERIAL PRIMARY KEY,
    instance_id BIGINT NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
    file_id BIGINT NOT NULL,
    file_version_id BIGINT NOT NULL,
    type TEXT NOT NULL,
    type_version INTEGER NOT NULL,
    data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vectors_lookup ON vectors(type, type_version, file_id);
CREATE INDEX IF NOT EXISTS idx_vectors_instance ON vectors(instance_id);

CREATE TABLE IF NOT EXISTS annotations (
    id BIGSERIAL PRIMARY KEY,
    instance_id BIGINT NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
    type TEXT NOT NULL,
    type_version INTEGER NOT NULL,
    data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_annotations_instance ON annotations(instance_id);

CREATE TABLE IF NOT EXISTS tasks (
    id BIGSERIAL PRIMARY KEY,
    status VARCHAR(16) NOT NULL DEFAULT 'queued',
    progress INTEGER NOT NULL DEFAULT 0,
    progress_max INTEGER,
    source_file BIGINT NOT NULL REFERENCES files(id),
    source_file_version BIGINT REFERENCES file_versions(id),
    source_start BIGINT,
    source_end BIGINT,
    source_kind VARCHAR(16) NOT NULL DEFAULT 'idb',
    target_project BIGINT REFERENCES projects(id),
    target_file BIGINT REFERENCES files(id),
    methods TEXT NOT NULL DEFAULT '[]',
    created TIMESTAMPTZ NOT NULL,
    finished TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, created);

CREATE TABLE IF NOT EXISTS matches (
    id BIGSERIAL PRIMARY KEY,
    task_id BIGINT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    type TEXT NOT NULL,
    from_vector_id BIGINT NOT NULL,
    to_vector_id BIGINT NOT NULL,
    from_instance_id BIGINT NOT NULL,
    to_instance_id BIGINT NOT NULL,
    score DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_matches_from ON matches(task_id, from_instance_id);
CREATE INDEX IF NOT EXISTS idx_matches_to ON matches(task_id, to_instance_id);
`
