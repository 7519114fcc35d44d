// Package sqlite SQLite 数据库驱动
//
// 提供 SQLite 连接管理、方言实现和自动 Schema 迁移。
// 适用于开发、测试和单机部署场景。
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"rematch/internal/shared/storage/dbutil"

	_ "modernc.org/sqlite"
)

// SQLite 扩展错误码
const (
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

// Dialect SQLite 方言实现
type Dialect struct{}

var _ dbutil.Dialect = (*Dialect)(nil)

func (d *Dialect) DriverType() dbutil.DriverType {
	return dbutil.DriverSQLite
}

func (d *Dialect) Rebind(query string) string {
	return dbutil.StripPgCasts(dbutil.RebindToQuestion(query))
}

func (d *Dialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		code := coded.Code()
		return code == sqliteConstraintUnique || code == sqliteConstraintPrimaryKey
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// MaxParams SQLITE_MAX_VARIABLE_NUMBER 默认 32766，留出余量
func (d *Dialect) MaxParams() int {
	return 30000
}

func (d *Dialect) AutoMigrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// IsMemoryDSN 是否为内存数据库
func IsMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// Open 创建 SQLite 数据库连接
// dsn 示例: "file:rematch.db?cache=shared&mode=rwc" 或 ":memory:"
//
// 内存库的每个连接都是独立数据库，因此限制为单连接；
// 文件库通过 _pragma 参数让连接池中每个连接都启用外键与 busy_timeout。
func Open(dsn string) (*sql.DB, error) {
	memory := IsMemoryDSN(dsn)
	if !memory {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	var pragmas []string
	if memory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		pragmas = []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"}
	} else {
		pragmas = []string{"PRAGMA journal_mode=WAL"}
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", p, err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	return db, nil
}

// NewDialect 创建 SQLite 方言
func NewDialect() *Dialect {
	return &Dialect{}
}

// schema SQLite 完整建表语句（与 PostgreSQL 版本等价）
const schema = `
CREATE TABLE IF NOT EXISTS projects (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    private INTEGER NOT NULL DEFAULT 0,
    created DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id INTEGER REFERENCES projects(id) ON DELETE SET NULL,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    md5hash TEXT NOT NULL DEFAULT '',
    created DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_project ON files(project_id);

CREATE TABLE IF NOT EXISTS file_versions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
    md5hash TEXT NOT NULL,
    created DATETIME NOT NULL,
    UNIQUE (file_id, md5hash)
);

CREATE TABLE IF NOT EXISTS instances (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_version_id INTEGER NOT NULL REFERENCES file_versions(id) ON DELETE CASCADE,
    file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
    "offset" INTEGER NOT NULL,
    type TEXT NOT NULL,
    created DATETIME NOT NULL,
    UNIQUE (file_version_id, "offset")
);
CREATE INDEX IF NOT EXISTS idx_instances_file ON instances(file_id);

CREATE TABLE IF NOT EXISTS vectors (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    instance_id INTEGER NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
    file_id INTEGER NOT NULL,
    file_version_id INTEGER NOT NULL,
    type TEXT NOT NULL,
    type_version INTEGER NOT NULL,
    data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vectors_lookup ON vectors(type, type_version, file_id);
CREATE INDEX IF NOT EXISTS idx_vectors_instance ON vectors(instance_id);

CREATE TABLE IF NOT EXISTS annotations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    instance_id INTEGER NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
    type TEXT NOT NULL,
    type_version INTEGER NOT NULL,
    data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_annotations_instance ON annotations(instance_id);

CREATE TABLE IF NOT EXISTS tasks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    status TEXT NOT NULL DEFAULT 'queued',
    progress INTEGER NOT NULL DEFAULT 0,
    progress_max INTEGER,
    source_file INTEGER NOT NULL REFERENCES files(id),
    source_file_version INTEGER REFERENCES file_versions(id),
    source_start INTEGER,
    source_end INTEGER,
    source_kind TEXT NOT NULL DEFAULT 'idb',
    target_project INTEGER REFERENCES projects(id),
    target_file INTEGER REFERENCES files(id),
    methods TEXT NOT NULL DEFAULT '[]',
    created DATETIME NOT NULL,
    finished DATETIME
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, created);

CREATE TABLE IF NOT EXISTS matches (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    type TEXT NOT NULL,
    from_vector_id INTEGER NOT NULL,
    to_vector_id INTEGER NOT NULL,
    from_instance_id INTEGER NOT NULL,
    to_instance_id INTEGER NOT NULL,
    score REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_matches_from ON matches(task_id, from_instance_id);
CREATE INDEX IF NOT EXISTS idx_matches_to ON matches(task_id, to_instance_id);
`
