package repository

import (
	"fmt"

	"rematch/internal/shared/storage"
	"rematch/internal/shared/storage/dbutil"
	postgresdriver "rematch/internal/shared/storage/driver/postgres"
	sqlitedriver "rematch/internal/shared/storage/driver/sqlite"
)

// ============================================================================
// 多数据库工厂函数
// ============================================================================

var _ storage.PersistentStore = (*Store)(nil)

// OpenSQLite 创建 SQLite 存储（含自动建表）
func OpenSQLite(dsn string) (*Store, error) {
	db, err := sqlitedriver.Open(dsn)
	if err != nil {
		return nil, err
	}
	dialect := sqlitedriver.NewDialect()
	if err := dialect.AutoMigrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite auto-migrate failed: %w", err)
	}
	return NewStore(db, dialect), nil
}

// OpenPostgres 创建 PostgreSQL 存储（含自动建表）
func OpenPostgres(dsn string) (*Store, error) {
	db, err := postgresdriver.Open(dsn)
	if err != nil {
		return nil, err
	}
	dialect := postgresdriver.NewDialect()
	if err := dialect.AutoMigrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres auto-migrate failed: %w", err)
	}
	return NewStore(db, dialect), nil
}

// Open 根据驱动类型和 DSN 创建持久化存储
func Open(driver dbutil.DriverType, dsn string) (*Store, error) {
	switch driver {
	case dbutil.DriverPostgres:
		return OpenPostgres(dsn)
	case dbutil.DriverSQLite:
		return OpenSQLite(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}
