// Package storage 定义存储层领域错误
//
// 隔离业务层与底层存储引擎的错误类型，
// repository 负责将驱动错误（sql.ErrNoRows、唯一约束冲突等）转换为这些领域错误。
package storage

import "errors"

var (
	// ErrNotFound 实体不存在
	ErrNotFound = errors.New("entity not found")

	// ErrConflict 状态冲突（受保护的状态迁移未命中）
	ErrConflict = errors.New("conflict: entity is not in the expected state")

	// ErrDuplicate 唯一键冲突
	ErrDuplicate = errors.New("duplicate: entity already exists")
)
