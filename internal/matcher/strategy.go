// Package matcher 匹配策略接口与注册表
//
// 每个策略只处理一种 (vector type, type version)，输入由编排器预先过滤。
// 策略以回调方式流式产出候选匹配，不要求输入有界。
package matcher

import (
	"context"
	"errors"

	"rematch/internal/shared/model"
)

var (
	// ErrDuplicateStrategy 策略标识重复注册，属于启动期配置错误
	ErrDuplicateStrategy = errors.New("duplicate match strategy")

	// ErrUnknownStrategy 请求了未注册的策略标识
	ErrUnknownStrategy = errors.New("unknown match strategy")
)

// Strategy 匹配策略接口
//
// Name 是写入 Match.Type 的策略标识，在注册表内唯一。
// Match 对 source 与 target 两组向量求候选匹配，通过 emit 逐条产出；
// 产出顺序不做保证，但对固定输入集合的产出集合必须确定。
type Strategy interface {
	// Name 策略标识
	Name() string

	// VectorType 处理的向量类型
	VectorType() string

	// VectorVersion 处理的向量类型版本
	VectorVersion() int

	// Match 执行匹配
	//
	// emit 返回错误时策略应立即停止并原样返回该错误。
	Match(ctx context.Context, source, target VectorSource, emit Emit) error
}

// VectorSource 可重复遍历的向量集合
type VectorSource interface {
	Each(ctx context.Context, fn func(*model.Vector) error) error
}

// Candidate 策略产出的一条候选匹配
type Candidate struct {
	FromVectorID   int64
	FromInstanceID int64
	ToVectorID     int64
	ToInstanceID   int64
	Score          float64
}

// Emit 候选匹配回调
type Emit func(Candidate) error

// SliceSource 内存中的向量集合，测试与小规模输入使用
type SliceSource []*model.Vector

// Each 按切片顺序遍历
func (s SliceSource) Each(ctx context.Context, fn func(*model.Vector) error) error {
	for _, v := range s {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}
