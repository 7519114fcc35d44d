package matcher

import (
	"fmt"

	"rematch/internal/shared/model"
)

// Registry 有序策略注册表
//
// 注册顺序即执行顺序。注册表在启动期构建完成后只读。
type Registry struct {
	strategies []Strategy
	byName     map[string]Strategy
}

// NewRegistry 创建注册表，strategies 按给定顺序注册
func NewRegistry(strategies ...Strategy) (*Registry, error) {
	r := &Registry{byName: make(map[string]Strategy)}
	for _, s := range strategies {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register 追加一个策略，标识重复返回 ErrDuplicateStrategy
func (r *Registry) Register(s Strategy) error {
	if _, ok := r.byName[s.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStrategy, s.Name())
	}
	r.byName[s.Name()] = s
	r.strategies = append(r.strategies, s)
	return nil
}

// MustRegister 注册失败直接 panic，用于启动期
func (r *Registry) MustRegister(s Strategy) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// Get 按标识查找
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// Len 已注册策略数
func (r *Registry) Len() int {
	return len(r.strategies)
}

// Strategies 返回全部策略（副本）
func (r *Registry) Strategies() []Strategy {
	result := make([]Strategy, len(r.strategies))
	copy(result, r.strategies)
	return result
}

// Names 按注册顺序返回全部标识
func (r *Registry) Names() []string {
	names := make([]string, len(r.strategies))
	for i, s := range r.strategies {
		names[i] = s.Name()
	}
	return names
}

// Infos GET /strategies 的响应体
func (r *Registry) Infos() []model.StrategyInfo {
	infos := make([]model.StrategyInfo, len(r.strategies))
	for i, s := range r.strategies {
		infos[i] = model.StrategyInfo{
			Name:          s.Name(),
			VectorType:    s.VectorType(),
			VectorVersion: s.VectorVersion(),
		}
	}
	return infos
}

// Select 选出请求的策略
//
// ids 为空返回全部策略；否则按注册顺序返回 ids 中的策略（与 ids 的顺序无关），
// 任一未注册返回 ErrUnknownStrategy。
func (r *Registry) Select(ids []string) ([]Strategy, error) {
	if len(ids) == 0 {
		return r.Strategies(), nil
	}
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := r.byName[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, id)
		}
		wanted[id] = true
	}
	result := make([]Strategy, 0, len(wanted))
	for _, s := range r.strategies {
		if wanted[s.Name()] {
			result = append(result, s)
		}
	}
	return result, nil
}
