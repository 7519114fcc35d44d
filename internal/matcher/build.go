package matcher

import (
	"fmt"

	"rematch/internal/config"
)

// factories 可通过配置启用的内置策略
var factories = map[string]func(cfg config.MatcherConfig) Strategy{
	HashStrategyName: func(config.MatcherConfig) Strategy {
		return NewHashStrategy()
	},
	CosineStrategyName: func(cfg config.MatcherConfig) Strategy {
		return NewCosineStrategy(cfg.CosineThreshold, cfg.CosineTopK)
	},
}

// BuildRegistry 按配置顺序构建注册表
//
// 未知名称返回 ErrUnknownStrategy，重复名称返回 ErrDuplicateStrategy，
// 两者都应在启动期终止进程。
func BuildRegistry(cfg config.MatcherConfig) (*Registry, error) {
	if len(cfg.Strategies) == 0 {
		return nil, fmt.Errorf("%w: no strategies configured", ErrUnknownStrategy)
	}
	r := &Registry{byName: make(map[string]Strategy)}
	for _, name := range cfg.Strategies {
		factory, ok := factories[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
		}
		if err := r.Register(factory(cfg)); err != nil {
			return nil, err
		}
	}
	return r, nil
}
