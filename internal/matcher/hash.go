package matcher

import (
	"context"
	"encoding/json"
	"fmt"

	"rematch/internal/shared/model"
)

// HashStrategyName 名称哈希精确匹配的策略标识
const HashStrategyName = "hash"

// HashScore 精确匹配的固定分值
const HashScore = 100

// HashStrategy 归一化函数名哈希精确匹配
//
// 先遍历 target 建立 digest → 向量索引，再流式遍历 source 逐条产出，
// 内存占用与 target 规模成正比，与 source 规模无关。
type HashStrategy struct{}

// NewHashStrategy 创建名称哈希策略
func NewHashStrategy() *HashStrategy {
	return &HashStrategy{}
}

func (s *HashStrategy) Name() string       { return HashStrategyName }
func (s *HashStrategy) VectorType() string { return "name_hash" }
func (s *HashStrategy) VectorVersion() int { return 1 }

type hashRef struct {
	vectorID   int64
	instanceID int64
}

// Match 实现 Strategy
func (s *HashStrategy) Match(ctx context.Context, source, target VectorSource, emit Emit) error {
	index := make(map[string][]hashRef)
	err := target.Each(ctx, func(v *model.Vector) error {
		digest, err := decodeDigest(v)
		if err != nil {
			return err
		}
		index[digest] = append(index[digest], hashRef{vectorID: v.ID, instanceID: v.InstanceID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("index target: %w", err)
	}
	if len(index) == 0 {
		return nil
	}

	return source.Each(ctx, func(v *model.Vector) error {
		digest, err := decodeDigest(v)
		if err != nil {
			return err
		}
		for _, ref := range index[digest] {
			if err := emit(Candidate{
				FromVectorID:   v.ID,
				FromInstanceID: v.InstanceID,
				ToVectorID:     ref.vectorID,
				ToInstanceID:   ref.instanceID,
				Score:          HashScore,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func decodeDigest(v *model.Vector) (string, error) {
	var digest string
	if err := json.Unmarshal(v.Data, &digest); err != nil {
		return "", fmt.Errorf("vector %d: decode name_hash: %w", v.ID, err)
	}
	return digest, nil
}
