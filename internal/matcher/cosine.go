package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/viant/vec/search"

	"rematch/internal/shared/model"
)

// CosineStrategyName 字节直方图余弦相似度的策略标识
const CosineStrategyName = "opcode_cosine"

// CosineStrategy 字节直方图余弦相似度匹配
//
// 分值为相似度 × 100，只保留不低于 Threshold 的结果；
// 每个 source 向量最多产出 TopK 条，同分时按 target 向量 id 升序取舍。
// 逐对精确计算，不做近似索引。
type CosineStrategy struct {
	Threshold float64
	TopK      int
}

// NewCosineStrategy 创建余弦策略，topK <= 0 表示不限制
func NewCosineStrategy(threshold float64, topK int) *CosineStrategy {
	return &CosineStrategy{Threshold: threshold, TopK: topK}
}

func (s *CosineStrategy) Name() string       { return CosineStrategyName }
func (s *CosineStrategy) VectorType() string { return "opcode_histogram" }
func (s *CosineStrategy) VectorVersion() int { return 1 }

type histogram struct {
	vectorID   int64
	instanceID int64
	values     search.Float32s
	magnitude  float32
}

// Match 实现 Strategy
func (s *CosineStrategy) Match(ctx context.Context, source, target VectorSource, emit Emit) error {
	var targets []histogram
	err := target.Each(ctx, func(v *model.Vector) error {
		h, err := decodeHistogram(v)
		if err != nil {
			return err
		}
		if h.magnitude == 0 {
			return nil
		}
		targets = append(targets, h)
		return nil
	})
	if err != nil {
		return fmt.Errorf("load target: %w", err)
	}
	if len(targets) == 0 {
		return nil
	}

	return source.Each(ctx, func(v *model.Vector) error {
		src, err := decodeHistogram(v)
		if err != nil {
			return err
		}
		if src.magnitude == 0 {
			return nil
		}
		best := make([]Candidate, 0, max(s.TopK, 0))
		for i := range targets {
			t := &targets[i]
			if len(t.values) != len(src.values) {
				return fmt.Errorf("vector %d and %d: dimension mismatch %d != %d",
					src.vectorID, t.vectorID, len(src.values), len(t.values))
			}
			distance := src.values.CosineDistance(t.values)
			score := float64(1-distance) * 100
			if score < s.Threshold {
				continue
			}
			best = s.keep(best, Candidate{
				FromVectorID:   src.vectorID,
				FromInstanceID: src.instanceID,
				ToVectorID:     t.vectorID,
				ToInstanceID:   t.instanceID,
				Score:          score,
			})
		}
		for _, c := range best {
			if err := emit(c); err != nil {
				return err
			}
		}
		return nil
	})
}

// keep 将 c 插入按 (score 降序, target id 升序) 排列的 best，超出 TopK 截断
func (s *CosineStrategy) keep(best []Candidate, c Candidate) []Candidate {
	pos := sort.Search(len(best), func(i int) bool {
		if best[i].Score != c.Score {
			return best[i].Score < c.Score
		}
		return best[i].ToVectorID > c.ToVectorID
	})
	if s.TopK > 0 && pos >= s.TopK {
		return best
	}
	best = append(best, Candidate{})
	copy(best[pos+1:], best[pos:])
	best[pos] = c
	if s.TopK > 0 && len(best) > s.TopK {
		best = best[:s.TopK]
	}
	return best
}

func decodeHistogram(v *model.Vector) (histogram, error) {
	var values []float32
	if err := json.Unmarshal(v.Data, &values); err != nil {
		return histogram{}, fmt.Errorf("vector %d: decode opcode_histogram: %w", v.ID, err)
	}
	h := histogram{vectorID: v.ID, instanceID: v.InstanceID, values: search.Float32s(values)}
	if len(values) > 0 {
		h.magnitude = h.values.Magnitude()
	}
	return h, nil
}
