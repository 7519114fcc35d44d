package model

// Match 匹配结果，由编排器批量创建，不可变
//
// Type 为产生该结果的策略标识；Score 越高越可信。
type Match struct {
	ID             int64   `json:"id"`
	TaskID         int64   `json:"task"`
	Type           string  `json:"type"`
	FromVectorID   int64   `json:"from_vector"`
	ToVectorID     int64   `json:"to_vector"`
	FromInstanceID int64   `json:"from_instance"`
	ToInstanceID   int64   `json:"to_instance"`
	Score          float64 `json:"score"`
}

// Page 分页响应
type Page[T any] struct {
	Count    int64   `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

// StrategyInfo GET /strategies 的单个元素
type StrategyInfo struct {
	Name          string `json:"name"`
	VectorType    string `json:"vector_type"`
	VectorVersion int    `json:"vector_version"`
}
