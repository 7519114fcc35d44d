package model

import "time"

// StrategyReport 单个策略的执行摘要
type StrategyReport struct {
	Strategy string        `json:"strategy"`
	Skipped  bool          `json:"skipped"`
	Matches  int64         `json:"matches"`
	Took     time.Duration `json:"took_ns"`
}

// TaskReport 任务结束后归档的执行报告
type TaskReport struct {
	TaskID     int64            `json:"task_id"`
	Status     TaskStatus       `json:"status"`
	Strategies []StrategyReport `json:"strategies"`
	Error      string           `json:"error,omitempty"`
	Started    time.Time        `json:"started"`
	Finished   time.Time        `json:"finished"`
}
