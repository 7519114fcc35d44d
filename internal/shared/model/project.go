// Package model 定义核心数据模型
//
// project.go 包含匹配对象的归属层级：
//   - Project：项目（文件分组）
//   - File：被分析的二进制文件
//   - FileVersion：按函数布局哈希寻址的文件快照
package model

import "time"

// Project 项目
type Project struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Private     bool      `json:"private"`
	Created     time.Time `json:"created"`
}

// File 二进制文件，可选归属某个项目
type File struct {
	ID          int64     `json:"id"`
	ProjectID   *int64    `json:"project,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	MD5Hash     string    `json:"md5hash"`
	Created     time.Time `json:"created"`
}

// FileVersion 文件版本
//
// 以 (file, md5hash) 为唯一键：同一布局哈希的重复上传复用同一版本，
// NewlyCreated 仅在本次请求创建时为 true。
type FileVersion struct {
	ID           int64     `json:"id"`
	FileID       int64     `json:"file"`
	MD5Hash      string    `json:"md5hash"`
	Created      time.Time `json:"created"`
	NewlyCreated bool      `json:"newly_created"`
}
