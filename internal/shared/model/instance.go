package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// InstanceTypeFunction 函数实例
const InstanceTypeFunction = "function"

// ============================================================================
// Instance / Vector / Annotation
// ============================================================================

// Instance 二进制中的一个函数实例，(FileVersionID, Offset) 唯一，创建后不可变
type Instance struct {
	ID            int64        `json:"id"`
	FileVersionID int64        `json:"file_version"`
	FileID        int64        `json:"file"`
	Offset        int64        `json:"offset"`
	Type          string       `json:"type"`
	Vectors       []Vector     `json:"vectors,omitempty"`
	Annotations   []Annotation `json:"annotations,omitempty"`
	Created       time.Time    `json:"created"`
}

// Vector 特征向量
//
// Data 的格式由 (Type, TypeVersion) 决定，TypeVersion 不同的向量不可直接比较。
// FileID / FileVersionID 创建时从所属实例冗余得到，便于按文件过滤。
type Vector struct {
	ID            int64           `json:"id"`
	InstanceID    int64           `json:"instance"`
	FileID        int64           `json:"file"`
	FileVersionID int64           `json:"file_version"`
	Type          string          `json:"type"`
	TypeVersion   int             `json:"type_version"`
	Data          json.RawMessage `json:"data"`
}

// Annotation 实例注解（函数名、汇编大小等），不参与匹配
type Annotation struct {
	ID          int64           `json:"id"`
	InstanceID  int64           `json:"instance"`
	Type        string          `json:"type"`
	TypeVersion int             `json:"type_version"`
	Data        json.RawMessage `json:"data"`
}

// ============================================================================
// 上传载荷
// ============================================================================

// VectorPayload 采集器产出的单个向量或注解
type VectorPayload struct {
	Type        string          `json:"type"`
	TypeVersion int             `json:"type_version"`
	Data        json.RawMessage `json:"data"`
}

// InstanceUpload POST /instances 的单个元素
type InstanceUpload struct {
	FileVersion int64           `json:"file_version"`
	Type        string          `json:"type"`
	Offset      int64           `json:"offset"`
	Vectors     []VectorPayload `json:"vectors"`
	Annotations []VectorPayload `json:"annotations"`
}

// Validate 校验上传载荷
func (u *InstanceUpload) Validate() error {
	if u.FileVersion <= 0 {
		return errors.New("file_version is required")
	}
	if u.Offset < 0 {
		return fmt.Errorf("offset must be non-negative, got %d", u.Offset)
	}
	if u.Type == "" {
		return errors.New("type is required")
	}
	for i, v := range u.Vectors {
		if v.Type == "" {
			return fmt.Errorf("vectors[%d]: type is required", i)
		}
		if len(v.Data) == 0 {
			return fmt.Errorf("vectors[%d]: data is required", i)
		}
	}
	for i, a := range u.Annotations {
		if a.Type == "" {
			return fmt.Errorf("annotations[%d]: type is required", i)
		}
	}
	return nil
}
