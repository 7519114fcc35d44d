// Package collector 从二进制分析结果中采集函数特征向量与注解
//
// FunctionSource 是与具体反汇编工具解耦的输入，Extractor 是带版本的特征提取器。
// 同一二进制内容与提取器版本下，采集结果是确定的。
package collector

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Function 一个函数的布局与原始字节
type Function struct {
	Offset int64      `json:"offset"`
	Name   string     `json:"name"`
	Chunks [][2]int64 `json:"chunks"` // [start, end) 区间
	Bytes  []byte     `json:"bytes"`  // JSON 中为 base64
}

// Size 所有 chunk 的总长度
func (f *Function) Size() int64 {
	var n int64
	for _, c := range f.Chunks {
		n += c[1] - c[0]
	}
	return n
}

// FunctionSource 函数来源（反汇编数据库、导出文件等）
type FunctionSource interface {
	// Functions 返回全部函数偏移，升序
	Functions() []int64
	// Function 返回指定偏移的函数
	Function(offset int64) (*Function, error)
}

// Dump 工具无关的函数布局导出文件
//
//	{"functions": [{"offset": 4096, "name": "main", "chunks": [[4096, 4160]], "bytes": "VYnl..."}]}
type Dump struct {
	Entries []*Function `json:"functions"`

	byOffset map[int64]*Function
	offsets  []int64
}

// LoadDump 读取导出文件
func LoadDump(path string) (*Dump, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseDump(data)
}

// ParseDump 解析导出内容，偏移重复时报错
func ParseDump(data []byte) (*Dump, error) {
	d := &Dump{}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("parse dump: %w", err)
	}
	return d, d.index()
}

// NewDump 由内存中的函数列表构造
func NewDump(functions ...*Function) (*Dump, error) {
	d := &Dump{Entries: functions}
	return d, d.index()
}

func (d *Dump) index() error {
	d.byOffset = make(map[int64]*Function, len(d.Entries))
	d.offsets = make([]int64, 0, len(d.Entries))
	for _, fn := range d.Entries {
		if _, dup := d.byOffset[fn.Offset]; dup {
			return fmt.Errorf("duplicate function offset %#x", fn.Offset)
		}
		d.byOffset[fn.Offset] = fn
		d.offsets = append(d.offsets, fn.Offset)
	}
	sort.Slice(d.offsets, func(i, j int) bool { return d.offsets[i] < d.offsets[j] })
	return nil
}

func (d *Dump) Functions() []int64 {
	out := make([]int64, len(d.offsets))
	copy(out, d.offsets)
	return out
}

func (d *Dump) Function(offset int64) (*Function, error) {
	fn, ok := d.byOffset[offset]
	if !ok {
		return nil, fmt.Errorf("no function at offset %#x", offset)
	}
	return fn, nil
}
