package collector

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"rematch/internal/shared/model"
)

// Extractor 带版本的特征提取器
//
// Extract 返回 (nil, nil) 表示该函数不适用（例如自动生成的函数名），不产生载荷。
type Extractor interface {
	Type() string
	Version() int
	Extract(fn *Function) (json.RawMessage, error)
}

// ExtractError 单个偏移、单个类型的采集失败
type ExtractError struct {
	Offset int64
	Type   string
	Err    error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("collect %s at %#x: %v", e.Type, e.Offset, e.Err)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

// ErrDuplicateExtractor 同一类型注册了多个提取器
var ErrDuplicateExtractor = errors.New("duplicate extractor type")

// ============================================================================
// Registry
// ============================================================================

// Registry 按类型索引的提取器集合，保持注册顺序
type Registry struct {
	extractors []Extractor
	byType     map[string]Extractor
}

// NewRegistry 创建注册表，类型重复时报错
func NewRegistry(extractors ...Extractor) (*Registry, error) {
	r := &Registry{byType: make(map[string]Extractor, len(extractors))}
	for _, e := range extractors {
		if _, dup := r.byType[e.Type()]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateExtractor, e.Type())
		}
		r.byType[e.Type()] = e
		r.extractors = append(r.extractors, e)
	}
	return r, nil
}

// Get 按类型查找
func (r *Registry) Get(typ string) (Extractor, bool) {
	e, ok := r.byType[typ]
	return e, ok
}

// All 按注册顺序返回
func (r *Registry) All() []Extractor {
	return append([]Extractor(nil), r.extractors...)
}

// Types 按注册顺序返回类型名
func (r *Registry) Types() []string {
	out := make([]string, len(r.extractors))
	for i, e := range r.extractors {
		out[i] = e.Type()
	}
	return out
}

// DefaultVectors 内置向量提取器
func DefaultVectors() *Registry {
	r, _ := NewRegistry(NameHash{}, OpcodeHistogram{})
	return r
}

// DefaultAnnotations 内置注解提取器
func DefaultAnnotations() *Registry {
	r, _ := NewRegistry(NameAnnotation{}, AssemblySize{})
	return r
}

// ============================================================================
// 采集
// ============================================================================

// Collect 对一个偏移依次执行提取器，任一失败返回 *ExtractError
func Collect(src FunctionSource, offset int64, extractors []Extractor) ([]model.VectorPayload, error) {
	fn, err := src.Function(offset)
	if err != nil {
		return nil, &ExtractError{Offset: offset, Type: "function", Err: err}
	}
	return collectFunction(fn, extractors)
}

func collectFunction(fn *Function, extractors []Extractor) ([]model.VectorPayload, error) {
	out := make([]model.VectorPayload, 0, len(extractors))
	for _, e := range extractors {
		data, err := e.Extract(fn)
		if err != nil {
			return nil, &ExtractError{Offset: fn.Offset, Type: e.Type(), Err: err}
		}
		if data == nil {
			continue
		}
		out = append(out, model.VectorPayload{Type: e.Type(), TypeVersion: e.Version(), Data: data})
	}
	return out, nil
}

// Serialize 采集一个函数并组装为 POST /instances 的元素
func Serialize(src FunctionSource, fileVersionID, offset int64, vectors, annotations []Extractor) (model.InstanceUpload, error) {
	fn, err := src.Function(offset)
	if err != nil {
		return model.InstanceUpload{}, &ExtractError{Offset: offset, Type: "function", Err: err}
	}
	vs, err := collectFunction(fn, vectors)
	if err != nil {
		return model.InstanceUpload{}, err
	}
	as, err := collectFunction(fn, annotations)
	if err != nil {
		return model.InstanceUpload{}, err
	}
	return model.InstanceUpload{
		FileVersion: fileVersionID,
		Type:        model.InstanceTypeFunction,
		Offset:      offset,
		Vectors:     vs,
		Annotations: as,
	}, nil
}

// LayoutHash 函数布局（偏移 → chunks）的 md5，作为 FileVersion 的内容哈希
func LayoutHash(src FunctionSource) (string, error) {
	h := md5.New()
	for _, offset := range src.Functions() {
		fn, err := src.Function(offset)
		if err != nil {
			return "", err
		}
		chunks := append([][2]int64(nil), fn.Chunks...)
		sort.Slice(chunks, func(i, j int) bool { return chunks[i][0] < chunks[j][0] })
		fmt.Fprintf(h, "%d:", offset)
		for _, c := range chunks {
			fmt.Fprintf(h, "%d-%d,", c[0], c[1])
		}
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ============================================================================
// 内置提取器
// ============================================================================

// autoNamePattern 反汇编工具自动生成的函数名
var autoNamePattern = regexp.MustCompile(`^(sub|nullsub|j_sub|loc|unknown_libname|fn|func)_[0-9A-Fa-f]+(_\d+)?$`)

// stdcallSuffix 去除 @N 调用约定修饰
var stdcallSuffix = regexp.MustCompile(`@\d+$`)

// NormalizeName 名称归一化：去除前导下划线与 @N 后缀；自动名返回空串
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	name = stdcallSuffix.ReplaceAllString(name, "")
	name = strings.TrimLeft(name, "_")
	if name == "" || autoNamePattern.MatchString(name) {
		return ""
	}
	return name
}

// NameHash 归一化函数名的 md5
type NameHash struct{}

func (NameHash) Type() string { return "name_hash" }
func (NameHash) Version() int { return 1 }

func (NameHash) Extract(fn *Function) (json.RawMessage, error) {
	name := NormalizeName(fn.Name)
	if name == "" {
		return nil, nil
	}
	sum := md5.Sum([]byte(name))
	return json.Marshal(hex.EncodeToString(sum[:]))
}

// OpcodeHistogram 256 桶字节直方图，按总字节数归一化
type OpcodeHistogram struct{}

func (OpcodeHistogram) Type() string { return "opcode_histogram" }
func (OpcodeHistogram) Version() int { return 1 }

func (OpcodeHistogram) Extract(fn *Function) (json.RawMessage, error) {
	if len(fn.Bytes) == 0 {
		return nil, nil
	}
	var counts [256]int
	for _, b := range fn.Bytes {
		counts[b]++
	}
	hist := make([]float32, 256)
	total := float32(len(fn.Bytes))
	for i, c := range counts {
		hist[i] = float32(c) / total
	}
	return json.Marshal(hist)
}

// NameAnnotation 原始函数名
type NameAnnotation struct{}

func (NameAnnotation) Type() string { return "name" }
func (NameAnnotation) Version() int { return 1 }

func (NameAnnotation) Extract(fn *Function) (json.RawMessage, error) {
	return json.Marshal(fn.Name)
}

// AssemblySize 函数字节数
type AssemblySize struct{}

func (AssemblySize) Type() string { return "assembly_size" }
func (AssemblySize) Version() int { return 1 }

func (AssemblySize) Extract(fn *Function) (json.RawMessage, error) {
	size := fn.Size()
	if size < 0 {
		return nil, fmt.Errorf("invalid chunk layout, size %d", size)
	}
	return json.Marshal(map[string]int64{"size": size})
}
