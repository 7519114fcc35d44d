package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func i64(v int64) *int64 { return &v }

func TestTaskStatus(t *testing.T) {
	assert.False(t, TaskStatusQueued.IsTerminal())
	assert.False(t, TaskStatusStarted.IsTerminal())
	assert.True(t, TaskStatusDone.IsTerminal())
	assert.True(t, TaskStatusFailed.IsTerminal())
	assert.True(t, TaskStatusDone.IsValid())
	assert.False(t, TaskStatus("running").IsValid())
}

func TestTask_IsComplete(t *testing.T) {
	two := 2
	tests := []struct {
		name string
		task Task
		want bool
	}{
		{"progress_max 未知", Task{Progress: 5}, false},
		{"未达上限", Task{Progress: 1, ProgressMax: &two}, false},
		{"达到上限", Task{Progress: 2, ProgressMax: &two}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.task.IsComplete())
		})
	}
}

func TestTaskCreateRequest_Validate(t *testing.T) {
	tests := []struct {
		name     string
		req      TaskCreateRequest
		wantErr  bool
		wantKind SourceKind
	}{
		{"整文件对项目", TaskCreateRequest{SourceFile: 1, TargetProject: i64(2)}, false, SourceKindIDB},
		{"缺少源文件", TaskCreateRequest{TargetProject: i64(2)}, true, ""},
		{"目标二者皆空", TaskCreateRequest{SourceFile: 1}, true, ""},
		{"目标二者皆有", TaskCreateRequest{SourceFile: 1, TargetProject: i64(2), TargetFile: i64(3)}, true, ""},
		{"目标文件等于源文件", TaskCreateRequest{SourceFile: 1, TargetFile: i64(1)}, true, ""},
		{"单函数", TaskCreateRequest{SourceFile: 1, TargetFile: i64(2), SourceKind: SourceKindSingle, SourceStart: i64(16), SourceEnd: i64(16)}, false, SourceKindSingle},
		{"单函数起止不同", TaskCreateRequest{SourceFile: 1, TargetFile: i64(2), SourceKind: SourceKindSingle, SourceStart: i64(16), SourceEnd: i64(32)}, true, ""},
		{"半开区间推断为 range", TaskCreateRequest{SourceFile: 1, TargetFile: i64(2), SourceStart: i64(0)}, false, SourceKindRange},
		{"区间反向", TaskCreateRequest{SourceFile: 1, TargetFile: i64(2), SourceStart: i64(9), SourceEnd: i64(1)}, true, ""},
		{"idb 带区间", TaskCreateRequest{SourceFile: 1, TargetFile: i64(2), SourceKind: SourceKindIDB, SourceEnd: i64(1)}, true, ""},
		{"未知类型", TaskCreateRequest{SourceFile: 1, TargetFile: i64(2), SourceKind: "bytes"}, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, tt.req.SourceKind)
		})
	}
}

func TestInstanceUpload_Validate(t *testing.T) {
	ok := InstanceUpload{
		FileVersion: 1, Type: InstanceTypeFunction, Offset: 4096,
		Vectors: []VectorPayload{{Type: "name_hash", TypeVersion: 1, Data: json.RawMessage(`"abc"`)}},
	}
	assert.NoError(t, ok.Validate())

	noVersion := ok
	noVersion.FileVersion = 0
	assert.Error(t, noVersion.Validate())

	emptyData := ok
	emptyData.Vectors = []VectorPayload{{Type: "name_hash", TypeVersion: 1}}
	assert.Error(t, emptyData.Validate())
}

func TestTask_JSONNullProgressMax(t *testing.T) {
	data, err := json.Marshal(Task{ID: 1, Status: TaskStatusQueued})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Contains(t, m, "progress_max")
	assert.Nil(t, m["progress_max"])
	assert.Equal(t, "queued", m["status"])
}
