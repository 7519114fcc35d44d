package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rematch/internal/client"
	"rematch/internal/collector"
	"rematch/internal/config"
	"rematch/internal/shared/model"
)

func writeDump(t *testing.T) string {
	t.Helper()
	dump := map[string]any{
		"functions": []map[string]any{
			{"offset": 4096, "name": "main", "chunks": [][2]int64{{4096, 4100}}, "bytes": []byte{0x55, 0x89, 0xe5, 0xc3}},
			{"offset": 8192, "name": "parse_header", "chunks": [][2]int64{{8192, 8194}}, "bytes": []byte{0x31, 0xc0}},
		},
	}
	data, err := json.Marshal(dump)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "dump.json")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func testCLI(server string) *cli {
	return &cli{server: server, cfg: config.Defaults().Client}
}

func TestHashCmd(t *testing.T) {
	path := writeDump(t)
	dump, err := collector.LoadDump(path)
	require.NoError(t, err)
	want, err := collector.LayoutHash(dump)
	require.NoError(t, err)

	var out bytes.Buffer
	cmd := newHashCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{path})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, want+"\n", out.String())
}

func TestHashCmd_MissingFile(t *testing.T) {
	cmd := newHashCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "absent.json")})
	assert.Error(t, cmd.Execute())
}

func TestStrategiesCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/strategies", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]model.StrategyInfo{
			{Name: "hash", VectorType: "name_hash", VectorVersion: 1},
			{Name: "opcode_cosine", VectorType: "opcode_histogram", VectorVersion: 1},
		})
	}))
	defer srv.Close()

	var out bytes.Buffer
	cmd := newStrategiesCmd(testCLI(srv.URL))
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"NAME", "VECTOR", "VERSION"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"hash", "name_hash", "1"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"opcode_cosine", "opcode_histogram", "1"}, strings.Fields(lines[2]))
}

func TestMatchCmd_TargetFlags(t *testing.T) {
	path := writeDump(t)
	tests := []struct {
		name string
		args []string
	}{
		{"缺少目标", []string{path, "--file", "1"}},
		{"目标互斥", []string{path, "--file", "1", "--target-project", "2", "--target-file", "3"}},
		{"缺少源文件", []string{path, "--target-project", "2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newMatchCmd(testCLI("http://127.0.0.1:1"))
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})
			cmd.SetArgs(tt.args)
			assert.Error(t, cmd.Execute())
		})
	}
}

func TestResultsCmd_InvalidID(t *testing.T) {
	cmd := newResultsCmd(testCLI("http://127.0.0.1:1"))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"abc"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid task id")
}

func TestPrintResults(t *testing.T) {
	rs := &client.ResultSet{
		TaskID: 1,
		Locals: map[int64]*model.Instance{
			10: {ID: 10, Offset: 0x2000, FileID: 1},
			11: {ID: 11, Offset: 0x1000, FileID: 1},
		},
		Remotes: map[int64]*model.Instance{
			20: {ID: 20, Offset: 0x4000, FileID: 2},
			21: {ID: 21, Offset: 0x5000, FileID: 3},
		},
		Matches: map[int64][]*model.Match{
			10: {{ID: 1, Type: "hash", FromInstanceID: 10, ToInstanceID: 20, Score: 100}},
			11: {
				{ID: 2, Type: "opcode_cosine", FromInstanceID: 11, ToInstanceID: 21, Score: 91.5},
				{ID: 3, Type: "hash", FromInstanceID: 11, ToInstanceID: 20, Score: 100},
			},
		},
	}

	var out bytes.Buffer
	require.NoError(t, printResults(&out, rs, false))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, []string{"LOCAL", "REMOTE", "FILE", "TYPE", "SCORE"}, strings.Fields(lines[0]))
	// 按本地偏移升序，同一本地函数内按分数降序
	assert.Equal(t, []string{"0x1000", "0x4000", "2", "hash", "100.0"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"0x1000", "0x5000", "3", "opcode_cosine", "91.5"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"0x2000", "0x4000", "2", "hash", "100.0"}, strings.Fields(lines[3]))
	assert.Equal(t, "2 local functions, 2 remote functions, 3 matches", lines[4])

	out.Reset()
	require.NoError(t, printResults(&out, rs, true))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
}

func TestProgressPrinter(t *testing.T) {
	var out bytes.Buffer
	p := progressPrinter(&out)
	p(client.Progress{Stage: "upload", State: client.StageRunning, Value: 0, Max: 0})
	assert.Empty(t, out.String())

	p(client.Progress{Stage: "upload", State: client.StageRunning, Value: 1, Max: 3})
	assert.Contains(t, out.String(), "1/3")
	assert.False(t, strings.HasSuffix(out.String(), "\n"))

	p(client.Progress{Stage: "upload", State: client.StageDone, Value: 3, Max: 3})
	assert.True(t, strings.HasSuffix(out.String(), "\n"))
}
