package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rematch/internal/apiserver/server"
	"rematch/internal/collector"
	"rematch/internal/config"
	"rematch/internal/matcher"
	"rematch/internal/orchestrator"
	"rematch/internal/shared/model"
	"rematch/internal/shared/queue"
	"rematch/internal/shared/storage/repository"
	"rematch/internal/worker"
	"rematch/pkg/logging"
)

// stack API Server + 进程内 worker，全部基于 SQLite 内存库
type stack struct {
	store   *repository.Store
	api     *API
	project *model.Project
	src     *model.File
	peer    *model.File
}

func newStack(t *testing.T) *stack {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store, err := repository.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry, err := matcher.NewRegistry(matcher.NewHashStrategy(), matcher.NewCosineStrategy(90, 5))
	require.NoError(t, err)
	q := queue.NewMemoryQueue()
	t.Cleanup(func() { q.Close() })

	h := server.NewHandler(store, q, registry, server.Options{
		Pagination: config.PaginationConfig{DefaultPageSize: 100, MaxPageSize: 1000},
		Logger:     logging.Nop(),
	})
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)

	runner := orchestrator.NewRunner(store, registry, orchestrator.WithMetrics(h.GetMetrics()))
	pool := worker.NewPool(config.WorkerConfig{Concurrency: 1, ReadTimeout: 20 * time.Millisecond, ReadCount: 1}, q, runner, nil)
	go pool.Start(ctx)
	t.Cleanup(pool.Stop)

	s := &stack{store: store, api: NewAPI(srv.URL, nil)}
	s.project, err = s.api.CreateProject(ctx, "router-fw", "")
	require.NoError(t, err)
	s.src, err = s.api.CreateFile(ctx, &s.project.ID, "httpd-1.0", "")
	require.NoError(t, err)
	s.peer, err = s.api.CreateFile(ctx, &s.project.ID, "httpd-1.1", "")
	require.NoError(t, err)
	return s
}

func dumpOf(t *testing.T, functions ...*collector.Function) *collector.Dump {
	t.Helper()
	d, err := collector.NewDump(functions...)
	require.NoError(t, err)
	return d
}

func function(offset int64, name string, fill ...byte) *collector.Function {
	return &collector.Function{
		Offset: offset,
		Name:   name,
		Chunks: [][2]int64{{offset, offset + int64(len(fill))}},
		Bytes:  fill,
	}
}

func TestSession_EndToEnd(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	// 目标文件先上传
	peerDump := dumpOf(t,
		function(0x4000, "parse_header", 0x55, 0x89, 0xe5, 0xc3),
		function(0x5000, "sub_5000", 0x90, 0x90, 0x90, 0xc3),
	)
	peerSession := NewSession(s.api, SessionOptions{PollInterval: 10 * time.Millisecond, Logger: logging.Nop()})
	_, err := peerSession.Run(ctx, MatchRequest{FileID: s.peer.ID, Source: peerDump, TargetFile: &s.src.ID})
	require.NoError(t, err)

	srcDump := dumpOf(t,
		function(0x1000, "parse_header", 0x55, 0x89, 0xe5, 0xc3),
		function(0x2000, "main", 0x31, 0xc0, 0xc3, 0xcc),
	)
	var states []StageState
	sess := NewSession(s.api, SessionOptions{
		UploadBatchSize: 1,
		PollInterval:    10 * time.Millisecond,
		PageSize:        1,
		OnProgress:      func(p Progress) { states = append(states, p.State) },
		Logger:          logging.Nop(),
	})
	rs, err := sess.Run(ctx, MatchRequest{FileID: s.src.ID, Source: srcDump, TargetProject: &s.project.ID})
	require.NoError(t, err)

	require.NotNil(t, sess.Upload())
	assert.Equal(t, 2, sess.Upload().Uploaded)
	assert.Equal(t, 2, sess.Upload().Batches)
	assert.Equal(t, model.TaskStatusDone, sess.Task().Status)
	assert.True(t, sess.FileVersion().NewlyCreated)

	// parse_header 在 hash 与 opcode_cosine 上各有一条匹配
	require.Len(t, rs.Locals, 1)
	require.Len(t, rs.Remotes, 1)
	assert.Equal(t, 2, rs.MatchCount())
	for local, inst := range rs.Locals {
		assert.Equal(t, int64(0x1000), inst.Offset)
		ms := rs.MatchesFor(local)
		require.Len(t, ms, 2)
		assert.InDelta(t, 100.0, ms[0].Score, 0.01)
		assert.InDelta(t, 100.0, ms[1].Score, 0.01)
	}
	for _, inst := range rs.Remotes {
		assert.Equal(t, int64(0x4000), inst.Offset)
	}
	assert.Contains(t, states, StageAwaiting)
	assert.Equal(t, StageDone, states[len(states)-1])

	// 相同布局再次匹配复用文件版本，不重复上传
	again := NewSession(s.api, SessionOptions{PollInterval: 10 * time.Millisecond, Logger: logging.Nop()})
	rs2, err := again.Run(ctx, MatchRequest{FileID: s.src.ID, Source: srcDump, TargetProject: &s.project.ID})
	require.NoError(t, err)
	assert.False(t, again.FileVersion().NewlyCreated)
	assert.Equal(t, sess.FileVersion().ID, again.FileVersion().ID)
	assert.Nil(t, again.Upload())
	assert.NotEqual(t, sess.Task().ID, again.Task().ID)
	assert.Equal(t, rs.MatchCount(), rs2.MatchCount())

	// 会话只能运行一次
	_, err = again.Run(ctx, MatchRequest{FileID: s.src.ID, Source: srcDump, TargetProject: &s.project.ID})
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_UnknownStrategyRejected(t *testing.T) {
	s := newStack(t)
	sess := NewSession(s.api, SessionOptions{Logger: logging.Nop()})
	_, err := sess.Run(context.Background(), MatchRequest{
		FileID:     s.src.ID,
		Source:     dumpOf(t, function(0x1000, "main", 0xc3)),
		TargetFile: &s.peer.ID,
		Methods:    []string{"fuzzy"},
	})
	require.Error(t, err)
	assert.Nil(t, sess.Task())
	assert.NotNil(t, sess.Upload())
}

func TestSession_CancelStopsBeforeTask(t *testing.T) {
	s := newStack(t)
	sess := NewSession(s.api, SessionOptions{UploadBatchSize: 1, Logger: logging.Nop()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sess.Run(ctx, MatchRequest{
		FileID:     s.src.ID,
		Source:     dumpOf(t, function(0x1000, "main", 0xc3)),
		TargetFile: &s.peer.ID,
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, sess.Task())
	assert.Nil(t, sess.Results())
}

func TestSession_WatchTask(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	sess := NewSession(s.api, SessionOptions{PollInterval: 10 * time.Millisecond, Logger: logging.Nop()})
	_, err := sess.Run(ctx, MatchRequest{
		FileID:     s.src.ID,
		Source:     dumpOf(t, function(0x1000, "main", 0xc3)),
		TargetFile: &s.peer.ID,
	})
	require.NoError(t, err)

	task, err := s.api.WatchTask(ctx, sess.Task().ID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusDone, task.Status)

	_, err = s.api.WatchTask(ctx, 9999, nil)
	assert.True(t, IsNotFound(err))
}
