package worker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rematch/internal/config"
	"rematch/internal/matcher"
	"rematch/internal/orchestrator"
	"rematch/internal/shared/model"
	"rematch/internal/shared/queue"
	"rematch/internal/shared/storage/repository"
)

type fakeRunner struct {
	mu   sync.Mutex
	seen []int64
	errs map[int64]error
}

func (f *fakeRunner) Run(_ context.Context, taskID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, taskID)
	return f.errs[taskID]
}

func (f *fakeRunner) ids() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]int64(nil), f.seen...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type fakeStale struct {
	ids    []int64
	before time.Time
}

func (f *fakeStale) ListStaleQueuedTasks(_ context.Context, before time.Time, _ int) ([]int64, error) {
	f.before = before
	return f.ids, nil
}

func testConfig() config.WorkerConfig {
	return config.WorkerConfig{
		ID:               "test",
		Concurrency:      2,
		ReadTimeout:      20 * time.Millisecond,
		ReadCount:        1,
		FallbackInterval: time.Hour,
		StaleThreshold:   time.Minute,
	}
}

// startPool 后台启动 Pool，返回停止并等待退出的函数
func startPool(t *testing.T, p *Pool) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("pool did not stop")
		}
	}
}

func TestPool_ConsumesAndAcks(t *testing.T) {
	q := queue.NewMemoryQueue()
	runner := &fakeRunner{errs: map[int64]error{2: errors.New("strategy failed")}}
	pool := NewPool(testConfig(), q, runner, nil)

	ctx := context.Background()
	for _, id := range []int64{1, 2, 3} {
		_, err := q.Enqueue(ctx, id)
		require.NoError(t, err)
	}

	stop := startPool(t, pool)
	defer stop()

	require.Eventually(t, func() bool {
		return len(runner.ids()) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int64{1, 2, 3}, runner.ids())

	// 失败的任务同样确认
	require.Eventually(t, func() bool { return q.Pending() == 0 }, time.Second, 10*time.Millisecond)
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPool_Stop(t *testing.T) {
	pool := NewPool(testConfig(), queue.NewMemoryQueue(), &fakeRunner{}, &fakeStale{})
	done := make(chan struct{})
	go func() {
		pool.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		return pool.running
	}, time.Second, 5*time.Millisecond)
	pool.Stop()
	pool.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestPool_StopsWhenQueueClosed(t *testing.T) {
	q := queue.NewMemoryQueue()
	pool := NewPool(testConfig(), q, &fakeRunner{}, nil)
	done := make(chan struct{})
	go func() {
		pool.Start(context.Background())
		close(done)
	}()
	require.NoError(t, q.Close())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop after queue close")
	}
}

func TestPool_RequeueStale(t *testing.T) {
	q := queue.NewMemoryQueue()
	stale := &fakeStale{ids: []int64{5, 6}}
	pool := NewPool(testConfig(), q, &fakeRunner{}, stale)

	now := time.Now()
	assert.Equal(t, 2, pool.requeueStale(context.Background()))
	assert.WithinDuration(t, now.Add(-time.Minute), stale.before, time.Second)

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	stale.ids = nil
	assert.Zero(t, pool.requeueStale(context.Background()))
}

func TestPool_RequeueStaleSkipsBacklog(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue()
	stale := &fakeStale{ids: []int64{5, 6}}
	pool := NewPool(testConfig(), q, &fakeRunner{}, stale)

	assert.Equal(t, 2, pool.requeueStale(ctx))
	// 上一轮消息尚未被领取，不再重复入队
	assert.Zero(t, pool.requeueStale(ctx))
	assert.Zero(t, pool.requeueStale(ctx))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// 消息被领取后恢复补偿
	msgs, err := q.Consume(ctx, "c1", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, 2, pool.requeueStale(ctx))
}

func TestNewPool_Defaults(t *testing.T) {
	pool := NewPool(config.WorkerConfig{}, queue.NewMemoryQueue(), &fakeRunner{}, nil)
	def := config.Defaults().Worker
	assert.Contains(t, pool.ID(), "worker-")
	assert.Equal(t, def.Concurrency, pool.cfg.Concurrency)
	assert.Equal(t, def.ReadTimeout, pool.cfg.ReadTimeout)
	assert.Equal(t, def.StaleThreshold, pool.cfg.StaleThreshold)
}

func TestPool_RunsOrchestrator(t *testing.T) {
	ctx := context.Background()
	store, err := repository.OpenSQLite(":memory:")
	require.NoError(t, err)
	defer store.Close()

	project := &model.Project{Name: "p"}
	require.NoError(t, store.CreateProject(ctx, project))
	src := &model.File{ProjectID: &project.ID, Name: "a"}
	require.NoError(t, store.CreateFile(ctx, src))

	registry, err := matcher.NewRegistry(matcher.NewHashStrategy())
	require.NoError(t, err)
	runner := orchestrator.NewRunner(store, registry)

	task := &model.Task{SourceFile: src.ID, SourceKind: model.SourceKindIDB, TargetProject: &project.ID}
	require.NoError(t, store.CreateTask(ctx, task))

	q := queue.NewMemoryQueue()
	pool := NewPool(testConfig(), q, runner, store)
	stop := startPool(t, pool)
	defer stop()

	// 启动时保底轮询不会重复投递未过期的任务
	_, err = q.Enqueue(ctx, task.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := store.GetTask(ctx, task.ID)
		return err == nil && got.Status == model.TaskStatusDone
	}, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool { return q.Pending() == 0 }, time.Second, 10*time.Millisecond)
}
