package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rematch/internal/collector"
	"rematch/internal/shared/model"
)

// fakeCreator 记录每个批次
type fakeCreator struct {
	mu      sync.Mutex
	batches [][]model.InstanceUpload
	err     error
	onCall  func(n int)
}

func (f *fakeCreator) CreateInstances(ctx context.Context, uploads []model.InstanceUpload) (int, error) {
	f.mu.Lock()
	f.batches = append(f.batches, uploads)
	n := len(f.batches)
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall(n)
	}
	if f.err != nil {
		return 0, f.err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return len(uploads), nil
}

func (f *fakeCreator) sizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for _, b := range f.batches {
		out = append(out, len(b))
	}
	return out
}

func makeDump(t *testing.T, n int) *collector.Dump {
	t.Helper()
	fns := make([]*collector.Function, 0, n)
	for i := 0; i < n; i++ {
		off := int64(0x1000 + i*0x10)
		fns = append(fns, &collector.Function{
			Offset: off,
			Name:   fmt.Sprintf("fn_%d", i),
			Chunks: [][2]int64{{off, off + 4}},
			Bytes:  []byte{0x55, 0x89, 0xe5, byte(i)},
		})
	}
	d, err := collector.NewDump(fns...)
	require.NoError(t, err)
	return d
}

// brokenSource 指定偏移读取失败
type brokenSource struct {
	collector.FunctionSource
	broken map[int64]bool
}

func (b brokenSource) Function(offset int64) (*collector.Function, error) {
	if b.broken[offset] {
		return nil, errors.New("unreadable function")
	}
	return b.FunctionSource.Function(offset)
}

func TestUploader_Batches(t *testing.T) {
	api := &fakeCreator{}
	var last Progress
	u := NewUploader(api, makeDump(t, 250), 42, UploaderOptions{
		BatchSize:  100,
		OnProgress: func(p Progress) { last = p },
	})

	res, err := u.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{100, 100, 50}, api.sizes())
	assert.Equal(t, 250, res.Uploaded)
	assert.Equal(t, 3, res.Batches)
	assert.Empty(t, res.Skipped)

	assert.Equal(t, StageDone, last.State)
	assert.Equal(t, int64(253), last.Max)
	assert.Equal(t, last.Max, last.Value)

	for _, up := range api.batches[0] {
		assert.Equal(t, int64(42), up.FileVersion)
		assert.Equal(t, model.InstanceTypeFunction, up.Type)
	}
}

func TestUploader_ProgressWaitsForAck(t *testing.T) {
	var u *Uploader
	api := &fakeCreator{}
	api.onCall = func(n int) {
		if n == 1 {
			p := u.Stage().Progress()
			assert.Equal(t, StageAwaiting, p.State)
			// 10 个偏移已处理，批次尚未确认
			assert.Equal(t, int64(10), p.Value)
			assert.Equal(t, int64(11), p.Max)
		}
	}
	u = NewUploader(api, makeDump(t, 10), 1, UploaderOptions{BatchSize: 10})
	_, err := u.Run(context.Background())
	require.NoError(t, err)
}

func TestUploader_EmptySource(t *testing.T) {
	api := &fakeCreator{}
	res, err := NewUploader(api, makeDump(t, 0), 1, UploaderOptions{}).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Uploaded)
	assert.Empty(t, api.sizes())
}

func TestUploader_ErrorPolicy(t *testing.T) {
	dump := makeDump(t, 5)
	src := brokenSource{FunctionSource: dump, broken: map[int64]bool{0x1020: true}}

	t.Run("abort 首个错误即中止", func(t *testing.T) {
		api := &fakeCreator{}
		u := NewUploader(api, src, 1, UploaderOptions{BatchSize: 2, Policy: UploadAbort})
		_, err := u.Run(context.Background())

		var extractErr *collector.ExtractError
		require.ErrorAs(t, err, &extractErr)
		assert.Equal(t, int64(0x1020), extractErr.Offset)
		assert.Equal(t, StageFailed, u.Stage().State())
		// 失败前只发出第一个完整批次
		assert.Equal(t, []int{2}, api.sizes())
	})

	t.Run("skip 跳过后继续", func(t *testing.T) {
		api := &fakeCreator{}
		u := NewUploader(api, src, 1, UploaderOptions{BatchSize: 2, Policy: UploadSkip})
		res, err := u.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 4, res.Uploaded)
		require.Len(t, res.Skipped, 1)
		assert.Equal(t, int64(0x1020), res.Skipped[0].Offset)
		assert.Equal(t, []int{2, 2}, api.sizes())
	})
}

func TestUploader_ServerError(t *testing.T) {
	api := &fakeCreator{err: errors.New("unavailable")}
	u := NewUploader(api, makeDump(t, 3), 1, UploaderOptions{BatchSize: 2})
	_, err := u.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StageFailed, u.Stage().State())
	assert.Equal(t, []int{2}, api.sizes())
}

func TestUploader_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	api := &fakeCreator{onCall: func(n int) {
		if n == 1 {
			cancel()
		}
	}}
	u := NewUploader(api, makeDump(t, 10), 1, UploaderOptions{BatchSize: 3})
	_, err := u.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StageCanceled, u.Stage().State())
	assert.Equal(t, []int{3}, api.sizes())
	assert.Zero(t, u.Result().Uploaded)
}
