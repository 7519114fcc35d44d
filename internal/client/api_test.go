package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPI_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"404 不存在", http.StatusNotFound, errdefs.IsNotFound},
		{"400 参数错误", http.StatusBadRequest, errdefs.IsInvalidArgument},
		{"422 参数错误", http.StatusUnprocessableEntity, errdefs.IsInvalidArgument},
		{"409 冲突", http.StatusConflict, errdefs.IsConflict},
		{"500 服务端错误", http.StatusInternalServerError, errdefs.IsInternal},
		{"503 不可用", http.StatusServiceUnavailable, errdefs.IsUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":"boom"}`))
			}))
			defer srv.Close()

			_, err := NewAPI(srv.URL, nil).GetTask(context.Background(), 1)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected classification: %v", err)
			assert.Contains(t, err.Error(), "boom")
		})
	}
}

func TestAPI_NotFoundDistinguishable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewAPI(srv.URL, nil).GetFileVersion(context.Background(), 1, "d41d8cd98f00b204e9800998ecf8427e")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, errdefs.IsInternal(err))
}

func TestAPI_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewAPI(url, nil).GetTask(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errdefs.IsUnavailable(err))
	assert.False(t, IsNotFound(err))
}

func TestAPI_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewAPI(srv.URL, nil).GetTask(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResultsPath(t *testing.T) {
	assert.Equal(t, "/api/v1/tasks/7/matches?page_size=50", ResultsPath(7, "matches", 50))
	assert.Equal(t, "/api/v1/tasks/7/locals", ResultsPath(7, "locals", 0))
}
