package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rematch/internal/shared/model"
)

// pagedServer 以 ?page=&page_size= 分页返回固定数据
type pagedServer struct {
	locals  []*model.Instance
	remotes []*model.Instance
	matches []*model.Match
	missing string
}

func servePage[T any](w http.ResponseWriter, r *http.Request, all []T) {
	size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if size <= 0 {
		size = 100
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	start := min((page-1)*size, len(all))
	end := min(start+size, len(all))

	resp := model.Page[T]{Count: int64(len(all)), Results: all[start:end]}
	link := func(p int) *string {
		s := r.URL.Path + "?page=" + strconv.Itoa(p) + "&page_size=" + strconv.Itoa(size)
		return &s
	}
	if end < len(all) {
		resp.Next = link(page + 1)
	}
	if page > 1 {
		resp.Previous = link(page - 1)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *pagedServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/tasks/{id}/{kind}", func(w http.ResponseWriter, r *http.Request) {
		kind := r.PathValue("kind")
		if kind == s.missing {
			http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
			return
		}
		switch kind {
		case "locals":
			servePage(w, r, s.locals)
		case "remotes":
			servePage(w, r, s.remotes)
		case "matches":
			servePage(w, r, s.matches)
		default:
			http.NotFound(w, r)
		}
	})
	return mux
}

func sampleResults() *pagedServer {
	s := &pagedServer{}
	for i := int64(1); i <= 5; i++ {
		s.locals = append(s.locals, &model.Instance{ID: i, Offset: 0x1000 * i})
		s.remotes = append(s.remotes, &model.Instance{ID: 100 + i, Offset: 0x2000 * i})
	}
	id := int64(1)
	for local := int64(1); local <= 5; local++ {
		for k := int64(0); k < local%3+1; k++ {
			s.matches = append(s.matches, &model.Match{
				ID:             id,
				TaskID:         7,
				Type:           "hash",
				FromInstanceID: local,
				ToInstanceID:   101 + (local+k)%5,
				Score:          float64(90 + k),
			})
			id++
		}
	}
	return s
}

func TestAssembler_MergesStreams(t *testing.T) {
	data := sampleResults()
	srv := httptest.NewServer(data.handler())
	defer srv.Close()

	var last Progress
	a := NewAssembler(NewAPI(srv.URL, nil), 2, func(p Progress) { last = p })
	rs, err := a.Assemble(context.Background(), 7)
	require.NoError(t, err)

	assert.Len(t, rs.Locals, 5)
	assert.Len(t, rs.Remotes, 5)
	assert.Equal(t, len(data.matches), rs.MatchCount())
	for _, m := range data.matches {
		assert.Contains(t, rs.Matches[m.FromInstanceID], m)
	}

	total := int64(len(data.locals) + len(data.remotes) + len(data.matches))
	assert.Equal(t, StageDone, last.State)
	assert.Equal(t, total, last.Max)
	assert.Equal(t, total, last.Value)
}

// TestAssembler_PageSizeIndependent 分页大小不影响合并结果
func TestAssembler_PageSizeIndependent(t *testing.T) {
	srv := httptest.NewServer(sampleResults().handler())
	defer srv.Close()

	var sets []*ResultSet
	for _, size := range []int{1, 3, 100} {
		rs, err := NewAssembler(NewAPI(srv.URL, nil), size, nil).Assemble(context.Background(), 7)
		require.NoError(t, err)
		sets = append(sets, rs)
	}
	for _, rs := range sets[1:] {
		assert.Equal(t, sets[0].Locals, rs.Locals)
		assert.Equal(t, sets[0].Remotes, rs.Remotes)
		for local := range sets[0].Matches {
			assert.Equal(t, sets[0].MatchesFor(local), rs.MatchesFor(local))
		}
	}
}

func TestAssembler_StreamNotFound(t *testing.T) {
	data := sampleResults()
	data.missing = "remotes"
	srv := httptest.NewServer(data.handler())
	defer srv.Close()

	a := NewAssembler(NewAPI(srv.URL, nil), 2, nil)
	rs, err := a.Assemble(context.Background(), 7)
	assert.Nil(t, rs)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, StageFailed, a.Stage().State())
}

func TestResultSet_MatchesFor(t *testing.T) {
	rs := &ResultSet{Matches: map[int64][]*model.Match{
		1: {
			{ID: 1, ToInstanceID: 30, Score: 95},
			{ID: 2, ToInstanceID: 20, Score: 100},
			{ID: 3, ToInstanceID: 10, Score: 95},
		},
	}}
	got := rs.MatchesFor(1)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{2, 3, 1}, []int64{got[0].ID, got[1].ID, got[2].ID})
	assert.Empty(t, rs.MatchesFor(99))
}
