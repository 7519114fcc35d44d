package client

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"rematch/internal/shared/model"
)

// DefaultPageSize 结果分页大小
const DefaultPageSize = 100

const (
	streamLocals  = "locals"
	streamRemotes = "remotes"
	streamMatches = "matches"
)

// ResultSet 合并后的任务结果
//
// Locals / Remotes 以实例 ID 为键，Matches 以源实例 ID 分组。
type ResultSet struct {
	TaskID  int64
	Locals  map[int64]*model.Instance
	Remotes map[int64]*model.Instance
	Matches map[int64][]*model.Match
}

// MatchesFor 指定源实例的匹配，按分数降序、目标实例 ID 升序
func (r *ResultSet) MatchesFor(local int64) []*model.Match {
	ms := append([]*model.Match(nil), r.Matches[local]...)
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Score != ms[j].Score {
			return ms[i].Score > ms[j].Score
		}
		if ms[i].ToInstanceID != ms[j].ToInstanceID {
			return ms[i].ToInstanceID < ms[j].ToInstanceID
		}
		return ms[i].ID < ms[j].ID
	})
	return ms
}

// MatchCount 匹配总数
func (r *ResultSet) MatchCount() int {
	n := 0
	for _, ms := range r.Matches {
		n += len(ms)
	}
	return n
}

// pageEvent 拉取协程交给合并循环的一页数据
type pageEvent struct {
	stream    string
	first     bool
	count     int64
	instances []*model.Instance
	matches   []*model.Match
}

// Assembler 并发拉取 locals / remotes / matches 三组分页结果
//
// 三个拉取协程只负责发送页面，合并与进度更新都在调用 Assemble 的协程中完成；
// 全部拉取结束后才返回 ResultSet。
type Assembler struct {
	api      *API
	pageSize int
	stage    *Stage
}

// NewAssembler 创建结果合并器
func NewAssembler(api *API, pageSize int, onProgress func(Progress)) *Assembler {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Assembler{api: api, pageSize: pageSize, stage: NewStage("results", onProgress)}
}

// Stage 合并阶段状态
func (a *Assembler) Stage() *Stage {
	return a.stage
}

// Assemble 拉取并合并任务结果
func (a *Assembler) Assemble(ctx context.Context, taskID int64) (*ResultSet, error) {
	if err := a.stage.Start(); err != nil {
		return nil, err
	}
	if err := a.stage.Await(); err != nil {
		return nil, err
	}

	events := make(chan pageEvent)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return fetchStream(gctx, a.api, ResultsPath(taskID, streamLocals, a.pageSize), events,
			func(p *model.Page[*model.Instance], first bool) pageEvent {
				return pageEvent{stream: streamLocals, first: first, count: p.Count, instances: p.Results}
			})
	})
	g.Go(func() error {
		return fetchStream(gctx, a.api, ResultsPath(taskID, streamRemotes, a.pageSize), events,
			func(p *model.Page[*model.Instance], first bool) pageEvent {
				return pageEvent{stream: streamRemotes, first: first, count: p.Count, instances: p.Results}
			})
	})
	g.Go(func() error {
		return fetchStream(gctx, a.api, ResultsPath(taskID, streamMatches, a.pageSize), events,
			func(p *model.Page[*model.Match], first bool) pageEvent {
				return pageEvent{stream: streamMatches, first: first, count: p.Count, matches: p.Results}
			})
	})

	var err error
	go func() {
		err = g.Wait()
		close(events)
	}()

	rs := &ResultSet{
		TaskID:  taskID,
		Locals:  make(map[int64]*model.Instance),
		Remotes: make(map[int64]*model.Instance),
		Matches: make(map[int64][]*model.Match),
	}
	seen := make(map[int64]bool)
	for ev := range events {
		if ev.first {
			a.stage.AddMax(ev.count)
		}
		switch ev.stream {
		case streamLocals:
			for _, inst := range ev.instances {
				rs.Locals[inst.ID] = inst
			}
			a.stage.Advance(int64(len(ev.instances)))
		case streamRemotes:
			for _, inst := range ev.instances {
				rs.Remotes[inst.ID] = inst
			}
			a.stage.Advance(int64(len(ev.instances)))
		case streamMatches:
			for _, m := range ev.matches {
				if seen[m.ID] {
					continue
				}
				seen[m.ID] = true
				rs.Matches[m.FromInstanceID] = append(rs.Matches[m.FromInstanceID], m)
			}
			a.stage.Advance(int64(len(ev.matches)))
		}
	}

	// events 关闭发生在 g.Wait 返回之后，此处读取 err 安全
	if err != nil {
		a.stage.Fail(err)
		return nil, err
	}
	a.stage.Resume()
	a.stage.Done()
	return rs, nil
}

// fetchStream 沿 next 链接拉取全部页面
func fetchStream[T any](ctx context.Context, api *API, path string, events chan<- pageEvent,
	wrap func(*model.Page[T], bool) pageEvent) error {
	first := true
	for path != "" {
		page, err := GetPage[T](ctx, api, path)
		if err != nil {
			return err
		}
		select {
		case events <- wrap(page, first):
		case <-ctx.Done():
			return ctx.Err()
		}
		first = false
		path = ""
		if page.Next != nil {
			path = *page.Next
		}
	}
	return nil
}
