package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// StageState 阶段状态
type StageState string

const (
	StageIdle     StageState = "idle"
	StageRunning  StageState = "running"
	StageAwaiting StageState = "awaiting-response"
	StageCanceled StageState = "cancelled"
	StageDone     StageState = "done"
	StageFailed   StageState = "failed"
)

// IsTerminal 是否为终态
func (s StageState) IsTerminal() bool {
	return s == StageDone || s == StageFailed || s == StageCanceled
}

// ErrInvalidTransition 非法状态迁移
var ErrInvalidTransition = errors.New("invalid stage transition")

// transitions 合法迁移，终态不可离开
var transitions = map[StageState][]StageState{
	StageIdle:     {StageRunning, StageCanceled},
	StageRunning:  {StageAwaiting, StageDone, StageFailed, StageCanceled},
	StageAwaiting: {StageRunning, StageDone, StageFailed, StageCanceled},
}

// Progress 阶段进度快照
type Progress struct {
	Stage string
	State StageState
	Value int64
	Max   int64
}

// Stage 客户端阶段状态机
//
// 迁移与进度更新都在锁内完成，终态之后的迁移和进度更新被忽略，
// 因此取消后才返回的响应不会改变可见状态。
type Stage struct {
	name string

	mu       sync.Mutex
	state    StageState
	err      error
	value    int64
	max      int64
	onChange func(Progress)
}

// NewStage 创建 idle 状态的阶段，onChange 可为 nil
func NewStage(name string, onChange func(Progress)) *Stage {
	return &Stage{name: name, state: StageIdle, onChange: onChange}
}

// Name 阶段名
func (s *Stage) Name() string {
	return s.name
}

// State 当前状态
func (s *Stage) State() StageState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err 失败或取消的原因
func (s *Stage) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Progress 当前进度快照
func (s *Stage) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Stage) snapshot() Progress {
	return Progress{Stage: s.name, State: s.state, Value: s.value, Max: s.max}
}

// transition 调用方需持有锁
func (s *Stage) transition(to StageState) error {
	for _, next := range transitions[s.state] {
		if next == to {
			s.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, s.name, s.state, to)
}

// update 在锁内执行 fn 并通知监听者
func (s *Stage) update(fn func() error) error {
	s.mu.Lock()
	if err := fn(); err != nil {
		s.mu.Unlock()
		return err
	}
	p := s.snapshot()
	cb := s.onChange
	s.mu.Unlock()
	if cb != nil {
		cb(p)
	}
	return nil
}

// Start idle → running
func (s *Stage) Start() error {
	return s.update(func() error { return s.transition(StageRunning) })
}

// Await running → awaiting-response，发起网络请求前调用
func (s *Stage) Await() error {
	return s.update(func() error { return s.transition(StageAwaiting) })
}

// Resume awaiting-response → running，收到响应后调用
func (s *Stage) Resume() error {
	return s.update(func() error { return s.transition(StageRunning) })
}

// Done 成功结束，进度补齐到上限
func (s *Stage) Done() error {
	return s.update(func() error {
		if err := s.transition(StageDone); err != nil {
			return err
		}
		s.value = s.max
		return nil
	})
}

// Fail 失败结束；err 为 context 取消时记为 cancelled
func (s *Stage) Fail(err error) error {
	if errors.Is(err, context.Canceled) {
		return s.Cancel()
	}
	return s.update(func() error {
		if err := s.transition(StageFailed); err != nil {
			return err
		}
		s.err = err
		return nil
	})
}

// Cancel 取消，已结束的阶段不受影响
func (s *Stage) Cancel() error {
	return s.update(func() error {
		if err := s.transition(StageCanceled); err != nil {
			return err
		}
		s.err = context.Canceled
		return nil
	})
}

// SetProgress 设置进度
func (s *Stage) SetProgress(value, max int64) {
	s.progress(func() {
		s.value, s.max = value, max
	})
}

// AddMax 增加进度上限
func (s *Stage) AddMax(n int64) {
	s.progress(func() { s.max += n })
}

// Advance 推进进度
func (s *Stage) Advance(n int64) {
	s.progress(func() { s.value += n })
}

func (s *Stage) progress(fn func()) {
	s.update(func() error {
		if s.state.IsTerminal() {
			return ErrInvalidTransition
		}
		fn()
		return nil
	})
}
