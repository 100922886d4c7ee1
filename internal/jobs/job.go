package jobs

import (
	"context"
	"sync"
	"time"
)

// Job は1件の変換ジョブです。state / result / failure はワーカーだけが一度だけ書き込みます。
type Job struct {
	id        string
	kind      Kind
	createdAt time.Time
	channel   *progressChannel

	mu         sync.RWMutex
	state      State
	input      *Input
	workspace  Workspace
	result     *Result
	failure    string
	last       *Event
	startedAt  time.Time
	finishedAt time.Time
	cancel     context.CancelFunc
}

func newJob(id string, kind Kind, in *Input, now time.Time) *Job {
	return &Job{
		id:        id,
		kind:      kind,
		createdAt: now,
		channel:   newProgressChannel(),
		state:     StatePending,
		input:     in,
		workspace: in.Workspace,
	}
}

// ID はジョブIDを返します。
func (j *Job) ID() string { return j.id }

// Kind はジョブ種別を返します。
func (j *Job) Kind() Kind { return j.kind }

// State は現在の状態を返します。
func (j *Job) State() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// Snapshot は状態確認用のコピーです。
type Snapshot struct {
	ID         string     `json:"jobId"`
	Kind       Kind       `json:"kind"`
	State      State      `json:"state"`
	Progress   *Progress  `json:"progress,omitempty"`
	Error      string     `json:"error,omitempty"`
	Summary    *Summary   `json:"summary,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Progress は最後に報告された進捗です。
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

// Snapshot は現在の状態を返します。
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	snap := Snapshot{
		ID:        j.id,
		Kind:      j.kind,
		State:     j.state,
		Error:     j.failure,
		CreatedAt: j.createdAt,
	}
	if j.last != nil {
		snap.Progress = &Progress{Current: j.last.Current, Total: j.last.Total, Message: j.last.Message}
	}
	if j.result != nil {
		snap.Summary = j.result.Summary()
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		snap.StartedAt = &t
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		snap.FinishedAt = &t
	}
	return snap
}

// claim は Pending から Running へ遷移させます。既に遷移済みなら false を返します。
func (j *Job) claim(now time.Time, cancel context.CancelFunc) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StatePending {
		return false
	}
	j.state = StateRunning
	j.startedAt = now
	j.cancel = cancel
	return true
}

func (j *Job) recordProgress(ev Event) {
	j.mu.Lock()
	j.last = &ev
	j.mu.Unlock()
}

func (j *Job) complete(res *Result, now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = res
	j.state = StateCompleted
	j.finishedAt = now
	j.input = nil
}

func (j *Job) fail(message string, now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.failure = message
	j.state = StateFailed
	j.finishedAt = now
	j.input = nil
}

// outcome は結果取得用に状態と成果物を返します。
func (j *Job) outcome() (State, *Result, string) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state, j.result, j.failure
}

// abort はキャンセル要求を1回のロックで処理します。実行中なら変換処理のコンテキストを
// キャンセルし、Pending なら Running として確保して true を返します。終了済みなら ErrFinished です。
func (j *Job) abort(now time.Time) (claimed bool, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	switch j.state {
	case StatePending:
		j.state = StateRunning
		j.startedAt = now
		return true, nil
	case StateRunning:
		if j.cancel != nil {
			j.cancel()
		}
		return false, nil
	default:
		return false, ErrFinished
	}
}

// stop は変換処理のコンテキストを解放します。終了後に呼ばれます。
func (j *Job) stop() {
	j.mu.RLock()
	cancel := j.cancel
	j.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

func (j *Job) expired(now time.Time, retention time.Duration) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state.Terminal() && !j.finishedAt.IsZero() && now.Sub(j.finishedAt) >= retention
}

func (j *Job) releaseWorkspace() error {
	if j.workspace == nil {
		return nil
	}
	return j.workspace.Release()
}
