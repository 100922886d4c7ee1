// Package jobs はバックグラウンド変換ジョブの実行と進捗配信を担います。
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultMaxConcurrent = 4

// Notifier はジョブが終了状態になったときに呼ばれます。
type Notifier interface {
	JobFinished(snap Snapshot)
}

// Options はレジストリの設定です。
type Options struct {
	// Retention は終了済みジョブを保持する時間です。0以下ならプロセス終了まで保持します。
	Retention time.Duration
	// MaxConcurrent は同時に変換処理を実行するジョブ数の上限です。
	MaxConcurrent int
	Logger        *slog.Logger
	Notifier      Notifier
	Now           func() time.Time
}

// Registry はジョブIDからジョブへの対応をメモリ上で管理します。
type Registry struct {
	opts Options
	sem  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	jobs   map[string]*Job
	closed bool
}

// NewRegistry はレジストリを作成します。
func NewRegistry(opts Options) *Registry {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		opts:   opts,
		sem:    make(chan struct{}, opts.MaxConcurrent),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*Job),
	}
}

// Create は Pending 状態のジョブを登録し、IDを返します。実行は開始しません。
// 成功した場合、入力のワークスペースはレジストリの管理下に移ります。
func (r *Registry) Create(kind Kind, in *Input) (string, error) {
	if err := in.validate(); err != nil {
		return "", err
	}
	switch kind {
	case KindDocument, KindImage, KindVideo:
	default:
		return "", invalidInput("unknown job kind %q", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrClosed
	}

	id := uuid.NewString()
	for _, exists := r.jobs[id]; exists; _, exists = r.jobs[id] {
		id = uuid.NewString()
	}
	r.jobs[id] = newJob(id, kind, in, r.opts.Now())
	return id, nil
}

// Get はジョブを返します。
func (r *Registry) Get(id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job, nil
}

// Len は登録中のジョブ数を返します。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Dispatch はジョブを Running にし、呼び出し元とは独立したゴルーチンで conv を実行します。
// Pending 以外のジョブに対しては ErrAlreadyRunning を返します。
func (r *Registry) Dispatch(id string, conv Converter) error {
	if conv == nil {
		return invalidInput("converter is nil")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	job, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}

	ctx, cancel := context.WithCancel(r.ctx)
	if !job.claim(r.opts.Now(), cancel) {
		cancel()
		return ErrAlreadyRunning
	}

	r.wg.Add(1)
	go r.run(ctx, job, conv)
	return nil
}

// Submit は Create と Dispatch をまとめて行います。
func (r *Registry) Submit(kind Kind, in *Input, conv Converter) (string, error) {
	if conv == nil {
		return "", invalidInput("converter is nil")
	}
	id, err := r.Create(kind, in)
	if err != nil {
		return "", err
	}
	if err := r.Dispatch(id, conv); err != nil {
		r.discard(id)
		return "", err
	}
	return id, nil
}

// Cancel は実行中の変換処理にキャンセルを通知します。Pending のジョブは即座に失敗させます。
func (r *Registry) Cancel(id string) error {
	job, err := r.Get(id)
	if err != nil {
		return err
	}
	claimed, err := job.abort(r.opts.Now())
	if err != nil {
		return err
	}
	if claimed {
		r.finish(job, nil, context.Canceled)
	}
	return nil
}

// FetchResult は完了したジョブの成果物を返します。何度呼んでも同じ結果を返します。
func (r *Registry) FetchResult(id string) (*Result, error) {
	job, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	state, res, failure := job.outcome()
	switch state {
	case StateCompleted:
		return res, nil
	case StateFailed:
		return nil, &FailureError{JobID: id, Message: failure}
	default:
		return nil, ErrNotReady
	}
}

// OpenStream はジョブの進捗ストリームを開きます。購読開始以降のイベントだけが配信されます。
// 終了済みジョブのストリームはイベントを返さずに終わります。
func (r *Registry) OpenStream(id string, keepalive time.Duration) (*Stream, error) {
	job, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return &Stream{sub: job.channel.subscribe(), keepalive: keepalive}, nil
}

// Reap は保持期間を過ぎた終了済みジョブを削除し、ワークスペースを解放します。
func (r *Registry) Reap(now time.Time) int {
	if r.opts.Retention <= 0 {
		return 0
	}

	r.mu.Lock()
	var victims []*Job
	for id, job := range r.jobs {
		if job.expired(now, r.opts.Retention) {
			delete(r.jobs, id)
			victims = append(victims, job)
		}
	}
	r.mu.Unlock()

	for _, job := range victims {
		if err := job.releaseWorkspace(); err != nil {
			r.opts.Logger.Warn("failed to release workspace", "job_id", job.id, "error", err)
		}
	}
	if len(victims) > 0 {
		r.opts.Logger.Debug("reaped finished jobs", "count", len(victims))
	}
	return len(victims)
}

// RunReaper は ctx が終わるまで interval ごとに Reap を実行します。
func (r *Registry) RunReaper(ctx context.Context, interval time.Duration) {
	if r.opts.Retention <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reap(r.opts.Now())
		}
	}
}

// Shutdown は実行中の変換処理をキャンセルして終了を待ち、全ジョブのワークスペースを解放します。
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	pending := make([]*Job, 0)
	for _, job := range r.jobs {
		pending = append(pending, job)
	}
	r.mu.Unlock()

	r.cancel()
	for _, job := range pending {
		if job.claim(r.opts.Now(), nil) {
			r.finish(job, nil, ErrClosed)
		}
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	r.mu.Lock()
	all := make([]*Job, 0, len(r.jobs))
	for id, job := range r.jobs {
		all = append(all, job)
		delete(r.jobs, id)
	}
	r.mu.Unlock()

	var errs []error
	if waitErr != nil {
		errs = append(errs, waitErr)
	}
	for _, job := range all {
		if err := job.releaseWorkspace(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) discard(id string) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	delete(r.jobs, id)
	r.mu.Unlock()
	if ok {
		_ = job.releaseWorkspace()
	}
}
