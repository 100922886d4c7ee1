package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

// run はワーカー本体です。呼び出し元へエラーを返さず、結果は必ずジョブとチャネルに書き込みます。
func (r *Registry) run(ctx context.Context, job *Job, conv Converter) {
	defer r.wg.Done()

	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		r.finish(job, nil, ctx.Err())
		return
	}
	defer func() { <-r.sem }()

	logger := r.opts.Logger.With("job_id", job.id, "kind", job.kind)
	logger.Debug("job started")

	out, err := r.execute(ctx, job, conv)
	r.finish(job, out, err)
}

func (r *Registry) execute(ctx context.Context, job *Job, conv Converter) (out *Output, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.opts.Logger.Error("converter panicked", "job_id", job.id, "panic", p, "stack", string(debug.Stack()))
			out = nil
			err = fmt.Errorf("conversion aborted unexpectedly: %v", p)
		}
	}()

	job.mu.RLock()
	in := job.input
	job.mu.RUnlock()

	report := func(current, total int, message string) {
		ev := Event{Kind: EventProgress, Current: current, Total: total, Message: message}
		if job.channel.publish(ev) {
			job.recordProgress(ev)
		}
	}
	return conv.Convert(ctx, in, report)
}

// finish は入力を解放し、結果かエラーを書き込んでから終端イベントを1回だけ発行します。
func (r *Registry) finish(job *Job, out *Output, runErr error) {
	job.mu.RLock()
	in := job.input
	job.mu.RUnlock()

	now := r.opts.Now()
	var result *Result
	if runErr == nil {
		result, runErr = newResult(in, out, now)
	}

	if job.workspace != nil {
		if err := job.workspace.ReleaseInput(); err != nil {
			r.opts.Logger.Warn("failed to release job input", "job_id", job.id, "error", err)
		}
	}

	var ev Event
	if runErr != nil {
		message := failureMessage(runErr)
		job.fail(message, now)
		// 失敗したジョブの成果物は取得されないので即座に削除する
		if err := job.releaseWorkspace(); err != nil {
			r.opts.Logger.Warn("failed to release workspace", "job_id", job.id, "error", err)
		}
		ev = Event{Kind: EventFailed, Message: message}
		r.opts.Logger.Warn("job failed", "job_id", job.id, "kind", job.kind, "error", message)
	} else {
		job.complete(result, now)
		ev = Event{Kind: EventDone, Summary: result.Summary()}
		r.opts.Logger.Info("job completed", "job_id", job.id, "kind", job.kind,
			"input_size", result.InputSize, "output_size", result.OutputSize)
	}

	job.stop()
	job.channel.publish(ev)

	if r.opts.Notifier != nil {
		r.opts.Notifier.JobFinished(job.Snapshot())
	}
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, ErrClosed):
		return "job aborted: server is shutting down"
	case errors.Is(err, context.Canceled):
		return "job canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "job timed out"
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "conversion failed"
}
