package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/yourusername/media-forge/internal/logging"
)

type fakeWorkspace struct {
	mu            sync.Mutex
	inputReleased int
	released      int
}

func (w *fakeWorkspace) ReleaseInput() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inputReleased++
	return nil
}

func (w *fakeWorkspace) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.released++
	return nil
}

func (w *fakeWorkspace) counts() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inputReleased, w.released
}

func newTestRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	reg := NewRegistry(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})
	return reg
}

func textInput(s string) *Input {
	return &Input{Name: "input.txt", Data: []byte(s)}
}

// pagedConverter は total 回の進捗を報告してからテキストを返します。
func pagedConverter(total int) Converter {
	return ConverterFunc(func(ctx context.Context, in *Input, report ProgressFunc) (*Output, error) {
		for i := 0; i < total; i++ {
			report(i, total, "step")
		}
		return &Output{Filename: "out.txt", ContentType: "text/plain; charset=utf-8", Data: []byte("converted")}, nil
	})
}

// gatedConverter は gate が閉じるまで待ってから next を実行します。
func gatedConverter(gate <-chan struct{}, next Converter) Converter {
	return ConverterFunc(func(ctx context.Context, in *Input, report ProgressFunc) (*Output, error) {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return next.Convert(ctx, in, report)
	})
}

func failingConverter(message string) Converter {
	return ConverterFunc(func(ctx context.Context, in *Input, report ProgressFunc) (*Output, error) {
		return nil, &testError{message}
	})
}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func waitForTerminal(t *testing.T, reg *Registry, id string) *Job {
	t.Helper()
	job, err := reg.Get(id)
	if err != nil {
		t.Fatalf("Get(%s) returned error: %v", id, err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if job.State().Terminal() && job.channel.isClosed() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish, state=%s", id, job.State())
	return nil
}

func subscriberCount(c *progressChannel) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}
