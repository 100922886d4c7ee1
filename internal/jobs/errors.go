package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput は受け付けられない入力（欠落・空）の場合に返ります。
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound は未知または掃除済みのジョブIDに対して返ります。
	ErrNotFound = errors.New("job not found")
	// ErrAlreadyRunning は Pending 以外のジョブを再度ディスパッチした場合に返ります。
	ErrAlreadyRunning = errors.New("job already dispatched")
	// ErrNotReady は実行中のジョブの結果を要求した場合に返ります。
	ErrNotReady = errors.New("job result not ready")
	// ErrFinished は終了済みジョブをキャンセルしようとした場合に返ります。
	ErrFinished = errors.New("job already finished")
	// ErrCollaboratorFailure は変換処理が失敗したジョブの結果を要求した場合に返ります。
	ErrCollaboratorFailure = errors.New("conversion failed")
	// ErrStreamClosed は終端イベント配信後のストリーム読み出しで返ります。
	ErrStreamClosed = errors.New("progress stream closed")
	// ErrClosed はシャットダウン後のレジストリ操作で返ります。
	ErrClosed = errors.New("registry is shut down")

	errWaitTimeout = errors.New("wait timed out")
)

// FailureError は失敗したジョブに保存されたメッセージを保持します。
type FailureError struct {
	JobID   string
	Message string
}

func (e *FailureError) Error() string {
	return e.Message
}

// Is は errors.Is(err, ErrCollaboratorFailure) を成立させます。
func (e *FailureError) Is(target error) bool {
	return target == ErrCollaboratorFailure
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
