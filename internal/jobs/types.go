package jobs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
)

// Kind は変換ジョブの種別を表します。
type Kind string

const (
	KindDocument Kind = "document"
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
)

// State はジョブの実行状態を表します。Pending → Running → Completed | Failed の順にのみ遷移します。
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal は終了状態かどうかを返します。
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// EventKind は進捗イベントの種類です。
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventDone      EventKind = "done"
	EventFailed    EventKind = "failed"
	EventKeepalive EventKind = "keepalive"
)

// Event は進捗ストリームに流れる1件のイベントです。
type Event struct {
	Kind    EventKind
	Current int
	Total   int
	Message string
	Summary *Summary
}

// Terminal は Done / Failed のいずれかかを返します。
func (e Event) Terminal() bool {
	return e.Kind == EventDone || e.Kind == EventFailed
}

// Summary は完了時に通知するサイズ情報です。
type Summary struct {
	Filename        string  `json:"filename"`
	InputSize       int64   `json:"inputSize"`
	OutputSize      int64   `json:"outputSize"`
	Reduction       float64 `json:"reduction"`
	InputSizeHuman  string  `json:"inputSizeHuman"`
	OutputSizeHuman string  `json:"outputSizeHuman"`
	Meta            any     `json:"meta,omitempty"`
}

// ProgressFunc は変換処理が進捗を報告するためのコールバックです。
type ProgressFunc func(current, total int, message string)

// Converter は1種類の変換処理です。Convert はブロッキングで実行され、
// report を0回以上呼んだあと成果物かエラーを返します。
type Converter interface {
	Convert(ctx context.Context, in *Input, report ProgressFunc) (*Output, error)
}

// ConverterFunc は関数を Converter として扱うためのアダプターです。
type ConverterFunc func(ctx context.Context, in *Input, report ProgressFunc) (*Output, error)

// Convert は f を呼び出します。
func (f ConverterFunc) Convert(ctx context.Context, in *Input, report ProgressFunc) (*Output, error) {
	return f(ctx, in, report)
}

// Workspace はジョブの一時ファイル領域です。
type Workspace interface {
	// ReleaseInput は入力ファイルだけを削除します。
	ReleaseInput() error
	// Release は成果物を含む全ファイルを削除します。
	Release() error
}

// Input はジョブ作成時に渡す入力アーティファクトです。Path か Data のどちらかが必要です。
type Input struct {
	Name        string
	ContentType string
	Path        string
	Data        []byte
	Size        int64
	// OutDir は成果物をファイルで書き出す場合の出力先です。
	OutDir    string
	Workspace Workspace
}

// Open は入力を読み出し用に開きます。
func (in *Input) Open() (io.ReadCloser, error) {
	if in.Path != "" {
		return os.Open(in.Path)
	}
	return io.NopCloser(bytes.NewReader(in.Data)), nil
}

// ReadAll は入力全体をメモリに読み込みます。
func (in *Input) ReadAll() ([]byte, error) {
	if in.Path == "" {
		return in.Data, nil
	}
	return os.ReadFile(in.Path)
}

func (in *Input) validate() error {
	if in == nil {
		return invalidInput("input is missing")
	}
	if in.Path != "" {
		info, err := os.Stat(in.Path)
		if err != nil {
			return invalidInput("input file %q is not accessible", filepath.Base(in.Path))
		}
		if info.IsDir() {
			return invalidInput("input path %q is a directory", filepath.Base(in.Path))
		}
		if info.Size() == 0 {
			return invalidInput("input file %q is empty", filepath.Base(in.Path))
		}
		in.Size = info.Size()
		return nil
	}
	if len(in.Data) == 0 {
		return invalidInput("input is empty")
	}
	in.Size = int64(len(in.Data))
	return nil
}

// Output は変換処理が返す成果物です。Path か Data のどちらかを設定します。
type Output struct {
	Filename    string
	ContentType string
	Data        []byte
	Path        string
	Meta        any
}

// Result は完了したジョブの成果物とサイズ情報です。生成後は変更されません。
type Result struct {
	Filename    string
	ContentType string
	Data        []byte
	Path        string
	InputSize   int64
	OutputSize  int64
	Reduction   float64
	Meta        any
	FinishedAt  time.Time
}

func newResult(in *Input, out *Output, finishedAt time.Time) (*Result, error) {
	if out == nil {
		return nil, fmt.Errorf("converter returned no output")
	}
	size := int64(len(out.Data))
	if out.Path != "" {
		info, err := os.Stat(out.Path)
		if err != nil {
			return nil, fmt.Errorf("output file is missing: %w", err)
		}
		size = info.Size()
	}

	filename := out.Filename
	if filename == "" && out.Path != "" {
		filename = filepath.Base(out.Path)
	}
	if filename == "" {
		filename = "result.bin"
	}
	contentType := out.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return &Result{
		Filename:    filename,
		ContentType: contentType,
		Data:        out.Data,
		Path:        out.Path,
		InputSize:   in.Size,
		OutputSize:  size,
		Reduction:   Reduction(in.Size, size),
		Meta:        out.Meta,
		FinishedAt:  finishedAt,
	}, nil
}

// Open は成果物を読み出し用に開き、サイズと一緒に返します。
func (r *Result) Open() (io.ReadCloser, int64, error) {
	if r.Path != "" {
		f, err := os.Open(r.Path)
		if err != nil {
			return nil, 0, err
		}
		return f, r.OutputSize, nil
	}
	return io.NopCloser(bytes.NewReader(r.Data)), int64(len(r.Data)), nil
}

// Summary は完了イベント用のサイズ情報を返します。
func (r *Result) Summary() *Summary {
	return &Summary{
		Filename:        r.Filename,
		InputSize:       r.InputSize,
		OutputSize:      r.OutputSize,
		Reduction:       r.Reduction,
		InputSizeHuman:  humanize.IBytes(uint64(r.InputSize)),
		OutputSizeHuman: humanize.IBytes(uint64(r.OutputSize)),
		Meta:            r.Meta,
	}
}

// Reduction は入力に対する削減率（%、小数第1位で丸め）を返します。出力の方が大きい場合は負になります。
func Reduction(inputSize, outputSize int64) float64 {
	if inputSize <= 0 {
		return 0
	}
	ratio := (1 - float64(outputSize)/float64(inputSize)) * 100
	return math.Round(ratio*10) / 10
}
