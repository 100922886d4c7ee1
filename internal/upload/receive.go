// Package upload はアップロードされたファイルをワークスペースに保存し、ジョブ入力に変換します。
package upload

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/media-forge/internal/jobs"
	"github.com/yourusername/media-forge/internal/storage"
)

// Accept は検出した MIME タイプを受け付けるかどうかを判定します。
type Accept struct {
	Label string // エラーメッセージ用の表示名
	Match func(m *mimetype.MIME) bool
}

var (
	// AcceptPDF は PDF のみを受け付けます。
	AcceptPDF = Accept{Label: "PDF", Match: func(m *mimetype.MIME) bool {
		return m.Is("application/pdf")
	}}
	// AcceptImage は画像全般を受け付けます。
	AcceptImage = Accept{Label: "画像", Match: func(m *mimetype.MIME) bool {
		return hasFamily(m, "image/")
	}}
	// AcceptVideo は動画全般を受け付けます。
	AcceptVideo = Accept{Label: "動画", Match: func(m *mimetype.MIME) bool {
		return hasFamily(m, "video/")
	}}
)

func hasFamily(m *mimetype.MIME, prefix string) bool {
	for cur := m; cur != nil; cur = cur.Parent() {
		if strings.HasPrefix(cur.String(), prefix) {
			return true
		}
	}
	return false
}

// formOverhead は multipart の境界やテキスト項目に見込む本文の余裕です。
const formOverhead = 1 << 20

// Receiver はアップロードを受け取ってワークスペースに保存します。
type Receiver struct {
	store   *storage.Local
	maxSize int64
}

// NewReceiver は Receiver を作成します。maxSize は1ファイルの上限バイト数です。
func NewReceiver(store *storage.Local, maxSize int64) *Receiver {
	return &Receiver{store: store, maxSize: maxSize}
}

// LimitBody はリクエスト本文を maxSize と formOverhead の合計までに制限するミドルウェアです。
// フォームを読むハンドラーより前に置きます。
func (r *Receiver) LimitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.maxSize > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, r.maxSize+formOverhead)
		}
		c.Next()
	}
}

// Receive はフォームの file フィールドを保存し、ジョブ入力を返します。
// 失敗した場合は作成したワークスペースを削除します。
func (r *Receiver) Receive(c *gin.Context, accept Accept) (*jobs.Input, error) {
	header, err := formFile(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, jobs.NewAPIError("LIMIT_EXCEEDED", "ファイルサイズが上限を超えています。", err)
		}
		return nil, jobs.NewAPIError("INVALID_INPUT", fmt.Sprintf("%sファイルを選択してください。", accept.Label), err)
	}
	if r.maxSize > 0 && header.Size > r.maxSize {
		return nil, jobs.NewAPIError("LIMIT_EXCEEDED", "ファイルサイズが上限を超えています。", nil)
	}

	ws, err := r.store.Create()
	if err != nil {
		return nil, err
	}

	in, err := save(ws, header, r.maxSize)
	if err != nil {
		_ = ws.Release()
		return nil, err
	}

	detected, err := mimetype.DetectFile(in.Path)
	if err != nil {
		_ = ws.Release()
		return nil, fmt.Errorf("ファイル形式の判定に失敗しました: %w", err)
	}
	if accept.Match != nil && !accept.Match(detected) {
		_ = ws.Release()
		return nil, jobs.NewAPIError("UNSUPPORTED_MEDIA_TYPE",
			fmt.Sprintf("%sファイルではありません（検出: %s）。", accept.Label, detected.String()), nil)
	}
	in.ContentType = detected.String()
	return in, nil
}

// Submit は受け取った入力でジョブを作成して実行を開始し、202 を返します。
func Submit(c *gin.Context, registry *jobs.Registry, kind jobs.Kind, in *jobs.Input, conv jobs.Converter) {
	id, err := registry.Submit(kind, in, conv)
	if err != nil {
		if in.Workspace != nil {
			_ = in.Workspace.Release()
		}
		jobs.RespondError(c, err)
		return
	}
	jobs.Accepted(c, id)
}

func formFile(c *gin.Context) (*multipart.FileHeader, error) {
	var firstErr error
	for _, field := range []string{"file", "file[]", "files", "files[]"} {
		header, err := c.FormFile(field)
		if err == nil {
			return header, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, fmt.Errorf("no file in form: %w", firstErr)
}

// sanitizeName はクライアントから届いたファイル名からディレクトリ部分を取り除きます。
func sanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	return name
}

func save(ws *storage.Workspace, header *multipart.FileHeader, limit int64) (*jobs.Input, error) {
	name := sanitizeName(header.Filename)
	src, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("アップロードファイルの読み込みに失敗しました: %w", err)
	}
	defer src.Close()

	path := filepath.Join(ws.InDir, "source"+strings.ToLower(filepath.Ext(name)))
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return nil, fmt.Errorf("アップロードファイルの保存に失敗しました: %w", err)
	}
	size, copyErr := copyLimited(dst, src, limit)
	closeErr := dst.Close()
	if copyErr != nil {
		return nil, copyErr
	}
	if closeErr != nil {
		return nil, fmt.Errorf("アップロードファイルの保存に失敗しました: %w", closeErr)
	}
	if size == 0 {
		return nil, jobs.NewAPIError("INVALID_INPUT", "空のファイルはアップロードできません。", nil)
	}

	return &jobs.Input{
		Name:      name,
		Path:      path,
		Size:      size,
		OutDir:    ws.OutDir,
		Workspace: ws,
	}, nil
}

func copyLimited(dst *os.File, src io.Reader, limit int64) (int64, error) {
	if limit <= 0 {
		return io.Copy(dst, src)
	}
	n, err := io.Copy(dst, io.LimitReader(src, limit+1))
	if err != nil {
		return n, err
	}
	if n > limit {
		return n, jobs.NewAPIError("LIMIT_EXCEEDED", "ファイルサイズが上限を超えています。", nil)
	}
	return n, nil
}
