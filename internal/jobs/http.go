package jobs

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	defaultKeepalive = 30 * time.Second
	maxInlineText    = 1 << 20
)

// HandlerOptions は HTTP ハンドラーの設定です。
type HandlerOptions struct {
	// Keepalive はジョブ種別ごとのキープアライブ間隔です。
	Keepalive map[Kind]time.Duration
	Logger    *slog.Logger
}

// Handler はジョブの状態・進捗・結果を返す HTTP ハンドラー群です。
type Handler struct {
	registry  *Registry
	keepalive map[Kind]time.Duration
	logger    *slog.Logger
}

// NewHandler は Handler を作成します。
func NewHandler(registry *Registry, opts HandlerOptions) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	keepalive := make(map[Kind]time.Duration, len(opts.Keepalive))
	for k, v := range opts.Keepalive {
		keepalive[k] = v
	}
	return &Handler{registry: registry, keepalive: keepalive, logger: logger}
}

// Accepted は投入済みジョブのIDを 202 で返します。
func Accepted(c *gin.Context, jobID string) {
	c.JSON(http.StatusAccepted, gin.H{"jobId": jobID})
}

func (h *Handler) keepaliveFor(kind Kind) time.Duration {
	if d, ok := h.keepalive[kind]; ok && d > 0 {
		return d
	}
	return defaultKeepalive
}

func jobID(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "jobId を指定してください。",
		})
		return "", false
	}
	return id, true
}

// Status は GET /api/jobs/:id のハンドラーです。
func (h *Handler) Status(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	job, err := h.registry.Get(id)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job.Snapshot())
}

// Events は GET /api/jobs/:id/events のハンドラーです。Server-Sent Events で進捗を配信し、
// 終端イベントを送ったら接続を閉じます。
func (h *Handler) Events(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	job, err := h.registry.Get(id)
	if err != nil {
		RespondError(c, err)
		return
	}
	stream, err := h.registry.OpenStream(id, h.keepaliveFor(job.Kind()))
	if err != nil {
		RespondError(c, err)
		return
	}
	defer stream.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			if err != io.EOF {
				h.logger.Debug("progress stream closed", "job_id", id, "error", err)
			}
			return
		}
		c.SSEvent("message", eventPayload(ev))
		c.Writer.Flush()
		if ev.Terminal() {
			return
		}
	}
}

func eventPayload(ev Event) gin.H {
	payload := gin.H{"type": ev.Kind}
	switch ev.Kind {
	case EventProgress:
		payload["current"] = ev.Current
		payload["total"] = ev.Total
		payload["message"] = ev.Message
		if ev.Total > 0 {
			payload["percent"] = ev.Current * 100 / ev.Total
		}
	case EventDone:
		payload["summary"] = ev.Summary
	case EventFailed:
		payload["message"] = ev.Message
	}
	return payload
}

// Result は GET /api/jobs/:id/result のハンドラーです。
func (h *Handler) Result(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	res, err := h.registry.FetchResult(id)
	if err != nil {
		RespondError(c, err)
		return
	}

	body, size, err := res.Open()
	if err != nil {
		RespondError(c, NewAPIError("INTERNAL_ERROR", "ジョブの成果物取得に失敗しました。", err))
		return
	}
	defer body.Close()

	encodedName := url.PathEscape(res.Filename)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", res.Filename, encodedName))
	c.Header("Cache-Control", "no-store")
	c.Header("X-Job-Id", id)
	c.DataFromReader(http.StatusOK, size, res.ContentType, body, nil)
}

// Summary は GET /api/jobs/:id/summary のハンドラーです。
// テキスト成果物の場合は本文もあわせて返します。
func (h *Handler) Summary(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	res, err := h.registry.FetchResult(id)
	if err != nil {
		RespondError(c, err)
		return
	}

	payload := gin.H{
		"jobId":   id,
		"summary": res.Summary(),
	}
	if strings.HasPrefix(res.ContentType, "text/") && res.OutputSize <= maxInlineText {
		body, _, err := res.Open()
		if err != nil {
			RespondError(c, NewAPIError("INTERNAL_ERROR", "ジョブの成果物取得に失敗しました。", err))
			return
		}
		defer body.Close()
		text, err := io.ReadAll(body)
		if err != nil {
			RespondError(c, NewAPIError("INTERNAL_ERROR", "ジョブの成果物取得に失敗しました。", err))
			return
		}
		payload["text"] = string(text)
	}
	c.JSON(http.StatusOK, payload)
}

// Cancel は POST /api/jobs/:id/cancel のハンドラーです。
func (h *Handler) Cancel(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	if err := h.registry.Cancel(id); err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": id})
}
