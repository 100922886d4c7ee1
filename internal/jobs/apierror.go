package jobs

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIError はクライアントへ返すエラーです。
type APIError struct {
	Code    string
	Message string
	Err     error
}

// NewAPIError は APIError を作成します。
func NewAPIError(code, message string, cause error) *APIError {
	return &APIError{Code: code, Message: message, Err: cause}
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func (e *APIError) status() int {
	switch e.Code {
	case "LIMIT_EXCEEDED":
		return http.StatusRequestEntityTooLarge
	case "UNSUPPORTED_MEDIA_TYPE":
		return http.StatusUnsupportedMediaType
	case "INTERNAL_ERROR":
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// RespondError はエラーを {code, message} 形式の JSON で返します。
func RespondError(c *gin.Context, err error) {
	var (
		apiErr  *APIError
		failErr *FailureError
	)
	switch {
	case errors.As(err, &apiErr):
		c.JSON(apiErr.status(), gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.As(err, &failErr):
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "JOB_FAILED",
			"message": failErr.Message,
		})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "JOB_NOT_FOUND",
			"message": "指定されたジョブは存在しません。",
		})
	case errors.Is(err, ErrNotReady):
		c.JSON(http.StatusTooEarly, gin.H{
			"code":    "JOB_NOT_READY",
			"message": "ジョブはまだ完了していません。",
		})
	case errors.Is(err, ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{
			"code":    "ALREADY_RUNNING",
			"message": "ジョブは既に実行されています。",
		})
	case errors.Is(err, ErrFinished):
		c.JSON(http.StatusConflict, gin.H{
			"code":    "JOB_FINISHED",
			"message": "ジョブは既に終了しています。",
		})
	case errors.Is(err, ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "入力ファイルを受け付けられませんでした。",
		})
	case errors.Is(err, ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    "SHUTTING_DOWN",
			"message": "サーバーを停止しています。",
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}
