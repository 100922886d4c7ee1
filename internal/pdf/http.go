package pdf

import (
	"github.com/gin-gonic/gin"

	"github.com/yourusername/media-forge/internal/jobs"
	"github.com/yourusername/media-forge/internal/upload"
)

// SubmitHandler は POST /api/jobs/document のハンドラーを返します。
func SubmitHandler(registry *jobs.Registry, receiver *upload.Receiver, conv jobs.Converter) gin.HandlerFunc {
	return func(c *gin.Context) {
		in, err := receiver.Receive(c, upload.AcceptPDF)
		if err != nil {
			jobs.RespondError(c, err)
			return
		}
		upload.Submit(c, registry, jobs.KindDocument, in, conv)
	}
}
