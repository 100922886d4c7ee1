package video

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/media-forge/internal/jobs"
	"github.com/yourusername/media-forge/internal/upload"
)

// SubmitHandler は POST /api/jobs/video のハンドラーを返します。
func SubmitHandler(registry *jobs.Registry, receiver *upload.Receiver, prober Prober, renderer Renderer) gin.HandlerFunc {
	return func(c *gin.Context) {
		opts, err := parseOptions(c)
		if err != nil {
			jobs.RespondError(c, err)
			return
		}
		conv, err := NewConverter(opts, prober, renderer)
		if err != nil {
			jobs.RespondError(c, jobs.NewAPIError("INVALID_INPUT", "変換オプションが不正です。", err))
			return
		}

		in, err := receiver.Receive(c, upload.AcceptVideo)
		if err != nil {
			jobs.RespondError(c, err)
			return
		}
		upload.Submit(c, registry, jobs.KindVideo, in, conv)
	}
}

func parseOptions(c *gin.Context) (Options, error) {
	var (
		opts Options
		err  error
	)
	if opts.Duration, err = formFloat(c, "duration"); err != nil {
		return opts, err
	}
	if opts.TargetSizeMB, err = formFloat(c, "targetSizeMb"); err != nil {
		return opts, err
	}
	if opts.Width, err = formInt(c, "width"); err != nil {
		return opts, err
	}
	if opts.Height, err = formInt(c, "height"); err != nil {
		return opts, err
	}
	opts.AspectMode = c.PostForm("aspectMode")
	return opts, nil
}

func formFloat(c *gin.Context, field string) (float64, error) {
	raw := strings.TrimSpace(c.PostForm(field))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, jobs.NewAPIError("INVALID_INPUT", fmt.Sprintf("%s には数値を指定してください。", field), err)
	}
	return v, nil
}

func formInt(c *gin.Context, field string) (int, error) {
	raw := strings.TrimSpace(c.PostForm(field))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, jobs.NewAPIError("INVALID_INPUT", fmt.Sprintf("%s には整数を指定してください。", field), err)
	}
	return v, nil
}
