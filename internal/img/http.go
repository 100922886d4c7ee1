package img

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/media-forge/internal/jobs"
	"github.com/yourusername/media-forge/internal/sizing"
	"github.com/yourusername/media-forge/internal/upload"
)

// DefaultTargetKB は自動調整で目標サイズが省略されたときの値です。
const DefaultTargetKB = 1024

// SubmitHandler は POST /api/jobs/image のハンドラーを返します。
func SubmitHandler(registry *jobs.Registry, receiver *upload.Receiver) gin.HandlerFunc {
	return func(c *gin.Context) {
		opts, err := parseOptions(c)
		if err != nil {
			jobs.RespondError(c, err)
			return
		}
		conv, err := NewConverter(opts)
		if err != nil {
			jobs.RespondError(c, invalidOption(err))
			return
		}

		in, err := receiver.Receive(c, upload.AcceptImage)
		if err != nil {
			jobs.RespondError(c, err)
			return
		}
		upload.Submit(c, registry, jobs.KindImage, in, conv)
	}
}

// AutoAdjustHandler は POST /api/images/auto-adjust のハンドラーを返します。
// ジョブを作らずにリクエスト内で探索し、推奨の品質と縮小後のサイズを返します。
func AutoAdjustHandler(receiver *upload.Receiver) gin.HandlerFunc {
	return func(c *gin.Context) {
		opts, err := parseOptions(c)
		if err != nil {
			jobs.RespondError(c, err)
			return
		}
		if opts.TargetKB == 0 {
			opts.TargetKB = DefaultTargetKB
		}
		opts, err = opts.Normalize()
		if err != nil {
			jobs.RespondError(c, invalidOption(err))
			return
		}

		in, err := receiver.Receive(c, upload.AcceptImage)
		if err != nil {
			jobs.RespondError(c, err)
			return
		}
		defer func() { _ = in.Workspace.Release() }()

		src, err := load(in)
		if err != nil {
			jobs.RespondError(c, jobs.NewAPIError("INVALID_INPUT", "画像を読み込めませんでした。", err))
			return
		}
		if err := checkTargetSize(src.Bounds(), opts.Width, opts.Height); err != nil {
			jobs.RespondError(c, invalidOption(err))
			return
		}
		resized := Resize(src, opts.Width, opts.Height, opts.Mode)

		plan, err := sizing.FitToBudget(Measure(c.Request.Context(), resized, FormatJPEG), int64(opts.TargetKB)*1024)
		if err != nil {
			jobs.RespondError(c, err)
			return
		}

		b := resized.Bounds()
		c.JSON(http.StatusOK, gin.H{
			"quality":   plan.Quality,
			"scale":     math.Round(plan.Scale*1000) / 1000,
			"width":     int(float64(b.Dx()) * plan.Scale),
			"height":    int(float64(b.Dy()) * plan.Scale),
			"size":      plan.Size,
			"fits":      plan.Fits,
			"attempts":  plan.Attempts,
			"targetKb":  opts.TargetKB,
			"inputSize": in.Size,
		})
	}
}

func parseOptions(c *gin.Context) (Options, error) {
	var (
		opts Options
		err  error
	)
	ints := []struct {
		field string
		dst   *int
	}{
		{"width", &opts.Width},
		{"height", &opts.Height},
		{"quality", &opts.Quality},
		{"targetKb", &opts.TargetKB},
	}
	for _, f := range ints {
		if *f.dst, err = formInt(c, f.field); err != nil {
			return opts, err
		}
	}
	opts.Mode = c.PostForm("mode")
	opts.Format = c.PostForm("format")
	return opts, nil
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

func invalidOption(err error) error {
	return jobs.NewAPIError("INVALID_INPUT", "変換オプションが不正です。", err)
}
