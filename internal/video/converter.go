// Package video は動画の先頭部分をアニメーション GIF に変換する処理を提供します。
// 初回は 10fps でレンダリングし、目標サイズを超えた場合だけ補正したフレームレートで1回だけ再レンダリングします。
package video

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/yourusername/media-forge/internal/jobs"
	"github.com/yourusername/media-forge/internal/sizing"
)

// アスペクトモード
const (
	AspectMaintain = "maintain"
	AspectCrop     = "crop"
	AspectFill     = "fill"
)

const (
	// DefaultDuration は切り出す秒数の既定値です。
	DefaultDuration = 5.0
	// DefaultTargetSizeMB は目標サイズ（MB）の既定値です。
	DefaultTargetSizeMB = 5.0
)

// 進捗ステップ
const (
	stepLoad = iota
	stepPlan
	stepCreate
	stepOptimize
	stepComplete
	totalSteps
)

// Options は GIF 変換の設定です。
type Options struct {
	Duration     float64
	TargetSizeMB float64
	Width        int
	Height       int
	AspectMode   string
}

// Normalize は既定値を補い、値を検証します。
func (o Options) Normalize() (Options, error) {
	if o.Duration == 0 {
		o.Duration = DefaultDuration
	}
	if o.TargetSizeMB == 0 {
		o.TargetSizeMB = DefaultTargetSizeMB
	}
	if o.Duration < 0 || math.IsNaN(o.Duration) || math.IsInf(o.Duration, 0) {
		return o, fmt.Errorf("duration must be positive")
	}
	if o.TargetSizeMB < 0 || math.IsNaN(o.TargetSizeMB) || math.IsInf(o.TargetSizeMB, 0) {
		return o, fmt.Errorf("targetSizeMb must be positive")
	}
	if o.Width < 0 || o.Height < 0 {
		return o, fmt.Errorf("width and height must not be negative")
	}

	o.AspectMode = strings.ToLower(strings.TrimSpace(o.AspectMode))
	switch o.AspectMode {
	case "":
		o.AspectMode = AspectMaintain
	case AspectMaintain, AspectCrop, AspectFill:
	default:
		return o, fmt.Errorf("unknown aspect mode %q", o.AspectMode)
	}
	return o, nil
}

// TargetBytes は目標サイズをバイト数で返します。
func (o Options) TargetBytes() int64 {
	return int64(o.TargetSizeMB * 1024 * 1024)
}

// Meta は GIF 変換結果のメタデータです。
type Meta struct {
	FPS          int     `json:"fps"`
	Renders      int     `json:"renders"`
	FirstSize    int64   `json:"firstSize"`
	TargetSize   int64   `json:"targetSize"`
	Fits         bool    `json:"fits"`
	Duration     float64 `json:"duration"`
	SourceWidth  int     `json:"sourceWidth"`
	SourceHeight int     `json:"sourceHeight"`
}

// Converter は jobs.Converter を実装する GIF 変換です。
type Converter struct {
	opts     Options
	prober   Prober
	renderer Renderer
}

// NewConverter は Converter を作成します。
func NewConverter(opts Options, prober Prober, renderer Renderer) (*Converter, error) {
	normalized, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	return &Converter{opts: normalized, prober: prober, renderer: renderer}, nil
}

// Convert は動画を読み込み、GIF を書き出します。成果物は入力の OutDir に置かれます。
func (c *Converter) Convert(ctx context.Context, in *jobs.Input, report jobs.ProgressFunc) (*jobs.Output, error) {
	if in.Path == "" {
		return nil, errors.New("video input must be a file")
	}
	if in.OutDir == "" {
		return nil, errors.New("no output directory for video job")
	}

	report(stepLoad, totalSteps, "Loading video...")
	info, err := c.prober.Probe(ctx, in.Path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to load video: %w", err)
	}

	report(stepPlan, totalSteps, "Calculating optimal settings...")
	duration := c.opts.Duration
	if info.Duration > 0 && info.Duration < duration {
		duration = info.Duration
	}
	filename := gifName(in.Name)
	req := RenderRequest{
		Input:    in.Path,
		Output:   filepath.Join(in.OutDir, filename),
		Duration: duration,
		Scale:    ScaleFilter(c.opts.Width, c.opts.Height, c.opts.AspectMode),
	}

	report(stepCreate, totalSteps, "Creating GIF...")
	render := func(fps int) (int64, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if fps != sizing.ReferenceFPS {
			report(stepOptimize, totalSteps, "Optimizing file size...")
		}
		req.FPS = fps
		if err := c.renderer.Render(ctx, req); err != nil {
			return 0, err
		}
		st, err := os.Stat(req.Output)
		if err != nil {
			return 0, fmt.Errorf("GIF was not written: %w", err)
		}
		return st.Size(), nil
	}

	target := c.opts.TargetBytes()
	plan, err := sizing.PlanFrameRate(render, target)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to create GIF: %w", err)
	}

	report(stepComplete, totalSteps, "Conversion complete")
	return &jobs.Output{
		Filename:    filename,
		ContentType: "image/gif",
		Path:        req.Output,
		Meta: Meta{
			FPS:          plan.FPS,
			Renders:      plan.Rendered,
			FirstSize:    plan.FirstSize,
			TargetSize:   target,
			Fits:         plan.Fits,
			Duration:     duration,
			SourceWidth:  info.Width,
			SourceHeight: info.Height,
		},
	}, nil
}

func gifName(name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if stem == "" {
		stem = "video"
	}
	return stem + ".gif"
}
