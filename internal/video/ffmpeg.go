package video

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Info は ffprobe で取得した動画の情報です。
type Info struct {
	Width    int
	Height   int
	Duration float64 // 秒
}

// Prober は動画ファイルの情報を取得します。
type Prober interface {
	Probe(ctx context.Context, path string) (*Info, error)
}

// RenderRequest は1回分の GIF レンダリング指示です。
type RenderRequest struct {
	Input    string
	Output   string
	Duration float64 // 先頭から切り出す秒数
	FPS      int
	Scale    string // ffmpeg の scale/crop フィルター。空なら元のサイズ
}

// Renderer は動画を GIF にレンダリングします。
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) error
}

// FFmpeg は ffmpeg / ffprobe コマンドを呼び出す Prober / Renderer です。
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpeg は実行ファイルのパスを指定して FFmpeg を作成します。空なら PATH から探します。
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// Available は ffmpeg と ffprobe の両方が実行可能かを確認します。
func (f *FFmpeg) Available() error {
	for _, bin := range []string{f.ffmpegPath, f.ffprobePath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%s not found: %w", bin, err)
		}
	}
	return nil
}

// Probe は最初の映像ストリームのサイズと動画の長さを返します。
func (f *FFmpeg) Probe(ctx context.Context, path string) (*Info, error) {
	cmd := exec.CommandContext(ctx, f.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:format=duration",
		"-of", "default=noprint_wrappers=1",
		path,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffprobe failed: %w\nOutput: %s", err, strings.TrimSpace(string(output)))
	}
	return parseProbe(string(output))
}

func parseProbe(output string) (*Info, error) {
	info := &Info{}
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "width":
			if w, err := strconv.Atoi(value); err == nil {
				info.Width = w
			}
		case "height":
			if h, err := strconv.Atoi(value); err == nil {
				info.Height = h
			}
		case "duration":
			if d, err := strconv.ParseFloat(value, 64); err == nil {
				info.Duration = d
			}
		}
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("no video stream found")
	}
	return info, nil
}

// Render は fps と scale を適用し、パレット生成付きで GIF を書き出します。
func (f *FFmpeg) Render(ctx context.Context, req RenderRequest) error {
	args := []string{"-hide_banner", "-loglevel", "error", "-y"}
	if req.Duration > 0 {
		args = append(args, "-t", strconv.FormatFloat(req.Duration, 'f', 3, 64))
	}
	args = append(args,
		"-i", req.Input,
		"-vf", filterGraph(req.FPS, req.Scale),
		"-loop", "0",
		req.Output,
	)

	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// filterGraph は fps → scale → パレット生成/適用のフィルターグラフを組み立てます。
func filterGraph(fps int, scale string) string {
	chain := fmt.Sprintf("fps=%d", fps)
	if scale != "" {
		chain += "," + scale
	}
	return chain + ",split[a][b];[a]palettegen[p];[b][p]paletteuse"
}

// ScaleFilter はアスペクトモードに従って scale(/crop) フィルターを返します。
//   - maintain: 比率を保って width x height に収める
//   - crop: 比率を保って覆うように拡大し、中央を切り抜く
//   - fill: width x height に引き伸ばす
//
// 片方だけ指定された場合は crop 以外は比率を保ってその辺に合わせ、crop は何もしません。
func ScaleFilter(width, height int, mode string) string {
	switch {
	case width > 0 && height > 0:
		switch mode {
		case AspectCrop:
			return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase:flags=lanczos,crop=%d:%d", width, height, width, height)
		case AspectFill:
			return fmt.Sprintf("scale=%d:%d:flags=lanczos", width, height)
		default:
			return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease:flags=lanczos", width, height)
		}
	case mode == AspectCrop:
		return ""
	case width > 0:
		return fmt.Sprintf("scale=%d:-1:flags=lanczos", width)
	case height > 0:
		return fmt.Sprintf("scale=-1:%d:flags=lanczos", height)
	default:
		return ""
	}
}
