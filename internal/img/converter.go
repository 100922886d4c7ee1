// Package img は画像のリサイズと再エンコードを行う変換処理を提供します。
// 目標サイズが指定された場合は sizing パッケージの探索で品質と縮小率を決めます。
package img

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/yourusername/media-forge/internal/jobs"
	"github.com/yourusername/media-forge/internal/sizing"
)

// リサイズモード
const (
	ModeStretch = "stretch" // 指定サイズに引き伸ばす
	ModeCrop    = "crop"    // アスペクト比を保って中央を切り抜く
)

// 出力フォーマット
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
)

// DefaultQuality は JPEG 品質の既定値です。
const DefaultQuality = 85

const (
	// MaxDimension は指定できる幅・高さの上限です。
	MaxDimension = 10000
	// MaxPixels は読み込み・出力できる画素数の上限です。
	MaxPixels = 50_000_000
)

// Options は画像変換の設定です。Width/Height が0の場合は元画像のサイズを使います。
type Options struct {
	Width    int
	Height   int
	Mode     string
	Quality  int
	Format   string
	TargetKB int // 0なら目標サイズ探索を行わない
}

// Normalize は既定値を補い、値を検証します。
func (o Options) Normalize() (Options, error) {
	if o.Width < 0 || o.Height < 0 {
		return o, fmt.Errorf("width and height must not be negative")
	}
	if o.Width > MaxDimension || o.Height > MaxDimension {
		return o, fmt.Errorf("width and height must be at most %d", MaxDimension)
	}
	if int64(o.Width)*int64(o.Height) > MaxPixels {
		return o, fmt.Errorf("%dx%d exceeds the %d pixel limit", o.Width, o.Height, MaxPixels)
	}
	if o.Quality == 0 {
		o.Quality = DefaultQuality
	}
	if o.Quality < 1 || o.Quality > 100 {
		return o, fmt.Errorf("quality must be between 1 and 100, got %d", o.Quality)
	}
	if o.TargetKB < 0 {
		return o, fmt.Errorf("targetKb must not be negative")
	}

	o.Mode = strings.ToLower(strings.TrimSpace(o.Mode))
	switch o.Mode {
	case "":
		o.Mode = ModeStretch
	case ModeStretch, ModeCrop:
	default:
		return o, fmt.Errorf("unknown resize mode %q", o.Mode)
	}

	o.Format = strings.ToLower(strings.TrimSpace(o.Format))
	switch o.Format {
	case "", "jpg", FormatJPEG:
		o.Format = FormatJPEG
	case FormatPNG:
	default:
		return o, fmt.Errorf("unknown output format %q", o.Format)
	}
	return o, nil
}

// Meta は画像変換結果のメタデータです。
type Meta struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Quality  int     `json:"quality,omitempty"`
	Scale    float64 `json:"scale"`
	Format   string  `json:"format"`
	Attempts int     `json:"attempts,omitempty"`
	Fits     *bool   `json:"fits,omitempty"`
}

// Converter は jobs.Converter を実装する画像変換です。
type Converter struct {
	opts Options
}

// NewConverter は正規化済みの設定で Converter を作成します。
func NewConverter(opts Options) (*Converter, error) {
	normalized, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	return &Converter{opts: normalized}, nil
}

// Convert は画像を読み込み、リサイズし、必要なら目標サイズを探索してからエンコードします。
func (c *Converter) Convert(ctx context.Context, in *jobs.Input, report jobs.ProgressFunc) (*jobs.Output, error) {
	total := 3
	if c.opts.TargetKB > 0 {
		total = 4
	}
	step := 0
	advance := func(message string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		report(step, total, message)
		step++
		return nil
	}

	if err := advance("Loading image..."); err != nil {
		return nil, err
	}
	src, err := load(in)
	if err != nil {
		return nil, err
	}

	if err := advance("Resizing image..."); err != nil {
		return nil, err
	}
	if err := checkTargetSize(src.Bounds(), c.opts.Width, c.opts.Height); err != nil {
		return nil, err
	}
	resized := Resize(src, c.opts.Width, c.opts.Height, c.opts.Mode)

	quality, scale := c.opts.Quality, 1.0
	meta := Meta{Format: c.opts.Format}
	if c.opts.TargetKB > 0 {
		if err := advance(fmt.Sprintf("Searching settings for %d KB...", c.opts.TargetKB)); err != nil {
			return nil, err
		}
		search := sizing.FitToBudget
		if c.opts.Format == FormatPNG {
			search = sizing.FitScale
		}
		plan, err := search(Measure(ctx, resized, c.opts.Format), int64(c.opts.TargetKB)*1024)
		if err != nil {
			return nil, fmt.Errorf("failed to search size target: %w", err)
		}
		quality, scale = plan.Quality, plan.Scale
		fits := plan.Fits
		meta.Attempts = plan.Attempts
		meta.Fits = &fits
	}

	if err := advance("Encoding image..."); err != nil {
		return nil, err
	}
	if c.opts.Format == FormatPNG {
		quality = 0
	}
	final := ScaleImage(resized, scale)
	var buf bytes.Buffer
	if err := Encode(&buf, final, c.opts.Format, quality); err != nil {
		return nil, err
	}

	b := final.Bounds()
	meta.Width, meta.Height = b.Dx(), b.Dy()
	meta.Quality, meta.Scale = quality, scale

	return &jobs.Output{
		Filename:    OutputName(in.Name, c.opts.Format),
		ContentType: contentType(c.opts.Format),
		Data:        buf.Bytes(),
		Meta:        meta,
	}, nil
}

func load(in *jobs.Input) (image.Image, error) {
	r, err := in.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer r.Close()
	return Decode(r)
}

// Decode は画像を読み込み、EXIF の向きを補正し、透過部分を白で塗りつぶします。
// 展開前にヘッダーの画素数を MaxPixels と比べます。
func Decode(r io.Reader) (image.Image, error) {
	var head bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &head))
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("failed to load image: %dx%d exceeds the %d pixel limit", cfg.Width, cfg.Height, MaxPixels)
	}

	src, err := imaging.Decode(io.MultiReader(&head, r), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	return flatten(src), nil
}

func flatten(src image.Image) image.Image {
	b := src.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, src, image.Pt(0, 0), 1.0)
}

// Resize は mode に従って width x height にリサイズします。片方が0の場合は元画像の値を使います。
func Resize(src image.Image, width, height int, mode string) image.Image {
	b := src.Bounds()
	width, height = targetSize(b, width, height)
	if width == b.Dx() && height == b.Dy() {
		return src
	}
	if mode == ModeCrop {
		return imaging.Fill(src, width, height, imaging.Center, imaging.Lanczos)
	}
	return imaging.Resize(src, width, height, imaging.Lanczos)
}

func targetSize(b image.Rectangle, width, height int) (int, int) {
	if width <= 0 {
		width = b.Dx()
	}
	if height <= 0 {
		height = b.Dy()
	}
	return width, height
}

// checkTargetSize は片方だけ指定された場合も含め、出力の画素数が MaxPixels 以下かを確認します。
func checkTargetSize(b image.Rectangle, width, height int) error {
	w, h := targetSize(b, width, height)
	if int64(w)*int64(h) > MaxPixels {
		return fmt.Errorf("output size %dx%d exceeds the %d pixel limit", w, h, MaxPixels)
	}
	return nil
}

// ScaleImage は画像を scale 倍に縮小します。1以上の場合はそのまま返します。
func ScaleImage(src image.Image, scale float64) image.Image {
	if scale >= 1 {
		return src
	}
	b := src.Bounds()
	w := max(1, int(float64(b.Dx())*scale))
	h := max(1, int(float64(b.Dy())*scale))
	return imaging.Resize(src, w, h, imaging.Lanczos)
}

// Encode は format でエンコードして w に書き込みます。PNG では quality を無視します。
func Encode(w io.Writer, src image.Image, format string, quality int) error {
	var err error
	if format == FormatPNG {
		err = imaging.Encode(w, src, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	} else {
		err = imaging.Encode(w, src, imaging.JPEG, imaging.JPEGQuality(quality))
	}
	if err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return nil
}

// Measure は src を指定の縮小率と品質でエンコードしたバイト数を返す sizing.SizeFunc を作ります。
// エンコード結果は保持せず、バイト数だけを数えます。
func Measure(ctx context.Context, src image.Image, format string) sizing.SizeFunc {
	return func(scale float64, quality int) (int64, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		var counter countingWriter
		if err := Encode(&counter, ScaleImage(src, scale), format, quality); err != nil {
			return 0, err
		}
		return int64(counter), nil
	}
}

type countingWriter int64

func (c *countingWriter) Write(p []byte) (int, error) {
	*c += countingWriter(len(p))
	return len(p), nil
}

// OutputName は元のファイル名から `<stem>_resized.jpg|.png` を作ります。
func OutputName(name, format string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if stem == "" {
		stem = "image"
	}
	ext := ".jpg"
	if format == FormatPNG {
		ext = ".png"
	}
	return stem + "_resized" + ext
}

func contentType(format string) string {
	if format == FormatPNG {
		return "image/png"
	}
	return "image/jpeg"
}
