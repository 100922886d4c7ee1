// Package pdf は PDF からテキストを抽出して Markdown にする変換処理を提供します。
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/yourusername/media-forge/internal/jobs"
)

var disableConfigDir sync.Once

// Meta は Markdown 変換結果のメタデータです。
type Meta struct {
	Pages         int `json:"pages"`
	PagesWithText int `json:"pagesWithText"`
}

// Converter は PDF の各ページからテキストを抽出し、ページ見出し付きの Markdown を生成します。
type Converter struct{}

// NewConverter は Converter を作成します。
func NewConverter() *Converter {
	disableConfigDir.Do(pdfapi.DisableConfigDir)
	return &Converter{}
}

// Convert は jobs.Converter を実装します。ページごとに進捗を1回報告します。
func (c *Converter) Convert(ctx context.Context, in *jobs.Input, report jobs.ProgressFunc) (*jobs.Output, error) {
	data, err := in.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	pdfCtx, err := pdfapi.ReadContext(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	if err := pdfCtx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("failed to count PDF pages: %w", err)
	}
	total := pdfCtx.PageCount
	if total <= 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	var (
		md       strings.Builder
		withText int
	)
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report(i, total, fmt.Sprintf("Extracting page %d/%d", i+1, total))

		text, err := pageText(pdfCtx, i+1)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		withText++
		fmt.Fprintf(&md, "# Page %d\n\n%s\n\n", i+1, text)
	}

	return &jobs.Output{
		Filename:    markdownName(in.Name),
		ContentType: "text/markdown; charset=utf-8",
		Data:        []byte(md.String()),
		Meta:        Meta{Pages: total, PagesWithText: withText},
	}, nil
}

func pageText(pdfCtx *model.Context, pageNr int) (string, error) {
	r, err := pdfcpu.ExtractPageContent(pdfCtx, pageNr)
	if err != nil {
		return "", fmt.Errorf("failed to read content of page %d: %w", pageNr, err)
	}
	if r == nil {
		return "", nil
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read content of page %d: %w", pageNr, err)
	}
	return ExtractText(content), nil
}

func markdownName(name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if stem == "" {
		stem = "document"
	}
	return stem + ".md"
}
