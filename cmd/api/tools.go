package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/media-forge/internal/jobs"
)

// tool はフロントエンドのハブ画面に並べる変換ツールです。
type tool struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Icon        string    `json:"icon"`
	Kind        jobs.Kind `json:"kind"`
	Endpoint    string    `json:"endpoint"`
}

var tools = []tool{
	{
		ID:          "imgsizer",
		Name:        "Image Resizer",
		Description: "Resize and compress images with live preview and quality control",
		Icon:        "crop",
		Kind:        jobs.KindImage,
		Endpoint:    "/api/jobs/image",
	},
	{
		ID:          "pdf2md",
		Name:        "PDF to Markdown",
		Description: "Convert PDF files to Markdown format for efficient LLM processing",
		Icon:        "file-text",
		Kind:        jobs.KindDocument,
		Endpoint:    "/api/jobs/document",
	},
	{
		ID:          "vid2gif",
		Name:        "Video to GIF",
		Description: "Convert video files to GIF with customizable size, duration, and dimensions",
		Icon:        "film",
		Kind:        jobs.KindVideo,
		Endpoint:    "/api/jobs/video",
	},
}

// handleTools はツール一覧を返します。
func handleTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": tools})
}
