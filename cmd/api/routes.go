package main

import (
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/media-forge/internal/auth"
	"github.com/yourusername/media-forge/internal/config"
	"github.com/yourusername/media-forge/internal/img"
	"github.com/yourusername/media-forge/internal/jobs"
	"github.com/yourusername/media-forge/internal/pdf"
	"github.com/yourusername/media-forge/internal/storage"
	"github.com/yourusername/media-forge/internal/upload"
	"github.com/yourusername/media-forge/internal/video"
)

// server はルーティングに必要な依存をまとめたものです。
type server struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *jobs.Registry
	store    *storage.Local
	prober   video.Prober
	renderer video.Renderer
	auth     *auth.Manager
}

// setupRouter はミドルウェアと API ルートを登録したルーターを返します。
func setupRouter(s *server) *gin.Engine {
	// デフォルトミドルウェア: Logger, Recovery
	router := gin.Default()

	// セッションは認証が有効なときだけ使う
	if mw := s.auth.Sessions(s.cfg.GinMode == gin.ReleaseMode); mw != nil {
		router.Use(mw)
	}

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = s.cfg.CORSOrigins()
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-CSRF-Token", // CSRF保護用ヘッダー
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンとジョブIDを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token", "X-Job-Id", "Content-Disposition"}
	router.Use(cors.New(corsConfig))

	setupRoutes(router, s)
	return router
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(registry *jobs.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "media-forge-api",
			"version": "0.1.0",
			"jobs":    registry.Len(),
		})
	}
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, s *server) {
	router.GET("/health", handleHealth(s.registry))

	receiver := upload.NewReceiver(s.store, s.cfg.MaxFileSize)
	jobHandler := jobs.NewHandler(s.registry, jobs.HandlerOptions{
		Keepalive: keepaliveIntervals(s.cfg),
		Logger:    s.logger,
	})

	api := router.Group("/api")
	{
		api.GET("/tools", handleTools)

		authRoutes := api.Group("/auth")
		{
			// ログイン時はセッション未生成なので CSRF 検証は不要
			authRoutes.POST("/login", s.auth.Login)
			authRoutes.POST("/logout", s.auth.Guard(), s.auth.Logout)
			authRoutes.GET("/session", s.auth.Session)
		}

		// 進捗と結果の参照はジョブIDを知っていれば誰でも可能
		jobRoutes := api.Group("/jobs")
		{
			jobRoutes.GET("/:id", jobHandler.Status)
			jobRoutes.GET("/:id/events", jobHandler.Events)
			jobRoutes.GET("/:id/result", jobHandler.Result)
			jobRoutes.GET("/:id/summary", jobHandler.Summary)
		}

		// ジョブの投入と取り消しはログイン保護の対象
		protected := api.Group("")
		protected.Use(s.auth.Guard())
		{
			protected.POST("/jobs/document", receiver.LimitBody(), pdf.SubmitHandler(s.registry, receiver, pdf.NewConverter()))
			protected.POST("/jobs/image", receiver.LimitBody(), img.SubmitHandler(s.registry, receiver))
			protected.POST("/jobs/video", receiver.LimitBody(), video.SubmitHandler(s.registry, receiver, s.prober, s.renderer))
			protected.POST("/jobs/:id/cancel", jobHandler.Cancel)
			protected.POST("/images/auto-adjust", receiver.LimitBody(), img.AutoAdjustHandler(receiver))
		}
	}
}
