// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/media-forge/internal/auth"
	"github.com/yourusername/media-forge/internal/config"
	"github.com/yourusername/media-forge/internal/logging"
	"github.com/yourusername/media-forge/internal/storage"
	"github.com/yourusername/media-forge/internal/video"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	slog.SetDefault(logger)

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// 作業ディレクトリをロックし、前回の残骸を掃除する
	store, err := storage.Open(cfg.WorkDir)
	if err != nil {
		logger.Error("failed to open work directory", "dir", cfg.WorkDir, "error", err)
		os.Exit(1)
	}

	notifier, closeNotifier := setupNotifier(cfg, logger)
	registry := setupJobs(cfg, notifier, logger)

	ffmpeg := video.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath)
	if err := ffmpeg.Available(); err != nil {
		logger.Warn("video conversion is unavailable", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go registry.RunReaper(ctx, cfg.ReapInterval())

	router := setupRouter(&server{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		store:    store,
		prober:   ffmpeg,
		renderer: ffmpeg,
		auth:     auth.NewManager(cfg),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// サーバーの起動
	go func() {
		logger.Info("starting API server", "addr", srv.Addr, "mode", cfg.GinMode, "work_dir", store.Root())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// 実行中のジョブを止めて終端イベントを流してから、開いている SSE 接続の終了を待つ
	if err := registry.Shutdown(shutdownCtx); err != nil {
		logger.Warn("jobs did not stop in time", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server did not stop cleanly", "error", err)
	}
	if err := store.Close(); err != nil {
		logger.Warn("failed to clean work directory", "error", err)
	}
	closeNotifier()
}
