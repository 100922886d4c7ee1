package main

import (
	"log/slog"
	"time"

	"github.com/yourusername/media-forge/internal/bus"
	"github.com/yourusername/media-forge/internal/config"
	"github.com/yourusername/media-forge/internal/jobs"
)

// setupNotifier は NATS_URL が設定されていればジョブ完了通知を有効にします。
// 接続できない場合は通知なしで起動を続けます。
func setupNotifier(cfg *config.Config, logger *slog.Logger) (jobs.Notifier, func()) {
	if cfg.NATSURL == "" {
		return nil, func() {}
	}
	client, err := bus.Connect(cfg.NATSURL)
	if err != nil {
		logger.Warn("job notifications disabled: failed to connect to NATS", "url", cfg.NATSURL, "error", err)
		return nil, func() {}
	}
	logger.Info("publishing job events", "url", cfg.NATSURL, "subject", cfg.NATSSubject)
	return bus.NewNotifier(client, cfg.NATSSubject, logger), client.Close
}

func setupJobs(cfg *config.Config, notifier jobs.Notifier, logger *slog.Logger) *jobs.Registry {
	return jobs.NewRegistry(jobs.Options{
		Retention:     cfg.JobRetention(),
		MaxConcurrent: cfg.MaxConcurrentJobs,
		Logger:        logger,
		Notifier:      notifier,
	})
}

func keepaliveIntervals(cfg *config.Config) map[jobs.Kind]time.Duration {
	return map[jobs.Kind]time.Duration{
		jobs.KindDocument: time.Duration(cfg.DocumentKeepaliveSeconds) * time.Second,
		jobs.KindImage:    time.Duration(cfg.ImageKeepaliveSeconds) * time.Second,
		jobs.KindVideo:    time.Duration(cfg.VideoKeepaliveSeconds) * time.Second,
	}
}
