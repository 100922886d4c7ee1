// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// 認証設定（APP_USERNAME が空なら認証なしで動作）
	AppUsername     string // ログイン用ユーザー名
	AppPasswordHash string // bcryptでハッシュ化されたパスワード
	SessionSecret   string // セッション署名用の秘密鍵

	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ファイル制限
	MaxFileSize int64 // 単一ファイルの最大サイズ（バイト）

	// ジョブ設定
	WorkDir             string // ジョブ作業ディレクトリのルート
	JobRetentionMinutes int    // 終了済みジョブの保持時間（分）。0以下ならプロセス終了まで保持
	ReapIntervalSeconds int    // 期限切れジョブの掃除間隔（秒）
	MaxConcurrentJobs   int    // 同時実行ジョブ数の上限

	// 進捗ストリームのキープアライブ間隔（秒）
	DocumentKeepaliveSeconds int
	ImageKeepaliveSeconds    int
	VideoKeepaliveSeconds    int

	// 外部コマンド
	FFmpegPath  string // ffmpeg 実行ファイルのパス
	FFprobePath string // ffprobe 実行ファイルのパス

	// ジョブ完了通知（NATS_URL が空なら無効）
	NATSURL     string
	NATSSubject string

	// ログ設定
	LogLevel  string // debug, info, warn, error
	LogFormat string // console, json
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		AppUsername:     getEnv("APP_USERNAME", ""),
		AppPasswordHash: getEnv("APP_PASSWORD_HASH", ""),
		SessionSecret:   getEnv("SESSION_SECRET", ""),

		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		MaxFileSize: getEnvAsInt64("MAX_FILE_SIZE", 524288000), // 500MB

		WorkDir:             getEnv("WORK_DIR", filepath.Join(os.TempDir(), "media-forge")),
		JobRetentionMinutes: getEnvAsInt("JOB_RETENTION_MINUTES", 10),
		ReapIntervalSeconds: getEnvAsInt("REAP_INTERVAL_SECONDS", 60),
		MaxConcurrentJobs:   getEnvAsInt("MAX_CONCURRENT_JOBS", 4),

		DocumentKeepaliveSeconds: getEnvAsInt("DOCUMENT_KEEPALIVE_SECONDS", 30),
		ImageKeepaliveSeconds:    getEnvAsInt("IMAGE_KEEPALIVE_SECONDS", 30),
		VideoKeepaliveSeconds:    getEnvAsInt("VIDEO_KEEPALIVE_SECONDS", 60),

		FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: getEnv("FFPROBE_PATH", "ffprobe"),

		NATSURL:     getEnv("NATS_URL", ""),
		NATSSubject: getEnv("NATS_SUBJECT", "media-forge.jobs"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	// 認証はユーザー名が設定されたときだけ有効にする
	if c.AuthEnabled() {
		if c.AppPasswordHash == "" {
			return fmt.Errorf("APP_PASSWORD_HASH is required when APP_USERNAME is set")
		}
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required when APP_USERNAME is set")
		}
	}

	if c.WorkDir == "" {
		return fmt.Errorf("WORK_DIR must not be empty")
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	if c.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be positive")
	}
	if c.ReapIntervalSeconds <= 0 {
		return fmt.Errorf("REAP_INTERVAL_SECONDS must be positive")
	}
	if c.DocumentKeepaliveSeconds <= 0 || c.ImageKeepaliveSeconds <= 0 || c.VideoKeepaliveSeconds <= 0 {
		return fmt.Errorf("keepalive intervals must be positive")
	}

	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "console", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be console or json, got %q", c.LogFormat)
	}

	return nil
}

// AuthEnabled はログイン保護が有効かどうかを返します。
func (c *Config) AuthEnabled() bool {
	return c.AppUsername != ""
}

// JobRetention は終了済みジョブの保持時間を返します。
func (c *Config) JobRetention() time.Duration {
	return time.Duration(c.JobRetentionMinutes) * time.Minute
}

// ReapInterval は掃除ループの間隔を返します。
func (c *Config) ReapInterval() time.Duration {
	return time.Duration(c.ReapIntervalSeconds) * time.Second
}

// CORSOrigins はカンマ区切りのオリジン設定を配列に変換します。
func (c *Config) CORSOrigins() []string {
	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
