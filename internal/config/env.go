package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// UploadConfig defines upload limits and storage folders.
type UploadConfig struct {
	MaxFileSize    int64
	MaxFilesPerReq int
	UploadDir      string
	ThumbnailDir   string
	MergedDir      string
	RatePerSession int
	RateWindow     time.Duration
}

// ThumbnailConfig defines thumbnail rendering parameters.
type ThumbnailConfig struct {
	DPI             int
	Quality         int
	MaxPreviewPages int
}

// SessionConfig defines session lifetime and sweep cadence.
type SessionConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// WorkerConfig defines merge worker behavior.
type WorkerConfig struct {
	Concurrency int
	JobTimeout  time.Duration
}

// QueueConfig defines queue connectivity and names.
type QueueConfig struct {
	RedisURL     string
	Stream       string
	Group        string
	PollInterval time.Duration
}

// ArchiveConfig defines optional S3 archival of merged output.
type ArchiveConfig struct {
	S3Bucket string
	Prefix   string
}

// Config is the top-level configuration.
type Config struct {
	Port      string
	Logging   LoggingConfig
	Axiom     AxiomConfig
	Upload    UploadConfig
	Thumbnail ThumbnailConfig
	Session   SessionConfig
	Worker    WorkerConfig
	Queue     QueueConfig
	Archive   ArchiveConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Port = getEnv("PORT", "8080")

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/pdfjoiner.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_pdfjoiner",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Upload = UploadConfig{
		MaxFileSize:    parseInt64(getEnv("MAX_FILE_SIZE", "52428800"), 52428800), // 50MB
		MaxFilesPerReq: parseInt(getEnv("MAX_FILES_PER_REQUEST", "20"), 20),
		UploadDir:      getEnv("UPLOAD_DIR", "temp/uploads"),
		ThumbnailDir:   getEnv("THUMBNAIL_DIR", "temp/thumbnails"),
		MergedDir:      getEnv("MERGED_DIR", "temp/merged"),
		RatePerSession: parseInt(getEnv("UPLOAD_RATE_LIMIT", "100"), 100),
		RateWindow:     parseDuration(getEnv("UPLOAD_RATE_WINDOW", "1h"), time.Hour),
	}

	cfg.Thumbnail = ThumbnailConfig{
		DPI:             parseInt(getEnv("THUMBNAIL_DPI", "36"), 36),
		Quality:         parseInt(getEnv("THUMBNAIL_QUALITY", "85"), 85),
		MaxPreviewPages: parseInt(getEnv("MAX_PREVIEW_PAGES", "100"), 100),
	}

	cfg.Session = SessionConfig{
		TTL:           parseDuration(getEnv("SESSION_TTL", "1h"), time.Hour),
		SweepInterval: parseDuration(getEnv("CLEANUP_INTERVAL", "30m"), 30*time.Minute),
	}

	cfg.Worker = WorkerConfig{
		Concurrency: parseInt(getEnv("WORKER_CONCURRENCY", "4"), 4),
		JobTimeout:  parseDuration(getEnv("JOB_TIMEOUT", "5m"), 5*time.Minute),
	}

	cfg.Queue = QueueConfig{
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),
		Stream:       getEnv("QUEUE_STREAM", "jobs:merge"),
		Group:        getEnv("QUEUE_GROUP", "workers:merge"),
		PollInterval: parseDuration(getEnv("QUEUE_POLL_INTERVAL", "200ms"), 200*time.Millisecond),
	}

	cfg.Archive = ArchiveConfig{
		S3Bucket: getEnv("ARCHIVE_S3_BUCKET", ""),
		Prefix:   getEnv("ARCHIVE_S3_PREFIX", "merged"),
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseInt64(s string, def int64) int64 {
	if s == "" {
		return def
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
