package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr      = ":8080"
	defaultDBPath          = "docpipe.db"
	defaultConcurrency     = 4
	defaultTimeoutMS       = 30000
	defaultHistoryLimit    = 1000
	defaultMetricsInterval = 30 * time.Second
	defaultQueueWarnDepth  = 100
	defaultHeapWarnMB      = 512
)

const (
	envListenAddr      = "DOCPIPE_LISTEN_ADDR"
	envDBPath          = "DOCPIPE_DB_PATH"
	envLogLevel        = "DOCPIPE_LOG_LEVEL"
	envConcurrency     = "DOCPIPE_CONCURRENCY"
	envTimeoutMS       = "DOCPIPE_DEFAULT_TIMEOUT_MS"
	envHistoryLimit    = "DOCPIPE_HISTORY_LIMIT"
	envMetricsInterval = "DOCPIPE_METRICS_INTERVAL_S"
	envQueueWarnDepth  = "DOCPIPE_QUEUE_WARN_DEPTH"
	envHeapWarnMB      = "DOCPIPE_HEAP_WARN_MB"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr      string
	DBPath          string
	LogLevel        slog.Level
	Concurrency     int
	DefaultTimeout  time.Duration
	HistoryLimit    int
	MetricsInterval time.Duration
	QueueWarnDepth  int
	HeapWarnBytes   uint64
}

// Load reads configuration from environment variables with sensible
// defaults. Malformed numeric values keep their defaults rather than
// failing startup.
func Load() Config {
	cfg := Config{
		ListenAddr:      defaultListenAddr,
		DBPath:          defaultDBPath,
		LogLevel:        slog.LevelInfo,
		Concurrency:     defaultConcurrency,
		DefaultTimeout:  defaultTimeoutMS * time.Millisecond,
		HistoryLimit:    defaultHistoryLimit,
		MetricsInterval: defaultMetricsInterval,
		QueueWarnDepth:  defaultQueueWarnDepth,
		HeapWarnBytes:   defaultHeapWarnMB << 20,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envConcurrency); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Concurrency = n
		}
	}
	if v := os.Getenv(envTimeoutMS); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.DefaultTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv(envHistoryLimit); v != "" {
		// Zero disables history pruning.
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.HistoryLimit = n
		}
	}
	if v := os.Getenv(envMetricsInterval); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MetricsInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv(envQueueWarnDepth); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.QueueWarnDepth = n
		}
	}
	if v := os.Getenv(envHeapWarnMB); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HeapWarnBytes = uint64(n) << 20
		}
	}

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
