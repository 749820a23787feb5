package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		envListenAddr, envDBPath, envLogLevel, envConcurrency, envTimeoutMS,
		envHistoryLimit, envMetricsInterval, envQueueWarnDepth, envHeapWarnMB,
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.DBPath != defaultDBPath {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, defaultDBPath)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
	if cfg.Concurrency != defaultConcurrency {
		t.Errorf("Concurrency = %d, want %d", cfg.Concurrency, defaultConcurrency)
	}
	if cfg.DefaultTimeout != 30*time.Second {
		t.Errorf("DefaultTimeout = %v, want 30s", cfg.DefaultTimeout)
	}
	if cfg.HistoryLimit != defaultHistoryLimit {
		t.Errorf("HistoryLimit = %d, want %d", cfg.HistoryLimit, defaultHistoryLimit)
	}
	if cfg.MetricsInterval != defaultMetricsInterval {
		t.Errorf("MetricsInterval = %v, want %v", cfg.MetricsInterval, defaultMetricsInterval)
	}
	if cfg.QueueWarnDepth != defaultQueueWarnDepth {
		t.Errorf("QueueWarnDepth = %d, want %d", cfg.QueueWarnDepth, defaultQueueWarnDepth)
	}
	if cfg.HeapWarnBytes != defaultHeapWarnMB<<20 {
		t.Errorf("HeapWarnBytes = %d, want %d", cfg.HeapWarnBytes, uint64(defaultHeapWarnMB)<<20)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(envListenAddr, ":9090")
	t.Setenv(envDBPath, "/tmp/test.db")
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envConcurrency, "8")
	t.Setenv(envTimeoutMS, "1500")
	t.Setenv(envHistoryLimit, "50")
	t.Setenv(envMetricsInterval, "5")
	t.Setenv(envQueueWarnDepth, "10")
	t.Setenv(envHeapWarnMB, "256")

	cfg := Load()

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "/tmp/test.db")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.Concurrency != 8 {
		t.Errorf("Concurrency = %d, want 8", cfg.Concurrency)
	}
	if cfg.DefaultTimeout != 1500*time.Millisecond {
		t.Errorf("DefaultTimeout = %v, want 1.5s", cfg.DefaultTimeout)
	}
	if cfg.HistoryLimit != 50 {
		t.Errorf("HistoryLimit = %d, want 50", cfg.HistoryLimit)
	}
	if cfg.MetricsInterval != 5*time.Second {
		t.Errorf("MetricsInterval = %v, want 5s", cfg.MetricsInterval)
	}
	if cfg.QueueWarnDepth != 10 {
		t.Errorf("QueueWarnDepth = %d, want 10", cfg.QueueWarnDepth)
	}
	if cfg.HeapWarnBytes != 256<<20 {
		t.Errorf("HeapWarnBytes = %d, want %d", cfg.HeapWarnBytes, uint64(256)<<20)
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv(envConcurrency, "zero")
	t.Setenv(envTimeoutMS, "-5")
	t.Setenv(envHistoryLimit, "-1")
	t.Setenv(envHeapWarnMB, "lots")

	cfg := Load()

	if cfg.Concurrency != defaultConcurrency {
		t.Errorf("Concurrency = %d, want default %d", cfg.Concurrency, defaultConcurrency)
	}
	if cfg.DefaultTimeout != 30*time.Second {
		t.Errorf("DefaultTimeout = %v, want default 30s", cfg.DefaultTimeout)
	}
	if cfg.HistoryLimit != defaultHistoryLimit {
		t.Errorf("HistoryLimit = %d, want default %d", cfg.HistoryLimit, defaultHistoryLimit)
	}
	if cfg.HeapWarnBytes != defaultHeapWarnMB<<20 {
		t.Errorf("HeapWarnBytes = %d, want default %d", cfg.HeapWarnBytes, uint64(defaultHeapWarnMB)<<20)
	}
}

func TestLoadZeroHistoryLimitDisablesPruning(t *testing.T) {
	clearEnv(t)
	t.Setenv(envHistoryLimit, "0")

	cfg := Load()

	if cfg.HistoryLimit != 0 {
		t.Errorf("HistoryLimit = %d, want 0", cfg.HistoryLimit)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got := parseLogLevel(tt.input)
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerOutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}

	logger.Info("test message", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("logger output is not valid JSON: %v\noutput: %s", err, buf.String())
	}

	for _, key := range []string{"time", "level", "msg"} {
		if _, ok := entry[key]; !ok {
			t.Errorf("JSON output missing expected key %q", key)
		}
	}
	if entry["msg"] != "test message" {
		t.Errorf("msg = %v, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %v, want %q", entry["key"], "value")
	}
}
