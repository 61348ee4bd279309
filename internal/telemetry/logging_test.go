package telemetry_test

import (
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/basket/rwm/internal/telemetry"
)

func TestLoggerWritesJSONL(t *testing.T) {
	root := t.TempDir()
	logger, closer, err := telemetry.NewLogger(root, "info", false)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	logger.Info("server started", "session_id", "proj@main")
	closer.Close()

	data, err := os.ReadFile(telemetry.LogPath(root))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := strings.TrimSpace(string(data))
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, line)
	}
	if rec["msg"] != "server started" {
		t.Fatalf("msg %v", rec["msg"])
	}
	if rec["timestamp"] == nil {
		t.Fatalf("time key not renamed: %v", rec)
	}
	if rec["component"] != "rwm" {
		t.Fatalf("component %v", rec["component"])
	}
}

func TestLoggerRedactsSecrets(t *testing.T) {
	root := t.TempDir()
	logger, closer, err := telemetry.NewLogger(root, "info", false)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	logger.Info("commit", "api_key", "sk-live-aaaaaaaaaaaaaaaa")
	logger.Info("fetch", "detail", "Bearer abcdefghijklmnopqrstuvwx")
	closer.Close()

	data, err := os.ReadFile(telemetry.LogPath(root))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.Contains(string(data), "sk-live") || strings.Contains(string(data), "abcdefghijklmnop") {
		t.Fatalf("secret leaked to log:\n%s", data)
	}
	if !strings.Contains(string(data), "[REDACTED]") {
		t.Fatalf("no redaction marker:\n%s", data)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	root := t.TempDir()
	logger, closer, err := telemetry.NewLogger(root, "warn", false)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	logger.Debug("dropped")
	logger.Info("dropped too")
	logger.Warn("kept")
	closer.Close()

	data, err := os.ReadFile(telemetry.LogPath(root))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.Contains(string(data), "dropped") {
		t.Fatalf("level filter leaked:\n%s", data)
	}
	if !strings.Contains(string(data), "kept") {
		t.Fatalf("warn line missing:\n%s", data)
	}
}
