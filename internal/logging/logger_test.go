package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitDefaults(t *testing.T) {
	Shutdown()

	dir := t.TempDir()
	Init(Config{
		Debug:  true,
		LogDir: dir,
	})
	defer Shutdown()

	l := Logger()
	if l == nil {
		t.Fatal("expected non-nil logger after Init")
	}

	l.Info("test_message", "key", "value")

	logPath := filepath.Join(dir, "debug.log")
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("log file is empty")
	}

	firstLine, _, _ := strings.Cut(string(data), "\n")
	var record map[string]any
	if err := json.Unmarshal([]byte(firstLine), &record); err != nil {
		t.Fatalf("failed to parse JSONL: %v (line: %s)", err, firstLine)
	}

	if record["msg"] != "test_message" {
		t.Errorf("expected msg=test_message, got %v", record["msg"])
	}
	if record["key"] != "value" {
		t.Errorf("expected key=value, got %v", record["key"])
	}
}

func TestDiscardWhenNotDebug(t *testing.T) {
	Shutdown()

	Init(Config{Debug: false})
	defer Shutdown()

	// Should not panic and should not write anywhere
	Logger().Info("discarded")
}

func TestForComponentSeesLateInit(t *testing.T) {
	Shutdown()

	// Component logger created BEFORE Init
	compLog := ForComponent(CompDetect)

	dir := t.TempDir()
	Init(Config{Debug: true, LogDir: dir})
	defer Shutdown()

	compLog.Info("after_init", slog.String("k", "v"))

	data, err := os.ReadFile(filepath.Join(dir, "debug.log"))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), `"component":"detect"`) {
		t.Errorf("expected component field in output, got: %s", string(data))
	}
	if !strings.Contains(string(data), "after_init") {
		t.Errorf("expected message in output, got: %s", string(data))
	}
}

func TestTextFormat(t *testing.T) {
	Shutdown()

	dir := t.TempDir()
	Init(Config{Debug: true, LogDir: dir, Format: "text"})
	defer Shutdown()

	Logger().Info("text_message")

	data, err := os.ReadFile(filepath.Join(dir, "debug.log"))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "msg=text_message") {
		t.Errorf("expected text handler output, got: %s", string(data))
	}
}

func TestLevelFiltering(t *testing.T) {
	Shutdown()

	dir := t.TempDir()
	Init(Config{Debug: true, LogDir: dir, Level: "warn"})
	defer Shutdown()

	Logger().Info("should_be_filtered")
	Logger().Warn("should_appear")

	data, err := os.ReadFile(filepath.Join(dir, "debug.log"))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if strings.Contains(string(data), "should_be_filtered") {
		t.Error("info message leaked through warn level")
	}
	if !strings.Contains(string(data), "should_appear") {
		t.Error("warn message missing")
	}
}
