package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, Options{})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	logger.Info("hello", Operation("test"))
	logger.Debug("hidden")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "hello" || entry[KeyOperation] != "test" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestNewLogger_DebugText(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, Options{Format: FormatText, Debug: true})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	logger.Debug("visible")
	if !strings.Contains(buf.String(), "msg=visible") {
		t.Errorf("debug line missing: %q", buf.String())
	}
}

func TestNewLogger_InvalidFormat(t *testing.T) {
	if _, err := NewLogger(&bytes.Buffer{}, Options{Format: "xml"}); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestSetup_File(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "bridge.log")
	logger, closer, err := Setup(Options{File: path})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	logger.Info("to file")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("log file missing entry: %q", data)
	}
}
