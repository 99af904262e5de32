package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"delta-farm/internal/config"
)

func TestNewLogger_JSONOutputStaysMachineReadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	logger, err := NewLogger(config.LoggingConfig{
		Level:       "info",
		Encoding:    "json",
		OutputPaths: []string{path},
	})
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}

	logger.Info("启动完成")
	if err := logger.Sync(); err != nil {
		t.Fatalf("sync logger: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(data)
	if strings.Contains(line, "\x1b[") {
		t.Errorf("json output contains ANSI color codes: %q", line)
	}
	if !strings.Contains(line, `"level":"info"`) {
		t.Errorf("json output missing lowercase level field: %q", line)
	}
	if !strings.Contains(line, `"service":"delta-farm"`) {
		t.Errorf("json output missing service field: %q", line)
	}
}

func TestNewLogger_RejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(config.LoggingConfig{Level: "loud", Encoding: "json"})
	if err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
