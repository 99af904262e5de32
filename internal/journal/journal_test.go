package journal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLog_LineFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trading.log")
	jr, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer jr.Close()

	jr.nowFn = func() time.Time {
		return time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	}

	jr.Log("client_0", "Trying to get balance")
	jr.Log("", "🐇🟢 Starting new iteration:")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), lines)
	}
	if lines[0] != "[2025-03-14 09:26:53] [client_0] Trying to get balance" {
		t.Errorf("unexpected first line: %q", lines[0])
	}
	if lines[1] != "[2025-03-14 09:26:53] [main] 🐇🟢 Starting new iteration:" {
		t.Errorf("empty name should fall back to main, got: %q", lines[1])
	}
}

func TestLog_AfterCloseDoesNotPanic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trading.log")
	jr, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if err := jr.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	jr.Log("client_0", "late message")

	if err := jr.Close(); err != nil {
		t.Errorf("second Close returned error: %v", err)
	}
}

func TestOpen_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "trading.log")
	jr, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer jr.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("journal file not created: %v", err)
	}
}
