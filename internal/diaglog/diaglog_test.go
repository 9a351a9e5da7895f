package diaglog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogger_DisabledIsNoOp(t *testing.T) {
	t.Setenv("ASRBENCH_DEBUG", "")
	path := filepath.Join(t.TempDir(), "debug.log")

	l, err := New(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l.Log(LogEntry{Component: ComponentOrchestrator, Event: EventRunStart})
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected no log file when disabled, stat err: %v", err)
	}
}

func TestLogger_WritesNDJSON(t *testing.T) {
	t.Setenv("ASRBENCH_DEBUG", "true")
	path := filepath.Join(t.TempDir(), "debug.log")

	l, err := New(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l.Log(LogEntry{
		Component: ComponentStager,
		Event:     EventItemStaged,
		ItemID:    "a",
		Payload:   map[string]interface{}{"local_path": "/tmp/x.wav"},
	})
	l.Log(LogEntry{Component: ComponentOrchestrator, Event: EventRunCompleted, RunID: "r1"})
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var first LogEntry
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line 0 is not valid JSON: %v", err)
	}
	if first.Event != EventItemStaged || first.ItemID != "a" {
		t.Errorf("unexpected first entry: %+v", first)
	}
	if first.Timestamp == "" {
		t.Error("expected timestamp to be filled in")
	}
}

func TestLogger_RedactsSensitivePayload(t *testing.T) {
	t.Setenv("ASRBENCH_DEBUG", "true")
	path := filepath.Join(t.TempDir(), "debug.log")

	l, err := New(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l.Log(LogEntry{
		Component: ComponentReporter,
		Event:     EventItemUploaded,
		Payload:   map[string]interface{}{"token": "s3cret", "file_id": "a"},
	})
	l.Close()

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "s3cret") {
		t.Error("token value leaked into log")
	}
	if !strings.Contains(string(data), "[REDACTED]") {
		t.Error("expected redaction marker in log")
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Log(LogEntry{Event: EventRunStart}) // must not panic
	if err := l.Close(); err != nil {
		t.Fatalf("close on nil: %v", err)
	}
}

func TestRedact_Nested(t *testing.T) {
	in := map[string]interface{}{
		"outer": map[string]interface{}{
			"api_key": "abc",
			"keep":    "me",
		},
		"list": []interface{}{map[string]interface{}{"password": "x"}},
	}

	out := Redact(in).(map[string]interface{})
	inner := out["outer"].(map[string]interface{})
	if inner["api_key"] != "[REDACTED]" {
		t.Errorf("expected nested api_key redacted, got %v", inner["api_key"])
	}
	if inner["keep"] != "me" {
		t.Errorf("expected non-sensitive key preserved, got %v", inner["keep"])
	}
	elem := out["list"].([]interface{})[0].(map[string]interface{})
	if elem["password"] != "[REDACTED]" {
		t.Errorf("expected password in slice redacted, got %v", elem["password"])
	}
}
