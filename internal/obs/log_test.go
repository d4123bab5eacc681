package obs

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLogEventEmitsJSONLine(t *testing.T) {
	logger := Logger()
	origWriter := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(origWriter)

	LogEvent("auth.login", map[string]any{"email": "a@b.com", "outcome": "success"})

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected log line")
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	if entry["event"] != "auth.login" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["level"] != "info" {
		t.Fatalf("unexpected level: %v", entry["level"])
	}
	if entry["email"] != "a@b.com" {
		t.Fatalf("field not preserved: %v", entry["email"])
	}
	if entry["ts"] == "" {
		t.Fatal("expected timestamp")
	}
}

func TestLogErrorCarriesErrorAndLevel(t *testing.T) {
	logger := Logger()
	origWriter := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(origWriter)

	LogError("auth.refresh", errors.New("refresh token rejected"), map[string]any{"attempt": 1})

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	if entry["level"] != "error" {
		t.Fatalf("expected error level, got %v", entry["level"])
	}
	if entry["error"] != "refresh token rejected" {
		t.Fatalf("unexpected error field: %v", entry["error"])
	}
}
