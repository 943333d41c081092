package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWriter(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Info().Msg("hidden")
	logger.Warn().Str("table", "pastes").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["level"] != "warn" || entry["table"] != "pastes" || entry["message"] != "shown" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestNewWriterConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWriter(&buf, "debug", "console")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Debug().Msg("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Fatalf("expected console output, got %q", buf.String())
	}
}

func TestRejectsUnknownSettings(t *testing.T) {
	if _, err := NewWriter(&bytes.Buffer{}, "loud", "json"); err == nil {
		t.Fatalf("expected level error")
	}
	if _, err := NewWriter(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Fatalf("expected format error")
	}
}
