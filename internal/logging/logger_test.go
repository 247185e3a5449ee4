package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestJSONOutputIncludesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("json", "info", &buf).With(F("component", "test"))
	logger.Info("scan settled", F("tab_id", 7), Err(errors.New("boom")))

	var payload map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if payload["msg"] != "scan settled" || payload["level"] != "info" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if payload["component"] != "test" || payload["error"] != "boom" {
		t.Fatalf("expected fields in payload: %v", payload)
	}
}

func TestLevelThreshold(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("text", "warn", &buf)
	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("expected debug/info to be filtered: %s", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "level=warn") {
		t.Fatalf("expected warn entry: %s", out)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Info("nothing")
}
