package observability

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	secret := "sk-" + strings.Repeat("a", 48)
	logger.Info("provider configured", "key", secret)

	out := buf.String()
	if strings.Contains(out, secret) {
		t.Fatalf("secret leaked into log output: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Fatalf("expected redaction marker in output: %s", out)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "text", Output: &buf})

	logger.Debug("debug line")
	logger.Info("info line")
	logger.Warn("warn line")

	out := buf.String()
	if strings.Contains(out, "info line") {
		t.Errorf("info logged at warn level: %s", out)
	}
	if !strings.Contains(out, "warn line") {
		t.Errorf("warn line missing: %s", out)
	}
}
