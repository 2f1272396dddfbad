package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestLogger_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})

	logger.Info(context.Background(), "auth header", "value", "api_key=abcdef0123456789abcdef")

	out := buf.String()
	if strings.Contains(out, "abcdef0123456789abcdef") {
		t.Errorf("secret leaked into log output: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected redaction marker in output: %s", out)
	}
}

func TestLogger_WithContextAddsIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	ctx := context.WithValue(context.Background(), ConversationIDKey, "conv-42")
	logger.Info(ctx, "turn complete")

	if !strings.Contains(buf.String(), "conv-42") {
		t.Errorf("conversation id missing from output: %s", buf.String())
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "text", Output: &buf})

	logger.Debug(context.Background(), "noise")
	logger.Info(context.Background(), "more noise")
	logger.Warn(context.Background(), "important")

	out := buf.String()
	if strings.Contains(out, "noise") {
		t.Errorf("below-level records were emitted: %s", out)
	}
	if !strings.Contains(out, "important") {
		t.Errorf("warn record missing: %s", out)
	}
}
