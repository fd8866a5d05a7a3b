package masking

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactingHandlerScrubsSensitiveAttr(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(NewRedactingHandler(base))

	logger.Info("llm call", "apiKey", "sk-secret-value", "model", "gpt-5")

	out := buf.String()
	assert.Contains(t, out, redactedPlaceholder)
	assert.NotContains(t, out, "sk-secret-value")
	assert.Contains(t, out, "gpt-5")
}

func TestRedactingHandlerScrubsWithinGroup(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(NewRedactingHandler(base))

	logger.Info("request", slog.Group("req", slog.String("authorization", "Bearer abc"), slog.String("path", "/x")))

	out := buf.String()
	assert.Contains(t, out, redactedPlaceholder)
	assert.NotContains(t, out, "Bearer abc")
	assert.Contains(t, out, "/x")
}

func TestRedactingHandlerWithAttrsScrubsEagerly(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(NewRedactingHandler(base)).With("secret", "leak-me")

	logger.Info("event")

	assert.NotContains(t, buf.String(), "leak-me")
}

func TestRedactingHandlerEnabledDelegates(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	h := NewRedactingHandler(base)
	require.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	require.True(t, h.Enabled(context.Background(), slog.LevelWarn))
}
