package agent

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildContinuationPrompt(t *testing.T) {
	t.Run("renders tool name and output", func(t *testing.T) {
		results := []ToolResult{
			{Call: ToolCall{Name: ToolCommand, Args: []string{"npm", "test"}}, Output: "ok\n"},
		}
		got := buildContinuationPrompt(results)
		assert.Contains(t, got, "command")
		assert.Contains(t, got, "ok")
		assert.Contains(t, got, "Continue the task")
	})

	t.Run("renders file path", func(t *testing.T) {
		results := []ToolResult{
			{Call: ToolCall{Name: ToolFile, Path: "src/app.go"}, Output: "wrote src/app.go"},
		}
		got := buildContinuationPrompt(results)
		assert.Contains(t, got, "file src/app.go")
	})

	t.Run("renders error alongside output", func(t *testing.T) {
		results := []ToolResult{
			{Call: ToolCall{Name: ToolCommand, Args: []string{"npm", "build"}}, Output: "partial", Err: errors.New("exit 1")},
		}
		got := buildContinuationPrompt(results)
		assert.Contains(t, got, "exit 1")
		assert.Contains(t, got, "partial")
	})

	t.Run("truncates oversized whole prompt", func(t *testing.T) {
		huge := strings.Repeat("x", MaxAgentContinuationPromptChars*2)
		results := []ToolResult{{Call: ToolCall{Name: ToolCommand}, Output: huge}}
		got := buildContinuationPrompt(results)
		assert.LessOrEqual(t, len(got), MaxAgentContinuationPromptChars+len("\n...[truncated]"))
		assert.Contains(t, got, "[truncated]")
	})
}

func TestTruncateMarked(t *testing.T) {
	t.Run("no-op under limit", func(t *testing.T) {
		assert.Equal(t, "short", truncateMarked("short", 10))
	})

	t.Run("truncates and marks over limit", func(t *testing.T) {
		got := truncateMarked("0123456789", 5)
		assert.Equal(t, "01234\n...[truncated]", got)
	})
}
