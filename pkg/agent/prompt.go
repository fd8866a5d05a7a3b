package agent

import "strings"

// buildContinuationPrompt assembles the next turn's prompt from the tool
// results of the previous turn, truncating per spec §6's budgets: each
// result payload capped at MaxAgentToolResultPayloadChars, and the whole
// prompt capped at MaxAgentContinuationPromptChars with a marker.
func buildContinuationPrompt(results []ToolResult) string {
	var b strings.Builder
	b.WriteString("Tool execution results from the previous turn:\n\n")

	for _, r := range results {
		b.WriteString("- ")
		b.WriteString(string(r.Call.Name))
		if r.Call.Path != "" {
			b.WriteString(" ")
			b.WriteString(r.Call.Path)
		}
		b.WriteString(":\n")

		payload := r.Output
		if r.Err != nil {
			payload = r.Err.Error() + "\n" + payload
		}
		b.WriteString(truncateMarked(payload, MaxAgentToolResultPayloadChars))
		b.WriteString("\n\n")
	}

	b.WriteString("Continue the task using these results.")

	return truncateMarked(b.String(), MaxAgentContinuationPromptChars)
}

func truncateMarked(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n...[truncated]"
}
