package agent

import (
	"github.com/forgeplatform/forge/pkg/masking"
	"github.com/forgeplatform/forge/pkg/stream"
)

// wireVersion is the `version` field of every wire event's envelope
// (spec §6: "common envelope {type, version, ...}").
const wireVersion = 1

// wireEnvelope merges type/version with the event-specific fields.
func wireEnvelope(eventType string, fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+2)
	out["type"] = eventType
	out["version"] = wireVersion
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// parserWireEvent translates one stream.Event into the wire event name and
// payload spec §6 mandates. ok is false for events with no wire
// representation: sandbox-state content is consumed internally to build a
// command/install tool call rather than streamed as its own frame.
func parserWireEvent(ev stream.Event) (name string, payload map[string]any, ok bool) {
	switch ev.Type {
	case stream.EventContent:
		switch ev.State {
		case stream.StateText:
			return "text", wireEnvelope("text", map[string]any{"content": ev.Content}), true
		case stream.StateThinking:
			return "thinking_content", wireEnvelope("thinking_content", map[string]any{"content": ev.Content}), true
		default:
			return "", nil, false
		}
	case stream.EventThinkingStart:
		return "thinking_start", wireEnvelope("thinking_start", nil), true
	case stream.EventThinkingEnd:
		return "thinking_end", wireEnvelope("thinking_end", nil), true
	case stream.EventSandboxStart:
		return "sandbox_start", wireEnvelope("sandbox_start", map[string]any{"project": ev.Project, "base": ev.Base}), true
	case stream.EventSandboxEnd:
		return "sandbox_end", wireEnvelope("sandbox_end", nil), true
	case stream.EventFileStart:
		return "file_start", wireEnvelope("file_start", map[string]any{"path": ev.Path}), true
	case stream.EventFileContent:
		return "file_content", wireEnvelope("file_content", map[string]any{"path": ev.Path, "content": ev.Content}), true
	case stream.EventFileEnd:
		return "file_end", wireEnvelope("file_end", map[string]any{"path": ev.Path}), true
	case stream.EventError:
		return "error", wireEnvelope("error", map[string]any{"message": ev.Message}), true
	default:
		return "", nil, false
	}
}

// toolResultWireEvent translates a tool's outcome into the tagged command/
// web_search/url_scrape wire shape spec §6 names, instead of one generic
// tool_result envelope.
func toolResultWireEvent(r ToolResult) (name string, payload map[string]any) {
	switch r.Call.Name {
	case ToolWebSearch:
		return "web_search", wireEnvelope("web_search", map[string]any{
			"query":      r.Call.Content,
			"maxResults": defaultWebSearchMaxResults,
		})
	case ToolURLScrape:
		entry := map[string]any{"url": r.Call.Content}
		if r.Err != nil {
			entry["status"] = "error"
			entry["error"] = r.Err.Error()
		} else {
			entry["status"] = "ok"
			entry["excerpt"] = truncateMarked(masking.RedactText(r.Output), MaxAgentToolResultPayloadChars)
		}
		return "url_scrape", wireEnvelope("url_scrape", map[string]any{"results": []any{entry}})
	default: // ToolCommand, ToolInstall
		fields := map[string]any{
			"command":  commandName(r.Call),
			"args":     r.Call.Args,
			"stdout":   truncateMarked(masking.RedactText(r.Output), MaxAgentToolResultPayloadChars),
			"exitCode": r.ExitCode,
		}
		if r.Err != nil {
			fields["stderr"] = r.Err.Error()
		}
		return "command", wireEnvelope("command", fields)
	}
}

func commandName(c ToolCall) string {
	if len(c.Args) > 0 {
		return c.Args[0]
	}
	return string(c.Name)
}

// wireStopReason maps the internal StopReason taxonomy onto spec §6's
// loopStopReason wire values. Scenario S3 requires the literal "tool_budget"
// for a per-run tool-call cap, not the internal StopMaxToolCallsRun name.
func wireStopReason(r StopReason) string {
	switch r {
	case StopMaxToolCallsRun:
		return "tool_budget"
	case StopMaxToolCallsTurn:
		return "tool_budget_turn"
	case StopMaxTurns:
		return "max_turns"
	case StopMaxDuration:
		return "max_duration"
	case StopCancelled:
		return "cancelled"
	case StopError:
		return "error"
	case StopNoToolCalls:
		return "complete"
	default:
		return string(r)
	}
}
