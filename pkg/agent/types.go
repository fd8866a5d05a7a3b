// Package agent implements the per-run streaming agent loop (C10): turn
// scheduling, LLM stream collection through the stream parser, tool
// execution under the command gateway, and the run-event log appends that
// drive live and resumed SSE delivery.
package agent

import "time"

// Turn/budget constants (spec §4.9/§4.2).
const (
	MaxAgentTurns            = 5
	MaxAgentToolCallsPerRun  = 18
	MaxAgentToolCallsPerTurn = 6
	MaxStreamDuration        = 5 * time.Minute

	MaxAgentContinuationPromptChars = 18000
	MaxAgentToolResultPayloadChars  = 24000
	MaxToolStdioChars               = 4000

	// defaultWebSearchMaxResults is reported on the wire web_search event;
	// this module has no search provider wired (see NewHTTPWebFetcher), so
	// it's a fixed cap rather than something a provider response sets.
	defaultWebSearchMaxResults = 5
)

// StopReason is the distinct reason a run's turn loop terminated.
type StopReason string

const (
	StopNoToolCalls     StopReason = "no_tool_calls"
	StopMaxTurns        StopReason = "max_turns"
	StopMaxToolCallsRun StopReason = "max_tool_calls_run"
	StopMaxToolCallsTurn StopReason = "max_tool_calls_turn"
	StopMaxDuration     StopReason = "max_duration"
	StopCancelled       StopReason = "cancelled"
	StopError           StopReason = "error"
)

// ToolName enumerates the tool-call kinds the parser can surface.
type ToolName string

const (
	ToolCommand   ToolName = "command"
	ToolInstall   ToolName = "install"
	ToolWebSearch ToolName = "web_search"
	ToolURLScrape ToolName = "url_scrape"
	ToolFile      ToolName = "file"
)

// Message is one turn of conversation history fed to the LLM.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SandboxContext carries the identifiers and paths the tool executor needs
// to act against a specific sandbox container.
type SandboxContext struct {
	SandboxID   string
	ContainerID string
	Workdir     string
}

// GenerateRequest is what the agent loop asks the LLM client to produce.
type GenerateRequest struct {
	Model       string
	APIKey      string
	History     []Message
	UserRequest string
}

// ToolCall is a single tool invocation parsed out of the LLM stream.
type ToolCall struct {
	Turn           int
	Name           ToolName
	Path           string // set for ToolFile
	Content        string // set for ToolFile / ToolWebSearch / ToolURLScrape
	Args           []string // set for ToolCommand / ToolInstall
	IdempotencyKey string
}

// ToolResult is the outcome of executing a ToolCall.
type ToolResult struct {
	Call     ToolCall
	Output   string
	ExitCode int
	Err      error
}

// RunOutcome summarizes how a run ended.
type RunOutcome struct {
	StopReason    StopReason
	TurnsUsed     int
	ToolCallsUsed int
	Err           error
}

// RunRequest bundles everything a Run call needs to both execute a run and
// populate the wire `meta` event's identifiers (spec §6).
type RunRequest struct {
	RunID              string
	ChatID             string
	UserID             string
	UserMessageID      string
	AssistantMessageID string
	IsNewChat          bool
	Model              string
	APIKey             string
	UserRequest        string
	History            []Message
	Sandbox            SandboxContext
}

// tokenUsage accumulates LLM usage across a run's turns for the wire
// `metrics` event.
type tokenUsage struct {
	InputTokens  int
	OutputTokens int
}
