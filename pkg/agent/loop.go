package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/forgeplatform/forge/pkg/apierr"
	"github.com/forgeplatform/forge/pkg/plan"
	"github.com/forgeplatform/forge/pkg/ratelimit"
	"github.com/forgeplatform/forge/pkg/stream"
)

// EventAppender persists one run event and returns its sequence number.
// Satisfied by *runlog.Store.
type EventAppender interface {
	Append(ctx context.Context, runID, eventType string, payload any) (int64, error)
}

// TurnLimiter gates concurrent turns per user. Satisfied by
// *ratelimit.Limiter.
type TurnLimiter interface {
	With(ctx context.Context, userID string, fn func(ctx context.Context) error) error
}

// PlanSaver persists the current plan snapshot for a run. Satisfied by
// *plan.Store.
type PlanSaver interface {
	Save(ctx context.Context, runID string, p *plan.Plan) error
}

// Loop runs the per-run agent turn state machine (spec §4.9):
// INIT → LLM_STREAM (→ TOOL_EXEC → NEXT_TURN)* → COMPLETE|FAILED|CANCELLED.
type Loop struct {
	LLM       LLMClient
	Executor  *Executor
	EventLog  EventAppender
	ToolCalls ToolCallStore
	Limiter   TurnLimiter
	Plans     PlanSaver
}

// NewLoop wires a Loop from its dependencies.
func NewLoop(llm LLMClient, executor *Executor, eventLog EventAppender, toolCalls ToolCallStore, limiter TurnLimiter) *Loop {
	return &Loop{LLM: llm, Executor: executor, EventLog: eventLog, ToolCalls: toolCalls, Limiter: limiter}
}

// Run executes the run described by req to completion, appending every
// event to the run log as it happens and returning how the run stopped.
func (l *Loop) Run(ctx context.Context, req RunRequest) RunOutcome {
	start := time.Now()
	turn := 0
	toolCallsTotal := 0
	currentRequest := req.UserRequest
	history := req.History
	runPlan := plan.NewDefault(req.UserRequest)
	runPlan.MarkInProgress("Analyze request")
	var usage tokenUsage

	l.appendSessionStart(req)

	var outcome RunOutcome

loop:
	for {
		turn++

		if ctx.Err() != nil {
			outcome = RunOutcome{StopReason: StopCancelled, TurnsUsed: turn - 1, ToolCallsUsed: toolCallsTotal, Err: ctx.Err()}
			break
		}
		if turn > MaxAgentTurns {
			outcome = RunOutcome{StopReason: StopMaxTurns, TurnsUsed: turn - 1, ToolCallsUsed: toolCallsTotal}
			break
		}
		if time.Since(start) >= MaxStreamDuration {
			outcome = RunOutcome{StopReason: StopMaxDuration, TurnsUsed: turn - 1, ToolCallsUsed: toolCallsTotal}
			break
		}

		var assistantText string
		var calls []ToolCall
		var turnUsage tokenUsage
		var turnErr error

		err := l.Limiter.With(ctx, req.UserID, func(ctx context.Context) error {
			assistantText, calls, turnUsage, turnErr = l.runTurn(ctx, req.RunID, req.Model, req.APIKey, turn, history, currentRequest)
			return turnErr
		})
		usage.InputTokens += turnUsage.InputTokens
		usage.OutputTokens += turnUsage.OutputTokens

		switch {
		case errors.Is(err, ratelimit.ErrRateLimited):
			outcome = RunOutcome{StopReason: StopError, TurnsUsed: turn - 1, ToolCallsUsed: toolCallsTotal,
				Err: apierr.New(apierr.KindRateLimited, "no available turn slot")}
			break loop
		case ctx.Err() != nil:
			outcome = RunOutcome{StopReason: StopCancelled, TurnsUsed: turn - 1, ToolCallsUsed: toolCallsTotal, Err: ctx.Err()}
			break loop
		case err != nil:
			outcome = RunOutcome{StopReason: StopError, TurnsUsed: turn - 1, ToolCallsUsed: toolCallsTotal, Err: err}
			break loop
		}

		history = append(history, Message{Role: "assistant", Content: assistantText})
		advancePlanFromText(runPlan, assistantText)

		if len(calls) == 0 {
			outcome = RunOutcome{StopReason: StopNoToolCalls, TurnsUsed: turn, ToolCallsUsed: toolCallsTotal}
			break
		}

		perTurnCap := len(calls) >= MaxAgentToolCallsPerTurn
		if perTurnCap {
			calls = calls[:MaxAgentToolCallsPerTurn]
		}

		results := make([]ToolResult, 0, len(calls))
		runCap := false
		for _, call := range calls {
			if toolCallsTotal >= MaxAgentToolCallsPerRun {
				runCap = true
				break
			}
			advancePlanFromToolCall(runPlan, call)
			results = append(results, l.executeToolCall(ctx, req.RunID, req.Sandbox, call))
			toolCallsTotal++
		}

		if toolCallsTotal >= MaxAgentToolCallsPerRun || runCap {
			outcome = RunOutcome{StopReason: StopMaxToolCallsRun, TurnsUsed: turn, ToolCallsUsed: toolCallsTotal}
			break
		}
		if perTurnCap {
			outcome = RunOutcome{StopReason: StopMaxToolCallsTurn, TurnsUsed: turn, ToolCallsUsed: toolCallsTotal}
			break
		}

		currentRequest = buildContinuationPrompt(results)
	}

	l.finalizePlan(runPlan, outcome)
	l.savePlan(req.RunID, runPlan)
	l.appendMetrics(req.RunID, usage, time.Since(start))
	l.appendSessionComplete(req, outcome)
	return outcome
}

// advancePlanFromText scans an LLM turn's prose for sentences naming one
// of the canonical step titles (e.g. "Now resolving dependencies...") and
// marks that step in progress — the model is never required to emit an
// exact identifier (spec §4.16).
func advancePlanFromText(p *plan.Plan, text string) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if title := plan.MatchCanonicalTitle(line); title != "" {
			p.MarkInProgress(title)
		}
	}
}

// advancePlanFromToolCall infers plan progress from the kind of tool call
// about to execute, since a build/install/file-write is unambiguous
// evidence of which step the run is actually in even when the model's
// prose doesn't say so.
func advancePlanFromToolCall(p *plan.Plan, call ToolCall) {
	switch call.Name {
	case ToolFile:
		p.MarkInProgress("Generate code")
	case ToolInstall:
		p.MarkInProgress("Resolve dependencies")
	case ToolCommand:
		p.MarkInProgress("Validate & build")
	}
}

// finalizePlan marks the run's terminal plan state: every step done on a
// clean finish with no pending tool calls, or failed past the run's
// current progress otherwise (spec §4.9 step 5, §4.16).
func (l *Loop) finalizePlan(p *plan.Plan, outcome RunOutcome) {
	if outcome.StopReason == StopNoToolCalls && outcome.Err == nil {
		for _, title := range plan.CanonicalTitles {
			p.UpdateForStep(title, true)
		}
		return
	}
	reason := string(outcome.StopReason)
	if outcome.Err != nil {
		reason = outcome.Err.Error()
	}
	p.FinalizeBeforeCompletion(reason)
}

func (l *Loop) savePlan(runID string, p *plan.Plan) {
	if l.Plans == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Plans.Save(ctx, runID, p); err != nil {
		slog.Warn("failed to persist plan", "run_id", runID, "error", err)
	}
}

// runTurn streams one LLM turn, feeding bytes to the parser and resolving
// sandbox-block content into a command/install tool call, nested <file>
// tags into file-write tool calls, and appending every parser event to the
// run log as it's produced.
func (l *Loop) runTurn(ctx context.Context, runID, model, apiKey string, turn int, history []Message, userRequest string) (string, []ToolCall, tokenUsage, error) {
	chunks, err := l.LLM.Generate(ctx, GenerateRequest{Model: model, APIKey: apiKey, History: history, UserRequest: userRequest})
	if err != nil {
		return "", nil, tokenUsage{}, err
	}

	parser := stream.New()
	var assistantText strings.Builder
	var sandboxBuf strings.Builder
	var pendingFile *ToolCall
	var calls []ToolCall
	var usage tokenUsage

	handle := func(ev stream.Event) error {
		if name, payload, ok := parserWireEvent(ev); ok {
			l.appendEvent(runID, name, payload)
		}

		switch ev.Type {
		case stream.EventContent:
			switch ev.State {
			case stream.StateText:
				assistantText.WriteString(ev.Content)
			case stream.StateSandbox:
				sandboxBuf.WriteString(ev.Content)
			}
		case stream.EventFileStart:
			pendingFile = &ToolCall{Turn: turn, Name: ToolFile, Path: ev.Path}
		case stream.EventFileContent:
			if pendingFile != nil {
				pendingFile.Content += ev.Content
			}
		case stream.EventFileEnd:
			if pendingFile != nil {
				finalizeToolCall(pendingFile)
				calls = append(calls, *pendingFile)
				pendingFile = nil
			}
		case stream.EventSandboxEnd:
			if sandboxBuf.Len() > 0 {
				if call := parseSandboxCommand(turn, sandboxBuf.String()); call != nil {
					finalizeToolCall(call)
					calls = append(calls, *call)
				}
				sandboxBuf.Reset()
			}
		case stream.EventError:
			slog.Warn("stream parser error", "run_id", runID, "turn", turn, "message", ev.Message)
		}
		return nil
	}

	for chunk := range chunks {
		switch c := chunk.(type) {
		case *DeltaChunk:
			for _, ev := range parser.Process(c.Content) {
				_ = handle(ev)
			}
		case *ErrorChunk:
			return assistantText.String(), calls, usage, c.Err
		case *UsageChunk:
			usage.InputTokens += c.InputTokens
			usage.OutputTokens += c.OutputTokens
		}
	}

	for _, ev := range parser.Flush() {
		_ = handle(ev)
	}

	return assistantText.String(), calls, usage, nil
}

// parseSandboxCommand turns a sandbox block's raw content into a command or
// install tool call. web_search/url_scrape are recognized as pseudo-commands
// (argv[0] == "web_search"/"url_scrape") that never reach the OS allow-list —
// the executor routes them to the WebFetcher instead.
func parseSandboxCommand(turn int, raw string) *ToolCall {
	argv := splitShellWords(raw)
	if len(argv) == 0 {
		return nil
	}

	name := ToolCommand
	switch argv[0] {
	case "web_search":
		return &ToolCall{Turn: turn, Name: ToolWebSearch, Content: strings.Join(argv[1:], " ")}
	case "url_scrape":
		return &ToolCall{Turn: turn, Name: ToolURLScrape, Content: strings.Join(argv[1:], " ")}
	case "npm", "pnpm", "yarn":
		if len(argv) > 1 && (argv[1] == "install" || argv[1] == "add" || argv[1] == "i") {
			name = ToolInstall
		}
	}

	return &ToolCall{Turn: turn, Name: name, Args: argv}
}

// splitShellWords is a minimal whitespace/quote-aware tokenizer — enough
// for the agent's own emitted command blocks, which are not arbitrary
// shell scripts but a single argv.
func splitShellWords(s string) []string {
	var words []string
	var cur strings.Builder
	inQuote := byte(0)

	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote != 0:
			if c == inQuote {
				inQuote = 0
			} else {
				cur.WriteByte(c)
			}
		case c == '"' || c == '\'':
			inQuote = c
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return words
}

func finalizeToolCall(call *ToolCall) {
	call.IdempotencyKey = idempotencyKey(call.Turn, call.Name, canonicalInput(*call))
}

func (l *Loop) executeToolCall(ctx context.Context, runID string, sbCtx SandboxContext, call ToolCall) ToolResult {
	if rec, err := l.ToolCalls.Get(ctx, runID, call.IdempotencyKey); err == nil && rec != nil {
		result := ToolResult{Call: call, Output: rec.Output, ExitCode: rec.ExitCode}
		if rec.Failed {
			result.Err = apierr.New(apierr.KindCommandFailed, "cached failure (idempotency replay)")
		}
		name, payload := toolResultWireEvent(result)
		l.appendEvent(runID, name, payload)
		return result
	}

	output, exitCode, err := l.Executor.Execute(ctx, sbCtx, call)
	result := ToolResult{Call: call, Output: output, ExitCode: exitCode, Err: err}

	rec := ToolCallRecord{Turn: call.Turn, Name: call.Name, Output: output, ExitCode: exitCode, Failed: err != nil}
	argsJSON, _ := json.Marshal(call.Args)
	if putErr := l.ToolCalls.Put(ctx, runID, call.IdempotencyKey, rec, argsJSON); putErr != nil {
		slog.Warn("failed to persist tool call result", "run_id", runID, "error", putErr)
	}

	name, payload := toolResultWireEvent(result)
	l.appendEvent(runID, name, payload)
	return result
}

func (l *Loop) appendEvent(runID, eventType string, payload any) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := l.EventLog.Append(ctx, runID, eventType, payload); err != nil {
		slog.Warn("failed to append run event", "run_id", runID, "type", eventType, "error", err)
	}
}

// appendSessionStart emits the wire `meta` event marking a run's start,
// carrying the chat/message identifiers spec §6 requires on every meta
// frame (internally stored under the compound "meta/session_start" type,
// matching the "meta/session_complete" convention Resume already depends on).
func (l *Loop) appendSessionStart(req RunRequest) {
	l.appendEvent(req.RunID, "meta/session_start", wireEnvelope("meta", map[string]any{
		"runId":              req.RunID,
		"chatId":             req.ChatID,
		"userMessageId":      req.UserMessageID,
		"assistantMessageId": req.AssistantMessageID,
		"isNewChat":          req.IsNewChat,
		"phase":              "session_start",
	}))
}

// appendMetrics emits the wire `metrics` event before session_complete, only
// when the LLM client actually reported usage — not every provider does.
func (l *Loop) appendMetrics(runID string, usage tokenUsage, elapsed time.Duration) {
	if usage.InputTokens == 0 && usage.OutputTokens == 0 {
		return
	}
	l.appendEvent(runID, "metrics", wireEnvelope("metrics", map[string]any{
		"completionTime": elapsed.Seconds(),
		"inputTokens":    usage.InputTokens,
		"outputTokens":   usage.OutputTokens,
	}))
}

// appendSessionComplete emits the terminal wire `meta` event. Scenario S3
// requires the literal loopStopReason "tool_budget" for a per-run tool-call
// cap, which wireStopReason maps StopMaxToolCallsRun onto.
func (l *Loop) appendSessionComplete(req RunRequest, outcome RunOutcome) {
	terminationReason := humanizeStopReason(outcome.StopReason)
	if outcome.Err != nil {
		terminationReason = outcome.Err.Error()
	}

	l.appendEvent(req.RunID, "meta/session_complete", wireEnvelope("meta", map[string]any{
		"runId":              req.RunID,
		"chatId":             req.ChatID,
		"userMessageId":      req.UserMessageID,
		"assistantMessageId": req.AssistantMessageID,
		"isNewChat":          req.IsNewChat,
		"phase":              "session_complete",
		"loopStopReason":     wireStopReason(outcome.StopReason),
		"terminationReason":  terminationReason,
	}))
}

func humanizeStopReason(r StopReason) string {
	switch r {
	case StopNoToolCalls:
		return "completed"
	default:
		return string(r)
	}
}
