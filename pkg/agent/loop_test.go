package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/forgeplatform/forge/pkg/container"
	"github.com/forgeplatform/forge/pkg/plan"
	"github.com/forgeplatform/forge/pkg/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLMClient struct {
	turns [][]byte
	calls int
}

func (f *fakeLLMClient) Generate(ctx context.Context, req GenerateRequest) (<-chan Chunk, error) {
	ch := make(chan Chunk, 1)
	if f.calls < len(f.turns) {
		ch <- &DeltaChunk{Content: f.turns[f.calls]}
	}
	f.calls++
	close(ch)
	return ch, nil
}

type fakeEventAppender struct {
	seq    int64
	events []string
}

func (f *fakeEventAppender) Append(ctx context.Context, runID, eventType string, payload any) (int64, error) {
	f.seq++
	f.events = append(f.events, eventType)
	return f.seq, nil
}

type inMemoryToolCallStore struct {
	records map[string]ToolCallRecord
}

func newInMemoryToolCallStore() *inMemoryToolCallStore {
	return &inMemoryToolCallStore{records: map[string]ToolCallRecord{}}
}

func (s *inMemoryToolCallStore) Get(ctx context.Context, runID, idempotencyKey string) (*ToolCallRecord, error) {
	if rec, ok := s.records[idempotencyKey]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (s *inMemoryToolCallStore) Put(ctx context.Context, runID, idempotencyKey string, rec ToolCallRecord, args json.RawMessage) error {
	s.records[idempotencyKey] = rec
	return nil
}

// passthroughLimiter runs fn immediately, as if a slot were always free.
type passthroughLimiter struct{}

func (passthroughLimiter) With(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// alwaysRateLimitedLimiter mimics a Limiter whose slot acquisition always
// fails, so the loop must surface ratelimit.ErrRateLimited as StopError.
type alwaysRateLimitedLimiter struct{}

func (alwaysRateLimitedLimiter) With(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	return ratelimit.ErrRateLimited
}

func okCommandExecutor() *Executor {
	runner := &fakeCommandRunner{result: &container.ExecResult{ExitCode: 0, Stdout: "hi\n"}}
	return NewExecutor(runner, &fakeFileWriter{})
}

func TestLoopRunStopsWithNoToolCalls(t *testing.T) {
	llm := &fakeLLMClient{turns: [][]byte{[]byte("plain assistant text, no tools")}}
	events := &fakeEventAppender{}
	loop := NewLoop(llm, okCommandExecutor(), events, newInMemoryToolCallStore(), passthroughLimiter{})

	outcome := loop.Run(context.Background(), RunRequest{RunID: "run-1", UserID: "user-1", Model: "gpt", APIKey: "key", UserRequest: "build me an app"})

	assert.Equal(t, StopNoToolCalls, outcome.StopReason)
	assert.Equal(t, 1, outcome.TurnsUsed)
	assert.Equal(t, 0, outcome.ToolCallsUsed)
	assert.Contains(t, events.events, "meta/session_start")
	assert.Contains(t, events.events, "meta/session_complete")
}

func TestLoopRunExecutesSandboxCommandThenStops(t *testing.T) {
	llm := &fakeLLMClient{turns: [][]byte{
		[]byte(`<edward_sandbox project="p" base="/workspace">echo hi</edward_sandbox>`),
		[]byte("all done, no more tools"),
	}}
	events := &fakeEventAppender{}
	loop := NewLoop(llm, okCommandExecutor(), events, newInMemoryToolCallStore(), passthroughLimiter{})

	outcome := loop.Run(context.Background(), RunRequest{RunID: "run-2", UserID: "user-1", Model: "gpt", APIKey: "key", UserRequest: "build me an app", Sandbox: SandboxContext{ContainerID: "c1", Workdir: "/workspace"}})

	assert.Equal(t, StopNoToolCalls, outcome.StopReason)
	assert.Equal(t, 2, outcome.TurnsUsed)
	assert.Equal(t, 1, outcome.ToolCallsUsed)
}

func TestLoopRunReplaysIdempotentToolCall(t *testing.T) {
	sandboxTurn := []byte(`<edward_sandbox project="p" base="/workspace">echo hi</edward_sandbox>`)
	llm := &fakeLLMClient{turns: [][]byte{sandboxTurn, []byte("done")}}
	events := &fakeEventAppender{}

	runner := &countingCommandRunner{result: &container.ExecResult{ExitCode: 0, Stdout: "hi\n"}}
	exec := NewExecutor(runner, &fakeFileWriter{})
	toolCalls := newInMemoryToolCallStore()

	// Pre-seed the cache with the exact key this turn's sandbox command
	// will hash to, so the loop must replay it instead of executing.
	key := idempotencyKey(1, ToolCommand, "echo hi")
	toolCalls.records[key] = ToolCallRecord{Turn: 1, Name: ToolCommand, Output: "cached output"}

	loop := NewLoop(llm, exec, events, toolCalls, passthroughLimiter{})

	outcome := loop.Run(context.Background(), RunRequest{RunID: "run-idem", UserID: "user-1", Model: "gpt", APIKey: "key", UserRequest: "repeat the same command", Sandbox: SandboxContext{ContainerID: "c1", Workdir: "/workspace"}})

	assert.Equal(t, 0, runner.calls, "cached result should have been replayed, not re-executed")
	assert.Equal(t, 1, outcome.ToolCallsUsed)
}

func TestLoopRunStopsAtMaxTurns(t *testing.T) {
	sandboxTurn := []byte(`<edward_sandbox project="p" base="/workspace">echo hi</edward_sandbox>`)
	turns := make([][]byte, 0, MaxAgentTurns+2)
	for i := 0; i < MaxAgentTurns+2; i++ {
		turns = append(turns, sandboxTurn)
	}
	llm := &fakeLLMClient{turns: turns}
	events := &fakeEventAppender{}
	loop := NewLoop(llm, okCommandExecutor(), events, newInMemoryToolCallStore(), passthroughLimiter{})

	outcome := loop.Run(context.Background(), RunRequest{RunID: "run-3", UserID: "user-1", Model: "gpt", APIKey: "key", UserRequest: "loop forever", Sandbox: SandboxContext{ContainerID: "c1", Workdir: "/workspace"}})

	assert.Equal(t, StopMaxTurns, outcome.StopReason)
	assert.Equal(t, MaxAgentTurns, outcome.TurnsUsed)
}

func TestLoopRunStopsAtMaxToolCallsPerTurn(t *testing.T) {
	var sb []byte
	for i := 0; i < MaxAgentToolCallsPerTurn+2; i++ {
		sb = append(sb, []byte(`<edward_sandbox project="p" base="/workspace">echo hi</edward_sandbox>`)...)
	}
	llm := &fakeLLMClient{turns: [][]byte{sb}}
	events := &fakeEventAppender{}
	loop := NewLoop(llm, okCommandExecutor(), events, newInMemoryToolCallStore(), passthroughLimiter{})

	outcome := loop.Run(context.Background(), RunRequest{RunID: "run-5", UserID: "user-1", Model: "gpt", APIKey: "key", UserRequest: "spam commands", Sandbox: SandboxContext{ContainerID: "c1", Workdir: "/workspace"}})

	assert.Equal(t, StopMaxToolCallsTurn, outcome.StopReason)
	assert.Equal(t, MaxAgentToolCallsPerTurn, outcome.ToolCallsUsed)
}

func TestLoopRunRateLimited(t *testing.T) {
	llm := &fakeLLMClient{turns: [][]byte{[]byte("text")}}
	events := &fakeEventAppender{}
	loop := NewLoop(llm, okCommandExecutor(), events, newInMemoryToolCallStore(), alwaysRateLimitedLimiter{})

	outcome := loop.Run(context.Background(), RunRequest{RunID: "run-4", UserID: "user-1", Model: "gpt", APIKey: "key", UserRequest: "hello"})

	assert.Equal(t, StopError, outcome.StopReason)
	require.Error(t, outcome.Err)
}

type fakePlanSaver struct {
	runID string
	saved *plan.Plan
}

func (f *fakePlanSaver) Save(ctx context.Context, runID string, p *plan.Plan) error {
	f.runID = runID
	f.saved = p
	return nil
}

func TestLoopRunMarksPlanDoneOnCleanFinish(t *testing.T) {
	llm := &fakeLLMClient{turns: [][]byte{[]byte("I will now Generate code for the project.")}}
	events := &fakeEventAppender{}
	loop := NewLoop(llm, okCommandExecutor(), events, newInMemoryToolCallStore(), passthroughLimiter{})
	saver := &fakePlanSaver{}
	loop.Plans = saver

	loop.Run(context.Background(), RunRequest{RunID: "run-plan-1", UserID: "user-1", Model: "gpt", APIKey: "key", UserRequest: "build me an app"})

	require.NotNil(t, saver.saved)
	assert.Equal(t, "run-plan-1", saver.runID)
	snap := saver.saved.Clone()
	for _, s := range snap.Steps {
		assert.Equal(t, plan.StepDone, s.Status)
	}
}

func TestLoopRunFailsRemainingPlanStepsOnError(t *testing.T) {
	llm := &fakeLLMClient{turns: [][]byte{[]byte("text")}}
	events := &fakeEventAppender{}
	loop := NewLoop(llm, okCommandExecutor(), events, newInMemoryToolCallStore(), alwaysRateLimitedLimiter{})
	saver := &fakePlanSaver{}
	loop.Plans = saver

	loop.Run(context.Background(), RunRequest{RunID: "run-plan-2", UserID: "user-1", Model: "gpt", APIKey: "key", UserRequest: "hello"})

	require.NotNil(t, saver.saved)
	snap := saver.saved.Clone()
	assert.Equal(t, plan.StepFailed, snap.Steps[0].Status)
	assert.NotEmpty(t, snap.Decisions)
}

type countingCommandRunner struct {
	result *container.ExecResult
	calls  int
}

func (c *countingCommandRunner) Run(ctx context.Context, containerID, workdir string, argv []string) (*container.ExecResult, error) {
	c.calls++
	return c.result, nil
}
