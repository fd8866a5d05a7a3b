package agent

import "context"

// Chunk is one unit of an LLM stream. Implementations are one of the
// concrete types below — switched on by Loop.runTurn, the same closed
// sum-type idiom as the stream parser's Event.
type Chunk interface {
	isChunk()
}

// DeltaChunk carries raw output bytes to be fed into the stream parser.
type DeltaChunk struct {
	Content []byte
}

// UsageChunk reports token accounting for the turn, if the provider sends it.
type UsageChunk struct {
	InputTokens  int
	OutputTokens int
}

// ErrorChunk signals the LLM call failed; Retryable hints whether a fresh
// attempt is worth making (the agent loop does not itself retry within a
// turn — that is the queue's job for async work — but the flag is
// preserved for callers that do).
type ErrorChunk struct {
	Err       error
	Retryable bool
}

func (*DeltaChunk) isChunk() {}
func (*UsageChunk) isChunk() {}
func (*ErrorChunk) isChunk() {}

// LLMClient streams a completion for req. Implementations talk to whatever
// provider API is configured; this interface is the system's only contact
// point with it (spec §1: LLM provider SDKs are explicitly out of scope —
// modeled here as an HTTP/SSE streaming contract the caller supplies).
type LLMClient interface {
	Generate(ctx context.Context, req GenerateRequest) (<-chan Chunk, error)
}
