package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// idempotencyKey computes sha256(turn|toolName|canonicalInput) per spec
// §4.9, so a retried or duplicated tool call reuses its stored output
// instead of re-executing.
func idempotencyKey(turn int, name ToolName, canonicalInput string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s", turn, name, canonicalInput)
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalInput renders a tool call's arguments deterministically for
// hashing: argv joined with single spaces for commands, "path\ncontent"
// for file writes.
func canonicalInput(call ToolCall) string {
	switch call.Name {
	case ToolFile:
		return call.Path + "\n" + call.Content
	case ToolCommand, ToolInstall:
		return strings.Join(call.Args, " ")
	default:
		return call.Content
	}
}
