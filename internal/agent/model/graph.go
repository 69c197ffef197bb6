package model

import (
	"github.com/cloudwego/eino/schema"
)

// AppState stores per-invocation state for the Eino Graph.
// It is registered via compose.WithGenLocalState and only touched inside
// state handlers or compose.ProcessState, which serialise access.
type AppState struct {
	ThreadID      string
	TurnID        string
	History       []*schema.Message // mutated only inside Eino state handlers
	ToolCallCount int               // tool rounds executed in this turn
	ToolCallIDSeq int               // synthesised tool_call_id sequence when the provider omits one

	// Accumulated LLM cost (USD) across model invocations for this turn
	TotalCostUSD float64
}

// TurnInput is one inbound chat message for a thread.
type TurnInput struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
	TurnID   string `json:"turn_id,omitempty"`
}

// DefaultThreadID is used when the caller supplies no thread identifier.
const DefaultThreadID = "default_thread"
