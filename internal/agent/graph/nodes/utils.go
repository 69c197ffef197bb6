package nodes

import (
	"github.com/agentic-pharmacy/server/internal/agent/model"
)

const (
	NodeLoadCheckpoint = "load_checkpoint"
	NodeChatModel      = "chat_model"
	NodeToolExecutor   = "tool_executor"
	NodeSaveCheckpoint = "save_checkpoint"
)

const DefaultMaxToolCalls = 10

// normalizeMaxToolCalls returns a sane default when the provided value is invalid.
func normalizeMaxToolCalls(n int) int {
	if n <= 0 {
		return DefaultMaxToolCalls
	}
	return n
}

// MaxRunSteps bounds the graph run: one load, one save, and a model plus
// tools step per allowed round, with headroom for the final answer.
func MaxRunSteps(maxToolCalls int) int {
	return 10 + normalizeMaxToolCalls(maxToolCalls)*2
}

// incrementToolCallAndCheck counts one tool round and reports whether the
// turn is now past the ceiling.
func incrementToolCallAndCheck(state *model.AppState, max int) bool {
	state.ToolCallCount++
	return state.ToolCallCount > normalizeMaxToolCalls(max)
}

func resetTurn(state *model.AppState, in model.TurnInput) {
	state.ThreadID = in.ThreadID
	state.TurnID = in.TurnID
	state.History = nil
	state.ToolCallCount = 0
	state.ToolCallIDSeq = 0
	state.TotalCostUSD = 0
}
