package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/agentic-pharmacy/server/internal/agent/graph/conversations"
	"github.com/agentic-pharmacy/server/internal/agent/model"
	errx "github.com/agentic-pharmacy/server/internal/core/error"
	logx "github.com/agentic-pharmacy/server/pkg/logger"
)

// NewLoadCheckpointPreHandler resets the per-turn counters.
func NewLoadCheckpointPreHandler() func(context.Context, model.TurnInput, *model.AppState) (model.TurnInput, error) {
	return func(ctx context.Context, in model.TurnInput, s *model.AppState) (model.TurnInput, error) {
		resetTurn(s, in)
		return in, nil
	}
}

// NewLoadCheckpointNode resumes the thread and appends the new user message.
func NewLoadCheckpointNode(mm *conversations.MessagesManager, systemPrompt string) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.TurnInput) ([]*schema.Message, error) {
		messages, err := mm.Begin(ctx, in.ThreadID, systemPrompt, in.Message)
		if err != nil {
			return nil, fmt.Errorf("error resuming thread %s: %w", in.ThreadID, err)
		}
		logx.Debug().
			Str("thread_id", in.ThreadID).
			Str("turn_id", in.TurnID).
			Int("history_len", len(messages)).
			Msg("Thread resumed")
		return messages, nil
	})
}

// NewChatModelPreHandler accumulates node input into the turn history and
// hands the whole history to the model. The first input is the resumed
// thread; later inputs are tool results.
func NewChatModelPreHandler() func(context.Context, []*schema.Message, *model.AppState) ([]*schema.Message, error) {
	return func(ctx context.Context, in []*schema.Message, state *model.AppState) ([]*schema.Message, error) {
		state.History = append(state.History, in...)
		logx.Debug().
			Str("thread_id", state.ThreadID).
			Int("history_len", len(state.History)).
			Msg("AI thinking...")
		return state.History, nil
	}
}

// NewChatModelPostHandler records usage cost, fills in missing tool call
// ids and appends the reply to the history.
func NewChatModelPostHandler(modelName string) func(context.Context, *schema.Message, *model.AppState) (*schema.Message, error) {
	return func(ctx context.Context, out *schema.Message, state *model.AppState) (*schema.Message, error) {
		if out == nil {
			return nil, fmt.Errorf("chat model returned no message")
		}

		if out.ResponseMeta != nil && out.ResponseMeta.Usage != nil {
			cost := model.ComputeCost(modelName, out.ResponseMeta.Usage)
			if out.Extra == nil {
				out.Extra = map[string]any{}
			}
			out.Extra["usage_cost"] = cost
			state.TotalCostUSD += cost.TotalCost
			logx.Debug().
				Str("thread_id", state.ThreadID).
				Str("node", NodeChatModel).
				Str("model", modelName).
				Int("prompt_tokens", cost.PromptTokens).
				Int("completion_tokens", cost.CompletionTokens).
				Float64("total_cost_usd", cost.TotalCost).
				Float64("turn_cost_usd", state.TotalCostUSD).
				Msg("LLM usage")
		}

		// Gemini may omit tool call ids; tool results are matched on them.
		for i := range out.ToolCalls {
			if strings.TrimSpace(out.ToolCalls[i].ID) == "" {
				state.ToolCallIDSeq++
				out.ToolCalls[i].ID = fmt.Sprintf("call_%d", state.ToolCallIDSeq)
			}
		}

		state.History = append(state.History, out)
		return out, nil
	}
}

// NewToolExecutorCondition routes tool calls to the executor and a final
// answer to the checkpoint save.
func NewToolExecutorCondition() func(context.Context, *schema.Message) (string, error) {
	return func(ctx context.Context, input *schema.Message) (string, error) {
		if input != nil && len(input.ToolCalls) > 0 {
			logx.Debug().Int("tool_count", len(input.ToolCalls)).Msg("Routing to ToolExecutor")
			return NodeToolExecutor, nil
		}
		return NodeSaveCheckpoint, nil
	}
}

// NewToolExecutorPreHandler enforces the tool-call ceiling. Exceeding it
// fails the turn.
func NewToolExecutorPreHandler(maxToolCalls int) func(context.Context, *schema.Message, *model.AppState) (*schema.Message, error) {
	return func(ctx context.Context, in *schema.Message, state *model.AppState) (*schema.Message, error) {
		exceeded := incrementToolCallAndCheck(state, maxToolCalls)

		logx.Debug().
			Int("tool_call_count", state.ToolCallCount).
			Str("thread_id", state.ThreadID).
			Msg("Tool execution attempt")

		if exceeded {
			maxToolCalls = normalizeMaxToolCalls(maxToolCalls)
			logx.Warn().
				Int("tool_call_count", state.ToolCallCount).
				Int("max_tool_calls", maxToolCalls).
				Str("thread_id", state.ThreadID).
				Msg("Tool call limit exceeded - failing turn")
			return nil, fmt.Errorf("%w: more than %d tool rounds", errx.ErrIterationLimit, maxToolCalls)
		}
		return in, nil
	}
}

// NewSaveCheckpointNode persists the turn's history and passes the final
// answer through.
func NewSaveCheckpointNode(mm *conversations.MessagesManager) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, out *schema.Message) (*schema.Message, error) {
		var (
			threadID string
			history  []*schema.Message
			cost     float64
		)
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.AppState) error {
			threadID = state.ThreadID
			history = append(history, state.History...)
			cost = state.TotalCostUSD
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}

		if err := mm.Commit(ctx, threadID, history); err != nil {
			return nil, fmt.Errorf("error saving thread %s: %w", threadID, err)
		}
		logx.Debug().
			Str("thread_id", threadID).
			Int("history_len", len(history)).
			Float64("turn_cost_usd", cost).
			Msg("Checkpoint saved")
		return out, nil
	})
}
