package observers

import (
	"context"
	"strings"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/agentic-pharmacy/server/pkg/logger"
)

// newModelHandler logs the latest user message and the model reply around each call.
func newModelHandler() *callbackHelper.ModelCallbackHandler {
	return &callbackHelper.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			ev := logx.Debug().Str("component", info.Type).Str("name", info.Name)
			if input != nil {
				ev = ev.Int("messages", len(input.Messages)).Int("tools", len(input.Tools))
				if um := lastUserContent(input.Messages); um != "" {
					ev = ev.Str("user", truncate(um, 200))
				}
			}
			ev.Msg("Model call started")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			ev := logx.Debug().Str("component", info.Type).Str("name", info.Name)
			if output != nil && output.Message != nil {
				ev = ev.Int("tool_calls", len(output.Message.ToolCalls))
				if content := strings.TrimSpace(output.Message.Content); content != "" {
					ev = ev.Str("assistant", truncate(content, 200))
				}
			}
			if output != nil && output.TokenUsage != nil {
				ev = ev.Int("total_tokens", output.TokenUsage.TotalTokens)
			}
			ev.Msg("Model call finished")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Warn().Err(err).Str("component", info.Type).Str("name", info.Name).Msg("Model call failed")
			return ctx
		},
	}
}

func lastUserContent(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m == nil {
			continue
		}
		if m.Role == schema.User {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}
