package observers

import (
	"context"
	"errors"
	"io"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/agentic-pharmacy/server/pkg/logger"
)

func newToolHandler() *callbackHelper.ToolCallbackHandler {
	return &callbackHelper.ToolCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *tool.CallbackInput) context.Context {
			ev := logx.Info().Str("tool", info.Name)
			if input != nil {
				ev = ev.Str("arguments", input.ArgumentsInJSON)
			}
			ev.Msg("Tool started")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *tool.CallbackOutput) context.Context {
			ev := logx.Debug().Str("tool", info.Name)
			if output != nil {
				ev = ev.Str("result", truncate(output.Response, 300))
			}
			ev.Msg("Tool finished")
			return ctx
		},
		OnEndWithStreamOutput: func(ctx context.Context, info *einocb.RunInfo, output *schema.StreamReader[*tool.CallbackOutput]) context.Context {
			go func() {
				defer output.Close()
				for {
					chunk, err := output.Recv()
					if errors.Is(err, io.EOF) {
						return
					}
					if err != nil {
						logx.Warn().Err(err).Str("tool", info.Name).Msg("Tool stream failed")
						return
					}
					logx.Debug().Str("tool", info.Name).Str("chunk", truncate(chunk.Response, 300)).Msg("Tool stream chunk")
				}
			}()
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Error().Err(err).Str("tool", info.Name).Msg("Tool execution failed")
			return ctx
		},
	}
}
