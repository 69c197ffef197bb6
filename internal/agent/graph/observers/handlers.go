package observers

import (
	einocb "github.com/cloudwego/eino/callbacks"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"
)

// NewAllCallbacks aggregates the model, tool and prompt observers into one callbacks.Handler.
func NewAllCallbacks() einocb.Handler {
	return callbackHelper.NewHandlerHelper().
		Tool(newToolHandler()).
		ChatModel(newModelHandler()).
		Prompt(newPromptHandler()).
		Handler()
}

// truncate shortens long payloads for log lines.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
