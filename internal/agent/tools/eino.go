package tools

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/agentic-pharmacy/server/internal/metrics"
	logx "github.com/agentic-pharmacy/server/pkg/logger"
)

// invokable adapts one Kind to Eino's InvokableTool.
type invokable struct {
	kind       Kind
	dispatcher *Dispatcher
	metrics    *metrics.Metrics
}

var _ tool.InvokableTool = (*invokable)(nil)

func (t *invokable) Info(_ context.Context) (*schema.ToolInfo, error) {
	return Info(t.kind), nil
}

// InvokableRun never fails the turn: invalid arguments and store failures come
// back as an "Error: ..." result the model can relay or correct.
func (t *invokable) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	args, err := ParseArgs(t.kind, argumentsInJSON)
	if err != nil {
		logx.Warn().Err(err).Str("tool", string(t.kind)).Str("arguments", argumentsInJSON).Msg("Invalid tool arguments")
		t.metrics.RecordToolCall(string(t.kind), "invalid_arguments")
		return fmt.Sprintf("Error: invalid arguments for %s: %v", t.kind, err), nil
	}

	out, err := t.dispatcher.Dispatch(ctx, args)
	if err != nil {
		logx.Error().Err(err).Str("tool", string(t.kind)).Msg("Tool execution failed")
		t.metrics.RecordToolCall(string(t.kind), "error")
		return fmt.Sprintf("Error: %s failed: %v", t.kind, err), nil
	}
	t.metrics.RecordToolCall(string(t.kind), "ok")
	return out, nil
}

// Set is the bound tool set handed to the agent graph.
type Set struct {
	tools []tool.BaseTool
	infos []*schema.ToolInfo
}

// NewSet builds one Eino tool per Kind, all backed by dispatcher.
func NewSet(dispatcher *Dispatcher, m *metrics.Metrics) *Set {
	s := &Set{}
	for _, kind := range Kinds() {
		s.tools = append(s.tools, &invokable{kind: kind, dispatcher: dispatcher, metrics: m})
		s.infos = append(s.infos, Info(kind))
	}
	return s
}

func (s *Set) Tools() []tool.BaseTool {
	return s.tools
}

func (s *Set) Infos() []*schema.ToolInfo {
	return s.infos
}

// UnknownToolResult is fed back when the model names a tool outside the set.
func UnknownToolResult(name string) string {
	return fmt.Sprintf("Error: unknown tool %q. Available tools: %v", name, Kinds())
}
