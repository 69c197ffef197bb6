package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/agentic-pharmacy/server/internal/agent/model"
	"github.com/agentic-pharmacy/server/internal/agent/tools"
)

//go:embed template/system_prompt.txt
var systemPromptTemplate string

// RenderSystem renders the fixed system instructions for new threads.
// Rendering goes through the Eino prompt component so prompt callbacks fire.
func RenderSystem(ctx context.Context, config model.PromptConfig) (string, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(systemPromptTemplate),
	)
	vars := map[string]any{
		"PharmacyName":    config.PharmacyName,
		"StockTool":       tools.KindCheckStock,
		"OrderTool":       tools.KindPlaceOrder,
		"HistoryTool":     tools.KindPatientHistory,
		"LowStockTool":    tools.KindLowStockAlerts,
		"KnowledgeTool":   tools.KindSearchKnowledge,
		"InteractionTool": tools.KindDrugInteraction,
	}
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("system prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("system prompt render: empty result")
	}
	return msgs[0].Content, nil
}
