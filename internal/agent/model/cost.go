package model

import (
	"github.com/cloudwego/eino/schema"
)

// Pricing defines USD cost per 1M tokens for input/output.
type Pricing struct {
	InputPerM  float64
	OutputPerM float64
}

// Gemini list prices for text tokens.
var defaultPricing = map[string]Pricing{
	"gemini-2.5-pro":        {InputPerM: 1.25, OutputPerM: 10.00},
	"gemini-2.5-flash":      {InputPerM: 0.30, OutputPerM: 2.50},
	"gemini-2.5-flash-lite": {InputPerM: 0.10, OutputPerM: 0.40},
	"gemini-2.0-flash":      {InputPerM: 0.10, OutputPerM: 0.40},
}

// ResolvePricing returns the pricing for a model, zero when unknown.
func ResolvePricing(model string) Pricing {
	return defaultPricing[model]
}

// UsageCost is the cost breakdown attached to a model response.
type UsageCost struct {
	Model            string  `json:"model"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	InputCost        float64 `json:"input_cost"`
	OutputCost       float64 `json:"output_cost"`
	TotalCost        float64 `json:"total_cost"`
}

// ComputeCost converts token usage to USD cost using per-1M Pricing.
func ComputeCost(model string, usage *schema.TokenUsage) UsageCost {
	if usage == nil {
		return UsageCost{Model: model}
	}
	p := ResolvePricing(model)
	c := UsageCost{
		Model:            model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		InputCost:        p.InputPerM * float64(usage.PromptTokens) / 1_000_000.0,
		OutputCost:       p.OutputPerM * float64(usage.CompletionTokens) / 1_000_000.0,
	}
	c.TotalCost = c.InputCost + c.OutputCost
	return c
}
