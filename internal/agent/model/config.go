package model

import (
	"strings"
	"time"
)

// ================ Config ================
type ConversationConfig struct {
	// TTL expires idle checkpoints in Redis. Zero keeps them until cleared.
	TTL time.Duration `envconfig:"CONVERSATION_TTL" default:"24h"`
	// MaxMessages caps the stored history, not counting the system prompt.
	MaxMessages int           `envconfig:"CONVERSATION_MAX_MESSAGES" default:"40"`
	TurnTimeout time.Duration `envconfig:"CONVERSATION_TURN_TIMEOUT" default:"120s"`
	Tools       struct {
		MaxCalls int `envconfig:"CONVERSATION_TOOL_MAX_CALLS" default:"10"`
	}
}

type ModelConfig struct {
	Model       string  `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"GEMINI_MAX_TOKENS" default:"2048"`
	Temperature float32 `envconfig:"GEMINI_TEMPERATURE" default:"0"`
	// ThinkingBudget is passed through to Gemini: 0 disables thinking, -1
	// lets the model decide.
	ThinkingBudget int32 `envconfig:"GEMINI_THINKING_BUDGET" default:"0"`
	// APIKeys are tried in order; a quota failure on one moves to the next.
	APIKeys     []string      `envconfig:"GEMINI_API_KEYS"`
	APIKey      string        `envconfig:"GEMINI_API_KEY"`
	BaseURL     string        `envconfig:"GEMINI_BASE_URL"`
	CallTimeout time.Duration `envconfig:"MODEL_CALL_TIMEOUT" default:"60s"`
}

// Keys merges GEMINI_API_KEYS and GEMINI_API_KEY, trimmed, dropping blanks and duplicates.
func (c ModelConfig) Keys() []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, k := range append(append([]string{}, c.APIKeys...), c.APIKey) {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

type PromptConfig struct {
	PharmacyName string `envconfig:"PROMPT_PHARMACY_NAME" default:"Agentic Pharmacy"`
}
