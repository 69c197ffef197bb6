package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	einomodel "github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"github.com/agentic-pharmacy/server/internal/agent/model"
	"github.com/agentic-pharmacy/server/internal/metrics"
	logx "github.com/agentic-pharmacy/server/pkg/logger"
)

// NewGeminiClient creates a Gemini API client for one credential.
func NewGeminiClient(ctx context.Context, apiKey, baseURL string) (*genai.Client, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		clientCfg.HTTPOptions.BaseURL = baseURL
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}
	return client, nil
}

// NewGeminiModels builds one chat model per configured API key, in key order.
func NewGeminiModels(ctx context.Context, cfg model.ModelConfig) ([]einomodel.ToolCallingChatModel, error) {
	keys := cfg.Keys()
	if len(keys) == 0 {
		return nil, errors.New("no Gemini API key configured (set GEMINI_API_KEYS or GEMINI_API_KEY)")
	}

	gcfg := geminiConfig(cfg)
	models := make([]einomodel.ToolCallingChatModel, 0, len(keys))
	for i, key := range keys {
		client, err := NewGeminiClient(ctx, key, cfg.BaseURL)
		if err != nil {
			logx.Error().Err(err).Int("key_index", i).Msg("Error creating Gemini client")
			return nil, err
		}
		c := gcfg
		c.Client = client
		cm, err := gemini.NewChatModel(ctx, &c)
		if err != nil {
			logx.Error().Err(err).Int("key_index", i).Msg("Error creating Gemini chat model")
			return nil, fmt.Errorf("error creating chat model for key %d: %w", i, err)
		}
		models = append(models, cm)
	}

	logx.Info().Int("keys", len(models)).Str("model", cfg.Model).Msg("Gemini chat models ready")
	return models, nil
}

// geminiConfig maps ModelConfig onto the shared per-key chat model config.
// The thinking budget is always sent so that zero turns thinking off.
func geminiConfig(cfg model.ModelConfig) gemini.Config {
	return gemini.Config{
		Model:       cfg.Model,
		Temperature: &cfg.Temperature,
		MaxTokens:   &cfg.MaxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  genai.Ptr(cfg.ThinkingBudget),
		},
	}
}

// NewGeminiRotatingModel is the production constructor: one Gemini instance per
// key behind a RotatingModel.
func NewGeminiRotatingModel(ctx context.Context, cfg model.ModelConfig, m *metrics.Metrics) (*RotatingModel, error) {
	models, err := NewGeminiModels(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewRotatingModel(models, WithCallTimeout(cfg.CallTimeout), WithMetrics(m))
}
