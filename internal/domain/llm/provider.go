package llm

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/spf13/cast"

	"voxline-server-golang/constants"
)

// Config describes one chat-model backend.
type Config struct {
	Type        string
	ModelName   string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float32
	TokenBudget int
}

// ConfigFromMap builds a Config from a viper sub-map, e.g. the value of
// llm.fast or llm.slow.
func ConfigFromMap(m map[string]interface{}) Config {
	cfg := Config{
		Type:        cast.ToString(m["type"]),
		ModelName:   cast.ToString(m["model_name"]),
		APIKey:      cast.ToString(m["api_key"]),
		BaseURL:     cast.ToString(m["base_url"]),
		MaxTokens:   cast.ToInt(m["max_tokens"]),
		Temperature: cast.ToFloat32(m["temperature"]),
		TokenBudget: cast.ToInt(m["token_budget"]),
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = 4096
	}
	return cfg
}

// GetLLMProvider constructs the chat model for the configured backend
// type. The returned model supports tool binding via WithTools.
func GetLLMProvider(ctx context.Context, cfg Config) (model.ToolCallingChatModel, error) {
	switch cfg.Type {
	case constants.LlmTypeOpenai, "":
		mc := &openai.ChatModelConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.ModelName,
		}
		if cfg.MaxTokens > 0 {
			mc.MaxTokens = &cfg.MaxTokens
		}
		if cfg.Temperature > 0 {
			mc.Temperature = &cfg.Temperature
		}
		return openai.NewChatModel(ctx, mc)
	case constants.LlmTypeOllama:
		return ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.ModelName,
		})
	default:
		return nil, fmt.Errorf("invalid llm provider type: %s", cfg.Type)
	}
}
