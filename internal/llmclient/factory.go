// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/browzerlabs/browzer-engine/api/schemas"
	"github.com/browzerlabs/browzer-engine/internal/config"
)

// NewClient is a factory function that creates an LLMClient for one model configuration.
func NewClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini, "":
		client, err := NewGeminiClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.ProviderGenAI:
		client, err := NewGenAIClient(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderGenAI)
	}
}
