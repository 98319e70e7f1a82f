package llmclient

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/browzerlabs/browzer-engine/api/schemas"
	"github.com/browzerlabs/browzer-engine/internal/config"
	"github.com/browzerlabs/browzer-engine/internal/observability"
)

// ClientFactory builds an LLMClient for a resolved model configuration.
type ClientFactory func(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error)

// Collaborator adapts provider clients to the provider-agnostic Call contract.
// Clients are built lazily per (provider, model, key) and reused.
type Collaborator struct {
	logger   *zap.Logger
	metrics  *observability.Metrics
	defaults config.LLMRouterConfig
	factory  ClientFactory

	mu      sync.Mutex
	clients map[string]schemas.LLMClient
}

// NewCollaborator creates a collaborator. factory may be nil, in which case NewClient is used.
func NewCollaborator(defaults config.LLMRouterConfig, factory ClientFactory, metrics *observability.Metrics, logger *zap.Logger) *Collaborator {
	if factory == nil {
		factory = NewClient
	}
	return &Collaborator{
		logger:   logger.Named("collaborator"),
		metrics:  metrics,
		defaults: defaults,
		factory:  factory,
		clients:  make(map[string]schemas.LLMClient),
	}
}

// Call implements schemas.Collaborator. It never returns an error value;
// failures are reported through CallResult.
func (c *Collaborator) Call(ctx context.Context, req schemas.CallRequest) schemas.CallResult {
	if strings.TrimSpace(req.Prompt) == "" {
		return schemas.CallResult{Error: "prompt is required"}
	}

	modelCfg := c.resolve(req)
	if modelCfg.APIKey == "" {
		return schemas.CallResult{Error: fmt.Sprintf("no API key configured for provider %q", modelCfg.Provider)}
	}

	client, err := c.client(ctx, modelCfg)
	if err != nil {
		return schemas.CallResult{Error: err.Error()}
	}

	start := time.Now()
	text, err := client.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: req.SystemPrompt,
		UserPrompt:   req.Prompt,
		Model:        modelCfg.Model,
		Options: schemas.GenerationOptions{
			Temperature:     req.Temperature,
			MaxTokens:       req.MaxTokens,
			ForceJSONFormat: req.ForceJSON,
		},
	})
	c.metrics.LLMCall(string(modelCfg.Provider), err == nil, time.Since(start))
	if err != nil {
		c.logger.Warn("LLM call failed",
			zap.String("provider", string(modelCfg.Provider)),
			zap.String("model", modelCfg.Model),
			zap.Error(err))
		return schemas.CallResult{Error: err.Error()}
	}
	return schemas.CallResult{Success: true, Response: text}
}

// resolve merges the request over the configured model entry for its provider.
func (c *Collaborator) resolve(req schemas.CallRequest) config.LLMModelConfig {
	provider := config.LLMProvider(req.Provider)
	if provider == "" {
		provider = config.ProviderGemini
	}

	var cfg config.LLMModelConfig
	found := false
	for _, key := range []string{"powerful", "fast"} {
		if m, ok := c.defaults.Models[key]; ok && (m.Provider == provider || (m.Provider == "" && provider == config.ProviderGemini)) {
			cfg, found = m, true
			break
		}
	}
	if !found {
		for _, m := range c.defaults.Models {
			if m.Provider == provider {
				cfg = m
				break
			}
		}
	}

	cfg.Provider = provider
	if req.APIKey != "" {
		cfg.APIKey = req.APIKey
	}
	if req.Model != "" {
		cfg.Model = req.Model
	}
	if cfg.Model == "" {
		cfg.Model = c.defaults.DefaultPowerfulModel
	}
	return cfg
}

func (c *Collaborator) client(ctx context.Context, cfg config.LLMModelConfig) (schemas.LLMClient, error) {
	key := string(cfg.Provider) + "|" + cfg.Model + "|" + cfg.Endpoint + "|" + cfg.APIKey

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[key]; ok {
		return client, nil
	}
	client, err := c.factory(ctx, cfg, c.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", cfg.Provider, err)
	}
	c.clients[key] = client
	return client, nil
}

// Close releases every cached client.
func (c *Collaborator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, client := range c.clients {
		if err := client.Close(); err != nil {
			c.logger.Debug("Failed to close LLM client", zap.Error(err))
		}
		delete(c.clients, key)
	}
	return nil
}

// AsError converts a failed CallResult into an error wrapping schemas.ErrCollaborator.
func AsError(res schemas.CallResult) error {
	if res.Success {
		return nil
	}
	msg := res.Error
	if msg == "" {
		msg = "unknown failure"
	}
	return fmt.Errorf("%w: %s", schemas.ErrCollaborator, msg)
}
