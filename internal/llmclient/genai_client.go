package llmclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/browzerlabs/browzer-engine/api/schemas"
	"github.com/browzerlabs/browzer-engine/internal/config"
)

// GenAIClient implements schemas.LLMClient on top of the official
// google.golang.org/genai SDK.
type GenAIClient struct {
	client *genai.Client
	config config.LLMModelConfig
	logger *zap.Logger
}

// NewGenAIClient builds an SDK client for the Gemini API backend.
func NewGenAIClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("genai API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("genai model is required")
	}

	timeout := cfg.APITimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GenAIClient{
		client: client,
		config: cfg,
		logger: logger.Named("llm_client.genai"),
	}, nil
}

// Generate implements schemas.LLMClient.
func (c *GenAIClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	model := c.config.Model
	if req.Model != "" {
		model = req.Model
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(req.UserPrompt), c.generationConfig(req))
	if err != nil {
		return "", fmt.Errorf("genai generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("genai returned an empty response")
	}

	c.logger.Debug("LLM generation complete (genai)",
		zap.String("model", model),
		zap.Duration("duration", time.Since(start)),
	)
	return text, nil
}

func (c *GenAIClient) generationConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Options.Temperature)),
	}
	if req.SystemPrompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	maxTokens := c.config.MaxTokens
	if req.Options.MaxTokens > 0 {
		maxTokens = req.Options.MaxTokens
	}
	if maxTokens > 0 {
		gc.MaxOutputTokens = int32(maxTokens)
	}
	if c.config.TopP > 0 {
		gc.TopP = genai.Ptr(c.config.TopP)
	}
	if req.Options.ForceJSONFormat {
		gc.ResponseMIMEType = "application/json"
	}
	return gc
}

// Close implements schemas.LLMClient.
func (c *GenAIClient) Close() error {
	return nil
}
