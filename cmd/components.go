package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/browzerlabs/browzer-engine/api/schemas"
	"github.com/browzerlabs/browzer-engine/internal/automation"
	"github.com/browzerlabs/browzer-engine/internal/browser"
	"github.com/browzerlabs/browzer-engine/internal/config"
	"github.com/browzerlabs/browzer-engine/internal/llmclient"
	"github.com/browzerlabs/browzer-engine/internal/observability"
	"github.com/browzerlabs/browzer-engine/internal/store"
	"github.com/browzerlabs/browzer-engine/internal/workflow"
)

const releaseTimeout = 10 * time.Second

// components holds the long-lived services a command needs. Fields a command
// did not ask for stay nil.
type components struct {
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	store    *store.Cached
	collab   *llmclient.Collaborator
	synth    *workflow.Synthesizer
	browser  *browser.Manager
	engine   *automation.Engine
}

type componentOptions struct {
	browser bool
	engine  bool
}

// initializeComponents builds the store, collaborator and synthesizer, plus
// the browser and automation engine when requested. On error everything
// built so far is released.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts componentOptions) (c *components, err error) {
	c = &components{logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			c.Shutdown(context.Background())
			c = nil
		}
	}()

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.metrics = observability.NewMetrics(c.registry)

	c.store, err = store.Open(ctx, cfg, c.metrics, logger)
	if err != nil {
		return c, fmt.Errorf("failed to open session store: %w", err)
	}

	c.collab = llmclient.NewCollaborator(cfg.LLM, nil, c.metrics, logger)
	c.synth = workflow.NewSynthesizer(c.store, c.collab, enhanceOptions(cfg), logger)

	if opts.browser || opts.engine {
		c.browser = browser.NewManager(ctx, cfg.Browser, logger)
	}
	if opts.engine {
		c.engine = automation.NewEngine(cfg.Automation, cfg.Snapshot, automation.Deps{
			Surfaces:     c.surfaceFactory(),
			Collaborator: c.collab,
			Store:        c.store,
			Metrics:      c.metrics,
			Logger:       logger,
		})
	}
	return c, nil
}

// enhanceOptions picks the collaborator model for workflow enhancement from
// the "powerful" model entry.
func enhanceOptions(cfg *config.Config) workflow.EnhanceOptions {
	opts := workflow.EnhanceOptions{Provider: cfg.Automation.Provider, Model: cfg.LLM.DefaultPowerfulModel}
	if m, ok := cfg.LLM.Models["powerful"]; ok {
		if m.Provider != "" {
			opts.Provider = string(m.Provider)
		}
		if m.Model != "" {
			opts.Model = m.Model
		}
		opts.MaxTokens = m.MaxTokens
	}
	return opts
}

// surfaceFactory opens one browser tab per automation session.
func (c *components) surfaceFactory() automation.SurfaceFactory {
	return func(ctx context.Context, sessionID string) (schemas.BrowsingSurface, func(), error) {
		tab, err := c.browser.NewSession(ctx)
		if err != nil {
			return nil, nil, err
		}
		release := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := tab.Close(closeCtx); err != nil {
				c.logger.Debug("Failed to close session tab", zap.String("session_id", sessionID), zap.Error(err))
			}
		}
		return tab, release, nil
	}
}

// Shutdown stops components in reverse dependency order: running sessions,
// then the browser, then the LLM clients, then the store with its pending
// writes.
func (c *components) Shutdown(ctx context.Context) {
	if c.engine != nil {
		if err := c.engine.Shutdown(ctx); err != nil {
			c.logger.Warn("Automation engine did not stop cleanly", zap.Error(err))
		}
	}
	if c.browser != nil {
		if err := c.browser.Shutdown(ctx); err != nil {
			c.logger.Warn("Browser manager did not stop cleanly", zap.Error(err))
		}
	}
	if c.collab != nil {
		_ = c.collab.Close()
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.logger.Warn("Session store did not close cleanly", zap.Error(err))
		}
	}
}
