package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/browzerlabs/browzer-engine/internal/config"
	"github.com/browzerlabs/browzer-engine/internal/observability"
)

// Open builds the configured backend and wraps it in a write-behind cache.
func Open(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *zap.Logger) (*Cached, error) {
	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Session store ready", zap.String("backend", cfg.Store.Backend))
	return NewCached(backend, CacheOptions{
		QueueSize:    cfg.Store.QueueSize,
		WriteTimeout: cfg.Store.WriteTimeout,
	}, metrics, logger), nil
}

func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Repository, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory, "":
		return NewMemory(), nil

	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		pg, err := NewPostgres(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if cfg.Database.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return pg, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		r, err := NewRedis(ctx, client, cfg.Redis.Prefix, cfg.Redis.TTL, logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return r, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
