package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/browzerlabs/browzer-engine/api/schemas"
)

// Redis stores each record as a JSON string and keeps one sorted set per kind
// scored by update time for listing.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	log    *zap.Logger
}

// NewRedis wraps an existing client and verifies the connection. A zero ttl
// keeps records forever.
func NewRedis(ctx context.Context, client redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) (*Redis, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to connect to Redis: %w", schemas.ErrStorage, err)
	}
	if prefix == "" {
		prefix = "browzer:"
	}
	return &Redis{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		log:    logger.Named("store.redis"),
	}, nil
}

func (r *Redis) recordKey(kind Kind, id string) string {
	return r.prefix + string(kind) + ":data:" + id
}

func (r *Redis) indexKey(kind Kind) string {
	return r.prefix + string(kind) + ":index"
}

func (r *Redis) save(ctx context.Context, kind Kind, id string, updated time.Time, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return storageErr("encode", kind, err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.recordKey(kind, id), data, r.ttl)
		pipe.ZAdd(ctx, r.indexKey(kind), redis.Z{Score: float64(stamp(updated).UnixNano()), Member: id})
		return nil
	})
	if err != nil {
		return storageErr("save", kind, err)
	}
	return nil
}

func redisGet[T any](ctx context.Context, r *Redis, kind Kind, id string) (*T, error) {
	data, err := r.client.Get(ctx, r.recordKey(kind, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(kind, id)
	}
	if err != nil {
		return nil, storageErr("load", kind, err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, storageErr("decode", kind, err)
	}
	return &out, nil
}

// redisList walks the index newest first and keeps records accepted by keep
// until limit is reached. Index entries whose record has expired are pruned.
func redisList[T any](ctx context.Context, r *Redis, kind Kind, limit int, keep func(*T) bool) ([]*T, error) {
	limit = normalizeLimit(limit)
	ids, err := r.client.ZRevRange(ctx, r.indexKey(kind), 0, -1).Result()
	if err != nil {
		return nil, storageErr("list", kind, err)
	}

	out := make([]*T, 0, min(limit, len(ids)))
	const batch = 100
	for start := 0; start < len(ids) && len(out) < limit; start += batch {
		end := min(start+batch, len(ids))
		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, r.recordKey(kind, id))
		}
		values, err := r.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, storageErr("list", kind, err)
		}

		var stale []interface{}
		for i, v := range values {
			s, ok := v.(string)
			if !ok {
				stale = append(stale, ids[start+i])
				continue
			}
			var item T
			if err := json.Unmarshal([]byte(s), &item); err != nil {
				r.log.Warn("Skipping undecodable record", zap.String("kind", string(kind)), zap.String("id", ids[start+i]), zap.Error(err))
				continue
			}
			if keep != nil && !keep(&item) {
				continue
			}
			out = append(out, &item)
			if len(out) == limit {
				break
			}
		}
		if len(stale) > 0 {
			if err := r.client.ZRem(ctx, r.indexKey(kind), stale...).Err(); err != nil {
				r.log.Debug("Failed to prune expired index entries", zap.Error(err))
			}
		}
	}
	return out, nil
}

func (r *Redis) SaveRecording(ctx context.Context, rec *schemas.RecordingSession) error {
	return r.save(ctx, KindRecording, rec.ID, recordingUpdated(rec), rec)
}

func (r *Redis) GetRecording(ctx context.Context, id string) (*schemas.RecordingSession, error) {
	return redisGet[schemas.RecordingSession](ctx, r, KindRecording, id)
}

func (r *Redis) ListRecordings(ctx context.Context, limit int) ([]*schemas.RecordingSession, error) {
	return redisList[schemas.RecordingSession](ctx, r, KindRecording, limit, nil)
}

func (r *Redis) SaveWorkflow(ctx context.Context, wf *schemas.WorkflowDefinition) error {
	return r.save(ctx, KindWorkflow, wf.ID, wf.UpdatedAt, wf)
}

func (r *Redis) GetWorkflow(ctx context.Context, id string) (*schemas.WorkflowDefinition, error) {
	return redisGet[schemas.WorkflowDefinition](ctx, r, KindWorkflow, id)
}

func (r *Redis) ListWorkflows(ctx context.Context, limit int) ([]*schemas.WorkflowDefinition, error) {
	return redisList[schemas.WorkflowDefinition](ctx, r, KindWorkflow, limit, nil)
}

func (r *Redis) SearchWorkflows(ctx context.Context, query string, limit int) ([]*schemas.WorkflowDefinition, error) {
	return redisList(ctx, r, KindWorkflow, limit, func(wf *schemas.WorkflowDefinition) bool {
		return matchesQuery(wf, query)
	})
}

func (r *Redis) SaveSession(ctx context.Context, s *schemas.AutomationSession) error {
	return r.save(ctx, KindSession, s.SessionID, s.UpdatedAt, s)
}

func (r *Redis) GetSession(ctx context.Context, id string) (*schemas.AutomationSession, error) {
	return redisGet[schemas.AutomationSession](ctx, r, KindSession, id)
}

func (r *Redis) ListSessions(ctx context.Context, limit int) ([]*schemas.AutomationSession, error) {
	return redisList[schemas.AutomationSession](ctx, r, KindSession, limit, nil)
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
