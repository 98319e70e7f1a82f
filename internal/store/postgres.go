package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/browzerlabs/browzer-engine/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Records are stored whole as JSONB. The scalar columns exist for ordering
// and search.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS recordings (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL DEFAULT '',
        status TEXT NOT NULL,
        data JSONB NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL
    );`,
	`CREATE INDEX IF NOT EXISTS recordings_updated_at_idx ON recordings (updated_at DESC);`,
	`CREATE TABLE IF NOT EXISTS workflows (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL DEFAULT '',
        description TEXT NOT NULL DEFAULT '',
        source_recording_id TEXT,
        data JSONB NOT NULL,
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL
    );`,
	`CREATE INDEX IF NOT EXISTS workflows_updated_at_idx ON workflows (updated_at DESC);`,
	`CREATE TABLE IF NOT EXISTS automation_sessions (
        id TEXT PRIMARY KEY,
        status TEXT NOT NULL,
        user_goal TEXT NOT NULL DEFAULT '',
        data JSONB NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL
    );`,
	`CREATE INDEX IF NOT EXISTS automation_sessions_updated_at_idx ON automation_sessions (updated_at DESC);`,
}

const (
	sqlUpsertRecording = `
        INSERT INTO recordings (id, name, status, data, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (id) DO UPDATE SET
            name = EXCLUDED.name,
            status = EXCLUDED.status,
            data = EXCLUDED.data,
            updated_at = EXCLUDED.updated_at;
    `
	sqlUpsertWorkflow = `
        INSERT INTO workflows (id, name, description, source_recording_id, data, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (id) DO UPDATE SET
            name = EXCLUDED.name,
            description = EXCLUDED.description,
            source_recording_id = EXCLUDED.source_recording_id,
            data = EXCLUDED.data,
            updated_at = EXCLUDED.updated_at;
    `
	sqlUpsertSession = `
        INSERT INTO automation_sessions (id, status, user_goal, data, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            user_goal = EXCLUDED.user_goal,
            data = EXCLUDED.data,
            updated_at = EXCLUDED.updated_at;
    `
	sqlSearchWorkflows = `
        SELECT data FROM workflows
        WHERE name ILIKE $1 OR description ILIKE $1
        ORDER BY updated_at DESC, id ASC
        LIMIT $2;
    `
)

// tables maps each kind to its table name.
var tables = map[Kind]string{
	KindRecording: "recordings",
	KindWorkflow:  "workflows",
	KindSession:   "automation_sessions",
}

// Postgres provides a PostgreSQL implementation of the Repository interface.
type Postgres struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgres creates a new store instance and verifies the connection.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: failed to ping database: %w", schemas.ErrStorage, err)
	}

	return &Postgres{
		pool: pool,
		log:  logger.Named("store.postgres"),
	}, nil
}

// Migrate creates the tables and indexes if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: failed to apply schema: %w", schemas.ErrStorage, err)
		}
	}
	p.log.Debug("Database schema is up to date", zap.Int("statements", len(schemaStatements)))
	return nil
}

func (p *Postgres) SaveRecording(ctx context.Context, rec *schemas.RecordingSession) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return storageErr("encode", KindRecording, err)
	}
	if _, err := p.pool.Exec(ctx, sqlUpsertRecording, rec.ID, rec.Name, string(rec.Status), data, stamp(recordingUpdated(rec))); err != nil {
		return storageErr("save", KindRecording, err)
	}
	return nil
}

func (p *Postgres) GetRecording(ctx context.Context, id string) (*schemas.RecordingSession, error) {
	return getRecord[schemas.RecordingSession](ctx, p.pool, KindRecording, id)
}

func (p *Postgres) ListRecordings(ctx context.Context, limit int) ([]*schemas.RecordingSession, error) {
	return listRecords[schemas.RecordingSession](ctx, p.pool, KindRecording, limit)
}

func (p *Postgres) SaveWorkflow(ctx context.Context, wf *schemas.WorkflowDefinition) error {
	data, err := json.Marshal(wf)
	if err != nil {
		return storageErr("encode", KindWorkflow, err)
	}
	var source any
	if wf.SourceRecordingID != "" {
		source = wf.SourceRecordingID
	}
	if _, err := p.pool.Exec(ctx, sqlUpsertWorkflow, wf.ID, wf.Name, wf.Description, source, data, stamp(wf.CreatedAt), stamp(wf.UpdatedAt)); err != nil {
		return storageErr("save", KindWorkflow, err)
	}
	return nil
}

func (p *Postgres) GetWorkflow(ctx context.Context, id string) (*schemas.WorkflowDefinition, error) {
	return getRecord[schemas.WorkflowDefinition](ctx, p.pool, KindWorkflow, id)
}

func (p *Postgres) ListWorkflows(ctx context.Context, limit int) ([]*schemas.WorkflowDefinition, error) {
	return listRecords[schemas.WorkflowDefinition](ctx, p.pool, KindWorkflow, limit)
}

func (p *Postgres) SearchWorkflows(ctx context.Context, query string, limit int) ([]*schemas.WorkflowDefinition, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return p.ListWorkflows(ctx, limit)
	}
	rows, err := p.pool.Query(ctx, sqlSearchWorkflows, "%"+escapeLike(query)+"%", normalizeLimit(limit))
	if err != nil {
		return nil, storageErr("search", KindWorkflow, err)
	}
	return collect[schemas.WorkflowDefinition](rows, KindWorkflow)
}

func (p *Postgres) SaveSession(ctx context.Context, s *schemas.AutomationSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return storageErr("encode", KindSession, err)
	}
	if _, err := p.pool.Exec(ctx, sqlUpsertSession, s.SessionID, string(s.Status), s.UserGoal, data, stamp(s.UpdatedAt)); err != nil {
		return storageErr("save", KindSession, err)
	}
	return nil
}

func (p *Postgres) GetSession(ctx context.Context, id string) (*schemas.AutomationSession, error) {
	return getRecord[schemas.AutomationSession](ctx, p.pool, KindSession, id)
}

func (p *Postgres) ListSessions(ctx context.Context, limit int) ([]*schemas.AutomationSession, error) {
	return listRecords[schemas.AutomationSession](ctx, p.pool, KindSession, limit)
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func getRecord[T any](ctx context.Context, pool DBPool, kind Kind, id string) (*T, error) {
	var data []byte
	err := pool.QueryRow(ctx, "SELECT data FROM "+tables[kind]+" WHERE id = $1;", id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
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

func listRecords[T any](ctx context.Context, pool DBPool, kind Kind, limit int) ([]*T, error) {
	rows, err := pool.Query(ctx, "SELECT data FROM "+tables[kind]+" ORDER BY updated_at DESC, id ASC LIMIT $1;", normalizeLimit(limit))
	if err != nil {
		return nil, storageErr("list", kind, err)
	}
	return collect[T](rows, kind)
}

func collect[T any](rows pgx.Rows, kind Kind) ([]*T, error) {
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, storageErr("scan", kind, err)
		}
		var item T
		if err := json.Unmarshal(data, &item); err != nil {
			return nil, storageErr("decode", kind, err)
		}
		out = append(out, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate", kind, err)
	}
	return out, nil
}

// escapeLike neutralizes LIKE wildcards in user input.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
