package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/browzerlabs/browzer-engine/api/schemas"
	"github.com/browzerlabs/browzer-engine/internal/observability"
)

// CacheOptions tunes the write-behind queue.
type CacheOptions struct {
	QueueSize    int
	WriteTimeout time.Duration
}

type recordKey struct {
	kind Kind
	id   string
}

// job is either a record to persist or, when barrier is set, a marker that
// Flush waits on.
type job struct {
	key     recordKey
	barrier chan struct{}
}

// Cached fronts a Repository with an in-memory map. Saves update the map
// synchronously and are persisted by a single background writer; backend
// failures are logged and counted, never returned. Reads fall through to the
// backend on a miss and populate the map.
//
// A key is queued at most once while dirty, so bursts of saves to the same
// record coalesce into one backend write of its latest state.
type Cached struct {
	backend Repository
	log     *zap.Logger
	metrics *observability.Metrics
	timeout time.Duration

	mu         sync.RWMutex
	recordings map[string]*schemas.RecordingSession
	workflows  map[string]*schemas.WorkflowDefinition
	sessions   map[string]*schemas.AutomationSession
	dirty      map[recordKey]struct{}
	closed     bool

	// queueMu guards closing queue against blocking sends from Flush.
	queueMu     sync.RWMutex
	queueClosed bool
	queue       chan job
	done        chan struct{}
	group       singleflight.Group
}

// NewCached starts the background writer. Call Close to drain it.
func NewCached(backend Repository, opts CacheOptions, metrics *observability.Metrics, logger *zap.Logger) *Cached {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	c := &Cached{
		backend:    backend,
		log:        logger.Named("store.cache"),
		metrics:    metrics,
		timeout:    opts.WriteTimeout,
		recordings: make(map[string]*schemas.RecordingSession),
		workflows:  make(map[string]*schemas.WorkflowDefinition),
		sessions:   make(map[string]*schemas.AutomationSession),
		dirty:      make(map[recordKey]struct{}),
		queue:      make(chan job, opts.QueueSize),
		done:       make(chan struct{}),
	}
	go c.writer()
	return c
}

// Backend returns the wrapped repository.
func (c *Cached) Backend() Repository { return c.backend }

// markDirty queues k for persistence. The caller must hold c.mu.
func (c *Cached) markDirty(k recordKey) {
	if c.closed {
		c.log.Warn("Store is closed; write dropped", zap.String("kind", string(k.kind)), zap.String("id", k.id))
		c.metrics.StoreWrite(string(k.kind), false)
		return
	}
	if _, ok := c.dirty[k]; ok {
		return
	}
	select {
	case c.queue <- job{key: k}:
		c.dirty[k] = struct{}{}
	default:
		c.log.Warn("Write-behind queue is full; write dropped", zap.String("kind", string(k.kind)), zap.String("id", k.id))
		c.metrics.StoreWrite(string(k.kind), false)
	}
}

func (c *Cached) writer() {
	defer close(c.done)
	for j := range c.queue {
		if j.barrier != nil {
			close(j.barrier)
			continue
		}
		c.flushOne(j.key)
	}
}

func (c *Cached) flushOne(k recordKey) {
	c.mu.Lock()
	delete(c.dirty, k)
	var write func(context.Context) error
	switch k.kind {
	case KindRecording:
		if rec := c.recordings[k.id].Clone(); rec != nil {
			write = func(ctx context.Context) error { return c.backend.SaveRecording(ctx, rec) }
		}
	case KindWorkflow:
		if wf := c.workflows[k.id].Clone(); wf != nil {
			write = func(ctx context.Context) error { return c.backend.SaveWorkflow(ctx, wf) }
		}
	case KindSession:
		if s := c.sessions[k.id].Clone(); s != nil {
			write = func(ctx context.Context) error { return c.backend.SaveSession(ctx, s) }
		}
	}
	c.mu.Unlock()
	if write == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	err := write(ctx)
	c.metrics.StoreWrite(string(k.kind), err == nil)
	if err != nil {
		c.log.Error("Failed to persist record", zap.String("kind", string(k.kind)), zap.String("id", k.id), zap.Error(err))
	}
}

// Flush blocks until every write queued before the call has been attempted,
// or ctx ends.
func (c *Cached) Flush(ctx context.Context) error {
	barrier := make(chan struct{})

	c.queueMu.RLock()
	if c.queueClosed {
		c.queueMu.RUnlock()
		select {
		case <-c.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case c.queue <- job{barrier: barrier}:
		c.queueMu.RUnlock()
	case <-ctx.Done():
		c.queueMu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue and closes the backend.
func (c *Cached) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.queueMu.Lock()
	c.queueClosed = true
	close(c.queue)
	c.queueMu.Unlock()

	<-c.done
	return c.backend.Close()
}

// -- Recordings --

func (c *Cached) SaveRecording(_ context.Context, rec *schemas.RecordingSession) error {
	if rec == nil || rec.ID == "" {
		return errors.New("recording must have an id")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordings[rec.ID] = rec.Clone()
	c.markDirty(recordKey{KindRecording, rec.ID})
	return nil
}

func (c *Cached) GetRecording(ctx context.Context, id string) (*schemas.RecordingSession, error) {
	c.mu.RLock()
	rec, ok := c.recordings[id]
	c.mu.RUnlock()
	if ok {
		return rec.Clone(), nil
	}
	v, err := c.load(ctx, KindRecording, id, func(ctx context.Context) (any, error) {
		c.mu.RLock()
		cur, ok := c.recordings[id]
		c.mu.RUnlock()
		if ok {
			return cur.Clone(), nil
		}
		rec, err := c.backend.GetRecording(ctx, id)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if cur, ok := c.recordings[id]; ok {
			return cur.Clone(), nil
		}
		c.recordings[id] = rec
		return rec.Clone(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*schemas.RecordingSession).Clone(), nil
}

func (c *Cached) ListRecordings(ctx context.Context, limit int) ([]*schemas.RecordingSession, error) {
	limit = normalizeLimit(limit)
	fromBackend, err := c.backend.ListRecordings(ctx, limit)
	if err != nil {
		c.log.Warn("Backend list failed; serving cached recordings", zap.Error(err))
	}
	c.mu.RLock()
	merged := mergeByID(fromBackend, c.recordings, recordingID, (*schemas.RecordingSession).Clone, nil)
	c.mu.RUnlock()
	return sortNewest(merged, recordingUpdated, recordingID, limit), nil
}

// -- Workflows --

func (c *Cached) SaveWorkflow(_ context.Context, wf *schemas.WorkflowDefinition) error {
	if wf == nil || wf.ID == "" {
		return errors.New("workflow must have an id")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workflows[wf.ID] = wf.Clone()
	c.markDirty(recordKey{KindWorkflow, wf.ID})
	return nil
}

func (c *Cached) GetWorkflow(ctx context.Context, id string) (*schemas.WorkflowDefinition, error) {
	c.mu.RLock()
	wf, ok := c.workflows[id]
	c.mu.RUnlock()
	if ok {
		return wf.Clone(), nil
	}
	v, err := c.load(ctx, KindWorkflow, id, func(ctx context.Context) (any, error) {
		c.mu.RLock()
		cur, ok := c.workflows[id]
		c.mu.RUnlock()
		if ok {
			return cur.Clone(), nil
		}
		wf, err := c.backend.GetWorkflow(ctx, id)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if cur, ok := c.workflows[id]; ok {
			return cur.Clone(), nil
		}
		c.workflows[id] = wf
		return wf.Clone(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*schemas.WorkflowDefinition).Clone(), nil
}

func (c *Cached) ListWorkflows(ctx context.Context, limit int) ([]*schemas.WorkflowDefinition, error) {
	return c.SearchWorkflows(ctx, "", limit)
}

func (c *Cached) SearchWorkflows(ctx context.Context, query string, limit int) ([]*schemas.WorkflowDefinition, error) {
	limit = normalizeLimit(limit)
	fromBackend, err := c.backend.SearchWorkflows(ctx, query, limit)
	if err != nil {
		c.log.Warn("Backend search failed; serving cached workflows", zap.Error(err))
	}
	c.mu.RLock()
	merged := mergeByID(fromBackend, c.workflows, workflowID, (*schemas.WorkflowDefinition).Clone,
		func(wf *schemas.WorkflowDefinition) bool { return matchesQuery(wf, query) })
	c.mu.RUnlock()
	return sortNewest(merged, workflowUpdated, workflowID, limit), nil
}

// -- Automation sessions --

func (c *Cached) SaveSession(_ context.Context, s *schemas.AutomationSession) error {
	if s == nil || s.SessionID == "" {
		return errors.New("session must have an id")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[s.SessionID] = s.Clone()
	c.markDirty(recordKey{KindSession, s.SessionID})
	return nil
}

func (c *Cached) GetSession(ctx context.Context, id string) (*schemas.AutomationSession, error) {
	c.mu.RLock()
	s, ok := c.sessions[id]
	c.mu.RUnlock()
	if ok {
		return s.Clone(), nil
	}
	v, err := c.load(ctx, KindSession, id, func(ctx context.Context) (any, error) {
		c.mu.RLock()
		cur, ok := c.sessions[id]
		c.mu.RUnlock()
		if ok {
			return cur.Clone(), nil
		}
		s, err := c.backend.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if cur, ok := c.sessions[id]; ok {
			return cur.Clone(), nil
		}
		c.sessions[id] = s
		return s.Clone(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*schemas.AutomationSession).Clone(), nil
}

func (c *Cached) ListSessions(ctx context.Context, limit int) ([]*schemas.AutomationSession, error) {
	limit = normalizeLimit(limit)
	fromBackend, err := c.backend.ListSessions(ctx, limit)
	if err != nil {
		c.log.Warn("Backend list failed; serving cached sessions", zap.Error(err))
	}
	c.mu.RLock()
	merged := mergeByID(fromBackend, c.sessions, sessionID, (*schemas.AutomationSession).Clone, nil)
	c.mu.RUnlock()
	return sortNewest(merged, sessionUpdated, sessionID, limit), nil
}

// load collapses concurrent misses for the same record into one backend read.
func (c *Cached) load(ctx context.Context, kind Kind, id string, fn func(context.Context) (any, error)) (any, error) {
	v, err, _ := c.group.Do(string(kind)+":"+id, func() (any, error) {
		return fn(ctx)
	})
	return v, err
}

// mergeByID overlays cached records on backend results. Cached entries win
// because they may not have been written yet.
func mergeByID[T any](fromBackend []T, cached map[string]T, id func(T) string, clone func(T) T, keep func(T) bool) []T {
	out := make([]T, 0, len(fromBackend)+len(cached))
	for _, item := range fromBackend {
		if _, ok := cached[id(item)]; ok {
			continue
		}
		out = append(out, item)
	}
	for _, item := range cached {
		if keep != nil && !keep(item) {
			continue
		}
		out = append(out, clone(item))
	}
	return out
}
