// Package automation drives goal-directed browser sessions. Each session runs
// a perceive, decide and act loop in its own goroutine and streams correlated
// step events to observers and to the store.
package automation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/browzerlabs/browzer-engine/api/schemas"
	"github.com/browzerlabs/browzer-engine/internal/config"
	"github.com/browzerlabs/browzer-engine/internal/llmclient"
	"github.com/browzerlabs/browzer-engine/internal/observability"
	"github.com/browzerlabs/browzer-engine/internal/snapshot"
	"github.com/browzerlabs/browzer-engine/internal/workflow"
)

// StoppedByUser is the error recorded on sessions ended through Stop.
const StoppedByUser = "Stopped by user"

// Store is the persistence the engine reads references from and writes
// session history to.
type Store interface {
	SaveSession(ctx context.Context, s *schemas.AutomationSession) error
	GetSession(ctx context.Context, id string) (*schemas.AutomationSession, error)
	ListSessions(ctx context.Context, limit int) ([]*schemas.AutomationSession, error)
	GetWorkflow(ctx context.Context, id string) (*schemas.WorkflowDefinition, error)
	GetRecording(ctx context.Context, id string) (*schemas.RecordingSession, error)
}

// Perceiver produces a page snapshot.
type Perceiver interface {
	Extract(ctx context.Context, opts snapshot.Options) (*schemas.PageSnapshot, error)
}

// SurfaceFactory opens a browsing surface for one session. release is called
// once the session is terminal.
type SurfaceFactory func(ctx context.Context, sessionID string) (surface schemas.BrowsingSurface, release func(), err error)

// Deps are the collaborators of an Engine. Store may be nil, in which case
// finished sessions are kept in memory for the life of the engine.
type Deps struct {
	Surfaces     SurfaceFactory
	Collaborator schemas.Collaborator
	Store        Store
	Metrics      *observability.Metrics
	Logger       *zap.Logger

	// Perceivers overrides how a snapshot source is built for a surface.
	Perceivers func(surface schemas.BrowsingSurface) Perceiver
}

// StartRequest launches a session.
type StartRequest struct {
	SessionID   string            `json:"session_id,omitempty"`
	UserGoal    string            `json:"user_goal"`
	AgentMode   schemas.AgentMode `json:"agent_mode,omitempty"`
	RecordingID string            `json:"recording_id,omitempty"`
	WorkflowID  string            `json:"workflow_id,omitempty"`

	Provider string `json:"provider,omitempty"`
	APIKey   string `json:"-"`
	Model    string `json:"model,omitempty"`
}

// Engine owns all running sessions.
type Engine struct {
	cfg        config.AutomationConfig
	snapCfg    config.SnapshotConfig
	surfaces   SurfaceFactory
	perceivers func(schemas.BrowsingSurface) Perceiver
	collab     schemas.Collaborator
	store      Store
	metrics    *observability.Metrics
	logger     *zap.Logger
	hub        *Hub
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	runs   map[string]*run
	closed bool
	// finished remembers terminal ids so they cannot be restarted. Values are
	// only kept when there is no store to read them back from.
	finished map[string]*schemas.AutomationSession
}

// run is the in-memory state of one active session. Only the session's own
// goroutine mutates session; readers take mu.
type run struct {
	id     string
	req    StartRequest
	logger *zap.Logger
	stop   atomic.Bool
	done   chan struct{}

	mu      sync.Mutex
	session *schemas.AutomationSession
}

// NewEngine creates an engine.
func NewEngine(cfg config.AutomationConfig, snapCfg config.SnapshotConfig, deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = observability.GetLogger()
	}
	logger = logger.Named("automation")

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:        cfg,
		snapCfg:    snapCfg,
		surfaces:   deps.Surfaces,
		perceivers: deps.Perceivers,
		collab:     deps.Collaborator,
		store:      deps.Store,
		metrics:    deps.Metrics,
		logger:     logger,
		hub:        NewHub(cfg.ObserverBuffer, logger),
		now:        func() time.Time { return time.Now().UTC() },
		ctx:        ctx,
		cancel:     cancel,
		runs:       make(map[string]*run),
		finished:   make(map[string]*schemas.AutomationSession),
	}
	if e.perceivers == nil {
		e.perceivers = func(surface schemas.BrowsingSurface) Perceiver {
			return snapshot.New(surface, snapCfg, deps.Metrics, logger)
		}
	}
	return e
}

// Start validates req and launches its loop. The returned session is a copy
// taken before the loop begins.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*schemas.AutomationSession, error) {
	req.UserGoal = strings.TrimSpace(req.UserGoal)
	if req.UserGoal == "" {
		return nil, fmt.Errorf("user goal is required")
	}
	if req.AgentMode == "" {
		req.AgentMode = schemas.ModeAutopilot
	}
	if !req.AgentMode.Valid() {
		return nil, fmt.Errorf("unknown agent mode %q", req.AgentMode)
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	// History is read without e.mu held; the run map is re-checked under it.
	if e.store != nil {
		existing, err := e.store.GetSession(ctx, req.SessionID)
		switch {
		case err == nil && existing != nil:
			return nil, fmt.Errorf("%w: session %s is %s and cannot be restarted",
				schemas.ErrSessionAlreadyRunning, req.SessionID, existing.Status)
		case err != nil && !errors.Is(err, schemas.ErrNotFound):
			e.logger.Warn("Could not check session history before start",
				zap.String("session_id", req.SessionID), zap.Error(err))
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("automation engine is shut down")
	}
	if _, ok := e.runs[req.SessionID]; ok {
		return nil, fmt.Errorf("%w: %s", schemas.ErrSessionAlreadyRunning, req.SessionID)
	}
	if _, ok := e.finished[req.SessionID]; ok {
		return nil, fmt.Errorf("%w: session %s is terminal and cannot be restarted",
			schemas.ErrSessionAlreadyRunning, req.SessionID)
	}

	now := e.now()
	r := &run{
		id:     req.SessionID,
		req:    req,
		logger: observability.SessionLogger(e.logger, "session", req.SessionID),
		done:   make(chan struct{}),
		session: &schemas.AutomationSession{
			SessionID:   req.SessionID,
			UserGoal:    req.UserGoal,
			RecordingID: req.RecordingID,
			WorkflowID:  req.WorkflowID,
			AgentMode:   req.AgentMode,
			Status:      schemas.SessionRunning,
			StartTime:   now,
			UpdatedAt:   now,
		},
	}
	e.runs[r.id] = r
	e.metrics.SessionStarted()
	initial := r.session.Clone()

	e.wg.Add(1)
	go e.execute(r)

	r.logger.Info("Automation session started",
		zap.String("mode", string(req.AgentMode)),
		zap.String("workflow_id", req.WorkflowID),
		zap.String("recording_id", req.RecordingID))
	return initial, nil
}

// Stop asks a running session to end at its next step boundary. An in-flight
// action is never interrupted. Unknown and terminal sessions yield
// ErrSessionNotFound and are left untouched.
func (e *Engine) Stop(id string) error {
	e.mu.Lock()
	r, ok := e.runs[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", schemas.ErrSessionNotFound, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session.Status.Terminal() {
		return fmt.Errorf("%w: %s", schemas.ErrSessionNotFound, id)
	}
	if r.stop.CompareAndSwap(false, true) {
		r.logger.Info("Stop requested")
	}
	return nil
}

// Get returns a copy of the session, live or historical.
func (e *Engine) Get(ctx context.Context, id string) (*schemas.AutomationSession, error) {
	e.mu.Lock()
	r, ok := e.runs[id]
	done := e.finished[id]
	e.mu.Unlock()
	if ok {
		return r.snapshot(), nil
	}
	if e.store == nil {
		if done == nil {
			return nil, fmt.Errorf("%w: %s", schemas.ErrSessionNotFound, id)
		}
		return done.Clone(), nil
	}
	s, err := e.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, schemas.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", schemas.ErrSessionNotFound, id)
		}
		return nil, err
	}
	return s, nil
}

// List returns session history, most recently updated first.
func (e *Engine) List(ctx context.Context, limit int) ([]*schemas.AutomationSession, error) {
	if e.store != nil {
		return e.store.ListSessions(ctx, limit)
	}
	e.mu.Lock()
	out := make([]*schemas.AutomationSession, 0, len(e.runs)+len(e.finished))
	for _, r := range e.runs {
		out = append(out, r.snapshot())
	}
	for _, s := range e.finished {
		out = append(out, s.Clone())
	}
	e.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Wait blocks until the session is terminal or ctx ends, then returns it.
func (e *Engine) Wait(ctx context.Context, id string) (*schemas.AutomationSession, error) {
	e.mu.Lock()
	r, ok := e.runs[id]
	e.mu.Unlock()
	if !ok {
		return e.Get(ctx, id)
	}
	select {
	case <-r.done:
		return r.snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe streams notifications for a session. Events emitted before the
// call are available through Get.
func (e *Engine) Subscribe(sessionID string) (<-chan schemas.Notification, func()) {
	return e.hub.Subscribe(sessionID)
}

// Shutdown stops every session and waits for their loops to exit. When ctx
// ends first, in-flight actions are cancelled.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	for _, r := range e.runs {
		r.stop.Store(true)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		e.cancel()
		<-done
	}
	e.cancel()
	e.hub.Shutdown()
	return err
}

func (r *run) snapshot() *schemas.AutomationSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.Clone()
}

func (r *run) update(fn func(s *schemas.AutomationSession)) *schemas.AutomationSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.session)
	return r.session.Clone()
}

// outcome is how a loop ended.
type outcome struct {
	status schemas.SessionStatus
	result string
	err    string
}

func failed(format string, args ...interface{}) outcome {
	return outcome{status: schemas.SessionFailed, err: fmt.Sprintf(format, args...)}
}

func (e *Engine) execute(r *run) {
	defer e.wg.Done()
	ctx := e.ctx

	e.progress(ctx, r, map[string]interface{}{
		"phase":         "session_start",
		"goal":          r.req.UserGoal,
		"agentMode":     string(r.req.AgentMode),
		"maxIterations": e.cfg.MaxIterations,
	})

	var out outcome
	switch {
	case r.req.AgentMode == schemas.ModeAsk:
		out = e.answer(ctx, r)
	case e.surfaces == nil:
		out = failed("no browsing surface configured")
	default:
		surface, release, err := e.surfaces(ctx, r.id)
		if err != nil {
			out = failed("failed to open browsing surface: %v", err)
			break
		}
		out = e.loop(ctx, r, surface)
		if release != nil {
			release()
		}
	}
	e.finish(ctx, r, out)
}

// answer handles ask mode: one collaborator call, no page interaction.
func (e *Engine) answer(ctx context.Context, r *run) outcome {
	if r.stop.Load() {
		return outcome{status: schemas.SessionStopped, err: StoppedByUser}
	}
	r.update(func(s *schemas.AutomationSession) { s.Iterations = 1 })
	e.progress(ctx, r, map[string]interface{}{"phase": "answer", "iteration": 1, "maxIterations": 1})

	res := e.call(ctx, r, askSystemPrompt, r.req.UserGoal, 0.5, false)
	if err := llmclient.AsError(res); err != nil {
		return failed("%v", err)
	}
	return outcome{status: schemas.SessionCompleted, result: strings.TrimSpace(res.Response)}
}

func (e *Engine) loop(ctx context.Context, r *run, surface schemas.BrowsingSurface) outcome {
	perceiver := e.perceivers(surface)
	reference := e.reference(ctx, r)
	limiter := newLimiter(e.cfg.StepsPerSecond)
	started := r.snapshot().StartTime

	var (
		history            []transcriptEntry
		consecutiveErrors  int
		extractionFailures int
	)
	for iteration := 1; ; iteration++ {
		if r.stop.Load() {
			return outcome{status: schemas.SessionStopped, err: StoppedByUser}
		}
		if iteration > e.cfg.MaxIterations {
			return failed("iteration budget of %d exhausted", e.cfg.MaxIterations)
		}
		if elapsed := e.now().Sub(started); elapsed > e.cfg.MaxDuration {
			return failed("time budget of %s exhausted", e.cfg.MaxDuration)
		}
		if err := limiter.Wait(ctx); err != nil {
			return failed("step pacing interrupted: %v", err)
		}

		r.update(func(s *schemas.AutomationSession) { s.Iterations = iteration })
		e.progress(ctx, r, stepProgress("perceive", iteration, e.cfg.MaxIterations))

		page, err := perceiver.Extract(ctx, snapshot.Options{Scope: snapshot.ScopeCurrent})
		if err != nil {
			extractionFailures++
			data := stepProgress("perceive", iteration, e.cfg.MaxIterations)
			data["error"] = err.Error()
			data["extractionFailures"] = extractionFailures
			e.progress(ctx, r, data)
			r.logger.Warn("Page extraction failed", zap.Int("iteration", iteration), zap.Error(err))
			if extractionFailures >= e.cfg.MaxExtractionFailures {
				return failed("page extraction failed %d times in a row: %v", extractionFailures, err)
			}
			continue
		}
		extractionFailures = 0

		e.progress(ctx, r, stepProgress("decide", iteration, e.cfg.MaxIterations))
		decision, err := e.decide(ctx, r, promptInput{
			Goal:      r.req.UserGoal,
			Snapshot:  page,
			Reference: reference,
			History:   history,
			Iteration: iteration,
			MaxSteps:  e.cfg.MaxIterations,
		})
		if err != nil {
			consecutiveErrors++
			history = append(history, transcriptEntry{Iteration: iteration, Summary: "no decision: " + err.Error()})
			data := stepProgress("decide", iteration, e.cfg.MaxIterations)
			data["error"] = err.Error()
			e.progress(ctx, r, data)
			r.logger.Warn("Decision failed", zap.Int("iteration", iteration), zap.Error(err))
			if consecutiveErrors >= e.cfg.MaxConsecutiveErrors {
				return failed("%d consecutive errors, last: %v", consecutiveErrors, err)
			}
			continue
		}
		if decision.Finished() {
			return outcome{status: schemas.SessionCompleted, result: decision.Result}
		}

		summary, err := e.act(ctx, r, surface, decision, iteration)
		if err != nil {
			consecutiveErrors++
			history = append(history, transcriptEntry{Iteration: iteration, Summary: err.Error()})
			if consecutiveErrors >= e.cfg.MaxConsecutiveErrors {
				return failed("%d consecutive errors, last: %v", consecutiveErrors, err)
			}
			continue
		}
		consecutiveErrors = 0
		history = append(history, transcriptEntry{Iteration: iteration, Summary: summary})
	}
}

func (e *Engine) decide(ctx context.Context, r *run, in promptInput) (*Decision, error) {
	res := e.call(ctx, r, decisionSystemPrompt, buildDecisionPrompt(in), 0.2, true)
	if err := llmclient.AsError(res); err != nil {
		return nil, err
	}
	d, err := parseDecision(res.Response)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed decision: %v", schemas.ErrCollaborator, err)
	}
	return d, nil
}

func (e *Engine) call(ctx context.Context, r *run, system, prompt string, temperature float64, forceJSON bool) schemas.CallResult {
	if e.collab == nil {
		return schemas.CallResult{Error: "no collaborator configured"}
	}
	provider := r.req.Provider
	if provider == "" {
		provider = e.cfg.Provider
	}
	return e.collab.Call(ctx, schemas.CallRequest{
		Provider:     provider,
		APIKey:       r.req.APIKey,
		Model:        r.req.Model,
		SystemPrompt: system,
		Prompt:       prompt,
		Temperature:  temperature,
		ForceJSON:    forceJSON,
	})
}

// act runs one tool and records it as a step_start merged into step_complete
// or step_error under the same toolUseId.
func (e *Engine) act(ctx context.Context, r *run, surface schemas.BrowsingSurface, d *Decision, iteration int) (string, error) {
	data := map[string]interface{}{
		schemas.ToolUseIDKey: uuid.NewString(),
		"tool":               d.Tool,
		"input":              d.Input(),
		"iteration":          iteration,
	}
	if d.Thought != "" {
		data["thought"] = d.Thought
	}
	e.emit(ctx, r, schemas.EventStepStart, data)

	summary, err := executeTool(ctx, surface, d)
	e.metrics.StepFinished(d.Tool, err == nil)

	final := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		final[k] = v
	}
	if err != nil {
		final["error"] = err.Error()
		e.emit(ctx, r, schemas.EventStepError, final)
		r.logger.Warn("Tool execution failed", zap.String("tool", d.Tool), zap.Error(err))
		return "", err
	}
	final["output"] = summary
	e.emit(ctx, r, schemas.EventStepComplete, final)
	return summary, nil
}

// reference resolves the workflow shown to the collaborator in automate mode.
// A missing reference is logged and the session continues without it.
func (e *Engine) reference(ctx context.Context, r *run) *schemas.WorkflowDefinition {
	if r.req.AgentMode != schemas.ModeAutomate || e.store == nil {
		return nil
	}
	if r.req.WorkflowID != "" {
		wf, err := e.store.GetWorkflow(ctx, r.req.WorkflowID)
		if err != nil {
			r.logger.Warn("Reference workflow unavailable", zap.String("workflow_id", r.req.WorkflowID), zap.Error(err))
			return nil
		}
		return wf
	}
	if r.req.RecordingID != "" {
		rec, err := e.store.GetRecording(ctx, r.req.RecordingID)
		if err != nil {
			r.logger.Warn("Reference recording unavailable", zap.String("recording_id", r.req.RecordingID), zap.Error(err))
			return nil
		}
		steps, _ := workflow.BuildSteps(rec.Actions)
		return &schemas.WorkflowDefinition{
			Name:      rec.Name,
			Steps:     steps,
			Variables: workflow.InferVariables(rec.Actions),
		}
	}
	return nil
}

func (e *Engine) finish(ctx context.Context, r *run, out outcome) {
	now := e.now()
	final := r.update(func(s *schemas.AutomationSession) {
		s.Status = out.status
		s.Result = out.result
		s.Error = out.err
		s.EndTime = &now
		s.UpdatedAt = now
	})

	data := map[string]interface{}{
		"phase":      "session_complete",
		"status":     string(out.status),
		"iterations": final.Iterations,
	}
	if out.err != "" {
		data["phase"] = "session_error"
		data["error"] = out.err
	}
	final = e.progress(ctx, r, data)

	kind := schemas.NotifyComplete
	if out.status != schemas.SessionCompleted {
		kind = schemas.NotifyError
	}
	e.publish(ctx, r, schemas.Notification{Kind: kind, SessionID: r.id, Session: final})
	e.metrics.SessionFinished(string(out.status))
	e.hub.CloseSession(r.id)

	e.mu.Lock()
	delete(e.runs, r.id)
	if e.store == nil {
		e.finished[r.id] = final
	} else {
		e.finished[r.id] = nil
	}
	e.mu.Unlock()
	close(r.done)

	fields := []zap.Field{zap.String("status", string(out.status)), zap.Int("iterations", final.Iterations)}
	if out.err != "" {
		fields = append(fields, zap.String("error", out.err))
	}
	r.logger.Info("Automation session finished", fields...)
}

func (e *Engine) progress(ctx context.Context, r *run, data map[string]interface{}) *schemas.AutomationSession {
	return e.emit(ctx, r, schemas.EventProgress, data)
}

// emit merges an event into the session log, persists the session and
// notifies observers. Only the session goroutine emits, which keeps
// notifications in log order.
func (e *Engine) emit(ctx context.Context, r *run, typ schemas.EventType, data map[string]interface{}) *schemas.AutomationSession {
	ev := schemas.AutomationEvent{
		ID:        uuid.NewString(),
		SessionID: r.id,
		Type:      typ,
		Data:      data,
		Timestamp: e.now(),
	}
	current := r.update(func(s *schemas.AutomationSession) {
		s.Events = MergeEvent(s.Events, ev)
		s.UpdatedAt = ev.Timestamp
	})
	e.persist(ctx, r, current)
	e.publish(ctx, r, schemas.Notification{Kind: schemas.NotifyProgress, SessionID: r.id, Event: &ev})
	return current
}

func (e *Engine) persist(ctx context.Context, r *run, s *schemas.AutomationSession) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveSession(ctx, s); err != nil {
		r.logger.Warn("Failed to persist session", zap.Error(err))
	}
}

func (e *Engine) publish(ctx context.Context, r *run, n schemas.Notification) {
	if err := e.hub.Publish(ctx, n); err != nil {
		r.logger.Debug("Notification not delivered", zap.String("kind", string(n.Kind)), zap.Error(err))
	}
}

func stepProgress(phase string, iteration, maxIterations int) map[string]interface{} {
	return map[string]interface{}{
		"phase":         phase,
		"iteration":     iteration,
		"maxIterations": maxIterations,
	}
}

func newLimiter(stepsPerSecond float64) *rate.Limiter {
	if stepsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(stepsPerSecond), 1)
}
