// Package recorder captures a user's raw browser interactions into an ordered
// action log. Only one recording may be active per process.
package recorder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/browzerlabs/browzer-engine/api/schemas"
	"github.com/browzerlabs/browzer-engine/internal/config"
	"github.com/browzerlabs/browzer-engine/internal/observability"
)

// NotificationKind identifies a recorder lifecycle notification.
type NotificationKind string

const (
	NotifyStarted   NotificationKind = "started"
	NotifyStopped   NotificationKind = "stopped"
	NotifyDiscarded NotificationKind = "discarded"
	NotifySaved     NotificationKind = "saved"
)

// Notification carries a copy of the session at the time of the transition.
type Notification struct {
	Kind     NotificationKind
	Session  *schemas.RecordingSession
	Workflow *schemas.WorkflowDefinition
}

// Listener receives lifecycle notifications. Listeners run synchronously
// after the state lock is released and must not block.
type Listener func(Notification)

// Synthesizer converts a stopped recording into a workflow.
type Synthesizer interface {
	FromRecording(ctx context.Context, rec *schemas.RecordingSession) (*schemas.WorkflowDefinition, error)
}

// Sink persists finished recordings. Failures are logged, never returned.
type Sink interface {
	SaveRecording(ctx context.Context, rec *schemas.RecordingSession) error
}

// Recorder is the recording state machine:
// idle -Start-> recording -Stop-> stopped -(Save|Discard)-> idle.
type Recorder struct {
	logger  *zap.Logger
	metrics *observability.Metrics
	cfg     config.RecorderConfig
	now     func() time.Time

	mu        sync.Mutex
	state     schemas.RecordingStatus
	session   *schemas.RecordingSession
	listeners []Listener
	sink      Sink
}

var (
	defaultOnce     sync.Once
	defaultRecorder *Recorder
)

// Default returns the process-wide recorder.
func Default() *Recorder {
	defaultOnce.Do(func() {
		defaultRecorder = New(config.NewDefaultConfig().Recorder, nil, observability.GetLogger())
	})
	return defaultRecorder
}

// New creates an independent recorder. Production code uses Default.
func New(cfg config.RecorderConfig, metrics *observability.Metrics, logger *zap.Logger) *Recorder {
	if cfg.MaxAttributes <= 0 {
		cfg.MaxAttributes = 14
	}
	if cfg.BindingName == "" {
		cfg.BindingName = "__browzerRecord"
	}
	return &Recorder{
		logger:  logger.Named("recorder"),
		metrics: metrics,
		cfg:     cfg,
		now:     time.Now,
		state:   schemas.RecordingIdle,
	}
}

// Configure replaces the metrics, logger and sink. It is meant for process
// start-up, before recording begins.
func (r *Recorder) Configure(cfg config.RecorderConfig, metrics *observability.Metrics, logger *zap.Logger, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg.MaxAttributes > 0 {
		r.cfg.MaxAttributes = cfg.MaxAttributes
	}
	if cfg.BindingName != "" {
		r.cfg.BindingName = cfg.BindingName
	}
	r.cfg.MaxActions = cfg.MaxActions
	r.metrics = metrics
	if logger != nil {
		r.logger = logger.Named("recorder")
	}
	r.sink = sink
}

// OnChange registers a lifecycle listener.
func (r *Recorder) OnChange(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Status returns the current state.
func (r *Recorder) Status() schemas.RecordingStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Current returns a copy of the active or stopped session, or nil when idle.
func (r *Recorder) Current() *schemas.RecordingSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.Clone()
}

// Start begins a new recording.
func (r *Recorder) Start(name, description string) (*schemas.RecordingSession, error) {
	r.mu.Lock()
	if r.state != schemas.RecordingIdle {
		state := r.state
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: recorder is %s", schemas.ErrAlreadyRecording, state)
	}
	now := r.now()
	if strings.TrimSpace(name) == "" {
		name = "Recording " + now.Format("2006-01-02 15:04")
	}
	r.session = &schemas.RecordingSession{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		Status:      schemas.RecordingRecording,
		Actions:     make([]schemas.RecordedAction, 0, 64),
		StartTime:   now,
		UpdatedAt:   now,
	}
	r.state = schemas.RecordingRecording
	snapshot := r.session.Clone()
	listeners := r.listeners
	r.mu.Unlock()

	r.logger.Info("Recording started.", zap.String("recording_id", snapshot.ID), zap.String("name", name))
	notify(listeners, Notification{Kind: NotifyStarted, Session: snapshot})
	return snapshot, nil
}

// Capture appends a raw event while recording. It is a no-op in any other
// state and reports whether the event was kept.
func (r *Recorder) Capture(ev RawEvent) bool {
	r.mu.Lock()
	if r.state != schemas.RecordingRecording {
		r.mu.Unlock()
		return false
	}
	action, ok := r.buildAction(ev)
	if !ok {
		r.mu.Unlock()
		r.logger.Debug("Ignoring unknown raw event.", zap.String("type", ev.Type))
		return false
	}
	if r.cfg.MaxActions > 0 && len(r.session.Actions) >= r.cfg.MaxActions {
		r.mu.Unlock()
		r.logger.Warn("Recording action limit reached, dropping event.", zap.Int("max_actions", r.cfg.MaxActions))
		return false
	}
	r.session.Actions = append(r.session.Actions, action)
	r.session.UpdatedAt = r.now()
	metrics := r.metrics
	r.mu.Unlock()

	metrics.ActionRecorded(string(action.Type))
	return true
}

// Stop ends the active recording and returns it.
func (r *Recorder) Stop() (*schemas.RecordingSession, error) {
	r.mu.Lock()
	if r.state != schemas.RecordingRecording {
		r.mu.Unlock()
		return nil, schemas.ErrNoActiveRecording
	}
	s := r.session
	s.Duration = span(s.Actions)
	s.Status = schemas.RecordingStopped
	s.UpdatedAt = r.now()
	r.state = schemas.RecordingStopped
	snapshot := s.Clone()
	listeners := r.listeners
	r.mu.Unlock()

	r.logger.Info("Recording stopped.",
		zap.String("recording_id", snapshot.ID),
		zap.Int("actions", len(snapshot.Actions)),
		zap.Duration("duration", snapshot.Duration))
	notify(listeners, Notification{Kind: NotifyStopped, Session: snapshot})
	return snapshot, nil
}

// Discard drops the current recording without persisting anything.
func (r *Recorder) Discard() error {
	r.mu.Lock()
	if r.state == schemas.RecordingIdle {
		r.mu.Unlock()
		return schemas.ErrNoActiveRecording
	}
	snapshot := r.session.Clone()
	r.session = nil
	r.state = schemas.RecordingIdle
	listeners := r.listeners
	r.mu.Unlock()

	r.logger.Info("Recording discarded.", zap.String("recording_id", snapshot.ID))
	notify(listeners, Notification{Kind: NotifyDiscarded, Session: snapshot})
	return nil
}

// Save hands the stopped recording to synth and returns the recorder to idle.
// On failure the recording stays stopped so the caller can retry or discard.
func (r *Recorder) Save(ctx context.Context, synth Synthesizer) (*schemas.WorkflowDefinition, error) {
	r.mu.Lock()
	if r.state != schemas.RecordingStopped {
		r.mu.Unlock()
		return nil, schemas.ErrNoStoppedRecording
	}
	rec := r.session.Clone()
	sink := r.sink
	r.mu.Unlock()

	if sink != nil {
		if err := sink.SaveRecording(ctx, rec); err != nil {
			r.logger.Warn("Failed to persist recording.", zap.String("recording_id", rec.ID), zap.Error(err))
		}
	}

	wf, err := synth.FromRecording(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize workflow from recording %s: %w", rec.ID, err)
	}

	r.mu.Lock()
	// Another caller may have discarded or saved in the meantime.
	if r.state != schemas.RecordingStopped || r.session == nil || r.session.ID != rec.ID {
		r.mu.Unlock()
		return wf, nil
	}
	r.session = nil
	r.state = schemas.RecordingIdle
	listeners := r.listeners
	r.mu.Unlock()

	r.logger.Info("Recording saved as workflow.", zap.String("recording_id", rec.ID), zap.String("workflow_id", wf.ID))
	notify(listeners, Notification{Kind: NotifySaved, Session: rec, Workflow: wf})
	return wf, nil
}

func span(actions []schemas.RecordedAction) time.Duration {
	if len(actions) < 2 {
		return 0
	}
	return actions[len(actions)-1].Timestamp.Sub(actions[0].Timestamp)
}

func notify(listeners []Listener, n Notification) {
	for _, l := range listeners {
		l(n)
	}
}
