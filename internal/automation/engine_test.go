package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/browzerlabs/browzer-engine/api/schemas"
	"github.com/browzerlabs/browzer-engine/internal/config"
	"github.com/browzerlabs/browzer-engine/internal/snapshot"
	"github.com/browzerlabs/browzer-engine/internal/store"
)

const doneReply = `{"tool":"done","result":"Found the forecast"}`

func TestEngine_CompletesWhenCollaboratorIsDone(t *testing.T) {
	f := setupEngine(t, testAutomationConfig(), nil)
	f.collab.expect(reply(`{"thought":"search box","tool":"type","selector":"#q","text":"weather"}`))
	f.collab.expect(reply("```json\n" + doneReply + "\n```"))

	s := f.run(t, StartRequest{UserGoal: "  find the weather  "})

	assert.Equal(t, schemas.SessionCompleted, s.Status)
	assert.Equal(t, "Found the forecast", s.Result)
	assert.Empty(t, s.Error)
	assert.Equal(t, "find the weather", s.UserGoal)
	assert.Equal(t, schemas.ModeAutopilot, s.AgentMode)
	assert.Equal(t, 2, s.Iterations)
	require.NotNil(t, s.EndTime)
	assert.Equal(t, []string{"type #q weather"}, f.surface.Calls())

	steps := stepEvents(s)
	require.Len(t, steps, 1, "step_start and step_complete share one log entry")
	assert.Equal(t, schemas.EventStepComplete, steps[0].Type)
	assert.NotEmpty(t, steps[0].ToolUseID())
	assert.Equal(t, "type", steps[0].Data["tool"])
	assert.Equal(t, `typed "weather" into #q`, steps[0].Data["output"])
	assert.Equal(t, "search box", steps[0].Data["thought"])

	assert.Equal(t, []string{"session_start", "perceive", "decide", "perceive", "decide", "session_complete"}, phases(s))

	stored, err := f.store.GetSession(context.Background(), s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, schemas.SessionCompleted, stored.Status)
	assert.Len(t, stored.Events, len(s.Events))

	f.collab.AssertExpectations(t)
	for _, c := range f.collab.Calls {
		req := c.Arguments.Get(1).(schemas.CallRequest)
		assert.True(t, req.ForceJSON)
		assert.Equal(t, "gemini", req.Provider)
		assert.Contains(t, req.Prompt, `<input id="q">`)
	}
}

func TestEngine_ToolErrorIsFedBack(t *testing.T) {
	f := setupEngine(t, testAutomationConfig(), nil)
	f.surface.FailNext(ToolClick, errors.New("node not found"))
	f.collab.expect(reply(`{"tool":"click","selector":"#missing"}`))
	f.collab.On("Call", mock.Anything, mock.MatchedBy(func(req schemas.CallRequest) bool {
		return strings.Contains(req.Prompt, "click failed: node not found")
	})).Return(reply(doneReply)).Once()

	s := f.run(t, StartRequest{UserGoal: "press the button"})

	assert.Equal(t, schemas.SessionCompleted, s.Status)
	steps := stepEvents(s)
	require.Len(t, steps, 1)
	assert.Equal(t, schemas.EventStepError, steps[0].Type)
	assert.Contains(t, steps[0].Data["error"], "node not found")
	f.collab.AssertExpectations(t)
}

func TestEngine_ConsecutiveErrorsFailTheSession(t *testing.T) {
	f := setupEngine(t, testAutomationConfig(), nil)
	f.collab.On("Call", mock.Anything, mock.Anything).Return(schemas.CallResult{Error: "quota exceeded"})

	s := f.run(t, StartRequest{UserGoal: "anything"})

	assert.Equal(t, schemas.SessionFailed, s.Status)
	assert.Contains(t, s.Error, "2 consecutive errors")
	assert.Contains(t, s.Error, "quota exceeded")
	assert.Equal(t, 2, s.Iterations)
	assert.Empty(t, f.surface.Calls())

	var errored int
	for _, ev := range s.Events {
		if ev.Type == schemas.EventProgress && ev.Data["phase"] == "decide" && ev.Data["error"] != nil {
			errored++
		}
	}
	assert.Equal(t, 2, errored, "each collaborator failure is recorded as a step-level event")
}

func TestEngine_MalformedDecisionCountsAsCollaboratorError(t *testing.T) {
	f := setupEngine(t, testAutomationConfig(), nil)
	f.collab.expect(reply("I think you should click the button"))
	f.collab.expect(reply(doneReply))

	s := f.run(t, StartRequest{UserGoal: "anything"})

	assert.Equal(t, schemas.SessionCompleted, s.Status)
	assert.Equal(t, 2, s.Iterations)
}

func TestEngine_ExtractionFailures(t *testing.T) {
	t.Run("single failure is recoverable", func(t *testing.T) {
		cfg := testAutomationConfig()
		f := setupEngine(t, cfg, nil)
		perceiver := &flakyPerceiver{failures: 1}
		f.engine.perceivers = func(schemas.BrowsingSurface) Perceiver { return perceiver }
		f.collab.expect(reply(doneReply))

		s := f.run(t, StartRequest{UserGoal: "anything"})

		assert.Equal(t, schemas.SessionCompleted, s.Status)
		assert.Equal(t, 2, s.Iterations)
	})

	t.Run("repeated failures fail the session", func(t *testing.T) {
		f := setupEngine(t, testAutomationConfig(), nil)
		f.perceiver.err = fmt.Errorf("%w: page is navigating", schemas.ErrExtraction)

		s := f.run(t, StartRequest{UserGoal: "anything"})

		assert.Equal(t, schemas.SessionFailed, s.Status)
		assert.Contains(t, s.Error, "page extraction failed 2 times in a row")
		assert.Equal(t, 2, f.perceiver.Calls())
		f.collab.AssertNotCalled(t, "Call", mock.Anything, mock.Anything)

		var counts []interface{}
		for _, ev := range s.Events {
			if n, ok := ev.Data["extractionFailures"]; ok {
				counts = append(counts, n)
			}
		}
		assert.Equal(t, []interface{}{1, 2}, counts)
	})
}

// flakyPerceiver fails a fixed number of times before succeeding.
type flakyPerceiver struct {
	fakePerceiver
	failures int
}

func (p *flakyPerceiver) Extract(ctx context.Context, opts snapshot.Options) (*schemas.PageSnapshot, error) {
	p.mu.Lock()
	if p.failures > 0 {
		p.failures--
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: detached frame", schemas.ErrExtraction)
	}
	p.mu.Unlock()
	return p.fakePerceiver.Extract(ctx, opts)
}

func TestEngine_Budgets(t *testing.T) {
	t.Run("iterations", func(t *testing.T) {
		cfg := testAutomationConfig()
		cfg.MaxIterations = 3
		f := setupEngine(t, cfg, nil)
		f.collab.On("Call", mock.Anything, mock.Anything).Return(reply(`{"tool":"scroll","dy":400}`))

		s := f.run(t, StartRequest{UserGoal: "read everything"})

		assert.Equal(t, schemas.SessionFailed, s.Status)
		assert.Equal(t, "iteration budget of 3 exhausted", s.Error)
		assert.Equal(t, 3, s.Iterations)
		assert.Equal(t, []string{"scroll 0 400", "scroll 0 400", "scroll 0 400"}, f.surface.Calls())
	})

	t.Run("time", func(t *testing.T) {
		cfg := testAutomationConfig()
		cfg.MaxDuration = 90 * time.Second
		f := setupEngine(t, cfg, nil)
		var mu sync.Mutex
		clock := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
		f.engine.now = func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(time.Minute)
			return clock
		}

		s := f.run(t, StartRequest{UserGoal: "slow"})

		assert.Equal(t, schemas.SessionFailed, s.Status)
		assert.Equal(t, "time budget of 1m30s exhausted", s.Error)
		f.collab.AssertNotCalled(t, "Call", mock.Anything, mock.Anything)
	})
}

func TestEngine_StopAtStepBoundary(t *testing.T) {
	f := setupEngine(t, testAutomationConfig(), newGatedSurface())
	f.collab.expect(reply(`{"tool":"click","selector":"#go"}`))

	started, err := f.engine.Start(context.Background(), StartRequest{UserGoal: "click go"})
	require.NoError(t, err)
	assert.Equal(t, schemas.SessionRunning, started.Status)

	<-f.surface.entered
	require.NoError(t, f.engine.Stop(started.SessionID))
	require.NoError(t, f.engine.Stop(started.SessionID), "repeated stop before the boundary is harmless")
	close(f.surface.gate)

	s := f.wait(t, started.SessionID)
	assert.Equal(t, schemas.SessionStopped, s.Status)
	assert.Equal(t, StoppedByUser, s.Error)
	steps := stepEvents(s)
	require.Len(t, steps, 1)
	assert.Equal(t, schemas.EventStepComplete, steps[0].Type, "the in-flight action ran to completion")

	err = f.engine.Stop(started.SessionID)
	assert.ErrorIs(t, err, schemas.ErrSessionNotFound)

	after, err := f.engine.Get(context.Background(), started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, s.Status, after.Status)
	assert.Equal(t, s.Error, after.Error)
	assert.Equal(t, s.Result, after.Result)
}

func TestEngine_StopOnTerminalSessionChangesNothing(t *testing.T) {
	f := setupEngine(t, testAutomationConfig(), nil)
	f.collab.expect(reply(doneReply))
	s := f.run(t, StartRequest{UserGoal: "quick"})
	require.Equal(t, schemas.SessionCompleted, s.Status)

	assert.ErrorIs(t, f.engine.Stop(s.SessionID), schemas.ErrSessionNotFound)
	assert.ErrorIs(t, f.engine.Stop("does-not-exist"), schemas.ErrSessionNotFound)

	after, err := f.engine.Get(context.Background(), s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, schemas.SessionCompleted, after.Status)
	assert.Equal(t, "Found the forecast", after.Result)
	assert.Empty(t, after.Error)
}

func TestEngine_SessionIDGuard(t *testing.T) {
	f := setupEngine(t, testAutomationConfig(), newGatedSurface())
	f.collab.expect(reply(`{"tool":"click","selector":"#go"}`))
	f.collab.On("Call", mock.Anything, mock.Anything).Return(reply(doneReply))
	ctx := context.Background()

	_, err := f.engine.Start(ctx, StartRequest{SessionID: "fixed", UserGoal: "first"})
	require.NoError(t, err)
	<-f.surface.entered

	_, err = f.engine.Start(ctx, StartRequest{SessionID: "fixed", UserGoal: "second"})
	assert.ErrorIs(t, err, schemas.ErrSessionAlreadyRunning)

	close(f.surface.gate)
	s := f.wait(t, "fixed")
	require.Equal(t, schemas.SessionCompleted, s.Status)
	assert.Equal(t, "first", s.UserGoal)

	_, err = f.engine.Start(ctx, StartRequest{SessionID: "fixed", UserGoal: "again"})
	assert.ErrorIs(t, err, schemas.ErrSessionAlreadyRunning, "terminal sessions cannot be restarted")
}

func TestEngine_StartValidation(t *testing.T) {
	f := setupEngine(t, testAutomationConfig(), nil)
	ctx := context.Background()

	_, err := f.engine.Start(ctx, StartRequest{UserGoal: "   "})
	assert.ErrorContains(t, err, "user goal is required")

	_, err = f.engine.Start(ctx, StartRequest{UserGoal: "x", AgentMode: "yolo"})
	assert.ErrorContains(t, err, `unknown agent mode "yolo"`)

	_, err = f.engine.Get(ctx, "missing")
	assert.ErrorIs(t, err, schemas.ErrSessionNotFound)
}

func TestEngine_AskModeSkipsThePage(t *testing.T) {
	f := setupEngine(t, testAutomationConfig(), nil)
	f.collab.On("Call", mock.Anything, mock.MatchedBy(func(req schemas.CallRequest) bool {
		return req.Prompt == "What is the capital of France?" && !req.ForceJSON && req.APIKey == "user-key"
	})).Return(reply(" Paris \n")).Once()

	s := f.run(t, StartRequest{UserGoal: "What is the capital of France?", AgentMode: schemas.ModeAsk, APIKey: "user-key"})

	assert.Equal(t, schemas.SessionCompleted, s.Status)
	assert.Equal(t, "Paris", s.Result)
	assert.Equal(t, 1, s.Iterations)
	assert.Zero(t, f.perceiver.Calls())
	assert.Empty(t, f.surface.Calls())
	assert.Empty(t, stepEvents(s))
	f.collab.AssertExpectations(t)
}

func TestEngine_AskModeFailureIsTerminal(t *testing.T) {
	f := setupEngine(t, testAutomationConfig(), nil)
	f.collab.expect(schemas.CallResult{Error: "invalid API key"})

	s := f.run(t, StartRequest{UserGoal: "hello?", AgentMode: schemas.ModeAsk})

	assert.Equal(t, schemas.SessionFailed, s.Status)
	assert.Contains(t, s.Error, "invalid API key")
}

func TestEngine_AutomateModeUsesReference(t *testing.T) {
	t.Run("workflow", func(t *testing.T) {
		f := setupEngine(t, testAutomationConfig(), nil)
		require.NoError(t, f.store.SaveWorkflow(context.Background(), &schemas.WorkflowDefinition{
			ID:   "wf-1",
			Name: "Weather lookup",
			Steps: []schemas.WorkflowStep{
				{Index: 0, Type: schemas.ActionInput, Description: `Type "Paris" into "city"`},
			},
			Variables: []schemas.WorkflowVariable{{Name: "city", Value: "Paris", Type: schemas.VariableInput}},
		}))
		f.collab.On("Call", mock.Anything, mock.MatchedBy(func(req schemas.CallRequest) bool {
			return strings.Contains(req.Prompt, `Reference workflow "Weather lookup"`) &&
				strings.Contains(req.Prompt, `1. Type "Paris" into "city"`) &&
				strings.Contains(req.Prompt, `- city = "Paris"`)
		})).Return(reply(doneReply)).Once()

		s := f.run(t, StartRequest{UserGoal: "weather in Rome", AgentMode: schemas.ModeAutomate, WorkflowID: "wf-1"})
		assert.Equal(t, schemas.SessionCompleted, s.Status)
		assert.Equal(t, "wf-1", s.WorkflowID)
		f.collab.AssertExpectations(t)
	})

	t.Run("recording", func(t *testing.T) {
		f := setupEngine(t, testAutomationConfig(), nil)
		require.NoError(t, f.store.SaveRecording(context.Background(), &schemas.RecordingSession{
			ID:   "rec-1",
			Name: "Recorded search",
			Actions: []schemas.RecordedAction{
				{Type: schemas.ActionNavigate, PageURL: "https://search.test/"},
			},
		}))
		f.collab.On("Call", mock.Anything, mock.MatchedBy(func(req schemas.CallRequest) bool {
			return strings.Contains(req.Prompt, `Reference workflow "Recorded search"`) &&
				strings.Contains(req.Prompt, "Navigate to https://search.test/")
		})).Return(reply(doneReply)).Once()

		s := f.run(t, StartRequest{UserGoal: "search", AgentMode: schemas.ModeAutomate, RecordingID: "rec-1"})
		assert.Equal(t, schemas.SessionCompleted, s.Status)
		f.collab.AssertExpectations(t)
	})

	t.Run("missing reference is not fatal", func(t *testing.T) {
		f := setupEngine(t, testAutomationConfig(), nil)
		f.collab.On("Call", mock.Anything, mock.MatchedBy(func(req schemas.CallRequest) bool {
			return !strings.Contains(req.Prompt, "Reference workflow")
		})).Return(reply(doneReply)).Once()

		s := f.run(t, StartRequest{UserGoal: "search", AgentMode: schemas.ModeAutomate, WorkflowID: "gone"})
		assert.Equal(t, schemas.SessionCompleted, s.Status)
		assert.Equal(t, 1, f.logs.FilterMessage("Reference workflow unavailable").Len())
	})
}

func TestEngine_SubscriberSeesOrderedNotifications(t *testing.T) {
	f := setupEngine(t, testAutomationConfig(), nil)
	f.collab.expect(reply(`{"tool":"navigate","url":"https://search.test/?q=weather"}`))
	f.collab.expect(reply(doneReply))

	notes, unsubscribe := f.engine.Subscribe("observed")
	defer unsubscribe()

	_, err := f.engine.Start(context.Background(), StartRequest{SessionID: "observed", UserGoal: "weather"})
	require.NoError(t, err)

	var got []schemas.Notification
	timeout := time.After(5 * time.Second)
collect:
	for {
		select {
		case n, ok := <-notes:
			if !ok {
				break collect
			}
			got = append(got, n)
		case <-timeout:
			t.Fatal("timed out waiting for the session to finish")
		}
	}

	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, schemas.NotifyComplete, last.Kind)
	require.NotNil(t, last.Session)
	assert.Equal(t, schemas.SessionCompleted, last.Session.Status)

	var kinds []schemas.EventType
	var toolUseIDs []string
	for _, n := range got[:len(got)-1] {
		assert.Equal(t, schemas.NotifyProgress, n.Kind)
		require.NotNil(t, n.Event)
		if n.Event.Type != schemas.EventProgress {
			kinds = append(kinds, n.Event.Type)
			toolUseIDs = append(toolUseIDs, n.Event.ToolUseID())
		}
	}
	assert.Equal(t, []schemas.EventType{schemas.EventStepStart, schemas.EventStepComplete}, kinds)
	require.Len(t, toolUseIDs, 2)
	assert.Equal(t, toolUseIDs[0], toolUseIDs[1])
	assert.Equal(t, "session_start", got[0].Event.Data["phase"])
}

func TestEngine_Metrics(t *testing.T) {
	f := setupEngine(t, testAutomationConfig(), nil)
	f.surface.FailNext(ToolClick, errors.New("covered by overlay"))
	f.collab.expect(reply(`{"tool":"click","selector":"#go"}`))
	f.collab.expect(reply(`{"tool":"click","selector":"#go"}`))
	f.collab.expect(reply(doneReply))

	s := f.run(t, StartRequest{UserGoal: "click go"})
	require.Equal(t, schemas.SessionCompleted, s.Status)

	expected := `
# HELP browzer_automation_sessions_total Automation sessions by terminal status.
# TYPE browzer_automation_sessions_total counter
browzer_automation_sessions_total{status="completed"} 1
# HELP browzer_automation_steps_total Executed automation steps by outcome.
# TYPE browzer_automation_steps_total counter
browzer_automation_steps_total{outcome="error",tool="click"} 1
browzer_automation_steps_total{outcome="success",tool="click"} 1
# HELP browzer_automation_active_sessions Automation loops currently running.
# TYPE browzer_automation_active_sessions gauge
browzer_automation_active_sessions 0
`
	assert.NoError(t, testutil.GatherAndCompare(f.registry, strings.NewReader(expected),
		"browzer_automation_sessions_total", "browzer_automation_steps_total", "browzer_automation_active_sessions"))
}

func TestEngine_ShutdownStopsRunningSessions(t *testing.T) {
	f := setupEngine(t, testAutomationConfig(), newGatedSurface())
	f.collab.On("Call", mock.Anything, mock.Anything).Return(reply(`{"tool":"click","selector":"#go"}`))

	started, err := f.engine.Start(context.Background(), StartRequest{UserGoal: "loop"})
	require.NoError(t, err)
	<-f.surface.entered

	result := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		result <- f.engine.Shutdown(ctx)
	}()
	close(f.surface.gate)
	require.NoError(t, <-result)

	s, err := f.store.GetSession(context.Background(), started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, schemas.SessionStopped, s.Status)

	_, err = f.engine.Start(context.Background(), StartRequest{UserGoal: "late"})
	assert.ErrorContains(t, err, "shut down")
}

func TestEngine_NoSurfaceConfigured(t *testing.T) {
	mem := store.NewMemory()
	e := NewEngine(testAutomationConfig(), config.SnapshotConfig{}, Deps{Store: mem, Logger: zaptest.NewLogger(t)})
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })

	started, err := e.Start(context.Background(), StartRequest{UserGoal: "anything"})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := e.Wait(ctx, started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, schemas.SessionFailed, s.Status)
	assert.Equal(t, "no browsing surface configured", s.Error)
}

func TestEngine_WithoutStoreKeepsTerminalSessions(t *testing.T) {
	collab := new(mockCollaborator)
	collab.On("Call", mock.Anything, mock.Anything).Return(reply("ok"))
	e := NewEngine(testAutomationConfig(), config.SnapshotConfig{}, Deps{Collaborator: collab, Logger: zaptest.NewLogger(t)})
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	e.now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, id := range []string{"s1", "s2"} {
		_, err := e.Start(ctx, StartRequest{SessionID: id, UserGoal: "question " + id, AgentMode: schemas.ModeAsk})
		require.NoError(t, err)
		s, err := e.Wait(ctx, id)
		require.NoError(t, err)
		require.Equal(t, schemas.SessionCompleted, s.Status)
	}

	got, err := e.Get(ctx, "s1")
	require.NoError(t, err, "a finished session stays readable")
	assert.Equal(t, schemas.SessionCompleted, got.Status)
	assert.Equal(t, "ok", got.Result)

	_, err = e.Start(ctx, StartRequest{SessionID: "s1", UserGoal: "again", AgentMode: schemas.ModeAsk})
	assert.ErrorIs(t, err, schemas.ErrSessionAlreadyRunning, "terminal sessions cannot be restarted")

	list, err := e.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s2", list[0].SessionID, "most recently updated first")
	assert.Equal(t, "s1", list[1].SessionID)

	list, err = e.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "s2", list[0].SessionID)
}

// slowHistoryStore blocks GetSession for one id until released.
type slowHistoryStore struct {
	*store.Memory
	slowID  string
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *slowHistoryStore) GetSession(ctx context.Context, id string) (*schemas.AutomationSession, error) {
	if id == s.slowID {
		s.once.Do(func() { close(s.entered) })
		<-s.release
	}
	return s.Memory.GetSession(ctx, id)
}

func TestEngine_HistoryLookupDoesNotBlockOtherSessions(t *testing.T) {
	slow := &slowHistoryStore{Memory: store.NewMemory(), slowID: "slow", entered: make(chan struct{}), release: make(chan struct{})}
	collab := new(mockCollaborator)
	collab.On("Call", mock.Anything, mock.Anything).Return(reply("ok"))
	e := NewEngine(testAutomationConfig(), config.SnapshotConfig{}, Deps{Collaborator: collab, Store: slow, Logger: zaptest.NewLogger(t)})
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })

	started := make(chan error, 1)
	go func() {
		_, err := e.Start(context.Background(), StartRequest{SessionID: "slow", UserGoal: "q", AgentMode: schemas.ModeAsk})
		started <- err
	}()
	<-slow.entered

	stopped := make(chan error, 1)
	go func() { stopped <- e.Stop("other") }()
	select {
	case err := <-stopped:
		assert.ErrorIs(t, err, schemas.ErrSessionNotFound)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop waited on another session's history lookup")
	}

	close(slow.release)
	require.NoError(t, <-started)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := e.Wait(ctx, "slow")
	require.NoError(t, err)
	assert.Equal(t, schemas.SessionCompleted, s.Status)
}
