package store

import (
	"context"
	"sync"

	"github.com/browzerlabs/browzer-engine/api/schemas"
)

// Memory is a process-local Repository. Records are copied in and out.
type Memory struct {
	mu         sync.RWMutex
	recordings map[string]*schemas.RecordingSession
	workflows  map[string]*schemas.WorkflowDefinition
	sessions   map[string]*schemas.AutomationSession
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		recordings: make(map[string]*schemas.RecordingSession),
		workflows:  make(map[string]*schemas.WorkflowDefinition),
		sessions:   make(map[string]*schemas.AutomationSession),
	}
}

func (m *Memory) SaveRecording(_ context.Context, rec *schemas.RecordingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordings[rec.ID] = rec.Clone()
	return nil
}

func (m *Memory) GetRecording(_ context.Context, id string) (*schemas.RecordingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recordings[id]
	if !ok {
		return nil, notFound(KindRecording, id)
	}
	return rec.Clone(), nil
}

func (m *Memory) ListRecordings(_ context.Context, limit int) ([]*schemas.RecordingSession, error) {
	m.mu.RLock()
	out := make([]*schemas.RecordingSession, 0, len(m.recordings))
	for _, rec := range m.recordings {
		out = append(out, rec.Clone())
	}
	m.mu.RUnlock()
	return sortNewest(out, recordingUpdated, recordingID, normalizeLimit(limit)), nil
}

func (m *Memory) SaveWorkflow(_ context.Context, wf *schemas.WorkflowDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[wf.ID] = wf.Clone()
	return nil
}

func (m *Memory) GetWorkflow(_ context.Context, id string) (*schemas.WorkflowDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, notFound(KindWorkflow, id)
	}
	return wf.Clone(), nil
}

func (m *Memory) ListWorkflows(ctx context.Context, limit int) ([]*schemas.WorkflowDefinition, error) {
	return m.SearchWorkflows(ctx, "", limit)
}

func (m *Memory) SearchWorkflows(_ context.Context, query string, limit int) ([]*schemas.WorkflowDefinition, error) {
	m.mu.RLock()
	out := make([]*schemas.WorkflowDefinition, 0, len(m.workflows))
	for _, wf := range m.workflows {
		if matchesQuery(wf, query) {
			out = append(out, wf.Clone())
		}
	}
	m.mu.RUnlock()
	return sortNewest(out, workflowUpdated, workflowID, normalizeLimit(limit)), nil
}

func (m *Memory) SaveSession(_ context.Context, s *schemas.AutomationSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.SessionID] = s.Clone()
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*schemas.AutomationSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, notFound(KindSession, id)
	}
	return s.Clone(), nil
}

func (m *Memory) ListSessions(_ context.Context, limit int) ([]*schemas.AutomationSession, error) {
	m.mu.RLock()
	out := make([]*schemas.AutomationSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	m.mu.RUnlock()
	return sortNewest(out, sessionUpdated, sessionID, normalizeLimit(limit)), nil
}

func (m *Memory) Close() error { return nil }
