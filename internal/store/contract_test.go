package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browzerlabs/browzer-engine/api/schemas"
)

var contractBase = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return contractBase.Add(time.Duration(minutes) * time.Minute)
}

func sampleRecording(id string, minutes int) *schemas.RecordingSession {
	return &schemas.RecordingSession{
		ID:     id,
		Name:   "recording " + id,
		Status: schemas.RecordingStopped,
		Actions: []schemas.RecordedAction{
			{Type: schemas.ActionNavigate, Timestamp: at(minutes), PageURL: "https://example.test/"},
		},
		StartTime: at(minutes),
		Duration:  2 * time.Second,
		UpdatedAt: at(minutes),
	}
}

func sampleWorkflow(id, name, description string, minutes int) *schemas.WorkflowDefinition {
	return &schemas.WorkflowDefinition{
		ID:          id,
		Name:        name,
		Description: description,
		Steps: []schemas.WorkflowStep{
			{Index: 0, Type: schemas.ActionClick, Description: "Click \"Go\"", Element: &schemas.ElementDescriptor{Tag: "button", Name: "Go"}},
		},
		Variables: []schemas.WorkflowVariable{{Name: "q", Value: "shoes", Type: schemas.VariableInput}},
		CreatedAt: at(minutes),
		UpdatedAt: at(minutes),
	}
}

func sampleSession(id string, minutes int) *schemas.AutomationSession {
	return &schemas.AutomationSession{
		SessionID: id,
		UserGoal:  "find the pricing page",
		AgentMode: schemas.ModeAutopilot,
		Status:    schemas.SessionRunning,
		Events: []schemas.AutomationEvent{
			{ID: "ev-1", SessionID: id, Type: schemas.EventStepStart, Data: map[string]interface{}{schemas.ToolUseIDKey: "tool-1"}, Timestamp: at(minutes)},
		},
		StartTime: at(minutes),
		UpdatedAt: at(minutes),
	}
}

// runRepositoryContract exercises the behavior every backend must share.
func runRepositoryContract(t *testing.T, repo Repository) {
	t.Helper()
	ctx := context.Background()

	t.Run("recordings", func(t *testing.T) {
		for i, id := range []string{"r1", "r2", "r3"} {
			require.NoError(t, repo.SaveRecording(ctx, sampleRecording(id, i)))
		}

		got, err := repo.GetRecording(ctx, "r2")
		require.NoError(t, err)
		assert.Equal(t, sampleRecording("r2", 1), got)

		list, err := repo.ListRecordings(ctx, 2)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "r3", list[0].ID)
		assert.Equal(t, "r2", list[1].ID)

		_, err = repo.GetRecording(ctx, "missing")
		assert.ErrorIs(t, err, schemas.ErrNotFound)
	})

	t.Run("workflows", func(t *testing.T) {
		require.NoError(t, repo.SaveWorkflow(ctx, sampleWorkflow("w1", "Checkout flow", "Buy shoes", 0)))
		require.NoError(t, repo.SaveWorkflow(ctx, sampleWorkflow("w2", "Newsletter", "Subscribe to the CHECKOUT digest", 1)))
		require.NoError(t, repo.SaveWorkflow(ctx, sampleWorkflow("w3", "Login", "Sign in", 2)))

		got, err := repo.GetWorkflow(ctx, "w1")
		require.NoError(t, err)
		assert.Equal(t, sampleWorkflow("w1", "Checkout flow", "Buy shoes", 0), got)

		found, err := repo.SearchWorkflows(ctx, "checkout", 10)
		require.NoError(t, err)
		require.Len(t, found, 2)
		assert.Equal(t, "w2", found[0].ID)
		assert.Equal(t, "w1", found[1].ID)

		all, err := repo.ListWorkflows(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, all, 3)
		assert.Equal(t, "w3", all[0].ID)

		none, err := repo.SearchWorkflows(ctx, "%", 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("sessions are upserted", func(t *testing.T) {
		s := sampleSession("s1", 0)
		require.NoError(t, repo.SaveSession(ctx, s))

		s.Status = schemas.SessionCompleted
		s.Result = "done"
		end := at(5)
		s.EndTime = &end
		s.UpdatedAt = end
		require.NoError(t, repo.SaveSession(ctx, s))
		require.NoError(t, repo.SaveSession(ctx, sampleSession("s2", 1)))

		got, err := repo.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, s, got)

		list, err := repo.ListSessions(ctx, 10)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "s1", list[0].SessionID)

		_, err = repo.GetSession(ctx, "nope")
		assert.ErrorIs(t, err, schemas.ErrNotFound)
	})
}

func TestMemory_Contract(t *testing.T) {
	runRepositoryContract(t, NewMemory())
}

func TestMemory_CopiesRecords(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	wf := sampleWorkflow("w1", "a", "b", 0)
	require.NoError(t, m.SaveWorkflow(ctx, wf))

	wf.Steps[0].Element.Name = "mutated"
	got, err := m.GetWorkflow(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "Go", got.Steps[0].Element.Name)
}
