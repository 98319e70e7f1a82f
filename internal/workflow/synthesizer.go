// Package workflow turns finished recordings into parameterized, replayable
// workflow definitions.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/browzerlabs/browzer-engine/api/schemas"
)

// Store is the persistence the synthesizer needs.
type Store interface {
	SaveWorkflow(ctx context.Context, wf *schemas.WorkflowDefinition) error
	GetWorkflow(ctx context.Context, id string) (*schemas.WorkflowDefinition, error)
}

// EnhanceOptions selects the collaborator model used by EnhanceWorkflow.
type EnhanceOptions struct {
	Provider  string
	APIKey    string
	Model     string
	MaxTokens int
}

// Synthesizer builds workflow definitions. A nil store skips persistence; a
// nil collaborator disables enhancement.
type Synthesizer struct {
	store  Store
	collab schemas.Collaborator
	opts   EnhanceOptions
	logger *zap.Logger
	now    func() time.Time
}

// NewSynthesizer creates a synthesizer.
func NewSynthesizer(store Store, collab schemas.Collaborator, opts EnhanceOptions, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{
		store:  store,
		collab: collab,
		opts:   opts,
		logger: logger.Named("workflow"),
		now:    time.Now,
	}
}

// Synthesize derives steps and variables from actions and persists the result
// under a fresh id.
func (s *Synthesizer) Synthesize(ctx context.Context, name, description string, actions []schemas.RecordedAction) (*schemas.WorkflowDefinition, error) {
	wf := s.build(name, description, actions)
	if err := s.persist(ctx, wf); err != nil {
		return nil, err
	}
	s.logger.Info("Workflow synthesized",
		zap.String("workflow_id", wf.ID),
		zap.Int("steps", len(wf.Steps)),
		zap.Int("variables", len(wf.Variables)))
	return wf, nil
}

// FromRecording synthesizes a workflow from a stopped recording and links the
// two by SourceRecordingID.
func (s *Synthesizer) FromRecording(ctx context.Context, rec *schemas.RecordingSession) (*schemas.WorkflowDefinition, error) {
	if rec == nil {
		return nil, errors.New("recording is nil")
	}
	wf := s.build(rec.Name, rec.Description, rec.Actions)
	wf.SourceRecordingID = rec.ID
	if err := s.persist(ctx, wf); err != nil {
		return nil, err
	}
	s.logger.Info("Workflow synthesized from recording",
		zap.String("workflow_id", wf.ID),
		zap.String("recording_id", rec.ID),
		zap.Int("steps", len(wf.Steps)),
		zap.Int("variables", len(wf.Variables)))
	return wf, nil
}

func (s *Synthesizer) build(name, description string, actions []schemas.RecordedAction) *schemas.WorkflowDefinition {
	now := s.now()
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Workflow " + now.Format("2006-01-02 15:04")
	}

	steps, index := BuildSteps(actions)
	inferred := InferVariables(actions)
	vars := inferred[:0]
	for _, v := range inferred {
		// A variable whose action produced no step is dropped.
		stepIdx, ok := index[v.StepIndex]
		if !ok {
			continue
		}
		v.StepIndex = stepIdx
		if steps[stepIdx].Variable == "" {
			steps[stepIdx].Variable = v.Name
		}
		vars = append(vars, v)
	}

	description = strings.TrimSpace(description)
	if description == "" {
		description = summarize(steps, vars)
	}

	return &schemas.WorkflowDefinition{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Steps:       steps,
		Variables:   vars,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (s *Synthesizer) persist(ctx context.Context, wf *schemas.WorkflowDefinition) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.SaveWorkflow(ctx, wf); err != nil {
		if errors.Is(err, schemas.ErrStorage) {
			return err
		}
		return fmt.Errorf("%w: failed to persist workflow %s: %w", schemas.ErrStorage, wf.ID, err)
	}
	return nil
}

// summarize is the fallback description for an unnamed recording.
func summarize(steps []schemas.WorkflowStep, vars []schemas.WorkflowVariable) string {
	pages := make(map[string]struct{})
	for _, st := range steps {
		if st.PageURL != "" {
			pages[st.PageURL] = struct{}{}
		}
	}
	desc := fmt.Sprintf("%d steps across %d pages", len(steps), len(pages))
	if len(vars) > 0 {
		names := make([]string, 0, len(vars))
		for _, g := range GroupVariables(vars) {
			names = append(names, g.Name)
		}
		desc += " with parameters: " + strings.Join(names, ", ")
	}
	return desc
}
